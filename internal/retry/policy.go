package retry

import (
	"context"
	"time"

	xerrors "AgentMesh-Chain/internal/errors"
)

// Policy 是对账本与日志调用统一生效的重试策略。
// 默认行为与既有约定一致：失败后再试一次，然后放弃。
type Policy struct {
	// MaxAttempts 是总尝试次数，包含首次调用。
	MaxAttempts int
	// Backoff 是两次尝试之间的等待时间。
	Backoff time.Duration
}

// Default 返回"重试一次"的默认策略。
func Default() Policy {
	return Policy{MaxAttempts: 2, Backoff: 100 * time.Millisecond}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 2
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Do 执行 op，仅对标记为可重试的错误按策略重试。
// 不可重试的错误立即返回；耗尽尝试次数后返回最后一次错误。
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !xerrors.RetryableError(lastErr) {
			return lastErr
		}
		if attempt < p.MaxAttempts && p.Backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff):
			}
		}
	}
	return lastErr
}
