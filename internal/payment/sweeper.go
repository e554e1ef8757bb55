package payment

import (
	"context"
	"log/slog"
	"time"

	"AgentMesh-Chain/pkg/logger"
)

// sweeperRole 是过期清理器在审计记录中使用的角色标识。
const sweeperRole = "escrow-sweeper"

// Sweeper 周期性地回收长时间未释放的 AUTHORIZED 支付：
// 超过 TTL 仍未被校验释放的持仓将被自动拒绝并退回。
// 这是一个补偿动作，不是事务回滚。
type Sweeper struct {
	escrow   *Escrow
	store    Store
	ttl      time.Duration
	interval time.Duration
}

// NewSweeper 构造过期清理器。ttl 与 interval 非法时使用默认值。
func NewSweeper(escrow *Escrow, store Store, ttl, interval time.Duration) *Sweeper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{escrow: escrow, store: store, ttl: ttl, interval: interval}
}

// Run 启动清理循环，直到上下文取消。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce 扫描一轮过期持仓。返回被回收的支付数量。
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	authorized, err := s.store.ListByStatus(ctx, StatusAuthorized, 0)
	if err != nil {
		logger.L().Error("扫描过期持仓失败", slog.Any("error", err))
		return 0
	}
	cutoff := time.Now().Add(-s.ttl).Unix()
	swept := 0
	for _, p := range authorized {
		if p.CreatedAt > cutoff {
			continue
		}
		if _, err := s.escrow.Reject(ctx, sweeperRole, p.ID, "authorization expired"); err != nil {
			logger.L().Error("自动退款过期持仓失败",
				slog.Any("error", err),
				slog.String("payment_id", p.ID),
			)
			continue
		}
		swept++
		logger.Audit().Warn("过期持仓已自动退款",
			slog.String("payment_id", p.ID),
			slog.String("task_id", p.TaskID),
		)
	}
	return swept
}
