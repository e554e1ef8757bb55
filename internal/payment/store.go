package payment

import "context"

// Store 抽象了支付实体的持久化接口。
// Update 仅在存储中的状态等于 expectedStatus 时生效，
// 状态守卫即并发控制：同一支付的冲突写入会被拒绝。
type Store interface {
	Create(ctx context.Context, payment *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, payment *Payment, expectedStatus Status) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error)
	Close() error
}
