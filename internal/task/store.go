package task

import "context"

// Store 抽象了任务实体的持久化接口，带乐观版本语义：
// Update 仅在存储中的版本等于 expectedVersion 时生效，
// 否则返回 StaleVersion 且不发生任何变更。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, task *Task, expectedVersion int64) error
	List(ctx context.Context, limit int) ([]*Task, error)
	Close() error
}
