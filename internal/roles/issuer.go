package roles

import (
	"context"

	"AgentMesh-Chain/internal/coordlog"
	"AgentMesh-Chain/internal/task"
)

// RoleIssuer 是发布方的默认角色标识。
const RoleIssuer = "issuer"

// Issuer 发起任务。它只产生 task_created 消息，不订阅任何消息。
type Issuer struct {
	roleID string
	tasks  *task.Machine
	hook   func(ctx context.Context, t *task.Task)
}

// IssuerOption 定义可选的发布方配置。
type IssuerOption func(*Issuer)

// WithSubmitHook 在任务创建成功后回调，宿主进程借此为新任务
// 主题挂载各角色的订阅。
func WithSubmitHook(hook func(ctx context.Context, t *task.Task)) IssuerOption {
	return func(i *Issuer) {
		i.hook = hook
	}
}

// NewIssuer 构造发布方角色。
func NewIssuer(tasks *task.Machine, opts ...IssuerOption) *Issuer {
	i := &Issuer{roleID: RoleIssuer, tasks: tasks}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// RoleID 实现 Role 接口。
func (i *Issuer) RoleID() string { return i.roleID }

// React 实现 Role 接口。发布方不响应任何消息。
func (i *Issuer) React(_ context.Context, _ coordlog.Message) error {
	return nil
}

// Submit 创建一个新任务并发布 task_created。
func (i *Issuer) Submit(ctx context.Context, title, description string) (*task.Task, error) {
	created, err := i.tasks.Create(ctx, i.roleID, title, description)
	if err != nil {
		return nil, err
	}
	if i.hook != nil {
		i.hook(ctx, created)
	}
	return created, nil
}

var _ Role = (*Issuer)(nil)
