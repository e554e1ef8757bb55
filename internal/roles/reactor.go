package roles

import (
	"context"
	"log/slog"
	"sync"

	"AgentMesh-Chain/internal/coordlog"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/pkg/logger"
)

// Role 是对协调消息作出反应的业务角色。
// React 必须幂等：日志是至少一次投递的，去重之外仍可能出现
// 内容相同但 ID 不同的重放消息，角色需要靠状态守卫自保。
type Role interface {
	RoleID() string
	React(ctx context.Context, msg coordlog.Message) error
}

// Reactor 将一个角色接到协调日志上：
// 按消息 ID 去重，跳过角色自己发布的消息，再交给角色处理。
type Reactor struct {
	role Role
	log  coordlog.Log

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewReactor 构造反应器。
func NewReactor(role Role, log coordlog.Log) *Reactor {
	return &Reactor{
		role: role,
		log:  log,
		seen: make(map[string]struct{}),
	}
}

// Dispatch 同步处理一条消息。重复投递（相同消息 ID）直接跳过。
func (r *Reactor) Dispatch(ctx context.Context, msg coordlog.Message) error {
	if r.role == nil {
		return xerrors.New(xerrors.CodeInitialization, "反应器未绑定角色")
	}
	if msg.RoleID == r.role.RoleID() {
		return nil
	}
	r.mu.Lock()
	if _, dup := r.seen[msg.ID]; dup {
		r.mu.Unlock()
		return nil
	}
	r.seen[msg.ID] = struct{}{}
	r.mu.Unlock()

	if err := r.role.React(ctx, msg); err != nil {
		logger.L().Error("角色处理协调消息失败",
			slog.Any("error", err),
			slog.String("role", r.role.RoleID()),
			slog.String("task_id", msg.TaskID),
			slog.String("type", string(msg.Type)),
			slog.String("message_id", msg.ID),
		)
		return err
	}
	return nil
}

// Watch 订阅任务主题并持续消费，直到上下文取消。
// 处理失败只记录日志，不中断消费循环。
func (r *Reactor) Watch(ctx context.Context, topic string, fromSeq uint64) error {
	if r.log == nil {
		return xerrors.New(xerrors.CodeInitialization, "反应器未绑定协调日志")
	}
	stream, err := r.log.Subscribe(ctx, topic, fromSeq)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				_ = r.Dispatch(ctx, msg)
			}
		}
	}()
	return nil
}
