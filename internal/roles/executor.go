package roles

import (
	"context"
	"log/slog"

	"AgentMesh-Chain/internal/coordlog"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/observability/alerting"
	"AgentMesh-Chain/internal/registry"
	"AgentMesh-Chain/internal/retry"
	"AgentMesh-Chain/internal/task"
	"AgentMesh-Chain/pkg/logger"
)

// RoleExecutor 是执行方的默认角色标识。
const RoleExecutor = "executor"

// DefaultCapability 在任务未指明能力时使用。
const DefaultCapability = "general"

// CapabilityResolver 决定任务由哪项注册能力执行。
type CapabilityResolver func(t *task.Task) string

// Executor 响应已授权的 payment_initiated：启动被指派的任务，
// 从能力注册表解析处理器并执行，成功则提交结果进入 COMPLETED，
// 重试耗尽则任务转入 FAILED。
type Executor struct {
	roleID     string
	tasks      *task.Machine
	reg        *registry.Registry
	policy     retry.Policy
	capability CapabilityResolver
	alerts     alerting.Dispatcher
}

// ExecutorOption 定义可选的执行方配置。
type ExecutorOption func(*Executor)

// WithCapabilityResolver 覆盖默认的能力解析逻辑。
func WithCapabilityResolver(resolver CapabilityResolver) ExecutorOption {
	return func(e *Executor) {
		if resolver != nil {
			e.capability = resolver
		}
	}
}

// WithExecutorRoleID 覆盖默认角色标识。
func WithExecutorRoleID(roleID string) ExecutorOption {
	return func(e *Executor) {
		if roleID != "" {
			e.roleID = roleID
		}
	}
}

// NewExecutor 构造执行方角色。
func NewExecutor(tasks *task.Machine, reg *registry.Registry, policy retry.Policy, alerts alerting.Dispatcher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		roleID:     RoleExecutor,
		tasks:      tasks,
		reg:        reg,
		policy:     policy,
		alerts:     alerts,
		capability: func(*task.Task) string { return DefaultCapability },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// RoleID 实现 Role 接口。
func (e *Executor) RoleID() string { return e.roleID }

// React 实现 Role 接口。
func (e *Executor) React(ctx context.Context, msg coordlog.Message) error {
	if msg.Type != coordlog.TypePaymentInitiated {
		return nil
	}
	status, _ := msg.Payload["status"].(string)
	if status != "authorized" {
		return nil
	}
	t, err := e.tasks.Get(ctx, msg.TaskID)
	if err != nil {
		return err
	}
	// 只处理指派给自己且尚未开工的任务，重放消息在此被吸收。
	if t.Status != task.StatusAssigned || t.AssignedTo != e.roleID {
		return nil
	}

	t, err = e.tasks.Start(ctx, e.roleID, t.ID, t.Version)
	if err != nil {
		return err
	}

	capability := e.capability(t)
	handler, err := e.reg.Resolve(capability)
	if err != nil {
		return e.fail(ctx, t, "未注册的执行能力: "+capability, err)
	}
	if progressErr := e.tasks.Progress(ctx, e.roleID, t.ID, map[string]any{
		"stage":      "executing",
		"capability": capability,
	}); progressErr != nil {
		logger.L().Warn("发布执行进度失败",
			slog.Any("error", progressErr),
			slog.String("task_id", t.ID),
		)
	}

	var result registry.Result
	execErr := e.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = handler.Execute(ctx, registry.Request{
			TaskID:      t.ID,
			Capability:  capability,
			Description: t.Description,
			Input:       map[string]any{"title": t.Title},
		})
		return err
	})
	if execErr != nil {
		return e.fail(ctx, t, "任务执行失败: "+execErr.Error(), execErr)
	}

	for _, tool := range result.Tools {
		if toolErr := e.tasks.NotifyToolCreated(ctx, e.roleID, t.ID, map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
		}); toolErr != nil {
			logger.L().Warn("发布工具创建消息失败",
				slog.Any("error", toolErr),
				slog.String("task_id", t.ID),
				slog.String("tool", tool.Name),
			)
		}
	}

	if _, err := e.tasks.Complete(ctx, e.roleID, t.ID, task.Result{
		Output:   result.Output,
		Metadata: result.Metadata,
	}, t.Version); err != nil {
		return err
	}
	return nil
}

// fail 把任务标记为 FAILED 并按需告警。原始错误继续向上返回。
func (e *Executor) fail(ctx context.Context, t *task.Task, reason string, cause error) error {
	if e.alerts != nil && xerrors.ShouldAlert(cause) {
		if notifyErr := e.alerts.Notify(ctx, alerting.FromError(cause, e.roleID, t.ID, "", e.policy.MaxAttempts, e.policy.MaxAttempts)); notifyErr != nil {
			logger.L().Error("发送告警失败", slog.Any("error", notifyErr))
		}
	}
	if _, failErr := e.tasks.Fail(ctx, e.roleID, t.ID, reason, t.Version); failErr != nil {
		logger.L().Error("标记任务失败时出错",
			slog.Any("error", failErr),
			slog.String("task_id", t.ID),
		)
	}
	return cause
}

var _ Role = (*Executor)(nil)
