package task

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"AgentMesh-Chain/internal/coordlog"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/retry"
	"AgentMesh-Chain/pkg/logger"
)

// Machine 驱动任务状态机。每次成功的状态变更都会向任务主题
// 发布一条对应类型的协调消息，日志即审计记录。
type Machine struct {
	store  Store
	log    coordlog.Log
	policy retry.Policy
}

// NewMachine 构造任务状态机，依赖全部显式注入。
func NewMachine(store Store, log coordlog.Log, policy retry.Policy) *Machine {
	return &Machine{store: store, log: log, policy: policy}
}

// Create 创建任务，初始状态为 PENDING、版本为 0。
func (m *Machine) Create(ctx context.Context, actor, title, description string) (*Task, error) {
	if m.store == nil || m.log == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "任务状态机未初始化")
	}
	if strings.TrimSpace(title) == "" {
		return nil, xerrors.New(CodeTaskValidation, "任务标题不能为空")
	}
	task := &Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      StatusPending,
		CreatedBy:   actor,
		Version:     0,
	}
	if err := m.store.Create(ctx, task); err != nil {
		return nil, err
	}
	if err := m.publish(ctx, task.ID, coordlog.TypeTaskCreated, actor, map[string]any{
		"title":       task.Title,
		"description": task.Description,
		"created_by":  actor,
	}); err != nil {
		return task, err
	}
	logger.Audit().Info("任务已创建",
		slog.String("task_id", task.ID),
		slog.String("title", task.Title),
		slog.String("created_by", actor),
	)
	return task, nil
}

// Assign 将 PENDING 任务指派给某个角色。
func (m *Machine) Assign(ctx context.Context, actor, taskID, assignee string, version int64) (*Task, error) {
	return m.transition(ctx, actor, taskID, version, coordlog.TypeTaskAssigned,
		func(task *Task) (map[string]any, error) {
			if task.Status != StatusPending {
				return nil, transitionError(task.Status, StatusAssigned)
			}
			task.Status = StatusAssigned
			task.AssignedTo = assignee
			return map[string]any{"assigned_to": assignee}, nil
		})
}

// Start 将 ASSIGNED 任务推进到 IN_PROGRESS。
func (m *Machine) Start(ctx context.Context, actor, taskID string, version int64) (*Task, error) {
	return m.transition(ctx, actor, taskID, version, coordlog.TypeTaskProgress,
		func(task *Task) (map[string]any, error) {
			if task.Status != StatusAssigned {
				return nil, transitionError(task.Status, StatusInProgress)
			}
			task.Status = StatusInProgress
			return map[string]any{"stage": "started"}, nil
		})
}

// Complete 记录任务产出并进入 COMPLETED。
// 允许从 IN_PROGRESS 或 ASSIGNED 完成（执行方可以跳过显式 Start）。
func (m *Machine) Complete(ctx context.Context, actor, taskID string, result Result, version int64) (*Task, error) {
	return m.transition(ctx, actor, taskID, version, coordlog.TypeTaskCompleted,
		func(task *Task) (map[string]any, error) {
			if task.Status != StatusInProgress && task.Status != StatusAssigned {
				return nil, transitionError(task.Status, StatusCompleted)
			}
			task.Status = StatusCompleted
			resultCopy := result
			task.Result = &resultCopy
			return map[string]any{"result": result.Output}, nil
		})
}

// Fail 将任何非终态任务标记为 FAILED，原因写入结果元数据。
func (m *Machine) Fail(ctx context.Context, actor, taskID, reason string, version int64) (*Task, error) {
	return m.transition(ctx, actor, taskID, version, coordlog.TypeTaskFailed,
		func(task *Task) (map[string]any, error) {
			if IsTerminal(task.Status) {
				return nil, transitionError(task.Status, StatusFailed)
			}
			task.Status = StatusFailed
			if task.Result == nil {
				task.Result = &Result{}
			}
			if task.Result.Metadata == nil {
				task.Result.Metadata = make(map[string]any)
			}
			task.Result.Metadata["failure_reason"] = reason
			return map[string]any{"reason": reason}, nil
		})
}

// Progress 发布一条执行进度消息，不改变任务状态。
func (m *Machine) Progress(ctx context.Context, actor, taskID string, payload map[string]any) error {
	if m.log == nil {
		return xerrors.New(xerrors.CodeInitialization, "任务状态机未初始化")
	}
	return m.publish(ctx, taskID, coordlog.TypeTaskProgress, actor, payload)
}

// NotifyToolCreated 发布动态工具创建消息。
func (m *Machine) NotifyToolCreated(ctx context.Context, actor, taskID string, toolInfo map[string]any) error {
	if m.log == nil {
		return xerrors.New(xerrors.CodeInitialization, "任务状态机未初始化")
	}
	return m.publish(ctx, taskID, coordlog.TypeToolCreated, actor, toolInfo)
}

// Get 返回任务当前状态。
func (m *Machine) Get(ctx context.Context, taskID string) (*Task, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "任务存储未初始化")
	}
	return m.store.Get(ctx, taskID)
}

// List 返回最近任务。
func (m *Machine) List(ctx context.Context, limit int) ([]*Task, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "任务存储未初始化")
	}
	return m.store.List(ctx, limit)
}

// transition 统一处理读取-守卫-写回-发布的流程。
// 守卫失败与版本冲突都不会产生任何变更。
func (m *Machine) transition(
	ctx context.Context,
	actor, taskID string,
	version int64,
	msgType coordlog.Type,
	mutate func(task *Task) (map[string]any, error),
) (*Task, error) {
	if m.store == nil || m.log == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "任务状态机未初始化")
	}
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Version != version {
		return nil, ErrTaskStale
	}
	before := task.Status
	payload, err := mutate(task)
	if err != nil {
		return nil, err
	}
	if statusRank[task.Status] < statusRank[before] {
		return nil, transitionError(before, task.Status)
	}
	if err := m.store.Update(ctx, task, version); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["status"] = string(task.Status)
	if err := m.publish(ctx, taskID, msgType, actor, payload); err != nil {
		return task, err
	}
	logger.Audit().Info("任务状态已变更",
		slog.String("task_id", taskID),
		slog.String("from", string(before)),
		slog.String("to", string(task.Status)),
		slog.String("actor", actor),
		slog.Int64("version", task.Version),
	)
	return task, nil
}

func (m *Machine) publish(ctx context.Context, taskID string, msgType coordlog.Type, actor string, payload map[string]any) error {
	msg := coordlog.NewMessage(msgType, taskID, actor, payload)
	err := m.policy.Do(ctx, func(ctx context.Context) error {
		_, publishErr := m.log.Publish(ctx, taskID, msg)
		return publishErr
	})
	if err != nil {
		logger.L().Error("发布协调消息失败",
			slog.Any("error", err),
			slog.String("task_id", taskID),
			slog.String("type", string(msgType)),
		)
		return xerrors.Wrap(xerrors.CodeLogPublishFailure, err, "发布协调消息失败")
	}
	return nil
}

func transitionError(from, to Status) error {
	return xerrors.New(xerrors.CodeInvalidTransition,
		"不允许从 "+string(from)+" 转移到 "+string(to))
}
