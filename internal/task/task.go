package task

import (
	xerrors "AgentMesh-Chain/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// statusRank 定义状态的先后顺序，状态只允许向前推进。
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusCompleted:  3,
	StatusFailed:     3,
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	_, ok := statusRank[status]
	return ok
}

// Result 保存任务完成时的产出。Output 一经写入不再修改，
// 失败原因记录在 Metadata["failure_reason"]。
type Result struct {
	Output   any            `json:"output,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Task 描述市场中的一个工作单元。
// Version 单调递增，用于乐观并发控制。
type Task struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      Status  `json:"status"`
	CreatedBy   string  `json:"created_by"`
	AssignedTo  string  `json:"assigned_to,omitempty"`
	Result      *Result `json:"result,omitempty"`
	Version     int64   `json:"version"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(xerrors.CodeNotFound, "task not found")
	// ErrTaskStale 表示调用方持有的版本已过期，需要重读后重试。
	ErrTaskStale = xerrors.New(xerrors.CodeStaleVersion, "task version is stale")
	// ErrTaskTransition 表示当前状态下不允许所请求的转移。
	ErrTaskTransition = xerrors.New(xerrors.CodeInvalidTransition, "task transition not allowed")
	// ErrTaskConflict 表示任务 ID 已存在。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task already exists")
)

const (
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task already exists",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:   "task validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// cloneTask 返回任务的深拷贝，存储层对外只暴露副本。
func cloneTask(task *Task) *Task {
	clone := *task
	if task.Result != nil {
		resultCopy := *task.Result
		resultCopy.Metadata = cloneMetadata(task.Result.Metadata)
		clone.Result = &resultCopy
	}
	return &clone
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for key, value := range metadata {
		cloned[key] = value
	}
	return cloned
}
