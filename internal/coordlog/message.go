package coordlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "AgentMesh-Chain/internal/errors"
)

// Type 表示协调消息的类型。
type Type string

const (
	TypeTaskCreated      Type = "task_created"
	TypeTaskAssigned     Type = "task_assigned"
	TypeTaskProgress     Type = "task_progress"
	TypeTaskCompleted    Type = "task_completed"
	TypeTaskFailed       Type = "task_failed"
	TypeToolCreated      Type = "tool_created"
	TypePaymentInitiated Type = "payment_initiated"
	TypePaymentCompleted Type = "payment_completed"
	TypePaymentFailed    Type = "payment_failed"
)

// IsValidType 检查消息类型是否为支持的枚举值。
func IsValidType(t Type) bool {
	switch t {
	case TypeTaskCreated, TypeTaskAssigned, TypeTaskProgress, TypeTaskCompleted,
		TypeTaskFailed, TypeToolCreated, TypePaymentInitiated, TypePaymentCompleted,
		TypePaymentFailed:
		return true
	default:
		return false
	}
}

// Message 是一条协调日志消息。消息一经发布便不再修改，
// sequence_number 由日志端在发布时分配，主题内严格递增。
type Message struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	TaskID         string         `json:"task_id"`
	RoleID         string         `json:"role_id"`
	Timestamp      string         `json:"timestamp"`
	Payload        map[string]any `json:"payload,omitempty"`
	SequenceNumber uint64         `json:"sequence_number"`
}

// NewMessage 构造一条尚未发布的协调消息。
func NewMessage(msgType Type, taskID, roleID string, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		TaskID:    taskID,
		RoleID:    roleID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	}
}

// Encode 将消息序列化为 JSON。
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeValidation, err, "序列化协调消息失败")
	}
	return data, nil
}

// Decode 从 JSON 恢复消息。
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, xerrors.Wrap(xerrors.CodeValidation, err, "解析协调消息失败")
	}
	if !IsValidType(msg.Type) {
		return Message{}, xerrors.New(xerrors.CodeValidation, "未知的协调消息类型: "+string(msg.Type))
	}
	return msg, nil
}
