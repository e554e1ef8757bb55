package payment

import (
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/ledger"
	"AgentMesh-Chain/internal/money"
)

// Status 表示托管支付在生命周期中的状态。
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// IsTerminal 判断状态是否为终态。终态支付不再允许任何字段变更。
func IsTerminal(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的支付状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusAuthorized, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

// Payment 描述一笔与任务关联的托管支付。
// Amount 创建后不可变；AuthorizationHandle 在 AUTHORIZED 时写入；
// SettlementReceipt 仅在 COMPLETED 时写入。
type Payment struct {
	ID                  string          `json:"id"`
	TaskID              string          `json:"task_id"`
	Payer               string          `json:"payer"`
	Payee               string          `json:"payee"`
	Amount              money.Amount    `json:"amount"`
	Currency            string          `json:"currency"`
	Status              Status          `json:"status"`
	AuthorizationHandle string          `json:"authorization_handle,omitempty"`
	SettlementReceipt   *ledger.Receipt `json:"settlement_receipt,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
	CreatedAt           int64           `json:"created_at"`
	CompletedAt         int64           `json:"completed_at,omitempty"`
}

// authorization 依据支付字段重建账本持仓凭证。
func (p *Payment) authorization() ledger.Authorization {
	return ledger.Authorization{
		Handle:   p.AuthorizationHandle,
		Payer:    p.Payer,
		Payee:    p.Payee,
		Amount:   p.Amount,
		Currency: p.Currency,
	}
}

var (
	// ErrPaymentNotFound 表示指定的支付不存在。
	ErrPaymentNotFound = xerrors.New(xerrors.CodeNotFound, "payment not found")
	// ErrPaymentTransition 表示当前状态下不允许所请求的操作。
	ErrPaymentTransition = xerrors.New(xerrors.CodeInvalidTransition, "payment transition not allowed")
	// ErrPaymentConflict 表示支付记录发生并发冲突或 ID 重复。
	ErrPaymentConflict = xerrors.New(CodePaymentConflict, "payment conflict")
)

const (
	CodePaymentConflict   xerrors.Code = "PAYMENT_CONFLICT"
	CodePaymentValidation xerrors.Code = "PAYMENT_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodePaymentConflict, xerrors.Attributes{
		Message:   "payment conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodePaymentValidation, xerrors.Attributes{
		Message:   "payment validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// clonePayment 返回支付对象的深拷贝。
func clonePayment(p *Payment) *Payment {
	clone := *p
	if p.SettlementReceipt != nil {
		receipt := *p.SettlementReceipt
		clone.SettlementReceipt = &receipt
	}
	if p.Metadata != nil {
		clone.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
