package a2a

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"AgentMesh-Chain/internal/money"
)

// ProtocolURI 标识 A2A 支付协议版本。
const ProtocolURI = "a2a://x402-payment/1.0"

// Type 表示 A2A 消息类型。
type Type string

const (
	TypeProposal   Type = "payment/proposal"
	TypeAuthorized Type = "payment/authorized"
	TypeReleased   Type = "payment/released"
	TypeRefunded   Type = "payment/refunded"
)

// Message 是一条 A2A 协商消息。同一 thid 下的消息构成因果链：
// proposal → authorized → released|refunded。
type Message struct {
	ID        string         `json:"id"`
	Protocol  string         `json:"protocol"`
	Type      Type           `json:"type"`
	From      string         `json:"from"`
	To        string         `json:"to"`
	ThreadID  string         `json:"thid"`
	Timestamp string         `json:"timestamp"`
	Body      map[string]any `json:"body"`
}

// ThreadID 为任务/支付对生成确定性的线程标识，
// 任何角色无需查表即可独立推导出相同的值。
func ThreadID(taskID, paymentID string) string {
	return fmt.Sprintf("a2a:%s:%s", taskID, paymentID)
}

func newMessage(msgType Type, from, to, thid string, body map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Protocol:  ProtocolURI,
		Type:      msgType,
		From:      from,
		To:        to,
		ThreadID:  thid,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Body:      body,
	}
}

// Proposal 描述构造 payment/proposal 消息所需的字段。
type Proposal struct {
	PaymentID         string
	TaskID            string
	Amount            money.Amount
	Currency          string
	From              string
	To                string
	VerifierAddresses []string
	ApprovalsRequired int
	MarketplaceFeeBps int
	VerifierFeeBps    int
}

// NewProposal 创建支付提案消息。
func NewProposal(p Proposal) Message {
	body := map[string]any{
		"payment_id":          p.PaymentID,
		"task_id":             p.TaskID,
		"amount":              p.Amount.String(),
		"currency":            p.Currency,
		"from_agent":          p.From,
		"to_agent":            p.To,
		"verifier_addresses":  append([]string(nil), p.VerifierAddresses...),
		"approvals_required":  p.ApprovalsRequired,
		"marketplace_fee_bps": p.MarketplaceFeeBps,
		"verifier_fee_bps":    p.VerifierFeeBps,
	}
	return newMessage(TypeProposal, p.From, p.To, ThreadID(p.TaskID, p.PaymentID), body)
}

// NewAuthorized 创建授权完成消息，transactionID 为托管持仓的交易凭证。
func NewAuthorized(paymentID, taskID string, amount money.Amount, currency, from, to, transactionID string) Message {
	body := map[string]any{
		"payment_id":     paymentID,
		"task_id":        taskID,
		"amount":         amount.String(),
		"currency":       currency,
		"transaction_id": transactionID,
		"status":         "authorized",
	}
	return newMessage(TypeAuthorized, from, to, ThreadID(taskID, paymentID), body)
}

// NewReleased 创建支付释放消息。
func NewReleased(paymentID, taskID string, amount money.Amount, currency, from, to, transactionID, notes string) Message {
	body := map[string]any{
		"payment_id":     paymentID,
		"task_id":        taskID,
		"amount":         amount.String(),
		"currency":       currency,
		"transaction_id": transactionID,
		"status":         "completed",
	}
	if notes != "" {
		body["verification_notes"] = notes
	}
	return newMessage(TypeReleased, from, to, ThreadID(taskID, paymentID), body)
}

// NewRefunded 创建退款消息，transactionID 在未发生过转账时为空。
func NewRefunded(paymentID, taskID string, amount money.Amount, currency, from, to, transactionID, reason string) Message {
	body := map[string]any{
		"payment_id":       paymentID,
		"task_id":          taskID,
		"amount":           amount.String(),
		"currency":         currency,
		"status":           "refunded",
		"rejection_reason": reason,
	}
	if transactionID != "" {
		body["transaction_id"] = transactionID
	}
	return newMessage(TypeRefunded, from, to, ThreadID(taskID, paymentID), body)
}
