package ledger

import (
	"context"

	"AgentMesh-Chain/internal/money"
)

// Authorization 是一次托管持仓的凭证，由 Hold 返回，
// 之后既可以通过 Transfer 结清，也可以通过 Void 解除。
type Authorization struct {
	Handle   string       `json:"handle"`
	Payer    string       `json:"payer"`
	Payee    string       `json:"payee"`
	Amount   money.Amount `json:"amount"`
	Currency string       `json:"currency"`
}

// Receipt 是一次成功转账的结算回执。
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	Timestamp     string `json:"timestamp"`
}

// Client 抽象了账本端的托管操作。实现方保证：
// Hold 成功后资金处于冻结状态；Transfer 与 Void 互斥地终结持仓。
type Client interface {
	Hold(ctx context.Context, payer, payee string, amount money.Amount, currency string) (Authorization, error)
	Transfer(ctx context.Context, auth Authorization) (Receipt, error)
	Void(ctx context.Context, auth Authorization) error
	Close() error
}
