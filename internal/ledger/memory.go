package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/money"
)

type holdState string

const (
	holdActive      holdState = "active"
	holdTransferred holdState = "transferred"
	holdVoided      holdState = "voided"
)

// MemoryClient 在内存中模拟托管账本，主要用于测试和本地运行。
// 通过 FailNextHold / FailNextTransfer 可以注入瞬时故障来验证重试路径。
type MemoryClient struct {
	mu    sync.Mutex
	holds map[string]holdState

	failHolds     int
	failTransfers int
	failVoids     int

	HoldCalls     int
	TransferCalls int
	VoidCalls     int
}

// NewMemoryClient 创建内存账本。
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{holds: make(map[string]holdState)}
}

// FailNextHold 让接下来的 n 次 Hold 以瞬时错误失败。
func (c *MemoryClient) FailNextHold(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failHolds = n
}

// FailNextTransfer 让接下来的 n 次 Transfer 以瞬时错误失败。
func (c *MemoryClient) FailNextTransfer(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failTransfers = n
}

// FailNextVoid 让接下来的 n 次 Void 以瞬时错误失败。
func (c *MemoryClient) FailNextVoid(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failVoids = n
}

// Hold 冻结资金并返回持仓凭证。
func (c *MemoryClient) Hold(_ context.Context, payer, payee string, amount money.Amount, currency string) (Authorization, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.HoldCalls++
	if c.failHolds > 0 {
		c.failHolds--
		return Authorization{}, xerrors.New(xerrors.CodeTransientExternal, "账本暂时不可用")
	}
	if !amount.IsPositive() {
		return Authorization{}, xerrors.New(xerrors.CodeValidation, "托管金额必须为正数")
	}
	handle := "hold-" + uuid.NewString()
	c.holds[handle] = holdActive
	return Authorization{
		Handle:   handle,
		Payer:    payer,
		Payee:    payee,
		Amount:   amount,
		Currency: currency,
	}, nil
}

// Transfer 结清持仓。
func (c *MemoryClient) Transfer(_ context.Context, auth Authorization) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TransferCalls++
	if c.failTransfers > 0 {
		c.failTransfers--
		return Receipt{}, xerrors.New(xerrors.CodeTransientExternal, "账本暂时不可用")
	}
	state, ok := c.holds[auth.Handle]
	if !ok {
		return Receipt{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("持仓 %s 不存在", auth.Handle))
	}
	if state != holdActive {
		return Receipt{}, xerrors.New(xerrors.CodePermanentExternal, fmt.Sprintf("持仓 %s 已终结: %s", auth.Handle, state))
	}
	c.holds[auth.Handle] = holdTransferred
	return Receipt{
		TransactionID: "tx-" + uuid.NewString(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Void 解除持仓。
func (c *MemoryClient) Void(_ context.Context, auth Authorization) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.VoidCalls++
	if c.failVoids > 0 {
		c.failVoids--
		return xerrors.New(xerrors.CodeTransientExternal, "账本暂时不可用")
	}
	state, ok := c.holds[auth.Handle]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("持仓 %s 不存在", auth.Handle))
	}
	if state != holdActive {
		return xerrors.New(xerrors.CodePermanentExternal, fmt.Sprintf("持仓 %s 已终结: %s", auth.Handle, state))
	}
	c.holds[auth.Handle] = holdVoided
	return nil
}

// Close 对内存账本无需操作。
func (c *MemoryClient) Close() error {
	return nil
}

var _ Client = (*MemoryClient)(nil)
