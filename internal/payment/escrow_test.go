package payment

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"AgentMesh-Chain/internal/a2a"
	"AgentMesh-Chain/internal/coordlog"
	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/ledger"
	"AgentMesh-Chain/internal/money"
	"AgentMesh-Chain/internal/retry"
)

type escrowFixture struct {
	escrow     *Escrow
	store      *MemoryStore
	ledger     *ledger.MemoryClient
	log        *coordlog.MemoryLog
	correlator *a2a.Correlator
}

func newEscrowFixture() *escrowFixture {
	store := NewMemoryStore()
	ledgerClient := ledger.NewMemoryClient()
	log := coordlog.NewMemoryLog()
	correlator := a2a.NewCorrelator()
	escrow := NewEscrow(store, ledgerClient, log, correlator, retry.Policy{MaxAttempts: 2, Backoff: time.Millisecond}, Terms{
		VerifierAddresses: []string{"0.0.1001"},
		ApprovalsRequired: 1,
	})
	return &escrowFixture{escrow: escrow, store: store, ledger: ledgerClient, log: log, correlator: correlator}
}

func (f *escrowFixture) createAuthorized(t *testing.T) *Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.escrow.CreateRequest(ctx, "negotiator-1", "task-1", "0.0.2001", "0.0.2002", money.MustParse("10"), "HBAR")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	p, err = f.escrow.Authorize(ctx, "negotiator-1", p.ID)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return p
}

func TestScenarioAuthorizeThenRelease(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p := f.createAuthorized(t)
	if p.Status != StatusAuthorized || p.AuthorizationHandle == "" {
		t.Fatalf("unexpected authorized state: %+v", p)
	}

	p, err := f.escrow.Release(ctx, "verifier-1", p.ID, "ok")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if p.Status != StatusCompleted || p.SettlementReceipt == nil || p.SettlementReceipt.TransactionID == "" {
		t.Fatalf("unexpected completed state: %+v", p)
	}
	if p.Metadata["verification_notes"] != "ok" {
		t.Fatalf("verification notes missing: %+v", p.Metadata)
	}

	thread := f.escrow.Thread("task-1", p.ID)
	if len(thread) != 3 {
		t.Fatalf("expected proposal+authorized+released, got %d entries", len(thread))
	}
	if thread[2].Type != a2a.TypeReleased {
		t.Fatalf("unexpected final thread entry: %s", thread[2].Type)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p := f.createAuthorized(t)
	first, err := f.escrow.Release(ctx, "verifier-1", p.ID, "ok")
	if err != nil {
		t.Fatalf("first release: %v", err)
	}
	second, err := f.escrow.Release(ctx, "verifier-1", p.ID, "ok")
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if second.SettlementReceipt == nil || second.SettlementReceipt.TransactionID != first.SettlementReceipt.TransactionID {
		t.Fatalf("receipt must be unchanged: %+v vs %+v", first.SettlementReceipt, second.SettlementReceipt)
	}
	if f.ledger.TransferCalls != 1 {
		t.Fatalf("transfer must be invoked exactly once, got %d", f.ledger.TransferCalls)
	}
}

func TestScenarioRejectAuthorizedPayment(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p := f.createAuthorized(t)
	p, err := f.escrow.Reject(ctx, "verifier-1", p.ID, "bad quality")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.Status != StatusRefunded {
		t.Fatalf("unexpected status: %s", p.Status)
	}
	if p.SettlementReceipt != nil {
		t.Fatal("refunded payment must not carry a settlement receipt")
	}
	if f.ledger.VoidCalls != 1 {
		t.Fatalf("void must be invoked exactly once, got %d", f.ledger.VoidCalls)
	}
	if p.Metadata["rejection_reason"] != "bad quality" {
		t.Fatalf("rejection reason missing: %+v", p.Metadata)
	}
	thread := f.escrow.Thread("task-1", p.ID)
	if len(thread) != 3 || thread[2].Type != a2a.TypeRefunded {
		t.Fatalf("thread must end with refunded entry: %+v", thread)
	}
}

func TestRejectIsIdempotent(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p := f.createAuthorized(t)
	if _, err := f.escrow.Reject(ctx, "verifier-1", p.ID, "bad quality"); err != nil {
		t.Fatalf("first reject: %v", err)
	}
	again, err := f.escrow.Reject(ctx, "verifier-1", p.ID, "bad quality")
	if err != nil {
		t.Fatalf("second reject must be a no-op: %v", err)
	}
	if again.Status != StatusRefunded {
		t.Fatalf("unexpected status: %s", again.Status)
	}
	if f.ledger.VoidCalls != 1 {
		t.Fatalf("void must not run twice, got %d", f.ledger.VoidCalls)
	}
}

func TestScenarioReleasePendingPaymentFails(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p, err := f.escrow.CreateRequest(ctx, "negotiator-1", "task-1", "0.0.2001", "0.0.2002", money.MustParse("10"), "HBAR")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := f.escrow.Release(ctx, "verifier-1", p.ID, "ok"); !stdErrors.Is(err, ErrPaymentTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}
	current, _ := f.escrow.Get(ctx, p.ID)
	if current.Status != StatusPending || current.SettlementReceipt != nil {
		t.Fatalf("payment must be unchanged: %+v", current)
	}
	if f.ledger.TransferCalls != 0 {
		t.Fatalf("transfer must not be invoked, got %d", f.ledger.TransferCalls)
	}
}

func TestRejectPendingPaymentSkipsVoid(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p, _ := f.escrow.CreateRequest(ctx, "negotiator-1", "task-1", "0.0.2001", "0.0.2002", money.MustParse("1"), "HBAR")
	p, err := f.escrow.Reject(ctx, "negotiator-1", p.ID, "negotiation failed")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.Status != StatusRefunded {
		t.Fatalf("unexpected status: %s", p.Status)
	}
	if f.ledger.VoidCalls != 0 {
		t.Fatalf("void must not run for pending payment, got %d", f.ledger.VoidCalls)
	}
	// 从未授权过的支付没有 authorized 前驱，线程停在 proposal，
	// 不允许出现会被因果链拒绝的 refunded 条目。
	thread := f.escrow.Thread("task-1", p.ID)
	if len(thread) != 1 || thread[0].Type != a2a.TypeProposal {
		t.Fatalf("thread must stop at the proposal: %+v", thread)
	}
}

func TestAuthorizeRetriesTransientLedgerFailure(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p, _ := f.escrow.CreateRequest(ctx, "negotiator-1", "task-1", "0.0.2001", "0.0.2002", money.MustParse("10"), "HBAR")
	f.ledger.FailNextHold(1)
	p, err := f.escrow.Authorize(ctx, "negotiator-1", p.ID)
	if err != nil {
		t.Fatalf("authorize should succeed after one retry: %v", err)
	}
	if p.Status != StatusAuthorized {
		t.Fatalf("unexpected status: %s", p.Status)
	}
	if f.ledger.HoldCalls != 2 {
		t.Fatalf("expected 2 hold attempts, got %d", f.ledger.HoldCalls)
	}
}

func TestAuthorizeFailsTerminallyAfterRetries(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p, _ := f.escrow.CreateRequest(ctx, "negotiator-1", "task-1", "0.0.2001", "0.0.2002", money.MustParse("10"), "HBAR")
	f.ledger.FailNextHold(2)
	failed, err := f.escrow.Authorize(ctx, "negotiator-1", p.ID)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if failed == nil || failed.Status != StatusFailed {
		t.Fatalf("payment should be FAILED: %+v", failed)
	}
	if xerrors.CodeOf(err) != xerrors.CodePermanentExternal {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}

	// 失败路径也必须留下审计消息。
	history := f.log.History("task-1")
	var sawFailure bool
	for _, msg := range history {
		if msg.Type == coordlog.TypePaymentFailed {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("expected payment_failed message in the audit log")
	}
}

func TestTerminalPaymentRejectsFurtherMutation(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p := f.createAuthorized(t)
	released, err := f.escrow.Release(ctx, "verifier-1", p.ID, "ok")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := f.escrow.Reject(ctx, "verifier-1", released.ID, "late"); !stdErrors.Is(err, ErrPaymentTransition) {
		t.Fatalf("reject on completed payment must fail: %v", err)
	}
	// 存储层同样拒绝对终态记录的写入。
	released.Metadata = map[string]any{"tamper": true}
	if err := f.store.Update(ctx, released, StatusCompleted); !stdErrors.Is(err, ErrPaymentTransition) {
		t.Fatalf("store must reject terminal mutation: %v", err)
	}
}

func TestSweeperAutoRejectsExpiredAuthorizations(t *testing.T) {
	f := newEscrowFixture()
	defer f.log.Close()
	ctx := context.Background()

	p := f.createAuthorized(t)
	fresh := f.createAuthorizedForTask(t, "task-2")

	// 把第一笔支付的创建时间拨回过期线之前。
	f.store.mu.Lock()
	f.store.payments[p.ID].CreatedAt = time.Now().Add(-2 * time.Hour).Unix()
	f.store.mu.Unlock()

	sweeper := NewSweeper(f.escrow, f.store, time.Hour, time.Minute)
	if swept := sweeper.SweepOnce(ctx); swept != 1 {
		t.Fatalf("expected 1 swept payment, got %d", swept)
	}

	expired, _ := f.escrow.Get(ctx, p.ID)
	if expired.Status != StatusRefunded || expired.Metadata["rejection_reason"] != "authorization expired" {
		t.Fatalf("expired payment should be auto-refunded: %+v", expired)
	}
	kept, _ := f.escrow.Get(ctx, fresh.ID)
	if kept.Status != StatusAuthorized {
		t.Fatalf("fresh payment must be untouched: %+v", kept)
	}
}

func (f *escrowFixture) createAuthorizedForTask(t *testing.T, taskID string) *Payment {
	t.Helper()
	ctx := context.Background()
	p, err := f.escrow.CreateRequest(ctx, "negotiator-1", taskID, "0.0.2001", "0.0.2002", money.MustParse("5"), "HBAR")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	p, err = f.escrow.Authorize(ctx, "negotiator-1", p.ID)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	return p
}
