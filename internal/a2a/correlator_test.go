package a2a

import (
	stdErrors "errors"
	"testing"

	"AgentMesh-Chain/internal/money"
)

func TestThreadIDIsDeterministic(t *testing.T) {
	first := ThreadID("task-1", "pay-1")
	second := ThreadID("task-1", "pay-1")
	if first != second {
		t.Fatalf("thread id should be stable: %s vs %s", first, second)
	}
	if first != "a2a:task-1:pay-1" {
		t.Fatalf("unexpected thread id: %s", first)
	}
	if ThreadID("task-1", "pay-2") == first {
		t.Fatal("different payments must map to different threads")
	}
}

func TestCorrelatorEnforcesCausalChain(t *testing.T) {
	correlator := NewCorrelator()
	amount := money.MustParse("10")

	released := NewReleased("pay-1", "task-1", amount, "HBAR", "verifier-1", "executor-1", "tx-1", "ok")
	if err := correlator.Append(released); !stdErrors.Is(err, ErrMissingPredecessor) {
		t.Fatalf("expected MissingPredecessor, got %v", err)
	}

	proposal := NewProposal(Proposal{
		PaymentID: "pay-1", TaskID: "task-1", Amount: amount, Currency: "HBAR",
		From: "negotiator-1", To: "executor-1", ApprovalsRequired: 1,
	})
	if err := correlator.Append(proposal); err != nil {
		t.Fatalf("append proposal: %v", err)
	}

	refunded := NewRefunded("pay-1", "task-1", amount, "HBAR", "verifier-1", "executor-1", "", "bad quality")
	if err := correlator.Append(refunded); !stdErrors.Is(err, ErrMissingPredecessor) {
		t.Fatalf("refunded before authorized should be rejected, got %v", err)
	}

	authorized := NewAuthorized("pay-1", "task-1", amount, "HBAR", "negotiator-1", "executor-1", "hold-1")
	if err := correlator.Append(authorized); err != nil {
		t.Fatalf("append authorized: %v", err)
	}
	if err := correlator.Append(released); err != nil {
		t.Fatalf("released after authorized should pass: %v", err)
	}

	thread := correlator.Thread(ThreadID("task-1", "pay-1"))
	if len(thread) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(thread))
	}
	if thread[0].Type != TypeProposal || thread[1].Type != TypeAuthorized || thread[2].Type != TypeReleased {
		t.Fatalf("unexpected chain order: %v %v %v", thread[0].Type, thread[1].Type, thread[2].Type)
	}
}

func TestProposalBodyCarriesNegotiationTerms(t *testing.T) {
	msg := NewProposal(Proposal{
		PaymentID:         "pay-9",
		TaskID:            "task-9",
		Amount:            money.MustParse("2.5"),
		Currency:          "HBAR",
		From:              "negotiator-1",
		To:                "executor-1",
		VerifierAddresses: []string{"0.0.1001"},
		ApprovalsRequired: 1,
		MarketplaceFeeBps: 100,
		VerifierFeeBps:    50,
	})
	if msg.Protocol != ProtocolURI {
		t.Fatalf("unexpected protocol: %s", msg.Protocol)
	}
	if msg.Body["amount"] != "2.5" {
		t.Fatalf("amount should be canonical decimal text, got %v", msg.Body["amount"])
	}
	if msg.Body["approvals_required"] != 1 || msg.Body["marketplace_fee_bps"] != 100 {
		t.Fatalf("negotiation terms missing: %v", msg.Body)
	}
}
