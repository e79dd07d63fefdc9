package core

import (
	"testing"
	"time"
)

func newTestApprovalQueue(t *testing.T) (*ApprovalQueue, *ManualClock) {
	t.Helper()
	fs, err := NewSecureFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewSecureFS: %v", err)
	}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewApprovalQueue(fs, clk, nil), clk
}

func TestApproveTransitionsToApproved(t *testing.T) {
	q, _ := newTestApprovalQueue(t)
	a, err := q.Enqueue("nVTestAddr", DogeToKoinu(500), string(TierLarge), ActionApprove, "large tier", time.Hour, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resolved, err := q.Approve(a.ID, string(InitiatedOwner))
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if resolved.Status != ApprovalApproved {
		t.Fatalf("expected status approved, got %s", resolved.Status)
	}
	if resolved.ResolvedBy != string(InitiatedOwner) {
		t.Fatalf("expected resolvedBy to be recorded, got %q", resolved.ResolvedBy)
	}
}

func TestApproveTwiceFails(t *testing.T) {
	q, _ := newTestApprovalQueue(t)
	a, err := q.Enqueue("nVTestAddr", DogeToKoinu(500), string(TierLarge), ActionApprove, "large tier", time.Hour, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Approve(a.ID, string(InitiatedOwner)); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	if _, err := q.Approve(a.ID, string(InitiatedOwner)); err == nil {
		t.Fatal("expected a second approval of the same id to fail")
	}
}

func TestExpireDueAppliesAutoAction(t *testing.T) {
	q, clk := newTestApprovalQueue(t)
	approveMe, err := q.Enqueue("nVA", DogeToKoinu(1), string(TierMicro), ActionAuto, "", time.Minute, ActionApprove)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	denyMe, err := q.Enqueue("nVB", DogeToKoinu(9000), string(TierSweep), ActionConfirmCode, "", time.Minute, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	clk.Advance(2 * time.Minute)
	resolved, err := q.ExpireDue()
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected both approvals to expire, got %d", len(resolved))
	}

	got, _ := q.Get(approveMe.ID)
	if got.Status != ApprovalApproved {
		t.Errorf("expected auto-approve action to resolve to approved, got %s", got.Status)
	}
	got, _ = q.Get(denyMe.ID)
	if got.Status != ApprovalDenied {
		t.Errorf("expected auto-deny action to resolve to denied, got %s", got.Status)
	}
}

func TestListPendingExcludesResolved(t *testing.T) {
	q, _ := newTestApprovalQueue(t)
	a, err := q.Enqueue("nVA", DogeToKoinu(1), string(TierMicro), ActionAuto, "", time.Hour, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Enqueue("nVB", DogeToKoinu(2), string(TierMicro), ActionAuto, "", time.Hour, ActionDeny); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Deny(a.ID, string(InitiatedOwner)); err != nil {
		t.Fatalf("Deny: %v", err)
	}

	pending := q.ListPending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pending))
	}
}
