package core

import (
	"testing"
	"time"

	"github.com/Quackstro/openclaw-doge-wallet-sub001/pkg/config"
)

func newTestWallet(t *testing.T) (*Wallet, *ManualClock) {
	t.Helper()
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := &config.Config{
		Network: "testnet",
		DataDir: t.TempDir(),
	}
	cfg.Policy.Enabled = true
	cfg.Policy.TxCountDailyMax = 20
	cfg.Notifications.Target = "owner-chat-1"
	cfg.Notifications.OwnerChatIDs = []string{"owner-chat-2"}

	w, err := NewWallet(cfg, nil, clk)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w, clk
}

func TestApproveRejectsNonOwnerCaller(t *testing.T) {
	w, _ := newTestWallet(t)
	a, err := w.Approvals.Enqueue("nVTestAddr", DogeToKoinu(500), string(TierLarge), ActionApprove, "large tier", time.Hour, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := w.Approve(a.ID, "attacker"); err == nil {
		t.Fatal("expected approval from a non-owner caller to be rejected")
	} else if kind, _ := KindOf(err); kind != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	got, _ := w.Approvals.Get(a.ID)
	if got.Status != ApprovalPending {
		t.Fatalf("expected approval to remain pending after rejection, got %s", got.Status)
	}

	entries, err := w.Audit.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for _, e := range entries {
		if e.Action == AuditApprove && e.InitiatedBy == InitiatedOwner {
			t.Fatal("expected no owner-attributed approve audit entry for a rejected caller")
		}
	}
}

func TestApproveAcceptsConfiguredOwnerIdentities(t *testing.T) {
	w, _ := newTestWallet(t)

	a, err := w.Approvals.Enqueue("nVTestAddr", DogeToKoinu(500), string(TierLarge), ActionApprove, "large tier", time.Hour, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.Approve(a.ID, "owner-chat-1"); err != nil {
		t.Fatalf("Approve with notifications.target identity: %v", err)
	}
	got, _ := w.Approvals.Get(a.ID)
	if got.Status != ApprovalApproved || got.ResolvedBy != "owner-chat-1" {
		t.Fatalf("expected approved by owner-chat-1, got status=%s resolvedBy=%s", got.Status, got.ResolvedBy)
	}

	b, err := w.Approvals.Enqueue("nVTestAddr2", DogeToKoinu(500), string(TierLarge), ActionApprove, "large tier", time.Hour, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.Deny(b.ID, "owner-chat-2"); err != nil {
		t.Fatalf("Deny with ownerChatIds identity: %v", err)
	}
	got, _ = w.Approvals.Get(b.ID)
	if got.Status != ApprovalDenied {
		t.Fatalf("expected denied by owner-chat-2, got %s", got.Status)
	}
}

func TestApproveAcceptsSystemAutoIdentity(t *testing.T) {
	w, _ := newTestWallet(t)
	a, err := w.Approvals.Enqueue("nVTestAddr", DogeToKoinu(500), string(TierLarge), ActionApprove, "large tier", time.Hour, ActionDeny)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := w.Approve(a.ID, SystemAutoIdentity); err != nil {
		t.Fatalf("Approve with system:auto identity: %v", err)
	}
}

func TestPolicyDisabledBypassesVelocityLimits(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Enabled = false
	cfg.Velocity.MaxDailyKoinu = DogeToKoinu(1)
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewPolicyEngine(cfg, clk)

	decision, err := p.Evaluate("nVTestAddr", DogeToKoinu(9000), DogeToKoinu(100000))
	if err != nil {
		t.Fatalf("expected disabled policy to allow any send, got %v", err)
	}
	if decision.Action != ActionAuto {
		t.Fatalf("expected auto action when policy disabled, got %s", decision.Action)
	}
}

func TestPolicyFreezeConfiguredAtStartup(t *testing.T) {
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := &config.Config{Network: "testnet", DataDir: t.TempDir()}
	cfg.Policy.Enabled = true
	cfg.Policy.Freeze = true

	w, err := NewWallet(cfg, nil, clk)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	if !w.Policy.IsFrozen() {
		t.Fatal("expected wallet to start frozen when policy.freeze is true")
	}
}

func TestPolicyAllowlistDenylistWiredFromConfig(t *testing.T) {
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := &config.Config{Network: "testnet", DataDir: t.TempDir()}
	cfg.Policy.Enabled = true
	cfg.Policy.Allowlist = []string{"nVAllowed"}
	cfg.Policy.Denylist = []string{"nVDenied"}

	w, err := NewWallet(cfg, nil, clk)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	if _, err := w.Policy.Evaluate("nVDenied", DogeToKoinu(1), DogeToKoinu(1000)); err == nil {
		t.Fatal("expected denylisted address to be rejected")
	}
	decision, err := w.Policy.Evaluate("nVAllowed", DogeToKoinu(1500), DogeToKoinu(100000))
	if err != nil {
		t.Fatalf("expected allowlisted address to be evaluated: %v", err)
	}
	if decision.Action != ActionAuto {
		t.Fatalf("expected allowlisted address to auto-approve, got %s", decision.Action)
	}
}
