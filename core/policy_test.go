package core

import (
	"testing"
	"time"
)

func newTestPolicyEngine() (*PolicyEngine, *ManualClock) {
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewPolicyEngine(DefaultPolicyConfig(), clk), clk
}

func TestEvaluateTierClassification(t *testing.T) {
	p, _ := newTestPolicyEngine()

	cases := []struct {
		amount Koinu
		want   Tier
	}{
		{DogeToKoinu(5), TierMicro},
		{DogeToKoinu(50), TierSmall},
		{DogeToKoinu(500), TierMedium},
		{DogeToKoinu(1500), TierLarge},
	}
	for _, c := range cases {
		d, err := p.Evaluate("nVTestAddr", c.amount, DogeToKoinu(1_000_000))
		if err != nil {
			t.Fatalf("Evaluate(%d): %v", c.amount, err)
		}
		if d.Tier != c.want {
			t.Errorf("amount %d: got tier %s, want %s", c.amount, d.Tier, c.want)
		}
	}
}

func TestEvaluateSweepWhenNearFullBalance(t *testing.T) {
	p, _ := newTestPolicyEngine()
	balance := DogeToKoinu(100)
	d, err := p.Evaluate("nVTestAddr", DogeToKoinu(95), balance)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Tier != TierSweep {
		t.Fatalf("expected sweep classification for near-full-balance send, got %s", d.Tier)
	}
}

func TestEvaluateFrozenDeniesEverything(t *testing.T) {
	p, _ := newTestPolicyEngine()
	p.SetFrozen(true)
	_, err := p.Evaluate("nVTestAddr", DogeToKoinu(1), DogeToKoinu(1000))
	if err == nil {
		t.Fatal("expected frozen wallet to deny the send")
	}
	if kind, _ := KindOf(err); kind != ErrPolicyDenied {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
}

func TestEvaluateDenylistTakesPriorityOverTier(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.DenyAddresses["nVBadAddr"] = true
	p := NewPolicyEngine(cfg, NewManualClock(time.Now()))

	_, err := p.Evaluate("nVBadAddr", DogeToKoinu(1), DogeToKoinu(1000))
	if err == nil {
		t.Fatal("expected denylisted address to be rejected")
	}
	if kind, _ := KindOf(err); kind != ErrPolicyDenied {
		t.Fatalf("expected ErrPolicyDenied, got %v", err)
	}
}

func TestEvaluateCooldownBlocksRapidSends(t *testing.T) {
	p, clk := newTestPolicyEngine()
	p.RecordSpend(DogeToKoinu(1))

	_, err := p.Evaluate("nVTestAddr", DogeToKoinu(1), DogeToKoinu(1000))
	if err == nil {
		t.Fatal("expected cooldown to block an immediate second send")
	}
	if kind, _ := KindOf(err); kind != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	clk.Advance(10 * time.Second)
	if _, err := p.Evaluate("nVTestAddr", DogeToKoinu(1), DogeToKoinu(1000)); err != nil {
		t.Fatalf("expected send to succeed after cooldown elapses: %v", err)
	}
}

func TestEvaluateDailyLimitEnforced(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Velocity.MaxDailyKoinu = DogeToKoinu(10)
	cfg.Velocity.CooldownSeconds = 0
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewPolicyEngine(cfg, clk)

	p.RecordSpend(DogeToKoinu(9))
	_, err := p.Evaluate("nVTestAddr", DogeToKoinu(5), DogeToKoinu(1000))
	if err == nil {
		t.Fatal("expected daily limit to block a send that would exceed it")
	}
	if kind, _ := KindOf(err); kind != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestEvaluateDailyLimitResetsAtUTCMidnight(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Velocity.MaxDailyKoinu = DogeToKoinu(10)
	cfg.Velocity.CooldownSeconds = 0
	clk := NewManualClock(time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC))
	p := NewPolicyEngine(cfg, clk)

	p.RecordSpend(DogeToKoinu(9))
	if _, err := p.Evaluate("nVTestAddr", DogeToKoinu(5), DogeToKoinu(1000)); err == nil {
		t.Fatal("expected daily limit to block before the UTC day rolls over")
	}

	clk.Advance(2 * time.Minute) // crosses into 2026-01-02 UTC
	if _, err := p.Evaluate("nVTestAddr", DogeToKoinu(5), DogeToKoinu(1000)); err != nil {
		t.Fatalf("expected spend from the prior UTC day to be discarded: %v", err)
	}
}

func TestEvaluateDailyCountLimitEnforced(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Velocity.TxCountDailyMax = 2
	cfg.Velocity.CooldownSeconds = 0
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p := NewPolicyEngine(cfg, clk)

	p.RecordSpend(DogeToKoinu(1))
	p.RecordSpend(DogeToKoinu(1))
	_, err := p.Evaluate("nVTestAddr", DogeToKoinu(1), DogeToKoinu(1000))
	if err == nil {
		t.Fatal("expected daily transaction count limit to block a third send")
	}
	if kind, _ := KindOf(err); kind != ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestEvaluateAllowlistOverridesToAuto(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.AllowAddresses["nVGoodAddr"] = true
	p := NewPolicyEngine(cfg, NewManualClock(time.Now()))

	d, err := p.Evaluate("nVGoodAddr", DogeToKoinu(1500), DogeToKoinu(1_000_000))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if d.Action != ActionAuto {
		t.Fatalf("expected allowlisted address to auto-approve, got action %s", d.Action)
	}
}
