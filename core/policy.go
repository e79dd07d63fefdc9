package core

// policy.go — spending policy engine: tiered classification, velocity
// limits, allow/deny lists, and the freeze flag. All limits are
// config-driven rather than hardcoded, and state is guarded by a
// single mutex.

import (
	"sync"
	"time"
)

// Tier names the spend classification used for policy decisions and
// audit entries.
type Tier string

const (
	TierMicro  Tier = "micro"
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
	TierSweep  Tier = "sweep"
)

// TierThresholds configures the koinu boundaries between tiers. Sweep
// is not bounded above: classifyTier returns it for any amount above
// LargeMaxKoinu and for any send of at least 90% of the spendable
// balance.
type TierThresholds struct {
	MicroMaxKoinu  Koinu
	SmallMaxKoinu  Koinu
	MediumMaxKoinu Koinu
	LargeMaxKoinu  Koinu
}

// VelocityLimits bounds spend rate independent of any single amount.
// TxCountDailyMax caps the number of spends per UTC calendar day, per
// spec section 4.5/6 (policy.limits.txCountDailyMax).
type VelocityLimits struct {
	MaxDailyKoinu   Koinu
	MaxHourlyKoinu  Koinu
	TxCountDailyMax int
	CooldownSeconds int64
}

// PolicyConfig is the full tunable surface, loaded from config per
// spec section 6.
type PolicyConfig struct {
	Enabled        bool
	Thresholds     TierThresholds
	Velocity       VelocityLimits
	TierActions    map[Tier]ApprovalAction
	AllowAddresses map[string]bool
	DenyAddresses  map[string]bool
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Enabled: true,
		Thresholds: TierThresholds{
			MicroMaxKoinu:  DogeToKoinu(10),
			SmallMaxKoinu:  DogeToKoinu(100),
			MediumMaxKoinu: DogeToKoinu(1000),
			LargeMaxKoinu:  DogeToKoinu(10000),
		},
		Velocity: VelocityLimits{
			MaxDailyKoinu:   DogeToKoinu(5000),
			MaxHourlyKoinu:  DogeToKoinu(2000),
			TxCountDailyMax: 20,
			CooldownSeconds: 5,
		},
		TierActions: map[Tier]ApprovalAction{
			TierMicro:  ActionAuto,
			TierSmall:  ActionNotify,
			TierMedium: ActionDelay,
			TierLarge:  ActionApprove,
			TierSweep:  ActionConfirmCode,
		},
		AllowAddresses: map[string]bool{},
		DenyAddresses:  map[string]bool{},
	}
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Tier   Tier
	Action ApprovalAction
	Reason string
}

// PolicyEngine classifies and rate-limits outgoing sends. All state
// mutation (spend history, frozen flag) goes through a single mutex.
type PolicyEngine struct {
	mu     sync.Mutex
	cfg    PolicyConfig
	clk    Clock
	frozen bool
	spends []SpendRecord // current UTC day only, earlier days pruned on access
}

func NewPolicyEngine(cfg PolicyConfig, clk Clock) *PolicyEngine {
	return &PolicyEngine{cfg: cfg, clk: clk}
}

func (p *PolicyEngine) SetFrozen(frozen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frozen = frozen
}

// Config returns a copy of the engine's active configuration, for
// inspection commands that print current thresholds.
func (p *PolicyEngine) Config() PolicyConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *PolicyEngine) IsFrozen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frozen
}

func classifyTier(amount Koinu, t TierThresholds, spendableBalance Koinu) Tier {
	if spendableBalance > 0 && amount >= spendableBalance*9/10 {
		return TierSweep
	}
	switch {
	case amount <= t.MicroMaxKoinu:
		return TierMicro
	case amount <= t.SmallMaxKoinu:
		return TierSmall
	case amount <= t.MediumMaxKoinu:
		return TierMedium
	case amount <= t.LargeMaxKoinu:
		return TierLarge
	default:
		return TierSweep
	}
}

// pruneLocked discards spend records that belong to a prior UTC
// calendar day, per spec section 3: "records for prior days are
// discarded" and section 9's pinning of the daily reset to UTC
// midnight rather than a rolling 24h window.
func (p *PolicyEngine) pruneLocked(now time.Time) {
	today := utcDateString(now)
	kept := p.spends[:0]
	for _, s := range p.spends {
		if utcDateString(s.Timestamp) == today {
			kept = append(kept, s)
		}
	}
	p.spends = kept
}

// sumTodayLocked sums spend records belonging to the current UTC
// calendar day. Call pruneLocked first so the slice only holds today's
// records.
func (p *PolicyEngine) sumTodayLocked() (Koinu, int) {
	var sum Koinu
	for _, s := range p.spends {
		sum += s.AmountKoinu
	}
	return sum, len(p.spends)
}

// sumSinceLocked sums spend records within a trailing rolling window,
// used for the hourly velocity check (spec section 4.5: "hourly
// window = last 3600s", a rolling window, unlike the daily/UTC-day
// check).
func (p *PolicyEngine) sumSinceLocked(now time.Time, window time.Duration) (Koinu, int) {
	cutoff := now.Add(-window)
	var sum Koinu
	count := 0
	for _, s := range p.spends {
		if s.Timestamp.After(cutoff) {
			sum += s.AmountKoinu
			count++
		}
	}
	return sum, count
}

// Evaluate classifies a proposed send. It checks, in order: the
// enabled switch (disabled means auto), the freeze flag, the denylist,
// the cooldown, the daily amount and count limits, and the hourly
// limit; it then classifies the tier, and the allowlist turns any
// action except confirm-code into auto.
func (p *PolicyEngine) Evaluate(toAddress string, amount Koinu, spendableBalance Koinu) (Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.cfg.Enabled {
		return Decision{Tier: classifyTier(amount, p.cfg.Thresholds, spendableBalance), Action: ActionAuto, Reason: "policy disabled"}, nil
	}
	if p.frozen {
		return Decision{}, NewErr(ErrPolicyDenied, "wallet is frozen", nil)
	}
	if p.cfg.DenyAddresses[toAddress] {
		return Decision{}, NewErr(ErrPolicyDenied, "destination address is denylisted", nil)
	}

	now := p.clk.Now()
	p.pruneLocked(now)

	if len(p.spends) > 0 {
		last := p.spends[len(p.spends)-1].Timestamp
		if now.Sub(last) < time.Duration(p.cfg.Velocity.CooldownSeconds)*time.Second {
			return Decision{}, NewErr(ErrRateLimited, "spend cooldown in effect", nil)
		}
	}

	dailySum, dailyCount := p.sumTodayLocked()
	if dailySum+amount > p.cfg.Velocity.MaxDailyKoinu {
		return Decision{}, NewErr(ErrRateLimited, "daily spend limit exceeded", nil)
	}
	if dailyCount+1 > p.cfg.Velocity.TxCountDailyMax {
		return Decision{}, NewErr(ErrRateLimited, "daily send count limit exceeded", nil)
	}
	hourlySum, _ := p.sumSinceLocked(now, time.Hour)
	if hourlySum+amount > p.cfg.Velocity.MaxHourlyKoinu {
		return Decision{}, NewErr(ErrRateLimited, "hourly spend limit exceeded", nil)
	}

	tier := classifyTier(amount, p.cfg.Thresholds, spendableBalance)
	action := p.cfg.TierActions[tier]
	if action == "" {
		action = ActionApprove
	}

	if p.cfg.AllowAddresses[toAddress] && action != ActionConfirmCode {
		action = ActionAuto
	}

	return Decision{Tier: tier, Action: action, Reason: string(tier) + " tier"}, nil
}

// RecordSpend appends a completed/authorized spend to the velocity
// window. Call only after a send actually executes or is queued for
// guaranteed execution, not on mere evaluation.
func (p *PolicyEngine) RecordSpend(amount Koinu) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clk.Now()
	p.spends = append(p.spends, SpendRecord{AmountKoinu: amount, Timestamp: now})
	p.pruneLocked(now)
}
