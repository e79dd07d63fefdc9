package core

// preflight.go — pre-send sanity checks run before a transaction is
// built, supplementing the base pipeline with the kind of guard an
// autonomous agent needs since there is no human watching the amount
// field before it is submitted.

import "context"

// PreflightResult reports non-fatal warnings alongside a pass/fail
// verdict; callers can choose to surface warnings without blocking.
type PreflightResult struct {
	OK       bool
	Warnings []string
	Reason   string
}

// PreflightCheck validates a proposed send before any coins are
// locked: destination address parses for the configured network, the
// amount is positive and not dust, and the amount does not exceed the
// spendable balance. A send of exactly the whole spendable balance
// passes with a warning.
func PreflightCheck(ctx context.Context, toAddress string, amount Koinu, net Network, spendableBalance Koinu) PreflightResult {
	if amount <= 0 {
		return PreflightResult{OK: false, Reason: "amount must be positive"}
	}
	if amount < DustThreshold {
		return PreflightResult{OK: false, Reason: "amount below dust threshold"}
	}
	if _, err := DecodeAddress(toAddress, net); err != nil {
		return PreflightResult{OK: false, Reason: "invalid destination address"}
	}
	if amount > spendableBalance {
		return PreflightResult{OK: false, Reason: "amount exceeds spendable balance"}
	}

	warnings := make([]string, 0)
	if spendableBalance > 0 && amount == spendableBalance {
		warnings = append(warnings, "this send sweeps the entire spendable balance")
	}
	return PreflightResult{OK: true, Warnings: warnings}
}
