package core

import (
	"testing"
	"time"
)

func newTestUTXOStore(t *testing.T) (*UTXOStore, *ManualClock) {
	t.Helper()
	fs, err := NewSecureFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewSecureFS: %v", err)
	}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewUTXOStore(fs, clk, nil), clk
}

func seedUTXOs(t *testing.T, s *UTXOStore, amounts ...Koinu) {
	t.Helper()
	snapshot := make([]UTXO, len(amounts))
	for i, amt := range amounts {
		snapshot[i] = UTXO{
			OutPoint:      OutPoint{Txid: string(rune('a' + i)), Vout: 0},
			Address:       "nVTestAddr",
			Amount:        amt,
			Confirmations: 6,
		}
	}
	if err := s.Refresh(snapshot); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}

// testFeeRate is a fixed, small fee rate used across selection tests
// so expected fees are easy to compute with EstimateFee.
const testFeeRate Koinu = 1

func TestGetBalanceExcludesLocked(t *testing.T) {
	s, _ := newTestUTXOStore(t)
	seedUTXOs(t, s, DogeToKoinu(5), DogeToKoinu(3))

	if _, err := s.SelectAndLock(DogeToKoinu(4), testFeeRate, "lock-a", 1); err != nil {
		t.Fatalf("SelectAndLock: %v", err)
	}

	bal := s.GetBalance(1)
	if bal.ConfirmedKoinu != DogeToKoinu(3) {
		t.Fatalf("expected locked utxo excluded from balance, got %d koinu", bal.ConfirmedKoinu)
	}
}

// TestSelectAndLockNoOverlap exercises property P1 (no overspend) /
// P2 (unique spend): two concurrent selections targeting more than the
// total balance must never both succeed against the same coins.
func TestSelectAndLockNoOverlap(t *testing.T) {
	s, _ := newTestUTXOStore(t)
	seedUTXOs(t, s, DogeToKoinu(5))

	first, err := s.SelectAndLock(DogeToKoinu(4), testFeeRate, "lock-a", 1)
	if err != nil {
		t.Fatalf("first SelectAndLock: %v", err)
	}
	if len(first.Inputs) != 1 {
		t.Fatalf("expected single input selected, got %d", len(first.Inputs))
	}

	if _, err := s.SelectAndLock(DogeToKoinu(1), testFeeRate, "lock-b", 1); err == nil {
		t.Fatal("expected second selection against the same locked coin to fail")
	} else if kind, ok := KindOf(err); !ok || kind != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSelectAndLockExactMatchPreferred(t *testing.T) {
	s, _ := newTestUTXOStore(t)
	target := DogeToKoinu(5)
	exact := target + EstimateFee(1, 1, testFeeRate)
	seedUTXOs(t, s, DogeToKoinu(2), exact, DogeToKoinu(9))

	res, err := s.SelectAndLock(target, testFeeRate, "lock-a", 1)
	if err != nil {
		t.Fatalf("SelectAndLock: %v", err)
	}
	if res.Strategy != "exact-single" {
		t.Fatalf("expected exact-single strategy, got %s", res.Strategy)
	}
	if res.ChangeKoinu != 0 {
		t.Fatalf("expected no change output on an exact match, got %d", res.ChangeKoinu)
	}
}

func TestSelectAndLockFeeScalesWithInputCount(t *testing.T) {
	s, _ := newTestUTXOStore(t)
	// four small coins, none of which alone or in any pair/branch-and-
	// bound combination covers the target, forcing largest-first across
	// all four inputs and a fee computed for four inputs rather than a
	// hardcoded guess.
	small := DogeToKoinu(1)
	seedUTXOs(t, s, small, small, small, small)
	target := DogeToKoinu(3) + DogeToKoinu(1)/2

	res, err := s.SelectAndLock(target, testFeeRate, "lock-a", 1)
	if err != nil {
		t.Fatalf("SelectAndLock: %v", err)
	}
	if len(res.Inputs) != 4 {
		t.Fatalf("expected all four inputs needed, got %d", len(res.Inputs))
	}
	wantFee := EstimateFee(4, 2, testFeeRate)
	if res.FeeKoinu != wantFee && res.ChangeKoinu != 0 {
		// change might have collapsed to the single-output estimate;
		// either way the fee must reflect four inputs, not a fixed guess.
		wantFee = EstimateFee(4, 1, testFeeRate)
	}
	if res.FeeKoinu != wantFee {
		t.Fatalf("expected fee computed for %d inputs (%d), got %d", len(res.Inputs), wantFee, res.FeeKoinu)
	}
}

func TestUnlockForReleasesLocks(t *testing.T) {
	s, _ := newTestUTXOStore(t)
	seedUTXOs(t, s, DogeToKoinu(5))

	if _, err := s.SelectAndLock(DogeToKoinu(4), testFeeRate, "lock-a", 1); err != nil {
		t.Fatalf("SelectAndLock: %v", err)
	}
	if err := s.UnlockFor("lock-a"); err != nil {
		t.Fatalf("UnlockFor: %v", err)
	}

	bal := s.GetBalance(1)
	if bal.ConfirmedKoinu != DogeToKoinu(5) {
		t.Fatalf("expected unlocked balance restored, got %d", bal.ConfirmedKoinu)
	}
}

func TestMarkSpentRemovesUTXO(t *testing.T) {
	s, _ := newTestUTXOStore(t)
	seedUTXOs(t, s, DogeToKoinu(5))

	res, err := s.SelectAndLock(DogeToKoinu(4), testFeeRate, "lock-a", 1)
	if err != nil {
		t.Fatalf("SelectAndLock: %v", err)
	}
	outpoints := make([]OutPoint, len(res.Inputs))
	for i, u := range res.Inputs {
		outpoints[i] = u.OutPoint
	}
	if err := s.MarkSpent(outpoints); err != nil {
		t.Fatalf("MarkSpent: %v", err)
	}
	if len(s.SpendableUTXOs(0)) != 0 {
		t.Fatal("expected spent utxo removed from the store")
	}
}

func TestSweepStaleLocksReleasesOldLocks(t *testing.T) {
	s, clk := newTestUTXOStore(t)
	seedUTXOs(t, s, DogeToKoinu(5))

	if _, err := s.SelectAndLock(DogeToKoinu(4), testFeeRate, "lock-a", 1); err != nil {
		t.Fatalf("SelectAndLock: %v", err)
	}
	clk.Advance(2 * time.Hour)
	if err := s.SweepStaleLocks(time.Hour); err != nil {
		t.Fatalf("SweepStaleLocks: %v", err)
	}
	if s.GetBalance(1).ConfirmedKoinu != DogeToKoinu(5) {
		t.Fatal("expected stale lock swept and coin spendable again")
	}
}

func TestRefreshDropsUnlockedMissingUTXOs(t *testing.T) {
	s, _ := newTestUTXOStore(t)
	seedUTXOs(t, s, DogeToKoinu(1), DogeToKoinu(2))

	if err := s.Refresh([]UTXO{{
		OutPoint:      OutPoint{Txid: "a", Vout: 0},
		Amount:        DogeToKoinu(1),
		Confirmations: 6,
	}}); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(s.SpendableUTXOs(0)) != 1 {
		t.Fatal("expected the reorged-out utxo to be dropped")
	}
}
