package core

// utxo.go — UTXO state machine: refresh from a provider snapshot,
// balance accounting, atomic select-and-lock coin selection, and spend
// marking.

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const utxoStateFile = "utxo_state.json"

// DustThreshold is the minimum koinu amount considered economical to
// spend; UTXOs below it are deprioritized by selection and flagged by
// SuggestConsolidation.
const DustThreshold Koinu = 100000 // 0.001 DOGE

// UTXOStore tracks the wallet's unspent outputs for its single
// receiving address. All mutation goes through a single store-wide
// mutex, held across select+lock so two concurrent send attempts can
// never choose overlapping inputs (property P2).
type UTXOStore struct {
	mu  sync.Mutex
	fs  *SecureFS
	clk Clock
	log *logrus.Logger

	byOutpoint map[OutPoint]*UTXO
}

func NewUTXOStore(fs *SecureFS, clk Clock, log *logrus.Logger) *UTXOStore {
	s := &UTXOStore{
		fs:         fs,
		clk:        clk,
		log:        log,
		byOutpoint: make(map[OutPoint]*UTXO),
	}
	s.load()
	return s
}

func (s *UTXOStore) load() {
	if !s.fs.Exists(utxoStateFile) {
		return
	}
	raw, err := s.fs.ReadFile(utxoStateFile)
	if err != nil {
		return
	}
	var list []*UTXO
	if err := json.Unmarshal(raw, &list); err != nil {
		if s.log != nil {
			s.log.WithError(err).Warn("utxo state file corrupt, starting empty")
		}
		return
	}
	for _, u := range list {
		s.byOutpoint[u.OutPoint] = u
	}
}

// persistLocked writes the current UTXO set. Caller must hold s.mu.
func (s *UTXOStore) persistLocked() error {
	list := make([]*UTXO, 0, len(s.byOutpoint))
	for _, u := range s.byOutpoint {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Txid != list[j].Txid {
			return list[i].Txid < list[j].Txid
		}
		return list[i].Vout < list[j].Vout
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return NewErr(ErrValidation, "marshal utxo state", err)
	}
	return s.fs.WriteFileAtomic(utxoStateFile, data)
}

// Refresh reconciles the store against a fresh provider snapshot:
// new outputs are added unlocked, outputs no longer present (spent
// elsewhere, reorged out) are removed unless currently locked for an
// in-flight send, and confirmation counts are updated in place.
func (s *UTXOStore) Refresh(snapshot []UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[OutPoint]bool, len(snapshot))
	for i := range snapshot {
		u := snapshot[i]
		seen[u.OutPoint] = true
		if existing, ok := s.byOutpoint[u.OutPoint]; ok {
			existing.Confirmations = u.Confirmations
			existing.BlockHeight = u.BlockHeight
			continue
		}
		cp := u
		s.byOutpoint[u.OutPoint] = &cp
	}
	for op, existing := range s.byOutpoint {
		if seen[op] {
			continue
		}
		if existing.Locked {
			// in-flight send; leave it for the pipeline to resolve
			continue
		}
		delete(s.byOutpoint, op)
	}
	return s.persistLocked()
}

// GetBalance sums confirmed and unconfirmed amounts, excluding locked
// UTXOs from both per spec section 4.2.
func (s *UTXOStore) GetBalance(minConfirmations int64) Balance {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bal Balance
	for _, u := range s.byOutpoint {
		if u.Locked {
			continue
		}
		if u.Confirmations >= minConfirmations {
			bal.ConfirmedKoinu += u.Amount
		} else {
			bal.UnconfirmedKoinu += u.Amount
		}
	}
	return bal
}

// SpendableUTXOs returns unlocked UTXOs meeting the confirmation floor,
// sorted largest-first.
func (s *UTXOStore) SpendableUTXOs(minConfirmations int64) []UTXO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spendableLocked(minConfirmations)
}

func (s *UTXOStore) spendableLocked(minConfirmations int64) []UTXO {
	out := make([]UTXO, 0, len(s.byOutpoint))
	for _, u := range s.byOutpoint {
		if u.Locked || u.Confirmations < minConfirmations {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].OutPoint.Txid < out[j].OutPoint.Txid
	})
	return out
}

// SelectionResult is the outcome of SelectAndLock: the chosen inputs
// plus the fee and change that go with spending exactly that input
// count, so a caller never has to re-derive a fee estimate that might
// disagree with what was actually locked.
type SelectionResult struct {
	Inputs      []UTXO
	TotalKoinu  Koinu
	FeeKoinu    Koinu
	ChangeKoinu Koinu
	Strategy    string
}

// SelectAndLock atomically chooses inputs covering amount plus the fee
// that set of inputs will actually incur at feeRateKoinuPerByte, and
// locks them under lockedFor so no other caller can select the same
// coins until UnlockFor/MarkSpent resolves them. Tries an exact-match
// (single or combination) first to avoid creating a change output,
// then branch-and-bound for a close-without-going-under match, falling
// back to largest-first greedy selection. The fee is computed against
// the actual number of inputs chosen by whichever strategy succeeds,
// using the same estimator BuildTransaction uses, so a target needing
// more inputs than a naive fixed-count guess still locks enough to
// cover its real fee.
func (s *UTXOStore) SelectAndLock(amount, feeRateKoinuPerByte Koinu, lockedFor string, minConfirmations int64) (*SelectionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.spendableLocked(minConfirmations)
	if len(candidates) == 0 {
		return nil, NewErr(ErrInsufficientFunds, "no spendable utxos", nil)
	}

	chosen, strategy, ok := selectExactMatch(candidates, amount, feeRateKoinuPerByte)
	if !ok {
		chosen, strategy, ok = selectBranchAndBound(candidates, amount, feeRateKoinuPerByte)
	}
	if !ok {
		chosen, strategy, ok = selectLargestFirst(candidates, amount, feeRateKoinuPerByte)
	}
	if !ok {
		return nil, NewErr(ErrInsufficientFunds, "insufficient confirmed balance", nil)
	}

	var total Koinu
	for _, u := range chosen {
		total += u.Amount
	}
	fee, change, err := computeFeeAndChange(len(chosen), amount, total, feeRateKoinuPerByte)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	for _, u := range chosen {
		entry := s.byOutpoint[u.OutPoint]
		entry.Locked = true
		entry.LockedFor = lockedFor
		entry.LockedAt = &now
	}
	if err := s.persistLocked(); err != nil {
		// roll back the locks so a persistence failure never leaves
		// coins stuck
		for _, u := range chosen {
			entry := s.byOutpoint[u.OutPoint]
			entry.Locked = false
			entry.LockedFor = ""
			entry.LockedAt = nil
		}
		return nil, err
	}
	return &SelectionResult{Inputs: chosen, TotalKoinu: total, FeeKoinu: fee, ChangeKoinu: change, Strategy: strategy}, nil
}

func selectExactMatch(candidates []UTXO, amount, feeRate Koinu) ([]UTXO, string, bool) {
	target1 := amount + EstimateFee(1, 1, feeRate)
	for _, u := range candidates {
		if u.Amount == target1 {
			return []UTXO{u}, "exact-single", true
		}
	}
	target2 := amount + EstimateFee(2, 1, feeRate)
	// small combinations only; this is an optimization, not exhaustive
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			sum := candidates[i].Amount + candidates[j].Amount
			if sum == target2 {
				return []UTXO{candidates[i], candidates[j]}, "exact-pair", true
			}
			if sum < target2 {
				break // candidates are largest-first, so later pairs with i only shrink
			}
		}
	}
	return nil, "", false
}

// selectBranchAndBound searches combinations (bounded to the first 20
// candidates to keep this deterministic and fast) for a total within
// [target, target+dustThreshold) of a single-output send, where target
// accounts for the fee of the exact number of inputs on the candidate
// path, avoiding a change output entirely.
func selectBranchAndBound(candidates []UTXO, amount, feeRate Koinu) ([]UTXO, string, bool) {
	n := len(candidates)
	if n > 20 {
		n = 20
	}
	best := []UTXO(nil)
	bestWaste := Koinu(-1)

	var selected []UTXO
	var search func(i int, sum Koinu)
	search = func(i int, sum Koinu) {
		target := amount + EstimateFee(len(selected), 1, feeRate)
		if len(selected) > 0 && sum >= target {
			waste := sum - target
			if waste < DustThreshold && (bestWaste < 0 || waste < bestWaste) {
				bestWaste = waste
				best = append([]UTXO(nil), selected...)
			}
			return
		}
		if i >= n {
			return
		}
		selected = append(selected, candidates[i])
		search(i+1, sum+candidates[i].Amount)
		selected = selected[:len(selected)-1]
		search(i+1, sum)
	}
	search(0, 0)

	if best == nil {
		return nil, "", false
	}
	return best, "branch-and-bound", true
}

func selectLargestFirst(candidates []UTXO, amount, feeRate Koinu) ([]UTXO, string, bool) {
	var chosen []UTXO
	var sum Koinu
	for _, u := range candidates {
		chosen = append(chosen, u)
		sum += u.Amount
		target := amount + EstimateFee(len(chosen), 2, feeRate)
		if sum >= target {
			return chosen, "largest-first", true
		}
	}
	return nil, "", false
}

// UnlockFor releases every UTXO locked under lockedFor, used when a
// send attempt aborts before broadcast.
func (s *UTXOStore) UnlockFor(lockedFor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, u := range s.byOutpoint {
		if u.Locked && u.LockedFor == lockedFor {
			u.Locked = false
			u.LockedFor = ""
			u.LockedAt = nil
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked()
}

// MarkSpent removes the given outpoints from the set entirely, called
// once a broadcast is confirmed to have consumed them.
func (s *UTXOStore) MarkSpent(outpoints []OutPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range outpoints {
		delete(s.byOutpoint, op)
	}
	return s.persistLocked()
}

// AddUTXO inserts a single new unlocked output without waiting for the
// next full Refresh cycle; the orchestrator uses it to add a send's
// change output right after broadcast.
func (s *UTXOStore) AddUTXO(u UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOutpoint[u.OutPoint]; exists {
		return nil
	}
	cp := u
	s.byOutpoint[u.OutPoint] = &cp
	return s.persistLocked()
}

// SweepStaleLocks releases locks older than maxAge, a safety net for
// send attempts that crashed between SelectAndLock and UnlockFor/
// MarkSpent.
func (s *UTXOStore) SweepStaleLocks(maxAge time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	changed := false
	for _, u := range s.byOutpoint {
		if u.Locked && u.LockedAt != nil && now.Sub(*u.LockedAt) > maxAge {
			u.Locked = false
			u.LockedFor = ""
			u.LockedAt = nil
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked()
}

// SuggestConsolidation reports whether the wallet holds enough small
// (sub-dust-threshold-adjacent) UTXOs that a consolidation transaction
// would be worthwhile, supplementing the base coin-selection design
// with the kind of housekeeping hint a long-running custodial wallet
// needs to avoid accumulating unspendable dust.
func (s *UTXOStore) SuggestConsolidation(maxInputs int) (shouldConsolidate bool, candidateCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, u := range s.byOutpoint {
		if !u.Locked && u.Amount < DustThreshold*10 {
			count++
		}
	}
	if count > maxInputs {
		count = maxInputs
	}
	return count >= 10, count
}
