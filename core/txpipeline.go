package core

// txpipeline.go — transaction build, sign, broadcast, and confirmation
// tracking pipeline: wire.MsgTx construction and fee/dust math, plus
// polling-based confirmation tracking for broadcast transactions.

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
)

// feePerByteDefault is used when no network fee estimate is available.
const feePerByteDefault Koinu = 1000 // koinu/byte, conservative legacy-tx rate

// estimateTxSize approximates the serialized size of a P2PKH
// transaction with the given input/output counts, enough precision
// for fee estimation without fully building the transaction first.
func estimateTxSize(numInputs, numOutputs int) int64 {
	const overhead = 10
	const inputSize = 148 // outpoint + sigscript + sequence, legacy P2PKH
	const outputSize = 34
	return int64(overhead + numInputs*inputSize + numOutputs*outputSize)
}

// EstimateFee returns the fee for a transaction with the given shape
// at feeRateKoinuPerByte, falling back to feePerByteDefault at zero.
func EstimateFee(numInputs, numOutputs int, feeRateKoinuPerByte Koinu) Koinu {
	rate := feeRateKoinuPerByte
	if rate <= 0 {
		rate = feePerByteDefault
	}
	return Koinu(estimateTxSize(numInputs, numOutputs)) * rate
}

// BuiltTx is an unsigned transaction plus the metadata needed to sign
// and account for it.
type BuiltTx struct {
	Tx         *wire.MsgTx
	Inputs     []UTXO
	FeeKoinu   Koinu
	ChangeKoinu Koinu
}

// computeFeeAndChange picks the fee for a transaction spending
// numInputs inputs totaling total koinu and paying amount to a single
// recipient: it first assumes a change output will exist, then drops
// it (and re-estimates with one fewer output) if the resulting change
// would be dust. SelectAndLock and BuildTransaction both call this, so
// the fee a caller locked coins against always matches the fee
// BuildTransaction reports. When dust change is dropped, that amount
// goes to miners on top of the returned fee.
func computeFeeAndChange(numInputs int, amount, total, feeRateKoinuPerByte Koinu) (fee, change Koinu, err error) {
	fee = EstimateFee(numInputs, 2, feeRateKoinuPerByte)
	change = total - amount - fee
	if change < DustThreshold {
		fee = EstimateFee(numInputs, 1, feeRateKoinuPerByte)
		change = total - amount - fee
		if change < 0 {
			return 0, 0, NewErr(ErrInsufficientFunds, "selected inputs do not cover amount+fee", nil)
		}
		change = 0
	}
	return fee, change, nil
}

// BuildTransaction assembles a P2PKH-to-P2PKH transaction spending
// inputs, paying amount to toAddress, and returning any change above
// dust to changeAddress. Inputs must already total >= amount+fee
// (the caller selects them via UTXOStore.SelectAndLock first).
func BuildTransaction(inputs []UTXO, toAddress string, amount Koinu, changeAddress string, feeRateKoinuPerByte Koinu, net Network) (*BuiltTx, error) {
	if len(inputs) == 0 {
		return nil, NewErr(ErrValidation, "no inputs provided", nil)
	}
	if amount <= 0 {
		return nil, NewErr(ErrValidation, "amount must be positive", nil)
	}

	var total Koinu
	for _, u := range inputs {
		total += u.Amount
	}

	fee, change, err := computeFeeAndChange(len(inputs), amount, total, feeRateKoinuPerByte)
	if err != nil {
		return nil, err
	}
	numOutputs := 2
	if change == 0 {
		numOutputs = 1
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range inputs {
		hash, err := chainhash.NewHashFromStr(u.Txid)
		if err != nil {
			return nil, NewErr(ErrValidation, "invalid txid "+u.Txid, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}

	toScript, err := PayToAddrScript(toAddress, net)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(int64(amount), toScript))

	changeKoinu := Koinu(0)
	if numOutputs == 2 {
		changeScript, err := PayToAddrScript(changeAddress, net)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
		changeKoinu = change
	}

	return &BuiltTx{Tx: tx, Inputs: inputs, FeeKoinu: fee, ChangeKoinu: changeKoinu}, nil
}

// SignTransaction signs every input of built.Tx in place using the
// keystore's private key at (account, index) — a single-address
// wallet reuses the same key for every input since all UTXOs belong
// to the one receiving address.
func SignTransaction(built *BuiltTx, keystore *Keystore, account, index uint32, net Network) error {
	for i, u := range built.Inputs {
		subscript, err := PayToAddrScript(u.Address, net)
		if err != nil {
			return err
		}
		idx := i
		signErr := keystore.WithPrivateKey(account, index, func(privBytes []byte) error {
			priv, _ := btcec.PrivKeyFromBytes(privBytes)
			defer priv.Zero()
			sigScript, err := txscript.SignatureScript(built.Tx, idx, subscript, txscript.SigHashAll, priv, true)
			if err != nil {
				return NewErr(ErrValidation, fmt.Sprintf("sign input %d", idx), err)
			}
			built.Tx.TxIn[idx].SignatureScript = sigScript
			return nil
		})
		if signErr != nil {
			return signErr
		}
	}
	return nil
}

// SerializeTx hex-encodes the signed transaction for broadcast.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", NewErr(ErrValidation, "serialize transaction", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// SendIntent is a single executeSend attempt, identified so concurrent
// callers never double-lock the same coins and so a crash mid-send can
// be recovered deterministically.
type SendIntent struct {
	ID            string
	ToAddress     string
	AmountKoinu   Koinu
	ChangeAddress string
}

// maxPollFailures is the real-not-found count (pollFailures) at which
// a tracked transaction is declared failed, per spec section 4.3.
const maxPollFailures = 30

// trackerMaxAge is the age at which a still-pending/confirming
// transaction is forced to a terminal state, classified by whichever
// of pollFailures/apiErrors dominates.
const trackerMaxAge = 24 * time.Hour

// TxTracker polls providers for confirmation status on broadcast
// transactions with adaptive backoff, distinguishing a genuinely
// unconfirmed/unknown tx (pollFailures) from an API-degraded answer
// (apiErrors) per spec section 4.3, so a rate-limited provider is
// never mistaken for a double-spent or dropped transaction.
type TxTracker struct {
	mu      sync.Mutex
	clk     Clock
	client  *ChainClient
	log     *logrus.Logger
	tracked map[string]*TrackedTransaction

	confirmedThreshold int64
	baselineInterval   time.Duration
	maxPollInterval    time.Duration

	// FallbackVerify is consulted when the primary providers report a
	// real not-found, before the miss counts against pollFailures. Nil
	// disables the fallback probe.
	FallbackVerify func(ctx context.Context, txid string) (found bool, confirmations int64, err error)

	// OnTerminal fires at most once per txid, the instant it reaches
	// confirmed, failed, or unverified, so the orchestrator can release
	// or finalize the UTXOs locked under this transaction's intent
	// without the tracker holding a reference back into the UTXO store.
	OnTerminal func(tt TrackedTransaction)
}

func NewTxTracker(client *ChainClient, clk Clock, log *logrus.Logger) *TxTracker {
	return &TxTracker{
		clk:                clk,
		client:             client,
		log:                log,
		tracked:            make(map[string]*TrackedTransaction),
		confirmedThreshold: 6,
		baselineInterval:   120 * time.Second,
		maxPollInterval:    10 * time.Minute,
	}
}

// Track registers txid for confirmation polling.
func (t *TxTracker) Track(txid, intentID string, meta TrackedTxMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	t.tracked[txid] = &TrackedTransaction{
		Txid:             txid,
		IntentID:         intentID,
		Status:           TrackPending,
		StartedAt:        now,
		LastCheckedAt:    now,
		NextPollInterval: t.baselineInterval,
		Metadata:         meta,
	}
}

// Get returns the current tracked state for txid, if any.
func (t *TxTracker) Get(txid string) (TrackedTransaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tt, ok := t.tracked[txid]
	if !ok {
		return TrackedTransaction{}, false
	}
	return *tt, true
}

// PollDue polls every non-terminal tracked transaction whose
// NextPollInterval has elapsed since LastCheckedAt, doubling the
// interval (capped at maxPollInterval) on a degraded or not-found
// result and resetting it to baselineInterval on any successful
// confirmation read.
func (t *TxTracker) PollDue(ctx context.Context) {
	t.mu.Lock()
	now := t.clk.Now()
	due := make([]*TrackedTransaction, 0)
	for _, tt := range t.tracked {
		if isTerminal(tt.Status) {
			continue
		}
		if now.Sub(tt.LastCheckedAt) >= tt.NextPollInterval {
			due = append(due, tt)
		}
	}
	t.mu.Unlock()

	for _, tt := range due {
		t.pollOne(ctx, tt)
	}
}

func isTerminal(s TrackedStatus) bool {
	return s == TrackConfirmed || s == TrackFailed || s == TrackUnverified
}

// pollOne classifies the poll result into exactly one of three buckets
// — confirmed progress, API-degraded, or real not-found — per spec
// section 4.3, then applies the terminal rules (pollFailures >= 30,
// or age > 24h broken down by which counter dominates) before
// notifying OnTerminal at most once.
func (t *TxTracker) pollOne(ctx context.Context, tt *TrackedTransaction) {
	status, err := t.client.GetTransaction(ctx, tt.Txid)

	t.mu.Lock()
	defer func() {
		terminal := isTerminal(tt.Status)
		notify := terminal && !tt.notified
		if notify {
			tt.notified = true
		}
		snapshot := *tt
		t.mu.Unlock()
		if notify && t.OnTerminal != nil {
			t.OnTerminal(snapshot)
		}
	}()

	tt.LastCheckedAt = t.clk.Now()

	if err != nil && isDegradedErr(err) {
		tt.APIErrors++
		tt.NextPollInterval = growInterval(tt.NextPollInterval, t.maxPollInterval)
		if t.log != nil {
			t.log.WithError(err).WithField("txid", tt.Txid).Debug("confirmation poll degraded, backing off")
		}
		t.applyAgeTerminal(tt)
		return
	}

	found := err == nil && status != nil && status.Found
	if !found {
		// Real not-found (either a clean negative answer or every
		// provider exhausted on a not-found classification): probe the
		// fallback verifier before this counts against pollFailures.
		if t.FallbackVerify != nil {
			fbFound, fbConfirmations, fbErr := t.FallbackVerify(ctx, tt.Txid)
			if fbErr == nil && fbFound {
				tt.Confirmations = fbConfirmations
				tt.PollFailures = 0
				t.advanceConfirmationLocked(tt)
				return
			}
		}
		tt.PollFailures++
		tt.NextPollInterval = growInterval(tt.NextPollInterval, t.maxPollInterval)
		t.applyAgeTerminal(tt)
		if tt.PollFailures >= maxPollFailures {
			tt.Status = TrackFailed
		}
		return
	}

	tt.Confirmations = status.Confirmations
	tt.PollFailures = 0
	tt.APIErrors = 0
	t.advanceConfirmationLocked(tt)
}

// advanceConfirmationLocked applies the pending->confirming->confirmed
// transitions from the latest observed confirmation count. Caller
// holds t.mu.
func (t *TxTracker) advanceConfirmationLocked(tt *TrackedTransaction) {
	switch {
	case tt.Confirmations >= t.confirmedThreshold:
		tt.Status = TrackConfirmed
	case tt.Confirmations > 0:
		tt.Status = TrackConfirming
		tt.NextPollInterval = t.baselineInterval
	default:
		tt.Status = TrackPending
		tt.NextPollInterval = t.baselineInterval
	}
}

// applyAgeTerminal forces a terminal classification once a
// non-terminal tracked transaction has aged past trackerMaxAge,
// choosing failed or unverified by whichever counter dominates, per
// spec section 4.3. Caller holds t.mu.
func (t *TxTracker) applyAgeTerminal(tt *TrackedTransaction) {
	if isTerminal(tt.Status) {
		return
	}
	if t.clk.Now().Sub(tt.StartedAt) <= trackerMaxAge {
		return
	}
	if tt.PollFailures >= tt.APIErrors {
		tt.Status = TrackFailed
	} else {
		tt.Status = TrackUnverified
	}
}

// isDegradedErr reports whether err represents an API-degraded
// condition (rate limit, 5xx, network/timeout, or every provider
// unavailable) as opposed to an authoritative not-found/rejected
// answer.
func isDegradedErr(err error) bool {
	if pe, ok := err.(*ProviderError); ok {
		return pe.Kind == ProviderErrDegraded
	}
	if kind, ok := KindOf(err); ok {
		return kind == ErrProviderUnavail || kind == ErrRateLimited
	}
	return true
}

func growInterval(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}
