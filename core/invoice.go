package core

// invoice.go — agent-to-agent invoice engine: create/persist/expire
// invoices and verify OP_RETURN payment proofs. A per-invoice mutex
// ensures two concurrent verification calls for the same invoice can
// never both win the pending-to-paid transition (property P4).

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const invoicesFile = "invoices.json"

// paymentProofPrefix is the OP_RETURN payload convention: an invoice
// is considered paid when a transaction output to the payee address
// is accompanied by an OP_RETURN output exactly equal to this prefix
// plus the invoice ID.
const paymentProofPrefix = "OC:"

type InvoiceEngine struct {
	mu  sync.Mutex
	fs  *SecureFS
	clk Clock
	log *logrus.Logger

	client *ChainClient
	net    Network

	byID    map[string]*Invoice
	locks   map[string]*sync.Mutex // per-invoice verification lock
	locksMu sync.Mutex
}

func NewInvoiceEngine(fs *SecureFS, clk Clock, log *logrus.Logger, client *ChainClient, net Network) *InvoiceEngine {
	e := &InvoiceEngine{
		fs:     fs,
		clk:    clk,
		log:    log,
		client: client,
		net:    net,
		byID:   make(map[string]*Invoice),
		locks:  make(map[string]*sync.Mutex),
	}
	e.load()
	return e
}

func (e *InvoiceEngine) load() {
	if !e.fs.Exists(invoicesFile) {
		return
	}
	raw, err := e.fs.ReadFile(invoicesFile)
	if err != nil {
		return
	}
	var list []*Invoice
	if err := json.Unmarshal(raw, &list); err != nil {
		if e.log != nil {
			e.log.WithError(err).Warn("invoices file corrupt, starting empty")
		}
		return
	}
	for _, inv := range list {
		e.byID[inv.InvoiceID] = inv
	}
}

func (e *InvoiceEngine) persistLocked() error {
	list := make([]*Invoice, 0, len(e.byID))
	for _, inv := range e.byID {
		list = append(list, inv)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return NewErr(ErrValidation, "marshal invoices", err)
	}
	return e.fs.WriteFileAtomic(invoicesFile, data)
}

func (e *InvoiceEngine) lockFor(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// CreateInvoice generates a new invoice with a UUID ID and persists
// it.
func (e *InvoiceEngine) CreateInvoice(payee InvoicePayee, payment InvoicePayment, callback *InvoiceCallback, metadata map[string]string, ttl time.Duration) (*Invoice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	inv := &Invoice{
		InvoiceID: uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    InvoicePending,
		Payee:     payee,
		Payment:   payment,
		Callback:  callback,
		Metadata:  metadata,
	}
	e.byID[inv.InvoiceID] = inv
	if err := e.persistLocked(); err != nil {
		delete(e.byID, inv.InvoiceID)
		return nil, err
	}
	cp := *inv
	return &cp, nil
}

func (e *InvoiceEngine) Get(id string) (*Invoice, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inv, ok := e.byID[id]
	if !ok {
		return nil, false
	}
	cp := *inv
	return &cp, true
}

// PaymentVerification is the structured result of VerifyPayment: a
// caller-facing judgment on one specific txid against one invoice,
// never an address-wide scan.
type PaymentVerification struct {
	Valid               bool   `json:"valid"`
	Reason              string `json:"reason,omitempty"`
	Confirmations       int64  `json:"confirmations"`
	AmountReceivedKoinu Koinu  `json:"amountReceived"`
	AmountExpectedKoinu Koinu  `json:"amountExpected"`
	OpReturnMatch       bool   `json:"opReturnMatch"`
}

const (
	reasonInvoiceNotPending = "INVOICE_NOT_PENDING"
	reasonTxNotFound        = "TX_NOT_FOUND"
	reasonInsufficientConfs = "INSUFFICIENT_CONFIRMATIONS"
	reasonAmountMismatch    = "AMOUNT_MISMATCH"
	reasonProofMissing      = "PROOF_MISSING"
)

// VerifyPayment checks txid against the invoice's payee address and
// OP_RETURN payment-proof convention, marking the invoice paid exactly
// once when claimedAmount and the on-chain outputs agree. The
// per-invoice lock is held across the on-chain verification call
// intentionally, so two concurrent verification requests for the same
// invoice serialize rather than race: the second call observes the
// already-resolved status and returns INVOICE_NOT_PENDING rather than
// re-settling it.
func (e *InvoiceEngine) VerifyPayment(ctx context.Context, invoiceID, txid string, claimedAmount Koinu) (*PaymentVerification, error) {
	lock := e.lockFor(invoiceID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	inv, ok := e.byID[invoiceID]
	if !ok {
		e.mu.Unlock()
		return nil, NewErr(ErrValidation, "unknown invoice "+invoiceID, nil)
	}
	expectedAmount := DogeToKoinu(inv.Payment.AmountDoge)
	now := e.clk.Now()
	if inv.Status == InvoicePending && now.After(inv.ExpiresAt) {
		inv.Status = InvoiceExpired
		if err := e.persistLocked(); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	if inv.Status != InvoicePending {
		e.mu.Unlock()
		return &PaymentVerification{Valid: false, Reason: reasonInvoiceNotPending, AmountExpectedKoinu: expectedAmount}, nil
	}
	address := inv.Payee.Address
	expectedProof := []byte(paymentProofPrefix + invoiceID)
	e.mu.Unlock()

	txs, err := e.client.GetTransactions(ctx, address, 50)
	if err != nil {
		return nil, err
	}
	var matched *ProviderTx
	for i := range txs {
		if txs[i].Txid == txid {
			matched = &txs[i]
			break
		}
	}
	if matched == nil {
		return &PaymentVerification{Valid: false, Reason: reasonTxNotFound, AmountExpectedKoinu: expectedAmount}, nil
	}

	amountReceived := paymentAmountTo(*matched, address)
	opReturnMatch := scriptContainsProof(*matched, expectedProof)
	result := &PaymentVerification{
		Confirmations:       matched.Confirmations,
		AmountReceivedKoinu: amountReceived,
		AmountExpectedKoinu: expectedAmount,
		OpReturnMatch:       opReturnMatch,
	}

	minConf := PaymentMinConfirmations(e.net)
	switch {
	case matched.Confirmations < minConf:
		result.Reason = reasonInsufficientConfs
		return result, nil
	case !opReturnMatch:
		result.Reason = reasonProofMissing
		return result, nil
	case amountReceived < expectedAmount || (claimedAmount > 0 && claimedAmount != amountReceived):
		result.Reason = reasonAmountMismatch
		return result, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if inv.Status != InvoicePending {
		result.Valid = false
		result.Reason = reasonInvoiceNotPending
		return result, nil
	}
	paidAt := e.clk.Now()
	inv.Status = InvoicePaid
	inv.Txid = matched.Txid
	inv.PaidAt = &paidAt
	if err := e.persistLocked(); err != nil {
		return nil, err
	}
	result.Valid = true
	return result, nil
}

// paymentAmountTo sums outputs of tx paid to address.
func paymentAmountTo(tx ProviderTx, address string) Koinu {
	var total Koinu
	for _, out := range tx.Outputs {
		if out.Address == address {
			total += out.Amount
		}
	}
	return total
}

// scriptContainsProof reports whether tx carries an OP_RETURN output
// matching proof.
func scriptContainsProof(tx ProviderTx, proof []byte) bool {
	for _, out := range tx.Outputs {
		if scriptContainsOpReturnData(out.ScriptPubKey, proof) {
			return true
		}
	}
	return false
}

// scriptContainsOpReturnData reports whether scriptHex is an OP_RETURN
// script with a single data push exactly equal to the given bytes.
func scriptContainsOpReturnData(scriptHex string, data []byte) bool {
	raw, err := hex.DecodeString(scriptHex)
	if err != nil || len(raw) < 2 || raw[0] != txscript.OP_RETURN {
		return false
	}
	var payload []byte
	switch op := raw[1]; {
	case op >= txscript.OP_DATA_1 && op <= txscript.OP_DATA_75:
		payload = raw[2:]
		if len(payload) != int(op) {
			return false
		}
	case op == txscript.OP_PUSHDATA1 && len(raw) >= 3:
		payload = raw[3:]
		if len(payload) != int(raw[2]) {
			return false
		}
	default:
		return false
	}
	return bytes.Equal(payload, data)
}

// CleanupExpired transitions every pending invoice past its ExpiresAt
// to expired, returning the transitioned set.
func (e *InvoiceEngine) CleanupExpired() ([]Invoice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	expired := make([]Invoice, 0)
	changed := false
	for _, inv := range e.byID {
		if inv.Status == InvoicePending && now.After(inv.ExpiresAt) {
			inv.Status = InvoiceExpired
			expired = append(expired, *inv)
			changed = true
		}
	}
	if changed {
		if err := e.persistLocked(); err != nil {
			return nil, err
		}
	}
	return expired, nil
}
