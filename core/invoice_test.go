package core

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/txscript"
)

// fakeHistoryProvider answers GetTransactions with a fixed, scripted
// transaction history; every other capability is unused by invoice
// tests.
type fakeHistoryProvider struct {
	name string
	txs  []ProviderTx
}

func (f *fakeHistoryProvider) Name() string { return f.name }
func (f *fakeHistoryProvider) GetBalance(ctx context.Context, address string) (Balance, error) {
	return Balance{}, nil
}
func (f *fakeHistoryProvider) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	return nil, nil
}
func (f *fakeHistoryProvider) GetTransaction(ctx context.Context, txid string) (*ProviderTxStatus, error) {
	return nil, nil
}
func (f *fakeHistoryProvider) GetTransactions(ctx context.Context, address string, limit int) ([]ProviderTx, error) {
	return f.txs, nil
}
func (f *fakeHistoryProvider) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	return "", nil
}
func (f *fakeHistoryProvider) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	return NetworkInfo{}, nil
}

func opReturnScriptHex(t *testing.T, data []byte) string {
	t.Helper()
	script, err := txscript.NullDataScript(data)
	if err != nil {
		t.Fatalf("NullDataScript: %v", err)
	}
	return hex.EncodeToString(script)
}

func newTestInvoiceEngine(t *testing.T, net Network, txs []ProviderTx) (*InvoiceEngine, *ManualClock) {
	t.Helper()
	fs, err := NewSecureFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewSecureFS: %v", err)
	}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := NewChainClient([]ChainProvider{&fakeHistoryProvider{name: "p1", txs: txs}}, clk, nil)
	return NewInvoiceEngine(fs, clk, nil, client, net), clk
}

func TestVerifyPaymentSettlesOnMatchingProof(t *testing.T) {
	payee := InvoicePayee{Name: "agent-b", Address: "nVPayee"}
	payment := InvoicePayment{AmountDoge: 10}

	engine, _ := newTestInvoiceEngine(t, NetworkTestnet, nil)
	inv, err := engine.CreateInvoice(payee, payment, nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	proofScript := opReturnScriptHex(t, []byte(paymentProofPrefix+inv.InvoiceID))
	engine.client = NewChainClient([]ChainProvider{&fakeHistoryProvider{name: "p1", txs: []ProviderTx{
		{
			Txid:          "tx1",
			Confirmations: 1, // testnet minimum is 1
			Outputs: []ProviderTxOutput{
				{Address: "nVPayee", Amount: DogeToKoinu(10)},
				{ScriptPubKey: proofScript},
			},
		},
	}}}, engine.clk, nil)

	result, err := engine.VerifyPayment(context.Background(), inv.InvoiceID, "tx1", DogeToKoinu(10))
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got reason %q", result.Reason)
	}
	if !result.OpReturnMatch {
		t.Fatalf("expected OP_RETURN match")
	}

	resolved, ok := engine.Get(inv.InvoiceID)
	if !ok {
		t.Fatalf("invoice vanished")
	}
	if resolved.Status != InvoicePaid {
		t.Fatalf("expected paid, got %s", resolved.Status)
	}
	if resolved.Txid != "tx1" {
		t.Fatalf("expected matched txid recorded, got %q", resolved.Txid)
	}
}

func TestVerifyPaymentRejectsBelowMinConfirmations(t *testing.T) {
	payee := InvoicePayee{Name: "agent-b", Address: "nVPayee"}
	payment := InvoicePayment{AmountDoge: 10}

	fs, err := NewSecureFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewSecureFS: %v", err)
	}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	engine := NewInvoiceEngine(fs, clk, nil, nil, NetworkMainnet)
	inv, err := engine.CreateInvoice(payee, payment, nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	proofScript := opReturnScriptHex(t, []byte(paymentProofPrefix+inv.InvoiceID))
	engine.client = NewChainClient([]ChainProvider{&fakeHistoryProvider{name: "p1", txs: []ProviderTx{
		{
			Txid:          "tx1",
			Confirmations: 1, // below mainnet's minimum of 6
			Outputs: []ProviderTxOutput{
				{Address: "nVPayee", Amount: DogeToKoinu(10)},
				{ScriptPubKey: proofScript},
			},
		},
	}}}, clk, nil)

	result, err := engine.VerifyPayment(context.Background(), inv.InvoiceID, "tx1", DogeToKoinu(10))
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected payment under min confirmations to be invalid")
	}
	if result.Reason != reasonInsufficientConfs {
		t.Fatalf("expected %s, got %q", reasonInsufficientConfs, result.Reason)
	}

	resolved, ok := engine.Get(inv.InvoiceID)
	if !ok {
		t.Fatalf("invoice vanished")
	}
	if resolved.Status != InvoicePending {
		t.Fatalf("expected payment under min confirmations to leave invoice pending, got %s", resolved.Status)
	}
}

func TestVerifyPaymentIsReplayGuarded(t *testing.T) {
	payee := InvoicePayee{Name: "agent-b", Address: "nVPayee"}
	payment := InvoicePayment{AmountDoge: 10}
	engine, _ := newTestInvoiceEngine(t, NetworkTestnet, nil)
	inv, err := engine.CreateInvoice(payee, payment, nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	proofScript := opReturnScriptHex(t, []byte(paymentProofPrefix+inv.InvoiceID))
	engine.client = NewChainClient([]ChainProvider{&fakeHistoryProvider{name: "p1", txs: []ProviderTx{
		{Txid: "tx1", Confirmations: 1, Outputs: []ProviderTxOutput{
			{Address: "nVPayee", Amount: DogeToKoinu(10)},
			{ScriptPubKey: proofScript},
		}},
	}}}, engine.clk, nil)

	if result, err := engine.VerifyPayment(context.Background(), inv.InvoiceID, "tx1", DogeToKoinu(10)); err != nil {
		t.Fatalf("first VerifyPayment: %v", err)
	} else if !result.Valid {
		t.Fatalf("expected first VerifyPayment to settle, got reason %q", result.Reason)
	}

	// a second verification call for an already-settled invoice must
	// never re-evaluate the chain, even against a different txid
	engine.client = NewChainClient([]ChainProvider{&fakeHistoryProvider{name: "p1", txs: []ProviderTx{
		{Txid: "tx1", Confirmations: 1, Outputs: []ProviderTxOutput{
			{Address: "nVPayee", Amount: DogeToKoinu(10)},
			{ScriptPubKey: proofScript},
		}},
		{Txid: "tx2", Confirmations: 1, Outputs: []ProviderTxOutput{
			{Address: "nVPayee", Amount: DogeToKoinu(10)},
			{ScriptPubKey: proofScript},
		}},
	}}}, engine.clk, nil)

	result, err := engine.VerifyPayment(context.Background(), inv.InvoiceID, "tx2", DogeToKoinu(10))
	if err != nil {
		t.Fatalf("second VerifyPayment: %v", err)
	}
	if result.Valid || result.Reason != reasonInvoiceNotPending {
		t.Fatalf("expected second VerifyPayment to report %s, got valid=%v reason=%q", reasonInvoiceNotPending, result.Valid, result.Reason)
	}

	resolved, ok := engine.Get(inv.InvoiceID)
	if !ok {
		t.Fatalf("invoice vanished")
	}
	if resolved.Txid != "tx1" {
		t.Fatalf("expected the original settling txid to stick, got %q", resolved.Txid)
	}
}
