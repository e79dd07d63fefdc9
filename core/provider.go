package core

// provider.go — narrow chain-client provider contract shared by every
// backend adapter: balance, UTXO, and transaction lookups plus
// broadcast, kept small so new backends are cheap to add.

import "context"

// NetworkInfo reports basic chain-tip information used for
// confirmation math and fee estimation.
type NetworkInfo struct {
	Height      int64   `json:"height"`
	FeeRateKoinu Koinu  `json:"feeRateKoinuPerByte"`
}

// ChainProvider is the capability set every backend (BlockCypher,
// SoChain, Blockchair, ...) must implement. Kept intentionally narrow
// per spec section 4.4 so new backends are cheap to add and failover
// never depends on provider-specific behavior.
type ChainProvider interface {
	Name() string
	GetBalance(ctx context.Context, address string) (Balance, error)
	GetUTXOs(ctx context.Context, address string) ([]UTXO, error)
	GetTransaction(ctx context.Context, txid string) (*ProviderTxStatus, error)
	GetTransactions(ctx context.Context, address string, limit int) ([]ProviderTx, error)
	BroadcastTx(ctx context.Context, rawTxHex string) (txid string, err error)
	GetNetworkInfo(ctx context.Context) (NetworkInfo, error)
}

// ProviderTxStatus is the normalized confirmation view returned by
// GetTransaction, independent of each backend's own JSON shape.
type ProviderTxStatus struct {
	Txid          string
	Confirmations int64
	BlockHeight   int64
	Found         bool
}

// ProviderTx is a normalized entry from a by-address transaction
// history lookup, used by the invoice engine to find payment outputs
// and OP_RETURN proofs.
type ProviderTx struct {
	Txid          string
	Confirmations int64
	Outputs       []ProviderTxOutput
}

type ProviderTxOutput struct {
	Address      string
	ScriptPubKey string
	Amount       Koinu
	Vout         uint32
}

// ProviderErrKind distinguishes an API-degraded condition (rate limit,
// 5xx, timeout — worth retrying/falling back) from a real on-chain
// negative (transaction genuinely not found, address genuinely empty),
// so the tx pipeline never mistakes the former for the latter.
type ProviderErrKind string

const (
	ProviderErrDegraded ProviderErrKind = "degraded"
	ProviderErrNotFound ProviderErrKind = "not_found"
	ProviderErrRejected ProviderErrKind = "rejected"
)

type ProviderError struct {
	Provider string
	Kind     ProviderErrKind
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider string, kind ProviderErrKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}
