package core

import "time"

// Koinu is the integer on-chain base unit. 1 DOGE = 1e8 Koinu. All
// internal monetary arithmetic uses Koinu; DOGE is a presentation-only
// float used at the process boundary (CLI flags, HTTP JSON).
type Koinu int64

const KoinuPerDoge Koinu = 100_000_000

// DogeToKoinu rounds to the nearest koinu. Property P6 requires
// dogeToKoinu(koinuToDoge(k)) == k for 0 <= k <= 2^53/10.
func DogeToKoinu(doge float64) Koinu {
	return Koinu(roundHalfAwayFromZero(doge * float64(KoinuPerDoge)))
}

func KoinuToDoge(k Koinu) float64 {
	return float64(k) / float64(KoinuPerDoge)
}

func roundHalfAwayFromZero(f float64) float64 {
	if f >= 0 {
		return float64(int64(f + 0.5))
	}
	return float64(int64(f - 0.5))
}

// Network selects address prefixes, derivation, and confirmation
// thresholds.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// OutPoint identifies a UTXO by (txid, vout).
type OutPoint struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// UTXO is an unspent output tracked for the wallet's single receiving
// address.
type UTXO struct {
	OutPoint
	Address       string `json:"address"`
	Amount        Koinu  `json:"amount"`
	ScriptPubKey  string `json:"scriptPubKey"`
	Confirmations int64  `json:"confirmations"`
	BlockHeight   int64  `json:"blockHeight"`
	Locked        bool   `json:"locked"`
	LockedFor     string `json:"lockedFor,omitempty"`
	LockedAt      *time.Time `json:"lockedAt,omitempty"`
}

// Balance reports confirmed and unconfirmed totals, both excluding
// locked UTXOs per spec section 4.2.
type Balance struct {
	ConfirmedKoinu   Koinu `json:"confirmedKoinu"`
	UnconfirmedKoinu Koinu `json:"unconfirmedKoinu"`
}

// ApprovalAction is the policy-decided disposition of a send request.
type ApprovalAction string

const (
	ActionAuto        ApprovalAction = "auto"
	ActionNotify      ApprovalAction = "notify"
	ActionDelay       ApprovalAction = "delay"
	ActionApprove     ApprovalAction = "approve"
	ActionConfirmCode ApprovalAction = "confirm-code"
	ActionDeny        ApprovalAction = "deny"
)

// ApprovalStatus is the lifecycle state of a PendingApproval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalExecuted ApprovalStatus = "executed"
)

// PendingApproval is a send awaiting owner decision or timed
// resolution, per spec section 3.
type PendingApproval struct {
	ID           string         `json:"id"`
	To           string         `json:"to"`
	AmountKoinu  Koinu          `json:"amountKoinu"`
	AmountDoge   float64        `json:"amountDoge"`
	Tier         string         `json:"tier"`
	Action       ApprovalAction `json:"action"`
	Reason       string         `json:"reason"`
	CreatedAt    time.Time      `json:"createdAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
	AutoAction   ApprovalAction `json:"autoAction"`
	Status       ApprovalStatus `json:"status"`
	ResolvedBy   string         `json:"resolvedBy,omitempty"`
	ResolvedAt   *time.Time     `json:"resolvedAt,omitempty"`
}

// SpendRecord belongs to the UTC day it was recorded on.
type SpendRecord struct {
	AmountKoinu Koinu     `json:"amountKoinu"`
	Timestamp   time.Time `json:"timestamp"`
}

// TrackedStatus is the confirmation-tracking lifecycle of a broadcast
// transaction.
type TrackedStatus string

const (
	TrackPending    TrackedStatus = "pending"
	TrackConfirming TrackedStatus = "confirming"
	TrackConfirmed  TrackedStatus = "confirmed"
	TrackFailed     TrackedStatus = "failed"
	TrackUnverified TrackedStatus = "unverified"
)

// TrackedTxMeta carries the details needed to re-derive audit context
// and resolve spent inputs without holding a reference back into the
// tx pipeline.
type TrackedTxMeta struct {
	To          string     `json:"to"`
	AmountKoinu Koinu      `json:"amountKoinu"`
	FeeKoinu    Koinu      `json:"feeKoinu"`
	Outpoints   []OutPoint `json:"outpoints,omitempty"`
}

// TrackedTransaction is a broadcast transaction under confirmation
// tracking, per spec section 3/4.3.
type TrackedTransaction struct {
	Txid            string        `json:"txid"`
	IntentID        string        `json:"intentId"`
	Status          TrackedStatus `json:"status"`
	Confirmations   int64         `json:"confirmations"`
	StartedAt       time.Time     `json:"startedAt"`
	LastCheckedAt   time.Time     `json:"lastCheckedAt"`
	PollFailures    int           `json:"pollFailures"`
	APIErrors       int           `json:"apiErrors"`
	NextPollInterval time.Duration `json:"nextPollInterval"`
	Metadata        TrackedTxMeta `json:"metadata"`

	notified bool // internal: whether OnTerminal has already fired for this tx
}

// InvoiceStatus is the settlement lifecycle of an A2A invoice.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceExpired   InvoiceStatus = "expired"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

type InvoicePayee struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Operator string `json:"operator,omitempty"`
}

type InvoicePayment struct {
	AmountDoge  float64 `json:"amountDoge"`
	Description string  `json:"description"`
	Reference   string  `json:"reference,omitempty"`
}

type InvoiceCallback struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// Invoice is an agent-to-agent payment request.
type Invoice struct {
	InvoiceID string                 `json:"invoiceId"`
	CreatedAt time.Time              `json:"createdAt"`
	ExpiresAt time.Time              `json:"expiresAt"`
	Status    InvoiceStatus          `json:"status"`
	Payee     InvoicePayee           `json:"payee"`
	Payment   InvoicePayment         `json:"payment"`
	Callback  *InvoiceCallback       `json:"callback,omitempty"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
	PaidAt    *time.Time             `json:"paidAt,omitempty"`
	Txid      string                 `json:"txid,omitempty"`
}

// AuditAction enumerates the append-only audit event kinds.
type AuditAction string

const (
	AuditSend             AuditAction = "send"
	AuditReceive          AuditAction = "receive"
	AuditApprove          AuditAction = "approve"
	AuditDeny             AuditAction = "deny"
	AuditFreeze           AuditAction = "freeze"
	AuditUnfreeze         AuditAction = "unfreeze"
	AuditInvoiceCreated   AuditAction = "invoice_created"
	AuditInvoicePaid      AuditAction = "invoice_paid"
	AuditAddressGenerated AuditAction = "address_generated"
	AuditPolicyCheck      AuditAction = "policy_check"
	AuditPreflightCheck   AuditAction = "preflight_check"
	AuditError            AuditAction = "error"
)

// InitiatedBy identifies who caused an audited event.
type InitiatedBy string

const (
	InitiatedOwner    InitiatedBy = "owner"
	InitiatedAgent    InitiatedBy = "agent"
	InitiatedSystem   InitiatedBy = "system"
	InitiatedExternal InitiatedBy = "external"
)

// AuditEntry is a single append-only event, per spec section 3/4.8.
type AuditEntry struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Action      AuditAction       `json:"action"`
	Txid        string            `json:"txid,omitempty"`
	AmountKoinu *Koinu            `json:"amountKoinu,omitempty"`
	Address     string            `json:"address,omitempty"`
	FeeKoinu    *Koinu            `json:"feeKoinu,omitempty"`
	Tier        string            `json:"tier,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	InitiatedBy InitiatedBy       `json:"initiatedBy"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Hash        string            `json:"hash,omitempty"`
}

// AlertState is the low-balance alert bookkeeping contract from spec
// section 3, supplemented with operations in alertstate.go.
type AlertState struct {
	Dismissed             bool       `json:"dismissed"`
	SnoozedUntil          *time.Time `json:"snoozedUntil,omitempty"`
	LastAlertedBalance    Koinu      `json:"lastAlertedBalance"`
	DismissedAtThreshold  Koinu      `json:"dismissedAtThreshold"`
	LastNotifiedAt        *time.Time `json:"lastNotifiedAt,omitempty"`
}
