package core

import (
	"errors"
	"fmt"
)

// ErrKind is a tagged error classification. Callers branch on Kind via
// errors.As, never on error string content, per the error taxonomy in
// spec section 7.
type ErrKind string

const (
	ErrNotInitialized     ErrKind = "NotInitialized"
	ErrAlreadyInitialized ErrKind = "AlreadyInitialized"
	ErrInvalidMnemonic    ErrKind = "InvalidMnemonic"
	ErrInvalidPassphrase  ErrKind = "InvalidPassphrase"
	ErrWalletLocked       ErrKind = "WalletLocked"
	ErrInsufficientFunds  ErrKind = "InsufficientFunds"
	ErrDoubleSpend        ErrKind = "DoubleSpend"
	ErrFeeTooLow          ErrKind = "FeeTooLow"
	ErrFeeExceedsLimit    ErrKind = "FeeExceedsLimit"
	ErrBroadcastFailed    ErrKind = "BroadcastFailed"
	ErrProviderError      ErrKind = "ProviderError"
	ErrProviderUnavail    ErrKind = "ProviderUnavailable"
	ErrRateLimit          ErrKind = "RateLimit"
	ErrPolicyDenied       ErrKind = "PolicyDenied"
	ErrUnauthorized       ErrKind = "Unauthorized"
	ErrValidation         ErrKind = "ValidationError"
	ErrRateLimited        ErrKind = "RateLimited"
)

// WalletError is the single error type surfaced across component
// boundaries. Wrap carries the underlying cause without leaking it to
// end users — see securitygate.go's RedactError for the presentation
// layer.
type WalletError struct {
	Kind   ErrKind
	Reason string
	Err    error
}

func (e *WalletError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return string(e.Kind)
}

func (e *WalletError) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &WalletError{Kind: ErrX}) style checks by
// comparing only the Kind field.
func (e *WalletError) Is(target error) bool {
	var t *WalletError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// NewErr builds a WalletError with an optional reason and wrapped cause.
func NewErr(kind ErrKind, reason string, cause error) *WalletError {
	return &WalletError{Kind: kind, Reason: reason, Err: cause}
}

// KindOf extracts the ErrKind from err, if it is (or wraps) a WalletError.
func KindOf(err error) (ErrKind, bool) {
	var w *WalletError
	if errors.As(err, &w) {
		return w.Kind, true
	}
	return "", false
}
