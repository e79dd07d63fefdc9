package core

// securitygate.go — input sanitization, SSRF-safe callback URL
// validation, error redaction, and a persisted per-operation rate
// limiter. Anything that compares owner-supplied secrets uses a
// constant-time comparison.

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
)

const maxDescriptionLen = 280
const maxReferenceLen = 128

// ValidateInvoiceRequest sanitizes the fields of an incoming A2A
// invoice request: bounded string lengths, an address that at least
// parses as base58check, and (if present) a callback URL that cannot
// be used to reach internal network ranges.
func ValidateInvoiceRequest(payee InvoicePayee, payment InvoicePayment, callback *InvoiceCallback) error {
	if payee.Address == "" {
		return NewErr(ErrValidation, "payee address is required", nil)
	}
	if _, _, err := base58.CheckDecode(payee.Address); err != nil {
		return NewErr(ErrValidation, "payee address is not valid base58check", nil)
	}
	if len(payment.Description) > maxDescriptionLen {
		return NewErr(ErrValidation, "description exceeds maximum length", nil)
	}
	if len(payment.Reference) > maxReferenceLen {
		return NewErr(ErrValidation, "reference exceeds maximum length", nil)
	}
	if payment.AmountDoge <= 0 {
		return NewErr(ErrValidation, "payment amount must be positive", nil)
	}
	if containsControlChars(payment.Description) || containsControlChars(payment.Reference) {
		return NewErr(ErrValidation, "field contains control characters", nil)
	}
	if callback != nil {
		if err := ValidateCallbackURL(callback.URL); err != nil {
			return err
		}
	}
	return nil
}

func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\t' {
			return true
		}
		if r == 0x7f {
			return true
		}
	}
	return false
}

// ValidateCallbackURL rejects callback URLs that could be used for
// SSRF against internal infrastructure: non-HTTPS schemes, literal
// loopback/link-local/private addresses, and the cloud metadata
// address.
func ValidateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return NewErr(ErrValidation, "invalid callback URL", err)
	}
	if u.Scheme != "https" {
		return NewErr(ErrValidation, "callback URL must use https", nil)
	}
	host := u.Hostname()
	if host == "" {
		return NewErr(ErrValidation, "callback URL missing host", nil)
	}
	if host == "metadata.google.internal" || host == "169.254.169.254" {
		return NewErr(ErrValidation, "callback URL targets a metadata endpoint", nil)
	}
	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return NewErr(ErrValidation, "callback URL targets a private or reserved address", nil)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified()
}

// ConstantTimeEquals compares owner-supplied secrets (confirm-code
// challenges, webhook tokens) without leaking timing information.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// RedactError returns a message safe to return across a process
// boundary (HTTP response, CLI output): it never echoes the wrapped
// cause, which may carry a provider API key or a raw HTTP response
// body.
func RedactError(err error) string {
	var werr *WalletError
	if errors.As(err, &werr) {
		if werr.Reason != "" {
			return string(werr.Kind) + ": " + werr.Reason
		}
		return string(werr.Kind)
	}
	return "internal error"
}

// rateLimitStateFile persists bucket state so a process restart does
// not reset an abuse window to zero.
const rateLimitStateFile = "ratelimit_state.json"

type bucketState struct {
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"lastRefill"`
}

// RateLimiter is a persisted token-bucket limiter keyed by operation
// name (e.g. "a2a:create-invoice", "a2a:verify"), one bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	fs      *SecureFS
	clk     Clock
	buckets map[string]*bucketState

	capacity   float64
	refillRate float64 // tokens per second
}

func NewRateLimiter(fs *SecureFS, clk Clock, capacity, refillRatePerSecond float64) *RateLimiter {
	r := &RateLimiter{
		fs:         fs,
		clk:        clk,
		buckets:    make(map[string]*bucketState),
		capacity:   capacity,
		refillRate: refillRatePerSecond,
	}
	r.load()
	return r
}

func (r *RateLimiter) load() {
	if !r.fs.Exists(rateLimitStateFile) {
		return
	}
	raw, err := r.fs.ReadFile(rateLimitStateFile)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, &r.buckets)
}

func (r *RateLimiter) persistLocked() error {
	data, err := json.MarshalIndent(r.buckets, "", "  ")
	if err != nil {
		return NewErr(ErrValidation, "marshal ratelimit state", err)
	}
	return r.fs.WriteFileAtomic(rateLimitStateFile, data)
}

// Allow consumes one token for key, refilling based on elapsed time
// since the bucket was last touched. Returns false if no token is
// available.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clk.Now()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucketState{Tokens: r.capacity, LastRefill: now}
		r.buckets[key] = b
	}
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed > 0 {
		b.Tokens += elapsed * r.refillRate
		if b.Tokens > r.capacity {
			b.Tokens = r.capacity
		}
		b.LastRefill = now
	}
	if b.Tokens < 1 {
		_ = r.persistLocked()
		return false
	}
	b.Tokens--
	_ = r.persistLocked()
	return true
}
