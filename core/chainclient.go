package core

// chainclient.go — multi-provider failover composite with a
// health/probation state machine: tries healthy providers first, then
// falls back to providers still in their unhealthy probation window.

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// providerHealth tracks consecutive-failure state for a single
// backend. A provider is marked unhealthy after failureThreshold
// consecutive failures and is tried only after every healthy provider
// until unhealthyDurationMs has elapsed, after which it is ranked as
// healthy again (probation).
type providerHealth struct {
	consecutiveFails int
	unhealthySince   *time.Time
}

// ChainClient routes calls across a ranked list of ChainProviders,
// retrying the next provider on failure and tracking health so a
// consistently failing backend stops being tried first on every request.
type ChainClient struct {
	mu        sync.Mutex
	providers []ChainProvider
	health    map[string]*providerHealth
	clk       Clock
	log       *logrus.Logger

	failureThreshold    int
	unhealthyDurationMs int64
}

func NewChainClient(providers []ChainProvider, clk Clock, log *logrus.Logger) *ChainClient {
	health := make(map[string]*providerHealth, len(providers))
	for _, p := range providers {
		health[p.Name()] = &providerHealth{}
	}
	return &ChainClient{
		providers:           providers,
		health:              health,
		clk:                 clk,
		log:                 log,
		failureThreshold:    3,
		unhealthyDurationMs: 5 * 60 * 1000,
	}
}

// availableProviders returns every provider in rank order, healthy
// ones first, with providers still inside their unhealthy probation
// window appended last rather than excluded, so a single degraded
// provider never surfaces a spurious failure when it could still have
// served as a last resort.
func (c *ChainClient) availableProviders() []ChainProvider {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clk.Now()
	healthy := make([]ChainProvider, 0, len(c.providers))
	unhealthy := make([]ChainProvider, 0, len(c.providers))
	for _, p := range c.providers {
		h := c.health[p.Name()]
		switch {
		case h.unhealthySince == nil:
			healthy = append(healthy, p)
		case now.Sub(*h.unhealthySince) >= time.Duration(c.unhealthyDurationMs)*time.Millisecond:
			healthy = append(healthy, p) // probation window elapsed: treat as healthy again
		default:
			unhealthy = append(unhealthy, p) // still unhealthy: try last
		}
	}
	return append(healthy, unhealthy...)
}

func (c *ChainClient) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.health[name]
	h.consecutiveFails = 0
	h.unhealthySince = nil
}

func (c *ChainClient) recordFailure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.health[name]
	h.consecutiveFails++
	if h.consecutiveFails >= c.failureThreshold && h.unhealthySince == nil {
		now := c.clk.Now()
		h.unhealthySince = &now
		if c.log != nil {
			c.log.WithField("provider", name).Warn("provider marked unhealthy")
		}
	}
}

// isRetryable reports whether a provider error should trigger failover
// to the next provider (degraded/infra) rather than be treated as an
// authoritative answer (not_found, rejected).
func isRetryable(err error) bool {
	pe, ok := err.(*ProviderError)
	if !ok {
		return true
	}
	return pe.Kind == ProviderErrDegraded
}

func (c *ChainClient) GetBalance(ctx context.Context, address string) (Balance, error) {
	var lastErr error
	for _, p := range c.availableProviders() {
		bal, err := p.GetBalance(ctx, address)
		if err == nil {
			c.recordSuccess(p.Name())
			return bal, nil
		}
		c.recordFailure(p.Name())
		lastErr = err
		if !isRetryable(err) {
			return Balance{}, err
		}
	}
	return Balance{}, NewErr(ErrProviderUnavail, "all providers failed", lastErr)
}

func (c *ChainClient) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var lastErr error
	for _, p := range c.availableProviders() {
		utxos, err := p.GetUTXOs(ctx, address)
		if err == nil {
			c.recordSuccess(p.Name())
			return utxos, nil
		}
		c.recordFailure(p.Name())
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, NewErr(ErrProviderUnavail, "all providers failed", lastErr)
}

// GetTransaction returns the authoritative answer from the first
// provider that definitively answers (found or genuinely not found);
// degraded responses fall through to the next provider so a brief API
// outage is never mistaken for "transaction does not exist".
func (c *ChainClient) GetTransaction(ctx context.Context, txid string) (*ProviderTxStatus, error) {
	var lastErr error
	for _, p := range c.availableProviders() {
		status, err := p.GetTransaction(ctx, txid)
		if err == nil {
			c.recordSuccess(p.Name())
			return status, nil
		}
		c.recordFailure(p.Name())
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, NewErr(ErrProviderUnavail, "all providers degraded", lastErr)
}

func (c *ChainClient) GetTransactions(ctx context.Context, address string, limit int) ([]ProviderTx, error) {
	var lastErr error
	for _, p := range c.availableProviders() {
		txs, err := p.GetTransactions(ctx, address, limit)
		if err == nil {
			c.recordSuccess(p.Name())
			return txs, nil
		}
		c.recordFailure(p.Name())
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}
	return nil, NewErr(ErrProviderUnavail, "all providers failed", lastErr)
}

// BroadcastTx tries every provider in order and returns the first
// success. Degraded providers fall through to the next one; the first
// provider that reports "rejected" ends the attempt, since the tx
// itself is malformed/double-spent and retrying further would not
// help. If any provider reports success, broadcast is considered complete even if
// earlier providers were degraded (idempotent: property P11 — a
// transaction accepted by one provider is never double-submitted by
// re-running the same intent).
func (c *ChainClient) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	var lastErr error
	for _, p := range c.availableProviders() {
		txid, err := p.BroadcastTx(ctx, rawTxHex)
		if err == nil {
			c.recordSuccess(p.Name())
			return txid, nil
		}
		c.recordFailure(p.Name())
		lastErr = err
		if !isRetryable(err) {
			return "", classifyRejection(err)
		}
	}
	return "", NewErr(ErrBroadcastFailed, "all providers failed to broadcast", lastErr)
}

// classifyRejection tags a mempool-rejected broadcast with the
// specific taxonomy variant the core branches on (spec section 7:
// "only the adapter-level code inspects wire strings; the core
// branches on variants"). This is the one seam where provider wire
// text is inspected, right at the chain-client boundary.
func classifyRejection(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "missingorspent") || strings.Contains(msg, "mempool-conflict") || strings.Contains(msg, "double spend") || strings.Contains(msg, "double-spend"):
		return NewErr(ErrDoubleSpend, "transaction conflicts with an already-spent input", err)
	case strings.Contains(msg, "min relay fee") || strings.Contains(msg, "fee too low") || strings.Contains(msg, "insufficient fee") || strings.Contains(msg, "feerate") && strings.Contains(msg, "low"):
		return NewErr(ErrFeeTooLow, "network rejected transaction for insufficient fee", err)
	default:
		return NewErr(ErrBroadcastFailed, "provider rejected transaction", err)
	}
}

func (c *ChainClient) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var lastErr error
	for _, p := range c.availableProviders() {
		info, err := p.GetNetworkInfo(ctx)
		if err == nil {
			c.recordSuccess(p.Name())
			return info, nil
		}
		c.recordFailure(p.Name())
		lastErr = err
	}
	return NetworkInfo{}, NewErr(ErrProviderUnavail, "all providers failed", lastErr)
}
