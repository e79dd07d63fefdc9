package core

// receive.go — polling receive monitor that watches the wallet's one
// address for new deposits, feeding both the UTXO store and the audit
// log.

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReceiveEvent is delivered to subscribers when a new deposit is first
// observed.
type ReceiveEvent struct {
	Txid        string
	Vout        uint32
	AmountKoinu Koinu
	ObservedAt  time.Time
}

// ReceiveMonitor polls the chain client for new outputs to the
// wallet's address, deduplicating against the audit log so a deposit
// is never double-recorded across restarts (property P10).
type ReceiveMonitor struct {
	mu       sync.Mutex
	client   *ChainClient
	utxos    *UTXOStore
	audit    *AuditLog
	clk      Clock
	log      *logrus.Logger
	address  string
	interval time.Duration

	subscribers []func(ReceiveEvent)
}

func NewReceiveMonitor(client *ChainClient, utxos *UTXOStore, audit *AuditLog, clk Clock, log *logrus.Logger, address string, interval time.Duration) *ReceiveMonitor {
	return &ReceiveMonitor{
		client:   client,
		utxos:    utxos,
		audit:    audit,
		clk:      clk,
		log:      log,
		address:  address,
		interval: interval,
	}
}

// Subscribe registers a callback fired for every newly-observed
// deposit, in the order they're discovered.
func (m *ReceiveMonitor) Subscribe(fn func(ReceiveEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// PollOnce fetches the current UTXO snapshot for the wallet address,
// refreshes the UTXO store, records an audit entry and fires
// subscribers for any output whose txid has not previously been
// audited as a receive.
func (m *ReceiveMonitor) PollOnce(ctx context.Context) error {
	snapshot, err := m.client.GetUTXOs(ctx, m.address)
	if err != nil {
		return err
	}

	newEvents := make([]ReceiveEvent, 0)
	for _, u := range snapshot {
		if m.audit.HasSeenReceive(u.Txid) {
			continue
		}
		newEvents = append(newEvents, ReceiveEvent{
			Txid:        u.Txid,
			Vout:        u.Vout,
			AmountKoinu: u.Amount,
			ObservedAt:  m.clk.Now(),
		})
	}

	if err := m.utxos.Refresh(snapshot); err != nil {
		return err
	}

	for _, ev := range newEvents {
		amt := ev.AmountKoinu
		_, err := m.audit.Append(AuditEntry{
			Action:      AuditReceive,
			Txid:        ev.Txid,
			AmountKoinu: &amt,
			Address:     m.address,
			InitiatedBy: InitiatedExternal,
		})
		if err != nil {
			if m.log != nil {
				m.log.WithError(err).WithField("txid", ev.Txid).Warn("failed to record receive audit entry")
			}
			continue
		}
		m.mu.Lock()
		subs := append([]func(ReceiveEvent){}, m.subscribers...)
		m.mu.Unlock()
		for _, sub := range subs {
			sub(ev)
		}
	}
	return nil
}

// Run polls at the configured interval until ctx is cancelled.
func (m *ReceiveMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.PollOnce(ctx); err != nil && m.log != nil {
				m.log.WithError(err).Warn("receive poll failed")
			}
		}
	}
}
