package core

import (
	"context"
	"testing"
	"time"
)

// fakeTxProvider answers GetTransaction with scripted results queued
// by the test; every other capability is unused by TxTracker tests.
type fakeTxProvider struct {
	name  string
	queue []func() (*ProviderTxStatus, error)
	calls int
}

func (f *fakeTxProvider) Name() string { return f.name }

func (f *fakeTxProvider) GetBalance(ctx context.Context, address string) (Balance, error) {
	return Balance{}, nil
}

func (f *fakeTxProvider) GetUTXOs(ctx context.Context, address string) ([]UTXO, error) {
	return nil, nil
}

func (f *fakeTxProvider) GetTransaction(ctx context.Context, txid string) (*ProviderTxStatus, error) {
	if f.calls >= len(f.queue) {
		return nil, NewProviderError(f.name, ProviderErrDegraded, errStatic("no more scripted responses"))
	}
	fn := f.queue[f.calls]
	f.calls++
	return fn()
}

func (f *fakeTxProvider) GetTransactions(ctx context.Context, address string, limit int) ([]ProviderTx, error) {
	return nil, nil
}

func (f *fakeTxProvider) BroadcastTx(ctx context.Context, rawTxHex string) (string, error) {
	return "", nil
}

func (f *fakeTxProvider) GetNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	return NetworkInfo{}, nil
}

type errStatic string

func (e errStatic) Error() string { return string(e) }

func newTestTracker(provider ChainProvider, clk Clock) *TxTracker {
	client := NewChainClient([]ChainProvider{provider}, clk, nil)
	return NewTxTracker(client, clk, nil)
}

func TestTrackerConfirmsAtSixConfirmations(t *testing.T) {
	p := &fakeTxProvider{name: "p1", queue: []func() (*ProviderTxStatus, error){
		func() (*ProviderTxStatus, error) { return &ProviderTxStatus{Found: true, Confirmations: 1}, nil },
		func() (*ProviderTxStatus, error) { return &ProviderTxStatus{Found: true, Confirmations: 6}, nil },
	}}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := newTestTracker(p, clk)
	tr.Track("tx1", "intent-1", TrackedTxMeta{})

	clk.Advance(2 * time.Minute) // first poll is due one baseline interval after Track
	tr.PollDue(context.Background())
	if got, _ := tr.Get("tx1"); got.Status != TrackConfirming {
		t.Fatalf("expected confirming after 1 confirmation, got %s", got.Status)
	}

	clk.Advance(3 * time.Minute)
	tr.PollDue(context.Background())
	if got, _ := tr.Get("tx1"); got.Status != TrackConfirmed {
		t.Fatalf("expected confirmed after 6 confirmations, got %s", got.Status)
	}
}

func TestTrackerAPIDegradationDoesNotFalseFail(t *testing.T) {
	queue := make([]func() (*ProviderTxStatus, error), 30)
	for i := range queue {
		queue[i] = func() (*ProviderTxStatus, error) {
			return nil, NewProviderError("p1", ProviderErrDegraded, errStatic("rate limited"))
		}
	}
	p := &fakeTxProvider{name: "p1", queue: queue}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := newTestTracker(p, clk)
	tr.Track("tx1", "intent-1", TrackedTxMeta{})

	for i := 0; i < 30; i++ {
		clk.Advance(10 * time.Minute) // the backoff cap, so every iteration polls
		tr.PollDue(context.Background())
	}

	got, _ := tr.Get("tx1")
	if got.Status == TrackFailed {
		t.Fatalf("expected degraded API errors to never classify as failed, got %s", got.Status)
	}
	if got.PollFailures != 0 {
		t.Fatalf("expected pollFailures to stay 0 on API-degraded responses, got %d", got.PollFailures)
	}
	if got.APIErrors == 0 {
		t.Fatal("expected apiErrors to accumulate")
	}

	// one successful poll resets both counters
	p.queue = append(p.queue, func() (*ProviderTxStatus, error) {
		return &ProviderTxStatus{Found: true, Confirmations: 1}, nil
	})
	clk.Advance(10 * time.Minute)
	tr.PollDue(context.Background())
	got, _ = tr.Get("tx1")
	if got.APIErrors != 0 || got.PollFailures != 0 {
		t.Fatalf("expected counters to reset after a successful poll, got apiErrors=%d pollFailures=%d", got.APIErrors, got.PollFailures)
	}
}

func TestTrackerFailsAfterMaxPollFailures(t *testing.T) {
	queue := make([]func() (*ProviderTxStatus, error), maxPollFailures)
	for i := range queue {
		queue[i] = func() (*ProviderTxStatus, error) { return &ProviderTxStatus{Found: false}, nil }
	}
	p := &fakeTxProvider{name: "p1", queue: queue}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := newTestTracker(p, clk)

	var terminal *TrackedTransaction
	tr.OnTerminal = func(tt TrackedTransaction) { terminal = &tt }
	tr.Track("tx1", "intent-1", TrackedTxMeta{Outpoints: []OutPoint{{Txid: "a", Vout: 0}}})

	for i := 0; i < maxPollFailures; i++ {
		clk.Advance(10 * time.Minute) // the backoff cap, so every iteration polls
		tr.PollDue(context.Background())
	}

	got, _ := tr.Get("tx1")
	if got.Status != TrackFailed {
		t.Fatalf("expected failed after %d real not-found polls, got %s", maxPollFailures, got.Status)
	}
	if terminal == nil || terminal.Txid != "tx1" {
		t.Fatal("expected OnTerminal to fire exactly once for the failed transaction")
	}
}

func TestTrackerUnverifiedAfterAgeDominatedByAPIErrors(t *testing.T) {
	queue := make([]func() (*ProviderTxStatus, error), 0, 20)
	for i := 0; i < 20; i++ {
		queue = append(queue, func() (*ProviderTxStatus, error) {
			return nil, NewProviderError("p1", ProviderErrDegraded, errStatic("rate limited"))
		})
	}
	p := &fakeTxProvider{name: "p1", queue: queue}
	clk := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	tr := newTestTracker(p, clk)
	tr.Track("tx1", "intent-1", TrackedTxMeta{})

	for i := 0; i < 20; i++ {
		clk.Advance(90 * time.Minute) // ~30h total, past the 24h terminal age
		tr.PollDue(context.Background())
	}

	got, _ := tr.Get("tx1")
	if got.Status != TrackUnverified {
		t.Fatalf("expected unverified once API errors dominate past 24h, got %s", got.Status)
	}
}
