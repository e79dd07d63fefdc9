package core

// alertstate.go — low-balance alert bookkeeping, supplementing the
// base design with the dismiss/snooze semantics a long-running
// unattended agent needs so it does not re-notify on every poll cycle
// once the owner has acknowledged a condition.

import (
	"encoding/json"
	"sync"
	"time"
)

const alertStateFile = "alert_state.json"

type AlertManager struct {
	mu    sync.Mutex
	fs    *SecureFS
	clk   Clock
	state AlertState
}

func NewAlertManager(fs *SecureFS, clk Clock) *AlertManager {
	m := &AlertManager{fs: fs, clk: clk}
	m.load()
	return m
}

func (m *AlertManager) load() {
	if !m.fs.Exists(alertStateFile) {
		return
	}
	raw, err := m.fs.ReadFile(alertStateFile)
	if err != nil {
		return
	}
	_ = json.Unmarshal(raw, &m.state)
}

func (m *AlertManager) persistLocked() error {
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return NewErr(ErrValidation, "marshal alert state", err)
	}
	return m.fs.WriteFileAtomic(alertStateFile, data)
}

// ShouldAlert reports whether a low-balance condition at currentBalance
// (below threshold) should produce a fresh notification: it must not
// be dismissed-at-or-below this balance and not currently snoozed. A
// balance at or above threshold clears any dismissal. LastAlertedBalance
// and LastNotifiedAt are recorded by RecordAlerted but not consulted here.
func (m *AlertManager) ShouldAlert(currentBalance, threshold Koinu) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if currentBalance >= threshold {
		if m.state.Dismissed {
			m.state.Dismissed = false
			_ = m.persistLocked()
		}
		return false
	}
	now := m.clk.Now()
	if m.state.SnoozedUntil != nil && now.Before(*m.state.SnoozedUntil) {
		return false
	}
	if m.state.Dismissed && currentBalance >= m.state.DismissedAtThreshold {
		return false
	}
	return true
}

// RecordAlerted updates bookkeeping after a notification is actually
// sent.
func (m *AlertManager) RecordAlerted(balance Koinu) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.state.LastAlertedBalance = balance
	m.state.LastNotifiedAt = &now
	m.state.Dismissed = false
	return m.persistLocked()
}

// Dismiss marks the current low-balance condition acknowledged until
// the balance drops further below threshold.
func (m *AlertManager) Dismiss(threshold Koinu) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Dismissed = true
	m.state.DismissedAtThreshold = threshold
	return m.persistLocked()
}

// Snooze suppresses alerts until the given duration elapses.
func (m *AlertManager) Snooze(until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.SnoozedUntil = &until
	return m.persistLocked()
}
