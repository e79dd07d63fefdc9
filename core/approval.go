package core

// approval.go — persistent owner-approval queue for sends the policy
// engine routes to delay/approve/confirm-code (auto and notify sends
// execute immediately and are not queued). Records are
// keyed and mutable (not an append-only log), so an approval's status
// can be updated in place as the owner resolves it or it times out.

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const approvalsFile = "approvals.json"

// SystemAutoIdentity is the ResolvedBy value recorded when a pending
// approval auto-resolves on timeout rather than through an
// owner-authenticated Approve/Deny call.
const SystemAutoIdentity = "system:auto"

// ApprovalQueue holds PendingApproval records keyed by ID, persisted
// to disk so restarts do not lose in-flight approvals.
type ApprovalQueue struct {
	mu  sync.Mutex
	fs  *SecureFS
	clk Clock
	log *logrus.Logger

	byID map[string]*PendingApproval
}

func NewApprovalQueue(fs *SecureFS, clk Clock, log *logrus.Logger) *ApprovalQueue {
	q := &ApprovalQueue{fs: fs, clk: clk, log: log, byID: make(map[string]*PendingApproval)}
	q.load()
	return q
}

func (q *ApprovalQueue) load() {
	if !q.fs.Exists(approvalsFile) {
		return
	}
	raw, err := q.fs.ReadFile(approvalsFile)
	if err != nil {
		return
	}
	var list []*PendingApproval
	if err := json.Unmarshal(raw, &list); err != nil {
		if q.log != nil {
			q.log.WithError(err).Warn("approvals file corrupt, starting empty")
		}
		return
	}
	for _, a := range list {
		q.byID[a.ID] = a
	}
}

func (q *ApprovalQueue) persistLocked() error {
	list := make([]*PendingApproval, 0, len(q.byID))
	for _, a := range q.byID {
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return NewErr(ErrValidation, "marshal approvals", err)
	}
	return q.fs.WriteFileAtomic(approvalsFile, data)
}

// Enqueue creates a new pending approval with the given auto-resolve
// timeout and disposition.
func (q *ApprovalQueue) Enqueue(to string, amount Koinu, tier string, action ApprovalAction, reason string, timeout time.Duration, autoAction ApprovalAction) (*PendingApproval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	approval := &PendingApproval{
		ID:          uuid.NewString(),
		To:          to,
		AmountKoinu: amount,
		AmountDoge:  KoinuToDoge(amount),
		Tier:        tier,
		Action:      action,
		Reason:      reason,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
		AutoAction:  autoAction,
		Status:      ApprovalPending,
	}
	q.byID[approval.ID] = approval
	if err := q.persistLocked(); err != nil {
		delete(q.byID, approval.ID)
		return nil, err
	}
	return approval, nil
}

func (q *ApprovalQueue) Get(id string) (*PendingApproval, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.byID[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// ListPending returns all approvals still awaiting resolution.
func (q *ApprovalQueue) ListPending() []PendingApproval {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingApproval, 0)
	for _, a := range q.byID {
		if a.Status == ApprovalPending {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// resolveLocked transitions a pending approval to a terminal status.
// Caller must hold q.mu.
func (q *ApprovalQueue) resolveLocked(id string, status ApprovalStatus, resolvedBy string) (*PendingApproval, error) {
	a, ok := q.byID[id]
	if !ok {
		return nil, NewErr(ErrValidation, "unknown approval id "+id, nil)
	}
	if a.Status != ApprovalPending {
		return nil, NewErr(ErrValidation, "approval already resolved: "+string(a.Status), nil)
	}
	now := q.clk.Now()
	a.Status = status
	a.ResolvedBy = resolvedBy
	a.ResolvedAt = &now
	if err := q.persistLocked(); err != nil {
		return nil, err
	}
	cp := *a
	return &cp, nil
}

// Approve requires an owner-authenticated caller; the caller is
// responsible for verifying resolvedBy against the configured owner
// identity before calling this (property P5: only the authenticated
// owner can approve).
func (q *ApprovalQueue) Approve(id, resolvedBy string) (*PendingApproval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolveLocked(id, ApprovalApproved, resolvedBy)
}

func (q *ApprovalQueue) Deny(id, resolvedBy string) (*PendingApproval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.resolveLocked(id, ApprovalDenied, resolvedBy)
}

// MarkExecuted transitions an approved request to executed once the
// send actually broadcasts.
func (q *ApprovalQueue) MarkExecuted(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.byID[id]
	if !ok {
		return NewErr(ErrValidation, "unknown approval id "+id, nil)
	}
	if a.Status != ApprovalApproved {
		return NewErr(ErrValidation, "approval not in approved state: "+string(a.Status), nil)
	}
	a.Status = ApprovalExecuted
	return q.persistLocked()
}

// ExpireDue auto-resolves every pending approval whose ExpiresAt has
// passed, applying its configured AutoAction (approve or deny),
// returning the resolved records so the orchestrator can act on them
// (e.g. actually executing an auto-approved send).
func (q *ApprovalQueue) ExpireDue() ([]PendingApproval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clk.Now()
	resolved := make([]PendingApproval, 0)
	changed := false
	for _, a := range q.byID {
		if a.Status != ApprovalPending || now.Before(a.ExpiresAt) {
			continue
		}
		status := ApprovalExpired
		if a.AutoAction == ActionApprove {
			status = ApprovalApproved
		} else if a.AutoAction == ActionDeny {
			status = ApprovalDenied
		}
		a.Status = status
		a.ResolvedBy = SystemAutoIdentity
		a.ResolvedAt = &now
		resolved = append(resolved, *a)
		changed = true
	}
	if changed {
		if err := q.persistLocked(); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}
