package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuditLog is the append-only record of every governed mutation. Records are
// immutable once appended; the log is never edited or compacted, making it
// suitable for a write-ahead-log-style backing store.
type AuditLog struct {
	mu      sync.RWMutex
	records []AuditRecord
}

// NewAuditLog constructs an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Load bulk-replaces the log contents, used to hydrate from a persistent
// store on startup.
func (l *AuditLog) Load(records []AuditRecord) {
	l.mu.Lock()
	l.records = append([]AuditRecord(nil), records...)
	l.mu.Unlock()
}

func (l *AuditLog) append(rec AuditRecord) {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
}

// Len returns the number of records in the log.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records returns up to limit records, most recent first. A non-positive
// limit returns the full log.
func (l *AuditLog) Records(limit int) []AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]AuditRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.records[i])
	}
	return out
}

// ForEntity returns all records for one entity in chronological order.
func (l *AuditLog) ForEntity(record RecordType, id string) []AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []AuditRecord
	for _, rec := range l.records {
		if rec.EntityType == record && rec.EntityID == id {
			out = append(out, rec)
		}
	}
	return out
}

// MutationGuard is consulted before a mutation may be staged. The interaction
// controller satisfies it; this is the single enforcement point preventing
// out-of-band mutation.
type MutationGuard interface {
	CanMutate() bool
}

// ErrMutationNotPermitted is returned when staging is attempted while the
// interaction state forbids mutation.
type ErrMutationNotPermitted struct {
	Mutation MutationType
}

func (e ErrMutationNotPermitted) Error() string {
	return fmt.Sprintf("mutation %s not permitted in current interaction state", e.Mutation)
}

// ConfirmGate enforces the two-phase mutation protocol: stage, then confirm
// or cancel. At most one mutation is staged at a time; staging over a pending
// mutation replaces it (last write wins) after invoking the replaced
// mutation's onCancel callback. Every confirm produces exactly one immutable
// audit record — if there is no audit record, the mutation never happened.
type ConfirmGate struct {
	log       *AuditLog
	guard     MutationGuard
	pending   *PendingMutation
	onConfirm func(AuditRecord)
	onCancel  func()
	nowFn     func() time.Time
	newID     func() string
}

// NewConfirmGate constructs a gate appending to log and consulting guard
// before staging. A nil guard permits all staging (the caller enforces the
// interaction policy elsewhere).
func NewConfirmGate(log *AuditLog, guard MutationGuard) *ConfirmGate {
	if log == nil {
		log = NewAuditLog()
	}
	return &ConfirmGate{
		log:   log,
		guard: guard,
		nowFn: func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Log returns the audit log the gate appends to.
func (g *ConfirmGate) Log() *AuditLog { return g.log }

// Pending returns a copy of the currently staged mutation, or nil.
func (g *ConfirmGate) Pending() *PendingMutation {
	if g.pending == nil {
		return nil
	}
	cp := *g.pending
	return &cp
}

// Stage records a pending mutation plus its confirm and cancel callbacks.
func (g *ConfirmGate) Stage(mutation PendingMutation, onConfirm func(AuditRecord), onCancel func()) error {
	if g.guard != nil && !g.guard.CanMutate() {
		return ErrMutationNotPermitted{Mutation: mutation.Type}
	}
	if g.pending != nil && g.onCancel != nil {
		g.onCancel()
	}
	g.pending = &mutation
	g.onConfirm = onConfirm
	g.onCancel = onCancel
	return nil
}

// Confirm finalizes the staged mutation: it builds an audit record from the
// mutation's before/after snapshots, appends it to the log, invokes the
// onConfirm callback with the record, and clears the pending mutation. A
// non-empty actor and reason are required. With nothing staged, Confirm is a
// benign no-op returning nil.
func (g *ConfirmGate) Confirm(actorID, reason string) (*AuditRecord, error) {
	if g.pending == nil {
		return nil, nil
	}
	if actorID == "" {
		return nil, fmt.Errorf("confirm requires an actor identity")
	}
	if reason == "" {
		return nil, fmt.Errorf("confirm requires a non-empty reason")
	}

	pending := *g.pending
	record := AuditRecord{
		ID:         g.newID(),
		ActorID:    actorID,
		Action:     pending.Type,
		EntityType: pending.RecordType,
		EntityID:   pending.RecordID,
		Before:     pending.Before,
		After:      pending.After,
		Reason:     reason,
		Timestamp:  g.nowFn(),
	}
	g.log.append(record)

	onConfirm := g.onConfirm
	g.clear()
	if onConfirm != nil {
		onConfirm(record)
	}
	return &record, nil
}

// Cancel discards the staged mutation, invoking its onCancel callback. No
// audit record is produced. With nothing staged, Cancel is a no-op returning
// false.
func (g *ConfirmGate) Cancel() bool {
	if g.pending == nil {
		return false
	}
	onCancel := g.onCancel
	g.clear()
	if onCancel != nil {
		onCancel()
	}
	return true
}

func (g *ConfirmGate) clear() {
	g.pending = nil
	g.onConfirm = nil
	g.onCancel = nil
}
