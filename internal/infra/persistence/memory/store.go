// Package memory provides an in-memory implementation of the domain
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"zonecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain
// persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Zone aliases domain.Zone for in-memory persistence operations.
	Zone = domain.Zone
	// ZoneTag aliases domain.ZoneTag.
	ZoneTag = domain.ZoneTag
	// AuditRecord aliases domain.AuditRecord.
	AuditRecord = domain.AuditRecord
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	zones  map[string]Zone
	tags   map[string]ZoneTag
	audits []AuditRecord
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Zones  map[string]Zone    `json:"zones"`
	Tags   map[string]ZoneTag `json:"tags"`
	Audits []AuditRecord      `json:"audits"`
}

func newMemoryState() memoryState {
	return memoryState{
		zones: make(map[string]Zone),
		tags:  make(map[string]ZoneTag),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.zones {
		cloned.zones[k] = v.Clone()
	}
	for k, v := range s.tags {
		cloned.tags[k] = v.Clone()
	}
	cloned.audits = append([]AuditRecord(nil), s.audits...)
	return cloned
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Zones:  make(map[string]Zone, len(state.zones)),
		Tags:   make(map[string]ZoneTag, len(state.tags)),
		Audits: append([]AuditRecord(nil), state.audits...),
	}
	for k, v := range state.zones {
		s.Zones[k] = v.Clone()
	}
	for k, v := range state.tags {
		s.Tags[k] = v.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Zones {
		state.zones[k] = v.Clone()
	}
	for k, v := range s.Tags {
		state.tags[k] = v.Clone()
	}
	state.audits = append([]AuditRecord(nil), s.Audits...)
	return state
}

// migrateSnapshot repairs older or hand-edited snapshots: nil buckets become
// empty, tags whose zone no longer exists are dropped, and audit records are
// re-sorted chronologically.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Zones == nil {
		snapshot.Zones = map[string]Zone{}
	}
	if snapshot.Tags == nil {
		snapshot.Tags = map[string]ZoneTag{}
	}
	for id, tag := range snapshot.Tags {
		if _, ok := snapshot.Zones[tag.ZoneID]; !ok {
			delete(snapshot.Tags, id)
		}
	}
	sort.SliceStable(snapshot.Audits, func(i, j int) bool {
		return snapshot.Audits[i].Timestamp.Before(snapshot.Audits[j].Timestamp)
	})
	return snapshot
}

// Store provides an in-memory transactional store for the governance domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string { return uuid.NewString() }

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider, used in tests.
func (s *Store) SetNowFunc(nowFn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListZones returns all zones within the snapshot, sorted by ID.
func (v transactionView) ListZones() []Zone {
	out := make([]Zone, 0, len(v.state.zones))
	for _, z := range v.state.zones {
		out = append(out, z.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListTags returns all tags within the snapshot, sorted by ID.
func (v transactionView) ListTags() []ZoneTag {
	out := make([]ZoneTag, 0, len(v.state.tags))
	for _, t := range v.state.tags {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindZone retrieves a zone by ID from the snapshot.
func (v transactionView) FindZone(id string) (Zone, bool) {
	z, ok := v.state.zones[id]
	if !ok {
		return Zone{}, false
	}
	return z.Clone(), true
}

// FindTag retrieves a tag by ID from the snapshot.
func (v transactionView) FindTag(id string) (ZoneTag, bool) {
	t, ok := v.state.tags[id]
	if !ok {
		return ZoneTag{}, false
	}
	return t.Clone(), true
}

// TagsForZone returns the tags referencing zoneID, sorted by ID.
func (v transactionView) TagsForZone(zoneID string) []ZoneTag {
	var out []ZoneTag
	for _, t := range v.state.tags {
		if t.ZoneID == zoneID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The rules engine evaluates the resulting state; a blocking violation
// discards the transaction and returns a RuleViolationError.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindZone exposes zone lookup within the transaction scope.
func (tx *transaction) FindZone(id string) (Zone, bool) {
	z, ok := tx.state.zones[id]
	if !ok {
		return Zone{}, false
	}
	return z.Clone(), true
}

// FindTag exposes tag lookup within the transaction scope.
func (tx *transaction) FindTag(id string) (ZoneTag, bool) {
	t, ok := tx.state.tags[id]
	if !ok {
		return ZoneTag{}, false
	}
	return t.Clone(), true
}

// CreateZone stores a new zone within the transaction. New zones start
// active.
func (tx *transaction) CreateZone(z Zone) (Zone, error) {
	if z.ID == "" {
		z.ID = tx.store.newID()
	}
	if _, exists := tx.state.zones[z.ID]; exists {
		return Zone{}, fmt.Errorf("zone %q already exists", z.ID)
	}
	z.Active = true
	z.CreatedAt = tx.now
	z.UpdatedAt = tx.now
	tx.state.zones[z.ID] = z.Clone()
	tx.recordChange(Change{Record: domain.RecordZone, Action: domain.ActionCreate, After: z.Clone()})
	return z.Clone(), nil
}

// UpdateZone mutates a zone using the provided mutator function.
func (tx *transaction) UpdateZone(id string, mutator func(*Zone) error) (Zone, error) {
	current, ok := tx.state.zones[id]
	if !ok {
		return Zone{}, fmt.Errorf("zone %q not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Zone{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.zones[id] = current.Clone()
	tx.recordChange(Change{Record: domain.RecordZone, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeactivateZone marks a zone inactive. There is no delete: the record and
// its tag history are preserved.
func (tx *transaction) DeactivateZone(id, actor string) (Zone, error) {
	current, ok := tx.state.zones[id]
	if !ok {
		return Zone{}, fmt.Errorf("zone %q not found", id)
	}
	if !current.Active {
		return Zone{}, fmt.Errorf("zone %q is already inactive", id)
	}
	before := current.Clone()
	current.Active = false
	current.UpdatedBy = actor
	current.UpdatedAt = tx.now
	tx.state.zones[id] = current.Clone()
	tx.recordChange(Change{Record: domain.RecordZone, Action: domain.ActionDeactivate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// CreateTag stores a new zone tag within the transaction.
func (tx *transaction) CreateTag(t ZoneTag) (ZoneTag, error) {
	if t.ID == "" {
		t.ID = tx.store.newID()
	}
	if _, exists := tx.state.tags[t.ID]; exists {
		return ZoneTag{}, fmt.Errorf("tag %q already exists", t.ID)
	}
	if _, ok := tx.state.zones[t.ZoneID]; !ok {
		return ZoneTag{}, fmt.Errorf("zone %q not found", t.ZoneID)
	}
	if t.ValidFrom.IsZero() {
		t.ValidFrom = tx.now
	}
	t.CreatedAt = tx.now
	t.UpdatedAt = tx.now
	tx.state.tags[t.ID] = t.Clone()
	tx.recordChange(Change{Record: domain.RecordTag, Action: domain.ActionCreate, After: t.Clone()})
	return t.Clone(), nil
}

// UpdateTag mutates an existing tag, typically to close its validity window.
func (tx *transaction) UpdateTag(id string, mutator func(*ZoneTag) error) (ZoneTag, error) {
	current, ok := tx.state.tags[id]
	if !ok {
		return ZoneTag{}, fmt.Errorf("tag %q not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return ZoneTag{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.tags[id] = current.Clone()
	tx.recordChange(Change{Record: domain.RecordTag, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// AppendAuditRecord appends to the store's immutable audit sequence. Records
// are never updated or removed.
func (tx *transaction) AppendAuditRecord(rec AuditRecord) (AuditRecord, error) {
	if rec.ID == "" {
		rec.ID = tx.store.newID()
	}
	for _, existing := range tx.state.audits {
		if existing.ID == rec.ID {
			return AuditRecord{}, fmt.Errorf("audit record %q already exists", rec.ID)
		}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = tx.now
	}
	tx.state.audits = append(tx.state.audits, rec)
	tx.recordChange(Change{Record: domain.RecordAudit, Action: domain.ActionCreate, After: rec})
	return rec, nil
}

// GetZone retrieves a zone by ID.
func (s *Store) GetZone(id string) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.state.zones[id]
	if !ok {
		return Zone{}, false
	}
	return z.Clone(), true
}

// ListZones returns all zones sorted by ID.
func (s *Store) ListZones() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Zone, 0, len(s.state.zones))
	for _, z := range s.state.zones {
		out = append(out, z.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActiveZones returns all active zones sorted by ID.
func (s *Store) ListActiveZones() []Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Zone, 0, len(s.state.zones))
	for _, z := range s.state.zones {
		if z.Active {
			out = append(out, z.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetTag retrieves a tag by ID.
func (s *Store) GetTag(id string) (ZoneTag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.state.tags[id]
	if !ok {
		return ZoneTag{}, false
	}
	return t.Clone(), true
}

// ListTags returns all tags sorted by ID.
func (s *Store) ListTags() []ZoneTag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ZoneTag, 0, len(s.state.tags))
	for _, t := range s.state.tags {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TagsForZone returns the tags referencing zoneID sorted by ID.
func (s *Store) TagsForZone(zoneID string) []ZoneTag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ZoneTag
	for _, t := range s.state.tags {
		if t.ZoneID == zoneID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAuditRecords returns up to limit audit records, most recent first.
// A non-positive limit returns all records.
func (s *Store) ListAuditRecords(limit int) []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.state.audits)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]AuditRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.state.audits[i])
	}
	return out
}

// AuditRecordsForEntity returns the chronological audit history of one record.
func (s *Store) AuditRecordsForEntity(record domain.RecordType, id string) []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AuditRecord
	for _, rec := range s.state.audits {
		if rec.EntityType == record && rec.EntityID == id {
			out = append(out, rec)
		}
	}
	return out
}
