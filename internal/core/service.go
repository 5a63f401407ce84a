package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"zonecore/pkg/domain"
	"zonecore/pkg/hexgrid"
)

// ValidationError reports invalid input rejected at the service boundary with
// no partial effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Service orchestrates the governance core over a persistent store: it owns
// the engine instances, keeps the spatial index and derived-state inputs in
// sync with committed zone/tag edits, and routes every mutation through the
// confirm gate. Construct one service per orchestrator; there is no global
// instance.
type Service struct {
	store       domain.PersistentStore
	index       *SpatialIndex
	cellState   *CellStateEngine
	geofence    *GeofenceEngine
	interaction *InteractionController
	gate        *ConfirmGate
	audit       *AuditLog
	replay      *StateReplay[TrackedEntity]

	pendingApply func(ctx context.Context, rec AuditRecord) (Result, error)

	recorder MetricsRecorder
	tracer   Tracer
	nowFn    func() time.Time
	newID    func() string
}

// ServiceOption customises service construction.
type ServiceOption func(*Service)

// WithMetricsRecorder installs a metrics recorder for service operations.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// WithTracer installs a tracer for service operations.
func WithTracer(tr Tracer) ServiceOption {
	return func(s *Service) {
		if tr != nil {
			s.tracer = tr
		}
	}
}

// WithClock overrides the service time source, used in tests.
func WithClock(nowFn func() time.Time) ServiceOption {
	return func(s *Service) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

// NewService constructs a service over store, starting in mode with an idle
// interaction state. The audit log is hydrated from the store.
func NewService(store domain.PersistentStore, mode Mode, opts ...ServiceOption) *Service {
	audit := NewAuditLog()
	interaction := NewInteractionController(mode)
	s := &Service{
		store:       store,
		index:       NewSpatialIndex(),
		cellState:   NewCellStateEngine(),
		geofence:    NewGeofenceEngine(nil),
		interaction: interaction,
		gate:        NewConfirmGate(audit, interaction),
		audit:       audit,
		replay:      NewStateReplay[TrackedEntity](),
		recorder:    NoopMetricsRecorder{},
		tracer:      NoopTracer{},
		nowFn:       func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if store != nil {
		records := store.ListAuditRecords(0)
		// Store returns most recent first; the log holds chronological order.
		for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
			records[i], records[j] = records[j], records[i]
		}
		audit.Load(records)
	}
	return s
}

// Interaction returns the interaction controller.
func (s *Service) Interaction() *InteractionController { return s.interaction }

// Gate returns the confirm gate.
func (s *Service) Gate() *ConfirmGate { return s.gate }

// AuditLog returns the append-only audit log.
func (s *Service) AuditLog() *AuditLog { return s.audit }

// Replay returns the per-entity tracking history store.
func (s *Service) Replay() *StateReplay[TrackedEntity] { return s.replay }

// Index returns the current spatial index snapshot.
func (s *Service) Index() *SpatialIndex { return s.index }

// Refresh rebuilds the spatial index and derived-state inputs from the
// store's committed zone and tag collections.
func (s *Service) Refresh(ctx context.Context) error {
	done := s.instrument(ctx, "service.refresh")
	var zones []Zone
	var tags []ZoneTag
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		zones = view.ListZones()
		tags = view.ListTags()
		return nil
	})
	if err != nil {
		done(err)
		return err
	}
	s.publishIndex(BuildSpatialIndex(zones))
	s.publishTags(tags)
	done(nil)
	return nil
}

// publishIndex swaps in a fully built index, then points the derived-state
// engines at it. Readers of the previous index are unaffected.
func (s *Service) publishIndex(index *SpatialIndex) {
	s.index = index
	s.cellState.SetIndex(index)
	s.geofence.SetIndex(index)
}

func (s *Service) publishTags(tags []ZoneTag) {
	s.cellState.SetTags(tags)
	s.geofence.SetTags(tags)
}

func (s *Service) refreshTags(ctx context.Context) error {
	var tags []ZoneTag
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		tags = view.ListTags()
		return nil
	})
	if err != nil {
		return err
	}
	s.publishTags(tags)
	return nil
}

// StageZoneCreate validates and stages creation of a new zone. The zone's
// cell set is deduplicated; every cell must be canonical. Nothing is applied
// until Confirm.
func (s *Service) StageZoneCreate(zone Zone, description string) error {
	if zone.Name == "" {
		return ValidationError{Field: "zone.name", Message: "must not be empty"}
	}
	cells, err := normalizeCells(zone.Cells)
	if err != nil {
		return err
	}
	zone.Cells = cells
	zone.Active = true
	if zone.ID == "" {
		zone.ID = s.newID()
	}
	created := zone.Clone()
	return s.stage(PendingMutation{
		Type:        MutationZoneCreate,
		Description: description,
		RecordType:  RecordZone,
		RecordID:    zone.ID,
		After:       created,
	}, func(ctx context.Context, rec AuditRecord) (Result, error) {
		var stored Zone
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			stored, err = tx.CreateZone(created)
			if err != nil {
				return err
			}
			rec.After = stored
			_, err = tx.AppendAuditRecord(rec)
			return err
		})
		if err != nil {
			return res, err
		}
		s.publishIndex(s.index.UpdateForZoneChange(nil, &stored))
		return res, nil
	})
}

// StageZoneUpdate stages a mutation of an existing zone produced by mutator.
func (s *Service) StageZoneUpdate(id string, description string, mutator func(*Zone) error) error {
	before, ok := s.store.GetZone(id)
	if !ok {
		return ValidationError{Field: "zone.id", Message: fmt.Sprintf("zone %s not found", id)}
	}
	after := before.Clone()
	if err := mutator(&after); err != nil {
		return err
	}
	after.ID = before.ID
	cells, err := normalizeCells(after.Cells)
	if err != nil {
		return err
	}
	after.Cells = cells
	return s.stage(PendingMutation{
		Type:        MutationZoneUpdate,
		Description: description,
		RecordType:  RecordZone,
		RecordID:    id,
		Before:      before,
		After:       after,
	}, func(ctx context.Context, rec AuditRecord) (Result, error) {
		var updated Zone
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.UpdateZone(id, func(z *Zone) error {
				*z = after.Clone()
				return nil
			})
			if err != nil {
				return err
			}
			rec.After = updated
			_, err = tx.AppendAuditRecord(rec)
			return err
		})
		if err != nil {
			return res, err
		}
		s.publishIndex(s.index.UpdateForZoneChange(&before, &updated))
		return res, nil
	})
}

// StageZoneDeactivate stages deactivation of a zone. Deactivation is the only
// deletion path: the zone leaves the spatial index but its record and history
// are preserved.
func (s *Service) StageZoneDeactivate(id string, description string) error {
	before, ok := s.store.GetZone(id)
	if !ok {
		return ValidationError{Field: "zone.id", Message: fmt.Sprintf("zone %s not found", id)}
	}
	if !before.Active {
		return ValidationError{Field: "zone.active", Message: fmt.Sprintf("zone %s is already inactive", id)}
	}
	after := before.Clone()
	after.Active = false
	return s.stage(PendingMutation{
		Type:        MutationZoneDeactivate,
		Description: description,
		RecordType:  RecordZone,
		RecordID:    id,
		Before:      before,
		After:       after,
	}, func(ctx context.Context, rec AuditRecord) (Result, error) {
		var updated Zone
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			updated, err = tx.DeactivateZone(id, rec.ActorID)
			if err != nil {
				return err
			}
			rec.After = updated
			_, err = tx.AppendAuditRecord(rec)
			return err
		})
		if err != nil {
			return res, err
		}
		s.publishIndex(s.index.UpdateForZoneChange(&before, &updated))
		return res, nil
	})
}

// StageTagApply stages application of a new tag to a zone.
func (s *Service) StageTagApply(tag ZoneTag, description string) error {
	if _, ok := s.store.GetZone(tag.ZoneID); !ok {
		return ValidationError{Field: "tag.zone_id", Message: fmt.Sprintf("zone %s not found", tag.ZoneID)}
	}
	if !tag.Type.Valid() {
		return ValidationError{Field: "tag.type", Message: fmt.Sprintf("unknown tag type %q", tag.Type)}
	}
	if tag.ID == "" {
		tag.ID = s.newID()
	}
	applied := tag.Clone()
	return s.stage(PendingMutation{
		Type:        MutationTagApply,
		Description: description,
		RecordType:  RecordTag,
		RecordID:    tag.ID,
		After:       applied,
	}, func(ctx context.Context, rec AuditRecord) (Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			stored, err := tx.CreateTag(applied)
			if err != nil {
				return err
			}
			rec.After = stored
			_, err = tx.AppendAuditRecord(rec)
			return err
		})
		if err != nil {
			return res, err
		}
		return res, s.refreshTags(ctx)
	})
}

// StageTagUpdate stages a mutation of an existing tag, typically to close its
// validity window. Tags are never deleted.
func (s *Service) StageTagUpdate(id string, description string, mutator func(*ZoneTag) error) error {
	before, ok := s.store.GetTag(id)
	if !ok {
		return ValidationError{Field: "tag.id", Message: fmt.Sprintf("tag %s not found", id)}
	}
	after := before.Clone()
	if err := mutator(&after); err != nil {
		return err
	}
	after.ID = before.ID
	return s.stage(PendingMutation{
		Type:        MutationTagUpdate,
		Description: description,
		RecordType:  RecordTag,
		RecordID:    id,
		Before:      before,
		After:       after,
	}, func(ctx context.Context, rec AuditRecord) (Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			updated, err := tx.UpdateTag(id, func(t *ZoneTag) error {
				*t = after.Clone()
				return nil
			})
			if err != nil {
				return err
			}
			rec.After = updated
			_, err = tx.AppendAuditRecord(rec)
			return err
		})
		if err != nil {
			return res, err
		}
		return res, s.refreshTags(ctx)
	})
}

func (s *Service) stage(mutation PendingMutation, apply func(context.Context, AuditRecord) (Result, error)) error {
	if err := s.gate.Stage(mutation, nil, func() { s.pendingApply = nil }); err != nil {
		return err
	}
	s.pendingApply = apply
	return nil
}

// Confirm finalizes the staged mutation: the gate appends exactly one audit
// record, then the mutation is applied to the store in a transaction that
// also persists the record. Returns the record, any rule violations, and an
// error when the store rejects the mutation. With nothing staged, all returns
// are zero.
func (s *Service) Confirm(ctx context.Context, actorID, reason string) (*AuditRecord, Result, error) {
	done := s.instrument(ctx, "service.confirm")
	apply := s.pendingApply
	rec, err := s.gate.Confirm(actorID, reason)
	if err != nil || rec == nil {
		done(err)
		return nil, Result{}, err
	}
	s.pendingApply = nil
	if apply == nil {
		done(nil)
		return rec, Result{}, nil
	}
	res, err := apply(ctx, *rec)
	done(err)
	return rec, res, err
}

// CancelPending discards the staged mutation without producing an audit
// record. Returns false when nothing was staged.
func (s *Service) CancelPending() bool {
	return s.gate.Cancel()
}

// CellStates derives the state of each cell at instant now, suitable for
// driving a choropleth layer.
func (s *Service) CellStates(cells []CellID, now time.Time) []CellState {
	return s.cellState.DeriveBatch(cells, now)
}

// CellStateAt derives the state of a single cell at instant now.
func (s *Service) CellStateAt(cell CellID, now time.Time) CellState {
	return s.cellState.DeriveSingle(cell, now)
}

// ProcessPosition routes one position-stream update through the geofencing
// engine and records the resulting tracking state into the replay store.
func (s *Service) ProcessPosition(update PositionUpdate) []GeofenceEvent {
	events := s.geofence.ProcessUpdate(update)
	if entity, ok := s.geofence.Entity(update.EntityID); ok {
		// Replay keeps arrival order; late out-of-order samples are dropped
		// by the store rather than corrupting the sequence.
		_ = s.replay.Record(update.EntityID, entity.LastUpdateTime, entity)
	}
	return events
}

// SubscribeGeofence registers a geofence event listener.
func (s *Service) SubscribeGeofence(fn func(GeofenceEvent)) int {
	return s.geofence.Subscribe(fn)
}

// UnsubscribeGeofence removes a geofence event listener.
func (s *Service) UnsubscribeGeofence(token int) bool {
	return s.geofence.Unsubscribe(token)
}

// SubscribeInteraction registers an interaction state-change listener.
func (s *Service) SubscribeInteraction(fn func(InteractionEvent)) int {
	return s.interaction.Subscribe(fn)
}

// UnsubscribeInteraction removes an interaction state-change listener.
func (s *Service) UnsubscribeInteraction(token int) bool {
	return s.interaction.Unsubscribe(token)
}

// TrackedEntities returns the geofencing engine's current entities.
func (s *Service) TrackedEntities() []TrackedEntity {
	return s.geofence.Entities()
}

// AuditRecords returns up to limit audit records, most recent first.
func (s *Service) AuditRecords(limit int) []AuditRecord {
	return s.audit.Records(limit)
}

// AuditRecordsForEntity returns the audit history of one record.
func (s *Service) AuditRecordsForEntity(record RecordType, id string) []AuditRecord {
	return s.audit.ForEntity(record, id)
}

// NewPlayback builds a playback clock over [start, end] coupled to this
// service's interaction controller.
func (s *Service) NewPlayback(start, end time.Time) *PlaybackClock {
	return NewPlaybackClock(NewTimelineController(start, end), s.interaction)
}

func (s *Service) instrument(ctx context.Context, operation string) func(error) {
	start := time.Now()
	_, span := s.tracer.Start(ctx, operation)
	return func(err error) {
		span.End(err)
		s.recorder.Observe(ctx, operation, err == nil, time.Since(start))
	}
}

// normalizeCells deduplicates a zone cell set preserving first-seen order and
// rejects non-canonical identifiers.
func normalizeCells(cells []CellID) ([]CellID, error) {
	seen := make(map[CellID]struct{}, len(cells))
	out := make([]CellID, 0, len(cells))
	for _, cell := range cells {
		if !hexgrid.IsValidAtCanonicalResolution(cell) {
			return nil, ValidationError{Field: "zone.cells", Message: fmt.Sprintf("cell %q is not a canonical-resolution cell", cell)}
		}
		if _, dup := seen[cell]; dup {
			continue
		}
		seen[cell] = struct{}{}
		out = append(out, cell)
	}
	if len(out) == 0 {
		return nil, ValidationError{Field: "zone.cells", Message: "zone must contain at least one cell"}
	}
	return out, nil
}
