package core

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"

	"zonecore/internal/infra/persistence/memory"
	"zonecore/pkg/domain"
)

func newServiceFixture(t *testing.T, mode Mode) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	store.SetNowFunc(fixedClock(testEpoch))
	svc := NewService(store, mode, WithClock(fixedClock(testEpoch)))
	return svc, store
}

func mustTransition(t *testing.T, svc *Service, states ...InteractionState) {
	t.Helper()
	for _, to := range states {
		if err := svc.Interaction().Transition(to, "test"); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
}

// createZone walks draw -> stage -> confirm -> idle and returns the committed
// zone ID.
func createZone(t *testing.T, svc *Service, name string, cells []CellID) string {
	t.Helper()
	mustTransition(t, svc, StateDraw)
	if err := svc.StageZoneCreate(Zone{Name: name, Cells: cells}, "create "+name); err != nil {
		t.Fatalf("stage zone create: %v", err)
	}
	rec, _, err := svc.Confirm(context.Background(), "operator-7", "approved "+name)
	if err != nil {
		t.Fatalf("confirm zone create: %v", err)
	}
	mustTransition(t, svc, StateIdle)
	return rec.EntityID
}

func TestStageZoneCreateValidation(t *testing.T) {
	svc, _ := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 1)
	mustTransition(t, svc, StateDraw)

	cases := []struct {
		name string
		zone Zone
	}{
		{"empty name", Zone{Cells: cells}},
		{"no cells", Zone{Name: "perimeter"}},
		{"bogus cell", Zone{Name: "perimeter", Cells: []CellID{"bogus"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.StageZoneCreate(tc.zone, "invalid")
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if svc.Gate().Pending() != nil {
		t.Fatal("rejected input left a staged mutation")
	}
}

func TestZoneCreateDeduplicatesCells(t *testing.T) {
	svc, store := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 0)
	doubled := append(append([]CellID{}, cells...), cells...)

	id := createZone(t, svc, "perimeter", doubled)
	zone, ok := store.GetZone(id)
	if !ok {
		t.Fatal("zone not persisted")
	}
	if len(zone.Cells) != len(cells) {
		t.Fatalf("stored %d cells, want %d deduplicated", len(zone.Cells), len(cells))
	}
}

func TestZoneCreateLifecycle(t *testing.T) {
	svc, store := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 1)

	id := createZone(t, svc, "perimeter", cells)

	zone, ok := store.GetZone(id)
	if !ok || !zone.Active || zone.Name != "perimeter" {
		t.Fatalf("persisted zone = %+v, ok=%v", zone, ok)
	}
	if got := svc.Index().ZoneCount(); got != 1 {
		t.Fatalf("index ZoneCount = %d, want 1", got)
	}
	wantCells := append([]CellID{}, cells...)
	sort.Slice(wantCells, func(i, j int) bool { return wantCells[i] < wantCells[j] })
	if got := svc.Index().CellsForZone(id); !reflect.DeepEqual(got, wantCells) {
		t.Fatalf("indexed cells = %v, want %v", got, wantCells)
	}

	state := svc.CellStateAt(cells[0], testEpoch)
	if !reflect.DeepEqual(state.ZoneIDs, []string{id}) {
		t.Fatalf("cell state zones = %v, want [%s]", state.ZoneIDs, id)
	}

	audits := svc.AuditRecords(0)
	if len(audits) != 1 || audits[0].Action != MutationZoneCreate || audits[0].EntityID != id {
		t.Fatalf("audit log = %+v", audits)
	}
	persisted := store.ListAuditRecords(0)
	if len(persisted) != 1 || persisted[0].ID != audits[0].ID {
		t.Fatalf("store audits = %+v, want same record as log", persisted)
	}
}

func TestStagingDeniedOutsideMutatingState(t *testing.T) {
	svc, _ := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 0)

	err := svc.StageZoneCreate(Zone{Name: "perimeter", Cells: cells}, "from idle")
	var denied ErrMutationNotPermitted
	if !errors.As(err, &denied) {
		t.Fatalf("expected ErrMutationNotPermitted from idle, got %v", err)
	}

	// Monitoring mode cannot even reach a mutating state.
	monitoring, _ := newServiceFixture(t, ModeMonitoring)
	if err := monitoring.Interaction().Transition(StateDraw, "try"); err == nil {
		t.Fatal("draw reachable under monitoring")
	}
}

func TestConfirmWithNothingStaged(t *testing.T) {
	svc, _ := newServiceFixture(t, ModePlanning)
	rec, res, err := svc.Confirm(context.Background(), "operator-7", "nothing")
	if rec != nil || err != nil || len(res.Violations) != 0 {
		t.Fatalf("confirm = (%v, %+v, %v), want all zero", rec, res, err)
	}
}

func TestCancelPendingDiscardsCleanly(t *testing.T) {
	svc, store := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 0)

	mustTransition(t, svc, StateDraw)
	if err := svc.StageZoneCreate(Zone{Name: "perimeter", Cells: cells}, "draft"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !svc.CancelPending() {
		t.Fatal("CancelPending returned false")
	}
	if len(store.ListZones()) != 0 || len(store.ListAuditRecords(0)) != 0 {
		t.Fatal("cancelled mutation reached the store")
	}
	rec, _, err := svc.Confirm(context.Background(), "operator-7", "after cancel")
	if rec != nil || err != nil {
		t.Fatalf("confirm after cancel = (%v, %v)", rec, err)
	}
	// The path stays usable: stage and confirm a fresh mutation.
	if err := svc.StageZoneCreate(Zone{Name: "perimeter", Cells: cells}, "second draft"); err != nil {
		t.Fatalf("restage: %v", err)
	}
	if _, _, err := svc.Confirm(context.Background(), "operator-7", "approved"); err != nil {
		t.Fatalf("confirm restaged: %v", err)
	}
	if len(store.ListZones()) != 1 {
		t.Fatalf("store has %d zones, want 1", len(store.ListZones()))
	}
}

func TestRuleViolationBlocksTagCommit(t *testing.T) {
	svc, store := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 0)
	zoneID := createZone(t, svc, "perimeter", cells)

	mustTransition(t, svc, StateSelect, StateTag)
	tag := ZoneTag{ZoneID: zoneID, Type: TagHazard, Severity: 9, Confidence: 0.5, ValidFrom: testEpoch}
	if err := svc.StageTagApply(tag, "overscaled severity"); err != nil {
		t.Fatalf("stage: %v", err)
	}
	_, res, err := svc.Confirm(context.Background(), "operator-7", "should block")
	var rve RuleViolationError
	if !errors.As(err, &rve) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("result carries no blocking violation: %+v", res)
	}
	if len(store.ListTags()) != 0 {
		t.Fatal("blocked tag reached the store")
	}
	if got := len(store.ListAuditRecords(0)); got != 1 {
		t.Fatalf("store audits = %d, want only the zone-create record", got)
	}
}

func TestZoneUpdateReindexesIncrementally(t *testing.T) {
	svc, _ := newServiceFixture(t, ModePlanning)
	oldCells := gridCells(t, 37.7749, -122.4194, 0)
	newCells := gridCells(t, 35.6762, 139.6503, 0)
	zoneID := createZone(t, svc, "perimeter", oldCells)

	mustTransition(t, svc, StateDraw)
	err := svc.StageZoneUpdate(zoneID, "relocate", func(z *Zone) error {
		z.Cells = newCells
		return nil
	})
	if err != nil {
		t.Fatalf("stage update: %v", err)
	}
	if _, _, err := svc.Confirm(context.Background(), "operator-7", "approved move"); err != nil {
		t.Fatalf("confirm update: %v", err)
	}

	if got := svc.Index().ZonesForCell(oldCells[0]); len(got) != 0 {
		t.Fatalf("old cell still indexed: %v", got)
	}
	if got := svc.Index().ZonesForCell(newCells[0]); !reflect.DeepEqual(got, []string{zoneID}) {
		t.Fatalf("new cell zones = %v, want [%s]", got, zoneID)
	}
}

func TestZoneDeactivateRemovesFromIndexKeepsHistory(t *testing.T) {
	svc, store := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 0)
	zoneID := createZone(t, svc, "perimeter", cells)

	mustTransition(t, svc, StateDraw)
	if err := svc.StageZoneDeactivate(zoneID, "retire"); err != nil {
		t.Fatalf("stage deactivate: %v", err)
	}
	if _, _, err := svc.Confirm(context.Background(), "operator-7", "approved retirement"); err != nil {
		t.Fatalf("confirm deactivate: %v", err)
	}

	if got := svc.Index().ZoneCount(); got != 0 {
		t.Fatalf("index ZoneCount = %d, want 0", got)
	}
	zone, ok := store.GetZone(zoneID)
	if !ok {
		t.Fatal("deactivated zone deleted from store")
	}
	if zone.Active {
		t.Fatal("zone still active")
	}
	if zone.UpdatedBy != "operator-7" {
		t.Fatalf("UpdatedBy = %q", zone.UpdatedBy)
	}

	history := svc.AuditRecordsForEntity(RecordZone, zoneID)
	if len(history) != 2 || history[0].Action != MutationZoneCreate || history[1].Action != MutationZoneDeactivate {
		t.Fatalf("history = %+v", history)
	}

	// Deactivating again is rejected up front.
	if err := svc.StageZoneDeactivate(zoneID, "again"); err == nil {
		t.Fatal("second deactivation staged")
	}
}

func TestTagLifecycleDrivesCellState(t *testing.T) {
	svc, _ := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 0)
	zoneID := createZone(t, svc, "perimeter", cells)

	mustTransition(t, svc, StateSelect, StateTag)
	tag := ZoneTag{ZoneID: zoneID, Type: TagHazard, Severity: 4, Confidence: 0.75, ValidFrom: testEpoch.Add(-time.Hour)}
	if err := svc.StageTagApply(tag, "spill reported"); err != nil {
		t.Fatalf("stage tag: %v", err)
	}
	rec, _, err := svc.Confirm(context.Background(), "operator-7", "verified report")
	if err != nil {
		t.Fatalf("confirm tag: %v", err)
	}
	mustTransition(t, svc, StateIdle)

	state := svc.CellStateAt(cells[0], testEpoch)
	if state.EffectiveRiskScore != 60 { // round(4 * 0.75 * 20)
		t.Fatalf("risk = %d, want 60", state.EffectiveRiskScore)
	}
	if !state.Flags.Hazard {
		t.Fatalf("hazard flag not raised: %+v", state.Flags)
	}

	// Close the tag's validity window; risk drops without deleting anything.
	closedAt := testEpoch.Add(-time.Minute)
	mustTransition(t, svc, StateSelect, StateTag)
	err = svc.StageTagUpdate(rec.EntityID, "window closed", func(tg *ZoneTag) error {
		tg.ValidTo = &closedAt
		return nil
	})
	if err != nil {
		t.Fatalf("stage tag update: %v", err)
	}
	if _, _, err := svc.Confirm(context.Background(), "operator-7", "hazard cleared"); err != nil {
		t.Fatalf("confirm tag update: %v", err)
	}

	after := svc.CellStateAt(cells[0], testEpoch)
	if after.EffectiveRiskScore != 0 {
		t.Fatalf("risk after window close = %d, want 0", after.EffectiveRiskScore)
	}
}

func TestProcessPositionFeedsReplay(t *testing.T) {
	svc, _ := newServiceFixture(t, ModePlanning)
	inside := gridCells(t, 37.7749, -122.4194, 0)
	outside := gridCells(t, 35.6762, 139.6503, 0)
	createZone(t, svc, "perimeter", inside)

	svc.ProcessPosition(PositionUpdate{EntityID: "u1", CellID: outside[0], Timestamp: testEpoch})
	events := svc.ProcessPosition(PositionUpdate{EntityID: "u1", CellID: inside[0], Timestamp: testEpoch.Add(time.Second)})
	if len(events) != 1 || events[0].Type != EventZoneEnter {
		t.Fatalf("events = %+v, want single entry", events)
	}

	snaps := svc.Replay().Snapshots("u1")
	if len(snaps) != 2 {
		t.Fatalf("replay holds %d snapshots, want 2", len(snaps))
	}
	got, ok := svc.Replay().StateAt("u1", testEpoch)
	if !ok || got.CurrentCellID != outside[0] {
		t.Fatalf("StateAt first sample = %+v, want position before the move", got)
	}
	later, ok := svc.Replay().StateAt("u1", testEpoch.Add(30*time.Second))
	if !ok || later.CurrentCellID != inside[0] {
		t.Fatalf("StateAt after move = %+v, want position inside the zone", later)
	}

	entities := svc.TrackedEntities()
	if len(entities) != 1 || entities[0].EntityID != "u1" {
		t.Fatalf("TrackedEntities = %+v", entities)
	}
}

func TestRefreshRebuildsFromStore(t *testing.T) {
	svc, store := newServiceFixture(t, ModePlanning)
	cells := gridCells(t, 37.7749, -122.4194, 0)

	// Committed out-of-band, e.g. by another node sharing the store.
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		zone, err := tx.CreateZone(Zone{Name: "perimeter", Cells: cells})
		if err != nil {
			return err
		}
		_, err = tx.CreateTag(ZoneTag{ZoneID: zone.ID, Type: TagRestricted, Severity: 5, Confidence: 1, ValidFrom: testEpoch.Add(-time.Hour)})
		return err
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}

	if got := svc.Index().ZoneCount(); got != 0 {
		t.Fatalf("index populated before refresh: %d", got)
	}
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := svc.Index().ZoneCount(); got != 1 {
		t.Fatalf("index ZoneCount after refresh = %d, want 1", got)
	}
	state := svc.CellStateAt(cells[0], testEpoch)
	if state.EffectiveRiskScore != 100 {
		t.Fatalf("risk = %d, want 100", state.EffectiveRiskScore)
	}
}

func TestNewServiceHydratesAuditLog(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for i, id := range []string{"r1", "r2"} {
			rec := AuditRecord{ID: id, ActorID: "operator-7", Action: MutationZoneCreate,
				EntityType: RecordZone, EntityID: "z1", Reason: "seed",
				Timestamp: testEpoch.Add(time.Duration(i) * time.Minute)}
			if _, err := tx.AppendAuditRecord(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed audits: %v", err)
	}

	svc := NewService(store, ModeForensic)
	records := svc.AuditRecords(0)
	if len(records) != 2 || records[0].ID != "r2" || records[1].ID != "r1" {
		t.Fatalf("hydrated records = %+v, want r2 then r1 (most recent first)", records)
	}
}

func TestServiceInstrumentation(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	recorder := NewExpvarMetricsRecorder("")
	var traceBuf bytes.Buffer
	tracer := NewJSONTracer(&traceBuf)
	svc := NewService(store, ModePlanning,
		WithMetricsRecorder(recorder), WithTracer(tracer), WithClock(fixedClock(testEpoch)))

	cells := gridCells(t, 37.7749, -122.4194, 0)
	createZone(t, svc, "perimeter", cells)

	snapshot := recorder.Snapshot()
	if snapshot.Results["service.confirm"]["success"] != 1 {
		t.Fatalf("confirm success count = %+v", snapshot.Results)
	}
	found := false
	for _, entry := range tracer.Entries() {
		if entry.Operation == "service.confirm" && entry.Status == "success" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no confirm span recorded: %+v", tracer.Entries())
	}
	if traceBuf.Len() == 0 {
		t.Fatal("tracer wrote nothing to the configured writer")
	}
}
