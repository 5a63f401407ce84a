package postgres_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"testing"

	"zonecore/internal/infra/persistence/memory"
	"zonecore/internal/infra/persistence/postgres"
	"zonecore/internal/infra/persistence/postgres/testutil"
	"zonecore/pkg/domain"
)

func openStubStore(t *testing.T) (*postgres.Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := postgres.NewStore("postgres://stub/zonecore", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresTableAndHydrates(t *testing.T) {
	db, conn := testutil.NewStubDB()

	zone := domain.Zone{Name: "perimeter", Cells: []domain.CellID{"c1"}, Active: true}
	zone.ID = "z1"
	payload, err := json.Marshal(map[string]domain.Zone{"z1": zone})
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	conn.Rows["zones"] = payload

	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := postgres.NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	got, ok := store.GetZone("z1")
	if !ok || got.Name != "perimeter" {
		t.Fatalf("hydrated zone = %+v, ok=%v", got, ok)
	}
	if len(conn.Execs) == 0 || !contains(conn.Execs, "CREATE TABLE") {
		t.Fatalf("state table DDL never issued: %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsBuckets(t *testing.T) {
	store, conn := openStubStore(t)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		zone, err := tx.CreateZone(domain.Zone{Name: "perimeter", Cells: []domain.CellID{"c1"}})
		if err != nil {
			return err
		}
		if _, err := tx.CreateTag(domain.ZoneTag{ZoneID: zone.ID, Type: domain.TagHazard, Severity: 2, Confidence: 0.5}); err != nil {
			return err
		}
		_, err = tx.AppendAuditRecord(domain.AuditRecord{ActorID: "operator-7", Reason: "seed"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	for _, bucket := range []string{"zones", "tags", "audits"} {
		if _, ok := conn.Rows[bucket]; !ok {
			t.Fatalf("bucket %q not persisted; rows = %v", bucket, keys(conn.Rows))
		}
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(conn.Rows["zones"], &snapshot.Zones); err != nil {
		t.Fatalf("decode persisted zones: %v", err)
	}
	if len(snapshot.Zones) != 1 {
		t.Fatalf("persisted %d zones, want 1", len(snapshot.Zones))
	}
}

func TestFailedTransactionSkipsPersist(t *testing.T) {
	store, conn := openStubStore(t)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return fmt.Errorf("abort")
	})
	if err == nil {
		t.Fatal("aborted transaction reported success")
	}
	if len(conn.Rows) != 0 {
		t.Fatalf("aborted transaction persisted buckets: %v", keys(conn.Rows))
	}
}

func TestNewStoreFailsWhenUnreachable(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	if _, err := postgres.NewStore("", domain.NewRulesEngine()); err == nil {
		t.Fatal("unreachable database accepted")
	}
}

func TestPersistSurfacesCommitFailure(t *testing.T) {
	store, conn := openStubStore(t)
	conn.FailCommit = true

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateZone(domain.Zone{Name: "perimeter", Cells: []domain.CellID{"c1"}})
		return err
	})
	if err == nil {
		t.Fatal("commit failure swallowed")
	}
}

func contains(stmts []string, fragment string) bool {
	for _, s := range stmts {
		if strings.Contains(strings.ToUpper(s), strings.ToUpper(fragment)) {
			return true
		}
	}
	return false
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
