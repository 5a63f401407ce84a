package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. There is no delete operation: zones are
// deactivated and tags expire through their validity window.
type Transaction interface {
	Snapshot() TransactionView
	CreateZone(Zone) (Zone, error)
	UpdateZone(id string, mutator func(*Zone) error) (Zone, error)
	DeactivateZone(id, actor string) (Zone, error)
	CreateTag(ZoneTag) (ZoneTag, error)
	UpdateTag(id string, mutator func(*ZoneTag) error) (ZoneTag, error)
	AppendAuditRecord(AuditRecord) (AuditRecord, error)
	FindZone(id string) (Zone, bool)
	FindTag(id string) (ZoneTag, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListZones() []Zone
	ListTags() []ZoneTag
	FindZone(id string) (Zone, bool)
	FindTag(id string) (ZoneTag, bool)
	TagsForZone(zoneID string) []ZoneTag
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by the orchestrating service.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetZone(id string) (Zone, bool)
	ListZones() []Zone
	ListActiveZones() []Zone
	GetTag(id string) (ZoneTag, bool)
	ListTags() []ZoneTag
	TagsForZone(zoneID string) []ZoneTag
	ListAuditRecords(limit int) []AuditRecord
	AuditRecordsForEntity(record RecordType, id string) []AuditRecord
}
