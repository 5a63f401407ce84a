// Package domain defines the core persistent entities, value types, and
// governance primitives used by zonecore.
package domain

import "time"

// CellID is an opaque H3 cell identifier at the canonical grid resolution.
// Identifiers are produced by the grid canonicalizer; any identifier that does
// not decode to the canonical resolution is invalid.
type CellID string

// RecordType identifies the type of record stored in the core domain.
type RecordType string

// Supported record type identifiers used in Change records, audit entries, and
// persistence buckets.
const (
	// RecordZone identifies a zone record.
	RecordZone RecordType = "zone"
	// RecordTag identifies a zone tag record.
	RecordTag RecordType = "zone_tag"
	// RecordAudit identifies an audit log record.
	RecordAudit RecordType = "audit_record"
)

// TagType classifies the semantic meaning of a zone tag. The set is closed;
// consumers switch exhaustively so adding a type is a compile-time-checked
// change.
type TagType string

// Canonical tag types recognised by the cell state engine.
const (
	TagRestricted   TagType = "restricted"
	TagHazard       TagType = "hazard"
	TagSurveillance TagType = "surveillance"
	TagMaintenance  TagType = "maintenance"
	TagIncident     TagType = "incident"
)

// TagTypes lists every canonical tag type in stable order.
func TagTypes() []TagType {
	return []TagType{TagRestricted, TagHazard, TagSurveillance, TagMaintenance, TagIncident}
}

// Valid reports whether t is one of the canonical tag types.
func (t TagType) Valid() bool {
	switch t {
	case TagRestricted, TagHazard, TagSurveillance, TagMaintenance, TagIncident:
		return true
	}
	return false
}

// Mode is an operating context constraining which interaction states are legal.
type Mode string

// Operating modes supported by the interaction controller.
const (
	// ModeMonitoring is read-only observation of live state.
	ModeMonitoring Mode = "monitoring"
	// ModePlanning allows full zone and tag editing.
	ModePlanning Mode = "planning"
	// ModeForensic is time-locked review of recorded state.
	ModeForensic Mode = "forensic"
)

// InteractionState enumerates the interaction machine states.
type InteractionState string

// Interaction states. Locked is a pseudo-state reachable from every state and
// exits only to idle.
const (
	StateIdle       InteractionState = "idle"
	StateSelect     InteractionState = "select"
	StateCellSelect InteractionState = "cell_select"
	StateDraw       InteractionState = "draw"
	StateTag        InteractionState = "tag"
	StateConfirm    InteractionState = "confirm"
	StateInspect    InteractionState = "inspect"
	StateLocked     InteractionState = "locked"
)

// Base contains common identity and audit metadata for governed records.
type Base struct {
	ID        string    `json:"id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Zone is a named, auditable set of grid cells representing an operational
// area. The cell set carries no duplicates. Zones are never deleted; they are
// deactivated, which removes them from the spatial index while preserving
// history.
type Zone struct {
	Base
	Name   string   `json:"name"`
	Cells  []CellID `json:"cells"`
	TagIDs []string `json:"tag_ids"`
	Active bool     `json:"active"`
}

// HasCell reports whether the zone's cell set contains cell.
func (z Zone) HasCell(cell CellID) bool {
	for _, c := range z.Cells {
		if c == cell {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the zone.
func (z Zone) Clone() Zone {
	cp := z
	cp.Cells = append([]CellID(nil), z.Cells...)
	cp.TagIDs = append([]string(nil), z.TagIDs...)
	return cp
}

// ZoneTag is a time-bounded semantic label applied to a zone. Tags are never
// deleted; expiry is temporal via ValidTo.
type ZoneTag struct {
	Base
	ZoneID     string     `json:"zone_id"`
	Type       TagType    `json:"type"`
	Severity   int        `json:"severity"`   // 1..5
	Confidence float64    `json:"confidence"` // 0.0..1.0
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to"` // nil = open-ended
}

// ActiveAt reports whether the tag is active at instant t.
func (tg ZoneTag) ActiveAt(t time.Time) bool {
	if t.Before(tg.ValidFrom) {
		return false
	}
	return tg.ValidTo == nil || !tg.ValidTo.Before(t)
}

// Clone returns a deep copy of the tag.
func (tg ZoneTag) Clone() ZoneTag {
	cp := tg
	if tg.ValidTo != nil {
		v := *tg.ValidTo
		cp.ValidTo = &v
	}
	return cp
}

// CellFlags holds one boolean per tag-type category.
type CellFlags struct {
	Restricted   bool `json:"restricted"`
	Hazard       bool `json:"hazard"`
	Surveillance bool `json:"surveillance"`
	Maintenance  bool `json:"maintenance"`
	Incident     bool `json:"incident"`
}

// Set raises the flag for the given tag type.
func (f *CellFlags) Set(t TagType) {
	switch t {
	case TagRestricted:
		f.Restricted = true
	case TagHazard:
		f.Hazard = true
	case TagSurveillance:
		f.Surveillance = true
	case TagMaintenance:
		f.Maintenance = true
	case TagIncident:
		f.Incident = true
	}
}

// CellState is the derived risk snapshot for one cell. It is recomputed on
// demand and never persisted as a source of truth: for identical zone and tag
// inputs at the same instant, derivation yields identical output.
type CellState struct {
	CellID             CellID    `json:"cell_id"`
	ZoneIDs            []string  `json:"zone_ids"`
	Flags              CellFlags `json:"flags"`
	EffectiveRiskScore int       `json:"effective_risk_score"` // 0..100
	Confidence         float64   `json:"confidence"`           // 0..1
	DerivedAt          time.Time `json:"derived_at"`
}

// GeofenceEventType distinguishes zone boundary crossings.
type GeofenceEventType string

// Geofence event types. For a single position update, exits are emitted before
// entries.
const (
	EventZoneExit  GeofenceEventType = "zone_exit"
	EventZoneEnter GeofenceEventType = "zone_enter"
)

// GeofenceEvent is produced when a tracked entity's cell crosses a zone
// boundary. Severity is the highest severity among the zone's tags active at
// the update timestamp, or zero when none are active.
type GeofenceEvent struct {
	Type       GeofenceEventType `json:"type"`
	EntityID   string            `json:"entity_id"`
	EntityType string            `json:"entity_type"`
	ZoneID     string            `json:"zone_id"`
	ZoneName   string            `json:"zone_name"`
	CellID     CellID            `json:"cell_id"`
	Severity   int               `json:"severity"`
	Timestamp  time.Time         `json:"timestamp"`
}

// PositionUpdate is one sample from the external position stream. Updates for
// a given entity arrive in order and are processed by a single writer.
type PositionUpdate struct {
	EntityID   string    `json:"entity_id"`
	EntityType string    `json:"entity_type"`
	CellID     CellID    `json:"cell_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// TrackedEntity is the geofencing engine's per-entity state.
type TrackedEntity struct {
	EntityID       string    `json:"entity_id"`
	EntityType     string    `json:"entity_type"`
	CurrentCellID  CellID    `json:"current_cell_id"`
	CurrentZoneIDs []string  `json:"current_zone_ids"`
	LastUpdateTime time.Time `json:"last_update_time"`
}

// InteractionEvent describes a committed interaction state change.
type InteractionEvent struct {
	From      InteractionState `json:"from"`
	To        InteractionState `json:"to"`
	Timestamp time.Time        `json:"timestamp"`
	Reason    string           `json:"reason"`
}

// MutationType identifies the kind of staged mutation held by the confirm gate.
type MutationType string

// Mutation types staged through the confirm gate.
const (
	MutationZoneCreate     MutationType = "zone.create"
	MutationZoneUpdate     MutationType = "zone.update"
	MutationZoneDeactivate MutationType = "zone.deactivate"
	MutationTagApply       MutationType = "tag.apply"
	MutationTagUpdate      MutationType = "tag.update"
)

// PendingMutation is an ephemeral staged mutation awaiting confirm or cancel.
type PendingMutation struct {
	Type        MutationType `json:"type"`
	Description string       `json:"description"`
	RecordType  RecordType   `json:"record_type"`
	RecordID    string       `json:"record_id"`
	Payload     any          `json:"payload,omitempty"`
	Before      any          `json:"before,omitempty"`
	After       any          `json:"after,omitempty"`
}

// AuditRecord is an immutable, append-only proof that a governed mutation
// happened. If there is no audit record, the mutation never happened.
type AuditRecord struct {
	ID         string       `json:"id"`
	ActorID    string       `json:"actor_id"`
	Action     MutationType `json:"action"`
	EntityType RecordType   `json:"entity_type"`
	EntityID   string       `json:"entity_id"`
	Before     any          `json:"before,omitempty"`
	After      any          `json:"after,omitempty"`
	Reason     string       `json:"reason"`
	Timestamp  time.Time    `json:"timestamp"`
}

// TimelineState is the externally visible playback state for a scrubber UI.
type TimelineState struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	CurrentTime time.Time `json:"current_time"`
	IsPlaying   bool      `json:"is_playing"`
	Speed       float64   `json:"speed"`
}

// Change describes a mutation applied to a record during a transaction.
type Change struct {
	Record RecordType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured by the stores. There is no delete action: zones are
// deactivated and tags expire temporally.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was updated.
	ActionUpdate Action = "update"
	// ActionDeactivate indicates a zone was deactivated.
	ActionDeactivate Action = "deactivate"
)
