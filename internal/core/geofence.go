package core

import (
	"fmt"
	"sort"
	"time"
)

// GeofenceEngine tracks entities across zone boundaries. Each position update
// is diffed against the entity's previous zone-membership set; exits are
// emitted before entries. Updates for one entity must not be processed
// concurrently (single writer per entity); the caller serializes the position
// stream onto one logical update queue.
type GeofenceEngine struct {
	index      *SpatialIndex
	tagsByZone map[string][]ZoneTag
	entities   map[string]*trackedState
	listeners  []geofenceListener
	nextToken  int
	errors     *ListenerErrorLog
	nowFn      func() time.Time
}

type trackedState struct {
	entityType string
	cell       CellID
	zones      map[string]struct{}
	lastUpdate time.Time
}

type geofenceListener struct {
	token int
	fn    func(GeofenceEvent)
}

// NewGeofenceEngine constructs an engine over the given index. A nil index is
// treated as empty.
func NewGeofenceEngine(index *SpatialIndex) *GeofenceEngine {
	if index == nil {
		index = NewSpatialIndex()
	}
	return &GeofenceEngine{
		index:      index,
		tagsByZone: make(map[string][]ZoneTag),
		entities:   make(map[string]*trackedState),
		errors:     NewListenerErrorLog(),
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// SetIndex replaces the zone index. Tracked entities keep their current
// zone-membership sets; the next position update diffs against the new index.
func (e *GeofenceEngine) SetIndex(index *SpatialIndex) {
	if index == nil {
		index = NewSpatialIndex()
	}
	e.index = index
}

// SetTags replaces the tag input used to derive event severities.
func (e *GeofenceEngine) SetTags(tags []ZoneTag) {
	byZone := make(map[string][]ZoneTag)
	for _, tag := range tags {
		byZone[tag.ZoneID] = append(byZone[tag.ZoneID], tag.Clone())
	}
	e.tagsByZone = byZone
}

// Subscribe registers a listener for geofence events and returns a
// deregistration token. Listeners are invoked synchronously in registration
// order; a failing listener is isolated and recorded without aborting
// emission to the others.
func (e *GeofenceEngine) Subscribe(fn func(GeofenceEvent)) int {
	e.nextToken++
	e.listeners = append(e.listeners, geofenceListener{token: e.nextToken, fn: fn})
	return e.nextToken
}

// Unsubscribe removes the listener registered under token. Removal takes
// effect from the next emission.
func (e *GeofenceEngine) Unsubscribe(token int) bool {
	for i, l := range e.listeners {
		if l.token == token {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// ListenerErrors exposes failures recovered from subscriber callbacks.
func (e *GeofenceEngine) ListenerErrors() []ListenerError {
	return e.errors.Errors()
}

// ProcessUpdate applies one position update and returns the events it
// produced, in emission order.
//
// An entity seen for the first time is registered with its current zone set
// and produces no events, suppressing spurious entries for a device that is
// simply starting to report. A repeat of the current cell refreshes the
// timestamp only. Otherwise exits (old minus new) are emitted before entries
// (new minus old), and tracking state is committed before listeners run so no
// event reflects an uncommitted state.
func (e *GeofenceEngine) ProcessUpdate(update PositionUpdate) []GeofenceEvent {
	if update.EntityID == "" {
		return nil
	}
	ts := update.Timestamp
	if ts.IsZero() {
		ts = e.nowFn()
	}

	state, tracked := e.entities[update.EntityID]
	if !tracked {
		e.entities[update.EntityID] = &trackedState{
			entityType: update.EntityType,
			cell:       update.CellID,
			zones:      toZoneSet(e.index.ZonesForCell(update.CellID)),
			lastUpdate: ts,
		}
		return nil
	}

	if update.CellID == state.cell {
		state.lastUpdate = ts
		return nil
	}

	oldZones := state.zones
	newZones := toZoneSet(e.index.ZonesForCell(update.CellID))

	var events []GeofenceEvent
	for _, zoneID := range sortedDiff(oldZones, newZones) {
		events = append(events, e.newEvent(EventZoneExit, update, zoneID, state.cell, ts))
	}
	for _, zoneID := range sortedDiff(newZones, oldZones) {
		events = append(events, e.newEvent(EventZoneEnter, update, zoneID, update.CellID, ts))
	}

	state.cell = update.CellID
	state.zones = newZones
	state.lastUpdate = ts
	if update.EntityType != "" {
		state.entityType = update.EntityType
	}

	for _, event := range events {
		e.emit(event)
	}
	return events
}

// Remove discards tracking state for an entity, e.g. when its stream ends.
func (e *GeofenceEngine) Remove(entityID string) bool {
	if _, ok := e.entities[entityID]; !ok {
		return false
	}
	delete(e.entities, entityID)
	return true
}

// Entity returns the tracking state for one entity.
func (e *GeofenceEngine) Entity(entityID string) (TrackedEntity, bool) {
	state, ok := e.entities[entityID]
	if !ok {
		return TrackedEntity{}, false
	}
	return e.exportEntity(entityID, state), true
}

// Entities returns all tracked entities sorted by ID.
func (e *GeofenceEngine) Entities() []TrackedEntity {
	out := make([]TrackedEntity, 0, len(e.entities))
	for id, state := range e.entities {
		out = append(out, e.exportEntity(id, state))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

func (e *GeofenceEngine) exportEntity(id string, state *trackedState) TrackedEntity {
	zoneIDs := make([]string, 0, len(state.zones))
	for zoneID := range state.zones {
		zoneIDs = append(zoneIDs, zoneID)
	}
	sort.Strings(zoneIDs)
	return TrackedEntity{
		EntityID:       id,
		EntityType:     state.entityType,
		CurrentCellID:  state.cell,
		CurrentZoneIDs: zoneIDs,
		LastUpdateTime: state.lastUpdate,
	}
}

func (e *GeofenceEngine) newEvent(kind GeofenceEventType, update PositionUpdate, zoneID string, cell CellID, ts time.Time) GeofenceEvent {
	event := GeofenceEvent{
		Type:       kind,
		EntityID:   update.EntityID,
		EntityType: update.EntityType,
		ZoneID:     zoneID,
		CellID:     cell,
		Severity:   e.zoneSeverity(zoneID, ts),
		Timestamp:  ts,
	}
	if zone, ok := e.index.Zone(zoneID); ok {
		event.ZoneName = zone.Name
	}
	return event
}

// zoneSeverity is the highest severity among the zone's tags active at ts, or
// zero when none are active.
func (e *GeofenceEngine) zoneSeverity(zoneID string, ts time.Time) int {
	severity := 0
	for _, tag := range e.tagsByZone[zoneID] {
		if tag.ActiveAt(ts) && tag.Severity > severity {
			severity = tag.Severity
		}
	}
	return severity
}

func (e *GeofenceEngine) emit(event GeofenceEvent) {
	for _, l := range e.listeners {
		e.invoke(l, event)
	}
}

func (e *GeofenceEngine) invoke(l geofenceListener, event GeofenceEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.errors.Record(fmt.Sprintf("geofence listener %d", l.token), fmt.Errorf("%v", r))
		}
	}()
	l.fn(event)
}

func toZoneSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// sortedDiff returns the members of a not present in b, sorted.
func sortedDiff(a, b map[string]struct{}) []string {
	var out []string
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
