package core

import "sort"

// SpatialIndex is a bidirectional mapping between grid cells and the active
// zones covering them. An index value is immutable once published: Build and
// UpdateForZoneChange return fresh values, so readers holding a previous index
// never observe a half-updated structure. Inactive zones are excluded
// entirely; the zone records themselves, not the index, preserve their
// history.
type SpatialIndex struct {
	cellToZones map[CellID]map[string]struct{}
	zoneToCells map[string]map[CellID]struct{}
	zonesByID   map[string]Zone
}

// NewSpatialIndex returns an empty index.
func NewSpatialIndex() *SpatialIndex {
	return &SpatialIndex{
		cellToZones: make(map[CellID]map[string]struct{}),
		zoneToCells: make(map[string]map[CellID]struct{}),
		zonesByID:   make(map[string]Zone),
	}
}

// BuildSpatialIndex performs a full scan over the zone collection. Cost is
// linear in the total number of cells across active zones.
func BuildSpatialIndex(zones []Zone) *SpatialIndex {
	ix := NewSpatialIndex()
	for _, zone := range zones {
		if !zone.Active {
			continue
		}
		ix.addZone(zone)
	}
	return ix
}

// ZonesForCell returns the IDs of active zones containing cell, sorted. A cell
// covered by no zone yields an empty slice, never an error.
func (ix *SpatialIndex) ZonesForCell(cell CellID) []string {
	ids := ix.cellToZones[cell]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CellsForZone returns the cells of an indexed zone, sorted. Unknown or
// inactive zones yield an empty slice.
func (ix *SpatialIndex) CellsForZone(zoneID string) []CellID {
	cells := ix.zoneToCells[zoneID]
	out := make([]CellID, 0, len(cells))
	for c := range cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Zone returns the indexed zone record by ID.
func (ix *SpatialIndex) Zone(id string) (Zone, bool) {
	z, ok := ix.zonesByID[id]
	if !ok {
		return Zone{}, false
	}
	return z.Clone(), true
}

// ZoneIDs returns the IDs of all indexed zones, sorted.
func (ix *SpatialIndex) ZoneIDs() []string {
	out := make([]string, 0, len(ix.zonesByID))
	for id := range ix.zonesByID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CellCount returns the number of distinct cells covered by at least one
// active zone.
func (ix *SpatialIndex) CellCount() int { return len(ix.cellToZones) }

// ZoneCount returns the number of indexed (active) zones.
func (ix *SpatialIndex) ZoneCount() int { return len(ix.zonesByID) }

// UpdateForZoneChange applies a single-zone edit incrementally and returns a
// new index value. All of oldZone's cell entries are removed first (a cell's
// entry is deleted entirely when its last referencing zone goes away), then
// newZone's entries are added if newZone is active. A deactivated newZone is
// treated identically to removal. The operation is idempotent: applying the
// same oldZone→newZone transition twice converges to the same index.
func (ix *SpatialIndex) UpdateForZoneChange(oldZone, newZone *Zone) *SpatialIndex {
	next := ix.clone()
	if oldZone != nil {
		next.removeZone(oldZone.ID)
	}
	if newZone != nil {
		// Remove any prior entries for the same zone so re-adding cannot
		// leave stale cells behind.
		next.removeZone(newZone.ID)
		if newZone.Active {
			next.addZone(*newZone)
		}
	}
	return next
}

func (ix *SpatialIndex) clone() *SpatialIndex {
	next := NewSpatialIndex()
	for cell, ids := range ix.cellToZones {
		cp := make(map[string]struct{}, len(ids))
		for id := range ids {
			cp[id] = struct{}{}
		}
		next.cellToZones[cell] = cp
	}
	for id, cells := range ix.zoneToCells {
		cp := make(map[CellID]struct{}, len(cells))
		for c := range cells {
			cp[c] = struct{}{}
		}
		next.zoneToCells[id] = cp
	}
	for id, z := range ix.zonesByID {
		next.zonesByID[id] = z.Clone()
	}
	return next
}

func (ix *SpatialIndex) addZone(zone Zone) {
	cells := make(map[CellID]struct{}, len(zone.Cells))
	for _, cell := range zone.Cells {
		cells[cell] = struct{}{}
		set, ok := ix.cellToZones[cell]
		if !ok {
			set = make(map[string]struct{})
			ix.cellToZones[cell] = set
		}
		set[zone.ID] = struct{}{}
	}
	ix.zoneToCells[zone.ID] = cells
	ix.zonesByID[zone.ID] = zone.Clone()
}

func (ix *SpatialIndex) removeZone(zoneID string) {
	cells, ok := ix.zoneToCells[zoneID]
	if !ok {
		return
	}
	for cell := range cells {
		set := ix.cellToZones[cell]
		delete(set, zoneID)
		if len(set) == 0 {
			delete(ix.cellToZones, cell)
		}
	}
	delete(ix.zoneToCells, zoneID)
	delete(ix.zonesByID, zoneID)
}
