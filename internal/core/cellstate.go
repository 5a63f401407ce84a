package core

import (
	"math"
	"sort"
	"time"
)

// CellStateEngine derives per-cell risk state from zones and their
// time-bounded tags. It holds no derived results: SetZones and SetTags rebuild
// the internal indices wholesale (copy-on-write, so readers of a previous
// derivation see consistent inputs), and callers re-derive whenever zones,
// tags, or the query time change.
type CellStateEngine struct {
	index      *SpatialIndex
	tagsByZone map[string][]ZoneTag
}

// NewCellStateEngine constructs an engine with empty inputs.
func NewCellStateEngine() *CellStateEngine {
	return &CellStateEngine{
		index:      NewSpatialIndex(),
		tagsByZone: make(map[string][]ZoneTag),
	}
}

// SetZones replaces the zone input, rebuilding the cell→zone index. Inactive
// zones are excluded at build time.
func (e *CellStateEngine) SetZones(zones []Zone) {
	e.index = BuildSpatialIndex(zones)
}

// SetIndex replaces the zone input with an already-built index.
func (e *CellStateEngine) SetIndex(index *SpatialIndex) {
	if index == nil {
		index = NewSpatialIndex()
	}
	e.index = index
}

// SetTags replaces the tag input, rebuilding the zone→tag index. Tag order is
// normalized by ID so derivation is independent of input order.
func (e *CellStateEngine) SetTags(tags []ZoneTag) {
	byZone := make(map[string][]ZoneTag)
	for _, tag := range tags {
		byZone[tag.ZoneID] = append(byZone[tag.ZoneID], tag.Clone())
	}
	for zoneID := range byZone {
		zoneTags := byZone[zoneID]
		sort.Slice(zoneTags, func(i, j int) bool { return zoneTags[i].ID < zoneTags[j].ID })
	}
	e.tagsByZone = byZone
}

// DeriveSingle computes the state of one cell at instant now. With no active
// tags the cell reports risk 0, confidence 0, and all flags false.
func (e *CellStateEngine) DeriveSingle(cell CellID, now time.Time) CellState {
	zoneIDs := e.index.ZonesForCell(cell)
	state := CellState{
		CellID:    cell,
		ZoneIDs:   zoneIDs,
		DerivedAt: now,
	}
	for _, zoneID := range zoneIDs {
		for _, tag := range e.tagsByZone[zoneID] {
			if !tag.ActiveAt(now) {
				continue
			}
			state.Flags.Set(tag.Type)
			if score := riskScore(tag); score > state.EffectiveRiskScore {
				state.EffectiveRiskScore = score
			}
			if tag.Confidence > state.Confidence {
				state.Confidence = tag.Confidence
			}
		}
	}
	return state
}

// DeriveBatch computes states for a cell set at a single instant, keyed by
// position in the input. Suitable for driving a choropleth layer.
func (e *CellStateEngine) DeriveBatch(cells []CellID, now time.Time) []CellState {
	out := make([]CellState, 0, len(cells))
	for _, cell := range cells {
		out = append(out, e.DeriveSingle(cell, now))
	}
	return out
}

// riskScore maps a tag to its contribution: round(severity * confidence * 20),
// clamped to 0..100.
func riskScore(tag ZoneTag) int {
	score := int(math.Round(float64(tag.Severity) * tag.Confidence * 20))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
