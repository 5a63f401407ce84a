package core

import (
	"testing"
	"time"

	"zonecore/pkg/hexgrid"
)

// gridCells returns the k-ring around (lat, lng) as canonical cells for use
// as zone geometry in tests.
func gridCells(t *testing.T, lat, lng float64, k int) []CellID {
	t.Helper()
	center, err := hexgrid.CoordinateToCell(lat, lng)
	if err != nil {
		t.Fatalf("CoordinateToCell(%v, %v): %v", lat, lng, err)
	}
	cells, err := hexgrid.CellsInRadius(center, k)
	if err != nil {
		t.Fatalf("CellsInRadius(%s, %d): %v", center, k, err)
	}
	return cells
}

// fixedClock returns a nowFn pinned to ts.
func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

var testEpoch = time.Date(2026, 6, 15, 9, 30, 0, 0, time.UTC)
