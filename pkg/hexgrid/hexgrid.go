// Package hexgrid canonicalizes geography onto the fixed hexagonal grid used
// by every zonecore engine. It is a thin, pure layer over H3: all cells live
// at one process-wide resolution, and identifiers at any other resolution are
// rejected. Changing the resolution is a data migration, not a parameter.
package hexgrid

import (
	"fmt"
	"math"

	h3 "github.com/uber/h3-go/v4"

	"zonecore/pkg/domain"
)

// Resolution is the canonical H3 resolution for all zonecore cells. Cells at
// this resolution average roughly 0.1 km², fine enough for fleet telemetry
// while keeping zone cell sets small.
const Resolution = 9

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ErrInvalidCoordinate reports a latitude/longitude outside the valid range.
type ErrInvalidCoordinate struct {
	Lat float64
	Lng float64
}

func (e ErrInvalidCoordinate) Error() string {
	return fmt.Sprintf("invalid coordinate lat=%v lng=%v", e.Lat, e.Lng)
}

// ErrInvalidCell reports a cell identifier that does not decode to a valid H3
// cell at the canonical resolution.
type ErrInvalidCell struct {
	Cell domain.CellID
}

func (e ErrInvalidCell) Error() string {
	return fmt.Sprintf("invalid cell identifier %q at canonical resolution %d", e.Cell, Resolution)
}

// CoordinateToCell converts a coordinate to its canonical-resolution cell.
// Invalid coordinates produce an error, never a nearest-guess cell.
func CoordinateToCell(lat, lng float64) (domain.CellID, error) {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", ErrInvalidCoordinate{Lat: lat, Lng: lng}
	}
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lng), Resolution)
	return domain.CellID(cell.String()), nil
}

// CellToBoundary returns the cell's boundary as a closed polygon ring: the
// first coordinate is repeated at the end.
func CellToBoundary(cell domain.CellID) ([]Coordinate, error) {
	c, err := parse(cell)
	if err != nil {
		return nil, err
	}
	boundary := h3.CellToBoundary(c)
	ring := make([]Coordinate, 0, len(boundary)+1)
	for _, v := range boundary {
		ring = append(ring, Coordinate{Lat: v.Lat, Lng: v.Lng})
	}
	if len(ring) > 0 {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

// CellCenter returns the cell's center coordinate.
func CellCenter(cell domain.CellID) (Coordinate, error) {
	c, err := parse(cell)
	if err != nil {
		return Coordinate{}, err
	}
	center := h3.CellToLatLng(c)
	return Coordinate{Lat: center.Lat, Lng: center.Lng}, nil
}

// CellsInRadius returns the k-ring around cell, inclusive of the center cell.
func CellsInRadius(cell domain.CellID, k int) ([]domain.CellID, error) {
	if k < 0 {
		return nil, fmt.Errorf("k-ring radius must be non-negative, got %d", k)
	}
	c, err := parse(cell)
	if err != nil {
		return nil, err
	}
	disk := h3.GridDisk(c, k)
	out := make([]domain.CellID, 0, len(disk))
	for _, d := range disk {
		out = append(out, domain.CellID(d.String()))
	}
	return out, nil
}

// Neighbors returns the cells directly adjacent to cell, excluding the cell
// itself.
func Neighbors(cell domain.CellID) ([]domain.CellID, error) {
	ring, err := CellsInRadius(cell, 1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CellID, 0, len(ring)-1)
	for _, c := range ring {
		if c != cell {
			out = append(out, c)
		}
	}
	return out, nil
}

// IsValidAtCanonicalResolution reports whether cell decodes to a valid H3 cell
// at the canonical resolution.
func IsValidAtCanonicalResolution(cell domain.CellID) bool {
	_, err := parse(cell)
	return err == nil
}

func parse(cell domain.CellID) (h3.Cell, error) {
	if cell == "" {
		return 0, ErrInvalidCell{Cell: cell}
	}
	c := h3.Cell(h3.IndexFromString(string(cell)))
	if !c.IsValid() || c.Resolution() != Resolution {
		return 0, ErrInvalidCell{Cell: cell}
	}
	return c, nil
}
