package core

import (
	"context"
	"fmt"

	"zonecore/pkg/domain"
)

// NewZoneShapeRule returns the in-transaction rule enforcing zone structural
// invariants: a non-empty name, at least one cell, and no duplicate cells.
// Removing the last cell is forbidden; deactivation is the only removal path.
func NewZoneShapeRule() domain.Rule {
	return zoneShapeRule{}
}

type zoneShapeRule struct{}

func (zoneShapeRule) Name() string { return "zone_shape" }

func (zoneShapeRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, zone := range view.ListZones() {
		if zone.Name == "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "zone_shape",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("zone %s has an empty name", zone.ID),
				Record:   domain.RecordZone,
				RecordID: zone.ID,
			})
		}
		if len(zone.Cells) == 0 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "zone_shape",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("zone %s (%s) has no cells; deactivate instead of emptying", zone.Name, zone.ID),
				Record:   domain.RecordZone,
				RecordID: zone.ID,
			})
		}
		seen := make(map[domain.CellID]struct{}, len(zone.Cells))
		for _, cell := range zone.Cells {
			if _, dup := seen[cell]; dup {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "zone_shape",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("zone %s (%s) contains duplicate cell %s", zone.Name, zone.ID, cell),
					Record:   domain.RecordZone,
					RecordID: zone.ID,
				})
				break
			}
			seen[cell] = struct{}{}
		}
	}
	return res, nil
}
