package core

import (
	"context"
	"fmt"

	"zonecore/pkg/domain"
	"zonecore/pkg/hexgrid"
)

// NewCellResolutionRule returns the in-transaction rule rejecting zone cells
// that do not decode to valid grid cells at the canonical resolution.
func NewCellResolutionRule() domain.Rule {
	return cellResolutionRule{}
}

type cellResolutionRule struct{}

func (cellResolutionRule) Name() string { return "cell_resolution" }

func (cellResolutionRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, zone := range view.ListZones() {
		for _, cell := range zone.Cells {
			if !hexgrid.IsValidAtCanonicalResolution(cell) {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "cell_resolution",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("zone %s (%s) cell %q is not a canonical-resolution cell", zone.Name, zone.ID, cell),
					Record:   domain.RecordZone,
					RecordID: zone.ID,
				})
			}
		}
	}
	return res, nil
}

// NewDefaultRulesEngine builds a rules engine with the built-in governance
// policy set.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewZoneShapeRule())
	engine.Register(NewTagWindowRule())
	engine.Register(NewCellResolutionRule())
	return engine
}
