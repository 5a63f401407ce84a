// Command geofence-sim seeds a handful of tagged zones around a coordinate,
// random-walks simulated entities across the grid, and prints the geofence
// events and derived cell states produced along the way.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"zonecore/internal/core"
	"zonecore/internal/infra/persistence/memory"
	"zonecore/pkg/domain"
	"zonecore/pkg/hexgrid"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("geofence-sim", flag.ContinueOnError)
	lat := fs.Float64("lat", 37.7749, "center latitude")
	lng := fs.Float64("lng", -122.4194, "center longitude")
	zones := fs.Int("zones", 3, "number of zones to seed")
	entities := fs.Int("entities", 4, "number of tracked entities")
	steps := fs.Int("steps", 25, "random-walk steps per entity")
	seed := fs.Int64("seed", 42, "random seed")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rng := rand.New(rand.NewSource(*seed))
	store := memory.NewStore(core.NewDefaultRulesEngine())
	svc := core.NewService(store, domain.ModePlanning)

	center, err := hexgrid.CoordinateToCell(*lat, *lng)
	if err != nil {
		fmt.Fprintf(os.Stderr, "center coordinate: %v\n", err)
		return 1
	}
	area, err := hexgrid.CellsInRadius(center, 4)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed area: %v\n", err)
		return 1
	}

	for i := 0; i < *zones; i++ {
		if err := seedZone(ctx, svc, rng, area, i+1); err != nil {
			fmt.Fprintf(os.Stderr, "seed zone %d: %v\n", i+1, err)
			return 1
		}
	}

	if err := svc.Interaction().SetMode(domain.ModeMonitoring); err != nil {
		fmt.Fprintf(os.Stderr, "switch mode: %v\n", err)
		return 1
	}

	events := 0
	token := svc.SubscribeGeofence(func(ev domain.GeofenceEvent) {
		events++
		fmt.Printf("%s %-10s entity=%s zone=%s cell=%s severity=%d\n",
			ev.Timestamp.Format(time.TimeOnly), ev.Type, ev.EntityID, ev.ZoneName, ev.CellID, ev.Severity)
	})
	defer svc.UnsubscribeGeofence(token)

	ts := time.Now().UTC()
	cells := make([]domain.CellID, *entities)
	for e := range cells {
		cells[e] = area[rng.Intn(len(area))]
	}
	for step := 0; step < *steps; step++ {
		for e := 0; e < *entities; e++ {
			neighbors, err := hexgrid.Neighbors(cells[e])
			if err != nil || len(neighbors) == 0 {
				continue
			}
			cells[e] = neighbors[rng.Intn(len(neighbors))]
			svc.ProcessPosition(domain.PositionUpdate{
				EntityID:   fmt.Sprintf("unit-%02d", e+1),
				EntityType: "vehicle",
				CellID:     cells[e],
				Timestamp:  ts,
			})
		}
		ts = ts.Add(time.Second)
	}

	now := time.Now().UTC()
	flagged := 0
	for _, state := range svc.CellStates(area, now) {
		if state.EffectiveRiskScore > 0 {
			flagged++
		}
	}
	fmt.Printf("\n%d geofence events, %d of %d cells carry risk, %d audit records\n",
		events, flagged, len(area), len(svc.AuditRecords(0)))
	return 0
}

// seedZone walks the interaction machine through draw -> confirm to create a
// zone, then select -> tag -> confirm to apply a tag to it.
func seedZone(ctx context.Context, svc *core.Service, rng *rand.Rand, area []domain.CellID, n int) error {
	zoneCells, err := hexgrid.CellsInRadius(area[rng.Intn(len(area))], 1)
	if err != nil {
		return err
	}
	ic := svc.Interaction()
	if err := ic.Transition(domain.StateDraw, "draw simulated zone"); err != nil {
		return err
	}
	if err := svc.StageZoneCreate(domain.Zone{Name: fmt.Sprintf("zone-%02d", n), Cells: zoneCells}, "simulated zone"); err != nil {
		return err
	}
	if err := ic.Transition(domain.StateConfirm, "review staged zone"); err != nil {
		return err
	}
	rec, _, err := svc.Confirm(ctx, "sim-operator", "seed simulation zone")
	if err != nil {
		return err
	}
	if err := ic.Transition(domain.StateIdle, "zone committed"); err != nil {
		return err
	}

	if err := ic.Transition(domain.StateSelect, "select zone for tagging"); err != nil {
		return err
	}
	if err := ic.Transition(domain.StateTag, "apply simulated tag"); err != nil {
		return err
	}
	tag := domain.ZoneTag{
		ZoneID:     rec.EntityID,
		Type:       domain.TagTypes()[rng.Intn(len(domain.TagTypes()))],
		Severity:   1 + rng.Intn(5),
		Confidence: 0.5 + rng.Float64()/2,
		ValidFrom:  time.Now().UTC(),
	}
	if err := svc.StageTagApply(tag, "simulated tag"); err != nil {
		return err
	}
	if err := ic.Transition(domain.StateConfirm, "review staged tag"); err != nil {
		return err
	}
	if _, _, err := svc.Confirm(ctx, "sim-operator", "seed simulation tag"); err != nil {
		return err
	}
	return ic.Transition(domain.StateIdle, "tag committed")
}
