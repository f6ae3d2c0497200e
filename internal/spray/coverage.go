package spray

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/config"
)

// AreaCounts are the raw aggregates over a target area's canonical events.
type AreaCounts struct {
	Found         int `json:"found"`
	Sprayed       int `json:"sprayed"`
	Refused       int `json:"refused"`
	Other         int `json:"other"`
	NotSprayable  int `json:"not_sprayable"`
	NewStructures int `json:"new_structures"`
}

// CountArea tallies one area's deduplicated events. Every sprayable
// canonical event counts as found (it was visited and recorded); unsprayed
// ones split into refused/other by reason code.
func CountArea(events []SprayDay, cfg config.Deployment) AreaCounts {
	var c AreaCounts
	for _, e := range events {
		if e.NewStructure {
			c.NewStructures++
		}
		if !e.Sprayable {
			c.NotSprayable++
			continue
		}
		c.Found++
		if e.WasSprayed {
			c.Sprayed++
			continue
		}
		switch {
		case strings.EqualFold(e.Reason, cfg.ReasonRefused):
			c.Refused++
		case cfg.IsOtherReason(e.Reason):
			c.Other++
		}
	}
	return c
}

// AreaSummary is a target area's classified coverage state.
type AreaSummary struct {
	LocationID uuid.UUID `json:"location_id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`

	AreaCounts

	// Enumerated structures from the administrative load, before field
	// corrections.
	Enumerated      int `json:"enumerated"`
	TotalStructures int `json:"total_structures"`
	NotVisited      int `json:"not_visited"`

	FoundPercentage   float64 `json:"found_percentage"`
	SprayedPercentage float64 `json:"sprayed_percentage"`
	// SprayCoverage is sprayed over found.
	SprayCoverage float64 `json:"spray_coverage"`

	// 0/1 threshold flags, summed up the location tree.
	VisitedFlag int `json:"visited"`
	SprayedFlag int `json:"sprayed_effectively"`

	Band string `json:"band"`
}

// Summarize classifies an area against the deployment thresholds.
// totalStructures is the enumerated count corrected by field observations:
// newly discovered structures add, not-sprayable ones subtract.
func Summarize(loc Location, c AreaCounts, cfg config.Deployment) AreaSummary {
	total := loc.Structures + c.NewStructures - c.NotSprayable
	if total < 0 {
		total = 0
	}

	// Field teams can find more structures than the corrected total when the
	// enumeration undercounted; there is nothing left unvisited then.
	notVisited := total - c.Found
	if notVisited < 0 {
		notVisited = 0
	}

	s := AreaSummary{
		LocationID:      loc.ID,
		Code:            loc.Code,
		Name:            loc.Name,
		AreaCounts:      c,
		Enumerated:      loc.Structures,
		TotalStructures: total,
		NotVisited:      notVisited,
	}

	s.FoundPercentage = pct(c.Found, total)
	s.SprayedPercentage = pct(c.Sprayed, total)
	s.SprayCoverage = pct(c.Sprayed, c.Found)

	if s.FoundPercentage >= cfg.VisitedPercentage {
		s.VisitedFlag = 1
	}
	if s.SprayedPercentage >= cfg.SprayedPercentage {
		s.SprayedFlag = 1
	}
	s.Band = Band(s.SprayedPercentage)
	return s
}

func pct(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}

// Display color bands. These cut points are a reporting contract shared with
// the dashboards; the classification thresholds above are the configurable
// ones.
const (
	BandGreen  = "green"
	BandOrange = "orange"
	BandRed    = "red"
	BandYellow = "yellow"
)

func Band(sprayedPct float64) string {
	switch {
	case sprayedPct >= 85:
		return BandGreen
	case sprayedPct >= 75:
		return BandOrange
	case sprayedPct >= 20:
		return BandRed
	default:
		return BandYellow
	}
}

// RollupCounts sums child visited/sprayed values. At the level above target
// areas the children carry 0/1 flags, so this is a count of qualifying
// children; another level up it is a sum of counts. Never a re-derived
// percentage.
func RollupCounts(children []Location) (visited, sprayed int) {
	for _, c := range children {
		visited += c.Visited
		sprayed += c.Sprayed
	}
	return visited, sprayed
}

// Aggregator recomputes per-area coverage and propagates counters up the
// location tree. Recomputation is idempotent: it recounts from canonical
// rows rather than incrementing, so concurrent recomputes converge.
type Aggregator struct {
	cfg       config.Deployment
	locations LocationRepo
	days      SprayDayRepo
	log       *zap.Logger
}

func NewAggregator(cfg config.Deployment, locations LocationRepo, days SprayDayRepo, log *zap.Logger) *Aggregator {
	return &Aggregator{cfg: cfg, locations: locations, days: days, log: log}
}

// SummarizeArea computes an area's summary without writing anything.
func (a *Aggregator) SummarizeArea(ctx context.Context, areaID uuid.UUID) (AreaSummary, error) {
	loc, err := a.locations.Get(ctx, areaID)
	if err != nil {
		return AreaSummary{}, err
	}
	if loc == nil {
		return AreaSummary{}, fmt.Errorf("location %s not found", areaID)
	}
	events, err := a.days.CanonicalForArea(ctx, areaID)
	if err != nil {
		return AreaSummary{}, err
	}
	return Summarize(*loc, CountArea(events, a.cfg), a.cfg), nil
}

// RecomputeArea refreshes one target area's flags and rolls the change up
// through its ancestors.
func (a *Aggregator) RecomputeArea(ctx context.Context, areaID uuid.UUID) (AreaSummary, error) {
	summary, err := a.SummarizeArea(ctx, areaID)
	if err != nil {
		return AreaSummary{}, err
	}
	if err := a.locations.UpdateCounters(ctx, areaID, summary.VisitedFlag, summary.SprayedFlag); err != nil {
		return summary, err
	}

	loc, err := a.locations.Get(ctx, areaID)
	if err != nil {
		return summary, err
	}
	if err := a.rollupAncestors(ctx, loc.ParentID); err != nil {
		return summary, err
	}
	return summary, nil
}

func (a *Aggregator) rollupAncestors(ctx context.Context, parentID *uuid.UUID) error {
	for parentID != nil {
		parent, err := a.locations.Get(ctx, *parentID)
		if err != nil {
			return err
		}
		if parent == nil {
			return nil
		}
		children, err := a.locations.Children(ctx, parent.ID)
		if err != nil {
			return err
		}
		visited, sprayed := RollupCounts(children)
		if err := a.locations.UpdateCounters(ctx, parent.ID, visited, sprayed); err != nil {
			return err
		}
		parentID = parent.ParentID
	}
	return nil
}

// RecomputeAll refreshes every target area and the full tree. Used by the
// recompute CLI and after bulk imports.
func (a *Aggregator) RecomputeAll(ctx context.Context) (int, error) {
	areas, err := a.locations.AtLevel(ctx, LevelTargetArea)
	if err != nil {
		return 0, err
	}
	for _, area := range areas {
		if _, err := a.RecomputeArea(ctx, area.ID); err != nil {
			return 0, fmt.Errorf("recompute area %s: %w", area.Code, err)
		}
	}
	a.log.Info("coverage recomputed", zap.Int("target_areas", len(areas)))
	return len(areas), nil
}
