package spray

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vectorlink/irs-backend/internal/forms"
	"github.com/vectorlink/irs-backend/internal/geo"
)

// fakeStore is an in-memory stand-in for Store implementing every repository
// interface, honoring the same contracts: (nil, nil) on absent lookups and the
// sticky-sprayed conditional upsert in Reconcile.
type fakeStore struct {
	mu sync.Mutex

	locations map[uuid.UUID]*Location
	byCode    map[string]*Location

	// Canned spatial answers; the fake does not evaluate geometry.
	areaForWKT   *Location
	areaForPoint *Location

	households map[string]*Household

	daysBySubmission map[int64]*SprayDay
	daysByID         map[uuid.UUID]*SprayDay

	points map[string]*SprayPoint

	reports map[string]*PerformanceReport
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		locations:        map[uuid.UUID]*Location{},
		byCode:           map[string]*Location{},
		households:       map[string]*Household{},
		daysBySubmission: map[int64]*SprayDay{},
		daysByID:         map[uuid.UUID]*SprayDay{},
		points:           map[string]*SprayPoint{},
		reports:          map[string]*PerformanceReport{},
	}
}

func (f *fakeStore) addLocation(loc *Location) *Location {
	if loc.ID == uuid.Nil {
		loc.ID = uuid.New()
	}
	f.locations[loc.ID] = loc
	if loc.Code != "" {
		f.byCode[loc.Code] = loc
	}
	return loc
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locations[id], nil
}

func (f *fakeStore) TargetAreaCovering(_ context.Context, _ string) (*Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.areaForWKT, nil
}

func (f *fakeStore) TargetAreaContainingPoint(_ context.Context, _ geo.Point) (*Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.areaForPoint, nil
}

func (f *fakeStore) TargetAreaByCode(_ context.Context, code string) (*Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byCode[code], nil
}

func (f *fakeStore) Children(_ context.Context, parentID uuid.UUID) ([]Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Location
	for _, loc := range f.locations {
		if loc.ParentID != nil && *loc.ParentID == parentID {
			out = append(out, *loc)
		}
	}
	return out, nil
}

func (f *fakeStore) AtLevel(_ context.Context, level Level) ([]Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Location
	for _, loc := range f.locations {
		if loc.Level == level {
			out = append(out, *loc)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateCounters(_ context.Context, id uuid.UUID, visited, sprayed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, ok := f.locations[id]
	if !ok {
		return fmt.Errorf("no location %s", id)
	}
	loc.Visited = visited
	loc.Sprayed = sprayed
	return nil
}

func (f *fakeStore) ByHHID(_ context.Context, hhid string) (*Household, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.households[hhid], nil
}

func (f *fakeStore) Upsert(_ context.Context, hhid, geomWKT string, bufferWKT *string, locationID *uuid.UUID, attrs map[string]string) (*Household, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hh, ok := f.households[hhid]
	if !ok {
		hh = &Household{ID: uuid.New(), HHID: hhid, Sprayable: true}
		f.households[hhid] = hh
	}
	hh.Geom = geomWKT
	if bufferWKT != nil {
		hh.BufferGeom = bufferWKT
	}
	if locationID != nil {
		hh.LocationID = locationID
	}
	if len(attrs) > 0 {
		hh.Attributes = attrs
	}
	return hh, nil
}

func (f *fakeStore) MarkVisited(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, hh := range f.households {
		if hh.ID == id {
			hh.Visited = true
			return nil
		}
	}
	return fmt.Errorf("no household %s", id)
}

func (f *fakeStore) InsertIdempotent(_ context.Context, in Input, geomWKT *string) (*SprayDay, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.daysBySubmission[in.SubmissionID]; ok {
		return existing, false, nil
	}
	raw, err := json.Marshal(in.Raw)
	if err != nil {
		return nil, false, err
	}
	day := &SprayDay{
		ID:             uuid.New(),
		SubmissionID:   in.SubmissionID,
		SprayDate:      in.SprayDate,
		Geom:           geomWKT,
		Data:           JSONB(raw),
		OperatorCode:   in.OperatorCode,
		TeamLeaderCode: in.TeamLeaderCode,
		SprayFormID:    in.SprayFormID,
		WasSprayed:     in.WasSprayed,
		Sprayable:      in.Sprayable,
		Reason:         in.Reason,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
	}
	f.daysBySubmission[in.SubmissionID] = day
	f.daysByID[day.ID] = day
	return day, true, nil
}

func (f *fakeStore) SetResolution(_ context.Context, id uuid.UUID, locationID, householdID *uuid.UUID, bufferWKT *string, dataID string, newStructure bool, attempted []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	day, ok := f.daysByID[id]
	if !ok {
		return fmt.Errorf("no spray day %s", id)
	}
	day.LocationID = locationID
	day.HouseholdID = householdID
	day.BufferGeom = bufferWKT
	day.DataID = dataID
	day.NewStructure = newStructure
	day.Strategies = pq.StringArray(attempted)
	return nil
}

func (f *fakeStore) Unmatched(_ context.Context, limit int) ([]SprayDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SprayDay
	for _, day := range f.daysByID {
		if day.LocationID == nil {
			out = append(out, *day)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// CanonicalForArea and ForOperatorForm mirror the production UNION ALL
// verbatim: a canonical-sprayable branch over points and a not-sprayable
// branch over days. No cross-branch dedup, so an event satisfying both
// branches would show up twice here exactly as it would in SQL.
func (f *fakeStore) CanonicalForArea(_ context.Context, locationID uuid.UUID) ([]SprayDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SprayDay
	for _, p := range f.points {
		if p.LocationID != locationID {
			continue
		}
		if day, ok := f.daysByID[p.SprayDayID]; ok && day.Sprayable {
			out = append(out, *day)
		}
	}
	for _, day := range f.daysByID {
		if !day.Sprayable && day.LocationID != nil && *day.LocationID == locationID {
			out = append(out, *day)
		}
	}
	return out, nil
}

func (f *fakeStore) ForOperatorForm(_ context.Context, operator, formID string) ([]SprayDay, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SprayDay
	for _, p := range f.points {
		day, ok := f.daysByID[p.SprayDayID]
		if !ok || !day.Sprayable {
			continue
		}
		if day.OperatorCode == operator && day.SprayFormID == formID {
			out = append(out, *day)
		}
	}
	for _, day := range f.daysByID {
		if !day.Sprayable && day.OperatorCode == operator && day.SprayFormID == formID {
			out = append(out, *day)
		}
	}
	return out, nil
}

// Reconcile mirrors the conditional upsert: an existing sprayed canonical is
// never replaced; anything else yields to the incoming event.
func (f *fakeStore) Reconcile(_ context.Context, dataID string, locationID, sprayDayID uuid.UUID, wasSprayed bool) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dataID + "|" + locationID.String()
	if existing, ok := f.points[key]; ok {
		if existing.WasSprayed {
			return existing.SprayDayID, nil
		}
		existing.SprayDayID = sprayDayID
		existing.WasSprayed = wasSprayed
		return sprayDayID, nil
	}
	f.points[key] = &SprayPoint{
		ID:         uuid.New(),
		DataID:     dataID,
		LocationID: locationID,
		SprayDayID: sprayDayID,
		WasSprayed: wasSprayed,
	}
	return sprayDayID, nil
}

func (f *fakeStore) UpsertReport(_ context.Context, report *PerformanceReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := report.OperatorCode + "|" + report.SprayFormID
	if existing, ok := f.reports[key]; ok {
		report.ID = existing.ID
	} else if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	f.reports[key] = report
	return nil
}

func (f *fakeStore) ByOperator(_ context.Context, operator string) ([]PerformanceReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PerformanceReport
	for _, r := range f.reports {
		if r.OperatorCode == operator {
			out = append(out, *r)
		}
	}
	return out, nil
}

// fakeFetcher serves canned OSM attachments keyed by the submission's osm
// field value.
type fakeFetcher struct {
	attachments map[string][]byte
	err         error
	calls       int
}

func (f *fakeFetcher) FetchOSMAttachment(_ context.Context, _ map[string]any, osmValue string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.attachments[osmValue], nil
}

// fakeSummaries serves canned daily summaries keyed by form id.
type fakeSummaries struct {
	summaries map[string]forms.DailySummary
	err       error
}

func (f *fakeSummaries) FetchDailySummary(_ context.Context, formID string) (forms.DailySummary, bool, error) {
	if f.err != nil {
		return forms.DailySummary{}, false, f.err
	}
	s, ok := f.summaries[formID]
	return s, ok, nil
}
