package spray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vectorlink/irs-backend/internal/geo"
)

// Repository interfaces. The engine components depend on these, not on gorm;
// tests substitute in-memory fakes. Lookup methods return (nil, nil) when
// nothing matches — absence is a normal outcome here, not an error.

type LocationRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*Location, error)
	// TargetAreaCovering finds the target area whose polygon covers the
	// given geometry (boundary-inclusive, for OSM way/node matches).
	TargetAreaCovering(ctx context.Context, wkt string) (*Location, error)
	// TargetAreaContainingPoint finds the target area containing a GPS point.
	TargetAreaContainingPoint(ctx context.Context, p geo.Point) (*Location, error)
	// TargetAreaByCode resolves a target area by code or name equality.
	TargetAreaByCode(ctx context.Context, code string) (*Location, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]Location, error)
	AtLevel(ctx context.Context, level Level) ([]Location, error)
	UpdateCounters(ctx context.Context, id uuid.UUID, visited, sprayed int) error
}

type HouseholdRepo interface {
	ByHHID(ctx context.Context, hhid string) (*Household, error)
	Upsert(ctx context.Context, hhid, geomWKT string, bufferWKT *string, locationID *uuid.UUID, attrs map[string]string) (*Household, error)
	MarkVisited(ctx context.Context, id uuid.UUID) error
}

type SprayDayRepo interface {
	// InsertIdempotent persists a new event or returns the existing one for
	// a duplicate submission id. The bool reports whether a row was created.
	InsertIdempotent(ctx context.Context, in Input, geomWKT *string) (*SprayDay, bool, error)
	SetResolution(ctx context.Context, id uuid.UUID, locationID, householdID *uuid.UUID, bufferWKT *string, dataID string, newStructure bool, attempted []string) error
	Unmatched(ctx context.Context, limit int) ([]SprayDay, error)
	// CanonicalForArea returns the area's canonical sprayable events (one
	// per structure via spray_points) plus its not-sprayable events. The two
	// sets are disjoint: not-sprayable events never enter via spray_points,
	// even though they are reconciled into it.
	CanonicalForArea(ctx context.Context, locationID uuid.UUID) ([]SprayDay, error)
	ForOperatorForm(ctx context.Context, operator, formID string) ([]SprayDay, error)
}

type SprayPointRepo interface {
	// Reconcile runs the atomic insert-or-supersede and returns the id of
	// the canonical SprayDay for the key after the operation.
	Reconcile(ctx context.Context, dataID string, locationID, sprayDayID uuid.UUID, wasSprayed bool) (uuid.UUID, error)
}

type PerformanceRepo interface {
	UpsertReport(ctx context.Context, report *PerformanceReport) error
	ByOperator(ctx context.Context, operator string) ([]PerformanceReport, error)
}

// Store implements every repository on a gorm Postgres handle.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// locationColumns excludes geom: the WKB blob is dead weight on every lookup
// and the engine never reads geometry back into Go.
const locationColumns = "id, code, name, level, parent_id, structures, visited, sprayed, priority"

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Location, error) {
	var loc Location
	err := s.db.WithContext(ctx).
		Select(locationColumns).
		First(&loc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return &loc, nil
}

func (s *Store) TargetAreaCovering(ctx context.Context, wkt string) (*Location, error) {
	return s.findTargetArea(ctx, `
		SELECT `+locationColumns+`
		FROM spray.locations
		WHERE level = 'ta'
		  AND geom IS NOT NULL
		  AND ST_Covers(geom, ST_GeomFromText(?, 4326))
		LIMIT 1
	`, wkt)
}

func (s *Store) TargetAreaContainingPoint(ctx context.Context, p geo.Point) (*Location, error) {
	return s.findTargetArea(ctx, `
		SELECT `+locationColumns+`
		FROM spray.locations
		WHERE level = 'ta'
		  AND geom IS NOT NULL
		  AND ST_Contains(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326))
		LIMIT 1
	`, p.Lng, p.Lat)
}

func (s *Store) TargetAreaByCode(ctx context.Context, code string) (*Location, error) {
	return s.findTargetArea(ctx, `
		SELECT `+locationColumns+`
		FROM spray.locations
		WHERE level = 'ta'
		  AND (code = ? OR LOWER(name) = LOWER(?))
		LIMIT 1
	`, code, code)
}

func (s *Store) findTargetArea(ctx context.Context, query string, args ...any) (*Location, error) {
	var locs []Location
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&locs).Error; err != nil {
		return nil, fmt.Errorf("target area lookup: %w", err)
	}
	if len(locs) == 0 {
		return nil, nil
	}
	return &locs[0], nil
}

func (s *Store) Children(ctx context.Context, parentID uuid.UUID) ([]Location, error) {
	var locs []Location
	err := s.db.WithContext(ctx).
		Select(locationColumns).
		Where("parent_id = ?", parentID).
		Order("code").
		Find(&locs).Error
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", parentID, err)
	}
	return locs, nil
}

func (s *Store) AtLevel(ctx context.Context, level Level) ([]Location, error) {
	var locs []Location
	err := s.db.WithContext(ctx).
		Select(locationColumns).
		Where("level = ?", level).
		Order("code").
		Find(&locs).Error
	if err != nil {
		return nil, fmt.Errorf("list %s locations: %w", level, err)
	}
	return locs, nil
}

func (s *Store) UpdateCounters(ctx context.Context, id uuid.UUID, visited, sprayed int) error {
	err := s.db.WithContext(ctx).
		Model(&Location{}).
		Where("id = ?", id).
		Updates(map[string]any{"visited": visited, "sprayed": sprayed}).Error
	if err != nil {
		return fmt.Errorf("update location counters: %w", err)
	}
	return nil
}

func (s *Store) ByHHID(ctx context.Context, hhid string) (*Household, error) {
	var hh Household
	err := s.db.WithContext(ctx).
		Select("id, hh_id, location_id, attributes, visited, sprayable").
		First(&hh, "hh_id = ?", hhid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("household by hh_id: %w", err)
	}
	return &hh, nil
}

func (s *Store) Upsert(ctx context.Context, hhid, geomWKT string, bufferWKT *string, locationID *uuid.UUID, attrs map[string]string) (*Household, error) {
	attrsJSON := "{}"
	if len(attrs) > 0 {
		buf, err := json.Marshal(attrs)
		if err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
		attrsJSON = string(buf)
	}

	err := s.db.WithContext(ctx).Exec(`
		INSERT INTO spray.households (id, hh_id, geom, buffer_geom, location_id, attributes, sprayable)
		VALUES (
			uuid_generate_v4(), ?,
			ST_GeomFromText(?, 4326),
			CASE WHEN ?::text IS NULL THEN NULL ELSE ST_GeomFromText(?::text, 4326) END,
			?, ?::jsonb, true
		)
		ON CONFLICT (hh_id) DO UPDATE SET
			buffer_geom = COALESCE(EXCLUDED.buffer_geom, households.buffer_geom),
			location_id = COALESCE(EXCLUDED.location_id, households.location_id),
			attributes  = COALESCE(households.attributes, '{}'::jsonb) || COALESCE(EXCLUDED.attributes, '{}'::jsonb)
	`, hhid, geomWKT, bufferWKT, bufferWKT, locationID, attrsJSON).Error
	if err != nil {
		return nil, fmt.Errorf("upsert household: %w", err)
	}
	return s.ByHHID(ctx, hhid)
}

func (s *Store) MarkVisited(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Model(&Household{}).
		Where("id = ?", id).
		Update("visited", true).Error
	if err != nil {
		return fmt.Errorf("mark household visited: %w", err)
	}
	return nil
}

func (s *Store) InsertIdempotent(ctx context.Context, in Input, geomWKT *string) (*SprayDay, bool, error) {
	raw, err := json.Marshal(in.Raw)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}

	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO spray.spray_days (
			id, submission_id, spray_date, geom, data,
			operator_code, team_leader_code, spray_form_id,
			was_sprayed, sprayable, reason, new_structure,
			start_time, end_time, created_at
		)
		VALUES (
			uuid_generate_v4(), ?, ?,
			CASE WHEN ?::text IS NULL THEN NULL ELSE ST_GeomFromText(?::text, 4326) END,
			?::jsonb, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW()
		)
		ON CONFLICT (submission_id) DO NOTHING
	`, in.SubmissionID, in.SprayDate, geomWKT, geomWKT, string(raw),
		in.OperatorCode, in.TeamLeaderCode, in.SprayFormID,
		in.WasSprayed, in.Sprayable, in.Reason, false,
		in.StartTime, in.EndTime)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert spray day: %w", res.Error)
	}
	created := res.RowsAffected > 0

	var sd SprayDay
	err = s.db.WithContext(ctx).
		Select(sprayDayColumns).
		First(&sd, "submission_id = ?", in.SubmissionID).Error
	if err != nil {
		return nil, created, fmt.Errorf("load spray day: %w", err)
	}
	return &sd, created, nil
}

const sprayDayColumns = `id, submission_id, spray_date, data, location_id, household_id,
	data_id, operator_code, team_leader_code, spray_form_id,
	was_sprayed, sprayable, reason, new_structure, strategies, start_time, end_time, created_at`

func (s *Store) SetResolution(ctx context.Context, id uuid.UUID, locationID, householdID *uuid.UUID, bufferWKT *string, dataID string, newStructure bool, attempted []string) error {
	err := s.db.WithContext(ctx).Exec(`
		UPDATE spray.spray_days SET
			location_id   = ?,
			household_id  = ?,
			buffer_geom   = CASE WHEN ?::text IS NULL THEN buffer_geom ELSE ST_GeomFromText(?::text, 4326) END,
			data_id       = ?,
			new_structure = ?,
			strategies    = ?
		WHERE id = ?
	`, locationID, householdID, bufferWKT, bufferWKT, dataID, newStructure, pq.StringArray(attempted), id).Error
	if err != nil {
		return fmt.Errorf("set spray day resolution: %w", err)
	}
	return nil
}

func (s *Store) Unmatched(ctx context.Context, limit int) ([]SprayDay, error) {
	var days []SprayDay
	q := s.db.WithContext(ctx).
		Select(sprayDayColumns).
		Where("location_id IS NULL").
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&days).Error; err != nil {
		return nil, fmt.Errorf("list unmatched events: %w", err)
	}
	return days, nil
}

// canonicalSelect picks the fields the aggregators count on.
const canonicalSelect = `sd.id, sd.submission_id, sd.data_id, sd.was_sprayed, sd.sprayable,
	sd.reason, sd.new_structure, sd.operator_code, sd.spray_form_id,
	sd.start_time, sd.end_time`

// The sprayable predicate on the spray_points branch keeps the UNION ALL
// branches disjoint: matched not-sprayable events are reconciled into
// spray_points too, and without it they would be selected by both branches
// and double-counted.

func (s *Store) CanonicalForArea(ctx context.Context, locationID uuid.UUID) ([]SprayDay, error) {
	var days []SprayDay
	err := s.db.WithContext(ctx).Raw(`
		SELECT `+canonicalSelect+`
		FROM spray.spray_days sd
		JOIN spray.spray_points sp ON sp.spray_day_id = sd.id
		WHERE sp.location_id = ? AND sd.sprayable = true
		UNION ALL
		SELECT `+canonicalSelect+`
		FROM spray.spray_days sd
		WHERE sd.location_id = ? AND sd.sprayable = false
	`, locationID, locationID).Scan(&days).Error
	if err != nil {
		return nil, fmt.Errorf("canonical events for area: %w", err)
	}
	return days, nil
}

func (s *Store) ForOperatorForm(ctx context.Context, operator, formID string) ([]SprayDay, error) {
	var days []SprayDay
	err := s.db.WithContext(ctx).Raw(`
		SELECT `+canonicalSelect+`
		FROM spray.spray_days sd
		JOIN spray.spray_points sp ON sp.spray_day_id = sd.id
		WHERE sd.operator_code = ? AND sd.spray_form_id = ? AND sd.sprayable = true
		UNION ALL
		SELECT `+canonicalSelect+`
		FROM spray.spray_days sd
		WHERE sd.operator_code = ? AND sd.spray_form_id = ? AND sd.sprayable = false
	`, operator, formID, operator, formID).Scan(&days).Error
	if err != nil {
		return nil, fmt.Errorf("events for operator/form: %w", err)
	}
	return days, nil
}

// Reconcile is the dedup engine's single atomic statement. The conditional
// update encodes the sticky-sprayed rule: an existing sprayed canonical row
// is never re-pointed; an unsprayed one is superseded by the newest event.
func (s *Store) Reconcile(ctx context.Context, dataID string, locationID, sprayDayID uuid.UUID, wasSprayed bool) (uuid.UUID, error) {
	dataID = TruncateDataID(dataID)

	var rows []struct{ SprayDayID uuid.UUID }
	err := s.db.WithContext(ctx).Raw(`
		INSERT INTO spray.spray_points (id, data_id, location_id, spray_day_id, was_sprayed)
		VALUES (uuid_generate_v4(), ?, ?, ?, ?)
		ON CONFLICT (data_id, location_id) DO UPDATE SET
			spray_day_id = EXCLUDED.spray_day_id,
			was_sprayed  = EXCLUDED.was_sprayed
		WHERE spray_points.was_sprayed = false
		RETURNING spray_day_id
	`, dataID, locationID, sprayDayID, wasSprayed).Scan(&rows).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("reconcile spray point: %w", err)
	}
	if len(rows) > 0 {
		return rows[0].SprayDayID, nil
	}

	// No insert and no update: the existing canonical event is sprayed and
	// this submission is a duplicate visit. Report the standing canonical.
	var sp SprayPoint
	err = s.db.WithContext(ctx).
		First(&sp, "data_id = ? AND location_id = ?", dataID, locationID).Error
	if err != nil {
		return uuid.Nil, fmt.Errorf("load canonical spray point: %w", err)
	}
	return sp.SprayDayID, nil
}

func (s *Store) UpsertReport(ctx context.Context, report *PerformanceReport) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "operator_code"}, {Name: "spray_form_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"team_leader_code", "found", "sprayed", "refused", "other",
			"not_sprayable", "reported_found", "reported_sprayed",
			"found_difference", "sprayed_difference",
			"start_time", "end_time", "data_quality_check", "updated_at",
		}),
	}).Create(report).Error
	if err != nil {
		return fmt.Errorf("upsert performance report: %w", err)
	}
	return nil
}

func (s *Store) ByOperator(ctx context.Context, operator string) ([]PerformanceReport, error) {
	var reports []PerformanceReport
	err := s.db.WithContext(ctx).
		Where("operator_code = ?", operator).
		Order("spray_form_id").
		Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("reports by operator: %w", err)
	}
	return reports, nil
}
