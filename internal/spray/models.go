package spray

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Level of a node in the administrative hierarchy. Target areas (ta) are the
// unit of coverage reporting; rhc is the health-facility catchment.
type Level string

const (
	LevelDistrict   Level = "district"
	LevelRHC        Level = "rhc"
	LevelTargetArea Level = "ta"
)

// JSONB stores an opaque JSON document in a jsonb column. The raw submission
// payload is kept verbatim for audit and repair tooling.
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", src)
	}
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	if j == nil {
		return fmt.Errorf("spray.JSONB: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[:0], data...)
	return nil
}

// JSONMap stores a string map in a jsonb column (structure attribute bags,
// OSM tag maps).
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
}

// Location is a node in the 4-level administrative tree
// (district → rhc → target area). Geometry is nullable: some deployments run
// without polygons and match on location codes instead.
//
// Visited and Sprayed are count-of-qualifying-children counters: 0/1 flags at
// target-area level, sums of child values above.
type Location struct {
	ID       uuid.UUID  `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	Code     string     `json:"code" gorm:"size:50;index"`
	Name     string     `json:"name"`
	Level    Level      `json:"level" gorm:"size:10;index"`
	ParentID *uuid.UUID `json:"parent_id" gorm:"type:uuid;index"`

	// POLYGON or MULTIPOLYGON in WGS84 (SRID 4326).
	Geom *string `json:"-" gorm:"type:geometry(Geometry,4326)"`

	// Enumerated structures on the ground, from the administrative load.
	Structures int  `json:"structures"`
	Visited    int  `json:"visited"`
	Sprayed    int  `json:"sprayed"`
	Priority   *int `json:"priority,omitempty"`
}

func (Location) TableName() string { return "spray.locations" }

// Household is a physical structure, usually identified by its OSM way or
// node id. BufferGeom, when present, covers the centroid.
type Household struct {
	ID         uuid.UUID  `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	HHID       string     `json:"hh_id" gorm:"size:50;uniqueIndex"`
	Geom       string     `json:"-" gorm:"type:geometry(Point,4326)"`
	BufferGeom *string    `json:"-" gorm:"type:geometry(Polygon,4326)"`
	LocationID *uuid.UUID `json:"location_id" gorm:"type:uuid;index"`
	Attributes JSONMap    `json:"attributes" gorm:"type:jsonb"`
	Visited    bool       `json:"visited"`
	Sprayable  bool       `json:"sprayable" gorm:"default:true"`
}

func (Household) TableName() string { return "spray.households" }

// SprayDay is one submission: an attempt to spray a structure on a date.
// Location/Household stay nil until the matcher resolves them; unresolved
// events are excluded from rollups and picked up by the repair pass.
type SprayDay struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	SubmissionID int64     `json:"submission_id" gorm:"uniqueIndex"`
	SprayDate    time.Time `json:"spray_date" gorm:"type:date;index"`

	Geom       *string `json:"-" gorm:"type:geometry(Point,4326)"`
	BufferGeom *string `json:"-" gorm:"type:geometry(Polygon,4326)"`

	// Raw form answers, verbatim.
	Data JSONB `json:"data" gorm:"type:jsonb"`

	LocationID  *uuid.UUID `json:"location_id" gorm:"type:uuid;index"`
	HouseholdID *uuid.UUID `json:"household_id" gorm:"type:uuid;index"`

	// Dedup key: OSM way/node id or new-structure GPS marker, ≤50 chars.
	DataID string `json:"data_id" gorm:"size:50;index"`

	OperatorCode   string `json:"operator_code" gorm:"size:50;index"`
	TeamLeaderCode string `json:"team_leader_code" gorm:"size:50"`
	SprayFormID    string `json:"spray_form_id" gorm:"size:100;index"`

	WasSprayed   bool   `json:"was_sprayed" gorm:"index"`
	Sprayable    bool   `json:"sprayable" gorm:"default:true"`
	Reason       string `json:"reason" gorm:"size:50"`
	NewStructure bool   `json:"new_structure"`

	// Match strategies attempted, in order. Populated even when none
	// succeeded, so the mismatch report shows what was tried.
	Strategies pq.StringArray `json:"strategies,omitempty" gorm:"type:text[]"`

	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`

	CreatedAt time.Time `json:"created_at"`
}

func (SprayDay) TableName() string { return "spray.spray_days" }

// SprayPoint maps a (data_id, location) pair to the one canonical SprayDay
// for that physical structure. WasSprayed is denormalized so supersession can
// be a single conditional upsert.
type SprayPoint struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	DataID     string    `json:"data_id" gorm:"size:50"`
	LocationID uuid.UUID `json:"location_id" gorm:"type:uuid"`
	SprayDayID uuid.UUID `json:"spray_day_id" gorm:"type:uuid;index"`
	WasSprayed bool      `json:"was_sprayed"`
}

func (SprayPoint) TableName() string { return "spray.spray_points" }

// PerformanceReport is the per-operator, per-form-submission aggregate with
// the reported-vs-actual cross-check. Upserts key on
// (operator_code, spray_form_id).
type PerformanceReport struct {
	ID             uuid.UUID `json:"id" gorm:"type:uuid;default:uuid_generate_v4();primaryKey"`
	OperatorCode   string    `json:"operator_code" gorm:"size:50"`
	SprayFormID    string    `json:"spray_form_id" gorm:"size:100"`
	TeamLeaderCode string    `json:"team_leader_code" gorm:"size:50"`

	Found        int `json:"found"`
	Sprayed      int `json:"sprayed"`
	Refused      int `json:"refused"`
	Other        int `json:"other"`
	NotSprayable int `json:"not_sprayable"`

	ReportedFound     int `json:"reported_found"`
	ReportedSprayed   int `json:"reported_sprayed"`
	FoundDifference   int `json:"found_difference"`
	SprayedDifference int `json:"sprayed_difference"`

	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`

	DataQualityCheck bool `json:"data_quality_check"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (PerformanceReport) TableName() string { return "spray.performance_reports" }
