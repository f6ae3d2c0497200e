// Package config holds the per-deployment settings that vary between spray
// campaigns: which form fields encode what, the coverage thresholds, and the
// structure buffer width. Components receive a Deployment value at
// construction time; nothing reads ambient globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// Deployment describes one campaign's form-field conventions and thresholds.
type Deployment struct {
	Name string `yaml:"name"`

	// Form field names in the raw submission payload.
	SubmissionIDField string   `yaml:"submission_id_field"`
	DateField         string   `yaml:"date_field"`
	GPSFields         []string `yaml:"gps_fields"`
	OSMField          string   `yaml:"osm_field"`
	LocationCodeFields []string `yaml:"location_code_fields"`
	WasSprayedField   string   `yaml:"was_sprayed_field"`
	SprayedValue      string   `yaml:"sprayed_value"`
	SprayableField    string   `yaml:"sprayable_field"`
	NotSprayableValue string   `yaml:"not_sprayable_value"`
	ReasonField       string   `yaml:"reason_field"`
	ReasonRefused     string   `yaml:"reason_refused"`
	ReasonOther       []string `yaml:"reason_other"`
	OperatorField     string   `yaml:"operator_field"`
	TeamLeaderField   string   `yaml:"team_leader_field"`
	FormIDField       string   `yaml:"form_id_field"`
	StartField        string   `yaml:"start_field"`
	EndField          string   `yaml:"end_field"`

	// Prefix marking structures discovered in the field (not enumerated).
	NewStructurePrefix string `yaml:"new_structure_prefix"`

	// Matching behavior.
	SpatialQueries           bool `yaml:"spatial_queries"`
	FallbackToSubmissionData bool `yaml:"fallback_to_submission_data"`

	// Classification thresholds, in percent. Deployments disagree on the
	// sprayed threshold (85 vs 90), so it stays configuration.
	VisitedPercentage float64 `yaml:"visited_percentage"`
	SprayedPercentage float64 `yaml:"sprayed_percentage"`

	BufferWidthMeters float64 `yaml:"buffer_width_meters"`
}

// Default returns the generic IRS deployment conventions.
func Default() Deployment {
	return Deployment{
		Name:               "default",
		SubmissionIDField:  "_id",
		DateField:          "today",
		GPSFields:          []string{"structure_gps", "gps"},
		OSMField:           "osmstructure",
		LocationCodeFields: []string{"spray_area", "target_area"},
		WasSprayedField:    "sprayed",
		SprayedValue:       "yes",
		SprayableField:     "sprayable_structure",
		NotSprayableValue:  "no",
		ReasonField:        "unsprayed/reason",
		ReasonRefused:      "refused",
		ReasonOther:        []string{"locked", "sick", "funeral", "other"},
		OperatorField:      "spray_operator_code",
		TeamLeaderField:    "team_leader_code",
		FormIDField:        "sprayformid",
		StartField:         "start",
		EndField:           "end",
		NewStructurePrefix: "newstructure/",
		SpatialQueries:     true,
		VisitedPercentage:  20,
		SprayedPercentage:  85,
		BufferWidthMeters:  4,
	}
}

// Load builds the active deployment: defaults, overlaid with the YAML preset
// named by DEPLOYMENT_PRESET (a file path) if set, then overlaid with
// individual environment overrides.
func Load() (Deployment, error) {
	d := Default()

	if path := strings.TrimSpace(os.Getenv("DEPLOYMENT_PRESET")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return d, fmt.Errorf("read deployment preset: %w", err)
		}
		if err := yaml.Unmarshal(raw, &d); err != nil {
			return d, fmt.Errorf("parse deployment preset %s: %w", path, err)
		}
	}

	applyEnv(&d)

	if d.VisitedPercentage <= 0 || d.VisitedPercentage > 100 {
		return d, fmt.Errorf("visited_percentage out of range: %v", d.VisitedPercentage)
	}
	if d.SprayedPercentage <= 0 || d.SprayedPercentage > 100 {
		return d, fmt.Errorf("sprayed_percentage out of range: %v", d.SprayedPercentage)
	}
	return d, nil
}

func applyEnv(d *Deployment) {
	setStr := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setStr(&d.WasSprayedField, "WAS_SPRAYED_FIELD")
	setStr(&d.SprayedValue, "SPRAYED_VALUE")
	setStr(&d.ReasonField, "REASON_FIELD")
	setStr(&d.ReasonRefused, "REASON_REFUSED")
	setStr(&d.OSMField, "OSM_FIELD")
	setStr(&d.OperatorField, "OPERATOR_FIELD")

	if v := os.Getenv("SPATIAL_QUERIES"); v != "" {
		d.SpatialQueries = parseBool(v, d.SpatialQueries)
	}
	if v := os.Getenv("FALLBACK_TO_SUBMISSION_DATA"); v != "" {
		d.FallbackToSubmissionData = parseBool(v, d.FallbackToSubmissionData)
	}
	if v := os.Getenv("VISITED_PERCENTAGE"); v != "" {
		d.VisitedPercentage = parseFloat(v, d.VisitedPercentage)
	}
	if v := os.Getenv("SPRAYED_PERCENTAGE"); v != "" {
		d.SprayedPercentage = parseFloat(v, d.SprayedPercentage)
	}
	if v := os.Getenv("BUFFER_WIDTH_METERS"); v != "" {
		d.BufferWidthMeters = parseFloat(v, d.BufferWidthMeters)
	}
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return f
}

// IsOtherReason reports whether a non-refusal reason code is one of the
// configured "other" codes.
func (d Deployment) IsOtherReason(reason string) bool {
	for _, r := range d.ReasonOther {
		if strings.EqualFold(r, reason) {
			return true
		}
	}
	return false
}
