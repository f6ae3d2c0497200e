package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vectorlink/irs-backend/internal/config"
)

// TestDefault verifies the generic deployment conventions.
func TestDefault(t *testing.T) {
	d := config.Default()

	if d.VisitedPercentage != 20 {
		t.Errorf("visited threshold: got %v, want 20", d.VisitedPercentage)
	}
	if d.SprayedPercentage != 85 {
		t.Errorf("sprayed threshold: got %v, want 85", d.SprayedPercentage)
	}
	if d.BufferWidthMeters != 4 {
		t.Errorf("buffer width: got %v, want 4", d.BufferWidthMeters)
	}
	if !d.SpatialQueries {
		t.Error("spatial queries should default on")
	}
	if d.SprayedValue != "yes" {
		t.Errorf("sprayed value: got %q, want \"yes\"", d.SprayedValue)
	}
}

// TestLoad_Preset verifies a YAML preset overrides the defaults while
// untouched fields keep their default values.
func TestLoad_Preset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	preset := `name: testland
sprayed_percentage: 90
spatial_queries: false
fallback_to_submission_data: true
`
	if err := os.WriteFile(path, []byte(preset), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEPLOYMENT_PRESET", path)

	d, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != "testland" {
		t.Errorf("name: got %q", d.Name)
	}
	if d.SprayedPercentage != 90 {
		t.Errorf("sprayed threshold: got %v, want 90", d.SprayedPercentage)
	}
	if d.SpatialQueries {
		t.Error("spatial queries should be off")
	}
	if !d.FallbackToSubmissionData {
		t.Error("fallback to submission data should be on")
	}
	if d.WasSprayedField != "sprayed" {
		t.Errorf("untouched field changed: %q", d.WasSprayedField)
	}
}

// TestLoad_EnvOverridesPreset verifies environment variables win over the
// preset file.
func TestLoad_EnvOverridesPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	if err := os.WriteFile(path, []byte("sprayed_percentage: 90\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DEPLOYMENT_PRESET", path)
	t.Setenv("SPRAYED_PERCENTAGE", "85")
	t.Setenv("WAS_SPRAYED_FIELD", "sprayed/was_sprayed")

	d, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.SprayedPercentage != 85 {
		t.Errorf("sprayed threshold: got %v, want 85", d.SprayedPercentage)
	}
	if d.WasSprayedField != "sprayed/was_sprayed" {
		t.Errorf("was sprayed field: got %q", d.WasSprayedField)
	}
}

// TestLoad_RejectsBadThreshold verifies an out-of-range threshold aborts
// startup instead of silently misclassifying areas.
func TestLoad_RejectsBadThreshold(t *testing.T) {
	t.Setenv("DEPLOYMENT_PRESET", "")
	t.Setenv("VISITED_PERCENTAGE", "250")

	if _, err := config.Load(); err == nil {
		t.Error("expected an error for a 250% threshold")
	}
}

// TestIsOtherReason verifies reason-code matching is case-insensitive and
// excludes unknown codes.
func TestIsOtherReason(t *testing.T) {
	d := config.Default()
	if !d.IsOtherReason("Locked") {
		t.Error("locked should be an 'other' reason")
	}
	if d.IsOtherReason("refused") {
		t.Error("refused must not count as 'other'")
	}
}
