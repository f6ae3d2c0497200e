package locationimport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "import.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validLocations = `district_code,district_name,rhc_code,rhc_name,area_code,area_name,structures,priority,wkt
LSK,lusaka  district,MTN,mtendere,Akros_1,Akros 1,102,1,"POLYGON((28.35 -15.41,28.36 -15.41,28.36 -15.42,28.35 -15.42,28.35 -15.41))"
LSK,lusaka  district,MTN,mtendere,Akros_2,,88,,
`

func TestParseCSV(t *testing.T) {
	rows, err := ParseCSV(writeCSV(t, validLocations))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	r := rows[0]
	if r.DistrictName != "Lusaka District" {
		t.Errorf("district name not normalized: %q", r.DistrictName)
	}
	if r.RHCName != "Mtendere" {
		t.Errorf("rhc name = %q", r.RHCName)
	}
	if r.Structures != 102 {
		t.Errorf("structures = %d", r.Structures)
	}
	if r.Priority == nil || *r.Priority != 1 {
		t.Errorf("priority = %v", r.Priority)
	}
	if !strings.HasPrefix(r.WKT, "POLYGON((") {
		t.Errorf("wkt = %q", r.WKT)
	}

	// Second row: no name falls back to the code, no priority, no geometry.
	r = rows[1]
	if r.AreaName != "Akros_2" {
		t.Errorf("area name fallback = %q", r.AreaName)
	}
	if r.Priority != nil || r.WKT != "" {
		t.Errorf("optional fields not empty: %+v", r)
	}
}

func TestParseCSVDuplicateArea(t *testing.T) {
	csv := `district_code,district_name,rhc_code,rhc_name,area_code,area_name,structures
LSK,Lusaka,MTN,Mtendere,Akros_1,Akros 1,10
LSK,Lusaka,MTN,Mtendere,Akros_1,Akros 1 again,12
`
	if _, err := ParseCSV(writeCSV(t, csv)); err == nil {
		t.Fatal("duplicate area_code accepted")
	}
}

func TestParseCSVMissingColumn(t *testing.T) {
	csv := `district_code,rhc_code,area_code
LSK,MTN,Akros_1
`
	_, err := ParseCSV(writeCSV(t, csv))
	if err == nil || !strings.Contains(err.Error(), "missing required column") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseCSVBadStructures(t *testing.T) {
	for _, bad := range []string{"many", "-3", ""} {
		csv := "district_code,district_name,rhc_code,rhc_name,area_code,area_name,structures\n" +
			"LSK,Lusaka,MTN,Mtendere,Akros_1,Akros 1," + bad + "\n"
		if _, err := ParseCSV(writeCSV(t, csv)); err == nil {
			t.Errorf("structures %q accepted", bad)
		}
	}
}

func TestParseCSVBadCode(t *testing.T) {
	csv := `district_code,district_name,rhc_code,rhc_name,area_code,area_name,structures
LSK,Lusaka,MTN,Mtendere,Akros 1,Akros 1,10
`
	if _, err := ParseCSV(writeCSV(t, csv)); err == nil {
		t.Fatal("code with a space accepted")
	}
}

func TestParseCSVHandlesBOM(t *testing.T) {
	rows, err := ParseCSV(writeCSV(t, "\ufeff"+validLocations))
	if err != nil {
		t.Fatalf("parse with BOM: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}

func TestParseHouseholdsCSV(t *testing.T) {
	csv := `hh_id,area_code,lat,lng
HH-0001,Akros_1,-15.4189,28.3545
HH-0002,,-15.4190,28.3546
`
	rows, err := ParseHouseholdsCSV(writeCSV(t, csv))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0].HHID != "HH-0001" || rows[0].Lat != -15.4189 || rows[0].Lng != 28.3545 {
		t.Errorf("row 0 = %+v", rows[0])
	}
	if rows[1].AreaCode != "" {
		t.Errorf("blank area_code should survive as empty, got %q", rows[1].AreaCode)
	}
}

func TestParseHouseholdsCSVRejectsBadCoords(t *testing.T) {
	csv := `hh_id,area_code,lat,lng
HH-0001,Akros_1,north,28.35
`
	if _, err := ParseHouseholdsCSV(writeCSV(t, csv)); err == nil {
		t.Fatal("bad latitude accepted")
	}
}

func TestParseHouseholdsCSVRejectsDuplicates(t *testing.T) {
	csv := `hh_id,area_code,lat,lng
HH-0001,Akros_1,-15.41,28.35
HH-0001,Akros_1,-15.42,28.36
`
	if _, err := ParseHouseholdsCSV(writeCSV(t, csv)); err == nil {
		t.Fatal("duplicate hh_id accepted")
	}
}

func TestLocationIDDeterministic(t *testing.T) {
	ns := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	a := LocationID(ns, "ta", "LSK", "MTN", "Akros_1")
	b := LocationID(ns, "ta", "LSK", "MTN", "Akros_1")
	if a != b {
		t.Error("same path produced different ids")
	}

	// Same code under another parent is a different location.
	c := LocationID(ns, "ta", "LSK", "KNY", "Akros_1")
	if a == c {
		t.Error("different parents collided")
	}
	if LocationID(ns, "rhc", "LSK", "MTN") == LocationID(ns, "district", "LSK", "MTN") {
		t.Error("levels collided")
	}
}
