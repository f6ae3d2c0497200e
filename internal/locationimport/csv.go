package locationimport

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Row is one target area with its full ancestry. Districts and health
// facility catchments repeat across rows and are deduplicated at load time.
type Row struct {
	DistrictCode string
	DistrictName string
	RHCCode      string
	RHCName      string
	AreaCode     string
	AreaName     string
	Structures   int
	Priority     *int
	WKT          string
}

// HouseholdRow is one enumerated structure from the census file.
type HouseholdRow struct {
	HHID     string
	AreaCode string
	Lat      float64
	Lng      float64
}

var codeRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

var nameCaser = cases.Title(language.English)

// normalizeName tidies display names the enumeration teams type by hand
// ("CHADIZA  rhc" becomes "Chadiza Rhc"); codes are never touched.
func normalizeName(s string) string {
	return nameCaser.String(strings.Join(strings.Fields(strings.TrimSpace(s)), " "))
}

func ParseCSV(path string) ([]Row, error) {
	records, col, err := readTable(path, []string{
		"district_code", "district_name",
		"rhc_code", "rhc_name",
		"area_code", "area_name",
		"structures",
	})
	if err != nil {
		return nil, err
	}

	seenAreas := map[string]bool{}
	var out []Row

	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		rec := records[rowIdx]
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		row := Row{
			DistrictCode: get("district_code"),
			DistrictName: normalizeName(get("district_name")),
			RHCCode:      get("rhc_code"),
			RHCName:      normalizeName(get("rhc_name")),
			AreaCode:     get("area_code"),
			AreaName:     get("area_name"),
			WKT:          get("wkt"),
		}
		if row.AreaName == "" {
			row.AreaName = row.AreaCode
		}

		for _, code := range []string{row.DistrictCode, row.RHCCode, row.AreaCode} {
			if code == "" {
				return nil, fmt.Errorf("row %d: district_code, rhc_code and area_code are required", rowIdx+1)
			}
			if !codeRe.MatchString(code) {
				return nil, fmt.Errorf("row %d: code %q must match %s", rowIdx+1, code, codeRe.String())
			}
		}
		if seenAreas[row.AreaCode] {
			return nil, fmt.Errorf("row %d: duplicate area_code %q", rowIdx+1, row.AreaCode)
		}
		seenAreas[row.AreaCode] = true

		n, err := strconv.Atoi(get("structures"))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("row %d: structures must be a non-negative integer (got %q)", rowIdx+1, get("structures"))
		}
		row.Structures = n

		if p := get("priority"); p != "" {
			pr, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad priority %q", rowIdx+1, p)
			}
			row.Priority = &pr
		}

		out = append(out, row)
	}

	return out, nil
}

func ParseHouseholdsCSV(path string) ([]HouseholdRow, error) {
	records, col, err := readTable(path, []string{"hh_id", "area_code", "lat", "lng"})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []HouseholdRow

	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		rec := records[rowIdx]
		get := func(name string) string {
			i := col[name]
			if i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		hhid := get("hh_id")
		if hhid == "" {
			return nil, fmt.Errorf("row %d: hh_id is required", rowIdx+1)
		}
		if seen[hhid] {
			return nil, fmt.Errorf("row %d: duplicate hh_id %q", rowIdx+1, hhid)
		}
		seen[hhid] = true

		lat, err := strconv.ParseFloat(get("lat"), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad lat %q", rowIdx+1, get("lat"))
		}
		lng, err := strconv.ParseFloat(get("lng"), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad lng %q", rowIdx+1, get("lng"))
		}

		out = append(out, HouseholdRow{
			HHID:     hhid,
			AreaCode: get("area_code"),
			Lat:      lat,
			Lng:      lng,
		})
	}

	return out, nil
}

func readTable(path string, required []string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) < 2 {
		return nil, nil, errors.New("csv has no data rows")
	}

	header := records[0]
	// Handle BOM on first header cell
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range required {
		if _, ok := col[k]; !ok {
			return nil, nil, fmt.Errorf("missing required column: %s", k)
		}
	}

	return records, col, nil
}
