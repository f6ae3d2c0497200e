package spray

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vectorlink/irs-backend/internal/config"
)

// Input is the typed view of one raw submission, produced once at the
// ingestion boundary. Everything past this point works on typed values; the
// raw payload rides along only for storage and attachment resolution.
type Input struct {
	SubmissionID int64
	SprayDate    time.Time

	GPS          string
	OSMValue     string
	LocationCode string

	WasSprayed bool
	Sprayable  bool
	Reason     string

	OperatorCode   string
	TeamLeaderCode string
	SprayFormID    string

	StartTime *time.Time
	EndTime   *time.Time

	Raw map[string]any
}

// ExtractSprayFields translates a flat payload map into an Input using the
// deployment's field-name conventions. It is the only place that touches the
// payload by key.
func ExtractSprayFields(payload map[string]any, cfg config.Deployment) (Input, error) {
	in := Input{Raw: payload, Sprayable: true}

	id, ok := intField(payload, cfg.SubmissionIDField)
	if !ok {
		return in, fmt.Errorf("%w: missing %s", ErrBadPayload, cfg.SubmissionIDField)
	}
	in.SubmissionID = id

	dateStr := strField(payload, cfg.DateField, "_submission_time")
	date, err := parseDate(dateStr)
	if err != nil {
		return in, fmt.Errorf("%w: bad date %q", ErrBadPayload, dateStr)
	}
	in.SprayDate = date

	in.GPS = strField(payload, cfg.GPSFields...)
	in.OSMValue = strField(payload, cfg.OSMField)
	in.LocationCode = strField(payload, cfg.LocationCodeFields...)

	in.WasSprayed = strings.EqualFold(strField(payload, cfg.WasSprayedField), cfg.SprayedValue)
	if v := strField(payload, cfg.SprayableField); v != "" {
		in.Sprayable = !strings.EqualFold(v, cfg.NotSprayableValue)
	}
	in.Reason = strField(payload, cfg.ReasonField)

	in.OperatorCode = strField(payload, cfg.OperatorField)
	in.TeamLeaderCode = strField(payload, cfg.TeamLeaderField)
	in.SprayFormID = strField(payload, cfg.FormIDField)

	in.StartTime = timeField(payload, cfg.StartField)
	in.EndTime = timeField(payload, cfg.EndField)

	return in, nil
}

// strField returns the first non-empty string value among keys. Numeric
// values are rendered back to their string form; forms are inconsistent
// about quoting.
func strField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func intField(m map[string]any, key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// dateLayouts covers the formats the collection app has shipped over the
// years: bare dates and full timestamps with and without sub-seconds.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05-07:00",
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func timeField(m map[string]any, key string) *time.Time {
	s := strField(m, key)
	if s == "" {
		return nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

// TruncateDataID clamps a dedup key to the 50-character column width.
func TruncateDataID(id string) string {
	if len(id) > 50 {
		return id[:50]
	}
	return id
}
