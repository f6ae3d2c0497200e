package spray

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/config"
	"github.com/vectorlink/irs-backend/internal/forms"
	"github.com/vectorlink/irs-backend/internal/geo"
	"github.com/vectorlink/irs-backend/internal/osm"
)

// AttachmentFetcher is the narrow slice of the forms client the matcher
// needs.
type AttachmentFetcher interface {
	FetchOSMAttachment(ctx context.Context, payload map[string]any, osmValue string) ([]byte, error)
}

// Match strategies, in priority order.
const (
	StrategyOSM  = "osm"
	StrategyGPS  = "gps"
	StrategyCode = "code"
)

// MatchResult is the matcher's verdict on one submission. Location is nil
// when every strategy came up empty; DataID is still populated best-effort so
// a later repair pass can reconcile without re-deriving it.
type MatchResult struct {
	Location     *Location
	Household    *Household
	DataID       string
	BufferWKT    *string
	NewStructure bool
	Strategy     string
	// Attempted lists the strategies tried, in order, whatever the outcome.
	Attempted []string
}

// Matcher resolves a spray event to a structure and target-area location
// using strictly ordered strategies: OSM way/node containment, GPS point
// containment, then coded-field lookup. First match wins.
type Matcher struct {
	cfg         config.Deployment
	locations   LocationRepo
	households  HouseholdRepo
	attachments AttachmentFetcher
	log         *zap.Logger
}

func NewMatcher(cfg config.Deployment, locations LocationRepo, households HouseholdRepo, attachments AttachmentFetcher, log *zap.Logger) *Matcher {
	return &Matcher{
		cfg:         cfg,
		locations:   locations,
		households:  households,
		attachments: attachments,
		log:         log,
	}
}

// Match never hard-fails on lookup problems: geometry and database errors
// degrade to the next strategy so the event always persists for audit. The
// returned error is non-nil only for a retryable upstream failure that left
// the event unmatched.
func (m *Matcher) Match(ctx context.Context, in Input) (MatchResult, error) {
	result := MatchResult{}
	var fetchErr error

	isNewStructure := in.OSMValue != "" && strings.HasPrefix(in.OSMValue, m.cfg.NewStructurePrefix)

	// Strategy 1: OSM attachment.
	if m.cfg.SpatialQueries && in.OSMValue != "" && !isNewStructure {
		result.Attempted = append(result.Attempted, StrategyOSM)
		osmRes, err := m.matchOSM(ctx, in)
		switch {
		case errors.Is(err, forms.ErrUnavailable):
			fetchErr = err
			m.log.Warn("osm attachment unavailable, trying gps",
				zap.Int64("submission_id", in.SubmissionID))
		case err != nil:
			m.log.Warn("osm match failed, trying gps",
				zap.Int64("submission_id", in.SubmissionID), zap.Error(err))
		default:
			// Keep the OSM structure id as dedup key even when the
			// containment lookup failed.
			attempted := result.Attempted
			result = osmRes
			result.Attempted = attempted
			if result.Location != nil {
				return result, nil
			}
		}
	}

	// Strategy 2: GPS containment.
	if m.cfg.SpatialQueries && in.GPS != "" {
		result.Attempted = append(result.Attempted, StrategyGPS)
		p, err := geo.PointFromGPS(in.GPS)
		if err != nil {
			m.log.Warn("bad gps string",
				zap.Int64("submission_id", in.SubmissionID), zap.Error(err))
		} else {
			if result.DataID == "" {
				result.DataID = TruncateDataID(m.cfg.NewStructurePrefix + strings.ReplaceAll(in.GPS, " ", "-"))
				result.NewStructure = true
			}
			if result.BufferWKT == nil {
				wkt := geo.BufferPoint(p, m.bufferWidth()).WKT()
				result.BufferWKT = &wkt
			}
			loc, err := m.locations.TargetAreaContainingPoint(ctx, p)
			if err != nil {
				m.log.Warn("gps containment lookup failed",
					zap.Int64("submission_id", in.SubmissionID), zap.Error(err))
			} else if loc != nil {
				result.Location = loc
				result.Strategy = StrategyGPS
				return result, nil
			}
		}
	}

	if isNewStructure {
		result.DataID = TruncateDataID(in.OSMValue)
		result.NewStructure = true
	}

	// Strategy 3: coded field, for deployments without spatial queries or
	// with fallback-to-submission-data forced on.
	if in.LocationCode != "" && (!m.cfg.SpatialQueries || m.cfg.FallbackToSubmissionData) {
		result.Attempted = append(result.Attempted, StrategyCode)
		loc, err := m.locations.TargetAreaByCode(ctx, in.LocationCode)
		if err != nil {
			m.log.Warn("coded location lookup failed",
				zap.Int64("submission_id", in.SubmissionID), zap.Error(err))
		} else if loc != nil {
			if result.DataID == "" {
				result.DataID = m.fallbackDataID(in)
			}
			result.Location = loc
			result.Strategy = StrategyCode
			return result, nil
		}
	}

	// Strategy 4: no match. Terminal, not an error — unless an upstream
	// failure is what kept us from matching, which the caller may retry.
	if result.DataID == "" {
		result.DataID = m.fallbackDataID(in)
	}
	return result, fetchErr
}

// matchOSM fetches and parses the submission's OSM attachment, preferring the
// first way over any node, and resolves the target area covering it. The
// matched structure is upserted as a Household with its metric buffer.
func (m *Matcher) matchOSM(ctx context.Context, in Input) (MatchResult, error) {
	raw, err := m.attachments.FetchOSMAttachment(ctx, in.Raw, in.OSMValue)
	if err != nil {
		return MatchResult{}, err
	}
	if raw == nil {
		return MatchResult{}, nil
	}

	records, err := osm.Parse(raw)
	if err != nil {
		return MatchResult{}, fmt.Errorf("parse attachment: %w", err)
	}
	rec, ok := osm.FirstWay(records)
	if !ok {
		if rec, ok = osm.FirstNode(records); !ok {
			return MatchResult{}, nil
		}
	}

	result := MatchResult{
		DataID:   TruncateDataID(strconv.FormatInt(rec.ID, 10)),
		Strategy: StrategyOSM,
	}

	if buf, err := geo.Buffer(rec.Geometry, m.bufferWidth()); err == nil {
		wkt := buf.WKT()
		result.BufferWKT = &wkt
	} else {
		m.log.Warn("structure buffer failed",
			zap.String("data_id", result.DataID), zap.Error(err))
	}

	loc, err := m.locations.TargetAreaCovering(ctx, rec.Geometry.WKT())
	if err != nil {
		m.log.Warn("osm containment lookup failed",
			zap.String("data_id", result.DataID), zap.Error(err))
		loc = nil
	}
	result.Location = loc

	centroid, err := recCentroid(rec)
	if err != nil {
		return result, nil
	}

	hh, err := m.households.Upsert(ctx, result.DataID, centroid.WKT(), result.BufferWKT, locIDOf(loc), rec.Tags)
	if err != nil {
		m.log.Warn("household upsert failed",
			zap.String("data_id", result.DataID), zap.Error(err))
	} else {
		result.Household = hh
	}
	return result, nil
}

func (m *Matcher) bufferWidth() float64 {
	if m.cfg.BufferWidthMeters > 0 {
		return m.cfg.BufferWidthMeters
	}
	return geo.DefaultBufferMeters
}

// fallbackDataID builds a dedup key for submissions carrying no structure
// identity at all. Keying on the submission id keeps such events from
// colliding with each other.
func (m *Matcher) fallbackDataID(in Input) string {
	if in.OSMValue != "" {
		return TruncateDataID(in.OSMValue)
	}
	return TruncateDataID("submission:" + strconv.FormatInt(in.SubmissionID, 10))
}

func locIDOf(loc *Location) *uuid.UUID {
	if loc == nil {
		return nil
	}
	return &loc.ID
}

func recCentroid(rec osm.Record) (geo.Point, error) {
	switch g := rec.Geometry.(type) {
	case geo.Point:
		return g, nil
	case geo.Line:
		return geo.Centroid(g)
	case geo.Polygon:
		return geo.Centroid(g)
	default:
		return geo.Point{}, geo.ErrInvalidGeometry
	}
}
