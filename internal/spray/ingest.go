package spray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/config"
	"github.com/vectorlink/irs-backend/internal/forms"
	"github.com/vectorlink/irs-backend/internal/geo"
)

// Result reports what one submission did.
type Result struct {
	Event     *SprayDay `json:"event"`
	Created   bool      `json:"created"`
	Duplicate bool      `json:"duplicate"`
	Matched   bool      `json:"matched"`
	Canonical bool      `json:"canonical"`
	Strategy  string    `json:"strategy,omitempty"`
}

// Pipeline is the explicit ingestion sequence:
// extract → persist → match → reconcile → aggregate → performance.
// Each step is a plain call; there are no save-hook side effects.
type Pipeline struct {
	cfg        config.Deployment
	days       SprayDayRepo
	households HouseholdRepo
	matcher    *Matcher
	dedup      *Dedup
	aggregator *Aggregator
	reporter   *Reporter
	log        *zap.Logger
}

func NewPipeline(cfg config.Deployment, days SprayDayRepo, households HouseholdRepo, matcher *Matcher, dedup *Dedup, aggregator *Aggregator, reporter *Reporter, log *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		days:       days,
		households: households,
		matcher:    matcher,
		dedup:      dedup,
		aggregator: aggregator,
		reporter:   reporter,
		log:        log,
	}
}

// ProcessSubmission ingests one raw payload. The event always ends up
// persisted; a non-nil error either rejects a contract-violating payload
// (ErrBadPayload, before anything persists) or flags a retryable upstream
// failure on an event that is already stored.
func (p *Pipeline) ProcessSubmission(ctx context.Context, payload map[string]any) (*Result, error) {
	in, err := ExtractSprayFields(payload, p.cfg)
	if err != nil {
		return nil, err
	}

	var geomWKT *string
	if in.GPS != "" {
		if pt, err := geo.PointFromGPS(in.GPS); err == nil {
			wkt := pt.WKT()
			geomWKT = &wkt
		}
	}

	event, created, err := p.days.InsertIdempotent(ctx, in, geomWKT)
	if err != nil {
		return nil, err
	}
	if !created && event.LocationID != nil {
		// Duplicate submission id, already resolved: idempotent no-op.
		return &Result{Event: event, Duplicate: true, Matched: true}, nil
	}

	result := &Result{Event: event, Created: created, Duplicate: !created}
	return result, p.resolve(ctx, event, in, result)
}

// resolve runs match → reconcile → aggregate → performance for a persisted
// event. Shared by first-time ingestion and the unmatched repair pass.
func (p *Pipeline) resolve(ctx context.Context, event *SprayDay, in Input, result *Result) error {
	match, matchErr := p.matcher.Match(ctx, in)

	if err := p.days.SetResolution(ctx, event.ID,
		locIDOf(match.Location), hhIDOf(match.Household),
		match.BufferWKT, match.DataID, match.NewStructure, match.Attempted); err != nil {
		return err
	}
	event.DataID = match.DataID
	event.NewStructure = match.NewStructure
	event.HouseholdID = hhIDOf(match.Household)

	if match.Location == nil {
		p.log.Info("submission unmatched",
			zap.Int64("submission_id", event.SubmissionID),
			zap.Bool("retryable", errors.Is(matchErr, forms.ErrUnavailable)))
		// Terminal no-match is not an error; an upstream failure is, so the
		// caller can schedule a retry.
		return matchErr
	}

	event.LocationID = &match.Location.ID
	result.Matched = true
	result.Strategy = match.Strategy

	outcome, err := p.dedup.Reconcile(ctx, event, match.Location.ID)
	if err != nil {
		return err
	}
	result.Canonical = outcome.Canonical

	if match.Household != nil {
		if err := p.households.MarkVisited(ctx, match.Household.ID); err != nil {
			p.log.Warn("mark household visited failed", zap.Error(err))
		}
	}

	if _, err := p.aggregator.RecomputeArea(ctx, match.Location.ID); err != nil {
		return fmt.Errorf("recompute area: %w", err)
	}

	// Best-effort: the report refreshes again on the operator's next event
	// or via the CLI, so an unavailable summary feed only logs here.
	if _, err := p.reporter.Update(ctx, in.OperatorCode, in.TeamLeaderCode, in.SprayFormID); err != nil {
		p.log.Warn("performance report update failed",
			zap.String("operator", in.OperatorCode), zap.Error(err))
	}

	return nil
}

// RelinkUnmatched re-runs matching for events that persisted without a
// location. Returns how many events were newly matched.
func (p *Pipeline) RelinkUnmatched(ctx context.Context, limit int) (int, error) {
	events, err := p.days.Unmatched(ctx, limit)
	if err != nil {
		return 0, err
	}

	relinked := 0
	for i := range events {
		event := &events[i]

		var payload map[string]any
		if err := json.Unmarshal([]byte(event.Data), &payload); err != nil {
			p.log.Warn("stored payload unreadable",
				zap.Int64("submission_id", event.SubmissionID), zap.Error(err))
			continue
		}
		in, err := ExtractSprayFields(payload, p.cfg)
		if err != nil {
			p.log.Warn("stored payload missing fields",
				zap.Int64("submission_id", event.SubmissionID), zap.Error(err))
			continue
		}

		result := &Result{Event: event}
		if err := p.resolve(ctx, event, in, result); err != nil {
			if errors.Is(err, forms.ErrUnavailable) {
				continue
			}
			return relinked, err
		}
		if result.Matched {
			relinked++
		}
	}
	return relinked, nil
}

func hhIDOf(hh *Household) *uuid.UUID {
	if hh == nil {
		return nil
	}
	return &hh.ID
}
