package spray

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/config"
	"github.com/vectorlink/irs-backend/internal/forms"
)

// SummarySource is the slice of the forms client the reporter needs: the
// operator's self-reported daily counts.
type SummarySource interface {
	FetchDailySummary(ctx context.Context, sprayFormID string) (forms.DailySummary, bool, error)
}

// Reporter maintains the per-operator, per-form performance reports and the
// reported-vs-actual data-quality cross-check.
type Reporter struct {
	cfg       config.Deployment
	days      SprayDayRepo
	reports   PerformanceRepo
	summaries SummarySource
	log       *zap.Logger
}

func NewReporter(cfg config.Deployment, days SprayDayRepo, reports PerformanceRepo, summaries SummarySource, log *zap.Logger) *Reporter {
	return &Reporter{cfg: cfg, days: days, reports: reports, summaries: summaries, log: log}
}

// Update recomputes and upserts the report for one (operator, form id) pair.
// An unavailable summary feed returns the retryable error without writing a
// half-correct row; the next submission or CLI run retries.
func (r *Reporter) Update(ctx context.Context, operator, teamLeader, formID string) (*PerformanceReport, error) {
	if operator == "" || formID == "" {
		return nil, nil
	}

	events, err := r.days.ForOperatorForm(ctx, operator, formID)
	if err != nil {
		return nil, err
	}
	counts := CountArea(events, r.cfg)
	start, end := timeWindow(events)

	summary, reported, err := r.summaries.FetchDailySummary(ctx, formID)
	if err != nil {
		return nil, err
	}
	if !reported {
		r.log.Debug("no daily summary reported",
			zap.String("operator", operator), zap.String("form_id", formID))
	}

	report := &PerformanceReport{
		OperatorCode:      operator,
		SprayFormID:       formID,
		TeamLeaderCode:    teamLeader,
		Found:             counts.Found,
		Sprayed:           counts.Sprayed,
		Refused:           counts.Refused,
		Other:             counts.Other,
		NotSprayable:      counts.NotSprayable,
		ReportedFound:     summary.Found,
		ReportedSprayed:   summary.Sprayed,
		FoundDifference:   summary.Found - counts.Found,
		SprayedDifference: summary.Sprayed - counts.Sprayed,
		StartTime:         start,
		EndTime:           end,
		UpdatedAt:         time.Now(),
	}
	report.DataQualityCheck = reported &&
		report.FoundDifference == 0 && report.SprayedDifference == 0

	if err := r.reports.UpsertReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// timeWindow finds the earliest start and latest end among the operator's
// events for the form.
func timeWindow(events []SprayDay) (start, end *time.Time) {
	for _, e := range events {
		if e.StartTime != nil && (start == nil || e.StartTime.Before(*start)) {
			t := *e.StartTime
			start = &t
		}
		if e.EndTime != nil && (end == nil || e.EndTime.After(*end)) {
			t := *e.EndTime
			end = &t
		}
	}
	return start, end
}
