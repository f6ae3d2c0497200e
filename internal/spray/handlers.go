package spray

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vectorlink/irs-backend/internal/forms"
)

// Handlers is the feature's HTTP surface: the submission webhook plus the
// read endpoints the reporting layer consumes.
type Handlers struct {
	pipeline   *Pipeline
	aggregator *Aggregator
	locations  LocationRepo
	days       SprayDayRepo
	reports    PerformanceRepo
	secret     string
	log        *zap.Logger
}

func NewHandlers(pipeline *Pipeline, aggregator *Aggregator, locations LocationRepo, days SprayDayRepo, reports PerformanceRepo, secret string, log *zap.Logger) *Handlers {
	return &Handlers{
		pipeline:   pipeline,
		aggregator: aggregator,
		locations:  locations,
		days:       days,
		reports:    reports,
		secret:     secret,
		log:        log,
	}
}

// SubmissionWebhook receives one form submission from the collection server.
// Idempotent: redelivery of a submission id returns ok with duplicate=true.
func (h *Handlers) SubmissionWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "payload too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}
	defer r.Body.Close()

	if h.secret == "" {
		http.Error(w, "server misconfigured", http.StatusInternalServerError)
		return
	}
	if !verifySignature(r.Header.Get("X-Webhook-Signature"), raw, h.secret) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	result, err := h.pipeline.ProcessSubmission(r.Context(), payload)
	switch {
	case errors.Is(err, ErrBadPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, forms.ErrUnavailable):
		// The event is persisted; tell the sender to redeliver so the
		// attachment fetch gets another chance.
		h.log.Warn("submission stored but upstream fetch failed",
			zap.Int64("submission_id", result.Event.SubmissionID))
		writeJSON(w, http.StatusAccepted, map[string]any{
			"ok": true, "matched": false, "retry": true,
		})
		return
	case err != nil:
		h.log.Error("submission processing failed", zap.Error(err))
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"duplicate": result.Duplicate,
		"matched":   result.Matched,
		"canonical": result.Canonical,
		"strategy":  result.Strategy,
	})
}

func verifySignature(sig string, raw []byte, secret string) bool {
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(expected))
}

// AreaCoverage returns the live summary for one target area by code.
func (h *Handlers) AreaCoverage(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	loc, err := h.locations.TargetAreaByCode(r.Context(), code)
	if err != nil {
		h.log.Error("area lookup failed", zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if loc == nil {
		http.Error(w, "unknown target area", http.StatusNotFound)
		return
	}

	summary, err := h.aggregator.SummarizeArea(r.Context(), loc.ID)
	if err != nil {
		h.log.Error("area summary failed", zap.Error(err))
		http.Error(w, "summary failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Districts returns the district rollup counters.
func (h *Handlers) Districts(w http.ResponseWriter, r *http.Request) {
	districts, err := h.locations.AtLevel(r.Context(), LevelDistrict)
	if err != nil {
		h.log.Error("district list failed", zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, districts)
}

// Unmatched feeds the mismatch report: events no strategy could place.
func (h *Handlers) Unmatched(w http.ResponseWriter, r *http.Request) {
	events, err := h.days.Unmatched(r.Context(), 500)
	if err != nil {
		h.log.Error("unmatched list failed", zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// OperatorPerformance returns an operator's per-form report rows.
func (h *Handlers) OperatorPerformance(w http.ResponseWriter, r *http.Request) {
	operator := chi.URLParam(r, "operator")
	rows, err := h.reports.ByOperator(r.Context(), operator)
	if err != nil {
		h.log.Error("performance lookup failed", zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
