package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MahdiNavaei/InvoiceMind/pkg/documents"
	"github.com/MahdiNavaei/InvoiceMind/pkg/governance"
	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
	"github.com/MahdiNavaei/InvoiceMind/pkg/observability"
	"github.com/MahdiNavaei/InvoiceMind/pkg/projection"
)

// Service owns the HTTP read contracts over the ledger and its projections.
type Service struct {
	ledger     *ledger.Ledger
	runs       *projection.RunProjector
	quarantine *projection.QuarantineProjector
	docs       documents.Store
	catalog    *governance.VersionCatalog
	obs        *observability.Provider
	log        *slog.Logger

	queueRejectDepth int
}

// Options configures a Service.
type Options struct {
	Ledger     *ledger.Ledger
	Runs       *projection.RunProjector
	Quarantine *projection.QuarantineProjector
	Documents  documents.Store
	Catalog    *governance.VersionCatalog
	Provider   *observability.Provider
	Logger     *slog.Logger

	// QueueRejectDepth is the queue depth above which run actions are
	// rejected with 429. Zero disables backpressure.
	QueueRejectDepth int
}

// NewService creates the HTTP service.
func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ledger:           opts.Ledger,
		runs:             opts.Runs,
		quarantine:       opts.Quarantine,
		docs:             opts.Documents,
		catalog:          opts.Catalog,
		obs:              opts.Provider,
		log:              log.With("component", "api"),
		queueRejectDepth: opts.QueueRejectDepth,
	}
}

// Guard wraps a handler with a role requirement. The auth package supplies
// the real implementation; tests pass nil for no checks.
type Guard func(roles ...string) func(http.Handler) http.Handler

// Role names the API route groups are guarded with.
const (
	roleAdmin    = "admin"
	roleReviewer = "reviewer"
	roleApprover = "approver"
	roleViewer   = "viewer"
	roleAuditor  = "auditor"
)

// Routes registers all endpoints on a fresh mux. guard may be nil, in which
// case no role checks are applied. Reads are open to every role, mutating
// run/quarantine actions need reviewer or approver, and the audit surface is
// limited to admins and auditors.
func (s *Service) Routes(guard Guard) *http.ServeMux {
	if guard == nil {
		guard = func(...string) func(http.Handler) http.Handler {
			return func(next http.Handler) http.Handler { return next }
		}
	}
	reads := guard(roleAdmin, roleReviewer, roleApprover, roleViewer, roleAuditor)
	actions := guard(roleAdmin, roleReviewer, roleApprover)
	audit := guard(roleAdmin, roleAuditor)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.Handle("GET /v1/metrics", reads(http.HandlerFunc(s.handleMetrics)))
	mux.Handle("GET /v1/runs", reads(http.HandlerFunc(s.handleListRuns)))
	mux.Handle("GET /v1/runs/{id}", reads(http.HandlerFunc(s.handleGetRun)))
	mux.Handle("GET /v1/runs/{id}/export", reads(http.HandlerFunc(s.handleExportRun)))
	mux.Handle("POST /v1/runs/{id}/actions", actions(http.HandlerFunc(s.handleRunAction)))
	mux.Handle("GET /v1/documents/{id}", reads(http.HandlerFunc(s.handleGetDocument)))
	mux.Handle("GET /v1/quarantine", reads(http.HandlerFunc(s.handleListQuarantine)))
	mux.Handle("POST /v1/quarantine/{id}/reprocess", actions(http.HandlerFunc(s.handleReprocessQuarantine)))
	mux.Handle("GET /v1/audit/verify", audit(http.HandlerFunc(s.handleVerify)))
	mux.Handle("GET /v1/audit/events", audit(http.HandlerFunc(s.handleAuditEvents)))
	mux.Handle("GET /v1/governance/runtime-versions", reads(http.HandlerFunc(s.handleRuntimeVersions)))
	mux.Handle("POST /v1/governance/change-risk", reads(http.HandlerFunc(s.handleChangeRisk)))
	mux.Handle("POST /v1/governance/capacity-estimate", reads(http.HandlerFunc(s.handleCapacityEstimate)))

	return mux
}

// Instrument wraps a handler with request counting and latency recording.
func (s *Service) Instrument(next http.Handler) http.Handler {
	if s.obs == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.Int("http.status_code", rec.status),
		}
		s.obs.RecordRequest(r.Context(), attrs...)
		s.obs.RecordDuration(r.Context(), time.Since(start), attrs...)
		if rec.status >= 500 {
			s.obs.RecordError(r.Context(), attrs...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := projection.Metrics(r.Context(), s.ledger, s.runs)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	states, err := s.runs.ProjectAll(r.Context())
	if err != nil {
		WriteInternal(w, err)
		return
	}

	runs := make([]*projection.RunState, 0, len(states))
	for _, state := range states {
		runs = append(runs, state)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].RunID < runs[j].RunID
	})

	limit := queryInt(r, "limit", 50)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": runs,
		"total": len(states),
	})
}

func (s *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	state, err := s.runs.Project(r.Context(), runID)
	if errors.Is(err, ledger.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// exportableStatuses are terminal outcomes whose results leave the system.
var exportableStatuses = map[projection.RunStatus]struct{}{
	projection.StatusSuccess:     {},
	projection.StatusWarn:        {},
	projection.StatusNeedsReview: {},
}

func (s *Service) handleExportRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	state, err := s.runs.Project(r.Context(), runID)
	if errors.Is(err, ledger.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if _, ok := exportableStatuses[state.Status]; !ok {
		WriteConflict(w, fmt.Sprintf("run %s is not exportable in status %s", runID, state.Status))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":          state.RunID,
		"status":          state.Status,
		"review_decision": state.ReviewDecision,
		"result":          state.Result,
	})
}

type runActionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func (s *Service) handleRunAction(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	var req runActionRequest
	if err := decodeValidated(r, runActionValidator, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	state, err := s.runs.Project(r.Context(), runID)
	if errors.Is(err, ledger.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("run %s not found", runID))
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	if rejected := s.rejectOnBackpressure(w, r.Context()); rejected {
		return
	}

	switch req.Action {
	case "cancel":
		s.cancelRun(w, r, state, req.Reason)
	case "replay":
		s.replayRun(w, r, state)
	default:
		// Unreachable: the schema restricts action to cancel|replay.
		WriteBadRequest(w, fmt.Sprintf("unsupported action %q", req.Action))
	}
}

// rejectOnBackpressure answers 429 when the queue is above the reject depth.
func (s *Service) rejectOnBackpressure(w http.ResponseWriter, ctx context.Context) bool {
	if s.queueRejectDepth <= 0 {
		return false
	}
	snapshot, err := projection.Metrics(ctx, s.ledger, s.runs)
	if err != nil {
		WriteInternal(w, err)
		return true
	}
	if snapshot.QueueDepth >= s.queueRejectDepth {
		s.log.Warn("run action rejected on queue backpressure",
			"queue_depth", snapshot.QueueDepth,
			"reject_depth", s.queueRejectDepth)
		WriteTooManyRequests(w, 30)
		return true
	}
	return false
}

func (s *Service) cancelRun(w http.ResponseWriter, r *http.Request, state *projection.RunState, reason string) {
	ctx := r.Context()
	payload := map[string]any{}
	if reason != "" {
		payload["reason"] = reason
	}

	switch state.Status {
	case projection.StatusQueued:
		// Not started yet, cancel immediately.
		payload["status"] = string(projection.StatusCancelled)
		if _, err := s.append(ctx, ledger.EventRunCancelled, state.RunID, payload); err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id": state.RunID,
			"status": projection.StatusCancelled,
		})
	case projection.StatusRunning:
		if _, err := s.append(ctx, ledger.EventRunCancelRequested, state.RunID, payload); err != nil {
			WriteInternal(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id": state.RunID,
			"status": projection.StatusCancelRequested,
		})
	case projection.StatusCancelRequested:
		// Idempotent: a pending cancellation needs no second event.
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id": state.RunID,
			"status": projection.StatusCancelRequested,
		})
	default:
		WriteConflict(w, fmt.Sprintf("run %s cannot be cancelled in status %s", state.RunID, state.Status))
	}
}

func (s *Service) replayRun(w http.ResponseWriter, r *http.Request, state *projection.RunState) {
	newRunID := uuid.NewString()
	payload := map[string]any{
		"replay_of_run_id": state.RunID,
	}
	if state.DocumentID != "" {
		payload["document_id"] = state.DocumentID
	}

	if _, err := s.append(r.Context(), ledger.EventRunCreated, newRunID, payload); err != nil {
		WriteInternal(w, err)
		return
	}
	s.log.Info("run replayed", "run_id", newRunID, "replay_of_run_id", state.RunID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":           newRunID,
		"status":           projection.StatusQueued,
		"replay_of_run_id": state.RunID,
	})
}

func (s *Service) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	doc, err := s.docs.Get(r.Context(), docID)
	if errors.Is(err, documents.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("document %s not found", docID))
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	// Merge open quarantine reason codes derived from the ledger.
	items, err := s.quarantine.List(r.Context(), projection.QuarantineFilter{Query: docID})
	if err != nil {
		WriteInternal(w, err)
		return
	}
	codes := append([]string(nil), doc.ReasonCodes...)
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		seen[c] = struct{}{}
	}
	for _, item := range items {
		if item.DocumentID != docID || item.Resolved() {
			continue
		}
		for _, c := range item.ReasonCodes {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				codes = append(codes, c)
			}
		}
	}
	doc.ReasonCodes = codes
	writeJSON(w, http.StatusOK, doc)
}

func (s *Service) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	filter := projection.QuarantineFilter{
		Status: r.URL.Query().Get("status"),
		Query:  r.URL.Query().Get("q"),
	}
	items, err := s.quarantine.List(r.Context(), filter)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	total := len(items)
	limit := queryInt(r, "limit", 50)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (s *Service) handleReprocessQuarantine(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	item, err := s.quarantine.Project(r.Context(), itemID)
	if errors.Is(err, ledger.ErrNotFound) {
		WriteNotFound(w, fmt.Sprintf("quarantine item %s not found", itemID))
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}

	ctx := r.Context()
	payload := map[string]any{
		"quarantine_item_id": item.ID,
		"document_id":        item.DocumentID,
	}
	if _, err := s.append(ctx, ledger.EventQuarantineReprocess, "", payload); err != nil {
		WriteInternal(w, err)
		return
	}

	// If the document passed ingestion on retry the item resolves now.
	if s.docs != nil && item.DocumentID != "" {
		doc, err := s.docs.Get(ctx, item.DocumentID)
		if err == nil && doc.IngestionStatus == documents.IngestionAccepted {
			resolvePayload := map[string]any{
				"quarantine_item_id": item.ID,
				"document_id":        item.DocumentID,
				"status":             "QUARANTINE_RESOLVED",
			}
			if _, err := s.append(ctx, ledger.EventQuarantineResolved, "", resolvePayload); err != nil {
				WriteInternal(w, err)
				return
			}
		}
	}

	updated, err := s.quarantine.Project(ctx, itemID)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	result, err := s.ledger.Verify(r.Context(), limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	if !result.Valid {
		s.log.Error("ledger integrity violation detected",
			"first_error_index", result.FirstErrorIndex,
			"error", result.Error)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since := uint64(queryInt(r, "since_sequence_no", 0))

	events, err := s.ledger.Scan(r.Context(), since)
	if err != nil {
		WriteInternal(w, err)
		return
	}

	eventType := q.Get("event_type")
	runID := q.Get("run_id")
	filtered := make([]ledger.Event, 0, len(events))
	for _, e := range events {
		if eventType != "" && string(e.Type) != eventType {
			continue
		}
		if runID != "" && e.RunID != runID {
			continue
		}
		filtered = append(filtered, e)
	}

	total := len(filtered)
	limit := queryInt(r, "limit", 100)
	if limit > 0 && len(filtered) > limit {
		// Most recent events win when the page is bounded.
		filtered = filtered[len(filtered)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": filtered,
		"total":  total,
	})
}

func (s *Service) handleRuntimeVersions(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.catalog.Snapshot()
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type changeRiskRequest struct {
	ChangedComponents []string `json:"changed_components"`
}

func (s *Service) handleChangeRisk(w http.ResponseWriter, r *http.Request) {
	var req changeRiskRequest
	if err := decodeValidated(r, changeRiskValidator, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, governance.ClassifyChangeRisk(req.ChangedComponents))
}

type capacityEstimateRequest struct {
	Stages            []governance.StageInput `json:"stages"`
	UtilizationTarget float64                 `json:"utilization_target,omitempty"`
	Cost              *governance.CostInputs  `json:"cost,omitempty"`
}

func (s *Service) handleCapacityEstimate(w http.ResponseWriter, r *http.Request) {
	var req capacityEstimateRequest
	if err := decodeValidated(r, capacityValidator, &req); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	estimate, err := governance.EstimateCapacity(req.Stages, req.UtilizationTarget, req.Cost)
	if errors.Is(err, governance.ErrInvalidInput) {
		WriteBadRequest(w, err.Error())
		return
	}
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

func (s *Service) append(ctx context.Context, eventType ledger.EventType, runID string, payload map[string]any) (ledger.Event, error) {
	event, err := s.ledger.Append(ctx, eventType, runID, payload)
	if err != nil {
		return ledger.Event{}, err
	}
	if s.obs != nil {
		s.obs.RecordAppend(ctx, string(eventType))
	}
	return event, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
