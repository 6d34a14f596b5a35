package projection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
)

// RunProjector folds ledger events into RunState aggregates.
type RunProjector struct {
	source EventSource
	log    *slog.Logger
}

// NewRunProjector creates a projector over the given event source.
func NewRunProjector(source EventSource, log *slog.Logger) *RunProjector {
	if log == nil {
		log = slog.Default()
	}
	return &RunProjector{source: source, log: log}
}

// Project folds the events for runID into a RunState. Returns
// ledger.ErrNotFound when the ledger holds no events for that run.
func (p *RunProjector) Project(ctx context.Context, runID string) (*RunState, error) {
	events, err := p.source.Scan(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	var state *RunState
	for _, e := range events {
		if e.RunID != runID {
			continue
		}
		state = p.apply(state, e)
	}
	if state == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ledger.ErrNotFound)
	}
	return state, nil
}

// ProjectAll builds every run projection in a single ledger pass. The first
// event observed for a run_id fixes its identity; subsequent events fold in
// sequence order. O(events), not O(runs x events).
func (p *RunProjector) ProjectAll(ctx context.Context) (map[string]*RunState, error) {
	events, err := p.source.Scan(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	states := make(map[string]*RunState)
	for _, e := range events {
		if e.RunID == "" {
			continue
		}
		states[e.RunID] = p.apply(states[e.RunID], e)
	}
	return states, nil
}

// apply is the reducer: (state, event) -> state. Deterministic, keyed by
// event type, with explicit handling for anomalous sequences.
func (p *RunProjector) apply(state *RunState, e ledger.Event) *RunState {
	if state == nil {
		state = &RunState{
			RunID:     e.RunID,
			Status:    StatusUnknown,
			Stages:    []StageAttempt{},
			CreatedAt: e.TimestampUTC,
		}
		if e.Type != ledger.EventRunCreated {
			p.anomaly(e, "first event for run is not run_created")
		}
	}
	state.UpdatedAt = e.TimestampUTC

	switch e.Type {
	case ledger.EventRunCreated:
		if state.Status != StatusUnknown || len(state.Stages) > 0 {
			p.anomaly(e, "duplicate run_created")
			break
		}
		state.Status = p.resolveStatus(e)
		state.DocumentID = payloadString(e.Payload, "document_id")
		state.ReplayOfRunID = payloadString(e.Payload, "replay_of_run_id")

	case ledger.EventRunStageStarted:
		state.foldStage(e, "RUNNING")
		if state.Status == StatusQueued {
			state.Status = StatusRunning
		}

	case ledger.EventRunStageSucceeded:
		state.foldStage(e, "SUCCESS")

	case ledger.EventRunStageFailed:
		state.foldStage(e, "FAILED")

	case ledger.EventRunStageRetried:
		state.foldRetry(e)

	case ledger.EventRunCancelRequested:
		// Idempotent: only a queued or running run can enter CANCEL_REQUESTED.
		if state.Status == StatusQueued || state.Status == StatusRunning {
			state.Status = p.resolveStatus(e)
		}

	default:
		if _, terminal := terminalEventTypes[e.Type]; !terminal {
			p.anomaly(e, "unhandled event type for run projection")
			break
		}
		// Terminal events fold their payload for audit completeness even
		// when the run is already terminal; status is never reverted.
		if state.Status.IsTerminal() {
			p.anomaly(e, "terminal event for already-terminal run")
		} else {
			state.Status = p.resolveStatus(e)
		}
		state.foldOutcome(e)
	}

	return state
}

// resolveStatus applies the precedence rule: explicit payload status wins,
// event-type inference is the fallback.
func (p *RunProjector) resolveStatus(e ledger.Event) RunStatus {
	if s := payloadString(e.Payload, "status"); s != "" {
		return RunStatus(s)
	}
	return statusFromEventType(e.Type)
}

func (s *RunState) foldStage(e ledger.Event, defaultStatus string) {
	name := payloadString(e.Payload, "stage_name")
	if name == "" {
		name = "UNKNOWN"
	}
	status := payloadString(e.Payload, "status")
	if status == "" {
		status = defaultStatus
	}
	attempt := payloadInt(e.Payload, "attempt")
	if attempt <= 0 {
		attempt = s.lastAttempt(name)
		if attempt == 0 {
			attempt = 1
		}
	}

	// Update the entry for this (stage, attempt) if present; otherwise append
	// a fresh entry so prior attempts stay in the history.
	for i := len(s.Stages) - 1; i >= 0; i-- {
		if s.Stages[i].StageName == name && s.Stages[i].Attempt == attempt {
			s.Stages[i].Status = status
			if ec := payloadString(e.Payload, "error_code"); ec != "" {
				s.Stages[i].ErrorCode = ec
			}
			return
		}
	}
	s.Stages = append(s.Stages, StageAttempt{
		StageName: name,
		Status:    status,
		Attempt:   attempt,
		ErrorCode: payloadString(e.Payload, "error_code"),
	})
}

func (s *RunState) foldRetry(e ledger.Event) {
	name := payloadString(e.Payload, "stage_name")
	if name == "" {
		name = "UNKNOWN"
	}
	attempt := payloadInt(e.Payload, "attempt")
	if attempt <= 0 {
		attempt = s.lastAttempt(name) + 1
	}
	s.Stages = append(s.Stages, StageAttempt{
		StageName: name,
		Status:    "RUNNING",
		Attempt:   attempt,
		ErrorCode: payloadString(e.Payload, "error_code"),
	})
}

func (s *RunState) lastAttempt(stageName string) int {
	max := 0
	for _, st := range s.Stages {
		if st.StageName == stageName && st.Attempt > max {
			max = st.Attempt
		}
	}
	return max
}

func (s *RunState) foldOutcome(e ledger.Event) {
	if v := payloadString(e.Payload, "error_code"); v != "" {
		s.ErrorCode = v
	}
	if v := payloadString(e.Payload, "decision"); v != "" {
		s.ReviewDecision = v
	}
	if v := payloadStringSlice(e.Payload, "reason_codes"); v != nil {
		s.ReviewReasonCodes = v
	}
	if v, ok := e.Payload["decision_log"].(map[string]any); ok {
		s.DecisionLog = v
	}
	if v, ok := e.Payload["result"].(map[string]any); ok {
		s.Result = v
	}
	if v := payloadString(e.Payload, "model_name"); v != "" {
		s.ModelName = v
	}
	if v := payloadString(e.Payload, "route_name"); v != "" {
		s.RouteName = v
	}
}

func (p *RunProjector) anomaly(e ledger.Event, reason string) {
	p.log.Warn("anomalous event folded",
		"reason", reason,
		"sequence_no", e.Seq,
		"event_type", string(e.Type),
		"run_id", e.RunID,
	)
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func payloadStringSlice(payload map[string]any, key string) []string {
	if payload == nil {
		return nil
	}
	raw, ok := payload[key].([]any)
	if !ok {
		// Already-typed slices appear when the ledger has not round-tripped
		// through JSON (e.g. the in-memory store).
		if typed, ok := payload[key].([]string); ok {
			out := make([]string, len(typed))
			copy(out, typed)
			return out
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
