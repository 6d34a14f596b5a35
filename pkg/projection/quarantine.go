package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
)

// QuarantineItem is the projected lifecycle state of a quarantined document.
type QuarantineItem struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	Stage          string     `json:"stage,omitempty"`
	Status         string     `json:"status"`
	ReasonCodes    []string   `json:"reason_codes"`
	ReprocessCount int        `json:"reprocess_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the item has reached a resolved status.
func (q *QuarantineItem) Resolved() bool {
	return strings.Contains(q.Status, "RESOLVED")
}

// QuarantineFilter narrows List results. Status filters by exact equality;
// Query is a case-insensitive substring matched across id, stage, reason
// codes, and document id (OR across fields). The two compose as AND.
type QuarantineFilter struct {
	Status string
	Query  string
	Limit  int
}

// QuarantineProjector folds quarantine events into item state.
type QuarantineProjector struct {
	source EventSource
	log    *slog.Logger
}

// NewQuarantineProjector creates a projector over the given event source.
func NewQuarantineProjector(source EventSource, log *slog.Logger) *QuarantineProjector {
	if log == nil {
		log = slog.Default()
	}
	return &QuarantineProjector{source: source, log: log}
}

// Project folds the events for a single quarantine item. Returns
// ledger.ErrNotFound when no events reference itemID.
func (p *QuarantineProjector) Project(ctx context.Context, itemID string) (*QuarantineItem, error) {
	items, err := p.fold(ctx)
	if err != nil {
		return nil, err
	}
	item, ok := items[itemID]
	if !ok {
		return nil, fmt.Errorf("quarantine item %s: %w", itemID, ledger.ErrNotFound)
	}
	return item, nil
}

// List returns the projected items matching filter, newest first.
func (p *QuarantineProjector) List(ctx context.Context, filter QuarantineFilter) ([]*QuarantineItem, error) {
	items, err := p.fold(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*QuarantineItem, 0, len(items))
	for _, item := range items {
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		if filter.Query != "" && !matchesQuery(item, filter.Query) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (p *QuarantineProjector) fold(ctx context.Context) (map[string]*QuarantineItem, error) {
	events, err := p.source.Scan(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	items := make(map[string]*QuarantineItem)
	for _, e := range events {
		switch e.Type {
		case ledger.EventQuarantineCreated, ledger.EventQuarantineReprocess, ledger.EventQuarantineResolved:
		default:
			continue
		}
		id := payloadString(e.Payload, "quarantine_item_id")
		if id == "" {
			p.anomaly(e, "quarantine event without quarantine_item_id")
			continue
		}

		item := items[id]
		if item == nil {
			item = &QuarantineItem{
				ID:          id,
				Status:      "OPEN",
				ReasonCodes: []string{},
				CreatedAt:   e.TimestampUTC,
			}
			items[id] = item
			if e.Type != ledger.EventQuarantineCreated {
				p.anomaly(e, "first event for quarantine item is not quarantine_created")
			}
		}
		item.UpdatedAt = e.TimestampUTC

		switch e.Type {
		case ledger.EventQuarantineCreated:
			if s := payloadString(e.Payload, "status"); s != "" {
				item.Status = s
			}
			item.DocumentID = payloadString(e.Payload, "document_id")
			item.Stage = payloadString(e.Payload, "stage")
			if codes := payloadStringSlice(e.Payload, "reason_codes"); codes != nil {
				item.ReasonCodes = codes
			}

		case ledger.EventQuarantineReprocess:
			// A reprocess attempt never changes status by itself; resolution
			// arrives as its own event.
			item.ReprocessCount++

		case ledger.EventQuarantineResolved:
			if item.Resolved() {
				p.anomaly(e, "resolve event for already-resolved item")
				break
			}
			status := payloadString(e.Payload, "status")
			if status == "" || !strings.Contains(status, "RESOLVED") {
				status = "QUARANTINE_RESOLVED"
			}
			item.Status = status
			resolvedAt := e.TimestampUTC
			item.ResolvedAt = &resolvedAt
		}
	}
	return items, nil
}

func matchesQuery(item *QuarantineItem, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(item.ID), q) ||
		strings.Contains(strings.ToLower(item.Stage), q) ||
		strings.Contains(strings.ToLower(item.DocumentID), q) {
		return true
	}
	for _, code := range item.ReasonCodes {
		if strings.Contains(strings.ToLower(code), q) {
			return true
		}
	}
	return false
}

func (p *QuarantineProjector) anomaly(e ledger.Event, reason string) {
	p.log.Warn("anomalous event folded",
		"reason", reason,
		"sequence_no", e.Seq,
		"event_type", string(e.Type),
	)
}
