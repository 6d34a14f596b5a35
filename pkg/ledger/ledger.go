package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MahdiNavaei/InvoiceMind/pkg/canonicalize"
)

// Ledger is the single writer over a Store. Appends are serialized under one
// mutex so sequence assignment and prev_hash chaining never race; reads go
// straight to the store and observe a committed prefix.
type Ledger struct {
	mu         sync.Mutex
	store      Store
	clock      func() time.Time
	maskFields map[string]struct{}

	// chain head, loaded lazily from the store on first append
	initialized bool
	lastSeq     uint64
	lastHash    string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source for testing.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithMaskFields redacts the named payload keys (case-insensitive, at any
// nesting depth) before hashing and persisting. Masking happens pre-hash, so
// verification never depends on the unmasked values.
func WithMaskFields(fields []string) Option {
	return func(l *Ledger) {
		l.maskFields = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			l.maskFields[strings.ToLower(f)] = struct{}{}
		}
	}
}

// New creates a Ledger over the given store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const redactedPlaceholder = "***REDACTED***"

// Append assigns the next sequence number, chains the event to the current
// head, computes its canonical hash, and persists it durably before returning.
// On a store failure nothing advances; the caller may retry, which produces a
// fresh event with a fresh prev_hash rather than reusing a stale one.
func (l *Ledger) Append(ctx context.Context, eventType EventType, runID string, payload map[string]any) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.initialized {
		if err := l.loadHead(ctx); err != nil {
			return Event{}, fmt.Errorf("load ledger head: %w", err)
		}
	}

	e := Event{
		Seq:          l.lastSeq + 1,
		TimestampUTC: l.clock().UTC(),
		Type:         eventType,
		RunID:        runID,
		Payload:      l.mask(payload),
		PrevHash:     l.lastHash,
	}
	hash, err := canonicalize.CanonicalHash(e.hashTuple())
	if err != nil {
		return Event{}, fmt.Errorf("hash event: %w", err)
	}
	e.Hash = hash

	if err := l.store.Append(ctx, e); err != nil {
		return Event{}, fmt.Errorf("append event seq %d: %w", e.Seq, err)
	}

	l.lastSeq = e.Seq
	l.lastHash = e.Hash
	return e, nil
}

func (l *Ledger) loadHead(ctx context.Context) error {
	last, ok, err := l.store.Last(ctx)
	if err != nil {
		return err
	}
	if ok {
		l.lastSeq = last.Seq
		l.lastHash = last.Hash
	} else {
		l.lastSeq = 0
		l.lastHash = GenesisHash
	}
	l.initialized = true
	return nil
}

// Scan returns committed events with sequence_no > sinceSeq in ascending
// order. Pass 0 to read from the beginning.
func (l *Ledger) Scan(ctx context.Context, sinceSeq uint64) ([]Event, error) {
	return l.store.Scan(ctx, sinceSeq)
}

// Head returns the hash of the most recently committed event, or GenesisHash
// for an empty ledger.
func (l *Ledger) Head(ctx context.Context) (string, error) {
	last, ok, err := l.store.Last(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return GenesisHash, nil
	}
	return last.Hash, nil
}

// Len returns the number of committed events.
func (l *Ledger) Len(ctx context.Context) (uint64, error) {
	last, ok, err := l.store.Last(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return last.Seq, nil
}

// Verify walks the chain from genesis, recomputing each event's hash and
// checking prev_hash linkage, and stops at the first mismatch.
//
// limit > 0 bounds the walk to the earliest limit events (a prefix). A prefix
// keeps the recomputed chain anchored at the genesis constant, so a bounded
// run still proves integrity of everything it covered; only a full walk
// (limit <= 0) is a tamper-evidence guarantee for the whole ledger.
func (l *Ledger) Verify(ctx context.Context, limit int) (VerifyResult, error) {
	events, err := l.store.Scan(ctx, 0)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("scan ledger: %w", err)
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}

	prevHash := GenesisHash
	for i, e := range events {
		if e.PrevHash != prevHash {
			return VerifyResult{
				Valid:           false,
				EventsChecked:   i + 1,
				HeadHash:        e.Hash,
				FirstErrorIndex: i,
				Error:           "prev_hash_mismatch",
			}, nil
		}
		computed, err := canonicalize.CanonicalHash(e.hashTuple())
		if err != nil {
			return VerifyResult{}, fmt.Errorf("recompute hash at index %d: %w", i, err)
		}
		if computed != e.Hash {
			return VerifyResult{
				Valid:           false,
				EventsChecked:   i + 1,
				HeadHash:        e.Hash,
				FirstErrorIndex: i,
				Error:           "hash_mismatch",
			}, nil
		}
		prevHash = e.Hash
	}

	return VerifyResult{
		Valid:           true,
		EventsChecked:   len(events),
		HeadHash:        prevHash,
		FirstErrorIndex: -1,
	}, nil
}

func (l *Ledger) mask(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	if len(l.maskFields) == 0 {
		return payload
	}
	masked, _ := l.maskValue(payload, "").(map[string]any)
	return masked
}

func (l *Ledger) maskValue(v any, key string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = l.maskValue(inner, k)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = l.maskValue(inner, key)
		}
		return out
	default:
		if key != "" {
			if _, hit := l.maskFields[strings.ToLower(key)]; hit {
				return redactedPlaceholder
			}
		}
		return v
	}
}
