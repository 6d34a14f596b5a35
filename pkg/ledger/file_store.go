package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists events as JSON Lines in a single append-only file.
// Suited to single-node deployments; the SQL stores exist for everything else.
type FileStore struct {
	path string
	mu   sync.RWMutex

	loaded bool
	last   Event
	hasAny bool
}

// NewFileStore opens (or creates) a JSONL event log at path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Append(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync ledger file: %w", err)
	}

	s.last = e
	s.hasAny = true
	s.loaded = true
	return nil
}

func (s *FileStore) Scan(_ context.Context, sinceSeq uint64) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readAll(sinceSeq)
}

func (s *FileStore) Last(_ context.Context) (Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		events, err := s.readAll(0)
		if err != nil {
			return Event{}, false, err
		}
		if len(events) > 0 {
			s.last = events[len(events)-1]
			s.hasAny = true
		}
		s.loaded = true
	}
	return s.last, s.hasAny, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readAll(sinceSeq uint64) ([]Event, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(f)
	var out []Event
	for {
		var e Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode event: %w", err)
		}
		if e.Seq > sinceSeq {
			out = append(out, e)
		}
	}
	return out, nil
}
