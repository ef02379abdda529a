package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// memoryStore keeps the index in-process. State is lost on restart; the
// first reconcile pass rebuilds it from the schedules.
type memoryStore struct {
	mu      sync.Mutex
	entries map[uint32]Entry
	audit   []AuditEntry
	closed  bool
}

func NewMemory() Store {
	return &memoryStore{entries: map[uint32]Entry{}}
}

func (s *memoryStore) Put(ctx context.Context, e Entry) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	s.entries[e.ID] = e
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id uint32) (Entry, error) {
	if err := checkCtx(ctx); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Entry{}, ErrClosed
	}
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *memoryStore) List(ctx context.Context) ([]Entry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return sortedEntries(s.entries), nil
}

func (s *memoryStore) Delete(ctx context.Context, id uint32) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.entries, id)
	return nil
}

func (s *memoryStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortedEntries(m map[uint32]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
