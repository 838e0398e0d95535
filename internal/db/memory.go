package db

import (
	"context"
	"sort"
	"sync"

	"github.com/rawblock/trace-engine/pkg/models"
)

// MemoryStore is the in-process TraceStore used when no DATABASE_URL
// is configured, and by the scheduler tests. RWMutex over a map:
// loads and status listings dominate, writes happen once per state
// transition.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]models.Trace
}

// NewMemoryStore returns an empty in-memory trace store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]models.Trace)}
}

// Save stores a copy of the trace keyed by ID.
func (s *MemoryStore) Save(ctx context.Context, trace models.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[trace.ID] = trace
	return nil
}

// Load returns the trace or models.ErrTraceNotFound.
func (s *MemoryStore) Load(ctx context.Context, id string) (models.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trace, ok := s.traces[id]
	if !ok {
		return models.Trace{}, models.ErrTraceNotFound
	}
	return trace, nil
}

// Delete removes the trace or reports models.ErrTraceNotFound.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traces[id]; !ok {
		return models.ErrTraceNotFound
	}
	delete(s.traces, id)
	return nil
}

// ListByStatus returns matching traces oldest-first, mirroring the
// Postgres store's submission ordering.
func (s *MemoryStore) ListByStatus(ctx context.Context, status models.TraceStatus) ([]models.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trace
	for _, trace := range s.traces {
		if trace.Status == status {
			out = append(out, trace)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}
