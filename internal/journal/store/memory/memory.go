package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"authkernel/internal/journal"
	"authkernel/pkg/platform/sentinel"
)

// InMemoryStore keeps journal entries per run. It backs the CLI's memory
// backend and the journal tests.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[journal.RunID]map[int]journal.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[journal.RunID]map[int]journal.Entry)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[journal.RunID]map[int]journal.Entry)
}

// Append writes all entries or none of them.
func (s *InMemoryStore) Append(_ context.Context, entries ...journal.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[journal.RunID]map[int]struct{})
	for _, e := range entries {
		if _, ok := s.runs[e.RunID][e.Seq]; ok {
			return fmt.Errorf("journal entry %s/%d: %w", e.RunID, e.Seq, sentinel.ErrConflict)
		}
		if _, ok := seen[e.RunID][e.Seq]; ok {
			return fmt.Errorf("journal entry %s/%d repeated in batch: %w", e.RunID, e.Seq, sentinel.ErrConflict)
		}
		if seen[e.RunID] == nil {
			seen[e.RunID] = make(map[int]struct{})
		}
		seen[e.RunID][e.Seq] = struct{}{}
	}
	for _, e := range entries {
		if s.runs[e.RunID] == nil {
			s.runs[e.RunID] = make(map[int]journal.Entry)
		}
		s.runs[e.RunID][e.Seq] = e
	}
	return nil
}

// ListByRun returns the run's entries ordered by Seq. An unknown run yields
// an empty slice.
func (s *InMemoryStore) ListByRun(_ context.Context, run journal.RunID) ([]journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]journal.Entry, 0, len(s.runs[run]))
	for _, e := range s.runs[run] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

// Runs lists the recorded run identifiers in sorted order.
func (s *InMemoryStore) Runs(_ context.Context) ([]journal.RunID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]journal.RunID, 0, len(s.runs))
	for run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i] < runs[j] })
	return runs, nil
}
