package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type seriesKey struct {
	series string
	step   int
	column string
}

// MemoryStore implements RunStore for tests and throwaway runs.
type MemoryStore struct {
	mu           sync.RWMutex
	runs         map[string]Run
	observations map[string]map[seriesKey]Observation
	decisions    map[string][]Decision
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:         make(map[string]Run),
		observations: make(map[string]map[seriesKey]Observation),
		decisions:    make(map[string][]Decision),
	}
}

// CreateRun adds a run. The ID must be unused.
func (s *MemoryStore) CreateRun(ctx context.Context, run Run) error {
	if err := validateRun(run); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	run.StartedAt = run.StartedAt.UTC()
	s.runs[run.ID] = run
	return nil
}

// FinishRun records the final status of a run.
func (s *MemoryStore) FinishRun(ctx context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	at = at.UTC()
	run.Status = status
	run.FinishedAt = &at
	s.runs[id] = run
	return nil
}

// GetRun returns a copy of the run.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, ErrRunNotFound)
	}
	return &run, nil
}

// ListRuns returns all runs, most recent first.
func (s *MemoryStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// AddObservations stores observations. A repeated (series, step, column)
// for the same run is rejected, as the SQL backends do.
func (s *MemoryStore) AddObservations(ctx context.Context, obs []Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range obs {
		if _, ok := s.runs[o.RunID]; !ok {
			return fmt.Errorf("add observation: %w: %s", ErrRunNotFound, o.RunID)
		}
		k := seriesKey{o.Series, o.Step, o.Column}
		if _, dup := s.observations[o.RunID][k]; dup {
			return fmt.Errorf("duplicate observation %s/%s@%d", o.Series, o.Column, o.Step)
		}
	}
	for _, o := range obs {
		m := s.observations[o.RunID]
		if m == nil {
			m = make(map[seriesKey]Observation)
			s.observations[o.RunID] = m
		}
		m[seriesKey{o.Series, o.Step, o.Column}] = o
	}
	return nil
}

// Observations returns a run's observations ordered by series, step and column.
func (s *MemoryStore) Observations(ctx context.Context, runID, series string) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Observation
	for k, o := range s.observations[runID] {
		if series != "" && k.series != series {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Series != b.Series {
			return a.Series < b.Series
		}
		if a.Step != b.Step {
			return a.Step < b.Step
		}
		return a.Column < b.Column
	})
	return out, nil
}

// AddDecisions appends decisions.
func (s *MemoryStore) AddDecisions(ctx context.Context, decisions []Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range decisions {
		if _, ok := s.runs[d.RunID]; !ok {
			return fmt.Errorf("add decision: %w: %s", ErrRunNotFound, d.RunID)
		}
	}
	for _, d := range decisions {
		s.decisions[d.RunID] = append(s.decisions[d.RunID], d)
	}
	return nil
}

// Decisions returns a copy of a run's decisions in insertion order.
func (s *MemoryStore) Decisions(ctx context.Context, runID string) ([]Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.decisions[runID]
	if len(src) == 0 {
		return nil, nil
	}
	out := make([]Decision, len(src))
	copy(out, src)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
