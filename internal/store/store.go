// Package store persists simulation runs: their metadata, the recorded
// time series and every adaptation decision.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nvandessel/poseidon/internal/constants"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run describes one simulation run.
type Run struct {
	ID         string     `json:"id"`
	Seed       int64      `json:"seed"`
	Years      int        `json:"years"`
	Fishers    int        `json:"fishers"`
	Status     string     `json:"status"`
	Config     string     `json:"config,omitempty"` // effective YAML configuration
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Observation is one value of one column of a time series. Value may be NaN.
type Observation struct {
	RunID  string  `json:"run_id"`
	Series string  `json:"series"` // "daily" or "yearly"
	Step   int     `json:"step"`
	Column string  `json:"column"`
	Value  float64 `json:"value"`
}

// Decision is one committed adaptation decision. Fitness may be NaN.
type Decision struct {
	RunID     string  `json:"run_id"`
	Step      int     `json:"step"`
	Agent     string  `json:"agent"`
	Attribute string  `json:"attribute"`
	Status    string  `json:"status"`
	Value     string  `json:"value"`
	Fitness   float64 `json:"fitness"`
}

// RunStore defines the interface for storing and querying runs.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	FinishRun(ctx context.Context, id, status string, at time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns runs, most recently started first.
	ListRuns(ctx context.Context) ([]Run, error)

	AddObservations(ctx context.Context, obs []Observation) error
	// Observations returns a run's observations ordered by series, step
	// and column. An empty series selects all series.
	Observations(ctx context.Context, runID, series string) ([]Observation, error)

	AddDecisions(ctx context.Context, decisions []Decision) error
	// Decisions returns a run's decisions in insertion order.
	Decisions(ctx context.Context, runID string) ([]Decision, error)

	Close() error
}

// Open returns the RunStore for backend. target is the SQLite directory or
// the Postgres DSN; it is ignored for the memory backend.
func Open(ctx context.Context, backend constants.Backend, target string) (RunStore, error) {
	switch backend {
	case constants.BackendMemory:
		return NewMemoryStore(), nil
	case constants.BackendSQLite:
		return NewSQLiteStore(ctx, target)
	case constants.BackendPostgres:
		return NewPostgresStore(ctx, target)
	default:
		return nil, fmt.Errorf("unknown store backend: %q", backend)
	}
}

func validateRun(run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if run.StartedAt.IsZero() {
		return fmt.Errorf("run %s: start time is required", run.ID)
	}
	return nil
}
