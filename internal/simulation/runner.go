package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/poseidon/internal/config"
	"github.com/nvandessel/poseidon/internal/fishery"
	"github.com/nvandessel/poseidon/internal/logging"
	"github.com/nvandessel/poseidon/internal/metrics"
	"github.com/nvandessel/poseidon/internal/model"
	"github.com/nvandessel/poseidon/internal/store"
)

// Options configures a Runner. Only Config is required.
type Options struct {
	Config *config.PoseidonConfig

	// Store receives the run record and its rows. Nil skips persistence.
	Store store.RunStore

	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
	Metrics   *metrics.Collector
	Tracer    trace.TracerProvider

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Runner executes one simulation run per call to Run.
type Runner struct {
	opts Options
}

// NewRunner validates the configuration and returns a runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Config == nil {
		return nil, errors.New("simulation: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Runner{opts: opts}, nil
}

// Run simulates cfg.Years years. When the simulation itself fails the run is
// still recorded, with status failed, and the error is returned.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	cfg := r.opts.Config
	runID := r.opts.NewID()
	started := r.opts.Now()
	logger := r.opts.Logger.With("run", runID)

	if err := r.createRun(ctx, runID, started); err != nil {
		return nil, err
	}

	m, sc, runErr := r.simulate(ctx, runID, logger)

	status := store.RunFinished
	if runErr != nil {
		status = store.RunFailed
	}
	if m != nil {
		if err := r.persist(ctx, runID, m); err != nil {
			runErr = errors.Join(runErr, err)
			status = store.RunFailed
		}
	}
	finished := r.opts.Now()
	if r.opts.Store != nil {
		// The caller's context may be the reason the run failed.
		if err := r.opts.Store.FinishRun(context.WithoutCancel(ctx), runID, status, finished); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("failed to finish run: %w", err))
		}
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.RunFinished(runErr)
	}
	if runErr != nil {
		logger.Error("run failed", "error", runErr)
		return nil, runErr
	}

	result := summarize(runID, cfg, m, sc)
	result.StartedAt = started
	result.Duration = finished.Sub(started)
	logger.Info("run completed", "steps", result.Steps, "decisions", result.Decisions, "final_biomass", result.FinalBiomass)
	return result, nil
}

func (r *Runner) createRun(ctx context.Context, runID string, started time.Time) error {
	if r.opts.Store == nil {
		return nil
	}
	snapshot := *r.opts.Config
	snapshot.Store.DSN = snapshot.Store.RedactedDSN()
	cfgYAML, err := yaml.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	run := store.Run{
		ID:        runID,
		Seed:      snapshot.Seed,
		Years:     snapshot.Years,
		Fishers:   snapshot.Scenario.Fishers,
		Status:    store.RunRunning,
		Config:    string(cfgYAML),
		StartedAt: started,
	}
	if err := r.opts.Store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (r *Runner) simulate(ctx context.Context, runID string, logger *slog.Logger) (*model.Model, *fishery.Scenario, error) {
	cfg := r.opts.Config
	sink := func(ctx context.Context, batch []logging.Decision) error {
		return r.storeDecisions(ctx, runID, batch)
	}
	m, err := model.New(model.Options{
		Seed:      cfg.Seed,
		RunID:     runID,
		Logger:    logger,
		Decisions: r.opts.Decisions,
		Metrics:   r.opts.Metrics,
		Tracer:    r.opts.Tracer,

		DecisionSink: sink,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create model: %w", err)
	}
	sc, err := fishery.New(m, cfg.Params())
	if err != nil {
		return m, nil, fmt.Errorf("failed to build scenario: %w", err)
	}
	if err := sc.Start(); err != nil {
		return m, sc, fmt.Errorf("failed to start scenario: %w", err)
	}
	if err := m.RunYears(ctx, cfg.Years); err != nil {
		return m, sc, err
	}
	return m, sc, nil
}

// persist writes whatever the model recorded, including partial runs.
func (r *Runner) persist(ctx context.Context, runID string, m *model.Model) error {
	if r.opts.Store == nil {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	obs := Observations(runID, m.Daily)
	obs = append(obs, Observations(runID, m.Yearly)...)
	if err := r.opts.Store.AddObservations(ctx, obs); err != nil {
		return fmt.Errorf("failed to store observations: %w", err)
	}

	return m.FlushDecisions(ctx)
}

// storeDecisions writes one batch of decisions. Without a store the batch is
// dropped; the model still counts it.
func (r *Runner) storeDecisions(ctx context.Context, runID string, batch []logging.Decision) error {
	if r.opts.Store == nil {
		return nil
	}
	decisions := make([]store.Decision, len(batch))
	for i, d := range batch {
		decisions[i] = store.Decision{
			RunID:     runID,
			Step:      d.Step,
			Agent:     d.Agent,
			Attribute: d.Attribute,
			Status:    d.Status,
			Value:     d.Value,
			Fitness:   d.Fitness,
		}
	}
	if err := r.opts.Store.AddDecisions(ctx, decisions); err != nil {
		return fmt.Errorf("failed to store decisions: %w", err)
	}
	return nil
}

// Observations flattens a time series into store rows, one per column per step.
func Observations(runID string, ts *model.TimeSeries) []store.Observation {
	cols := ts.Columns()
	rows := ts.Rows()
	out := make([]store.Observation, 0, len(rows)*len(cols))
	for _, row := range rows {
		for _, col := range cols {
			out = append(out, store.Observation{
				RunID:  runID,
				Series: ts.Name(),
				Step:   row.Step,
				Column: col,
				Value:  row.Values[col],
			})
		}
	}
	return out
}
