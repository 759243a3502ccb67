// Package model holds the simulation root: the clock, the random source and
// the shared data collectors every scenario writes to.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math/rand"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/logging"
	"github.com/nvandessel/poseidon/internal/metrics"
	"github.com/nvandessel/poseidon/internal/schedule"
	"github.com/nvandessel/poseidon/internal/tracing"
)

// Options configures a Model. Zero values are usable.
type Options struct {
	Seed      int64
	RunID     string
	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
	Metrics   *metrics.Collector
	Tracer    trace.TracerProvider

	// DecisionSink receives recorded decisions in batches of at least
	// DecisionBatch during RunYears, and the remainder on FlushDecisions.
	// The slice is reused afterwards. Nil keeps every decision in memory.
	DecisionSink  func(ctx context.Context, batch []logging.Decision) error
	DecisionBatch int
}

// Model is the root every collaborator receives. It is single-threaded.
type Model struct {
	RunID     string
	Seed      int64
	Clock     *schedule.Clock
	Rand      *rand.Rand
	Logger    *slog.Logger
	Decisions *logging.DecisionLogger
	Metrics   *metrics.Collector

	Daily  *TimeSeries
	Yearly *TimeSeries

	tracer   trace.Tracer
	sink     func(ctx context.Context, batch []logging.Decision) error
	batch    int
	pending  []logging.Decision
	byStatus map[string]int
	total    int
}

// New creates a model at step 0 and starts its data collectors.
func New(opts Options) (*Model, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clockOpts := []schedule.Option{schedule.WithLogger(logger)}
	if opts.Metrics != nil {
		clockOpts = append(clockOpts, schedule.WithObserver(opts.Metrics))
	}

	m := &Model{
		RunID:     opts.RunID,
		Seed:      opts.Seed,
		Clock:     schedule.NewClock(clockOpts...),
		Rand:      rand.New(rand.NewSource(opts.Seed)),
		Logger:    logger,
		Decisions: opts.Decisions,
		Metrics:   opts.Metrics,
		Daily:     NewTimeSeries(constants.SeriesDaily, schedule.DailyDataGathering, constants.StepsPerDay),
		Yearly:    NewTimeSeries(constants.SeriesYearly, schedule.AggregateDataGathering, constants.DaysPerYear*constants.StepsPerDay),
		tracer:    tracing.Tracer(opts.Tracer),
		sink:      opts.DecisionSink,
		batch:     opts.DecisionBatch,
		byStatus:  make(map[string]int),
	}
	if m.batch <= 0 {
		m.batch = constants.DefaultDecisionBatch
	}
	if err := m.Daily.Start(m.Clock); err != nil {
		return nil, err
	}
	if err := m.Yearly.Start(m.Clock); err != nil {
		return nil, err
	}
	return m, nil
}

// Step advances the clock by one tick.
func (m *Model) Step(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "poseidon.tick")
	m.Clock.Tick(ctx)
	span.SetAttributes(
		attribute.Int("poseidon.step", m.Clock.Step()),
		attribute.Int("poseidon.year", m.Clock.Year()),
	)
	span.End()
}

// RunYears ticks until the clock reaches the start of year `years`, so each
// yearly collector fires exactly `years` times. It stops early, returning
// the context error, when ctx is done.
func (m *Model) RunYears(ctx context.Context, years int) error {
	if years <= 0 {
		return fmt.Errorf("run %d years: %w", years, schedule.ErrInvalidPeriod)
	}
	ctx, span := m.tracer.Start(ctx, "poseidon.run",
		trace.WithAttributes(
			attribute.String("poseidon.run_id", m.RunID),
			attribute.Int64("poseidon.seed", m.Seed),
			attribute.Int("poseidon.years", years),
		))
	defer span.End()

	m.Logger.Info("simulation started", "run", m.RunID, "seed", m.Seed, "years", years)
	for m.Clock.Year() < years {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return fmt.Errorf("run interrupted at step %d: %w", m.Clock.Step(), err)
		}
		m.Step(ctx)
		if m.sink != nil && len(m.pending) >= m.batch {
			if err := m.FlushDecisions(ctx); err != nil {
				span.RecordError(err)
				return err
			}
		}
		if m.Clock.Day() == 1 {
			m.Logger.Debug("year completed", "year", m.Clock.Year(), "step", m.Clock.Step())
		}
	}
	m.Logger.Info("simulation finished", "run", m.RunID, "steps", m.Clock.Step())
	return nil
}

// Schedule registers a recurring action and wraps setup errors with name.
func (m *Model) Schedule(name string, a schedule.Action, p schedule.Phase, everyDays int) (*schedule.Handle, error) {
	h, err := m.Clock.ScheduleEveryXDays(a, p, everyDays)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", name, err)
	}
	return h, nil
}

// RecordDecision stores an adaptation decision and forwards it to the
// decision log and metrics.
func (m *Model) RecordDecision(d logging.Decision) {
	d.Run = m.RunID
	d.Step = m.Clock.Step()
	m.pending = append(m.pending, d)
	m.byStatus[d.Status]++
	m.total++
	m.Decisions.LogDecision(d)
	if m.Metrics != nil {
		m.Metrics.Decision(d.Attribute, d.Status)
	}
}

// FlushDecisions hands pending decisions to the sink. Without a sink it is
// a no-op and decisions stay in DecisionLog.
func (m *Model) FlushDecisions(ctx context.Context) error {
	if m.sink == nil || len(m.pending) == 0 {
		return nil
	}
	if err := m.sink(ctx, m.pending); err != nil {
		return fmt.Errorf("flush %d decisions: %w", len(m.pending), err)
	}
	clear(m.pending)
	m.pending = m.pending[:0]
	return nil
}

// DecisionLog returns the decisions not yet handed to the sink; without a
// sink that is every decision recorded so far.
func (m *Model) DecisionLog() []logging.Decision { return m.pending }

// DecisionCount returns how many decisions were recorded in total and per
// status, flushed or not.
func (m *Model) DecisionCount() (int, map[string]int) {
	return m.total, maps.Clone(m.byStatus)
}
