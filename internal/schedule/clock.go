// Package schedule provides the phased discrete-event clock that drives a
// simulation. Each Tick advances one step (one day) and runs every action due
// at that step, phase by phase, in registration order within a phase.
//
// The clock is single-threaded: actions run synchronously inside Tick and may
// schedule or cancel other actions while doing so.
package schedule

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/logging"
)

var (
	// ErrInvalidPeriod is returned when a repeating action has a non-positive period.
	ErrInvalidPeriod = errors.New("period must be positive")

	// ErrScheduleInPast is returned when the requested slot was already processed.
	ErrScheduleInPast = errors.New("cannot schedule in the past")

	// ErrNilAction is returned when scheduling a nil action.
	ErrNilAction = errors.New("action is nil")
)

// Action is invoked by the clock when it comes due.
type Action interface {
	Step(ctx context.Context, c *Clock)
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(ctx context.Context, c *Clock)

// Step calls f.
func (f ActionFunc) Step(ctx context.Context, c *Clock) { f(ctx, c) }

// Observer receives scheduling events. Implementations must not block.
type Observer interface {
	ActionFired(phase Phase)
	TickCompleted(step int)
}

// Option configures a Clock.
type Option func(*Clock)

// WithObserver attaches an observer notified on every fired action and tick.
func WithObserver(o Observer) Option {
	return func(c *Clock) { c.observer = o }
}

// WithLogger sets the logger used for trace-level scheduling output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) { c.logger = l }
}

// Clock owns simulated time and the event queue.
type Clock struct {
	step     int
	phase    Phase
	ticking  bool
	seq      uint64
	queue    queue
	observer Observer
	logger   *slog.Logger
}

// NewClock creates a clock at step 0 with an empty queue.
func NewClock(opts ...Option) *Clock {
	c := &Clock{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Step returns the number of completed ticks (the current step while ticking).
func (c *Clock) Step() int { return c.step }

// Day returns the day of the year, 1 to DaysPerYear.
func (c *Clock) Day() int {
	return (c.step/constants.StepsPerDay)%constants.DaysPerYear + 1
}

// Year returns the zero-based simulated year.
func (c *Clock) Year() int {
	return c.step / (constants.StepsPerDay * constants.DaysPerYear)
}

// Phase returns the phase being processed. It is only meaningful while ticking.
func (c *Clock) Phase() Phase { return c.phase }

// Ticking reports whether a Tick is in progress.
func (c *Clock) Ticking() bool { return c.ticking }

// Pending returns the number of queued actions.
func (c *Clock) Pending() int { return c.queue.Len() }

// ScheduleOnce runs a once at the given step and phase.
func (c *Clock) ScheduleOnce(a Action, p Phase, atStep int) (*Handle, error) {
	return c.schedule(a, p, atStep, 0)
}

// ScheduleOnceInXDays runs a once, days from now.
func (c *Clock) ScheduleOnceInXDays(a Action, p Phase, days int) (*Handle, error) {
	if days <= 0 {
		return nil, fmt.Errorf("schedule once in %d days: %w", days, ErrInvalidPeriod)
	}
	return c.schedule(a, p, c.step+days*constants.StepsPerDay, 0)
}

// ScheduleRepeating runs a every `every` steps, first at Step()+every.
func (c *Clock) ScheduleRepeating(a Action, p Phase, every int) (*Handle, error) {
	if every <= 0 {
		return nil, fmt.Errorf("schedule every %d steps: %w", every, ErrInvalidPeriod)
	}
	return c.schedule(a, p, c.step+every, every)
}

// ScheduleRepeatingFrom runs a at start, start+every, start+2*every, ...
func (c *Clock) ScheduleRepeatingFrom(a Action, p Phase, start, every int) (*Handle, error) {
	if every <= 0 {
		return nil, fmt.Errorf("schedule every %d steps: %w", every, ErrInvalidPeriod)
	}
	return c.schedule(a, p, start, every)
}

// ScheduleEveryStep runs a on every tick from the next one.
func (c *Clock) ScheduleEveryStep(a Action, p Phase) (*Handle, error) {
	return c.ScheduleRepeating(a, p, 1)
}

// ScheduleEveryDay runs a once per simulated day.
func (c *Clock) ScheduleEveryDay(a Action, p Phase) (*Handle, error) {
	return c.ScheduleRepeating(a, p, constants.StepsPerDay)
}

// ScheduleEveryXDays runs a every `days` simulated days.
func (c *Clock) ScheduleEveryXDays(a Action, p Phase, days int) (*Handle, error) {
	if days <= 0 {
		return nil, fmt.Errorf("schedule every %d days: %w", days, ErrInvalidPeriod)
	}
	return c.ScheduleRepeating(a, p, days*constants.StepsPerDay)
}

// ScheduleEveryYear runs a once per simulated year, first one year from now.
func (c *Clock) ScheduleEveryYear(a Action, p Phase) (*Handle, error) {
	return c.ScheduleRepeating(a, p, constants.DaysPerYear*constants.StepsPerDay)
}

func (c *Clock) schedule(a Action, p Phase, at, period int) (*Handle, error) {
	if a == nil {
		return nil, ErrNilAction
	}
	if !p.Valid() {
		return nil, fmt.Errorf("schedule: invalid %s", p)
	}
	if !c.slotOpen(at, p) {
		return nil, fmt.Errorf("schedule at step %d (%s), now step %d (%s): %w",
			at, p, c.step, c.phase, ErrScheduleInPast)
	}
	c.seq++
	e := &entry{
		action: a,
		phase:  p,
		period: period,
		next:   at,
		seq:    c.seq,
	}
	heap.Push(&c.queue, e)
	return &Handle{e: e, q: &c.queue}, nil
}

// slotOpen reports whether (at, p) will still be reached by the clock.
func (c *Clock) slotOpen(at int, p Phase) bool {
	if at > c.step {
		return true
	}
	return c.ticking && at == c.step && p >= c.phase
}

// Tick advances one step and runs every action due at it, in phase order.
// Repeating actions are re-queued before they run, so the next occurrence
// does not depend on what the invocation does.
func (c *Clock) Tick(ctx context.Context) {
	c.step++
	c.ticking = true
	c.phase = Dawn
	defer func() { c.ticking = false }()

	for {
		e := c.queue.peek()
		if e == nil || e.next > c.step {
			break
		}
		heap.Pop(&c.queue)
		if e.cancelled {
			continue
		}
		c.phase = e.phase
		if e.period > 0 {
			e.next += e.period
			heap.Push(&c.queue, e)
		}
		c.logger.Log(ctx, logging.LevelTrace, "action fired", "step", c.step, "phase", e.phase.String())
		e.action.Step(ctx, c)
		if c.observer != nil {
			c.observer.ActionFired(e.phase)
		}
	}

	if c.observer != nil {
		c.observer.TickCompleted(c.step)
	}
}
