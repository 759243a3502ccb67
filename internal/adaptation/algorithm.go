package adaptation

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/nvandessel/poseidon/internal/schedule"
)

// ErrDimensionMismatch is returned when a vector value does not have the
// dimension an algorithm was built for.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Algorithm decides how candidates are generated and judged.
//
// The judge methods return ok=false to defer: the controller then keeps
// whatever the sensor reports. When the returned value equals prev, the
// controller also rolls the fitness baseline back to prevFit.
type Algorithm[A any, T any] interface {
	Start(clock *schedule.Clock, agent A, initial T) error
	Randomize(rng *rand.Rand, agent A, fitness float64, current T) T
	JudgeRandomization(rng *rand.Rand, agent A, prevFit, curFit float64, prev, cur T) (T, bool)
	JudgeImitation(rng *rand.Rand, agent A, friend A, prevFit, curFit float64, prev, cur T) (T, bool)
	Imitate(rng *rand.Rand, agent A, fitness float64, current T, friends []A,
		objective ObjectiveFunction[A], sensor Sensor[A, T]) (T, A, bool)
}

// HillClimber explores by perturbing the current value and keeps a change
// only when fitness strictly improved.
type HillClimber[A any, T any] struct {
	// Perturb returns a candidate near v. It must only depend on its inputs.
	Perturb func(rng *rand.Rand, v T) T
	// Check validates the initial value on Start. Optional.
	Check func(v T) error
}

// Start validates the initial value.
func (h *HillClimber[A, T]) Start(_ *schedule.Clock, _ A, initial T) error {
	if h.Check == nil {
		return nil
	}
	return h.Check(initial)
}

// Randomize perturbs current.
func (h *HillClimber[A, T]) Randomize(rng *rand.Rand, _ A, _ float64, current T) T {
	return h.Perturb(rng, current)
}

// JudgeRandomization keeps cur when it scored strictly better than prev.
func (h *HillClimber[A, T]) JudgeRandomization(_ *rand.Rand, _ A, prevFit, curFit float64, prev, cur T) (T, bool) {
	return climb(prevFit, curFit, prev, cur)
}

// JudgeImitation applies the same rule as JudgeRandomization.
func (h *HillClimber[A, T]) JudgeImitation(_ *rand.Rand, _ A, _ A, prevFit, curFit float64, prev, cur T) (T, bool) {
	return climb(prevFit, curFit, prev, cur)
}

// Imitate copies the best strictly dominating friend.
func (h *HillClimber[A, T]) Imitate(_ *rand.Rand, _ A, fitness float64, current T, friends []A,
	objective ObjectiveFunction[A], sensor Sensor[A, T]) (T, A, bool) {
	return ImitateBest(fitness, current, friends, objective, sensor)
}

func climb[T any](prevFit, curFit float64, prev, cur T) (T, bool) {
	prevOK, curOK := finite(prevFit), finite(curFit)
	switch {
	case !prevOK && !curOK:
		var zero T
		return zero, false
	case !curOK:
		return prev, true
	case !prevOK:
		return cur, true
	case curFit > prevFit:
		return cur, true
	default:
		return prev, true
	}
}

// ImitateBest returns the value of the friend with the highest finite fitness
// strictly above fitness. Ties go to the earlier friend. ok is false when no
// friend dominates, in which case current is returned.
func ImitateBest[A any, T any](fitness float64, current T, friends []A,
	objective ObjectiveFunction[A], sensor Sensor[A, T]) (T, A, bool) {
	var (
		best    A
		found   bool
		bestFit = fitness
	)
	for _, f := range friends {
		fit := objective.ComputeCurrentFitness(f)
		if !finite(fit) {
			continue
		}
		// A non-finite own fitness is beaten by any finite friend.
		if (!finite(bestFit) && !found) || fit > bestFit {
			best, bestFit, found = f, fit, true
		}
	}
	if !found {
		var none A
		return current, none, false
	}
	return sensor.Scan(best), best, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NewScalarClimber perturbs a float64 uniformly within [-maxStep, maxStep].
func NewScalarClimber[A any](maxStep float64) *HillClimber[A, float64] {
	return &HillClimber[A, float64]{
		Perturb: func(rng *rand.Rand, v float64) float64 {
			return v + (rng.Float64()*2-1)*maxStep
		},
	}
}

// NewIntervalClimber moves an int by a non-zero step of at most maxStep in
// either direction.
func NewIntervalClimber[A any](maxStep int) *HillClimber[A, int] {
	if maxStep < 1 {
		maxStep = 1
	}
	return &HillClimber[A, int]{
		Perturb: func(rng *rand.Rand, v int) int {
			step := rng.Intn(maxStep) + 1
			if rng.Intn(2) == 0 {
				step = -step
			}
			return v + step
		},
	}
}

// NewVectorClimber perturbs one randomly chosen coordinate of a vector of
// length dims. The input slice is never modified.
func NewVectorClimber[A any](dims int, maxStep float64) *HillClimber[A, []float64] {
	return &HillClimber[A, []float64]{
		Perturb: func(rng *rand.Rand, v []float64) []float64 {
			out := make([]float64, len(v))
			copy(out, v)
			if len(out) == 0 {
				return out
			}
			i := rng.Intn(len(out))
			out[i] += (rng.Float64()*2 - 1) * maxStep
			return out
		},
		Check: func(v []float64) error {
			if len(v) != dims {
				return fmt.Errorf("vector climber: got %d values, want %d: %w", len(v), dims, ErrDimensionMismatch)
			}
			return nil
		},
	}
}
