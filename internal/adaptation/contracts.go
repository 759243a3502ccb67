// Package adaptation implements the explore/imitate/exploit decision engine.
//
// An ExploreImitate controller owns one adaptable attribute (of type T) for a
// population of agents (of type A). Once per decision period it judges the
// outcome of the agent's previous move, then either explores a random
// candidate, imitates a better-performing peer, or keeps the current value.
// What T means is left to the Sensor, Actuator and Algorithm supplied by the
// caller.
package adaptation

import "math/rand"

// Sensor reads an agent's current decision value.
type Sensor[A any, T any] interface {
	Scan(agent A) T
}

// SensorFunc adapts a function to Sensor.
type SensorFunc[A any, T any] func(agent A) T

// Scan calls f.
func (f SensorFunc[A, T]) Scan(agent A) T { return f(agent) }

// Actuator writes a decision value back to the agent.
type Actuator[A any, T any] interface {
	Apply(agent A, value T)
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc[A any, T any] func(agent A, value T)

// Apply calls f.
func (f ActuatorFunc[A, T]) Apply(agent A, value T) { f(agent, value) }

// ObjectiveFunction scores an agent. Higher is better. Implementations may
// return NaN when the agent has too little history to be judged.
type ObjectiveFunction[A any] interface {
	ComputeCurrentFitness(agent A) float64
	ComputePreviousFitness(agent A) float64
}

// FriendsExtractor returns the peers an agent may imitate.
type FriendsExtractor[A any] func(agent A, rng *rand.Rand) []A

// chance draws a Bernoulli trial. Certain outcomes do not consume randomness.
func chance(rng *rand.Rand, p float64) bool {
	if p >= 1 {
		return true
	}
	if !(p > 0) {
		return false
	}
	return rng.Float64() < p
}
