// Package network holds the directed social graph agents imitate along.
package network

import (
	"fmt"
	"math/rand"
)

// Directed maps each agent to its out-neighbours.
type Directed[A comparable] struct {
	out map[A][]A
}

// Empty returns a graph with no edges.
func Empty[A comparable]() *Directed[A] {
	return &Directed[A]{out: make(map[A][]A)}
}

// NewEquidegree gives every agent exactly degree distinct random friends,
// never itself. The result depends only on agents' order and rng.
func NewEquidegree[A comparable](agents []A, degree int, rng *rand.Rand) (*Directed[A], error) {
	if degree < 0 {
		return nil, fmt.Errorf("network degree %d is negative", degree)
	}
	if len(agents) > 0 && degree > len(agents)-1 {
		return nil, fmt.Errorf("network degree %d needs at least %d agents, have %d", degree, degree+1, len(agents))
	}
	g := Empty[A]()
	for i, a := range agents {
		// Partial Fisher-Yates over the other agents.
		others := make([]A, 0, len(agents)-1)
		others = append(others, agents[:i]...)
		others = append(others, agents[i+1:]...)
		for j := 0; j < degree; j++ {
			k := j + rng.Intn(len(others)-j)
			others[j], others[k] = others[k], others[j]
		}
		g.out[a] = others[:degree:degree]
	}
	return g, nil
}

// Connect adds a directed edge unless it already exists or is a self loop.
func (g *Directed[A]) Connect(from, to A) {
	if from == to {
		return
	}
	for _, f := range g.out[from] {
		if f == to {
			return
		}
	}
	g.out[from] = append(g.out[from], to)
}

// Friends returns the out-neighbours of agent. The slice must not be modified.
func (g *Directed[A]) Friends(agent A) []A {
	return g.out[agent]
}

// Extractor adapts the graph to a friends extractor. rng is unused.
func (g *Directed[A]) Extractor() func(agent A, rng *rand.Rand) []A {
	return func(agent A, _ *rand.Rand) []A { return g.out[agent] }
}

// Edges returns the number of directed edges.
func (g *Directed[A]) Edges() int {
	n := 0
	for _, f := range g.out {
		n += len(f)
	}
	return n
}
