package fishery

import (
	"fmt"

	"github.com/nvandessel/poseidon/internal/constants"
)

// Patch is one sea cell with its own logistic fish stock.
type Patch struct {
	Index    int
	Biomass  float64
	Capacity float64
	Growth   float64 // yearly intrinsic growth rate
	Closed   bool
}

// Grow applies one day of logistic growth.
func (p *Patch) Grow() {
	if p.Capacity <= 0 {
		return
	}
	daily := p.Growth / constants.DaysPerYear
	p.Biomass += daily * p.Biomass * (1 - p.Biomass/p.Capacity)
	p.Biomass = min(max(p.Biomass, 0), p.Capacity)
}

// Harvest removes up to share of the biomass and returns the catch.
func (p *Patch) Harvest(share float64) float64 {
	caught := p.Biomass * min(max(share, 0), 1)
	p.Biomass -= caught
	return caught
}

// Fisher is one boat. Destination is the patch it fishes when at sea.
type Fisher struct {
	ID           int
	Destination  int
	Cash         float64
	CashHistory  []float64
	AllowedAtSea bool
	AtSea        bool
	CatchToday   float64
	CatchYear    float64
}

func (f *Fisher) String() string { return fmt.Sprintf("fisher-%d", f.ID) }

// recordCash appends today's cash, dropping the oldest entries so at most
// keep remain.
func (f *Fisher) recordCash(keep int) {
	if keep > 0 && len(f.CashHistory) >= keep {
		n := copy(f.CashHistory, f.CashHistory[len(f.CashHistory)-keep+1:])
		f.CashHistory = f.CashHistory[:n]
	}
	f.CashHistory = append(f.CashHistory, f.Cash)
}

// CashDaysAgo returns the cash recorded `days` market days ago. ok is false
// when the history is too short.
func (f *Fisher) CashDaysAgo(days int) (float64, bool) {
	i := len(f.CashHistory) - 1 - days
	if days < 0 || i < 0 {
		return 0, false
	}
	return f.CashHistory[i], true
}
