// Package simulation runs a configured fishery end to end: it builds the
// model and the scenario, advances the clock for the requested years and
// persists everything recorded to a store.RunStore.
//
// Usage:
//
//	r, err := simulation.NewRunner(simulation.Options{Config: cfg, Store: rs})
//	if err != nil {
//	    return err
//	}
//	result, err := r.Run(ctx)
package simulation
