package simulation

import (
	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/sim/timing"
)

// buildContext is what a component sees of the simulation while it resolves
// and starts. The state namespace is only set during start.
type buildContext struct {
	sim *Simulation
	ns  *state.Namespace
}

func (c *buildContext) Lookup(path string) (modeling.Component, error) {
	return c.sim.Lookup(path)
}

func (c *buildContext) LookupSpace(path string) (*memory.Space, error) {
	return c.sim.LookupSpace(path)
}

func (c *buildContext) Scheduler() *timing.Scheduler {
	return c.sim.scheduler
}

func (c *buildContext) Regions() *memory.Regions {
	return c.sim.regions
}

func (c *buildContext) State() *state.Namespace {
	return c.ns
}

var _ modeling.Context = (*buildContext)(nil)
