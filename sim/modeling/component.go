// Package modeling defines what a simulated component is and the optional
// facets through which the simulation drives it.
package modeling

import (
	"fmt"
	"log"

	"github.com/sarchlab/chipsim/sim/hooking"
	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/naming"
	"github.com/sarchlab/chipsim/sim/timing"
)

// A Component is a block of simulated hardware. Its name is its path in the
// component tree, for example "Soc.Cpu".
//
// What the simulation does with a component depends on the facets it
// implements: Executable, SpaceOwner, Resolver, Starter, Resetter, Stopper,
// StateParticipant and LineSink.
type Component interface {
	naming.Named
	hooking.Hookable
}

// ComponentBase provides the common parts of a component: its name, hooks,
// clock, address spaces and signal lines.
type ComponentBase struct {
	*hooking.HookableBase
	naming.NamedBase

	clock timing.Clock
	slot  *timing.ExecSlot

	spaces  []*memory.Space
	inputs  []*Input
	outputs []*Output
}

// NewComponentBase creates a new ComponentBase.
func NewComponentBase(name string) *ComponentBase {
	naming.MustBeValid(name)

	c := new(ComponentBase)
	c.HookableBase = hooking.NewHookableBase()
	c.NamedBase = naming.MakeNamedBase(name)

	return c
}

// SetClock sets the clock that the component runs with.
func (c *ComponentBase) SetClock(clock timing.Clock) {
	c.clock = clock
}

// Clock returns the clock of the component.
func (c *ComponentBase) Clock() timing.Clock {
	return c.clock
}

// BindSlot attaches the scheduler slot of an executable component.
func (c *ComponentBase) BindSlot(slot *timing.ExecSlot) {
	c.slot = slot
}

// Slot returns the scheduler slot, or nil if the component is not
// executable.
func (c *ComponentBase) Slot() *timing.ExecSlot {
	return c.slot
}

// AddSpace adds an address space owned by the component.
func (c *ComponentBase) AddSpace(s *memory.Space) {
	for _, existing := range c.spaces {
		if existing.Name() == s.Name() {
			log.Panicf("%s already has a space named %s", c.Name(), s.Name())
		}
	}

	c.spaces = append(c.spaces, s)
}

// NewSpace builds and adds an address space.
func (c *ComponentBase) NewSpace(b memory.SpaceBuilder) *memory.Space {
	s := b.WithOwner(c.Name()).Build()
	c.AddSpace(s)

	return s
}

// Spaces returns the address spaces of the component.
func (c *ComponentBase) Spaces() []*memory.Space {
	return c.spaces
}

// Space returns the address space with the given name.
func (c *ComponentBase) Space(name string) (*memory.Space, error) {
	for _, s := range c.spaces {
		if s.Name() == name {
			return s, nil
		}
	}

	return nil, fmt.Errorf("%w: %s has no space %s",
		ErrNotFound, c.Name(), name)
}
