package modeling

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/sim/timing"
)

// ErrNotFound is reported when a path does not lead to a component, a
// space or a line.
var ErrNotFound = errors.New("not found")

// Executable is a component that executes clock cycles.
type Executable interface {
	Component
	timing.Executable
}

// SlotBinder receives the scheduler slot of an executable component.
type SlotBinder interface {
	BindSlot(slot *timing.ExecSlot)
}

// Clocked receives the clock that the component is declared with.
type Clocked interface {
	SetClock(clock timing.Clock)
	Clock() timing.Clock
}

// SpaceOwner is a component that owns address spaces.
type SpaceOwner interface {
	Spaces() []*memory.Space
	Space(name string) (*memory.Space, error)
}

// Resolver binds references to other components. When Resolve runs, every
// component exists but none has started.
type Resolver interface {
	Resolve(ctx Context) error
}

// Starter prepares a component to run. It registers state, allocates timers
// and adds address ranges. The whole tree is resolved by then.
type Starter interface {
	Start(ctx Context) error
}

// Resetter reinitializes the run-time state of a component. It can be called
// any number of times.
type Resetter interface {
	Reset()
}

// Stopper is called once when the simulation is torn down.
type Stopper interface {
	Stop()
}

// StateParticipant is told before its state is saved and after it is
// restored.
type StateParticipant interface {
	PreSave()
	PostLoad()
}

// LineSink is a component with named input lines.
type LineSink interface {
	Input(name string) (*Input, error)
}

// LineSource is a component with named output lines.
type LineSource interface {
	Output(name string) (*Output, error)
}

// Context is what the simulation offers a component while it resolves and
// starts.
type Context interface {
	// Lookup finds a component by path.
	Lookup(path string) (Component, error)

	// LookupSpace finds an address space by "Component:Space" path.
	LookupSpace(path string) (*memory.Space, error)

	// Scheduler returns the scheduler of the simulation.
	Scheduler() *timing.Scheduler

	// Regions returns the named shared memory regions.
	Regions() *memory.Regions

	// State returns the state namespace of the component. It is only
	// available while starting.
	State() *state.Namespace
}

// LookupAs finds a component by path and checks that it has the requested
// type or facet.
func LookupAs[T any](ctx Context, path string) (T, error) {
	var zero T

	c, err := ctx.Lookup(path)
	if err != nil {
		return zero, err
	}

	t, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%s is a %T, not a %s",
			path, c, reflect.TypeOf((*T)(nil)).Elem())
	}

	return t, nil
}
