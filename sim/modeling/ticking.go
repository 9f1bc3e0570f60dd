package modeling

import "github.com/sarchlab/chipsim/sim/timing"

// TickingComponent is a component that does its work one cycle at a time.
// An idle tick skips the rest of the quantum.
type TickingComponent struct {
	*ComponentBase
	*timing.TickingExecutable
}

// NewTickingComponent creates a new ticking component.
func NewTickingComponent(name string, ticker timing.Ticker) *TickingComponent {
	tc := new(TickingComponent)
	tc.ComponentBase = NewComponentBase(name)
	tc.TickingExecutable = timing.NewTickingExecutable(name, ticker)

	return tc
}

// Name returns the name of the component.
func (tc *TickingComponent) Name() string {
	return tc.ComponentBase.Name()
}

// BindSlot attaches the scheduler slot.
func (tc *TickingComponent) BindSlot(slot *timing.ExecSlot) {
	tc.ComponentBase.BindSlot(slot)
	tc.TickingExecutable.Bind(slot)
}

// Slot returns the scheduler slot.
func (tc *TickingComponent) Slot() *timing.ExecSlot {
	return tc.ComponentBase.Slot()
}
