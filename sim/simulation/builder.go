package simulation

import (
	"fmt"

	"github.com/sarchlab/chipsim/datarecording"
	"github.com/sarchlab/chipsim/sim/timing"
)

// Builder can be used to build a simulation.
type Builder struct {
	name       string
	version    string
	maxQuantum timing.VTime
	maxSlice   timing.VTime
	recorder   datarecording.DataRecorder
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		name:     "Machine",
		version:  "0.1.0",
		maxSlice: timing.DefaultMaxSlice,
	}
}

// WithName sets the name of the simulated machine.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithVersion sets the machine version. Snapshots can only be restored into
// a machine with a compatible version.
func (b Builder) WithVersion(version string) Builder {
	b.version = version
	return b
}

// WithMaxQuantum caps how long an executable may run before the others get
// a turn. Zero means no cap.
func (b Builder) WithMaxQuantum(q timing.VTime) Builder {
	b.maxQuantum = q
	return b
}

// WithMaxSlice sets the longest timeslice when nothing else bounds it.
func (b Builder) WithMaxSlice(d timing.VTime) Builder {
	b.maxSlice = d
	return b
}

// WithDataRecorder records the scheduler activity into the recorder. The
// recorder is flushed and closed at teardown.
func (b Builder) WithDataRecorder(r datarecording.DataRecorder) Builder {
	b.recorder = r
	return b
}

// Build builds the simulation.
func (b Builder) Build() (*Simulation, error) {
	s, err := newSimulation(b.name, b.version)
	if err != nil {
		return nil, err
	}

	if b.maxQuantum.IsNegative() || b.maxSlice.IsNegative() {
		return nil, fmt.Errorf("simulation: negative max quantum or max slice")
	}

	s.scheduler.SetMaxQuantum(b.maxQuantum)

	if !b.maxSlice.IsZero() {
		s.scheduler.SetMaxSlice(b.maxSlice)
	}

	if b.recorder != nil {
		s.recorder = b.recorder
		s.scheduler.AcceptHook(datarecording.NewTraceHook(b.recorder))
	}

	return s, nil
}
