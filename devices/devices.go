// Package devices provides small components that exercise the simulation
// core: an accumulator CPU, a programmable timer, a bank latch and a
// console.
package devices

import (
	"io"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
)

// Options configure the devices created through the catalog.
type Options struct {
	// ConsoleOut receives what consoles print. Nil discards it.
	ConsoleOut io.Writer
}

// Register adds the device types to a catalog.
func Register(cat *simulation.Catalog, opts Options) {
	cat.Register("board", newBoardFromSpec)
	cat.Register("cpu", newCPUFromSpec)
	cat.Register("timer", newTimerFromSpec)
	cat.Register("bank_latch", newBankLatchFromSpec)
	cat.Register("console",
		func(spec simulation.ComponentSpec) (modeling.Component, error) {
			return NewConsole(spec.Name, opts.ConsoleOut), nil
		})
}

// Board is a container for other devices. It may own a bus.
type Board struct {
	*modeling.ComponentBase
}

// NewBoard creates a board. A non-zero bus width gives it a "Bus" space.
func NewBoard(name string, busWidth uint) *Board {
	b := &Board{ComponentBase: modeling.NewComponentBase(name)}

	if busWidth > 0 {
		b.NewSpace(memory.MakeSpaceBuilder().
			WithName("Bus").
			WithAddressWidth(busWidth))
	}

	return b
}

func newBoardFromSpec(spec simulation.ComponentSpec) (modeling.Component, error) {
	width, err := spec.Params.Uint("bus_width", 0)
	if err != nil {
		return nil, err
	}

	return NewBoard(spec.Name, uint(width)), nil
}

func registerSpace(c *modeling.ComponentBase, name string, width uint) *memory.Space {
	return c.NewSpace(memory.MakeSpaceBuilder().
		WithName(name).
		WithAddressWidth(width))
}
