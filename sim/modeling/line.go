package modeling

import (
	"fmt"
	"log"

	"github.com/sarchlab/chipsim/sim/naming"
	"github.com/sarchlab/chipsim/sim/state"
)

// LineFunc is called when the level of an input line changes.
type LineFunc func(asserted bool)

// An Input is the receiving end of a point-to-point signal line, such as an
// interrupt request or a reset.
type Input struct {
	name    string
	handler LineFunc
	level   bool
	drivers int
}

// Name returns the full name of the line.
func (i *Input) Name() string {
	return i.name
}

// Level tells if the line is asserted.
func (i *Input) Level() bool {
	return i.level
}

func (i *Input) set(asserted bool) {
	if i.level == asserted {
		return
	}

	i.level = asserted
	if i.handler != nil {
		i.handler(asserted)
	}
}

// An Output drives one or more input lines.
type Output struct {
	name  string
	sinks []*Input
	level bool
}

// Name returns the full name of the line.
func (o *Output) Name() string {
	return o.name
}

// Level tells if the line is asserted.
func (o *Output) Level() bool {
	return o.level
}

// Sinks returns the inputs driven by the line.
func (o *Output) Sinks() []*Input {
	return o.sinks
}

// Connect makes the output drive an input. An input can only be driven by
// one output.
func (o *Output) Connect(in *Input) error {
	if in.drivers > 0 {
		return fmt.Errorf("%s is already driven", in.name)
	}

	in.drivers++
	o.sinks = append(o.sinks, in)
	in.set(o.level)

	return nil
}

// Set changes the level of the line. The sinks are only notified of
// changes.
func (o *Output) Set(asserted bool) {
	if o.level == asserted {
		return
	}

	o.level = asserted
	for _, in := range o.sinks {
		in.set(asserted)
	}
}

// Assert raises the line.
func (o *Output) Assert() {
	o.Set(true)
}

// Clear lowers the line.
func (o *Output) Clear() {
	o.Set(false)
}

// Pulse raises and lowers the line.
func (o *Output) Pulse() {
	o.Set(true)
	o.Set(false)
}

// AddInput adds an input line to the component.
func (c *ComponentBase) AddInput(name string, handler LineFunc) *Input {
	if _, err := c.Input(name); err == nil {
		log.Panicf("%s already has an input %s", c.Name(), name)
	}

	in := &Input{
		name:    naming.BuildName(c.Name(), name),
		handler: handler,
	}
	c.inputs = append(c.inputs, in)

	return in
}

// AddOutput adds an output line to the component.
func (c *ComponentBase) AddOutput(name string) *Output {
	if _, err := c.Output(name); err == nil {
		log.Panicf("%s already has an output %s", c.Name(), name)
	}

	out := &Output{name: naming.BuildName(c.Name(), name)}
	c.outputs = append(c.outputs, out)

	return out
}

// Input returns the input line with the given short name.
func (c *ComponentBase) Input(name string) (*Input, error) {
	full := naming.BuildName(c.Name(), name)
	for _, in := range c.inputs {
		if in.name == full {
			return in, nil
		}
	}

	return nil, fmt.Errorf("%w: %s has no input %s", ErrNotFound, c.Name(), name)
}

// Output returns the output line with the given short name.
func (c *ComponentBase) Output(name string) (*Output, error) {
	full := naming.BuildName(c.Name(), name)
	for _, out := range c.outputs {
		if out.name == full {
			return out, nil
		}
	}

	return nil, fmt.Errorf("%w: %s has no output %s",
		ErrNotFound, c.Name(), name)
}

// Inputs returns the input lines.
func (c *ComponentBase) Inputs() []*Input {
	return c.inputs
}

// Outputs returns the output lines.
func (c *ComponentBase) Outputs() []*Output {
	return c.outputs
}

// RegisterLineState registers the levels of all the lines of the component
// as state.
func (c *ComponentBase) RegisterLineState(ns *state.Namespace) error {
	for _, out := range c.outputs {
		err := state.Register(ns, "out."+naming.Base(out.name), &out.level)
		if err != nil {
			return err
		}
	}

	for _, in := range c.inputs {
		err := state.Register(ns, "in."+naming.Base(in.name), &in.level)
		if err != nil {
			return err
		}
	}

	return nil
}
