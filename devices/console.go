package devices

import (
	"bytes"
	"io"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
)

// Console prints every byte written to its register.
type Console struct {
	*modeling.ComponentBase

	out     io.Writer
	printed bytes.Buffer
	regs    *memory.Space
}

// NewConsole creates a console that copies its output to out, if not nil.
func NewConsole(name string, out io.Writer) *Console {
	c := &Console{
		ComponentBase: modeling.NewComponentBase(name),
		out:           out,
	}
	c.regs = registerSpace(c.ComponentBase, "Regs", 4)

	return c
}

// Start maps the output register.
func (c *Console) Start(modeling.Context) error {
	c.regs.Range(0x0, 0xf).Handlers(nil, c.write)
	return nil
}

// Output returns everything printed so far.
func (c *Console) Output() string {
	return c.printed.String()
}

func (c *Console) write(_, value uint64) {
	b := []byte{byte(value)}
	c.printed.Write(b)

	if c.out != nil {
		c.out.Write(b)
	}
}
