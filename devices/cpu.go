package devices

import (
	"fmt"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/sim/timing"
)

// The instruction set of the CPU. Operands follow the opcode; addresses are
// two bytes, little endian.
const (
	OpNop byte = 0x00 // no operation
	OpLdi byte = 0x01 // A = imm
	OpLda byte = 0x02 // A = [addr]
	OpSta byte = 0x03 // [addr] = A
	OpAdd byte = 0x04 // A += imm
	OpSub byte = 0x05 // A -= imm
	OpInc byte = 0x06 // A++
	OpDec byte = 0x07 // A--
	OpJmp byte = 0x08 // PC = addr
	OpJnz byte = 0x09 // PC = addr if A != 0
	OpJz  byte = 0x0a // PC = addr if A == 0
	OpEi  byte = 0x0b // enable interrupts
	OpDi  byte = 0x0c // disable interrupts
	OpRti byte = 0x0d // return from interrupt
	OpWai byte = 0x0e // wait for an interrupt
	OpHlt byte = 0xff // halt until reset
)

// The vectors the CPU reads its start and interrupt addresses from.
const (
	ResetVector uint64 = 0xfffc
	IRQVector   uint64 = 0xfffe
)

var opCycles = [256]uint64{
	OpNop: 1, OpLdi: 2, OpLda: 4, OpSta: 4, OpAdd: 2, OpSub: 2,
	OpInc: 1, OpDec: 1, OpJmp: 3, OpJnz: 3, OpJz: 3,
	OpEi: 1, OpDi: 1, OpRti: 2, OpWai: 1, OpHlt: 1,
}

const irqCycles = 2

// CPURegs is the architectural state of the CPU.
type CPURegs struct {
	PC      uint16
	SavedPC uint16
	A       uint8
	SavedA  uint8
	IE      bool
	InIRQ   bool
	Halted  bool
	Waiting bool

	// Stall is the number of cycles left of the current instruction.
	Stall uint64

	Instructions uint64
	IRQs         uint64
	Faults       uint64
}

// CPU is an 8-bit accumulator machine. It fetches from and accesses data in
// its 16-bit Program space. An asserted Irq line interrupts it when
// interrupts are enabled.
type CPU struct {
	*modeling.ComponentBase

	Regs    CPURegs
	program *memory.Space
	irq     *modeling.Input
}

// NewCPU creates a CPU.
func NewCPU(name string, policy memory.UnmappedPolicy) *CPU {
	c := &CPU{ComponentBase: modeling.NewComponentBase(name)}

	c.program = c.NewSpace(memory.MakeSpaceBuilder().
		WithName("Program").
		WithUnmapped(policy, 0xff))
	c.program.SetFaultHandler(func(memory.Access, uint64) {
		c.Regs.Faults++
	})

	c.irq = c.AddInput("Irq", c.irqChanged)

	return c
}

func newCPUFromSpec(spec simulation.ComponentSpec) (modeling.Component, error) {
	name, err := spec.Params.String("unmapped", "fill")
	if err != nil {
		return nil, err
	}

	policy, err := memory.ParseUnmappedPolicy(name)
	if err != nil {
		return nil, err
	}

	return NewCPU(spec.Name, policy), nil
}

// Program returns the space the CPU executes from.
func (c *CPU) Program() *memory.Space {
	return c.program
}

// Start registers the registers as state.
func (c *CPU) Start(ctx modeling.Context) error {
	return state.Register(ctx.State(), "regs", &c.Regs)
}

// Reset loads the program counter from the reset vector.
func (c *CPU) Reset() {
	c.Regs = CPURegs{PC: c.read16(ResetVector)}
	c.resume()
}

// PostLoad suspends or resumes the CPU according to the restored registers.
func (c *CPU) PostLoad() {
	if c.Regs.Halted || c.Regs.Waiting {
		c.suspend()
	} else {
		c.resume()
	}
}

// PreSave does nothing; the registers are saved as they are.
func (c *CPU) PreSave() {}

// Step executes instructions for at most maxCycles cycles. An instruction
// that does not fit in the quantum completes in the next one. Each
// instruction runs at the time of its first cycle.
func (c *CPU) Step(maxCycles uint64) uint64 {
	used := uint64(0)

	for used < maxCycles {
		if c.Regs.Stall > 0 {
			n := min(c.Regs.Stall, maxCycles-used)
			c.Regs.Stall -= n
			used += n

			if slot := c.Slot(); slot != nil {
				slot.Advance(n)
			}

			continue
		}

		if c.Regs.Halted || c.Regs.Waiting {
			break
		}

		if used > 0 && c.Slot() != nil && c.Slot().YieldRequested() {
			break
		}

		c.Regs.Stall = c.execute()
	}

	if used == 0 {
		return 1
	}

	return used
}

func (c *CPU) execute() uint64 {
	if c.irq.Level() && c.Regs.IE && !c.Regs.InIRQ {
		c.Regs.SavedPC = c.Regs.PC
		c.Regs.SavedA = c.Regs.A
		c.Regs.InIRQ = true
		c.Regs.IRQs++
		c.Regs.PC = c.read16(IRQVector)

		return irqCycles
	}

	op := c.fetch()
	c.Regs.Instructions++

	switch op {
	case OpNop:
	case OpLdi:
		c.Regs.A = c.fetch()
	case OpLda:
		c.Regs.A = uint8(c.program.Read(c.fetch16()))
	case OpSta:
		c.program.Write(c.fetch16(), uint64(c.Regs.A))
	case OpAdd:
		c.Regs.A += c.fetch()
	case OpSub:
		c.Regs.A -= c.fetch()
	case OpInc:
		c.Regs.A++
	case OpDec:
		c.Regs.A--
	case OpJmp:
		c.Regs.PC = uint16(c.fetch16())
	case OpJnz, OpJz:
		addr := c.fetch16()
		if (c.Regs.A != 0) == (op == OpJnz) {
			c.Regs.PC = uint16(addr)
		}
	case OpEi:
		c.Regs.IE = true
	case OpDi:
		c.Regs.IE = false
	case OpRti:
		c.Regs.PC = c.Regs.SavedPC
		c.Regs.A = c.Regs.SavedA
		c.Regs.InIRQ = false
	case OpWai:
		if !c.irq.Level() {
			c.Regs.Waiting = true
			c.suspend()
		}
	case OpHlt:
		c.Regs.Halted = true
		c.suspend()
	default:
		c.Regs.Faults++
		c.Regs.Halted = true
		c.suspend()

		return 1
	}

	return opCycles[op]
}

func (c *CPU) fetch() uint8 {
	v := uint8(c.program.Read(uint64(c.Regs.PC)))
	c.Regs.PC++

	return v
}

func (c *CPU) fetch16() uint64 {
	lo := uint64(c.fetch())
	hi := uint64(c.fetch())

	return hi<<8 | lo
}

func (c *CPU) read16(addr uint64) uint16 {
	lo := c.program.Read(addr)
	hi := c.program.Read(addr + 1)

	return uint16(hi<<8 | lo)
}

func (c *CPU) irqChanged(asserted bool) {
	if asserted && c.Regs.Waiting {
		c.Regs.Waiting = false
		c.resume()
	}
}

func (c *CPU) suspend() {
	if slot := c.Slot(); slot != nil {
		slot.Suspend(timing.SuspendHalt)
	}
}

func (c *CPU) resume() {
	if slot := c.Slot(); slot != nil {
		slot.Resume(timing.SuspendHalt)
	}
}

// String describes the registers.
func (c *CPU) String() string {
	return fmt.Sprintf("%s PC=%04x A=%02x IE=%t halted=%t waiting=%t",
		c.Name(), c.Regs.PC, c.Regs.A, c.Regs.IE, c.Regs.Halted, c.Regs.Waiting)
}
