package devices

import (
	"fmt"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/sim/timing"
)

// The registers of the timer, as offsets in its Regs space.
const (
	TimerCtrl     uint64 = 0 // bit 0 enables counting, bit 1 enables the IRQ
	TimerStatus   uint64 = 1 // bit 0 is set on expiry; write 1 to clear
	TimerPeriodLo uint64 = 2 // period in ticks of the timer clock
	TimerPeriodHi uint64 = 3
	TimerCountLo  uint64 = 4 // whole ticks left until the next expiry
	TimerCountHi  uint64 = 5
)

// Bits of the control and status registers.
const (
	TimerEnable    uint8 = 1 << 0
	TimerIRQEnable uint8 = 1 << 1
	TimerPending   uint8 = 1 << 0
)

// TimerRegs is the state of the timer.
type TimerRegs struct {
	Ctrl   uint8
	Status uint8
	Period uint16
	Fired  uint64

	// Remaining is the time left until the next expiry, captured when a
	// snapshot is taken.
	Remaining timing.VTime
}

// Timer is a programmable periodic timer. It counts ticks of its clock and
// raises its Irq line on each expiry.
type Timer struct {
	*modeling.ComponentBase

	Regs  TimerRegs
	regs  *memory.Space
	timer *timing.Timer
	irq   *modeling.Output
}

// NewTimer creates a timer.
func NewTimer(name string) *Timer {
	t := &Timer{ComponentBase: modeling.NewComponentBase(name)}
	t.regs = registerSpace(t.ComponentBase, "Regs", 4)
	t.irq = t.AddOutput("Irq")

	return t
}

func newTimerFromSpec(spec simulation.ComponentSpec) (modeling.Component, error) {
	return NewTimer(spec.Name), nil
}

// Start creates the scheduler timer and maps the registers.
func (t *Timer) Start(ctx modeling.Context) error {
	if t.Clock().IsZero() {
		return fmt.Errorf("%s needs a clock", t.Name())
	}

	t.timer = ctx.Scheduler().NewTimer(t.Name(), "Expiry", t.expired)
	t.regs.Range(0x0, 0xf).Handlers(t.read, t.write)

	return state.Register(ctx.State(), "regs", &t.Regs)
}

// Reset stops the timer.
func (t *Timer) Reset() {
	t.Regs = TimerRegs{}
	t.timer.Cancel()
	t.irq.Clear()
}

// PreSave captures the time left until the next expiry.
func (t *Timer) PreSave() {
	t.Regs.Remaining = timing.Zero
	if t.timer.Enabled() {
		t.Regs.Remaining = t.timer.Remaining()
	}
}

// PostLoad re-arms the timer as it was when the snapshot was taken.
func (t *Timer) PostLoad() {
	period := t.period()
	if t.Regs.Ctrl&TimerEnable == 0 || period.IsZero() {
		t.timer.Cancel()
		return
	}

	t.timer.Adjust(t.Regs.Remaining, nil, period)
}

func (t *Timer) period() timing.VTime {
	return t.Clock().CyclesToTime(uint64(t.Regs.Period))
}

func (t *Timer) rearm() {
	period := t.period()
	if t.Regs.Ctrl&TimerEnable == 0 || period.IsZero() {
		t.timer.Cancel()
		return
	}

	t.timer.Adjust(period, nil, period)
}

func (t *Timer) expired(_ any, _ timing.VTime) {
	t.Regs.Status |= TimerPending
	t.Regs.Fired++

	if t.Regs.Ctrl&TimerIRQEnable != 0 {
		t.irq.Assert()
	}
}

func (t *Timer) count() uint64 {
	if !t.timer.Enabled() {
		return 0
	}

	return t.Clock().Cycles(t.timer.Remaining())
}

func (t *Timer) read(addr uint64) uint64 {
	switch addr {
	case TimerCtrl:
		return uint64(t.Regs.Ctrl)
	case TimerStatus:
		return uint64(t.Regs.Status)
	case TimerPeriodLo:
		return uint64(t.Regs.Period & 0xff)
	case TimerPeriodHi:
		return uint64(t.Regs.Period >> 8)
	case TimerCountLo:
		return t.count() & 0xff
	case TimerCountHi:
		return (t.count() >> 8) & 0xff
	}

	return 0
}

func (t *Timer) write(addr, value uint64) {
	v := uint8(value)

	switch addr {
	case TimerCtrl:
		old := t.Regs.Ctrl
		t.Regs.Ctrl = v

		if (old^v)&TimerEnable != 0 {
			t.rearm()
		}

		t.updateIRQ()
	case TimerStatus:
		t.Regs.Status &^= v
		t.updateIRQ()
	case TimerPeriodLo:
		t.Regs.Period = t.Regs.Period&0xff00 | uint16(v)
		t.rearm()
	case TimerPeriodHi:
		t.Regs.Period = t.Regs.Period&0x00ff | uint16(v)<<8
		t.rearm()
	}
}

func (t *Timer) updateIRQ() {
	t.irq.Set(t.Regs.Status&TimerPending != 0 &&
		t.Regs.Ctrl&TimerIRQEnable != 0)
}
