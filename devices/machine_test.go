package devices

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/sim/config"
	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/timing"
)

// The main program arms the timer for 10 ticks and waits for interrupts.
// Each interrupt prints a star and acknowledges the timer.
const tickerYAML = `
name: Ticker
version: 1.0.0
max_quantum: 10ms
regions:
  - name: Program
    size: 0x1000
    data: |
      01 0a 03 02 f0 01 03 03 00 f0 0b 0e 08 0b 00
      00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00 00
      01 2a 03 10 f0 01 01 03 01 f0 0d
  - name: Vectors
    size: 4
    data: "00 00 20 00"
components:
  - type: board
    name: Board
    clock: 1KHz
  - type: cpu
    owner: Board
    name: Cpu
  - type: timer
    owner: Board
    name: Timer
    clock: 100Hz
  - type: console
    owner: Board
    name: Console
maps:
  - space: Board.Cpu:Program
    ranges:
      - {start: 0x0000, end: 0x0fff, kind: region, region: Program}
      - {start: 0xf000, end: 0xf00f, kind: forward, target: "Board.Timer:Regs"}
      - {start: 0xf010, end: 0xf01f, kind: forward, target: "Board.Console:Regs"}
      - {start: 0xfffc, end: 0xffff, kind: rom, region: Vectors}
lines:
  - {from: Board.Timer.Irq, to: Board.Cpu.Irq}
`

func buildTicker() (*simulation.Simulation, *bytes.Buffer) {
	out := new(bytes.Buffer)

	cat := simulation.NewCatalog()
	Register(cat, Options{ConsoleOut: out})

	m, err := config.Parse([]byte(tickerYAML))
	Expect(err).NotTo(HaveOccurred())
	Expect(m.Validate(cat)).To(Succeed())

	sim, err := m.Build(cat, simulation.MakeBuilder())
	Expect(err).NotTo(HaveOccurred())
	Expect(sim.Build()).To(Succeed())

	return sim, out
}

func lookup[T any](sim *simulation.Simulation, name string) T {
	c, err := sim.Lookup(name)
	Expect(err).NotTo(HaveOccurred())

	return c.(T)
}

var _ = Describe("Ticker machine", func() {
	var (
		sim     *simulation.Simulation
		out     *bytes.Buffer
		cpu     *CPU
		timer   *Timer
		console *Console
	)

	BeforeEach(func() {
		sim, out = buildTicker()
		cpu = lookup[*CPU](sim, "Board.Cpu")
		timer = lookup[*Timer](sim, "Board.Timer")
		console = lookup[*Console](sim, "Board.Console")
	})

	AfterEach(func() {
		sim.Teardown()
	})

	It("should print on every timer interrupt", func() {
		Expect(sim.RunFor(context.Background(), timing.FromRatio(55, 100))).
			To(Succeed())

		Expect(timer.Regs.Fired).To(Equal(uint64(5)))
		Expect(cpu.Regs.IRQs).To(Equal(uint64(5)))
		Expect(cpu.Regs.Waiting).To(BeTrue())
		Expect(cpu.Regs.InIRQ).To(BeFalse())
		Expect(console.Output()).To(Equal("*****"))
		Expect(out.String()).To(Equal("*****"))
	})

	It("should read the timer registers", func() {
		Expect(sim.RunFor(context.Background(), timing.FromRatio(5, 100))).
			To(Succeed())

		regs := timer.Spaces()[0]
		Expect(regs.Read(TimerCtrl)).To(Equal(uint64(TimerEnable | TimerIRQEnable)))
		Expect(regs.Read(TimerPeriodLo)).To(Equal(uint64(10)))
		Expect(regs.Read(TimerPeriodHi)).To(Equal(uint64(0)))
		Expect(regs.Read(TimerCountLo)).To(BeNumerically("<=", 5))
		Expect(regs.Read(TimerCountLo)).To(BeNumerically(">=", 4))
	})

	It("should stop the timer when disabled", func() {
		Expect(sim.RunFor(context.Background(), timing.FromRatio(15, 100))).
			To(Succeed())
		Expect(timer.Regs.Fired).To(Equal(uint64(1)))

		timer.Spaces()[0].Write(TimerCtrl, 0)

		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())
		Expect(timer.Regs.Fired).To(Equal(uint64(1)))
	})

	It("should continue the timer after a restore", func() {
		Expect(sim.RunFor(context.Background(), timing.FromRatio(25, 100))).
			To(Succeed())
		Expect(timer.Regs.Fired).To(Equal(uint64(2)))

		buf := new(bytes.Buffer)
		Expect(sim.Save(buf)).To(Succeed())

		Expect(sim.RunFor(context.Background(), timing.FromRatio(30, 100))).
			To(Succeed())
		Expect(timer.Regs.Fired).To(Equal(uint64(5)))

		Expect(sim.Restore(buf)).To(Succeed())
		Expect(timer.Regs.Fired).To(Equal(uint64(2)))
		Expect(cpu.Regs.Waiting).To(BeTrue())
		Expect(cpu.Slot().IsSuspended()).To(BeTrue())

		Expect(sim.RunFor(context.Background(), timing.FromRatio(30, 100))).
			To(Succeed())
		Expect(timer.Regs.Fired).To(Equal(uint64(5)))
		Expect(console.Output()).To(Equal("********"))
	})

	It("should stop everything on reset", func() {
		Expect(sim.RunFor(context.Background(), timing.FromRatio(15, 100))).
			To(Succeed())

		sim.Reset()

		Expect(timer.Regs).To(Equal(TimerRegs{}))
		Expect(cpu.Regs.PC).To(Equal(uint16(0)))
	})
})

var _ = Describe("BankLatch", func() {
	var (
		sim   *simulation.Simulation
		cpu   *CPU
		latch *BankLatch
	)

	BeforeEach(func() {
		var err error
		sim, err = simulation.MakeBuilder().Build()
		Expect(err).NotTo(HaveOccurred())

		cpu = NewCPU("Cpu", memory.UnmappedFill)
		latch = NewBankLatch("Latch", 0x100, 2, "")

		Expect(sim.Add(cpu, simulation.ClockSpec{Freq: timing.KHz})).
			To(Succeed())
		Expect(sim.Add(latch, simulation.ClockSpec{})).To(Succeed())

		sim.MapSpace("Cpu:Program",
			func(space *memory.Space, ctx modeling.Context) error {
				regs, err := ctx.LookupSpace("Latch:Regs")
				if err != nil {
					return err
				}

				space.Range(0x0000, 0x0fff).RAM()
				space.Range(0x8000, 0x80ff).Bank(latch.Bank())
				space.Range(0xf020, 0xf02f).Forward(regs, 0)
				space.Range(0xfffc, 0xffff).ROM(vectors(0x0000, 0x0000))

				return nil
			})

		Expect(sim.Build()).To(Succeed())

		load(cpu.Program(), 0x0000,
			OpLdi, 1,
			OpSta, 0x00, 0x80,
			OpSta, 0x20, 0xf0,
			OpLdi, 2,
			OpSta, 0x00, 0x80,
			OpHlt,
		)
	})

	It("should switch blocks when written", func() {
		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())

		Expect(cpu.Regs.Halted).To(BeTrue())
		Expect(latch.Bank().Selected()).To(Equal(1))
		Expect(cpu.Program().Read(0x8000)).To(Equal(uint64(2)))

		latch.Bank().Select(0)
		Expect(cpu.Program().Read(0x8000)).To(Equal(uint64(1)))
	})

	It("should wrap the selection", func() {
		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())

		cpu.Program().Write(0xf020, 5)
		Expect(latch.Bank().Selected()).To(Equal(1))

		cpu.Program().Write(0xf020, 4)
		Expect(latch.Bank().Selected()).To(Equal(0))
	})

	It("should save the selection and the blocks", func() {
		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())

		buf := new(bytes.Buffer)
		Expect(sim.Save(buf)).To(Succeed())

		latch.Bank().Select(0)
		cpu.Program().Write(0x8000, 9)

		Expect(sim.Restore(buf)).To(Succeed())
		Expect(latch.Bank().Selected()).To(Equal(1))

		latch.Bank().Select(0)
		Expect(cpu.Program().Read(0x8000)).To(Equal(uint64(1)))
	})

	It("should select the first block on reset", func() {
		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())

		sim.Reset()
		Expect(latch.Bank().Selected()).To(Equal(0))
	})
})

var _ = Describe("Catalog", func() {
	It("should register every device type", func() {
		cat := simulation.NewCatalog()
		Register(cat, Options{})

		Expect(cat.Types()).To(Equal([]string{
			"bank_latch", "board", "console", "cpu", "timer",
		}))
	})

	It("should reject a bank latch without a size", func() {
		cat := simulation.NewCatalog()
		Register(cat, Options{})

		_, err := cat.New(simulation.ComponentSpec{
			Type: "bank_latch",
			Name: "Latch",
		})
		Expect(err).To(HaveOccurred())
	})

	It("should give a board a bus", func() {
		cat := simulation.NewCatalog()
		Register(cat, Options{})

		c, err := cat.New(simulation.ComponentSpec{
			Type:   "board",
			Name:   "Board",
			Params: simulation.Params{"bus_width": 12},
		})
		Expect(err).NotTo(HaveOccurred())

		bus, err := c.(*Board).Space("Bus")
		Expect(err).NotTo(HaveOccurred())
		Expect(bus.AddressWidth()).To(Equal(uint(12)))
	})

	It("should refuse a timer without a clock", func() {
		sim, err := simulation.MakeBuilder().Build()
		Expect(err).NotTo(HaveOccurred())

		Expect(sim.Add(NewTimer("Timer"), simulation.ClockSpec{})).
			To(Succeed())
		Expect(sim.Build()).To(HaveOccurred())
	})
})
