package config

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/timing"
)

type board struct {
	*modeling.ComponentBase

	width uint64
}

type pin struct {
	*modeling.ComponentBase

	levels []bool
}

func testCatalog() *simulation.Catalog {
	cat := simulation.NewCatalog()

	cat.Register("board", func(spec simulation.ComponentSpec) (
		modeling.Component, error,
	) {
		width, err := spec.Params.Uint("address_width", 16)
		if err != nil {
			return nil, err
		}

		b := &board{
			ComponentBase: modeling.NewComponentBase(spec.Name),
			width:         width,
		}
		b.NewSpace(memory.MakeSpaceBuilder().
			WithName("Bus").
			WithAddressWidth(uint(width)))

		return b, nil
	})

	cat.Register("pin", func(spec simulation.ComponentSpec) (
		modeling.Component, error,
	) {
		p := &pin{ComponentBase: modeling.NewComponentBase(spec.Name)}
		p.AddOutput("Out")
		p.AddInput("In", func(asserted bool) {
			p.levels = append(p.levels, asserted)
		})

		return p, nil
	})

	return cat
}

const machineYAML = `
name: Demo
version: 2.1.0
max_quantum: 1ms
max_slice: 5ms
regions:
  - name: Rom
    size: 0x10
    data: "de ad be ef"
components:
  - type: board
    name: Board
    clock: 1MHz
    params:
      address_width: 12
  - type: board
    owner: Board
    name: Io
    clock_divider: 4
  - type: pin
    name: Board.A
  - type: pin
    owner: Board
    name: B
maps:
  - space: Board.Io:Bus
    ranges:
      - {start: 0x000, end: 0x0ff, kind: ram, name: Regs}
  - space: Board:Bus
    ranges:
      - {start: 0x000, end: 0x3ff, kind: ram}
      - {start: 0x800, end: 0x80f, kind: rom, region: Rom, mirror: 0x100}
      - {start: 0x400, end: 0x4ff, kind: forward, target: "Board.Io:Bus"}
      - {start: 0x300, end: 0x3ff, kind: nop, access: write}
lines:
  - {from: Board.A.Out, to: Board.B.In}
`

var _ = Describe("Machine", func() {
	var cat *simulation.Catalog

	BeforeEach(func() {
		cat = testCatalog()
	})

	It("should build the machine it describes", func() {
		m, err := Parse([]byte(machineYAML))
		Expect(err).NotTo(HaveOccurred())

		sim, err := m.Build(cat, simulation.MakeBuilder())
		Expect(err).NotTo(HaveOccurred())
		Expect(sim.Build()).To(Succeed())

		Expect(sim.Name()).To(Equal("Demo"))
		Expect(sim.Version()).To(Equal("2.1.0"))
		Expect(sim.Scheduler().MaxQuantum()).To(Equal(timing.FromRatio(1, 1000)))

		clock, err := sim.ClockOf("Board.Io")
		Expect(err).NotTo(HaveOccurred())
		Expect(clock).To(Equal(timing.MHz.Clock().Divide(4)))

		bus, err := sim.LookupSpace("Board:Bus")
		Expect(err).NotTo(HaveOccurred())
		Expect(bus.AddressWidth()).To(Equal(uint(12)))

		Expect(bus.Read(0x800)).To(Equal(uint64(0xde)))
		Expect(bus.Read(0x903)).To(Equal(uint64(0xef)))
		Expect(bus.Read(0x80f)).To(Equal(uint64(0)))

		bus.Write(0x410, 0x5a)
		io, _ := sim.LookupSpace("Board.Io:Bus")
		Expect(io.Read(0x010)).To(Equal(uint64(0x5a)))

		bus.Write(0x2ff, 0x11)
		bus.Write(0x300, 0x22)
		Expect(bus.Read(0x2ff)).To(Equal(uint64(0x11)))
		Expect(bus.Read(0x300)).To(Equal(uint64(0)))

		_, found := sim.Registry().Entry("Board.Io/Regs")
		Expect(found).To(BeTrue())

		a, _ := sim.Lookup("Board.A")
		b, _ := sim.Lookup("Board.B")
		out, _ := a.(*pin).Output("Out")
		out.Assert()
		Expect(b.(*pin).levels).To(Equal([]bool{true}))
	})

	It("should load region files next to the machine file", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "rom.bin"),
			[]byte{1, 2, 3}, 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "machine.yaml"), []byte(`
components:
  - {type: board, name: Board}
regions:
  - {name: Rom, file: rom.bin}
maps:
  - space: "Board:Bus"
    ranges:
      - {start: 0, end: 2, kind: rom, region: Rom}
`), 0o644)).To(Succeed())

		m, err := Load(filepath.Join(dir, "machine.yaml"))
		Expect(err).NotTo(HaveOccurred())

		sim, err := m.Build(cat, simulation.MakeBuilder())
		Expect(err).NotTo(HaveOccurred())
		Expect(sim.Build()).To(Succeed())

		bus, _ := sim.LookupSpace("Board:Bus")
		Expect(bus.Read(2)).To(Equal(uint64(3)))
	})

	It("should report unknown fields", func() {
		_, err := Parse([]byte("name: Demo\ncolour: red\n"))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("parsing machine description"))
	})

	It("should report missing files", func() {
		_, err := Load(filepath.Join(GinkgoT().TempDir(), "none.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("should refuse regions larger than their size", func() {
		m, err := Parse([]byte(`
regions:
  - {name: Rom, size: 2, data: "01 02 03"}
`))
		Expect(err).NotTo(HaveOccurred())

		_, err = m.Build(cat, simulation.MakeBuilder())
		Expect(err).To(MatchError(ErrInvalid))
	})

	Context("when translating without validation", func() {
		It("should report a bad max quantum", func() {
			m := &Machine{MaxQuantum: "soon"}

			_, err := m.builder(simulation.MakeBuilder())
			Expect(err).To(MatchError(ErrInvalid))
		})

		It("should report bad region data", func() {
			m := &Machine{}

			_, err := m.regionData(Region{Name: "Rom", Data: "0g"})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("region Rom"))
		})

		It("should report a bad clock", func() {
			sim, err := simulation.MakeBuilder().Build()
			Expect(err).NotTo(HaveOccurred())

			m := &Machine{Components: []Component{
				{Type: "board", Name: "Board", Clock: "fast"},
			}}

			Expect(m.addComponents(sim, cat)).To(MatchError(ErrInvalid))
		})
	})

	DescribeTable("validation",
		func(doc string, want error) {
			m, err := Parse([]byte(doc))
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Validate(cat)).To(MatchError(want))
		},
		Entry("bad component name", `
components:
  - {type: board, name: board}
`, ErrInvalid),
		Entry("duplicated component", `
components:
  - {type: board, name: Board}
  - {type: board, name: Board}
`, ErrInvalid),
		Entry("owner declared later", `
components:
  - {type: board, name: Board.Io}
  - {type: board, name: Board}
`, ErrInvalid),
		Entry("unknown type", `
components:
  - {type: gpu, name: Gpu}
`, simulation.ErrUnknownType),
		Entry("clock and divider", `
components:
  - {type: board, name: Board, clock: 1MHz, clock_divider: 2}
`, ErrInvalid),
		Entry("bad clock", `
components:
  - {type: board, name: Board, clock: fast}
`, ErrInvalid),
		Entry("bad max quantum", `
max_quantum: soon
`, ErrInvalid),
		Entry("unknown space owner", `
maps:
  - {space: "Gpu:Vram", ranges: []}
`, simulation.ErrUnknownComponent),
		Entry("range kind", `
components:
  - {type: board, name: Board}
maps:
  - space: "Board:Bus"
    ranges:
      - {start: 0, end: 1, kind: flash}
`, ErrInvalid),
		Entry("reversed range", `
components:
  - {type: board, name: Board}
maps:
  - space: "Board:Bus"
    ranges:
      - {start: 2, end: 1, kind: ram}
`, ErrInvalid),
		Entry("unknown region", `
components:
  - {type: board, name: Board}
maps:
  - space: "Board:Bus"
    ranges:
      - {start: 0, end: 1, kind: rom, region: Bios}
`, ErrInvalid),
		Entry("region with data and file", `
regions:
  - {name: Rom, data: "00", file: rom.bin}
`, ErrInvalid),
		Entry("line to nowhere", `
components:
  - {type: pin, name: A}
lines:
  - {from: A.Out, to: B.In}
`, simulation.ErrUnknownComponent),
	)
})
