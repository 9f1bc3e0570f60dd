package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/chipsim/datarecording"
	"github.com/sarchlab/chipsim/devices"
	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/timing"
	"github.com/sarchlab/chipsim/snapshotstore"
)

func newMachine(rec datarecording.DataRecorder) (*simulation.Simulation, *devices.CPU) {
	b := simulation.MakeBuilder().WithName("Probe")
	if rec != nil {
		b = b.WithDataRecorder(rec)
	}

	sim, err := b.Build()
	Expect(err).NotTo(HaveOccurred())

	cpu := devices.NewCPU("Cpu", memory.UnmappedFill)
	Expect(sim.Add(cpu, simulation.ClockSpec{Freq: timing.KHz})).To(Succeed())

	sim.MapSpace("Cpu:Program",
		func(space *memory.Space, _ modeling.Context) error {
			space.Range(0x0000, 0x0fff).RAM()
			space.Range(0xfffc, 0xffff).ROM([]byte{0, 0, 0, 0})

			return nil
		})

	Expect(sim.Build()).To(Succeed())

	// An endless loop of increments.
	for i, b := range []byte{devices.OpInc, devices.OpJmp, 0x00, 0x00} {
		Expect(cpu.Program().Poke(uint64(i), uint64(b))).To(BeTrue())
	}

	return sim, cpu
}

func serve(m *Monitor, method, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest(method, url, nil))

	return rec
}

func decode[T any](rec *httptest.ResponseRecorder) T {
	var v T

	Expect(json.Unmarshal(rec.Body.Bytes(), &v)).To(Succeed())

	return v
}

var _ = Describe("Monitor", func() {
	var (
		m   *Monitor
		sim *simulation.Simulation
	)

	BeforeEach(func() {
		sim, _ = newMachine(nil)

		m = NewMonitor().WithWaitLimit(100 * time.Millisecond)
		m.RegisterSimulation(sim)
	})

	AfterEach(func() {
		sim.Teardown()
	})

	It("should tell the time", func() {
		Expect(sim.RunFor(context.Background(), timing.FromRatio(1, 4))).
			To(Succeed())

		rec := serve(m, http.MethodGet, "/api/now")

		Expect(rec.Code).To(Equal(http.StatusOK))
		rsp := decode[nowRsp](rec)
		Expect(rsp.Now).To(Equal("0.25s"))
		Expect(rsp.Phase).To(Equal("running"))
		Expect(rsp.Paused).To(BeFalse())
	})

	It("should list components", func() {
		rec := serve(m, http.MethodGet, "/api/list_components")

		Expect(decode[[]string](rec)).To(Equal([]string{"Cpu"}))
	})

	It("should serialize a component", func() {
		rec := serve(m, http.MethodGet, "/api/component/Cpu")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(json.Valid(rec.Body.Bytes())).To(BeTrue())
	})

	It("should report unknown components", func() {
		rec := serve(m, http.MethodGet, "/api/component/Gpu")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should describe a space", func() {
		rec := serve(m, http.MethodGet, "/api/space/Cpu:Program")

		Expect(rec.Code).To(Equal(http.StatusOK))
		rsp := decode[struct {
			Name     string             `json:"name"`
			Compiled bool               `json:"compiled"`
			Ranges   []memory.RangeInfo `json:"ranges"`
		}](rec)
		Expect(rsp.Name).To(Equal("Cpu:Program"))
		Expect(rsp.Compiled).To(BeTrue())
		Expect(rsp.Ranges).To(HaveLen(2))
		Expect(rsp.Ranges[1].Start).To(Equal(uint64(0xfffc)))
	})

	It("should list the executables", func() {
		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())

		rec := serve(m, http.MethodGet, "/api/slots")

		slots := decode[[]slotRsp](rec)
		Expect(slots).To(HaveLen(1))
		Expect(slots[0].Name).To(Equal("Cpu"))
		Expect(slots[0].Cycles).To(Equal(uint64(1000)))
		Expect(slots[0].ClockHz).To(BeNumerically("~", 1000, 1e-6))
	})

	It("should report the utilization", func() {
		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())

		rec := serve(m, http.MethodGet, "/api/utilization")

		Expect(rec.Code).To(Equal(http.StatusOK))
		rsp := decode[utilizationRsp](rec)
		Expect(rsp.Executables).To(HaveLen(1))
		Expect(rsp.Executables[0].Name).To(Equal("Cpu"))
		Expect(rsp.Executables[0].Used).To(Equal(uint64(1000)))
		Expect(rsp.Executables[0].BusyTime.Seconds()).
			To(BeNumerically("~", 1, 1e-9))
		Expect(rsp.Executables[0].Ratio).To(BeNumerically(">", 0))
	})

	It("should list pending timers", func() {
		t := sim.Scheduler().NewTimer("Board", "Tick", nil)
		t.Adjust(timing.FromSec(2), nil, timing.Zero)

		rec := serve(m, http.MethodGet, "/api/timers")

		timers := decode[[]map[string]any](rec)
		Expect(timers).To(HaveLen(1))
		Expect(timers[0]["owner"]).To(Equal("Board"))
		Expect(timers[0]["expire"]).To(Equal("2s"))
	})

	It("should pause and continue", func() {
		Expect(serve(m, http.MethodPost, "/api/pause").Code).
			To(Equal(http.StatusOK))
		Expect(sim.Scheduler().IsPaused()).To(BeTrue())

		Expect(serve(m, http.MethodPost, "/api/continue").Code).
			To(Equal(http.StatusOK))
		Expect(sim.Scheduler().IsPaused()).To(BeFalse())
	})

	It("should only pause on POST", func() {
		rec := serve(m, http.MethodGet, "/api/pause")

		Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		Expect(sim.Scheduler().IsPaused()).To(BeFalse())
	})

	It("should give up when the scheduler is held", func() {
		sim.Scheduler().Pause()

		done := make(chan error)
		go func() {
			done <- sim.RunFor(context.Background(), timing.FromSec(1))
		}()

		Eventually(func() int {
			return serve(m, http.MethodGet, "/api/now").Code
		}).Should(Equal(http.StatusServiceUnavailable))

		sim.Scheduler().Continue()
		Eventually(done).Should(Receive(BeNil()))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("Run", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		bars := decode[[]progressView](serve(m, http.MethodGet, "/api/progress"))
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("Run"))
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)

		bars = decode[[]progressView](serve(m, http.MethodGet, "/api/progress"))
		Expect(bars).To(BeEmpty())
	})

	It("should follow the simulated time", func() {
		bar := m.CreateProgressBar("Run", 1000)
		sim.Scheduler().AcceptHook(NewTimeProgress(bar, sim.Now()))

		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())

		Expect(bar.Finished).To(BeNumerically("~", 1000, 1))
	})

	It("should report resources", func() {
		rec := serve(m, http.MethodGet, "/api/resource")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decode[resourceRsp](rec).MemorySize).To(BeNumerically(">", 0))
	})

	It("should serve the page", func() {
		rec := serve(m, http.MethodGet, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})

	It("should not know snapshots without a store", func() {
		rec := serve(m, http.MethodGet, "/api/snapshots")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	Context("with a snapshot store", func() {
		var store *snapshotstore.Store

		BeforeEach(func() {
			var err error
			store, err = snapshotstore.Open(
				filepath.Join(GinkgoT().TempDir(), "snapshots.sqlite3"))
			Expect(err).NotTo(HaveOccurred())

			m.RegisterSnapshotStore(store)
		})

		AfterEach(func() {
			Expect(store.Close()).To(Succeed())
		})

		It("should save, list and restore snapshots", func() {
			Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
				To(Succeed())

			rec := serve(m, http.MethodPost, "/api/snapshots/first")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(decode[snapshotstore.Info](rec).Machine).To(Equal("Probe"))

			list := decode[[]snapshotstore.Info](
				serve(m, http.MethodGet, "/api/snapshots"))
			Expect(list).To(HaveLen(1))
			Expect(list[0].Label).To(Equal("first"))

			cpu, err := sim.Lookup("Cpu")
			Expect(err).NotTo(HaveOccurred())
			a := cpu.(*devices.CPU).Regs.A

			Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
				To(Succeed())
			Expect(cpu.(*devices.CPU).Regs.A).NotTo(Equal(a))

			rec = serve(m, http.MethodPost, "/api/snapshots/first/restore")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(cpu.(*devices.CPU).Regs.A).To(Equal(a))
		})

		It("should not restore after giving up", func() {
			Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
				To(Succeed())
			Expect(serve(m, http.MethodPost, "/api/snapshots/first").Code).
				To(Equal(http.StatusOK))
			Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
				To(Succeed())

			sim.Scheduler().Pause()

			done := make(chan error)
			go func() {
				done <- sim.RunFor(context.Background(), timing.FromSec(1))
			}()

			Eventually(func() int {
				return serve(m, http.MethodGet, "/api/now").Code
			}).Should(Equal(http.StatusServiceUnavailable))

			rec := serve(m, http.MethodPost, "/api/snapshots/first/restore")
			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))

			sim.Scheduler().Continue()
			Eventually(done).Should(Receive(BeNil()))

			reference, refCPU := newMachine(nil)
			defer reference.Teardown()
			Expect(reference.RunFor(context.Background(), timing.FromSec(3))).
				To(Succeed())

			cpu, err := sim.Lookup("Cpu")
			Expect(err).NotTo(HaveOccurred())
			Expect(cpu.(*devices.CPU).Regs).To(Equal(refCPU.Regs))
		})

		It("should report unknown snapshots", func() {
			rec := serve(m, http.MethodPost, "/api/snapshots/none/restore")

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})

var _ = Describe("Monitor with a trace", func() {
	It("should page through trace tables", func() {
		path := filepath.Join(GinkgoT().TempDir(), "trace")
		sim, _ := newMachine(datarecording.New(path))

		Expect(sim.RunFor(context.Background(), timing.FromSec(1))).
			To(Succeed())
		sim.Teardown()

		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		m := NewMonitor()
		m.RegisterSimulation(sim)
		m.RegisterTraceReader(reader)

		tables := decode[[]string](serve(m, http.MethodGet, "/api/trace"))
		Expect(tables).To(ContainElement(datarecording.QuantumTable))

		rec := serve(m, http.MethodGet, "/api/trace/trace_quantum?limit=2")
		Expect(rec.Code).To(Equal(http.StatusOK))

		rsp := decode[struct {
			Total   int                          `json:"total"`
			Entries []datarecording.QuantumEntry `json:"entries"`
		}](rec)
		Expect(rsp.Total).To(BeNumerically(">", 2))
		Expect(rsp.Entries).To(HaveLen(2))
		Expect(rsp.Entries[0].Executable).To(Equal("Cpu"))

		Expect(serve(m, http.MethodGet, "/api/trace/snapshot").Code).
			To(Equal(http.StatusNotFound))
		Expect(serve(m, http.MethodGet, "/api/trace/trace_quantum?limit=x").Code).
			To(Equal(http.StatusBadRequest))
	})
})
