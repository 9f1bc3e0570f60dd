package modeling

import (
	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/chipsim/sim/timing"
)

var _ = ginkgo.Describe("TickingComponent", func() {
	var (
		mockCtrl *gomock.Controller
		ticker   *MockTicker
		tc       *TickingComponent
		sched    *timing.Scheduler
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		ticker = NewMockTicker(mockCtrl)
		tc = NewTickingComponent("Soc.Dma", ticker)
		sched = timing.NewScheduler()
	})

	ginkgo.AfterEach(func() {
		mockCtrl.Finish()
	})

	ginkgo.It("should be an executable component", func() {
		var _ Executable = tc
		var _ SlotBinder = tc

		Expect(tc.Name()).To(Equal("Soc.Dma"))
	})

	ginkgo.It("should tick every cycle while busy", func() {
		slot, err := sched.AddExecutable(tc, timing.NewClock(timing.FromSec(1)))
		Expect(err).NotTo(HaveOccurred())
		tc.BindSlot(slot)

		ticker.EXPECT().Tick().Return(true).Times(3)

		Expect(sched.RunUntil(timing.FromSec(3))).To(Succeed())
		Expect(tc.Slot()).To(BeIdenticalTo(slot))
		Expect(slot.Cycles()).To(Equal(uint64(3)))
	})

	ginkgo.It("should skip idle quanta", func() {
		sched.SetMaxSlice(timing.FromSec(100))

		slot, err := sched.AddExecutable(tc, timing.NewClock(timing.FromSec(1)))
		Expect(err).NotTo(HaveOccurred())
		tc.BindSlot(slot)

		ticker.EXPECT().Tick().Return(false).Times(1)

		Expect(sched.RunUntil(timing.FromSec(50))).To(Succeed())
		Expect(slot.Cycles()).To(Equal(uint64(50)))
	})
})
