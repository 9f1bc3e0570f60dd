package timing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("UsageTracer", func() {
	var (
		s      *Scheduler
		tracer *UsageTracer
	)

	BeforeEach(func() {
		s = NewScheduler()
		s.SetMaxSlice(FromSec(100))
		tracer = NewUsageTracer()
		s.AcceptHook(tracer)
	})

	It("should sum offered and used cycles", func() {
		e := &recordingExec{
			name:   "A",
			onStep: func(uint64) uint64 { return 1 },
		}
		_, err := s.AddExecutable(e, NewClock(FromRatio(1, 2)))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.RunUntil(FromSec(2))).To(Succeed())

		u, found := tracer.Executable("A")
		Expect(found).To(BeTrue())
		Expect(u.Quanta).To(Equal(uint64(4)))
		Expect(u.Offered).To(Equal(uint64(10)))
		Expect(u.Used).To(Equal(uint64(4)))
		Expect(u.BusyTime).To(Equal(FromSec(2)))
		Expect(u.Ratio()).To(BeNumerically("~", 0.4))
	})

	It("should list executables in the order they first ran", func() {
		s.SetMaxQuantum(FromSec(1))
		_, err := s.AddExecutable(&recordingExec{name: "A"}, NewClock(FromSec(1)))
		Expect(err).NotTo(HaveOccurred())
		_, err = s.AddExecutable(&recordingExec{name: "B"}, NewClock(FromSec(1)))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.RunUntil(FromSec(3))).To(Succeed())

		execs := tracer.Executables()
		Expect(execs).To(HaveLen(2))
		Expect(execs[0].Name).To(Equal("A"))
		Expect(execs[1].Name).To(Equal("B"))
		Expect(execs[1].Used).To(Equal(uint64(3)))
		Expect(execs[1].Ratio()).To(Equal(1.0))
	})

	It("should count timer firings", func() {
		t := s.NewTimer("X", "Tick", func(any, VTime) {})
		t.Adjust(FromSec(1), nil, FromSec(2))

		Expect(s.RunUntil(FromSec(4))).To(Succeed())

		Expect(tracer.TimerCount("X.Tick")).To(Equal(uint64(2)))
		Expect(tracer.Timers()).To(Equal([]TimerUsage{
			{Timer: "X.Tick", Fired: 2},
		}))
	})

	It("should forget everything on reset", func() {
		t := s.NewTimer("X", "Tick", func(any, VTime) {})
		t.Adjust(FromSec(1), nil, Zero)
		Expect(s.RunUntil(FromSec(2))).To(Succeed())

		tracer.Reset()

		Expect(tracer.Timers()).To(BeEmpty())
		Expect(tracer.Executables()).To(BeEmpty())
		_, found := tracer.Executable("A")
		Expect(found).To(BeFalse())
	})
})
