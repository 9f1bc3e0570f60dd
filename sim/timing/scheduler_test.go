package timing

import (
	"bytes"
	"context"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/chipsim/sim/hooking"
)

type recordingExec struct {
	name    string
	trace   *[]string
	budgets []uint64
	onStep  func(max uint64) uint64
}

func (e *recordingExec) Name() string {
	return e.name
}

func (e *recordingExec) Step(max uint64) uint64 {
	e.budgets = append(e.budgets, max)
	if e.trace != nil {
		*e.trace = append(*e.trace, e.name)
	}

	if e.onStep != nil {
		return e.onStep(max)
	}

	return max
}

var _ = Describe("Scheduler", func() {
	var (
		s      *Scheduler
		second Clock
	)

	BeforeEach(func() {
		s = NewScheduler()
		s.SetMaxSlice(FromSec(100))
		second = NewClock(FromSec(1))
	})

	addExec := func(e Executable, c Clock) *ExecSlot {
		slot, err := s.AddExecutable(e, c)
		Expect(err).NotTo(HaveOccurred())

		return slot
	}

	It("should reject duplicated executables", func() {
		addExec(&recordingExec{name: "Cpu"}, second)

		_, err := s.AddExecutable(&recordingExec{name: "Cpu"}, second)

		Expect(err).To(HaveOccurred())
	})

	It("should run every executable up to the limit", func() {
		a := addExec(&recordingExec{name: "A"}, second)
		b := addExec(&recordingExec{name: "B"}, NewClock(FromRatio(1, 2)))

		Expect(s.RunUntil(FromSec(10))).To(Succeed())

		Expect(a.Cycles()).To(Equal(uint64(10)))
		Expect(b.Cycles()).To(Equal(uint64(20)))
		Expect(a.LocalTime()).To(Equal(FromSec(10)))
		Expect(s.GlobalTime()).To(Equal(FromSec(10)))
		Expect(s.Now()).To(Equal(FromSec(10)))
	})

	It("should never run past the limit", func() {
		a := addExec(&recordingExec{name: "A"}, NewClock(FromSec(3)))

		Expect(s.RunUntil(FromSec(10))).To(Succeed())
		Expect(a.Cycles()).To(Equal(uint64(3)))
		Expect(a.LocalTime()).To(Equal(FromSec(9)))
		Expect(a.State()).To(Equal(ExecSynchronized))

		Expect(s.RunUntil(FromSec(12))).To(Succeed())
		Expect(a.Cycles()).To(Equal(uint64(4)))
		Expect(a.LocalTime()).To(Equal(FromSec(12)))
	})

	It("should run floor(T/P) cycles over many short runs", func() {
		period := FromRatio(1, 3)
		a := addExec(&recordingExec{name: "A"}, NewClock(period))

		for i := 0; i < 25; i++ {
			Expect(s.RunFor(FromRatio(7, 10))).To(Succeed())
			Expect(a.Cycles()).To(Equal(s.GlobalTime().Div(period)))
		}
	})

	It("should give the rest of the quantum back when yielding", func() {
		e := &recordingExec{
			name:   "A",
			onStep: func(uint64) uint64 { return 1 },
		}
		a := addExec(e, second)

		Expect(s.RunUntil(FromSec(4))).To(Succeed())

		Expect(a.Cycles()).To(Equal(uint64(4)))
		Expect(e.budgets).To(Equal([]uint64{4, 3, 2, 1}))
	})

	It("should bound quanta by the max quantum", func() {
		s.SetMaxQuantum(FromSec(2))
		e := &recordingExec{name: "A"}
		addExec(e, second)

		Expect(s.RunUntil(FromSec(10))).To(Succeed())

		Expect(e.budgets).To(Equal([]uint64{2, 2, 2, 2, 2}))
	})

	It("should interleave by local time and then registration order", func() {
		trace := []string{}
		s.SetMaxQuantum(FromSec(1))
		addExec(&recordingExec{name: "A", trace: &trace}, second)
		addExec(&recordingExec{name: "B", trace: &trace}, second)

		Expect(s.RunUntil(FromSec(3))).To(Succeed())

		Expect(trace).To(Equal([]string{"A", "B", "A", "B", "A", "B"}))
	})

	It("should produce the same sequence every time", func() {
		runOnce := func() []string {
			sched := NewScheduler()
			sched.SetMaxQuantum(FromRatio(3, 2))
			trace := []string{}

			for _, c := range []struct {
				name   string
				period VTime
			}{
				{"A", FromSec(1)},
				{"B", FromRatio(1, 3)},
				{"C", FromRatio(2, 7)},
			} {
				_, err := sched.AddExecutable(
					&recordingExec{name: c.name, trace: &trace},
					NewClock(c.period))
				Expect(err).NotTo(HaveOccurred())
			}

			t := sched.NewTimer("A", "Tick", func(any, VTime) {
				trace = append(trace, "timer")
			})
			t.Adjust(FromRatio(1, 2), nil, FromRatio(5, 4))

			Expect(sched.RunUntil(FromSec(6))).To(Succeed())

			return trace
		}

		Expect(runOnce()).To(Equal(runOnce()))
	})

	Context("when timers are armed", func() {
		It("should fire at the expiration with everyone caught up", func() {
			a := addExec(&recordingExec{name: "A"}, second)

			var (
				fired   []VTime
				payload any
				local   VTime
			)

			t := s.NewTimer("A", "Irq", func(p any, at VTime) {
				fired = append(fired, at)
				payload = p
				local = a.LocalTime()
				Expect(s.Now()).To(Equal(at))
			})
			t.Adjust(FromSec(3), "p", Zero)

			Expect(t.Enabled()).To(BeTrue())
			Expect(t.Expire()).To(Equal(FromSec(3)))

			Expect(s.RunUntil(FromSec(10))).To(Succeed())

			Expect(fired).To(Equal([]VTime{FromSec(3)}))
			Expect(payload).To(Equal("p"))
			Expect(local).To(Equal(FromSec(3)))
			Expect(t.Enabled()).To(BeFalse())
			Expect(t.Expire()).To(Equal(Never))
		})

		It("should fire timers with the same expiration in scheduling order",
			func() {
				order := []string{}
				record := func(p any, _ VTime) {
					order = append(order, p.(string))
				}

				s.TimerSet("X", FromSec(5), record, "first")
				s.TimerSet("X", FromSec(5), record, "second")
				s.TimerSet("X", FromSec(4), record, "earlier")

				Expect(s.RunUntil(FromSec(10))).To(Succeed())

				Expect(order).To(Equal([]string{"earlier", "first", "second"}))
			})

		It("should repeat periodic timers", func() {
			fired := []VTime{}
			t := s.NewTimer("X", "Tick", func(_ any, at VTime) {
				fired = append(fired, at)
			})
			t.Adjust(FromSec(1), nil, FromSec(2))

			Expect(s.RunUntil(FromSec(10))).To(Succeed())

			Expect(fired).To(Equal([]VTime{
				FromSec(1), FromSec(3), FromSec(5), FromSec(7), FromSec(9),
			}))
			Expect(t.Enabled()).To(BeTrue())
			Expect(t.Expire()).To(Equal(FromSec(11)))
		})

		It("should not fire a canceled timer", func() {
			fired := 0
			t := s.NewTimer("X", "Once", func(any, VTime) { fired++ })
			t.Adjust(FromSec(1), nil, Zero)
			t.Cancel()

			Expect(s.RunUntil(FromSec(10))).To(Succeed())

			Expect(fired).To(Equal(0))
			Expect(s.PendingTimers()).To(BeEmpty())
		})

		It("should only keep the last arming", func() {
			fired := []VTime{}
			t := s.NewTimer("X", "Once", func(_ any, at VTime) {
				fired = append(fired, at)
			})
			t.Adjust(FromSec(1), nil, Zero)
			t.Adjust(FromSec(4), nil, Zero)

			Expect(s.RunUntil(FromSec(10))).To(Succeed())

			Expect(fired).To(Equal([]VTime{FromSec(4)}))
		})

		It("should stop repeating when re-armed from the callback", func() {
			fired := []VTime{}

			var t *Timer
			t = s.NewTimer("X", "Tick", func(_ any, at VTime) {
				fired = append(fired, at)
				if len(fired) == 1 {
					t.Adjust(FromSec(5), nil, Zero)
				}
			})
			t.Adjust(FromSec(1), nil, FromSec(2))

			Expect(s.RunUntil(FromSec(20))).To(Succeed())

			Expect(fired).To(Equal([]VTime{FromSec(1), FromSec(6)}))
		})

		It("should re-enable a disabled timer", func() {
			fired := 0
			t := s.NewTimer("X", "Once", func(any, VTime) { fired++ })
			t.Adjust(FromSec(2), nil, Zero)

			Expect(t.Enable(false)).To(BeTrue())
			Expect(t.Enable(true)).To(BeFalse())

			Expect(s.RunUntil(FromSec(5))).To(Succeed())
			Expect(fired).To(Equal(1))
		})

		It("should list the pending timers in firing order", func() {
			s.NewTimer("B", "Late", nil).Adjust(FromSec(4), nil, Zero)
			s.NewTimer("A", "Early", nil).Adjust(FromSec(2), nil, FromSec(1))

			timers := s.PendingTimers()

			Expect(timers).To(HaveLen(2))
			Expect(timers[0].Owner).To(Equal("A"))
			Expect(timers[0].Period).To(Equal(FromSec(1)))
			Expect(timers[1].Name).To(Equal("Late"))
			Expect(s.NextTimerExpire()).To(Equal(FromSec(2)))
		})

		It("should shorten the timeslice for a timer armed mid-quantum",
			func() {
				var (
					aSlot, bSlot *ExecSlot
					bLocal       VTime
				)

				armed := false
				a := &recordingExec{
					name: "A",
					onStep: func(max uint64) uint64 {
						if !armed {
							armed = true
							s.TimerSet("A", FromRatio(1, 2), func(any, VTime) {
								bLocal = bSlot.LocalTime()
							}, nil)

							Expect(aSlot.YieldRequested()).To(BeTrue())

							return 1
						}

						return max
					},
				}

				aSlot = addExec(a, second)
				bSlot = addExec(&recordingExec{name: "B"}, NewClock(FromRatio(1, 4)))

				Expect(s.RunUntil(FromSec(2))).To(Succeed())

				Expect(bLocal).To(Equal(FromRatio(1, 2)))
				Expect(aSlot.Cycles()).To(Equal(uint64(2)))
				Expect(bSlot.Cycles()).To(Equal(uint64(8)))
			})

		It("should time a timer from the cycle that armed it", func() {
			fireTime := func(maxQuantum VTime) VTime {
				sched := NewScheduler()
				sched.SetMaxSlice(FromSec(100))
				sched.SetMaxQuantum(maxQuantum)

				firedAt := Never
				ticks := 0

				var te *TickingExecutable
				te = NewTickingExecutable("Dev", tickerFunc(func() bool {
					ticks++
					if ticks == 5 {
						Expect(sched.Now()).To(Equal(FromSec(4)))
						sched.TimerSet("Dev", FromSec(1), func(_ any, at VTime) {
							firedAt = at
						}, nil)
					}

					return true
				}))

				slot, err := sched.AddExecutable(te, second)
				Expect(err).NotTo(HaveOccurred())
				te.Bind(slot)

				Expect(sched.RunUntil(FromSec(10))).To(Succeed())
				Expect(slot.Cycles()).To(Equal(uint64(10)))

				return firedAt
			}

			Expect(fireTime(Zero)).To(Equal(FromSec(5)))
			Expect(fireTime(FromSec(1))).To(Equal(FromSec(5)))
			Expect(fireTime(FromSec(3))).To(Equal(FromSec(5)))
		})

		It("should forget the progress of a finished quantum", func() {
			var slot *ExecSlot

			e := &recordingExec{
				name: "A",
				onStep: func(max uint64) uint64 {
					Expect(slot.Progress()).To(BeZero())
					slot.Advance(max)

					return max
				},
			}
			slot = addExec(e, second)

			Expect(s.RunUntil(FromSec(3))).To(Succeed())

			Expect(slot.Progress()).To(BeZero())
			Expect(s.Now()).To(Equal(FromSec(3)))
		})

		It("should synchronize at the caller's local time", func() {
			var (
				firedAt VTime
				bLocal  VTime
				bSlot   *ExecSlot
			)

			synced := false
			a := &recordingExec{
				name: "A",
				onStep: func(max uint64) uint64 {
					if !synced {
						synced = true
						s.Synchronize("A", func(_ any, at VTime) {
							firedAt = at
							bLocal = bSlot.LocalTime()
						}, nil)

						return 1
					}

					return max
				},
			}

			addExec(a, second)
			bSlot = addExec(&recordingExec{name: "B"}, second)

			Expect(s.RunUntil(FromSec(3))).To(Succeed())

			Expect(firedAt).To(Equal(Zero))
			Expect(bLocal).To(Equal(Zero))
			Expect(bSlot.Cycles()).To(Equal(uint64(3)))
		})
	})

	Context("when executables are suspended", func() {
		It("should skip them", func() {
			a := addExec(&recordingExec{name: "A"}, second)
			a.Suspend(SuspendHalt)

			Expect(s.RunUntil(FromSec(5))).To(Succeed())

			Expect(a.Cycles()).To(BeZero())
			Expect(a.State()).To(Equal(ExecSuspended))
			Expect(a.SuspendReasons().String()).To(Equal("halt"))
		})

		It("should stay suspended while any reason is left", func() {
			a := addExec(&recordingExec{name: "A"}, second)
			a.Suspend(SuspendHalt | SuspendUser)

			a.Resume(SuspendHalt)

			Expect(a.IsSuspended()).To(BeTrue())
			Expect(a.SuspendReasons().String()).To(Equal("user"))
		})

		It("should skip the suspended time on resume", func() {
			a := addExec(&recordingExec{name: "A"}, NewClock(FromSec(3)))
			a.Suspend(SuspendReset)

			Expect(s.RunUntil(FromSec(5))).To(Succeed())
			a.Resume(SuspendReset)

			Expect(a.LocalTime()).To(Equal(FromSec(3)))
			Expect(a.State()).To(Equal(ExecSynchronized))

			Expect(s.RunUntil(FromSec(9))).To(Succeed())
			Expect(a.Cycles()).To(Equal(uint64(2)))
		})
	})

	Context("when an executable breaks the cycle contract", func() {
		var (
			mockCtrl *gomock.Controller
			exec     *MockExecutable
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			exec = NewMockExecutable(mockCtrl)
			exec.EXPECT().Name().Return("Cpu").AnyTimes()
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should panic if no cycle is used", func() {
			addExec(exec, second)
			exec.EXPECT().Step(uint64(1)).Return(uint64(0))

			Expect(func() { _ = s.RunUntil(FromSec(1)) }).To(Panic())
		})

		It("should panic if more cycles than offered are used", func() {
			addExec(exec, second)
			exec.EXPECT().Step(uint64(2)).Return(uint64(3))

			Expect(func() { _ = s.RunUntil(FromSec(2)) }).To(Panic())
		})
	})

	Context("when driven by the host", func() {
		It("should stop between timeslices when the context is done", func() {
			addExec(&recordingExec{name: "A"}, second)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err := s.RunContext(ctx, FromSec(10))

			Expect(err).To(MatchError(context.Canceled))
			Expect(s.GlobalTime()).To(Equal(Zero))
		})

		It("should run deferred functions at a boundary", func() {
			called := false
			s.Defer(func() { called = true })

			Expect(called).To(BeFalse())
			Expect(s.RunUntil(FromSec(1))).To(Succeed())
			Expect(called).To(BeTrue())
		})

		It("should run Do right away when idle", func() {
			called := false
			s.Do(func() { called = true })

			Expect(called).To(BeTrue())
		})

		It("should end a timeslice at a requested sync point", func() {
			targets := []VTime{}
			s.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				if ctx.Pos == HookPosTimeslice {
					targets = append(targets, ctx.Item.(VTime))
				}
			}))

			s.RequestSync(FromSec(3))

			Expect(s.RunUntil(FromSec(10))).To(Succeed())
			Expect(targets).To(Equal([]VTime{FromSec(3), FromSec(10)}))
		})

		It("should bound timeslices by the max slice", func() {
			s.SetMaxSlice(FromSec(4))
			slices := 0
			s.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
				if ctx.Pos == HookPosTimeslice {
					slices++
				}
			}))

			Expect(s.RunUntil(FromSec(10))).To(Succeed())
			Expect(slices).To(Equal(3))
		})

		It("should pause and continue", func() {
			s.Pause()
			Expect(s.IsPaused()).To(BeTrue())

			s.Continue()
			Expect(s.IsPaused()).To(BeFalse())
			Expect(s.RunUntil(FromSec(1))).To(Succeed())
		})

		It("should log quanta", func() {
			buf := new(bytes.Buffer)
			s.AcceptHook(NewQuantumLogger(log.New(buf, "", 0)))
			addExec(&recordingExec{name: "Cpu"}, second)

			Expect(s.RunUntil(FromSec(1))).To(Succeed())

			Expect(buf.String()).To(ContainSubstring("Cpu ran 1/1 cycles"))
		})
	})
})
