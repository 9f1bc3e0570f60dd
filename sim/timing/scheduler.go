package timing

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/chipsim/sim/hooking"
	"github.com/sarchlab/chipsim/sim/id"
)

// HookPosTimeslice is triggered when a new target time is chosen. The item is
// the target VTime.
var HookPosTimeslice = &hooking.HookPos{Name: "Timeslice"}

// HookPosBeforeQuantum is triggered before an executable runs a quantum. The
// item is the *ExecSlot and the detail a QuantumDetail.
var HookPosBeforeQuantum = &hooking.HookPos{Name: "BeforeQuantum"}

// HookPosAfterQuantum is triggered after an executable runs a quantum.
var HookPosAfterQuantum = &hooking.HookPos{Name: "AfterQuantum"}

// HookPosBeforeTimer is triggered before a timer callback runs. The item is
// the *Timer.
var HookPosBeforeTimer = &hooking.HookPos{Name: "BeforeTimer"}

// HookPosAfterTimer is triggered after a timer callback runs.
var HookPosAfterTimer = &hooking.HookPos{Name: "AfterTimer"}

// QuantumDetail describes one quantum.
type QuantumDetail struct {
	Budget uint64
	Used   uint64
}

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	Now() VTime
}

// TimerInfo describes an armed timer.
type TimerInfo struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Expire VTime  `json:"expire"`
	Period VTime  `json:"period"`
}

// DefaultMaxSlice is the longest span of simulated time covered by a single
// timeslice when nothing else bounds it.
var DefaultMaxSlice = FromRatio(1, 100)

// A Scheduler advances all the executables of a simulation in lock step and
// fires timers in time order.
//
// Each timeslice picks a target time: the earliest of the next timer, the
// run limit, any requested synchronization point and the maximum slice. The
// executable that is furthest behind runs until it reaches the target or
// yields, then the next one, until every executable has caught up. Then the
// timers due at the target fire, in the order they were scheduled.
//
// The scheduler runs on a single goroutine. Other goroutines talk to it only
// through Defer, Do, Pause and Continue.
type Scheduler struct {
	*hooking.HookableBase

	now     VTime
	target  VTime
	syncAt  VTime
	running bool

	slots     []*ExecSlot
	slotIndex map[string]*ExecSlot
	current   *ExecSlot

	timers *timerQueue
	seq    id.Sequence

	maxQuantum VTime
	maxSlice   VTime

	deferLock sync.Mutex
	deferred  []func()

	isPaused     bool
	isPausedLock sync.Mutex
	pauseLock    sync.Mutex

	singleRunLock sync.Mutex
}

// NewScheduler creates a scheduler at time zero.
func NewScheduler() *Scheduler {
	return &Scheduler{
		HookableBase: hooking.NewHookableBase(),
		syncAt:       Never,
		slotIndex:    make(map[string]*ExecSlot),
		timers:       newTimerQueue(),
		maxSlice:     DefaultMaxSlice,
	}
}

// SetMaxQuantum bounds the length of a single quantum. Executables then
// interleave at least at this granularity. Zero removes the bound.
func (s *Scheduler) SetMaxQuantum(q VTime) {
	if q.IsNegative() {
		log.Panic("max quantum cannot be negative")
	}

	s.maxQuantum = q
}

// MaxQuantum returns the bound on the length of a quantum.
func (s *Scheduler) MaxQuantum() VTime {
	return s.maxQuantum
}

// SetMaxSlice bounds the span of simulated time a timeslice may cover.
func (s *Scheduler) SetMaxSlice(d VTime) {
	if d.IsNegative() || d.IsZero() {
		log.Panic("max slice must be positive")
	}

	s.maxSlice = d
}

// AddExecutable registers an executable that ticks with the given clock. It
// starts at the current time.
func (s *Scheduler) AddExecutable(e Executable, c Clock) (*ExecSlot, error) {
	if c.IsZero() {
		return nil, fmt.Errorf("timing: executable %s has no clock", e.Name())
	}

	if _, found := s.slotIndex[e.Name()]; found {
		return nil, fmt.Errorf(
			"timing: executable %s already registered", e.Name())
	}

	slot := &ExecSlot{
		sched: s,
		exec:  e,
		clock: c,
		local: s.Now(),
	}

	s.slots = append(s.slots, slot)
	s.slotIndex[e.Name()] = slot

	return slot, nil
}

// Slot returns the slot of the executable with the given name, or nil.
func (s *Scheduler) Slot(name string) *ExecSlot {
	return s.slotIndex[name]
}

// Slots returns all the slots in registration order.
func (s *Scheduler) Slots() []*ExecSlot {
	return s.slots
}

// Now returns the current time. While an executable runs a quantum, it is
// the time of the cycle that executable is working on; otherwise it is the
// global time.
func (s *Scheduler) Now() VTime {
	if s.current != nil {
		return s.current.Now()
	}

	return s.now
}

// GlobalTime returns the time that all executables have caught up to.
func (s *Scheduler) GlobalTime() VTime {
	return s.now
}

// Target returns the target time of the current timeslice.
func (s *Scheduler) Target() VTime {
	if !s.running {
		return s.now
	}

	return s.target
}

// Current returns the slot that is executing a quantum, or nil.
func (s *Scheduler) Current() *ExecSlot {
	return s.current
}

// NewTimer creates a disarmed timer for a component.
func (s *Scheduler) NewTimer(owner, name string, cb TimerFunc) *Timer {
	return &Timer{
		sched:    s,
		owner:    owner,
		name:     name,
		callback: cb,
		expire:   Never,
	}
}

// TimerSet arms an anonymous one-shot timer.
func (s *Scheduler) TimerSet(
	owner string,
	delay VTime,
	cb TimerFunc,
	payload any,
) *Timer {
	t := s.NewTimer(owner, "", cb)
	t.temporary = true
	t.Adjust(delay, payload, Zero)

	return t
}

// Synchronize calls cb at the next boundary, once every executable has
// caught up to the current time.
func (s *Scheduler) Synchronize(owner string, cb TimerFunc, payload any) {
	s.TimerSet(owner, Zero, cb, payload)
}

// RequestSync asks the scheduler to end a timeslice at the given time.
func (s *Scheduler) RequestSync(at VTime) {
	at = Max(at, s.Now())
	s.syncAt = Min(s.syncAt, at)
	s.pullTarget(at)
}

// NextTimerExpire returns the expiration of the earliest armed timer, or
// Never.
func (s *Scheduler) NextTimerExpire() VTime {
	e := s.timers.Peek()
	if e == nil {
		return Never
	}

	return e.expire
}

// PendingTimers lists the armed timers in firing order.
func (s *Scheduler) PendingTimers() []TimerInfo {
	entries := s.timers.Live()
	infos := make([]TimerInfo, len(entries))

	for i, e := range entries {
		infos[i] = TimerInfo{
			Owner:  e.timer.owner,
			Name:   e.timer.name,
			Expire: e.expire,
			Period: e.timer.period,
		}
	}

	return infos
}

func (s *Scheduler) arm(t *Timer, at VTime) {
	t.gen++
	t.enabled = true
	t.start = s.Now()
	t.expire = at

	s.timers.Push(&timerEntry{
		timer:  t,
		gen:    t.gen,
		expire: at,
		seq:    s.seq.Next(),
	})

	s.pullTarget(at)
}

func (s *Scheduler) pullTarget(at VTime) {
	if !s.running || !at.Before(s.target) {
		return
	}

	s.target = Max(at, s.now)
	if s.current != nil {
		s.current.yield = true
	}
}

// Defer queues fn to run on the scheduler goroutine at the next timeslice
// boundary. It is safe to call from any goroutine.
func (s *Scheduler) Defer(fn func()) {
	s.deferLock.Lock()
	s.deferred = append(s.deferred, fn)
	s.deferLock.Unlock()
}

// Do runs fn right away if the scheduler is idle, or defers it to the next
// boundary if a run is in progress.
func (s *Scheduler) Do(fn func()) {
	if s.singleRunLock.TryLock() {
		defer s.singleRunLock.Unlock()

		s.runDeferred()
		fn()

		return
	}

	s.Defer(fn)
}

func (s *Scheduler) runDeferred() {
	s.deferLock.Lock()
	fns := s.deferred
	s.deferred = nil
	s.deferLock.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// RunUntil runs the simulation until the global time reaches limit. Timers
// that expire at limit fire before it returns.
func (s *Scheduler) RunUntil(limit VTime) error {
	return s.RunContext(context.Background(), limit)
}

// RunFor runs the simulation for d more time.
func (s *Scheduler) RunFor(d VTime) error {
	return s.RunUntil(s.now.Add(d))
}

// RunContext runs the simulation until limit, or until ctx is done. The
// context is only checked between timeslices, never inside a quantum, so the
// simulated sequence does not depend on when the host gives up.
func (s *Scheduler) RunContext(ctx context.Context, limit VTime) error {
	s.singleRunLock.Lock()
	defer s.singleRunLock.Unlock()

	for {
		s.runDeferred()

		if err := ctx.Err(); err != nil {
			return err
		}

		if !s.hasWorkUntil(limit) {
			return nil
		}

		s.pauseLock.Lock()
		s.timeslice(limit)
		s.pauseLock.Unlock()
	}
}

func (s *Scheduler) hasWorkUntil(limit VTime) bool {
	if s.now.Before(limit) {
		return true
	}

	e := s.timers.Peek()

	return e != nil && !e.expire.After(s.now)
}

func (s *Scheduler) timeslice(limit VTime) {
	target := Min(limit, s.syncAt)
	target = Min(target, s.NextTimerExpire())
	target = Min(target, s.now.Add(s.maxSlice))
	target = Max(target, s.now)

	s.target = target
	s.running = true

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosTimeslice,
		Item:   target,
	})

	s.runExecutables()

	s.running = false
	s.now = s.target

	if !s.syncAt.After(s.now) {
		s.syncAt = Never
	}

	s.fireTimers()
}

func (s *Scheduler) runExecutables() {
	for {
		slot := s.pickBehind()
		if slot == nil {
			return
		}

		s.runQuantum(slot)
	}
}

func (s *Scheduler) pickBehind() *ExecSlot {
	var best *ExecSlot

	for _, slot := range s.slots {
		if !slot.behind(s.target) {
			continue
		}

		if best == nil || slot.local.Before(best.local) {
			best = slot
		}
	}

	return best
}

func (s *Scheduler) runQuantum(slot *ExecSlot) {
	budget := s.target.Sub(slot.local).Div(slot.clock.period)
	if limit := slot.quantumCap(s.maxQuantum); limit < budget {
		budget = limit
	}

	s.current = slot
	slot.yield = false
	slot.progress = 0

	detail := QuantumDetail{Budget: budget}
	hookCtx := hooking.HookCtx{
		Domain: s,
		Pos:    HookPosBeforeQuantum,
		Item:   slot,
		Detail: detail,
	}
	s.InvokeHook(hookCtx)

	used := slot.exec.Step(budget)
	if used == 0 || used > budget {
		log.Panicf(
			"timing: %s used %d cycles of a %d-cycle quantum at %s",
			slot.Name(), used, budget, slot.local,
		)
	}

	slot.local = slot.local.Add(slot.clock.CyclesToTime(used))
	slot.cycles += used
	slot.progress = 0
	s.current = nil

	detail.Used = used
	hookCtx.Pos = HookPosAfterQuantum
	hookCtx.Detail = detail
	s.InvokeHook(hookCtx)
}

func (s *Scheduler) fireTimers() {
	for {
		e := s.timers.Peek()
		if e == nil || e.expire.After(s.now) {
			return
		}

		s.timers.Pop()
		s.fire(e)
	}
}

func (s *Scheduler) fire(e *timerEntry) {
	t := e.timer
	gen := t.gen
	periodic := !t.period.IsZero()

	if !periodic {
		t.enabled = false
	}

	t.start = s.now

	hookCtx := hooking.HookCtx{
		Domain: s,
		Pos:    HookPosBeforeTimer,
		Item:   t,
		Detail: s.now,
	}
	s.InvokeHook(hookCtx)

	if t.callback != nil {
		t.callback(t.payload, s.now)
	}

	hookCtx.Pos = HookPosAfterTimer
	s.InvokeHook(hookCtx)

	if periodic && t.enabled && t.gen == gen {
		s.arm(t, e.expire.Add(t.period))
	}
}

// Pause prevents the scheduler from starting more timeslices until Continue
// is called.
func (s *Scheduler) Pause() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if s.isPaused {
		return
	}

	s.pauseLock.Lock()
	s.isPaused = true
}

// Continue allows the scheduler to start timeslices again.
func (s *Scheduler) Continue() {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	if !s.isPaused {
		return
	}

	s.pauseLock.Unlock()
	s.isPaused = false
}

// IsPaused tells if Pause is in effect.
func (s *Scheduler) IsPaused() bool {
	s.isPausedLock.Lock()
	defer s.isPausedLock.Unlock()

	return s.isPaused
}
