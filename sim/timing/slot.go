package timing

import (
	"math"
	"sort"
	"strings"
)

// An Executable is a component that does its work one clock cycle at a time.
type Executable interface {
	Name() string

	// Step performs at most maxCycles cycles of work and returns the number
	// of cycles it used. Using fewer cycles than offered yields the rest of
	// the quantum back to the scheduler. At least one cycle must be used.
	Step(maxCycles uint64) uint64
}

// SuspendReason is a bit set of reasons for which an executable is held.
type SuspendReason uint32

// The reasons an executable may be suspended for. An executable runs only
// when no reason is set.
const (
	SuspendReset SuspendReason = 1 << iota
	SuspendHalt
	SuspendDebug
	SuspendUser
)

// String lists the reasons.
func (r SuspendReason) String() string {
	if r == 0 {
		return "none"
	}

	names := []string{}
	for bit, name := range map[SuspendReason]string{
		SuspendReset: "reset",
		SuspendHalt:  "halt",
		SuspendDebug: "debug",
		SuspendUser:  "user",
	} {
		if r&bit != 0 {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	return strings.Join(names, "|")
}

// ExecState is the scheduling state of an executable.
type ExecState int

// The scheduling states. An executable is behind while at least one of its
// cycles fits before the target time, catching up while it is executing a
// quantum, synchronized once its next cycle would cross the target, and
// suspended while held.
const (
	ExecBehind ExecState = iota
	ExecCatchingUp
	ExecSynchronized
	ExecSuspended
)

// String returns the name of the state.
func (s ExecState) String() string {
	switch s {
	case ExecBehind:
		return "behind"
	case ExecCatchingUp:
		return "catching-up"
	case ExecSynchronized:
		return "synchronized"
	case ExecSuspended:
		return "suspended"
	}

	return "unknown"
}

// An ExecSlot is the scheduler's record of one executable. The local time is
// the end of the last cycle the executable completed.
type ExecSlot struct {
	sched *Scheduler
	exec  Executable
	clock Clock

	local    VTime
	cycles   uint64
	progress uint64
	suspend  SuspendReason
	yield    bool
}

// Name returns the name of the executable.
func (s *ExecSlot) Name() string {
	return s.exec.Name()
}

// Executable returns the executable that the slot runs.
func (s *ExecSlot) Executable() Executable {
	return s.exec
}

// Clock returns the clock of the executable.
func (s *ExecSlot) Clock() Clock {
	return s.clock
}

// LocalTime returns the time the executable has advanced to.
func (s *ExecSlot) LocalTime() VTime {
	return s.local
}

// TimeAt returns the local time after n more cycles. Executables use it to
// time events inside their current quantum.
func (s *ExecSlot) TimeAt(n uint64) VTime {
	return s.local.Add(s.clock.CyclesToTime(n))
}

// Advance tells the scheduler that n more cycles of the current quantum are
// done. Executables call it as they go, so that timers armed in the middle of
// a quantum are timed from the cycle that armed them.
func (s *ExecSlot) Advance(n uint64) {
	s.progress += n
}

// Progress returns the cycles done so far in the current quantum.
func (s *ExecSlot) Progress() uint64 {
	return s.progress
}

// Now returns the time of the cycle the executable is working on.
func (s *ExecSlot) Now() VTime {
	return s.TimeAt(s.progress)
}

// Cycles returns the number of cycles the executable has run.
func (s *ExecSlot) Cycles() uint64 {
	return s.cycles
}

// State returns the scheduling state.
func (s *ExecSlot) State() ExecState {
	switch {
	case s.suspend != 0:
		return ExecSuspended
	case s.sched.current == s:
		return ExecCatchingUp
	case s.behind(s.sched.target):
		return ExecBehind
	}

	return ExecSynchronized
}

// IsSuspended tells if any suspend reason is set.
func (s *ExecSlot) IsSuspended() bool {
	return s.suspend != 0
}

// SuspendReasons returns the reasons currently set.
func (s *ExecSlot) SuspendReasons() SuspendReason {
	return s.suspend
}

// Suspend holds the executable for the given reason. A suspended executable
// is skipped by the scheduler and its local time does not advance.
func (s *ExecSlot) Suspend(reason SuspendReason) {
	s.suspend |= reason
	if s.sched.current == s {
		s.yield = true
	}
}

// Resume clears a suspend reason. When no reason is left, the executable
// rejoins scheduling right away. The time it spent suspended is skipped: its
// local time moves to the last cycle boundary that is not after the current
// time.
func (s *ExecSlot) Resume(reason SuspendReason) {
	if s.suspend == 0 {
		return
	}

	s.suspend &^= reason
	if s.suspend != 0 {
		return
	}

	now := s.sched.Now()
	if now.After(s.local) {
		s.local = s.local.Add(s.clock.CyclesToTime(
			now.Sub(s.local).Div(s.clock.period)))
	}
}

// RequestYield asks the executable to end its current quantum early.
func (s *ExecSlot) RequestYield() {
	s.yield = true
}

// YieldRequested tells the executable that it should return from Step as soon
// as possible, because something it did (such as arming a timer) needs the
// scheduler's attention.
func (s *ExecSlot) YieldRequested() bool {
	return s.yield
}

func (s *ExecSlot) behind(target VTime) bool {
	if s.suspend != 0 {
		return false
	}

	return target.Sub(s.local).Div(s.clock.period) > 0
}

func (s *ExecSlot) quantumCap(maxQuantum VTime) uint64 {
	if maxQuantum.IsZero() {
		return math.MaxUint64
	}

	n := maxQuantum.Div(s.clock.period)
	if n == 0 {
		return 1
	}

	return n
}
