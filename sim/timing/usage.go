package timing

import (
	"sync"

	"github.com/sarchlab/chipsim/sim/hooking"
)

// ExecUsage sums what an executable did with the quanta it was given.
type ExecUsage struct {
	Name     string `json:"name"`
	Quanta   uint64 `json:"quanta"`
	Offered  uint64 `json:"offered"`
	Used     uint64 `json:"used"`
	BusyTime VTime  `json:"busy_time"`
}

// Ratio returns the share of the offered cycles that were used.
func (u ExecUsage) Ratio() float64 {
	if u.Offered == 0 {
		return 0
	}

	return float64(u.Used) / float64(u.Offered)
}

// TimerUsage counts the firings of one timer.
type TimerUsage struct {
	Timer string `json:"timer"`
	Fired uint64 `json:"fired"`
}

// A UsageTracer is a hook that tracks how many cycles every executable used
// and how often every timer fired. It can be read from any goroutine.
type UsageTracer struct {
	lock sync.Mutex

	execNames []string
	execs     map[string]*ExecUsage

	timerNames []string
	timers     map[string]uint64
}

// NewUsageTracer creates an empty UsageTracer.
func NewUsageTracer() *UsageTracer {
	return &UsageTracer{
		execs:  make(map[string]*ExecUsage),
		timers: make(map[string]uint64),
	}
}

// Func records a finished quantum or a timer that is about to fire.
func (t *UsageTracer) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case HookPosAfterQuantum:
		slot, ok := ctx.Item.(*ExecSlot)
		if !ok {
			return
		}

		t.countQuantum(slot, ctx.Detail.(QuantumDetail))
	case HookPosBeforeTimer:
		timer, ok := ctx.Item.(*Timer)
		if !ok {
			return
		}

		t.countTimer(timer.Owner() + "." + timer.Name())
	}
}

func (t *UsageTracer) countQuantum(slot *ExecSlot, d QuantumDetail) {
	t.lock.Lock()
	defer t.lock.Unlock()

	u, found := t.execs[slot.Name()]
	if !found {
		u = &ExecUsage{Name: slot.Name()}
		t.execs[slot.Name()] = u
		t.execNames = append(t.execNames, slot.Name())
	}

	u.Quanta++
	u.Offered += d.Budget
	u.Used += d.Used
	u.BusyTime = u.BusyTime.Add(slot.Clock().CyclesToTime(d.Used))
}

func (t *UsageTracer) countTimer(name string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if _, found := t.timers[name]; !found {
		t.timerNames = append(t.timerNames, name)
	}

	t.timers[name]++
}

// Executables returns the usage of every executable that has run, in the
// order they first ran.
func (t *UsageTracer) Executables() []ExecUsage {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]ExecUsage, 0, len(t.execNames))
	for _, n := range t.execNames {
		out = append(out, *t.execs[n])
	}

	return out
}

// Executable returns the usage of one executable.
func (t *UsageTracer) Executable(name string) (ExecUsage, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	u, found := t.execs[name]
	if !found {
		return ExecUsage{}, false
	}

	return *u, true
}

// Timers returns the firing counts of every timer that has fired, in the order
// they first fired.
func (t *UsageTracer) Timers() []TimerUsage {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]TimerUsage, 0, len(t.timerNames))
	for _, n := range t.timerNames {
		out = append(out, TimerUsage{Timer: n, Fired: t.timers[n]})
	}

	return out
}

// TimerCount returns how often the timer "owner.name" fired.
func (t *UsageTracer) TimerCount(name string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.timers[name]
}

// Reset forgets everything recorded so far.
func (t *UsageTracer) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.execNames = nil
	t.execs = make(map[string]*ExecUsage)
	t.timerNames = nil
	t.timers = make(map[string]uint64)
}
