package monitoring

import (
	"github.com/sarchlab/chipsim/sim/hooking"
	"github.com/sarchlab/chipsim/sim/timing"
)

var millisecond = timing.FromRatio(1, 1000)

// TimeProgress is a scheduler hook that shows how far a run has advanced in
// simulated time. The bar counts milliseconds since start.
type TimeProgress struct {
	bar   *ProgressBar
	start timing.VTime
}

// NewTimeProgress creates a hook that updates bar.
func NewTimeProgress(bar *ProgressBar, start timing.VTime) *TimeProgress {
	return &TimeProgress{bar: bar, start: start}
}

// Millis converts a span of simulated time into whole milliseconds.
func Millis(d timing.VTime) uint64 {
	return d.Div(millisecond)
}

// Func updates the bar with the new target time.
func (p *TimeProgress) Func(ctx hooking.HookCtx) {
	if ctx.Pos != timing.HookPosTimeslice {
		return
	}

	target, ok := ctx.Item.(timing.VTime)
	if !ok || target.Before(p.start) {
		return
	}

	p.bar.SetFinished(Millis(target.Sub(p.start)))
}
