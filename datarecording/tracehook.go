package datarecording

import (
	"github.com/sarchlab/chipsim/sim/hooking"
	"github.com/sarchlab/chipsim/sim/timing"
)

// The tables written by a TraceHook.
const (
	SliceTable   = "trace_slice"
	QuantumTable = "trace_quantum"
	TimerTable   = "trace_timer"
)

// SliceEntry records the target of a timeslice.
type SliceEntry struct {
	Target  string
	Seconds float64
}

// QuantumEntry records one quantum run by an executable.
type QuantumEntry struct {
	Executable string
	Start      string
	End        string
	Seconds    float64
	Budget     uint64
	Used       uint64
}

// TimerEntry records a timer firing.
type TimerEntry struct {
	Owner   string
	Name    string
	FiredAt string
	Seconds float64
}

// TraceHook is a scheduler hook that records timeslices, quanta and timer
// firings.
type TraceHook struct {
	recorder DataRecorder
}

// NewTraceHook creates the trace tables in the recorder.
func NewTraceHook(recorder DataRecorder) *TraceHook {
	recorder.CreateTable(SliceTable, SliceEntry{})
	recorder.CreateTable(QuantumTable, QuantumEntry{})
	recorder.CreateTable(TimerTable, TimerEntry{})

	return &TraceHook{recorder: recorder}
}

// MapTraceTables prepares a reader for the tables of a TraceHook.
func MapTraceTables(r DataReader) {
	r.MapTable(SliceTable, SliceEntry{})
	r.MapTable(QuantumTable, QuantumEntry{})
	r.MapTable(TimerTable, TimerEntry{})
	r.MapTable(ExecTable, ExecInfo{})
}

// Func records the event.
func (h *TraceHook) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case timing.HookPosTimeslice:
		target := ctx.Item.(timing.VTime)
		h.recorder.InsertData(SliceTable, SliceEntry{
			Target:  target.String(),
			Seconds: target.Seconds(),
		})
	case timing.HookPosAfterQuantum:
		slot := ctx.Item.(*timing.ExecSlot)
		d := ctx.Detail.(timing.QuantumDetail)
		end := slot.LocalTime()
		start := end.Sub(slot.Clock().CyclesToTime(d.Used))

		h.recorder.InsertData(QuantumTable, QuantumEntry{
			Executable: slot.Name(),
			Start:      start.String(),
			End:        end.String(),
			Seconds:    start.Seconds(),
			Budget:     d.Budget,
			Used:       d.Used,
		})
	case timing.HookPosBeforeTimer:
		t := ctx.Item.(*timing.Timer)
		now := ctx.Detail.(timing.VTime)

		h.recorder.InsertData(TimerTable, TimerEntry{
			Owner:   t.Owner(),
			Name:    t.Name(),
			FiredAt: now.String(),
			Seconds: now.Seconds(),
		})
	}
}
