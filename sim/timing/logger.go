package timing

import (
	"log"

	"github.com/sarchlab/chipsim/sim/hooking"
)

// QuantumLogger is a hook that prints every quantum and every timer firing.
type QuantumLogger struct {
	hooking.LogHookBase
}

// NewQuantumLogger returns a QuantumLogger that writes into the logger.
func NewQuantumLogger(logger *log.Logger) *QuantumLogger {
	h := new(QuantumLogger)
	h.Logger = logger

	return h
}

// Func writes the quantum or timer information into the logger.
func (h *QuantumLogger) Func(ctx hooking.HookCtx) {
	switch ctx.Pos {
	case HookPosAfterQuantum:
		slot, ok := ctx.Item.(*ExecSlot)
		if !ok {
			return
		}

		d := ctx.Detail.(QuantumDetail)
		h.Printf("%s, %s ran %d/%d cycles",
			slot.LocalTime(), slot.Name(), d.Used, d.Budget)
	case HookPosBeforeTimer:
		t, ok := ctx.Item.(*Timer)
		if !ok {
			return
		}

		h.Printf("%s, timer %s.%s fires", ctx.Detail, t.Owner(), t.Name())
	}
}
