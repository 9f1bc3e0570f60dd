package simulation

import (
	"log"

	"github.com/sarchlab/chipsim/sim/hooking"
)

// PhaseLogger logs the lifecycle of a simulation.
type PhaseLogger struct {
	hooking.LogHookBase
}

// NewPhaseLogger creates a PhaseLogger that writes to logger.
func NewPhaseLogger(logger *log.Logger) *PhaseLogger {
	h := &PhaseLogger{}
	h.Logger = logger

	return h
}

// Func writes the log entry.
func (h *PhaseLogger) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosPhase {
		return
	}

	s, ok := ctx.Domain.(*Simulation)
	if !ok {
		return
	}

	if ctx.Detail == "reset" {
		h.Printf("%s, %s: reset", s.scheduler.Now(), s.name)
		return
	}

	h.Printf("%s, %s: %s", s.scheduler.Now(), s.name, ctx.Item)
}
