package memory

import (
	"log"

	"github.com/sarchlab/chipsim/sim/hooking"
)

// AccessLogger is a hook that prints accesses to unmapped addresses.
type AccessLogger struct {
	hooking.LogHookBase
}

// NewAccessLogger creates an AccessLogger that writes into the logger.
func NewAccessLogger(logger *log.Logger) *AccessLogger {
	h := new(AccessLogger)
	h.Logger = logger

	return h
}

// Func writes the access into the logger.
func (h *AccessLogger) Func(ctx hooking.HookCtx) {
	if ctx.Pos != HookPosUnmapped {
		return
	}

	a, ok := ctx.Item.(UnmappedAccess)
	if !ok {
		return
	}

	if a.Access == AccessWrite {
		h.Printf("%s: unmapped write 0x%x at 0x%x",
			a.Space.FullName(), a.Value, a.Addr)
		return
	}

	h.Printf("%s: unmapped read at 0x%x", a.Space.FullName(), a.Addr)
}
