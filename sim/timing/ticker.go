package timing

// A Ticker updates its state one cycle at a time. Tick returns false when the
// cycle made no progress.
type Ticker interface {
	Tick() bool
}

// TickingExecutable runs a Ticker as an Executable. When a tick makes no
// progress, the ticker is considered idle and the rest of the quantum is
// skipped in one go.
type TickingExecutable struct {
	name   string
	ticker Ticker
	slot   *ExecSlot
	inStep uint64
}

// NewTickingExecutable wraps a ticker.
func NewTickingExecutable(name string, ticker Ticker) *TickingExecutable {
	return &TickingExecutable{
		name:   name,
		ticker: ticker,
	}
}

// Name returns the name of the executable.
func (e *TickingExecutable) Name() string {
	return e.name
}

// Bind attaches the slot that the scheduler created for the executable.
func (e *TickingExecutable) Bind(slot *ExecSlot) {
	e.slot = slot
}

// Slot returns the bound slot.
func (e *TickingExecutable) Slot() *ExecSlot {
	return e.slot
}

// Now returns the time of the cycle being ticked.
func (e *TickingExecutable) Now() VTime {
	if e.slot == nil {
		return Zero
	}

	return e.slot.TimeAt(e.inStep)
}

// Step ticks the ticker at most maxCycles times.
func (e *TickingExecutable) Step(maxCycles uint64) uint64 {
	e.inStep = 0
	defer func() { e.inStep = 0 }()

	for e.inStep < maxCycles {
		progress := e.ticker.Tick()
		e.inStep++

		if e.slot != nil {
			e.slot.Advance(1)
		}

		if !progress {
			return maxCycles
		}

		if e.slot != nil && e.slot.YieldRequested() {
			break
		}
	}

	return e.inStep
}
