// Package simulation assembles components into a tree and drives them
// through their lifecycle.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/xid"

	"github.com/sarchlab/chipsim/datarecording"
	"github.com/sarchlab/chipsim/sim/hooking"
	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/naming"
	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/sim/timing"
)

// Errors reported while building and starting a simulation.
var (
	ErrUnknownComponent   = errors.New("simulation: unknown component")
	ErrDuplicateComponent = errors.New("simulation: duplicated component")
	ErrUnknownType        = errors.New("simulation: unknown component type")
	ErrWrongPhase         = errors.New("simulation: wrong phase")
	ErrNoClock            = errors.New("simulation: executable without clock")
)

// Phase is the lifecycle phase of the simulation.
type Phase int

// The phases, in order. A running simulation goes back to started while it
// resets.
const (
	PhaseConstructed Phase = iota
	PhaseResolved
	PhaseStarted
	PhaseRunning
	PhaseStopped
)

var phaseNames = []string{
	"constructed", "resolved", "started", "running", "stopped",
}

// String returns the name of the phase.
func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}

	return "unknown"
}

// HookPosPhase is triggered when the simulation enters a phase, and on each
// reset. The item is the Phase; the detail is "reset" for resets.
var HookPosPhase = &hooking.HookPos{Name: "Phase"}

// ClockSpec declares the clock of a component. A frequency wins over a
// divider. A divider derives the clock from the owner's clock. Without
// either, the component shares the owner's clock.
type ClockSpec struct {
	Freq    timing.Freq
	Divider uint64
}

type node struct {
	comp      modeling.Component
	parent    int
	children  []int
	clockSpec ClockSpec
	clock     timing.Clock
}

type lineStateOwner interface {
	RegisterLineState(ns *state.Namespace) error
}

type lineSpec struct {
	from string
	to   string
}

type mapping struct {
	space string
	fn    func(space *memory.Space, ctx modeling.Context) error
}

// A Simulation owns the component tree, the scheduler, the shared memory
// regions and the state registry of one simulated machine.
type Simulation struct {
	*hooking.HookableBase

	id      string
	name    string
	version string

	nodes []*node
	index map[string]int

	scheduler *timing.Scheduler
	registry  *state.Registry
	regions   *memory.Regions
	recorder  datarecording.DataRecorder

	lines    []lineSpec
	mappings []mapping

	phase        Phase
	pendingReset bool
}

func newSimulation(name, version string) (*Simulation, error) {
	reg, err := state.NewRegistry(version)
	if err != nil {
		return nil, err
	}

	return &Simulation{
		HookableBase: hooking.NewHookableBase(),
		id:           xid.New().String(),
		name:         name,
		version:      version,
		index:        make(map[string]int),
		scheduler:    timing.NewScheduler(),
		registry:     reg,
		regions:      memory.NewRegions(),
	}, nil
}

// ID returns a unique id of the simulation run.
func (s *Simulation) ID() string {
	return s.id
}

// Name returns the name of the simulated machine.
func (s *Simulation) Name() string {
	return s.name
}

// Version returns the machine version that stamps snapshots.
func (s *Simulation) Version() string {
	return s.version
}

// Phase returns the current phase.
func (s *Simulation) Phase() Phase {
	return s.phase
}

// Scheduler returns the scheduler.
func (s *Simulation) Scheduler() *timing.Scheduler {
	return s.scheduler
}

// Now returns the current simulated time.
func (s *Simulation) Now() timing.VTime {
	return s.scheduler.Now()
}

// Registry returns the state registry.
func (s *Simulation) Registry() *state.Registry {
	return s.registry
}

// Regions returns the shared memory regions.
func (s *Simulation) Regions() *memory.Regions {
	return s.regions
}

// DataRecorder returns the recorder of the scheduler activity, or nil.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.recorder
}

// Add declares a component. Its owner, named by the component path, must
// have been added before. Children are kept in the order they are added.
func (s *Simulation) Add(c modeling.Component, clock ClockSpec) error {
	if s.phase != PhaseConstructed {
		return fmt.Errorf("%w: cannot add %s when %s",
			ErrWrongPhase, c.Name(), s.phase)
	}

	name := c.Name()
	if err := naming.Validate(name); err != nil {
		return err
	}

	if _, found := s.index[name]; found {
		return fmt.Errorf("%w: %s", ErrDuplicateComponent, name)
	}

	n := &node{comp: c, parent: -1, clockSpec: clock}

	if parent := naming.Parent(name); parent != "" {
		p, found := s.index[parent]
		if !found {
			return fmt.Errorf("%w: %s, owner of %s",
				ErrUnknownComponent, parent, name)
		}

		n.parent = p
	}

	s.nodes = append(s.nodes, n)
	i := len(s.nodes) - 1
	s.index[name] = i

	if n.parent >= 0 {
		s.nodes[n.parent].children = append(s.nodes[n.parent].children, i)
	}

	return nil
}

// Connect declares a line from an output to an input, both given as
// "Component.Line".
func (s *Simulation) Connect(from, to string) {
	s.lines = append(s.lines, lineSpec{from: from, to: to})
}

// MapSpace adds address ranges to a space given as "Component:Space". The
// function runs after every component has started, so its ranges override
// the ones that components declare themselves.
func (s *Simulation) MapSpace(
	space string,
	fn func(space *memory.Space, ctx modeling.Context) error,
) {
	s.mappings = append(s.mappings, mapping{space: space, fn: fn})
}

// Lookup returns the component at path.
func (s *Simulation) Lookup(path string) (modeling.Component, error) {
	i, found := s.index[path]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, path)
	}

	return s.nodes[i].comp, nil
}

// LookupSpace returns the space at "Component:Space".
func (s *Simulation) LookupSpace(path string) (*memory.Space, error) {
	compName, spaceName, ok := strings.Cut(path, ":")
	if !ok {
		return nil, fmt.Errorf("simulation: %q is not a Component:Space path",
			path)
	}

	c, err := s.Lookup(compName)
	if err != nil {
		return nil, err
	}

	owner, ok := c.(modeling.SpaceOwner)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no address space", modeling.ErrNotFound,
			compName)
	}

	return owner.Space(spaceName)
}

// Components returns all the components, owners before the components they
// own, children in declaration order.
func (s *Simulation) Components() []modeling.Component {
	out := make([]modeling.Component, 0, len(s.nodes))
	s.walkPreOrder(func(n *node) error {
		out = append(out, n.comp)
		return nil
	})

	return out
}

// Children returns the components directly owned by path.
func (s *Simulation) Children(path string) []modeling.Component {
	i, found := s.index[path]
	if !found {
		return nil
	}

	out := []modeling.Component{}
	for _, c := range s.nodes[i].children {
		out = append(out, s.nodes[c].comp)
	}

	return out
}

// ClockOf returns the resolved clock of a component.
func (s *Simulation) ClockOf(path string) (timing.Clock, error) {
	i, found := s.index[path]
	if !found {
		return timing.Clock{}, fmt.Errorf("%w: %s", ErrUnknownComponent, path)
	}

	return s.nodes[i].clock, nil
}

func (s *Simulation) roots() []int {
	out := []int{}
	for i, n := range s.nodes {
		if n.parent < 0 {
			out = append(out, i)
		}
	}

	return out
}

func (s *Simulation) walkPreOrder(fn func(n *node) error) error {
	var visit func(i int) error
	visit = func(i int) error {
		if err := fn(s.nodes[i]); err != nil {
			return err
		}

		for _, c := range s.nodes[i].children {
			if err := visit(c); err != nil {
				return err
			}
		}

		return nil
	}

	for _, r := range s.roots() {
		if err := visit(r); err != nil {
			return err
		}
	}

	return nil
}

func (s *Simulation) walkPostOrder(fn func(n *node)) {
	var visit func(i int)
	visit = func(i int) {
		for _, c := range s.nodes[i].children {
			visit(c)
		}

		fn(s.nodes[i])
	}

	for _, r := range s.roots() {
		visit(r)
	}
}

func (s *Simulation) enter(p Phase) {
	s.phase = p
	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosPhase,
		Item:   p,
	})
}

// Resolve runs the second construction pass. Clocks are derived, every
// Resolver binds its references in declaration order, and lines are
// connected.
func (s *Simulation) Resolve() error {
	if s.phase != PhaseConstructed {
		return fmt.Errorf("%w: resolve when %s", ErrWrongPhase, s.phase)
	}

	ctx := &buildContext{sim: s}

	err := s.walkPreOrder(func(n *node) error {
		n.clock = s.deriveClock(n)

		if clocked, ok := n.comp.(modeling.Clocked); ok {
			clocked.SetClock(n.clock)
		}

		if r, ok := n.comp.(modeling.Resolver); ok {
			if err := r.Resolve(ctx); err != nil {
				return fmt.Errorf("resolving %s: %w", n.comp.Name(), err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	if err := s.connectLines(); err != nil {
		return err
	}

	s.enter(PhaseResolved)

	return nil
}

func (s *Simulation) deriveClock(n *node) timing.Clock {
	var parentClock timing.Clock
	if n.parent >= 0 {
		parentClock = s.nodes[n.parent].clock
	}

	switch {
	case n.clockSpec.Freq != 0:
		return n.clockSpec.Freq.Clock()
	case n.clockSpec.Divider != 0 && !parentClock.IsZero():
		return parentClock.Divide(n.clockSpec.Divider)
	}

	return parentClock
}

func (s *Simulation) connectLines() error {
	for _, l := range s.lines {
		out, err := s.lookupOutput(l.from)
		if err != nil {
			return err
		}

		in, err := s.lookupInput(l.to)
		if err != nil {
			return err
		}

		if err := out.Connect(in); err != nil {
			return fmt.Errorf("connecting %s to %s: %w", l.from, l.to, err)
		}
	}

	return nil
}

func (s *Simulation) lookupOutput(path string) (*modeling.Output, error) {
	c, err := s.Lookup(naming.Parent(path))
	if err != nil {
		return nil, err
	}

	src, ok := c.(modeling.LineSource)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no output lines",
			modeling.ErrNotFound, c.Name())
	}

	return src.Output(naming.Base(path))
}

func (s *Simulation) lookupInput(path string) (*modeling.Input, error) {
	c, err := s.Lookup(naming.Parent(path))
	if err != nil {
		return nil, err
	}

	sink, ok := c.(modeling.LineSink)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no input lines",
			modeling.ErrNotFound, c.Name())
	}

	return sink.Input(naming.Base(path))
}

// Start prepares every component to run: Starters run in declaration order
// with the state registry open, the address map declarations are applied,
// the address spaces are compiled and the executables join the scheduler.
// The registry is sealed afterwards.
func (s *Simulation) Start() error {
	if s.phase != PhaseResolved {
		return fmt.Errorf("%w: start when %s", ErrWrongPhase, s.phase)
	}

	s.registry.Open()
	defer s.registry.Seal()

	steps := []func() error{
		s.startComponents,
		s.applyMappings,
		s.compileSpaces,
		s.addExecutables,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	s.pendingReset = true
	s.enter(PhaseStarted)

	return nil
}

func (s *Simulation) startComponents() error {
	return s.walkPreOrder(func(n *node) error {
		ns := s.registry.Namespace(n.comp.Name())
		ctx := &buildContext{sim: s, ns: ns}

		if st, ok := n.comp.(modeling.Starter); ok {
			if err := st.Start(ctx); err != nil {
				return fmt.Errorf("starting %s: %w", n.comp.Name(), err)
			}
		}

		if l, ok := n.comp.(lineStateOwner); ok {
			if err := l.RegisterLineState(ns); err != nil {
				return err
			}
		}

		if p, ok := n.comp.(modeling.StateParticipant); ok {
			if err := ns.OnPreSave(p.PreSave); err != nil {
				return err
			}

			if err := ns.OnPostLoad(p.PostLoad); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Simulation) applyMappings() error {
	for _, m := range s.mappings {
		space, err := s.LookupSpace(m.space)
		if err != nil {
			return err
		}

		owner := strings.SplitN(m.space, ":", 2)[0]
		ctx := &buildContext{sim: s, ns: s.registry.Namespace(owner)}

		if err := m.fn(space, ctx); err != nil {
			return fmt.Errorf("mapping %s: %w", m.space, err)
		}
	}

	return nil
}

func (s *Simulation) compileSpaces() error {
	return s.walkPreOrder(func(n *node) error {
		owner, ok := n.comp.(modeling.SpaceOwner)
		if !ok {
			return nil
		}

		env := memory.CompileEnv{
			Regions: s.regions,
			State:   s.registry.Namespace(n.comp.Name()),
		}

		for _, space := range owner.Spaces() {
			if err := space.Compile(env); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Simulation) addExecutables() error {
	return s.walkPreOrder(func(n *node) error {
		e, ok := n.comp.(modeling.Executable)
		if !ok {
			return nil
		}

		if n.clock.IsZero() {
			return fmt.Errorf("%w: %s", ErrNoClock, n.comp.Name())
		}

		slot, err := s.scheduler.AddExecutable(e, n.clock)
		if err != nil {
			return err
		}

		if b, ok := n.comp.(modeling.SlotBinder); ok {
			b.BindSlot(slot)
		}

		return nil
	})
}

// Build runs both Resolve and Start.
func (s *Simulation) Build() error {
	if err := s.Resolve(); err != nil {
		return err
	}

	return s.Start()
}

// Reset reinitializes every component, children before their owner.
func (s *Simulation) Reset() {
	if s.phase < PhaseStarted || s.phase == PhaseStopped {
		return
	}

	s.pendingReset = false

	s.walkPostOrder(func(n *node) {
		if r, ok := n.comp.(modeling.Resetter); ok {
			r.Reset()
		}
	})

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosPhase,
		Item:   s.phase,
		Detail: "reset",
	})
}

// Run runs the simulation until the limit or until ctx is done. The first
// run performs the power-up reset.
func (s *Simulation) Run(ctx context.Context, limit timing.VTime) error {
	if s.phase != PhaseStarted && s.phase != PhaseRunning {
		return fmt.Errorf("%w: run when %s", ErrWrongPhase, s.phase)
	}

	if s.pendingReset {
		s.Reset()
	}

	if s.phase != PhaseRunning {
		s.enter(PhaseRunning)
	}

	return s.scheduler.RunContext(ctx, limit)
}

// RunFor runs the simulation for d more time.
func (s *Simulation) RunFor(ctx context.Context, d timing.VTime) error {
	return s.Run(ctx, s.scheduler.GlobalTime().Add(d))
}

// Save writes a snapshot of the registered state.
func (s *Simulation) Save(w io.Writer) error {
	if s.phase < PhaseStarted || s.phase == PhaseStopped {
		return fmt.Errorf("%w: save when %s", ErrWrongPhase, s.phase)
	}

	return s.registry.Save(w)
}

// Restore reads a snapshot into the registered state.
func (s *Simulation) Restore(r io.Reader) error {
	if s.phase < PhaseStarted || s.phase == PhaseStopped {
		return fmt.Errorf("%w: restore when %s", ErrWrongPhase, s.phase)
	}

	if err := s.registry.Restore(r); err != nil {
		return err
	}

	s.pendingReset = false

	return nil
}

// Teardown stops every component, children before their owner, and closes
// the data recorder. The simulation cannot be used afterwards.
func (s *Simulation) Teardown() {
	if s.phase == PhaseStopped {
		return
	}

	if s.phase >= PhaseStarted {
		s.walkPostOrder(func(n *node) {
			if st, ok := n.comp.(modeling.Stopper); ok {
				st.Stop()
			}
		})
	}

	if s.recorder != nil {
		s.recorder.Flush()
		s.recorder.Close()
	}

	s.enter(PhaseStopped)
}
