// Package memory routes the memory accesses of simulated components.
//
// A Space is declared as an ordered list of address ranges and compiled,
// when the simulation starts, into a page table per access direction. Pages
// covered by a single block are dereferenced directly; other pages hold a
// short sorted list of spans that is binary searched.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/chipsim/sim/hooking"
	"github.com/sarchlab/chipsim/sim/state"
)

// Errors that make a space fail to compile.
var (
	ErrBadRange      = errors.New("memory: bad range")
	ErrAlreadyBuilt  = errors.New("memory: space already compiled")
	ErrMissingRegion = errors.New("memory: missing region")
)

// Endian is the byte order of the data units stored in blocks.
type Endian int

// The byte orders.
const (
	LittleEndian Endian = iota
	BigEndian
)

// UnmappedPolicy decides what happens on an access to an unmapped address.
type UnmappedPolicy int

// The unmapped policies. All of them read the fill value.
const (
	// UnmappedFill silently reads the fill value and drops writes.
	UnmappedFill UnmappedPolicy = iota

	// UnmappedLog reports the access to the hooks.
	UnmappedLog

	// UnmappedFault reports the access and calls the fault handler.
	UnmappedFault
)

// ParseUnmappedPolicy converts "fill", "log" or "fault".
func ParseUnmappedPolicy(s string) (UnmappedPolicy, error) {
	switch s {
	case "", "fill":
		return UnmappedFill, nil
	case "log":
		return UnmappedLog, nil
	case "fault":
		return UnmappedFault, nil
	}

	return UnmappedFill, fmt.Errorf("memory: unknown unmapped policy %q", s)
}

// HookPosUnmapped marks an access to an unmapped address. The item is an
// UnmappedAccess.
var HookPosUnmapped = &hooking.HookPos{Name: "Unmapped"}

// UnmappedAccess describes an access that hit no declaration.
type UnmappedAccess struct {
	Space  *Space
	Access Access
	Addr   uint64
	Value  uint64
}

// A RecursionError is raised, as a panic, when a handler accesses an address
// of a space while that same address is being dispatched.
type RecursionError struct {
	Space  string
	Addr   uint64
	Access Access
}

func (e *RecursionError) Error() string {
	return fmt.Sprintf("memory: recursive %s of %s at 0x%x",
		e.Access, e.Space, e.Addr)
}

// CompileEnv provides what a space needs when it is compiled.
type CompileEnv struct {
	Regions *Regions
	State   *state.Namespace
}

type activeAccess struct {
	addr   uint64
	access Access
}

// A Space is an address space owned by a component.
type Space struct {
	*hooking.HookableBase

	name      string
	owner     string
	addrWidth uint
	addrMask  uint64
	unit      uint64
	order     binary.ByteOrder
	policy    UnmappedPolicy
	fill      uint64
	fault     func(access Access, addr uint64)

	decls  []*Decl
	read   *table
	write  *table
	active []activeAccess
}

// SpaceBuilder builds spaces.
type SpaceBuilder struct {
	name      string
	owner     string
	addrWidth uint
	dataWidth uint
	endian    Endian
	policy    UnmappedPolicy
	fill      uint64
}

// MakeSpaceBuilder creates a builder for a 16-bit space of bytes.
func MakeSpaceBuilder() SpaceBuilder {
	return SpaceBuilder{
		addrWidth: 16,
		dataWidth: 8,
	}
}

// WithName sets the name of the space within its owner.
func (b SpaceBuilder) WithName(name string) SpaceBuilder {
	b.name = name
	return b
}

// WithOwner sets the name of the component that owns the space.
func (b SpaceBuilder) WithOwner(owner string) SpaceBuilder {
	b.owner = owner
	return b
}

// WithAddressWidth sets the number of address bits, from 1 to 64.
func (b SpaceBuilder) WithAddressWidth(bits uint) SpaceBuilder {
	b.addrWidth = bits
	return b
}

// WithDataWidth sets the number of bits per access: 8, 16, 32 or 64.
func (b SpaceBuilder) WithDataWidth(bits uint) SpaceBuilder {
	b.dataWidth = bits
	return b
}

// WithEndian sets the byte order of multi-byte units in blocks.
func (b SpaceBuilder) WithEndian(e Endian) SpaceBuilder {
	b.endian = e
	return b
}

// WithUnmapped sets the unmapped policy and the fill value.
func (b SpaceBuilder) WithUnmapped(p UnmappedPolicy, fill uint64) SpaceBuilder {
	b.policy = p
	b.fill = fill

	return b
}

// Build creates the space.
func (b SpaceBuilder) Build() *Space {
	if b.addrWidth == 0 || b.addrWidth > 64 {
		log.Panicf("memory: address width %d is not supported", b.addrWidth)
	}

	switch b.dataWidth {
	case 8, 16, 32, 64:
	default:
		log.Panicf("memory: data width %d is not supported", b.dataWidth)
	}

	s := &Space{
		HookableBase: hooking.NewHookableBase(),
		name:         b.name,
		owner:        b.owner,
		addrWidth:    b.addrWidth,
		addrMask:     widthMask(b.addrWidth),
		unit:         uint64(b.dataWidth / 8),
		order:        binary.LittleEndian,
		policy:       b.policy,
		fill:         b.fill & widthMask(b.dataWidth),
	}

	if b.endian == BigEndian {
		s.order = binary.BigEndian
	}

	return s
}

// Name returns the name of the space within its owner.
func (s *Space) Name() string {
	return s.name
}

// FullName returns owner:name.
func (s *Space) FullName() string {
	if s.owner == "" {
		return s.name
	}

	return s.owner + ":" + s.name
}

// AddressWidth returns the number of address bits.
func (s *Space) AddressWidth() uint {
	return s.addrWidth
}

// DataWidth returns the number of bits per access.
func (s *Space) DataWidth() uint {
	return uint(s.unit * 8)
}

// SetFaultHandler sets the function called on unmapped accesses under the
// fault policy.
func (s *Space) SetFaultHandler(fn func(access Access, addr uint64)) {
	s.fault = fn
}

// Range starts a declaration for the addresses from start to end, both
// included. Declarations can only be made before the space is compiled.
func (s *Space) Range(start, end uint64) *Decl {
	if s.IsCompiled() {
		log.Panicf("memory: %s: cannot declare ranges after compiling",
			s.FullName())
	}

	d := &Decl{
		space:  s,
		index:  len(s.decls),
		start:  start,
		end:    end,
		access: AccessReadWrite,
	}
	s.decls = append(s.decls, d)

	return d
}

// Ranges describes the declarations in order.
func (s *Space) Ranges() []RangeInfo {
	out := make([]RangeInfo, len(s.decls))
	for i, d := range s.decls {
		out[i] = d.info()
	}

	return out
}

// IsCompiled tells if the space has been compiled.
func (s *Space) IsCompiled() bool {
	return s.read != nil
}

// Compile checks the declarations, allocates RAM, resolves regions and
// builds the page tables. RAM blocks and bank selections are registered in
// the state namespace, if one is given.
func (s *Space) Compile(env CompileEnv) error {
	if s.IsCompiled() {
		return fmt.Errorf("%w: %s", ErrAlreadyBuilt, s.FullName())
	}

	for _, d := range s.decls {
		if err := d.validate(s); err != nil {
			return err
		}

		if err := s.prepare(d, env); err != nil {
			return err
		}
	}

	s.read = buildTable(s.decls, AccessRead, s.addrWidth)
	s.write = buildTable(s.decls, AccessWrite, s.addrWidth)

	return nil
}

func (s *Space) prepare(d *Decl, env CompileEnv) error {
	switch {
	case d.kind == kindBlock && d.ram:
		return s.allocateRAM(d, env.State)
	case d.kind == kindBlock && d.region != "":
		return s.resolveRegion(d, env.Regions)
	case d.kind == kindBank:
		return d.bank.register(env.State)
	}

	return nil
}

func (s *Space) allocateRAM(d *Decl, ns *state.Namespace) error {
	if d.block == nil {
		d.block = make([]byte, d.size())
	}

	if ns == nil {
		return nil
	}

	name := d.name
	if name == "" {
		name = fmt.Sprintf("%s.ram.%x", s.name, d.start)
	}

	return ns.RegisterBytes(name, d.block)
}

func (s *Space) resolveRegion(d *Decl, regions *Regions) error {
	data, found := regions.Get(d.region)
	if !found {
		return fmt.Errorf("%w: %s used by %s", ErrMissingRegion,
			d.region, s.FullName())
	}

	if d.regOff > uint64(len(data)) ||
		uint64(len(data))-d.regOff < d.size() {
		return d.errorf("region %s is too small", d.region)
	}

	d.block = data[d.regOff : d.regOff+d.size()]

	return nil
}

// Map lists the compiled pieces of the space for one direction.
func (s *Space) Map(access Access) []MapEntry {
	if t := s.table(access); t != nil {
		return t.entries()
	}

	return nil
}

// PageKinds counts the pages of each kind for one direction.
func (s *Space) PageKinds(access Access) map[string]int {
	if t := s.table(access); t != nil {
		return t.pageKinds()
	}

	return nil
}

func (s *Space) table(access Access) *table {
	if access == AccessWrite {
		return s.write
	}

	return s.read
}

func (s *Space) align(addr uint64) uint64 {
	return (addr & s.addrMask) &^ (s.unit - 1)
}

// Read reads the data unit at addr.
func (s *Space) Read(addr uint64) uint64 {
	addr = s.align(addr)

	sp := s.read.lookup(addr)
	if sp == nil {
		return s.unmapped(AccessRead, addr, 0)
	}

	d := sp.decl

	switch d.kind {
	case kindBlock:
		return s.load(d.block, d.offset(addr))
	case kindBank:
		return s.load(d.bank.current(), d.offset(addr))
	case kindNop:
		return s.fill
	}

	return s.dispatchRead(d, addr)
}

func (s *Space) dispatchRead(d *Decl, addr uint64) uint64 {
	s.enter(AccessRead, addr)
	defer s.leave()

	if d.kind == kindForward {
		return d.target.Read(d.base + d.offset(addr))
	}

	return d.read(d.canonical(addr))
}

// Write writes the data unit at addr.
func (s *Space) Write(addr, value uint64) {
	addr = s.align(addr)

	sp := s.write.lookup(addr)
	if sp == nil {
		s.unmapped(AccessWrite, addr, value)
		return
	}

	d := sp.decl

	switch d.kind {
	case kindBlock:
		s.store(d.block, d.offset(addr), value)
		return
	case kindBank:
		s.store(d.bank.current(), d.offset(addr), value)
		return
	case kindNop:
		return
	}

	s.dispatchWrite(d, addr, value)
}

func (s *Space) dispatchWrite(d *Decl, addr, value uint64) {
	s.enter(AccessWrite, addr)
	defer s.leave()

	if d.kind == kindForward {
		d.target.Write(d.base+d.offset(addr), value)
		return
	}

	d.write(d.canonical(addr), value)
}

// Peek reads memory without side effects. Only blocks, banks and forwards
// to them can be peeked.
func (s *Space) Peek(addr uint64) (uint64, bool) {
	addr = s.align(addr)

	sp := s.read.lookup(addr)
	if sp == nil {
		return s.fill, false
	}

	d := sp.decl

	switch d.kind {
	case kindBlock:
		return s.load(d.block, d.offset(addr)), true
	case kindBank:
		return s.load(d.bank.current(), d.offset(addr)), true
	case kindForward:
		return d.target.Peek(d.base + d.offset(addr))
	}

	return s.fill, false
}

// Poke writes memory without side effects, including read-only blocks.
func (s *Space) Poke(addr, value uint64) bool {
	addr = s.align(addr)

	for _, t := range []*table{s.write, s.read} {
		sp := t.lookup(addr)
		if sp == nil {
			continue
		}

		d := sp.decl

		switch d.kind {
		case kindBlock:
			s.store(d.block, d.offset(addr), value)
			return true
		case kindBank:
			s.store(d.bank.current(), d.offset(addr), value)
			return true
		case kindForward:
			return d.target.Poke(d.base+d.offset(addr), value)
		}
	}

	return false
}

func (s *Space) load(block []byte, off uint64) uint64 {
	switch s.unit {
	case 1:
		return uint64(block[off])
	case 2:
		return uint64(s.order.Uint16(block[off:]))
	case 4:
		return uint64(s.order.Uint32(block[off:]))
	}

	return s.order.Uint64(block[off:])
}

func (s *Space) store(block []byte, off, value uint64) {
	switch s.unit {
	case 1:
		block[off] = byte(value)
	case 2:
		s.order.PutUint16(block[off:], uint16(value))
	case 4:
		s.order.PutUint32(block[off:], uint32(value))
	default:
		s.order.PutUint64(block[off:], value)
	}
}

func (s *Space) enter(access Access, addr uint64) {
	for _, a := range s.active {
		if a.addr == addr {
			panic(&RecursionError{
				Space:  s.FullName(),
				Addr:   addr,
				Access: access,
			})
		}
	}

	s.active = append(s.active, activeAccess{addr: addr, access: access})
}

func (s *Space) leave() {
	s.active = s.active[:len(s.active)-1]
}

func (s *Space) unmapped(access Access, addr, value uint64) uint64 {
	if s.policy == UnmappedFill {
		return s.fill
	}

	s.InvokeHook(hooking.HookCtx{
		Domain: s,
		Pos:    HookPosUnmapped,
		Item: UnmappedAccess{
			Space:  s,
			Access: access,
			Addr:   addr,
			Value:  value,
		},
	})

	if s.policy == UnmappedFault && s.fault != nil {
		s.fault(access, addr)
	}

	return s.fill
}
