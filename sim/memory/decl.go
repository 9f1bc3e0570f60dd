package memory

import (
	"fmt"
	"math/bits"
)

// ReadFunc handles a read. It receives the canonical address, with the
// mirror bits cleared, and returns one data unit.
type ReadFunc func(addr uint64) uint64

// WriteFunc handles a write of one data unit at the canonical address.
type WriteFunc func(addr, value uint64)

// Access is the direction of a memory access.
type Access uint8

// The access directions.
const (
	AccessRead Access = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

// String returns the name of the direction.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessReadWrite:
		return "read-write"
	}

	return "none"
}

type declKind int

const (
	kindNone declKind = iota
	kindBlock
	kindBank
	kindHandler
	kindForward
	kindNop
	kindUnmap
)

var declKindNames = map[declKind]string{
	kindNone:    "none",
	kindBlock:   "block",
	kindBank:    "bank",
	kindHandler: "handler",
	kindForward: "forward",
	kindNop:     "nop",
	kindUnmap:   "unmap",
}

func (k declKind) String() string {
	return declKindNames[k]
}

const maxMirrorBits = 16

// A Decl declares what an address range maps to. Declarations are made with
// Space.Range and chained, for example
//
//	space.Range(0x0000, 0x07ff).Mirror(0x1800).RAM()
//
// Later declarations win over earlier ones where they overlap, separately for
// reads and writes.
type Decl struct {
	space  *Space
	index  int
	name   string
	start  uint64
	end    uint64
	mirror uint64
	access Access
	kind   declKind

	block  []byte
	ram    bool
	bank   *Bank
	read   ReadFunc
	write  WriteFunc
	target *Space
	base   uint64
	region string
	regOff uint64
}

// Start returns the first address of the range.
func (d *Decl) Start() uint64 {
	return d.start
}

// End returns the last address of the range.
func (d *Decl) End() uint64 {
	return d.end
}

// Named gives the declaration a name. RAM blocks are registered in the
// state under this name.
func (d *Decl) Named(name string) *Decl {
	d.name = name
	return d
}

// Mirror repeats the range at every combination of the mirror bits. The
// mirror bits must not overlap the bits that vary inside the range.
func (d *Decl) Mirror(mask uint64) *Decl {
	d.mirror = mask
	return d
}

// ReadOnly restricts the declaration to reads.
func (d *Decl) ReadOnly() *Decl {
	d.access = AccessRead
	return d
}

// WriteOnly restricts the declaration to writes.
func (d *Decl) WriteOnly() *Decl {
	d.access = AccessWrite
	return d
}

// RAM backs the range with a block that is allocated when the space is
// compiled and registered as state.
func (d *Decl) RAM() *Decl {
	d.kind = kindBlock
	d.ram = true

	return d
}

// ROM backs the range with a fixed read-only block.
func (d *Decl) ROM(block []byte) *Decl {
	d.kind = kindBlock
	d.block = block
	d.access = AccessRead

	return d
}

// Block backs the range with a fixed block that is both readable and
// writable.
func (d *Decl) Block(block []byte) *Decl {
	d.kind = kindBlock
	d.block = block

	return d
}

// Bank maps the range to the selected block of a bank.
func (d *Decl) Bank(b *Bank) *Decl {
	d.kind = kindBank
	d.bank = b

	return d
}

// Handlers maps the range to callbacks. A nil callback leaves that
// direction undeclared.
func (d *Decl) Handlers(r ReadFunc, w WriteFunc) *Decl {
	d.kind = kindHandler
	d.read = r
	d.write = w

	switch {
	case r != nil && w == nil:
		d.access &= AccessRead
	case r == nil && w != nil:
		d.access &= AccessWrite
	}

	return d
}

// Forward passes accesses to another space. The first address of the range
// maps to base in the target space.
func (d *Decl) Forward(target *Space, base uint64) *Decl {
	d.kind = kindForward
	d.target = target
	d.base = base

	return d
}

// Region backs the range with a named shared region, starting at offset.
func (d *Decl) Region(name string, offset uint64) *Decl {
	d.kind = kindBlock
	d.region = name
	d.regOff = offset

	return d
}

// Nop declares a range that ignores writes and reads as the fill value
// without reporting an unmapped access.
func (d *Decl) Nop() *Decl {
	d.kind = kindNop
	return d
}

// Unmap removes earlier declarations from the range.
func (d *Decl) Unmap() *Decl {
	d.kind = kindUnmap
	return d
}

func (d *Decl) size() uint64 {
	return d.end - d.start + 1
}

func (d *Decl) validate(s *Space) error {
	switch {
	case d.start > d.end:
		return d.errorf("start is after end")
	case d.end > s.addrMask:
		return d.errorf("end is outside the %d-bit address space", s.addrWidth)
	case d.mirror&^s.addrMask != 0:
		return d.errorf("mirror 0x%x is outside the address space", d.mirror)
	case d.mirror&rangeBits(d.start, d.end) != 0:
		return d.errorf("mirror 0x%x overlaps the range bits", d.mirror)
	case bits.OnesCount64(d.mirror) > maxMirrorBits:
		return d.errorf("mirror 0x%x has more than %d bits",
			d.mirror, maxMirrorBits)
	case d.start%s.unit != 0 || (d.end+1)%s.unit != 0:
		return d.errorf("range is not aligned to %d-byte units", s.unit)
	case d.access == 0:
		return d.errorf("no access direction left")
	}

	return d.validateTarget()
}

func (d *Decl) validateTarget() error {
	switch d.kind {
	case kindNone:
		return d.errorf("nothing is mapped")
	case kindBlock:
		if !d.ram && d.region == "" && uint64(len(d.block)) < d.size() {
			return d.errorf("block of %d bytes is too small", len(d.block))
		}
	case kindBank:
		if d.bank == nil {
			return d.errorf("no bank")
		}

		if d.bank.size < d.size() {
			return d.errorf("bank %s is too small", d.bank.name)
		}

		if d.bank.NumBlocks() == 0 {
			return d.errorf("bank %s has no blocks", d.bank.name)
		}
	case kindHandler:
		if d.read == nil && d.write == nil {
			return d.errorf("no handler")
		}
	case kindForward:
		if d.target == nil {
			return d.errorf("no forwarding target")
		}
	}

	return nil
}

func (d *Decl) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s [0x%x, 0x%x]: %s",
		ErrBadRange, d.space.FullName(), d.start, d.end,
		fmt.Sprintf(format, args...))
}

// rangeBits returns the address bits that a range occupies: the bits set in
// its ends plus every bit at or below the highest bit that varies inside it.
func rangeBits(start, end uint64) uint64 {
	varying := start ^ end

	low := (uint64(1) << bits.Len64(varying)) - 1

	return start | end | low
}

// copies lists every mirrored instance of the range in increasing order.
func (d *Decl) copies() [][2]uint64 {
	out := make([][2]uint64, 0, 1<<bits.OnesCount64(d.mirror))
	sub := uint64(0)

	for {
		out = append(out, [2]uint64{d.start | sub, d.end | sub})
		if sub == d.mirror {
			return out
		}

		sub = (sub - d.mirror) & d.mirror
	}
}

func (d *Decl) canonical(addr uint64) uint64 {
	return addr &^ d.mirror
}

func (d *Decl) offset(addr uint64) uint64 {
	return d.canonical(addr) - d.start
}

// RangeInfo describes a declaration.
type RangeInfo struct {
	Name   string `json:"name,omitempty"`
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
	Mirror uint64 `json:"mirror"`
	Access string `json:"access"`
	Kind   string `json:"kind"`
}

func (d *Decl) info() RangeInfo {
	return RangeInfo{
		Name:   d.name,
		Start:  d.start,
		End:    d.end,
		Mirror: d.mirror,
		Access: d.access.String(),
		Kind:   d.kind.String(),
	}
}
