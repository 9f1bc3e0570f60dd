package memory

import (
	"fmt"
	"log"

	"github.com/sarchlab/chipsim/sim/state"
)

// A Bank is a window that shows one of several equally sized blocks. Ranges
// mapped to a bank follow the selection immediately, without recompiling
// the space.
type Bank struct {
	name   string
	size   uint64
	blocks [][]byte
	owned  []bool
	index  uint32

	registered bool
}

// NewBank creates an empty bank whose blocks are at least size bytes.
func NewBank(name string, size uint64) *Bank {
	return &Bank{name: name, size: size}
}

// Name returns the name of the bank.
func (b *Bank) Name() string {
	return b.name
}

// Size returns the size of the window.
func (b *Bank) Size() uint64 {
	return b.size
}

// NumBlocks returns the number of blocks that can be selected.
func (b *Bank) NumBlocks() int {
	return len(b.blocks)
}

// AddBlock adds a block and returns its index.
func (b *Bank) AddBlock(block []byte) (int, error) {
	if uint64(len(block)) < b.size {
		return 0, fmt.Errorf("memory: bank %s: block of %d bytes, want %d",
			b.name, len(block), b.size)
	}

	b.blocks = append(b.blocks, block)
	b.owned = append(b.owned, false)

	return len(b.blocks) - 1, nil
}

// AddBlocks splits data into count consecutive blocks of stride bytes.
func (b *Bank) AddBlocks(data []byte, count int, stride uint64) error {
	for i := 0; i < count; i++ {
		lo := uint64(i) * stride
		if lo+b.size > uint64(len(data)) {
			return fmt.Errorf("memory: bank %s: block %d is outside the data",
				b.name, i)
		}

		if _, err := b.AddBlock(data[lo : lo+b.size]); err != nil {
			return err
		}
	}

	return nil
}

// AllocateRAM adds count writable blocks. They are registered as state
// with the bank.
func (b *Bank) AllocateRAM(count int) {
	for i := 0; i < count; i++ {
		b.blocks = append(b.blocks, make([]byte, b.size))
		b.owned = append(b.owned, true)
	}
}

// Select switches the window to block i.
func (b *Bank) Select(i int) {
	if i < 0 || i >= len(b.blocks) {
		log.Panicf("memory: bank %s has no block %d", b.name, i)
	}

	b.index = uint32(i)
}

// Selected returns the index of the block in the window.
func (b *Bank) Selected() int {
	return int(b.index)
}

func (b *Bank) current() []byte {
	return b.blocks[int(b.index)%len(b.blocks)]
}

func (b *Bank) register(ns *state.Namespace) error {
	if b.registered || ns == nil {
		return nil
	}

	b.registered = true

	if err := state.Register(ns, "bank."+b.name, &b.index); err != nil {
		return err
	}

	for i, block := range b.blocks {
		if !b.owned[i] {
			continue
		}

		err := ns.RegisterBytes(fmt.Sprintf("bank.%s.%d", b.name, i), block)
		if err != nil {
			return err
		}
	}

	return nil
}
