package devices

import (
	"fmt"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
)

// BankLatch is a write-only register that selects which block of its bank
// is visible. Writing value v selects block v modulo the number of blocks.
type BankLatch struct {
	*modeling.ComponentBase

	bank   *memory.Bank
	count  int
	region string
	regs   *memory.Space
}

// NewBankLatch creates a latch over count blocks of size bytes. The blocks
// come from the named region, split in order, or are fresh RAM when region
// is empty.
func NewBankLatch(name string, size uint64, count int, region string) *BankLatch {
	l := &BankLatch{
		ComponentBase: modeling.NewComponentBase(name),
		bank:          memory.NewBank(name, size),
		count:         count,
		region:        region,
	}
	l.regs = registerSpace(l.ComponentBase, "Regs", 4)

	return l
}

func newBankLatchFromSpec(spec simulation.ComponentSpec) (modeling.Component, error) {
	size, err := spec.Params.Uint("size", 0)
	if err != nil {
		return nil, err
	}

	if size == 0 {
		return nil, fmt.Errorf("bank latch %s needs a size", spec.Name)
	}

	count, err := spec.Params.Uint("count", 2)
	if err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, fmt.Errorf("bank latch %s needs at least one block",
			spec.Name)
	}

	region, err := spec.Params.String("region", "")
	if err != nil {
		return nil, err
	}

	return NewBankLatch(spec.Name, size, int(count), region), nil
}

// Bank returns the bank the latch switches.
func (l *BankLatch) Bank() *memory.Bank {
	return l.bank
}

// Start fills the bank and maps the latch register.
func (l *BankLatch) Start(ctx modeling.Context) error {
	if l.region == "" {
		l.bank.AllocateRAM(l.count)
	} else {
		data, found := ctx.Regions().Get(l.region)
		if !found {
			return fmt.Errorf("%w: %s used by %s",
				memory.ErrMissingRegion, l.region, l.Name())
		}

		err := l.bank.AddBlocks(data, l.count, l.bank.Size())
		if err != nil {
			return err
		}
	}

	l.regs.Range(0x0, 0xf).Handlers(nil, l.write)

	return nil
}

// Reset selects the first block.
func (l *BankLatch) Reset() {
	l.bank.Select(0)
}

func (l *BankLatch) write(_, value uint64) {
	l.bank.Select(int(value % uint64(l.bank.NumBlocks())))
}
