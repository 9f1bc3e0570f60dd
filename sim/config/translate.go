package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sarchlab/chipsim/sim/memory"
	"github.com/sarchlab/chipsim/sim/modeling"
	"github.com/sarchlab/chipsim/sim/simulation"
)

type bankOwner interface {
	Bank() *memory.Bank
}

// Build validates the description and declares everything it describes in
// a new simulation. The simulation still has to be resolved and started.
func (m *Machine) Build(
	cat *simulation.Catalog,
	b simulation.Builder,
) (*simulation.Simulation, error) {
	if err := m.Validate(cat); err != nil {
		return nil, err
	}

	b, err := m.builder(b)
	if err != nil {
		return nil, err
	}

	sim, err := b.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building simulation")
	}

	if err := m.addRegions(sim); err != nil {
		return nil, err
	}

	if err := m.addComponents(sim, cat); err != nil {
		return nil, err
	}

	for _, sm := range m.Maps {
		ranges := sm.Ranges
		sim.MapSpace(sm.Space,
			func(space *memory.Space, ctx modeling.Context) error {
				for _, r := range ranges {
					if err := r.apply(space, ctx); err != nil {
						return err
					}
				}

				return nil
			})
	}

	for _, l := range m.Lines {
		sim.Connect(l.From, l.To)
	}

	return sim, nil
}

func (m *Machine) builder(b simulation.Builder) (simulation.Builder, error) {
	if m.Name != "" {
		b = b.WithName(m.Name)
	}

	if m.Version != "" {
		b = b.WithVersion(m.Version)
	}

	maxQuantum, maxSlice, err := m.times()
	if err != nil {
		return b, err
	}

	if m.MaxQuantum != "" {
		b = b.WithMaxQuantum(maxQuantum)
	}

	if m.MaxSlice != "" {
		b = b.WithMaxSlice(maxSlice)
	}

	return b, nil
}

func (m *Machine) addRegions(sim *simulation.Simulation) error {
	for _, r := range m.Regions {
		data, err := m.regionData(r)
		if err != nil {
			return err
		}

		if _, err := sim.Regions().AddData(r.Name, data); err != nil {
			return errors.Wrapf(err, "region %s", r.Name)
		}
	}

	return nil
}

func (m *Machine) regionData(r Region) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch {
	case r.File != "":
		path := r.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}

		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "region %s", r.Name)
		}
	case r.Data != "":
		data, err = decodeHex(r.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "region %s", r.Name)
		}
	}

	size := uint64(r.Size)
	if size == 0 {
		return data, nil
	}

	if uint64(len(data)) > size {
		return nil, invalid("region %s holds %d bytes, more than its size %d",
			r.Name, len(data), size)
	}

	out := make([]byte, size)
	copy(out, data)

	return out, nil
}

func (m *Machine) addComponents(
	sim *simulation.Simulation,
	cat *simulation.Catalog,
) error {
	for i := range m.Components {
		c := &m.Components[i]

		comp, err := cat.New(simulation.ComponentSpec{
			Type:   c.Type,
			Name:   c.FullName(),
			Params: simulation.Params(c.Params),
		})
		if err != nil {
			return err
		}

		clock, err := c.clockSpec()
		if err != nil {
			return err
		}

		if err := sim.Add(comp, clock); err != nil {
			return err
		}
	}

	return nil
}

func (r *Range) apply(space *memory.Space, ctx modeling.Context) error {
	d := space.Range(uint64(r.Start), uint64(r.End))

	switch r.Kind {
	case "ram":
		d.RAM()
	case "rom":
		d.Region(r.Region, uint64(r.Offset)).ReadOnly()
	case "region":
		d.Region(r.Region, uint64(r.Offset))
	case "forward":
		target, err := ctx.LookupSpace(r.Target)
		if err != nil {
			return err
		}

		d.Forward(target, uint64(r.Base))
	case "bank":
		owner, err := modeling.LookupAs[bankOwner](ctx, r.Target)
		if err != nil {
			return err
		}

		d.Bank(owner.Bank())
	case "nop":
		d.Nop()
	case "unmap":
		d.Unmap()
	}

	switch r.Access {
	case "read":
		d.ReadOnly()
	case "write":
		d.WriteOnly()
	}

	if r.Name != "" {
		d.Named(r.Name)
	}

	if r.Mirror != 0 {
		d.Mirror(uint64(r.Mirror))
	}

	return nil
}
