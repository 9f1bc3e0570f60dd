package config

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"

	"github.com/sarchlab/chipsim/sim/naming"
	"github.com/sarchlab/chipsim/sim/simulation"
	"github.com/sarchlab/chipsim/sim/timing"
)

var rangeKinds = map[string]bool{
	"ram": true, "rom": true, "region": true,
	"forward": true, "bank": true, "nop": true, "unmap": true,
}

var accessModes = map[string]bool{
	"": true, "read": true, "write": true, "readwrite": true,
}

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

// Validate checks the description without building anything. Component
// types are checked against the catalog.
func (m *Machine) Validate(cat *simulation.Catalog) error {
	if m.Name != "" {
		if err := naming.Validate(m.Name); err != nil {
			return invalid("machine name %q: %v", m.Name, err)
		}
	}

	if _, _, err := m.times(); err != nil {
		return err
	}

	regions, err := m.validateRegions()
	if err != nil {
		return err
	}

	comps, err := m.validateComponents(cat)
	if err != nil {
		return err
	}

	if err := m.validateMaps(comps, regions); err != nil {
		return err
	}

	return m.validateLines(comps)
}

func (m *Machine) times() (maxQuantum, maxSlice timing.VTime, err error) {
	if m.MaxQuantum != "" {
		maxQuantum, err = timing.ParseVTime(m.MaxQuantum)
		if err != nil || maxQuantum.IsNegative() {
			return maxQuantum, maxSlice, invalid("max_quantum %q", m.MaxQuantum)
		}
	}

	if m.MaxSlice != "" {
		maxSlice, err = timing.ParseVTime(m.MaxSlice)
		if err != nil || maxSlice.IsNegative() || maxSlice.IsZero() {
			return maxQuantum, maxSlice, invalid("max_slice %q", m.MaxSlice)
		}
	}

	return maxQuantum, maxSlice, nil
}

func (m *Machine) validateRegions() (map[string]bool, error) {
	names := map[string]bool{}

	for _, r := range m.Regions {
		if r.Name == "" {
			return nil, invalid("region without a name")
		}

		if names[r.Name] {
			return nil, invalid("duplicated region %s", r.Name)
		}

		names[r.Name] = true

		if r.Data != "" && r.File != "" {
			return nil, invalid("region %s has both data and file", r.Name)
		}

		if r.Data != "" {
			if _, err := decodeHex(r.Data); err != nil {
				return nil, invalid("region %s data: %v", r.Name, err)
			}
		}

		if r.Size == 0 && r.Data == "" && r.File == "" {
			return nil, invalid("region %s is empty", r.Name)
		}
	}

	return names, nil
}

func (m *Machine) validateComponents(
	cat *simulation.Catalog,
) (map[string]bool, error) {
	comps := map[string]bool{}

	for i := range m.Components {
		c := &m.Components[i]
		full := c.FullName()

		if err := naming.Validate(full); err != nil {
			return nil, invalid("component %q: %v", full, err)
		}

		if comps[full] {
			return nil, invalid("duplicated component %s", full)
		}

		if owner := naming.Parent(full); owner != "" && !comps[owner] {
			return nil, invalid("component %s is declared before its owner %s",
				full, owner)
		}

		comps[full] = true

		if cat != nil && !cat.Has(c.Type) {
			return nil, errors.Wrapf(simulation.ErrUnknownType,
				"component %s has type %q", full, c.Type)
		}

		if _, err := c.clockSpec(); err != nil {
			return nil, err
		}
	}

	return comps, nil
}

func (c *Component) clockSpec() (simulation.ClockSpec, error) {
	spec := simulation.ClockSpec{Divider: c.ClockDivider}

	if c.Clock != "" && c.ClockDivider != 0 {
		return spec, invalid("component %s has both clock and clock_divider",
			c.FullName())
	}

	if c.Clock != "" {
		f, err := timing.ParseFreq(c.Clock)
		if err != nil {
			return spec, invalid("component %s clock: %v", c.FullName(), err)
		}

		spec.Freq = f
	}

	return spec, nil
}

func (m *Machine) validateMaps(comps, regions map[string]bool) error {
	for _, sm := range m.Maps {
		comp, _, ok := strings.Cut(sm.Space, ":")
		if !ok {
			return invalid("space %q is not Component:Space", sm.Space)
		}

		if !comps[comp] {
			return errors.Wrapf(simulation.ErrUnknownComponent,
				"space %s", sm.Space)
		}

		for _, r := range sm.Ranges {
			if err := r.validate(comps, regions); err != nil {
				return errors.Wrapf(err, "space %s", sm.Space)
			}
		}
	}

	return nil
}

func (r *Range) validate(comps, regions map[string]bool) error {
	if r.Start > r.End {
		return invalid("range 0x%x-0x%x ends before it starts", r.Start, r.End)
	}

	if !rangeKinds[r.Kind] {
		return invalid("range 0x%x-0x%x has unknown kind %q",
			r.Start, r.End, r.Kind)
	}

	if !accessModes[r.Access] {
		return invalid("range 0x%x-0x%x has unknown access %q",
			r.Start, r.End, r.Access)
	}

	switch r.Kind {
	case "rom", "region":
		if !regions[r.Region] {
			return invalid("range 0x%x-0x%x uses unknown region %q",
				r.Start, r.End, r.Region)
		}
	case "forward":
		if !strings.Contains(r.Target, ":") {
			return invalid("range 0x%x-0x%x forwards to %q",
				r.Start, r.End, r.Target)
		}
	case "bank":
		if !comps[r.Target] {
			return errors.Wrapf(simulation.ErrUnknownComponent,
				"range 0x%x-0x%x banks from %q", r.Start, r.End, r.Target)
		}
	}

	return nil
}

func (m *Machine) validateLines(comps map[string]bool) error {
	for _, l := range m.Lines {
		for _, end := range []string{l.From, l.To} {
			owner := naming.Parent(end)
			if owner == "" || !comps[owner] {
				return errors.Wrapf(simulation.ErrUnknownComponent,
					"line %s -> %s", l.From, l.To)
			}
		}
	}

	return nil
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}
