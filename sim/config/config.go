// Package config reads declarative machine descriptions.
//
// A machine file lists the components of a machine, the address ranges that
// are mapped into their spaces, the lines that connect them and the shared
// memory regions:
//
//	name: Demo
//	version: 1.0.0
//	max_quantum: 1ms
//	regions:
//	  - name: Rom
//	    size: 0x100
//	    data: "a9 01 8d 00 f0"
//	components:
//	  - type: board
//	    name: Board
//	    clock: 1MHz
//	  - type: cpu
//	    owner: Board
//	    name: Cpu
//	    clock_divider: 4
//	maps:
//	  - space: Board.Cpu:Program
//	    ranges:
//	      - {start: 0x0000, end: 0x00ff, kind: rom, region: Rom}
//	lines:
//	  - {from: Board.Timer.Irq, to: Board.Cpu.Irq}
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is the cause of every validation error.
var ErrInvalid = errors.New("invalid machine description")

// Uint is an unsigned integer that may be written in decimal, hex (0x),
// octal (0o) or binary (0b), with optional underscores.
type Uint uint64

// UnmarshalYAML parses the integer.
func (u *Uint) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: expected an integer", n.Line)
	}

	v, err := strconv.ParseUint(strings.ReplaceAll(n.Value, "_", ""), 0, 64)
	if err != nil {
		return errors.Wrapf(err, "line %d", n.Line)
	}

	*u = Uint(v)

	return nil
}

// Machine is the description of a machine.
type Machine struct {
	Name       string      `yaml:"name"`
	Version    string      `yaml:"version"`
	MaxQuantum string      `yaml:"max_quantum"`
	MaxSlice   string      `yaml:"max_slice"`
	Regions    []Region    `yaml:"regions"`
	Components []Component `yaml:"components"`
	Maps       []SpaceMap  `yaml:"maps"`
	Lines      []Line      `yaml:"lines"`

	dir string
}

// Region is a named block of shared memory.
type Region struct {
	Name string `yaml:"name"`
	Size Uint   `yaml:"size"`

	// Data is the initial content as hex digits. Spaces are ignored.
	Data string `yaml:"data"`

	// File is a raw binary file with the initial content, relative to the
	// machine file.
	File string `yaml:"file"`
}

// Component describes one component. Name is either the full path of the
// component, or its name under Owner.
type Component struct {
	Type         string         `yaml:"type"`
	Name         string         `yaml:"name"`
	Owner        string         `yaml:"owner"`
	Clock        string         `yaml:"clock"`
	ClockDivider uint64         `yaml:"clock_divider"`
	Params       map[string]any `yaml:"params"`
}

// SpaceMap lists ranges to add to the address space "Component:Space".
type SpaceMap struct {
	Space  string  `yaml:"space"`
	Ranges []Range `yaml:"ranges"`
}

// Range is one address range. Kind is one of ram, rom, region, forward,
// bank, nop and unmap. A forward range targets a "Component:Space"; a bank
// range targets a component that owns a bank.
type Range struct {
	Start  Uint   `yaml:"start"`
	End    Uint   `yaml:"end"`
	Kind   string `yaml:"kind"`
	Name   string `yaml:"name"`
	Mirror Uint   `yaml:"mirror"`
	Access string `yaml:"access"`
	Region string `yaml:"region"`
	Offset Uint   `yaml:"offset"`
	Target string `yaml:"target"`
	Base   Uint   `yaml:"base"`
}

// Line connects an output line to an input line, both written as
// "Component.Line".
type Line struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Parse decodes a machine description. Unknown fields are errors.
func Parse(data []byte) (*Machine, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	m := &Machine{}
	if err := dec.Decode(m); err != nil {
		return nil, errors.Wrap(err, "parsing machine description")
	}

	return m, nil
}

// Load reads a machine description from a file. Region files are relative
// to its directory.
func Load(path string) (*Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading machine description")
	}

	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}

	m.dir = filepath.Dir(path)

	return m, nil
}

// FullName returns the path of the component in the tree.
func (c *Component) FullName() string {
	if c.Owner == "" {
		return c.Name
	}

	return c.Owner + "." + c.Name
}
