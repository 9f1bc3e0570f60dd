package simulation

import (
	"fmt"
	"sort"

	"github.com/sarchlab/chipsim/sim/modeling"
)

// ComponentSpec describes one component to instantiate.
type ComponentSpec struct {
	Type   string
	Name   string
	Params Params
}

// A Factory creates a component from its description. Factories must not
// look up other components; references are bound later in Resolve.
type Factory func(spec ComponentSpec) (modeling.Component, error)

// A Catalog maps component type names to factories.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a component type. Registering a type twice panics.
func (c *Catalog) Register(typeName string, f Factory) {
	if _, found := c.factories[typeName]; found {
		panic(fmt.Sprintf("component type %s already registered", typeName))
	}

	c.factories[typeName] = f
}

// Has tells if the type is known.
func (c *Catalog) Has(typeName string) bool {
	_, found := c.factories[typeName]
	return found
}

// Types returns the registered type names, sorted.
func (c *Catalog) Types() []string {
	out := make([]string, 0, len(c.factories))
	for t := range c.factories {
		out = append(out, t)
	}

	sort.Strings(out)

	return out
}

// New instantiates a component.
func (c *Catalog) New(spec ComponentSpec) (modeling.Component, error) {
	f, found := c.factories[spec.Type]
	if !found {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownType, spec.Type,
			spec.Name)
	}

	comp, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", spec.Name, err)
	}

	if comp.Name() != spec.Name {
		return nil, fmt.Errorf("creating %s: factory named it %s",
			spec.Name, comp.Name())
	}

	return comp, nil
}
