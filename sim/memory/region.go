package memory

import (
	"fmt"
	"sort"
)

// Regions holds the named memory blocks that are shared between spaces,
// such as ROM images or video memory.
type Regions struct {
	blocks map[string][]byte
}

// NewRegions creates an empty set of regions.
func NewRegions() *Regions {
	return &Regions{blocks: make(map[string][]byte)}
}

// Add creates a zeroed region.
func (r *Regions) Add(name string, size uint64) ([]byte, error) {
	return r.AddData(name, make([]byte, size))
}

// AddData adds a region with the given content. The region keeps the slice.
func (r *Regions) AddData(name string, data []byte) ([]byte, error) {
	if _, found := r.blocks[name]; found {
		return nil, fmt.Errorf("memory: region %s already exists", name)
	}

	r.blocks[name] = data

	return data, nil
}

// Get returns the region with the given name.
func (r *Regions) Get(name string) ([]byte, bool) {
	if r == nil {
		return nil, false
	}

	b, found := r.blocks[name]

	return b, found
}

// Names lists the regions alphabetically.
func (r *Regions) Names() []string {
	names := make([]string, 0, len(r.blocks))
	for name := range r.blocks {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
