// Package state keeps the catalog of plain memory blocks that make up the
// state of a simulated machine and saves or restores them as a whole.
package state

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unsafe"

	"github.com/Masterminds/semver/v3"
)

// Errors reported by the registry. They are wrapped with details and can be
// matched with errors.Is.
var (
	ErrRegistryClosed   = errors.New("state: registry is closed")
	ErrDuplicateEntry   = errors.New("state: entry already registered")
	ErrInvalidEntry     = errors.New("state: invalid entry")
	ErrManifestMismatch = errors.New("state: snapshot does not match the registry")
	ErrVersionMismatch  = errors.New("state: snapshot version is not compatible")
	ErrCorruptSnapshot  = errors.New("state: corrupted snapshot")
)

// An Entry is a named view over memory owned by a component. The registry
// never owns the memory.
type Entry struct {
	Name     string
	Mem      []byte
	ElemSize int
	Count    int
}

// Size returns the number of bytes in the entry.
func (e *Entry) Size() int {
	return len(e.Mem)
}

// A Registry is the state catalog of one simulation. Entries can only be
// added while the registry is open, which is during the start phase.
type Registry struct {
	version *semver.Version

	entries []*Entry
	index   map[string]*Entry
	open    bool

	presave  []func()
	postload []func()
}

// NewRegistry creates a closed registry for a machine of the given semantic
// version.
func NewRegistry(version string) (*Registry, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("state: invalid machine version %q: %w",
			version, err)
	}

	return &Registry{
		version: v,
		index:   make(map[string]*Entry),
	}, nil
}

// Version returns the machine version that snapshots are stamped with.
func (r *Registry) Version() string {
	return r.version.String()
}

// Open allows entries to be registered.
func (r *Registry) Open() {
	r.open = true
}

// Seal stops accepting entries.
func (r *Registry) Seal() {
	r.open = false
}

// IsOpen tells if entries can be registered.
func (r *Registry) IsOpen() bool {
	return r.open
}

// Namespace returns the namespace in which a component registers its state.
// Entry names are prefixed with the component name.
func (r *Registry) Namespace(owner string) *Namespace {
	return &Namespace{reg: r, prefix: owner}
}

// Entries returns the entries in registration order.
func (r *Registry) Entries() []*Entry {
	return r.entries
}

// Entry returns the entry with the given full name.
func (r *Registry) Entry(name string) (*Entry, bool) {
	e, ok := r.index[name]
	return e, ok
}

// Size returns the total number of bytes registered.
func (r *Registry) Size() int {
	total := 0
	for _, e := range r.entries {
		total += e.Size()
	}

	return total
}

// OnPreSave adds a callback that runs before the state is saved.
func (r *Registry) OnPreSave(fn func()) error {
	if !r.open {
		return ErrRegistryClosed
	}

	r.presave = append(r.presave, fn)

	return nil
}

// OnPostLoad adds a callback that runs after the state is restored.
func (r *Registry) OnPostLoad(fn func()) error {
	if !r.open {
		return ErrRegistryClosed
	}

	r.postload = append(r.postload, fn)

	return nil
}

func (r *Registry) register(name string, mem []byte, elemSize, count int) error {
	if !r.open {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryClosed, name)
	}

	if err := validateEntry(name, mem, elemSize, count); err != nil {
		return err
	}

	if _, found := r.index[name]; found {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}

	e := &Entry{Name: name, Mem: mem, ElemSize: elemSize, Count: count}
	r.entries = append(r.entries, e)
	r.index[name] = e

	return nil
}

func validateEntry(name string, mem []byte, elemSize, count int) error {
	switch {
	case name == "" || len(name) > maxNameLen:
		return fmt.Errorf("%w: bad name %q", ErrInvalidEntry, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: name %q contains NUL", ErrInvalidEntry, name)
	case elemSize <= 0 || count <= 0:
		return fmt.Errorf("%w: %s has %d elements of %d bytes",
			ErrInvalidEntry, name, count, elemSize)
	case len(mem) != elemSize*count:
		return fmt.Errorf("%w: %s covers %d bytes, want %d×%d",
			ErrInvalidEntry, name, len(mem), count, elemSize)
	}

	return nil
}

// A Namespace registers entries on behalf of one component.
type Namespace struct {
	reg    *Registry
	prefix string
}

// Prefix returns the name prefix of the namespace.
func (n *Namespace) Prefix() string {
	return n.prefix
}

// Sub returns a nested namespace.
func (n *Namespace) Sub(name string) *Namespace {
	return &Namespace{reg: n.reg, prefix: n.fullName(name)}
}

// Register adds count elements of elemSize bytes, viewed through mem, under
// the given name.
func (n *Namespace) Register(
	name string,
	mem []byte,
	elemSize, count int,
) error {
	return n.reg.register(n.fullName(name), mem, elemSize, count)
}

// RegisterBytes adds a plain byte block.
func (n *Namespace) RegisterBytes(name string, mem []byte) error {
	return n.Register(name, mem, 1, len(mem))
}

// OnPreSave adds a callback that runs before the state is saved.
func (n *Namespace) OnPreSave(fn func()) error {
	return n.reg.OnPreSave(fn)
}

// OnPostLoad adds a callback that runs after the state is restored.
func (n *Namespace) OnPostLoad(fn func()) error {
	return n.reg.OnPostLoad(fn)
}

func (n *Namespace) fullName(name string) string {
	if n.prefix == "" {
		return name
	}

	return n.prefix + "/" + name
}

// Register adds the memory of a plain value. T must not contain pointers,
// slices, maps, strings or interfaces, since their bytes are meaningless in
// another run.
func Register[T any](ns *Namespace, name string, v *T) error {
	if err := checkPlain(reflect.TypeOf(v).Elem()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntry, name, err)
	}

	size := int(unsafe.Sizeof(*v))
	mem := unsafe.Slice((*byte)(unsafe.Pointer(v)), size)

	return ns.Register(name, mem, size, 1)
}

// RegisterSlice adds the backing memory of a slice of plain values.
func RegisterSlice[T any](ns *Namespace, name string, s []T) error {
	if len(s) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrInvalidEntry, name)
	}

	if err := checkPlain(reflect.TypeOf(s).Elem()); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntry, name, err)
	}

	elemSize := int(unsafe.Sizeof(s[0]))
	mem := unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), elemSize*len(s))

	return ns.Register(name, mem, elemSize, len(s))
}

func checkPlain(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64, reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return checkPlain(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := checkPlain(t.Field(i).Type); err != nil {
				return err
			}
		}

		return nil
	}

	return fmt.Errorf("type %s is not plain data", t)
}
