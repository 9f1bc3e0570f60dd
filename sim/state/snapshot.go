package state

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/cespare/xxhash/v2"
)

const (
	magic         = "CSNP"
	formatVersion = uint16(1)
	maxNameLen    = math.MaxUint16
)

// ManifestItem describes one entry in a snapshot.
type ManifestItem struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// A Manifest is the header of a snapshot. It lists the entries in the order
// their bytes follow.
type Manifest struct {
	Format  uint16         `json:"format"`
	Version string         `json:"version"`
	Digest  uint64         `json:"digest"`
	Items   []ManifestItem `json:"items"`
}

// PayloadSize returns the number of raw bytes that follow the manifest.
func (m *Manifest) PayloadSize() uint64 {
	var total uint64
	for _, item := range m.Items {
		total += item.Size
	}

	return total
}

// Manifest returns the manifest that a snapshot of the registry would carry.
func (r *Registry) Manifest() *Manifest {
	m := &Manifest{
		Format:  formatVersion,
		Version: r.version.String(),
		Items:   make([]ManifestItem, len(r.entries)),
	}

	for i, e := range r.entries {
		m.Items[i] = ManifestItem{Name: e.Name, Size: uint64(e.Size())}
	}

	m.Digest = xxhash.Sum64(encodeItems(m.Items))

	return m
}

// Save runs the pre-save callbacks and writes the snapshot.
func (r *Registry) Save(w io.Writer) error {
	for _, fn := range r.presave {
		fn()
	}

	bw := bufio.NewWriter(w)

	if err := writeManifest(bw, r.Manifest()); err != nil {
		return err
	}

	for _, e := range r.entries {
		if _, err := bw.Write(e.Mem); err != nil {
			return fmt.Errorf("state: writing %s: %w", e.Name, err)
		}
	}

	return bw.Flush()
}

// Snapshot saves into a byte slice.
func (r *Registry) Snapshot() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := r.Save(buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Restore reads a snapshot and copies it into the registered memory. The
// whole snapshot is read and checked before any memory is touched, so a
// failed restore leaves the machine as it was. Post-load callbacks run after
// a successful copy.
func (r *Registry) Restore(rd io.Reader) error {
	m, err := ReadManifest(rd)
	if err != nil {
		return err
	}

	if err := r.checkCompatible(m); err != nil {
		return err
	}

	payload := make([]byte, m.PayloadSize())
	if _, err := io.ReadFull(rd, payload); err != nil {
		return fmt.Errorf("%w: payload: %w", ErrCorruptSnapshot, err)
	}

	var extra [1]byte
	if n, _ := rd.Read(extra[:]); n != 0 {
		return fmt.Errorf("%w: trailing bytes after payload", ErrCorruptSnapshot)
	}

	offset := uint64(0)
	for _, item := range m.Items {
		e := r.index[item.Name]
		copy(e.Mem, payload[offset:offset+item.Size])
		offset += item.Size
	}

	for _, fn := range r.postload {
		fn()
	}

	return nil
}

// RestoreBytes restores from a byte slice.
func (r *Registry) RestoreBytes(data []byte) error {
	return r.Restore(bytes.NewReader(data))
}

func (r *Registry) checkCompatible(m *Manifest) error {
	snapVersion, err := semver.NewVersion(m.Version)
	if err != nil {
		return fmt.Errorf("%w: bad version %q", ErrCorruptSnapshot, m.Version)
	}

	if !Compatible(r.version, snapVersion) {
		return fmt.Errorf("%w: snapshot %s, machine %s",
			ErrVersionMismatch, snapVersion, r.version)
	}

	seen := make(map[string]bool, len(m.Items))
	missing := []string{}
	unexpected := []string{}
	wrongSize := []string{}

	for _, item := range m.Items {
		e, found := r.index[item.Name]

		switch {
		case seen[item.Name] || !found:
			unexpected = append(unexpected, item.Name)
		case uint64(e.Size()) != item.Size:
			wrongSize = append(wrongSize, fmt.Sprintf("%s (%d bytes, want %d)",
				item.Name, item.Size, e.Size()))
		}

		seen[item.Name] = true
	}

	for _, e := range r.entries {
		if !seen[e.Name] {
			missing = append(missing, e.Name)
		}
	}

	if len(missing)+len(unexpected)+len(wrongSize) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(unexpected)

	return fmt.Errorf("%w: missing %v, unexpected %v, size changed %v",
		ErrManifestMismatch, missing, unexpected, wrongSize)
}

// Compatible tells if a snapshot taken by a machine of version snap can be
// restored into a machine of version machine. Versions must share the major
// version, or the minor version before 1.0.0.
func Compatible(machine, snap *semver.Version) bool {
	constraint := fmt.Sprintf("^%d.0.0", machine.Major())
	if machine.Major() == 0 {
		constraint = fmt.Sprintf("^0.%d.0", machine.Minor())
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}

	return c.Check(snap)
}

func encodeItems(items []ManifestItem) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(items)))

	for _, item := range items {
		_ = binary.Write(buf, binary.LittleEndian, uint16(len(item.Name)))
		buf.WriteString(item.Name)
		_ = binary.Write(buf, binary.LittleEndian, item.Size)
	}

	return buf.Bytes()
}

func writeManifest(w io.Writer, m *Manifest) error {
	buf := new(bytes.Buffer)
	buf.WriteString(magic)
	_ = binary.Write(buf, binary.LittleEndian, m.Format)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(m.Version)))
	buf.WriteString(m.Version)
	_ = binary.Write(buf, binary.LittleEndian, m.Digest)
	buf.Write(encodeItems(m.Items))

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("state: writing manifest: %w", err)
	}

	return nil
}

// ReadManifest reads and checks the header of a snapshot. The reader is
// left at the start of the payload.
func ReadManifest(rd io.Reader) (*Manifest, error) {
	m := &Manifest{}

	var head [4]byte
	if _, err := io.ReadFull(rd, head[:]); err != nil {
		return nil, corrupt("magic", err)
	}

	if string(head[:]) != magic {
		return nil, fmt.Errorf("%w: not a snapshot", ErrCorruptSnapshot)
	}

	if err := binary.Read(rd, binary.LittleEndian, &m.Format); err != nil {
		return nil, corrupt("format", err)
	}

	if m.Format != formatVersion {
		return nil, fmt.Errorf("%w: format %d, want %d",
			ErrVersionMismatch, m.Format, formatVersion)
	}

	version, err := readString(rd)
	if err != nil {
		return nil, corrupt("version", err)
	}

	m.Version = version

	if err := binary.Read(rd, binary.LittleEndian, &m.Digest); err != nil {
		return nil, corrupt("digest", err)
	}

	var count uint32
	if err := binary.Read(rd, binary.LittleEndian, &count); err != nil {
		return nil, corrupt("entry count", err)
	}

	for i := uint32(0); i < count; i++ {
		item, err := readItem(rd)
		if err != nil {
			return nil, corrupt(fmt.Sprintf("entry %d", i), err)
		}

		m.Items = append(m.Items, item)
	}

	if xxhash.Sum64(encodeItems(m.Items)) != m.Digest {
		return nil, fmt.Errorf("%w: manifest digest mismatch", ErrCorruptSnapshot)
	}

	return m, nil
}

func readItem(rd io.Reader) (ManifestItem, error) {
	name, err := readString(rd)
	if err != nil {
		return ManifestItem{}, err
	}

	item := ManifestItem{Name: name}
	if err := binary.Read(rd, binary.LittleEndian, &item.Size); err != nil {
		return ManifestItem{}, err
	}

	return item, nil
}

func readString(rd io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(rd, binary.LittleEndian, &n); err != nil {
		return "", err
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		return "", err
	}

	return string(b), nil
}

func corrupt(what string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}

	return fmt.Errorf("%w: reading %s: %w", ErrCorruptSnapshot, what, err)
}
