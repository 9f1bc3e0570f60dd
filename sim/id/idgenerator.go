// Package id provides the ID generators used across a simulation.
package id

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs.
type IDGenerator interface {
	Generate() string
}

// Sequence generates strictly increasing numbers. Timers use it to keep the
// order in which they are scheduled.
type Sequence struct {
	next uint64
}

// Next returns the next number of the sequence. The first number is 1.
func (s *Sequence) Next() uint64 {
	return atomic.AddUint64(&s.next, 1)
}

// Peek returns the last number handed out.
func (s *Sequence) Peek() uint64 {
	return atomic.LoadUint64(&s.next)
}

// NewIDGenerator returns a deterministic, sequential ID generator.
func NewIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewUniqueIDGenerator returns a generator of globally unique IDs. The IDs it
// generates are not deterministic, so it must only name things that live
// outside of the simulated machine (database files, stored snapshots).
func NewUniqueIDGenerator() IDGenerator {
	return uniqueIDGenerator{}
}

type sequentialIDGenerator struct {
	seq Sequence
}

func (g *sequentialIDGenerator) Generate() string {
	return strconv.FormatUint(g.seq.Next(), 10)
}

type uniqueIDGenerator struct{}

func (uniqueIDGenerator) Generate() string {
	return xid.New().String()
}
