package memory

import (
	"container/heap"
	"sort"
)

const pageBits = 12

type pageKind int

const (
	pageUnmapped pageKind = iota
	pageDirect
	pageBank
	pageHandler
	pageMixed
)

var pageKindNames = map[pageKind]string{
	pageUnmapped: "unmapped",
	pageDirect:   "direct",
	pageBank:     "bank",
	pageHandler:  "handler",
	pageMixed:    "mixed",
}

func (k pageKind) String() string {
	return pageKindNames[k]
}

// A span is a piece of the address space that one declaration wins.
type span struct {
	start uint64
	end   uint64
	decl  *Decl
}

type page struct {
	kind   pageKind
	single *span
	mixed  []*span
}

func (p *page) lookup(addr uint64) *span {
	if p.single != nil {
		return p.single
	}

	i := sort.Search(len(p.mixed), func(i int) bool {
		return p.mixed[i].end >= addr
	})

	if i < len(p.mixed) && p.mixed[i].start <= addr {
		return p.mixed[i]
	}

	return nil
}

// A table is the compiled dispatch structure of one access direction.
type table struct {
	spans []span
	pages []page
	shift uint
}

func (t *table) lookup(addr uint64) *span {
	return t.pages[addr>>t.shift].lookup(addr)
}

type candidate struct {
	start uint64
	end   uint64
	decl  *Decl
}

type candidateHeap []*candidate

func (h candidateHeap) Len() int {
	return len(h)
}

func (h candidateHeap) Less(i, j int) bool {
	return h[i].decl.index > h[j].decl.index
}

func (h candidateHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *candidateHeap) Push(x any) {
	*h = append(*h, x.(*candidate))
}

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]

	return c
}

func buildTable(decls []*Decl, access Access, addrWidth uint) *table {
	mask := widthMask(addrWidth)

	cands := []candidate{}
	for _, d := range decls {
		if d.access&access == 0 {
			continue
		}

		for _, c := range d.copies() {
			cands = append(cands, candidate{start: c[0], end: c[1], decl: d})
		}
	}

	bitsUsed := addrWidth
	if bitsUsed > pageBits {
		bitsUsed = pageBits
	}

	t := &table{
		spans: carve(cands, mask),
		pages: make([]page, 1<<bitsUsed),
		shift: addrWidth - bitsUsed,
	}
	t.paginate()

	return t
}

// carve resolves overlaps so that every address belongs to the latest
// declaration covering it. It sweeps the boundaries of all the candidates
// while keeping the covering candidates in a heap ordered by declaration.
func carve(cands []candidate, mask uint64) []span {
	if len(cands) == 0 {
		return nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].start < cands[j].start
	})

	cuts := make([]uint64, 0, 2*len(cands))
	for _, c := range cands {
		cuts = append(cuts, c.start)
		if c.end < mask {
			cuts = append(cuts, c.end+1)
		}
	}

	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })
	cuts = uniq(cuts)

	h := &candidateHeap{}
	out := []span{}
	next := 0

	for k, at := range cuts {
		for next < len(cands) && cands[next].start <= at {
			heap.Push(h, &cands[next])
			next++
		}

		for h.Len() > 0 && (*h)[0].end < at {
			heap.Pop(h)
		}

		if h.Len() == 0 {
			continue
		}

		top := (*h)[0]
		if top.decl.kind == kindUnmap {
			continue
		}

		segEnd := mask
		if k+1 < len(cuts) {
			segEnd = cuts[k+1] - 1
		}

		if n := len(out); n > 0 && out[n-1].decl == top.decl &&
			out[n-1].end+1 == at {
			out[n-1].end = segEnd
			continue
		}

		out = append(out, span{start: at, end: segEnd, decl: top.decl})
	}

	return out
}

func uniq(s []uint64) []uint64 {
	if len(s) == 0 {
		return s
	}

	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}

	return out
}

func (t *table) paginate() {
	pageSize := uint64(1) << t.shift
	j := 0

	for i := range t.pages {
		pStart := uint64(i) << t.shift
		pEnd := pStart + (pageSize - 1)

		for j < len(t.spans) && t.spans[j].end < pStart {
			j++
		}

		in := []*span{}
		for k := j; k < len(t.spans) && t.spans[k].start <= pEnd; k++ {
			in = append(in, &t.spans[k])
		}

		p := &t.pages[i]

		switch {
		case len(in) == 0:
			p.kind = pageUnmapped
		case len(in) == 1 && in[0].start <= pStart && in[0].end >= pEnd:
			p.single = in[0]
			p.kind = singleKind(in[0].decl)
		default:
			p.mixed = in
			p.kind = pageMixed
		}
	}
}

func singleKind(d *Decl) pageKind {
	switch d.kind {
	case kindBlock:
		return pageDirect
	case kindBank:
		return pageBank
	}

	return pageHandler
}

func widthMask(width uint) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}

	return (uint64(1) << width) - 1
}

// MapEntry describes a piece of a compiled space.
type MapEntry struct {
	Start uint64    `json:"start"`
	End   uint64    `json:"end"`
	Range RangeInfo `json:"range"`
}

func (t *table) entries() []MapEntry {
	out := make([]MapEntry, len(t.spans))
	for i, s := range t.spans {
		out[i] = MapEntry{Start: s.start, End: s.end, Range: s.decl.info()}
	}

	return out
}

func (t *table) pageKinds() map[string]int {
	counts := map[string]int{}
	for _, p := range t.pages {
		counts[p.kind.String()]++
	}

	return counts
}
