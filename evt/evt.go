// Package evt implements EVT, the epoch-versioned extent tree: an interval
// index over contiguous [lo,hi] record ranges of an array value, answering
// "for probe range R at reader epoch E, enumerate all covering entries with
// visibility flags" per the covering-epoch rule.
//
// Storage here is a flat slice in insertion order rather than a multi-level
// on-disk tree node (Probe sorts the candidates it selects); the visibility
// sweep in Probe is the part of this
// package that actually encodes the spec's semantics, and is independent of
// how entries happen to be stored.
package evt

import (
	"sort"
	"sync"
)

// Addr is a tagged union: an entry's payload lives in SCM (PM-direct) or
// NVMe (DMA-staged), or is a hole with no backing storage at all.
type Addr struct {
	Hole  bool
	NVMe  bool // false => SCM
	Value uint64
}

// Entry is one extent version: epoch, inclusive record range, the fixed
// record size for this run, a monotonically increasing version stamp
// (used only to break same-epoch ties deterministically), and its address.
type Entry struct {
	Epoch    uint64
	Lo, Hi   uint64 // inclusive
	RecSize  uint32
	Version  uint64
	Addr     Addr
}

func (e Entry) overlaps(lo, hi uint64) bool { return e.Lo <= hi && lo <= e.Hi }

// Visibility classifies one segment produced by Probe.
type Visibility int

const (
	Visible Visibility = iota
	Covered
	Hole
)

// Segment is one classified sub-range of the probe request, at most as
// wide as the narrowest contributing entry.
type Segment struct {
	Lo, Hi     uint64
	Visibility Visibility
	Entry      Entry // zero value when Visibility == Hole
}

// Flags control which segments Probe reports.
type Flags int

const (
	FlagVisible Flags = 1 << iota
	FlagCovered
	FlagSkipHoles
	FlagReverse
	FlagForPurge
	FlagForRebuild
)

var (
	ErrExist    = errEVT("evt: duplicate (epoch,[lo,hi])")
	ErrInval    = errEVT("evt: invalid argument")
	ErrNonexist = errEVT("evt: not found")
)

type errEVT string

func (e errEVT) Error() string { return string(e) }

// Tree is one akey's array-value index.
type Tree struct {
	mu      sync.RWMutex
	entries []Entry
	nextVer uint64
}

// New creates an empty extent tree.
func New() *Tree { return &Tree{} }

// Insert adds an entry. It fails ErrExist if an entry with the identical
// (epoch, lo, hi) already exists — overlap at different epochs is normal
// (that's what visibility/coverage resolves), exact duplicates are not.
func (t *Tree) Insert(e Entry) error {
	if e.Lo > e.Hi {
		return ErrInval
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ex := range t.entries {
		if ex.Epoch == e.Epoch && ex.Lo == e.Lo && ex.Hi == e.Hi {
			return ErrExist
		}
	}
	t.nextVer++
	e.Version = t.nextVer
	t.entries = append(t.entries, e)
	return nil
}

// Len reports the number of entries currently stored.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

type span struct{ lo, hi uint64 } // inclusive

func intersect(a, b span) (span, bool) {
	lo, hi := a.lo, a.hi
	if b.lo > lo {
		lo = b.lo
	}
	if b.hi < hi {
		hi = b.hi
	}
	if lo > hi {
		return span{}, false
	}
	return span{lo, hi}, true
}

// subtract removes cut from spans, returning the remaining pieces.
func subtract(spans []span, cut span) []span {
	var out []span
	for _, s := range spans {
		if cut.hi < s.lo || cut.lo > s.hi {
			out = append(out, s)
			continue
		}
		if cut.lo > s.lo {
			out = append(out, span{s.lo, cut.lo - 1})
		}
		if cut.hi < s.hi {
			out = append(out, span{cut.hi + 1, s.hi})
		}
	}
	return out
}

// Probe classifies [lo,hi] at reader epoch E per the covering-epoch rule:
// an entry X with eX<=E is visible over the portions of its range not
// overwritten by a later entry Y with eX<eY<=E; overwritten portions are
// covered; unreached positions are holes. Segments are returned left to
// right by Lo ascending, unless FlagReverse is set.
func (t *Tree) Probe(lo, hi uint64, epoch uint64, flags Flags) ([]Segment, error) {
	if lo > hi {
		return nil, ErrInval
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []Entry
	for _, e := range t.entries {
		if e.Epoch <= epoch && e.overlaps(lo, hi) {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Epoch != candidates[j].Epoch {
			return candidates[i].Epoch > candidates[j].Epoch
		}
		return candidates[i].Version > candidates[j].Version
	})

	var recSize uint32
	remaining := []span{{lo, hi}}
	var visibleSegs, coveredSegs []Segment
	for _, e := range candidates {
		er, ok := intersect(span{e.Lo, e.Hi}, span{lo, hi})
		if !ok {
			continue
		}
		if recSize == 0 {
			recSize = e.RecSize
		} else if e.RecSize != recSize && e.RecSize != 0 {
			return nil, ErrInval
		}
		// visible portion: what's still uncovered within er.
		var stillOpen []span
		for _, r := range remaining {
			if piece, ok := intersect(r, er); ok {
				stillOpen = append(stillOpen, piece)
			}
		}
		for _, v := range stillOpen {
			visibleSegs = append(visibleSegs, Segment{Lo: v.lo, Hi: v.hi, Visibility: Visible, Entry: e})
			remaining = subtract(remaining, v)
		}
		// covered portion: what's inside er but was already claimed by a
		// higher-epoch entry processed earlier in this loop.
		alreadyCovered := []span{er}
		for _, v := range stillOpen {
			alreadyCovered = subtract(alreadyCovered, v)
		}
		for _, c := range alreadyCovered {
			coveredSegs = append(coveredSegs, Segment{Lo: c.lo, Hi: c.hi, Visibility: Covered, Entry: e})
		}
	}

	var holeSegs []Segment
	for _, r := range remaining {
		holeSegs = append(holeSegs, Segment{Lo: r.lo, Hi: r.hi, Visibility: Hole})
	}

	var out []Segment
	if flags&FlagVisible != 0 || (flags&(FlagVisible|FlagCovered) == 0) {
		out = append(out, visibleSegs...)
	}
	if flags&FlagCovered != 0 || flags&(FlagForPurge|FlagForRebuild) != 0 {
		out = append(out, coveredSegs...)
	}
	if flags&FlagSkipHoles == 0 {
		out = append(out, holeSegs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if flags&FlagReverse != 0 {
			return out[i].Lo > out[j].Lo
		}
		return out[i].Lo < out[j].Lo
	})
	return out, nil
}
