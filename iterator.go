package vos

import (
	"encoding/binary"

	"github.com/gholt/vos/evt"
	"github.com/gholt/vos/kbtr"
)

// EpochRange is the probe window [Lo, Hi] iterators and single-value
// expressions resolve against.
type EpochRange struct {
	Lo, Hi uint64
}

// DkeyIterator walks an object's dkeys, applying the key-matching rule of
// §4.6.3: a dkey not yet created by Hi, or already punched at-or-before
// Lo, is skipped rather than returned.
type DkeyIterator struct {
	h       *ObjectHandle
	it      *kbtr.Iterator
	epr     EpochRange
	closed  bool
	borrows int // live AkeyIterator children; Close refuses while > 0
}

// NewDkeyIterator holds oid and returns an iterator positioned before the
// first entry; call Probe to position it.
func (cont *Container) NewDkeyIterator(oid ObjectID, epr EpochRange) (*DkeyIterator, error) {
	h, err := cont.Hold(oid, epr.Hi, false)
	if err != nil {
		return nil, err
	}
	return &DkeyIterator{h: h, it: h.obj.dkeys.NewIterator(), epr: epr}, nil
}

// Probe positions the cursor at the first dkey matching epr, honoring an
// optional conditional akey: when condAkey is non-nil, a dkey is accepted
// only if that akey exists and is visible at the exact epoch epr.Lo==
// epr.Hi; ranges are rejected with ErrInval in that case, per §4.6.3.
func (it *DkeyIterator) Probe(condAkey []byte) (bool, error) {
	if condAkey != nil && it.epr.Lo != it.epr.Hi {
		return false, Wrap(ErrInval, "iterate: conditional akey requires epr.lo == epr.hi")
	}
	if !it.it.Probe(kbtr.OpFirst, nil, 0) {
		return false, nil
	}
	return it.seekMatch(condAkey)
}

// Next advances to the next matching dkey.
func (it *DkeyIterator) Next(condAkey []byte) (bool, error) {
	if !it.it.Next(kbtr.IntentDefault) {
		return false, nil
	}
	return it.seekMatch(condAkey)
}

func (it *DkeyIterator) seekMatch(condAkey []byte) (bool, error) {
	for {
		rec, ok := it.it.Fetch()
		if !ok {
			return false, nil
		}
		dk := rec.Value.(*dkeyBody)
		if dk.earliest > it.epr.Hi || (dk.punched && dk.latest <= it.epr.Lo) {
			if !it.it.Next(kbtr.IntentDefault) {
				return false, nil
			}
			continue
		}
		if condAkey != nil {
			ak, ok := dk.findAkey(condAkey)
			if !ok || !visible(ak.earliest, ak.latest, ak.punched, it.epr.Lo) {
				if !it.it.Next(kbtr.IntentDefault) {
					return false, nil
				}
				continue
			}
		}
		return true, nil
	}
}

// Fetch returns the dkey bytes currently under the cursor.
func (it *DkeyIterator) Fetch() ([]byte, error) {
	rec, ok := it.it.Fetch()
	if !ok {
		return nil, ErrNonexist
	}
	return rec.Key, nil
}

// Child returns the akey iterator nested under the dkey currently under
// the cursor, borrowing this iterator's held object rather than taking an
// additional reference (§4.6.3's parent/child borrowing rule).
func (it *DkeyIterator) Child() (*AkeyIterator, error) {
	rec, ok := it.it.Fetch()
	if !ok {
		return nil, ErrNonexist
	}
	dk := rec.Value.(*dkeyBody)
	it.borrows++
	return &AkeyIterator{parent: it, dk: dk, it: dk.akeys.NewIterator(), epr: it.epr}, nil
}

// Close tears down the iterator, releasing the held object. Callers must
// close any child (Akey/Single/Recx) iterators first — closing out of
// order with a live borrow outstanding is programmer error and returns
// ErrInval rather than silently releasing out from under the child.
func (it *DkeyIterator) Close(cont *Container) error {
	if it.closed {
		return nil
	}
	if it.borrows > 0 {
		return Wrap(ErrInval, "iterate: dkey cursor closed with a live akey cursor still borrowed")
	}
	it.closed = true
	cont.Release(it.h)
	return nil
}

// AkeyIterator walks one dkey's akeys, nested under a DkeyIterator.
type AkeyIterator struct {
	parent  *DkeyIterator
	dk      *dkeyBody
	it      *kbtr.Iterator
	epr     EpochRange
	closed  bool
	borrows int // live Single/RecxIterator children; Close refuses while > 0
}

func (it *AkeyIterator) Probe() (bool, error) {
	if !it.it.Probe(kbtr.OpFirst, nil, 0) {
		return false, nil
	}
	return it.seekMatch()
}

func (it *AkeyIterator) Next() (bool, error) {
	if !it.it.Next(kbtr.IntentDefault) {
		return false, nil
	}
	return it.seekMatch()
}

func (it *AkeyIterator) seekMatch() (bool, error) {
	for {
		rec, ok := it.it.Fetch()
		if !ok {
			return false, nil
		}
		ak := rec.Value.(*akeyBody)
		if ak.earliest > it.epr.Hi || (ak.punched && ak.latest <= it.epr.Lo) {
			if !it.it.Next(kbtr.IntentDefault) {
				return false, nil
			}
			continue
		}
		return true, nil
	}
}

// Fetch returns the akey bytes currently under the cursor.
func (it *AkeyIterator) Fetch() ([]byte, error) {
	rec, ok := it.it.Fetch()
	if !ok {
		return nil, ErrNonexist
	}
	return rec.Key, nil
}

// Child returns a SingleIterator or RecxIterator nested under the akey
// currently under the cursor, depending on which kind of value it holds.
func (it *AkeyIterator) Child(expr SingleExpr) (*SingleIterator, *RecxIterator, error) {
	rec, ok := it.it.Fetch()
	if !ok {
		return nil, nil, ErrNonexist
	}
	ak := rec.Value.(*akeyBody)
	it.borrows++
	if ak.single != nil {
		return &SingleIterator{parent: it, ak: ak, it: ak.single.NewIterator(), epr: it.epr, expr: expr}, nil, nil
	}
	return nil, &RecxIterator{parent: it, ak: ak, epr: it.epr}, nil
}

// Close releases this cursor. It does not release the parent's held
// object (it never took a reference of its own); it is an error to close
// the parent before this, and to close this while a Single/RecxIterator
// obtained from Child is still open.
func (it *AkeyIterator) Close() error {
	if it.closed {
		return nil
	}
	if it.borrows > 0 {
		return Wrap(ErrInval, "iterate: akey cursor closed with a live single/recx cursor still borrowed")
	}
	it.closed = true
	if it.parent != nil {
		it.parent.borrows--
	}
	return nil
}

// SingleExpr selects one of the five single-value epoch expressions of
// §4.6.4.
type SingleExpr int

const (
	SingleEQ SingleExpr = iota
	SingleRE
	SingleRR
	SingleGE
	SingleLE
)

// SingleIterator walks a single-value akey's epoch dimension per one of
// the five expressions in §4.6.4.
type SingleIterator struct {
	parent *AkeyIterator
	ak     *akeyBody
	it     *kbtr.Iterator
	epr    EpochRange
	expr   SingleExpr
	closed bool
}

// Probe positions the cursor per the iterator's expression. A result
// outside the expression's epoch window returns ErrNonexist rather than
// false; Next reports exhaustion with false.
func (it *SingleIterator) Probe() (bool, error) {
	var ok bool
	switch it.expr {
	case SingleEQ:
		ok = it.it.Probe(kbtr.OpEQ, epochKey(it.epr.Lo), 0)
	case SingleRE:
		ok = it.it.Probe(kbtr.OpGE, epochKey(it.epr.Lo), 0)
	case SingleRR:
		ok = it.it.Probe(kbtr.OpLE, epochKey(it.epr.Hi), 0)
	case SingleGE:
		ok = it.it.Probe(kbtr.OpGE, epochKey(it.epr.Lo), 0)
	case SingleLE:
		ok = it.it.Probe(kbtr.OpLE, epochKey(it.epr.Lo), 0)
	default:
		return false, Wrap(ErrInval, "iterate: unknown single-value expression")
	}
	if !ok {
		return false, ErrNonexist
	}
	inRange, err := it.withinBounds()
	if err != nil {
		return false, err
	}
	if !inRange {
		return false, ErrNonexist
	}
	return true, nil
}

// Next advances per the expression's direction (RR descends, the rest
// ascend); EQ never has a next match.
func (it *SingleIterator) Next() (bool, error) {
	if it.expr == SingleEQ {
		return false, nil
	}
	var ok bool
	if it.expr == SingleRR {
		ok = it.it.Prev(kbtr.IntentDefault)
	} else {
		ok = it.it.Next(kbtr.IntentDefault)
	}
	if !ok {
		return false, nil
	}
	return it.withinBounds()
}

func (it *SingleIterator) withinBounds() (bool, error) {
	rec, ok := it.it.Fetch()
	if !ok {
		return false, nil
	}
	e, _ := decodeEpochKey(rec.Key)
	switch it.expr {
	case SingleEQ:
		if e != it.epr.Lo {
			return false, nil
		}
	case SingleRE:
		if e < it.epr.Lo || e > it.epr.Hi {
			return false, nil
		}
	case SingleRR:
		if e < it.epr.Lo || e > it.epr.Hi {
			return false, nil
		}
	case SingleGE:
		if e < it.epr.Lo {
			return false, nil
		}
	case SingleLE:
		if e > it.epr.Lo {
			return false, nil
		}
	}
	return true, nil
}

// Fetch returns the epoch and payload currently under the cursor; a
// punched entry yields its epoch with a nil payload and a nil error (a
// tombstone is still a result, not an absence).
func (it *SingleIterator) Fetch() (epoch uint64, payload []byte, err error) {
	rec, ok := it.it.Fetch()
	if !ok {
		return 0, nil, ErrNonexist
	}
	e, _ := decodeEpochKey(rec.Key)
	sv := rec.Value.(*singleValueRec)
	if sv.punched {
		return e, nil, nil
	}
	return e, sv.payload, nil
}

func (it *SingleIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.parent != nil {
		it.parent.borrows--
	}
	return nil
}

// RecxIterator walks an array akey's visible extents within epr, and the
// hole segments between them (Fetch reports each one's Visibility), via one
// eager EVT probe (Probe already requires scanning every candidate once,
// so there is nothing to gain from lazy positioning).
type RecxIterator struct {
	parent *AkeyIterator
	ak     *akeyBody
	epr    EpochRange
	segs   []evt.Segment
	pos    int
	closed bool
}

func (it *RecxIterator) Probe(lo, hi uint64) error {
	segs, err := it.ak.array.Probe(lo, hi, it.epr.Hi, evt.FlagVisible)
	if err != nil {
		return Wrap(ErrInval, "iterate: evt probe")
	}
	it.segs = segs
	it.pos = 0
	return nil
}

func (it *RecxIterator) Next() bool {
	it.pos++
	return it.pos < len(it.segs)
}

func (it *RecxIterator) Fetch() (Recx, evt.Visibility, bool) {
	if it.pos < 0 || it.pos >= len(it.segs) {
		return Recx{}, 0, false
	}
	s := it.segs[it.pos]
	return Recx{Lo: s.Lo, Hi: s.Hi}, s.Visibility, true
}

func (it *RecxIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	if it.parent != nil {
		it.parent.borrows--
	}
	return nil
}

func decodeEpochKey(b []byte) (uint64, bool) {
	if len(b) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(b), true
}
