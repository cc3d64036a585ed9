package evt

// Iterator walks the Segment list produced by one Probe call. EVT iterators
// are computed eagerly (Probe resolves the whole visibility sweep up
// front) rather than lazily, since the sweep already requires looking at
// every candidate entry once; Next/Fetch just walk the resulting slice.
type Iterator struct {
	segs []Segment
	pos  int
}

// NewIterator runs Probe and returns an Iterator over its segments.
func (t *Tree) NewIterator(lo, hi, epoch uint64, flags Flags) (*Iterator, error) {
	segs, err := t.Probe(lo, hi, epoch, flags)
	if err != nil {
		return nil, err
	}
	return &Iterator{segs: segs, pos: -1}, nil
}

// Next advances the cursor; returns false once exhausted.
func (it *Iterator) Next() bool {
	it.pos++
	return it.pos < len(it.segs)
}

// Fetch returns the segment under the cursor plus the record size that
// applies to the run it belongs to (0 for Hole segments).
func (it *Iterator) Fetch() (Segment, uint32, bool) {
	if it.pos < 0 || it.pos >= len(it.segs) {
		return Segment{}, 0, false
	}
	seg := it.segs[it.pos]
	return seg, seg.Entry.RecSize, true
}

// Finish releases the iterator. Segments were computed eagerly so there is
// nothing to free, but callers follow the same prep/finish discipline BIO
// and the operation engine use elsewhere.
func (it *Iterator) Finish() {}
