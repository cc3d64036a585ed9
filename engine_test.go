package vos

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestContainer(t *testing.T) (*Container, func()) {
	t.Helper()
	dir := t.TempDir()
	pool, err := CreatePool(dir, uuid.New(), OptScmSizeBytes(8<<20), OptInlineThreshold(64))
	require.NoError(t, err)
	cont, err := pool.CreateContainer(uuid.New())
	require.NoError(t, err)
	return cont, func() {
		require.NoError(t, cont.Close())
		require.NoError(t, pool.Close())
	}
}

func TestUpdateFetchRoundTripSingleValue(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 1}
	payload := []byte("hello world")

	err := cont.Update(oid, 1, IODSpec{
		Dkey: []byte("d0"),
		Units: []IOUnit{
			{Akey: []byte("a0"), Type: IODSingle, RecSize: 1, Payload: payload},
		},
	})
	require.NoError(t, err)

	spec := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{{Akey: []byte("a0"), Type: IODSingle, RecSize: 1}}}
	require.NoError(t, cont.Fetch(oid, 1, spec))
	require.Equal(t, payload, spec.Units[0].Payload)
}

// TestHoleRead is scenario 1 of §8: a gap between two written extents reads
// back as zero-filled bytes.
func TestHoleRead(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 2}

	write := func(lo, hi uint64, b byte) {
		payload := make([]byte, hi-lo+1)
		for i := range payload {
			payload[i] = b
		}
		err := cont.Update(oid, 1, IODSpec{
			Dkey: []byte("d0"),
			Units: []IOUnit{
				{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: lo, Hi: hi}, Payload: payload},
			},
		})
		require.NoError(t, err)
	}
	write(0, 1023, 'A')
	write(2048, 3071, 'C')

	spec := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 3071}},
	}}
	require.NoError(t, cont.Fetch(oid, 1, spec))
	got := spec.Units[0].Payload
	require.Len(t, got, 3072)
	for i := 0; i < 1024; i++ {
		require.Equal(t, byte('A'), got[i])
	}
	for i := 1024; i < 2048; i++ {
		require.Equal(t, byte(0), got[i])
	}
	for i := 2048; i < 3072; i++ {
		require.Equal(t, byte('C'), got[i])
	}
}

// TestEpochShadowing is scenario 2 of §8.
func TestEpochShadowing(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 3}

	a := make([]byte, 1024)
	for i := range a {
		a[i] = 'A'
	}
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 1023}, Payload: a},
	}}))

	b := make([]byte, 512)
	for i := range b {
		b[i] = 'B'
	}
	require.NoError(t, cont.Update(oid, 2, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 512, Hi: 1023}, Payload: b},
	}}))

	spec2 := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 1023}},
	}}
	require.NoError(t, cont.Fetch(oid, 2, spec2))
	got2 := spec2.Units[0].Payload
	require.Len(t, got2, 1024)
	for i := 0; i < 512; i++ {
		require.Equal(t, byte('A'), got2[i])
	}
	for i := 512; i < 1024; i++ {
		require.Equal(t, byte('B'), got2[i])
	}

	spec1 := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 1023}},
	}}
	require.NoError(t, cont.Fetch(oid, 1, spec1))
	got1 := spec1.Units[0].Payload
	for i := 0; i < 1024; i++ {
		require.Equal(t, byte('A'), got1[i])
	}
}

// TestEpochShadowingNonUniformPayload pins the same scenario as
// TestEpochShadowing but with a payload where every byte is distinct
// (payload[i]=byte(i)), so that reading a surviving tail segment from the
// wrong intra-entry offset is detectable: a later write shadows the
// *front* of the first entry's range, leaving a visible tail that starts
// partway through the original entry's backing bytes rather than at its
// base address.
func TestEpochShadowingNonUniformPayload(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 14}

	a := make([]byte, 1024)
	for i := range a {
		a[i] = byte(i)
	}
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 1023}, Payload: a},
	}}))

	b := make([]byte, 512)
	for i := range b {
		b[i] = 0xFF
	}
	require.NoError(t, cont.Update(oid, 2, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 511}, Payload: b},
	}}))

	spec := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 1023}},
	}}
	require.NoError(t, cont.Fetch(oid, 2, spec))
	got := spec.Units[0].Payload
	require.Len(t, got, 1024)
	for i := 0; i < 512; i++ {
		require.Equal(t, byte(0xFF), got[i], "offset %d", i)
	}
	// The surviving tail [512,1023] must read as a[512:1024], the bytes
	// belonging to that range in the original entry — not a[0:512], which
	// a base-address-only read (ignoring the intra-entry offset) would
	// wrongly return instead.
	for i := 512; i < 1024; i++ {
		require.Equal(t, a[i], got[i], "offset %d", i)
	}
}

// TestPunchHidesDescendants is scenario 3 of §8.
func TestPunchHidesDescendants(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 4}

	for i := 0; i < 100; i++ {
		dkey := dkeyName(i)
		require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: dkey, Units: []IOUnit{
			{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 0}, Payload: []byte{1}},
		}}))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, cont.Punch(oid, 2, dkeyName(i), nil))
	}

	count := func(epoch uint64) int {
		it, err := cont.NewDkeyIterator(oid, EpochRange{Lo: epoch, Hi: epoch})
		require.NoError(t, err)
		defer it.Close(cont)
		n := 0
		ok, err := it.Probe(nil)
		require.NoError(t, err)
		for ok {
			n++
			ok, err = it.Next(nil)
			require.NoError(t, err)
		}
		return n
	}
	require.Equal(t, 90, count(2))
	require.Equal(t, 100, count(1))
}

func dkeyName(i int) []byte {
	b := []byte("dkey-000")
	b[7] = byte('0' + i%10)
	b[6] = byte('0' + (i/10)%10)
	return b
}

// TestSingleValueEpochExpressions is scenario 5 of §8.
func TestSingleValueEpochExpressions(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 5}
	for _, e := range []uint64{2, 4, 6, 8} {
		require.NoError(t, cont.Update(oid, e, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
			{Akey: []byte("a0"), Type: IODSingle, RecSize: 1, Payload: []byte{byte(e)}},
		}}))
	}

	h, err := cont.Hold(oid, EpochMax, false)
	require.NoError(t, err)
	defer cont.Release(h)
	dk, ok := h.obj.findDkey([]byte("d0"))
	require.True(t, ok)
	ak, ok := dk.findAkey([]byte("a0"))
	require.True(t, ok)

	le := &SingleIterator{ak: ak, it: ak.single.NewIterator(), epr: EpochRange{Lo: 5, Hi: 5}, expr: SingleLE}
	ok, err = le.Probe()
	require.NoError(t, err)
	require.True(t, ok)
	epoch, _, err := le.Fetch()
	require.NoError(t, err)
	require.Equal(t, uint64(4), epoch)

	ge := &SingleIterator{ak: ak, it: ak.single.NewIterator(), epr: EpochRange{Lo: 5, Hi: 5}, expr: SingleGE}
	ok, err = ge.Probe()
	require.NoError(t, err)
	require.True(t, ok)
	epoch, _, err = ge.Fetch()
	require.NoError(t, err)
	require.Equal(t, uint64(6), epoch)

	rr := &SingleIterator{ak: ak, it: ak.single.NewIterator(), epr: EpochRange{Lo: 3, Hi: 7}, expr: SingleRR}
	ok, err = rr.Probe()
	require.NoError(t, err)
	require.True(t, ok)
	var seen []uint64
	for ok {
		e, _, ferr := rr.Fetch()
		require.NoError(t, ferr)
		seen = append(seen, e)
		ok, err = rr.Next()
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{6, 4}, seen)
}

func TestQueryMinMaxAfterPunch(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 6}

	const n = 5
	for i := 1; i <= n; i++ {
		require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
			{Akey: akeyName(i), Type: IODSingle, RecSize: 1, Payload: []byte{1}},
		}}))
	}
	require.NoError(t, cont.Punch(oid, 2, []byte("d0"), akeyName(1)))
	require.NoError(t, cont.Punch(oid, 2, []byte("d0"), akeyName(n)))

	res, err := cont.QueryKey(oid, 2, QueryGetAkey|QueryGetMin, []byte("d0"))
	require.NoError(t, err)
	require.Equal(t, akeyName(2), res.Akey)

	res, err = cont.QueryKey(oid, 2, QueryGetAkey|QueryGetMax, []byte("d0"))
	require.NoError(t, err)
	require.Equal(t, akeyName(n-1), res.Akey)
}

func akeyName(i int) []byte {
	return []byte{'a', byte('0' + i)}
}

// TestQueryMinMaxFallsBackToPreviousDkey extends TestQueryMinMaxAfterPunch:
// once every akey under a dkey is punched, GET_AKEY|GET_MAX against that
// dkey is NONEXIST, but GET_DKEY|GET_AKEY|GET_MAX (no dkey pinned) walks
// back to the previous dkey's largest live akey instead of stopping there.
func TestQueryMinMaxFallsBackToPreviousDkey(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 9}

	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: akeyName(1), Type: IODSingle, RecSize: 1, Payload: []byte{1}},
		{Akey: akeyName(2), Type: IODSingle, RecSize: 1, Payload: []byte{1}},
	}}))
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d1"), Units: []IOUnit{
		{Akey: akeyName(1), Type: IODSingle, RecSize: 1, Payload: []byte{1}},
	}}))

	require.NoError(t, cont.Punch(oid, 2, []byte("d1"), akeyName(1)))

	_, err := cont.QueryKey(oid, 2, QueryGetAkey|QueryGetMax, []byte("d1"))
	require.ErrorIs(t, err, ErrNonexist)

	res, err := cont.QueryKey(oid, 2, QueryGetDkey|QueryGetAkey|QueryGetMax, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("d0"), res.Dkey)
	require.Equal(t, akeyName(2), res.Akey)
}

// TestNestedIteratorBorrowEnforced is scenario 6 of §8: releasing the dkey
// cursor before its nested akey cursor is programmer error and must be
// rejected rather than silently releasing the object out from under the
// still-open child.
func TestNestedIteratorBorrowEnforced(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 10}
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODSingle, RecSize: 1, Payload: []byte{1}},
	}}))

	dit, err := cont.NewDkeyIterator(oid, EpochRange{Lo: 1, Hi: 1})
	require.NoError(t, err)
	ok, err := dit.Probe(nil)
	require.NoError(t, err)
	require.True(t, ok)

	ait, err := dit.Child()
	require.NoError(t, err)

	err = dit.Close(cont)
	require.ErrorIs(t, err, ErrInval)

	require.NoError(t, ait.Close())
	require.NoError(t, dit.Close(cont))
}

// TestZeroLengthKeysRejected covers the boundary case of §4: an empty dkey
// or akey is always ErrInval, never treated as a valid zero-byte key.
func TestZeroLengthKeysRejected(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 11}

	err := cont.Update(oid, 1, IODSpec{Dkey: nil, Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODSingle, RecSize: 1, Payload: []byte{1}},
	}})
	require.ErrorIs(t, err, ErrInval)

	err = cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: nil, Type: IODSingle, RecSize: 1, Payload: []byte{1}},
	}})
	require.ErrorIs(t, err, ErrInval)
}

// TestExtentBoundaryValues covers extents anchored at the extreme ends of
// the recx address space: lo=0 and hi=UINT64_MAX-1 (UINT64_MAX itself is
// reserved as the "unbounded" sentinel, so the last addressable offset is
// one below it).
func TestExtentBoundaryValues(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 12}
	maxHi := ^uint64(0) - 1

	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 0}, Payload: []byte{'X'}},
	}}))
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: maxHi, Hi: maxHi}, Payload: []byte{'Y'}},
	}}))

	spec := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 0}},
	}}
	require.NoError(t, cont.Fetch(oid, 1, spec))
	require.Equal(t, []byte{'X'}, spec.Units[0].Payload)

	spec2 := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: maxHi, Hi: maxHi}},
	}}
	require.NoError(t, cont.Fetch(oid, 1, spec2))
	require.Equal(t, []byte{'Y'}, spec2.Units[0].Payload)
}

// TestOverlappingExtentUpdateSameEpochReplaces covers the write-write case
// within a single epoch: a second, narrower update nested inside a first
// write's range at the same epoch must deterministically win over the
// portion it overlaps, not merge or race — insertion order, not range
// size, decides the tie.
func TestOverlappingExtentUpdateSameEpochReplaces(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 13}

	a := make([]byte, 1024)
	for i := range a {
		a[i] = 'A'
	}
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 1023}, Payload: a},
	}}))

	b := make([]byte, 512)
	for i := range b {
		b[i] = 'B'
	}
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 256, Hi: 767}, Payload: b},
	}}))

	spec := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 1023}},
	}}
	require.NoError(t, cont.Fetch(oid, 1, spec))
	got := spec.Units[0].Payload
	for i := 0; i < 256; i++ {
		require.Equal(t, byte('A'), got[i], "offset %d", i)
	}
	for i := 256; i < 768; i++ {
		require.Equal(t, byte('B'), got[i], "offset %d", i)
	}
	for i := 768; i < 1024; i++ {
		require.Equal(t, byte('A'), got[i], "offset %d", i)
	}
}

func TestQueryRejectsBothOrNeitherMinMax(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 7}
	_, err := cont.QueryKey(oid, 1, QueryGetAkey|QueryGetMin|QueryGetMax, []byte("d0"))
	require.ErrorIs(t, err, ErrInval)
	_, err = cont.QueryKey(oid, 1, QueryGetAkey, []byte("d0"))
	require.ErrorIs(t, err, ErrInval)
}

func TestFetchNonexistentObjectReturnsNonexist(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 99}
	spec := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{{Akey: []byte("a0"), Type: IODSingle, RecSize: 1}}}
	err := cont.Fetch(oid, 1, spec)
	require.ErrorIs(t, err, ErrNonexist)
}

func TestArrayPayloadAboveInlineThresholdUsesNVMe(t *testing.T) {
	cont, done := newTestContainer(t)
	defer done()
	oid := ObjectID{Lo: 8}
	payload := make([]byte, 256) // above the 64-byte inline threshold set in newTestContainer
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, cont.Update(oid, 1, IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 255}, Payload: payload},
	}}))

	spec := IODSpec{Dkey: []byte("d0"), Units: []IOUnit{
		{Akey: []byte("a0"), Type: IODArray, RecSize: 1, Recx: Recx{Lo: 0, Hi: 255}},
	}}
	require.NoError(t, cont.Fetch(oid, 1, spec))
	require.Equal(t, payload, spec.Units[0].Payload)
}
