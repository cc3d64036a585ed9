package vos

import (
	"github.com/gholt/vos/evt"
	"github.com/gholt/vos/kbtr"
)

// objAttrPunched and objAttrRemoved are reserved bits the public API can
// never set or clear directly (see objectIndex.setAttr/clearAttr).
const (
	objAttrPunched uint32 = 1 << 30
	objAttrRemoved uint32 = 1 << 31
	objAttrUserMask       = ^(objAttrPunched | objAttrRemoved)
)

// objectRecord is the in-PM object record: identity, epoch bounds,
// attribute bits, and the root of its dkey tree.
type objectRecord struct {
	oid      ObjectID
	earliest uint64
	latest   uint64
	attrs    uint32
	dkeys    *kbtr.Tree // keyed by dkey bytes + epoch, value *dkeyBody
}

func dkeyComparator(oid ObjectID) kbtr.Comparator {
	switch {
	case oid.dkeyUint64():
		return kbtr.NumericU64{}
	case oid.dkeyLexical():
		return kbtr.U64Lex{}
	default:
		return kbtr.Opaque{}
	}
}

func akeyComparator(oid ObjectID) kbtr.Comparator {
	switch {
	case oid.akeyUint64():
		return kbtr.NumericU64{}
	case oid.akeyLexical():
		return kbtr.U64Lex{}
	default:
		return kbtr.Opaque{}
	}
}

// dkeyBody is the value half of a dkey-tree entry.
type dkeyBody struct {
	earliest uint64
	latest   uint64
	punched  bool
	akeys    *kbtr.Tree // keyed by akey bytes + epoch, value *akeyBody
}

// akeyBody is the value half of an akey-tree entry: it is either array
// (EVT-backed) XOR single-value (KBTR-backed), never both, per the object
// index's key-record invariant.
type akeyBody struct {
	earliest uint64
	latest   uint64
	punched  bool
	array    *evt.Tree
	single   *kbtr.Tree // keyed by epoch only (U64Lex over an 8-byte big-endian epoch)
}

// singleValueRec is the value stored in an akeyBody.single tree, keyed by
// epoch (see findOrAllocAkey). A punched entry is a tombstone: it still
// occupies its epoch slot so later LE/GE probes see the punch, but carries
// no payload.
type singleValueRec struct {
	punched bool
	payload []byte
	recSize uint32
}

// objectIndex is the per-container map from object_id to object record.
type objectIndex struct {
	tree *kbtr.Tree // keyed by ObjectID.Bytes(), no epoch dimension (objects aren't versioned by the OI itself)
}

func newObjectIndex() *objectIndex {
	return &objectIndex{tree: kbtr.New(kbtr.Opaque{})}
}

// findOrAlloc returns the object record for oid, creating it at epoch if
// absent.
func (oi *objectIndex) findOrAlloc(oid ObjectID, epoch uint64) (*objectRecord, error) {
	if err := oid.validateFeatureBits(); err != nil {
		return nil, err
	}
	key := oid.Bytes()
	if rec, ok := oi.tree.Lookup(key, EpochMax, kbtr.IntentDefault); ok {
		return rec.Value.(*objectRecord), nil
	}
	obj := &objectRecord{
		oid:      oid,
		earliest: epoch,
		latest:   epoch,
		dkeys:    kbtr.New(dkeyComparator(oid)),
	}
	oi.tree.InsertOrUpdate(key, 0, obj)
	return obj, nil
}

// find returns the object record for oid, or ErrNonexist.
func (oi *objectIndex) find(oid ObjectID) (*objectRecord, error) {
	key := oid.Bytes()
	rec, ok := oi.tree.Lookup(key, EpochMax, kbtr.IntentDefault)
	if !ok {
		return nil, ErrNonexist
	}
	return rec.Value.(*objectRecord), nil
}

// punch marks the object tombstoned at epoch; later reads at E >= epoch
// observe an empty object.
func (oi *objectIndex) punch(oid ObjectID, epoch uint64) error {
	obj, err := oi.find(oid)
	if err != nil {
		return err
	}
	obj.attrs |= objAttrPunched
	obj.latest = epoch
	return nil
}

// getAttr/setAttr/clearAttr implement the bitmask API; PUNCHED/REMOVED are
// reserved and rejected with ErrInval.
func (oi *objectIndex) getAttr(oid ObjectID) (uint32, error) {
	obj, err := oi.find(oid)
	if err == ErrNonexist {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return obj.attrs & objAttrUserMask, nil
}

func (oi *objectIndex) setAttr(oid ObjectID, bits uint32) error {
	if bits&^objAttrUserMask != 0 {
		return ErrInval
	}
	obj, err := oi.find(oid)
	if err != nil {
		return err
	}
	obj.attrs |= bits
	return nil
}

func (oi *objectIndex) clearAttr(oid ObjectID, bits uint32) error {
	if bits&^objAttrUserMask != 0 {
		return ErrInval
	}
	obj, err := oi.find(oid)
	if err != nil {
		return err
	}
	obj.attrs &^= bits
	return nil
}

// findOrAllocDkey returns the dkeyBody for dkey under obj, creating it
// (with earliest=epoch) if absent. The tree is keyed by dkey bytes alone
// (Epoch held at 0); the body's own earliest/latest/punched fields carry
// the epoch-versioning the way objectRecord does for objects.
func (obj *objectRecord) findOrAllocDkey(dkey []byte, epoch uint64) (*dkeyBody, error) {
	if len(dkey) == 0 {
		return nil, Wrap(ErrInval, "empty dkey")
	}
	if rec, ok := obj.dkeys.Lookup(dkey, 0, kbtr.IntentDefault); ok {
		return rec.Value.(*dkeyBody), nil
	}
	if globalFaults.shouldFail(SiteKBTRAllocate) {
		return nil, Wrap(ErrNomem, "dkey allocate fault injected")
	}
	dk := &dkeyBody{
		earliest: epoch,
		latest:   epoch,
		akeys:    kbtr.New(akeyComparator(obj.oid)),
	}
	obj.dkeys.InsertOrUpdate(dkey, 0, dk)
	return dk, nil
}

// findDkey looks up dkey without creating it.
func (obj *objectRecord) findDkey(dkey []byte) (*dkeyBody, bool) {
	rec, ok := obj.dkeys.Lookup(dkey, 0, kbtr.IntentDefault)
	if !ok {
		return nil, false
	}
	return rec.Value.(*dkeyBody), true
}

// findOrAllocAkey returns the akeyBody for akey under dk, creating it with
// the given iodType if absent. An existing akey created under the other
// iodType (array vs single) is a schema conflict and returns ErrInval.
func (dk *dkeyBody) findOrAllocAkey(oid ObjectID, akey []byte, epoch uint64, iodType IODType) (*akeyBody, error) {
	if len(akey) == 0 {
		return nil, Wrap(ErrInval, "empty akey")
	}
	if rec, ok := dk.akeys.Lookup(akey, 0, kbtr.IntentDefault); ok {
		ak := rec.Value.(*akeyBody)
		if iodType == IODArray && ak.array == nil {
			return nil, Wrap(ErrInval, "akey already holds a single value")
		}
		if iodType == IODSingle && ak.single == nil {
			return nil, Wrap(ErrInval, "akey already holds an array value")
		}
		return ak, nil
	}
	if globalFaults.shouldFail(SiteKBTRAllocate) {
		return nil, Wrap(ErrNomem, "akey allocate fault injected")
	}
	ak := &akeyBody{earliest: epoch, latest: epoch}
	switch iodType {
	case IODArray:
		ak.array = evt.New()
	case IODSingle:
		ak.single = kbtr.New(kbtr.U64Lex{})
	}
	dk.akeys.InsertOrUpdate(akey, 0, ak)
	return ak, nil
}

// findAkey looks up akey without creating it.
func (dk *dkeyBody) findAkey(akey []byte) (*akeyBody, bool) {
	rec, ok := dk.akeys.Lookup(akey, 0, kbtr.IntentDefault)
	if !ok {
		return nil, false
	}
	return rec.Value.(*akeyBody), true
}

// visible implements the uniform epoch/visibility rule of the spec's
// epoch/visibility logic section, shared by every tree lookup in the
// engine: earliest>E means not yet created; latest<=E with punched means
// tombstoned; otherwise visible.
func visible(earliest, latest uint64, punched bool, epoch uint64) bool {
	if earliest > epoch {
		return false
	}
	if punched && latest <= epoch {
		return false
	}
	return true
}
