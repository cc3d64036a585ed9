package vos

import (
	"github.com/gholt/vos/evt"
	"github.com/gholt/vos/kbtr"
)

// Fetch runs the fetch pipeline of §4.6.2: hold the object read-only,
// resolve each dkey/akey at epoch with the uniform visibility rule, and
// fill in each unit's Payload — zero-filled for holes, never an NVMe read
// for them. A missing object, dkey, or akey at epoch is not an error: it
// simply yields a nil Payload, per §7's "tombstones yield empty results
// with OK" rule; only a wholly nonexistent object returns NONEXIST.
func (cont *Container) Fetch(oid ObjectID, epoch uint64, spec IODSpec) error {
	if len(spec.Dkey) == 0 {
		return Wrap(ErrInval, "fetch: empty dkey")
	}

	h, err := cont.Hold(oid, epoch, false)
	if err != nil {
		return err
	}
	defer cont.Release(h)
	cont.pool.metrics.Fetches.Inc()

	if !visible(h.obj.earliest, h.obj.latest, h.obj.attrs&objAttrPunched != 0, epoch) {
		for i := range spec.Units {
			spec.Units[i].Payload = nil
		}
		return nil
	}

	dk, ok := h.obj.findDkey(spec.Dkey)
	if !ok || !visible(dk.earliest, dk.latest, dk.punched, epoch) {
		for i := range spec.Units {
			spec.Units[i].Payload = nil
		}
		return nil
	}

	for i := range spec.Units {
		unit := &spec.Units[i]
		if len(unit.Akey) == 0 {
			return Wrap(ErrInval, "fetch: empty akey")
		}
		ak, ok := dk.findAkey(unit.Akey)
		if !ok || !visible(ak.earliest, ak.latest, ak.punched, epoch) {
			unit.Payload = nil
			continue
		}

		switch unit.Type {
		case IODSingle:
			payload, err := fetchSingle(ak, epoch)
			if err != nil {
				return err
			}
			unit.Payload = payload
		case IODArray:
			if !unit.Recx.valid() {
				return Wrap(ErrInval, "fetch: invalid recx")
			}
			payload, err := cont.pool.fetchArray(ak.array, unit.Recx, epoch, unit.RecSize)
			if err != nil {
				return err
			}
			unit.Payload = payload
		default:
			return Wrap(ErrInval, "fetch: unknown iod type")
		}
	}
	return nil
}

// fetchSingle resolves the akey's single-value cell at the newest epoch
// <= the reader's epoch (the LE expression, §4.6.4's default for a plain
// fetch), returning nil if that entry is a punch tombstone.
func fetchSingle(ak *akeyBody, epoch uint64) ([]byte, error) {
	it := ak.single.NewIterator()
	if !it.Probe(kbtr.OpLE, epochKey(epoch), 0) {
		return nil, nil
	}
	rec, ok := it.Fetch()
	if !ok {
		return nil, nil
	}
	sv := rec.Value.(*singleValueRec)
	if sv.punched {
		return nil, nil
	}
	if globalFaults.shouldFail(SiteChecksum) {
		return nil, Wrap(ErrIO, "fetch: injected checksum fault")
	}
	return append([]byte(nil), sv.payload...), nil
}

// fetchArray assembles the [lo,hi] range at epoch via an EVT probe under
// VISIBLE, concatenating visible bytes and zero-filling holes.
func (p *Pool) fetchArray(tree *evt.Tree, recx Recx, epoch uint64, recSize uint32) ([]byte, error) {
	segs, err := tree.Probe(recx.Lo, recx.Hi, epoch, evt.FlagVisible)
	if err != nil {
		return nil, Wrap(ErrInval, "fetch: evt probe")
	}
	if recSize == 0 {
		recSize = 1
	}
	out := make([]byte, 0, (recx.Hi-recx.Lo+1)*uint64(recSize))
	for _, seg := range segs {
		n := int((seg.Hi - seg.Lo + 1) * uint64(recSize))
		switch seg.Visibility {
		case evt.Hole:
			out = append(out, make([]byte, n)...)
		case evt.Visible:
			if globalFaults.shouldFail(SiteBIOSubmit) {
				return nil, Wrap(ErrIO, "fetch: injected BIO fault")
			}
			byteOff := int((seg.Lo - seg.Entry.Lo) * uint64(recSize))
			var buf []byte
			var err error
			if seg.Entry.Addr.NVMe {
				blob, berr := p.ensureBlob()
				if berr != nil {
					return nil, berr
				}
				// The blob validates each appended chunk's checksum, so the
				// entry is read whole from its start and the visible part is
				// sliced out of it.
				entryLen := int((seg.Entry.Hi - seg.Entry.Lo + 1) * uint64(recSize))
				var whole []byte
				whole, err = readArrayPayloadNVMe(seg.Entry.Addr, 0, entryLen, blob)
				if err == nil {
					buf = whole[byteOff : byteOff+n]
				}
			} else {
				buf, err = readArrayPayload(seg.Entry.Addr, byteOff, n, p.arena)
			}
			if err != nil {
				return nil, err
			}
			p.metrics.BIOBytesRead.Add(float64(n))
			out = append(out, buf...)
		}
	}
	return out, nil
}
