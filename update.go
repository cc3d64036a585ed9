package vos

import (
	"github.com/gholt/vos/evt"
	"github.com/gholt/vos/pmtx"
)

// Update runs the update pipeline of §4.6.1: hold the object, prepare the
// dkey and akey subtrees, and write each I/O unit's payload, all under one
// PM transaction. A unit with a zero-length Payload is a punch of that
// akey (sets BF_PUNCHED-equivalent and advances latest) rather than an
// insert, mirroring how an object-level punch bypasses the per-key path
// entirely in Punch.
func (cont *Container) Update(oid ObjectID, epoch uint64, spec IODSpec) error {
	if cont.writesDisabled {
		return ErrNoPerm
	}
	if len(spec.Dkey) == 0 {
		return Wrap(ErrInval, "update: empty dkey")
	}

	h, err := cont.Hold(oid, epoch, true)
	if err != nil {
		return err
	}
	defer cont.Release(h)

	pool := cont.pool
	pool.metrics.Updates.Inc()
	return pool.arena.Do(func(tx *pmtx.Tx) error {
		dk, err := h.obj.findOrAllocDkey(spec.Dkey, epoch)
		if err != nil {
			return err
		}

		for _, unit := range spec.Units {
			if len(unit.Akey) == 0 {
				return Wrap(ErrInval, "update: empty akey")
			}
			ak, err := dk.findOrAllocAkey(oid, unit.Akey, epoch, unit.Type)
			if err != nil {
				return err
			}

			if len(unit.Payload) == 0 {
				ak.punched = true
				ak.latest = epoch
				dk.latest = epoch
				h.obj.latest = epoch
				continue
			}

			if unit.RecSize == 0 {
				return Wrap(ErrInval, "update: rsize=0 on non-punch update")
			}

			switch unit.Type {
			case IODSingle:
				if globalFaults.shouldFail(SiteBIOSubmit) {
					return Wrap(ErrIO, "update: injected BIO fault")
				}
				_, buf, err := pool.allocSCM(tx, len(unit.Payload))
				if err != nil {
					return err
				}
				copy(buf, unit.Payload)
				rec := &singleValueRec{payload: buf, recSize: unit.RecSize}
				ak.single.InsertOrUpdate(epochKey(epoch), 0, rec)
				pool.metrics.BIOBytesWrite.Add(float64(len(unit.Payload)))
			case IODArray:
				if !unit.Recx.valid() {
					return Wrap(ErrInval, "update: invalid recx")
				}
				if globalFaults.shouldFail(SiteBIOSubmit) {
					return Wrap(ErrIO, "update: injected BIO fault")
				}
				addr, err := pool.writeArrayPayload(tx, unit.Payload)
				if err != nil {
					return err
				}
				if err := ak.array.Insert(evt.Entry{
					Epoch:   epoch,
					Lo:      unit.Recx.Lo,
					Hi:      unit.Recx.Hi,
					RecSize: unit.RecSize,
					Addr:    addr,
				}); err != nil {
					return err
				}
				pool.metrics.BIOBytesWrite.Add(float64(len(unit.Payload)))
			default:
				return Wrap(ErrInval, "update: unknown iod type")
			}

			ak.latest = epoch
			dk.latest = epoch
			h.obj.latest = epoch
		}
		return nil
	})
}
