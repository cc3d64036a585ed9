package vos

// Punch implements §4.6.1's punch variants. dkey==nil punches the whole
// object (object-level punch, via the object index, skipping the per-key
// path entirely); dkey!=nil, akey==nil punches that dkey (hiding every
// akey beneath it for readers at E >= epoch); both set punches exactly
// that akey. Punching subsumes descendants without mutating them: a
// punched dkey's akeys are never touched, only the dkey's own punched bit
// and latest epoch change.
func (cont *Container) Punch(oid ObjectID, epoch uint64, dkey, akey []byte) error {
	if cont.writesDisabled {
		return ErrNoPerm
	}
	if len(dkey) == 0 && len(akey) != 0 {
		return Wrap(ErrInval, "punch: akey given without dkey")
	}
	cont.pool.metrics.Punches.Inc()

	if len(dkey) == 0 {
		if err := cont.oi.punch(oid, epoch); err != nil {
			return err
		}
		cont.handles.evictObject(oid)
		return nil
	}

	h, err := cont.Hold(oid, epoch, true)
	if err != nil {
		return err
	}
	defer cont.Release(h)

	dk, err := h.obj.findOrAllocDkey(dkey, epoch)
	if err != nil {
		return err
	}
	h.obj.latest = epoch

	if len(akey) == 0 {
		dk.punched = true
		dk.latest = epoch
		return nil
	}

	ak, ok := dk.findAkey(akey)
	if !ok {
		return ErrNonexist
	}
	ak.punched = true
	ak.latest = epoch
	dk.latest = epoch
	return nil
}
