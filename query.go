package vos

import (
	"github.com/gholt/vos/evt"
	"github.com/gholt/vos/kbtr"
)

// QueryFlags selects what query_key resolves, per §4.6.5.
type QueryFlags int

const (
	QueryGetDkey QueryFlags = 1 << iota
	QueryGetAkey
	QueryGetMax
	QueryGetMin
	QueryGetRecx
)

// QueryResult is query_key's output: whichever of Dkey/Akey/Recx the
// caller asked for.
type QueryResult struct {
	Dkey []byte
	Akey []byte
	Recx Recx
}

// QueryKey implements §4.6.5: joint lexicographic min/max selection over
// dkeys and/or akeys, and the min/max visible extent for the selected
// (dkey, akey), all at a single reader epoch. A key punched at epoch p is
// invisible for readers at E >= p and hides everything beneath it, so the
// min/max scan simply treats a punched or not-yet-created entry as absent
// and continues to its neighbor.
func (cont *Container) QueryKey(oid ObjectID, epoch uint64, flags QueryFlags, dkey []byte) (QueryResult, error) {
	wantMax := flags&QueryGetMax != 0
	wantMin := flags&QueryGetMin != 0
	if wantMax == wantMin {
		return QueryResult{}, Wrap(ErrInval, "query: exactly one of GET_MAX/GET_MIN required")
	}
	if flags&QueryGetAkey == 0 && flags&QueryGetDkey == 0 {
		return QueryResult{}, Wrap(ErrInval, "query: at least one of GET_DKEY/GET_AKEY required")
	}

	h, err := cont.Hold(oid, epoch, false)
	if err != nil {
		return QueryResult{}, err
	}
	defer cont.Release(h)
	cont.pool.metrics.Queries.Inc()
	if !visible(h.obj.earliest, h.obj.latest, h.obj.attrs&objAttrPunched != 0, epoch) {
		return QueryResult{}, ErrNonexist
	}

	var result QueryResult

	if flags&QueryGetDkey != 0 {
		dk, foundDkey, foundAkey := queryJointDkeyAkey(h.obj, epoch, wantMax, flags&QueryGetAkey != 0)
		if dk == nil {
			return QueryResult{}, ErrNonexist
		}
		result.Dkey = foundDkey
		result.Akey = foundAkey
		if flags&QueryGetRecx != 0 {
			ak, _ := dkeyFindAkey(h.obj, foundDkey, foundAkey)
			if ak == nil {
				return QueryResult{}, ErrNonexist
			}
			recx, err := queryRecx(ak, epoch, wantMax)
			if err != nil {
				return QueryResult{}, err
			}
			result.Recx = recx
		}
		return result, nil
	}

	// GET_AKEY alone: caller supplies dkey.
	if len(dkey) == 0 {
		return QueryResult{}, Wrap(ErrInval, "query: GET_AKEY alone requires a dkey")
	}
	dk, ok := h.obj.findDkey(dkey)
	if !ok || !visible(dk.earliest, dk.latest, dk.punched, epoch) {
		return QueryResult{}, ErrNonexist
	}
	akey, ak := queryAkeyExtreme(dk, epoch, wantMax)
	if ak == nil {
		return QueryResult{}, ErrNonexist
	}
	result.Dkey = dkey
	result.Akey = akey
	if flags&QueryGetRecx != 0 {
		recx, err := queryRecx(ak, epoch, wantMax)
		if err != nil {
			return QueryResult{}, err
		}
		result.Recx = recx
	}
	return result, nil
}

// queryJointDkeyAkey walks dkeys from the extreme end inward, and for each
// live dkey asks for its extreme live akey (if needAkey), returning the
// first dkey with a qualifying akey — or, if !needAkey, the first dkey
// that is simply live at epoch.
func queryJointDkeyAkey(obj *objectRecord, epoch uint64, wantMax, needAkey bool) (dk *dkeyBody, dkey, akey []byte) {
	it := obj.dkeys.NewIterator()
	ok := probeExtreme(it, wantMax)
	for ok {
		rec, fok := it.Fetch()
		if !fok {
			return nil, nil, nil
		}
		body := rec.Value.(*dkeyBody)
		if visible(body.earliest, body.latest, body.punched, epoch) {
			if !needAkey {
				return body, rec.Key, nil
			}
			if akeyName, ak := queryAkeyExtreme(body, epoch, wantMax); ak != nil {
				return body, rec.Key, akeyName
			}
		}
		ok = stepExtreme(it, wantMax)
	}
	return nil, nil, nil
}

func probeExtreme(it *kbtr.Iterator, wantMax bool) bool {
	if wantMax {
		return it.Probe(kbtr.OpLast, nil, 0)
	}
	return it.Probe(kbtr.OpFirst, nil, 0)
}

func stepExtreme(it *kbtr.Iterator, wantMax bool) bool {
	if wantMax {
		return it.Prev(kbtr.IntentDefault)
	}
	return it.Next(kbtr.IntentDefault)
}

func dkeyFindAkey(obj *objectRecord, dkey, akey []byte) (*akeyBody, bool) {
	dk, ok := obj.findDkey(dkey)
	if !ok {
		return nil, false
	}
	return dk.findAkey(akey)
}

// queryAkeyExtreme returns the lexicographic min/max live akey under dk.
func queryAkeyExtreme(dk *dkeyBody, epoch uint64, wantMax bool) ([]byte, *akeyBody) {
	it := dk.akeys.NewIterator()
	ok := probeExtreme(it, wantMax)
	for ok {
		rec, fok := it.Fetch()
		if !fok {
			return nil, nil
		}
		ak := rec.Value.(*akeyBody)
		if visible(ak.earliest, ak.latest, ak.punched, epoch) {
			return rec.Key, ak
		}
		ok = stepExtreme(it, wantMax)
	}
	return nil, nil
}

// queryRecx returns the min/max visible extent for ak at epoch.
func queryRecx(ak *akeyBody, epoch uint64, wantMax bool) (Recx, error) {
	if ak.array == nil {
		return Recx{}, Wrap(ErrInval, "query: GET_RECX on a single-value akey")
	}
	segs, err := ak.array.Probe(0, ^uint64(0)-1, epoch, evt.FlagVisible|evt.FlagSkipHoles)
	if err != nil {
		return Recx{}, Wrap(ErrInval, "query: evt probe")
	}
	if len(segs) == 0 {
		return Recx{}, ErrNonexist
	}
	best := segs[0]
	for _, s := range segs[1:] {
		if wantMax && s.Hi > best.Hi {
			best = s
		}
		if !wantMax && s.Lo < best.Lo {
			best = s
		}
	}
	return Recx{Lo: best.Lo, Hi: best.Hi}, nil
}
