package vos

import (
	"encoding/binary"

	"github.com/gholt/vos/bio"
	"github.com/gholt/vos/evt"
	"github.com/gholt/vos/pmtx"
)

// IODType selects whether one I/O unit targets a single-value cell or an
// array (extent) range.
type IODType int

const (
	IODSingle IODType = iota
	IODArray
)

// Recx is a contiguous, closed record range on an array value.
type Recx struct {
	Lo, Hi uint64 // inclusive
}

func (r Recx) valid() bool { return r.Lo <= r.Hi }

// IOUnit is one caller-supplied (akey, extent-or-single, payload)
// description within an update or fetch's IOD.
type IOUnit struct {
	Akey    []byte
	Type    IODType
	Recx    Recx   // used when Type == IODArray
	RecSize uint32 // fixed record size for this run
	Payload []byte // update: bytes to write; fetch: filled in on return
}

// IODSpec is the per-dkey grouping of I/O units the engine's update/fetch
// pipelines operate on.
type IODSpec struct {
	Dkey  []byte
	Units []IOUnit
}

func epochKey(e uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, e)
	return b
}

// allocSCM bump-allocates n bytes from the pool's PM arena within tx and
// returns the live, directly-writable slice backing it — the "direct PM
// pointer" path the BIO bridge exposes for SCM segments.
func (p *Pool) allocSCM(tx *pmtx.Tx, n int) (pmtx.Addr, []byte, error) {
	addr, err := tx.Alloc(n)
	if err != nil {
		return pmtx.NilAddr, nil, Wrap(ErrNospace, "allocate SCM bytes")
	}
	return addr, p.arena.At(addr, n), nil
}

// writeArrayPayload stages and commits one array I/O unit's payload,
// choosing SCM (direct PM) at or under the pool's inline threshold and
// NVMe (DMA-staged) above it, and returns the evt.Addr to record in the
// extent entry.
func (p *Pool) writeArrayPayload(tx *pmtx.Tx, payload []byte) (evt.Addr, error) {
	if len(payload) <= p.cfg.inlineThresh {
		addr, buf, err := p.allocSCM(tx, len(payload))
		if err != nil {
			return evt.Addr{}, err
		}
		seg := bio.Segment{Medium: bio.MediumSCM, SCM: buf, Len: len(payload)}
		d := bio.NewDescriptor([]bio.Segment{seg}, true)
		if err := d.Prep(); err != nil {
			return evt.Addr{}, Wrap(ErrIO, "prep SCM segment")
		}
		copy(d.Buffers()[0], payload)
		if err := d.Post(); err != nil {
			return evt.Addr{}, Wrap(ErrIO, "post SCM segment")
		}
		return evt.Addr{Value: uint64(addr)}, nil
	}
	blob, err := p.ensureBlob()
	if err != nil {
		return evt.Addr{}, err
	}
	seg := bio.Segment{Medium: bio.MediumNVMe, Blob: blob, Len: len(payload)}
	d := bio.NewDescriptor([]bio.Segment{seg}, true)
	if err := d.Prep(); err != nil {
		return evt.Addr{}, Wrap(ErrIO, "prep NVMe segment")
	}
	copy(d.Buffers()[0], payload)
	if err := d.Post(); err != nil {
		return evt.Addr{}, Wrap(ErrIO, "post NVMe segment")
	}
	return evt.Addr{NVMe: true, Value: d.NVMeOffset(0)}, nil
}

// readArrayPayload fetches the bytes addressed by addr/len, yielding
// zero-filled bytes for holes without issuing any BIO read. byteOff skips
// into the entry's backing bytes — nonzero whenever the visible segment
// Probe returned starts after the entry's own Lo, i.e. the front of the
// entry was shadowed by a later write and only its tail survived.
func readArrayPayload(addr evt.Addr, byteOff, n int, arena *pmtx.Arena) ([]byte, error) {
	var seg bio.Segment
	switch {
	case addr.Hole:
		seg = bio.Segment{Medium: bio.MediumHole, Len: n}
	case addr.NVMe:
		return nil, Wrap(ErrInval, "readArrayPayload: NVMe segment requires its blob; use readArrayPayloadNVMe")
	default:
		seg = bio.Segment{Medium: bio.MediumSCM, SCM: arena.At(pmtx.Addr(addr.Value)+pmtx.Addr(byteOff), n), Len: n}
	}
	d := bio.NewDescriptor([]bio.Segment{seg}, false)
	if err := d.Prep(); err != nil {
		return nil, Wrap(ErrIO, "prep read segment")
	}
	out := append([]byte(nil), d.Buffers()[0]...)
	if err := d.Post(); err != nil {
		return nil, Wrap(ErrIO, "post read segment")
	}
	return out, nil
}

func readArrayPayloadNVMe(addr evt.Addr, byteOff, n int, blob *bio.Blob) ([]byte, error) {
	seg := bio.Segment{Medium: bio.MediumNVMe, Blob: blob, Off: addr.Value + uint64(byteOff), Len: n}
	d := bio.NewDescriptor([]bio.Segment{seg}, false)
	if err := d.Prep(); err != nil {
		return nil, Wrap(ErrIO, "prep NVMe read segment")
	}
	out := append([]byte(nil), d.Buffers()[0]...)
	if err := d.Post(); err != nil {
		return nil, Wrap(ErrIO, "post NVMe read segment")
	}
	return out, nil
}
