package bio

import "github.com/pkg/errors"

// Medium tags where a Segment's bytes live.
type Medium int

const (
	MediumSCM Medium = iota
	MediumNVMe
	MediumHole
)

// Segment is one piece of a scatter-gather list: either a direct SCM
// pointer, an NVMe (blob, offset, length) reference, or a hole.
type Segment struct {
	Medium Medium
	SCM    []byte // valid when Medium == MediumSCM; direct PM-backed slice
	Blob   *Blob  // valid when Medium == MediumNVMe
	Off    uint64
	Len    int
}

// Descriptor binds a set of Segments to DMA-staged buffers for the
// duration of one operation. Prep must be paired with exactly one Post;
// between them the caller may freely copy in/out of Buffers().
type Descriptor struct {
	segs      []Segment
	buffers   [][]byte
	write     bool
	prepped   bool
	nvmeOffs  []uint64 // set by Post for write descriptors, one slot per segment
}

// NewDescriptor creates a descriptor for the given segments. write selects
// whether Post performs the NVMe write-back (true) or just releases DMA
// buffers (false, for fetches).
func NewDescriptor(segs []Segment, write bool) *Descriptor {
	return &Descriptor{segs: segs, write: write}
}

// Prep stages a buffer per segment: SCM segments are exposed directly (no
// copy — it's already a live PM address); NVMe segments get a fresh
// DMA-staging buffer, read in now for fetches; holes get a zero-filled
// buffer synthesized with no BIO read at all.
func (d *Descriptor) Prep() error {
	if d.prepped {
		return errors.New("bio: Prep called twice without intervening Post")
	}
	d.buffers = make([][]byte, len(d.segs))
	for i, s := range d.segs {
		switch s.Medium {
		case MediumSCM:
			d.buffers[i] = s.SCM
		case MediumHole:
			d.buffers[i] = make([]byte, s.Len) // zero-filled, synthesized
		case MediumNVMe:
			if d.write {
				d.buffers[i] = make([]byte, s.Len)
			} else {
				buf, err := s.Blob.ReadAt(s.Off, s.Len)
				if err != nil {
					return errors.Wrap(err, "bio: prep NVMe read")
				}
				d.buffers[i] = buf
			}
		default:
			return errors.New("bio: unknown medium")
		}
	}
	d.prepped = true
	return nil
}

// Buffers returns the staged buffers, one per segment, valid between Prep
// and Post.
func (d *Descriptor) Buffers() [][]byte { return d.buffers }

// Post completes the descriptor: for writes, NVMe buffers are appended to
// their blob (async write-back is modeled as a synchronous Append here,
// since this package has no background submission queue); for fetches, DMA
// buffers are simply released.
func (d *Descriptor) Post() error {
	if !d.prepped {
		return errors.New("bio: Post called without a matching Prep")
	}
	if d.write {
		d.nvmeOffs = make([]uint64, len(d.segs))
		for i, s := range d.segs {
			if s.Medium == MediumNVMe {
				off, err := s.Blob.Append(d.buffers[i])
				if err != nil {
					return errors.Wrap(err, "bio: post NVMe write")
				}
				d.nvmeOffs[i] = off
			}
		}
	}
	d.buffers = nil
	d.prepped = false
	return nil
}

// NVMeOffset returns the blob offset Append assigned segment i during
// Post, valid only after a write Descriptor's Post has run.
func (d *Descriptor) NVMeOffset(i int) uint64 {
	if i < 0 || i >= len(d.nvmeOffs) {
		return 0
	}
	return d.nvmeOffs[i]
}
