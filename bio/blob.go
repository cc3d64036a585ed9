// Package bio is the BIO bridge: scatter-gather read/write over SCM
// (direct PM address) and NVMe (DMA-buffered) media, with a prep/post
// lifecycle and zero-filled synthetic buffers for holes.
package bio

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
)

// blobHeaderSize and the checksum framing follow the same
// header+checksummed-interval-body shape the teacher's value file uses,
// generalized into the NVMe blob's bootstrap header described by the
// on-disk layout: magic, block_size, header_blocks, xstream_id, blob_id,
// blobstore_uuid, pool_uuid.
const (
	blobMagic      = 0x564f5342494f4231 // "VOSBIOB1"
	blobHeaderSize = 72
)

// BlobHeader bootstraps recovery of an NVMe blob.
type BlobHeader struct {
	BlockSize     uint32
	HeaderBlocks  uint32
	XstreamID     uint32
	BlobID        uint64
	BlobstoreUUID uuid.UUID
	PoolUUID      uuid.UUID
}

// Blob is the NVMe-analog bulk payload file: array values over the inline
// threshold are allocated here instead of in the PM arena. Writes are
// framed as checksumInterval-sized chunks each followed by a murmur3
// checksum, mirroring the teacher's value-file writer.
//
// Append is the only write path: it hands back the physical offset its
// framed chunks start at, so two extents can never alias each other's
// checksum bytes the way handing callers a raw logical offset would.
type Blob struct {
	f                *os.File
	checksumInterval int
	header           BlobHeader
	cursor           int64
}

// CreateBlob initializes a new blob file with the given header and
// checksum interval.
func CreateBlob(path string, hdr BlobHeader, checksumInterval int) (*Blob, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "bio: create blob")
	}
	b := &Blob{f: f, checksumInterval: checksumInterval, header: hdr}
	if err := b.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

// OpenBlob opens an existing blob and validates its header.
func OpenBlob(path string) (*Blob, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "bio: open blob")
	}
	b := &Blob{f: f}
	if err := b.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *Blob) Close() error { return b.f.Close() }

func (b *Blob) writeHeader() error {
	buf := make([]byte, blobHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], blobMagic)
	binary.BigEndian.PutUint32(buf[8:12], b.header.BlockSize)
	binary.BigEndian.PutUint32(buf[12:16], b.header.HeaderBlocks)
	binary.BigEndian.PutUint32(buf[16:20], b.header.XstreamID)
	binary.BigEndian.PutUint64(buf[20:28], b.header.BlobID)
	copy(buf[28:44], b.header.BlobstoreUUID[:])
	copy(buf[44:60], b.header.PoolUUID[:])
	binary.BigEndian.PutUint32(buf[60:64], uint32(b.checksumInterval))
	binary.BigEndian.PutUint64(buf[64:72], uint64(b.cursor))
	_, err := b.f.WriteAt(buf, 0)
	return errors.Wrap(err, "bio: write blob header")
}

// Sync persists the current append cursor into the header so a reopened
// blob can resume appending past everything already written.
func (b *Blob) Sync() error {
	if err := b.writeHeader(); err != nil {
		return err
	}
	return b.f.Sync()
}

func (b *Blob) readHeader() error {
	buf := make([]byte, blobHeaderSize)
	if _, err := io.ReadFull(io.NewSectionReader(b.f, 0, blobHeaderSize), buf); err != nil {
		return errors.Wrap(err, "bio: read blob header")
	}
	if binary.BigEndian.Uint64(buf[0:8]) != blobMagic {
		return errors.New("bio: bad blob magic")
	}
	b.header.BlockSize = binary.BigEndian.Uint32(buf[8:12])
	b.header.HeaderBlocks = binary.BigEndian.Uint32(buf[12:16])
	b.header.XstreamID = binary.BigEndian.Uint32(buf[16:20])
	b.header.BlobID = binary.BigEndian.Uint64(buf[20:28])
	copy(b.header.BlobstoreUUID[:], buf[28:44])
	copy(b.header.PoolUUID[:], buf[44:60])
	b.checksumInterval = int(binary.BigEndian.Uint32(buf[60:64]))
	b.cursor = int64(binary.BigEndian.Uint64(buf[64:72]))
	return nil
}

// Append writes data as checksumInterval-sized chunks, each followed by a
// 4-byte murmur3 checksum (the same chunk+checksum shape the teacher's
// writingChecksummer produces), and returns the token ReadAt needs to
// recover it.
func (b *Blob) Append(data []byte) (uint64, error) {
	start := b.cursor
	pos := blobHeaderSize + b.cursor
	remaining := data
	for len(remaining) > 0 {
		n := len(remaining)
		if n > b.checksumInterval {
			n = b.checksumInterval
		}
		chunk := remaining[:n]
		if _, err := b.f.WriteAt(chunk, pos); err != nil {
			return 0, errors.Wrap(err, "bio: write blob chunk")
		}
		sum := make([]byte, 4)
		binary.BigEndian.PutUint32(sum, murmur3.Sum32(chunk))
		if _, err := b.f.WriteAt(sum, pos+int64(n)); err != nil {
			return 0, errors.Wrap(err, "bio: write blob checksum")
		}
		pos += int64(n) + 4
		remaining = remaining[n:]
	}
	b.cursor = pos
	return uint64(start), nil
}

// ReadAt reads n bytes written by Append at off, validating each chunk's
// checksum.
func (b *Blob) ReadAt(off uint64, n int) ([]byte, error) {
	pos := blobHeaderSize + int64(off)
	out := make([]byte, 0, n)
	for len(out) < n {
		want := n - len(out)
		if want > b.checksumInterval {
			want = b.checksumInterval
		}
		chunk := make([]byte, want)
		if _, err := b.f.ReadAt(chunk, pos); err != nil {
			return nil, errors.Wrap(err, "bio: read blob chunk")
		}
		sum := make([]byte, 4)
		if _, err := b.f.ReadAt(sum, pos+int64(want)); err != nil {
			return nil, errors.Wrap(err, "bio: read blob checksum")
		}
		if murmur3.Sum32(chunk) != binary.BigEndian.Uint32(sum) {
			return nil, errors.New("bio: blob checksum mismatch")
		}
		out = append(out, chunk...)
		pos += int64(want) + 4
	}
	return out, nil
}
