// Package pmtx is the PM allocator and transaction shim: a scoped
// transaction with guaranteed commit/abort on every exit path, undo logging
// of arbitrary byte ranges, and typed allocation producing a stable in-PM
// offset. It stands in for the persistent-memory arena a real VOS target
// would mmap over a DAX device: Arena mmaps a plain file instead, so the
// same Do/Add/Alloc contract holds whether the backing file sits on tmpfs
// (ram) or a real DAX mount (dcpm).
package pmtx

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
)

// Addr is a stable offset into an Arena's backing file. It is the opaque
// PmAddr: materialize it through Arena.At to get a live []byte, never keep
// a raw pointer across a transaction boundary.
type Addr uint64

// NilAddr is the zero value, meaning "no allocation".
const NilAddr Addr = 0

var (
	ErrOutOfSpace = errors.New("pmtx: arena out of space")
	ErrTxAborted  = errors.New("pmtx: transaction aborted")
	ErrInval      = errors.New("pmtx: invalid argument")
)

// arenaHeader occupies the first bytes of the backing file so a reopened
// arena can recover its allocation cursor and replay any undo log left
// mid-flight by a prior crash.
type arenaHeader struct {
	magic      uint64
	size       uint64
	allocated  uint64 // bump-allocator cursor, past the header
	undoOff    uint64 // not stored; the undo log always starts at arenaHeaderSize
	undoLen    uint32
}

const (
	arenaMagic       = 0x564f53504d544158 // "VOSPMTAX"
	arenaHeaderSize  = 32
	undoReserveBytes = 1 << 20 // fixed-size undo log region reserved after the header
)

// Arena is a memory-mapped PM pool file. Only one goroutine may hold the
// active transaction at a time (the single-xstream-per-container model);
// Arena itself is safe to open/close from any goroutine.
type Arena struct {
	file *os.File
	mm   mmap.MMap
	mu   sync.Mutex // guards Do/Begin/Commit/Abort sequencing
}

// Create initializes a new arena file of the given size.
func Create(path string, size int64) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "pmtx: create arena file")
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "pmtx: truncate arena file")
	}
	a, err := mapArena(f)
	if err != nil {
		return nil, err
	}
	hdr := a.header()
	hdr.magic = arenaMagic
	hdr.size = uint64(size)
	hdr.allocated = arenaHeaderSize + undoReserveBytes
	a.putHeader(hdr)
	return a, nil
}

// Open maps an existing arena file, replaying any pending undo log left by
// a transaction that never reached Commit — a crash during a tx is
// indistinguishable from abort on restart, so replay is unconditional.
func Open(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "pmtx: open arena file")
	}
	a, err := mapArena(f)
	if err != nil {
		return nil, err
	}
	hdr := a.header()
	if hdr.magic != arenaMagic {
		a.Close()
		return nil, errors.New("pmtx: bad arena magic")
	}
	if hdr.undoLen > 0 {
		if err := a.replayUndo(hdr); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func mapArena(f *os.File) (*Arena, error) {
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "pmtx: mmap arena file")
	}
	return &Arena{file: f, mm: mm}, nil
}

// Close unmaps and closes the backing file.
func (a *Arena) Close() error {
	var err error
	if a.mm != nil {
		err = a.mm.Unmap()
	}
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *Arena) header() arenaHeader {
	b := a.mm[:arenaHeaderSize]
	return arenaHeader{
		magic:     binary.BigEndian.Uint64(b[0:8]),
		size:      binary.BigEndian.Uint64(b[8:16]),
		allocated: binary.BigEndian.Uint64(b[16:24]),
		undoOff:   0,
		undoLen:   binary.BigEndian.Uint32(b[24:28]),
	}
}

func (a *Arena) putHeader(h arenaHeader) {
	b := a.mm[:arenaHeaderSize]
	binary.BigEndian.PutUint64(b[0:8], h.magic)
	binary.BigEndian.PutUint64(b[8:16], h.size)
	binary.BigEndian.PutUint64(b[16:24], h.allocated)
	binary.BigEndian.PutUint32(b[24:28], h.undoLen)
}

// At materializes addr into a live byte slice of length n. The slice
// aliases the mapping and stays valid until Close.
func (a *Arena) At(addr Addr, n int) []byte {
	return a.mm[int(addr) : int(addr)+n]
}

// Size returns the arena's total byte capacity.
func (a *Arena) Size() int64 {
	return int64(a.header().size)
}

// Do runs fn under a scoped transaction: fn's mutations are undo-logged and
// committed on a nil return, or rolled back on a non-nil return or panic.
// Every exit path commits or aborts exactly once.
func (a *Arena) Do(fn func(tx *Tx) error) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tx := &Tx{arena: a}
	defer func() {
		if r := recover(); r != nil {
			tx.abort()
			panic(r)
		}
	}()
	if err = fn(tx); err != nil {
		tx.abort()
		return err
	}
	return tx.commit()
}

func murmurSum(b []byte) uint32 {
	return murmur3.Sum32(b)
}
