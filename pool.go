package vos

import (
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gholt/vos/bio"
	"github.com/gholt/vos/pmtx"
)

// Pool is a single-target VOS pool: its PM arena and NVMe blob directory,
// and the containers opened against it. A Pool is opened explicitly by
// CreatePool or OpenPool and closed explicitly by Close; it keeps no
// reference count and is not closed on last release.
type Pool struct {
	UUID    uuid.UUID
	cfg     *config
	arena   *pmtx.Arena
	dir     string
	mu      sync.Mutex
	conts   map[uuid.UUID]*Container
	metrics *Metrics

	blobMu sync.Mutex
	blob   *bio.Blob
}

// CreatePool creates a new pool under dir, sized per OptScmSizeBytes.
func CreatePool(dir string, id uuid.UUID, opts ...func(*config)) (*Pool, error) {
	cfg := resolveConfig(opts...)
	arena, err := pmtx.Create(filepath.Join(dir, "vos-"+id.String()+".pmem"), cfg.scmSizeBytes)
	if err != nil {
		return nil, errors.Wrap(err, "vos: create pool arena")
	}
	p := &Pool{
		UUID:    id,
		cfg:     cfg,
		arena:   arena,
		dir:     dir,
		conts:   make(map[uuid.UUID]*Container),
		metrics: newMetrics(),
	}
	cfg.logger.Info().Str("pool", id.String()).Msg("vos pool created")
	return p, nil
}

// OpenPool maps an existing pool's arena, replaying any pending PM
// transaction left mid-flight by a prior crash (done inside pmtx.Open).
func OpenPool(dir string, id uuid.UUID, opts ...func(*config)) (*Pool, error) {
	cfg := resolveConfig(opts...)
	arena, err := pmtx.Open(filepath.Join(dir, "vos-"+id.String()+".pmem"))
	if err != nil {
		return nil, errors.Wrap(err, "vos: open pool arena")
	}
	p := &Pool{
		UUID:    id,
		cfg:     cfg,
		arena:   arena,
		dir:     dir,
		conts:   make(map[uuid.UUID]*Container),
		metrics: newMetrics(),
	}
	cfg.logger.Info().Str("pool", id.String()).Msg("vos pool opened")
	return p, nil
}

// Close releases the pool's arena. All containers must be closed first.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conts) != 0 {
		return errors.New("vos: pool has open containers")
	}
	if p.blob != nil {
		if err := p.blob.Close(); err != nil {
			return errors.Wrap(err, "vos: close pool blob")
		}
	}
	return p.arena.Close()
}

// Metrics returns the pool's Prometheus-backed introspection surface.
func (p *Pool) Metrics() *Metrics { return p.metrics }

// ensureBlob lazily creates or opens the pool's single NVMe blob, the
// append-only staging area array writes above the inline threshold land
// in. One blob per pool is enough for this engine's single-target scope;
// a multi-blobstore layout is the allocator's concern, not VOS's.
func (p *Pool) ensureBlob() (*bio.Blob, error) {
	p.blobMu.Lock()
	defer p.blobMu.Unlock()
	if p.blob != nil {
		return p.blob, nil
	}
	path := filepath.Join(p.dir, "vos-"+p.UUID.String()+".blob")
	b, err := bio.OpenBlob(path)
	if err == nil {
		p.blob = b
		return b, nil
	}
	hdr := bio.BlobHeader{
		BlockSize:     uint32(p.cfg.pageSize),
		HeaderBlocks:  1,
		XstreamID:     0,
		BlobID:        1,
		BlobstoreUUID: p.UUID,
		PoolUUID:      p.UUID,
	}
	b, err = bio.CreateBlob(path, hdr, p.cfg.checksumBytes)
	if err != nil {
		return nil, errors.Wrap(err, "vos: create pool blob")
	}
	p.blob = b
	return b, nil
}

// Container is a container opened under a Pool: its object index and
// object handle cache. A container's objects share the pool's transaction
// domain, per the entity table.
type Container struct {
	UUID    uuid.UUID
	pool    *Pool
	oi      *objectIndex
	handles *handleCache

	writesDisabled bool
}

// CreateContainer creates and opens a new container under the pool.
func (p *Pool) CreateContainer(id uuid.UUID) (*Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.conts[id]; exists {
		return nil, ErrExist
	}
	cont := &Container{
		UUID:    id,
		pool:    p,
		oi:      newObjectIndex(),
		handles: newHandleCache(p.cfg.handleCacheSz),
	}
	p.conts[id] = cont
	return cont, nil
}

// OpenContainer opens a container previously created under this pool
// process lifetime. VOS itself does not persist the container-uuid index
// across process restarts (that is the RDB pool/container service's job,
// declared out of scope); within one process, OpenContainer simply returns
// the already-open handle.
func (p *Pool) OpenContainer(id uuid.UUID) (*Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cont, ok := p.conts[id]
	if !ok {
		return nil, ErrNonexist
	}
	return cont, nil
}

// Close closes the container, dropping it from its pool.
func (cont *Container) Close() error {
	cont.pool.mu.Lock()
	defer cont.pool.mu.Unlock()
	delete(cont.pool.conts, cont.UUID)
	return nil
}

// DisableWrites puts the container into maintenance mode: updates and
// punches fail with ErrNoPerm until EnableWrites is called. Fetches and
// iteration are unaffected.
func (cont *Container) DisableWrites() { cont.writesDisabled = true }

// EnableWrites reverses DisableWrites.
func (cont *Container) EnableWrites() { cont.writesDisabled = false }
