package vos

import (
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// ScmClass selects how the PM arena is backed.
type ScmClass int

const (
	// ScmClassRAM emulates PM on a regular (tmpfs-friendly) file.
	ScmClassRAM ScmClass = iota
	// ScmClassDCPM maps a real DAX-mounted file.
	ScmClassDCPM
)

// BdevClass selects the backing block store for bulk array payloads.
type BdevClass int

const (
	BdevClassMalloc BdevClass = iota
	BdevClassFile
	BdevClassKdev
	BdevClassNVMe
)

type config struct {
	scmClass      ScmClass
	scmSizeBytes  int64
	scmMount      string
	bdevClass     BdevClass
	bdevList      []string
	targets       int
	nrXsHelpers   int
	firstCore     int
	pageSize      int
	checksumBytes int
	inlineThresh  int
	handleCacheSz int
	logger        zerolog.Logger
}

func resolveConfig(opts ...func(*config)) *config {
	cfg := &config{}
	if env := os.Getenv("VOS_SCM_SIZE_BYTES"); env != "" {
		if val, err := strconv.ParseInt(env, 10, 64); err == nil {
			cfg.scmSizeBytes = val
		}
	}
	if cfg.scmSizeBytes <= 0 {
		cfg.scmSizeBytes = 1 << 30 // 1GiB
	}
	if env := os.Getenv("VOS_TARGETS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			cfg.targets = val
		}
	}
	if cfg.targets <= 0 {
		cfg.targets = 1
	}
	if env := os.Getenv("VOS_PAGE_SIZE"); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			cfg.pageSize = val
		}
	}
	if cfg.pageSize <= 0 {
		cfg.pageSize = 65536
	}
	if env := os.Getenv("VOS_CHECKSUM_INTERVAL"); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			cfg.checksumBytes = val
		}
	}
	if cfg.checksumBytes <= 0 {
		cfg.checksumBytes = 65532
	}
	if env := os.Getenv("VOS_INLINE_THRESHOLD"); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			cfg.inlineThresh = val
		}
	}
	if cfg.inlineThresh <= 0 {
		cfg.inlineThresh = 4096
	}
	if env := os.Getenv("VOS_HANDLE_CACHE_SIZE"); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			cfg.handleCacheSz = val
		}
	}
	if cfg.handleCacheSz <= 0 {
		cfg.handleCacheSz = 1024
	}
	cfg.logger = zerolog.Nop()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.targets < 1 {
		cfg.targets = 1
	}
	if cfg.handleCacheSz < 1 {
		cfg.handleCacheSz = 1
	}
	return cfg
}

// OptScmClass records the PM backing class, ram or dcpm. Defaults to ram.
// The pool does not read it: the arena file is mapped the same way for
// either class.
func OptScmClass(c ScmClass) func(*config) {
	return func(cfg *config) { cfg.scmClass = c }
}

// OptScmSizeBytes sets the PM arena size, whatever the ScmClass. Defaults
// to env VOS_SCM_SIZE_BYTES or 1GiB.
func OptScmSizeBytes(n int64) func(*config) {
	return func(cfg *config) { cfg.scmSizeBytes = n }
}

// OptScmMount records a PM mount path. The pool does not read it: the arena
// file is created in the directory passed to CreatePool/OpenPool.
func OptScmMount(path string) func(*config) {
	return func(cfg *config) { cfg.scmMount = path }
}

// OptBdevClass records the bulk-payload backing class. The pool does not
// read it: bulk payloads always go to a blob file in the pool directory.
func OptBdevClass(c BdevClass) func(*config) {
	return func(cfg *config) { cfg.bdevClass = c }
}

// OptBdevList records the backing block device or file names. The pool
// does not read it.
func OptBdevList(devs ...string) func(*config) {
	return func(cfg *config) { cfg.bdevList = devs }
}

// OptTargets records the number of VOS targets (xstreams). Defaults to env
// VOS_TARGETS or 1. The pool does not read it.
func OptTargets(n int) func(*config) {
	return func(cfg *config) { cfg.targets = n }
}

// OptNrXsHelpers records the number of helper xstreams per target. The
// pool does not read it.
func OptNrXsHelpers(n int) func(*config) {
	return func(cfg *config) { cfg.nrXsHelpers = n }
}

// OptFirstCore records the first CPU core for xstream pinning. The pool
// does not read it.
func OptFirstCore(n int) func(*config) {
	return func(cfg *config) { cfg.firstCore = n }
}

// OptPageSize sets the block size recorded in the BIO blob header. Defaults
// to env VOS_PAGE_SIZE or 65536.
func OptPageSize(n int) func(*config) {
	return func(cfg *config) { cfg.pageSize = n }
}

// OptChecksumInterval controls how many bytes share one murmur3 checksum in
// the BIO blob framing (the PM undo log carries a single checksum over the
// whole log). Defaults to env VOS_CHECKSUM_INTERVAL or 65532.
func OptChecksumInterval(n int) func(*config) {
	return func(cfg *config) { cfg.checksumBytes = n }
}

// OptInlineThreshold sets the array-value size above which payloads are
// allocated from NVMe instead of SCM. Defaults to env VOS_INLINE_THRESHOLD
// or 4096.
func OptInlineThreshold(n int) func(*config) {
	return func(cfg *config) { cfg.inlineThresh = n }
}

// OptHandleCacheSize bounds the object handle LRU. Defaults to env
// VOS_HANDLE_CACHE_SIZE or 1024.
func OptHandleCacheSize(n int) func(*config) {
	return func(cfg *config) { cfg.handleCacheSz = n }
}

// OptLogger installs a structured logger. Defaults to a no-op logger.
func OptLogger(l zerolog.Logger) func(*config) {
	return func(cfg *config) { cfg.logger = l }
}
