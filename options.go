package jsondb

import (
	"time"

	"github.com/kartikbazzad/bunbase/jsondb/internal/config"
	"github.com/kartikbazzad/bunbase/jsondb/query"
)

// Options configures a database instance
type Options struct {
	// Root is the data directory holding every space
	Root string

	// Space and DB select the database below Root (<root>/<space>/<db>)
	Space string
	DB    string

	// CacheCapacity in documents (default: 1024, negative disables the cache)
	CacheCapacity int

	// CacheTTL bounds how long a cached document is served (0 = no expiry)
	CacheTTL time.Duration

	// Workers bounds parallel document reads (default: NumCPU)
	Workers int

	// MaxLimit caps query limits (default: 1000)
	MaxLimit int

	// DefaultLimit applies when a query sets an offset but no limit (default: 100)
	DefaultLimit int

	// ValidatorCacheSize is the number of compiled schemas kept (default: 64)
	ValidatorCacheSize int

	// DatasetDir resolves relative dataset paths of file requests and
	// replaces $DATASET in them (default: the working directory)
	DatasetDir string
}

// DefaultOptions returns default options for space/db under root.
func DefaultOptions(root, space, db string) *Options {
	return &Options{
		Root:               root,
		Space:              space,
		DB:                 db,
		CacheCapacity:      1024,
		CacheTTL:           5 * time.Minute,
		MaxLimit:           query.DefaultMaxLimit,
		DefaultLimit:       query.DefaultDefaultLimit,
		ValidatorCacheSize: 64,
	}
}

// OptionsFromConfig maps a loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) *Options {
	opts := DefaultOptions(cfg.Data.Root, cfg.Data.Space, cfg.Data.DB)
	opts.CacheCapacity = cfg.Cache.Capacity
	if opts.CacheCapacity == 0 {
		opts.CacheCapacity = -1
	}
	opts.CacheTTL = cfg.Cache.TTL
	opts.Workers = cfg.Pool.Workers
	opts.DatasetDir = cfg.Data.Dataset
	if cfg.Query.MaxLimit > 0 {
		opts.MaxLimit = cfg.Query.MaxLimit
	}
	if cfg.Query.DefaultLimit > 0 {
		opts.DefaultLimit = cfg.Query.DefaultLimit
	}
	return opts
}

func (o *Options) withDefaults() *Options {
	out := *o
	if out.CacheCapacity == 0 {
		out.CacheCapacity = 1024
	}
	if out.CacheCapacity < 0 {
		out.CacheCapacity = 0
	}
	if out.MaxLimit <= 0 {
		out.MaxLimit = query.DefaultMaxLimit
	}
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = query.DefaultDefaultLimit
	}
	if out.ValidatorCacheSize <= 0 {
		out.ValidatorCacheSize = 64
	}
	return &out
}
