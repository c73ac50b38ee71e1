// Package jsondb implements an embedded, file-backed JSON document database.
//
// Key Features:
//   - One JSON file per document, grouped in collection directories
//   - JSON Schema validation with computed fields (x_rules, CEL expressions)
//   - Hash, BTree and Text secondary indexes
//   - Atomic multi-document transactions over a write-ahead log
//   - Filtered, sorted and paginated queries with a small SQL front-end
//
// Architecture:
// The database is composed of several layers:
//  1. Database: The main entry point coordinating all components.
//  2. CollectionsManager: CRUD facade; runs compute-then-validate and
//     stages every write in a transaction.
//  3. Transaction Manager: logs, applies and, on failure, undoes writes
//     under a single writer lock.
//  4. Index Manager: keeps per-field lookup files consistent with documents.
//  5. QueryEngine: optimizes queries and picks an index or a full scan.
//  6. Storage: document files, descriptors, the catalog and the read cache.
package jsondb

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kartikbazzad/bunbase/jsondb/index"
	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
	"github.com/kartikbazzad/bunbase/jsondb/internal/transaction"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/internal/wal"
	"github.com/kartikbazzad/bunbase/jsondb/rules"
	"github.com/kartikbazzad/bunbase/jsondb/schema"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Database represents an open jsondb database (one space/db pair).
// It acts as the central coordinator for all database subsystems.
type Database struct {
	layout      storage.Layout
	opts        *Options
	store       *storage.Store                  // Document and collection I/O
	registry    *schema.Registry                // Schemas by logical URI
	RulesEngine *rules.RulesEngine              // CEL evaluator for x_rules
	indexes     *index.Manager                  // Secondary indexes
	walWriter   *wal.WAL                        // Write-ahead log
	txnMgr      *transaction.TransactionManager // Commits and DDL
	collections *CollectionsManager
	queries     *QueryEngine
	log         *zap.SugaredLogger
	mu          sync.RWMutex // Protects closure state
	closed      bool
}

// Open opens (creating if needed) the database described by opts.
// It initializes all subsystems:
// 1. Store for document I/O and caching
// 2. Schema registry, loaded from schemas/v1
// 3. Rules engine for computed fields
// 4. Index manager
// 5. Write-Ahead Log (WAL) and TransactionManager
//
// It then performs recovery: transactions logged as pending without a
// terminal record are undone, so the database opens in the state of the
// last completed commit.
func Open(opts *Options) (*Database, error) {
	if opts == nil {
		return nil, fmt.Errorf("%w: options cannot be nil", util.ErrInvalidArgument)
	}
	opts = opts.withDefaults()
	log := logger.Named("jsondb")

	layout := storage.NewLayout(opts.Root, opts.Space, opts.DB)
	store, err := storage.NewStore(layout, storage.Options{
		CacheCapacity: opts.CacheCapacity,
		CacheTTL:      opts.CacheTTL,
		Workers:       opts.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry, err := schema.FromDB(layout)
	if err != nil {
		store.Close()
		return nil, err
	}

	re, err := rules.NewRulesEngine()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize rules engine: %w", err)
	}

	walWriter, err := wal.Open(layout.WALPath())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}

	indexes := index.NewManager(store)
	txnMgr := transaction.NewTransactionManager(store, indexes, walWriter)

	db := &Database{
		layout:      layout,
		opts:        opts,
		store:       store,
		registry:    registry,
		RulesEngine: re,
		indexes:     indexes,
		walWriter:   walWriter,
		txnMgr:      txnMgr,
		log:         log,
	}
	db.collections, err = newCollectionsManager(db)
	if err != nil {
		db.shutdown()
		return nil, err
	}
	db.queries = newQueryEngine(db)

	recovered, err := txnMgr.Recover()
	if err != nil {
		db.shutdown()
		return nil, fmt.Errorf("failed to recover: %w", err)
	}
	log.Infow("database opened",
		"root", layout.DBRoot(),
		"schemas", len(registry.ListURIs()),
		"recovered", recovered,
	)
	return db, nil
}

// Collections returns the CRUD facade.
func (db *Database) Collections() *CollectionsManager {
	return db.collections
}

// Query returns the query engine.
func (db *Database) Query() *QueryEngine {
	return db.queries
}

// Registry returns the schema registry.
func (db *Database) Registry() *schema.Registry {
	return db.registry
}

// Layout returns the on-disk layout of the database.
func (db *Database) Layout() storage.Layout {
	return db.layout
}

// Close flushes the WAL and releases the reader pool. Calls after the
// first are no-ops.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	err := db.shutdown()
	db.log.Infow("database closed", "root", db.layout.DBRoot())
	return err
}

func (db *Database) shutdown() error {
	err := db.walWriter.Close()
	db.store.Close()
	return err
}

// IsClosed reports whether Close was called.
func (db *Database) IsClosed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.closed
}

func (db *Database) checkOpen() error {
	if db.IsClosed() {
		return util.ErrDatabaseClosed
	}
	return nil
}
