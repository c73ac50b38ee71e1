package index

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
	"github.com/kartikbazzad/bunbase/jsondb/internal/metrics"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Manager owns the index definitions of every collection of a database
// and routes maintenance and lookups to the right driver.
//
// Manager does no locking of its own. Writers (UpdateIndexes, CreateIndex,
// DropIndex, Rebuild) must be serialized by the caller; readers may run
// concurrently since index files are replaced atomically.
type Manager struct {
	store *storage.Store
	log   *zap.SugaredLogger
}

// NewManager returns a manager over store.
func NewManager(store *storage.Store) *Manager {
	return &Manager{
		store: store,
		log:   logger.Named("index"),
	}
}

// NameFor derives an index name from a field reference: "/address/city"
// and "address.city" both become "address.city".
func NameFor(field string) string {
	pointer := jsonptr.FromField(field)
	return strings.ReplaceAll(strings.TrimPrefix(pointer, "/"), "/", ".")
}

// Definitions returns the index definitions of a collection, id index first.
func (m *Manager) Definitions(collection string) ([]storage.IndexDefinition, error) {
	cfg, err := m.store.ReadConfig(collection)
	if err != nil {
		return nil, err
	}
	return cfg.Indexes, nil
}

// FindDefinition looks an index up by name or by field. It fails with
// ErrNotFound when the collection has no such index.
func (m *Manager) FindDefinition(collection, field string) (storage.IndexDefinition, error) {
	cfg, err := m.store.ReadConfig(collection)
	if err != nil {
		return storage.IndexDefinition{}, err
	}
	if def, ok := findIn(cfg, field); ok {
		return def, nil
	}
	return storage.IndexDefinition{}, fmt.Errorf("%w: index %q on collection %s", util.ErrNotFound, field, collection)
}

func findIn(cfg *storage.CollectionConfig, field string) (storage.IndexDefinition, bool) {
	if def, ok := cfg.Index(field); ok {
		return def, true
	}
	if def, ok := cfg.Index(NameFor(field)); ok {
		return def, true
	}
	return cfg.IndexOnField(jsonptr.FromField(field))
}

// HasIndex reports whether field is covered by an index.
func (m *Manager) HasIndex(collection, field string) bool {
	_, err := m.FindDefinition(collection, field)
	return err == nil
}

// CreateIndex adds an index on field and fills it from the documents
// already stored:
//  1. Normalize field to a JSON Pointer and derive the index name.
//  2. Build the index in memory from every document.
//  3. Persist the index file, then the definition.
//
// An existing index of the same name fails with ErrAlreadyExists; a unique
// index over duplicate values fails with ErrUniqueViolation and leaves
// nothing behind.
func (m *Manager) CreateIndex(collection, field string, typ storage.IndexType, unique bool) (storage.IndexDefinition, error) {
	cfg, err := m.store.ReadConfig(collection)
	if err != nil {
		return storage.IndexDefinition{}, err
	}
	if _, err := driverFor(typ); err != nil {
		return storage.IndexDefinition{}, err
	}

	pointer := jsonptr.FromField(field)
	name := NameFor(field)
	if name == "" {
		return storage.IndexDefinition{}, fmt.Errorf("%w: cannot index the whole document", util.ErrInvalidArgument)
	}
	if _, exists := cfg.Index(name); exists {
		return storage.IndexDefinition{}, fmt.Errorf("%w: index %q on collection %s", util.ErrAlreadyExists, name, collection)
	}
	if unique && typ == storage.IndexText {
		return storage.IndexDefinition{}, fmt.Errorf("%w: text indexes cannot be unique", util.ErrInvalidArgument)
	}

	def := storage.IndexDefinition{Name: name, FieldPath: pointer, Type: typ, Unique: unique}
	if err := m.rebuild(collection, def, true); err != nil {
		return storage.IndexDefinition{}, err
	}

	cfg.Indexes = append(cfg.Indexes, def)
	if err := m.store.WriteConfig(collection, cfg); err != nil {
		os.Remove(m.path(collection, def))
		return storage.IndexDefinition{}, fmt.Errorf("failed to persist index definition: %w", err)
	}

	m.log.Infow("index created", "collection", collection, "index", name, "type", typ, "unique", unique)
	return def, nil
}

// DropIndex removes an index definition and its file. The implicit id
// index cannot be dropped.
func (m *Manager) DropIndex(collection, field string) error {
	cfg, err := m.store.ReadConfig(collection)
	if err != nil {
		return err
	}
	def, ok := findIn(cfg, field)
	if !ok {
		return fmt.Errorf("%w: index %q on collection %s", util.ErrNotFound, field, collection)
	}
	if def.Name == storage.IDIndexName {
		return fmt.Errorf("%w: the id index cannot be dropped", util.ErrInvalidArgument)
	}

	kept := cfg.Indexes[:0]
	for _, d := range cfg.Indexes {
		if d.Name != def.Name {
			kept = append(kept, d)
		}
	}
	cfg.Indexes = kept
	if err := m.store.WriteConfig(collection, cfg); err != nil {
		return fmt.Errorf("failed to persist index removal: %w", err)
	}

	path := m.path(collection, def)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return util.FileError("remove index", path, err)
	}

	m.log.Infow("index dropped", "collection", collection, "index", def.Name)
	return nil
}

// Search returns the ids whose value at field equals value. For text
// indexes value is a phrase and every token must match.
func (m *Manager) Search(collection, field string, value interface{}) ([]string, error) {
	def, err := m.FindDefinition(collection, field)
	if err != nil {
		return nil, err
	}
	drv, err := driverFor(def.Type)
	if err != nil {
		return nil, err
	}
	metrics.IndexLookupsTotal.WithLabelValues(string(def.Type)).Inc()
	return drv.Search(m.path(collection, def), def, value)
}

// SearchRange scans a btree index between two bounds, in key order.
func (m *Manager) SearchRange(collection, field string, lower, upper *Bound) ([]string, error) {
	def, err := m.FindDefinition(collection, field)
	if err != nil {
		return nil, err
	}
	if def.Type != storage.IndexBTree {
		return nil, fmt.Errorf("%w: index %q is %s, range scans need btree", util.ErrInvalidArgument, def.Name, def.Type)
	}
	metrics.IndexLookupsTotal.WithLabelValues("btree_range").Inc()
	return btreeDriver{}.Range(m.path(collection, def), def, lower, upper)
}

// UpdateIndexes applies one document change to every index of the
// collection. oldDoc is nil for inserts and newDoc is nil for deletes.
func (m *Manager) UpdateIndexes(collection, docID string, oldDoc, newDoc storage.Document) error {
	defs, err := m.Definitions(collection)
	if err != nil {
		return err
	}
	for _, def := range defs {
		drv, err := driverFor(def.Type)
		if err != nil {
			return err
		}
		if err := drv.Update(m.path(collection, def), def, docID, oldDoc, newDoc); err != nil {
			return fmt.Errorf("failed to update index %s.%s: %w", collection, def.Name, err)
		}
	}
	return nil
}

// CheckUnique fails with ErrUniqueViolation when a unique index already
// maps one of doc's values to an id other than docID.
func (m *Manager) CheckUnique(collection, docID string, doc storage.Document) error {
	defs, err := m.Definitions(collection)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if !def.Unique || def.Type == storage.IndexText {
			continue
		}
		key, ok, err := fieldKey(def, doc)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		e, err := load(m.path(collection, def))
		if err != nil {
			return err
		}
		for _, id := range e[key] {
			if id != docID {
				return &UniqueError{Collection: collection, Index: def.Name, Key: key, ExistingID: id}
			}
		}
	}
	return nil
}

// UniqueKeys returns, per unique index name, the key doc would occupy.
// Callers staging several documents use it to catch duplicates among them.
func (m *Manager) UniqueKeys(collection string, doc storage.Document) (map[string]string, error) {
	defs, err := m.Definitions(collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, def := range defs {
		if !def.Unique || def.Type == storage.IndexText {
			continue
		}
		key, ok, err := fieldKey(def, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			out[def.Name] = key
		}
	}
	return out, nil
}

// Rebuild recreates every index of a collection from the documents on disk.
// Unique constraints are not enforced; recovery uses it to resync indexes
// after undoing a torn commit.
func (m *Manager) Rebuild(collection string) error {
	defs, err := m.Definitions(collection)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := m.rebuild(collection, def, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) rebuild(collection string, def storage.IndexDefinition, enforceUnique bool) error {
	docs, err := m.store.ListDocuments(collection)
	if err != nil {
		return err
	}

	e := entries{}
	for _, doc := range docs {
		id, ok := doc.GetID()
		if !ok {
			continue
		}
		if def.Type == storage.IndexText {
			for _, tok := range tokensOf(def, doc) {
				e.add(tok, id)
			}
			continue
		}
		key, ok, err := fieldKey(def, doc)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if enforceUnique && def.Unique && len(e[key]) > 0 {
			return &UniqueError{Collection: collection, Index: def.Name, Key: key, ExistingID: e[key][0]}
		}
		e.add(key, id)
	}
	return save(m.path(collection, def), e)
}

func (m *Manager) path(collection string, def storage.IndexDefinition) string {
	return m.store.Layout().IndexPath(collection, def)
}

// UniqueError reports a value already held by another document.
type UniqueError struct {
	Collection string
	Index      string
	Key        string
	ExistingID string
}

func (e *UniqueError) Error() string {
	return fmt.Sprintf("unique index %s.%s already maps %s to %s", e.Collection, e.Index, e.Key, e.ExistingID)
}

func (e *UniqueError) Unwrap() error {
	return util.ErrUniqueViolation
}
