package jsondb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/kartikbazzad/bunbase/jsondb/index"
	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
	"github.com/kartikbazzad/bunbase/jsondb/internal/transaction"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/query"
	"github.com/kartikbazzad/bunbase/jsondb/schema"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// CollectionsManager is the CRUD facade of a database. Every write goes
// through a transaction, so documents, indexes and the catalog move
// together; schema-bound collections run compute-then-validate first.
type CollectionsManager struct {
	db         *Database
	store      *storage.Store
	indexes    *index.Manager
	txnMgr     *transaction.TransactionManager
	validators *lru.Cache[string, *schema.Validator] // by schema URI
	log        *zap.SugaredLogger
}

func newCollectionsManager(db *Database) (*CollectionsManager, error) {
	validators, err := lru.New[string, *schema.Validator](db.opts.ValidatorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create validator cache: %w", err)
	}
	return &CollectionsManager{
		db:         db,
		store:      db.store,
		indexes:    db.indexes,
		txnMgr:     db.txnMgr,
		validators: validators,
		log:        logger.Named("collections"),
	}, nil
}

// CreateCollection creates a collection bound to schemaURI. schemaURI may
// be a db:// URI or a path relative to schemas/v1. When it is empty the
// schema recorded for name in the catalog is used, if any; otherwise the
// collection is schemaless. The schema must compile.
func (cm *CollectionsManager) CreateCollection(name, schemaURI string) error {
	if err := cm.db.checkOpen(); err != nil {
		return err
	}
	if err := storage.ValidateName("collection", name); err != nil {
		return err
	}
	uri := cm.schemaURI(schemaURI)
	if uri == "" {
		var err error
		if uri, err = cm.catalogSchema(name); err != nil {
			return err
		}
	}
	if uri != "" {
		if _, err := cm.validator(uri); err != nil {
			return err
		}
	}

	return cm.txnMgr.Exclusive(func() error {
		if cm.store.CollectionExists(name) {
			return fmt.Errorf("%w: collection %s", util.ErrAlreadyExists, name)
		}
		if err := cm.store.CreateCollectionIfMissing(name); err != nil {
			return err
		}
		if err := cm.store.WriteConfig(name, storage.NewCollectionConfig(uri)); err != nil {
			os.RemoveAll(cm.store.Layout().CollectionPath(name))
			return fmt.Errorf("failed to write descriptor of %s: %w", name, err)
		}
		if err := cm.updateCatalog(func(c *storage.Catalog) { c.AddCollection(name, uri) }); err != nil {
			return err
		}
		cm.log.Infow("collection created", "collection", name, "schema", uri)
		return nil
	})
}

// ListCollections returns the user collections, sorted. Collections whose
// name starts with "_" are internal and not listed.
func (cm *CollectionsManager) ListCollections() ([]string, error) {
	if err := cm.db.checkOpen(); err != nil {
		return nil, err
	}
	return cm.store.ListCollections()
}

// HasCollection reports whether the collection exists.
func (cm *CollectionsManager) HasCollection(name string) bool {
	return cm.store.CollectionExists(name)
}

// DropCollection removes the collection tree and its catalog entry.
func (cm *CollectionsManager) DropCollection(name string) error {
	if err := cm.db.checkOpen(); err != nil {
		return err
	}
	return cm.txnMgr.Exclusive(func() error {
		if !cm.store.CollectionExists(name) {
			return fmt.Errorf("%w: collection %s", util.ErrNotFound, name)
		}
		if err := cm.store.DropCollection(name); err != nil {
			return err
		}
		if err := cm.updateCatalog(func(c *storage.Catalog) { c.RemoveCollection(name) }); err != nil {
			return err
		}
		cm.log.Infow("collection dropped", "collection", name)
		return nil
	})
}

// SchemaOf returns the schema URI a collection is bound to ("" if none).
func (cm *CollectionsManager) SchemaOf(collection string) (string, error) {
	cfg, err := cm.store.ReadConfig(collection)
	if err != nil {
		return "", err
	}
	return cfg.Schema, nil
}

func (cm *CollectionsManager) updateCatalog(fn func(*storage.Catalog)) error {
	catalog, err := storage.LoadCatalog(cm.store.Layout().SystemPath())
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	fn(catalog)
	return catalog.Save()
}

// InsertWithSchema assigns an id when the document has none, runs the
// collection schema (computed fields first, then validation) and inserts
// the result. It returns the stored document.
func (cm *CollectionsManager) InsertWithSchema(collection string, doc storage.Document) (storage.Document, error) {
	var out storage.Document
	err := cm.Transaction(func(tx *Tx) error {
		var err error
		out, err = tx.Insert(collection, doc)
		return err
	})
	return out, err
}

// InsertRaw inserts doc without schema processing. A missing id is still
// assigned.
func (cm *CollectionsManager) InsertRaw(collection string, doc storage.Document) (storage.Document, error) {
	var out storage.Document
	err := cm.Transaction(func(tx *Tx) error {
		var err error
		out, err = tx.InsertRaw(collection, doc)
		return err
	})
	return out, err
}

// UpdateDocument replaces document id with doc.
func (cm *CollectionsManager) UpdateDocument(collection, id string, doc storage.Document) (storage.Document, error) {
	var out storage.Document
	err := cm.Transaction(func(tx *Tx) error {
		var err error
		out, err = tx.Update(collection, id, doc)
		return err
	})
	return out, err
}

// PatchDocument applies a JSON merge patch to document id and stores the
// result like UpdateDocument.
func (cm *CollectionsManager) PatchDocument(collection, id string, patch map[string]interface{}) (storage.Document, error) {
	var out storage.Document
	err := cm.Transaction(func(tx *Tx) error {
		var err error
		out, err = tx.Patch(collection, id, patch)
		return err
	})
	return out, err
}

// DeleteDocument removes document id.
func (cm *CollectionsManager) DeleteDocument(collection, id string) error {
	return cm.Transaction(func(tx *Tx) error {
		return tx.Delete(collection, id)
	})
}

// GetDocument reads one document.
func (cm *CollectionsManager) GetDocument(collection, id string) (storage.Document, error) {
	if err := cm.db.checkOpen(); err != nil {
		return nil, err
	}
	if !cm.store.CollectionExists(collection) {
		return nil, fmt.Errorf("%w: collection %s", util.ErrNotFound, collection)
	}
	return cm.store.ReadDocument(collection, id)
}

// ListAll returns every readable document of a collection, in id order.
func (cm *CollectionsManager) ListAll(collection string) ([]storage.Document, error) {
	if err := cm.db.checkOpen(); err != nil {
		return nil, err
	}
	if !cm.store.CollectionExists(collection) {
		return nil, fmt.Errorf("%w: collection %s", util.ErrNotFound, collection)
	}
	return cm.store.ListDocuments(collection)
}

// CreateIndex indexes field (dot path or JSON Pointer) and backfills the
// index from the stored documents.
func (cm *CollectionsManager) CreateIndex(collection, field string, typ storage.IndexType) (storage.IndexDefinition, error) {
	return cm.createIndex(collection, field, typ, false)
}

// CreateUniqueIndex is CreateIndex with a uniqueness constraint. It fails
// with ErrUniqueViolation if stored documents already share a value.
func (cm *CollectionsManager) CreateUniqueIndex(collection, field string, typ storage.IndexType) (storage.IndexDefinition, error) {
	return cm.createIndex(collection, field, typ, true)
}

func (cm *CollectionsManager) createIndex(collection, field string, typ storage.IndexType, unique bool) (storage.IndexDefinition, error) {
	if err := cm.db.checkOpen(); err != nil {
		return storage.IndexDefinition{}, err
	}
	var def storage.IndexDefinition
	err := cm.txnMgr.Exclusive(func() error {
		var err error
		def, err = cm.indexes.CreateIndex(collection, field, typ, unique)
		return err
	})
	return def, err
}

// DropIndex removes the index on field (or named field).
func (cm *CollectionsManager) DropIndex(collection, field string) error {
	if err := cm.db.checkOpen(); err != nil {
		return err
	}
	return cm.txnMgr.Exclusive(func() error {
		return cm.indexes.DropIndex(collection, field)
	})
}

// ListIndexes returns the index definitions of a collection.
func (cm *CollectionsManager) ListIndexes(collection string) ([]storage.IndexDefinition, error) {
	if err := cm.db.checkOpen(); err != nil {
		return nil, err
	}
	return cm.indexes.Definitions(collection)
}

// SearchIndex returns the ids of the documents whose indexed value equals
// value. On a text index value is a phrase whose tokens must all match.
func (cm *CollectionsManager) SearchIndex(collection, field string, value interface{}) ([]string, error) {
	if err := cm.db.checkOpen(); err != nil {
		return nil, err
	}
	return cm.indexes.Search(collection, field, query.Normalize(value))
}

// RegisterSchema stores doc as schemas/v1/<rel> and registers it. It
// returns the schema URI. Compiled validators are dropped so collections
// pick up the change on their next write.
func (cm *CollectionsManager) RegisterSchema(rel string, doc interface{}) (string, error) {
	if err := cm.db.checkOpen(); err != nil {
		return "", err
	}
	rel = filepath.ToSlash(filepath.Clean(filepath.FromSlash(rel)))
	if !strings.HasSuffix(rel, ".json") || rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", fmt.Errorf("%w: schema path %q must be a relative .json path", util.ErrInvalidArgument, rel)
	}
	value := query.Normalize(doc)
	if _, ok := value.(map[string]interface{}); !ok {
		return "", fmt.Errorf("%w: schema %s must be a JSON object", util.ErrInvalidArgument, rel)
	}

	reg := cm.db.registry
	uri := reg.URI(rel)
	err := cm.txnMgr.Exclusive(func() error {
		path := filepath.Join(cm.store.Layout().SchemasRoot(), filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return util.FileError("create directory", filepath.Dir(path), err)
		}
		if err := storage.WriteJSONAtomic(path, value); err != nil {
			return err
		}
		reg.Register(uri, value)
		cm.validators.Purge()
		return nil
	})
	if err != nil {
		return "", err
	}
	cm.log.Infow("schema registered", "uri", uri)
	return uri, nil
}

// Transaction runs fn against a staging area and commits what it staged
// atomically. When fn fails nothing is written.
func (cm *CollectionsManager) Transaction(fn func(tx *Tx) error) error {
	if err := cm.db.checkOpen(); err != nil {
		return err
	}
	return cm.txnMgr.Execute(func(t *transaction.Transaction) error {
		return fn(&Tx{cm: cm, tx: t})
	})
}

func (cm *CollectionsManager) schemaURI(ref string) string {
	if ref == "" || strings.HasPrefix(ref, schema.Scheme+"://") {
		return ref
	}
	return cm.db.registry.URI(ref)
}

func (cm *CollectionsManager) validator(uri string) (*schema.Validator, error) {
	if v, ok := cm.validators.Get(uri); ok {
		return v, nil
	}
	v, err := schema.CompileWithRegistry(uri, cm.db.registry, cm.db.RulesEngine)
	if err != nil {
		return nil, err
	}
	cm.validators.Add(uri, v)
	return v, nil
}

// process prepares a document for storage: copy, assign an id, then run
// the collection schema when withSchema is set.
func (cm *CollectionsManager) process(collection string, doc storage.Document, withSchema bool) (storage.Document, error) {
	cfg, err := cm.store.ReadConfig(collection)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = storage.Document{}
	}
	// round-trip so values match what a later read returns
	data, err := doc.Serialize()
	if err != nil {
		return nil, err
	}
	out, err := storage.Deserialize(data)
	if err != nil {
		return nil, err
	}
	switch raw, present := out[storage.IDField]; {
	case !present || raw == nil:
		out.SetID(uuid.NewString())
	default:
		if _, ok := raw.(string); !ok {
			return nil, fmt.Errorf("%w: document id must be a string, got %T", util.ErrInvalidArgument, raw)
		}
	}
	if !withSchema || cfg.Schema == "" {
		return out, nil
	}
	v, err := cm.validator(cfg.Schema)
	if err != nil {
		return nil, err
	}
	if err := v.ComputeThenValidate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Tx stages writes for CollectionsManager.Transaction. Documents are
// processed when staged, so schema errors surface from the staging call.
type Tx struct {
	cm *CollectionsManager
	tx *transaction.Transaction
}

// ID returns the transaction id recorded in the WAL.
func (t *Tx) ID() string {
	return t.tx.ID
}

// Insert stages doc after schema processing and returns the document that
// will be stored.
func (t *Tx) Insert(collection string, doc storage.Document) (storage.Document, error) {
	return t.insert(collection, doc, true)
}

// InsertRaw stages doc without schema processing.
func (t *Tx) InsertRaw(collection string, doc storage.Document) (storage.Document, error) {
	return t.insert(collection, doc, false)
}

func (t *Tx) insert(collection string, doc storage.Document, withSchema bool) (storage.Document, error) {
	out, err := t.cm.process(collection, doc, withSchema)
	if err != nil {
		return nil, err
	}
	if err := t.tx.Insert(collection, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update stages a full replacement of document id.
func (t *Tx) Update(collection, id string, doc storage.Document) (storage.Document, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, err
	}
	next := doc.Clone()
	if next == nil {
		next = storage.Document{}
	}
	next.SetID(id)
	out, err := t.cm.process(collection, next, true)
	if err != nil {
		return nil, err
	}
	if err := t.tx.Update(collection, id, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Patch merges patch into the stored document id and stages the result
// as an update.
func (t *Tx) Patch(collection, id string, patch map[string]interface{}) (storage.Document, error) {
	if !t.cm.store.CollectionExists(collection) {
		return nil, fmt.Errorf("%w: collection %s", util.ErrNotFound, collection)
	}
	current, err := t.cm.store.ReadDocument(collection, id)
	if err != nil {
		return nil, err
	}
	return t.Update(collection, id, storage.MergePatch(current, patch))
}

// Delete stages the removal of document id.
func (t *Tx) Delete(collection, id string) error {
	if !t.cm.store.CollectionExists(collection) {
		return fmt.Errorf("%w: collection %s", util.ErrNotFound, collection)
	}
	return t.tx.Delete(collection, id)
}
