// Package storage implements the file-backed primitives of jsondb: one JSON
// file per document, one directory per collection, atomic replacement of
// every file it writes, and a small read cache in front of the documents.
package storage

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// Options configures a Store.
type Options struct {
	// CacheCapacity in documents (0 disables the cache)
	CacheCapacity int

	// CacheTTL bounds how long a cached document is served (0 = no expiry)
	CacheTTL time.Duration

	// Workers bounds parallel file reads in ListDocuments (default: NumCPU)
	Workers int
}

// Store performs document and collection I/O for one database.
type Store struct {
	layout Layout
	cache  *Cache
	pool   *ants.Pool
	log    *zap.SugaredLogger
}

// NewStore creates the database directory tree if needed and returns a
// store rooted at layout.
func NewStore(layout Layout, opts Options) (*Store, error) {
	if err := ValidateName("space", layout.Space); err != nil {
		return nil, err
	}
	if err := ValidateName("database", layout.DB); err != nil {
		return nil, err
	}
	for _, dir := range []string{layout.CollectionsRoot(), layout.SchemasRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, util.FileError("create directory", dir, err)
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	log := logger.Named("storage")
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		log.Errorw("document reader panicked", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader pool: %w", err)
	}

	return &Store{
		layout: layout,
		cache:  NewCache(opts.CacheCapacity, opts.CacheTTL),
		pool:   pool,
		log:    log,
	}, nil
}

// Layout returns the path layout of the store.
func (s *Store) Layout() Layout {
	return s.layout
}

// Cache returns the document cache (nil when disabled).
func (s *Store) Cache() *Cache {
	return s.cache
}

// Close releases the reader pool and drops cached documents.
func (s *Store) Close() {
	s.pool.Release()
	s.cache.Purge()
}

// CreateCollectionIfMissing creates the collection directory.
func (s *Store) CreateCollectionIfMissing(collection string) error {
	if err := ValidateName("collection", collection); err != nil {
		return err
	}
	path := s.layout.CollectionPath(collection)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return util.FileError("create collection", path, err)
	}
	return nil
}

// CollectionExists reports whether the collection directory exists.
func (s *Store) CollectionExists(collection string) bool {
	if ValidateName("collection", collection) != nil {
		return false
	}
	info, err := os.Stat(s.layout.CollectionPath(collection))
	return err == nil && info.IsDir()
}

// ListCollections returns collection directory names, sorted, without the
// reserved "_" namespace.
func (s *Store) ListCollections() ([]string, error) {
	root := s.layout.CollectionsRoot()
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, util.FileError("list collections in", root, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ReservedPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// DropCollection removes the collection directory tree.
func (s *Store) DropCollection(collection string) error {
	if err := ValidateName("collection", collection); err != nil {
		return err
	}
	path := s.layout.CollectionPath(collection)
	if _, err := os.Stat(path); err != nil {
		return util.FileError("drop collection", path, err)
	}
	if err := os.RemoveAll(path); err != nil {
		return util.FileError("drop collection", path, err)
	}
	s.cache.RemovePrefix(cacheKey(collection, ""))
	return nil
}

// CreateDocument writes doc as <id>.json, replacing any previous version.
func (s *Store) CreateDocument(collection, id string, doc Document) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	data, err := doc.Serialize()
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(s.layout.DocumentPath(collection, id), data); err != nil {
		return err
	}
	if stored, err := Deserialize(data); err == nil {
		s.cache.Put(cacheKey(collection, id), stored)
	}
	return nil
}

// UpdateDocument overwrites a document. It is CreateDocument under another name.
func (s *Store) UpdateDocument(collection, id string, doc Document) error {
	return s.CreateDocument(collection, id, doc)
}

// ReadDocument loads one document.
func (s *Store) ReadDocument(collection, id string) (Document, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	key := cacheKey(collection, id)
	if doc, ok := s.cache.Get(key); ok {
		return doc, nil
	}

	path := s.layout.DocumentPath(collection, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.FileError("read document", path, err)
	}
	doc, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("document %s/%s: %w", collection, id, err)
	}
	s.cache.Put(key, doc)
	return doc, nil
}

// DocumentExists reports whether <id>.json exists.
func (s *Store) DocumentExists(collection, id string) bool {
	if ValidateID(id) != nil {
		return false
	}
	_, err := os.Stat(s.layout.DocumentPath(collection, id))
	return err == nil
}

// DeleteDocument removes a document file.
func (s *Store) DeleteDocument(collection, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.cache.Remove(cacheKey(collection, id))
	path := s.layout.DocumentPath(collection, id)
	if err := os.Remove(path); err != nil {
		return util.FileError("delete document", path, err)
	}
	return nil
}

// ListDocumentIDs returns the ids of all documents, sorted. Only .json
// files count and reserved "_" names are skipped.
func (s *Store) ListDocumentIDs(collection string) ([]string, error) {
	if err := ValidateName("collection", collection); err != nil {
		return nil, err
	}
	dir := s.layout.CollectionPath(collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, util.FileError("list documents in", dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, DocumentExt) || strings.HasPrefix(name, ReservedPrefix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, DocumentExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// ListDocuments loads every document of a collection in id order. Files
// that cannot be read or parsed are skipped, not reported.
func (s *Store) ListDocuments(collection string) ([]Document, error) {
	ids, err := s.ListDocumentIDs(collection)
	if err != nil {
		return nil, err
	}
	return s.ReadDocuments(collection, ids), nil
}

// ReadDocuments loads the given ids on the reader pool, keeping their order
// and dropping the ones that fail.
func (s *Store) ReadDocuments(collection string, ids []string) []Document {
	docs := make([]Document, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		i, id := i, id
		wg.Add(1)
		task := func() {
			defer wg.Done()
			doc, err := s.ReadDocument(collection, id)
			if err != nil {
				s.log.Debugw("skipping unreadable document", "collection", collection, "id", id, "error", err)
				return
			}
			docs[i] = doc
		}
		if err := s.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	out := docs[:0]
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}
