// Package index maintains the secondary indexes of a collection.
//
// An index is a map from a canonical key to the ordered list of document
// ids holding that key. For hash and btree indexes the key is the JSON
// encoding of the value at the indexed field, so 30 and "30" are distinct
// keys. Text indexes key on normalized tokens instead. Each index lives in
// its own BSON file under the collection's _indexes directory and is
// rewritten in full on every update.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/kartikbazzad/bunbase/jsondb/internal/jsonptr"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Driver is the contract every index variant implements. Update is
// symmetric: insert passes a nil oldDoc, delete a nil newDoc.
type Driver interface {
	Update(path string, def storage.IndexDefinition, docID string, oldDoc, newDoc storage.Document) error
	Search(path string, def storage.IndexDefinition, value interface{}) ([]string, error)
}

// driverFor dispatches a definition to its variant.
func driverFor(t storage.IndexType) (Driver, error) {
	switch t {
	case storage.IndexHash:
		return hashDriver{}, nil
	case storage.IndexBTree:
		return btreeDriver{}, nil
	case storage.IndexText:
		return textDriver{}, nil
	}
	return nil, fmt.Errorf("%w: unknown index type %q", util.ErrInvalidArgument, t)
}

// entries is the in-memory form of an index file.
type entries map[string][]string

type indexFile struct {
	Entries map[string][]string `bson:"entries"`
}

func (e entries) add(key, docID string) {
	for _, id := range e[key] {
		if id == docID {
			return
		}
	}
	e[key] = append(e[key], docID)
}

func (e entries) remove(key, docID string) {
	ids := e[key]
	for i, id := range ids {
		if id == docID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(e, key)
		return
	}
	e[key] = ids
}

func (e entries) lookup(key string) []string {
	ids := e[key]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// load reads an index file. A missing or empty file is an empty index.
func load(path string) (entries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entries{}, nil
		}
		return nil, util.FileError("read index", path, err)
	}
	if len(data) == 0 {
		return entries{}, nil
	}
	var f indexFile
	if err := bson.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: corrupt index %s: %w", util.ErrSerialization, path, err)
	}
	if f.Entries == nil {
		return entries{}, nil
	}
	return entries(f.Entries), nil
}

// save rewrites an index file atomically.
func save(path string, e entries) error {
	data, err := bson.Marshal(indexFile{Entries: e})
	if err != nil {
		return fmt.Errorf("%w: failed to encode index %s: %w", util.ErrSerialization, path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return util.FileError("create index dir", filepath.Dir(path), err)
	}
	return storage.WriteFileAtomic(path, data)
}

// KeyOf canonicalizes a value into an index key.
// Negative zero shares the key of zero, as it compares equal to it.
func KeyOf(value interface{}) (string, error) {
	switch n := value.(type) {
	case float64:
		if n == 0 {
			value = 0.0
		}
	case float32:
		if n == 0 {
			value = float32(0)
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: cannot index value %v: %w", util.ErrSerialization, value, err)
	}
	return string(data), nil
}

// fieldKey returns the key of doc at the definition's field. ok is false
// when the document is nil or lacks the field.
func fieldKey(def storage.IndexDefinition, doc storage.Document) (key string, ok bool, err error) {
	if doc == nil {
		return "", false, nil
	}
	v, found := jsonptr.Get(doc, def.FieldPath)
	if !found {
		return "", false, nil
	}
	key, err = KeyOf(v)
	if err != nil {
		return "", false, err
	}
	return key, true, nil
}

// exactUpdate is the read-modify-write shared by hash and btree indexes.
func exactUpdate(path string, def storage.IndexDefinition, docID string, oldDoc, newDoc storage.Document) error {
	e, err := load(path)
	if err != nil {
		return err
	}
	oldKey, hadOld, err := fieldKey(def, oldDoc)
	if err != nil {
		return err
	}
	newKey, hasNew, err := fieldKey(def, newDoc)
	if err != nil {
		return err
	}
	if hadOld && hasNew && oldKey == newKey && containsID(e[newKey], docID) {
		return nil
	}
	if hadOld {
		e.remove(oldKey, docID)
	}
	if hasNew {
		e.add(newKey, docID)
	}
	return save(path, e)
}

func exactSearch(path string, value interface{}) ([]string, error) {
	e, err := load(path)
	if err != nil {
		return nil, err
	}
	key, err := KeyOf(value)
	if err != nil {
		return nil, err
	}
	return e.lookup(key), nil
}

func containsID(ids []string, docID string) bool {
	for _, id := range ids {
		if id == docID {
			return true
		}
	}
	return false
}
