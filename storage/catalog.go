package storage

import (
	"errors"
	"sort"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// Catalog is the per-database system index (_system.json).
//
// It lists, for each collection, its schema reference and the document files
// it currently holds. The transaction manager loads it once per commit,
// mutates it in memory for every operation and saves it once at the end.
type Catalog struct {
	path        string
	Collections map[string]*CatalogEntry `json:"collections"`
}

// CatalogEntry holds catalog data for a single collection
type CatalogEntry struct {
	Schema string        `json:"schema,omitempty"`
	Items  []CatalogItem `json:"items"`
}

// CatalogItem references one document file.
type CatalogItem struct {
	File string `json:"file"`
}

// LoadCatalog reads the catalog at path. A missing file yields an empty
// catalog bound to path.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path, Collections: make(map[string]*CatalogEntry)}
	if err := ReadJSON(path, c); err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return c, nil
		}
		return nil, err
	}
	if c.Collections == nil {
		c.Collections = make(map[string]*CatalogEntry)
	}
	return c, nil
}

// Save writes the catalog to disk atomically.
func (c *Catalog) Save() error {
	return WriteJSONAtomic(c.path, c)
}

// AddCollection registers a collection. An existing entry keeps its items.
func (c *Catalog) AddCollection(name, schema string) {
	if entry, ok := c.Collections[name]; ok {
		entry.Schema = schema
		return
	}
	c.Collections[name] = &CatalogEntry{Schema: schema, Items: []CatalogItem{}}
}

// RemoveCollection drops a collection entry.
func (c *Catalog) RemoveCollection(name string) {
	delete(c.Collections, name)
}

// HasCollection reports whether the catalog lists name.
func (c *Catalog) HasCollection(name string) bool {
	_, ok := c.Collections[name]
	return ok
}

// CollectionNames returns the catalogued collections, sorted.
func (c *Catalog) CollectionNames() []string {
	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddItem records a document file. Adding twice is a no-op.
func (c *Catalog) AddItem(collection, id string) {
	entry := c.entry(collection)
	file := id + DocumentExt
	for _, it := range entry.Items {
		if it.File == file {
			return
		}
	}
	entry.Items = append(entry.Items, CatalogItem{File: file})
}

// RemoveItem forgets a document file.
func (c *Catalog) RemoveItem(collection, id string) {
	entry, ok := c.Collections[collection]
	if !ok {
		return
	}
	file := id + DocumentExt
	for i, it := range entry.Items {
		if it.File == file {
			entry.Items = append(entry.Items[:i], entry.Items[i+1:]...)
			return
		}
	}
}

// Items returns the document ids recorded for a collection, in insertion order.
func (c *Catalog) Items(collection string) []string {
	entry, ok := c.Collections[collection]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entry.Items))
	for _, it := range entry.Items {
		ids = append(ids, strings.TrimSuffix(it.File, DocumentExt))
	}
	return ids
}

// SetItems replaces the item list of a collection.
func (c *Catalog) SetItems(collection string, ids []string) {
	entry := c.entry(collection)
	entry.Items = make([]CatalogItem, 0, len(ids))
	for _, id := range ids {
		entry.Items = append(entry.Items, CatalogItem{File: id + DocumentExt})
	}
}

func (c *Catalog) entry(collection string) *CatalogEntry {
	entry, ok := c.Collections[collection]
	if !ok {
		entry = &CatalogEntry{Items: []CatalogItem{}}
		c.Collections[collection] = entry
	}
	return entry
}
