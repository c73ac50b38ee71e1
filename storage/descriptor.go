package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// IndexType names an index variant. The set is closed: hash, btree, text.
type IndexType string

const (
	IndexHash  IndexType = "hash"
	IndexBTree IndexType = "btree"
	IndexText  IndexType = "text"
)

// ParseIndexType accepts any casing of a known index type.
func ParseIndexType(s string) (IndexType, error) {
	switch IndexType(strings.ToLower(strings.TrimSpace(s))) {
	case IndexHash:
		return IndexHash, nil
	case IndexBTree:
		return IndexBTree, nil
	case IndexText:
		return IndexText, nil
	}
	return "", fmt.Errorf("%w: unknown index type %q", util.ErrInvalidArgument, s)
}

// IndexDefinition describes one secondary index of a collection.
type IndexDefinition struct {
	Name      string    `json:"name"`
	FieldPath string    `json:"field_path"` // JSON Pointer
	Type      IndexType `json:"index_type"`
	Unique    bool      `json:"unique"`
}

// IDIndexName is the implicit unique hash index every collection carries.
const IDIndexName = "id"

// IDIndex returns the implicit id index definition.
func IDIndex() IndexDefinition {
	return IndexDefinition{Name: IDIndexName, FieldPath: "/" + IDField, Type: IndexHash, Unique: true}
}

// CollectionConfig is the collection descriptor stored in _config.json.
type CollectionConfig struct {
	Schema  string            `json:"schema,omitempty"`
	Indexes []IndexDefinition `json:"indexes"`
}

// NewCollectionConfig returns a descriptor holding only the id index.
func NewCollectionConfig(schemaURI string) *CollectionConfig {
	return &CollectionConfig{
		Schema:  schemaURI,
		Indexes: []IndexDefinition{IDIndex()},
	}
}

// Index returns the definition with the given name.
func (c *CollectionConfig) Index(name string) (IndexDefinition, bool) {
	for _, def := range c.Indexes {
		if def.Name == name {
			return def, true
		}
	}
	return IndexDefinition{}, false
}

// IndexOnField returns the first definition covering the pointer.
func (c *CollectionConfig) IndexOnField(pointer string) (IndexDefinition, bool) {
	for _, def := range c.Indexes {
		if def.FieldPath == pointer {
			return def, true
		}
	}
	return IndexDefinition{}, false
}

func (c *CollectionConfig) ensureIDIndex() {
	if _, ok := c.Index(IDIndexName); !ok {
		c.Indexes = append([]IndexDefinition{IDIndex()}, c.Indexes...)
	}
}

// ReadConfig loads a collection descriptor. A collection directory without
// a descriptor gets the default one.
func (s *Store) ReadConfig(collection string) (*CollectionConfig, error) {
	if !s.CollectionExists(collection) {
		return nil, fmt.Errorf("%w: collection %s", util.ErrNotFound, collection)
	}
	cfg := &CollectionConfig{}
	if err := ReadJSON(s.layout.ConfigPath(collection), cfg); err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return NewCollectionConfig(""), nil
		}
		return nil, err
	}
	cfg.ensureIDIndex()
	return cfg, nil
}

// WriteConfig persists a collection descriptor.
func (s *Store) WriteConfig(collection string, cfg *CollectionConfig) error {
	cfg.ensureIDIndex()
	return WriteJSONAtomic(s.layout.ConfigPath(collection), cfg)
}
