package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// On-disk names below the database root.
const (
	SystemFile      = "_system.json"
	WALFile         = "_wal.jsonl"
	ConfigFile      = "_config.json"
	IndexesDir      = "_indexes"
	CollectionsDir  = "collections"
	SchemasDir      = "schemas"
	SchemaVersion   = "v1"
	DocumentExt     = ".json"
	ReservedPrefix  = "_"
	indexFileSuffix = ".idx"
)

// Layout maps a (space, db) pair under a data root to concrete paths.
//
//	<root>/<space>/<db>/_system.json
//	<root>/<space>/<db>/_wal.jsonl
//	<root>/<space>/<db>/schemas/v1/**
//	<root>/<space>/<db>/collections/<name>/_config.json
//	<root>/<space>/<db>/collections/<name>/<id>.json
//	<root>/<space>/<db>/collections/<name>/_indexes/<index>.<type>.idx
type Layout struct {
	Root  string
	Space string
	DB    string
}

// NewLayout returns the layout for space/db under root.
func NewLayout(root, space, db string) Layout {
	return Layout{Root: root, Space: space, DB: db}
}

func (l Layout) DBRoot() string {
	return filepath.Join(l.Root, l.Space, l.DB)
}

func (l Layout) SystemPath() string {
	return filepath.Join(l.DBRoot(), SystemFile)
}

func (l Layout) WALPath() string {
	return filepath.Join(l.DBRoot(), WALFile)
}

func (l Layout) SchemasRoot() string {
	return filepath.Join(l.DBRoot(), SchemasDir, SchemaVersion)
}

func (l Layout) CollectionsRoot() string {
	return filepath.Join(l.DBRoot(), CollectionsDir)
}

func (l Layout) CollectionPath(collection string) string {
	return filepath.Join(l.CollectionsRoot(), collection)
}

func (l Layout) ConfigPath(collection string) string {
	return filepath.Join(l.CollectionPath(collection), ConfigFile)
}

func (l Layout) DocumentPath(collection, id string) string {
	return filepath.Join(l.CollectionPath(collection), id+DocumentExt)
}

func (l Layout) IndexesDir(collection string) string {
	return filepath.Join(l.CollectionPath(collection), IndexesDir)
}

// IndexPath is the file backing one index definition.
func (l Layout) IndexPath(collection string, def IndexDefinition) string {
	return filepath.Join(l.IndexesDir(collection), def.Name+"."+string(def.Type)+indexFileSuffix)
}

// ValidateName checks a space, database or collection name.
func ValidateName(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid %s name %q", util.ErrInvalidArgument, kind, name)
	}
	return nil
}

// ValidateID checks a document id. Ids become file names, so they cannot
// contain separators or collide with the reserved "_" namespace.
func ValidateID(id string) error {
	if err := ValidateName("document id", id); err != nil {
		return err
	}
	if strings.HasPrefix(id, ReservedPrefix) {
		return fmt.Errorf("%w: document id %q uses the reserved %q prefix", util.ErrInvalidArgument, id, ReservedPrefix)
	}
	return nil
}
