package index

import (
	"encoding/json"
	"sort"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

// Bound is one end of a range scan. A nil *Bound leaves that end open.
type Bound struct {
	Value     interface{}
	Inclusive bool
}

// btreeDriver supports exact lookups and ordered range scans.
type btreeDriver struct{}

func (btreeDriver) Update(path string, def storage.IndexDefinition, docID string, oldDoc, newDoc storage.Document) error {
	return exactUpdate(path, def, docID, oldDoc, newDoc)
}

func (btreeDriver) Search(path string, _ storage.IndexDefinition, value interface{}) ([]string, error) {
	return exactSearch(path, value)
}

type decodedKey struct {
	value interface{}
	key   string
}

// Range returns the ids whose key lies between lower and upper, in key
// order. Keys of a different kind than the bounds never match: a numeric
// range skips strings and vice versa.
func (btreeDriver) Range(path string, _ storage.IndexDefinition, lower, upper *Bound) ([]string, error) {
	e, err := load(path)
	if err != nil {
		return nil, err
	}

	keys := make([]decodedKey, 0, len(e))
	for k := range e {
		var v interface{}
		if err := json.Unmarshal([]byte(k), &v); err != nil {
			continue
		}
		if !inRange(v, lower, upper) {
			continue
		}
		keys = append(keys, decodedKey{value: v, key: k})
	}
	sort.Slice(keys, func(i, j int) bool {
		if c := util.CompareValues(keys[i].value, keys[j].value); c != 0 {
			return c < 0
		}
		return keys[i].key < keys[j].key
	})

	var ids []string
	for _, k := range keys {
		ids = append(ids, e[k.key]...)
	}
	return ids, nil
}

func inRange(v interface{}, lower, upper *Bound) bool {
	if lower != nil {
		if !util.SameKind(v, lower.Value) {
			return false
		}
		c := util.CompareValues(v, lower.Value)
		if c < 0 || (c == 0 && !lower.Inclusive) {
			return false
		}
	}
	if upper != nil {
		if !util.SameKind(v, upper.Value) {
			return false
		}
		c := util.CompareValues(v, upper.Value)
		if c > 0 || (c == 0 && !upper.Inclusive) {
			return false
		}
	}
	return true
}
