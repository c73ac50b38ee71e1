package storage

import (
	"encoding/json"
	"fmt"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// IDField is the document member holding its id.
const IDField = "id"

// Document represents a JSON document in the database
type Document map[string]interface{}

// Serialize converts a document to indented JSON bytes
func (d Document) Serialize() ([]byte, error) {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serialize document: %w", util.ErrSerialization, err)
	}
	return b, nil
}

// Deserialize converts JSON bytes to a document. Anything but a JSON object
// is rejected.
func Deserialize(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to deserialize document: %w", util.ErrSerialization, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is not a JSON object", util.ErrSerialization)
	}
	return doc, nil
}

// FromValue converts any JSON-encodable value (struct, map, raw message)
// into a Document by round-tripping it through encoding/json.
func FromValue(v interface{}) (Document, error) {
	switch t := v.(type) {
	case Document:
		return t.Clone(), nil
	case map[string]interface{}:
		return Document(t).Clone(), nil
	case []byte:
		return Deserialize(t)
	case json.RawMessage:
		return Deserialize(t)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrSerialization, err)
	}
	return Deserialize(data)
}

// GetID returns the document ID if it exists
func (d Document) GetID() (string, bool) {
	id, exists := d[IDField]
	if !exists {
		return "", false
	}

	idStr, ok := id.(string)
	if !ok {
		return "", false
	}

	return idStr, true
}

// SetID sets the document ID
func (d Document) SetID(id string) {
	d[IDField] = id
}

// Map exposes the document as a plain map.
func (d Document) Map() map[string]interface{} {
	return map[string]interface{}(d)
}

// Clone creates a deep copy of the document
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return CloneValue(map[string]interface{}(d)).(map[string]interface{})
}

// CloneValue deep-copies a decoded JSON value.
func CloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = CloneValue(val)
		}
		return m
	case Document:
		return Document(CloneValue(map[string]interface{}(t)).(map[string]interface{}))
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = CloneValue(val)
		}
		return s
	default:
		return v
	}
}

// MergePatch applies a JSON merge patch (RFC 7386) to a copy of target.
// A null member deletes, an object member merges recursively and any other
// value replaces.
func MergePatch(target Document, patch map[string]interface{}) Document {
	out := target.Clone()
	if out == nil {
		out = Document{}
	}
	mergeInto(out, patch)
	return out
}

func mergeInto(target, patch map[string]interface{}) {
	for k, v := range patch {
		switch pv := v.(type) {
		case nil:
			delete(target, k)
		case map[string]interface{}:
			child, ok := target[k].(map[string]interface{})
			if !ok {
				child = make(map[string]interface{})
			}
			mergeInto(child, pv)
			target[k] = child
		default:
			target[k] = CloneValue(v)
		}
	}
}
