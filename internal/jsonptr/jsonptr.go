// Package jsonptr resolves JSON Pointers (RFC 6901) against decoded JSON
// values and converts the dot paths used by queries into pointers.
package jsonptr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonpointer"
)

// FromField converts a field reference into a JSON Pointer. Values already
// starting with "/" are returned as is, dot paths ("address.city") are
// split on dots, and "" maps to the whole-document pointer.
func FromField(field string) string {
	if field == "" || strings.HasPrefix(field, "/") {
		return field
	}
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = escape(p)
	}
	return "/" + strings.Join(parts, "/")
}

// Get returns the value at pointer inside doc. The bool is false when any
// token along the path is missing.
func Get(doc interface{}, pointer string) (interface{}, bool) {
	if pointer == "" {
		return doc, doc != nil
	}
	p, err := gojsonpointer.NewJsonPointer(pointer)
	if err != nil {
		return nil, false
	}
	v, _, err := p.Get(plain(doc))
	if err != nil {
		return nil, false
	}
	return v, true
}

// Set writes value at pointer inside doc, creating intermediate objects as
// needed. Array tokens must address an existing element.
func Set(doc map[string]interface{}, pointer string, value interface{}) error {
	tokens, err := split(pointer)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return fmt.Errorf("cannot replace the document root")
	}

	var node interface{} = doc
	for i, tok := range tokens {
		last := i == len(tokens)-1
		switch cur := node.(type) {
		case map[string]interface{}:
			if last {
				cur[tok] = value
				return nil
			}
			next, ok := cur[tok]
			if !ok || next == nil {
				child := make(map[string]interface{})
				cur[tok] = child
				next = child
			}
			node = next
		case []interface{}:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(cur) {
				return fmt.Errorf("invalid array index %q in %s", tok, pointer)
			}
			if last {
				cur[idx] = value
				return nil
			}
			node = cur[idx]
		default:
			return fmt.Errorf("cannot descend into %T at %q in %s", node, tok, pointer)
		}
	}
	return nil
}

// Delete removes the member at pointer. Missing paths are not an error.
func Delete(doc map[string]interface{}, pointer string) {
	tokens, err := split(pointer)
	if err != nil || len(tokens) == 0 {
		return
	}
	parent, ok := Get(doc, join(tokens[:len(tokens)-1]))
	if !ok {
		return
	}
	if m, ok := plain(parent).(map[string]interface{}); ok {
		delete(m, tokens[len(tokens)-1])
	}
}

func split(pointer string) ([]string, error) {
	if pointer == "" {
		return nil, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, fmt.Errorf("json pointer %q must start with '/'", pointer)
	}
	parts := strings.Split(pointer[1:], "/")
	for i, p := range parts {
		parts[i] = unescape(p)
	}
	return parts, nil
}

func join(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	escaped := make([]string, len(tokens))
	for i, t := range tokens {
		escaped[i] = escape(t)
	}
	return "/" + strings.Join(escaped, "/")
}

func escape(token string) string {
	return strings.ReplaceAll(strings.ReplaceAll(token, "~", "~0"), "/", "~1")
}

func unescape(token string) string {
	return strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
}

// plain strips named map types (storage.Document and friends) so the
// pointer walker sees map[string]interface{}.
func plain(v interface{}) interface{} {
	if m, ok := v.(interface{ Map() map[string]interface{} }); ok {
		return m.Map()
	}
	return v
}
