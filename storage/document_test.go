package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergePatch(t *testing.T) {
	target := Document{
		"id":      "u1",
		"name":    "Ada",
		"address": map[string]interface{}{"city": "London", "zip": "N1"},
		"tags":    []interface{}{"a", "b"},
		"age":     36.0,
	}
	patch := map[string]interface{}{
		"name":    "Ada L.",
		"address": map[string]interface{}{"zip": nil, "country": "UK"},
		"tags":    []interface{}{"c"},
		"age":     nil,
		"profile": map[string]interface{}{"bio": "math", "gone": nil},
	}

	got := MergePatch(target, patch)
	assert.Equal(t, Document{
		"id":      "u1",
		"name":    "Ada L.",
		"address": map[string]interface{}{"city": "London", "country": "UK"},
		"tags":    []interface{}{"c"},
		"profile": map[string]interface{}{"bio": "math"},
	}, got)

	// target is untouched
	assert.Equal(t, "Ada", target["name"])
	assert.Equal(t, map[string]interface{}{"city": "London", "zip": "N1"}, target["address"])
}

func TestMergePatchReplacesScalarWithObject(t *testing.T) {
	got := MergePatch(Document{"a": "x"}, map[string]interface{}{"a": map[string]interface{}{"b": 1.0}})
	assert.Equal(t, Document{"a": map[string]interface{}{"b": 1.0}}, got)

	got = MergePatch(nil, map[string]interface{}{"a": 1.0})
	assert.Equal(t, Document{"a": 1.0}, got)
}
