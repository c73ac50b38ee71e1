package jsonptr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromField(t *testing.T) {
	assert.Equal(t, "/email", FromField("email"))
	assert.Equal(t, "/address/city", FromField("address.city"))
	assert.Equal(t, "/already/pointer", FromField("/already/pointer"))
	assert.Equal(t, "/a~1b", FromField("a/b"))
	assert.Equal(t, "", FromField(""))
}

func TestGet(t *testing.T) {
	doc := map[string]interface{}{
		"name": "ada",
		"address": map[string]interface{}{
			"city": "London",
		},
		"tags": []interface{}{"x", "y"},
	}

	v, ok := Get(doc, "/address/city")
	require.True(t, ok)
	assert.Equal(t, "London", v)

	v, ok = Get(doc, "/tags/1")
	require.True(t, ok)
	assert.Equal(t, "y", v)

	_, ok = Get(doc, "/address/zip")
	assert.False(t, ok)

	_, ok = Get(doc, "/name/first")
	assert.False(t, ok)
}

func TestSetCreatesIntermediates(t *testing.T) {
	doc := map[string]interface{}{"qty": 2.0}

	require.NoError(t, Set(doc, "/totals/gross", 100.0))
	v, ok := Get(doc, "/totals/gross")
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	require.NoError(t, Set(doc, "/qty", 3.0))
	assert.Equal(t, 3.0, doc["qty"])

	assert.Error(t, Set(doc, "", 1))
	assert.Error(t, Set(doc, "/qty/inner", 1))
}

func TestDelete(t *testing.T) {
	doc := map[string]interface{}{
		"a": map[string]interface{}{"b": 1.0, "c": 2.0},
	}
	Delete(doc, "/a/b")
	assert.Equal(t, map[string]interface{}{"c": 2.0}, doc["a"])

	Delete(doc, "/missing/key")
	Delete(doc, "/a/zzz")
	assert.Len(t, doc, 1)
}
