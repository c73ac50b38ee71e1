package schema

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/rules"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

const orderSchema = `{
  "type": "object",
  "required": ["qty", "price", "total"],
  "properties": {
    "qty": {"type": "number", "minimum": 1},
    "price": {"$ref": "common/money.json#/definitions/amount"},
    "total": {"type": "number"}
  },
  "x_rules": [
    {"name": "total", "target": "total", "expr": "doc.qty * doc.price"}
  ]
}`

const moneySchema = `{
  "definitions": {
    "amount": {"type": "number", "minimum": 0}
  }
}`

func writeSchema(t *testing.T, layout storage.Layout, rel, content string) {
	t.Helper()
	path := filepath.Join(layout.SchemasRoot(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newRegistry(t *testing.T, files map[string]string) *Registry {
	t.Helper()
	layout := storage.NewLayout(t.TempDir(), "acme", "shop")
	for rel, content := range files {
		writeSchema(t, layout, rel, content)
	}
	reg, err := FromDB(layout)
	require.NoError(t, err)
	return reg
}

func newEngine(t *testing.T) *rules.RulesEngine {
	t.Helper()
	re, err := rules.NewRulesEngine()
	require.NoError(t, err)
	return re
}

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestRegistryFromDB(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"order.json":        orderSchema,
		"common/money.json": moneySchema,
		"README.md":         "not a schema",
	})

	assert.Equal(t, []string{
		"db://acme/shop/schemas/v1/common/money.json",
		"db://acme/shop/schemas/v1/order.json",
	}, reg.ListURIs())

	assert.Equal(t, "db://acme/shop/schemas/v1/order.json", reg.URI("order.json"))
	assert.Equal(t, "db://acme/shop/schemas/v1/order.json", reg.URI("/order.json"))

	doc, ok := reg.GetByURI("db://acme/shop/schemas/v1/common/money.json#/definitions/amount")
	require.True(t, ok)
	assert.Contains(t, doc.(map[string]interface{}), "definitions")

	_, ok = reg.GetByURI("db://acme/shop/schemas/v1/nope.json")
	assert.False(t, ok)
}

func TestRegistryFromDBMalformed(t *testing.T) {
	layout := storage.NewLayout(t.TempDir(), "acme", "shop")
	writeSchema(t, layout, "bad.json", "{")
	_, err := FromDB(layout)
	assert.True(t, errors.Is(err, util.ErrSerialization), "got %v", err)
}

func TestJoin(t *testing.T) {
	base := "db://acme/shop/schemas/v1/orders/order.json"

	tests := []struct {
		rel  string
		want string
	}{
		{"../common/money.json", "db://acme/shop/schemas/v1/common/money.json"},
		{"./line.json", "db://acme/shop/schemas/v1/orders/line.json"},
		{"line.json", "db://acme/shop/schemas/v1/orders/line.json"},
		{"a/../b/./c.json", "db://acme/shop/schemas/v1/orders/b/c.json"},
		{"#/definitions/x", "db://acme/shop/schemas/v1/orders/order.json#/definitions/x"},
		{"../common/money.json#/definitions/amount", "db://acme/shop/schemas/v1/common/money.json#/definitions/amount"},
		{"db://other/db/schemas/v1/x.json", "db://other/db/schemas/v1/x.json"},
	}
	for _, tt := range tests {
		got, err := Join(base, tt.rel)
		require.NoError(t, err, tt.rel)
		assert.Equal(t, tt.want, got, tt.rel)
	}

	got, err := Join(base+"#/properties", "line.json")
	require.NoError(t, err)
	assert.Equal(t, "db://acme/shop/schemas/v1/orders/line.json", got)
}

func TestResolveRef(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"order.json":        orderSchema,
		"common/money.json": moneySchema,
	})
	base := reg.URI("order.json")

	v, err := reg.ResolveRef(base, "common/money.json#/definitions/amount")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"type": "number", "minimum": 0.0}, v)

	v, err = reg.ResolveRef(base, "#/properties/total")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"type": "number"}, v)

	whole, err := reg.ResolveRef(base, "common/money.json")
	require.NoError(t, err)
	assert.Contains(t, whole.(map[string]interface{}), "definitions")

	_, err = reg.ResolveRef(base, "missing.json")
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)

	_, err = reg.ResolveRef(base, "common/money.json#/definitions/nope")
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)
}

func TestComputeThenValidate(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"order.json":        orderSchema,
		"common/money.json": moneySchema,
	})
	v, err := CompileWithRegistry(reg.URI("order.json"), reg, newEngine(t))
	require.NoError(t, err)

	// plain validation rejects the document: total is required
	doc := decode(t, `{"qty": 2, "price": 50}`)
	err = v.Validate(doc)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "required", verr.Constraint)
	assert.True(t, errors.Is(err, util.ErrSchemaValidation))

	require.NoError(t, v.ComputeThenValidate(doc))
	assert.Equal(t, 100.0, doc["total"])
}

func TestComputeThenValidateRefConstraint(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"order.json":        orderSchema,
		"common/money.json": moneySchema,
	})
	v, err := CompileWithRegistry(reg.URI("order.json"), reg, newEngine(t))
	require.NoError(t, err)

	doc := decode(t, `{"qty": 2, "price": -5}`)
	err = v.ComputeThenValidate(doc)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "price", verr.Field)
	assert.Equal(t, "number_gte", verr.Constraint)
}

func TestRulesSeeEarlierResults(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"invoice.json": `{
		  "type": "object",
		  "x_rules": [
		    {"name": "subtotal", "expr": "doc.qty * doc.price"},
		    {"name": "gross", "target": "/totals/gross", "expr": "doc.subtotal * 1.5"},
		    {"name": "discount", "expr": "doc.subtotal * 0.1", "when": "doc.subtotal > 1000.0"}
		  ]
		}`,
	})
	v, err := CompileWithRegistry(reg.URI("invoice.json"), reg, newEngine(t))
	require.NoError(t, err)
	require.Len(t, v.Rules(), 3)

	doc := decode(t, `{"qty": 4, "price": 10}`)
	require.NoError(t, v.ComputeThenValidate(doc))
	assert.Equal(t, 40.0, doc["subtotal"])
	assert.Equal(t, map[string]interface{}{"gross": 60.0}, doc["totals"])
	assert.NotContains(t, doc, "discount")
}

func TestAllOfRulesComeFirst(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"base.json": `{"x_rules": [{"name": "kind", "expr": "'entity'"}]}`,
		"user.json": `{
		  "allOf": [{"$ref": "base.json"}],
		  "required": ["label"],
		  "x_rules": [{"name": "label", "expr": "doc.kind + ':' + doc.name"}]
		}`,
	})
	v, err := CompileWithRegistry(reg.URI("user.json"), reg, newEngine(t))
	require.NoError(t, err)

	doc := decode(t, `{"name": "ada"}`)
	require.NoError(t, v.ComputeThenValidate(doc))
	assert.Equal(t, "entity:ada", doc["label"])
}

func TestRuleEvaluationError(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"order.json":        orderSchema,
		"common/money.json": moneySchema,
	})
	v, err := CompileWithRegistry(reg.URI("order.json"), reg, newEngine(t))
	require.NoError(t, err)

	err = v.ComputeThenValidate(decode(t, `{"qty": 2}`))
	var rerr *RuleError
	require.True(t, errors.As(err, &rerr), "got %v", err)
	assert.Equal(t, "total", rerr.Rule)
	assert.True(t, errors.Is(err, util.ErrRuleEvaluation))
	assert.False(t, errors.Is(err, util.ErrSchemaValidation))
}

func TestCompileMissingSchemaOrRef(t *testing.T) {
	reg := newRegistry(t, map[string]string{
		"broken.json": `{"properties": {"a": {"$ref": "nowhere.json"}}}`,
	})

	_, err := CompileWithRegistry(reg.URI("absent.json"), reg, nil)
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)

	_, err = CompileWithRegistry(reg.URI("broken.json"), reg, nil)
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)
}

func TestRulesWithoutEvaluator(t *testing.T) {
	reg := newRegistry(t, map[string]string{"order.json": orderSchema, "common/money.json": moneySchema})
	v, err := CompileWithRegistry(reg.URI("order.json"), reg, nil)
	require.NoError(t, err)

	err = v.ComputeThenValidate(decode(t, `{"qty": 1, "price": 1}`))
	assert.True(t, errors.Is(err, util.ErrRuleEvaluation))
}

func TestRulesOfRejectsIncompleteEntries(t *testing.T) {
	_, err := RulesOf(map[string]interface{}{
		RulesKey: []interface{}{map[string]interface{}{"name": "x"}},
	})
	assert.Error(t, err)

	got, err := RulesOf(map[string]interface{}{"type": "object"})
	require.NoError(t, err)
	assert.Nil(t, got)
}
