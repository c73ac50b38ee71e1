package jsondb

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/jsondb/internal/config"
	"github.com/kartikbazzad/bunbase/jsondb/internal/wal"
	"github.com/kartikbazzad/bunbase/jsondb/query"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

func openTestDB(t *testing.T, root string) *Database {
	t.Helper()
	db, err := Open(DefaultOptions(root, "space", "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const orderSchema = `{
  "type": "object",
  "required": ["qty", "price", "total"],
  "properties": {
    "qty":   {"type": "number"},
    "price": {"type": "number", "minimum": 0},
    "total": {"type": "number"}
  },
  "x_rules": [
    {"name": "total", "expr": "doc.qty * doc.price"}
  ]
}`

func registerOrders(t *testing.T, db *Database) {
	t.Helper()
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(orderSchema), &doc))
	uri, err := db.Collections().RegisterSchema("orders/order.json", doc)
	require.NoError(t, err)
	assert.Equal(t, "db://space/db/schemas/v1/orders/order.json", uri)
	require.NoError(t, db.Collections().CreateCollection("orders", "orders/order.json"))
}

func TestEndToEndUsers(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	cm := db.Collections()

	require.NoError(t, cm.CreateCollection("users", ""))
	_, err := cm.CreateIndex("users", "email", storage.IndexHash)
	require.NoError(t, err)

	err = cm.Transaction(func(tx *Tx) error {
		if _, err := tx.Insert("users", storage.Document{"id": "u1", "email": "a@x.com", "age": 30}); err != nil {
			return err
		}
		_, err := tx.Insert("users", storage.Document{"id": "u2", "email": "b@x.com", "age": 25})
		return err
	})
	require.NoError(t, err)

	ids, err := cm.SearchIndex("users", "email", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	res, err := db.Query().ExecuteSQL(`SELECT name,age FROM users WHERE email = 'a@x.com'`)
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, 1, res.TotalCount)
	assert.Equal(t, 30.0, res.Documents[0]["age"])
	assert.NotContains(t, res.Documents[0], "email")

	q, err := query.NewBuilder("users").WhereEq("email", "a@x.com").Build()
	require.NoError(t, err)
	plan, err := db.Query().Explain(q)
	require.NoError(t, err)
	assert.Equal(t, PlanIndex, plan)
}

func TestCollectionLifecycle(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	cm := db.Collections()

	require.NoError(t, cm.CreateCollection("users", ""))
	require.NoError(t, cm.CreateCollection("posts", ""))
	assert.ErrorIs(t, cm.CreateCollection("users", ""), ErrAlreadyExists)
	assert.ErrorIs(t, cm.CreateCollection("bad/name", ""), ErrInvalidArgument)
	assert.ErrorIs(t, cm.CreateCollection("typed", "missing.json"), ErrNotFound)
	assert.False(t, cm.HasCollection("typed"))

	names, err := cm.ListCollections()
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, names)

	catalog, err := storage.LoadCatalog(db.Layout().SystemPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "users"}, catalog.CollectionNames())

	require.NoError(t, cm.DropCollection("posts"))
	assert.ErrorIs(t, cm.DropCollection("posts"), ErrNotFound)
	catalog, err = storage.LoadCatalog(db.Layout().SystemPath())
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, catalog.CollectionNames())

	_, err = cm.ListAll("posts")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertWithSchemaComputesThenValidates(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	registerOrders(t, db)
	cm := db.Collections()

	doc, err := cm.InsertWithSchema("orders", storage.Document{"qty": 2, "price": 50})
	require.NoError(t, err)
	assert.Equal(t, 100.0, doc["total"])
	id, ok := doc.GetID()
	require.True(t, ok)

	stored, err := cm.GetDocument("orders", id)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored["total"])

	_, err = cm.InsertWithSchema("orders", storage.Document{"id": "bad", "qty": 2, "price": -5})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrSchemaValidation)
	assert.Equal(t, "price", verr.Field)

	_, err = cm.InsertWithSchema("orders", storage.Document{"id": "noqty", "price": 5})
	assert.ErrorIs(t, err, ErrRuleEvaluation)

	all, err := cm.ListAll("orders")
	require.NoError(t, err)
	assert.Len(t, all, 1, "rejected documents must not be stored")

	// raw inserts skip the schema
	_, err = cm.InsertRaw("orders", storage.Document{"id": "raw", "note": "no qty"})
	require.NoError(t, err)
}

func TestUpdatePatchDeleteKeepIndexesInSync(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	cm := db.Collections()
	require.NoError(t, cm.CreateCollection("users", ""))
	_, err := cm.CreateIndex("users", "address.city", storage.IndexBTree)
	require.NoError(t, err)

	_, err = cm.InsertRaw("users", storage.Document{"id": "u1", "name": "Ada", "address": map[string]interface{}{"city": "London"}})
	require.NoError(t, err)

	updated, err := cm.UpdateDocument("users", "u1", storage.Document{"id": "other", "name": "Ada", "address": map[string]interface{}{"city": "Paris"}})
	require.NoError(t, err)
	assert.Equal(t, "u1", updated["id"])

	ids, err := cm.SearchIndex("users", "address.city", "London")
	require.NoError(t, err)
	assert.Empty(t, ids)
	ids, err = cm.SearchIndex("users", "/address/city", "Paris")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)

	patched, err := cm.PatchDocument("users", "u1", map[string]interface{}{
		"name":    nil,
		"address": map[string]interface{}{"city": "Rome"},
		"age":     40,
	})
	require.NoError(t, err)
	assert.NotContains(t, patched, "name")

	got, err := cm.GetDocument("users", "u1")
	require.NoError(t, err)
	assert.Equal(t, storage.Document{"id": "u1", "age": 40.0, "address": map[string]interface{}{"city": "Rome"}}, got)

	require.NoError(t, cm.DeleteDocument("users", "u1"))
	_, err = cm.GetDocument("users", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	ids, err = cm.SearchIndex("users", "address.city", "Rome")
	require.NoError(t, err)
	assert.Empty(t, ids)

	assert.ErrorIs(t, cm.DeleteDocument("users", "u1"), ErrNotFound)
	_, err = cm.UpdateDocument("users", "ghost", storage.Document{})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cm.PatchDocument("users", "ghost", map[string]interface{}{"a": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDuplicateIDAndUniqueIndex(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	cm := db.Collections()
	require.NoError(t, cm.CreateCollection("users", ""))
	_, err := cm.CreateUniqueIndex("users", "email", storage.IndexHash)
	require.NoError(t, err)

	_, err = cm.InsertRaw("users", storage.Document{"id": "u1", "email": "a@x.com"})
	require.NoError(t, err)

	_, err = cm.InsertRaw("users", storage.Document{"id": "u1", "email": "z@x.com"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = cm.InsertRaw("users", storage.Document{"id": "u2", "email": "a@x.com"})
	var uerr *UniqueError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "u1", uerr.ExistingID)

	ids, err := db.store.ListDocumentIDs("users")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

func TestInsertRejectsNonStringID(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	cm := db.Collections()
	require.NoError(t, cm.CreateCollection("c", ""))

	for _, id := range []interface{}{5, true, map[string]interface{}{"k": "v"}} {
		_, err := cm.InsertRaw("c", storage.Document{"id": id, "v": 1})
		assert.ErrorIs(t, err, ErrInvalidArgument, "id %v", id)
	}
	ids, err := db.store.ListDocumentIDs("c")
	require.NoError(t, err)
	assert.Empty(t, ids)

	// a null id is treated as missing
	doc, err := cm.InsertRaw("c", storage.Document{"id": nil, "v": 1})
	require.NoError(t, err)
	id, ok := doc.GetID()
	require.True(t, ok)
	assert.NotEmpty(t, id)
}

func TestOversizedTransactionKeepsDatabaseOpenable(t *testing.T) {
	prev := wal.MaxRecordSize
	wal.MaxRecordSize = 4 << 10
	t.Cleanup(func() { wal.MaxRecordSize = prev })

	root := t.TempDir()
	db, err := Open(DefaultOptions(root, "space", "db"))
	require.NoError(t, err)
	cm := db.Collections()
	require.NoError(t, cm.CreateCollection("c", ""))

	_, err = cm.InsertRaw("c", storage.Document{"id": "big", "v": strings.Repeat("a", 8<<10)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = cm.InsertRaw("c", storage.Document{"id": "small", "v": "a"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = openTestDB(t, root)
	_, err = db.Collections().GetDocument("c", "big")
	assert.ErrorIs(t, err, ErrNotFound)
	doc, err := db.Collections().GetDocument("c", "small")
	require.NoError(t, err)
	assert.Equal(t, "a", doc["v"])
}

func TestTransactionDiscardsOnCallbackError(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	registerOrders(t, db)
	cm := db.Collections()
	boom := errors.New("boom")

	err := cm.Transaction(func(tx *Tx) error {
		if _, err := tx.Insert("orders", storage.Document{"id": "o1", "qty": 1, "price": 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = cm.Transaction(func(tx *Tx) error {
		if _, err := tx.Insert("orders", storage.Document{"id": "o2", "qty": 1, "price": 1}); err != nil {
			return err
		}
		_, err := tx.Insert("orders", storage.Document{"id": "o3", "qty": 1, "price": -1})
		return err
	})
	assert.ErrorIs(t, err, ErrSchemaValidation)

	all, err := cm.ListAll("orders")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func seedPeople(t *testing.T, db *Database) {
	t.Helper()
	cm := db.Collections()
	require.NoError(t, cm.CreateCollection("people", ""))
	_, err := cm.CreateIndex("people", "age", storage.IndexBTree)
	require.NoError(t, err)
	_, err = cm.CreateIndex("people", "team", storage.IndexHash)
	require.NoError(t, err)

	err = cm.Transaction(func(tx *Tx) error {
		for _, d := range []storage.Document{
			{"id": "p1", "name": "Ada", "age": 36, "team": "core"},
			{"id": "p2", "name": "Bob", "age": 25, "team": "web"},
			{"id": "p3", "name": "Cy", "age": 41, "team": "core"},
			{"id": "p4", "name": "Di", "age": 19, "team": "ops"},
			{"id": "p5", "name": "Ed", "team": "web"},
		} {
			if _, err := tx.InsertRaw("people", d); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func names(docs []storage.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["name"].(string))
	}
	return out
}

func TestExecuteQueryPlans(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	seedPeople(t, db)
	qe := db.Query()

	tests := []struct {
		name  string
		build func(b *query.Builder) *query.Builder
		plan  string
		want  []string
	}{
		{
			"eq on hash index",
			func(b *query.Builder) *query.Builder { return b.WhereEq("team", "core").OrderBy("name", query.Asc) },
			PlanIndex, []string{"Ada", "Cy"},
		},
		{
			"in on hash index",
			func(b *query.Builder) *query.Builder {
				return b.Where("team", query.In, []interface{}{"web", "ops"}).OrderBy("name", query.Asc)
			},
			PlanIndex, []string{"Bob", "Di", "Ed"},
		},
		{
			"range on btree index",
			func(b *query.Builder) *query.Builder {
				return b.Where("age", query.Gte, 25).Where("age", query.Lt, 41).OrderBy("age", query.Desc)
			},
			PlanRange, []string{"Ada", "Bob"},
		},
		{
			"eq beats range",
			func(b *query.Builder) *query.Builder { return b.Where("age", query.Gt, 20).WhereEq("team", "core").OrderBy("age", query.Asc) },
			PlanIndex, []string{"Ada", "Cy"},
		},
		{
			"or scans",
			func(b *query.Builder) *query.Builder {
				return b.OrWhere("team", query.Eq, "ops").OrWhere("name", query.StartsWith, "E").OrderBy("name", query.Asc)
			},
			PlanScan, []string{"Di", "Ed"},
		},
		{
			"unindexed field scans",
			func(b *query.Builder) *query.Builder { return b.Where("name", query.Like, "%d%").OrderBy("name", query.Asc) },
			PlanScan, []string{"Ada", "Ed"},
		},
		{
			"missing values sort first",
			func(b *query.Builder) *query.Builder { return b.OrderBy("age", query.Asc) },
			PlanScan, []string{"Ed", "Di", "Bob", "Ada", "Cy"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q, err := tc.build(query.NewBuilder("people")).Build()
			require.NoError(t, err)

			plan, err := qe.Explain(q)
			require.NoError(t, err)
			assert.Equal(t, tc.plan, plan)

			res, err := qe.ExecuteQuery(q)
			require.NoError(t, err)
			assert.Equal(t, tc.want, names(res.Documents))
			assert.Equal(t, len(tc.want), res.TotalCount)
		})
	}
}

func TestExecuteQueryPaginationAndProjection(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	seedPeople(t, db)

	q, err := query.NewBuilder("people").OrderBy("name", query.Asc).Offset(1).Omit("team", "age").Build()
	require.NoError(t, err)
	res, err := db.Query().ExecuteQuery(q)
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalCount)
	require.NotNil(t, res.Limit)
	assert.Equal(t, 100, *res.Limit)
	assert.Equal(t, []string{"Bob", "Cy", "Di", "Ed"}, names(res.Documents))
	assert.Equal(t, storage.Document{"id": "p2", "name": "Bob"}, res.Documents[0])

	res, err = db.Query().ExecuteSQL(`SELECT name FROM people ORDER BY name DESC LIMIT 2 OFFSET 1`)
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalCount)
	assert.Equal(t, []storage.Document{{"name": "Di"}, {"name": "Cy"}}, res.Documents)

	res, err = db.Query().ExecuteSQL(`SELECT * FROM people WHERE team = 'nobody'`)
	require.NoError(t, err)
	assert.NotNil(t, res.Documents)
	assert.Empty(t, res.Documents)

	_, err = db.Query().ExecuteSQL(`SELECT * FROM ghosts`)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.Query().ExecuteSQL(`SELECT * FROM people WHERE`)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestIterate(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	seedPeople(t, db)

	q, err := query.NewBuilder("people").Where("age", query.Gt, 20).OrderBy("age", query.Asc).Limit(2).Select("name").Build()
	require.NoError(t, err)
	it, err := db.Query().Iterate(q)
	require.NoError(t, err)
	docs, err := Drain(it)
	require.NoError(t, err)
	assert.Equal(t, []storage.Document{{"name": "Bob"}, {"name": "Ada"}}, docs)
}

func TestExecuteSQLInsert(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	registerOrders(t, db)

	res, err := db.Query().ExecuteSQL(`INSERT INTO orders (id, qty, price) VALUES ('o1', 2, 5), ('o2', 3, 10)`)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
	assert.Equal(t, 10.0, res.Documents[0]["total"])
	assert.Equal(t, 30.0, res.Documents[1]["total"])

	// one bad row rejects the whole statement
	_, err = db.Query().ExecuteSQL(`INSERT INTO orders (id, qty, price) VALUES ('o3', 1, 1), ('o4', 1, -1)`)
	assert.ErrorIs(t, err, ErrSchemaValidation)

	res, err = db.Query().ExecuteSQL(`SELECT id FROM orders WHERE total >= 10 ORDER BY total`)
	require.NoError(t, err)
	assert.Equal(t, []storage.Document{{"id": "o1"}, {"id": "o2"}}, res.Documents)
}

func TestReopenAndClose(t *testing.T) {
	root := t.TempDir()
	db, err := Open(DefaultOptions(root, "space", "db"))
	require.NoError(t, err)
	registerOrders(t, db)
	_, err = db.Collections().InsertWithSchema("orders", storage.Document{"id": "o1", "qty": 1, "price": 2})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.True(t, db.IsClosed())

	_, err = db.Collections().GetDocument("orders", "o1")
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	_, err = db.Query().ExecuteSQL(`SELECT * FROM orders`)
	assert.ErrorIs(t, err, ErrDatabaseClosed)

	db = openTestDB(t, root)
	doc, err := db.Collections().GetDocument("orders", "o1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, doc["total"])

	// schemas are loaded from disk on open
	_, err = db.Collections().InsertWithSchema("orders", storage.Document{"id": "o2", "qty": 1, "price": -2})
	assert.ErrorIs(t, err, ErrSchemaValidation)
}

func TestRegisterSchemaRejectsBadPaths(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	cm := db.Collections()
	for _, rel := range []string{"../escape.json", "/abs.json", "noext", "a/../../b.json"} {
		_, err := cm.RegisterSchema(rel, map[string]interface{}{"type": "object"})
		assert.ErrorIs(t, err, ErrInvalidArgument, rel)
	}
	_, err := cm.RegisterSchema("list.json", []interface{}{1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = os.Stat(filepath.Join(db.Layout().SchemasRoot(), "list.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenRequiresOptions(t *testing.T) {
	_, err := Open(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Open(DefaultOptions(t.TempDir(), "space", ".."))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Root = "/data"
	cfg.Cache.Capacity = 0
	cfg.Cache.TTL = time.Minute
	cfg.Query.MaxLimit = 50
	cfg.Data.Dataset = "/data/seed"

	opts := OptionsFromConfig(cfg)
	assert.Equal(t, "/data", opts.Root)
	assert.Equal(t, "default", opts.Space)
	assert.Equal(t, "main", opts.DB)
	assert.Equal(t, -1, opts.CacheCapacity)
	assert.Equal(t, time.Minute, opts.CacheTTL)
	assert.Equal(t, 50, opts.MaxLimit)
	assert.Equal(t, 100, opts.DefaultLimit)
	assert.Equal(t, "/data/seed", opts.DatasetDir)
	assert.Equal(t, 0, opts.withDefaults().CacheCapacity)
}
