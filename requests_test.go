package jsondb

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

func writeDataset(t *testing.T, dir, name string, doc map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func openWithDataset(t *testing.T) (*Database, string) {
	t.Helper()
	dataset := t.TempDir()
	opts := DefaultOptions(t.TempDir(), "space", "db")
	opts.DatasetDir = dataset
	db, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Collections().CreateCollection("actors", ""))
	return db, dataset
}

func TestExecuteRequestsResolvesHandles(t *testing.T) {
	db, _ := openWithDataset(t)
	cm := db.Collections()

	err := cm.ExecuteRequests([]Request{
		{Type: RequestInsert, Collection: "actors", ID: "a1", Document: storage.Document{"handle": "bob", "role": "worker"}},
		{Type: RequestInsert, Collection: "actors", ID: "a2", Document: storage.Document{"handle": "eve", "role": "worker"}},
	})
	require.NoError(t, err)

	err = cm.ExecuteRequests([]Request{
		{Type: RequestUpdate, Collection: "actors", Handle: "bob", Document: storage.Document{"role": "boss"}},
		{Type: RequestDelete, Collection: "actors", Handle: "eve"},
	})
	require.NoError(t, err)

	bob, err := cm.GetDocument("actors", "a1")
	require.NoError(t, err)
	assert.Equal(t, "boss", bob["role"])
	assert.Equal(t, "bob", bob["handle"])
	_, err = cm.GetDocument("actors", "a2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecuteRequestsIsAtomic(t *testing.T) {
	db, _ := openWithDataset(t)
	cm := db.Collections()

	err := cm.ExecuteRequests([]Request{
		{Type: RequestInsert, Collection: "actors", ID: "a1", Document: storage.Document{"handle": "bob"}},
		{Type: RequestUpdate, Collection: "actors", Handle: "ghost", Document: storage.Document{"role": "x"}},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := cm.ListAll("actors")
	require.NoError(t, err)
	assert.Empty(t, all)

	err = cm.ExecuteRequests([]Request{{Type: RequestUpdate, Collection: "actors", Document: storage.Document{}}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	err = cm.ExecuteRequests([]Request{{Type: "merge", Collection: "actors"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFileRequests(t *testing.T) {
	db, dataset := openWithDataset(t)
	cm := db.Collections()

	writeDataset(t, dataset, "bob.json", map[string]interface{}{"handle": "bob", "role": "worker"})
	require.NoError(t, cm.ExecuteRequests([]Request{
		{Type: RequestUpsertFrom, Collection: "actors", Path: "$DATASET/bob.json"},
	}))

	writeDataset(t, dataset, "bob.json", map[string]interface{}{"handle": "bob", "role": "boss"})
	require.NoError(t, cm.ExecuteRequests([]Request{
		{Type: RequestUpsertFrom, Collection: "actors", Path: "bob.json"},
	}))

	all, err := cm.ListAll("actors")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "boss", all[0]["role"])

	writeDataset(t, dataset, "carol.json", map[string]interface{}{"id": "c1", "handle": "carol", "level": 1.0})
	require.NoError(t, cm.ExecuteRequests([]Request{
		{Type: RequestInsertFrom, Collection: "actors", Path: filepath.Join(dataset, "carol.json")},
	}))
	writeDataset(t, dataset, "carol.json", map[string]interface{}{"handle": "carol", "level": 2.0})
	require.NoError(t, cm.ExecuteRequests([]Request{
		{Type: RequestUpdateFrom, Collection: "actors", Path: "carol.json"},
	}))
	carol, err := cm.GetDocument("actors", "c1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, carol["level"])

	writeDataset(t, dataset, "nobody.json", map[string]interface{}{"handle": "nobody"})
	err = cm.ExecuteRequests([]Request{{Type: RequestUpdateFrom, Collection: "actors", Path: "nobody.json"}})
	assert.ErrorIs(t, err, ErrNotFound)
	err = cm.ExecuteRequests([]Request{{Type: RequestInsertFrom, Collection: "actors", Path: "missing.json"}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCollectionUsesCatalogSchema(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	registerOrders(t, db)
	cm := db.Collections()
	require.NoError(t, cm.DropCollection("orders"))

	// a catalog entry left for a collection that is not on disk, recorded
	// under another database's namespace
	catalog, err := storage.LoadCatalog(db.Layout().SystemPath())
	require.NoError(t, err)
	catalog.AddCollection("orders", "db://other/db/schemas/v1/orders/order.json")
	require.NoError(t, catalog.Save())

	require.NoError(t, cm.CreateCollection("orders", ""))
	uri, err := cm.SchemaOf("orders")
	require.NoError(t, err)
	assert.Equal(t, "db://space/db/schemas/v1/orders/order.json", uri)

	doc, err := cm.InsertWithSchema("orders", storage.Document{"id": "o1", "qty": 2, "price": 3})
	require.NoError(t, err)
	assert.Equal(t, 6.0, doc["total"])

	catalog, err = storage.LoadCatalog(db.Layout().SystemPath())
	require.NoError(t, err)
	catalog.AddCollection("invoices", "invoices/missing.json")
	require.NoError(t, catalog.Save())
	assert.ErrorIs(t, cm.CreateCollection("invoices", ""), ErrNotFound)
	assert.False(t, cm.HasCollection("invoices"))
}
