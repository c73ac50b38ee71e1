package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := NewStore(NewLayout(t.TempDir(), "space", "db"), opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestDocumentRoundTrip(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.CreateCollectionIfMissing("users"))

	doc := Document{"id": "u1", "name": "Ada", "age": 36.0, "tags": []interface{}{"a", "b"}}
	require.NoError(t, s.CreateDocument("users", "u1", doc))

	got, err := s.ReadDocument("users", "u1")
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	_, err = os.Stat(filepath.Join(s.Layout().CollectionPath("users"), "u1.json"))
	assert.NoError(t, err)
}

func TestUpdateOverwrites(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.CreateCollectionIfMissing("users"))
	require.NoError(t, s.CreateDocument("users", "u1", Document{"id": "u1", "v": 1.0}))
	require.NoError(t, s.UpdateDocument("users", "u1", Document{"id": "u1", "v": 2.0}))

	got, err := s.ReadDocument("users", "u1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got["v"])

	ids, err := s.ListDocumentIDs("users")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, ids)
}

func TestReadErrors(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.CreateCollectionIfMissing("users"))

	_, err := s.ReadDocument("users", "missing")
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)

	path := s.Layout().DocumentPath("users", "broken")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err = s.ReadDocument("users", "broken")
	assert.True(t, errors.Is(err, util.ErrSerialization), "got %v", err)

	err = s.DeleteDocument("users", "missing")
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)
}

func TestInvalidIDs(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.CreateCollectionIfMissing("users"))

	for _, id := range []string{"", "_config", "../escape", "a/b", ".."} {
		err := s.CreateDocument("users", id, Document{})
		assert.True(t, errors.Is(err, util.ErrInvalidArgument), "id %q: got %v", id, err)
	}
}

func TestListDocumentIDsFiltersAndSorts(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.CreateCollectionIfMissing("items"))

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.CreateDocument("items", id, Document{"id": id}))
	}
	dir := s.Layout().CollectionPath("items")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_config.json"), []byte("{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "_indexes"), 0o755))

	ids, err := s.ListDocumentIDs("items")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestListDocumentsSkipsUnreadable(t *testing.T) {
	s := newTestStore(t, Options{Workers: 2})
	require.NoError(t, s.CreateCollectionIfMissing("items"))

	for _, id := range []string{"a", "b", "d"} {
		require.NoError(t, s.CreateDocument("items", id, Document{"id": id}))
	}
	dir := s.Layout().CollectionPath("items")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte("[1,2"), 0o644))

	docs, err := s.ListDocuments("items")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a", docs[0]["id"])
	assert.Equal(t, "b", docs[1]["id"])
	assert.Equal(t, "d", docs[2]["id"])
}

func TestListDocumentsMissingCollection(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.ListDocuments("ghost")
	assert.True(t, errors.Is(err, util.ErrNotFound), "got %v", err)
}

func TestCollectionsLifecycle(t *testing.T) {
	s := newTestStore(t, Options{})
	require.NoError(t, s.CreateCollectionIfMissing("b"))
	require.NoError(t, s.CreateCollectionIfMissing("a"))
	require.NoError(t, s.CreateCollectionIfMissing("_migrations"))
	require.NoError(t, s.CreateCollectionIfMissing("a"))

	names, err := s.ListCollections()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.True(t, s.CollectionExists("_migrations"))

	require.NoError(t, s.CreateDocument("a", "x", Document{"id": "x"}))
	require.NoError(t, s.DropCollection("a"))
	assert.False(t, s.CollectionExists("a"))
	assert.True(t, errors.Is(s.DropCollection("a"), util.ErrNotFound))
}

func TestCacheServesAndInvalidates(t *testing.T) {
	s := newTestStore(t, Options{CacheCapacity: 8})
	require.NoError(t, s.CreateCollectionIfMissing("users"))
	require.NoError(t, s.CreateDocument("users", "u1", Document{"id": "u1", "v": 1.0}))

	got, err := s.ReadDocument("users", "u1")
	require.NoError(t, err)
	// mutating the returned copy must not leak into the cache
	got["v"] = 99.0

	again, err := s.ReadDocument("users", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again["v"])

	require.NoError(t, s.DeleteDocument("users", "u1"))
	_, err = s.ReadDocument("users", "u1")
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestConfigDefaults(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.ReadConfig("ghost")
	assert.True(t, errors.Is(err, util.ErrNotFound))

	require.NoError(t, s.CreateCollectionIfMissing("users"))
	cfg, err := s.ReadConfig("users")
	require.NoError(t, err)
	assert.Equal(t, []IndexDefinition{IDIndex()}, cfg.Indexes)

	cfg.Schema = "db://space/db/schemas/v1/user.json"
	cfg.Indexes = nil
	require.NoError(t, s.WriteConfig("users", cfg))

	reloaded, err := s.ReadConfig("users")
	require.NoError(t, err)
	assert.Equal(t, "db://space/db/schemas/v1/user.json", reloaded.Schema)
	def, ok := reloaded.Index(IDIndexName)
	require.True(t, ok)
	assert.True(t, def.Unique)
}

func TestParseIndexType(t *testing.T) {
	for in, want := range map[string]IndexType{"Hash": IndexHash, "btree": IndexBTree, " TEXT ": IndexText} {
		got, err := ParseIndexType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIndexType("gin")
	assert.True(t, errors.Is(err, util.ErrInvalidArgument))
}
