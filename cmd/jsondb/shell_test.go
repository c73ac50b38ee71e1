package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/jsondb"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

func newTestShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	db, err := jsondb.Open(jsondb.DefaultOptions(t.TempDir(), "space", "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cm := db.Collections()
	require.NoError(t, cm.CreateCollection("users", ""))
	_, err = cm.CreateIndex("users", "email", storage.IndexHash)
	require.NoError(t, err)
	_, err = cm.InsertRaw("users", storage.Document{"id": "u1", "email": "a@x.com", "age": 30})
	require.NoError(t, err)

	var out bytes.Buffer
	return newShell(db, &out), &out
}

func TestShellBuffersUntilSemicolon(t *testing.T) {
	sh, out := newTestShell(t)

	assert.False(t, sh.feed("SELECT age"))
	assert.True(t, sh.pending())
	assert.Empty(t, out.String())

	assert.False(t, sh.feed("FROM users WHERE email = 'a@x.com';"))
	assert.False(t, sh.pending())
	assert.Contains(t, out.String(), `"age": 30`)
	assert.Contains(t, out.String(), "(1 of 1)")
}

func TestShellReportsErrors(t *testing.T) {
	sh, out := newTestShell(t)
	sh.feed("SELECT * FROM users WHERE;")
	assert.Contains(t, out.String(), "error: syntax error at offset 25")

	out.Reset()
	sh.feed("SELECT * FROM ghosts;")
	assert.Contains(t, out.String(), "error: ")
}

func TestShellCommands(t *testing.T) {
	sh, out := newTestShell(t)

	assert.False(t, sh.feed(".collections"))
	assert.Equal(t, "users\n", out.String())

	out.Reset()
	sh.feed(".explain SELECT * FROM users WHERE email = 'a@x.com'")
	assert.Equal(t, "index\n", out.String())

	out.Reset()
	sh.feed(".indexes users")
	assert.Contains(t, out.String(), "email\t/email\thash")

	out.Reset()
	sh.feed(".bogus")
	assert.Contains(t, out.String(), "unknown command .bogus")

	assert.True(t, sh.feed(".exit"))
}

func TestShellComplete(t *testing.T) {
	sh, _ := newTestShell(t)
	assert.Equal(t, []string{"SELECT * FROM users"}, sh.complete("SELECT * FROM us"))
	assert.Equal(t, []string{"SELECT"}, sh.complete("sel"))
	assert.Nil(t, sh.complete("SELECT "))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, 42.0, parseValue("42"))
	assert.Equal(t, true, parseValue("true"))
	assert.Equal(t, "a@x.com", parseValue("a@x.com"))
	assert.Equal(t, "quoted", parseValue(`"quoted"`))
}
