package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestQueries(t *testing.T) *Queries {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewQueries(database)
}

func TestPutGetDelete(t *testing.T) {
	q := openTestQueries(t)

	_, err := q.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, q.Put("k", "one"))
	v, err := q.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "one", v)

	require.NoError(t, q.Put("k", "two"))
	v, err = q.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "two", v)

	updated, err := q.UpdatedAt("k")
	require.NoError(t, err)
	assert.False(t, updated.IsZero())

	require.NoError(t, q.Delete("k"))
	_, err = q.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, q.Delete("k"), "deleting a missing key is not an error")
}

func TestDBPathCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	p, err := DBPath(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "renderpilot.db"), p)
	assert.DirExists(t, dir)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	database, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, NewQueries(database).Put("k", "v"))
	require.NoError(t, database.Close())

	database, err = Open(path)
	require.NoError(t, err)
	defer database.Close()
	v, err := NewQueries(database).Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
