package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_HashPath(t *testing.T) {
	id := HashPath("docs/a.txt")

	assert.Len(t, string(id), 32)
	assert.Equal(t, id, HashPath("docs/a.txt"))
	assert.NotEqual(t, id, HashPath("docs/b.txt"))
}

func Test_LoadRegistry_CreatesMenu(t *testing.T) {
	dir := t.TempDir()

	r, err := LoadRegistry(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())

	raw, err := os.ReadFile(filepath.Join(dir, "menu.json"))
	require.NoError(t, err)
	assert.JSONEq(t, "{}", string(raw))
}

func Test_Registry_Roundtrip(t *testing.T) {
	dir := t.TempDir()

	r, err := LoadRegistry(dir)
	require.NoError(t, err)

	id := HashPath("a.txt")
	r.Put(id, Entry{Name: "a.txt", Path: "a.txt", Modified: 1234.5})
	r.Put(HashPath("sub/b.txt"), Entry{Name: "b.txt", Path: "sub/b.txt", Modified: NotBuilt})
	require.NoError(t, r.Save())

	r2, err := LoadRegistry(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, r2.Len())

	e, ok := r2.Get(id)
	require.True(t, ok)
	assert.Equal(t, Entry{Name: "a.txt", Path: "a.txt", Modified: 1234.5}, e)

	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, r2.Paths())
}

func Test_Registry_SaveIsDeterministic(t *testing.T) {
	dir := t.TempDir()

	r, err := LoadRegistry(dir)
	require.NoError(t, err)

	r.Put(HashPath("a.txt"), Entry{Name: "a.txt", Path: "a.txt", Modified: 1})
	r.Put(HashPath("b.txt"), Entry{Name: "b.txt", Path: "b.txt", Modified: 2})
	require.NoError(t, r.Save())

	first, err := os.ReadFile(filepath.Join(dir, "menu.json"))
	require.NoError(t, err)

	require.NoError(t, r.Save())
	second, err := os.ReadFile(filepath.Join(dir, "menu.json"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
