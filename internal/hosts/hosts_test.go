package hosts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostsFile(t *testing.T, content string) *File {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return New(p)
}

func read(t *testing.T, f *File) string {
	t.Helper()
	b, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	return string(b)
}

func TestAddEntryIdempotent(t *testing.T) {
	f := hostsFile(t, "127.0.0.1 localhost")
	require.NoError(t, f.AddEntry("shop.test"))
	require.NoError(t, f.AddEntry("shop.test"))
	assert.Equal(t, "127.0.0.1 localhost\n127.0.0.1 shop.test # stackr\n", read(t, f))

	ok, err := f.Has("SHOP.test")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddEntryRespectsExistingMapping(t *testing.T) {
	f := hostsFile(t, "127.0.0.1 localhost blog.test\n")
	require.NoError(t, f.AddEntry("blog.test"))
	assert.Equal(t, "127.0.0.1 localhost blog.test\n", read(t, f))
}

func TestRemoveEntry(t *testing.T) {
	f := hostsFile(t, "127.0.0.1 localhost\n127.0.0.1 shop.test # stackr\n10.0.0.5 shop.test.internal\n")
	require.NoError(t, f.RemoveEntry("shop.test"))
	assert.Equal(t, "127.0.0.1 localhost\n10.0.0.5 shop.test.internal\n", read(t, f))

	// absent: file untouched
	require.NoError(t, f.RemoveEntry("shop.test"))
	assert.Equal(t, "127.0.0.1 localhost\n10.0.0.5 shop.test.internal\n", read(t, f))

	ok, err := f.Has("shop.test")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveDoesNotMatchSubstrings(t *testing.T) {
	f := hostsFile(t, "127.0.0.1 myshop.test\n")
	require.NoError(t, f.RemoveEntry("shop.test"))
	assert.Equal(t, "127.0.0.1 myshop.test\n", read(t, f))
}

func TestInvalidDomain(t *testing.T) {
	f := hostsFile(t, "")
	assert.ErrorIs(t, f.AddEntry(""), ErrInvalidDomain)
	assert.ErrorIs(t, f.AddEntry("a b"), ErrInvalidDomain)
	assert.ErrorIs(t, f.RemoveEntry("#x"), ErrInvalidDomain)
}

func TestMissingFile(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, f.AddEntry("a.test"))
}

func TestDefaultPath(t *testing.T) {
	assert.NotEmpty(t, New("").Path())
}

func TestRemoveLeavesUnmarkedLines(t *testing.T) {
	const orig = "127.0.0.1 localhost\n127.0.0.1 api.test web.test\n"
	f := hostsFile(t, orig)

	require.NoError(t, f.AddEntry("web.test"))
	require.NoError(t, f.RemoveEntry("web.test"))
	assert.Equal(t, orig, read(t, f))

	require.NoError(t, f.AddEntry("localhost"))
	require.NoError(t, f.RemoveEntry("localhost"))
	assert.Equal(t, orig, read(t, f))
}

func TestRemoveStripsOneHostFromOwnedLine(t *testing.T) {
	f := hostsFile(t, "127.0.0.1 a.test b.test # stackr\n")
	require.NoError(t, f.RemoveEntry("a.test"))
	assert.Equal(t, "127.0.0.1 b.test # stackr\n", read(t, f))
	require.NoError(t, f.RemoveEntry("b.test"))
	assert.Equal(t, "", read(t, f))
}

func TestWriteKeepsMode(t *testing.T) {
	f := hostsFile(t, "127.0.0.1 localhost\n")
	require.NoError(t, os.Chmod(f.Path(), 0o640))
	require.NoError(t, f.AddEntry("shop.test"))
	fi, err := os.Stat(f.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())
	entries, err := os.ReadDir(filepath.Dir(f.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
