package musiccache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "music_cache.list")

	c, err := Open(path)
	require.NoError(t, err)

	_, err = c.Get("186016")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Add("186016", `{"title":"晴天"}`))
	require.NoError(t, c.Add("42", "answer"))
	require.NoError(t, c.Add("42", "answer"))
	require.NoError(t, c.Add("42", "changed"))

	v, err := c.Get("42")
	require.NoError(t, err)
	require.Equal(t, "changed", v)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "186016 => {\"title\":\"晴天\"}\n42 => answer\n42 => changed\n", string(data))

	reopened, err := Open(path)
	require.NoError(t, err)
	v, err = reopened.Get("186016")
	require.NoError(t, err)
	require.Equal(t, `{"title":"晴天"}`, v)
	v, err = reopened.Get("42")
	require.NoError(t, err)
	require.Equal(t, "changed", v)
}

func TestInvalidEntriesAreRejected(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.list"))
	require.NoError(t, err)

	require.Error(t, c.Add("a => b", "v"))
	require.Error(t, c.Add("k", "multi\nline"))
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.list")
	require.NoError(t, os.WriteFile(path, []byte("garbage\n => empty\nk => v\n"), 0644))

	c, err := Open(path)
	require.NoError(t, err)
	v, err := c.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
	_, err = c.Get("garbage")
	require.ErrorIs(t, err, ErrNotFound)
}
