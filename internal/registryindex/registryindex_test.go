package registryindex

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndexPathBucketsByNameLength(t *testing.T) {
	require.Equal(t, filepath.Join("/root", "1", "a"), IndexPath("/root", "a"))
	require.Equal(t, filepath.Join("/root", "2", "ab"), IndexPath("/root", "ab"))
	require.Equal(t, filepath.Join("/root", "3", "a", "abc"), IndexPath("/root", "abc"))
	require.Equal(t, filepath.Join("/root", "ab", "cd", "abcdef"), IndexPath("/root", "abcdef"))
}

func TestUpdateEntryCreatesFileOnFirstPublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "le", "af", "leaf")

	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.1.0"}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"vers":"0.1.0"`)
}

func TestUpdateEntryReplacesMatchingVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaf")

	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.1.0","cksum":"aaa"}`)))
	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.2.0","cksum":"bbb"}`)))
	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.1.0","cksum":"ccc"}`)))

	lines, err := readLines(path)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	var sawUpdated, sawUntouched bool
	for _, l := range lines {
		switch {
		case strings.Contains(l,`"vers":"0.1.0"`):
			require.Contains(t, l, `"cksum":"ccc"`)
			sawUpdated = true
		case strings.Contains(l,`"vers":"0.2.0"`):
			require.Contains(t, l, `"cksum":"bbb"`)
			sawUntouched = true
		}
	}
	require.True(t, sawUpdated)
	require.True(t, sawUntouched)
}

func TestRemoveEntryDropsMatchingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaf")

	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.1.0"}`)))
	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.2.0"}`)))
	require.NoError(t, RemoveEntry(path, "0.1.0"))

	lines, err := readLines(path)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], `"vers":"0.2.0"`)
}

func TestGetEntryFindsMatchingLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaf")

	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.1.0","cksum":"aaa"}`)))
	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.2.0","cksum":"bbb"}`)))

	entry, found, err := GetEntry(path, "0.1.0")
	require.NoError(t, err)
	require.True(t, found)
	require.Contains(t, string(entry), `"cksum":"aaa"`)
}

func TestGetEntryNotFoundWhenFileAbsentOrNoMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leaf")

	_, found, err := GetEntry(path, "0.1.0")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, UpdateEntry(path, []byte(`{"name":"leaf","vers":"0.2.0"}`)))
	_, found, err = GetEntry(path, "0.1.0")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveEntryNoopWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, RemoveEntry(filepath.Join(dir, "missing"), "0.1.0"))
}

func TestSetYankedPatchesSingleField(t *testing.T) {
	out, err := SetYanked([]byte(`{"name":"leaf","vers":"0.1.0","yanked":false}`), true)
	require.NoError(t, err)
	require.Contains(t, string(out), `"yanked":true`)
}
