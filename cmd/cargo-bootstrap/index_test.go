package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsukumogami/cargo-bootstrap/internal/config"
	"github.com/tsukumogami/cargo-bootstrap/internal/registryindex"
)

func TestCrateNameFromVersionJSON(t *testing.T) {
	name, err := crateNameFromVersionJSON(`{"name":"serde","vers":"1.0.0"}`)
	require.NoError(t, err)
	require.Equal(t, "serde", name)
}

func TestCrateNameFromVersionJSONMissingName(t *testing.T) {
	_, err := crateNameFromVersionJSON(`{"vers":"1.0.0"}`)
	require.Error(t, err)
}

func TestIndexRootDerivesFromCacheDir(t *testing.T) {
	cfg := &config.Config{CacheDir: "/tmp/cache"}
	require.Equal(t, "/tmp/cache-index", indexRoot(cfg))
}

// TestYankPreservesExistingFields exercises the read-merge-write sequence
// indexYankCmd performs, proving a yank doesn't clobber the cksum/deps
// fields a prior publish wrote.
func TestYankPreservesExistingFields(t *testing.T) {
	root := t.TempDir()
	path := registryindex.IndexPath(root, "leaf")

	published := `{"name":"leaf","vers":"0.1.0","cksum":"deadbeef","deps":[],"yanked":false}`
	require.NoError(t, registryindex.UpdateEntry(path, []byte(published)))

	existing, found, err := registryindex.GetEntry(path, "0.1.0")
	require.NoError(t, err)
	require.True(t, found)

	yanked, err := registryindex.SetYanked(existing, true)
	require.NoError(t, err)
	require.NoError(t, registryindex.UpdateEntry(path, yanked))

	final, found, err := registryindex.GetEntry(filepath.Clean(path), "0.1.0")
	require.NoError(t, err)
	require.True(t, found)
	require.Contains(t, string(final), `"cksum":"deadbeef"`)
	require.Contains(t, string(final), `"yanked":true`)
}

func TestYankFailsWhenVersionNeverPublished(t *testing.T) {
	root := t.TempDir()
	path := registryindex.IndexPath(root, "leaf")

	_, found, err := registryindex.GetEntry(path, "9.9.9")
	require.NoError(t, err)
	require.False(t, found)
}
