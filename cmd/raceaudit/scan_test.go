package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectSources(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(rel string) string {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		return path
	}

	py := mustWrite("svc/cache.py")
	goFile := mustWrite("svc/store.go")
	mustWrite("svc/notes.txt")
	mustWrite(".git/config.py")
	mustWrite("vendor/dep/dep.go")

	paths, err := collectSources([]string{dir})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{py, goFile}, paths)
}

func TestCollectSources_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "one.py")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))

	paths, err := collectSources([]string{path})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestCollectSources_MissingArg(t *testing.T) {
	_, err := collectSources([]string{filepath.Join(t.TempDir(), "gone")})
	assert.Error(t, err)
}
