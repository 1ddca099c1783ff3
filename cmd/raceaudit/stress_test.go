package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStressConfig_Defaults(t *testing.T) {
	stressConfigPath, stressThreads, stressIterations = "", 0, 0

	cfg, err := loadStressConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.ThreadCount)
	assert.Equal(t, 100, cfg.IterationsPerThread)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, time.Millisecond, cfg.ConflictWindow)
}

func TestLoadStressConfig_YAMLAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stress.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"threadCount: 50\niterationsPerThread: 200\ntimeout: 5s\nconflictWindow: 2ms\n"), 0o644))

	stressConfigPath, stressThreads, stressIterations = path, 0, 0
	cfg, err := loadStressConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.ThreadCount)
	assert.Equal(t, 200, cfg.IterationsPerThread)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Millisecond, cfg.ConflictWindow)

	// Flags override the file.
	stressThreads, stressIterations = 4, 7
	cfg, err = loadStressConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ThreadCount)
	assert.Equal(t, 7, cfg.IterationsPerThread)

	stressConfigPath, stressThreads, stressIterations = "", 0, 0
}

func TestLoadStressConfig_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threadCount: [oops\n"), 0o644))

	stressConfigPath = path
	_, err := loadStressConfig()
	assert.Error(t, err)
	stressConfigPath = ""
}
