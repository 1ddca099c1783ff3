// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path    string
		want    Language
		wantErr bool
	}{
		{"service/cache.py", LangPython, false},
		{"main.go", LangGo, false},
		{"UPPER.PY", LangPython, false},
		{"notes.txt", "", true},
		{"Makefile", "", true},
	}
	for _, tt := range tests {
		got, err := DetectLanguage(tt.path)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedLanguage, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestParseBytes_Python(t *testing.T) {
	s := NewScanner()
	f, err := s.ParseBytes(context.Background(), "m.py", LangPython, []byte("x = 1\n"))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, LangPython, f.Language)
	assert.Equal(t, "module", f.Root().Type())
	assert.Empty(t, f.ModulePath)
}

func TestParseBytes_Go(t *testing.T) {
	s := NewScanner()
	src := []byte("package demo\n\nvar counter int\n")
	f, err := s.ParseBytes(context.Background(), "demo.go", LangGo, src)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, LangGo, f.Language)
	assert.Equal(t, "source_file", f.Root().Type())
}

func TestParseBytes_RejectsInvalidUTF8(t *testing.T) {
	s := NewScanner()
	_, err := s.ParseBytes(context.Background(), "bad.py", LangPython, []byte{0xff, 0xfe, 0x00})
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestParse_ResolvesGoModulePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"),
		[]byte("module example.com/demo\n\ngo 1.24\n"), 0o644))

	sub := filepath.Join(dir, "internal", "store")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	goFile := filepath.Join(sub, "store.go")
	require.NoError(t, os.WriteFile(goFile, []byte("package store\n\nvar cache map[string]int\n"), 0o644))

	s := NewScanner()
	f, err := s.Parse(context.Background(), goFile)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "example.com/demo", f.ModulePath)

	// Second parse in the same directory hits the cache.
	f2, err := s.Parse(context.Background(), goFile)
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, "example.com/demo", f2.ModulePath)
}

func TestScanAll_SkipsFailuresSoftly(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "ok.py")
	require.NoError(t, os.WriteFile(good, []byte("x = 1\n"), 0o644))
	unsupported := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(unsupported, []byte("hi"), 0o644))
	missing := filepath.Join(dir, "gone.py")

	s := NewScanner()
	files, stats := s.ScanAll(context.Background(), []string{good, unsupported, missing})
	for _, f := range files {
		defer f.Close()
	}

	assert.Len(t, files, 1)
	assert.Equal(t, 1, stats.Parsed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Contains(t, stats.SkippedPaths, unsupported)
	assert.Contains(t, stats.SkippedPaths, missing)
}
