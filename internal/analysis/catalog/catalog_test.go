// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
	"github.com/raceaudit/raceaudit/internal/analysis/index"
)

func binding(name, qualified string) index.Binding {
	return index.Binding{Name: name, QualifiedName: qualified}
}

func acc(subject string, kind access.Kind) access.Access {
	return access.Access{Subject: subject, Kind: kind}
}

func TestBuild_MergesAndAttachesAccesses(t *testing.T) {
	files := []*index.FileIndex{
		{
			Path:     "svc.py",
			Bindings: []index.Binding{binding("counter", "svc.counter")},
			Accesses: []access.Access{
				acc("counter", access.ReadWrite),
				acc("unrelated", access.Read),
			},
			Locks:           []index.LockHandle{{Name: "mu"}},
			Dropped:         2,
			HasSyncEvidence: true,
		},
		{
			Path:     "other.py",
			Accesses: []access.Access{acc("counter", access.Write)},
			Dropped:  1,
		},
	}

	c := Build(files)
	defer c.Dispose()

	require.Len(t, c.Candidates, 1)
	cand := c.Candidates[0]
	assert.Equal(t, "svc.counter", cand.QualifiedName)

	// Accesses attach across files, file order preserved.
	require.Len(t, cand.Accesses, 2)
	assert.Equal(t, access.ReadWrite, cand.Accesses[0].Kind)
	assert.Equal(t, access.Write, cand.Accesses[1].Kind)

	assert.Equal(t, 3, c.DroppedSubjects)
	assert.Len(t, c.Locks, 1)
	assert.True(t, c.HasSyncEvidence("svc.py"))
	assert.False(t, c.HasSyncEvidence("other.py"))
}

func TestBuild_PermissiveTailMatching(t *testing.T) {
	// An attribute access whose dotted tail matches the candidate name
	// attaches, and leading underscores are ignored on both sides. This
	// is the documented recall-over-precision trade.
	files := []*index.FileIndex{
		{
			Path:     "w.py",
			Bindings: []index.Binding{binding("_cache", "Worker._cache")},
			Accesses: []access.Access{
				acc("self._cache", access.Write),
				acc("other.cache", access.Read),
				acc("cache", access.Read),
			},
		},
	}

	c := Build(files)
	defer c.Dispose()

	require.Len(t, c.Candidates, 1)
	assert.Len(t, c.Candidates[0].Accesses, 3)
}

func TestBuild_SkipsDundersAndConstants(t *testing.T) {
	files := []*index.FileIndex{
		{
			Path: "m.py",
			Bindings: []index.Binding{
				binding("__all__", "m.__all__"),
				binding("MAX_RETRIES", "m.MAX_RETRIES"),
				binding("retries", "m.retries"),
			},
		},
	}

	c := Build(files)
	defer c.Dispose()

	require.Len(t, c.Candidates, 1)
	assert.Equal(t, "m.retries", c.Candidates[0].QualifiedName)
}

func TestBuild_DedupsByQualifiedName(t *testing.T) {
	files := []*index.FileIndex{
		{Path: "a.py", Bindings: []index.Binding{binding("x", "m.x")}},
		{Path: "b.py", Bindings: []index.Binding{binding("x", "m.x")}},
	}

	c := Build(files)
	defer c.Dispose()

	assert.Len(t, c.Candidates, 1)
}

func TestBuild_SharedKeyAttachesToAllCandidates(t *testing.T) {
	// Two classes with a field of the same name both receive matching
	// accesses; the matcher cannot tell instances apart.
	files := []*index.FileIndex{
		{
			Path: "w.py",
			Bindings: []index.Binding{
				binding("items", "Worker.items"),
				binding("items", "Queue.items"),
			},
			Accesses: []access.Access{acc("self.items", access.Write)},
		},
	}

	c := Build(files)
	defer c.Dispose()

	require.Len(t, c.Candidates, 2)
	assert.Len(t, c.Candidates[0].Accesses, 1)
	assert.Len(t, c.Candidates[1].Accesses, 1)
}

func TestIsConstantName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"MAX_RETRIES", true},
		{"_INTERNAL_LIMIT", true},
		{"DEFAULT_TIMEOUT_MS", true},
		{"MAXRETRIES", false},
		{"Max_Retries", false},
		{"counter", false},
		{"_", false},
		{"A_1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsConstantName(tt.name), tt.name)
	}
}
