// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package catalog merges per-file indexer output into a registry of
// candidate shared state.
//
// A catalog is built fresh for every analysis run and disposed at the
// end; nothing in this package is process-global, so concurrent runs
// never interfere.
package catalog

import (
	"strings"
	"unicode"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
	"github.com/raceaudit/raceaudit/internal/analysis/index"
)

// Candidate is one piece of possibly-shared mutable state with its
// ordered access list.
type Candidate struct {
	Name          string
	QualifiedName string
	DeclKind      index.DeclKind
	Shape         index.Shape
	TypeName      string
	OwningType    string
	DeclLocation  access.Location
	FilePath      string

	// Accesses is ordered: file walk order within a file, files in scan
	// order across files.
	Accesses []access.Access

	// Protected is set by the classifier: true iff the value is judged
	// inherently thread-safe or every recorded access is in lock context.
	Protected bool

	// ProtectedReason names the classifier rule that fired.
	ProtectedReason string
}

// Catalog is the merged registry for one analysis run.
type Catalog struct {
	Candidates []*Candidate
	Locks      []index.LockHandle

	// DroppedSubjects totals access subjects the indexers could not
	// resolve. Reported, never an error.
	DroppedSubjects int

	// fileEvidence records which files constructed locks or threads.
	fileEvidence map[string]bool

	byKey map[string][]*Candidate
}

// Build merges the given file indexes. Files should be supplied in a
// deterministic order; candidate ordering follows file order then
// declaration position, which keeps repeated runs byte-identical.
func Build(files []*index.FileIndex) *Catalog {
	c := &Catalog{
		fileEvidence: make(map[string]bool),
		byKey:        make(map[string][]*Candidate),
	}
	seen := make(map[string]bool)

	for _, fi := range files {
		c.DroppedSubjects += fi.Dropped
		c.fileEvidence[fi.Path] = fi.HasSyncEvidence
		c.Locks = append(c.Locks, fi.Locks...)

		for _, b := range fi.Bindings {
			if isDunder(b.Name) || IsConstantName(b.Name) {
				continue
			}
			if seen[b.QualifiedName] {
				continue
			}
			seen[b.QualifiedName] = true
			cand := &Candidate{
				Name:          b.Name,
				QualifiedName: b.QualifiedName,
				DeclKind:      b.DeclKind,
				Shape:         b.Shape,
				TypeName:      b.TypeName,
				OwningType:    b.OwningType,
				DeclLocation:  b.Location,
				FilePath:      fi.Path,
			}
			c.Candidates = append(c.Candidates, cand)
			key := matchKey(b.Name)
			c.byKey[key] = append(c.byKey[key], cand)
		}
	}

	// Second pass: attach accesses. Subject-to-candidate matching strips
	// leading underscores and compares the tail component of the dotted
	// path. This is deliberately permissive (recall over precision) and
	// is a documented source of false positives.
	for _, fi := range files {
		for _, a := range fi.Accesses {
			for _, cand := range c.byKey[matchKey(a.Subject)] {
				cand.Accesses = append(cand.Accesses, a)
			}
		}
	}

	return c
}

// HasSyncEvidence reports whether the given file constructed any lock or
// thread. Used as a false-positive indicator downstream.
func (c *Catalog) HasSyncEvidence(path string) bool {
	return c.fileEvidence[path]
}

// Dispose releases the catalog's state. The catalog must not be used
// afterwards; analysis runs never share a catalog.
func (c *Catalog) Dispose() {
	c.Candidates = nil
	c.Locks = nil
	c.fileEvidence = nil
	c.byKey = nil
}

// matchKey normalizes a subject or candidate name for correlation:
// the tail component of the dotted path with leading underscores
// stripped.
func matchKey(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimLeft(name, "_")
}

// isDunder reports Python dunder names (__name__), which are never
// candidates.
func isDunder(name string) bool {
	return strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") &&
		len(name) > 4
}

// IsConstantName reports the constant-naming heuristic: all caps with an
// internal separator (MAX_RETRIES). A heuristic, not a guarantee.
func IsConstantName(name string) bool {
	if !strings.Contains(strings.Trim(name, "_"), "_") {
		return false
	}
	hasLetter := false
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}
