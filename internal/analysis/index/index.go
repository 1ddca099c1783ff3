// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package index walks parsed syntax trees and records accesses, lock
// handles, and candidate state bindings for the static race analysis.
//
// Two walkers cover the same tree:
//
//   - AccessIndexer records every read/write touching a name or attribute
//     inside function bodies, tagged with the lock context in effect at
//     that point. Lock context is tracked with an explicit auxiliary stack
//     pushed and popped on entering and leaving recognized critical
//     sections; no global state is involved.
//
//   - LockIndexer records lock constructions (by known primitive
//     constructor) and scoped guards recognized purely by name pattern.
//
// Subjects whose identity cannot be statically resolved (the result of an
// opaque call, for example) are dropped and counted, never raised as
// errors.
package index

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
	"github.com/raceaudit/raceaudit/internal/analysis/source"
)

// LockPrimitive identifies the kind of synchronization primitive a
// LockHandle refers to.
type LockPrimitive int

const (
	// PrimitiveUnknown marks guards recognized only by name pattern,
	// where the declared type was never seen.
	PrimitiveUnknown LockPrimitive = iota
	Mutex
	ReentrantMutex
	Semaphore
	BoundedSemaphore
	Condition
	Event
	Barrier
)

// String returns the report name of the primitive.
func (p LockPrimitive) String() string {
	switch p {
	case Mutex:
		return "mutex"
	case ReentrantMutex:
		return "reentrant-mutex"
	case Semaphore:
		return "semaphore"
	case BoundedSemaphore:
		return "bounded-semaphore"
	case Condition:
		return "condition"
	case Event:
		return "event"
	case Barrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// LockScope describes where a lock lives.
type LockScope int

const (
	ScopeLocal LockScope = iota
	ScopeInstance
	ScopeClass
	ScopeModule
)

// String returns the report name of the scope.
func (s LockScope) String() string {
	switch s {
	case ScopeInstance:
		return "instance"
	case ScopeClass:
		return "class"
	case ScopeModule:
		return "module"
	default:
		return "local"
	}
}

// LockHandle is one recorded lock, either constructed from a known
// primitive or inferred from a guard expression's name.
type LockHandle struct {
	Name      string
	Primitive LockPrimitive
	Scope     LockScope
	Location  access.Location
}

// DeclKind classifies where a candidate binding was declared.
type DeclKind int

const (
	DeclModuleGlobal DeclKind = iota
	DeclClassField
)

// String returns the report name of the declaration kind.
func (d DeclKind) String() string {
	if d == DeclClassField {
		return "classField"
	}
	return "moduleGlobal"
}

// Shape is the inferred value shape of a binding.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeMap
	ShapeSequence
	ShapeSet
	ShapeScalar
)

// String returns the report name of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeMap:
		return "map"
	case ShapeSequence:
		return "sequence"
	case ShapeSet:
		return "set"
	case ShapeScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// Binding is a module-level or class-level declaration discovered while
// walking; the catalog turns bindings into shared-state candidates.
type Binding struct {
	// Name is the identifier as written.
	Name string

	// QualifiedName includes the owning class or module qualifier.
	QualifiedName string

	DeclKind   DeclKind
	OwningType string
	Shape      Shape

	// TypeName is the constructor or declared type name, when one was
	// visible at the declaration ("queue.Queue", "sync.Map"). Empty when
	// the shape had to be guessed from a literal or not at all.
	TypeName string

	Location access.Location
}

// FileIndex is the merged walker output for one file.
type FileIndex struct {
	Path     string
	Language source.Language

	Accesses []access.Access
	Locks    []LockHandle
	Bindings []Binding

	// Dropped counts subjects whose identity could not be resolved.
	Dropped int

	// HasSyncEvidence is true when the file constructs locks or creates
	// threads. Its absence is a false-positive indicator downstream.
	HasSyncEvidence bool
}

// AccessIndexer walks function bodies producing access records.
type AccessIndexer struct{}

// LockIndexer walks the same tree producing lock handles.
type LockIndexer struct{}

// IndexFile runs both indexers over one parsed file.
func IndexFile(f *source.File) *FileIndex {
	fi := &FileIndex{Path: f.Path, Language: f.Language}
	switch f.Language {
	case source.LangGo:
		(AccessIndexer{}).indexGo(f, fi)
		(LockIndexer{}).indexGoLocks(f, fi)
	default:
		(AccessIndexer{}).indexPython(f, fi)
		(LockIndexer{}).indexPythonLocks(f, fi)
	}
	if len(fi.Locks) > 0 {
		fi.HasSyncEvidence = true
	}
	return fi
}

// lockStack tracks the lock context during a walk. Depth counts nested
// critical sections; names holds the resolved guard names, innermost last.
// Guards whose expression could not be resolved still bump depth but push
// an empty name.
type lockStack struct {
	names []string
}

func (ls *lockStack) push(name string) { ls.names = append(ls.names, name) }

func (ls *lockStack) pop() {
	if len(ls.names) > 0 {
		ls.names = ls.names[:len(ls.names)-1]
	}
}

// popNamed removes the innermost entry matching name, falling back to a
// plain pop when no entry matches (unbalanced unlock in source).
func (ls *lockStack) popNamed(name string) {
	for i := len(ls.names) - 1; i >= 0; i-- {
		if ls.names[i] == name {
			ls.names = append(ls.names[:i], ls.names[i+1:]...)
			return
		}
	}
	ls.pop()
}

func (ls *lockStack) depth() int { return len(ls.names) }

// current returns the innermost resolved lock name, or "".
func (ls *lockStack) current() string {
	for i := len(ls.names) - 1; i >= 0; i-- {
		if ls.names[i] != "" {
			return ls.names[i]
		}
	}
	return ""
}

// lockishName reports whether a guard expression's name looks like a lock.
// The pattern set is deliberately broad; unknown constructs that do not
// match are simply not treated as guards, never flagged.
func lockishName(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "lock") ||
		strings.Contains(n, "mutex") ||
		strings.Contains(n, "semaphore") ||
		strings.Contains(n, "condition")
}

// locationOf converts a node's start point to a Location.
func locationOf(path string, n *sitter.Node) access.Location {
	return access.Location{
		File:   path,
		Line:   int(n.StartPoint().Row) + 1,
		Column: int(n.StartPoint().Column),
	}
}

// tailComponent returns the last element of a dotted path.
func tailComponent(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
