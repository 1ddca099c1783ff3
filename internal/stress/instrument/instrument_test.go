// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package instrument

import (
	"sync"
	"testing"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
)

// TestInstrumentedCounter_RecordsAndDelegates verifies the proxy logs
// the right kinds and leaves the wrapped value's semantics untouched.
func TestInstrumentedCounter_RecordsAndDelegates(t *testing.T) {
	rec := NewRecorder()
	c := Counter("hits", rec, &UnsafeCounter{})

	if got := c.Add(3); got != 3 {
		t.Errorf("Add(3) = %d, want 3", got)
	}
	if got := c.Add(2); got != 5 {
		t.Errorf("Add(2) = %d, want 5", got)
	}
	if got := c.Value(); got != 5 {
		t.Errorf("Value() = %d, want 5", got)
	}

	log := rec.Log()
	if len(log) != 3 {
		t.Fatalf("log length = %d, want 3", len(log))
	}
	wantKinds := []access.Kind{access.ReadWrite, access.ReadWrite, access.Read}
	for i, a := range log {
		if a.Subject != "hits" {
			t.Errorf("log[%d].Subject = %q, want %q", i, a.Subject, "hits")
		}
		if a.Kind != wantKinds[i] {
			t.Errorf("log[%d].Kind = %v, want %v", i, a.Kind, wantKinds[i])
		}
		if a.ThreadID <= 0 {
			t.Errorf("log[%d].ThreadID = %d, want positive", i, a.ThreadID)
		}
		if a.Timestamp.IsZero() {
			t.Errorf("log[%d].Timestamp is zero", i)
		}
	}
}

// TestInstrumentedMap_Kinds verifies the map proxy's read/write tagging.
func TestInstrumentedMap_Kinds(t *testing.T) {
	rec := NewRecorder()
	m := Map("cache", rec, NewPlainMap())

	m.Set("a", 1)
	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %v, %v; want 1, true", v, ok)
	}
	m.Delete("a")
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}

	log := rec.Log()
	wantKinds := []access.Kind{access.Write, access.Read, access.Write, access.Read}
	if len(log) != len(wantKinds) {
		t.Fatalf("log length = %d, want %d", len(log), len(wantKinds))
	}
	for i, a := range log {
		if a.Kind != wantKinds[i] {
			t.Errorf("log[%d].Kind = %v, want %v", i, a.Kind, wantKinds[i])
		}
	}
}

// TestInstrumentedSlice_Kinds verifies the slice proxy's tagging.
func TestInstrumentedSlice_Kinds(t *testing.T) {
	rec := NewRecorder()
	s := Slice("events", rec, NewPlainSlice())

	s.Append("boot")
	if got := s.At(0); got != "boot" {
		t.Errorf("At(0) = %v, want boot", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	log := rec.Log()
	wantKinds := []access.Kind{access.Write, access.Read, access.Read}
	if len(log) != len(wantKinds) {
		t.Fatalf("log length = %d, want %d", len(log), len(wantKinds))
	}
	for i, a := range log {
		if a.Kind != wantKinds[i] {
			t.Errorf("log[%d].Kind = %v, want %v", i, a.Kind, wantKinds[i])
		}
	}
}

// TestRecorder_ConcurrentAppend verifies the recorder itself is safe
// under concurrent use and Log returns an independent copy.
func TestRecorder_ConcurrentAppend(t *testing.T) {
	rec := NewRecorder()
	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				rec.Record("shared", access.Write)
			}
		}()
	}
	wg.Wait()

	if got := rec.Len(); got != goroutines*perGoroutine {
		t.Errorf("Len() = %d, want %d", got, goroutines*perGoroutine)
	}

	log := rec.Log()
	log[0].Subject = "mutated"
	if rec.Log()[0].Subject != "shared" {
		t.Error("Log() did not return an independent copy")
	}
}

// TestRecorder_DistinctThreadIDs verifies concurrent recorders tag
// accesses with the recording goroutine's ID.
func TestRecorder_DistinctThreadIDs(t *testing.T) {
	rec := NewRecorder()

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record("x", access.Read)
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, a := range rec.Log() {
		seen[a.ThreadID] = true
	}
	if len(seen) != 4 {
		t.Errorf("distinct thread IDs = %d, want 4", len(seen))
	}
}
