// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package instrument wraps shared values in forwarding proxies that log
// every access with a timestamp and goroutine tag.
//
// Instrumentation is opt-in and explicit: rather than intercepting field
// access reflectively, each proxy implements a small capability interface
// mirroring the subject's observable operations, records the access, and
// delegates to the wrapped value unchanged. The only behavioral
// difference from the bare value is the logging side effect.
//
// The access log lives in a Recorder guarded by one mutex per Recorder
// instance. The mutex is held only long enough to append; it is never
// held across a call into the wrapped value, so instrumentation cannot
// mask races in the subject by accident. Recorders are never shared
// across concurrent stress runs.
package instrument

import (
	"runtime"
	"sync"
	"time"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
	"github.com/raceaudit/raceaudit/internal/stress/goid"
)

// Recorder collects the timestamped access log for one stress run.
type Recorder struct {
	mu  sync.Mutex
	log []access.Access
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends one access. The timestamp, goroutine ID, and caller
// location are captured here so proxies stay one-liners.
func (r *Recorder) Record(subject string, kind access.Kind) {
	a := access.Access{
		Subject:   subject,
		Kind:      kind,
		ThreadID:  goid.Get(),
		Timestamp: time.Now(),
	}
	// Caller of the proxy method, two frames up.
	if _, file, line, ok := runtime.Caller(2); ok {
		a.Location = access.Location{File: file, Line: line}
	}

	r.mu.Lock()
	r.log = append(r.log, a)
	r.mu.Unlock()
}

// Log returns a copy of the access log, safe to inspect while workers
// are still appending.
func (r *Recorder) Log() []access.Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]access.Access, len(r.log))
	copy(out, r.log)
	return out
}

// Len returns the current log length.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.log)
}

// SharedCounter is the capability interface for an integer under test.
type SharedCounter interface {
	// Add performs a read-modify-write increment and returns the new
	// value.
	Add(delta int64) int64

	// Value reads the current value.
	Value() int64
}

// UnsafeCounter is a deliberately non-atomic counter: Add loads, then
// stores. Used as the canonical racy subject in stress tests and demos.
type UnsafeCounter struct {
	n int64
}

// Add increments without atomicity.
func (c *UnsafeCounter) Add(delta int64) int64 {
	v := c.n
	v += delta
	c.n = v
	return v
}

// Value returns the current count.
func (c *UnsafeCounter) Value() int64 { return c.n }

// MutexCounter is the synchronized twin of UnsafeCounter.
type MutexCounter struct {
	mu sync.Mutex
	n  int64
}

// Add increments under the lock.
func (c *MutexCounter) Add(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
	return c.n
}

// Value reads under the lock.
func (c *MutexCounter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// InstrumentedCounter logs then forwards to a wrapped SharedCounter.
type InstrumentedCounter struct {
	name string
	rec  *Recorder
	next SharedCounter
}

// Counter wraps a SharedCounter so every operation is logged under the
// given subject name.
func Counter(name string, rec *Recorder, next SharedCounter) *InstrumentedCounter {
	return &InstrumentedCounter{name: name, rec: rec, next: next}
}

// Add records a read-write, then delegates.
func (c *InstrumentedCounter) Add(delta int64) int64 {
	c.rec.Record(c.name, access.ReadWrite)
	return c.next.Add(delta)
}

// Value records a read, then delegates.
func (c *InstrumentedCounter) Value() int64 {
	c.rec.Record(c.name, access.Read)
	return c.next.Value()
}

// SharedMap is the capability interface for a string-keyed map under
// test.
type SharedMap interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Len() int
}

// PlainMap is an unsynchronized map. Concurrent mutation has the same
// failure modes as any bare Go map; the proxy does not hide them.
type PlainMap struct {
	m map[string]any
}

// NewPlainMap returns an empty unsynchronized map.
func NewPlainMap() *PlainMap {
	return &PlainMap{m: make(map[string]any)}
}

func (p *PlainMap) Get(key string) (any, bool) { v, ok := p.m[key]; return v, ok }
func (p *PlainMap) Set(key string, value any)  { p.m[key] = value }
func (p *PlainMap) Delete(key string)          { delete(p.m, key) }
func (p *PlainMap) Len() int                   { return len(p.m) }

// InstrumentedMap logs then forwards to a wrapped SharedMap.
type InstrumentedMap struct {
	name string
	rec  *Recorder
	next SharedMap
}

// Map wraps a SharedMap under the given subject name.
func Map(name string, rec *Recorder, next SharedMap) *InstrumentedMap {
	return &InstrumentedMap{name: name, rec: rec, next: next}
}

func (m *InstrumentedMap) Get(key string) (any, bool) {
	m.rec.Record(m.name, access.Read)
	return m.next.Get(key)
}

func (m *InstrumentedMap) Set(key string, value any) {
	m.rec.Record(m.name, access.Write)
	m.next.Set(key, value)
}

func (m *InstrumentedMap) Delete(key string) {
	m.rec.Record(m.name, access.Write)
	m.next.Delete(key)
}

func (m *InstrumentedMap) Len() int {
	m.rec.Record(m.name, access.Read)
	return m.next.Len()
}

// SharedSlice is the capability interface for an append-only sequence
// under test.
type SharedSlice interface {
	Append(value any)
	At(i int) any
	Len() int
}

// PlainSlice is an unsynchronized slice.
type PlainSlice struct {
	s []any
}

// NewPlainSlice returns an empty unsynchronized slice.
func NewPlainSlice() *PlainSlice {
	return &PlainSlice{}
}

func (p *PlainSlice) Append(value any) { p.s = append(p.s, value) }
func (p *PlainSlice) At(i int) any     { return p.s[i] }
func (p *PlainSlice) Len() int         { return len(p.s) }

// InstrumentedSlice logs then forwards to a wrapped SharedSlice.
type InstrumentedSlice struct {
	name string
	rec  *Recorder
	next SharedSlice
}

// Slice wraps a SharedSlice under the given subject name.
func Slice(name string, rec *Recorder, next SharedSlice) *InstrumentedSlice {
	return &InstrumentedSlice{name: name, rec: rec, next: next}
}

func (s *InstrumentedSlice) Append(value any) {
	s.rec.Record(s.name, access.Write)
	s.next.Append(value)
}

func (s *InstrumentedSlice) At(i int) any {
	s.rec.Record(s.name, access.Read)
	return s.next.At(i)
}

func (s *InstrumentedSlice) Len() int {
	s.rec.Record(s.name, access.Read)
	return s.next.Len()
}
