// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package access defines the access record and severity vocabulary shared
// by the static and dynamic analysis paths.
//
// A single Access value describes one touch of a named piece of state:
// who touched it (for dynamic records), where (for static records), how
// (read, write, or compound read-write), and whether a lock was held at
// the time. Both paths produce Access values so that downstream consumers
// (the shared-state catalog, the conflict detector, the report writers)
// speak one vocabulary.
package access

import "time"

// Kind classifies how state was touched.
type Kind int

const (
	// Read is a plain read of a name or attribute.
	Read Kind = iota

	// Write is an assignment target.
	Write

	// ReadWrite is a compound access such as `x += 1` or `x++`, where the
	// old value is read and a new value written without atomicity. Only
	// compound-assignment-like operations produce this kind.
	ReadWrite
)

// String returns the lowercase name used in reports.
func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// IsWrite reports whether the access mutates state. ReadWrite counts as a
// write because the new value is stored.
func (k Kind) IsWrite() bool { return k == Write || k == ReadWrite }

// IsRead reports whether the access observes state. ReadWrite counts as a
// read because the old value is loaded first.
func (k Kind) IsRead() bool { return k == Read || k == ReadWrite }

// Severity ranks a finding. The ordering is significant: a higher value is
// always a more severe finding, so severities can be compared with <.
type Severity int

const (
	Low Severity = iota
	Medium
	High
	Critical
)

// String returns the lowercase name used in reports.
func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText implements encoding.TextMarshaler so severities serialize as
// their names in JSON reports rather than as bare integers.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for consumers that
// read reports back.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "critical":
		*s = Critical
	case "high":
		*s = High
	case "medium":
		*s = Medium
	default:
		*s = Low
	}
	return nil
}

// Location is a source position. Column is zero-based as reported by the
// parser; Line is one-based for humans.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// Access records a single touch of a subject.
//
// Static records fill Subject, Kind, Location and the lock-context fields;
// ThreadID and Timestamp stay zero. Dynamic records (produced by the
// access instrumentor) additionally carry the goroutine ID and a wall-clock
// timestamp, which the conflict detector uses to decide proximity.
type Access struct {
	// Subject identifies what was touched. Static subjects are dotted
	// paths as written in source ("self._cache", "counter"); dynamic
	// subjects are the name the instrumented wrapper was registered
	// under.
	Subject string `json:"subject"`

	Kind     Kind     `json:"kind"`
	Location Location `json:"location"`

	// InLockContext is true when the access happened lexically inside a
	// recognized critical section (static) or is otherwise known to be
	// guarded (dynamic, unused today).
	InLockContext bool `json:"inLockContext"`

	// LockName is the statically resolved name of the guarding lock, when
	// one could be resolved. Empty for unguarded accesses and for guards
	// whose expression could not be reduced to a name.
	LockName string `json:"lockName,omitempty"`

	// InInitializer is true when the access occurs inside initializer
	// code (__init__ bodies, Go init functions). Initializer-only state
	// is a false-positive indicator, not a suppression.
	InInitializer bool `json:"-"`

	// ThreadID is the goroutine ID of the accessor. Dynamic path only.
	ThreadID int64 `json:"threadId,omitempty"`

	// Timestamp is when the access happened. Dynamic path only.
	Timestamp time.Time `json:"-"`
}
