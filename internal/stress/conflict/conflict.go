// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conflict flags cross-thread accesses that land close together
// in wall-clock time.
//
// "Concurrent" here means within a configurable window, 1ms by default.
// This is an explicit approximation: there is no happens-before or
// vector-clock reasoning, so a conflict is a strong hint, not a proof,
// and a quiet log is not proof of absence. The window trades false
// positives against false negatives and is exposed to callers for
// exactly that reason.
package conflict

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
)

// DefaultWindow is the conflict window applied when none is configured.
const DefaultWindow = time.Millisecond

// Kind classifies a conflicting pair by the ordered access kinds.
type Kind string

const (
	WriteWrite Kind = "write-write"
	WriteRead  Kind = "write-read"
	ReadWrite  Kind = "read-write"
)

// Conflict is one flagged cross-thread pair. Immutable once produced.
type Conflict struct {
	Subject string        `json:"subject"`
	First   access.Access `json:"-"`
	Second  access.Access `json:"-"`
	Kind    Kind          `json:"conflictKind"`
	ThreadA int64         `json:"threadA"`
	ThreadB int64         `json:"threadB"`
	Elapsed time.Duration `json:"-"`
}

// ElapsedMs reports the pair's separation in milliseconds for reports.
func (c Conflict) ElapsedMs() float64 {
	return float64(c.Elapsed) / float64(time.Millisecond)
}

// MarshalJSON serializes the separation as fractional milliseconds under
// the elapsedMs key.
func (c Conflict) MarshalJSON() ([]byte, error) {
	type plain Conflict
	return json.Marshal(struct {
		plain
		ElapsedMs float64 `json:"elapsedMs"`
	}{plain(c), c.ElapsedMs()})
}

// Detector scans an access log for conflicts.
//
// Detectors hold no state between calls; construct one per run and
// discard it.
type Detector struct {
	// Window is the wall-clock tolerance. Zero means DefaultWindow.
	Window time.Duration
}

// Detect groups the log by subject, orders each group by timestamp, and
// flags adjacent pairs from different goroutines whose separation is at
// most the window. Same-thread pairs are never conflicts, and neither
// are pairs of plain reads. Repeated conflicts between the same pair of
// goroutines on the same subject with the same kind collapse into the
// first occurrence.
func (d *Detector) Detect(log []access.Access) []Conflict {
	window := d.Window
	if window <= 0 {
		window = DefaultWindow
	}

	bySubject := make(map[string][]access.Access)
	var subjects []string
	for _, a := range log {
		if _, ok := bySubject[a.Subject]; !ok {
			subjects = append(subjects, a.Subject)
		}
		bySubject[a.Subject] = append(bySubject[a.Subject], a)
	}
	sort.Strings(subjects)

	var conflicts []Conflict
	seen := make(map[conflictKey]bool)

	for _, subj := range subjects {
		accs := bySubject[subj]
		sort.SliceStable(accs, func(i, j int) bool {
			return accs[i].Timestamp.Before(accs[j].Timestamp)
		})

		for i := 1; i < len(accs); i++ {
			first, second := accs[i-1], accs[i]
			if first.ThreadID == second.ThreadID {
				continue
			}
			elapsed := second.Timestamp.Sub(first.Timestamp)
			if elapsed > window {
				continue
			}
			kind, ok := classify(first.Kind, second.Kind)
			if !ok {
				continue
			}
			key := newConflictKey(subj, first.ThreadID, second.ThreadID, kind)
			if seen[key] {
				continue
			}
			seen[key] = true
			conflicts = append(conflicts, Conflict{
				Subject: subj,
				First:   first,
				Second:  second,
				Kind:    kind,
				ThreadA: first.ThreadID,
				ThreadB: second.ThreadID,
				Elapsed: elapsed,
			})
		}
	}
	return conflicts
}

// classify maps an ordered pair of access kinds to a conflict kind.
// Two plain reads never conflict. A compound read-write access counts
// as a write on both sides.
func classify(first, second access.Kind) (Kind, bool) {
	fw, sw := first.IsWrite(), second.IsWrite()
	switch {
	case fw && sw:
		return WriteWrite, true
	case fw && !sw:
		return WriteRead, true
	case !fw && sw:
		return ReadWrite, true
	default:
		return "", false
	}
}

// conflictKey dedupes repeat reports. Thread IDs are ordered so A/B and
// B/A collapse.
type conflictKey struct {
	subject string
	loTID   int64
	hiTID   int64
	kind    Kind
}

func newConflictKey(subject string, a, b int64, kind Kind) conflictKey {
	if a > b {
		a, b = b, a
	}
	return conflictKey{subject: subject, loTID: a, hiTID: b, kind: kind}
}
