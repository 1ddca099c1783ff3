// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package classify filters false positives out of the shared-state
// catalog, scores the remaining candidates by severity, and recognizes
// known race idioms.
//
// Every decision here is a heuristic. Protection is judged by a fixed
// rule chain that short-circuits on the first match; anything that falls
// through is scored by its unprotected access profile. False-positive
// indicators are reported alongside findings but never suppress them.
package classify

import (
	"fmt"
	"strings"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
	"github.com/raceaudit/raceaudit/internal/analysis/catalog"
	"github.com/raceaudit/raceaudit/internal/analysis/index"
)

// Idiom names attached to findings.
const (
	IdiomCheckThenAct         = "check-then-act"
	IdiomDoubleCheckedLocking = "double-checked-locking"
)

// DefaultIdiomWindow is the line-distance window for check-then-act
// recognition.
const DefaultIdiomWindow = 5

// Verdict is the classifier's judgment for one candidate.
type Verdict struct {
	Protected       bool
	ProtectedReason string

	Severity           access.Severity
	Description        string
	Suggestion         string
	Idioms             []string
	FalsePositiveHints []string
}

// Classifier holds the tunables for one analysis run.
type Classifier struct {
	// IdiomWindow is the maximum line distance between the read and the
	// write of a check-then-act pair.
	IdiomWindow int
}

// New returns a classifier with default tunables.
func New() *Classifier {
	return &Classifier{IdiomWindow: DefaultIdiomWindow}
}

// Run classifies every candidate in the catalog, setting each
// candidate's Protected flag, and returns verdicts in catalog order.
func (cl *Classifier) Run(cat *catalog.Catalog) []Verdict {
	verdicts := make([]Verdict, len(cat.Candidates))
	for i, cand := range cat.Candidates {
		v := cl.Candidate(cand, cat.Locks, cat.HasSyncEvidence(cand.FilePath))
		cand.Protected = v.Protected
		cand.ProtectedReason = v.ProtectedReason
		verdicts[i] = v
	}
	return verdicts
}

// Candidate classifies a single candidate against the run's lock set.
func (cl *Classifier) Candidate(cand *catalog.Candidate, locks []index.LockHandle, syncEvidence bool) Verdict {
	v := Verdict{}

	if reason, ok := protectionReason(cand, locks); ok {
		v.Protected = true
		v.ProtectedReason = reason
		return v
	}

	// Invariant: a candidate is also protected when every recorded
	// access happened inside a critical section.
	if len(cand.Accesses) > 0 && allLocked(cand.Accesses) {
		v.Protected = true
		v.ProtectedReason = "all accesses in lock context"
		return v
	}

	v.Severity = scoreSeverity(cand.Accesses)
	v.Idioms = cl.recognizeIdioms(cand.Accesses)
	v.FalsePositiveHints = falsePositiveHints(cand, syncEvidence)
	v.Description = describe(cand, v.Severity)
	v.Suggestion = suggest(cand, locks)
	return v
}

// protectionReason runs the short-circuiting protection chain:
// thread-local, constant name, matching lock name, safe queue type,
// atomic wrapper type.
func protectionReason(cand *catalog.Candidate, locks []index.LockHandle) (string, bool) {
	if isThreadLocal(cand) {
		return "thread-local storage", true
	}
	if catalog.IsConstantName(cand.Name) {
		return "constant-style name", true
	}
	if lock, ok := matchingLock(cand.Name, locks); ok {
		return fmt.Sprintf("lock %q correlates by name", lock), true
	}
	if isSafeQueueType(cand) {
		return fmt.Sprintf("thread-safe queue type %s", cand.TypeName), true
	}
	if isAtomicType(cand.TypeName) {
		return fmt.Sprintf("atomic wrapper type %s", cand.TypeName), true
	}
	return "", false
}

func isThreadLocal(cand *catalog.Candidate) bool {
	t := strings.ToLower(cand.TypeName)
	if t == "threading.local" || t == "local" || strings.HasSuffix(t, ".local") {
		return true
	}
	n := normalize(cand.Name)
	return strings.Contains(n, "threadlocal") || n == "tls"
}

// matchingLock looks for a lock whose normalized name shares a substring
// with the candidate's normalized name, in either direction. "counter"
// matches "counter_lock" and "_lock_counter" alike.
func matchingLock(name string, locks []index.LockHandle) (string, bool) {
	nc := normalize(name)
	if nc == "" {
		return "", false
	}
	for _, l := range locks {
		nl := normalize(l.Name)
		stem := trimLockWords(nl)
		if stem == "" {
			continue
		}
		if strings.Contains(nc, stem) || strings.Contains(stem, nc) {
			return l.Name, true
		}
	}
	return "", false
}

// normalize lowercases, drops a leading self qualifier, takes the dotted
// tail, and removes underscores.
func normalize(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ReplaceAll(strings.ToLower(name), "_", "")
}

// trimLockWords strips lock vocabulary off a normalized name so that
// "counterlock" reduces to "counter".
func trimLockWords(n string) string {
	for _, w := range []string{"lock", "mutex", "semaphore", "sem", "condition", "cond", "guard"} {
		n = strings.ReplaceAll(n, w, "")
	}
	return n
}

var safeQueueTypes = map[string]bool{
	"Queue": true, "LifoQueue": true, "PriorityQueue": true,
	"SimpleQueue": true, "JoinableQueue": true, "deque": true,
}

func isSafeQueueType(cand *catalog.Candidate) bool {
	if cand.TypeName == "" {
		return false
	}
	if cand.TypeName == "sync.Map" || strings.HasPrefix(cand.TypeName, "chan ") || cand.TypeName == "chan" {
		return true
	}
	tail := cand.TypeName
	if i := strings.LastIndex(tail, "."); i >= 0 {
		tail = tail[i+1:]
	}
	return safeQueueTypes[tail]
}

func isAtomicType(typeName string) bool {
	t := strings.TrimPrefix(typeName, "*")
	if strings.HasPrefix(t, "atomic.") || strings.HasPrefix(t, "sync/atomic.") {
		return true
	}
	tail := t
	if i := strings.LastIndex(tail, "."); i >= 0 {
		tail = tail[i+1:]
	}
	return strings.HasPrefix(tail, "Atomic")
}

func allLocked(accs []access.Access) bool {
	for _, a := range accs {
		if !a.InLockContext {
			return false
		}
	}
	return true
}

// scoreSeverity ranks a candidate by its unprotected access profile.
// Adding an unprotected write can only keep or raise the result.
func scoreSeverity(accs []access.Access) access.Severity {
	var unprotWrites, unprotReads, protWrites int
	anyRead := false
	for _, a := range accs {
		if a.Kind.IsRead() {
			anyRead = true
		}
		if a.InLockContext {
			if a.Kind.IsWrite() {
				protWrites++
			}
			continue
		}
		if a.Kind.IsWrite() {
			unprotWrites++
		}
		if a.Kind.IsRead() {
			unprotReads++
		}
	}

	switch {
	case unprotWrites >= 2:
		return access.Critical
	case unprotWrites == 1 && anyRead:
		return access.Critical
	case unprotWrites == 1:
		return access.High
	case unprotReads >= 2 && protWrites >= 1:
		return access.Medium
	default:
		return access.Low
	}
}

// recognizeIdioms scans the ordered access list for known race shapes.
func (cl *Classifier) recognizeIdioms(accs []access.Access) []string {
	window := cl.IdiomWindow
	if window <= 0 {
		window = DefaultIdiomWindow
	}

	var idioms []string
	if hasCheckThenAct(accs, window) {
		idioms = append(idioms, IdiomCheckThenAct)
	}
	if hasDoubleCheckedLocking(accs) {
		idioms = append(idioms, IdiomDoubleCheckedLocking)
	}
	return idioms
}

// hasCheckThenAct reports an unprotected read followed within the line
// window by an unprotected write or read-write in the same file.
func hasCheckThenAct(accs []access.Access, window int) bool {
	for i, a := range accs {
		if a.InLockContext || !a.Kind.IsRead() || a.Kind == access.ReadWrite {
			continue
		}
		for _, b := range accs[i+1:] {
			if b.InLockContext || !b.Kind.IsWrite() {
				continue
			}
			if b.Location.File != a.Location.File {
				continue
			}
			delta := b.Location.Line - a.Location.Line
			if delta >= 1 && delta <= window {
				return true
			}
		}
	}
	return false
}

// hasDoubleCheckedLocking reports the unprotected-read, protected-read,
// protected-write subsequence. The pattern is flagged regardless of
// protection: without memory-ordering guarantees it is fragile even when
// every access after the first is locked.
func hasDoubleCheckedLocking(accs []access.Access) bool {
	const (
		wantUnprotRead = iota
		wantProtRead
		wantProtWrite
	)
	state := wantUnprotRead
	for _, a := range accs {
		switch state {
		case wantUnprotRead:
			if !a.InLockContext && a.Kind == access.Read {
				state = wantProtRead
			}
		case wantProtRead:
			if a.InLockContext && a.Kind.IsRead() {
				state = wantProtWrite
			}
		case wantProtWrite:
			if a.InLockContext && a.Kind.IsWrite() {
				return true
			}
		}
	}
	return false
}

// falsePositiveHints lists reasons a finding may be noise. Reported,
// never suppressing.
func falsePositiveHints(cand *catalog.Candidate, syncEvidence bool) []string {
	var hints []string
	if !syncEvidence {
		hints = append(hints, "no lock or thread construction in file")
	}
	if looksLikeTestPath(cand.FilePath) {
		hints = append(hints, "file path looks like a test")
	}
	if strings.HasPrefix(cand.Name, "_") {
		hints = append(hints, "private naming convention")
	}
	if len(cand.Accesses) > 0 && initializerOnly(cand.Accesses) {
		hints = append(hints, "touched only in initializer code")
	}
	return hints
}

func initializerOnly(accs []access.Access) bool {
	for _, a := range accs {
		if !a.InInitializer {
			return false
		}
	}
	return true
}

func looksLikeTestPath(path string) bool {
	p := strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	base := p
	if i := strings.LastIndex(p, "/"); i >= 0 {
		base = p[i+1:]
	}
	return strings.HasPrefix(base, "test_") ||
		strings.Contains(base, "_test.") ||
		strings.Contains(p, "/test/") ||
		strings.Contains(p, "/tests/")
}

func describe(cand *catalog.Candidate, sev access.Severity) string {
	var unprotWrites, unprotReads int
	for _, a := range cand.Accesses {
		if a.InLockContext {
			continue
		}
		if a.Kind.IsWrite() {
			unprotWrites++
		}
		if a.Kind.IsRead() {
			unprotReads++
		}
	}
	return fmt.Sprintf("%s %s %q has %d unprotected write(s) and %d unprotected read(s) (%s)",
		sev, cand.DeclKind, cand.QualifiedName, unprotWrites, unprotReads, cand.Shape)
}

func suggest(cand *catalog.Candidate, locks []index.LockHandle) string {
	for _, a := range cand.Accesses {
		if a.InLockContext && a.LockName != "" {
			return fmt.Sprintf("some accesses already hold %q; guard the remaining accesses to %q with the same lock", a.LockName, cand.Name)
		}
	}
	if len(locks) > 0 {
		return fmt.Sprintf("guard all accesses to %q with one of the existing locks, or a dedicated one", cand.Name)
	}
	return fmt.Sprintf("introduce a lock dedicated to %q and hold it around every read and write", cand.Name)
}
