// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package goid extracts the current goroutine's ID.
//
// The stress harness tags every sample and instrumented access with the
// goroutine that produced it, so the conflict detector can tell
// cross-thread access pairs from same-thread ones. Go deliberately hides
// goroutine IDs, so the ID is recovered by parsing the first line of
// runtime.Stack output ("goroutine 123 [running]:"). This costs roughly a
// microsecond per call, which is acceptable here: the harness is a stress
// tester, not a production hot path.
package goid

import "runtime"

// Get returns the current goroutine ID, or 0 if the stack header cannot
// be parsed (which would indicate a runtime format change).
func Get() int64 {
	// Only the first line is needed. 64 bytes always covers
	// "goroutine <id> [running]:".
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the numeric ID from stack trace bytes of the form
// "goroutine 123 [running]:...". Direct byte parsing, no allocations.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	var gid int64
	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}
