// Package raceaudit provides a heuristic race auditor combining static
// source analysis with dynamic stress testing.
//
// The static path parses Python and Go sources, indexes shared-state
// accesses and lock usage, and classifies each shared-state candidate
// with name- and type-based heuristics. It reports likely unprotected
// concurrent mutations without building a happens-before model.
//
// The dynamic path hammers a target operation across a configurable
// goroutine × iteration matrix, records instrumented accesses, and
// flags a race when two threads touch the same subject inside a short
// wall-clock window with at least one write.
//
// # Quick Start
//
// Static scan:
//
//	rep, err := raceaudit.Scan(ctx, []string{"service/cache.py"}, raceaudit.ScanOptions{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, f := range rep.Findings {
//		fmt.Printf("%s: %s (%s)\n", f.StateName, f.Description, f.Severity)
//	}
//
// Dynamic stress test of a counter:
//
//	rec := raceaudit.NewRecorder()
//	counter := instrument.Counter("hits", rec, &instrument.UnsafeCounter{})
//	res, err := raceaudit.StressInstrumented("hits", func() {
//		counter.Add(1)
//	}, raceaudit.DefaultStressConfig(), rec)
//
// # API Overview
//
// The package provides:
//   - Static analysis: [Scan], [ScanOptions], [StaticReport], [Finding]
//   - Stress testing: [Stress], [StressInstrumented], [StressConfig], [RunResult]
//   - Instrumentation: [Recorder], [NewRecorder]
//   - Version information: [GetInfo], [Version]
//
// # Heuristic, Not Sound
//
// Both paths trade soundness for zero integration cost. The static
// classifier matches locks to state by name, so an unrelated lock with
// a similar name suppresses a real finding, and a correctly used lock
// with an unrelated name does not. The dynamic detector compares
// wall-clock timestamps, so lock-protected accesses that land inside
// the window are still flagged. Treat findings as audit leads, not
// proofs.
package raceaudit
