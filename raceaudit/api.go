// Package raceaudit provides the public API for the race auditor.
//
// See doc.go for detailed documentation and examples.
package raceaudit

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/raceaudit/raceaudit/internal/analysis/catalog"
	"github.com/raceaudit/raceaudit/internal/analysis/classify"
	"github.com/raceaudit/raceaudit/internal/analysis/index"
	"github.com/raceaudit/raceaudit/internal/analysis/report"
	"github.com/raceaudit/raceaudit/internal/analysis/source"
	"github.com/raceaudit/raceaudit/internal/stress/executor"
	"github.com/raceaudit/raceaudit/internal/stress/instrument"
)

// Finding is one static race finding. Alias of the internal report type
// so callers never import internal packages.
type Finding = report.Finding

// StressConfig configures a dynamic stress run.
type StressConfig = executor.Config

// RunResult is the aggregated outcome of one stress run.
type RunResult = executor.RunResult

// Recorder collects instrumented accesses for one stress run.
type Recorder = instrument.Recorder

// NewRecorder returns a fresh access recorder. Never share one recorder
// across concurrent runs.
func NewRecorder() *Recorder { return instrument.NewRecorder() }

// Instrumented wrapper types, re-exported so stress targets can be
// built without importing internal packages.
type (
	SharedCounter       = instrument.SharedCounter
	UnsafeCounter       = instrument.UnsafeCounter
	MutexCounter        = instrument.MutexCounter
	InstrumentedCounter = instrument.InstrumentedCounter
	InstrumentedMap     = instrument.InstrumentedMap
	InstrumentedSlice   = instrument.InstrumentedSlice
)

// InstrumentCounter wraps next so every Add and Value is recorded under
// the given subject name before delegating.
func InstrumentCounter(name string, rec *Recorder, next SharedCounter) *InstrumentedCounter {
	return instrument.Counter(name, rec, next)
}

// DefaultStressConfig returns the documented stress defaults:
// 10 threads, 100 iterations per thread, 30s timeout, 1ms conflict
// window.
func DefaultStressConfig() StressConfig { return executor.DefaultConfig() }

// ScanOptions tunes the static path.
type ScanOptions struct {
	// IdiomWindow is the check-then-act line window; zero means the
	// default of 5.
	IdiomWindow int

	// Concurrency bounds parallel file parsing; zero means GOMAXPROCS.
	Concurrency int

	// Logger receives scan progress. Nil means slog.Default().
	Logger *slog.Logger
}

// StaticReport is the output of one static scan.
type StaticReport struct {
	Findings []Finding

	FilesScanned    int
	FilesSkipped    int
	SkippedPaths    map[string]string
	DroppedSubjects int

	// CandidatesExamined counts candidates before protection filtering.
	CandidatesExamined int
}

// Scan runs the static race analysis over the given source files.
//
// Paths are sorted before scanning, and all downstream ordering is
// total, so two scans over unchanged source produce identical reports.
// Unreadable or unparseable files are skipped and counted, never fatal;
// only a canceled context makes Scan return an error.
//
// All scan state (catalog, classifier) is constructed here and disposed
// before returning: concurrent Scans never share anything.
func Scan(ctx context.Context, paths []string, opts ScanOptions) (*StaticReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	scanner := source.NewScanner()
	indexes := make([]*index.FileIndex, len(sorted))

	var mu sync.Mutex
	skipped := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range sorted {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := scanner.Parse(gctx, path)
			if err != nil {
				mu.Lock()
				skipped[path] = err.Error()
				mu.Unlock()
				logger.Debug("skipping file", slog.String("path", path), slog.String("reason", err.Error()))
				return nil
			}
			defer f.Close()
			indexes[i] = index.IndexFile(f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Drop the skipped slots, preserving sorted order.
	files := indexes[:0]
	for _, fi := range indexes {
		if fi != nil {
			files = append(files, fi)
		}
	}

	cat := catalog.Build(files)
	defer cat.Dispose()

	classifier := classify.New()
	if opts.IdiomWindow > 0 {
		classifier.IdiomWindow = opts.IdiomWindow
	}
	verdicts := classifier.Run(cat)

	rep := &StaticReport{
		Findings:           report.Build(cat, verdicts),
		FilesScanned:       len(files),
		FilesSkipped:       len(skipped),
		SkippedPaths:       skipped,
		DroppedSubjects:    cat.DroppedSubjects,
		CandidatesExamined: len(cat.Candidates),
	}
	logger.Info("static scan complete",
		slog.Int("files", rep.FilesScanned),
		slog.Int("skipped", rep.FilesSkipped),
		slog.Int("candidates", rep.CandidatesExamined),
		slog.Int("findings", len(rep.Findings)))
	return rep, nil
}

// Stress runs op across the configured thread × iteration matrix and
// returns the heuristic verdict. Panics inside op are tallied in the
// result, never propagated; call RunResult.RethrowFirst to re-raise the
// first one. The only error is an invalid configuration.
func Stress(targetName string, op func(), cfg StressConfig) (*RunResult, error) {
	return executor.Run(targetName, op, cfg)
}

// StressInstrumented is Stress plus conflict detection over rec's access
// log: any cross-thread access pair inside the conflict window flags the
// race regardless of timing heuristics.
func StressInstrumented(targetName string, op func(), cfg StressConfig, rec *Recorder) (*RunResult, error) {
	return executor.RunInstrumented(targetName, op, cfg, rec)
}
