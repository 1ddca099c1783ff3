// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package executor runs a target operation across a goroutine × iteration
// matrix and aggregates a qualified race verdict.
//
// Workers are real goroutines scheduled onto OS threads by the Go
// runtime, so with GOMAXPROCS > 1 the operation genuinely executes in
// parallel; a stress test needs real scheduler interleavings, which
// cooperative scheduling cannot provide.
//
// The executor owns exactly one shared resource: its sample log, guarded
// by one bookkeeping mutex per run. The mutex is held only to append,
// never across a call into the operation under test. The object under
// test belongs to the caller.
//
// On timeout the caller stops waiting and receives a partial result with
// TimedOut set. Abandoned workers are not killed — Go has no safe
// goroutine cancellation — so they may continue running and mutating the
// caller's shared state after Run returns; late sample appends are
// discarded so the returned result never changes underneath the caller.
package executor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/raceaudit/raceaudit/internal/stress/conflict"
	"github.com/raceaudit/raceaudit/internal/stress/goid"
	"github.com/raceaudit/raceaudit/internal/stress/instrument"
)

// ErrInvalidConfig marks configuration rejected before any work starts.
// This is the only hard failure in the dynamic path.
var ErrInvalidConfig = errors.New("invalid stress config")

// Config controls one stress run.
type Config struct {
	ThreadCount         int           `yaml:"threadCount"`
	IterationsPerThread int           `yaml:"iterationsPerThread"`
	Timeout             time.Duration `yaml:"timeout"`

	// ConflictWindow is forwarded to the conflict detector when access
	// tracking is on.
	ConflictWindow time.Duration `yaml:"conflictWindow"`

	// TrackAccesses enables instrumented-access conflict detection in
	// RunInstrumented.
	TrackAccesses bool `yaml:"trackAccesses"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ThreadCount:         10,
		IterationsPerThread: 100,
		Timeout:             30 * time.Second,
		ConflictWindow:      conflict.DefaultWindow,
	}
}

// UnmarshalYAML decodes a config file fragment over the receiver.
// Durations accept human-readable strings ("30s", "1ms"); absent keys
// leave the receiver's current values in place, so callers can start
// from DefaultConfig.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ThreadCount         *int    `yaml:"threadCount"`
		IterationsPerThread *int    `yaml:"iterationsPerThread"`
		Timeout             *string `yaml:"timeout"`
		ConflictWindow      *string `yaml:"conflictWindow"`
		TrackAccesses       *bool   `yaml:"trackAccesses"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ThreadCount != nil {
		c.ThreadCount = *raw.ThreadCount
	}
	if raw.IterationsPerThread != nil {
		c.IterationsPerThread = *raw.IterationsPerThread
	}
	if raw.Timeout != nil {
		d, err := time.ParseDuration(*raw.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		c.Timeout = d
	}
	if raw.ConflictWindow != nil {
		d, err := time.ParseDuration(*raw.ConflictWindow)
		if err != nil {
			return fmt.Errorf("conflictWindow: %w", err)
		}
		c.ConflictWindow = d
	}
	if raw.TrackAccesses != nil {
		c.TrackAccesses = *raw.TrackAccesses
	}
	return nil
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.ThreadCount <= 0 {
		return fmt.Errorf("%w: threadCount %d, must be positive", ErrInvalidConfig, c.ThreadCount)
	}
	if c.IterationsPerThread <= 0 {
		return fmt.Errorf("%w: iterationsPerThread %d, must be positive", ErrInvalidConfig, c.IterationsPerThread)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout %s, must be positive", ErrInvalidConfig, c.Timeout)
	}
	if c.ConflictWindow < 0 {
		return fmt.Errorf("%w: conflictWindow %s, must not be negative", ErrInvalidConfig, c.ConflictWindow)
	}
	return nil
}

// Sample is one recorded invocation of the operation under test. Owned
// by the RunResult that created it.
type Sample struct {
	ThreadID  int64
	Iteration int
	Wall      time.Duration

	// PanicKind describes a recovered panic ("" for success).
	PanicKind string
}

// TimingStats summarizes sample wall times.
type TimingStats struct {
	Avg time.Duration `json:"avg"`
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`

	// Variance is in seconds squared.
	Variance float64 `json:"variance"`
}

// RunResult aggregates one executor invocation. It is never mutated
// after Run returns.
type RunResult struct {
	RunID      string
	TargetName string

	TotalIterations int
	Succeeded       int
	Failed          int

	// RaceDetected is the combined heuristic verdict; ConfidenceHints
	// names the signals that fired.
	RaceDetected    bool
	ConfidenceHints []string

	Timing     TimingStats
	Samples    []Sample
	PanicKinds []string
	Conflicts  []conflict.Conflict
	TimedOut   bool

	firstPanic any
}

// RethrowFirst re-panics with the first captured panic value. Callers
// that want exceptions propagated instead of tallied invoke this after
// inspecting the result; it is a no-op when every iteration succeeded.
func (r *RunResult) RethrowFirst() {
	if r.firstPanic != nil {
		panic(r.firstPanic)
	}
}

// collector is the executor's only shared state: the bookkeeping log
// behind one mutex. After close, appends from abandoned workers are
// dropped.
type collector struct {
	mu         sync.Mutex
	samples    []Sample
	panicKinds map[string]bool
	firstPanic any
	closed     bool
}

func (c *collector) add(s Sample, panicValue any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.samples = append(c.samples, s)
	if panicValue != nil {
		c.panicKinds[s.PanicKind] = true
		if c.firstPanic == nil {
			c.firstPanic = panicValue
		}
	}
}

// snapshot closes the collector and hands its state to the result.
func (c *collector) snapshot() ([]Sample, []string, any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	kinds := make([]string, 0, len(c.panicKinds))
	for k := range c.panicKinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return c.samples, kinds, c.firstPanic
}

// Run executes op across the configured matrix and returns the
// aggregated result. The only error is invalid configuration; panics
// inside op are tallied, never propagated.
func Run(targetName string, op func(), cfg Config) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	col := &collector{panicKinds: make(map[string]bool)}
	var wg sync.WaitGroup

	for t := 0; t < cfg.ThreadCount; t++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tid := goid.Get()
			for i := 0; i < cfg.IterationsPerThread; i++ {
				wall, panicValue := invoke(op)
				col.add(Sample{
					ThreadID:  tid,
					Iteration: i,
					Wall:      wall,
					PanicKind: panicKind(panicValue),
				}, panicValue)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timedOut := false
	select {
	case <-done:
	case <-time.After(cfg.Timeout):
		// Abandon the stragglers; they keep running but their samples
		// no longer land in this result.
		timedOut = true
	}

	samples, panicKinds, firstPanic := col.snapshot()

	res := &RunResult{
		RunID:           uuid.NewString(),
		TargetName:      targetName,
		TotalIterations: cfg.ThreadCount * cfg.IterationsPerThread,
		Samples:         samples,
		PanicKinds:      panicKinds,
		TimedOut:        timedOut,
		firstPanic:      firstPanic,
	}
	for _, s := range samples {
		if s.PanicKind == "" {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	res.Timing = computeTiming(samples)
	res.RaceDetected, res.ConfidenceHints = heuristicVerdict(res)
	return res, nil
}

// RunInstrumented is Run plus conflict detection over the recorder's
// access log. Any detected conflict flags the race regardless of the
// executor's own timing heuristics.
func RunInstrumented(targetName string, op func(), cfg Config, rec *instrument.Recorder) (*RunResult, error) {
	res, err := Run(targetName, op, cfg)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return res, nil
	}

	det := &conflict.Detector{Window: cfg.ConflictWindow}
	res.Conflicts = det.Detect(rec.Log())
	if len(res.Conflicts) > 0 {
		res.RaceDetected = true
		res.ConfidenceHints = append(res.ConfidenceHints,
			fmt.Sprintf("%d cross-thread conflict(s) within %s", len(res.Conflicts), det.Window))
	}
	return res, nil
}

// invoke times one call of op, recovering any panic.
func invoke(op func()) (wall time.Duration, panicValue any) {
	start := time.Now()
	func() {
		defer func() {
			panicValue = recover()
		}()
		op()
	}()
	return time.Since(start), panicValue
}

// panicKind renders a recovered value as a stable kind + message string.
func panicKind(v any) string {
	switch pv := v.(type) {
	case nil:
		return ""
	case error:
		return fmt.Sprintf("%T: %s", pv, pv.Error())
	default:
		return fmt.Sprintf("%T: %v", pv, pv)
	}
}

func computeTiming(samples []Sample) TimingStats {
	if len(samples) == 0 {
		return TimingStats{}
	}
	var (
		sum time.Duration
		min = samples[0].Wall
		max = samples[0].Wall
	)
	for _, s := range samples {
		sum += s.Wall
		if s.Wall < min {
			min = s.Wall
		}
		if s.Wall > max {
			max = s.Wall
		}
	}
	avg := sum / time.Duration(len(samples))

	mean := avg.Seconds()
	var variance float64
	for _, s := range samples {
		d := s.Wall.Seconds() - mean
		variance += d * d
	}
	variance /= float64(len(samples))

	return TimingStats{Avg: avg, Min: min, Max: max, Variance: variance}
}

// heuristicVerdict applies the coarse contention signals: failed
// iterations, variance-to-mean ratio above 0.5, or a max/min spread over
// 10x. These indicate instability under load, not proven races.
func heuristicVerdict(res *RunResult) (bool, []string) {
	var hints []string

	if res.Failed > 0 {
		hints = append(hints, fmt.Sprintf("%d failed iteration(s)", res.Failed))
	}

	mean := res.Timing.Avg.Seconds()
	if mean > 0 && !math.IsNaN(res.Timing.Variance) && res.Timing.Variance/mean > 0.5 {
		hints = append(hints, "timing variance high relative to mean")
	}

	// The spread check needs a measurable floor: samples below clock
	// resolution would make any ratio meaningless.
	if len(res.Samples) > 1 && res.Timing.Min > 0 {
		ratio := res.Timing.Max.Seconds() / res.Timing.Min.Seconds()
		if ratio > 10 {
			hints = append(hints, fmt.Sprintf("max/min sample time ratio %.1fx", ratio))
		}
	}

	return len(hints) > 0, hints
}
