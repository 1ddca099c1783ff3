// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package executor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raceaudit/raceaudit/internal/stress/instrument"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.ThreadCount = 4
	cfg.IterationsPerThread = 10
	return cfg
}

// TestValidate rejects each degenerate field.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threads", func(c *Config) { c.ThreadCount = 0 }},
		{"negative threads", func(c *Config) { c.ThreadCount = -1 }},
		{"zero iterations", func(c *Config) { c.IterationsPerThread = 0 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative window", func(c *Config) { c.ConflictWindow = -time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

// TestConfig_UnmarshalYAML verifies partial config files overlay the
// defaults and durations parse from strings.
func TestConfig_UnmarshalYAML(t *testing.T) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte("threadCount: 5\ntimeout: 2s\n"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.ThreadCount != 5 {
		t.Errorf("ThreadCount = %d, want 5", cfg.ThreadCount)
	}
	if cfg.Timeout != 2*time.Second {
		t.Errorf("Timeout = %s, want 2s", cfg.Timeout)
	}
	// Absent keys keep their defaults.
	if cfg.IterationsPerThread != 100 {
		t.Errorf("IterationsPerThread = %d, want 100", cfg.IterationsPerThread)
	}
	if cfg.ConflictWindow != time.Millisecond {
		t.Errorf("ConflictWindow = %s, want 1ms", cfg.ConflictWindow)
	}

	if err := yaml.Unmarshal([]byte("timeout: soon\n"), &cfg); err == nil {
		t.Error("bad duration string accepted")
	}
}

// TestRun_InvalidConfigIsHardError verifies nothing runs on bad config.
func TestRun_InvalidConfigIsHardError(t *testing.T) {
	ran := false
	_, err := Run("noop", func() { ran = true }, Config{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Run() error = %v, want ErrInvalidConfig", err)
	}
	if ran {
		t.Error("operation ran despite invalid config")
	}
}

// TestRun_CompletesMatrix verifies every cell of the thread × iteration
// matrix executes exactly once on a healthy run.
func TestRun_CompletesMatrix(t *testing.T) {
	cfg := smallConfig()
	var calls atomic.Int64

	res, err := Run("healthy", func() { calls.Add(1) }, cfg)
	if err != nil {
		t.Fatal(err)
	}

	want := int64(cfg.ThreadCount * cfg.IterationsPerThread)
	if calls.Load() != want {
		t.Errorf("operation calls = %d, want %d", calls.Load(), want)
	}
	if res.TotalIterations != int(want) {
		t.Errorf("TotalIterations = %d, want %d", res.TotalIterations, want)
	}
	if res.Succeeded != int(want) || res.Failed != 0 {
		t.Errorf("Succeeded/Failed = %d/%d, want %d/0", res.Succeeded, res.Failed, want)
	}
	if len(res.Samples) != int(want) {
		t.Errorf("samples = %d, want %d", len(res.Samples), want)
	}
	if res.TimedOut {
		t.Error("TimedOut set on healthy run")
	}
	if res.RunID == "" {
		t.Error("RunID empty")
	}

	threads := make(map[int64]bool)
	for _, s := range res.Samples {
		threads[s.ThreadID] = true
	}
	if len(threads) != cfg.ThreadCount {
		t.Errorf("distinct worker threads = %d, want %d", len(threads), cfg.ThreadCount)
	}
}

// TestRun_PanicsTalliedNotPropagated verifies panics are captured as
// failed iterations and re-raisable via RethrowFirst.
func TestRun_PanicsTalliedNotPropagated(t *testing.T) {
	cfg := smallConfig()

	res, err := Run("panicky", func() { panic("boom") }, cfg)
	if err != nil {
		t.Fatal(err)
	}

	want := cfg.ThreadCount * cfg.IterationsPerThread
	if res.Failed != want {
		t.Errorf("Failed = %d, want %d", res.Failed, want)
	}
	if res.Succeeded != 0 {
		t.Errorf("Succeeded = %d, want 0", res.Succeeded)
	}
	if len(res.PanicKinds) != 1 {
		t.Fatalf("PanicKinds = %v, want one entry", res.PanicKinds)
	}
	if !res.RaceDetected {
		t.Error("RaceDetected = false with failed iterations")
	}

	defer func() {
		if recover() == nil {
			t.Error("RethrowFirst did not panic")
		}
	}()
	res.RethrowFirst()
}

// TestRunResult_RethrowFirstNoop verifies the clean-run no-op.
func TestRunResult_RethrowFirstNoop(t *testing.T) {
	res, err := Run("clean", func() {}, smallConfig())
	if err != nil {
		t.Fatal(err)
	}
	res.RethrowFirst() // must not panic
}

// TestRun_Timeout verifies a stuck operation yields a partial result
// with TimedOut set instead of blocking forever.
func TestRun_Timeout(t *testing.T) {
	cfg := Config{
		ThreadCount:         2,
		IterationsPerThread: 10,
		Timeout:             20 * time.Millisecond,
		ConflictWindow:      DefaultConfig().ConflictWindow,
	}

	start := time.Now()
	res, err := Run("stuck", func() { time.Sleep(50 * time.Millisecond) }, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Error("TimedOut = false for stuck operation")
	}
	if len(res.Samples) >= res.TotalIterations {
		t.Errorf("samples = %d, want partial (< %d)", len(res.Samples), res.TotalIterations)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run blocked %s past its timeout", elapsed)
	}
}

// TestRunInstrumented_UnsyncCounterDetectsRace is the canonical lost
// update scenario: a non-atomic counter hammered by the default matrix.
func TestRunInstrumented_UnsyncCounterDetectsRace(t *testing.T) {
	cfg := DefaultConfig()
	rec := instrument.NewRecorder()
	counter := instrument.Counter("unsafe_counter", rec, &instrument.UnsafeCounter{})

	res, err := RunInstrumented("unsafe_counter", func() {
		for i := 0; i < 100; i++ {
			counter.Add(1)
		}
	}, cfg, rec)
	if err != nil {
		t.Fatal(err)
	}

	expected := int64(cfg.ThreadCount * cfg.IterationsPerThread * 100)
	lost := counter.Value() != expected
	if !res.RaceDetected && !lost {
		t.Errorf("no race detected and no lost updates: value = %d, conflicts = %d",
			counter.Value(), len(res.Conflicts))
	}
	if len(res.Conflicts) > 0 && !res.RaceDetected {
		t.Error("conflicts present but RaceDetected = false")
	}
}

// TestRun_SyncCounterExact verifies a mutex-protected counter survives
// the same matrix with every update intact.
func TestRun_SyncCounterExact(t *testing.T) {
	cfg := DefaultConfig()
	counter := &instrument.MutexCounter{}

	res, err := Run("mutex_counter", func() {
		for i := 0; i < 100; i++ {
			counter.Add(1)
		}
	}, cfg)
	if err != nil {
		t.Fatal(err)
	}

	expected := int64(cfg.ThreadCount * cfg.IterationsPerThread * 100)
	if counter.Value() != expected {
		t.Errorf("final value = %d, want %d", counter.Value(), expected)
	}
	if res.Failed != 0 {
		t.Errorf("Failed = %d, want 0", res.Failed)
	}
	if res.TimedOut {
		t.Error("TimedOut on a healthy run")
	}
}

// TestRunInstrumented_NilRecorder verifies the instrumented entry point
// degrades to the plain run without a recorder.
func TestRunInstrumented_NilRecorder(t *testing.T) {
	res, err := RunInstrumented("noop", func() {}, smallConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("Conflicts = %d, want 0", len(res.Conflicts))
	}
}

// TestComputeTiming covers the timing aggregate directly.
func TestComputeTiming(t *testing.T) {
	samples := []Sample{
		{Wall: 10 * time.Millisecond},
		{Wall: 20 * time.Millisecond},
		{Wall: 30 * time.Millisecond},
	}
	ts := computeTiming(samples)
	if ts.Avg != 20*time.Millisecond {
		t.Errorf("Avg = %s, want 20ms", ts.Avg)
	}
	if ts.Min != 10*time.Millisecond || ts.Max != 30*time.Millisecond {
		t.Errorf("Min/Max = %s/%s, want 10ms/30ms", ts.Min, ts.Max)
	}
	if ts.Variance <= 0 {
		t.Errorf("Variance = %v, want positive", ts.Variance)
	}

	if got := computeTiming(nil); got != (TimingStats{}) {
		t.Errorf("computeTiming(nil) = %+v, want zero", got)
	}
}

// TestHeuristicVerdict_SpreadNeedsFloor verifies the max/min spread
// signal stays quiet when the minimum is below clock resolution.
func TestHeuristicVerdict_SpreadNeedsFloor(t *testing.T) {
	res := &RunResult{
		Samples: []Sample{{Wall: 0}, {Wall: time.Second}},
		Timing:  TimingStats{Min: 0, Max: time.Second, Avg: 500 * time.Millisecond},
	}
	detected, hints := heuristicVerdict(res)
	if detected {
		t.Errorf("verdict fired with zero-floor samples: %v", hints)
	}
}
