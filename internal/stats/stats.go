// Package stats accumulates the counters of one run.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is what a single invocation contributes to the run.
type Sample struct {
	Test        string
	Success     bool
	Bytes       int64
	ServiceTime time.Duration
	// Failure groups failed samples, e.g. "http 500" or "transport: timeout".
	Failure string
}

// TestCounts are per-test totals.
type TestCounts struct {
	Attempted uint64 `json:"attempted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// RunState is the only shared mutable state of a run. Counters only grow,
// and once Close has been called every later Record is dropped.
type RunState struct {
	mu     sync.Mutex
	closed bool
	start  time.Time

	attempted atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	bytes     atomic.Uint64

	serviceTime *SafeHistogram
	errors      map[string]uint64
	perTest     map[string]*TestCounts

	summary *Summary
}

func NewRunState(start time.Time) *RunState {
	return &RunState{
		start:       start,
		serviceTime: NewSafeHistogram(),
		errors:      make(map[string]uint64),
		perTest:     make(map[string]*TestCounts),
	}
}

func (s *RunState) Start() time.Time { return s.start }

// Record counts one sample. It returns false when the run is already closed
// and the sample was dropped.
func (s *RunState) Record(sample Sample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	s.attempted.Add(1)
	tc := s.perTest[sample.Test]
	if tc == nil {
		tc = &TestCounts{}
		s.perTest[sample.Test] = tc
	}
	tc.Attempted++

	if sample.Success {
		s.succeeded.Add(1)
		tc.Succeeded++
		s.serviceTime.Record(sample.ServiceTime)
	} else {
		s.failed.Add(1)
		tc.Failed++
		key := sample.Failure
		if key == "" {
			key = "unknown"
		}
		s.errors[key]++
	}
	if sample.Bytes > 0 {
		s.bytes.Add(uint64(sample.Bytes))
	}
	return true
}

// Cancelled reports whether Close has been called.
func (s *RunState) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Snapshot is a point-in-time view for progress displays.
type Snapshot struct {
	Elapsed   time.Duration
	Attempted uint64
	Succeeded uint64
	Failed    uint64
	Bytes     uint64
	P90       time.Duration
}

func (s *RunState) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Elapsed:   now.Sub(s.start),
		Attempted: s.attempted.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Bytes:     s.bytes.Load(),
		P90:       s.serviceTime.Quantile(90),
	}
}

// Close marks the run terminated and returns its summary. Only the first
// call computes the summary; later calls return the same value.
func (s *RunState) Close(now time.Time) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary != nil {
		return *s.summary
	}
	s.closed = true

	errs := make(map[string]uint64, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}
	perTest := make(map[string]TestCounts, len(s.perTest))
	for k, v := range s.perTest {
		perTest[k] = *v
	}

	sum := Summary{
		Elapsed:   now.Sub(s.start),
		Attempted: s.attempted.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Bytes:     s.bytes.Load(),
		P50:       s.serviceTime.Quantile(50),
		P90:       s.serviceTime.Quantile(90),
		P99:       s.serviceTime.Quantile(99),
		Max:       s.serviceTime.Max(),
		Errors:    errs,
		PerTest:   perTest,
	}
	s.summary = &sum
	return sum
}

// Summary is the final account of a run.
type Summary struct {
	Elapsed   time.Duration         `json:"elapsed"`
	Attempted uint64                `json:"attempted"`
	Succeeded uint64                `json:"succeeded"`
	Failed    uint64                `json:"failed"`
	Bytes     uint64                `json:"bytes"`
	P50       time.Duration         `json:"p50"`
	P90       time.Duration         `json:"p90"`
	P99       time.Duration         `json:"p99"`
	Max       time.Duration         `json:"max"`
	Errors    map[string]uint64     `json:"errors,omitempty"`
	PerTest   map[string]TestCounts `json:"per_test,omitempty"`
}

// Line is the one-line run report.
func (s Summary) Line() string {
	return fmt.Sprintf("Processed %d requests in %.3f seconds. There were %d errors.",
		s.Attempted, s.Elapsed.Seconds(), s.Failed)
}

// ErrorRate is the failed share in percent.
func (s Summary) ErrorRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Attempted) * 100
}

// ErrorCount pairs a failure key with its count.
type ErrorCount struct {
	Key   string
	Count uint64
}

// TopErrors returns failure keys by descending count.
func (s Summary) TopErrors() []ErrorCount {
	out := make([]ErrorCount, 0, len(s.Errors))
	for k, v := range s.Errors {
		out = append(out, ErrorCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Tests returns the names in PerTest, sorted.
func (s Summary) Tests() []string {
	names := make([]string, 0, len(s.PerTest))
	for name := range s.PerTest {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
