package report

import (
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"usagegen/internal/runner"
)

// Bucket counts the results timestamped within one second.
type Bucket struct {
	Timestamp int64 `json:"timestamp"`
	Requests  int   `json:"requests"`
	Errors    int   `json:"errors"`
}

// Timeline aggregates results per second. It is safe for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	buckets map[int64]*Bucket
}

func NewTimeline() *Timeline {
	return &Timeline{buckets: make(map[int64]*Bucket)}
}

func (t *Timeline) Record(res runner.Result) {
	ts := res.TimeStamp.Unix()

	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[ts]
	if !ok {
		b = &Bucket{Timestamp: ts}
		t.buckets[ts] = b
	}
	b.Requests++
	if !res.Success() {
		b.Errors++
	}
}

// Buckets returns the seconds in ascending order.
func (t *Timeline) Buckets() []Bucket {
	t.mu.Lock()
	out := make([]Bucket, 0, len(t.buckets))
	for _, b := range t.buckets {
		out = append(out, *b)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func (t *Timeline) Write(path string) error {
	data, err := json.MarshalIndent(t.Buckets(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
