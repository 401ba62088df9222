package storage

import (
	"errors"
	"time"

	"usagegen/internal/stats"
)

// ErrNotFound is returned by Get for unknown run ids.
var ErrNotFound = errors.New("run not found")

// Record is one finished run as kept in the history file.
type Record struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Stage     string        `json:"stage"`
	Tests     []string      `json:"tests"`
	Summary   stats.Summary `json:"summary"`
}

// NewRecord stamps a summary for saving. The id is assigned by Save.
func NewRecord(stage string, tests []string, sum stats.Summary, at time.Time) Record {
	return Record{
		Timestamp: at,
		Stage:     stage,
		Tests:     append([]string(nil), tests...),
		Summary:   sum,
	}
}
