package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/runner"
)

func TestTimeline(t *testing.T) {
	base := time.Unix(1700000000, 0)
	tl := NewTimeline()
	tl.Record(runner.Result{Outcome: runner.OutcomeSuccess, TimeStamp: base.Add(1500 * time.Millisecond)})
	tl.Record(runner.Result{Outcome: runner.OutcomeSuccess, TimeStamp: base})
	tl.Record(runner.Result{Outcome: runner.OutcomeTransportError, TimeStamp: base.Add(200 * time.Millisecond)})

	assert.Equal(t, []Bucket{
		{Timestamp: 1700000000, Requests: 2, Errors: 1},
		{Timestamp: 1700000001, Requests: 1},
	}, tl.Buckets())

	path := filepath.Join(t.TempDir(), "timeline.json")
	require.NoError(t, tl.Write(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"requests": 2`)
}
