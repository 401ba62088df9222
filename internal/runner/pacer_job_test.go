package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/jobs"
)

func TestPacerCancelStopsJobPolling(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/FindHotSpots/submitJob", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"j7","jobStatus":"esriJobSubmitted"}`))
	})
	mux.HandleFunc("/FindHotSpots/jobs/j7", func(w http.ResponseWriter, _ *http.Request) {
		polls.Add(1)
		_, _ = w.Write([]byte(`{"jobId":"j7","jobStatus":"esriJobExecuting"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	inv := NewHTTPInvoker(InvokerConfig{Timeout: 5 * time.Second, JobPollInterval: 10 * time.Millisecond})
	spec := TestSpec{Name: "analysis", Enabled: true, Quota: 1, Job: &jobs.Job{URL: srv.URL + "/FindHotSpots"}}

	var (
		mu      sync.Mutex
		results []Result
	)
	h := NewPacer(spec, inv, testCred, func(res Result) {
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}).Start(context.Background())

	require.Eventually(t, func() bool { return polls.Load() >= 2 }, time.Second, time.Millisecond)
	h.Cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("pacer still running after cancel; state=%s polls=%d", h.State(), polls.Load())
	}
	assert.Equal(t, StateDraining, h.State())

	n := polls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, polls.Load(), "no poll may be sent after cancellation")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeHTTPError, results[0].Outcome)
	assert.ErrorIs(t, results[0].Err, jobs.ErrStopped)
}
