// Package report writes per-request results and run summaries to files.
package report

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"usagegen/internal/runner"
	"usagegen/internal/stats"
)

// jtlHeader is the JMeter results layout, so the file loads into the usual
// JTL tooling.
var jtlHeader = []string{
	"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
	"threadName", "dataType", "success", "failureMessage", "bytes",
	"sentBytes", "grpThreads", "allThreads", "URL", "Latency", "IdleTime", "Connect",
}

// CSVRecorder streams results as they arrive. It is safe for concurrent use.
type CSVRecorder struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	err    error
	closed bool
}

func NewCSVRecorder(path string) (*CSVRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(jtlHeader); err != nil {
		f.Close()
		return nil, err
	}
	return &CSVRecorder{f: f, w: w}, nil
}

// Record appends one row. The first write error is kept and returned by
// Close; later rows, and rows after Close, are dropped.
func (r *CSVRecorder) Record(res runner.Result) {
	row := jtlRow(res)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil || r.closed {
		return
	}
	r.err = r.w.Write(row)
}

func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.err
	}
	r.closed = true
	r.w.Flush()
	if r.err == nil {
		r.err = r.w.Error()
	}
	if err := r.f.Close(); err != nil && r.err == nil {
		r.err = err
	}
	return r.err
}

func jtlRow(res runner.Result) []string {
	failure := ""
	if !res.Success() {
		failure = res.FailureKey()
	}
	ms := strconv.FormatInt(res.ServiceTime.Milliseconds(), 10)
	return []string{
		strconv.FormatInt(res.TimeStamp.UnixMilli(), 10),
		ms,
		res.Test,
		strconv.Itoa(res.Status),
		http.StatusText(res.Status),
		fmt.Sprintf("%s-%d", res.Test, res.Index),
		"bin",
		strconv.FormatBool(res.Success()),
		failure,
		strconv.FormatInt(res.Bytes, 10),
		"0",
		"1",
		"1",
		res.URL,
		ms,
		"0",
		"0",
	}
}

// WriteSummary writes sum as indented JSON.
func WriteSummary(path string, sum stats.Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
