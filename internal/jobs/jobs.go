// Package jobs drives the platform's asynchronous geoprocessing pattern:
// submitJob, poll jobs/{id} until a terminal status, then fetch results.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"usagegen/internal/logging"
	"usagegen/internal/rest"
)

// Status is a job status as reported by the service.
type Status string

const (
	StatusNew        Status = "esriJobNew"
	StatusSubmitted  Status = "esriJobSubmitted"
	StatusWaiting    Status = "esriJobWaiting"
	StatusExecuting  Status = "esriJobExecuting"
	StatusSucceeded  Status = "esriJobSucceeded"
	StatusFailed     Status = "esriJobFailed"
	StatusTimedOut   Status = "esriJobTimedOut"
	StatusCancelling Status = "esriJobCancelling"
	StatusCancelled  Status = "esriJobCancelled"
)

// Terminal reports whether polling should stop.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

var ErrJobFailed = errors.New("job did not succeed")

// ErrStopped is returned by Run when its stop signal fires before the job
// reaches a terminal status.
var ErrStopped = errors.New("job polling stopped")

type stopKey struct{}

// WithStop attaches a signal that ends Run's polling. Unlike cancelling ctx,
// it leaves a request already on the wire to complete.
func WithStop(ctx context.Context, stop <-chan struct{}) context.Context {
	return context.WithValue(ctx, stopKey{}, stop)
}

func stopFrom(ctx context.Context) <-chan struct{} {
	stop, _ := ctx.Value(stopKey{}).(<-chan struct{})
	return stop
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Job describes one submission. URL is the task URL without /submitJob.
type Job struct {
	URL    string
	Params url.Values
}

type ResultRef struct {
	ParamURL string `json:"paramUrl"`
}

type Message struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Info is the body of submitJob and jobs/{id}.
type Info struct {
	JobID     string               `json:"jobId"`
	JobStatus Status               `json:"jobStatus"`
	Results   map[string]ResultRef `json:"results,omitempty"`
	Messages  []Message            `json:"messages,omitempty"`
}

// Output is a finished job with its fetched result parameters.
type Output struct {
	Info    Info
	Results map[string]any
}

// Client submits and polls jobs.
type Client struct {
	REST         *rest.Client
	PollInterval time.Duration
}

func NewClient(c *rest.Client, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{REST: c, PollInterval: pollInterval}
}

func withToken(params url.Values, token string) url.Values {
	out := url.Values{}
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	if token != "" {
		out.Set("token", token)
	}
	if out.Get("f") == "" {
		out.Set("f", "json")
	}
	return out
}

func (c *Client) Submit(ctx context.Context, job Job, token string) (Info, error) {
	var info Info
	endpoint := strings.TrimRight(job.URL, "/") + "/submitJob"
	if err := c.REST.Post(ctx, endpoint, withToken(job.Params, token), &info); err != nil {
		return Info{}, fmt.Errorf("submit job: %w", err)
	}
	if info.JobID == "" {
		return Info{}, fmt.Errorf("submit job: response has no jobId")
	}
	return info, nil
}

func (c *Client) Status(ctx context.Context, job Job, jobID, token string) (Info, error) {
	var info Info
	endpoint := strings.TrimRight(job.URL, "/") + "/jobs/" + url.PathEscape(jobID)
	if err := c.REST.Get(ctx, endpoint, withToken(nil, token), &info); err != nil {
		return Info{}, fmt.Errorf("job status: %w", err)
	}
	return info, nil
}

// Results fetches every result parameter listed in info.
func (c *Client) Results(ctx context.Context, job Job, info Info, token string) (map[string]any, error) {
	out := make(map[string]any, len(info.Results))
	base := strings.TrimRight(job.URL, "/") + "/jobs/" + url.PathEscape(info.JobID) + "/"
	for name, ref := range info.Results {
		var v any
		if err := c.REST.Get(ctx, base+ref.ParamURL, withToken(nil, token), &v); err != nil {
			return nil, fmt.Errorf("job result %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// Run submits job, polls until it reaches a terminal status and fetches its
// results. A terminal status other than succeeded returns ErrJobFailed; a
// stop signal attached with WithStop ends polling with ErrStopped.
func (c *Client) Run(ctx context.Context, job Job, token string) (*Output, error) {
	stop := stopFrom(ctx)
	info, err := c.Submit(ctx, job, token)
	if err != nil {
		return nil, err
	}
	log := logging.With().Str("job", info.JobID).Logger()
	log.Debug().Str("status", string(info.JobStatus)).Msg("job submitted")

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for !info.JobStatus.Terminal() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-stop:
		case <-ticker.C:
		}
		if closed(stop) {
			log.Debug().Str("status", string(info.JobStatus)).Msg("job polling stopped")
			return &Output{Info: info}, fmt.Errorf("%w: job %s is %s", ErrStopped, info.JobID, info.JobStatus)
		}
		info, err = c.Status(ctx, job, info.JobID, token)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("status", string(info.JobStatus)).Msg("job polled")
	}

	if info.JobStatus != StatusSucceeded {
		return &Output{Info: info}, fmt.Errorf("%w: %s", ErrJobFailed, info.JobStatus)
	}

	results, err := c.Results(ctx, job, info, token)
	if err != nil {
		return nil, err
	}
	return &Output{Info: info, Results: results}, nil
}
