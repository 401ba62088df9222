package runner

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"usagegen/internal/jobs"
)

// Unbounded quota runs until cancelled.
const Unbounded = -1

// ResponseKind selects how a successful body is decoded.
type ResponseKind int

const (
	ResponseJSON ResponseKind = iota
	ResponseBinary
)

func (k ResponseKind) String() string {
	if k == ResponseBinary {
		return "binary"
	}
	return "json"
}

// Outcome classifies one invocation.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeHTTPError
	OutcomeTransportError
	// OutcomeBuildError means no request could be built, so nothing was sent.
	OutcomeBuildError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeHTTPError:
		return "http-error"
	case OutcomeTransportError:
		return "transport-error"
	case OutcomeBuildError:
		return "build-error"
	default:
		return "unknown"
	}
}

// Request is one outbound call before the credential is attached.
type Request struct {
	Method string
	URL    string
	Params url.Values
}

// Sweep enumerates tile coordinates. For each level in [StartLOD, EndLOD],
// x and y each range over [1, 2^lod), x outer and y inner.
type Sweep struct {
	StartLOD    int
	EndLOD      int
	MaxInflight int // 0 means unbounded
	Tile        func(lod, x, y int) Request
}

// LevelSize is the number of coordinates visited at lod.
func LevelSize(lod int) int {
	side := (1 << lod) - 1
	return side * side
}

// Total is the number of requests in the sweep.
func (s *Sweep) Total() int {
	total := 0
	for lod := s.StartLOD; lod <= s.EndLOD; lod++ {
		total += LevelSize(lod)
	}
	return total
}

// At maps the i-th request of the sweep to its coordinate.
func (s *Sweep) At(i int) (lod, x, y int, ok bool) {
	if i < 0 {
		return 0, 0, 0, false
	}
	for lod = s.StartLOD; lod <= s.EndLOD; lod++ {
		n := LevelSize(lod)
		if i < n {
			side := (1 << lod) - 1
			return lod, 1 + i/side, 1 + i%side, true
		}
		i -= n
	}
	return 0, 0, 0, false
}

// TestSpec is the static description of one usage generator.
type TestSpec struct {
	Name     string
	Endpoint string
	Enabled  bool

	// Build returns the index-th request. Unused for sweeps and jobs.
	Build    func(index int) (Request, error)
	Response ResponseKind
	Interval time.Duration
	// Quota is the request count; Unbounded runs until cancelled. Sweeps
	// ignore it and stop when the coordinate space is exhausted.
	Quota int

	// Preamble is fired once at start beside the main sequence and does not
	// consume quota.
	Preamble *Request
	Sweep    *Sweep
	// Job specs run submit, poll and fetch as a single invocation.
	Job *jobs.Job
}

var errNoRequest = errors.New("index out of range")

// Request returns the index-th request of the spec.
func (s TestSpec) Request(index int) (Request, error) {
	if s.Sweep != nil {
		lod, x, y, ok := s.Sweep.At(index)
		if !ok {
			return Request{}, fmt.Errorf("sweep request %d: %w", index, errNoRequest)
		}
		return s.Sweep.Tile(lod, x, y), nil
	}
	if s.Job != nil {
		return Request{Method: "POST", URL: s.Job.URL + "/submitJob", Params: s.Job.Params}, nil
	}
	return s.Build(index)
}

// Planned is the number of main-sequence requests, or Unbounded.
func (s TestSpec) Planned() int {
	if s.Sweep != nil {
		return s.Sweep.Total()
	}
	if s.Quota < 0 {
		return Unbounded
	}
	return s.Quota
}

// Validate checks the spec is runnable.
func (s TestSpec) Validate() error {
	switch {
	case s.Name == "":
		return errors.New("test spec has no name")
	case s.Interval < 0:
		return fmt.Errorf("%s: negative interval", s.Name)
	case s.Quota < Unbounded:
		return fmt.Errorf("%s: quota %d", s.Name, s.Quota)
	}
	switch {
	case s.Sweep != nil:
		if s.Sweep.Tile == nil {
			return fmt.Errorf("%s: sweep has no tile builder", s.Name)
		}
		if s.Sweep.StartLOD < 1 || s.Sweep.StartLOD > s.Sweep.EndLOD {
			return fmt.Errorf("%s: lod range [%d, %d]", s.Name, s.Sweep.StartLOD, s.Sweep.EndLOD)
		}
		if s.Sweep.MaxInflight < 0 {
			return fmt.Errorf("%s: negative in-flight cap", s.Name)
		}
	case s.Job != nil:
		if s.Job.URL == "" {
			return fmt.Errorf("%s: job has no url", s.Name)
		}
	case s.Build == nil:
		return fmt.Errorf("%s: no request builder", s.Name)
	}
	return nil
}

// Result is the classified outcome of one invocation.
type Result struct {
	Test      string
	Index     int
	RequestID string
	// URL never carries the credential.
	URL         string
	Outcome     Outcome
	Status      int
	Err         error
	Payload     any
	Bytes       int64
	ServiceTime time.Duration
	TimeStamp   time.Time
}

func (r Result) Success() bool { return r.Outcome == OutcomeSuccess }

// FailureKey groups failures for the summary.
func (r Result) FailureKey() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return ""
	case OutcomeHTTPError:
		switch {
		case r.Status == 0 && r.Err != nil:
			return "failed: " + r.Err.Error()
		case r.Status >= 200 && r.Status < 300:
			return fmt.Sprintf("http %d: undecodable body", r.Status)
		}
		return fmt.Sprintf("http %d", r.Status)
	case OutcomeBuildError:
		if r.Err != nil {
			return "build: " + r.Err.Error()
		}
		return "build"
	default:
		var uerr *url.Error
		if errors.As(r.Err, &uerr) {
			return "transport: " + uerr.Err.Error()
		}
		if r.Err != nil {
			return "transport: " + r.Err.Error()
		}
		return "transport"
	}
}
