package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"usagegen/internal/auth"
	"usagegen/internal/logging"
	"usagegen/internal/metrics"
	"usagegen/internal/stats"
)

var (
	ErrNoTests        = errors.New("no tests enabled")
	ErrAlreadyStarted = errors.New("coordinator already started")
)

// CredentialResolver yields the run credential.
type CredentialResolver interface {
	Resolve(ctx context.Context) (auth.Credential, error)
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Resolver CredentialResolver
	Invoker  Invoker
	// OnResult, if set, observes every counted result.
	OnResult ResultFunc
	Now      func() time.Time
}

// Coordinator runs one Pacer per enabled TestSpec and owns the RunState.
type Coordinator struct {
	cfg CoordinatorConfig

	mu      sync.Mutex
	state   *stats.RunState
	handles []*Handle
	specs   []TestSpec
	done    chan struct{}

	terminate sync.Once
	summary   stats.Summary
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{cfg: cfg, done: make(chan struct{})}
}

// Start resolves the credential and starts the pacers. On any error no
// pacer is started.
func (c *Coordinator) Start(ctx context.Context, specs []TestSpec) (*stats.RunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != nil {
		return nil, ErrAlreadyStarted
	}

	var enabled []TestSpec
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("invalid test: %w", err)
		}
		enabled = append(enabled, spec)
	}
	if len(enabled) == 0 {
		return nil, ErrNoTests
	}

	if c.cfg.Resolver == nil {
		return nil, &auth.AuthError{Op: "resolve", Err: auth.ErrMissingCredentials}
	}
	cred, err := c.cfg.Resolver.Resolve(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues("auth-error").Inc()
		return nil, err
	}
	if cred.IsZero() {
		metrics.RunsTotal.WithLabelValues("auth-error").Inc()
		return nil, &auth.AuthError{Op: "resolve", Err: auth.ErrMissingCredentials}
	}

	c.state = stats.NewRunState(c.cfg.Now())
	c.specs = enabled
	logging.Info().
		Str("provenance", cred.Provenance().String()).
		Int("tests", len(enabled)).
		Msg("run started")

	for _, spec := range enabled {
		h := NewPacer(spec, c.cfg.Invoker, cred, c.record).Start(ctx)
		c.handles = append(c.handles, h)
	}
	metrics.RunsTotal.WithLabelValues("started").Inc()

	handles := c.handles
	go func() {
		for _, h := range handles {
			h.Wait()
		}
		close(c.done)
	}()
	return c.state, nil
}

func (c *Coordinator) record(res Result) {
	sample := stats.Sample{
		Test:        res.Test,
		Success:     res.Success(),
		Bytes:       res.Bytes,
		ServiceTime: res.ServiceTime,
		Failure:     res.FailureKey(),
	}
	if !c.state.Record(sample) {
		logging.Debug().Str("test", res.Test).Msg("result after termination dropped")
		return
	}
	metrics.ObserveRequest(res.Test, res.Outcome.String(), res.ServiceTime)

	if res.Success() {
		logging.Debug().
			Str("test", res.Test).
			Int("index", res.Index).
			Int64("bytes", res.Bytes).
			Dur("service_time", res.ServiceTime).
			Msg("request succeeded")
	} else {
		ev := logging.Warn().
			Str("test", res.Test).
			Str("url", res.URL).
			Str("outcome", res.Outcome.String()).
			Str("request_id", res.RequestID)
		if res.Status != 0 {
			ev = ev.Int("status", res.Status)
		}
		ev.Err(res.Err).Msg("request failed")
	}

	if c.cfg.OnResult != nil {
		c.cfg.OnResult(res)
	}
}

// Done is closed once every pacer has finished on its own or after
// cancellation. It is never closed if Start failed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Wait blocks until Done is closed.
func (c *Coordinator) Wait() { <-c.done }

// State is nil before a successful Start.
func (c *Coordinator) State() *stats.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tests returns the names of the started tests.
func (c *Coordinator) Tests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.specs))
	for _, s := range c.specs {
		names = append(names, s.Name)
	}
	return names
}

// Planned is the total main-sequence request count, or Unbounded if any
// started test is unbounded.
func (c *Coordinator) Planned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, s := range c.specs {
		n := s.Planned()
		if n < 0 {
			return Unbounded
		}
		total += n
	}
	return total
}

// Terminate cancels every pacer and takes the summary. It runs exactly once;
// later calls return the first summary. Results arriving afterwards are
// not counted.
func (c *Coordinator) Terminate() stats.Summary {
	c.terminate.Do(func() {
		c.mu.Lock()
		handles := c.handles
		state := c.state
		c.mu.Unlock()

		for _, h := range handles {
			h.Cancel()
		}
		if state == nil {
			return
		}
		c.summary = state.Close(c.cfg.Now())
		metrics.RunsTotal.WithLabelValues("finished").Inc()
		logging.Info().
			Uint64("attempted", c.summary.Attempted).
			Uint64("failed", c.summary.Failed).
			Dur("elapsed", c.summary.Elapsed).
			Msg("run terminated")
	})
	return c.summary
}
