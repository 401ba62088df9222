package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"usagegen/internal/auth"
	"usagegen/internal/jobs"
	"usagegen/internal/logging"
)

// State of a Pacer.
type State int32

const (
	StateIdle State = iota
	StateRunning
	// StateDraining is entered on cancellation and kept once in-flight
	// calls have finished.
	StateDraining
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ResultFunc receives every result, possibly from several goroutines.
type ResultFunc func(Result)

// Pacer issues the requests of one TestSpec at its interval.
type Pacer struct {
	spec     TestSpec
	inv      Invoker
	cred     auth.Credential
	onResult ResultFunc
}

func NewPacer(spec TestSpec, inv Invoker, cred auth.Credential, onResult ResultFunc) *Pacer {
	if onResult == nil {
		onResult = func(Result) {}
	}
	return &Pacer{spec: spec, inv: inv, cred: cred, onResult: onResult}
}

// Handle controls a started Pacer.
type Handle struct {
	state      atomic.Int32
	cancel     context.CancelFunc
	done       chan struct{}
	dispatched atomic.Int64
}

// Cancel stops scheduling. Calls already dispatched run to completion.
func (h *Handle) Cancel() {
	h.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	h.cancel()
}

// Wait blocks until the pacer and its in-flight calls have finished.
func (h *Handle) Wait() { <-h.done }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) State() State { return State(h.state.Load()) }

// Dispatched counts main-sequence invocations issued so far.
func (h *Handle) Dispatched() int64 { return h.dispatched.Load() }

// Start runs the pacer in its own goroutine. Cancelling ctx has the same
// effect as Handle.Cancel.
func (p *Pacer) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	h.state.Store(int32(StateRunning))

	go func() {
		defer close(h.done)
		defer cancel()

		// Dispatched calls outlive cancellation; job polling does not.
		callCtx := jobs.WithStop(context.WithoutCancel(ctx), ctx.Done())

		var side sync.WaitGroup
		if p.spec.Preamble != nil {
			side.Add(1)
			go func() {
				defer side.Done()
				p.onResult(p.inv.Invoke(callCtx, p.preambleSpec(), p.cred, 0))
			}()
		}

		var finished bool
		if p.spec.Sweep != nil {
			finished = p.runSweep(ctx, callCtx, h)
		} else {
			finished = p.runSequence(ctx, callCtx, h)
		}
		side.Wait()

		if finished {
			h.state.CompareAndSwap(int32(StateRunning), int32(StateComplete))
			return
		}
		h.state.Store(int32(StateDraining))
	}()
	return h
}

func (p *Pacer) preambleSpec() TestSpec {
	pre := *p.spec.Preamble
	return TestSpec{
		Name:     p.spec.Name + ":preamble",
		Endpoint: pre.URL,
		Enabled:  true,
		Build:    func(int) (Request, error) { return pre, nil },
		Response: ResponseJSON,
		Quota:    1,
	}
}

// runSequence waits for each result before scheduling the next call. It
// reports whether the quota was exhausted.
func (p *Pacer) runSequence(ctx, callCtx context.Context, h *Handle) bool {
	quota := p.spec.Quota
	for i := 0; quota < 0 || i < quota; i++ {
		if ctx.Err() != nil {
			return false
		}
		h.dispatched.Add(1)
		p.onResult(p.inv.Invoke(callCtx, p.spec, p.cred, i))

		if quota >= 0 && i+1 >= quota {
			return true
		}
		if !sleep(ctx, p.spec.Interval) {
			return false
		}
	}
	return true
}

// runSweep dispatches one call per coordinate without waiting for
// responses, spaced by the interval and bounded by MaxInflight. It reports
// whether every coordinate was dispatched.
func (p *Pacer) runSweep(ctx, callCtx context.Context, h *Handle) bool {
	sweep := p.spec.Sweep
	log := logging.With().Str("test", p.spec.Name).Logger()

	limit := rate.Inf
	if p.spec.Interval > 0 {
		limit = rate.Every(p.spec.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	var sem *semaphore.Weighted
	if sweep.MaxInflight > 0 {
		sem = semaphore.NewWeighted(int64(sweep.MaxInflight))
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	total := sweep.Total()
	log.Debug().Int("start_lod", sweep.StartLOD).Int("end_lod", sweep.EndLOD).Int("requests", total).Msg("sweep started")

	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return false
		}
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		if sem != nil {
			if err := sem.Acquire(ctx, 1); err != nil {
				return false
			}
		}
		h.dispatched.Add(1)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if sem != nil {
				defer sem.Release(1)
			}
			p.onResult(p.inv.Invoke(callCtx, p.spec, p.cred, i))
		}(i)
	}
	return true
}

// sleep waits d or until ctx is done, reporting whether to continue.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
