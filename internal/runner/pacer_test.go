package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"usagegen/internal/auth"
)

type call struct {
	test  string
	index int
	url   string
}

// stubInvoker records calls and answers success unless outcome says otherwise.
type stubInvoker struct {
	mu      sync.Mutex
	calls   []call
	delay   time.Duration
	outcome func(n int, res Result) Result

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (s *stubInvoker) Invoke(_ context.Context, spec TestSpec, _ auth.Credential, index int) Result {
	cur := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		prev := s.maxInflight.Load()
		if cur <= prev || s.maxInflight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	req, _ := spec.Request(index)
	s.mu.Lock()
	s.calls = append(s.calls, call{test: spec.Name, index: index, url: req.URL})
	n := len(s.calls) - 1
	s.mu.Unlock()

	res := Result{Test: spec.Name, Index: index, URL: req.URL, Outcome: OutcomeSuccess, Status: 200}
	if s.outcome != nil {
		res = s.outcome(n, res)
	}
	return res
}

func (s *stubInvoker) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func fixedSpec(name string, quota int, interval time.Duration) TestSpec {
	return TestSpec{
		Name:     name,
		Enabled:  true,
		Quota:    quota,
		Interval: interval,
		Build: func(i int) (Request, error) {
			return Request{Method: "GET", URL: fmt.Sprintf("https://example.com/%s/%d", name, i)}, nil
		},
	}
}

func tileSpec(start, end, maxInflight int) TestSpec {
	return TestSpec{
		Name:    "tiles:vector",
		Enabled: true,
		Sweep: &Sweep{
			StartLOD:    start,
			EndLOD:      end,
			MaxInflight: maxInflight,
			Tile: func(lod, x, y int) Request {
				return Request{Method: "GET", URL: fmt.Sprintf("%d/%d/%d", lod, x, y)}
			},
		},
		Response: ResponseBinary,
	}
}

var testCred = auth.NewStaticKey("test-key")

func TestBoundedPacerIssuesExactlyQuota(t *testing.T) {
	for _, quota := range []int{0, 1, 3, 7} {
		t.Run(fmt.Sprintf("quota=%d", quota), func(t *testing.T) {
			inv := &stubInvoker{}
			var results atomic.Int32
			h := NewPacer(fixedSpec("geocode", quota, 0), inv, testCred, func(Result) { results.Add(1) }).
				Start(context.Background())
			h.Wait()

			assert.Len(t, inv.Calls(), quota)
			assert.Equal(t, int32(quota), results.Load())
			assert.Equal(t, int64(quota), h.Dispatched())
			assert.Equal(t, StateComplete, h.State())
		})
	}
}

func TestPacerIsSequential(t *testing.T) {
	inv := &stubInvoker{delay: 2 * time.Millisecond}
	h := NewPacer(fixedSpec("geocode", 5, time.Millisecond), inv, testCred, nil).Start(context.Background())
	h.Wait()

	assert.Equal(t, int32(1), inv.maxInflight.Load())
	for i, c := range inv.Calls() {
		assert.Equal(t, i, c.index)
	}
}

func TestPacerCancellationStopsScheduling(t *testing.T) {
	for _, k := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if k == 0 {
				cancel()
			}

			inv := &stubInvoker{}
			var counted atomic.Int32
			h := NewPacer(fixedSpec("places", 10, 0), inv, testCred, func(Result) {
				if int(counted.Add(1)) == k {
					cancel()
				}
			}).Start(ctx)
			h.Wait()

			assert.LessOrEqual(t, int(counted.Load()), k+1)
			assert.LessOrEqual(t, len(inv.Calls()), k+1)
			assert.Equal(t, StateDraining, h.State())
		})
	}
}

func TestPacerHandleCancel(t *testing.T) {
	inv := &stubInvoker{}
	h := NewPacer(fixedSpec("suggest", Unbounded, 5*time.Millisecond), inv, testCred, nil).Start(context.Background())

	require.Eventually(t, func() bool { return len(inv.Calls()) >= 2 }, time.Second, time.Millisecond)
	h.Cancel()
	h.Wait()

	n := len(inv.Calls())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, len(inv.Calls()), "no call may be scheduled after cancellation")
	assert.Equal(t, StateDraining, h.State())
}

func TestLevelSize(t *testing.T) {
	for lod := 1; lod <= 12; lod++ {
		side := (1 << lod) - 1
		assert.Equal(t, side*side, LevelSize(lod), "lod %d", lod)
	}
}

func TestSweepAtIsRowMajor(t *testing.T) {
	s := &Sweep{StartLOD: 1, EndLOD: 2}
	assert.Equal(t, 1+9, s.Total())

	var got [][3]int
	for i := 0; i < s.Total(); i++ {
		lod, x, y, ok := s.At(i)
		require.True(t, ok)
		got = append(got, [3]int{lod, x, y})
	}
	want := [][3]int{
		{1, 1, 1},
		{2, 1, 1}, {2, 1, 2}, {2, 1, 3},
		{2, 2, 1}, {2, 2, 2}, {2, 2, 3},
		{2, 3, 1}, {2, 3, 2}, {2, 3, 3},
	}
	assert.Equal(t, want, got)

	_, _, _, ok := s.At(s.Total())
	assert.False(t, ok)
}

func TestSweepVisitsEveryCoordinateInOrder(t *testing.T) {
	inv := &stubInvoker{}
	// One in flight at a time makes dispatch order observable.
	h := NewPacer(tileSpec(1, 3, 1), inv, testCred, nil).Start(context.Background())
	h.Wait()

	var want []string
	for lod := 1; lod <= 3; lod++ {
		for x := 1; x < 1<<lod; x++ {
			for y := 1; y < 1<<lod; y++ {
				want = append(want, fmt.Sprintf("%d/%d/%d", lod, x, y))
			}
		}
	}
	var got []string
	for _, c := range inv.Calls() {
		got = append(got, c.url)
	}
	assert.Equal(t, want, got)
	assert.Len(t, got, 1+9+49)
	assert.Equal(t, StateComplete, h.State())
}

func TestSweepIsFireAndForget(t *testing.T) {
	inv := &stubInvoker{delay: 20 * time.Millisecond}
	h := NewPacer(tileSpec(2, 2, 0), inv, testCred, nil).Start(context.Background())
	h.Wait()

	assert.Len(t, inv.Calls(), 9)
	assert.Greater(t, inv.maxInflight.Load(), int32(1))
}

func TestSweepRespectsMaxInflight(t *testing.T) {
	inv := &stubInvoker{delay: 5 * time.Millisecond}
	h := NewPacer(tileSpec(2, 3, 3), inv, testCred, nil).Start(context.Background())
	h.Wait()

	assert.Len(t, inv.Calls(), 9+49)
	assert.LessOrEqual(t, inv.maxInflight.Load(), int32(3))
}

func TestSweepIntervalPacesDispatch(t *testing.T) {
	inv := &stubInvoker{}
	spec := tileSpec(2, 2, 0)
	spec.Interval = 5 * time.Millisecond

	start := time.Now()
	NewPacer(spec, inv, testCred, nil).Start(context.Background()).Wait()

	// Nine dispatches leave eight gaps.
	assert.GreaterOrEqual(t, time.Since(start), 8*5*time.Millisecond-2*time.Millisecond)
}

func TestPreambleDoesNotConsumeQuota(t *testing.T) {
	inv := &stubInvoker{}
	spec := tileSpec(1, 1, 0)
	spec.Preamble = &Request{Method: "GET", URL: "styles/ArcGIS:Topographic"}

	var mu sync.Mutex
	var names []string
	h := NewPacer(spec, inv, testCred, func(r Result) {
		mu.Lock()
		names = append(names, r.Test)
		mu.Unlock()
	}).Start(context.Background())
	h.Wait()

	assert.Equal(t, int64(1), h.Dispatched())
	assert.ElementsMatch(t, []string{"tiles:vector", "tiles:vector:preamble"}, names)
}

func TestValidate(t *testing.T) {
	ok := fixedSpec("geocode", 1, 0)
	assert.NoError(t, ok.Validate())

	noBuild := ok
	noBuild.Build = nil
	assert.Error(t, noBuild.Validate())

	badLOD := tileSpec(5, 3, 0)
	assert.Error(t, badLOD.Validate())

	noName := ok
	noName.Name = ""
	assert.Error(t, noName.Validate())
}
