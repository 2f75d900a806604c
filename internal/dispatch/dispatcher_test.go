package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pointframe/internal/pointcloud"
	"github.com/banshee-data/pointframe/internal/testutil"
)

func scenarioRequest(id string, cfg pointcloud.DownsampleConfig) Request {
	return Request{
		FrameID:    pointcloud.FrameID(id),
		PointCount: testutil.ScenarioPointCount,
		AllData:    pointcloud.NewBuffer(testutil.ScenarioSamples()),
		Config:     cfg,
	}
}

// startDispatcher starts d with an optional handler override and stops it
// when the test finishes.
func startDispatcher(t *testing.T, cfg Config, handle Handler) *Dispatcher {
	t.Helper()
	cfg.StatsInterval = 0
	d := New(cfg)
	if handle != nil {
		d.handle = handle
	}
	require.NoError(t, d.Start())
	t.Cleanup(d.Stop)
	return d
}

// gatedHandler blocks every request until gate is closed.
func gatedHandler(gate <-chan struct{}) Handler {
	t := pointcloud.NewTransformer()
	return func(req Request) Response {
		<-gate
		return Handle(t, req)
	}
}

func TestDispatcher_ProcessKeepAll(t *testing.T) {
	d := startDispatcher(t, DefaultConfig(), nil)

	resp, err := d.Process(context.Background(), scenarioRequest("frame-A", pointcloud.DefaultDownsampleConfig()))
	require.NoError(t, err)

	assert.Equal(t, pointcloud.FrameID("frame-A"), resp.FrameID)
	positions, err := resp.Positions.Float32s()
	require.NoError(t, err)
	colors, err := resp.Colors.Float32s()
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0, 1, 1, 1, 2, 2, 2, 3, 3, 3}, positions)
	n1 := float32(100.0 / 255.0)
	n2 := float32(200.0 / 255.0)
	assert.Equal(t, []float32{n1, n1, 0, n2, n2, 0, 0, 0, 0, 1, 1, 0}, colors)
}

func TestDispatcher_ProcessStride(t *testing.T) {
	d := startDispatcher(t, DefaultConfig(), nil)

	resp, err := d.Process(context.Background(),
		scenarioRequest("frame-B", pointcloud.DownsampleConfig{Mode: pointcloud.DownsampleNth, N: 2}))
	require.NoError(t, err)

	positions, _ := resp.Positions.Float32s()
	assert.Equal(t, []float32{0, 0, 0, 2, 2, 2}, positions)
	colors, _ := resp.Colors.Float32s()
	assert.Equal(t, []float32{float32(100.0 / 255.0), float32(100.0 / 255.0), 0, 0, 0, 0}, colors)
}

func TestDispatcher_ProcessMalformed(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Registerer = reg
	d := startDispatcher(t, cfg, nil)

	resp, err := d.Process(context.Background(),
		scenarioRequest("bad", pointcloud.DownsampleConfig{Mode: pointcloud.DownsampleNth, N: 0}))
	require.Error(t, err)
	assert.ErrorIs(t, err, pointcloud.ErrMalformedInput)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorKindMalformedInput, resp.Error.Kind)
	assert.Nil(t, resp.Positions)

	assert.Equal(t, 1.0, promtest.ToFloat64(d.metrics.requestsTotal.WithLabelValues(ErrorKindMalformedInput)))
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatcher_PanickingMapperReportsInternalError(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.Registerer = reg
	cfg.Transformer = pointcloud.NewTransformer(pointcloud.WithColors(
		pointcloud.ColorMapperFunc(func(intensity float32) (float32, float32, float32) {
			if intensity == 0 {
				panic("zero intensity")
			}
			return pointcloud.YellowIntensity.MapIntensity(intensity)
		}),
	))
	d := startDispatcher(t, cfg, nil)

	// The scenario frame has a zero-intensity point.
	resp, err := d.Process(context.Background(), scenarioRequest("boom", pointcloud.DefaultDownsampleConfig()))
	require.Error(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorKindInternal, resp.Error.Kind)
	assert.Contains(t, resp.Error.Message, "zero intensity")
	assert.Equal(t, pointcloud.FrameID("boom"), resp.FrameID)
	assert.Equal(t, 1.0, promtest.ToFloat64(d.metrics.requestsTotal.WithLabelValues(ErrorKindInternal)))

	// The worker survives and keeps serving.
	resp, err = d.Process(context.Background(), Request{
		FrameID:    "after",
		PointCount: 1,
		AllData:    pointcloud.NewBuffer([]float32{1, 2, 3, 50}),
		Config:     pointcloud.DefaultDownsampleConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Positions.Len())
	assert.Equal(t, 0, d.Stats().Pending)
}

func TestDispatcher_ZeroPointFrame(t *testing.T) {
	d := startDispatcher(t, DefaultConfig(), nil)

	resp, err := d.Process(context.Background(), Request{
		FrameID: "empty",
		AllData: pointcloud.NewBuffer(nil),
		Config:  pointcloud.DownsampleConfig{Mode: pointcloud.DownsampleNth, N: 3},
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Error)
	assert.Equal(t, 0, resp.Positions.Len())
	assert.Equal(t, 0, resp.Colors.Len())
	assert.False(t, resp.Positions.Moved())
}

func TestDispatcher_SubmitMovesSamples(t *testing.T) {
	d := startDispatcher(t, DefaultConfig(), nil)

	req := scenarioRequest("m", pointcloud.DefaultDownsampleConfig())
	done := make(chan Response, 1)
	require.NoError(t, d.Submit(context.Background(), req, func(r Response) { done <- r }))

	assert.True(t, req.AllData.Moved(), "sender handle must be invalidated")
	_, err := req.AllData.Float32s()
	assert.ErrorIs(t, err, pointcloud.ErrBufferMoved)

	// Reusing the moved buffer is a transfer error, not a silent alias.
	req.FrameID = "m2"
	err = d.Submit(context.Background(), req, func(Response) {})
	assert.ErrorIs(t, err, pointcloud.ErrBufferMoved)

	select {
	case r := <-done:
		assert.Equal(t, 4, r.Positions.Len()/pointcloud.OutputStride)
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
	}
}

func TestDispatcher_DuplicateFrameID(t *testing.T) {
	gate := make(chan struct{})
	d := startDispatcher(t, DefaultConfig(), gatedHandler(gate))
	defer close(gate)

	cb := func(Response) {}
	require.NoError(t, d.Submit(context.Background(), scenarioRequest("dup", pointcloud.DefaultDownsampleConfig()), cb))

	second := scenarioRequest("dup", pointcloud.DefaultDownsampleConfig())
	err := d.Submit(context.Background(), second, cb)
	assert.ErrorIs(t, err, ErrDuplicateFrame)
	assert.False(t, second.AllData.Moved(), "rejected request keeps its samples")
}

func TestDispatcher_TrySubmitQueueFull(t *testing.T) {
	gate := make(chan struct{})
	cfg := DefaultConfig()
	cfg.QueueDepth = 1
	d := startDispatcher(t, cfg, gatedHandler(gate))
	defer close(gate)

	var full int
	for i := 0; i < 5; i++ {
		err := d.TrySubmit(scenarioRequest(fmt.Sprint(i), pointcloud.DefaultDownsampleConfig()), func(Response) {})
		if err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
			full++
		}
	}

	assert.GreaterOrEqual(t, full, 3)
	stats := d.Stats()
	assert.Equal(t, uint64(full), stats.Dropped)
	assert.Equal(t, 5-full, stats.Pending)
	assert.Equal(t, float64(full), promtest.ToFloat64(d.metrics.droppedTotal))
}

func TestDispatcher_UnmatchedResponseDropped(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := New(Config{Registerer: reg})

	d.deliver(envelope{
		seq: 42,
		resp: Response{
			FrameID:   "ghost",
			Positions: pointcloud.NewBuffer([]float32{1, 2, 3}),
			Colors:    pointcloud.NewBuffer([]float32{1, 1, 0}),
		},
	})

	assert.Equal(t, uint64(1), d.Stats().Unmatched)
	assert.Equal(t, 1.0, promtest.ToFloat64(d.metrics.unmatchedTotal))

	n, err := promtest.GatherAndCount(reg, "pointframe_dispatch_unmatched_responses_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatcher_ProcessContextAbandons(t *testing.T) {
	gate := make(chan struct{})
	d := startDispatcher(t, DefaultConfig(), gatedHandler(gate))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Process(ctx, scenarioRequest("slow", pointcloud.DefaultDownsampleConfig()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	require.Eventually(t, func() bool { return d.Stats().Unmatched == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, d.Stats().Pending)

	// The id is free again once abandoned.
	_, err = d.Process(context.Background(), scenarioRequest("slow", pointcloud.DefaultDownsampleConfig()))
	assert.NoError(t, err)
}

func TestDispatcher_OrderedAcrossWorkers(t *testing.T) {
	base := pointcloud.NewTransformer()
	slowFirst := func(req Request) Response {
		if req.FrameID == "0" {
			time.Sleep(50 * time.Millisecond)
		}
		return Handle(base, req)
	}

	cfg := DefaultConfig()
	cfg.Workers = 4
	cfg.QueueDepth = 8
	cfg.Ordered = true
	d := startDispatcher(t, cfg, slowFirst)

	var (
		mu  sync.Mutex
		got []pointcloud.FrameID
		wg  sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		err := d.Submit(context.Background(), scenarioRequest(fmt.Sprint(i), pointcloud.DefaultDownsampleConfig()),
			func(r Response) {
				mu.Lock()
				got = append(got, r.FrameID)
				mu.Unlock()
				wg.Done()
			})
		require.NoError(t, err)
	}
	wg.Wait()

	want := []pointcloud.FrameID{"0", "1", "2", "3", "4", "5", "6", "7"}
	assert.Equal(t, want, got)
}

func TestDispatcher_OrderedSkipsDroppedFrames(t *testing.T) {
	gate := make(chan struct{})
	cfg := DefaultConfig()
	cfg.QueueDepth = 1
	cfg.Ordered = true
	d := startDispatcher(t, cfg, gatedHandler(gate))

	var (
		mu  sync.Mutex
		got []pointcloud.FrameID
	)
	accepted := 0
	for i := 0; i < 5; i++ {
		err := d.TrySubmit(scenarioRequest(fmt.Sprint(i), pointcloud.DefaultDownsampleConfig()), func(r Response) {
			mu.Lock()
			got = append(got, r.FrameID)
			mu.Unlock()
		})
		if err == nil {
			accepted++
		}
	}
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == accepted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcher_OrderedCancelReleasesParkedResult(t *testing.T) {
	gate := make(chan struct{})
	base := pointcloud.NewTransformer()
	var parked *pointcloud.Buffer
	handle := func(req Request) Response {
		if req.FrameID == "first" {
			<-gate
			return Handle(base, req)
		}
		resp := Handle(base, req)
		parked = resp.Positions
		return resp
	}

	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.QueueDepth = 2
	cfg.Ordered = true
	d := startDispatcher(t, cfg, handle)
	t.Cleanup(func() {
		select {
		case <-gate:
		default:
			close(gate)
		}
	})

	firstDone := make(chan Response, 1)
	require.NoError(t, d.Submit(context.Background(),
		scenarioRequest("first", pointcloud.DefaultDownsampleConfig()),
		func(r Response) { firstDone <- r }))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Process(ctx, scenarioRequest("second", pointcloud.DefaultDownsampleConfig()))
		errCh <- err
	}()

	// "second" finishes first and waits behind "first".
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.held) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.True(t, parked.Moved(), "parked result should be released")

	close(gate)
	select {
	case r := <-firstDone:
		assert.Equal(t, pointcloud.FrameID("first"), r.FrameID)
		r.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("first frame never delivered")
	}
	assert.Equal(t, 0, d.Stats().Pending)
}

func TestDispatcher_UnorderedAllComplete(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 3
	d := startDispatcher(t, cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Process(context.Background(), scenarioRequest(fmt.Sprint(i), pointcloud.DefaultDownsampleConfig()))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stats := d.Stats()
	assert.Equal(t, uint64(20), stats.Submitted)
	assert.Equal(t, uint64(20), stats.Completed)
	assert.Equal(t, 0, stats.Pending)
}

func TestDispatcher_NotRunning(t *testing.T) {
	d := New(DefaultConfig())
	err := d.Submit(context.Background(), scenarioRequest("x", pointcloud.DefaultDownsampleConfig()), func(Response) {})
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, d.Start())
	assert.Error(t, d.Start(), "second Start must fail")
	d.Stop()
	d.Stop()

	_, err = d.Process(context.Background(), scenarioRequest("y", pointcloud.DefaultDownsampleConfig()))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDispatcher_LogPeriodicStats(t *testing.T) {
	var lines []string
	d := New(DefaultConfig())
	d.logf = func(format string, v ...interface{}) { lines = append(lines, fmt.Sprintf(format, v...)) }

	d.logPeriodicStats() // first call only records the baseline
	assert.Empty(t, lines)

	d.completed.Add(10)
	d.lastStatsTime = time.Now().Add(-2 * time.Second)
	d.logPeriodicStats()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "frames=10")
	assert.Contains(t, lines[0], "queue=0/5")
}

func TestDispatcher_ShedderFailsFast(t *testing.T) {
	gate := make(chan struct{})
	cfg := DefaultConfig()
	cfg.QueueDepth = 1
	d := startDispatcher(t, cfg, gatedHandler(gate))
	defer close(gate)

	shed := d.Shedder()
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func(i int) {
			_, err := shed.Process(context.Background(), scenarioRequest(fmt.Sprint(i), pointcloud.DefaultDownsampleConfig()))
			results <- err
		}(i)
	}

	// At most two frames fit (one in the worker, one queued); the rest fail
	// without waiting for the gate.
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrQueueFull)
		case <-time.After(2 * time.Second):
			t.Fatal("shedder blocked on a full queue")
		}
	}
}
