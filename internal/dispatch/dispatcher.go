package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/pointframe/internal/monitoring"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

var (
	// ErrDuplicateFrame is returned when a FrameID is submitted while an
	// earlier request with the same id is still in flight.
	ErrDuplicateFrame = errors.New("frame id already in flight")

	// ErrQueueFull is returned by TrySubmit when the worker inbox is full.
	// The frame is dropped.
	ErrQueueFull = errors.New("dispatch queue full")

	ErrNotRunning = errors.New("dispatcher not running")
	ErrStopped    = errors.New("dispatcher stopped")
)

// Config holds configuration for a Dispatcher.
type Config struct {
	// Workers is the number of transformer goroutines (default: 1).
	// With more than one, responses may complete out of submission order.
	Workers int

	// QueueDepth bounds the worker inbox and outbox (default: 5).
	QueueDepth int

	// Ordered makes callbacks fire in submission order regardless of which
	// worker finishes first.
	Ordered bool

	// StatsInterval is how often to log throughput stats; 0 disables.
	StatsInterval time.Duration

	// Transformer processes frames (default: identity axes, yellow ramp).
	Transformer *pointcloud.Transformer

	// Registerer receives the dispatcher's metrics; nil skips registration.
	Registerer prometheus.Registerer
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:       1,
		QueueDepth:    5,
		StatsInterval: 5 * time.Second,
	}
}

// Callback receives the response for one submitted request and takes
// ownership of its buffers. Callbacks run on the dispatcher's collector
// goroutine and must not block.
type Callback func(Response)

type pendingEntry struct {
	seq       uint64
	cb        Callback
	submitted time.Time
}

// heldResult is a slot in the reorder buffer. skip marks a sequence number
// that will never produce a callback.
type heldResult struct {
	skip bool
	cb   Callback
	resp Response
}

// Dispatcher correlates requests and responses by FrameID across a pool of
// workers.
type Dispatcher struct {
	id     string
	config Config
	handle Handler
	logf   func(format string, v ...interface{})

	inbox  chan envelope
	outbox chan envelope
	kickCh chan struct{}

	mu          sync.Mutex
	pending     map[pointcloud.FrameID]*pendingEntry
	nextSeq     uint64
	nextDeliver uint64
	held        map[uint64]heldResult

	metrics *metrics

	// Stats
	submitted     atomic.Uint64
	completed     atomic.Uint64
	failed        atomic.Uint64
	dropped       atomic.Uint64
	unmatched     atomic.Uint64
	lastStatsTime time.Time
	lastCompleted uint64

	// Lifecycle
	started atomic.Bool
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Call Start before submitting.
func New(cfg Config) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}
	t := cfg.Transformer
	if t == nil {
		t = pointcloud.NewTransformer()
	}

	d := &Dispatcher{
		id:      uuid.NewString(),
		config:  cfg,
		handle:  func(req Request) Response { return Handle(t, req) },
		logf:    monitoring.Prefixed("Dispatch"),
		inbox:   make(chan envelope, cfg.QueueDepth),
		outbox:  make(chan envelope, cfg.QueueDepth),
		kickCh:  make(chan struct{}, 1),
		pending: make(map[pointcloud.FrameID]*pendingEntry),
		held:    make(map[uint64]heldResult),
		stopCh:  make(chan struct{}),
	}
	d.metrics = newMetrics(cfg.Registerer, func() float64 { return float64(len(d.inbox)) })
	return d
}

// ID returns the dispatcher's instance id.
func (d *Dispatcher) ID() string { return d.id }

// Start launches the workers and the collector.
func (d *Dispatcher) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already started")
	}
	d.running.Store(true)

	for i := 0; i < d.config.Workers; i++ {
		w := &Worker{
			id:     i,
			handle: d.handle,
			inbox:  d.inbox,
			outbox: d.outbox,
			stopCh: d.stopCh,
			logf:   d.logf,
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			w.run()
		}()
	}

	d.wg.Add(1)
	go d.collectLoop()

	if d.config.StatsInterval > 0 {
		d.wg.Add(1)
		go d.statsLoop()
	}

	d.logf("Started %d worker(s), queue=%d ordered=%v id=%s",
		d.config.Workers, d.config.QueueDepth, d.config.Ordered, d.id)
	return nil
}

// Stop halts the workers. Requests still in flight never get a callback;
// Process calls waiting on them return ErrStopped.
func (d *Dispatcher) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()

	d.mu.Lock()
	abandoned := len(d.pending)
	d.mu.Unlock()
	d.logf("Stopped (abandoned=%d)", abandoned)
}

// Submit moves req into the worker queue, blocking while the queue is full.
// cb is invoked exactly once with the response unless ctx ends before the
// request is queued, in which case the frame is dropped and ctx's error
// returned.
func (d *Dispatcher) Submit(ctx context.Context, req Request, cb Callback) error {
	_, err := d.submit(ctx, req, cb, true)
	return err
}

// TrySubmit is Submit without blocking: a full queue drops the frame and
// returns ErrQueueFull.
func (d *Dispatcher) TrySubmit(req Request, cb Callback) error {
	_, err := d.submit(context.Background(), req, cb, false)
	return err
}

// Process submits req and waits for its response. An error response is
// returned together with an error that matches pointcloud.ErrMalformedInput
// for malformed input. If ctx ends first the request is abandoned and its
// eventual response dropped as unmatched.
func (d *Dispatcher) Process(ctx context.Context, req Request) (Response, error) {
	return d.process(ctx, req, true)
}

// TryProcess is Process with TrySubmit's queueing: a full queue fails at
// once with ErrQueueFull.
func (d *Dispatcher) TryProcess(ctx context.Context, req Request) (Response, error) {
	return d.process(ctx, req, false)
}

func (d *Dispatcher) process(ctx context.Context, req Request, block bool) (Response, error) {
	ch := make(chan Response, 1)
	id := req.FrameID
	seq, err := d.submit(ctx, req, func(r Response) { ch <- r }, block)
	if err != nil {
		return Response{}, err
	}

	select {
	case resp := <-ch:
		return resp, resp.Err()
	case <-ctx.Done():
		d.cancel(id, seq)
		return Response{}, ctx.Err()
	case <-d.stopCh:
		return Response{}, ErrStopped
	}
}

// Shedder adapts a Dispatcher for callers that prefer losing a frame to
// waiting for queue space.
type Shedder struct {
	d *Dispatcher
}

// Shedder returns a view of d whose Process uses TryProcess.
func (d *Dispatcher) Shedder() *Shedder {
	return &Shedder{d: d}
}

func (s *Shedder) Process(ctx context.Context, req Request) (Response, error) {
	return s.d.TryProcess(ctx, req)
}

func (d *Dispatcher) submit(ctx context.Context, req Request, cb Callback, block bool) (uint64, error) {
	if !d.running.Load() {
		return 0, ErrNotRunning
	}
	if cb == nil {
		return 0, fmt.Errorf("frame %s: nil callback", req.FrameID)
	}
	if req.AllData.Moved() {
		return 0, fmt.Errorf("frame %s: allData: %w", req.FrameID, pointcloud.ErrBufferMoved)
	}

	d.mu.Lock()
	if _, ok := d.pending[req.FrameID]; ok {
		d.mu.Unlock()
		return 0, fmt.Errorf("frame %s: %w", req.FrameID, ErrDuplicateFrame)
	}
	seq := d.nextSeq
	d.nextSeq++
	d.pending[req.FrameID] = &pendingEntry{seq: seq, cb: cb, submitted: time.Now()}
	d.metrics.pendingRequests.Inc()
	d.mu.Unlock()

	data, err := req.AllData.Move()
	if err != nil {
		d.cancel(req.FrameID, seq)
		return 0, fmt.Errorf("frame %s: allData: %w", req.FrameID, err)
	}
	req.AllData = data
	env := envelope{seq: seq, req: req, pointCount: req.PointCount}

	if block {
		select {
		case d.inbox <- env:
		case <-ctx.Done():
			d.cancel(req.FrameID, seq)
			d.recordDrop(req.FrameID, "submitter gave up")
			return 0, ctx.Err()
		case <-d.stopCh:
			d.cancel(req.FrameID, seq)
			return 0, ErrStopped
		}
	} else {
		select {
		case d.inbox <- env:
		default:
			d.cancel(req.FrameID, seq)
			d.recordDrop(req.FrameID, "queue full")
			return 0, ErrQueueFull
		}
	}

	d.submitted.Add(1)
	return seq, nil
}

func (d *Dispatcher) recordDrop(id pointcloud.FrameID, reason string) {
	dropped := d.dropped.Add(1)
	d.metrics.droppedTotal.Inc()
	d.logf("DROPPED frame %s (total dropped: %d), %s", id, dropped, reason)
}

// cancel removes the pending entry for id if it still belongs to seq. In
// ordered mode the sequence number is marked so later results are not held
// back waiting for it, and a result already parked for it is released.
func (d *Dispatcher) cancel(id pointcloud.FrameID, seq uint64) {
	var parked Response
	d.mu.Lock()
	if e, ok := d.pending[id]; ok && e.seq == seq {
		delete(d.pending, id)
		d.metrics.pendingRequests.Dec()
	}
	if d.config.Ordered && seq >= d.nextDeliver {
		if h, ok := d.held[seq]; !ok || !h.skip {
			parked = h.resp
			d.held[seq] = heldResult{skip: true}
		}
	}
	d.mu.Unlock()
	parked.Release()

	if d.config.Ordered {
		select {
		case d.kickCh <- struct{}{}:
		default:
		}
	}
}

func (d *Dispatcher) collectLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case env := <-d.outbox:
			d.deliver(env)
		case <-d.kickCh:
			d.flush()
		}
	}
}

// deliver resolves one response against the pending table.
func (d *Dispatcher) deliver(env envelope) {
	resp := env.resp

	d.mu.Lock()
	entry, ok := d.pending[resp.FrameID]
	if !ok || entry.seq != env.seq {
		d.mu.Unlock()
		n := d.unmatched.Add(1)
		d.metrics.unmatchedTotal.Inc()
		d.logf("Unmatched response for frame %s dropped (total unmatched: %d)", resp.FrameID, n)
		resp.Release()
		return
	}
	delete(d.pending, resp.FrameID)
	d.metrics.pendingRequests.Dec()

	d.recordOutcome(env)

	if !d.config.Ordered {
		d.mu.Unlock()
		entry.cb(resp)
		return
	}
	d.held[env.seq] = heldResult{cb: entry.cb, resp: resp}
	ready := d.drainHeldLocked()
	d.mu.Unlock()

	for _, h := range ready {
		h.cb(h.resp)
	}
}

func (d *Dispatcher) flush() {
	d.mu.Lock()
	ready := d.drainHeldLocked()
	d.mu.Unlock()
	for _, h := range ready {
		h.cb(h.resp)
	}
}

// drainHeldLocked pops the run of consecutive results starting at
// nextDeliver. d.mu must be held.
func (d *Dispatcher) drainHeldLocked() []heldResult {
	var ready []heldResult
	for {
		h, ok := d.held[d.nextDeliver]
		if !ok {
			return ready
		}
		delete(d.held, d.nextDeliver)
		d.nextDeliver++
		if !h.skip {
			ready = append(ready, h)
		}
	}
}

func (d *Dispatcher) recordOutcome(env envelope) {
	status := "ok"
	if env.resp.Error != nil {
		status = env.resp.Error.Kind
		d.failed.Add(1)
	} else {
		d.completed.Add(1)
		d.metrics.pointsTotal.WithLabelValues("out").Add(float64(env.resp.Positions.Len() / pointcloud.OutputStride))
	}
	d.metrics.requestsTotal.WithLabelValues(status).Inc()
	d.metrics.pointsTotal.WithLabelValues("in").Add(float64(env.pointCount))
	d.metrics.processDuration.Observe(env.elapsed.Seconds())
}

func (d *Dispatcher) statsLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.config.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.logPeriodicStats()
		}
	}
}

// logPeriodicStats logs throughput since the previous call.
func (d *Dispatcher) logPeriodicStats() {
	now := time.Now()
	completed := d.completed.Load() + d.failed.Load()
	if d.lastStatsTime.IsZero() {
		d.lastStatsTime = now
		d.lastCompleted = completed
		return
	}

	elapsed := now.Sub(d.lastStatsTime)
	framesInInterval := completed - d.lastCompleted
	fps := float64(framesInInterval) / elapsed.Seconds()
	s := d.Stats()
	d.logf("Stats: fps=%.1f frames=%d failed=%d dropped=%d unmatched=%d pending=%d queue=%d/%d",
		fps, framesInInterval, s.Failed, s.Dropped, s.Unmatched, s.Pending, s.QueueDepth, s.QueueCapacity)
	d.lastStatsTime = now
	d.lastCompleted = completed
}

// Stats returns current dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	pending := len(d.pending)
	d.mu.Unlock()
	return Stats{
		ID:            d.id,
		Workers:       d.config.Workers,
		Ordered:       d.config.Ordered,
		Submitted:     d.submitted.Load(),
		Completed:     d.completed.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		Unmatched:     d.unmatched.Load(),
		Pending:       pending,
		QueueDepth:    len(d.inbox),
		QueueCapacity: cap(d.inbox),
		Running:       d.running.Load(),
	}
}

// Stats contains dispatcher statistics.
type Stats struct {
	ID            string `json:"id"`
	Workers       int    `json:"workers"`
	Ordered       bool   `json:"ordered"`
	Submitted     uint64 `json:"submitted"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Dropped       uint64 `json:"dropped"`
	Unmatched     uint64 `json:"unmatched"`
	Pending       int    `json:"pending"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Running       bool   `json:"running"`
}
