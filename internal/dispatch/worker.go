package dispatch

import (
	"fmt"
	"time"

	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// envelope carries a request into a worker and its response back out.
// seq is the dispatcher's submission sequence number.
type envelope struct {
	seq        uint64
	pointCount int
	req        Request
	resp       Response
	elapsed    time.Duration
	workerID   int
}

// Handler turns one request into one response. It must not retain the
// request after returning.
type Handler func(Request) Response

// Handle runs one request through t. It consumes req.AllData and never
// returns a Go error: malformed input comes back as the response's error
// variant.
func Handle(t *pointcloud.Transformer, req Request) Response {
	raw := pointcloud.RawFrame{
		FrameID:    req.FrameID,
		PointCount: req.PointCount,
		Samples:    req.AllData,
	}
	pf, err := t.Transform(raw, req.Config)
	// The worker owns the samples now; drop them either way.
	_, _ = req.AllData.Detach()
	if err != nil {
		return Response{FrameID: req.FrameID, Error: ErrorInfoFor(err)}
	}
	return Response{FrameID: pf.FrameID, Positions: pf.Positions, Colors: pf.Colors}
}

// Worker processes requests from a shared inbox in arrival order and writes
// responses to the outbox. It keeps no state between requests.
type Worker struct {
	id     int
	handle Handler
	inbox  <-chan envelope
	outbox chan<- envelope
	stopCh <-chan struct{}
	logf   func(format string, v ...interface{})
}

func (w *Worker) run() {
	for {
		select {
		case <-w.stopCh:
			return
		case env := <-w.inbox:
			start := time.Now()
			env.resp = w.serve(env.req)
			env.req = Request{}
			env.elapsed = time.Since(start)
			env.workerID = w.id

			select {
			case w.outbox <- env:
			case <-w.stopCh:
				env.resp.Release()
				return
			}
		}
	}
}

// serve runs one request through the handler. A panic in the handler, for
// example from a caller-supplied mapper, becomes an internal error response
// for that frame and the worker carries on.
func (w *Worker) serve(req Request) (resp Response) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		_, _ = req.AllData.Detach()
		if w.logf != nil {
			w.logf("Worker %d recovered from panic on frame %s: %v", w.id, req.FrameID, r)
		}
		resp = Response{
			FrameID: req.FrameID,
			Error:   &ErrorInfo{Kind: ErrorKindInternal, Message: fmt.Sprintf("frame %s: worker panic: %v", req.FrameID, r)},
		}
	}()
	return w.handle(req)
}
