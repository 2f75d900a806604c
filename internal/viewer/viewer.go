// Package viewer is the caller side of the frame pipeline: it answers frame
// requests from the cache when it can and dispatches the rest, storing each
// new result.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/framecache"
	"github.com/banshee-data/pointframe/internal/monitoring"
	"github.com/banshee-data/pointframe/internal/pointcloud"
	"github.com/banshee-data/pointframe/internal/timeutil"
)

// Processor turns a request into a response. Both the local Dispatcher and
// the RPC client satisfy it.
type Processor interface {
	Process(ctx context.Context, req dispatch.Request) (dispatch.Response, error)
}

// Source says where a loaded frame came from.
type Source string

const (
	SourceCache    Source = "cache"
	SourceDispatch Source = "dispatch"
)

// Viewer ties a Processor to a frame cache.
type Viewer struct {
	processor Processor
	store     framecache.Store
	clock     timeutil.Clock
	logf      func(format string, v ...interface{})

	hits        atomic.Uint64
	misses      atomic.Uint64
	cacheErrors atomic.Uint64
}

// Option configures a Viewer.
type Option func(*Viewer)

// WithClock sets the clock used for cache timestamps and the synthetic
// frame ticker.
func WithClock(c timeutil.Clock) Option {
	return func(v *Viewer) {
		if c != nil {
			v.clock = c
		}
	}
}

// New creates a Viewer. processor and store are required.
func New(processor Processor, store framecache.Store, opts ...Option) *Viewer {
	v := &Viewer{
		processor: processor,
		store:     store,
		clock:     timeutil.RealClock{},
		logf:      monitoring.Prefixed("Viewer"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store returns the cache the viewer writes to.
func (v *Viewer) Store() framecache.Store { return v.store }

// Load returns the frame for req.FrameID. A cached frame is returned as is,
// whatever downsample config produced it, and req's samples are left
// untouched. Otherwise req is dispatched (moving its samples) and the result
// cached before it is returned.
//
// A cache write failure is logged; the processed frame is still returned.
func (v *Viewer) Load(ctx context.Context, req dispatch.Request) (*framecache.CachedFrame, Source, error) {
	cached, err := v.store.Get(ctx, req.FrameID)
	switch {
	case err == nil:
		v.hits.Add(1)
		return cached, SourceCache, nil
	case errors.Is(err, framecache.ErrNotFound):
	default:
		v.cacheErrors.Add(1)
		v.logf("Cache lookup for frame %s failed, dispatching: %v", req.FrameID, err)
	}
	v.misses.Add(1)

	// Summarise before the samples are moved into the worker. Malformed
	// frames are left for the worker to reject.
	summary, _ := pointcloud.SummarizeIntensity(pointcloud.RawFrame{
		FrameID:    req.FrameID,
		PointCount: req.PointCount,
		Samples:    req.AllData,
	})

	resp, err := v.processor.Process(ctx, req)
	if err != nil {
		return nil, "", err
	}
	pf, err := resp.ToProcessedFrame()
	if err != nil {
		return nil, "", err
	}
	frame, err := framecache.FromProcessed(pf)
	if err != nil {
		return nil, "", err
	}
	frame.Config = req.Config
	frame.SourcePoints = req.PointCount
	frame.Intensity = summary
	frame.StoredAt = v.clock.Now()

	if err := v.store.Put(ctx, frame); err != nil {
		v.cacheErrors.Add(1)
		v.logf("Failed to cache frame %s: %v", frame.FrameID, err)
	}
	return frame, SourceDispatch, nil
}

// Frame returns a cached frame.
func (v *Viewer) Frame(ctx context.Context, id pointcloud.FrameID) (*framecache.CachedFrame, error) {
	return v.store.Get(ctx, id)
}

// Evict removes one frame from the cache.
func (v *Viewer) Evict(ctx context.Context, id pointcloud.FrameID) error {
	return v.store.Delete(ctx, id)
}

// ClearCache empties the cache. Frames already dispatched are unaffected and
// will be cached again when their responses arrive.
func (v *Viewer) ClearCache(ctx context.Context) error {
	if err := v.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	v.logf("Cache cleared")
	return nil
}

// Stats contains viewer cache statistics.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	CacheErrors uint64 `json:"cache_errors"`
}

// Stats returns current viewer statistics.
func (v *Viewer) Stats() Stats {
	return Stats{
		Hits:        v.hits.Load(),
		Misses:      v.misses.Load(),
		CacheErrors: v.cacheErrors.Load(),
	}
}
