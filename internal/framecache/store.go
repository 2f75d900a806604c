// Package framecache stores processed frames keyed by FrameID so a viewer
// can replay a frame without running the transformer again.
//
// A Store is constructed explicitly and handed to whoever needs it; there is
// no package-level instance. Clear is an out-of-band reset and does not
// interact with frames still in flight in a dispatcher.
package framecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/pointframe/internal/pointcloud"
)

var (
	// ErrNotFound is returned when no frame is stored under the id.
	ErrNotFound = errors.New("frame not found")
	// ErrInvalidID is returned for an empty FrameID.
	ErrInvalidID = errors.New("invalid frame id")
)

// Store is a FrameID-keyed cache of processed frames. Put replaces any
// existing entry. Implementations copy frames on the way in and out, so
// callers never share slices with the store.
type Store interface {
	Put(ctx context.Context, f *CachedFrame) error
	Get(ctx context.Context, id pointcloud.FrameID) (*CachedFrame, error)
	Delete(ctx context.Context, id pointcloud.FrameID) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close() error
}

// CachedFrame is one processed frame plus the metadata it was produced with.
type CachedFrame struct {
	FrameID   pointcloud.FrameID `json:"frameId"`
	Positions []float32          `json:"positions"`
	Colors    []float32          `json:"colors"`

	Config       pointcloud.DownsampleConfig `json:"config"`
	SourcePoints int                         `json:"sourcePoints"`
	Intensity    pointcloud.IntensitySummary `json:"intensity"`
	StoredAt     time.Time                   `json:"storedAt"`
}

// KeptCount returns the number of points in the frame.
func (f *CachedFrame) KeptCount() int {
	return len(f.Positions) / pointcloud.OutputStride
}

// Validate checks the id and that both buffers describe the same points.
func (f *CachedFrame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame: %w", ErrInvalidID)
	}
	if f.FrameID == "" {
		return ErrInvalidID
	}
	if len(f.Positions) != len(f.Colors) || len(f.Positions)%pointcloud.OutputStride != 0 {
		return fmt.Errorf("frame %s: positions (%d) and colors (%d) are not aligned triples",
			f.FrameID, len(f.Positions), len(f.Colors))
	}
	return nil
}

// Clone returns a deep copy. Nil slices become empty ones.
func (f *CachedFrame) Clone() *CachedFrame {
	cp := *f
	cp.Positions = cloneFloat32s(f.Positions)
	cp.Colors = cloneFloat32s(f.Colors)
	return &cp
}

// ToProcessed returns a ProcessedFrame with private copies of the buffers.
func (f *CachedFrame) ToProcessed() *pointcloud.ProcessedFrame {
	return &pointcloud.ProcessedFrame{
		FrameID:   f.FrameID,
		Positions: pointcloud.CopyBuffer(f.Positions),
		Colors:    pointcloud.CopyBuffer(f.Colors),
	}
}

// FromProcessed takes the buffers out of pf, which is unusable afterwards.
func FromProcessed(pf *pointcloud.ProcessedFrame) (*CachedFrame, error) {
	positions, err := pf.Positions.Detach()
	if err != nil {
		return nil, fmt.Errorf("frame %s: positions: %w", pf.FrameID, err)
	}
	colors, err := pf.Colors.Detach()
	if err != nil {
		return nil, fmt.Errorf("frame %s: colors: %w", pf.FrameID, err)
	}
	return &CachedFrame{
		FrameID:   pf.FrameID,
		Positions: positions,
		Colors:    colors,
	}, nil
}

func cloneFloat32s(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
