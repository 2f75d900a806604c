package pointcloud

import "strconv"

const (
	// SampleStride is the number of float32 values per raw point: x, y, z, intensity.
	SampleStride = 4
	// OutputStride is the number of float32 values per kept point in each output buffer.
	OutputStride = 3
)

// FrameID identifies a frame for correlation and caching. It is opaque to
// this package; integer identifiers are rendered in decimal.
type FrameID string

// FrameIDFromUint32 renders a numeric capture frame counter as a FrameID.
func FrameIDFromUint32(v uint32) FrameID {
	return FrameID(strconv.FormatUint(uint64(v), 10))
}

func (id FrameID) String() string { return string(id) }

// DownsampleMode selects the point selection policy.
type DownsampleMode string

const (
	// DownsampleNth keeps every N-th point by index, starting at 0.
	DownsampleNth DownsampleMode = "nth"
	// DownsampleAll keeps every point. Any mode other than DownsampleNth,
	// including the empty string, behaves the same way.
	DownsampleAll DownsampleMode = "all"
)

// DownsampleConfig controls point selection.
type DownsampleConfig struct {
	Mode DownsampleMode `json:"mode" cbor:"mode"`
	// N is the stride under DownsampleNth; 1 keeps every point.
	N int `json:"n" cbor:"n"`
}

// DefaultDownsampleConfig keeps every point.
func DefaultDownsampleConfig() DownsampleConfig {
	return DownsampleConfig{Mode: DownsampleAll, N: 1}
}

// Strided reports whether the stride filter is active.
func (c DownsampleConfig) Strided() bool {
	return c.Mode == DownsampleNth
}

// Validate rejects a non-positive stride under DownsampleNth. N is ignored
// in every other mode.
func (c DownsampleConfig) Validate() error {
	if c.Strided() && c.N <= 0 {
		return malformed("", "config.n", "stride must be >= 1 in %q mode, got %d", DownsampleNth, c.N)
	}
	return nil
}

// Keep reports whether point index i survives selection. The config must
// be valid.
func (c DownsampleConfig) Keep(i int) bool {
	if !c.Strided() {
		return true
	}
	return i%c.N == 0
}

// KeptCount returns how many of pointCount points survive selection:
// ceil(pointCount / N) when strided, pointCount otherwise.
func (c DownsampleConfig) KeptCount(pointCount int) int {
	if pointCount <= 0 {
		return 0
	}
	if !c.Strided() {
		return pointCount
	}
	return (pointCount + c.N - 1) / c.N
}

// RawFrame is one captured frame as received from the caller.
type RawFrame struct {
	FrameID    FrameID
	PointCount int
	// Samples holds PointCount*4 values laid out [x, y, z, intensity] per point.
	Samples *Buffer
}

// Validate checks the frame's shape without touching point values.
func (f RawFrame) Validate() error {
	if f.PointCount < 0 {
		return malformed(f.FrameID, "pointCount", "must be non-negative, got %d", f.PointCount)
	}
	samples, err := f.Samples.Float32s()
	if err != nil {
		return &MalformedInputError{
			FrameID: f.FrameID,
			Field:   "samples",
			Reason:  "buffer is missing or was already transferred",
			Err:     err,
		}
	}
	// Compare by division: PointCount comes off the wire and
	// PointCount*SampleStride can overflow.
	if len(samples)%SampleStride != 0 || len(samples)/SampleStride != f.PointCount {
		return malformed(f.FrameID, "samples", "length %d does not match pointCount %d",
			len(samples), f.PointCount)
	}
	return nil
}

// ProcessedFrame is the transformer output. Positions and Colors are index
// aligned: values [3j, 3j+3) of each describe the same source point.
type ProcessedFrame struct {
	FrameID   FrameID
	Positions *Buffer
	Colors    *Buffer
}

// KeptCount returns the number of points in the frame.
func (p *ProcessedFrame) KeptCount() int {
	if p == nil {
		return 0
	}
	return p.Positions.Len() / OutputStride
}

// Move transfers both buffers to a new ProcessedFrame, invalidating p.
func (p *ProcessedFrame) Move() (*ProcessedFrame, error) {
	positions, err := p.Positions.Move()
	if err != nil {
		return nil, err
	}
	colors, err := p.Colors.Move()
	if err != nil {
		return nil, err
	}
	return &ProcessedFrame{FrameID: p.FrameID, Positions: positions, Colors: colors}, nil
}

// Release returns both buffers to the pool. Only the final owner may call it.
func (p *ProcessedFrame) Release() {
	if p == nil {
		return
	}
	p.Positions.Release()
	p.Colors.Release()
}
