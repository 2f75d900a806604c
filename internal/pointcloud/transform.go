package pointcloud

import "errors"

// Transformer maps RawFrames to ProcessedFrames. It holds only its mapping
// strategies, so one Transformer may serve any number of goroutines.
type Transformer struct {
	axes   CoordinateMapper
	colors ColorMapper
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithAxes sets the coordinate mapping. The default is IdentityAxes.
func WithAxes(m CoordinateMapper) Option {
	return func(t *Transformer) {
		if m != nil {
			t.axes = m
		}
	}
}

// WithColors sets the colour mapping. The default is YellowIntensity.
func WithColors(m ColorMapper) Option {
	return func(t *Transformer) {
		if m != nil {
			t.colors = m
		}
	}
}

// NewTransformer creates a Transformer with the given options applied over
// the identity/yellow defaults.
func NewTransformer(opts ...Option) *Transformer {
	t := &Transformer{
		axes:   IdentityAxes,
		colors: YellowIntensity,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var defaultTransformer = NewTransformer()

// Transform runs the default Transformer.
func Transform(raw RawFrame, cfg DownsampleConfig) (*ProcessedFrame, error) {
	return defaultTransformer.Transform(raw, cfg)
}

// Transform validates raw and cfg, then emits one position and one colour
// triple per kept point in original index order. raw.Samples is read but not
// modified and stays owned by the caller.
func (t *Transformer) Transform(raw RawFrame, cfg DownsampleConfig) (*ProcessedFrame, error) {
	if err := cfg.Validate(); err != nil {
		var mi *MalformedInputError
		if errors.As(err, &mi) {
			mi.FrameID = raw.FrameID
		}
		return nil, err
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	samples, _ := raw.Samples.Float32s()

	kept := cfg.KeptCount(raw.PointCount)
	positions := getFloat32Slice(kept * OutputStride)
	colors := getFloat32Slice(kept * OutputStride)

	j := 0
	for i := 0; i < raw.PointCount; i++ {
		if !cfg.Keep(i) {
			continue
		}
		idx := i * SampleStride
		x, y, z := t.axes.MapPoint(samples[idx], samples[idx+1], samples[idx+2])
		r, g, b := t.colors.MapIntensity(samples[idx+3])

		out := j * OutputStride
		positions[out], positions[out+1], positions[out+2] = x, y, z
		colors[out], colors[out+1], colors[out+2] = r, g, b
		j++
	}

	return &ProcessedFrame{
		FrameID:   raw.FrameID,
		Positions: NewBuffer(positions),
		Colors:    NewBuffer(colors),
	}, nil
}
