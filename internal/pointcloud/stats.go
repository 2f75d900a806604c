package pointcloud

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// IntensitySummary describes the intensity distribution of a raw frame.
type IntensitySummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	// Saturated counts points whose colour clamps at full brightness.
	Saturated int `json:"saturated"`
}

// SummarizeIntensity computes intensity statistics over every point of raw,
// ignoring downsampling. An empty frame yields a zero summary.
func SummarizeIntensity(raw RawFrame) (IntensitySummary, error) {
	if err := raw.Validate(); err != nil {
		return IntensitySummary{}, err
	}
	if raw.PointCount == 0 {
		return IntensitySummary{}, nil
	}
	samples, _ := raw.Samples.Float32s()

	values := make([]float64, raw.PointCount)
	saturated := 0
	for i := range values {
		v := float64(samples[i*SampleStride+3])
		values[i] = v
		if v >= 255 {
			saturated++
		}
	}

	return IntensitySummary{
		Count:     raw.PointCount,
		Min:       floats.Min(values),
		Max:       floats.Max(values),
		Mean:      stat.Mean(values, nil),
		Saturated: saturated,
	}, nil
}
