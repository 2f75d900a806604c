package pointcloud

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// SyntheticGenerator produces synthetic raw frames for dev mode and tests.
type SyntheticGenerator struct {
	frameID atomic.Uint32

	// Configuration
	PointCount int     // points per frame
	AreaRadius float64 // metres, radius of the ground disc
	ObjectRate float64 // fraction of points lifted off the ground

	rng *rand.Rand
}

// NewSyntheticGenerator creates a generator seeded from the clock.
func NewSyntheticGenerator() *SyntheticGenerator {
	return NewSeededSyntheticGenerator(time.Now().UnixNano())
}

// NewSeededSyntheticGenerator creates a generator with a fixed seed so the
// frame sequence is reproducible.
func NewSeededSyntheticGenerator(seed int64) *SyntheticGenerator {
	return &SyntheticGenerator{
		PointCount: 10000,
		AreaRadius: 50.0,
		ObjectRate: 0.1,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// NextFrame generates the next frame. Frame ids count up from 0 like the
// capture workers' counters. Not safe for concurrent use.
func (g *SyntheticGenerator) NextFrame() RawFrame {
	id := g.frameID.Add(1) - 1
	samples := make([]float32, g.PointCount*SampleStride)

	// Points in a disc with some height variation
	for i := 0; i < g.PointCount; i++ {
		angle := g.rng.Float64() * 2 * math.Pi
		r := math.Sqrt(g.rng.Float64()) * g.AreaRadius

		x := r * math.Cos(angle)
		y := r * math.Sin(angle)
		var z float64
		if g.rng.Float64() < g.ObjectRate {
			z = g.rng.Float64() * 2.0 // 0-2m objects
		} else {
			z = g.rng.Float64()*0.2 - 0.1 // ground
		}

		// Closer returns are brighter; a few retro-reflectors exceed 255.
		intensity := 200 - int(r*3)
		if intensity < 50 {
			intensity = 50
		}
		intensity += g.rng.Intn(30)
		if g.rng.Float64() < 0.01 {
			intensity = 255 + g.rng.Intn(64)
		}

		idx := i * SampleStride
		samples[idx] = float32(x)
		samples[idx+1] = float32(y)
		samples[idx+2] = float32(z)
		samples[idx+3] = float32(intensity)
	}

	return RawFrame{
		FrameID:    FrameIDFromUint32(id),
		PointCount: g.PointCount,
		Samples:    NewBuffer(samples),
	}
}
