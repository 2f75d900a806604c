package pointcloud

import (
	"math"
	"testing"
)

func TestSyntheticGenerator_NextFrame(t *testing.T) {
	gen := NewSeededSyntheticGenerator(7)
	gen.PointCount = 500

	first := gen.NextFrame()
	second := gen.NextFrame()

	if first.FrameID != "0" || second.FrameID != "1" {
		t.Errorf("frame ids = %q, %q; want 0, 1", first.FrameID, second.FrameID)
	}
	if err := first.Validate(); err != nil {
		t.Fatalf("generated frame is invalid: %v", err)
	}

	samples, _ := first.Samples.Float32s()
	for i := 0; i < first.PointCount; i++ {
		x := float64(samples[i*SampleStride])
		y := float64(samples[i*SampleStride+1])
		if r := math.Hypot(x, y); r > gen.AreaRadius+1e-3 {
			t.Fatalf("point %d at radius %.2f outside area %.2f", i, r, gen.AreaRadius)
		}
		if in := samples[i*SampleStride+3]; in < 50 {
			t.Fatalf("point %d intensity %v below floor", i, in)
		}
	}
}

func TestSyntheticGenerator_Reproducible(t *testing.T) {
	a := NewSeededSyntheticGenerator(99)
	b := NewSeededSyntheticGenerator(99)
	a.PointCount, b.PointCount = 64, 64

	sa, _ := a.NextFrame().Samples.Float32s()
	sb, _ := b.NextFrame().Samples.Float32s()
	for i := range sa {
		if sa[i] != sb[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, sa[i], sb[i])
		}
	}
}
