// Package testutil provides shared test helpers and point-cloud fixtures.
package testutil

import (
	"testing"

	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ScenarioPointCount is the number of points in ScenarioSamples.
const ScenarioPointCount = 4

// ScenarioSamples returns the four-point reference frame: point i sits at
// (i, i, i) with intensities 100, 200, 0 and 255.
func ScenarioSamples() []float32 {
	return []float32{
		0, 0, 0, 100,
		1, 1, 1, 200,
		2, 2, 2, 0,
		3, 3, 3, 255,
	}
}

// ScenarioFrame wraps ScenarioSamples in a RawFrame with a fresh buffer.
func ScenarioFrame(id pointcloud.FrameID) pointcloud.RawFrame {
	return pointcloud.RawFrame{
		FrameID:    id,
		PointCount: ScenarioPointCount,
		Samples:    pointcloud.NewBuffer(ScenarioSamples()),
	}
}

// RampSamples returns n points where point i is (i, 2i, 3i) with intensity
// i mod 256.
func RampSamples(n int) []float32 {
	out := make([]float32, 0, n*pointcloud.SampleStride)
	for i := 0; i < n; i++ {
		f := float32(i)
		out = append(out, f, 2*f, 3*f, float32(i%256))
	}
	return out
}
