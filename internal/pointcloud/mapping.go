package pointcloud

import "fmt"

// CoordinateMapper converts a sensor-frame point into the render engine's
// axis convention. Implementations must be pure.
type CoordinateMapper interface {
	MapPoint(x, y, z float32) (float32, float32, float32)
}

// CoordinateMapperFunc adapts a plain function to CoordinateMapper.
type CoordinateMapperFunc func(x, y, z float32) (float32, float32, float32)

func (f CoordinateMapperFunc) MapPoint(x, y, z float32) (float32, float32, float32) {
	return f(x, y, z)
}

// ColorMapper derives an RGB triple from a point's intensity. Implementations
// must be pure.
type ColorMapper interface {
	MapIntensity(intensity float32) (r, g, b float32)
}

// ColorMapperFunc adapts a plain function to ColorMapper.
type ColorMapperFunc func(intensity float32) (float32, float32, float32)

func (f ColorMapperFunc) MapIntensity(intensity float32) (float32, float32, float32) {
	return f(intensity)
}

var (
	// IdentityAxes passes coordinates through. Use it when the scene is set
	// up Z-up like the sensor.
	IdentityAxes CoordinateMapper = CoordinateMapperFunc(func(x, y, z float32) (float32, float32, float32) {
		return x, y, z
	})

	// YUpAxes rotates a Z-up sensor frame into a right-handed Y-up frame.
	YUpAxes CoordinateMapper = CoordinateMapperFunc(func(x, y, z float32) (float32, float32, float32) {
		return x, z, -y
	})

	// YellowIntensity maps intensity onto red+green, no blue.
	YellowIntensity ColorMapper = ColorMapperFunc(func(intensity float32) (float32, float32, float32) {
		n := NormalizeIntensity(intensity)
		return n, n, 0
	})

	// GrayIntensity maps intensity onto equal RGB channels.
	GrayIntensity ColorMapper = ColorMapperFunc(func(intensity float32) (float32, float32, float32) {
		n := NormalizeIntensity(intensity)
		return n, n, n
	})
)

// NormalizeIntensity scales an 8-bit intensity into [0, 1], clamping above
// only. Negative intensities stay negative so output matches the reference
// palette bit for bit.
func NormalizeIntensity(intensity float32) float32 {
	n := float64(intensity) / 255.0
	if n > 1.0 {
		n = 1.0
	}
	return float32(n)
}

// AxesByName resolves a configured axis convention.
func AxesByName(name string) (CoordinateMapper, error) {
	switch name {
	case "", "identity", "z-up":
		return IdentityAxes, nil
	case "y-up":
		return YUpAxes, nil
	default:
		return nil, fmt.Errorf("unknown axis convention %q", name)
	}
}

// ColorRampByName resolves a configured colour ramp.
func ColorRampByName(name string) (ColorMapper, error) {
	switch name {
	case "", "yellow":
		return YellowIntensity, nil
	case "gray", "grey":
		return GrayIntensity, nil
	default:
		return nil, fmt.Errorf("unknown colour ramp %q", name)
	}
}
