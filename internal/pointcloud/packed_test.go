package pointcloud

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPacked_RoundTrip(t *testing.T) {
	samples := scenarioSamples()
	msg, err := EncodePacked(17, samples)
	if err != nil {
		t.Fatalf("EncodePacked: %v", err)
	}
	if want := PackedHeaderSize + 4*PackedPointSize; len(msg) != want {
		t.Fatalf("len(msg) = %d, want %d", len(msg), want)
	}

	raw, err := DecodePacked(msg)
	if err != nil {
		t.Fatalf("DecodePacked: %v", err)
	}
	if raw.FrameID != "17" {
		t.Errorf("FrameID = %q, want 17", raw.FrameID)
	}
	if raw.PointCount != 4 {
		t.Errorf("PointCount = %d, want 4", raw.PointCount)
	}
	got, err := raw.Samples.Float32s()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(samples, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestPacked_HeaderLayout(t *testing.T) {
	msg, err := EncodePacked(0x01020304, []float32{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	// little-endian frame id, then point count 1
	want := []byte{0x04, 0x03, 0x02, 0x01, 0x01, 0x00, 0x00, 0x00}
	if diff := cmp.Diff(want, msg[:PackedHeaderSize]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePacked_Malformed(t *testing.T) {
	good, err := EncodePacked(3, scenarioSamples())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		msg  []byte
	}{
		{"empty", nil},
		{"short header", []byte{1, 0, 0}},
		{"truncated body", good[:len(good)-1]},
		{"extra body", append(append([]byte(nil), good...), 0, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePacked(tt.msg); !errors.Is(err, ErrMalformedInput) {
				t.Errorf("expected ErrMalformedInput, got %v", err)
			}
		})
	}
}

func TestDecodePacked_EmptyFrame(t *testing.T) {
	msg, err := EncodePacked(9, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := DecodePacked(msg)
	if err != nil {
		t.Fatalf("empty frame should decode: %v", err)
	}
	if raw.PointCount != 0 || raw.Samples.Len() != 0 {
		t.Errorf("expected empty frame, got %d points", raw.PointCount)
	}
}

func TestEncodePacked_RejectsPartialPoint(t *testing.T) {
	if _, err := EncodePacked(1, []float32{1, 2, 3}); !errors.Is(err, ErrMalformedInput) {
		t.Errorf("expected ErrMalformedInput, got %v", err)
	}
}

func TestFloat32sFromBytes_BadLength(t *testing.T) {
	if _, err := Float32sFromBytes([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for length not divisible by 4")
	}
}
