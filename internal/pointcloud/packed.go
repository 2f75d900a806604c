package pointcloud

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Packed frame layout produced by the capture workers:
//
//	[frame id u32 LE][point count u32 LE][point count * 4 * float32 LE]
const (
	PackedHeaderSize = 8
	// PackedPointSize is the byte size of one [x, y, z, intensity] sample.
	PackedPointSize = SampleStride * 4
)

// DecodePacked parses one packed capture frame. The returned frame owns a
// freshly decoded sample buffer; msg is not retained.
func DecodePacked(msg []byte) (RawFrame, error) {
	if len(msg) < PackedHeaderSize {
		return RawFrame{}, malformed("", "packed header", "need %d bytes, got %d", PackedHeaderSize, len(msg))
	}
	id := FrameIDFromUint32(binary.LittleEndian.Uint32(msg[0:4]))
	count := binary.LittleEndian.Uint32(msg[4:8])

	body := msg[PackedHeaderSize:]
	if uint64(len(body)) != uint64(count)*PackedPointSize {
		return RawFrame{}, malformed(id, "packed body", "%d bytes does not hold %d points (want %d)",
			len(body), count, uint64(count)*PackedPointSize)
	}
	samples, err := Float32sFromBytes(body)
	if err != nil {
		return RawFrame{}, err
	}
	return RawFrame{
		FrameID:    id,
		PointCount: int(count),
		Samples:    NewBuffer(samples),
	}, nil
}

// EncodePacked builds a packed capture frame from raw samples.
func EncodePacked(frameID uint32, samples []float32) ([]byte, error) {
	if len(samples)%SampleStride != 0 {
		return nil, malformed(FrameIDFromUint32(frameID), "samples",
			"length %d is not a multiple of %d", len(samples), SampleStride)
	}
	if uint64(len(samples)/SampleStride) > math.MaxUint32 {
		return nil, fmt.Errorf("frame %d: too many points for packed layout", frameID)
	}
	out := make([]byte, PackedHeaderSize+len(samples)*4)
	binary.LittleEndian.PutUint32(out[0:4], frameID)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(samples)/SampleStride))
	PutFloat32s(out[PackedHeaderSize:], samples)
	return out, nil
}

// Float32sFromBytes decodes little-endian float32 values.
func Float32sFromBytes(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 payload length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
	}
	return out, nil
}

// Float32sToBytes encodes values as little-endian float32.
func Float32sToBytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	PutFloat32s(out, values)
	return out
}

// PutFloat32s writes values into dst, which must hold len(values)*4 bytes.
func PutFloat32s(dst []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:i*4+4], math.Float32bits(v))
	}
}
