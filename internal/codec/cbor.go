// Package codec holds the CBOR settings shared by the wire protocol, the
// frame cache and the RPC transport.
package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// TagFloat32LE is the RFC 8746 typed array tag for little-endian float32.
const TagFloat32LE = 85

const cborMajorTag = 6

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Sort: cbor.SortNone}.EncMode()
	if err != nil {
		panic(err)
	}
	// Frames of a few hundred thousand points exceed the default element
	// limit when a peer sends plain arrays instead of typed arrays.
	decMode, err = cbor.DecOptions{MaxArrayElements: 1<<31 - 1}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v as CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v interface{}) error {
	return decMode.Unmarshal(data, v)
}

// Float32Array is a float32 slice encoded as a CBOR typed array (tag 85).
// Decoding also accepts a plain CBOR array of numbers.
type Float32Array []float32

func (a Float32Array) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(cbor.Tag{
		Number:  TagFloat32LE,
		Content: pointcloud.Float32sToBytes(a),
	})
}

func (a *Float32Array) UnmarshalCBOR(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty float32 array")
	}
	if data[0]>>5 != cborMajorTag {
		var plain []float32
		if err := decMode.Unmarshal(data, &plain); err != nil {
			return fmt.Errorf("float32 array: %w", err)
		}
		*a = plain
		return nil
	}

	var tag cbor.RawTag
	if err := decMode.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Number != TagFloat32LE {
		return fmt.Errorf("unsupported typed array tag %d", tag.Number)
	}
	var raw []byte
	if err := decMode.Unmarshal(tag.Content, &raw); err != nil {
		return fmt.Errorf("typed array content: %w", err)
	}
	values, err := pointcloud.Float32sFromBytes(raw)
	if err != nil {
		return err
	}
	*a = values
	return nil
}
