package rpc

import (
	"google.golang.org/grpc/encoding"

	"github.com/banshee-data/pointframe/internal/codec"
)

// CodecName is the gRPC content subtype for CBOR messages.
const CodecName = "cbor"

func init() {
	encoding.RegisterCodec(cborCodec{})
}

// cborCodec lets the frame messages travel over gRPC without generated
// protobuf types.
type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error) {
	return codec.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v interface{}) error {
	return codec.Unmarshal(data, v)
}

func (cborCodec) Name() string { return CodecName }
