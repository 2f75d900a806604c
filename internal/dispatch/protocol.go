package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/pointframe/internal/codec"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// Error kinds carried in ErrorInfo. Only malformed input is produced by
// workers; the others are reported by transports that reply on behalf of a
// request that never reached one.
const (
	ErrorKindMalformedInput = "malformed_input"
	ErrorKindQueueFull      = "queue_full"
	ErrorKindDuplicateFrame = "duplicate_frame"
	ErrorKindInternal       = "internal"
)

// Request asks a worker to transform one raw frame.
type Request struct {
	FrameID    pointcloud.FrameID
	PointCount int
	// AllData holds PointCount*4 samples. Submitting a request moves it.
	AllData *pointcloud.Buffer
	Config  pointcloud.DownsampleConfig
}

// Response carries either the processed buffers or an error, never both.
type Response struct {
	FrameID   pointcloud.FrameID
	Positions *pointcloud.Buffer
	Colors    *pointcloud.Buffer
	Error     *ErrorInfo
}

// ErrorInfo is the error variant of a Response.
type ErrorInfo struct {
	Kind    string `json:"kind" cbor:"kind"`
	Message string `json:"message" cbor:"message"`
}

// ResponseError is returned for a Response that carries an ErrorInfo. It
// matches the sentinel error for its kind, so errors.Is works the same on
// both sides of a transport.
type ResponseError struct {
	FrameID pointcloud.FrameID
	Kind    string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("frame %s: %s: %s", e.FrameID, e.Kind, e.Message)
}

func (e *ResponseError) Is(target error) bool {
	switch e.Kind {
	case ErrorKindMalformedInput:
		return target == pointcloud.ErrMalformedInput
	case ErrorKindQueueFull:
		return target == ErrQueueFull
	case ErrorKindDuplicateFrame:
		return target == ErrDuplicateFrame
	}
	return false
}

// Err returns the response's error variant as an error, or nil on success.
func (r Response) Err() error {
	if r.Error == nil {
		return nil
	}
	return &ResponseError{FrameID: r.FrameID, Kind: r.Error.Kind, Message: r.Error.Message}
}

// ToProcessedFrame hands the response buffers to a ProcessedFrame. The
// response must not be an error response.
func (r Response) ToProcessedFrame() (*pointcloud.ProcessedFrame, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	pf := &pointcloud.ProcessedFrame{FrameID: r.FrameID, Positions: r.Positions, Colors: r.Colors}
	return pf.Move()
}

// Release returns the response buffers to the pool.
func (r Response) Release() {
	r.Positions.Release()
	r.Colors.Release()
}

// ErrorInfoFor maps an error onto the wire error variant.
func ErrorInfoFor(err error) *ErrorInfo {
	kind := ErrorKindInternal
	switch {
	case errors.Is(err, pointcloud.ErrMalformedInput), errors.Is(err, pointcloud.ErrBufferMoved):
		kind = ErrorKindMalformedInput
	case errors.Is(err, ErrQueueFull):
		kind = ErrorKindQueueFull
	case errors.Is(err, ErrDuplicateFrame):
		kind = ErrorKindDuplicateFrame
	}
	return &ErrorInfo{Kind: kind, Message: err.Error()}
}

// Wire forms. Float arrays are borrowed from the buffers when encoding, so a
// request can be encoded and then still be submitted.

type wireRequest struct {
	FrameID    string                      `json:"frameId" cbor:"frameId"`
	PointCount int                         `json:"pointCount" cbor:"pointCount"`
	AllData    codec.Float32Array          `json:"allData" cbor:"allData"`
	Config     pointcloud.DownsampleConfig `json:"config" cbor:"config"`
}

type wireResponse struct {
	FrameID   string             `json:"frameId" cbor:"frameId"`
	Positions codec.Float32Array `json:"positions,omitempty" cbor:"positions,omitempty"`
	Colors    codec.Float32Array `json:"colors,omitempty" cbor:"colors,omitempty"`
	Error     *ErrorInfo         `json:"error,omitempty" cbor:"error,omitempty"`
}

func (r Request) toWire() (wireRequest, error) {
	data, err := r.AllData.Float32s()
	if err != nil {
		return wireRequest{}, fmt.Errorf("frame %s: allData: %w", r.FrameID, err)
	}
	return wireRequest{
		FrameID:    string(r.FrameID),
		PointCount: r.PointCount,
		AllData:    data,
		Config:     r.Config,
	}, nil
}

func (w wireRequest) toRequest() Request {
	return Request{
		FrameID:    pointcloud.FrameID(w.FrameID),
		PointCount: w.PointCount,
		AllData:    pointcloud.NewBuffer(w.AllData),
		Config:     w.Config,
	}
}

func (r Response) toWire() (wireResponse, error) {
	w := wireResponse{FrameID: string(r.FrameID), Error: r.Error}
	if r.Error != nil {
		return w, nil
	}
	positions, err := r.Positions.Float32s()
	if err != nil {
		return wireResponse{}, fmt.Errorf("frame %s: positions: %w", r.FrameID, err)
	}
	colors, err := r.Colors.Float32s()
	if err != nil {
		return wireResponse{}, fmt.Errorf("frame %s: colors: %w", r.FrameID, err)
	}
	w.Positions = positions
	w.Colors = colors
	return w, nil
}

func (w wireResponse) toResponse() Response {
	r := Response{FrameID: pointcloud.FrameID(w.FrameID), Error: w.Error}
	if w.Error == nil {
		r.Positions = pointcloud.NewBuffer(w.Positions)
		r.Colors = pointcloud.NewBuffer(w.Colors)
	}
	return r
}

// MarshalCBOR encodes the request with float32 typed arrays.
func (r Request) MarshalCBOR() ([]byte, error) {
	w, err := r.toWire()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(w)
}

// UnmarshalCBOR decodes a request into freshly owned buffers.
func (r *Request) UnmarshalCBOR(data []byte) error {
	var w wireRequest
	if err := codec.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = w.toRequest()
	return nil
}

func (r Request) MarshalJSON() ([]byte, error) {
	w, err := r.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = w.toRequest()
	return nil
}

func (r Response) MarshalCBOR() ([]byte, error) {
	w, err := r.toWire()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(w)
}

func (r *Response) UnmarshalCBOR(data []byte) error {
	var w wireResponse
	if err := codec.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = w.toResponse()
	return nil
}

func (r Response) MarshalJSON() ([]byte, error) {
	w, err := r.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = w.toResponse()
	return nil
}

// EncodeRequest and friends are the CBOR wire codec used by the websocket
// and RPC transports.

func EncodeRequest(r Request) ([]byte, error) { return r.MarshalCBOR() }

func DecodeRequest(data []byte) (Request, error) {
	var r Request
	if err := r.UnmarshalCBOR(data); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return r, nil
}

func EncodeResponse(r Response) ([]byte, error) { return r.MarshalCBOR() }

func DecodeResponse(data []byte) (Response, error) {
	var r Response
	if err := r.UnmarshalCBOR(data); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}
