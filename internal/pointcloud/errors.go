package pointcloud

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks a frame or downsample config that violates the
	// input contract. Match it with errors.Is.
	ErrMalformedInput = errors.New("malformed input")

	// ErrBufferMoved is returned when a Buffer is accessed after its
	// ownership was transferred with Move or Detach.
	ErrBufferMoved = errors.New("buffer ownership already transferred")
)

// MalformedInputError describes which part of a request broke the contract.
type MalformedInputError struct {
	FrameID FrameID
	Field   string
	Reason  string
	Err     error
}

func (e *MalformedInputError) Error() string {
	if e.FrameID == "" {
		return fmt.Sprintf("malformed %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("frame %s: malformed %s: %s", e.FrameID, e.Field, e.Reason)
}

// Is reports ErrMalformedInput as a match so callers need not type-assert.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

func malformed(id FrameID, field, format string, args ...interface{}) error {
	return &MalformedInputError{
		FrameID: id,
		Field:   field,
		Reason:  fmt.Sprintf(format, args...),
	}
}
