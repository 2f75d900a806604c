package pointcloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_MoveInvalidatesSender(t *testing.T) {
	t.Parallel()

	src := NewBuffer([]float32{1, 2, 3})
	dst, err := src.Move()
	require.NoError(t, err)

	assert.True(t, src.Moved())
	assert.Equal(t, 0, src.Len())
	_, err = src.Float32s()
	assert.ErrorIs(t, err, ErrBufferMoved)
	_, err = src.Move()
	assert.ErrorIs(t, err, ErrBufferMoved)
	_, err = src.Detach()
	assert.ErrorIs(t, err, ErrBufferMoved)

	got, err := dst.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got)
	assert.Equal(t, 3, dst.Len())
}

func TestBuffer_Detach(t *testing.T) {
	t.Parallel()

	b := NewBuffer([]float32{4, 5})
	data, err := b.Detach()
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 5}, data)
	assert.True(t, b.Moved())
}

func TestBuffer_NilAndEmpty(t *testing.T) {
	t.Parallel()

	var nilBuf *Buffer
	assert.True(t, nilBuf.Moved())
	assert.Equal(t, 0, nilBuf.Len())
	_, err := nilBuf.Float32s()
	assert.ErrorIs(t, err, ErrBufferMoved)
	nilBuf.Release() // must not panic

	empty := NewBuffer(nil)
	data, err := empty.Float32s()
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)
}

func TestBuffer_CopyBufferIsPrivate(t *testing.T) {
	t.Parallel()

	src := []float32{1, 2, 3, 4}
	b := CopyBuffer(src)
	src[0] = 99

	data, err := b.Float32s()
	require.NoError(t, err)
	assert.Equal(t, float32(1), data[0])
}

func TestBuffer_ReleaseIsFinal(t *testing.T) {
	t.Parallel()

	b := NewBuffer(getFloat32Slice(12))
	b.Release()
	assert.True(t, b.Moved())
	b.Release() // second release is a no-op
}

func TestProcessedFrame_Move(t *testing.T) {
	t.Parallel()

	pf := &ProcessedFrame{
		FrameID:   "p",
		Positions: NewBuffer([]float32{1, 2, 3}),
		Colors:    NewBuffer([]float32{0.5, 0.5, 0}),
	}
	moved, err := pf.Move()
	require.NoError(t, err)

	assert.Equal(t, FrameID("p"), moved.FrameID)
	assert.Equal(t, 1, moved.KeptCount())
	assert.Equal(t, 0, pf.KeptCount())
	assert.True(t, pf.Positions.Moved())
	assert.True(t, pf.Colors.Moved())

	_, err = pf.Move()
	assert.ErrorIs(t, err, ErrBufferMoved)
}

func TestGetFloat32Slice(t *testing.T) {
	t.Parallel()

	s := getFloat32Slice(0)
	assert.NotNil(t, s)
	assert.Len(t, s, 0)

	big := getFloat32Slice(400000)
	assert.Len(t, big, 400000)
	putFloat32Slice(big) // too large to pool; must not panic
}
