package pointcloud

import "sync"

// float32Pool reduces allocations by reusing large float32 slices.
// Slices are sized for ~25k points at three values per point.
var float32Pool = sync.Pool{
	New: func() interface{} {
		return make([]float32, 0, 75000)
	},
}

// getFloat32Slice gets a slice of length n from the pool.
// Contents are not zeroed; callers overwrite every element.
func getFloat32Slice(n int) []float32 {
	if n == 0 {
		return []float32{}
	}
	s := float32Pool.Get().([]float32)
	if cap(s) < n {
		// Slice too small, allocate new one (rare for normal frames)
		float32Pool.Put(s)
		return make([]float32, n)
	}
	return s[:n]
}

// putFloat32Slice returns a slice to the pool.
func putFloat32Slice(s []float32) {
	// Only pool reasonably sized slices to avoid memory bloat
	if cap(s) > 0 && cap(s) <= 300000 {
		float32Pool.Put(s[:0])
	}
}

// Buffer is a move-only flat float32 buffer. Exactly one handle owns the
// backing slice at any time; Move and Detach transfer it and leave the old
// handle empty so that every later access fails with ErrBufferMoved.
//
// A Buffer is not safe for concurrent use. Ownership is handed between
// goroutines by moving it, never by sharing it.
type Buffer struct {
	data  []float32
	moved bool
}

// NewBuffer wraps data. The caller gives up the slice: it must not read or
// write data after this call other than through the returned Buffer.
// A nil slice becomes an empty, non-nil buffer.
func NewBuffer(data []float32) *Buffer {
	if data == nil {
		data = []float32{}
	}
	return &Buffer{data: data}
}

// CopyBuffer returns a Buffer holding a private copy of data. Use it when the
// caller must keep its own slice after dispatch.
func CopyBuffer(data []float32) *Buffer {
	cp := make([]float32, len(data))
	copy(cp, data)
	return &Buffer{data: cp}
}

// Len returns the number of float32 values held, or 0 once moved.
func (b *Buffer) Len() int {
	if b == nil || b.moved {
		return 0
	}
	return len(b.data)
}

// Moved reports whether ownership has left this handle. A nil Buffer counts
// as moved.
func (b *Buffer) Moved() bool {
	return b == nil || b.moved
}

// Float32s borrows the backing slice without transferring ownership.
// The view is valid until the buffer is moved, detached or released.
func (b *Buffer) Float32s() ([]float32, error) {
	if b.Moved() {
		return nil, ErrBufferMoved
	}
	return b.data, nil
}

// Move transfers ownership to a new handle. The receiver becomes unusable.
func (b *Buffer) Move() (*Buffer, error) {
	if b.Moved() {
		return nil, ErrBufferMoved
	}
	next := &Buffer{data: b.data}
	b.data = nil
	b.moved = true
	return next, nil
}

// Detach takes the backing slice out of the buffer for final consumption
// (encoding, upload). The buffer becomes unusable.
func (b *Buffer) Detach() ([]float32, error) {
	if b.Moved() {
		return nil, ErrBufferMoved
	}
	data := b.data
	b.data = nil
	b.moved = true
	return data, nil
}

// Release returns the backing slice to the shared pool. Only the final owner
// may call it; the buffer is unusable afterwards. Releasing a moved buffer is
// a no-op.
func (b *Buffer) Release() {
	if b.Moved() {
		return
	}
	putFloat32Slice(b.data)
	b.data = nil
	b.moved = true
}
