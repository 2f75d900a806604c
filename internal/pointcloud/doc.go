// Package pointcloud turns one captured LiDAR frame into GPU-ready buffers.
//
// A RawFrame carries a flat [x, y, z, intensity] float32 sequence. The
// Transformer applies a deterministic stride filter, remaps coordinates
// through a CoordinateMapper and derives a colour per point through a
// ColorMapper, producing two index-aligned float32 buffers (positions and
// colours, three values per kept point).
//
// Buffers are move-only: Buffer.Move hands the backing slice to a new handle
// and invalidates the old one, so a frame handed to a worker (or a result
// handed back to the caller) cannot be read through a stale handle.
package pointcloud
