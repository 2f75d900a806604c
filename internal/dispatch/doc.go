// Package dispatch moves raw frames to transformer workers and routes the
// processed results back to their callers.
//
// Requests and responses are correlated solely by FrameID. A Dispatcher owns
// a bounded inbox shared by one or more Workers and a bounded outbox drained
// by a single collector goroutine, which resolves the pending entry for each
// response and invokes the caller's callback. Responses whose FrameID has no
// pending entry are logged and dropped.
//
// Sample buffers are moved, never shared: Submit takes ownership of the
// request's AllData buffer and the callback receives sole ownership of the
// response's Positions and Colors buffers.
package dispatch
