package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/framecache"
	"github.com/banshee-data/pointframe/internal/httputil"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

type client struct {
	id        string
	conn      *websocket.Conn
	writeMu   sync.Mutex
	defaults  pointcloud.DownsampleConfig
	limiter   *rate.Limiter // nil when unlimited
	connected time.Time
	frames    atomic.Uint64
	limited   atomic.Uint64
}

// allow reports whether another frame fits within the client's rate.
func (c *client) allow() bool {
	if c.limiter == nil || c.limiter.Allow() {
		return true
	}
	c.limited.Add(1)
	return false
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(math.Ceil(perSecond))
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (c *client) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

// handleWS upgrades to a websocket. Each message is one frame request:
// text messages are JSON, binary messages are CBOR or packed capture frames.
// Replies use the encoding of the message they answer.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	defaults, err := downsampleFromQuery(r.URL.Query(), s.cfg.Downsample)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logf("Websocket upgrade failed: %v", err)
		return
	}

	c := &client{
		id:        uuid.NewString(),
		conn:      conn,
		defaults:  defaults,
		limiter:   newLimiter(s.cfg.ClientFrameRate),
		connected: time.Now(),
	}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logf("Client %s connected from %s (mode=%s n=%d)", c.id, r.RemoteAddr, defaults.Mode, defaults.N)

	go s.serveClient(c)
}

func (s *Server) serveClient(c *client) {
	ctx, cancel := context.WithCancel(context.Background())
	var inflight sync.WaitGroup
	done := make(chan struct{})
	defer func() {
		cancel()
		inflight.Wait()
		close(done)
		s.removeClient(c)
	}()

	c.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go s.pingLoop(c, done)

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logf("Client %s read error: %v", c.id, err)
			}
			return
		}
		req, err := decodeMessage(messageType, payload, c.defaults)
		if err != nil {
			s.reply(c, messageType, dispatch.Response{FrameID: req.FrameID, Error: dispatch.ErrorInfoFor(err)})
			continue
		}
		if !c.allow() {
			err := fmt.Errorf("client %s over %v frames/s: %w", c.id, s.cfg.ClientFrameRate, dispatch.ErrQueueFull)
			s.reply(c, messageType, dispatch.Response{FrameID: req.FrameID, Error: dispatch.ErrorInfoFor(err)})
			continue
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.serveFrame(ctx, c, messageType, req)
		}()
	}
}

func (s *Server) pingLoop(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (s *Server) serveFrame(ctx context.Context, c *client, messageType int, req dispatch.Request) {
	frame, _, err := s.viewer.Load(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logf("Frame %s for client %s failed: %v", req.FrameID, c.id, err)
		s.reply(c, messageType, dispatch.Response{FrameID: req.FrameID, Error: dispatch.ErrorInfoFor(err)})
		return
	}
	c.frames.Add(1)
	s.reply(c, messageType, responseFor(frame))
}

func (s *Server) reply(c *client, messageType int, resp dispatch.Response) {
	var (
		payload []byte
		err     error
	)
	if messageType == websocket.TextMessage {
		payload, err = json.Marshal(resp)
	} else {
		payload, err = dispatch.EncodeResponse(resp)
	}
	if err != nil {
		s.logf("Failed to encode response for frame %s: %v", resp.FrameID, err)
		return
	}
	if err := c.write(messageType, payload); err != nil {
		s.logf("Write to client %s failed: %v", c.id, err)
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c.id]
	delete(s.clients, c.id)
	s.mu.Unlock()
	_ = c.conn.Close()
	if ok {
		s.logf("Client %s disconnected after %d frame(s), %d rate limited", c.id, c.frames.Load(), c.limited.Load())
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.write(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = c.conn.Close()
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// responseFor wraps a cached frame for the wire. The viewer hands out
// private copies, so the slices can be given to the buffers directly.
func responseFor(f *framecache.CachedFrame) dispatch.Response {
	return dispatch.Response{
		FrameID:   f.FrameID,
		Positions: pointcloud.NewBuffer(f.Positions),
		Colors:    pointcloud.NewBuffer(f.Colors),
	}
}

// decodeMessage turns one websocket message into a request. A decode
// failure is reported as malformed input; the returned request carries
// whatever frame id could be recovered.
func decodeMessage(messageType int, payload []byte, defaults pointcloud.DownsampleConfig) (dispatch.Request, error) {
	var req dispatch.Request
	switch {
	case messageType == websocket.TextMessage:
		if err := json.Unmarshal(payload, &req); err != nil {
			return dispatch.Request{}, &pointcloud.MalformedInputError{
				Field: "message", Reason: "invalid JSON request", Err: err,
			}
		}
	case isCBORMap(payload) && !isPacked(payload):
		decoded, err := dispatch.DecodeRequest(payload)
		if err != nil {
			return dispatch.Request{}, &pointcloud.MalformedInputError{
				Field: "message", Reason: "invalid CBOR request", Err: err,
			}
		}
		req = decoded
	default:
		raw, err := pointcloud.DecodePacked(payload)
		if err != nil {
			return dispatch.Request{}, err
		}
		req = dispatch.Request{
			FrameID:    raw.FrameID,
			PointCount: raw.PointCount,
			AllData:    raw.Samples,
			Config:     defaults,
		}
	}
	if req.FrameID == "" {
		return req, &pointcloud.MalformedInputError{Field: "frameId", Reason: "required"}
	}
	return req, nil
}

// isCBORMap reports whether payload starts with a CBOR map header
// (major type 5).
func isCBORMap(payload []byte) bool {
	return len(payload) > 0 && payload[0]>>5 == 5
}

// isPacked reports whether payload's length agrees with the point count in
// a packed frame header. A packed frame whose id happens to start with a
// CBOR map byte is still recognised this way.
func isPacked(payload []byte) bool {
	if len(payload) < pointcloud.PackedHeaderSize {
		return false
	}
	count := uint64(binary.LittleEndian.Uint32(payload[4:8]))
	return uint64(len(payload)-pointcloud.PackedHeaderSize) == count*pointcloud.PackedPointSize
}

func downsampleFromQuery(q url.Values, def pointcloud.DownsampleConfig) (pointcloud.DownsampleConfig, error) {
	cfg := def
	if mode := q.Get("mode"); mode != "" {
		cfg.Mode = pointcloud.DownsampleMode(mode)
	}
	if n := q.Get("n"); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return cfg, fmt.Errorf("invalid n %q: %w", n, err)
		}
		cfg.N = v
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
