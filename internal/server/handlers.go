package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/pointframe/internal/codec"
	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/framecache"
	"github.com/banshee-data/pointframe/internal/httputil"
	"github.com/banshee-data/pointframe/internal/pointcloud"
	"github.com/banshee-data/pointframe/internal/version"
	"github.com/banshee-data/pointframe/internal/viewer"
)

// FrameView is the /api/frames/{id} body.
type FrameView struct {
	FrameID      pointcloud.FrameID          `json:"frameId" cbor:"frameId"`
	KeptCount    int                         `json:"keptCount" cbor:"keptCount"`
	SourcePoints int                         `json:"sourcePoints" cbor:"sourcePoints"`
	Config       pointcloud.DownsampleConfig `json:"config" cbor:"config"`
	Intensity    pointcloud.IntensitySummary `json:"intensity" cbor:"intensity"`
	StoredAt     time.Time                   `json:"storedAt" cbor:"storedAt"`
	Positions    codec.Float32Array          `json:"positions" cbor:"positions"`
	Colors       codec.Float32Array          `json:"colors" cbor:"colors"`
}

func frameView(f *framecache.CachedFrame) FrameView {
	return FrameView{
		FrameID:      f.FrameID,
		KeptCount:    f.KeptCount(),
		SourcePoints: f.SourcePoints,
		Config:       f.Config,
		Intensity:    f.Intensity,
		StoredAt:     f.StoredAt,
		Positions:    f.Positions,
		Colors:       f.Colors,
	}
}

// handleFrames serves the collection: DELETE clears the cache.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		httputil.MethodNotAllowed(w, http.MethodDelete)
		return
	}
	if err := s.viewer.ClearCache(r.Context()); err != nil {
		s.logf("Clear cache failed: %v", err)
		httputil.InternalServerError(w, "failed to clear cache")
		return
	}
	httputil.NoContent(w)
}

// handleFrameByID serves GET and DELETE on one cached frame. GET answers in
// CBOR when the client asks for it.
func (s *Server) handleFrameByID(w http.ResponseWriter, r *http.Request) {
	id := pointcloud.FrameID(strings.TrimPrefix(r.URL.Path, "/api/frames/"))
	if id == "" {
		httputil.BadRequest(w, "missing frame id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		frame, err := s.viewer.Frame(r.Context(), id)
		if err != nil {
			s.writeCacheError(w, id, err)
			return
		}
		view := frameView(frame)
		if httputil.AcceptsCBOR(r) {
			httputil.WriteCBOR(w, http.StatusOK, view)
			return
		}
		httputil.WriteJSONOK(w, view)
	case http.MethodDelete:
		if err := s.viewer.Evict(r.Context(), id); err != nil {
			s.writeCacheError(w, id, err)
			return
		}
		httputil.NoContent(w)
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) writeCacheError(w http.ResponseWriter, id pointcloud.FrameID, err error) {
	switch {
	case errors.Is(err, framecache.ErrNotFound):
		httputil.NotFound(w, "frame "+string(id)+" not cached")
	case errors.Is(err, framecache.ErrInvalidID):
		httputil.BadRequest(w, err.Error())
	default:
		s.logf("Cache access for frame %s failed: %v", id, err)
		httputil.InternalServerError(w, "cache unavailable")
	}
}

// ClientView describes one connected websocket client.
type ClientView struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	Frames    uint64    `json:"frames"`
	Limited   uint64    `json:"rate_limited"`
	Mode      string    `json:"mode"`
	N         int       `json:"n"`
}

// CacheView describes the frame cache in /api/status.
type CacheView struct {
	Backend string `json:"backend"`
	Frames  int    `json:"frames"`
	Error   string `json:"error,omitempty"`
}

// StatusView is the /api/status body.
type StatusView struct {
	Version    string          `json:"version"`
	Uptime     string          `json:"uptime"`
	Dispatcher *dispatch.Stats `json:"dispatcher,omitempty"`
	Viewer     viewer.Stats    `json:"viewer"`
	Cache      CacheView       `json:"cache"`
	Clients    []ClientView    `json:"clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.status(r.Context()))
}

func (s *Server) status(ctx context.Context) StatusView {
	store := s.viewer.Store()
	st := StatusView{
		Version: version.String(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Viewer:  s.viewer.Stats(),
		Cache:   CacheView{Backend: framecache.BackendName(store)},
		Clients: []ClientView{},
	}
	if s.dispatcher != nil {
		ds := s.dispatcher.Stats()
		st.Dispatcher = &ds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if n, err := store.Len(ctx); err != nil {
		st.Cache.Error = err.Error()
	} else {
		st.Cache.Frames = n
	}

	s.mu.Lock()
	for _, c := range s.clients {
		st.Clients = append(st.Clients, ClientView{
			ID:        c.id,
			Connected: c.connected,
			Frames:    c.frames.Load(),
			Limited:   c.limited.Load(),
			Mode:      string(c.defaults.Mode),
			N:         c.defaults.N,
		})
	}
	s.mu.Unlock()
	sort.Slice(st.Clients, func(i, j int) bool {
		return st.Clients[i].Connected.Before(st.Clients[j].Connected)
	})
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "ok",
		"version": version.String(),
		"clients": s.clientCount(),
	})
}
