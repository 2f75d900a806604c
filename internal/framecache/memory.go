package framecache

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	frames map[pointcloud.FrameID]*CachedFrame
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{frames: make(map[pointcloud.FrameID]*CachedFrame)}
}

func (s *MemoryStore) Put(_ context.Context, f *CachedFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	cp := f.Clone()
	if cp.StoredAt.IsZero() {
		cp.StoredAt = time.Now()
	}

	s.mu.Lock()
	s.frames[cp.FrameID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id pointcloud.FrameID) (*CachedFrame, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	f, ok := s.frames[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id pointcloud.FrameID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frames[id]; !ok {
		return ErrNotFound
	}
	delete(s.frames, id)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.frames = make(map[pointcloud.FrameID]*CachedFrame)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames), nil
}

func (s *MemoryStore) Close() error { return nil }
