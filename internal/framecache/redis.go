package framecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/pointframe/internal/codec"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// clearBatchSize bounds the number of keys deleted per DEL during Clear.
const clearBatchSize = 500

// RedisStore keeps frames in Redis as CBOR records, one key per frame, so
// several viewer processes can share one cache.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets how long a frame survives after its last Put. Zero (the
// default) keeps frames until deleted or cleared.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "pointframe".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore creates a Redis-backed frame store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "pointframe",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// frameRecord is the CBOR value stored under each key.
type frameRecord struct {
	Positions    codec.Float32Array          `cbor:"positions"`
	Colors       codec.Float32Array          `cbor:"colors"`
	Config       pointcloud.DownsampleConfig `cbor:"config"`
	SourcePoints int                         `cbor:"sourcePoints"`
	Intensity    pointcloud.IntensitySummary `cbor:"intensity"`
	StoredAt     int64                       `cbor:"storedAt"`
}

func (s *RedisStore) Put(ctx context.Context, f *CachedFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	storedAt := f.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}
	data, err := codec.Marshal(frameRecord{
		Positions:    f.Positions,
		Colors:       f.Colors,
		Config:       f.Config,
		SourcePoints: f.SourcePoints,
		Intensity:    f.Intensity,
		StoredAt:     storedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode frame %s: %w", f.FrameID, err)
	}
	if err := s.client.Set(ctx, s.frameKey(f.FrameID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id pointcloud.FrameID) (*CachedFrame, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	data, err := s.client.Get(ctx, s.frameKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var rec frameRecord
	if err := codec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", id, err)
	}
	f := &CachedFrame{
		FrameID:      id,
		Positions:    cloneFloat32s(rec.Positions),
		Colors:       cloneFloat32s(rec.Colors),
		Config:       rec.Config,
		SourcePoints: rec.SourcePoints,
		Intensity:    rec.Intensity,
		StoredAt:     time.Unix(0, rec.StoredAt),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *RedisStore) Delete(ctx context.Context, id pointcloud.FrameID) error {
	n, err := s.client.Del(ctx, s.frameKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear deletes every frame under this store's prefix.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := make([]string, 0, clearBatchSize)
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del failed: %w", err)
		}
		keys = keys[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, s.scanPattern(), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == clearBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	return flush()
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, s.scanPattern(), 0).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan failed: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// frameKey generates the Redis key for a frame.
func (s *RedisStore) frameKey(id pointcloud.FrameID) string {
	return fmt.Sprintf("%s:frame:%s", s.prefix, id)
}

// scanPattern matches every frame key under the prefix.
func (s *RedisStore) scanPattern() string {
	return s.prefix + ":frame:*"
}
