// Package config loads the pointframe settings file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/pointframe.defaults.json"

const maxFileSize = 1 * 1024 * 1024

// Cache backends accepted by cache_backend.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Config is the settings file. Every field is optional; the Get* methods
// supply the default for anything left out, so partial files are safe.
type Config struct {
	// Listeners
	Listen     *string `json:"listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"` // empty disables the RPC service

	// Dispatcher
	Workers       *int    `json:"workers,omitempty"`
	QueueDepth    *int    `json:"queue_depth,omitempty"`
	Ordered       *bool   `json:"ordered,omitempty"`
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "5s"

	// Transform
	DownsampleMode *string `json:"downsample_mode,omitempty"`
	DownsampleN    *int    `json:"downsample_n,omitempty"`
	Axes           *string `json:"axes,omitempty"`
	ColorRamp      *string `json:"color_ramp,omitempty"`

	// Frame cache
	CacheBackend *string `json:"cache_backend,omitempty"`
	SQLitePath   *string `json:"sqlite_path,omitempty"`
	RedisAddr    *string `json:"redis_addr,omitempty"`
	RedisPrefix  *string `json:"redis_prefix,omitempty"`
	RedisTTL     *string `json:"redis_ttl,omitempty"` // "0s" keeps frames until cleared

	// Websocket clients
	MaxMessageBytes *int64   `json:"max_message_bytes,omitempty"`
	ClientFrameRate *float64 `json:"client_frame_rate,omitempty"` // frames/s per client, 0 is unlimited
}

// Load reads a Config from a JSON file. The path must end in .json and the
// file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	if c.QueueDepth != nil && *c.QueueDepth < 1 {
		return fmt.Errorf("queue_depth must be at least 1, got %d", *c.QueueDepth)
	}
	if err := validDuration("stats_interval", c.StatsInterval); err != nil {
		return err
	}
	if err := validDuration("redis_ttl", c.RedisTTL); err != nil {
		return err
	}

	if err := c.GetDownsample().Validate(); err != nil {
		return err
	}
	if _, err := pointcloud.AxesByName(c.GetAxes()); err != nil {
		return err
	}
	if _, err := pointcloud.ColorRampByName(c.GetColorRamp()); err != nil {
		return err
	}

	switch c.GetCacheBackend() {
	case CacheMemory, CacheSQLite, CacheRedis:
	default:
		return fmt.Errorf("cache_backend must be one of %s, %s or %s, got %q",
			CacheMemory, CacheSQLite, CacheRedis, c.GetCacheBackend())
	}

	if c.ClientFrameRate != nil && *c.ClientFrameRate < 0 {
		return fmt.Errorf("client_frame_rate must not be negative, got %v", *c.ClientFrameRate)
	}
	if c.MaxMessageBytes != nil && *c.MaxMessageBytes <= pointcloud.PackedHeaderSize {
		return fmt.Errorf("max_message_bytes must exceed %d, got %d", pointcloud.PackedHeaderSize, *c.MaxMessageBytes)
	}
	return nil
}

func validDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative, got %s", name, *v)
	}
	return nil
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func getString(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetListen returns the HTTP listen address.
func (c *Config) GetListen() string { return getString(c.Listen, ":8080") }

// GetGRPCListen returns the RPC listen address, or "" when disabled.
func (c *Config) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return ""
	}
	return *c.GRPCListen
}

// GetWorkers returns the number of transformer workers.
func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetQueueDepth returns the dispatcher queue bound.
func (c *Config) GetQueueDepth() int {
	if c.QueueDepth == nil {
		return 5
	}
	return *c.QueueDepth
}

// GetOrdered reports whether responses are delivered in submission order.
func (c *Config) GetOrdered() bool {
	if c.Ordered == nil {
		return false
	}
	return *c.Ordered
}

// GetStatsInterval returns the periodic stats log interval. Zero disables it.
func (c *Config) GetStatsInterval() time.Duration {
	return getDuration(c.StatsInterval, 5*time.Second)
}

// GetDownsample returns the default downsample config for frames that do not
// carry one.
func (c *Config) GetDownsample() pointcloud.DownsampleConfig {
	cfg := pointcloud.DefaultDownsampleConfig()
	if c.DownsampleMode != nil && *c.DownsampleMode != "" {
		cfg.Mode = pointcloud.DownsampleMode(*c.DownsampleMode)
	}
	if c.DownsampleN != nil {
		cfg.N = *c.DownsampleN
	}
	return cfg
}

// GetAxes returns the coordinate mapping name.
func (c *Config) GetAxes() string { return getString(c.Axes, "identity") }

// GetColorRamp returns the intensity colour ramp name.
func (c *Config) GetColorRamp() string { return getString(c.ColorRamp, "yellow") }

// GetCacheBackend returns the frame cache backend.
func (c *Config) GetCacheBackend() string { return getString(c.CacheBackend, CacheMemory) }

// GetSQLitePath returns the SQLite cache file.
func (c *Config) GetSQLitePath() string { return getString(c.SQLitePath, "pointframe.db") }

// GetRedisAddr returns the Redis address.
func (c *Config) GetRedisAddr() string { return getString(c.RedisAddr, "localhost:6379") }

// GetRedisPrefix returns the Redis key prefix.
func (c *Config) GetRedisPrefix() string { return getString(c.RedisPrefix, "pointframe") }

// GetRedisTTL returns the Redis entry lifetime. Zero keeps frames until
// cleared.
func (c *Config) GetRedisTTL() time.Duration { return getDuration(c.RedisTTL, 0) }

// GetMaxMessageBytes returns the largest accepted frame message.
func (c *Config) GetMaxMessageBytes() int64 {
	if c.MaxMessageBytes == nil {
		return 16 << 20
	}
	return *c.MaxMessageBytes
}

// GetClientFrameRate returns the per-client frame rate cap, 0 for none.
func (c *Config) GetClientFrameRate() float64 {
	if c.ClientFrameRate == nil {
		return 0
	}
	return *c.ClientFrameRate
}
