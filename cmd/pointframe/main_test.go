package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/pointframe/internal/config"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

func parse(t *testing.T, args ...string) (*flag.FlagSet, *options) {
	t.Helper()
	fs := flag.NewFlagSet("pointframe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	opts := newOptions(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return fs, opts
}

func TestFlagDefaults(t *testing.T) {
	_, opts := parse(t)
	if opts.dev {
		t.Error("dev mode should default to off")
	}
	if opts.devInterval != 100*time.Millisecond {
		t.Errorf("devInterval = %v, want 100ms", opts.devInterval)
	}
	if opts.remote != "" {
		t.Errorf("remote = %q, want empty", opts.remote)
	}
}

func TestApply_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pointframe.json")
	body := `{"workers": 2, "queue_depth": 8, "listen": ":9000", "cache_backend": "sqlite"}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	fs, opts := parse(t, "-workers", "6", "-ordered", "-cache", "memory")
	if err := opts.apply(fs, cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}

	if got := cfg.GetWorkers(); got != 6 {
		t.Errorf("workers = %d, want 6", got)
	}
	if !cfg.GetOrdered() {
		t.Error("ordered = false, want true")
	}
	if got := cfg.GetCacheBackend(); got != config.CacheMemory {
		t.Errorf("cache = %q, want memory", got)
	}
	// Values not given as flags stay as loaded.
	if got := cfg.GetQueueDepth(); got != 8 {
		t.Errorf("queue depth = %d, want 8", got)
	}
	if got := cfg.GetListen(); got != ":9000" {
		t.Errorf("listen = %q, want :9000", got)
	}
}

func TestApply_RejectsInvalid(t *testing.T) {
	fs, opts := parse(t, "-workers", "0")
	if err := opts.apply(fs, &config.Config{}); err == nil {
		t.Error("apply() accepted -workers 0")
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") error = %v", err)
	}
	if got := cfg.GetListen(); got != ":8080" {
		t.Errorf("listen = %q, want :8080", got)
	}
}

func TestNewTransformer(t *testing.T) {
	axes, ramp := "y-up", "gray"
	tr, err := newTransformer(&config.Config{Axes: &axes, ColorRamp: &ramp})
	if err != nil {
		t.Fatalf("newTransformer() error = %v", err)
	}
	pf, err := tr.Transform(pointcloud.RawFrame{
		FrameID:    "t",
		PointCount: 1,
		Samples:    pointcloud.NewBuffer([]float32{1, 2, 3, 255}),
	}, pointcloud.DefaultDownsampleConfig())
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	positions, _ := pf.Positions.Float32s()
	if positions[1] != 3 || positions[2] != -2 {
		t.Errorf("positions = %v, want [1 3 -2]", positions)
	}
	colors, _ := pf.Colors.Float32s()
	if colors[0] != 1 || colors[2] != 1 {
		t.Errorf("colors = %v, want grey full intensity", colors)
	}
}
