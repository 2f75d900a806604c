package viewer

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/pointframe/internal/dispatch"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

// RunSynthetic feeds generated frames through Load every interval until ctx
// ends. It is the dev-mode stand-in for a capture source. Per-frame failures
// are logged and do not stop the loop.
func (v *Viewer) RunSynthetic(ctx context.Context, gen *pointcloud.SyntheticGenerator, interval time.Duration, cfg pointcloud.DownsampleConfig) error {
	ticker := v.clock.NewTicker(interval)
	defer ticker.Stop()

	v.logf("Synthetic mode: %d points every %s, config=%s/%d", gen.PointCount, interval, cfg.Mode, cfg.N)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			raw := gen.NextFrame()
			_, _, err := v.Load(ctx, dispatch.Request{
				FrameID:    raw.FrameID,
				PointCount: raw.PointCount,
				AllData:    raw.Samples,
				Config:     cfg,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				v.logf("Synthetic frame %s failed: %v", raw.FrameID, err)
			}
		}
	}
}
