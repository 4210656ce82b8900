package cache

import (
	"context"
	"log/slog"
	"time"
)

// StartCleanupJob runs store.Cleanup every interval until the returned cancel
// func is called. A non-positive interval disables the job.
func StartCleanupJob(store Store, interval time.Duration) context.CancelFunc {
	if interval <= 0 {
		slog.Info("[CACHE] cleanup job disabled (interval=0)")
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("[CACHE] CRITICAL: cleanup job panicked", "panic", r)
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("[CACHE] cleanup job started", "interval", interval)

		cycleCount := 0
		for {
			select {
			case <-ctx.Done():
				slog.Info("[CACHE] cleanup job stopped")
				return
			case <-ticker.C:
				cycleCount++

				removed, err := store.Cleanup(ctx)
				if err != nil {
					slog.Error("[CACHE] cleanup error", "error", err, "cycle", cycleCount)
					continue
				}

				if removed > 0 {
					slog.Info("[CACHE] cleanup completed",
						"entries_removed", removed,
						"cycle", cycleCount,
					)
				} else if cycleCount%6 == 0 {
					stats, err := store.Stats(ctx)
					if err != nil {
						continue
					}
					slog.Info("[CACHE] cleanup heartbeat",
						"cycle", cycleCount,
						"entries", stats.Entries,
						"size_bytes", stats.Bytes,
					)
				}
			}
		}
	}()

	return cancel
}
