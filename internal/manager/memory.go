package manager

import (
	"context"
	"runtime"
	"time"
)

// WatchMemoryPressure substitutes for the OS-level low-memory signal
// spec.md §4.7 describes as "where available": Go programs have no
// portable equivalent, so this polls runtime.MemStats and opportunistically
// calls SaveAllChanges once heap usage crosses thresholdBytes, the same
// remedy the OS signal would have triggered. Callers run this as a
// background goroutine for the lifetime of ctx; it returns when ctx is
// done.
func WatchMemoryPressure(ctx context.Context, m *Manager, thresholdBytes uint64, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var stats runtime.MemStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runtime.ReadMemStats(&stats)
			if stats.HeapAlloc >= thresholdBytes {
				_ = SaveAllChanges(ctx, m)
			}
		}
	}
}
