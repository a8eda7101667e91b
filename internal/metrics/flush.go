package metrics

import (
	"context"
	"log/slog"
	"time"
)

// Sink receives periodic metric snapshots for durable storage.
type Sink interface {
	WriteMetricsSnapshot(ctx context.Context, snapshot map[string]any) error
}

// FlushLoop writes the collector snapshot to sink every period until ctx is
// cancelled. Flush failures are logged and never fatal. A period of 0
// disables flushing and returns immediately.
func (c *Collector) FlushLoop(ctx context.Context, sink Sink, period time.Duration, logger *slog.Logger) {
	if sink == nil || period <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.WriteMetricsSnapshot(ctx, c.Snapshot()); err != nil {
				logger.Warn("metrics flush failed", "error", err)
			}
		}
	}
}
