package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/metrics"
)

// startMetricsLogger periodically logs the counter snapshot, for deployments
// that scrape logs rather than Prometheus.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"packets_received", snap.PacketsReceived,
					"biolab_packets", snap.BiolabPackets,
					"waps_image_packets", snap.WAPSImagePackets,
					"initialized_images", snap.InitializedImages,
					"completed_images", snap.CompletedImages,
					"lost_packets", snap.LostPackets,
					"corrupted_packets", snap.CorruptedPackets,
					"overwritten_images", snap.OverwrittenImages,
					"outdated_images", snap.OutdatedImages,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
