// Command waps-ies is the ground-segment ingester for BIOLAB/WAPS image
// telemetry: it connects to a TCP telemetry source, decodes CCSDS packets
// into BIOLAB frames, reassembles FLIR and uCAM images, and persists
// completed and in-progress artefacts plus a SQLite catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kayserspace/waps-ies-sub000/internal/catalog"
	"github.com/kayserspace/waps-ies-sub000/internal/ecconfig"
	"github.com/kayserspace/waps-ies-sub000/internal/ingest"
	"github.com/kayserspace/waps-ies-sub000/internal/metrics"
	"github.com/kayserspace/waps-ies-sub000/internal/persist"
)

func main() {
	cfg, ok := parseFlags()
	if !ok {
		os.Exit(1)
	}

	l, rot, err := setupLogger(cfg.logFormat, cfg.logLevel, cfg.logPath)
	if err != nil {
		fmt.Printf("logger setup error: %v\n", err)
		os.Exit(1)
	}
	if rot != nil {
		defer rot.Close()
	}

	ecTable := ecconfig.Empty()
	if cfg.ecTablePath != "" {
		t, err := ecconfig.Load(cfg.ecTablePath)
		if err != nil {
			l.Error("ec_table_load_error", "error", err)
			os.Exit(1)
		}
		ecTable = t
	}

	if err := persist.EnsureDir(cfg.outputPath, time.Now()); err != nil {
		l.Error("output_dir_error", "error", err)
		os.Exit(1)
	}

	store, err := catalog.Open(cfg.catalogPath)
	if err != nil {
		l.Error("catalog_open_error", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	var imageTimeout *time.Duration
	if cfg.imageTimeout > 0 {
		imageTimeout = &cfg.imageTimeout
	}

	loop := ingest.NewLoop(ingest.Config{
		Addr:                cfg.addr(),
		TCPTimeout:          cfg.tcpTimeout,
		ImageTimeout:        imageTimeout,
		SlotChangeDetection: cfg.slotChangeDetection,
		OutputRoot:          cfg.outputPath,
		ECPosition:          ecTable.Position,
		Catalog:             store,
	})

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			l.Error("ingest_loop_error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
		l.Error("shutdown_unrecoverable")
	}
	cancel()
	wg.Wait()

	snap := metrics.Snap()
	l.Info("shutdown_summary",
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
		"open_images_at_exit", loop.State().Count(),
	)
}
