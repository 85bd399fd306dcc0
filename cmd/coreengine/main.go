// Command coreengine is the process that drives a single predcore Engine:
// it loads configuration, wires the configured persistence sinks, and
// advances the engine's tick clock on a fixed interval until signaled to
// stop. Flag/signal/shutdown handling follows cmd/consensusd/main.go's
// shape (flag.String config path, signal.NotifyContext, a background
// goroutine torn down on ctx.Done()), trimmed to this module's scope: no
// gRPC/p2p server, since wire transport is out of scope here.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"predcore/internal/config"
	"predcore/internal/engine"
	"predcore/internal/events"
	"predcore/internal/observability/logging"
	"predcore/internal/observability/otel"
	"predcore/internal/oracle"
	"predcore/internal/storage/eventstore"
	"predcore/internal/storage/export"
	"predcore/internal/storage/snapshot"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the engine's TOML configuration file")
	writeDefault := flag.Bool("write-default-config", false, "Write a default configuration to -config and exit")
	tickInterval := flag.Duration("tick-interval", time.Second, "Wall-clock interval between engine ticks")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for the goleveldb event snapshot store (disabled if empty)")
	eventstoreDSN := flag.String("eventstore-dsn", "", "Postgres DSN for the durable event store (disabled if empty)")
	exportDir := flag.String("export-dir", "", "Directory to periodically write settled-position Parquet exports to (disabled if empty)")
	exportInterval := flag.Int("export-every-ticks", 0, "Write a Parquet export every N ticks (0 disables periodic export)")
	flag.Parse()

	if *writeDefault {
		if _, err := config.WriteDefault(*configFile, "predcore", os.Getenv("PREDCORE_ENV")); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write default config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote default configuration to %s\n", *configFile)
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Service, cfg.Env)
	logger.Info("predcore engine starting", "config", *configFile, "tick_interval", tickInterval.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Init(ctx, cfg.Service, cfg.TelemetryEndpoint)
	if err != nil {
		logger.Error("failed to initialize telemetry", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Error("telemetry shutdown failed", "err", err)
		}
	}()

	sinks := []events.Emitter{events.NewLog(10000)}

	if dir := strings.TrimSpace(*snapshotDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("failed to create snapshot directory", "dir", dir, "err", err)
			os.Exit(1)
		}
		store, err := snapshot.Open(dir)
		if err != nil {
			logger.Error("failed to open snapshot store", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		sinks = append(sinks, store)
		logger.Info("snapshot store enabled", "dir", dir)
	}

	if dsn := strings.TrimSpace(*eventstoreDSN); dsn != "" {
		store, err := eventstore.Open(dsn)
		if err != nil {
			logger.Error("failed to open event store", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		sinks = append(sinks, store)
		logger.Info("postgres event store enabled")
	}

	feed := oracle.NewManualFeed()
	eng, err := engine.New(cfg, feed, events.MultiEmitter(sinks))
	if err != nil {
		logger.Error("failed to construct engine", "err", err)
		os.Exit(1)
	}

	exportEvery := *exportInterval
	exportPath := strings.TrimSpace(*exportDir)
	if exportPath != "" && exportEvery > 0 {
		if err := os.MkdirAll(exportPath, 0o755); err != nil {
			logger.Error("failed to create export directory", "dir", exportPath, "err", err)
			os.Exit(1)
		}
		logger.Info("periodic parquet export enabled", "dir", exportPath, "every_ticks", exportEvery)
	}

	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()

	var tick uint64
	logger.Info("predcore engine running")
	for {
		select {
		case <-ctx.Done():
			logger.Info("predcore engine shutting down")
			if exportPath != "" {
				writeExport(eng, exportPath, tick, logger)
			}
			return
		case <-ticker.C:
			tick++
			if err := eng.Tick(tick); err != nil {
				logger.Error("tick failed", "tick", tick, "err", err)
				continue
			}
			if exportPath != "" && exportEvery > 0 && tick%uint64(exportEvery) == 0 {
				writeExport(eng, exportPath, tick, logger)
			}
		}
	}
}

func writeExport(eng *engine.Engine, dir string, tick uint64, logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}) {
	rows := eng.ExportClosedPositions()
	path := filepath.Join(dir, fmt.Sprintf("positions-%d.parquet", tick))
	if err := export.WritePositions(path, rows); err != nil {
		logger.Error("parquet export failed", "tick", tick, "err", err)
		return
	}
	logger.Info("wrote parquet export", "path", path, "rows", len(rows))
}
