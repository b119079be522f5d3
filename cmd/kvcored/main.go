// Command kvcored runs the key-value store's persistence core behind
// an HTTP API: a Router dispatching to a write-through Cache and a
// Persistence Manager backed by SSTables. Startup uses
// signal.NotifyContext for graceful shutdown and passes every
// collaborator an explicit handle at construction time, no singletons.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"kvcore/internal/config"
	kvhttp "kvcore/internal/http"
	"kvcore/pkg/cache"
	"kvcore/pkg/persistence"
	"kvcore/pkg/router"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvcored: invalid configuration: %v\n", err)
		return 1
	}
	initLogger(cfg)

	manager, err := persistence.New(persistence.Config{
		Directory:           cfg.SSTableDirectory,
		FilterSize:          cfg.BloomFilterSize,
		FilterHashCount:     cfg.BloomHashCount,
		MaxKeysPerTable:     cfg.MaxKeysPerSSTable,
		CompactionThreshold: cfg.CompactionThreshold,
		Workers:             cfg.PersistenceWorkers,
	})
	if err != nil {
		slog.Error("failed to start persistence manager", "error", err)
		return 1
	}
	defer manager.Close()

	c := cache.New()
	r := router.New(c, manager)

	server := kvhttp.NewServer(r, fmt.Sprint(cfg.HTTPPort), func() (int, int, int) {
		stats := manager.Stats()
		return stats.TableCount, stats.TotalKeys, int(stats.CompactionCount)
	})
	if err := server.Start(); err != nil {
		slog.Error("failed to start http server", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	slog.Info("shutting down")
	if err := server.Stop(); err != nil {
		slog.Error("error during http shutdown", "error", err)
		return 1
	}
	return 0
}
