// Command objio-ccs runs the cluster configuration service: the
// bbolt-backed store of topology, storage classes, bucket metadata, and
// the node_id address book every gateway and OSD dials through.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cloudomate/objectio/internal/ccsstore"
	"github.com/cloudomate/objectio/internal/config"
	"github.com/cloudomate/objectio/internal/objmodel"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "configs/objio-ccs.toml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("objio-ccs %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)

	if err := os.MkdirAll(cfg.CCS.DataDir, 0755); err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	store, err := ccsstore.Open(filepath.Join(cfg.CCS.DataDir, "ccs.db"))
	if err != nil {
		slog.Error("failed to open ccs store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.CCS.BootstrapTopology != "" {
		if err := bootstrapTopology(store, cfg.CCS.BootstrapTopology); err != nil {
			slog.Error("failed to bootstrap topology", "error", err)
			os.Exit(1)
		}
	}

	srv := ccsstore.NewServer(store)
	httpServer := &http.Server{Addr: cfg.ListenAddr(), Handler: srv.Handler()}

	slog.Info("objio-ccs starting", "addr", cfg.ListenAddr(), "data_dir", cfg.CCS.DataDir)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-sigCh:
		slog.Info("received signal, shutting down gracefully", "signal", sig)
	}

	timeout := time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown timed out", "timeout", timeout, "error", err)
		os.Exit(1)
	}
	slog.Info("objio-ccs stopped gracefully")
}

// bootstrapTopology loads a seed topology from a JSON file the first
// time the store is opened with no topology set; it is a no-op once a
// topology already exists so restarts never clobber live state with a
// stale seed file.
func bootstrapTopology(store *ccsstore.Store, path string) error {
	existing, err := store.Topology()
	if err != nil {
		return err
	}
	if existing.TopologyVersion > 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read bootstrap topology: %w", err)
	}
	var topo objmodel.ClusterTopology
	if err := json.Unmarshal(data, &topo); err != nil {
		return fmt.Errorf("parse bootstrap topology: %w", err)
	}
	return store.SetTopology(&topo)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
