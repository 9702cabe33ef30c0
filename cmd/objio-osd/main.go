// Command objio-osd runs one OSD process: the shard and object-metadata
// RPC service bound to a single disk. Operators wanting several disks
// per physical host run one objio-osd process per disk, each with its
// own node_id and listen port, and register all of them with the CCS.
package main

import (
	"context"
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
	"github.com/cloudomate/objectio/internal/osd/bitmap"
	"github.com/cloudomate/objectio/internal/osd/blockcache"
	"github.com/cloudomate/objectio/internal/osd/datawal"
	"github.com/cloudomate/objectio/internal/osd/disk"
	"github.com/cloudomate/objectio/internal/osd/metastore"
	"github.com/cloudomate/objectio/internal/osd/rpc"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "configs/objio-osd.toml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("objio-osd %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)

	if len(cfg.Storage.Disks) == 0 {
		slog.Error("no disks configured under [storage.disks]")
		os.Exit(1)
	}
	if len(cfg.Storage.Disks) > 1 {
		slog.Warn("objio-osd serves exactly one disk per process; ignoring extra [[storage.disks]] entries",
			"configured", len(cfg.Storage.Disks), "serving", cfg.Storage.Disks[0].ID)
	}
	diskCfg := cfg.Storage.Disks[0]

	dataDir := filepath.Dir(diskCfg.Path)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}

	d, err := disk.Open(diskCfg.ID, diskCfg.Path, diskCfg.CapacityBytes)
	if err != nil {
		slog.Error("failed to open disk", "error", err)
		os.Exit(1)
	}
	defer d.Close()

	cacheOpts := blockcache.Options{
		CapacityBlocks: int(cfg.Storage.Cache.BlockCache.SizeMB * 1024 * 1024 / disk.BlockSize),
		Policy:         parseCachePolicy(cfg.Storage.Cache.BlockCache.Policy),
		JournalPath:    filepath.Join(dataDir, diskCfg.ID+".cache.journal"),
	}
	if !cfg.Storage.Cache.BlockCache.Enabled {
		cacheOpts.CapacityBlocks = 0
	}
	cache, err := blockcache.Open(d, cacheOpts)
	if err != nil {
		slog.Error("failed to open block cache", "error", err)
		os.Exit(1)
	}
	flushStop := make(chan struct{})
	defer close(flushStop)
	go cache.RunFlusher(flushStop)

	wal, err := datawal.Open(filepath.Join(dataDir, diskCfg.ID+".wal"), nil)
	if err != nil {
		slog.Error("failed to open data wal", "error", err)
		os.Exit(1)
	}
	defer wal.Close()

	bmp := bitmap.New(uint64(d.BlockCount()))

	shardIdx, err := metastore.Open(filepath.Join(dataDir, diskCfg.ID+"-shards"), metastore.Options{
		CacheCapacity:    cfg.Storage.Metadata.CacheSize,
		SnapshotEveryPut: cfg.Storage.Metadata.SnapshotThreshold,
	})
	if err != nil {
		slog.Error("failed to open shard index", "error", err)
		os.Exit(1)
	}
	defer shardIdx.Close()

	objIdx, err := metastore.Open(filepath.Join(dataDir, diskCfg.ID+"-objects"), metastore.Options{
		CacheCapacity:    cfg.Storage.Metadata.CacheSize,
		SnapshotEveryPut: cfg.Storage.Metadata.SnapshotThreshold,
	})
	if err != nil {
		slog.Error("failed to open object metadata index", "error", err)
		os.Exit(1)
	}
	defer objIdx.Close()

	osdServer := rpc.NewServer(rpc.Config{
		Disk:        d,
		Cache:       cache,
		WAL:         wal,
		Bitmap:      bmp,
		ShardIndex:  shardIdx,
		ObjectIndex: objIdx,
	})

	if cfg.Gateway.CCSAddr != "" {
		ccs := ccsstore.NewClient(cfg.Gateway.CCSAddr, 5*time.Second)
		addr := fmt.Sprintf("%s:%d", publicHost(cfg.Server.Address), cfg.Server.Port)
		if err := ccs.RegisterNode(context.Background(), cfg.OSD.NodeID, addr); err != nil {
			slog.Warn("failed to register with ccs, continuing unregistered", "error", err)
		} else {
			slog.Info("registered with ccs", "node_id", cfg.OSD.NodeID, "addr", addr)
		}
	}

	httpServer := &http.Server{Addr: cfg.ListenAddr(), Handler: osdServer.Handler()}

	slog.Info("objio-osd starting", "addr", cfg.ListenAddr(), "node_id", cfg.OSD.NodeID, "disk_id", diskCfg.ID)

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
	slog.Info("objio-osd stopped gracefully")
}

// publicHost substitutes a dialable loopback address for a wildcard bind
// address; operators behind a real LB override this with OBJIO_ADDRESS.
func publicHost(bindAddr string) string {
	if bindAddr == "0.0.0.0" || bindAddr == "" {
		return "127.0.0.1"
	}
	return bindAddr
}

func parseCachePolicy(s string) blockcache.Policy {
	switch strings.ToLower(s) {
	case "write_back":
		return blockcache.WriteBack
	case "write_around":
		return blockcache.WriteAround
	default:
		return blockcache.WriteThrough
	}
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
