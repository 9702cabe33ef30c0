// Command objio-gateway runs the stateless stripe engine and its HTTP
// front door: it serves PUT/GET/DELETE/List against whatever OSDs the
// CCS's topology names, and runs the background repair/scrub manager.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloudomate/objectio/internal/ccsstore"
	"github.com/cloudomate/objectio/internal/codec"
	"github.com/cloudomate/objectio/internal/config"
	"github.com/cloudomate/objectio/internal/events"
	"github.com/cloudomate/objectio/internal/frontend"
	"github.com/cloudomate/objectio/internal/gateway"
	"github.com/cloudomate/objectio/internal/gatewayclient"
	"github.com/cloudomate/objectio/internal/objmodel"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "configs/objio-gateway.toml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Printf("objio-gateway %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging.Level)

	if cfg.Gateway.CCSAddr == "" {
		slog.Error("gateway.ccs_addr must be set")
		os.Exit(1)
	}
	ccs := ccsstore.NewClient(cfg.Gateway.CCSAddr, time.Duration(cfg.Gateway.RPCTimeoutMs)*time.Millisecond)

	publisher := buildPublisher(cfg)
	defer publisher.Close()

	opts := gateway.Options{
		HedgeDelay: time.Duration(cfg.Gateway.HedgeDelayMs) * time.Millisecond,
		RPCTimeout: time.Duration(cfg.Gateway.RPCTimeoutMs) * time.Millisecond,
		Backend:    codec.SelectBackend(),
		HMACKey:    gatewayHMACKey(),
		Events:     publisher,
	}
	if cfg.Gateway.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Gateway.RedisAddr})
		defer rdb.Close()
		loader := func(ctx context.Context, bucket string) (objmodel.StorageClass, error) {
			bm, err := ccs.Bucket(ctx, bucket)
			if err != nil {
				return objmodel.StorageClass{}, err
			}
			return ccs.StorageClass(ctx, bm.StorageClassName)
		}
		opts.Buckets = gatewayclient.NewBucketCache(rdb, loader, gatewayclient.BucketCacheOptions{})
	}

	gw := gateway.New(ccs, opts)

	repairCtx, repairCancel := context.WithCancel(context.Background())
	defer repairCancel()
	go runRepair(repairCtx, gw, ccs)

	handler := frontend.New(gw)
	httpServer := &http.Server{Addr: cfg.ListenAddr(), Handler: handler}

	slog.Info("objio-gateway starting", "addr", cfg.ListenAddr(), "ccs_addr", cfg.Gateway.CCSAddr)

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
	slog.Info("objio-gateway stopped gracefully")
}

// runRepair starts the repair manager once the CCS reports at least one
// bucket, retrying the bucket list periodically since the gateway may
// come up before any bucket exists.
func runRepair(ctx context.Context, gw *gateway.Gateway, ccs *ccsstore.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		buckets, err := ccs.ListBuckets(ctx)
		if err == nil && len(buckets) > 0 {
			names := make([]string, len(buckets))
			for i, bm := range buckets {
				names[i] = bm.Name
			}
			mgr := gateway.NewRepairManager(gw, names)
			mgr.Run(ctx)
			return
		}
		if err != nil {
			slog.Warn("repair manager: failed to list buckets, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func buildPublisher(cfg *config.Config) *events.Publisher {
	var sinks []events.Sink
	if len(cfg.Gateway.KafkaBrokers) > 0 {
		sinks = append(sinks, events.NewKafkaSink(cfg.Gateway.KafkaBrokers, cfg.Gateway.KafkaTopic))
	}
	if cfg.Gateway.NATSURL != "" {
		sink, err := events.NewNATSSink(cfg.Gateway.NATSURL, cfg.Gateway.NATSSubject)
		if err != nil {
			slog.Warn("failed to connect nats event sink, continuing without it", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	return events.NewPublisher(sinks...)
}

// gatewayHMACKey generates a random per-process signing key for
// ListObjectsV2 continuation tokens. Tokens therefore don't survive a
// restart onto a different gateway process; clients treat an expired
// token as any other and restart their listing from scratch.
func gatewayHMACKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		slog.Warn("failed to generate random hmac key, continuation tokens disabled", "error", err)
		return nil
	}
	return key
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
