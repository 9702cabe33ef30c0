// Package config loads the TOML configuration surface of spec §6. The
// wire format is an explicit external interface (like the superblock
// layout), so it is parsed with go-toml/v2 rather than a YAML library.
// The storage.* keys and osd.failure_domain follow that table's names;
// the server, gateway, ccs and logging sections are this repository's
// own additions.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	OSD     OSDConfig     `toml:"osd"`
	Gateway GatewayConfig `toml:"gateway"`
	CCS     CCSConfig     `toml:"ccs"`
	Logging LoggingConfig `toml:"logging"`
	Debug   bool          `toml:"debug"`
}

type ServerConfig struct {
	Address             string `toml:"address"`
	Port                int    `toml:"port"`
	ShutdownTimeoutSecs int    `toml:"shutdown_timeout_secs"`
}

// DiskConfig names one raw disk file/device this OSD owns.
type DiskConfig struct {
	ID            string `toml:"id"`
	Path          string `toml:"path"`
	CapacityBytes int64  `toml:"capacity_bytes"`
}

type StorageConfig struct {
	BlockSize int64          `toml:"block_size"`
	Disks     []DiskConfig   `toml:"disks"`
	WAL       WALConfig      `toml:"wal"`
	Cache     CacheConfig    `toml:"cache"`
	Metadata  MetadataConfig `toml:"metadata"`
}

type WALConfig struct {
	SyncOnWrite bool  `toml:"sync_on_write"`
	MaxSizeMB   int64 `toml:"max_size_mb"`
}

type CacheConfig struct {
	BlockCache BlockCacheConfig `toml:"block_cache"`
}

type BlockCacheConfig struct {
	Enabled bool   `toml:"enabled"`
	SizeMB  int64  `toml:"size_mb"`
	Policy  string `toml:"policy"` // "write_through" | "write_back" | "write_around"
}

type MetadataConfig struct {
	SnapshotThreshold int `toml:"snapshot_threshold"`
	SnapshotRetention int `toml:"snapshot_retention"`
	CacheSize         int `toml:"cache_size"`
}

// OSDConfig configures an OSD process's identity and failure-domain
// placement within the cluster topology.
type OSDConfig struct {
	NodeID        string              `toml:"node_id"`
	FailureDomain FailureDomainConfig `toml:"failure_domain"`
}

type FailureDomainConfig struct {
	Region     string `toml:"region"`
	Datacenter string `toml:"datacenter"`
	Rack       string `toml:"rack"`
}

// GatewayConfig configures the stateless gateway process: its view of
// the CCS, its hedging budget, and the optional caches/event sinks.
type GatewayConfig struct {
	CCSAddr      string   `toml:"ccs_addr"`
	HedgeDelayMs int      `toml:"hedge_delay_ms"`
	RPCTimeoutMs int      `toml:"rpc_timeout_ms"`
	RedisAddr    string   `toml:"redis_addr"` // empty disables the bucket cache
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	NATSURL      string   `toml:"nats_url"`
	NATSSubject  string   `toml:"nats_subject"`
}

// CCSConfig configures the cluster configuration service process.
type CCSConfig struct {
	DataDir           string `toml:"data_dir"`
	BootstrapTopology string `toml:"bootstrap_topology"` // path to a JSON seed topology, optional
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

// Load reads and parses the TOML file at path, applying defaults first
// and environment overrides last.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address:             "0.0.0.0",
			Port:                9000,
			ShutdownTimeoutSecs: 30,
		},
		Storage: StorageConfig{
			BlockSize: 4 << 20,
			WAL: WALConfig{
				SyncOnWrite: true,
				MaxSizeMB:   1024,
			},
			Cache: CacheConfig{
				BlockCache: BlockCacheConfig{
					Enabled: true,
					SizeMB:  256,
					Policy:  "write_through",
				},
			},
			Metadata: MetadataConfig{
				SnapshotThreshold: 10000,
				SnapshotRetention: 3,
				CacheSize:         4096,
			},
		},
		Gateway: GatewayConfig{
			HedgeDelayMs: 50,
			RPCTimeoutMs: 5000,
			KafkaTopic:   "objio.cluster-health",
			NATSSubject:  "objio.topology",
		},
		CCS: CCSConfig{
			DataDir: "./ccs-data",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies OBJIO_-prefixed environment variable
// overrides to the config. Environment variables take precedence over
// TOML values, matching this codebase's established override pattern.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OBJIO_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OBJIO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("OBJIO_NODE_ID"); v != "" {
		cfg.OSD.NodeID = v
	}
	if v := os.Getenv("OBJIO_CCS_ADDR"); v != "" {
		cfg.Gateway.CCSAddr = v
	}
	if v := os.Getenv("OBJIO_REDIS_ADDR"); v != "" {
		cfg.Gateway.RedisAddr = v
	}
	if v := os.Getenv("OBJIO_DATA_DIR"); v != "" {
		cfg.CCS.DataDir = v
	}
	if v := os.Getenv("OBJIO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ListenAddr returns the server's bind address in host:port form.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
