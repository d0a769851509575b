package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Endpoint is one configured RPC provider for a chain. Priority is its
// position in the env list (lower = preferred).
type Endpoint struct {
	URL      string
	Name     string
	Priority int
}

// ChainConfig carries the static per-chain parameters the scanners need.
type ChainConfig struct {
	Name          string
	Endpoints     []Endpoint
	BlocksPerHour uint64
}

type Config struct {
	App struct {
		Environment string
		LogLevel    string
		ListenAddr  string
		NumWorkers  int
		BufferSize  int
	}

	Chains map[string]ChainConfig

	Pool struct {
		MaxFailures   int
		Cooldown      time.Duration
		LatencyWeight float64
	}

	Scan struct {
		MaxAttempts        int
		HolderDepthBlocks  uint64
		DAppDepthBlocks    uint64
		HolderSeedChunk    uint64
		FlowSeedChunk      uint64
		ActivitySeedChunk  uint64
		MinChunk           uint64
		MaxChunk           uint64
		BalanceBatchSize   int
		ActivityTxCap      int
		CallTimeout        time.Duration
		LogTimeout         time.Duration
		RateLimitBackoff   time.Duration
		TransientBackoff   time.Duration
		MaxChunkFailures   int
	}

	ClickHouse struct {
		Host          string
		Port          int
		User          string
		Password      string
		Database      string
		FlushInterval time.Duration
	}

	KnownContracts map[string]string
}

// Per-chain defaults; overridable with <CHAIN>_BLOCKS_PER_HOUR.
var defaultBlocksPerHour = map[string]uint64{
	"ethereum": 300,
	"bsc":      1200,
	"base":     1800,
	"polygon":  1650,
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.App.Environment = getEnvOrDefault("APP_ENV", "production")
	cfg.App.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.App.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	cfg.App.NumWorkers = getEnvAsIntOrDefault("NUM_WORKERS", 5)
	cfg.App.BufferSize = getEnvAsIntOrDefault("BUFFER_SIZE", 1000)

	cfg.Pool.MaxFailures = getEnvAsIntOrDefault("POOL_MAX_FAILURES", 3)
	cfg.Pool.Cooldown = time.Duration(getEnvAsIntOrDefault("POOL_COOLDOWN_SECS", 300)) * time.Second
	cfg.Pool.LatencyWeight = 0.3

	cfg.Scan.MaxAttempts = getEnvAsIntOrDefault("SCAN_MAX_ATTEMPTS", 3)
	cfg.Scan.HolderDepthBlocks = uint64(getEnvAsIntOrDefault("HOLDER_DEPTH_BLOCKS", 50000))
	cfg.Scan.DAppDepthBlocks = uint64(getEnvAsIntOrDefault("DAPP_DEPTH_BLOCKS", 10000))
	cfg.Scan.HolderSeedChunk = uint64(getEnvAsIntOrDefault("HOLDER_SEED_CHUNK", 2000))
	cfg.Scan.FlowSeedChunk = uint64(getEnvAsIntOrDefault("FLOW_SEED_CHUNK", 2000))
	cfg.Scan.ActivitySeedChunk = uint64(getEnvAsIntOrDefault("ACTIVITY_SEED_CHUNK", 500))
	cfg.Scan.MinChunk = uint64(getEnvAsIntOrDefault("SCAN_MIN_CHUNK", 50))
	cfg.Scan.MaxChunk = uint64(getEnvAsIntOrDefault("SCAN_MAX_CHUNK", 10000))
	cfg.Scan.BalanceBatchSize = getEnvAsIntOrDefault("BALANCE_BATCH_SIZE", 50)
	cfg.Scan.ActivityTxCap = getEnvAsIntOrDefault("ACTIVITY_TX_CAP", 100)
	cfg.Scan.CallTimeout = time.Duration(getEnvAsIntOrDefault("CALL_TIMEOUT_SECS", 4)) * time.Second
	cfg.Scan.LogTimeout = time.Duration(getEnvAsIntOrDefault("LOG_TIMEOUT_SECS", 8)) * time.Second
	cfg.Scan.RateLimitBackoff = time.Duration(getEnvAsIntOrDefault("RATE_LIMIT_BACKOFF_MS", 1200)) * time.Millisecond
	cfg.Scan.TransientBackoff = time.Duration(getEnvAsIntOrDefault("TRANSIENT_BACKOFF_MS", 300)) * time.Millisecond
	cfg.Scan.MaxChunkFailures = getEnvAsIntOrDefault("SCAN_MAX_CHUNK_FAILURES", 5)

	cfg.ClickHouse.Host = os.Getenv("CLICKHOUSE_HOST")
	cfg.ClickHouse.Port = getEnvAsIntOrDefault("CLICKHOUSE_PORT", 9000)
	cfg.ClickHouse.User = getEnvOrDefault("CLICKHOUSE_USER", "default")
	cfg.ClickHouse.Password = os.Getenv("CLICKHOUSE_PASSWORD")
	cfg.ClickHouse.Database = getEnvOrDefault("CLICKHOUSE_DB", "default")
	cfg.ClickHouse.FlushInterval = time.Duration(getEnvAsIntOrDefault("CLICKHOUSE_FLUSH_SECS", 5)) * time.Second

	cfg.Chains = loadChains()
	cfg.KnownContracts = loadKnownContracts()

	return cfg, nil
}

// loadChains reads CHAINS (comma-separated chain names) and, per chain,
// <CHAIN>_RPC_URLS and optional <CHAIN>_RPC_NAMES. Empty URL slots are
// dropped, not treated as valid-but-broken endpoints.
func loadChains() map[string]ChainConfig {
	chains := make(map[string]ChainConfig)
	for _, name := range splitList(getEnvOrDefault("CHAINS", "ethereum")) {
		prefix := strings.ToUpper(name)
		urls := splitList(os.Getenv(prefix + "_RPC_URLS"))
		names := splitList(os.Getenv(prefix + "_RPC_NAMES"))

		cc := ChainConfig{Name: name}
		prio := 0
		for i, u := range urls {
			if u == "" {
				continue
			}
			ep := Endpoint{URL: u, Priority: prio}
			if i < len(names) && names[i] != "" {
				ep.Name = names[i]
			} else {
				ep.Name = hostOf(u)
			}
			cc.Endpoints = append(cc.Endpoints, ep)
			prio++
		}

		cc.BlocksPerHour = uint64(getEnvAsIntOrDefault(prefix+"_BLOCKS_PER_HOUR",
			int(defaultBlocksPerHourOf(name))))
		chains[name] = cc
	}
	return chains
}

// loadKnownContracts parses KNOWN_CONTRACTS entries of the form
// "0xaddr=Uniswap V2 Router;0xaddr2=1inch".
func loadKnownContracts() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv("KNOWN_CONTRACTS"), ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

func defaultBlocksPerHourOf(chain string) uint64 {
	if v, ok := defaultBlocksPerHour[chain]; ok {
		return v
	}
	return 300
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func hostOf(rawURL string) string {
	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
