package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Built once in main from the
// environment so the rest of the code receives plain values, never os.Getenv.
type Config struct {
	Addr        string
	DatabaseURL string

	Redis RedisConfig

	// Kafka brokers for downstream tier/attestation notifications. Empty
	// disables publishing.
	KafkaBrokers []string

	Ledger LedgerConfig

	// Hex or raw 32-byte key used to encrypt attestation signing keys at
	// rest. Empty means an ephemeral key (dev only).
	AttestationMasterKey string

	// Path to the static DAG declaration consumed at startup.
	DAGPath string

	SyncInterval  time.Duration
	SyncBatchSize int
}

// RedisConfig mirrors the platform redis client options. URL empty means
// Redis is not configured and memory-backed fallbacks are used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// LedgerConfig selects the ledger bridge implementation.
type LedgerConfig struct {
	BaseURL string
	UseMock bool
	Timeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:        envOr("OPS_ADDR", ":8080"),
		DatabaseURL: os.Getenv("OPS_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("OPS_REDIS_URL"),
			PoolSize:     envInt("OPS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("OPS_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("OPS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("OPS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("OPS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Ledger: LedgerConfig{
			BaseURL: envOr("OPS_LEDGER_BASE_URL", "http://localhost:8006"),
			UseMock: os.Getenv("OPS_LEDGER_MOCK") == "true",
			Timeout: envDuration("OPS_LEDGER_TIMEOUT", 30*time.Second),
		},
		AttestationMasterKey: os.Getenv("OPS_ATTESTATION_MASTER_KEY"),
		DAGPath:              envOr("OPS_DAG_PATH", "governance/bishop_dag.yaml"),
		SyncInterval:         envDuration("OPS_LEDGER_SYNC_INTERVAL", 30*time.Second),
		SyncBatchSize:        envInt("OPS_LEDGER_SYNC_BATCH", 100),
	}

	if brokers := os.Getenv("OPS_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
