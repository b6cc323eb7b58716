package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty or the file
// does not exist) over the defaults, loads .env when present and applies
// PREDICT_* overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PREDICT_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "PREDICT_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "PREDICT_POSTGRES_MAX_IDLE_CONNS")
	setDuration(&cfg.Postgres.ConnMaxLifetime, "PREDICT_POSTGRES_CONN_MAX_LIFETIME")
	setBool(&cfg.Postgres.RunMigrations, "PREDICT_POSTGRES_RUN_MIGRATIONS")

	// ── NATS ──
	setBool(&cfg.NATS.Enabled, "PREDICT_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "PREDICT_NATS_URL")

	// ── Core ──
	setInt(&cfg.Core.PersistChanSize, "PREDICT_PERSIST_CHAN_SIZE")
	setInt(&cfg.Core.ProjectionChanSize, "PREDICT_PROJECTION_CHAN_SIZE")
	setInt(&cfg.Core.PublishChanSize, "PREDICT_PUBLISH_CHAN_SIZE")
	setInt(&cfg.Core.IngestChanSize, "PREDICT_INGEST_CHAN_SIZE")
	setInt(&cfg.Core.LRUCapacity, "PREDICT_IDEMPOTENCY_LRU_CAPACITY")
	setInt64(&cfg.Core.GlobalCheckInterval, "PREDICT_GLOBAL_CHECK_INTERVAL")
	setDuration(&cfg.Core.SnapshotInterval, "PREDICT_SNAPSHOT_INTERVAL")
	setInt64(&cfg.Core.SnapshotMinEvents, "PREDICT_SNAPSHOT_MIN_EVENTS")

	// ── Persistence ──
	setInt(&cfg.Persistence.BatchSize, "PREDICT_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Persistence.FlushTimeout, "PREDICT_PERSIST_FLUSH_TIMEOUT")
	setInt(&cfg.Persistence.ReplayPageSize, "PREDICT_REPLAY_PAGE_SIZE")
	setInt(&cfg.Persistence.WarmKeys, "PREDICT_WARM_KEYS")

	// ── Server ──
	setStr(&cfg.Server.GRPCAddr, "PREDICT_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "PREDICT_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "PREDICT_METRICS_ADDR")

	// ── Oracle ──
	setStr(&cfg.Oracle.Publisher, "PREDICT_ORACLE_PUBLISHER")
	setDuration(&cfg.Oracle.MaxAge, "PREDICT_ORACLE_MAX_AGE")

	// ── Auth ──
	setStr(&cfg.Auth.Operator, "PREDICT_AUTH_OPERATOR")
	setDuration(&cfg.Auth.MaxSkew, "PREDICT_AUTH_MAX_SKEW")

	// ── Bridge ──
	setStr(&cfg.Bridge.Emitter, "PREDICT_BRIDGE_EMITTER")
	setInt(&cfg.Bridge.DedupCapacity, "PREDICT_BRIDGE_DEDUP_CAPACITY")
	setStr(&cfg.Bridge.DedupBackend, "PREDICT_BRIDGE_DEDUP_BACKEND")
	setDuration(&cfg.Bridge.DedupTTL, "PREDICT_BRIDGE_DEDUP_TTL")

	// ── Read model ──
	setStr(&cfg.ReadModel.Dir, "PREDICT_READMODEL_DIR")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PREDICT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICT_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.PriceCache, "PREDICT_REDIS_PRICE_CACHE")

	setStr(&cfg.LogLevel, "PREDICT_LOG_LEVEL")
}

// Each helper mutates the target only when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
