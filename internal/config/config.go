// Package config loads process configuration from the environment, an
// optional .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// SPEND_STORAGE_BACKEND for storage.backend.
const EnvPrefix = "SPEND"

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Lock types.
const (
	LockNone  = "none"
	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the validated process configuration.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Storage  StorageConfig
	Lock     string
	Ledger   LedgerConfig
	LLM      LLMConfig
	Kafka    KafkaConfig
	BigQuery BigQueryConfig
	Snapshot SnapshotConfig
	Exports  ExportsConfig
}

type ServerConfig struct {
	Port            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type StorageConfig struct {
	Backend             string
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	RedisKeyPrefix      string
	PostgresDSN         string
	FirestoreProject    string
	FirestoreCollection string
}

type LedgerConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
}

type LLMConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type BigQueryConfig struct {
	Project string
	Dataset string
}

type SnapshotConfig struct {
	Bucket string
}

type ExportsConfig struct {
	Workers    int
	Buffer     int
	MaxRetries int
}

// LoadDotEnv loads variables from the given files, or .env when none are
// given. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("LoadDotEnv: %s: %w", f, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment bindings.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_key_prefix", "ledger:doc:")
	v.SetDefault("storage.firestore_collection", "transactions")
	v.SetDefault("lock", LockLocal)
	v.SetDefault("ledger.max_attempts", 5)
	v.SetDefault("ledger.retry_base", 20*time.Millisecond)
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("kafka.topic", "transaction_recorded")
	v.SetDefault("bigquery.dataset", "finance")
	v.SetDefault("exports.workers", 5)
	v.SetDefault("exports.buffer", 100)
	v.SetDefault("exports.max_retries", 3)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept from the original deployment.
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("bigquery.project", EnvPrefix+"_BIGQUERY_PROJECT", "GOOGLE_CLOUD_PROJECT")
	_ = v.BindEnv("snapshot.bucket", EnvPrefix+"_SNAPSHOT_BUCKET", "GCS_BUCKET")

	return v
}

// Load reads .env, then the environment, and validates the result.
func Load() (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	return FromViper(NewViper())
}

// FromViper builds and validates a Config from v.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			CORSOrigins:     splitList(v.GetString("server.cors_origins")),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Storage: StorageConfig{
			Backend:             strings.ToLower(strings.TrimSpace(v.GetString("storage.backend"))),
			RedisAddr:           v.GetString("storage.redis_addr"),
			RedisPassword:       v.GetString("storage.redis_password"),
			RedisDB:             v.GetInt("storage.redis_db"),
			RedisKeyPrefix:      v.GetString("storage.redis_key_prefix"),
			PostgresDSN:         v.GetString("storage.postgres_dsn"),
			FirestoreProject:    v.GetString("storage.firestore_project"),
			FirestoreCollection: v.GetString("storage.firestore_collection"),
		},
		Lock: strings.ToLower(strings.TrimSpace(v.GetString("lock"))),
		Ledger: LedgerConfig{
			MaxAttempts: v.GetInt("ledger.max_attempts"),
			RetryBase:   v.GetDuration("ledger.retry_base"),
		},
		LLM: LLMConfig{
			APIKey:  v.GetString("llm.api_key"),
			Model:   v.GetString("llm.model"),
			Timeout: v.GetDuration("llm.timeout"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		BigQuery: BigQueryConfig{
			Project: v.GetString("bigquery.project"),
			Dataset: v.GetString("bigquery.dataset"),
		},
		Snapshot: SnapshotConfig{
			Bucket: v.GetString("snapshot.bucket"),
		},
		Exports: ExportsConfig{
			Workers:    v.GetInt("exports.workers"),
			Buffer:     v.GetInt("exports.buffer"),
			MaxRetries: v.GetInt("exports.max_retries"),
		},
	}

	if cfg.Storage.FirestoreProject == "" {
		cfg.Storage.FirestoreProject = cfg.BigQuery.Project
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	case BackendFirestore:
		if c.Storage.FirestoreProject == "" {
			errs = append(errs, errors.New("storage.firestore_project is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}

	switch c.Lock {
	case LockNone, LockLocal:
	case LockRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for the redis lock"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock %q", c.Lock))
	}

	if c.Ledger.MaxAttempts < 1 {
		errs = append(errs, errors.New("ledger.max_attempts must be at least 1"))
	}
	if c.Ledger.RetryBase < 0 {
		errs = append(errs, errors.New("ledger.retry_base must not be negative"))
	}
	if c.Exports.Workers < 1 {
		errs = append(errs, errors.New("exports.workers must be at least 1"))
	}
	if c.Exports.Buffer < 0 {
		errs = append(errs, errors.New("exports.buffer must not be negative"))
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
