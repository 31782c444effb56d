// Package app builds the runtime object graph from a Config. It is shared by
// the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/dvloznov/spend-assistant/internal/config"
	"github.com/dvloznov/spend-assistant/internal/events"
	"github.com/dvloznov/spend-assistant/internal/events/kafka"
	bqexport "github.com/dvloznov/spend-assistant/internal/infra/bigquery"
	fsstore "github.com/dvloznov/spend-assistant/internal/infra/firestore"
	"github.com/dvloznov/spend-assistant/internal/infra/postgres"
	redisstore "github.com/dvloznov/spend-assistant/internal/infra/redis"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	ledgermem "github.com/dvloznov/spend-assistant/internal/ledger/inmemory"
	"github.com/dvloznov/spend-assistant/internal/llm"
	"github.com/dvloznov/spend-assistant/internal/lock"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// App holds the long-lived components and closes them in reverse order.
type App struct {
	Config config.Config
	Log    zerolog.Logger

	Ledger *ledger.Service
	Chat   llm.ChatModel
	Sink   events.Sink

	// Exporter is set when BigQuery is configured.
	Exporter *bqexport.EntryExporter

	closers []func() error
}

// New opens the ledger backend, the event sinks and the chat model.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if err := a.openLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openSinks(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openChat(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// NewLedgerOnly opens just the ledger backend, for commands that never chat
// or export.
func NewLedgerOnly(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.openLedger(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything New opened.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openLedger(ctx context.Context) error {
	cfg := a.Config
	var (
		store ledger.DocumentStore
		rdb   goredislib.UniversalClient
	)

	redisClient := func() goredislib.UniversalClient {
		if rdb == nil {
			rdb = goredislib.NewClient(&goredislib.Options{
				Addr:     cfg.Storage.RedisAddr,
				Password: cfg.Storage.RedisPassword,
				DB:       cfg.Storage.RedisDB,
			})
			a.onClose(rdb.Close)
		}
		return rdb
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		store = ledgermem.NewStore()
	case config.BackendRedis:
		client := redisClient()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("openLedger: redis ping: %w", err)
		}
		store = redisstore.NewStore(client, cfg.Storage.RedisKeyPrefix)
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("openLedger: %w", err)
		}
		a.onClose(db.Close)
		store = postgres.NewStore(db)
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.Storage.FirestoreProject)
		if err != nil {
			return fmt.Errorf("openLedger: firestore client: %w", err)
		}
		a.onClose(client.Close)
		store = fsstore.NewStore(client, cfg.Storage.FirestoreCollection)
	default:
		return fmt.Errorf("openLedger: unknown backend %q", cfg.Storage.Backend)
	}

	opts := []ledger.Option{
		ledger.WithLogger(a.Log),
		ledger.WithMaxAttempts(cfg.Ledger.MaxAttempts),
		ledger.WithRetryBase(cfg.Ledger.RetryBase),
	}
	switch cfg.Lock {
	case config.LockLocal:
		opts = append(opts, ledger.WithLocker(lock.NewKeyedMutex()))
	case config.LockRedis:
		opts = append(opts, ledger.WithLocker(redisstore.NewLocker(redisClient(), redisstore.DefaultLockOptions(), a.Log)))
	}

	a.Ledger = ledger.NewService(store, opts...)
	a.Log.Info().
		Str("backend", cfg.Storage.Backend).
		Str("lock", cfg.Lock).
		Msg("Ledger opened")
	return nil
}

func (a *App) openSinks(ctx context.Context) error {
	cfg := a.Config
	sinks := events.Fanout{events.LogSink{Log: a.Log}}

	if len(cfg.Kafka.Brokers) > 0 {
		p := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.onClose(p.Close)
		sinks = append(sinks, p)
		a.Log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka export enabled")
	}

	if cfg.BigQuery.Project != "" {
		x, err := bqexport.NewEntryExporter(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
		if err != nil {
			return fmt.Errorf("openSinks: %w", err)
		}
		a.onClose(x.Close)
		a.Exporter = x
		sinks = append(sinks, x)
		a.Log.Info().Str("project", cfg.BigQuery.Project).Str("dataset", cfg.BigQuery.Dataset).Msg("BigQuery export enabled")
	}

	a.Sink = sinks
	return nil
}

func (a *App) openChat(ctx context.Context) error {
	cfg := a.Config
	chat, err := llm.NewGeminiChat(ctx, llm.GeminiConfig{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, a.Log)
	if err != nil {
		return fmt.Errorf("openChat: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		a.Log.Warn().Msg("No Gemini API key configured - chat replies are disabled")
		a.Chat = chat
		return nil
	}
	a.Chat = llm.NewGuarded("gemini", chat, llm.DefaultBreakerConfig(), a.Log)
	return nil
}
