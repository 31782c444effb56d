package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// LockOptions tunes the distributed lock.
type LockOptions struct {
	// Expiry is how long the lock is held if the holder dies.
	Expiry time.Duration
	// Tries is how many times acquisition is attempted.
	Tries int
	// RetryDelay is the wait between attempts.
	RetryDelay time.Duration
	// Prefix namespaces lock keys.
	Prefix string
}

// DefaultLockOptions suits a single ledger read-modify-write.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     5 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
		Prefix:     "ledger:lock:",
	}
}

// Locker serializes ledger writers for the same user across processes.
type Locker struct {
	rs   *redsync.Redsync
	opts LockOptions
	log  zerolog.Logger
}

// NewLocker creates a Locker backed by rdb.
func NewLocker(rdb goredislib.UniversalClient, opts LockOptions, log zerolog.Logger) *Locker {
	def := DefaultLockOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.Prefix == "" {
		opts.Prefix = def.Prefix
	}

	return &Locker{
		rs:   redsync.New(goredis.NewPool(rdb)),
		opts: opts,
		log:  log,
	}
}

// Lock implements ledger.Locker.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.opts.Prefix + key
	mutex := l.rs.NewMutex(
		lockKey,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("Lock: acquire %s: %w", lockKey, err)
	}

	return func() {
		// The caller's context may already be done; release regardless.
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			l.log.Warn().Err(err).Str("lock_key", lockKey).Bool("unlock_ok", ok).Msg("Failed to release ledger lock")
		}
	}, nil
}

// Compile-time check that Locker implements ledger.Locker.
var _ ledger.Locker = (*Locker)(nil)
