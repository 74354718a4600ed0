package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions tune the distributed mutex.
type RedisOptions struct {
	Prefix     string
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
}

// DefaultRedisOptions returns settings suitable for short status writes.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Prefix:     "receipts:lock:",
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Redis option errors.
var (
	ErrExpiryInvalid     = errors.New("lock: expiry must be greater than 0")
	ErrTriesInvalid      = errors.New("lock: tries must be at least 1")
	ErrRetryDelayInvalid = errors.New("lock: retry delay cannot be negative")
)

// Validate checks the options.
func (o RedisOptions) Validate() error {
	if o.Expiry <= 0 {
		return ErrExpiryInvalid
	}
	if o.Tries < 1 {
		return ErrTriesInvalid
	}
	if o.RetryDelay < 0 {
		return ErrRetryDelayInvalid
	}
	return nil
}

// Redis is a Locker backed by redsync, so several processes sharing one
// store can serialize on the same receipt.
type Redis struct {
	rs     *redsync.Redsync
	opts   RedisOptions
	logger *zap.Logger
}

// NewRedis builds a Redis locker over client.
func NewRedis(client redis.UniversalClient, opts RedisOptions, logger *zap.Logger) (*Redis, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger.Named("lock"),
	}, nil
}

// WithLock implements Locker.
func (r *Redis) WithLock(ctx context.Context, keys []string, fn func(context.Context) error) error {
	keys, err := normalize(keys, fn)
	if err != nil {
		return err
	}
	held := make([]*redsync.Mutex, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			m := held[i]
			if ok, err := m.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
				r.logger.Warn("failed to release lock",
					zap.String("lock_key", m.Name()), zap.Bool("unlock_ok", ok), zap.Error(err))
			}
		}
	}()
	for _, k := range keys {
		m := r.rs.NewMutex(r.opts.Prefix+k,
			redsync.WithExpiry(r.opts.Expiry),
			redsync.WithTries(r.opts.Tries),
			redsync.WithRetryDelay(r.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			return fmt.Errorf("acquire lock %s: %w", k, err)
		}
		held = append(held, m)
	}
	return fn(ctx)
}
