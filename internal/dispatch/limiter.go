package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"call-insights/pkg/utils"
)

// Limiter admits background tasks. Release must be called exactly once.
type Limiter interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// NoLimit admits everything.
type NoLimit struct{}

func (NoLimit) Acquire(context.Context) (func(), error) { return func() {}, nil }

// RedisLimiter caps concurrently running tasks across every API instance using a shared counter.
// Slots carry a TTL so a crashed instance cannot leak them forever.
type RedisLimiter struct {
	rdb     redis.Scripter
	key     string
	limit   int
	ttl     time.Duration
	maxWait time.Duration
	log     *slog.Logger
}

func NewRedisLimiter(rdb redis.Scripter, key string, limit int, ttl time.Duration, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}
	return &RedisLimiter{rdb: rdb, key: key, limit: limit, ttl: ttl, maxWait: ttl, log: log}
}

// Acquire polls with capped exponential backoff until a slot frees up or maxWait passes.
func (l *RedisLimiter) Acquire(ctx context.Context) (func(), error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = l.maxWait

	op := func() error {
		ok, err := utils.AcquireConcurrencyCap(ctx, l.rdb, l.key, l.limit, l.ttl)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errSlotBusy
		}
		return nil
	}
	notify := func(_ error, wait time.Duration) {
		l.log.DebugContext(ctx, "waiting for pipeline slot", "key", l.key, "wait_ms", wait.Milliseconds())
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}

	return func() {
		// Release even if the task's context is gone.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := utils.ReleaseConcurrencyCap(rctx, l.rdb, l.key); err != nil {
			l.log.WarnContext(ctx, "failed to release pipeline slot", "key", l.key, "error", err)
		}
	}, nil
}

type slotBusyError struct{}

func (slotBusyError) Error() string { return "all pipeline slots are busy" }

var errSlotBusy error = slotBusyError{}
