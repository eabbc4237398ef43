package allocator

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix       = "trip_seq:"
	maxWatchRetries = 5
)

// RedisAllocator keeps one counter per year in Redis and allocates with
// INCR, so every process sharing the server draws from the same sequence.
// The counter outlives deletions and restarts.
type RedisAllocator struct {
	c   *redis.Client
	src Source

	mu     sync.Mutex
	seeded map[int]bool
}

// NewRedisAllocator connects to the Redis server at addr.
func NewRedisAllocator(addr string, src Source) *RedisAllocator {
	return &RedisAllocator{
		c:      redis.NewClient(&redis.Options{Addr: addr}),
		src:    src,
		seeded: make(map[int]bool),
	}
}

func yearKey(year int) string {
	return keyPrefix + strconv.Itoa(year)
}

func (a *RedisAllocator) Next(ctx context.Context, year int) (int, error) {
	if err := a.seed(ctx, year); err != nil {
		return 0, err
	}
	n, err := a.c.Incr(ctx, yearKey(year)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "redis incr")
	}
	return int(n), nil
}

// seed creates the year's counter from the stored maximum if it does not
// exist yet. SETNX leaves a counter another process created untouched.
func (a *RedisAllocator) seed(ctx context.Context, year int) error {
	a.mu.Lock()
	done := a.seeded[year]
	a.mu.Unlock()
	if done {
		return nil
	}

	n, err := a.src.MaxTripSequence(ctx, year)
	if err != nil {
		return errors.Wrapf(err, "seed sequence for %d", year)
	}
	if err := a.c.SetNX(ctx, yearKey(year), n, 0).Err(); err != nil {
		return errors.Wrap(err, "redis setnx")
	}

	a.mu.Lock()
	a.seeded[year] = true
	a.mu.Unlock()
	return nil
}

// Resync raises the counter to the stored maximum under WATCH so a
// concurrent INCR is never rolled back.
func (a *RedisAllocator) Resync(ctx context.Context, year int) error {
	stored, err := a.src.MaxTripSequence(ctx, year)
	if err != nil {
		return errors.Wrapf(err, "resync sequence for %d", year)
	}
	key := yearKey(year)
	raise := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Int()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur >= stored {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, stored, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err = a.c.Watch(ctx, raise, key)
		if err != redis.TxFailedErr {
			break
		}
	}
	if err != nil {
		return errors.Wrap(err, "redis resync")
	}
	return nil
}

// Ping checks the Redis connection.
func (a *RedisAllocator) Ping(ctx context.Context) error {
	return errors.Wrap(a.c.Ping(ctx).Err(), "redis ping")
}

// Close releases the Redis connection pool.
func (a *RedisAllocator) Close() error {
	return a.c.Close()
}
