// Package directory implements the shared directory described in the
// presence plane's data model: the durable-ish view of vnode ownership,
// vnode load, and the user-to-instance routing cache, backed by Redis.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client the directory needs.
// Narrowing the interface keeps the fake implementation in tests honest
// about what the directory actually calls.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	HSet(ctx context.Context, key string, fields ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
}

// ClientOptions configures the Redis connection used to back the
// directory.
type ClientOptions struct {
	Host              string
	Port              int
	Password          string
	DB                int
	MaxRetries        int
	RetryBackOffLimit time.Duration
}

// Validate checks all fields are set to sane values before a client is
// dialed, mirroring the fluent-options Validate pattern the coordinator
// and presence node use for their own option structs.
func (o *ClientOptions) Validate() error {
	if o.Host == "" {
		return ErrInvalidRedisHost
	}
	if o.Port <= 0 {
		return ErrInvalidRedisPort
	}
	if o.DB < 0 {
		return ErrInvalidRedisDB
	}
	if o.MaxRetries < 0 {
		return ErrInvalidRedisMaxRetries
	}
	if o.RetryBackOffLimit <= 0 {
		return ErrInvalidRedisRetryBackoff
	}
	return nil
}

// NewRedisClient dials Redis, retrying with exponential backoff until
// MaxRetries is exhausted or RetryBackOffLimit elapses.
func NewRedisClient(ctx context.Context, opts *ClientOptions) (RedisClient, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	attempts := 0

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = opts.RetryBackOffLimit

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	clientOpts := &redis.Options{
		Addr: addr,
		DB:   opts.DB,
	}
	if opts.Password != "" {
		clientOpts.Password = opts.Password
	}

	client := redis.NewClient(clientOpts)

	for {
		if err := client.Ping(ctx).Err(); err != nil {
			lastErr = err
			attempts++
			if attempts > opts.MaxRetries {
				lastErr = fmt.Errorf("failed to connect to redis after %d attempts: %w", attempts, err)
				break
			}
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				lastErr = fmt.Errorf("failed to connect to redis after %d attempts: %w", attempts, err)
				break
			}
			time.Sleep(wait)
			continue
		}
		retry.Reset()
		lastErr = nil
		break
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return client, nil
}
