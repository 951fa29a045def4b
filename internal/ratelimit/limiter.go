package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Decision is the outcome of a single rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	Reset     time.Time
}

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Store wraps a ulule limiter with a fixed rate.
type Store struct {
	limiter *limiter.Limiter
}

// NewMemory builds an in-process limiter from a formatted rate such as "30-M".
func NewMemory(rate string) (*Store, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	return &Store{limiter: limiter.New(memory.NewStoreWithOptions(limiter.StoreOptions{
		Prefix:          "relay_ratelimit",
		CleanUpInterval: time.Minute,
	}), parsed)}, nil
}

// NewRedis builds a limiter shared across replicas through Redis.
func NewRedis(client redis.UniversalClient, rate string) (*Store, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "relay_ratelimit"})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return &Store{limiter: limiter.New(store, parsed)}, nil
}

// Allow consumes one token for key.
func (s *Store) Allow(ctx context.Context, key string) (Decision, error) {
	lctx, err := s.limiter.Get(ctx, key)
	if err != nil {
		return Decision{Allowed: true}, err
	}
	return Decision{
		Allowed:   !lctx.Reached,
		Limit:     lctx.Limit,
		Remaining: lctx.Remaining,
		Reset:     time.Unix(lctx.Reset, 0),
	}, nil
}
