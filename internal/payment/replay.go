package payment

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayGuard remembers processed event ids so redelivered events are
// acknowledged without being forwarded twice.
type ReplayGuard interface {
	// Claim returns true when no other delivery of id is in flight or done.
	// The claim lapses on its own if it is never committed.
	Claim(ctx context.Context, id string) (bool, error)
	// Commit marks id as durably handled for the guard's full TTL.
	Commit(ctx context.Context, id string) error
	// Release forgets id so a later redelivery is processed again.
	Release(ctx context.Context, id string) error
}

// RedisReplayGuard implements ReplayGuard with SETNX. A claim holds
// "processing" for ClaimTTL; Commit rewrites it as "done" for TTL.
type RedisReplayGuard struct {
	Client   redis.Cmdable
	TTL      time.Duration
	ClaimTTL time.Duration
}

func (g RedisReplayGuard) key(id string) string {
	return "wh:stripe:" + id
}

// Claim implements ReplayGuard.
func (g RedisReplayGuard) Claim(ctx context.Context, id string) (bool, error) {
	ttl := g.ClaimTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return g.Client.SetNX(ctx, g.key(id), "processing", ttl).Result()
}

// Commit implements ReplayGuard.
func (g RedisReplayGuard) Commit(ctx context.Context, id string) error {
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return g.Client.Set(ctx, g.key(id), "done", ttl).Err()
}

// Release implements ReplayGuard.
func (g RedisReplayGuard) Release(ctx context.Context, id string) error {
	return g.Client.Del(ctx, g.key(id)).Err()
}
