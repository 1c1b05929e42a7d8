package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupePrefix = "webhook:"
	// ClaimTTL bounds an unconfirmed claim. It only has to outlive one
	// notification being handled.
	ClaimTTL = 2 * time.Minute
)

// Deduplicator remembers processed keys for a TTL using SET NX.
type Deduplicator struct {
	client   *redis.Client
	ttl      time.Duration
	claimTTL time.Duration
}

func NewDeduplicator(client *redis.Client, ttl time.Duration) *Deduplicator {
	return &Deduplicator{client: client, ttl: ttl, claimTTL: min(ClaimTTL, ttl)}
}

// Claim returns true the first time key is seen. The claim lapses after
// ClaimTTL unless confirmed.
func (d *Deduplicator) Claim(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, dedupePrefix+key, time.Now().UTC().Format(time.RFC3339), d.claimTTL).Result()
}

// Confirm keeps a claimed key for the full TTL once its work is durable.
func (d *Deduplicator) Confirm(ctx context.Context, key string) error {
	return d.client.Expire(ctx, dedupePrefix+key, d.ttl).Err()
}

// Release forgets key so a redelivery is processed again.
func (d *Deduplicator) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, dedupePrefix+key).Err()
}
