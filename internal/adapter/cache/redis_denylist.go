package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/undownding/ai-gallery/internal/repository"
)

const revokedPrefix = "auth:revoked:"

// RedisDenylist implements repository.Denylist backed by Redis. Entries
// carry a TTL equal to the refresh credential's remaining lifetime, so
// the set stays bounded without a sweeper.
type RedisDenylist struct {
	client redis.UniversalClient
}

var _ repository.Denylist = (*RedisDenylist)(nil)

// NewRedisDenylist constructs a Redis-backed denylist.
func NewRedisDenylist(client redis.UniversalClient) *RedisDenylist {
	return &RedisDenylist{client: client}
}

// Revoke marks the refresh credential's jti as unusable.
func (d *RedisDenylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		// Already expired; the verifier rejects it on its own.
		return nil
	}
	if err := d.client.Set(ctx, revokedPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

// IsRevoked reports whether the jti has been denylisted.
func (d *RedisDenylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := d.client.Get(ctx, revokedPrefix+jti).Err(); err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("lookup revocation: %w", err)
	}
	return true, nil
}
