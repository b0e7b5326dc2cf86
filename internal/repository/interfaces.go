package repository

import (
	"context"
	"time"

	"github.com/undownding/ai-gallery/internal/domain"
)

// UserRepository exposes persistence for gallery users. Upsert is the
// only writer this core performs: users are created on first login and
// refreshed on every subsequent one, never deleted here.
type UserRepository interface {
	// Upsert resolves the external identity to a local user, keyed
	// strictly by provider id. Atomic with respect to concurrent logins
	// for the same identity.
	Upsert(ctx context.Context, identity domain.ExternalIdentity) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
}

// Denylist records revoked refresh credentials by jti. Valid credentials
// stay stateless; only revocations (rotation, logout) are written, with a
// TTL matching the credential's remaining lifetime.
type Denylist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}
