package repository

import (
	"context"
	"sync"
	"time"

	"github.com/undownding/ai-gallery/internal/domain"
)

var (
	_ UserRepository = (*MemoryUserRepo)(nil)
	_ Denylist       = (*MemoryDenylist)(nil)
)

// MemoryUserRepo is an in-memory UserRepository with the same
// one-row-per-provider-id guarantee as the Postgres implementation.
// Used by tests and the client test harness.
type MemoryUserRepo struct {
	mu         sync.Mutex
	byProvider map[string]*domain.User
	nextID     int64
	now        func() time.Time
}

// NewMemoryUserRepo constructs an empty repo.
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byProvider: map[string]*domain.User{},
		nextID:     1,
		now:        time.Now,
	}
}

func (r *MemoryUserRepo) Upsert(_ context.Context, identity domain.ExternalIdentity) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	if existing, ok := r.byProvider[identity.ProviderID]; ok {
		existing.Login = identity.Login
		existing.DisplayName = identity.DisplayName
		existing.Email = identity.Email
		existing.AvatarURL = identity.AvatarURL
		existing.UpdatedAt = now
		existing.LastLoginAt = now
		return *existing, nil
	}

	user := &domain.User{
		ID:          r.nextID,
		ProviderID:  identity.ProviderID,
		Login:       identity.Login,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		AvatarURL:   identity.AvatarURL,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLoginAt: now,
	}
	r.nextID++
	r.byProvider[identity.ProviderID] = user
	return *user, nil
}

func (r *MemoryUserRepo) GetByID(_ context.Context, userID int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byProvider {
		if u.ID == userID {
			return *u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

// MemoryDenylist is an in-memory Denylist for tests.
type MemoryDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewMemoryDenylist constructs an empty denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{revoked: map[string]time.Time{}}
}

func (d *MemoryDenylist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked[jti] = time.Now().Add(ttl)
	return nil
}

func (d *MemoryDenylist) IsRevoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.revoked[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(until) {
		delete(d.revoked, jti)
		return false, nil
	}
	return true, nil
}
