package domain

import "time"

// User is the application's own account record, keyed by the stable
// GitHub account id. Profile fields are refreshed on every login.
type User struct {
	ID          int64     `json:"id,string"`
	ProviderID  string    `json:"provider_id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// ExternalIdentity is the read-only profile snapshot fetched from the
// provider during a login. It is never persisted as-is; it only feeds
// the user upsert.
type ExternalIdentity struct {
	ProviderID  string
	Login       string
	DisplayName string
	Email       string
	AvatarURL   string
}
