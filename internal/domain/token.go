package domain

import "time"

// Credential kinds. Access and refresh tokens share a signing scheme but
// are never interchangeable.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TokenPair is issued wholesale at login and at every refresh; the old
// pair is superseded, never patched.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
