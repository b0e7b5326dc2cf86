// Package api holds the wire types shared by the auth server and the
// client SDK.
package api

import "time"

// User is the public projection of a gallery account.
type User struct {
	ID          int64     `json:"id,string"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsAdmin     bool      `json:"is_admin"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// TokenPair is the credential pair issued at login and refresh. Both
// halves are replaced together, never individually.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginResult is returned by the callback relay and the refresh endpoint.
type LoginResult struct {
	User      User      `json:"user"`
	TokenPair TokenPair `json:"token_pair"`
}

// Relay message contract between the server callback and the window (or
// local relay listener) that initiated the login.
const (
	MessageType   = "gallery:oauth"
	StatusSuccess = "success"
	StatusError   = "error"
)

// RelayMessage is the single structured message the callback hands back
// to the initiating context. Exactly one of Result or Reason is set.
type RelayMessage struct {
	Type   string       `json:"type"`
	Status string       `json:"status"`
	Result *LoginResult `json:"result,omitempty"`
	Reason string       `json:"reason,omitempty"`
}
