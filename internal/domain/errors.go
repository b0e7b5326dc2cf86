package domain

import "errors"

var (
	// ErrHandshakeInvalid signals a missing, forged, or expired handshake
	// cookie. Rejected before any call to the provider.
	ErrHandshakeInvalid = errors.New("auth: handshake state missing or forged")
	// ErrOAuthDenied means the user declined the grant at the provider.
	ErrOAuthDenied = errors.New("auth: provider access denied")
	// ErrOAuthExchangeFailed means the provider rejected the code
	// (expired or already used). The login must be restarted.
	ErrOAuthExchangeFailed = errors.New("auth: code exchange rejected")
	// ErrOAuthUnavailable wraps transport failures talking to the provider.
	ErrOAuthUnavailable = errors.New("auth: provider unavailable")
	// ErrProfileFetch means the provider token worked but the profile
	// endpoints did not.
	ErrProfileFetch = errors.New("auth: profile fetch failed")
	// ErrCredentialInvalid covers malformed tokens and bad signatures.
	ErrCredentialInvalid = errors.New("auth: credential invalid")
	// ErrCredentialExpired is returned once now >= expiresAt.
	ErrCredentialExpired = errors.New("auth: credential expired")
	// ErrCredentialKindMismatch is returned when an access token is
	// presented where a refresh token is expected, or vice versa.
	ErrCredentialKindMismatch = errors.New("auth: credential kind mismatch")
	// ErrRefreshRejected covers invalid, expired, or revoked refresh
	// credentials presented to the refresh endpoint.
	ErrRefreshRejected = errors.New("auth: refresh rejected")
	// ErrUserNotFound signals a valid credential whose subject no longer
	// resolves to a user.
	ErrUserNotFound = errors.New("auth: user not found")
)
