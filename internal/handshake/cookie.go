package handshake

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"
)

// CookieName scopes the handshake cookie to this app.
const CookieName = "__gallery_oauth_state"

// NewNonce returns a URL-safe random nonce for the OAuth state parameter.
func NewNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SetCookie writes the handshake cookie. Host-only, HttpOnly, Lax, path /.
func SetCookie(w http.ResponseWriter, state State, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    Encode(state),
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the handshake cookie. The state is single use: the
// callback clears it on success and failure alike to prevent replay.
func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest reads and decodes the handshake cookie, nil if absent or
// malformed.
func FromRequest(r *http.Request) *State {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil
	}
	return Decode(cookie.Value)
}
