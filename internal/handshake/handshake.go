// Package handshake packs the anti-forgery state that binds an OAuth
// callback to the login attempt that started it. The value rides an
// HttpOnly cookie, so the codec is reversible packing, not crypto.
package handshake

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// State is round-tripped through the handshake cookie. The nonce is also
// sent to the provider as the OAuth state parameter; both copies must
// match on callback.
type State struct {
	Nonce      string `json:"nonce"`
	ReturnPath string `json:"return_path"`
}

// Encode packs the state into an opaque cookie-safe string.
func Encode(s State) string {
	raw, err := json.Marshal(s)
	if err != nil {
		// State is two strings; marshal cannot fail in practice.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode unpacks a cookie value. Malformed input is a routine adversarial
// or expired-cookie case, so Decode returns nil instead of an error.
func Decode(value string) *State {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if s.Nonce == "" {
		return nil
	}
	return &s
}
