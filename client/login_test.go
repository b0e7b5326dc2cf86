package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/undownding/ai-gallery/api"
)

// relayTo plays the server callback's part: it extracts the flow's
// return path from the authorize URL and redirects the "browser" there
// with the encoded message attached.
func relayTo(t *testing.T, loginURL string, msg api.RelayMessage) {
	t.Helper()
	parsed, err := url.Parse(loginURL)
	require.NoError(t, err)
	relayURL := parsed.Query().Get("redirect_to")
	require.NotEmpty(t, relayURL)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(raw)

	resp, err := http.Get(relayURL + "?payload=" + payload)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func successMessage(t *testing.T) api.RelayMessage {
	t.Helper()
	return api.RelayMessage{
		Type:   api.MessageType,
		Status: api.StatusSuccess,
		Result: &api.LoginResult{
			User: api.User{ID: 1, Login: "octo"},
			TokenPair: api.TokenPair{
				AccessToken:      fakeToken(t, 1),
				AccessExpiresAt:  time.Now().Add(time.Hour),
				RefreshToken:     "fresh-refresh",
				RefreshExpiresAt: time.Now().Add(24 * time.Hour),
			},
		},
	}
}

func TestLoginFlowSuccess(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager("http://auth.local", store, nil, zap.NewNop())

	var notified *api.User
	m.Subscribe(func(u *api.User) { notified = u })

	flow := &LoginFlow{
		Manager: m,
		OpenBrowser: func(loginURL string) error {
			assert.True(t, strings.HasPrefix(loginURL, "http://auth.local/auth/github?redirect_to="))
			go relayTo(t, loginURL, successMessage(t))
			return nil
		},
		Timeout: 5 * time.Second,
	}

	user, err := flow.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "octo", user.Login)

	saved, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "fresh-refresh", saved.TokenPair.RefreshToken)

	require.NotNil(t, notified)
	assert.Equal(t, "octo", notified.Login)
}

func TestLoginFlowErrorRelay(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager("http://auth.local", store, nil, zap.NewNop())

	flow := &LoginFlow{
		Manager: m,
		OpenBrowser: func(loginURL string) error {
			go relayTo(t, loginURL, api.RelayMessage{
				Type:   api.MessageType,
				Status: api.StatusError,
				Reason: "access_denied",
			})
			return nil
		},
		Timeout: 5 * time.Second,
	}

	_, err := flow.Run(context.Background())
	var loginErr *LoginError
	require.ErrorAs(t, err, &loginErr)
	assert.Equal(t, "access_denied", loginErr.Reason)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestLoginFlowIgnoresForgedMessages(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager("http://auth.local", store, nil, zap.NewNop())

	flow := &LoginFlow{
		Manager: m,
		OpenBrowser: func(loginURL string) error {
			go func() {
				parsed, err := url.Parse(loginURL)
				require.NoError(t, err)
				relayURL := parsed.Query().Get("redirect_to")

				// Wrong path: the sender does not know the flow token.
				base, err := url.Parse(relayURL)
				require.NoError(t, err)
				forged := base.Scheme + "://" + base.Host + "/relay/forged"
				resp, err := http.Get(forged)
				require.NoError(t, err)
				resp.Body.Close()
				assert.Equal(t, http.StatusNotFound, resp.StatusCode)

				// Right path, wrong message type.
				raw, _ := json.Marshal(api.RelayMessage{Type: "other", Status: api.StatusSuccess})
				resp, err = http.Get(relayURL + "?payload=" + base64.RawURLEncoding.EncodeToString(raw))
				require.NoError(t, err)
				resp.Body.Close()
				assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

				relayTo(t, loginURL, successMessage(t))
			}()
			return nil
		},
		Timeout: 5 * time.Second,
	}

	user, err := flow.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "octo", user.Login)
}

func TestLoginFlowTimeout(t *testing.T) {
	m := NewManager("http://auth.local", NewMemoryStore(), nil, zap.NewNop())

	flow := &LoginFlow{
		Manager:     m,
		OpenBrowser: func(string) error { return nil },
		Timeout:     50 * time.Millisecond,
	}

	_, err := flow.Run(context.Background())
	assert.ErrorIs(t, err, ErrLoginIncomplete)
}

func TestLoginFlowBrowserFailure(t *testing.T) {
	m := NewManager("http://auth.local", NewMemoryStore(), nil, zap.NewNop())

	flow := &LoginFlow{
		Manager:     m,
		OpenBrowser: func(string) error { return errors.New("no display") },
		Timeout:     time.Second,
	}

	_, err := flow.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open browser")
}
