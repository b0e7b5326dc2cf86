package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/undownding/ai-gallery/api"
)

// fakeToken builds a structurally valid JWT whose claims section carries
// the given subject. The signature is garbage; the SDK never verifies it.
func fakeToken(t *testing.T, subject int64) string {
	t.Helper()
	claims, err := json.Marshal(map[string]string{"sub": fmt.Sprintf("%d", subject)})
	require.NoError(t, err)
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(claims) + ".sig"
}

type authStub struct {
	mu           sync.Mutex
	refreshCalls atomic.Int64
	meCalls      atomic.Int64
	refreshDelay time.Duration
	refreshCode  int
	meRejections int
	user         api.User
	issued       func() api.TokenPair
}

func newAuthStub(t *testing.T) (*authStub, *httptest.Server) {
	stub := &authStub{
		refreshCode: http.StatusOK,
		user:        api.User{ID: 1, Login: "octo"},
	}
	stub.issued = func() api.TokenPair {
		return api.TokenPair{
			AccessToken:      fakeToken(t, stub.user.ID),
			AccessExpiresAt:  time.Now().Add(time.Hour),
			RefreshToken:     "rotated-refresh",
			RefreshExpiresAt: time.Now().Add(24 * time.Hour),
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		stub.refreshCalls.Add(1)
		if stub.refreshDelay > 0 {
			time.Sleep(stub.refreshDelay)
		}
		if stub.refreshCode != http.StatusOK {
			w.WriteHeader(stub.refreshCode)
			return
		}
		json.NewEncoder(w).Encode(api.LoginResult{User: stub.user, TokenPair: stub.issued()})
	})
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		stub.meCalls.Add(1)
		stub.mu.Lock()
		reject := stub.meRejections > 0
		if reject {
			stub.meRejections--
		}
		stub.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]api.User{"user": stub.user})
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return stub, srv
}

func seedSession(t *testing.T, store Store, accessTTL time.Duration, user *api.User) {
	t.Helper()
	var id int64 = 1
	if user != nil {
		id = user.ID
	}
	require.NoError(t, store.Save(&Session{
		TokenPair: api.TokenPair{
			AccessToken:      fakeToken(t, id),
			AccessExpiresAt:  time.Now().Add(accessTTL),
			RefreshToken:     "seed-refresh",
			RefreshExpiresAt: time.Now().Add(24 * time.Hour),
		},
		User: user,
	}))
}

func TestAccessTokenUsesCachedCredential(t *testing.T) {
	stub, srv := newAuthStub(t)
	store := NewMemoryStore()
	seedSession(t, store, time.Hour, &api.User{ID: 1, Login: "octo"})
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Zero(t, stub.refreshCalls.Load())
}

func TestAccessTokenRefreshesWithinSkew(t *testing.T) {
	stub, srv := newAuthStub(t)
	store := NewMemoryStore()
	seedSession(t, store, 2*time.Second, nil)
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	var notified *api.User
	m.Subscribe(func(u *api.User) { notified = u })

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, int64(1), stub.refreshCalls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "rotated-refresh", saved.TokenPair.RefreshToken)
	require.NotNil(t, saved.User)
	assert.Equal(t, "octo", saved.User.Login)

	require.NotNil(t, notified)
	assert.Equal(t, "octo", notified.Login)
}

func TestAccessTokenSingleFlight(t *testing.T) {
	stub, srv := newAuthStub(t)
	stub.refreshDelay = 50 * time.Millisecond
	store := NewMemoryStore()
	seedSession(t, store, -time.Minute, nil)
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	const callers = 3
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.AccessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), stub.refreshCalls.Load())
	for i := 1; i < callers; i++ {
		assert.Equal(t, tokens[0], tokens[i])
	}
	assert.NotEmpty(t, tokens[0])
}

func TestRefreshRejectedClearsSession(t *testing.T) {
	stub, srv := newAuthStub(t)
	stub.refreshCode = http.StatusUnauthorized
	store := NewMemoryStore()
	seedSession(t, store, -time.Minute, &api.User{ID: 1, Login: "octo"})
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	var gotNil bool
	m.Subscribe(func(u *api.User) { gotNil = u == nil })

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
	assert.True(t, gotNil)

	// The user half died with the pair: no partial state survives.
	user, err := m.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRefreshNetworkFailureClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	store := NewMemoryStore()
	seedSession(t, store, -time.Minute, nil)
	m := NewManager(srv.URL, store, nil, zap.NewNop())

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestAccessTokenWithoutSession(t *testing.T) {
	stub, srv := newAuthStub(t)
	m := NewManager(srv.URL, NewMemoryStore(), srv.Client(), zap.NewNop())

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Zero(t, stub.refreshCalls.Load())
}

func TestExpiredRefreshCredentialClearsWithoutNetwork(t *testing.T) {
	stub, srv := newAuthStub(t)
	store := NewMemoryStore()
	require.NoError(t, store.Save(&Session{
		TokenPair: api.TokenPair{
			AccessToken:      fakeToken(t, 1),
			AccessExpiresAt:  time.Now().Add(-time.Hour),
			RefreshToken:     "seed-refresh",
			RefreshExpiresAt: time.Now().Add(-time.Minute),
		},
	}))
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Zero(t, stub.refreshCalls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestCurrentUserPrefersCache(t *testing.T) {
	stub, srv := newAuthStub(t)
	store := NewMemoryStore()
	seedSession(t, store, time.Hour, &api.User{ID: 1, Login: "octo"})
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	user, err := m.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "octo", user.Login)
	assert.Zero(t, stub.meCalls.Load())
	assert.Zero(t, stub.refreshCalls.Load())
}

func TestCurrentUserRetriesOnceAfterStaleCredential(t *testing.T) {
	stub, srv := newAuthStub(t)
	stub.meRejections = 1
	store := NewMemoryStore()
	seedSession(t, store, time.Hour, nil)
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	user, err := m.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "octo", user.Login)
	assert.Equal(t, int64(2), stub.meCalls.Load())
	assert.Equal(t, int64(1), stub.refreshCalls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.NotNil(t, saved.User)
	assert.Equal(t, "octo", saved.User.Login)
}

func TestCurrentUserGivesUpAfterSecondRejection(t *testing.T) {
	stub, srv := newAuthStub(t)
	stub.meRejections = 2
	store := NewMemoryStore()
	seedSession(t, store, time.Hour, nil)
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	user, err := m.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Equal(t, int64(2), stub.meCalls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestInconsistentStoredSessionDiscarded(t *testing.T) {
	stub, srv := newAuthStub(t)
	store := NewMemoryStore()
	// User 2 paired with a credential minted for subject 1.
	require.NoError(t, store.Save(&Session{
		TokenPair: api.TokenPair{
			AccessToken:      fakeToken(t, 1),
			AccessExpiresAt:  time.Now().Add(time.Hour),
			RefreshToken:     "seed-refresh",
			RefreshExpiresAt: time.Now().Add(24 * time.Hour),
		},
		User: &api.User{ID: 2, Login: "impostor"},
	}))
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Zero(t, stub.refreshCalls.Load())

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestLogoutClearsAndNotifies(t *testing.T) {
	_, srv := newAuthStub(t)
	store := NewMemoryStore()
	seedSession(t, store, time.Hour, &api.User{ID: 1, Login: "octo"})
	m := NewManager(srv.URL, store, srv.Client(), zap.NewNop())

	events := 0
	var last *api.User
	m.Subscribe(func(u *api.User) {
		events++
		last = u
	})

	require.NoError(t, m.Logout(context.Background()))

	assert.Equal(t, 1, events)
	assert.Nil(t, last)

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, saved)

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestSubscribeCancel(t *testing.T) {
	_, srv := newAuthStub(t)
	m := NewManager(srv.URL, NewMemoryStore(), srv.Client(), zap.NewNop())

	calls := 0
	cancel := m.Subscribe(func(*api.User) { calls++ })
	m.notify(nil)
	cancel()
	m.notify(nil)

	assert.Equal(t, 1, calls)
}
