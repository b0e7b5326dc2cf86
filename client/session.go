package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/undownding/ai-gallery/api"
)

// expirySkew is subtracted from the access credential's expiry when
// deciding whether it is still usable, so a credential about to lapse
// mid-request is refreshed proactively.
const expirySkew = 5 * time.Second

const refreshFlightKey = "refresh"

// Manager owns the cached session. All reads and writes of the
// credential pair and the cached user go through it; concurrent callers
// needing a refresh are collapsed into a single network call.
type Manager struct {
	baseURL string
	http    *http.Client
	store   Store
	logger  *zap.Logger

	mu      sync.Mutex
	session *Session
	loaded  bool

	flight singleflight.Group

	subMu  sync.Mutex
	subs   map[int]func(*api.User)
	nextID int

	now func() time.Time
}

// NewManager constructs a Manager talking to the auth server at baseURL.
// A nil httpClient falls back to a client with a 30s timeout; a nil
// logger is replaced with a no-op one.
func NewManager(baseURL string, store Store, httpClient *http.Client, logger *zap.Logger) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		store:   store,
		logger:  logger,
		subs:    make(map[int]func(*api.User)),
		now:     time.Now,
	}
}

// AccessToken returns a usable access credential, refreshing the pair
// first when the cached one is missing or expires within the skew
// window. It returns "" with a nil error when the client is simply not
// authenticated; callers must treat that as logged-out, not as a fault.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if token, ok := m.validAccess(); ok {
		return token, nil
	}
	return m.refresh(ctx)
}

// CurrentUser returns the profile for the active session, preferring the
// cached copy. A stale cache is healed by exactly one refresh-and-retry;
// if the server still rejects the credential the session is discarded.
// (nil, nil) means not authenticated.
func (m *Manager) CurrentUser(ctx context.Context) (*api.User, error) {
	if user := m.cachedUser(); user != nil {
		return user, nil
	}
	token, err := m.AccessToken(ctx)
	if err != nil || token == "" {
		return nil, err
	}

	user, status, err := m.fetchProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		// The server disagrees with our cached validity. One forced
		// refresh, one retry, then give up.
		token, err = m.refreshForced(ctx)
		if err != nil || token == "" {
			return nil, err
		}
		user, status, err = m.fetchProfile(ctx, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			m.clearSession()
			return nil, nil
		}
	}
	if user != nil {
		m.storeUser(user)
	}
	return user, nil
}

// SetSession replaces the cached session with a freshly issued one, for
// example at the end of a login flow. Subscribers are notified.
func (m *Manager) SetSession(result *api.LoginResult) error {
	user := result.User
	session := &Session{TokenPair: result.TokenPair, User: &user}

	m.mu.Lock()
	m.session = session
	m.loaded = true
	err := m.store.Save(session)
	m.mu.Unlock()

	if err != nil {
		return err
	}
	m.notify(&user)
	return nil
}

// Logout revokes the refresh credential on the server (best effort) and
// discards the cached session either way.
func (m *Manager) Logout(ctx context.Context) error {
	session := m.snapshot()
	if session != nil && session.TokenPair.RefreshToken != "" {
		body, _ := json.Marshal(map[string]string{"refresh_token": session.TokenPair.RefreshToken})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/auth/logout", bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
			if resp, err := m.http.Do(req); err != nil {
				m.logger.Warn("logout request failed", zap.Error(err))
			} else {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}
	}
	m.clearSession()
	return nil
}

// Subscribe registers fn to be called with the new user on every session
// change (login, refresh, profile update) and with nil on logout or a
// failed refresh. The returned func cancels the subscription.
func (m *Manager) Subscribe(fn func(*api.User)) func() {
	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

func (m *Manager) notify(user *api.User) {
	m.subMu.Lock()
	fns := make([]func(*api.User), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(user)
	}
}

// validAccess reports the cached access credential when it is present
// and does not expire within the skew window.
func (m *Manager) validAccess() (string, bool) {
	session := m.snapshot()
	if session == nil || session.TokenPair.AccessToken == "" {
		return "", false
	}
	if !m.now().Add(expirySkew).Before(session.TokenPair.AccessExpiresAt) {
		return "", false
	}
	return session.TokenPair.AccessToken, true
}

func (m *Manager) cachedUser() *api.User {
	session := m.snapshot()
	if session == nil || session.User == nil {
		return nil
	}
	if _, ok := m.validAccess(); !ok {
		return nil
	}
	copied := *session.User
	return &copied
}

// snapshot returns the cached session, lazily loading it from the store
// on first touch. A stored session whose user does not match the access
// credential's subject is treated as corrupt and discarded whole.
func (m *Manager) snapshot() *Session {
	m.mu.Lock()
	discarded := false
	if !m.loaded {
		m.loaded = true
		session, err := m.store.Load()
		if err != nil {
			m.logger.Warn("session load failed", zap.Error(err))
		} else if session != nil && sessionCorrupt(session) {
			m.logger.Warn("stored session is inconsistent, discarding")
			if err := m.store.Clear(); err != nil {
				m.logger.Warn("session clear failed", zap.Error(err))
			}
			discarded = true
		} else {
			m.session = session
		}
	}
	var copied *Session
	if m.session != nil {
		c := *m.session
		copied = &c
	}
	m.mu.Unlock()

	if discarded {
		m.notify(nil)
	}
	return copied
}

// sessionCorrupt reports whether the cached user and the access
// credential's subject disagree. The subject is read from the unverified
// claims section; the server remains the only verifier.
func sessionCorrupt(session *Session) bool {
	if session.User == nil || session.TokenPair.AccessToken == "" {
		return false
	}
	subject, ok := tokenSubject(session.TokenPair.AccessToken)
	if !ok {
		return true
	}
	return subject != session.User.ID
}

func tokenSubject(token string) (int64, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return 0, false
	}
	var claims struct {
		Subject string `json:"sub"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscanf(claims.Subject, "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// refresh rotates the credential pair, collapsing concurrent callers
// into one network call. The refresh itself outlives any single caller's
// context; a caller whose context expires gets its own error while the
// shared refresh finishes for the others.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	return m.awaitRefresh(ctx, false)
}

// refreshForced skips the cached-validity check, for when the server has
// just rejected a credential the cache still considers valid.
func (m *Manager) refreshForced(ctx context.Context) (string, error) {
	return m.awaitRefresh(ctx, true)
}

func (m *Manager) awaitRefresh(ctx context.Context, forced bool) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.flight.DoChan(refreshFlightKey, func() (any, error) {
		if !forced {
			// A caller that queued behind a finished refresh can use
			// its result instead of rotating again.
			if token, ok := m.validAccess(); ok {
				return token, nil
			}
		}
		return m.doRefresh(detached)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// doRefresh calls the refresh endpoint with the cached refresh
// credential and installs the rotated pair. Any rejection or failure
// discards the whole session; "" with a nil error is the logged-out
// answer.
func (m *Manager) doRefresh(ctx context.Context) (string, error) {
	session := m.snapshot()
	if session == nil || session.TokenPair.RefreshToken == "" {
		return "", nil
	}
	if !m.now().Before(session.TokenPair.RefreshExpiresAt) {
		m.clearSession()
		return "", nil
	}

	body, err := json.Marshal(map[string]string{"refresh_token": session.TokenPair.RefreshToken})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		m.logger.Warn("refresh request failed", zap.Error(err))
		m.clearSession()
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		m.logger.Info("refresh rejected", zap.Int("status", resp.StatusCode))
		m.clearSession()
		return "", nil
	}

	var result api.LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		m.logger.Warn("refresh response malformed", zap.Error(err))
		m.clearSession()
		return "", nil
	}

	user := result.User
	next := &Session{TokenPair: result.TokenPair, User: &user}

	m.mu.Lock()
	m.session = next
	m.loaded = true
	if err := m.store.Save(next); err != nil {
		m.logger.Warn("session save failed", zap.Error(err))
	}
	m.mu.Unlock()

	m.notify(&user)
	return result.TokenPair.AccessToken, nil
}

func (m *Manager) fetchProfile(ctx context.Context, token string) (*api.User, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/users/me", nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, nil
	}
	var envelope struct {
		User api.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode profile: %w", err)
	}
	return &envelope.User, resp.StatusCode, nil
}

func (m *Manager) storeUser(user *api.User) {
	m.mu.Lock()
	if m.session != nil {
		copied := *user
		m.session.User = &copied
		if err := m.store.Save(m.session); err != nil {
			m.logger.Warn("session save failed", zap.Error(err))
		}
	}
	m.mu.Unlock()
	m.notify(user)
}

// clearSession discards the cached pair and user together and tells
// subscribers the client is logged out. The in-memory mirror is cleared
// before the store so no reader observes a half-session.
func (m *Manager) clearSession() {
	m.mu.Lock()
	m.session = nil
	m.loaded = true
	err := m.store.Clear()
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("session clear failed", zap.Error(err))
	}
	m.notify(nil)
}
