// Package provider talks to GitHub's OAuth endpoints: authorize URL
// construction, code exchange, and profile/email lookup.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/undownding/ai-gallery/internal/domain"
)

// Exchanger encapsulates the outbound calls to the identity provider.
// All failures are terminal for the current login attempt; authorization
// codes are single use and never retried.
type Exchanger interface {
	BuildAuthorizeURL(redirectURI, nonce string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (string, error)
	FetchProfile(ctx context.Context, providerToken string) (*domain.ExternalIdentity, error)
	FetchPrimaryEmail(ctx context.Context, providerToken string) (string, error)
}

// Endpoints for github.com; overridable for tests.
type Endpoints struct {
	AuthorizeURL string
	TokenURL     string
	ProfileURL   string
	EmailsURL    string
}

// DefaultEndpoints points at github.com.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthorizeURL: "https://github.com/login/oauth/authorize",
		TokenURL:     "https://github.com/login/oauth/access_token",
		ProfileURL:   "https://api.github.com/user",
		EmailsURL:    "https://api.github.com/user/emails",
	}
}

// GitHub is the default HTTP implementation of Exchanger.
type GitHub struct {
	clientID     string
	clientSecret string
	endpoints    Endpoints
	httpClient   *http.Client
}

var _ Exchanger = (*GitHub)(nil)

// NewGitHub constructs the GitHub exchanger.
func NewGitHub(clientID, clientSecret string, endpoints Endpoints, client *http.Client) *GitHub {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GitHub{
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoints:    endpoints,
		httpClient:   client,
	}
}

// BuildAuthorizeURL returns the provider URL the login redirects to.
func (g *GitHub) BuildAuthorizeURL(redirectURI, nonce string) string {
	authURL, err := url.Parse(g.endpoints.AuthorizeURL)
	if err != nil {
		return ""
	}
	params := authURL.Query()
	params.Set("client_id", g.clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("scope", "read:user user:email")
	params.Set("state", nonce)
	authURL.RawQuery = params.Encode()
	return authURL.String()
}

// ExchangeCode trades the authorization code for a provider access token.
func (g *GitHub) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	data := url.Values{}
	data.Set("client_id", g.clientID)
	data.Set("client_secret", g.clientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoints.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrOAuthUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %v", domain.ErrOAuthUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status=%d", domain.ErrOAuthExchangeFailed, resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", domain.ErrOAuthExchangeFailed, err)
	}
	// GitHub reports bad_verification_code with HTTP 200.
	if payload.Error != "" || strings.TrimSpace(payload.AccessToken) == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrOAuthExchangeFailed, payload.Error)
	}
	return payload.AccessToken, nil
}

// FetchProfile loads the authenticated user's profile. Email may be empty
// when the account keeps it private; FetchPrimaryEmail covers that case.
func (g *GitHub) FetchProfile(ctx context.Context, providerToken string) (*domain.ExternalIdentity, error) {
	body, err := g.get(ctx, g.endpoints.ProfileURL, providerToken)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID        json.Number `json:"id"`
		Login     string      `json:"login"`
		Name      string      `json:"name"`
		Email     string      `json:"email"`
		AvatarURL string      `json:"avatar_url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode profile: %v", domain.ErrProfileFetch, err)
	}
	if raw.ID.String() == "" || raw.Login == "" {
		return nil, fmt.Errorf("%w: profile missing id", domain.ErrProfileFetch)
	}

	return &domain.ExternalIdentity{
		ProviderID:  raw.ID.String(),
		Login:       raw.Login,
		DisplayName: raw.Name,
		Email:       raw.Email,
		AvatarURL:   raw.AvatarURL,
	}, nil
}

// FetchPrimaryEmail returns the verified primary email, or "" when none.
func (g *GitHub) FetchPrimaryEmail(ctx context.Context, providerToken string) (string, error) {
	body, err := g.get(ctx, g.endpoints.EmailsURL, providerToken)
	if err != nil {
		return "", err
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := json.Unmarshal(body, &emails); err != nil {
		return "", fmt.Errorf("%w: decode emails: %v", domain.ErrProfileFetch, err)
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

func (g *GitHub) get(ctx context.Context, endpoint, providerToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+providerToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProfileFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrProfileFetch, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrProfileFetch, resp.StatusCode)
	}
	return body, nil
}
