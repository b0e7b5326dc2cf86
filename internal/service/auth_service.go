// Package service drives the server side of the login lifecycle: the
// OAuth handshake, identity upsert, credential issuance, refresh with
// rotation, and logout.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/undownding/ai-gallery/internal/config"
	"github.com/undownding/ai-gallery/internal/domain"
	"github.com/undownding/ai-gallery/internal/handshake"
	"github.com/undownding/ai-gallery/internal/provider"
	"github.com/undownding/ai-gallery/internal/repository"
	"github.com/undownding/ai-gallery/internal/token"
)

// AuthService defines the issuance orchestration behaviors.
type AuthService interface {
	// BeginLogin prepares a login attempt: a fresh nonce, the handshake
	// state to set as a cookie, and the provider authorize URL.
	BeginLogin(returnPath string) (authorizeURL string, state handshake.State, err error)
	// CompleteLogin validates the handshake and drives code exchange,
	// profile fetch, identity upsert, and credential minting. Terminal on
	// first failure; the handshake is single use either way.
	CompleteLogin(ctx context.Context, in CallbackInput) (*LoginResult, error)
	// Refresh trades a live refresh credential for a new pair. The
	// presented credential is revoked: one active refresh credential per
	// issuance.
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)
	// Logout revokes the refresh credential. Idempotent; unknown or
	// already-dead tokens are not an error.
	Logout(ctx context.Context, refreshToken string) error
	// CurrentUser resolves a live access credential to its user.
	CurrentUser(ctx context.Context, accessToken string) (domain.User, error)
}

// CallbackInput captures the provider callback plus the handshake cookie
// contents (nil when the cookie is absent or malformed).
type CallbackInput struct {
	Code        string
	State       string
	ErrorCode   string
	Cookie      *handshake.State
	RedirectURI string
}

// LoginResult is the credential pair and user projection returned to the
// client on login and refresh.
type LoginResult struct {
	User      domain.User      `json:"user"`
	TokenPair domain.TokenPair `json:"token_pair"`
}

type authService struct {
	exchanger provider.Exchanger
	users     repository.UserRepository
	denylist  repository.Denylist
	minter    *token.Minter
	cfg       config.Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService wires the orchestrator.
func NewAuthService(
	exchanger provider.Exchanger,
	users repository.UserRepository,
	denylist repository.Denylist,
	minter *token.Minter,
	cfg config.Config,
	logger *zap.Logger,
) AuthService {
	return &authService{
		exchanger: exchanger,
		users:     users,
		denylist:  denylist,
		minter:    minter,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *authService) BeginLogin(returnPath string) (string, handshake.State, error) {
	nonce, err := handshake.NewNonce()
	if err != nil {
		return "", handshake.State{}, fmt.Errorf("generate nonce: %w", err)
	}
	state := handshake.State{Nonce: nonce, ReturnPath: returnPath}
	return s.exchanger.BuildAuthorizeURL(s.cfg.OAuthRedirectURI, nonce), state, nil
}

func (s *authService) CompleteLogin(ctx context.Context, in CallbackInput) (*LoginResult, error) {
	// Handshake first: a forged or replayed callback must never cost a
	// provider round trip.
	if err := validateHandshake(in); err != nil {
		return nil, err
	}
	if in.ErrorCode != "" {
		if in.ErrorCode == "access_denied" {
			return nil, domain.ErrOAuthDenied
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrOAuthExchangeFailed, in.ErrorCode)
	}

	providerToken, err := s.exchanger.ExchangeCode(ctx, in.Code, s.cfg.OAuthRedirectURI)
	if err != nil {
		return nil, err
	}

	identity, err := s.fetchIdentity(ctx, providerToken)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Upsert(ctx, *identity)
	if err != nil {
		return nil, fmt.Errorf("upsert identity: %w", err)
	}

	pair, err := s.mintPair(user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("login completed",
		zap.Int64("user_id", user.ID),
		zap.String("login", user.Login),
	)
	return &LoginResult{User: user, TokenPair: *pair}, nil
}

func validateHandshake(in CallbackInput) error {
	if in.Cookie == nil || in.State == "" || in.Cookie.Nonce != in.State {
		return domain.ErrHandshakeInvalid
	}
	if in.ErrorCode == "" && in.Code == "" {
		return fmt.Errorf("%w: missing code", domain.ErrOAuthExchangeFailed)
	}
	return nil
}

func (s *authService) fetchIdentity(ctx context.Context, providerToken string) (*domain.ExternalIdentity, error) {
	identity, err := s.exchanger.FetchProfile(ctx, providerToken)
	if err != nil {
		return nil, err
	}
	if identity.Email == "" {
		// The profile endpoint omits private emails; the dedicated
		// endpoint may still surface a verified primary one. Its failure
		// is non-fatal: email is optional on the local identity.
		email, err := s.exchanger.FetchPrimaryEmail(ctx, providerToken)
		if err != nil {
			s.logger.Warn("primary email lookup failed", zap.Error(err))
		} else {
			identity.Email = email
		}
	}
	return identity, nil
}

func (s *authService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.minter.Verify(refreshToken, domain.KindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRefreshRejected, err)
	}

	revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("revocation lookup: %w", err)
	}
	if revoked {
		return nil, fmt.Errorf("%w: credential revoked", domain.ErrRefreshRejected)
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", domain.ErrRefreshRejected)
		}
		return nil, err
	}

	// Rotation: the presented credential dies with this exchange.
	if err := s.denylist.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt)); err != nil {
		return nil, fmt.Errorf("revoke rotated credential: %w", err)
	}

	pair, err := s.mintPair(user.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("credentials refreshed", zap.Int64("user_id", user.ID))
	return &LoginResult{User: user, TokenPair: *pair}, nil
}

func (s *authService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.minter.Verify(refreshToken, domain.KindRefresh)
	if err != nil {
		// Nothing live to revoke; logout stays idempotent.
		return nil
	}
	if err := s.denylist.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt)); err != nil {
		return fmt.Errorf("revoke on logout: %w", err)
	}
	return nil
}

func (s *authService) CurrentUser(ctx context.Context, accessToken string) (domain.User, error) {
	claims, err := s.minter.Verify(accessToken, domain.KindAccess)
	if err != nil {
		return domain.User{}, err
	}
	return s.users.GetByID(ctx, claims.Subject)
}

func (s *authService) mintPair(userID int64) (*domain.TokenPair, error) {
	now := s.now().UTC()
	access, err := s.minter.Mint(userID, domain.KindAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint access credential: %w", err)
	}
	refresh, err := s.minter.Mint(userID, domain.KindRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("mint refresh credential: %w", err)
	}
	return &domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshToken:     refresh,
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}, nil
}
