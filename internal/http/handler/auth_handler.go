package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/undownding/ai-gallery/api"
	"github.com/undownding/ai-gallery/internal/config"
	"github.com/undownding/ai-gallery/internal/domain"
	"github.com/undownding/ai-gallery/internal/handshake"
	"github.com/undownding/ai-gallery/internal/http/middleware"
	"github.com/undownding/ai-gallery/internal/service"
)

// AuthHandler exposes the login lifecycle endpoints.
type AuthHandler struct {
	Auth   service.AuthService
	Config config.Config
	Logger *zap.Logger
}

// NewAuthHandler creates the handler set.
func NewAuthHandler(auth service.AuthService, cfg config.Config, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Auth: auth, Config: cfg, Logger: logger}
}

// Login starts the OAuth dance: mints the handshake, sets its cookie,
// and redirects to the provider.
func (h *AuthHandler) Login(c *gin.Context) {
	returnPath := sanitizeReturnPath(c.Query("redirect_to"))

	authorizeURL, state, err := h.Auth.BeginLogin(returnPath)
	if err != nil {
		h.Logger.Error("begin login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Could not start login."})
		return
	}

	handshake.SetCookie(c.Writer, state, h.Config.HandshakeTTL, h.Config.SecureCookies)
	c.Redirect(http.StatusFound, authorizeURL)
}

// Callback completes the OAuth dance and relays the outcome as a single
// structured message to the context that started the login.
func (h *AuthHandler) Callback(c *gin.Context) {
	cookie := handshake.FromRequest(c.Request)
	// Single use: the handshake dies here on success and failure alike.
	handshake.ClearCookie(c.Writer, h.Config.SecureCookies)

	result, err := h.Auth.CompleteLogin(c.Request.Context(), service.CallbackInput{
		Code:      c.Query("code"),
		State:     c.Query("state"),
		ErrorCode: c.Query("error"),
		Cookie:    cookie,
	})

	returnPath := ""
	if cookie != nil {
		returnPath = cookie.ReturnPath
	}

	if err != nil {
		h.relayOutcome(c, returnPath, api.RelayMessage{
			Type:   api.MessageType,
			Status: api.StatusError,
			Reason: reasonForError(err),
		}, statusForError(err))
		return
	}

	h.relayOutcome(c, returnPath, api.RelayMessage{
		Type:   api.MessageType,
		Status: api.StatusSuccess,
		Result: toAPIResult(result),
	}, http.StatusOK)
}

// Refresh trades a refresh credential for a fresh pair.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required."})
		return
	}

	result, err := h.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrRefreshRejected) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_grant", "error_description": "Refresh credential rejected."})
			return
		}
		h.Logger.Error("refresh failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
		return
	}

	c.JSON(http.StatusOK, toAPIResult(result))
}

// Logout revokes the refresh credential. Always succeeds.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.Auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		h.Logger.Warn("logout revocation failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// Me returns the authenticated user. Serves as the session probe.
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.GetCurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Not authenticated."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toAPIUser(user)})
}

// relayOutcome delivers the message to the return path when one survived
// the handshake, falling back to a plain JSON response (the full-page
// redirect topology needs no relay hop).
func (h *AuthHandler) relayOutcome(c *gin.Context, returnPath string, msg api.RelayMessage, status int) {
	if returnPath != "" {
		c.Redirect(http.StatusFound, appendPayload(returnPath, msg))
		return
	}
	if msg.Status == api.StatusError {
		c.JSON(status, gin.H{"error": "login_failed", "error_description": msg.Reason})
		return
	}
	c.JSON(status, msg.Result)
}

func appendPayload(returnPath string, msg api.RelayMessage) string {
	raw, err := json.Marshal(msg)
	if err != nil {
		return returnPath
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)

	target, err := url.Parse(returnPath)
	if err != nil {
		return returnPath
	}
	q := target.Query()
	q.Set("payload", payload)
	target.RawQuery = q.Encode()
	return target.String()
}

// sanitizeReturnPath allows relative paths and loopback relay URLs only,
// rejecting open-redirect targets.
func sanitizeReturnPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	host := parsed.Hostname()
	if host == "127.0.0.1" || host == "::1" || host == "localhost" {
		return raw
	}
	return ""
}

func reasonForError(err error) string {
	switch {
	case errors.Is(err, domain.ErrOAuthDenied):
		return "access_denied"
	case errors.Is(err, domain.ErrHandshakeInvalid):
		return "handshake_invalid"
	case errors.Is(err, domain.ErrOAuthExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, domain.ErrOAuthUnavailable):
		return "provider_unavailable"
	case errors.Is(err, domain.ErrProfileFetch):
		return "profile_fetch_failed"
	default:
		return "server_error"
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrHandshakeInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrOAuthDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrOAuthExchangeFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrOAuthUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrProfileFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toAPIUser(u domain.User) api.User {
	return api.User{
		ID:          u.ID,
		Login:       u.Login,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
		IsAdmin:     u.IsAdmin,
		LastLoginAt: u.LastLoginAt,
	}
}

func toAPIResult(r *service.LoginResult) *api.LoginResult {
	return &api.LoginResult{
		User: toAPIUser(r.User),
		TokenPair: api.TokenPair{
			AccessToken:      r.TokenPair.AccessToken,
			AccessExpiresAt:  r.TokenPair.AccessExpiresAt,
			RefreshToken:     r.TokenPair.RefreshToken,
			RefreshExpiresAt: r.TokenPair.RefreshExpiresAt,
		},
	}
}
