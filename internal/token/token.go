// Package token signs and validates the self-contained credentials the
// auth core issues: short-lived access tokens and long-lived refresh
// tokens, both HS256 JWTs over a single configured secret.
package token

import (
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/undownding/ai-gallery/internal/domain"
)

// Claims is the verified payload of a minted credential.
type Claims struct {
	Subject   int64
	Kind      string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type customClaims struct {
	Kind string `json:"kind"`
}

// Minter signs and verifies credentials. Rotating the secret invalidates
// every outstanding credential; there is no key ring.
type Minter struct {
	secret []byte
	now    func() time.Time
}

// NewMinter constructs a Minter over the shared secret.
func NewMinter(secret []byte) *Minter {
	return &Minter{secret: secret, now: time.Now}
}

// newMinterAt pins the clock, for expiry tests.
func newMinterAt(secret []byte, now func() time.Time) *Minter {
	return &Minter{secret: secret, now: now}
}

// Mint produces a signed credential of the given kind. Pure given
// (userID, kind, ttl, now); no external state.
func (m *Minter) Mint(userID int64, kind string, ttl time.Duration) (string, error) {
	if kind != domain.KindAccess && kind != domain.KindRefresh {
		return "", fmt.Errorf("mint: unknown kind %q", kind)
	}

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: m.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := m.now().UTC()
	std := gojwt.Claims{
		Subject:  fmt.Sprintf("%d", userID),
		ID:       uuid.NewString(),
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := gojwt.Signed(signer).Claims(std).Claims(customClaims{Kind: kind}).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, kind, and expiry, in that order. Kind mismatch
// is reported even for expired tokens so that an access token can never be
// mistaken for a refresh token regardless of age.
func (m *Minter) Verify(token, expectedKind string) (*Claims, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialInvalid, err)
	}

	var std gojwt.Claims
	var custom customClaims
	if err := parsed.Claims(m.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCredentialInvalid, err)
	}

	if custom.Kind != expectedKind {
		return nil, fmt.Errorf("%w: got %q, want %q", domain.ErrCredentialKindMismatch, custom.Kind, expectedKind)
	}

	if std.Expiry == nil || std.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing time claims", domain.ErrCredentialInvalid)
	}
	if !m.now().Before(std.Expiry.Time()) {
		return nil, domain.ErrCredentialExpired
	}

	var subject int64
	if _, err := fmt.Sscanf(std.Subject, "%d", &subject); err != nil || subject <= 0 {
		return nil, fmt.Errorf("%w: bad subject", domain.ErrCredentialInvalid)
	}

	return &Claims{
		Subject:   subject,
		Kind:      custom.Kind,
		ID:        std.ID,
		IssuedAt:  std.IssuedAt.Time(),
		ExpiresAt: std.Expiry.Time(),
	}, nil
}
