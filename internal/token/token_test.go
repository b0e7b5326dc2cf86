package token

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/undownding/ai-gallery/internal/domain"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestMintVerifyRoundTrip(t *testing.T) {
	m := NewMinter(testSecret)

	signed, err := m.Mint(99, domain.KindAccess, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := m.Verify(signed, domain.KindAccess)
	require.NoError(t, err)
	require.Equal(t, int64(99), claims.Subject)
	require.Equal(t, domain.KindAccess, claims.Kind)
	require.NotEmpty(t, claims.ID)
	require.WithinDuration(t, claims.IssuedAt.Add(time.Hour), claims.ExpiresAt, time.Second)
}

func TestVerifyExpired(t *testing.T) {
	now := time.Now()
	m := newMinterAt(testSecret, func() time.Time { return now })

	signed, err := m.Mint(7, domain.KindAccess, time.Minute)
	require.NoError(t, err)

	// Still valid one second before expiry.
	m.now = func() time.Time { return now.Add(time.Minute - time.Second) }
	_, err = m.Verify(signed, domain.KindAccess)
	require.NoError(t, err)

	// Expiry is inclusive: now >= expiresAt fails.
	m.now = func() time.Time { return now.Add(time.Minute) }
	_, err = m.Verify(signed, domain.KindAccess)
	require.ErrorIs(t, err, domain.ErrCredentialExpired)
}

func TestVerifyKindMismatch(t *testing.T) {
	m := NewMinter(testSecret)

	refresh, err := m.Mint(7, domain.KindRefresh, time.Hour)
	require.NoError(t, err)

	_, err = m.Verify(refresh, domain.KindAccess)
	require.ErrorIs(t, err, domain.ErrCredentialKindMismatch)
}

func TestKindMismatchWinsOverExpiry(t *testing.T) {
	now := time.Now()
	m := newMinterAt(testSecret, func() time.Time { return now })

	refresh, err := m.Mint(7, domain.KindRefresh, time.Minute)
	require.NoError(t, err)

	m.now = func() time.Time { return now.Add(time.Hour) }
	_, err = m.Verify(refresh, domain.KindAccess)
	require.ErrorIs(t, err, domain.ErrCredentialKindMismatch)
	require.False(t, errors.Is(err, domain.ErrCredentialExpired))
}

func TestVerifyBadSignature(t *testing.T) {
	m := NewMinter(testSecret)
	other := NewMinter([]byte("fedcba9876543210fedcba9876543210"))

	signed, err := other.Mint(7, domain.KindAccess, time.Hour)
	require.NoError(t, err)

	_, err = m.Verify(signed, domain.KindAccess)
	require.ErrorIs(t, err, domain.ErrCredentialInvalid)
}

func TestVerifyGarbage(t *testing.T) {
	m := NewMinter(testSecret)
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := m.Verify(tok, domain.KindAccess)
		require.ErrorIs(t, err, domain.ErrCredentialInvalid)
	}
}

func TestMintUnknownKind(t *testing.T) {
	m := NewMinter(testSecret)
	_, err := m.Mint(7, "session", time.Hour)
	require.Error(t, err)
}
