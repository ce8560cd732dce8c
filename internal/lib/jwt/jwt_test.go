package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(secret string, ttl time.Duration, now *time.Time) *Manager {
	m := NewManager(secret, ttl)
	m.now = func() time.Time { return *now }

	return m
}

func TestManager_RoundTrip(t *testing.T) {
	now := issuedAt
	m := newTestManager("secret", time.Hour, &now)

	token, err := m.NewToken(42)
	require.NoError(t, err)

	uid, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func TestManager_ExpirationBoundary(t *testing.T) {
	now := issuedAt
	ttl := 15 * time.Minute
	m := newTestManager("secret", ttl, &now)

	token, err := m.NewToken(7)
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{name: "right after issue", at: issuedAt},
		{name: "one second before ttl", at: issuedAt.Add(ttl - time.Second)},
		{name: "exactly at ttl", at: issuedAt.Add(ttl), wantErr: ErrExpired},
		{name: "after ttl", at: issuedAt.Add(ttl + time.Hour), wantErr: ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = tt.at

			uid, err := m.ParseToken(token)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(7), uid)
		})
	}
}

func TestManager_SubSecondIssueTime(t *testing.T) {
	issued := issuedAt.Add(700 * time.Millisecond)
	now := issued
	ttl := 15 * time.Minute
	m := newTestManager("secret", ttl, &now)

	token, err := m.NewToken(7)
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	assert.Equal(t, ttl, claims.ExpiresAt.Sub(claims.IssuedAt.Time))

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{name: "half a second before ttl", at: issued.Add(ttl - 500*time.Millisecond)},
		{name: "just before ttl", at: issued.Add(ttl - time.Nanosecond)},
		{name: "at ttl of the recorded issue time", at: claims.IssuedAt.Add(ttl), wantErr: ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = tt.at

			uid, err := m.ParseToken(token)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, int64(7), uid)
		})
	}
}

func TestManager_CustomTTL(t *testing.T) {
	now := issuedAt
	m := newTestManager("secret", time.Hour, &now)

	token, err := m.NewTokenWithTTL(1, time.Minute)
	require.NoError(t, err)

	now = issuedAt.Add(2 * time.Minute)
	_, err = m.ParseToken(token)
	require.ErrorIs(t, err, ErrExpired)
}

func TestManager_WrongSecret(t *testing.T) {
	now := issuedAt
	issuer := newTestManager("right", time.Hour, &now)
	verifier := newTestManager("wrong", time.Hour, &now)

	token, err := issuer.NewToken(1)
	require.NoError(t, err)

	_, err = verifier.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestManager_Malformed(t *testing.T) {
	now := issuedAt
	m := newTestManager("secret", time.Hour, &now)

	for _, token := range []string{"", "not.a.jwt", "abc"} {
		_, err := m.ParseToken(token)
		require.ErrorIs(t, err, ErrInvalid, "token %q", token)
	}
}

func signClaims(t *testing.T, method jwt.SigningMethod, claims jwt.Claims, secret string) string {
	t.Helper()

	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	return token
}

func TestManager_MissingSubject(t *testing.T) {
	now := issuedAt
	m := newTestManager("secret", time.Hour, &now)

	token := signClaims(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	}, "secret")

	_, err := m.ParseToken(token)
	require.ErrorIs(t, err, ErrMissingSubject)
}

func TestManager_NonNumericSubject(t *testing.T) {
	now := issuedAt
	m := newTestManager("secret", time.Hour, &now)

	token := signClaims(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	}, "secret")

	_, err := m.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestManager_MissingExpiration(t *testing.T) {
	now := issuedAt
	m := newTestManager("secret", time.Hour, &now)

	token := signClaims(t, jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "1"}, "secret")

	_, err := m.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestManager_RejectsOtherAlgorithms(t *testing.T) {
	now := issuedAt
	m := newTestManager("secret", time.Hour, &now)

	token := signClaims(t, jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	}, "secret")

	_, err := m.ParseToken(token)
	require.ErrorIs(t, err, ErrInvalid)
}
