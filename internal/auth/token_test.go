package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymdesk/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

var issueTime = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func testPrincipal() *domain.Principal {
	return &domain.Principal{ID: 7, Username: "trainer1", Role: domain.RoleTrainer}
}

func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: issueTime}
	m, err := NewTokenManager([]byte("super-secret"), DefaultTokenTTL, WithClock(clock.Now))
	require.NoError(t, err)

	tok, issued, err := m.Issue(testPrincipal())
	require.NoError(t, err)
	require.NotEmpty(t, tok)
	assert.Equal(t, issueTime, issued.IssuedAt)
	assert.Equal(t, issueTime.Add(24*time.Hour), issued.ExpiresAt)
	assert.NotEmpty(t, issued.TokenID)

	claims, err := m.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.ID)
	assert.Equal(t, "trainer1", claims.Username)
	assert.Equal(t, domain.RoleTrainer, claims.Role)
	assert.Equal(t, issued.TokenID, claims.TokenID)
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: issueTime}
	m, err := NewTokenManager([]byte("super-secret"), DefaultTokenTTL, WithClock(clock.Now))
	require.NoError(t, err)

	tok, issued, err := m.Issue(testPrincipal())
	require.NoError(t, err)

	clock.now = issued.ExpiresAt.Add(-time.Second)
	_, err = m.Verify(tok)
	require.NoError(t, err)

	clock.now = issued.ExpiresAt.Add(time.Second)
	_, err = m.Verify(tok)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	signer, err := NewTokenManager([]byte("right-secret"), time.Hour)
	require.NoError(t, err)
	verifier, err := NewTokenManager([]byte("wrong-secret"), time.Hour)
	require.NoError(t, err)

	tok, _, err := signer.Issue(testPrincipal())
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	m, err := NewTokenManager(secret, time.Hour)
	require.NoError(t, err)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID:   1,
		Username: "admin",
		Role:     domain.RoleAdmin,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = m.Verify(tok)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_RequiresExpiry(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	m, err := NewTokenManager(secret, time.Hour)
	require.NoError(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   1,
		Username: "admin",
		Role:     domain.RoleAdmin,
	}).SignedString(secret)
	require.NoError(t, err)

	_, err = m.Verify(tok)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	m, err := NewTokenManager([]byte("k"), time.Hour)
	require.NoError(t, err)

	for _, tok := range []string{"", "not.a.jwt", "abc"} {
		_, err := m.Verify(tok)
		assert.ErrorIs(t, err, domain.ErrInvalidToken, "token %q", tok)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: issueTime}
	deny := NewDenylist(clock.Now)
	m, err := NewTokenManager([]byte("super-secret"), time.Hour, WithClock(clock.Now), WithDenylist(deny))
	require.NoError(t, err)

	tok, issued, err := m.Issue(testPrincipal())
	require.NoError(t, err)
	other, _, err := m.Issue(testPrincipal())
	require.NoError(t, err)

	m.Revoke(issued)

	_, err = m.Verify(tok)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
	_, err = m.Verify(other)
	require.NoError(t, err)
}

func TestNewTokenManager_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewTokenManager(nil, time.Hour)
	require.Error(t, err)

	m, err := NewTokenManager([]byte("s"), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTokenTTL, m.TTL())
}
