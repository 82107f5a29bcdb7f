package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gymdesk/internal/domain"
)

// DefaultTokenTTL is the validity window of a session token.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the JWT payload of a session token.
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64       `json:"id"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// TokenManager signs and verifies HS256 session tokens with a single process-wide secret.
type TokenManager struct {
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
	revoked *Denylist
}

// Option configures a TokenManager.
type Option func(*TokenManager)

// WithClock replaces time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(m *TokenManager) {
		m.now = now
	}
}

// WithDenylist makes Verify reject tokens whose id has been revoked.
func WithDenylist(d *Denylist) Option {
	return func(m *TokenManager) {
		m.revoked = d
	}
}

// NewTokenManager signs with secret; a non-positive ttl means DefaultTokenTTL.
func NewTokenManager(secret []byte, ttl time.Duration, opts ...Option) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	m := &TokenManager{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL is the lifetime of issued tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for the principal, valid from now until now+TTL.
func (m *TokenManager) Issue(principal *domain.Principal) (string, *domain.Claims, error) {
	issuedAt := jwt.NewNumericDate(m.now())
	expiresAt := jwt.NewNumericDate(issuedAt.Add(m.ttl))

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(principal.ID, 10),
			IssuedAt:  issuedAt,
			ExpiresAt: expiresAt,
		},
		UserID:   principal.ID,
		Username: principal.Username,
		Role:     principal.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.toDomain(), nil
}

// Verify checks signature, algorithm, expiry and revocation. Every failure is ErrInvalidToken.
func (m *TokenManager) Verify(tokenString string) (*domain.Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	if claims.UserID <= 0 || claims.Username == "" || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", domain.ErrInvalidToken)
	}
	if m.revoked != nil && m.revoked.Contains(claims.ID) {
		return nil, fmt.Errorf("%w: revoked", domain.ErrInvalidToken)
	}
	return claims.toDomain(), nil
}

// Revoke denies the token id until its natural expiry. It is a no-op without a denylist.
func (m *TokenManager) Revoke(claims *domain.Claims) {
	if m.revoked == nil || claims == nil || claims.TokenID == "" {
		return
	}
	m.revoked.Add(claims.TokenID, claims.ExpiresAt)
}

func (c *Claims) toDomain() *domain.Claims {
	out := &domain.Claims{
		TokenID:  c.ID,
		ID:       c.UserID,
		Username: c.Username,
		Role:     c.Role,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}
