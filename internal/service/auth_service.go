package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"gymdesk/internal/auth"
	"gymdesk/internal/domain"
	"gymdesk/internal/repository"
)

// AuthService verifies credentials and issues, checks and revokes session tokens.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (*domain.Session, error)
	Verify(ctx context.Context, token string) (*domain.Claims, error)
	ChangePassword(ctx context.Context, principalID int64, oldPassword, newPassword string) error
	Logout(ctx context.Context, token string) error
}

type AuthConfig struct {
	BcryptCost int
	Logger     logrus.FieldLogger
}

type authService struct {
	principals repository.PrincipalRepository
	tokens     *auth.TokenManager
	cost       int
	log        logrus.FieldLogger

	// compared against when the username is unknown so every miss costs one bcrypt round
	dummyHash string
}

func NewAuthService(principals repository.PrincipalRepository, tokens *auth.TokenManager, cfg AuthConfig) (AuthService, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	dummy, err := hashPassword("gymdesk-placeholder", cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	return &authService{
		principals: principals,
		tokens:     tokens,
		cost:       cfg.BcryptCost,
		log:        cfg.Logger.WithField("component", "auth"),
		dummyHash:  dummy,
	}, nil
}

func (s *authService) Authenticate(ctx context.Context, username, password string) (*domain.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, badRequest("username and password are required")
	}

	principal, err := s.principals.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			passwordMatches(s.dummyHash, password)
			s.log.WithField("username", username).Debug("login rejected: unknown user")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, storageErr("load user", err)
	}

	matches := passwordMatches(principal.PasswordHash, password)
	if principal.Status != domain.StatusActive {
		s.log.WithField("username", username).Debug("login rejected: inactive")
		return nil, domain.ErrInvalidCredentials
	}
	if !matches {
		s.log.WithField("username", username).Debug("login rejected: password mismatch")
		return nil, domain.ErrInvalidCredentials
	}

	token, claims, err := s.tokens.Issue(principal)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id": principal.ID,
		"role":    principal.Role,
	}).Info("login succeeded")

	return &domain.Session{
		Token:     token,
		ExpiresAt: claims.ExpiresAt,
		Principal: principal.Profile(),
	}, nil
}

func (s *authService) Verify(_ context.Context, token string) (*domain.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.ErrInvalidToken
	}
	return s.tokens.Verify(token)
}

func (s *authService) ChangePassword(ctx context.Context, principalID int64, oldPassword, newPassword string) error {
	if newPassword == "" {
		return badRequest("new password is required")
	}

	principal, err := s.principals.GetByID(ctx, principalID)
	if err != nil {
		return storageErr("load user", err)
	}

	if !passwordMatches(principal.PasswordHash, oldPassword) {
		return domain.ErrInvalidCredentials
	}

	hash, err := hashPassword(newPassword, s.cost)
	if err != nil {
		return err
	}
	if err := s.principals.UpdatePasswordHash(ctx, principal.ID, hash); err != nil {
		return storageErr("update password", err)
	}

	s.log.WithField("user_id", principal.ID).Info("password changed")
	return nil
}

// Logout revokes the token until it would have expired. Other tokens of the same
// principal stay valid.
func (s *authService) Logout(ctx context.Context, token string) error {
	claims, err := s.Verify(ctx, token)
	if err != nil {
		return err
	}
	s.tokens.Revoke(claims)
	s.log.WithField("user_id", claims.ID).Info("logged out")
	return nil
}
