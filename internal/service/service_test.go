package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gymdesk/internal/auth"
	"gymdesk/internal/repository"
	"gymdesk/internal/repository/sqlite"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type env struct {
	repo       repository.PrincipalRepository
	tokens     *auth.TokenManager
	clock      *fakeClock
	auth       AuthService
	principals PrincipalService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "gymdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewPrincipalRepository(db)
	require.NoError(t, repo.Init(context.Background()))

	clock := &fakeClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokenManager([]byte("test-secret"), auth.DefaultTokenTTL,
		auth.WithClock(clock.Now),
		auth.WithDenylist(auth.NewDenylist(clock.Now)),
	)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	authSvc, err := NewAuthService(repo, tokens, AuthConfig{BcryptCost: bcrypt.MinCost, Logger: logger})
	require.NoError(t, err)

	return &env{
		repo:       repo,
		tokens:     tokens,
		clock:      clock,
		auth:       authSvc,
		principals: NewPrincipalService(repo, bcrypt.MinCost, logger),
	}
}
