package service

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"gymdesk/internal/domain"
	"gymdesk/internal/repository"
)

type NewPrincipal struct {
	Username string
	Password string
	Role     domain.Role
	Email    string
	FullName string
}

// PrincipalService manages the accounts that can log in.
type PrincipalService interface {
	Create(ctx context.Context, in NewPrincipal) (*domain.Profile, error)
	Get(ctx context.Context, id int64) (*domain.Profile, error)
	List(ctx context.Context, role domain.Role) ([]domain.Profile, error)
	SetStatus(ctx context.Context, id int64, status domain.PrincipalStatus) error
	EnsureAdmin(ctx context.Context, username, password, email string) (bool, error)
}

type principalService struct {
	principals repository.PrincipalRepository
	cost       int
	log        logrus.FieldLogger

	// serializes the last-admin check with the status write
	statusMu sync.Mutex
}

func NewPrincipalService(principals repository.PrincipalRepository, bcryptCost int, logger logrus.FieldLogger) PrincipalService {
	if logger == nil {
		logger = logrus.New()
	}
	return &principalService{
		principals: principals,
		cost:       bcryptCost,
		log:        logger.WithField("component", "principals"),
	}
}

func (s *principalService) Create(ctx context.Context, in NewPrincipal) (*domain.Profile, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)

	if in.Username == "" {
		return nil, badRequest("username is required")
	}
	if in.Password == "" {
		return nil, badRequest("password is required")
	}
	if !in.Role.Valid() {
		return nil, badRequest("role must be one of admin, trainer, member")
	}

	hash, err := hashPassword(in.Password, s.cost)
	if err != nil {
		return nil, err
	}

	principal := &domain.Principal{
		Username:     in.Username,
		PasswordHash: hash,
		Role:         in.Role,
		Email:        in.Email,
		FullName:     in.FullName,
		Status:       domain.StatusActive,
	}
	if _, err := s.principals.Create(ctx, principal); err != nil {
		return nil, storageErr("create user", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id": principal.ID,
		"role":    principal.Role,
	}).Info("user created")

	profile := principal.Profile()
	return &profile, nil
}

func (s *principalService) Get(ctx context.Context, id int64) (*domain.Profile, error) {
	principal, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return nil, storageErr("load user", err)
	}
	profile := principal.Profile()
	return &profile, nil
}

func (s *principalService) List(ctx context.Context, role domain.Role) ([]domain.Profile, error) {
	if role != "" && !role.Valid() {
		return nil, badRequest("unknown role")
	}
	principals, err := s.principals.List(ctx, role)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	profiles := make([]domain.Profile, len(principals))
	for i := range principals {
		profiles[i] = principals[i].Profile()
	}
	return profiles, nil
}

func (s *principalService) SetStatus(ctx context.Context, id int64, status domain.PrincipalStatus) error {
	if !status.Valid() {
		return badRequest("status must be active or inactive")
	}

	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if status == domain.StatusInactive {
		if err := s.keepOneActiveAdmin(ctx, id); err != nil {
			return err
		}
	}
	if err := s.principals.UpdateStatus(ctx, id, status); err != nil {
		return storageErr("update user status", err)
	}
	s.log.WithFields(logrus.Fields{
		"user_id": id,
		"status":  status,
	}).Info("user status changed")
	return nil
}

// keepOneActiveAdmin refuses to deactivate id when it is the only active administrator.
func (s *principalService) keepOneActiveAdmin(ctx context.Context, id int64) error {
	principal, err := s.principals.GetByID(ctx, id)
	if err != nil {
		return storageErr("load user", err)
	}
	if principal.Role != domain.RoleAdmin || principal.Status != domain.StatusActive {
		return nil
	}
	active, err := s.principals.CountActiveByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return storageErr("count active admins", err)
	}
	if active <= 1 {
		return badRequest("cannot deactivate the last active administrator")
	}
	return nil
}

// EnsureAdmin creates an administrator when none exists yet. It reports whether
// one was created.
func (s *principalService) EnsureAdmin(ctx context.Context, username, password, email string) (bool, error) {
	count, err := s.principals.CountByRole(ctx, domain.RoleAdmin)
	if err != nil {
		return false, storageErr("count admins", err)
	}
	if count > 0 {
		return false, nil
	}

	_, err = s.Create(ctx, NewPrincipal{
		Username: username,
		Password: password,
		Role:     domain.RoleAdmin,
		Email:    email,
		FullName: "Administrator",
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
