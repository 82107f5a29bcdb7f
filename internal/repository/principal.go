package repository

import (
	"context"

	"gymdesk/internal/domain"
)

// PrincipalRepository defines persistence operations for Principal entities.
type PrincipalRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, principal *domain.Principal) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.Principal, error)
	GetByID(ctx context.Context, id int64) (*domain.Principal, error)
	List(ctx context.Context, role domain.Role) ([]domain.Principal, error)
	CountByRole(ctx context.Context, role domain.Role) (int, error)
	CountActiveByRole(ctx context.Context, role domain.Role) (int, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	UpdateStatus(ctx context.Context, id int64, status domain.PrincipalStatus) error
}
