package repository

import (
	"context"
	"time"

	"gymdesk/internal/domain"
)

// BackupRepository exposes persistence operations for database backups.
type BackupRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, backup *domain.Backup) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Backup, error)
	List(ctx context.Context) ([]domain.Backup, error)
	ListByStatuses(ctx context.Context, statuses ...domain.BackupStatus) ([]domain.Backup, error)
	MarkRunning(ctx context.Context, id int64, localPath string) error
	MarkCompleted(ctx context.Context, id int64, location string, size int64, completedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, message string) error
}
