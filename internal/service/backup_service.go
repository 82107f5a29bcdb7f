package service

import (
	"context"
	"time"

	"gymdesk/internal/domain"
	"gymdesk/internal/repository"
)

// BackupService records database backups and their progress.
type BackupService interface {
	CreateBackup(ctx context.Context) (*domain.Backup, error)
	GetBackup(ctx context.Context, id int64) (*domain.Backup, error)
	ListBackups(ctx context.Context) ([]domain.Backup, error)
	ListByStatuses(ctx context.Context, statuses ...domain.BackupStatus) ([]domain.Backup, error)
	MarkRunning(ctx context.Context, id int64, localPath string) error
	MarkCompleted(ctx context.Context, id int64, location string, size int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
}

type backupService struct {
	backups repository.BackupRepository
}

func NewBackupService(backups repository.BackupRepository) BackupService {
	return &backupService{backups: backups}
}

func (s *backupService) CreateBackup(ctx context.Context) (*domain.Backup, error) {
	backup := &domain.Backup{Status: domain.BackupStatusPending}
	if _, err := s.backups.Create(ctx, backup); err != nil {
		return nil, storageErr("create backup", err)
	}
	return backup, nil
}

func (s *backupService) GetBackup(ctx context.Context, id int64) (*domain.Backup, error) {
	backup, err := s.backups.Get(ctx, id)
	if err != nil {
		return nil, storageErr("load backup", err)
	}
	return backup, nil
}

func (s *backupService) ListBackups(ctx context.Context) ([]domain.Backup, error) {
	backups, err := s.backups.List(ctx)
	return backups, storageErr("list backups", err)
}

func (s *backupService) ListByStatuses(ctx context.Context, statuses ...domain.BackupStatus) ([]domain.Backup, error) {
	backups, err := s.backups.ListByStatuses(ctx, statuses...)
	return backups, storageErr("list backups", err)
}

func (s *backupService) MarkRunning(ctx context.Context, id int64, localPath string) error {
	return storageErr("mark backup running", s.backups.MarkRunning(ctx, id, localPath))
}

func (s *backupService) MarkCompleted(ctx context.Context, id int64, location string, size int64) error {
	return storageErr("mark backup completed", s.backups.MarkCompleted(ctx, id, location, size, time.Now()))
}

func (s *backupService) MarkFailed(ctx context.Context, id int64, message string) error {
	return storageErr("mark backup failed", s.backups.MarkFailed(ctx, id, message))
}
