package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gymdesk/internal/domain"
	"gymdesk/internal/repository"
)

const createBackupsTable = `
CREATE TABLE IF NOT EXISTS backups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	status TEXT NOT NULL,
	local_path TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL
);
`

const backupColumns = `id, status, local_path, location, size_bytes, error_message, created_at, updated_at, completed_at`

type BackupRepository struct {
	db *sql.DB
}

func NewBackupRepository(db *sql.DB) repository.BackupRepository {
	return &BackupRepository{db: db}
}

func (r *BackupRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createBackupsTable); err != nil {
		return fmt.Errorf("create backups table: %w", err)
	}
	return nil
}

func (r *BackupRepository) Create(ctx context.Context, backup *domain.Backup) (int64, error) {
	now := time.Now().UTC()
	backup.CreatedAt = now
	backup.UpdatedAt = now
	if backup.Status == "" {
		backup.Status = domain.BackupStatusPending
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO backups (status, local_path, location, size_bytes, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(backup.Status),
		backup.LocalPath,
		backup.Location,
		backup.SizeBytes,
		backup.ErrorMessage,
		backup.CreatedAt,
		backup.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert backup: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	backup.ID = id
	return id, nil
}

func (r *BackupRepository) Get(ctx context.Context, id int64) (*domain.Backup, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+backupColumns+`
FROM backups
WHERE id=?`,
		id,
	)
	return scanBackup(row)
}

func (r *BackupRepository) List(ctx context.Context) ([]domain.Backup, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+backupColumns+`
FROM backups
ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

func (r *BackupRepository) ListByStatuses(ctx context.Context, statuses ...domain.BackupStatus) ([]domain.Backup, error) {
	if len(statuses) == 0 {
		return []domain.Backup{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`
SELECT %s
FROM backups
WHERE status IN (%s)
ORDER BY id ASC`, backupColumns, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query backups by status: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

func (r *BackupRepository) MarkRunning(ctx context.Context, id int64, localPath string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE backups
SET status=?, local_path=?, error_message='', updated_at=?
WHERE id=?`,
		string(domain.BackupStatusRunning),
		localPath,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark backup running: %w", err)
	}
	return requireAffected(res, "backup")
}

func (r *BackupRepository) MarkCompleted(ctx context.Context, id int64, location string, size int64, completedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE backups
SET status=?, location=?, size_bytes=?, completed_at=?, updated_at=?
WHERE id=?`,
		string(domain.BackupStatusCompleted),
		location,
		size,
		completedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark backup completed: %w", err)
	}
	return requireAffected(res, "backup")
}

func (r *BackupRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE backups
SET status=?, error_message=?, updated_at=?
WHERE id=?`,
		string(domain.BackupStatusFailed),
		message,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark backup failed: %w", err)
	}
	return requireAffected(res, "backup")
}

func collectBackups(rows *sql.Rows) ([]domain.Backup, error) {
	backups := []domain.Backup{}
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return nil, err
		}
		backups = append(backups, *backup)
	}
	return backups, rows.Err()
}

func scanBackup(scanner interface {
	Scan(dest ...any) error
}) (*domain.Backup, error) {
	var (
		backup      domain.Backup
		status      string
		completedAt sql.NullTime
	)

	if err := scanner.Scan(
		&backup.ID,
		&status,
		&backup.LocalPath,
		&backup.Location,
		&backup.SizeBytes,
		&backup.ErrorMessage,
		&backup.CreatedAt,
		&backup.UpdatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("backup: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan backup: %w", err)
	}

	backup.Status = domain.BackupStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		backup.CompletedAt = &t
	}
	return &backup, nil
}
