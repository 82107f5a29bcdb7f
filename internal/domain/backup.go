package domain

import "time"

type BackupStatus string

const (
	BackupStatusPending   BackupStatus = "pending"
	BackupStatusRunning   BackupStatus = "running"
	BackupStatusCompleted BackupStatus = "completed"
	BackupStatusFailed    BackupStatus = "failed"
)

// Backup tracks one snapshot of the local database.
type Backup struct {
	ID           int64        `json:"id"`
	Status       BackupStatus `json:"status"`
	LocalPath    string       `json:"local_path"`
	Location     string       `json:"location,omitempty"`
	SizeBytes    int64        `json:"size_bytes"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}
