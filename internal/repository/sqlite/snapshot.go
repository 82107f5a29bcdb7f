package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshotter writes consistent copies of an open database.
type Snapshotter struct {
	db *sql.DB
}

func NewSnapshotter(db *sql.DB) *Snapshotter {
	return &Snapshotter{db: db}
}

// Snapshot copies the database into path using VACUUM INTO. The target must not exist.
func (s *Snapshotter) Snapshot(ctx context.Context, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create snapshot dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("snapshot target %s already exists", path)
	}

	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return 0, fmt.Errorf("vacuum into %s: %w", path, err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat snapshot: %w", err)
	}
	return fi.Size(), nil
}
