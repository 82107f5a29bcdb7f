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

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL CHECK(role IN ('admin', 'trainer', 'member')),
	email TEXT NOT NULL DEFAULT '',
	full_name TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'inactive')),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`

const principalColumns = `id, username, password_hash, role, email, full_name, status, created_at, updated_at`

type PrincipalRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPrincipalRepository(db *sql.DB) repository.PrincipalRepository {
	return &PrincipalRepository{db: db, now: time.Now}
}

func (r *PrincipalRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return r.ensureUserColumns(ctx)
}

// ensureUserColumns upgrades users tables written before full_name and status existed.
func (r *PrincipalRepository) ensureUserColumns(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(users)`)
	if err != nil {
		return fmt.Errorf("describe users table: %w", err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan pragma table info: %w", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pragma table info: %w", err)
	}

	addColumn := func(name, statement string) error {
		if _, exists := columns[name]; exists {
			return nil
		}
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
		return nil
	}

	if err := addColumn("full_name", `ALTER TABLE users ADD COLUMN full_name TEXT NOT NULL DEFAULT ''`); err != nil {
		return err
	}
	if err := addColumn("status", `ALTER TABLE users ADD COLUMN status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'inactive'))`); err != nil {
		return err
	}
	return nil
}

func (r *PrincipalRepository) Create(ctx context.Context, principal *domain.Principal) (int64, error) {
	now := r.now().UTC()
	principal.CreatedAt = now
	principal.UpdatedAt = now
	if principal.Status == "" {
		principal.Status = domain.StatusActive
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO users (username, password_hash, role, email, full_name, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		principal.Username,
		principal.PasswordHash,
		string(principal.Role),
		principal.Email,
		principal.FullName,
		string(principal.Status),
		principal.CreatedAt,
		principal.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return 0, fmt.Errorf("user %q: %w", principal.Username, domain.ErrAlreadyExists)
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("user last insert id: %w", err)
	}
	principal.ID = id
	return id, nil
}

func (r *PrincipalRepository) GetByUsername(ctx context.Context, username string) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+principalColumns+`
FROM users
WHERE username = ?`,
		username,
	)
	return scanPrincipal(row)
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id int64) (*domain.Principal, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+principalColumns+`
FROM users
WHERE id = ?`,
		id,
	)
	return scanPrincipal(row)
}

// List returns principals ordered by id. An empty role lists every principal.
func (r *PrincipalRepository) List(ctx context.Context, role domain.Role) ([]domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = ?`
		args = append(args, string(role))
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	principals := []domain.Principal{}
	for rows.Next() {
		principal, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, *principal)
	}
	return principals, rows.Err()
}

func (r *PrincipalRepository) CountByRole(ctx context.Context, role domain.Role) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = ?`, string(role)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// CountActiveByRole counts principals of role that can still log in.
func (r *PrincipalRepository) CountActiveByRole(ctx context.Context, role domain.Role) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = ? AND status = ?`,
		string(role), string(domain.StatusActive)).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}

func (r *PrincipalRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET password_hash=?, updated_at=?
WHERE id=?`,
		hash,
		r.now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return requireAffected(res, "user")
}

func (r *PrincipalRepository) UpdateStatus(ctx context.Context, id int64, status domain.PrincipalStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE users
SET status=?, updated_at=?
WHERE id=?`,
		string(status),
		r.now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return requireAffected(res, "user")
}

func requireAffected(res sql.Result, what string) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if aff == 0 {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return nil
}

func scanPrincipal(row interface {
	Scan(dest ...any) error
}) (*domain.Principal, error) {
	var (
		principal domain.Principal
		role      string
		status    string
	)
	if err := row.Scan(
		&principal.ID,
		&principal.Username,
		&principal.PasswordHash,
		&role,
		&principal.Email,
		&principal.FullName,
		&status,
		&principal.CreatedAt,
		&principal.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	principal.Role = domain.Role(role)
	principal.Status = domain.PrincipalStatus(status)
	return &principal, nil
}
