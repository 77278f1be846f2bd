package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
)

// resourceRepo implements the transferred resource repository
type resourceRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewResourceRepo creates a new transferred resource repository
func NewResourceRepo(dbPath string) (repo.ResourceRepo, error) {
	db, err := openDB(dbPath,
		`CREATE TABLE IF NOT EXISTS pan_files (
			file_id TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			file_type INTEGER NOT NULL DEFAULT 1,
			share_link TEXT NOT NULL,
			pan_type TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pan_files_name ON pan_files(file_name)`,
		`CREATE INDEX IF NOT EXISTS idx_pan_files_created ON pan_files(created_at)`,
	)
	if err != nil {
		return nil, err
	}
	return &resourceRepo{db: db, now: time.Now}, nil
}

// Save inserts or replaces a resource
func (r *resourceRepo) Save(ctx context.Context, res *domain.TransferredResource) error {
	createdAt := res.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pan_files (file_id, file_name, file_type, share_link, pan_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.FileID, res.FileName, res.FileType, res.ShareLink, string(res.DriveType), createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save resource: %w", err)
	}
	return nil
}

// Delete deletes a resource record
func (r *resourceRepo) Delete(ctx context.Context, fileID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pan_files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return nil
}

// FindShareLinkByName finds the share link of an already transferred file
func (r *resourceRepo) FindShareLinkByName(ctx context.Context, fileName string) (string, error) {
	var link string
	err := r.db.QueryRowContext(ctx, `
		SELECT share_link FROM pan_files WHERE file_name = ? ORDER BY created_at DESC LIMIT 1
	`, fileName).Scan(&link)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query resource: %w", err)
	}
	return link, nil
}

// FindExpired finds resources older than ttl
func (r *resourceRepo) FindExpired(ctx context.Context, ttl time.Duration, drive domain.DriveType) ([]*domain.TransferredResource, error) {
	cutoff := r.now().Add(-ttl).Unix()

	query := `SELECT file_id, file_name, file_type, share_link, pan_type, created_at FROM pan_files WHERE created_at < ?`
	args := []any{cutoff}
	if drive != domain.DriveUnknown {
		query += ` AND pan_type = ?`
		args = append(args, string(drive))
	}
	query += ` ORDER BY created_at`

	return r.query(ctx, query, args...)
}

// List lists resources, newest first
func (r *resourceRepo) List(ctx context.Context, limit int) ([]*domain.TransferredResource, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, `
		SELECT file_id, file_name, file_type, share_link, pan_type, created_at
		FROM pan_files ORDER BY created_at DESC LIMIT ?
	`, limit)
}

func (r *resourceRepo) query(ctx context.Context, query string, args ...any) ([]*domain.TransferredResource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query resources: %w", err)
	}
	defer rows.Close()

	var out []*domain.TransferredResource
	for rows.Next() {
		var res domain.TransferredResource
		var drive string
		var createdAt int64
		if err := rows.Scan(&res.FileID, &res.FileName, &res.FileType, &res.ShareLink, &drive, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		res.DriveType = domain.DriveType(drive)
		res.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, &res)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (r *resourceRepo) Close() error {
	return r.db.Close()
}
