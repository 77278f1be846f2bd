package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
)

// searchHistoryRepo implements the append-only search log
type searchHistoryRepo struct {
	db *sql.DB
}

// NewSearchHistoryRepo creates a new search history repository
func NewSearchHistoryRepo(dbPath string) (repo.SearchHistoryRepo, error) {
	db, err := openDB(dbPath, `
		CREATE TABLE IF NOT EXISTS search_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword TEXT NOT NULL,
			result_count INTEGER NOT NULL,
			search_time INTEGER NOT NULL
		)
	`)
	if err != nil {
		return nil, err
	}
	return &searchHistoryRepo{db: db}, nil
}

// Record appends one search
func (r *searchHistoryRepo) Record(ctx context.Context, keyword string, resultCount int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO search_history (keyword, result_count, search_time) VALUES (?, ?, ?)
	`, keyword, resultCount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record search: %w", err)
	}
	return nil
}

// Recent returns the latest searches, newest first
func (r *searchHistoryRepo) Recent(ctx context.Context, limit int) ([]*domain.SearchHistory, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, keyword, result_count, search_time
		FROM search_history ORDER BY search_time DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query search history: %w", err)
	}
	defer rows.Close()

	var out []*domain.SearchHistory
	for rows.Next() {
		var h domain.SearchHistory
		var ts int64
		if err := rows.Scan(&h.ID, &h.Keyword, &h.ResultCount, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan search history: %w", err)
		}
		h.SearchTime = time.Unix(ts, 0)
		out = append(out, &h)
	}
	return out, rows.Err()
}

// Close closes the database connection
func (r *searchHistoryRepo) Close() error {
	return r.db.Close()
}
