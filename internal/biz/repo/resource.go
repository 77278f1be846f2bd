package repo

import (
	"context"
	"time"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// ResourceRepo persists transferred drive resources
type ResourceRepo interface {
	// Save inserts or replaces a record keyed by FileID
	Save(ctx context.Context, res *domain.TransferredResource) error

	// Delete removes a record
	Delete(ctx context.Context, fileID string) error

	// FindShareLinkByName returns the stored share link for a file name, "" if absent
	FindShareLinkByName(ctx context.Context, fileName string) (string, error)

	// FindExpired lists records older than ttl; empty drive matches every drive
	FindExpired(ctx context.Context, ttl time.Duration, drive domain.DriveType) ([]*domain.TransferredResource, error)

	// List lists records, newest first
	List(ctx context.Context, limit int) ([]*domain.TransferredResource, error)
}

// SearchHistoryRepo is the append-only search log
type SearchHistoryRepo interface {
	Record(ctx context.Context, keyword string, resultCount int) error
	Recent(ctx context.Context, limit int) ([]*domain.SearchHistory, error)
}
