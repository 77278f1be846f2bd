package repo

import (
	"context"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// ListingRepo is the listing repository interface
// Responsible for per-item metadata and plugin configuration (SQLite)
type ListingRepo interface {
	// Get gets a listing by ID, nil if absent
	Get(ctx context.Context, listingID string) (*domain.Listing, error)

	// EnsureDefault returns the stored listing, creating the placeholder row on first sighting
	EnsureDefault(ctx context.Context, listingID string) (*domain.Listing, error)

	// UpsertScraped stores scraped title/price/description without touching curated fields
	UpsertScraped(ctx context.Context, listing *domain.Listing) error

	// Save writes every field (admin edit)
	Save(ctx context.Context, listing *domain.Listing) error

	// List lists all listings
	List(ctx context.Context) ([]*domain.Listing, error)
}
