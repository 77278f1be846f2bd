package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/rs/zerolog/log"
)

// listingRepo implements the Listing repository
type listingRepo struct {
	db *sql.DB
}

// NewListingRepo creates a new Listing repository
func NewListingRepo(dbPath string) (repo.ListingRepo, error) {
	db, err := openDB(dbPath, `
		CREATE TABLE IF NOT EXISTS xianyu_shop (
			item_id TEXT PRIMARY KEY,
			shop_name TEXT NOT NULL DEFAULT '',
			shop_price TEXT NOT NULL DEFAULT '',
			shop_desc TEXT NOT NULL DEFAULT '',
			shop_other TEXT NOT NULL DEFAULT '',
			buy_success_replies TEXT NOT NULL DEFAULT '',
			plugins_config TEXT NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		return nil, err
	}
	return &listingRepo{db: db}, nil
}

const listingColumns = `item_id, shop_name, shop_price, shop_desc, shop_other, buy_success_replies, plugins_config`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	var plugins string
	if err := row.Scan(&l.ListingID, &l.Title, &l.Price, &l.Description, &l.OtherNotes, &l.ShipReplyText, &plugins); err != nil {
		return nil, err
	}
	l.EnabledPlugins = decodePlugins(l.ListingID, plugins)
	return &l, nil
}

// decodePlugins treats malformed JSON as "no plugins" rather than failing the read
func decodePlugins(listingID, raw string) []string {
	if raw == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		log.Warn().Str("component", "listing").Str("listing", listingID).Err(err).Msg("malformed plugins_config, ignoring")
		return nil
	}
	return names
}

func encodePlugins(names []string) string {
	if names == nil {
		names = []string{}
	}
	b, _ := json.Marshal(names)
	return string(b)
}

// Get gets listing by ID
func (r *listingRepo) Get(ctx context.Context, listingID string) (*domain.Listing, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM xianyu_shop WHERE item_id = ?`, listingID)
	l, err := scanListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query listing: %w", err)
	}
	return l, nil
}

// EnsureDefault returns the listing, inserting placeholder values the first time it is seen
func (r *listingRepo) EnsureDefault(ctx context.Context, listingID string) (*domain.Listing, error) {
	def := domain.NewDefaultListing(listingID)
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO xianyu_shop (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, def.ListingID, def.Title, def.Price, def.Description, def.OtherNotes, def.ShipReplyText, encodePlugins(def.EnabledPlugins))
	if err != nil {
		return nil, fmt.Errorf("failed to insert default listing: %w", err)
	}
	return r.Get(ctx, listingID)
}

// UpsertScraped stores scraped metadata; curated columns are left alone on conflict
func (r *listingRepo) UpsertScraped(ctx context.Context, l *domain.Listing) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO xianyu_shop (`+listingColumns+`)
		VALUES (?, ?, ?, ?, '', '', ?)
		ON CONFLICT(item_id) DO UPDATE SET
			shop_name = excluded.shop_name,
			shop_price = excluded.shop_price,
			shop_desc = excluded.shop_desc
	`, l.ListingID, l.Title, l.Price, l.Description, encodePlugins(domain.DefaultEnabledPlugins))
	if err != nil {
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

// Save saves every listing field
func (r *listingRepo) Save(ctx context.Context, l *domain.Listing) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO xianyu_shop (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ListingID, l.Title, l.Price, l.Description, l.OtherNotes, l.ShipReplyText, encodePlugins(l.EnabledPlugins))
	if err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}
	return nil
}

// List lists all listings
func (r *listingRepo) List(ctx context.Context) ([]*domain.Listing, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM xianyu_shop ORDER BY item_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// Close closes the database connection
func (r *listingRepo) Close() error {
	return r.db.Close()
}
