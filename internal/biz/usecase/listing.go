package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
)

// ErrListingNotFound is returned when an admin edit targets an unknown listing
var ErrListingNotFound = errors.New("listing not found")

// ListingUsecase handles listing metadata from scraping and admin edits
type ListingUsecase struct {
	listingRepo repo.ListingRepo
}

// NewListingUsecase creates a new listing usecase
func NewListingUsecase(listingRepo repo.ListingRepo) *ListingUsecase {
	return &ListingUsecase{listingRepo: listingRepo}
}

// RecordScraped stores metadata observed on the page.
// Blank scraped fields fall back to the placeholders.
func (uc *ListingUsecase) RecordScraped(ctx context.Context, l *domain.Listing) error {
	if l == nil || l.ListingID == "" {
		return errors.New("listing id required")
	}
	scraped := *l
	if strings.TrimSpace(scraped.Title) == "" {
		scraped.Title = domain.UnknownTitle
	}
	if strings.TrimSpace(scraped.Price) == "" {
		scraped.Price = domain.UnknownPrice
	}
	if strings.TrimSpace(scraped.Description) == "" {
		scraped.Description = domain.UnknownDescription
	}
	return uc.listingRepo.UpsertScraped(ctx, &scraped)
}

// Get returns a listing or ErrListingNotFound
func (uc *ListingUsecase) Get(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := uc.listingRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrListingNotFound
	}
	return l, nil
}

// List returns all listings
func (uc *ListingUsecase) List(ctx context.Context) ([]*domain.Listing, error) {
	return uc.listingRepo.List(ctx)
}

// ListingUpdate is a partial admin edit; nil fields are left unchanged
type ListingUpdate struct {
	Title          *string   `json:"title,omitempty"`
	Price          *string   `json:"price,omitempty"`
	Description    *string   `json:"description,omitempty"`
	OtherNotes     *string   `json:"other_notes,omitempty"`
	ShipReplyText  *string   `json:"ship_reply_text,omitempty"`
	EnabledPlugins *[]string `json:"enabled_plugins,omitempty"`
}

// Update applies an admin edit to an existing listing
func (uc *ListingUsecase) Update(ctx context.Context, id string, upd ListingUpdate) (*domain.Listing, error) {
	l, err := uc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Title != nil {
		l.Title = *upd.Title
	}
	if upd.Price != nil {
		l.Price = *upd.Price
	}
	if upd.Description != nil {
		l.Description = *upd.Description
	}
	if upd.OtherNotes != nil {
		l.OtherNotes = *upd.OtherNotes
	}
	if upd.ShipReplyText != nil {
		l.ShipReplyText = *upd.ShipReplyText
	}
	if upd.EnabledPlugins != nil {
		l.EnabledPlugins = append([]string(nil), *upd.EnabledPlugins...)
	}

	if err := uc.listingRepo.Save(ctx, l); err != nil {
		return nil, fmt.Errorf("save listing %s: %w", id, err)
	}
	return l, nil
}
