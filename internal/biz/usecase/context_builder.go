package usecase

import (
	"context"
	"fmt"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
)

// ContextBuilderUsecase turns an extracted conversation into the per-tick context
type ContextBuilderUsecase struct {
	listingRepo repo.ListingRepo
	detection   domain.DetectionConfig
}

// NewContextBuilderUsecase creates a new context builder usecase
func NewContextBuilderUsecase(listingRepo repo.ListingRepo, detection domain.DetectionConfig) *ContextBuilderUsecase {
	return &ContextBuilderUsecase{listingRepo: listingRepo, detection: detection}
}

// LoadListing reloads the listing configuration, creating the default row on first sighting
func (uc *ContextBuilderUsecase) LoadListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	listing, err := uc.listingRepo.EnsureDefault(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("load listing %s: %w", listingID, err)
	}
	return listing, nil
}

// BuildConversation computes flags and assembles the context handed to the plugin chain
func (uc *ContextBuilderUsecase) BuildConversation(listing *domain.Listing, userName string, rows []domain.Message) domain.ConversationContext {
	flags := domain.DetectFlags(rows, uc.detection)

	enabled := make([]string, len(listing.EnabledPlugins))
	copy(enabled, listing.EnabledPlugins)

	return domain.ConversationContext{
		ListingID:           listing.ListingID,
		UserName:            userName,
		Messages:            rows,
		IsPaidUnshipped:     flags.IsPaidUnshipped,
		EscalationRequested: flags.EscalationRequested,
		EnabledPlugins:      enabled,
	}
}

// TruncateHistory keeps the last maxCount chat messages (0 = no limit)
func TruncateHistory(messages []domain.Message, maxCount int) []domain.Message {
	n := len(messages)
	if maxCount <= 0 || maxCount >= n {
		return messages
	}
	return messages[n-maxCount:]
}
