package repo

import (
	"context"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
)

// Drive is a cloud-drive transfer engine
type Drive interface {
	// Type returns the provider handled by this drive
	Type() domain.DriveType

	// Transfer saves a shared item into our drive and re-shares it.
	// An already-recorded file name short-circuits with IsNew=false.
	Transfer(ctx context.Context, shareURL string) (*domain.TransferResult, error)

	// DeleteFile removes a file from our drive
	DeleteFile(ctx context.Context, fileID string) error
}

// SearchSource is one third-party resource search endpoint
type SearchSource interface {
	Name() string
	Search(ctx context.Context, keyword string) ([]domain.Candidate, error)
}
