package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devricklin/xianyu-assistant/internal/biz/domain"
	"github.com/devricklin/xianyu-assistant/internal/biz/repo"
	"github.com/devricklin/xianyu-assistant/internal/metrics"
)

// ExpiryUsecase deletes transferred resources once they outlive their TTL
type ExpiryUsecase struct {
	resources repo.ResourceRepo
	drives    []repo.Drive
	ttl       time.Duration
}

// NewExpiryUsecase creates a new expiry usecase
func NewExpiryUsecase(resources repo.ResourceRepo, drives []repo.Drive, ttl time.Duration) *ExpiryUsecase {
	if ttl <= 0 {
		ttl = DefaultTTLMinutes * time.Minute
	}
	return &ExpiryUsecase{resources: resources, drives: drives, ttl: ttl}
}

// TTL returns the resource lifetime
func (uc *ExpiryUsecase) TTL() time.Duration {
	return uc.ttl
}

// ReapOnce deletes every expired resource from its drive, then from the store.
// The record is removed even when the drive deletion fails.
func (uc *ExpiryUsecase) ReapOnce(ctx context.Context) (int, error) {
	reaped := 0
	for _, drive := range uc.drives {
		if ctx.Err() != nil {
			return reaped, ctx.Err()
		}

		expired, err := uc.resources.FindExpired(ctx, uc.ttl, drive.Type())
		if err != nil {
			return reaped, fmt.Errorf("find expired %s resources: %w", drive.Type(), err)
		}
		if len(expired) > 0 {
			log.Info().Str("component", "reaper").Str("drive", string(drive.Type())).Int("count", len(expired)).Msg("found expired resources")
		}

		for _, res := range expired {
			if ctx.Err() != nil {
				return reaped, ctx.Err()
			}
			if uc.reapOne(ctx, drive, res) {
				reaped++
			}
		}
	}
	return reaped, nil
}

func (uc *ExpiryUsecase) reapOne(ctx context.Context, drive repo.Drive, res *domain.TransferredResource) bool {
	logger := log.With().Str("component", "reaper").Str("file_id", res.FileID).Str("file_name", res.FileName).Logger()

	// the record goes either way so share-link dedup never serves an expired file
	if err := drive.DeleteFile(ctx, res.FileID); err != nil {
		logger.Warn().Err(err).Msg("failed to delete drive file, dropping record anyway")
	}
	if err := uc.resources.Delete(ctx, res.FileID); err != nil {
		logger.Error().Err(err).Msg("failed to delete resource record")
		return false
	}

	metrics.Reaped.WithLabelValues(string(drive.Type())).Inc()
	logger.Info().Msg("expired resource deleted")
	return true
}
