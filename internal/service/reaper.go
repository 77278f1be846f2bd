package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultReapInterval is how often expired resources are swept
const DefaultReapInterval = 60 * time.Second

// Reaper deletes expired drive resources once
type Reaper interface {
	ReapOnce(ctx context.Context) (int, error)
}

// ExpiryReaper runs the expiry sweep on a fixed interval
type ExpiryReaper struct {
	reaper   Reaper
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExpiryReaper creates a new reaper loop
func NewExpiryReaper(reaper Reaper, interval time.Duration) *ExpiryReaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &ExpiryReaper{reaper: reaper, interval: interval}
}

// Start sweeps once immediately, then every interval until Stop or ctx is done
func (r *ExpiryReaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.loop(ctx)

	log.Info().Str("component", "reaper").Dur("interval", r.interval).Msg("Reaper started")
}

// Stop stops the loop and waits for an in-flight sweep
func (r *ExpiryReaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	log.Info().Str("component", "reaper").Msg("Reaper stopped")
}

func (r *ExpiryReaper) loop(ctx context.Context) {
	defer r.wg.Done()

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *ExpiryReaper) sweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("component", "reaper").Interface("panic", rec).Msg("Sweep panicked")
		}
	}()

	n, err := r.reaper.ReapOnce(ctx)
	if err != nil {
		log.Error().Str("component", "reaper").Err(err).Msg("Sweep failed")
		return
	}
	if n > 0 {
		log.Info().Str("component", "reaper").Int("deleted", n).Msg("Expired resources deleted")
	}
}
