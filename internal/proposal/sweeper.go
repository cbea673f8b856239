package proposal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// Registry is what the sweeper needs from the proposal owner.
type Registry interface {
	// Due lists proposals that are expired and pending, or decided but not
	// yet settled.
	Due(ctx context.Context, now time.Time) ([]string, error)
	Finalize(ctx context.Context, id string) (Result, error)
}

// Sweeper finalizes due proposals on a timer. It goes through the same
// Finalize path as manual triggers, so it never double-applies.
type Sweeper struct {
	registry Registry
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. interval defaults to 30s.
func NewSweeper(registry Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps once immediately, then every interval. Call in a goroutine.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep finalizes every due proposal and returns how many settled.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ids, err := s.registry.Due(ctx, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "list due proposals failed", slog.String("error", err.Error()))
		return 0
	}
	settled := 0
	for _, id := range ids {
		res, err := s.registry.Finalize(ctx, id)
		switch {
		case err == nil:
			if res.Settled {
				settled++
			}
		case errors.Is(err, domain.ErrAlreadyFinalized),
			errors.Is(err, domain.ErrOutcomePending),
			errors.Is(err, domain.ErrLockHeld),
			errors.Is(err, domain.ErrProposalNotExpired):
			s.logger.DebugContext(ctx, "proposal not finalized", slog.String("proposal_id", id), slog.String("reason", err.Error()))
		default:
			s.logger.ErrorContext(ctx, "finalize proposal failed", slog.String("proposal_id", id), slog.String("error", err.Error()))
		}
	}
	if len(ids) > 0 {
		s.logger.InfoContext(ctx, "sweep complete", slog.Int("due", len(ids)), slog.Int("settled", settled))
	}
	return settled
}
