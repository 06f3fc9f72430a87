package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// ReaperConfig tunes the two maintenance jobs.
type ReaperConfig struct {
	StuckLockTimeout time.Duration // processing rows locked longer than this are released
	ReaperInterval   time.Duration // how often stuck rows are swept
	CleanupInterval  time.Duration // how often terminal rows are purged
	RetentionPeriod  time.Duration // terminal rows older than this are deleted
}

// Reaper runs the queue maintenance jobs: releasing stuck claims from crashed
// workers and purging aged terminal rows.
type Reaper struct {
	msgRepo domain.MessageQueueRepository
	cfg     ReaperConfig
	logger  *slog.Logger
}

func NewReaper(msgRepo domain.MessageQueueRepository, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	return &Reaper{
		msgRepo: msgRepo,
		cfg:     cfg,
		logger:  logger.With("component", "reaper"),
	}
}

// Run drives both jobs on their own intervals until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.logger.InfoContext(ctx, "Reaper started",
		"stuck_lock_timeout", r.cfg.StuckLockTimeout, "retention_period", r.cfg.RetentionPeriod)

	stuckTicker := time.NewTicker(r.cfg.ReaperInterval)
	defer stuckTicker.Stop()
	cleanupTicker := time.NewTicker(r.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Reaper stopping")
			return
		case <-stuckTicker.C:
			r.ReleaseStuckMessages(ctx)
		case <-cleanupTicker.C:
			r.CleanupMessageQueue(ctx)
		}
	}
}

// ReleaseStuckMessages returns processing rows whose lock outlived the
// timeout to pending. Covers workers that died mid-batch.
func (r *Reaper) ReleaseStuckMessages(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.StuckLockTimeout)
	released, err := r.msgRepo.ReleaseStuck(ctx, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to release stuck messages", "error", err)
		return
	}
	if released > 0 {
		stuckMessagesReleasedTotal.Add(float64(released))
		r.logger.WarnContext(ctx, "Released stuck messages", "count", released, "locked_before", cutoff)
	}
}

// CleanupMessageQueue purges terminal rows older than the retention period.
func (r *Reaper) CleanupMessageQueue(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.RetentionPeriod)
	deleted, err := r.msgRepo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to purge old messages", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.InfoContext(ctx, "Purged old terminal messages", "count", deleted, "cutoff", cutoff)
	}
}
