package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
)

// TokenPurger deletes pending link rows whose token expired before a time.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context, before time.Time) (int, error)
}

// TokenPurgeTask removes pending link rows left behind by QR codes that
// were never scanned.
type TokenPurgeTask struct {
	store     TokenPurger
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewTokenPurgeTask(store TokenPurger, retention time.Duration, log *slog.Logger) *TokenPurgeTask {
	return &TokenPurgeTask{
		store:     store,
		retention: retention,
		now:       time.Now,
		log:       log.With(logger.Scope("scheduler.token_purge")),
	}
}

func (t *TokenPurgeTask) Run(ctx context.Context) error {
	n, err := t.store.PurgeExpiredTokens(ctx, t.now().Add(-t.retention))
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Info("purged expired link tokens", slog.Int("count", n))
	}
	return nil
}

// StaleRecoverer resets jobs stuck in processing.
type StaleRecoverer interface {
	RecoverStaleJobs(ctx context.Context, staleThresholdMinutes int) (int, error)
}

// StaleJobRecoveryTask returns jobs abandoned by a crashed worker to the
// pending state.
type StaleJobRecoveryTask struct {
	queue   StaleRecoverer
	minutes int
	log     *slog.Logger
}

func NewStaleJobRecoveryTask(queue StaleRecoverer, minutes int, log *slog.Logger) *StaleJobRecoveryTask {
	return &StaleJobRecoveryTask{
		queue:   queue,
		minutes: minutes,
		log:     log.With(logger.Scope("scheduler.stale_jobs")),
	}
}

func (t *StaleJobRecoveryTask) Run(ctx context.Context) error {
	n, err := t.queue.RecoverStaleJobs(ctx, t.minutes)
	if err != nil {
		return err
	}
	if n > 0 {
		t.log.Warn("recovered stale processing jobs", slog.Int("count", n))
	}
	return nil
}
