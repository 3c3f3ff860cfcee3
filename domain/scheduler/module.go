package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/Jalalidin/knowledgevault-sub001/domain/wechat"
	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/internal/jobs"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
)

// Module provides scheduled maintenance tasks
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Store     wechat.Store
	Queue     *jobs.Queue
	Cfg       *config.Config
	Log       *slog.Logger
}

// RegisterTasks registers all scheduled tasks. A bad schedule is logged and
// the task skipped.
func RegisterTasks(p TaskParams) error {
	cfg := p.Cfg.Scheduler
	if !cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	purge := NewTokenPurgeTask(p.Store, cfg.PendingRowRetention, p.Log)
	if err := p.Scheduler.AddCronTask("link_token_purge", cfg.TokenPurgeSchedule, purge.Run); err != nil {
		p.Log.Error("failed to register link token purge task", logger.Error(err))
	}

	stale := NewStaleJobRecoveryTask(p.Queue, cfg.StaleJobMinutes, p.Log)
	if err := p.Scheduler.AddCronTask("stale_job_recovery", cfg.StaleJobSchedule, stale.Run); err != nil {
		p.Log.Error("failed to register stale job recovery task", logger.Error(err))
	}

	p.Log.Info("registered scheduled tasks", slog.Any("tasks", p.Scheduler.ListTasks()))
	return nil
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
