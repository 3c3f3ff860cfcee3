package knowledge

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/internal/jobs"
	"github.com/Jalalidin/knowledgevault-sub001/internal/storage"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/wechat"
)

// JobsTable holds deferred processing jobs.
const JobsTable = "kb.knowledge_processing_jobs"

// Module provides knowledge item storage, ingestion and deferred processing.
var Module = fx.Module("knowledge",
	fx.Provide(NewRepository),
	fx.Provide(NewAnalyzer),
	fx.Provide(newQueue),
	fx.Provide(newService),
	fx.Provide(newProcessor),
	fx.Provide(newWorker),
	fx.Invoke(registerWorkerLifecycle),
)

func newQueue(db bun.IDB, cfg *config.Config, log *slog.Logger) *jobs.Queue {
	qc := jobs.DefaultQueueConfig(JobsTable, "item_id")
	qc.MaxAttempts = cfg.Processing.MaxAttempts
	qc.BatchSize = cfg.Processing.BatchSize
	return jobs.NewQueue(db, qc, log)
}

func newService(repo *Repository, queue *jobs.Queue, log *slog.Logger) *Service {
	return NewService(repo, queue, log)
}

func newProcessor(repo *Repository, analyzer *Analyzer, objects *storage.Service, media *wechat.Client, log *slog.Logger) *Processor {
	return NewProcessor(repo, analyzer, objects, media, log)
}

func newWorker(cfg *config.Config, queue *jobs.Queue, p *Processor, log *slog.Logger) *jobs.Worker {
	wc := jobs.DefaultWorkerConfig("knowledge-processing")
	wc.PollInterval = cfg.Processing.PollInterval
	wc.BatchSize = cfg.Processing.BatchSize
	wc.StaleThresholdMinutes = cfg.Scheduler.StaleJobMinutes
	return jobs.NewWorker(wc, queue, p.Process, log)
}

func registerWorkerLifecycle(lc fx.Lifecycle, cfg *config.Config, w *jobs.Worker, log *slog.Logger) {
	if !cfg.Processing.Enabled {
		log.Info("knowledge processing worker disabled")
		return
	}

	// The worker outlives the start hook's context.
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start(runCtx)
		},
		OnStop: func(ctx context.Context) error {
			defer cancel()
			return w.Stop(ctx)
		},
	})
}
