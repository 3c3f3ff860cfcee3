package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type WorkerConfig struct {
	// Name is used in logs
	Name         string
	PollInterval time.Duration
	BatchSize    int
	// StaleThresholdMinutes is how long a job may stay 'processing' before
	// RecoverStaleOnStart returns it to the queue.
	StaleThresholdMinutes int
	RecoverStaleOnStart   bool
}

func DefaultWorkerConfig(name string) WorkerConfig {
	return WorkerConfig{
		Name:                  name,
		PollInterval:          5 * time.Second,
		BatchSize:             10,
		StaleThresholdMinutes: 10,
		RecoverStaleOnStart:   true,
	}
}

// Handler processes a single claimed job.
type Handler func(ctx context.Context, job Job) error

// Worker polls a Queue and hands each claimed job to a Handler. Failed jobs
// go back to the queue through MarkFailed.
type Worker struct {
	config  WorkerConfig
	queue   *Queue
	handler Handler
	log     *slog.Logger

	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex

	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

func NewWorker(config WorkerConfig, queue *Queue, handler Handler, log *slog.Logger) *Worker {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.StaleThresholdMinutes == 0 {
		config.StaleThresholdMinutes = 10
	}

	return &Worker{
		config:    config,
		queue:     queue,
		handler:   handler,
		log:       log.With(slog.String("worker", config.Name)),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins the polling loop. The loop runs until Stop is called or ctx
// is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	if w.config.RecoverStaleOnStart {
		if _, err := w.queue.RecoverStaleJobs(ctx, w.config.StaleThresholdMinutes); err != nil {
			w.log.Warn("stale job recovery failed", slog.String("error", err.Error()))
		}
	}

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize))

	go w.run(ctx)
	return nil
}

// Stop waits for the current batch to finish, or for ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.stoppedCh:
		w.log.Info("worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("worker stop timeout, forcing shutdown")
	}
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stoppedCh)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				w.log.Warn("process batch failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ProcessBatch claims one batch and runs the handler on each job.
func (w *Worker) ProcessBatch(ctx context.Context) error {
	select {
	case <-w.stopCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	batch, err := w.queue.Dequeue(ctx, w.config.BatchSize)
	if err != nil {
		return err
	}

	for _, job := range batch {
		if err := w.handler(ctx, job); err != nil {
			w.IncrementFailure()
			w.log.Warn("job failed",
				slog.String("job_id", job.ID),
				slog.String("entity_id", job.EntityID),
				slog.String("error", err.Error()))
			if _, markErr := w.queue.MarkFailed(ctx, job, err.Error()); markErr != nil {
				w.log.Error("mark failed", slog.String("job_id", job.ID), slog.String("error", markErr.Error()))
			}
			continue
		}
		w.IncrementSuccess()
		if err := w.queue.MarkCompleted(ctx, job.ID); err != nil {
			w.log.Error("mark completed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
	}
	return nil
}

func (w *Worker) Metrics() WorkerMetrics {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()

	return WorkerMetrics{
		Processed: w.processedCount,
		Succeeded: w.successCount,
		Failed:    w.failureCount,
	}
}

func (w *Worker) IncrementSuccess() {
	w.metricsMu.Lock()
	w.processedCount++
	w.successCount++
	w.metricsMu.Unlock()
}

func (w *Worker) IncrementFailure() {
	w.metricsMu.Lock()
	w.processedCount++
	w.failureCount++
	w.metricsMu.Unlock()
}

func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
