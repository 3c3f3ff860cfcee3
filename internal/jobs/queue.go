// Package jobs provides a PostgreSQL-backed job queue.
//
// Enqueue is idempotent per entity, Dequeue claims rows with
// FOR UPDATE SKIP LOCKED, and failed jobs are retried with quadratic backoff
// until MaxAttempts is reached.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/uptrace/bun"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// QueueConfig contains configuration for a job queue
type QueueConfig struct {
	// TableName is the fully qualified table name (e.g. "kb.knowledge_processing_jobs")
	TableName string
	// EntityIDColumn is the column referencing the entity a job works on
	EntityIDColumn string
	// MaxAttempts is the maximum number of attempts (0 = unlimited)
	MaxAttempts       int
	BaseRetryDelaySec int
	MaxRetryDelaySec  int
	BatchSize         int
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults
func DefaultQueueConfig(tableName, entityIDColumn string) QueueConfig {
	return QueueConfig{
		TableName:         tableName,
		EntityIDColumn:    entityIDColumn,
		MaxAttempts:       0,
		BaseRetryDelaySec: 60,
		MaxRetryDelaySec:  3600,
		BatchSize:         10,
	}
}

// Job is a claimed queue row.
type Job struct {
	ID           string `bun:"id"`
	EntityID     string `bun:"entity_id"`
	AttemptCount int    `bun:"attempt_count"`
}

// Queue provides job queue operations over a single table.
type Queue struct {
	db     bun.IDB
	config QueueConfig
	log    *slog.Logger
}

func NewQueue(db bun.IDB, config QueueConfig, log *slog.Logger) *Queue {
	if config.BaseRetryDelaySec == 0 {
		config.BaseRetryDelaySec = 60
	}
	if config.MaxRetryDelaySec == 0 {
		config.MaxRetryDelaySec = 3600
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	return &Queue{
		db:     db,
		config: config,
		log:    log,
	}
}

// Config returns the effective configuration.
func (q *Queue) Config() QueueConfig { return q.config }

// Enqueue adds a pending job for entityID unless an active (pending or
// processing) job for it already exists. Reports whether a row was inserted.
func (q *Queue) Enqueue(ctx context.Context, entityID string, priority int) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %[1]s (%[2]s, status, priority, scheduled_at)
		SELECT $1, 'pending', $2, now()
		WHERE NOT EXISTS (
			SELECT 1 FROM %[1]s
			WHERE %[2]s = $1 AND status IN ('pending', 'processing')
		)`,
		q.config.TableName, q.config.EntityIDColumn)

	res, err := q.db.ExecContext(ctx, query, entityID, priority)
	if err != nil {
		return false, fmt.Errorf("enqueue failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Dequeue atomically claims up to batchSize due jobs.
//
//	WITH cte AS (
//	  SELECT id FROM table
//	  WHERE status='pending' AND scheduled_at <= now()
//	  ORDER BY priority DESC, scheduled_at ASC
//	  FOR UPDATE SKIP LOCKED
//	  LIMIT $1
//	)
//	UPDATE table SET status='processing', started_at=now()
//	FROM cte WHERE table.id = cte.id
//	RETURNING id, entity, attempt_count
func (q *Queue) Dequeue(ctx context.Context, batchSize int) ([]Job, error) {
	if batchSize <= 0 {
		batchSize = q.config.BatchSize
	}

	query := fmt.Sprintf(`
		WITH cte AS (
			SELECT id FROM %[1]s
			WHERE status='pending' AND (scheduled_at IS NULL OR scheduled_at <= now())
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE %[1]s j
		SET status='processing', started_at=now(), updated_at=now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.id, j.%[2]s AS entity_id, j.attempt_count`,
		q.config.TableName, q.config.EntityIDColumn)

	var jobs []Job
	if err := q.db.NewRaw(query, batchSize).Scan(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}
	return jobs, nil
}

func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'completed',
			completed_at = now(),
			updated_at = now()
		WHERE id = $1`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt. The job is rescheduled with backoff,
// or marked failed for good once MaxAttempts is reached. Reports whether the
// failure is permanent.
func (q *Queue) MarkFailed(ctx context.Context, job Job, errMsg string) (bool, error) {
	attempt := job.AttemptCount + 1

	if q.config.MaxAttempts > 0 && attempt >= q.config.MaxAttempts {
		query := fmt.Sprintf(`
			UPDATE %s
			SET status = 'failed',
				attempt_count = $2,
				last_error = $3,
				updated_at = now()
			WHERE id = $1`,
			q.config.TableName)

		if _, err := q.db.ExecContext(ctx, query, job.ID, attempt, truncateError(errMsg)); err != nil {
			return false, fmt.Errorf("mark failed (permanent) failed: %w", err)
		}

		q.log.Warn("job permanently failed after max attempts",
			slog.String("job_id", job.ID),
			slog.Int("attempts", attempt),
			slog.String("error", errMsg))
		return true, nil
	}

	delay := q.retryDelay(attempt)

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			attempt_count = $2,
			last_error = $3,
			scheduled_at = now() + ($4 || ' seconds')::interval,
			updated_at = now()
		WHERE id = $1`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, job.ID, attempt, truncateError(errMsg), fmt.Sprintf("%d", int(delay.Seconds()))); err != nil {
		return false, fmt.Errorf("mark failed (retry) failed: %w", err)
	}

	q.log.Debug("job scheduled for retry",
		slog.String("job_id", job.ID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))
	return false, nil
}

// retryDelay is baseDelay * attempt^2, capped at MaxRetryDelaySec.
func (q *Queue) retryDelay(attempt int) time.Duration {
	sec := math.Min(
		float64(q.config.MaxRetryDelaySec),
		float64(q.config.BaseRetryDelaySec)*float64(attempt)*float64(attempt),
	)
	return time.Duration(sec) * time.Second
}

// RecoverStaleJobs returns jobs stuck in 'processing' (for example after a
// crash mid-batch) to 'pending'. Returns the number of jobs recovered.
func (q *Queue) RecoverStaleJobs(ctx context.Context, staleThresholdMinutes int) (int, error) {
	if staleThresholdMinutes <= 0 {
		staleThresholdMinutes = 10
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			started_at = NULL,
			scheduled_at = now(),
			updated_at = now()
		WHERE status = 'processing'
			AND started_at < now() - ($1 || ' minutes')::interval`,
		q.config.TableName)

	result, err := q.db.ExecContext(ctx, query, fmt.Sprintf("%d", staleThresholdMinutes))
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs failed: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		q.log.Warn("recovered stale jobs",
			slog.Int64("count", count),
			slog.Int("threshold_minutes", staleThresholdMinutes))
	}
	return int(count), nil
}

type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'processing') as processing,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed
		FROM %s`,
		q.config.TableName)

	stats := &Stats{}
	err := q.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}
	return stats, nil
}

// truncateError truncates an error message to 500 bytes
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
