package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// ItemStore is the persistence the service needs.
type ItemStore interface {
	Create(ctx context.Context, draft *Draft) (*KnowledgeItem, bool, error)
}

// Enqueuer schedules deferred processing for an item.
type Enqueuer interface {
	Enqueue(ctx context.Context, itemID string, priority int) (bool, error)
}

// Service ingests drafts into the knowledge base.
type Service struct {
	store ItemStore
	queue Enqueuer
	log   *slog.Logger
}

func NewService(store ItemStore, queue Enqueuer, log *slog.Logger) *Service {
	return &Service{
		store: store,
		queue: queue,
		log:   log.With(logger.Scope("knowledge")),
	}
}

// Ingest validates and stores the draft. Unprocessed items are queued for
// deferred processing; a queueing failure is logged and does not fail the
// ingestion. A draft whose source message was already ingested returns the
// stored item.
func (s *Service) Ingest(ctx context.Context, draft *Draft) (*KnowledgeItem, error) {
	ctx, span := tracing.Start(ctx, "knowledge.ingest",
		attribute.String("knowledge.type", string(draft.Type)),
	)
	defer span.End()

	if err := draft.Validate(); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	item, created, err := s.store.Create(ctx, draft)
	if err != nil {
		tracing.RecordError(span, err)
		ingestedTotal.WithLabelValues(string(draft.Type), "error").Inc()
		return nil, fmt.Errorf("store knowledge item: %w", err)
	}

	if !created {
		ingestedTotal.WithLabelValues(string(draft.Type), "duplicate").Inc()
		s.log.Info("duplicate source message, returning stored item",
			slog.String("item_id", item.ID))
		return item, nil
	}
	ingestedTotal.WithLabelValues(string(draft.Type), "created").Inc()

	if !item.IsProcessed && s.queue != nil {
		if _, err := s.queue.Enqueue(ctx, item.ID, 0); err != nil {
			s.log.Warn("failed to enqueue processing job",
				slog.String("item_id", item.ID),
				logger.Error(err))
		}
	}
	return item, nil
}
