package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
)

var ErrItemNotFound = errors.New("knowledge item not found")

// Attachment describes an archived copy of an item's media.
type Attachment struct {
	ObjectPath string
	FileName   string
	FileSize   int64
	MimeType   string
}

// Analysis is the outcome of AI processing.
type Analysis struct {
	Title       string
	Summary     string
	KeyConcepts []string
	Tags        []string
}

// Repository handles database operations for knowledge items and tags
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}

// Create stores the draft with its tags. When an item with the same user and
// source message id already exists, that item is returned with created=false.
func (r *Repository) Create(ctx context.Context, draft *Draft) (*KnowledgeItem, bool, error) {
	item := draft.toItem()
	created := true

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewInsert().Model(item).Returning("*")
		if item.SourceMessageID != nil {
			q = q.On("CONFLICT (user_id, source_message_id) WHERE source_message_id IS NOT NULL DO NOTHING")
		}

		res, err := q.Exec(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("insert knowledge item: %w", err)
		}
		if err == nil {
			if n, _ := res.RowsAffected(); n > 0 {
				return attachTags(ctx, tx, item.ID, item.UserID, draft.Tags)
			}
		}

		if item.SourceMessageID == nil {
			return errors.New("insert knowledge item: no row returned")
		}

		created = false
		existing := new(KnowledgeItem)
		err = tx.NewSelect().
			Model(existing).
			Where("user_id = ?", item.UserID).
			Where("source_message_id = ?", *item.SourceMessageID).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("load existing knowledge item: %w", err)
		}
		item = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	tags, err := r.tagNames(ctx, r.db, item.ID)
	if err != nil {
		return nil, false, err
	}
	item.Tags = tags

	if created {
		r.log.Debug("created knowledge item",
			slog.String("id", item.ID),
			slog.String("type", string(item.Type)))
	}
	return item, created, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*KnowledgeItem, error) {
	item := new(KnowledgeItem)
	err := r.db.NewSelect().
		Model(item).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	if item.Tags, err = r.tagNames(ctx, r.db, id); err != nil {
		return nil, err
	}
	return item, nil
}

// MarkProcessed applies the analysis, attaches its tags and clears any
// previous processing error. Empty analysis fields keep the stored values.
func (r *Repository) MarkProcessed(ctx context.Context, id string, analysis *Analysis) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		item := new(KnowledgeItem)
		if err := tx.NewSelect().Model(item).Column("id", "user_id").Where("id = ?", id).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrItemNotFound
			}
			return err
		}

		q := tx.NewUpdate().
			Model((*KnowledgeItem)(nil)).
			Set("is_processed = TRUE").
			Set("processing_error = NULL").
			Set("updated_at = ?", time.Now()).
			Where("id = ?", id)
		if analysis != nil && analysis.Title != "" {
			q = q.Set("title = ?", Truncate(analysis.Title, maxTitleRunes, ""))
		}
		if analysis != nil && analysis.Summary != "" {
			q = q.Set("summary = ?", analysis.Summary)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}

		if analysis == nil {
			return nil
		}
		return attachTags(ctx, tx, id, item.UserID, analysis.Tags)
	})
}

// MarkFailed records the last processing error. The item stays unprocessed.
func (r *Repository) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := r.db.NewUpdate().
		Model((*KnowledgeItem)(nil)).
		Set("processing_error = ?", reason).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// SetAttachment records where the item's media was archived.
func (r *Repository) SetAttachment(ctx context.Context, id string, a Attachment) error {
	_, err := r.db.NewUpdate().
		Model((*KnowledgeItem)(nil)).
		Set("object_path = ?", a.ObjectPath).
		Set("file_name = ?", a.FileName).
		Set("file_size = ?", a.FileSize).
		Set("mime_type = COALESCE(NULLIF(?, ''), mime_type)", a.MimeType).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// attachTags upserts each tag for the user and links it to the item.
func attachTags(ctx context.Context, db bun.IDB, itemID, userID string, names []string) error {
	for _, name := range NormalizeTags(names) {
		tag := &Tag{UserID: userID, Name: name}
		_, err := db.NewInsert().
			Model(tag).
			On("CONFLICT (user_id, name) DO UPDATE").
			Set("name = EXCLUDED.name").
			Returning("id").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert tag %q: %w", name, err)
		}

		_, err = db.NewInsert().
			Model(&KnowledgeItemTag{KnowledgeItemID: itemID, TagID: tag.ID}).
			On("CONFLICT DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("link tag %q: %w", name, err)
		}
	}
	return nil
}

func (r *Repository) tagNames(ctx context.Context, db bun.IDB, itemID string) ([]string, error) {
	var names []string
	err := db.NewSelect().
		Model((*Tag)(nil)).
		Column("t.name").
		Join("JOIN kb.knowledge_item_tags AS kit ON kit.tag_id = t.id").
		Where("kit.knowledge_item_id = ?", itemID).
		Order("t.name ASC").
		Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	return names, nil
}
