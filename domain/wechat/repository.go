package wechat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/pgutils"
)

// Repository handles database operations for WeChat integrations
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

var _ Store = (*Repository)(nil)

func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{db: db, log: log}
}

func (r *Repository) FindByOpenID(ctx context.Context, openID string) (*Integration, error) {
	var integration Integration
	err := r.db.NewSelect().
		Model(&integration).
		Where("wechat_open_id = ?", openID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntegrationNotFound
		}
		return nil, err
	}
	return &integration, nil
}

func (r *Repository) IssueToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	row := &Integration{
		UserID:             userID,
		LinkToken:          &token,
		LinkTokenExpiresAt: &expiresAt,
	}
	_, err := r.db.NewInsert().
		Model(row).
		Column("user_id", "link_token", "link_token_expires_at").
		On("CONFLICT (user_id) WHERE wechat_open_id IS NULL DO UPDATE").
		Set("link_token = EXCLUDED.link_token").
		Set("link_token_expires_at = EXCLUDED.link_token_expires_at").
		Set("updated_at = now()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("issue link token: %w", err)
	}
	return nil
}

// ConsumeToken retries once when a concurrent link of the same open id wins
// the unique index between the delete and the update.
func (r *Repository) ConsumeToken(ctx context.Context, token string, p Profile, now time.Time) (*Integration, error) {
	bound, err := r.consumeToken(ctx, token, p, now)
	if pgutils.IsUniqueViolation(err) {
		r.log.Warn("concurrent link of open id, retrying",
			slog.String("constraint", pgutils.Constraint(err)))
		bound, err = r.consumeToken(ctx, token, p, now)
	}
	return bound, err
}

func (r *Repository) consumeToken(ctx context.Context, token string, p Profile, now time.Time) (*Integration, error) {
	var bound Integration
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Move an existing binding of this open id to the token's row.
		_, err := tx.NewDelete().
			Model((*Integration)(nil)).
			Where("wechat_open_id = ?", p.OpenID).
			Where("EXISTS (SELECT 1 FROM kb.wechat_integrations AS t WHERE t.link_token = ? AND t.link_token_expires_at > ? AND t.id <> wi.id)", token, now).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("release previous binding: %w", err)
		}

		res, err := tx.NewUpdate().
			Model(&bound).
			Set("wechat_open_id = ?", p.OpenID).
			Set("wechat_union_id = ?", nullable(p.UnionID)).
			Set("nickname = COALESCE(?, nickname)", nullable(p.Nickname)).
			Set("avatar_url = COALESCE(?, avatar_url)", nullable(p.AvatarURL)).
			Set("is_active = TRUE").
			Set("link_token = NULL").
			Set("link_token_expires_at = NULL").
			Set("updated_at = ?", now).
			Where("link_token = ?", token).
			Where("link_token_expires_at > ?", now).
			Returning("*").
			Exec(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("consume link token: %w", err)
		}
		if err != nil {
			return ErrLinkTokenNotFound
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrLinkTokenNotFound
		}
		return nil
	})
	if errors.Is(err, ErrLinkTokenNotFound) {
		return nil, r.classifyUnusableToken(ctx, token)
	}
	if err != nil {
		return nil, err
	}

	r.log.Debug("link token consumed",
		slog.String("integration_id", bound.ID),
		slog.String("user_id", bound.UserID))
	return &bound, nil
}

// classifyUnusableToken tells an expired token from one that never existed
// or was already consumed.
func (r *Repository) classifyUnusableToken(ctx context.Context, token string) error {
	exists, err := r.db.NewSelect().
		Model((*Integration)(nil)).
		Where("link_token = ?", token).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("look up link token: %w", err)
	}
	if exists {
		return ErrLinkTokenExpired
	}
	return ErrLinkTokenNotFound
}

func (r *Repository) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("last_message_at = ?", at).
		Where("id = ?", id).
		Where("(last_message_at IS NULL OR last_message_at < ?)", at).
		Exec(ctx)
	return err
}

func (r *Repository) SetActive(ctx context.Context, openID string, active bool) error {
	res, err := r.db.NewUpdate().
		Model((*Integration)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = now()").
		Where("wechat_open_id = ?", openID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

// ListByUser returns the user's bound integrations, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]*Integration, error) {
	var integrations []*Integration
	err := r.db.NewSelect().
		Model(&integrations).
		Where("user_id = ?", userID).
		Where("wechat_open_id IS NOT NULL").
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return integrations, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Integration, error) {
	var integration Integration
	err := r.db.NewSelect().
		Model(&integration).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntegrationNotFound
		}
		return nil, err
	}
	return &integration, nil
}

// Delete removes the user's integration.
func (r *Repository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.NewDelete().
		Model((*Integration)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIntegrationNotFound
	}

	r.log.Debug("deleted wechat integration", slog.String("id", id))
	return nil
}

func (r *Repository) UpdateSettings(ctx context.Context, id, userID string, s Settings) (*Integration, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}

	var integration Integration
	res, err := r.db.NewUpdate().
		Model(&integration).
		Set("settings = ?::jsonb", string(raw)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Where("wechat_open_id IS NOT NULL").
		Returning("*").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntegrationNotFound
		}
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrIntegrationNotFound
	}
	return &integration, nil
}

func (r *Repository) PurgeExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*Integration)(nil)).
		Where("wechat_open_id IS NULL").
		Where("link_token_expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
