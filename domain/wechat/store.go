package wechat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrIntegrationNotFound = errors.New("wechat integration not found")
	ErrLinkTokenExpired    = errors.New("link token expired")
	ErrLinkTokenNotFound   = errors.New("link token not found")
)

// Store persists integrations. Repository is the Postgres implementation.
type Store interface {
	// FindByOpenID returns the integration bound to openID.
	FindByOpenID(ctx context.Context, openID string) (*Integration, error)
	// IssueToken sets the token on the user's pending row, creating it when
	// missing. Any earlier unconsumed token of the user is replaced.
	IssueToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	// ConsumeToken binds p to the row holding a token still valid at now and
	// clears the token. A row already bound to p.OpenID is removed in the
	// same transaction.
	ConsumeToken(ctx context.Context, token string, p Profile, now time.Time) (*Integration, error)
	// TouchLastMessage advances last_message_at; it never moves it back.
	TouchLastMessage(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, openID string, active bool) error

	ListByUser(ctx context.Context, userID string) ([]*Integration, error)
	GetByID(ctx context.Context, id string) (*Integration, error)
	Delete(ctx context.Context, id, userID string) error
	UpdateSettings(ctx context.Context, id, userID string, s Settings) (*Integration, error)
	// PurgeExpiredTokens deletes pending rows whose token expired before
	// the given time.
	PurgeExpiredTokens(ctx context.Context, before time.Time) (int, error)
}
