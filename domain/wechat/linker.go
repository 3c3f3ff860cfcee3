package wechat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
)

// linkTokenBytes is the entropy of a link token before hex encoding.
const linkTokenBytes = 32

// Linker issues and redeems the one-time tokens that bind a WeChat open id
// to a KnowledgeVault account.
type Linker struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	random io.Reader
	log    *slog.Logger
}

func NewLinker(store Store, ttl time.Duration, log *slog.Logger) *Linker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Linker{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		random: rand.Reader,
		log:    log.With(logger.Scope("wechat-linker")),
	}
}

// IssueLinkToken creates a fresh token for userID, replacing any token the
// user has not consumed yet.
func (l *Linker) IssueLinkToken(ctx context.Context, userID string) (string, time.Time, error) {
	buf := make([]byte, linkTokenBytes)
	if _, err := io.ReadFull(l.random, buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate link token: %w", err)
	}
	token := hex.EncodeToString(buf)
	expiresAt := l.now().Add(l.ttl).UTC()

	if err := l.store.IssueToken(ctx, userID, token, expiresAt); err != nil {
		return "", time.Time{}, err
	}

	linkTokensIssued.Inc()
	l.log.Info("link token issued",
		slog.String("user_id", userID),
		slog.Time("expires_at", expiresAt))
	return token, expiresAt, nil
}

// ConsumeLinkToken binds the profile to the token owner's account. It
// returns ErrLinkTokenExpired or ErrLinkTokenNotFound for unusable tokens.
func (l *Linker) ConsumeLinkToken(ctx context.Context, token string, p Profile) (*Integration, error) {
	token = strings.TrimSpace(token)
	if token == "" || p.OpenID == "" {
		return nil, ErrLinkTokenNotFound
	}

	integration, err := l.store.ConsumeToken(ctx, token, p, l.now())
	if err != nil {
		linkAttempts.WithLabelValues(linkOutcome(err)).Inc()
		return nil, err
	}

	linkAttempts.WithLabelValues("linked").Inc()
	l.log.Info("wechat account linked",
		slog.String("integration_id", integration.ID),
		slog.String("user_id", integration.UserID))
	return integration, nil
}

func (l *Linker) FindByOpenID(ctx context.Context, openID string) (*Integration, error) {
	return l.store.FindByOpenID(ctx, openID)
}
