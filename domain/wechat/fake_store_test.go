package wechat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store with the same token semantics as the
// Postgres repository.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*Integration

	touchErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*Integration)}
}

func clone(i *Integration) *Integration {
	c := *i
	return &c
}

func strPtr(s string) *string { return &s }

// linked adds an active binding and returns it.
func (m *memStore) linked(userID, openID string) *Integration {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := &Integration{
		ID:           uuid.NewString(),
		UserID:       userID,
		WeChatOpenID: strPtr(openID),
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	m.rows[row.ID] = row
	return clone(row)
}

func (m *memStore) FindByOpenID(_ context.Context, openID string) (*Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.OpenID() == openID {
			return clone(row), nil
		}
	}
	return nil, ErrIntegrationNotFound
}

func (m *memStore) IssueToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.UserID == userID && row.WeChatOpenID == nil {
			row.LinkToken = strPtr(token)
			row.LinkTokenExpiresAt = &expiresAt
			return nil
		}
	}
	row := &Integration{
		ID:                 uuid.NewString(),
		UserID:             userID,
		LinkToken:          strPtr(token),
		LinkTokenExpiresAt: &expiresAt,
		CreatedAt:          time.Now(),
	}
	m.rows[row.ID] = row
	return nil
}

func (m *memStore) ConsumeToken(_ context.Context, token string, p Profile, now time.Time) (*Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *Integration
	for _, row := range m.rows {
		if row.LinkToken != nil && *row.LinkToken == token {
			target = row
		}
	}
	if target == nil {
		return nil, ErrLinkTokenNotFound
	}
	if !target.LinkTokenExpiresAt.After(now) {
		return nil, ErrLinkTokenExpired
	}

	for id, row := range m.rows {
		if row.OpenID() == p.OpenID && id != target.ID {
			delete(m.rows, id)
		}
	}

	target.WeChatOpenID = strPtr(p.OpenID)
	if p.UnionID != "" {
		target.WeChatUnionID = strPtr(p.UnionID)
	}
	if p.Nickname != "" {
		target.Nickname = strPtr(p.Nickname)
	}
	if p.AvatarURL != "" {
		target.AvatarURL = strPtr(p.AvatarURL)
	}
	target.IsActive = true
	target.LinkToken = nil
	target.LinkTokenExpiresAt = nil
	return clone(target), nil
}

func (m *memStore) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	row, ok := m.rows[id]
	if !ok {
		return ErrIntegrationNotFound
	}
	if row.LastMessageAt == nil || at.After(*row.LastMessageAt) {
		row.LastMessageAt = &at
	}
	return nil
}

func (m *memStore) SetActive(_ context.Context, openID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.OpenID() == openID {
			row.IsActive = active
			return nil
		}
	}
	return ErrIntegrationNotFound
}

func (m *memStore) ListByUser(_ context.Context, userID string) ([]*Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Integration
	for _, row := range m.rows {
		if row.UserID == userID && row.WeChatOpenID != nil {
			out = append(out, clone(row))
		}
	}
	return out, nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, ErrIntegrationNotFound
	}
	return clone(row), nil
}

func (m *memStore) Delete(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return ErrIntegrationNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memStore) UpdateSettings(_ context.Context, id, userID string, s Settings) (*Integration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID || row.WeChatOpenID == nil {
		return nil, ErrIntegrationNotFound
	}
	row.Settings = s
	return clone(row), nil
}

func (m *memStore) PurgeExpiredTokens(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, row := range m.rows {
		if row.WeChatOpenID == nil && row.LinkTokenExpiresAt != nil && row.LinkTokenExpiresAt.Before(before) {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}
