//go:build integration

package wechat

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jalalidin/knowledgevault-sub001/internal/testutil"
)

func newTestRepository(t *testing.T) (*Repository, context.Context) {
	t.Helper()
	tdb := testutil.SharedDB(t)
	ctx := context.Background()
	require.NoError(t, testutil.TruncateTables(ctx, tdb.DB))
	return NewRepository(tdb.DB, slog.Default()), ctx
}

func TestRepository_IssueAndConsume(t *testing.T) {
	repo, ctx := newTestRepository(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.IssueToken(ctx, "user-1", "tok-1", now.Add(10*time.Minute)))
	// reissuing replaces the pending token instead of adding a row
	require.NoError(t, repo.IssueToken(ctx, "user-1", "tok-2", now.Add(10*time.Minute)))

	_, err := repo.ConsumeToken(ctx, "tok-1", Profile{OpenID: "o_1"}, now)
	assert.ErrorIs(t, err, ErrLinkTokenNotFound)

	integration, err := repo.ConsumeToken(ctx, "tok-2", Profile{OpenID: "o_1", Nickname: "Li"}, now)
	require.NoError(t, err)
	assert.Equal(t, "user-1", integration.UserID)
	assert.Equal(t, "o_1", integration.OpenID())
	assert.True(t, integration.IsActive)
	assert.Nil(t, integration.LinkToken)
	require.NotNil(t, integration.Nickname)
	assert.Equal(t, "Li", *integration.Nickname)

	_, err = repo.ConsumeToken(ctx, "tok-2", Profile{OpenID: "o_2"}, now)
	assert.ErrorIs(t, err, ErrLinkTokenNotFound)

	found, err := repo.FindByOpenID(ctx, "o_1")
	require.NoError(t, err)
	assert.Equal(t, integration.ID, found.ID)
}

func TestRepository_ConsumeExpired(t *testing.T) {
	repo, ctx := newTestRepository(t)
	now := time.Now().UTC()

	require.NoError(t, repo.IssueToken(ctx, "user-1", "tok", now.Add(-time.Second)))

	_, err := repo.ConsumeToken(ctx, "tok", Profile{OpenID: "o_1"}, now)
	assert.ErrorIs(t, err, ErrLinkTokenExpired)

	_, err = repo.FindByOpenID(ctx, "o_1")
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
}

func TestRepository_RelinkMovesOpenID(t *testing.T) {
	repo, ctx := newTestRepository(t)
	now := time.Now().UTC()

	require.NoError(t, repo.IssueToken(ctx, "user-old", "old", now.Add(time.Minute)))
	old, err := repo.ConsumeToken(ctx, "old", Profile{OpenID: "o_1"}, now)
	require.NoError(t, err)

	// an unusable token leaves the existing binding alone
	_, err = repo.ConsumeToken(ctx, "missing", Profile{OpenID: "o_1"}, now)
	assert.ErrorIs(t, err, ErrLinkTokenNotFound)
	_, err = repo.GetByID(ctx, old.ID)
	require.NoError(t, err)

	require.NoError(t, repo.IssueToken(ctx, "user-new", "new", now.Add(time.Minute)))
	moved, err := repo.ConsumeToken(ctx, "new", Profile{OpenID: "o_1"}, now)
	require.NoError(t, err)
	assert.Equal(t, "user-new", moved.UserID)

	_, err = repo.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
}

func TestRepository_TouchLastMessageIsMonotonic(t *testing.T) {
	repo, ctx := newTestRepository(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.IssueToken(ctx, "user-1", "tok", now.Add(time.Minute)))
	integration, err := repo.ConsumeToken(ctx, "tok", Profile{OpenID: "o_1"}, now)
	require.NoError(t, err)

	require.NoError(t, repo.TouchLastMessage(ctx, integration.ID, now))
	require.NoError(t, repo.TouchLastMessage(ctx, integration.ID, now.Add(-time.Hour)))

	got, err := repo.GetByID(ctx, integration.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(now))
}

func TestRepository_ManageIntegrations(t *testing.T) {
	repo, ctx := newTestRepository(t)
	now := time.Now().UTC()

	require.NoError(t, repo.IssueToken(ctx, "user-1", "tok", now.Add(time.Minute)))
	integration, err := repo.ConsumeToken(ctx, "tok", Profile{OpenID: "o_1"}, now)
	require.NoError(t, err)
	require.NoError(t, repo.IssueToken(ctx, "user-1", "pending", now.Add(time.Minute)))

	list, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, integration.ID, list[0].ID)

	updated, err := repo.UpdateSettings(ctx, integration.ID, "user-1", Settings{AutoSave: map[string]bool{KindVoice: false}})
	require.NoError(t, err)
	assert.False(t, updated.Settings.AutoSaveEnabled(KindVoice))

	_, err = repo.UpdateSettings(ctx, integration.ID, "user-2", Settings{})
	assert.ErrorIs(t, err, ErrIntegrationNotFound)

	require.NoError(t, repo.SetActive(ctx, "o_1", false))
	assert.ErrorIs(t, repo.SetActive(ctx, "o_missing", false), ErrIntegrationNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, integration.ID, "user-2"), ErrIntegrationNotFound)
	require.NoError(t, repo.Delete(ctx, integration.ID, "user-1"))
	_, err = repo.FindByOpenID(ctx, "o_1")
	assert.ErrorIs(t, err, ErrIntegrationNotFound)
}

func TestRepository_PurgeExpiredTokens(t *testing.T) {
	repo, ctx := newTestRepository(t)
	now := time.Now().UTC()

	require.NoError(t, repo.IssueToken(ctx, "user-stale", "stale", now.Add(-48*time.Hour)))
	require.NoError(t, repo.IssueToken(ctx, "user-fresh", "fresh", now.Add(time.Minute)))

	n, err := repo.PurgeExpiredTokens(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.ConsumeToken(ctx, "fresh", Profile{OpenID: "o_1"}, now)
	assert.NoError(t, err)
}
