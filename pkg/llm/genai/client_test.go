package genai

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/llm"
)

func fastClient(generate generateFunc) *Client {
	c := newClient(generate, 0, slog.Default())
	c.baseDelay = time.Millisecond
	c.maxDelay = 2 * time.Millisecond
	return c
}

func TestClient_CompleteRetriesThenSucceeds(t *testing.T) {
	calls := 0
	c := fastClient(func(ctx context.Context, prompt string) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 unavailable")
		}
		return "  Title: Milk\n", nil
	})

	text, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)

	assert.Equal(t, "Title: Milk", text)
	assert.Equal(t, 3, calls)
}

func TestClient_CompleteExhaustsRetries(t *testing.T) {
	calls := 0
	c := fastClient(func(ctx context.Context, prompt string) (string, error) {
		calls++
		return "", errors.New("quota exceeded")
	})

	_, err := c.Complete(context.Background(), "prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, DefaultMaxRetries+1, calls)
}

func TestClient_CompleteEmptyText(t *testing.T) {
	c := fastClient(func(ctx context.Context, prompt string) (string, error) {
		return "   ", nil
	})

	_, err := c.Complete(context.Background(), "prompt")
	assert.Error(t, err)
}

func TestClient_CompleteStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	c := fastClient(func(ctx context.Context, prompt string) (string, error) {
		calls++
		cancel()
		return "", errors.New("interrupted")
	})

	_, err := c.Complete(ctx, "prompt")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestClient_CalculateBackoff(t *testing.T) {
	c := newClient(nil, 0, slog.Default())

	assert.Equal(t, DefaultBaseDelay, c.calculateBackoff(1))
	assert.Equal(t, 2*DefaultBaseDelay, c.calculateBackoff(2))
	assert.Equal(t, DefaultMaxDelay, c.calculateBackoff(20))
}

func TestNewProvider_DisabledWithoutCredentials(t *testing.T) {
	p := NewProvider(&config.Config{}, slog.Default())

	assert.False(t, p.IsConfigured())
	_, err := p.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, llm.ErrNotConfigured)
}
