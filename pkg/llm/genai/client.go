// Package genai implements llm.Provider on top of the Google Gen AI SDK,
// using either the Gemini API (API key) or Vertex AI as the backend.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.uber.org/fx"
	"google.golang.org/genai"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/llm"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
)

const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 200 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
)

// Module provides an llm.Provider; llm.Disabled when no model is configured.
var Module = fx.Module("llm",
	fx.Provide(NewProvider),
)

// NewProvider returns a genai-backed provider when configuration allows,
// llm.Disabled otherwise. Client construction failures are logged and
// degrade to llm.Disabled so the webhook keeps answering.
func NewProvider(cfg *config.Config, log *slog.Logger) llm.Provider {
	log = log.With(logger.Scope("llm"))

	if !cfg.LLM.IsEnabled() {
		log.Info("LLM disabled, summarization will be deferred")
		return llm.Disabled{}
	}

	c, err := NewClient(context.Background(), cfg.LLM, log)
	if err != nil {
		log.Error("failed to create genai client", logger.Error(err))
		return llm.Disabled{}
	}
	return c
}

type generateFunc func(ctx context.Context, prompt string) (string, error)

// Client is a text completion client.
type Client struct {
	generate generateFunc
	log      *slog.Logger
	timeout  time.Duration

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a client for the backend selected by cfg.
func NewClient(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (*Client, error) {
	clientCfg := &genai.ClientConfig{}
	if cfg.UseVertexAI() {
		clientCfg.Backend = genai.BackendVertexAI
		clientCfg.Project = cfg.GCPProjectID
		clientCfg.Location = cfg.VertexAILocation
	} else {
		if cfg.GoogleAPIKey == "" {
			return nil, errors.New("GOOGLE_API_KEY is required for the Gemini API backend")
		}
		clientCfg.Backend = genai.BackendGeminiAPI
		clientCfg.APIKey = cfg.GoogleAPIKey
	}
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}

	gc, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	temperature := float32(cfg.Temperature)
	genCfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(cfg.MaxOutputTokens),
	}

	log.Info("genai client created",
		slog.String("model", cfg.Model),
		slog.Bool("vertex", cfg.UseVertexAI()),
	)

	generate := func(ctx context.Context, prompt string) (string, error) {
		resp, err := gc.Models.GenerateContent(ctx, cfg.Model, genai.Text(prompt), genCfg)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}

	return newClient(generate, cfg.Timeout, log), nil
}

func newClient(generate generateFunc, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		generate:   generate,
		log:        log,
		timeout:    timeout,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
	}
}

func (c *Client) IsConfigured() bool { return c.generate != nil }

// Complete generates text for prompt, retrying transient failures with
// exponential backoff until ctx is done.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, err := c.generate(ctx, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return "", errors.New("empty completion")
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		c.log.Warn("completion request failed",
			slog.Int("attempt", attempt),
			logger.Error(err),
		)
	}

	return "", fmt.Errorf("all retries exhausted: %w", lastErr)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	return time.Duration(delay)
}
