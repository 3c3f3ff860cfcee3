// Package llm provides interfaces for language model providers.
package llm

import (
	"context"
	"errors"
)

var ErrNotConfigured = errors.New("llm provider not configured")

// Provider is an interface for LLM providers
type Provider interface {
	// Complete generates a completion for the given prompt
	Complete(ctx context.Context, prompt string) (string, error)

	// IsConfigured returns true if the provider is properly configured
	IsConfigured() bool
}

// Disabled is the Provider used when no model is configured.
type Disabled struct{}

func (Disabled) Complete(context.Context, string) (string, error) { return "", ErrNotConfigured }

func (Disabled) IsConfigured() bool { return false }
