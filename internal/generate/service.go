// Package generate defines the text generation boundary. The
// orchestrator, consultation engine and reviewer all speak through
// Service; the default Client talks to an ordered chain of HTTP
// providers.
package generate

import (
	"context"
	"errors"
)

// ErrNoProviders is returned when no generation provider is configured
// or usable.
var ErrNoProviders = errors.New("no generation providers available")

// Service produces text for a worker persona. An empty answer and an
// error both mean the call produced nothing usable.
type Service interface {
	Generate(ctx context.Context, workerID, systemPrompt, userPrompt string) (string, error)
}

// Func adapts a function to Service. Used for scripted test doubles.
type Func func(ctx context.Context, workerID, systemPrompt, userPrompt string) (string, error)

func (f Func) Generate(ctx context.Context, workerID, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, workerID, systemPrompt, userPrompt)
}
