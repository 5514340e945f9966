package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

// FailoverProvider tries multiple generators in order, falling back to the
// next one when the current fails.
type FailoverProvider struct {
	providers []domain.TextGenerator
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover chain from the given generators.
// At least one generator is required.
func NewFailoverProvider(providers []domain.TextGenerator, logger *slog.Logger) *FailoverProvider {
	return &FailoverProvider{
		providers: providers,
		logger:    logger,
	}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	for _, p := range fp.providers {
		if err := p.Healthy(ctx); err == nil {
			return nil
		}
	}
	return errors.New("no healthy provider in failover chain")
}

// Generate tries each generator in order and returns the first answer.
// A cancelled context stops the chain.
func (fp *FailoverProvider) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for i, p := range fp.providers {
		answer, err := p.Generate(ctx, prompt)
		if err == nil {
			if i > 0 {
				fp.logger.Info("failover: used fallback provider",
					"provider", p.Name(),
					"attempt", i+1,
				)
			}
			return answer, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		fp.logger.Warn("failover: provider failed, trying next",
			"provider", p.Name(),
			"attempt", i+1,
			"error", err,
		)
	}
	if lastErr == nil {
		return "", errors.New("failover chain is empty")
	}
	return "", fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
