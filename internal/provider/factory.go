package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Xractz/whatsapp-assistant/internal/config"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

// ProviderConstructor creates a text generator from a config entry.
type ProviderConstructor func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.TextGenerator, error)

// Factory creates and caches text generators from config.
type Factory struct {
	cfg          config.AIConfig
	logger       *slog.Logger
	constructors map[string]ProviderConstructor
	cache        map[string]domain.TextGenerator
	mu           sync.RWMutex
}

// NewFactory creates a provider factory with the built-in constructors registered.
func NewFactory(cfg config.AIConfig, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[string]ProviderConstructor),
		cache:        make(map[string]domain.TextGenerator),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) the constructor for a provider kind.
func (f *Factory) RegisterConstructor(kind string, ctor ProviderConstructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
}

func (f *Factory) registerDefaults() {
	f.constructors["gemini"] = func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.TextGenerator, error) {
		return NewGemini(ctx, GeminiConfig{APIKey: pc.APIKey, Model: pc.DefaultModel, Logger: logger})
	}
	f.constructors["openai"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.TextGenerator, error) {
		return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}
	f.constructors["claude"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.TextGenerator, error) {
		return NewClaude(ClaudeConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}
	f.constructors["ollama"] = func(_ context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.TextGenerator, error) {
		return NewOllama(OllamaConfig{APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
	}
}

// Get returns the provider with the given name, or the default if name is empty.
// Created providers are cached so the same instance is reused across calls.
func (f *Factory) Get(ctx context.Context, name string) (domain.TextGenerator, error) {
	if name == "" {
		name = f.cfg.DefaultProvider
	}

	f.mu.RLock()
	if cached, ok := f.cache[name]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[name]; ok {
		return cached, nil
	}

	pc, ok := f.cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, ok := f.constructors[pc.Kind]
	if !ok {
		return nil, fmt.Errorf("provider %s: no constructor for kind %q", name, pc.Kind)
	}

	p, err := ctor(ctx, pc, f.logger.With("provider", name))
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	f.cache[name] = p
	return p, nil
}

// Build returns the generator used by the ai command: the default provider,
// wrapped in a failover chain when one is configured. Chain entries that are
// disabled or fail to build are skipped with a warning.
func (f *Factory) Build(ctx context.Context) (domain.TextGenerator, error) {
	primary, err := f.Get(ctx, "")
	if len(f.cfg.FailoverChain) == 0 {
		return primary, err
	}

	var chain []domain.TextGenerator
	seen := map[string]bool{}
	if err == nil {
		chain = append(chain, primary)
		seen[f.cfg.DefaultProvider] = true
	} else {
		f.logger.Warn("default provider unavailable", "provider", f.cfg.DefaultProvider, "error", err)
	}
	for _, name := range f.cfg.FailoverChain {
		if seen[name] {
			continue
		}
		seen[name] = true
		p, err := f.Get(ctx, name)
		if err != nil {
			f.logger.Warn("skipping failover provider", "provider", name, "error", err)
			continue
		}
		chain = append(chain, p)
	}

	switch len(chain) {
	case 0:
		return nil, fmt.Errorf("no usable AI provider: %w", err)
	case 1:
		return chain[0], nil
	}
	return NewFailoverProvider(chain, f.logger), nil
}

// HealthyProvider returns the first configured provider that passes a health check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.TextGenerator {
	for name := range f.cfg.Providers {
		p, err := f.Get(ctx, name)
		if err != nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
