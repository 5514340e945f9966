package provider

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/Xractz/whatsapp-assistant/internal/config"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

func stubFactory(cfg config.AIConfig, built map[string]*mockProvider) *Factory {
	f := NewFactory(cfg, testLogger())
	f.RegisterConstructor("stub", func(_ context.Context, pc config.ProviderConfig, _ *slog.Logger) (domain.TextGenerator, error) {
		if pc.APIKey == "broken" {
			return nil, errors.New("cannot build")
		}
		p := &mockProvider{name: pc.DefaultModel, answer: pc.DefaultModel, healthy: true}
		built[pc.DefaultModel] = p
		return p, nil
	})
	return f
}

func TestFactory_GetCachesInstances(t *testing.T) {
	cfg := config.AIConfig{
		DefaultProvider: "a",
		Providers:       map[string]config.ProviderConfig{"a": {Enabled: true, Kind: "stub", DefaultModel: "a"}},
	}
	f := stubFactory(cfg, map[string]*mockProvider{})

	p1, err := f.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p2, _ := f.Get(context.Background(), "a")
	if p1 != p2 {
		t.Fatal("expected the cached instance")
	}
}

func TestFactory_GetErrors(t *testing.T) {
	cfg := config.AIConfig{Providers: map[string]config.ProviderConfig{
		"off":     {Enabled: false, Kind: "stub"},
		"unknown": {Enabled: true, Kind: "bard"},
	}}
	f := stubFactory(cfg, map[string]*mockProvider{})

	for _, name := range []string{"missing", "off", "unknown"} {
		if _, err := f.Get(context.Background(), name); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestFactory_BuildWithoutChain(t *testing.T) {
	cfg := config.AIConfig{
		DefaultProvider: "a",
		Providers:       map[string]config.ProviderConfig{"a": {Enabled: true, Kind: "stub", DefaultModel: "a"}},
	}
	g, err := stubFactory(cfg, map[string]*mockProvider{}).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.Name() != "a" {
		t.Fatalf("expected plain provider, got %s", g.Name())
	}
}

func TestFactory_BuildFailoverChain(t *testing.T) {
	cfg := config.AIConfig{
		DefaultProvider: "a",
		FailoverChain:   []string{"a", "b", "off", "broken", "c"},
		Providers: map[string]config.ProviderConfig{
			"a":      {Enabled: true, Kind: "stub", DefaultModel: "a"},
			"b":      {Enabled: true, Kind: "stub", DefaultModel: "b"},
			"c":      {Enabled: true, Kind: "stub", DefaultModel: "c"},
			"off":    {Enabled: false, Kind: "stub", DefaultModel: "off"},
			"broken": {Enabled: true, Kind: "stub", APIKey: "broken"},
		},
	}
	g, err := stubFactory(cfg, map[string]*mockProvider{}).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.Name() != "failover(a→b→c)" {
		t.Fatalf("unexpected chain %s", g.Name())
	}
}

func TestFactory_BuildSkipsBrokenDefault(t *testing.T) {
	cfg := config.AIConfig{
		DefaultProvider: "broken",
		FailoverChain:   []string{"b"},
		Providers: map[string]config.ProviderConfig{
			"broken": {Enabled: true, Kind: "stub", APIKey: "broken"},
			"b":      {Enabled: true, Kind: "stub", DefaultModel: "b"},
		},
	}
	g, err := stubFactory(cfg, map[string]*mockProvider{}).Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.Name() != "b" {
		t.Fatalf("a single survivor should not be wrapped, got %s", g.Name())
	}
}

func TestFactory_BuildNothingUsable(t *testing.T) {
	cfg := config.AIConfig{
		DefaultProvider: "broken",
		FailoverChain:   []string{"broken"},
		Providers:       map[string]config.ProviderConfig{"broken": {Enabled: true, Kind: "stub", APIKey: "broken"}},
	}
	_, err := stubFactory(cfg, map[string]*mockProvider{}).Build(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no usable AI provider") {
		t.Fatalf("expected no usable provider error, got %v", err)
	}
}

func TestFactory_BuiltinKinds(t *testing.T) {
	cfg := config.AIConfig{
		DefaultProvider: "local",
		Providers: map[string]config.ProviderConfig{
			"local":  {Enabled: true, Kind: "ollama"},
			"compat": {Enabled: true, Kind: "openai", APIBase: "http://127.0.0.1:1"},
			"ant":    {Enabled: true, Kind: "claude", APIKey: "k"},
		},
	}
	f := NewFactory(cfg, testLogger())
	for name, want := range map[string]string{"local": "ollama", "compat": "openai", "ant": "claude"} {
		p, err := f.Get(context.Background(), name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if p.Name() != want {
			t.Fatalf("%s: expected %s, got %s", name, want, p.Name())
		}
	}
}
