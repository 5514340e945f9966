package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

// mockProvider implements domain.TextGenerator for testing.
type mockProvider struct {
	name    string
	healthy bool
	err     error
	answer  string
	calls   int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Healthy(ctx context.Context) error {
	if !m.healthy {
		return errors.New("unhealthy")
	}
	return nil
}

func (m *mockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFailoverProvider_UsesFirstProvider(t *testing.T) {
	p1 := &mockProvider{name: "primary", answer: "from-primary"}
	p2 := &mockProvider{name: "secondary", answer: "from-secondary"}
	fp := NewFailoverProvider([]domain.TextGenerator{p1, p2}, testLogger())

	got, err := fp.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-primary" {
		t.Fatalf("expected 'from-primary', got %q", got)
	}
	if p2.calls != 0 {
		t.Fatal("secondary should not be called")
	}
}

func TestFailoverProvider_FallsBackOnError(t *testing.T) {
	p1 := &mockProvider{name: "primary", err: errors.New("api error")}
	p2 := &mockProvider{name: "secondary", answer: "from-secondary"}
	fp := NewFailoverProvider([]domain.TextGenerator{p1, p2}, testLogger())

	got, err := fp.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-secondary" {
		t.Fatalf("expected 'from-secondary', got %q", got)
	}
}

func TestFailoverProvider_AllProvidersFail(t *testing.T) {
	last := errors.New("fail 2")
	p1 := &mockProvider{name: "p1", err: errors.New("fail 1")}
	p2 := &mockProvider{name: "p2", err: last}
	fp := NewFailoverProvider([]domain.TextGenerator{p1, p2}, testLogger())

	_, err := fp.Generate(context.Background(), "hi")
	if !errors.Is(err, last) {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
}

func TestFailoverProvider_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p1 := &mockProvider{name: "p1", err: context.Canceled}
	p2 := &mockProvider{name: "p2", answer: "late"}
	fp := NewFailoverProvider([]domain.TextGenerator{p1, p2}, testLogger())

	if _, err := fp.Generate(ctx, "hi"); err == nil {
		t.Fatal("expected error")
	}
	if p2.calls != 0 {
		t.Fatal("chain should stop once the context is done")
	}
}

func TestFailoverProvider_EmptyChain(t *testing.T) {
	fp := NewFailoverProvider(nil, testLogger())
	if _, err := fp.Generate(context.Background(), "hi"); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestFailoverProvider_Healthy_AtLeastOneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick", healthy: false}
	p2 := &mockProvider{name: "well", healthy: true}
	fp := NewFailoverProvider([]domain.TextGenerator{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestFailoverProvider_Healthy_NoneHealthy(t *testing.T) {
	p1 := &mockProvider{name: "sick1", healthy: false}
	p2 := &mockProvider{name: "sick2", healthy: false}
	fp := NewFailoverProvider([]domain.TextGenerator{p1, p2}, testLogger())

	if err := fp.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}

func TestFailoverProvider_Name(t *testing.T) {
	p1 := &mockProvider{name: "gemini"}
	p2 := &mockProvider{name: "openai"}
	fp := NewFailoverProvider([]domain.TextGenerator{p1, p2}, testLogger())

	if name := fp.Name(); name != "failover(gemini→openai)" {
		t.Fatalf("expected 'failover(gemini→openai)', got %q", name)
	}
}
