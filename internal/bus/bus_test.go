package bus

import (
	"testing"
	"time"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testEBLogger())

	b.Publish(domain.InboundMessage{ID: "1", ChatID: "a@s.whatsapp.net"})
	b.Publish(domain.InboundMessage{ID: "2", ChatID: "a@s.whatsapp.net"})

	ch := b.Subscribe()
	if got := (<-ch).ID; got != "1" {
		t.Fatalf("expected first message, got %q", got)
	}
	if got := (<-ch).ID; got != "2" {
		t.Fatalf("expected second message, got %q", got)
	}
}

func TestInMemoryBus_DropsAfterTimeoutWhenFull(t *testing.T) {
	b := New(1, testEBLogger())
	b.timeout = 20 * time.Millisecond

	b.Publish(domain.InboundMessage{ID: "kept"})
	start := time.Now()
	b.Publish(domain.InboundMessage{ID: "dropped"})
	if time.Since(start) < b.timeout {
		t.Fatal("publish to a full bus should wait before dropping")
	}

	if got := (<-b.Subscribe()).ID; got != "kept" {
		t.Fatalf("expected kept message, got %q", got)
	}
	select {
	case msg := <-b.Subscribe():
		t.Fatalf("unexpected message %q", msg.ID)
	default:
	}
}

func TestInMemoryBus_CloseIsIdempotent(t *testing.T) {
	b := New(1, testEBLogger())
	b.Close()
	b.Close()

	// Publishing after close is a logged no-op.
	b.Publish(domain.InboundMessage{ID: "late"})

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
}
