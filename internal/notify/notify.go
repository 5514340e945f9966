// Package notify sends owner alerts for session lifecycle problems.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/Xractz/whatsapp-assistant/internal/bus"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

// Subscribe forwards lifecycle events that need the owner's attention to
// alerter. Alerts are sent off the emitting goroutine. The returned function
// removes the subscriptions.
func Subscribe(events *bus.EventBus, alerter domain.Alerter, logger *slog.Logger) func() {
	handler := func(evt bus.Event) {
		text, ok := Format(evt)
		if !ok {
			return
		}
		go func() {
			if err := alerter.Alert(text); err != nil {
				logger.Warn("owner alert failed", "event", evt.Type, "error", err)
			}
		}()
	}

	topics := []string{bus.EventLoggedOut, bus.EventReconnectFailed, bus.EventPairing}
	ids := make([]string, len(topics))
	for i, topic := range topics {
		ids[i] = events.On(topic, handler)
	}
	return func() {
		for i, topic := range topics {
			events.Off(topic, ids[i])
		}
	}
}

// Format renders the alert text for an event. QR pairing prompts are not
// forwarded since the code is only useful on the terminal.
func Format(evt bus.Event) (string, bool) {
	switch evt.Type {
	case bus.EventLoggedOut:
		return fmt.Sprintf("WhatsApp session logged out (%v). Run `wabot run` to pair again.", evt.Payload["reason"]), true
	case bus.EventReconnectFailed:
		return fmt.Sprintf("WhatsApp reconnect failing: %v attempts, last error: %v", evt.Payload["attempts"], evt.Payload["error"]), true
	case bus.EventPairing:
		code, ok := evt.Payload["code"].(string)
		if !ok || code == "" {
			return "", false
		}
		return "WhatsApp pairing code: " + code, true
	}
	return "", false
}
