package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
	"github.com/Xractz/whatsapp-assistant/internal/metrics"
)

const defaultConcurrency = 4

// Loop consumes inbound messages, dispatches them and delivers the resulting
// actions through the gateway.
type Loop struct {
	bus         domain.MessageBus
	dispatcher  *Dispatcher
	sender      Sender
	logger      *slog.Logger
	concurrency int
}

// LoopConfig holds all dependencies and tuning parameters for the loop.
type LoopConfig struct {
	Bus         domain.MessageBus
	Dispatcher  *Dispatcher
	Sender      Sender
	Logger      *slog.Logger
	Concurrency int // max messages handled at once
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Loop{
		bus:         cfg.Bus,
		dispatcher:  cfg.Dispatcher,
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run processes messages with bounded concurrency until ctx is done or the
// bus is closed, then waits for in-flight messages.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("bot loop started", "concurrency", l.concurrency)

	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("bot loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, bot loop stopping")
				return
			}
			metrics.MessagesTotal.Inc()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(m domain.InboundMessage) {
				defer wg.Done()
				defer func() { <-sem }()
				l.Handle(ctx, m)
			}(msg)
		}
	}
}

// Handle dispatches one message and sends its actions in order. A failed
// send is logged and the remaining actions are still attempted.
func (l *Loop) Handle(ctx context.Context, msg domain.InboundMessage) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("[ERROR] message handling panic", "id", msg.ID, "panic", r)
		}
	}()

	for _, a := range l.dispatcher.Dispatch(ctx, msg) {
		if err := l.sender.Send(ctx, a); err != nil {
			l.logger.Error("[ERROR] send failed",
				"kind", a.Kind,
				"chat", domain.UserPart(a.ChatID),
				"error", err,
			)
		}
	}
}
