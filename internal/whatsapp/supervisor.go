package whatsapp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/Xractz/whatsapp-assistant/internal/bus"
	"github.com/Xractz/whatsapp-assistant/internal/metrics"
)

// ErrLoggedOut is returned by Supervisor.Run when the linked device was
// removed from the phone. A new pairing is required.
var ErrLoggedOut = errors.New("device logged out")

// Backoff is a capped exponential retry policy.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff waits 1s, 2s, 4s ... up to 30s between attempts.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return b.Max
	}
	return time.Duration(d)
}

// Connector is the part of the session the supervisor drives.
type Connector interface {
	Connect() error
	IsConnected() bool
}

type signal int

const (
	sigConnected signal = iota
	sigDisconnected
	sigLoggedOut
)

// Supervisor reconnects the session after unexpected disconnects. Messages
// missed while offline are not replayed.
type Supervisor struct {
	conn       Connector
	policy     Backoff
	alertAfter int
	events     *bus.EventBus
	logger     *slog.Logger
	signals    chan signal

	// attempt counts reconnects since the last sigConnected. Connect
	// returning nil does not reset it; the login can still be rejected.
	attempt int
}

type SupervisorConfig struct {
	Conn       Connector
	Policy     Backoff
	AlertAfter int           // consecutive failures before EventReconnectFailed; 0 disables
	Events     *bus.EventBus // optional
	Logger     *slog.Logger
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		conn:       cfg.Conn,
		policy:     cfg.Policy,
		alertAfter: cfg.AlertAfter,
		events:     cfg.Events,
		logger:     cfg.Logger,
		signals:    make(chan signal, 16),
	}
}

// Notify reports a connection state change. It never blocks the caller;
// a full queue drops the signal, except for logouts which always replace it.
func (s *Supervisor) Notify(sig signal) {
	select {
	case s.signals <- sig:
	default:
		if sig == sigLoggedOut {
			// Make room: a logout outranks anything queued.
			select {
			case <-s.signals:
			default:
			}
			select {
			case s.signals <- sig:
			default:
			}
		}
	}
}

// Run handles connection signals until ctx is done or the device is logged out.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-s.signals:
			switch sig {
			case sigLoggedOut:
				return ErrLoggedOut
			case sigConnected:
				s.attempt = 0
			case sigDisconnected:
				if err := s.reconnect(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
			}
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) error {
	for {
		if s.conn.IsConnected() {
			return nil
		}

		delay := s.policy.Delay(s.attempt)
		s.logger.Info("reconnecting", "attempt", s.attempt+1, "in", delay)
		if err := s.wait(ctx, delay); err != nil {
			return err
		}
		if s.conn.IsConnected() {
			return nil
		}

		s.attempt++
		metrics.Reconnects.Inc()
		err := s.conn.Connect()
		if err == nil {
			return nil
		}
		s.logger.Warn("reconnect failed", "attempt", s.attempt, "error", err)

		if s.alertAfter > 0 && s.attempt == s.alertAfter && s.events != nil {
			s.events.Emit(bus.Event{
				Type:    bus.EventReconnectFailed,
				Source:  "supervisor",
				Payload: map[string]any{"attempts": s.attempt, "error": err.Error()},
			})
		}
	}
}

// wait sleeps for d, returning early on cancellation, a logout or a
// connection that came back on its own.
func (s *Supervisor) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case sig := <-s.signals:
			switch sig {
			case sigLoggedOut:
				return ErrLoggedOut
			case sigConnected:
				s.attempt = 0
				if s.conn.IsConnected() {
					return nil
				}
			}
		}
	}
}
