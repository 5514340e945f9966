package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
	"github.com/Xractz/whatsapp-assistant/internal/metrics"
)

// replyInterval is the pause before every send and before the acknowledgment
// reaction. It keeps the account under the network's automation heuristics.
const replyInterval = 2500 * time.Millisecond

// Sender delivers one outbound action.
type Sender interface {
	Send(ctx context.Context, action domain.OutboundAction) error
}

// ReplyRequest is a paced text reply.
type ReplyRequest struct {
	ChatID           string
	Text             string
	Quoted           *domain.InboundMessage
	SuppressReaction bool
	EditTarget       string // message id to edit instead of sending a new message
	Mentions         []string
}

// Gateway is the only component that sends to the chat network. Every send is
// preceded by replyInterval, and text replies are followed by a reaction on
// the message they produced.
type Gateway struct {
	session  domain.Session
	emoji    string
	interval time.Duration
	logger   *slog.Logger
}

func NewGateway(session domain.Session, emoji string, logger *slog.Logger) *Gateway {
	if emoji == "" {
		emoji = "🤖"
	}
	return &Gateway{
		session:  session,
		emoji:    emoji,
		interval: replyInterval,
		logger:   logger,
	}
}

// Reply sends a text message and then, unless suppressed, reacts to it.
// A failed reaction is logged and does not fail the reply.
func (g *Gateway) Reply(ctx context.Context, req ReplyRequest) (domain.SentMessage, error) {
	g.pause()

	sent, err := g.session.SendText(ctx, domain.TextMessage{
		ChatID:   req.ChatID,
		Text:     req.Text,
		Quote:    req.Quoted,
		EditID:   req.EditTarget,
		Mentions: req.Mentions,
	})
	if err != nil {
		metrics.ReplyFailures.Inc()
		return sent, fmt.Errorf("send text: %w", err)
	}
	metrics.RepliesTotal.Inc()

	if req.SuppressReaction {
		return sent, nil
	}

	// An edit is delivered as a new protocol message; the reaction belongs on
	// the message that was edited.
	target := sent.ID
	if req.EditTarget != "" {
		target = req.EditTarget
	}
	g.acknowledge(ctx, req.ChatID, target)
	return sent, nil
}

// Send delivers any outbound action with the same pacing rules as Reply.
func (g *Gateway) Send(ctx context.Context, a domain.OutboundAction) error {
	switch a.Kind {
	case domain.ActionText, domain.ActionEdit:
		req := ReplyRequest{
			ChatID:           a.ChatID,
			Text:             a.Text,
			Quoted:           a.Quote,
			SuppressReaction: a.NoReaction,
			Mentions:         a.Mentions,
		}
		if a.Kind == domain.ActionEdit {
			req.EditTarget = a.TargetID
		}
		_, err := g.Reply(ctx, req)
		return err

	case domain.ActionMedia:
		g.pause()
		sent, err := g.session.SendMedia(ctx, domain.MediaMessage{
			ChatID:   a.ChatID,
			Kind:     a.Media,
			Data:     a.Data,
			MimeType: a.MimeType,
			Voice:    a.Voice,
			Caption:  a.Text,
			Quote:    a.Quote,
		})
		if err != nil {
			metrics.ReplyFailures.Inc()
			return fmt.Errorf("send %s: %w", a.Media, err)
		}
		metrics.RepliesTotal.Inc()
		if !a.NoReaction {
			g.acknowledge(ctx, a.ChatID, sent.ID)
		}
		return nil

	case domain.ActionReaction:
		g.pause()
		emoji := a.Emoji
		if emoji == "" {
			emoji = g.emoji
		}
		if err := g.session.React(ctx, domain.Reaction{
			ChatID:   a.ChatID,
			SenderID: a.TargetBy,
			TargetID: a.TargetID,
			Emoji:    emoji,
		}); err != nil {
			metrics.ReplyFailures.Inc()
			return fmt.Errorf("send reaction: %w", err)
		}
		metrics.RepliesTotal.Inc()
		return nil
	}
	return fmt.Errorf("unknown action kind %q", a.Kind)
}

func (g *Gateway) acknowledge(ctx context.Context, chatID, targetID string) {
	g.pause()
	err := g.session.React(ctx, domain.Reaction{
		ChatID:   chatID,
		TargetID: targetID,
		Emoji:    g.emoji,
	})
	if err != nil {
		g.logger.Warn("reaction failed", "chat", domain.UserPart(chatID), "target", targetID, "error", err)
	}
}

// pause is deliberately not tied to ctx: a started reply always completes its pacing.
func (g *Gateway) pause() {
	if g.interval > 0 {
		time.Sleep(g.interval)
	}
}
