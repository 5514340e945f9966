package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Xractz/whatsapp-assistant/internal/bus"
	"github.com/Xractz/whatsapp-assistant/internal/config"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
	"github.com/Xractz/whatsapp-assistant/internal/metrics"
)

const defaultAITimeout = 60 * time.Second

// scope decides who may run a command.
type scope int

const (
	scopeSelf       scope = iota // only messages sent by the linked account
	scopeGroupAdmin              // group management, see Dispatcher.permitted
)

type handlerFunc func(ctx context.Context, c *Call) ([]domain.OutboundAction, error)

type route struct {
	scope   scope
	handler handlerFunc
}

// Call is the input of one handler invocation.
type Call struct {
	Msg     domain.InboundMessage
	Command domain.ParsedCommand
	sender  Sender
}

// Progress sends an action immediately, before the handler returns. Used for
// interim messages such as the AI "waitt.." notice.
func (c *Call) Progress(ctx context.Context, a domain.OutboundAction) error {
	if c.sender == nil {
		return nil
	}
	return c.sender.Send(ctx, a)
}

// DispatcherConfig holds the collaborators of a Dispatcher.
type DispatcherConfig struct {
	Session     domain.Session
	AI          domain.TextGenerator
	Stickers    domain.StickerTranscoder
	StickerMeta domain.StickerMetadata
	Sender      Sender        // progress messages; usually the Gateway
	Prefix      string        // default "."
	GroupGuard  string        // config.GuardOwnerInGroup (default) or config.GuardLiteral
	AILimiter   *rate.Limiter // optional
	AITimeout   time.Duration
	Audit       domain.CommandLog // optional
	Events      *bus.EventBus     // optional
	Logger      *slog.Logger
}

// Dispatcher maps a parsed command to its handler after the authorization
// check for the command's scope.
type Dispatcher struct {
	parser      *Parser
	session     domain.Session
	ai          domain.TextGenerator
	stickers    domain.StickerTranscoder
	stickerMeta domain.StickerMetadata
	sender      Sender
	guard       string
	aiLimiter   *rate.Limiter
	aiTimeout   time.Duration
	audit       domain.CommandLog
	events      *bus.EventBus
	logger      *slog.Logger
	routes      map[string]route
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Prefix == "" {
		cfg.Prefix = "."
	}
	if cfg.GroupGuard == "" {
		cfg.GroupGuard = config.GuardOwnerInGroup
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = defaultAITimeout
	}
	d := &Dispatcher{
		parser:      NewParser(cfg.Prefix),
		session:     cfg.Session,
		ai:          cfg.AI,
		stickers:    cfg.Stickers,
		stickerMeta: cfg.StickerMeta,
		sender:      cfg.Sender,
		guard:       cfg.GroupGuard,
		aiLimiter:   cfg.AILimiter,
		aiTimeout:   cfg.AITimeout,
		audit:       cfg.Audit,
		events:      cfg.Events,
		logger:      cfg.Logger,
	}
	d.routes = map[string]route{
		"see":     {scopeSelf, d.handleSee},
		"ai":      {scopeSelf, d.handleAI},
		"sticker": {scopeSelf, d.handleSticker},
		"pp":      {scopeSelf, d.handleProfilePicture},
		"gpp":     {scopeSelf, d.handleProfilePicture},
		"tagall":  {scopeGroupAdmin, d.handleTagAll},
		"tag":     {scopeGroupAdmin, d.handleTagAll},
		"add":     {scopeGroupAdmin, d.membership(domain.ParticipantAdd)},
		"rm":      {scopeGroupAdmin, d.membership(domain.ParticipantRemove)},
		"promote": {scopeGroupAdmin, d.membership(domain.ParticipantPromote)},
		"demote":  {scopeGroupAdmin, d.membership(domain.ParticipantDemote)},
	}
	return d
}

// Commands returns the registered keywords.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.routes))
	for name := range d.routes {
		names = append(names, name)
	}
	return names
}

// Dispatch parses msg and runs the matching handler. It returns the actions
// the handler produced; progress messages were already sent. Text that is
// not a command, unknown keywords and unauthorized senders yield nil.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.InboundMessage) []domain.OutboundAction {
	cmd := d.parser.Parse(msg.Text)
	if cmd == nil {
		return nil
	}

	rt, ok := d.routes[cmd.Keyword]
	if !ok {
		d.logger.Debug("unknown command", "command", cmd.Keyword)
		return nil
	}

	if !d.permitted(rt.scope, msg) {
		d.logger.Debug("command not permitted",
			"command", cmd.Keyword,
			"chat", domain.UserPart(msg.ChatID),
			"from_me", msg.FromMe,
			"group", msg.IsGroup,
		)
		d.finish(ctx, msg, *cmd, domain.StatusDenied, nil, 0)
		return nil
	}

	start := time.Now()
	actions, err := d.invoke(ctx, rt.handler, &Call{Msg: msg, Command: *cmd, sender: d.sender})
	latency := time.Since(start)

	status := domain.StatusOK
	switch {
	case errors.Is(err, domain.ErrNoQuotedMedia):
		status = domain.StatusSkipped
		d.logger.Warn("[ERROR] nothing to do", "command", cmd.Keyword, "chat", domain.UserPart(msg.ChatID), "error", err)
	case err != nil:
		status = domain.StatusFailed
		d.logger.Error("[ERROR] command failed", "command", cmd.Keyword, "chat", domain.UserPart(msg.ChatID), "error", err)
	default:
		d.logger.Info("[BOT] command handled", "command", cmd.Keyword, "from", domain.UserPart(msg.ChatID), "latency", latency)
	}

	d.finish(ctx, msg, *cmd, status, err, latency)
	return actions
}

// permitted applies the authorization policy for a command scope.
//
// Group-admin commands follow the configured guard. GuardOwnerInGroup
// requires a self-sent message inside a group. GuardLiteral only rejects
// messages from others inside groups, so anyone may trigger the commands in
// a direct chat.
func (d *Dispatcher) permitted(s scope, msg domain.InboundMessage) bool {
	switch s {
	case scopeSelf:
		return msg.FromMe
	case scopeGroupAdmin:
		if d.guard == config.GuardLiteral {
			return !(!msg.FromMe && msg.IsGroup)
		}
		return msg.FromMe && msg.IsGroup
	}
	return false
}

// invoke runs h behind a recover boundary so a handler panic becomes an error.
func (d *Dispatcher) invoke(ctx context.Context, h handlerFunc, c *Call) (actions []domain.OutboundAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			actions = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, c)
}

func (d *Dispatcher) finish(ctx context.Context, msg domain.InboundMessage, cmd domain.ParsedCommand, status domain.CommandStatus, err error, latency time.Duration) {
	metrics.CommandTotal(cmd.Keyword, string(status)).Inc()
	if status != domain.StatusDenied {
		metrics.CommandLatency.Observe(latency.Seconds())
	}

	rec := domain.CommandRecord{
		ID:        uuid.NewString(),
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Command:   cmd.Keyword,
		Args:      cmd.Args,
		Status:    status,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	if d.audit != nil {
		if aerr := d.audit.Record(ctx, rec); aerr != nil {
			d.logger.Warn("audit record failed", "command", cmd.Keyword, "error", aerr)
		}
	}

	if d.events != nil && status != domain.StatusDenied {
		evtType := bus.EventCommandHandled
		if status == domain.StatusFailed {
			evtType = bus.EventCommandFailed
		}
		d.events.Emit(bus.Event{
			Type:    evtType,
			Source:  "dispatcher",
			Payload: map[string]any{"record": rec},
		})
	}
}
