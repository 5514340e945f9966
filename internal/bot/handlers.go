package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
	"github.com/Xractz/whatsapp-assistant/internal/metrics"
)

const (
	aiWaitText    = "waitt.."
	tagAllText    = "PING!!!"
	errorTag      = "[ERROR]"
	noPictureText = "@%s has no profile picture"
)

var errRateLimited = errors.New("too many AI requests, try again in a minute")

func errorReply(chatID string, err error) domain.OutboundAction {
	return domain.TextReply(chatID, errorTag+" "+err.Error())
}

// handleSee re-sends quoted media, including view-once media, as a normal message.
func (d *Dispatcher) handleSee(ctx context.Context, c *Call) ([]domain.OutboundAction, error) {
	media := c.Msg.Quoted
	if !media.Downloadable() {
		return nil, domain.ErrNoQuotedMedia
	}
	kind, ok := domain.MediaKindFor(media.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, media.Kind)
	}

	data, err := d.session.Download(ctx, media)
	if err != nil {
		return nil, fmt.Errorf("download quoted %s: %w", media.Kind, err)
	}

	act := domain.MediaReply(c.Msg.ChatID, kind, data, media.MimeType).WithoutReaction()
	act.Voice = kind == domain.MediaAudio
	return []domain.OutboundAction{act}, nil
}

// handleAI answers the argument text with the configured text generator. The
// command message is first edited to a wait notice, then to the answer.
func (d *Dispatcher) handleAI(ctx context.Context, c *Call) ([]domain.OutboundAction, error) {
	chat := c.Msg.ChatID
	prompt := c.Command.Args

	if d.ai == nil {
		err := errors.New("no AI provider configured")
		return []domain.OutboundAction{errorReply(chat, err).WithoutReaction()}, err
	}
	if strings.TrimSpace(prompt) == "" {
		err := errors.New("prompt is empty")
		return []domain.OutboundAction{errorReply(chat, err).WithoutReaction()}, err
	}
	if d.aiLimiter != nil && !d.aiLimiter.Allow() {
		metrics.AIRateLimited.Inc()
		return []domain.OutboundAction{errorReply(chat, errRateLimited).WithoutReaction()}, errRateLimited
	}

	if err := c.Progress(ctx, domain.EditReply(chat, c.Msg.ID, aiWaitText).WithoutReaction()); err != nil {
		d.logger.Warn("wait notice failed", "chat", domain.UserPart(chat), "error", err)
	}

	genCtx, cancel := context.WithTimeout(ctx, d.aiTimeout)
	defer cancel()

	metrics.AIRequestsTotal.Inc()
	start := time.Now()
	answer, err := d.ai.Generate(genCtx, prompt)
	metrics.AILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return []domain.OutboundAction{errorReply(chat, err).WithoutReaction()}, fmt.Errorf("generate with %s: %w", d.ai.Name(), err)
	}

	text := fmt.Sprintf("*Prompt :* ```%s```\n\n%s", prompt, answer)
	return []domain.OutboundAction{domain.EditReply(chat, c.Msg.ID, text)}, nil
}

// handleSticker converts the quoted image, or the message's own image, into a sticker.
func (d *Dispatcher) handleSticker(ctx context.Context, c *Call) ([]domain.OutboundAction, error) {
	chat := c.Msg.ChatID
	fail := func(err error) ([]domain.OutboundAction, error) {
		msg := c.Msg
		return []domain.OutboundAction{errorReply(chat, err).Quoting(&msg)}, err
	}

	media := stickerSource(c.Msg)
	if media == nil {
		return fail(domain.ErrNoQuotedMedia)
	}
	if d.stickers == nil {
		return fail(errors.New("sticker transcoder not configured"))
	}

	data, err := d.session.Download(ctx, media)
	if err != nil {
		return fail(fmt.Errorf("download %s: %w", media.Kind, err))
	}

	sticker, err := d.stickers.Build(ctx, data, d.stickerMeta)
	if err != nil {
		return fail(fmt.Errorf("build sticker: %w", err))
	}

	return []domain.OutboundAction{
		domain.MediaReply(chat, domain.MediaSticker, sticker, "image/webp").WithoutReaction(),
	}, nil
}

// stickerSource prefers quoted media over the message's own attachment.
func stickerSource(msg domain.InboundMessage) *domain.QuotedMedia {
	for _, m := range []*domain.QuotedMedia{msg.Quoted, msg.Own} {
		if !m.Downloadable() {
			continue
		}
		switch m.Kind {
		case domain.ContentImage, domain.ContentSticker:
			return m
		}
	}
	return nil
}

// handleProfilePicture sends the profile picture of a user (pp) or of the current chat (gpp).
func (d *Dispatcher) handleProfilePicture(ctx context.Context, c *Call) ([]domain.OutboundAction, error) {
	chat := c.Msg.ChatID
	target := chat
	if c.Command.Keyword == "pp" {
		target = profileTarget(c.Msg, c.Command.Args)
	}

	fail := func(err error) ([]domain.OutboundAction, error) {
		text := fmt.Sprintf(noPictureText, domain.UserPart(target))
		return []domain.OutboundAction{domain.TextReply(chat, text).WithMentions([]string{target})}, err
	}

	url, err := d.session.ProfilePictureURL(ctx, target)
	if err != nil {
		return fail(fmt.Errorf("profile picture of %s: %w", domain.UserPart(target), err))
	}
	data, mime, err := d.session.FetchURL(ctx, url)
	if err != nil {
		return fail(fmt.Errorf("fetch profile picture: %w", err))
	}
	if mime == "" {
		mime = "image/jpeg"
	}

	msg := c.Msg
	return []domain.OutboundAction{
		domain.MediaReply(chat, domain.MediaImage, data, mime).Quoting(&msg),
	}, nil
}

// profileTarget picks the number in args, else the quoted author, else the chat.
func profileTarget(msg domain.InboundMessage, args string) string {
	if digits := onlyDigits(args); digits != "" {
		return digits + "@" + domain.UserServer
	}
	if msg.QuotedBy != "" {
		return msg.QuotedBy
	}
	return msg.ChatID
}

// handleTagAll edits the command message into a mention of every group member.
func (d *Dispatcher) handleTagAll(ctx context.Context, c *Call) ([]domain.OutboundAction, error) {
	participants, err := d.session.GroupParticipants(ctx, c.Msg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("group metadata: %w", err)
	}

	text := tagAllText
	if c.Command.Keyword == "tag" && strings.TrimSpace(c.Command.Args) != "" {
		text = c.Command.Args
	}

	return []domain.OutboundAction{
		domain.EditReply(c.Msg.ChatID, c.Msg.ID, text).WithMentions(participants),
	}, nil
}

var participantVerbs = map[domain.ParticipantAction]string{
	domain.ParticipantAdd:     "added",
	domain.ParticipantRemove:  "removed",
	domain.ParticipantPromote: "promoted",
	domain.ParticipantDemote:  "demoted",
}

// membership returns the handler for add/rm/promote/demote. Each member is
// reported separately and partial success is kept.
func (d *Dispatcher) membership(action domain.ParticipantAction) handlerFunc {
	return func(ctx context.Context, c *Call) ([]domain.OutboundAction, error) {
		chat := c.Msg.ChatID
		msg := c.Msg

		ids := NormalizeNumbers(c.Command.Args)
		if len(ids) == 0 {
			err := errors.New("no phone numbers given")
			return []domain.OutboundAction{errorReply(chat, err).Quoting(&msg)}, err
		}

		results, err := d.session.UpdateParticipants(ctx, chat, ids, action)
		if err != nil {
			err = fmt.Errorf("%s participants: %w", action, err)
			return []domain.OutboundAction{errorReply(chat, err).Quoting(&msg)}, err
		}

		var (
			lines  []string
			failed []string
		)
		for _, r := range results {
			user := domain.UserPart(r.ID)
			if r.OK() {
				lines = append(lines, fmt.Sprintf("@%s %s", user, participantVerbs[action]))
				continue
			}
			d.logger.Warn("participant update failed", "action", action, "member", user, "status", r.Status)
			lines = append(lines, fmt.Sprintf("@%s failed (%d)", user, r.Status))
			failed = append(failed, user+":"+strconv.Itoa(r.Status))
		}

		if len(lines) == 0 {
			lines = append(lines, "no members changed")
		}
		reply := domain.TextReply(chat, strings.Join(lines, "\n")).WithMentions(ids).Quoting(&msg)
		if len(failed) > 0 {
			return []domain.OutboundAction{reply}, fmt.Errorf("%s failed for %s", action, strings.Join(failed, ", "))
		}
		return []domain.OutboundAction{reply}, nil
	}
}

// NormalizeNumbers turns whitespace-separated phone numbers (or @mentions)
// into user addresses. Everything except digits is dropped from each token.
func NormalizeNumbers(args string) []string {
	var ids []string
	for _, tok := range strings.Fields(args) {
		if user, _, found := strings.Cut(tok, "@"+domain.UserServer); found {
			tok = user
		}
		digits := onlyDigits(tok)
		if digits == "" {
			continue
		}
		ids = append(ids, digits+"@"+domain.UserServer)
	}
	return ids
}

func onlyDigits(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
