package domain

// ActionKind classifies an outbound action.
type ActionKind string

const (
	ActionText     ActionKind = "text"
	ActionMedia    ActionKind = "media"
	ActionReaction ActionKind = "reaction"
	ActionEdit     ActionKind = "edit"
)

// MediaKind is the kind of media attached to a MediaReply.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// MediaKindFor maps a content kind to the media kind used to re-send it.
func MediaKindFor(k ContentKind) (MediaKind, bool) {
	switch k {
	case ContentImage:
		return MediaImage, true
	case ContentVideo:
		return MediaVideo, true
	case ContentAudio:
		return MediaAudio, true
	case ContentDocument:
		return MediaDocument, true
	case ContentSticker:
		return MediaSticker, true
	}
	return "", false
}

// OutboundAction is produced by command handlers and delivered by the reply gateway.
type OutboundAction struct {
	Kind     ActionKind
	ChatID   string
	Text     string
	Mentions []string
	Quote    *InboundMessage // reply-quote target
	TargetID string          // edit or reaction target message id
	TargetBy string          // sender of the reaction target; empty means self

	Emoji string

	Media    MediaKind
	Data     []byte
	MimeType string
	Voice    bool

	NoReaction bool
}

// TextReply builds a plain text reply.
func TextReply(chatID, text string) OutboundAction {
	return OutboundAction{Kind: ActionText, ChatID: chatID, Text: text}
}

// EditReply replaces the text of a previously sent message.
func EditReply(chatID, targetID, text string) OutboundAction {
	return OutboundAction{Kind: ActionEdit, ChatID: chatID, TargetID: targetID, Text: text}
}

// MediaReply sends raw media bytes.
func MediaReply(chatID string, kind MediaKind, data []byte, mimeType string) OutboundAction {
	return OutboundAction{Kind: ActionMedia, ChatID: chatID, Media: kind, Data: data, MimeType: mimeType}
}

// ReactionReply attaches an emoji to a message.
func ReactionReply(chatID, targetID, emoji string) OutboundAction {
	return OutboundAction{Kind: ActionReaction, ChatID: chatID, TargetID: targetID, Emoji: emoji}
}

// WithMentions attaches highlighted mentions.
func (a OutboundAction) WithMentions(ids []string) OutboundAction {
	a.Mentions = ids
	return a
}

// Quoting makes the action a reply-quote of msg.
func (a OutboundAction) Quoting(msg *InboundMessage) OutboundAction {
	a.Quote = msg
	return a
}

// WithoutReaction suppresses the acknowledgment reaction.
func (a OutboundAction) WithoutReaction() OutboundAction {
	a.NoReaction = true
	return a
}
