package whatsapp

import (
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

// Protocol content tags, as they appear as keys of a message payload.
const (
	tagConversation     = "conversation"
	tagExtendedText     = "extendedTextMessage"
	tagImage            = "imageMessage"
	tagVideo            = "videoMessage"
	tagAudio            = "audioMessage"
	tagDocument         = "documentMessage"
	tagDocumentCaption  = "documentWithCaptionMessage"
	tagSticker          = "stickerMessage"
	tagViewOnce         = "viewOnceMessage"
	tagViewOnceV2       = "viewOnceMessageV2"
	tagViewOnceV2Extend = "viewOnceMessageV2Extension"
)

// Classify returns the strict content kind of a message payload. All getters
// are nil-safe, so a nil or empty message is ContentAbsent.
func Classify(m *waE2E.Message) domain.ContentKind {
	kind, _ := classify(m)
	return kind
}

func classify(m *waE2E.Message) (domain.ContentKind, string) {
	switch {
	case m == nil:
		return domain.ContentAbsent, ""
	case m.Conversation != nil:
		return domain.ContentText, tagConversation
	case m.GetExtendedTextMessage() != nil:
		return domain.ContentText, tagExtendedText
	case m.GetImageMessage() != nil:
		return domain.ContentImage, tagImage
	case m.GetVideoMessage() != nil:
		return domain.ContentVideo, tagVideo
	case m.GetAudioMessage() != nil:
		return domain.ContentAudio, tagAudio
	case m.GetDocumentMessage() != nil:
		return domain.ContentDocument, tagDocument
	case m.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage() != nil:
		return domain.ContentDocument, tagDocumentCaption
	case m.GetStickerMessage() != nil:
		return domain.ContentSticker, tagSticker
	case m.GetViewOnceMessage() != nil:
		return domain.ContentViewOnce, tagViewOnce
	case m.GetViewOnceMessageV2() != nil:
		return domain.ContentViewOnce, tagViewOnceV2
	case m.GetViewOnceMessageV2Extension() != nil:
		return domain.ContentViewOnce, tagViewOnceV2Extend
	}
	return domain.ContentAbsent, ""
}

// viewOnceInner returns the payload nested under a view-once wrapper.
func viewOnceInner(m *waE2E.Message) *waE2E.Message {
	switch {
	case m.GetViewOnceMessage() != nil:
		return m.GetViewOnceMessage().GetMessage()
	case m.GetViewOnceMessageV2() != nil:
		return m.GetViewOnceMessageV2().GetMessage()
	case m.GetViewOnceMessageV2Extension() != nil:
		return m.GetViewOnceMessageV2Extension().GetMessage()
	}
	return nil
}

// ResolveQuoted describes a quoted payload, unwrapping at most one view-once
// level. It returns nil when there is nothing quoted. Malformed wrappers
// degrade to a non-downloadable result instead of failing.
func ResolveQuoted(q *waE2E.Message) *domain.QuotedMedia {
	kind, tag := classify(q)
	switch kind {
	case domain.ContentAbsent:
		return nil
	case domain.ContentViewOnce:
		inner := viewOnceInner(q)
		innerKind, innerTag := classify(inner)
		if !innerKind.IsMedia() {
			return &domain.QuotedMedia{Kind: domain.ContentViewOnce, Tag: tag, ViewOnce: true}
		}
		qm := mediaOf(inner, innerKind, innerTag)
		qm.ViewOnce = true
		return qm
	}
	return mediaOf(q, kind, tag)
}

// mediaOf fills the MIME type and downloadable payload for kind.
func mediaOf(m *waE2E.Message, kind domain.ContentKind, tag string) *domain.QuotedMedia {
	qm := &domain.QuotedMedia{Kind: kind, Tag: tag}
	var media whatsmeow.DownloadableMessage
	switch kind {
	case domain.ContentImage:
		img := m.GetImageMessage()
		qm.MimeType, qm.ViewOnce, media = img.GetMimetype(), img.GetViewOnce(), img
	case domain.ContentVideo:
		vid := m.GetVideoMessage()
		qm.MimeType, qm.ViewOnce, media = vid.GetMimetype(), vid.GetViewOnce(), vid
	case domain.ContentAudio:
		aud := m.GetAudioMessage()
		qm.MimeType, qm.ViewOnce, media = aud.GetMimetype(), aud.GetViewOnce(), aud
	case domain.ContentDocument:
		doc := m.GetDocumentMessage()
		if doc == nil {
			doc = m.GetDocumentWithCaptionMessage().GetMessage().GetDocumentMessage()
		}
		qm.MimeType, media = doc.GetMimetype(), doc
	case domain.ContentSticker:
		st := m.GetStickerMessage()
		qm.MimeType, media = st.GetMimetype(), st
	default:
		return qm
	}
	qm.Media = media
	return qm
}

// messageText returns the conversation text or the media caption.
func messageText(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	}
	return ""
}

// contextInfo returns the reply context of whichever payload carries one.
func contextInfo(m *waE2E.Message) *waE2E.ContextInfo {
	for _, ci := range []*waE2E.ContextInfo{
		m.GetExtendedTextMessage().GetContextInfo(),
		m.GetImageMessage().GetContextInfo(),
		m.GetVideoMessage().GetContextInfo(),
		m.GetAudioMessage().GetContextInfo(),
		m.GetDocumentMessage().GetContextInfo(),
		m.GetStickerMessage().GetContextInfo(),
	} {
		if ci != nil {
			return ci
		}
	}
	return nil
}

// ownMedia describes media attached to the message itself, e.g. an image
// captioned ".sticker".
func ownMedia(m *waE2E.Message) *domain.QuotedMedia {
	kind, tag := classify(m)
	if !kind.IsMedia() {
		return nil
	}
	return mediaOf(m, kind, tag)
}

// toInbound converts a whatsmeow message event into the bot's inbound message.
func toInbound(evt *events.Message) domain.InboundMessage {
	info := evt.Info
	chat := addr(info.Chat)
	in := domain.InboundMessage{
		ID:        info.ID,
		ChatID:    chat,
		SenderID:  addr(info.Sender),
		PushName:  info.PushName,
		FromMe:    info.IsFromMe,
		IsGroup:   domain.IsGroupChat(chat),
		Text:      messageText(evt.Message),
		Own:       ownMedia(evt.Message),
		Timestamp: info.Timestamp,
		Raw:       evt.Message,
	}
	if ci := contextInfo(evt.Message); ci != nil && ci.GetQuotedMessage() != nil {
		in.Quoted = ResolveQuoted(ci.GetQuotedMessage())
		in.QuotedID = ci.GetStanzaID()
		in.QuotedBy = ci.GetParticipant()
	}
	return in
}
