package whatsapp

import (
	"fmt"
	"mime"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

const voiceMimeType = "audio/ogg; codecs=opus"

// buildContextInfo returns the reply-quote and mention context, or nil when
// the message needs neither.
func buildContextInfo(quote *domain.InboundMessage, mentions []string) *waE2E.ContextInfo {
	if quote == nil && len(mentions) == 0 {
		return nil
	}
	ci := &waE2E.ContextInfo{}
	if quote != nil {
		ci.StanzaID = proto.String(quote.ID)
		if quote.SenderID != "" {
			ci.Participant = proto.String(quote.SenderID)
		}
		if raw, ok := quote.Raw.(*waE2E.Message); ok && raw != nil {
			ci.QuotedMessage = raw
		}
	}
	if len(mentions) > 0 {
		ci.MentionedJID = append([]string(nil), mentions...)
	}
	return ci
}

// buildText renders a text message. Plain text without context uses the
// compact conversation form.
func buildText(msg domain.TextMessage) *waE2E.Message {
	ci := buildContextInfo(msg.Quote, msg.Mentions)
	if ci == nil {
		return &waE2E.Message{Conversation: proto.String(msg.Text)}
	}
	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(msg.Text),
		ContextInfo: ci,
	}}
}

func uploadType(kind domain.MediaKind) (whatsmeow.MediaType, error) {
	switch kind {
	case domain.MediaImage, domain.MediaSticker:
		return whatsmeow.MediaImage, nil
	case domain.MediaVideo:
		return whatsmeow.MediaVideo, nil
	case domain.MediaAudio:
		return whatsmeow.MediaAudio, nil
	case domain.MediaDocument:
		return whatsmeow.MediaDocument, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, kind)
}

// buildMedia renders an uploaded media message of msg.Kind.
func buildMedia(msg domain.MediaMessage, up whatsmeow.UploadResponse) (*waE2E.Message, error) {
	ci := buildContextInfo(msg.Quote, nil)
	var caption *string
	if msg.Caption != "" {
		caption = proto.String(msg.Caption)
	}
	mimeType := msg.MimeType

	switch msg.Kind {
	case domain.MediaImage:
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			Caption:       caption,
			ContextInfo:   ci,
		}}, nil
	case domain.MediaVideo:
		if mimeType == "" {
			mimeType = "video/mp4"
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			Caption:       caption,
			ContextInfo:   ci,
		}}, nil
	case domain.MediaAudio:
		if mimeType == "" {
			mimeType = voiceMimeType
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			PTT:           proto.Bool(msg.Voice),
			ContextInfo:   ci,
		}}, nil
	case domain.MediaDocument:
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String(documentName(mimeType)),
			Caption:       caption,
			ContextInfo:   ci,
		}}, nil
	case domain.MediaSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String("image/webp"),
			ContextInfo:   ci,
		}}, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMedia, msg.Kind)
}

// documentName derives a file name from the MIME type, e.g. "document.pdf".
func documentName(mimeType string) string {
	exts, _ := mime.ExtensionsByType(mimeType)
	if len(exts) == 0 {
		return "document"
	}
	return "document" + exts[0]
}
