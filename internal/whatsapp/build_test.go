package whatsapp

import (
	"errors"
	"testing"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

var upload = whatsmeow.UploadResponse{
	URL:           "https://mmg.whatsapp.net/x",
	DirectPath:    "/v/t62/x",
	MediaKey:      []byte{1},
	FileEncSHA256: []byte{2},
	FileSHA256:    []byte{3},
	FileLength:    42,
}

func TestBuildText_Plain(t *testing.T) {
	m := buildText(domain.TextMessage{ChatID: "628111@s.whatsapp.net", Text: "hello"})
	if m.GetConversation() != "hello" {
		t.Fatalf("expected conversation form, got %v", m)
	}
	if m.GetExtendedTextMessage() != nil {
		t.Fatal("plain text should not use extended text")
	}
}

func TestBuildText_QuoteAndMentions(t *testing.T) {
	raw := &waE2E.Message{Conversation: proto.String(".tagall")}
	quote := &domain.InboundMessage{ID: "Q1", SenderID: "628222@s.whatsapp.net", Raw: raw}
	mentions := []string{"628333@s.whatsapp.net"}

	m := buildText(domain.TextMessage{Text: "@628333 added", Quote: quote, Mentions: mentions})

	ext := m.GetExtendedTextMessage()
	if ext == nil || ext.GetText() != "@628333 added" {
		t.Fatalf("expected extended text, got %v", m)
	}
	ci := ext.GetContextInfo()
	if ci.GetStanzaID() != "Q1" || ci.GetParticipant() != "628222@s.whatsapp.net" {
		t.Fatalf("unexpected quote context %v", ci)
	}
	if ci.GetQuotedMessage() != raw {
		t.Fatal("quoted payload should be the original message")
	}
	if len(ci.GetMentionedJID()) != 1 || ci.GetMentionedJID()[0] != mentions[0] {
		t.Fatalf("unexpected mentions %v", ci.GetMentionedJID())
	}

	mentions[0] = "changed"
	if ci.GetMentionedJID()[0] == "changed" {
		t.Fatal("mentions should be copied")
	}
}

func TestBuildContextInfo_ForeignRawIgnored(t *testing.T) {
	ci := buildContextInfo(&domain.InboundMessage{ID: "Q", Raw: "not a proto"}, nil)
	if ci == nil || ci.GetQuotedMessage() != nil || ci.GetStanzaID() != "Q" {
		t.Fatalf("unexpected context %v", ci)
	}
	if buildContextInfo(nil, nil) != nil {
		t.Fatal("no quote and no mentions should give nil")
	}
}

func TestBuildMedia_Kinds(t *testing.T) {
	tests := []struct {
		name  string
		msg   domain.MediaMessage
		check func(t *testing.T, m *waE2E.Message)
	}{
		{"image", domain.MediaMessage{Kind: domain.MediaImage, Caption: "pp"}, func(t *testing.T, m *waE2E.Message) {
			img := m.GetImageMessage()
			if img == nil || img.GetMimetype() != "image/jpeg" || img.GetCaption() != "pp" || img.GetFileLength() != 42 {
				t.Fatalf("unexpected image %v", img)
			}
		}},
		{"video", domain.MediaMessage{Kind: domain.MediaVideo, MimeType: "video/mp4"}, func(t *testing.T, m *waE2E.Message) {
			if m.GetVideoMessage().GetDirectPath() != "/v/t62/x" {
				t.Fatalf("unexpected video %v", m.GetVideoMessage())
			}
		}},
		{"voice note", domain.MediaMessage{Kind: domain.MediaAudio, Voice: true}, func(t *testing.T, m *waE2E.Message) {
			aud := m.GetAudioMessage()
			if !aud.GetPTT() || aud.GetMimetype() != voiceMimeType {
				t.Fatalf("unexpected audio %v", aud)
			}
		}},
		{"audio keeps mime", domain.MediaMessage{Kind: domain.MediaAudio, MimeType: "audio/mpeg"}, func(t *testing.T, m *waE2E.Message) {
			aud := m.GetAudioMessage()
			if aud.GetPTT() || aud.GetMimetype() != "audio/mpeg" {
				t.Fatalf("unexpected audio %v", aud)
			}
		}},
		{"document", domain.MediaMessage{Kind: domain.MediaDocument, MimeType: "application/pdf"}, func(t *testing.T, m *waE2E.Message) {
			if m.GetDocumentMessage().GetFileName() != "document.pdf" {
				t.Fatalf("unexpected file name %q", m.GetDocumentMessage().GetFileName())
			}
		}},
		{"sticker", domain.MediaMessage{Kind: domain.MediaSticker, MimeType: "image/png"}, func(t *testing.T, m *waE2E.Message) {
			if m.GetStickerMessage().GetMimetype() != "image/webp" {
				t.Fatalf("stickers are always webp, got %q", m.GetStickerMessage().GetMimetype())
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := buildMedia(tt.msg, upload)
			if err != nil {
				t.Fatalf("buildMedia: %v", err)
			}
			tt.check(t, m)
		})
	}
}

func TestBuildMedia_Quote(t *testing.T) {
	quote := &domain.InboundMessage{ID: "CMD", SenderID: "628111@s.whatsapp.net"}
	m, err := buildMedia(domain.MediaMessage{Kind: domain.MediaImage, Quote: quote}, upload)
	if err != nil {
		t.Fatal(err)
	}
	if m.GetImageMessage().GetContextInfo().GetStanzaID() != "CMD" {
		t.Fatal("expected quote context on image")
	}
}

func TestBuildMedia_Unsupported(t *testing.T) {
	_, err := buildMedia(domain.MediaMessage{Kind: "hologram"}, upload)
	if !errors.Is(err, domain.ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
	if _, err := uploadType("hologram"); !errors.Is(err, domain.ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestUploadType_StickerUsesImage(t *testing.T) {
	mt, err := uploadType(domain.MediaSticker)
	if err != nil || mt != whatsmeow.MediaImage {
		t.Fatalf("expected image upload type, got %q %v", mt, err)
	}
}

func TestParseJID(t *testing.T) {
	if _, err := parseJID("628123"); err == nil {
		t.Fatal("address without server should fail")
	}
	jid, err := parseJID("120363000000@g.us")
	if err != nil || jid.Server != "g.us" || jid.User != "120363000000" {
		t.Fatalf("unexpected jid %v %v", jid, err)
	}
	if _, err := parseJIDs([]string{"1@s.whatsapp.net", "bad"}); err == nil {
		t.Fatal("one bad address should fail the batch")
	}
}

func TestSessionDSN(t *testing.T) {
	got := sessionDSN(SessionPath("/tmp/wabot"))
	want := "file:/tmp/wabot/session.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
