package domain

import (
	"strings"
	"time"
)

const (
	// UserServer is the address suffix for individual accounts.
	UserServer = "s.whatsapp.net"
	// GroupServer is the address suffix for group chats.
	GroupServer = "g.us"
)

// ContentKind is the strict classification of a message payload.
type ContentKind int

const (
	ContentAbsent ContentKind = iota
	ContentText
	ContentImage
	ContentVideo
	ContentAudio
	ContentDocument
	ContentSticker
	ContentViewOnce
)

func (k ContentKind) String() string {
	switch k {
	case ContentText:
		return "text"
	case ContentImage:
		return "image"
	case ContentVideo:
		return "video"
	case ContentAudio:
		return "audio"
	case ContentDocument:
		return "document"
	case ContentSticker:
		return "sticker"
	case ContentViewOnce:
		return "view_once"
	default:
		return "absent"
	}
}

// IsMedia reports whether the kind carries downloadable bytes.
func (k ContentKind) IsMedia() bool {
	switch k {
	case ContentImage, ContentVideo, ContentAudio, ContentDocument, ContentSticker:
		return true
	}
	return false
}

// QuotedMedia describes the media found in a quoted (or the current) message
// after at most one view-once unwrap.
type QuotedMedia struct {
	Kind     ContentKind
	Tag      string // protocol content tag, e.g. "imageMessage"
	MimeType string
	ViewOnce bool
	Media    any // connector payload handed back to Session.Download
}

// Downloadable reports whether the media can be fetched.
func (q *QuotedMedia) Downloadable() bool {
	return q != nil && q.Kind.IsMedia() && q.Media != nil
}

// InboundMessage is one message delivered by the session connector.
type InboundMessage struct {
	ID        string
	ChatID    string
	SenderID  string
	PushName  string
	FromMe    bool
	IsGroup   bool
	Text      string // conversation text or media caption
	Quoted    *QuotedMedia
	QuotedID  string
	QuotedBy  string // sender of the quoted message
	Own       *QuotedMedia
	Timestamp time.Time
	Raw       any // connector payload, used to quote this message in replies
}

// ParsedCommand is the keyword and argument text extracted from a prefixed message.
type ParsedCommand struct {
	Keyword string
	Args    string
}

// IsGroupChat reports whether the chat address belongs to a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, "@"+GroupServer)
}

// UserPart returns the address without its server suffix and device part.
func UserPart(id string) string {
	user, _, _ := strings.Cut(id, "@")
	user, _, _ = strings.Cut(user, ":")
	return user
}
