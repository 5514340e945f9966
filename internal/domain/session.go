package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoQuotedMedia    = errors.New("no quoted media")
	ErrNotConnected     = errors.New("session not connected")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrNoProfilePicture = errors.New("no profile picture")
)

// ParticipantAction is a group membership mutation.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// ParticipantResult is the per-member outcome of a membership mutation.
// Status follows the protocol's HTTP-like codes; 200 means success.
type ParticipantResult struct {
	ID     string
	Status int
}

// OK reports whether the mutation succeeded for this member.
func (r ParticipantResult) OK() bool { return r.Status == 0 || r.Status == 200 }

// SentMessage identifies a message the session delivered.
type SentMessage struct {
	ID        string
	Timestamp time.Time
}

// TextMessage is a text send request.
type TextMessage struct {
	ChatID   string
	Text     string
	Quote    *InboundMessage
	EditID   string // non-empty: replace the text of this message
	Mentions []string
}

// MediaMessage is a media send request.
type MediaMessage struct {
	ChatID   string
	Kind     MediaKind
	Data     []byte
	MimeType string
	Voice    bool
	Caption  string
	Quote    *InboundMessage
}

// Reaction attaches an emoji to an existing message.
type Reaction struct {
	ChatID   string
	SenderID string // empty means the message was sent by us
	TargetID string
	Emoji    string
}

// ConnectionState is a lifecycle transition surfaced by the session connector.
type ConnectionState string

const (
	StateOpen      ConnectionState = "open"
	StateClosed    ConnectionState = "close"
	StateLoggedOut ConnectionState = "logged_out"
)

// Session is the authenticated chat-network connection consumed by handlers.
// Its credential store is owned by the implementation and never inspected here.
type Session interface {
	SendText(ctx context.Context, msg TextMessage) (SentMessage, error)
	SendMedia(ctx context.Context, msg MediaMessage) (SentMessage, error)
	React(ctx context.Context, r Reaction) error
	Download(ctx context.Context, media *QuotedMedia) ([]byte, error)
	GroupParticipants(ctx context.Context, chatID string) ([]string, error)
	UpdateParticipants(ctx context.Context, chatID string, ids []string, action ParticipantAction) ([]ParticipantResult, error)
	ProfilePictureURL(ctx context.Context, id string) (string, error)
	FetchURL(ctx context.Context, url string) ([]byte, string, error)
}
