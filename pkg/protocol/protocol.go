package protocol

import (
	"context"
	"errors"

	"github.com/lzyats/im-sentinel/pkg/event"
)

var (
	ErrNotConnected = errors.New("protocol: session not connected")
	ErrClosed       = errors.New("protocol: session closed")
)

// Presence is a chat-presence state sent to a peer.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
	PresenceAvailable Presence = "available"
)

type Reaction struct {
	Emoji  string    `json:"text"`
	Target event.Key `json:"key"`
}

type OutgoingMedia struct {
	Kind     event.MediaKind `json:"kind"`
	MimeType string          `json:"mimetype,omitempty"`
	FileName string          `json:"file_name,omitempty"`
	Data     []byte          `json:"data"`
}

// Outgoing is the content of a send; exactly one field is set.
type Outgoing struct {
	Text     string         `json:"text,omitempty"`
	Reaction *Reaction      `json:"react,omitempty"`
	Media    *OutgoingMedia `json:"media,omitempty"`
}

func Text(s string) Outgoing { return Outgoing{Text: s} }

// Sender is the outbound half of a session.
type Sender interface {
	Send(ctx context.Context, to string, msg Outgoing) error
	UpdatePresence(ctx context.Context, to string, p Presence) error
	SubscribePresence(ctx context.Context, to string) error
	MarkRead(ctx context.Context, key event.Key) error
	DownloadMedia(ctx context.Context, key event.Key) ([]byte, error)
}

// Session is one connected, authenticated protocol session. Events is
// closed after Close, or when the transport dies.
type Session interface {
	Sender
	Events() <-chan event.InboundEvent
	Close() error
}

// Hooks are invoked synchronously by the connector. Credentials must
// return only once the blob is durable; the connector acknowledges the
// update to the engine afterwards.
type Hooks struct {
	Credentials func(blob []byte) error
	PairingCode func(code string)
}

// Connector establishes sessions.
type Connector interface {
	Connect(ctx context.Context, creds []byte, hooks Hooks) (Session, error)
}
