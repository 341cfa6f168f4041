package event

import (
	"strings"
	"time"
)

// StatusBroadcast is the well-known channel status updates are posted to.
const StatusBroadcast = "status@broadcast"

// Kind tags the InboundEvent union.
type Kind uint8

const (
	KindMessage Kind = iota + 1
	KindStatus
	KindDeletion
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindStatus:
		return "status"
	case KindDeletion:
		return "deletion"
	case KindConnection:
		return "connection"
	}
	return "unknown"
}

// Source names the wire shape an event was normalized from. Several shapes
// carry the same meaning (two status streams, two revoke shapes).
type Source string

const (
	SourceUpsert       Source = "messages.upsert"
	SourceInfoUpdate   Source = "message-info.update"
	SourceUpdate       Source = "messages.update"
	SourceDelete       Source = "messages.delete"
	SourceConnection   Source = "connection.update"
	SourceSyntheticEOF Source = "transport.eof"
)

// Key references a single message on the network. The JSON names are the
// network's own, shared by the gateway frames and the deletion log file.
type Key struct {
	Chat        string `json:"remoteJid"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
}

// Author is the participant when set (groups, status), otherwise the chat.
func (k Key) Author() string {
	if k.Participant != "" {
		return k.Participant
	}
	return k.Chat
}

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// Media describes an attachment; the bytes stay on the gateway until
// requested through Session.DownloadMedia.
type Media struct {
	Kind     MediaKind `json:"kind"`
	MimeType string    `json:"mimetype,omitempty"`
	Caption  string    `json:"caption,omitempty"`
	ViewOnce bool      `json:"view_once,omitempty"`
}

// Content is the decoded payload of a chat or status message.
type Content struct {
	Text         string
	ExtendedText string
	Media        *Media
}

// Body returns the first non-empty of text, extended text, image caption
// and video caption.
func (c *Content) Body() string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	if c.ExtendedText != "" {
		return c.ExtendedText
	}
	if c.Media != nil && (c.Media.Kind == MediaImage || c.Media.Kind == MediaVideo) {
		return c.Media.Caption
	}
	return ""
}

// Empty reports whether the message carried nothing the pipeline can use.
func (c *Content) Empty() bool {
	return c == nil || (c.Text == "" && c.ExtendedText == "" && c.Media == nil)
}

type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "close"
)

// DisconnectReason classifies a close. Only ReasonLoggedOut is terminal.
type DisconnectReason string

const (
	ReasonLoggedOut       DisconnectReason = "logged_out"
	ReasonConnectionLost  DisconnectReason = "connection_lost"
	ReasonConnectionClose DisconnectReason = "connection_closed"
	ReasonRestartRequired DisconnectReason = "restart_required"
	ReasonTimedOut        DisconnectReason = "timed_out"
	ReasonReplaced        DisconnectReason = "connection_replaced"
	ReasonUnknown         DisconnectReason = "unknown"
)

func (r DisconnectReason) Terminal() bool { return r == ReasonLoggedOut }

// Connection is carried by KindConnection events.
type Connection struct {
	State  ConnState
	Reason DisconnectReason
}

// Deletion is carried by KindDeletion events. Recovered holds whatever
// original text the gateway could still attach; it is often empty.
type Deletion struct {
	Target    Key
	Recovered string
}

// InboundEvent is the normalized form of every event a session emits.
// Exactly one of Content, Deletion or Connection is meaningful, selected
// by Kind.
type InboundEvent struct {
	Kind      Kind
	Source    Source
	Key       Key
	PushName  string
	Timestamp time.Time

	Content    *Content
	Deletion   *Deletion
	Connection *Connection
}

// Sender is the identifier replies and dedup use: the chat the event
// arrived on.
func (e InboundEvent) Sender() string { return e.Key.Chat }

// ViewOnce reports whether the message carries ephemeral media.
func (e InboundEvent) ViewOnce() bool {
	return e.Content != nil && e.Content.Media != nil && e.Content.Media.ViewOnce
}

// NormalizeJID drops the device part of a user identifier:
// "254700:12@s.whatsapp.net" -> "254700@s.whatsapp.net".
func NormalizeJID(jid string) string {
	at := strings.IndexByte(jid, '@')
	if at < 0 {
		return jid
	}
	user, server := jid[:at], jid[at:]
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user + server
}
