package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lzyats/im-sentinel/pkg/event"
)

type wireMedia struct {
	Caption  string `json:"caption,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
	ViewOnce bool   `json:"viewOnce,omitempty"`
}

type wireWrapped struct {
	Message *wireMessage `json:"message"`
}

type wireProtocolMessage struct {
	Type *int     `json:"type"`
	Key  *wireKey `json:"key"`
}

type wireMessage struct {
	Conversation        string `json:"conversation,omitempty"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage,omitempty"`
	ImageMessage      *wireMedia           `json:"imageMessage,omitempty"`
	VideoMessage      *wireMedia           `json:"videoMessage,omitempty"`
	AudioMessage      *wireMedia           `json:"audioMessage,omitempty"`
	DocumentMessage   *wireMedia           `json:"documentMessage,omitempty"`
	StickerMessage    *wireMedia           `json:"stickerMessage,omitempty"`
	ViewOnceMessage   *wireWrapped         `json:"viewOnceMessage,omitempty"`
	ViewOnceMessageV2 *wireWrapped         `json:"viewOnceMessageV2,omitempty"`
	ProtocolMessage   *wireProtocolMessage `json:"protocolMessage,omitempty"`
}

// protocolRevoke is the protocolMessage type for a delete-for-everyone.
const protocolRevoke = 0

func (m *wireMessage) revoke() *wireKey {
	if m == nil || m.ProtocolMessage == nil || m.ProtocolMessage.Type == nil {
		return nil
	}
	if *m.ProtocolMessage.Type != protocolRevoke {
		return nil
	}
	if m.ProtocolMessage.Key == nil {
		return &wireKey{}
	}
	return m.ProtocolMessage.Key
}

func (m *wireMessage) text() string {
	if m == nil {
		return ""
	}
	if m.Conversation != "" {
		return m.Conversation
	}
	if m.ExtendedTextMessage != nil {
		return m.ExtendedTextMessage.Text
	}
	return ""
}

func (m *wireMessage) content() *event.Content {
	if m == nil {
		return nil
	}
	for _, w := range []*wireWrapped{m.ViewOnceMessage, m.ViewOnceMessageV2} {
		if w != nil && w.Message != nil {
			c := w.Message.content()
			if c != nil && c.Media != nil {
				c.Media.ViewOnce = true
			}
			return c
		}
	}
	c := &event.Content{Text: m.Conversation}
	if m.ExtendedTextMessage != nil {
		c.ExtendedText = m.ExtendedTextMessage.Text
	}
	for _, mm := range []struct {
		kind event.MediaKind
		m    *wireMedia
	}{
		{event.MediaImage, m.ImageMessage},
		{event.MediaVideo, m.VideoMessage},
		{event.MediaAudio, m.AudioMessage},
		{event.MediaDocument, m.DocumentMessage},
		{event.MediaSticker, m.StickerMessage},
	} {
		if mm.m != nil {
			c.Media = &event.Media{Kind: mm.kind, MimeType: mm.m.Mimetype, Caption: mm.m.Caption, ViewOnce: mm.m.ViewOnce}
			break
		}
	}
	if c.Empty() {
		return nil
	}
	return c
}

// wireTime accepts the timestamp as a number or a quoted number.
type wireTime int64

func (t *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", b, err)
	}
	*t = wireTime(n)
	return nil
}

func (t wireTime) time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

type wireWebMessage struct {
	Key              wireKey      `json:"key"`
	Message          *wireMessage `json:"message"`
	PushName         string       `json:"pushName,omitempty"`
	MessageTimestamp wireTime     `json:"messageTimestamp,omitempty"`
}

type wireUpsert struct {
	Messages []wireWebMessage `json:"messages"`
	Type     string           `json:"type,omitempty"`
}

type wireInfoUpdate struct {
	Key *wireKey `json:"key"`
}

type wireUpdate struct {
	Key    *wireKey `json:"key"`
	Update *struct {
		Revoked bool `json:"revoked,omitempty"`
	} `json:"update,omitempty"`
	Message *wireMessage `json:"message,omitempty"`
}

type wireDelete struct {
	Keys []wireKey `json:"keys"`
	JID  string    `json:"jid,omitempty"`
	All  bool      `json:"all,omitempty"`
}

type wireConnUpdate struct {
	Connection     string `json:"connection,omitempty"`
	QR             string `json:"qr,omitempty"`
	LastDisconnect *struct {
		StatusCode int    `json:"statusCode,omitempty"`
		Reason     string `json:"reason,omitempty"`
	} `json:"lastDisconnect,omitempty"`
}

// list decodes either a JSON array or a single object into []T.
func list[T any](data json.RawMessage) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	if data[0] == '[' {
		var out []T
		err := json.Unmarshal(data, &out)
		return out, err
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}

// normalize turns one gateway event frame into inbound events. Unknown
// types produce nothing.
func normalize(typ string, data json.RawMessage) ([]event.InboundEvent, error) {
	switch typ {
	case typeUpsert:
		var u wireUpsert
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, err
		}
		out := make([]event.InboundEvent, 0, len(u.Messages))
		for _, m := range u.Messages {
			out = append(out, fromUpsert(m))
		}
		return out, nil

	case typeInfoUpdate:
		ups, err := list[wireInfoUpdate](data)
		if err != nil {
			return nil, err
		}
		var out []event.InboundEvent
		for _, u := range ups {
			if u.Key == nil || u.Key.RemoteJID != event.StatusBroadcast {
				continue
			}
			out = append(out, event.InboundEvent{Kind: event.KindStatus, Source: event.SourceInfoUpdate, Key: u.Key.key()})
		}
		return out, nil

	case typeUpdate:
		ups, err := list[wireUpdate](data)
		if err != nil {
			return nil, err
		}
		var out []event.InboundEvent
		for _, u := range ups {
			revoked := u.Update != nil && u.Update.Revoked
			pk := u.Message.revoke()
			if !revoked && pk == nil {
				continue
			}
			var target wireKey
			switch {
			case u.Key != nil:
				target = *u.Key
			case pk != nil:
				target = *pk
			}
			out = append(out, event.InboundEvent{
				Kind:     event.KindDeletion,
				Source:   event.SourceUpdate,
				Key:      target.key(),
				Deletion: &event.Deletion{Target: target.key(), Recovered: u.Message.text()},
			})
		}
		return out, nil

	case typeDelete:
		var d wireDelete
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		out := make([]event.InboundEvent, 0, len(d.Keys))
		for _, k := range d.Keys {
			out = append(out, event.InboundEvent{
				Kind:     event.KindDeletion,
				Source:   event.SourceDelete,
				Key:      k.key(),
				Deletion: &event.Deletion{Target: k.key()},
			})
		}
		return out, nil
	}
	return nil, nil
}

func fromUpsert(m wireWebMessage) event.InboundEvent {
	evt := event.InboundEvent{
		Kind:      event.KindMessage,
		Source:    event.SourceUpsert,
		Key:       m.Key.key(),
		PushName:  m.PushName,
		Timestamp: m.MessageTimestamp.time(),
	}
	if pk := m.Message.revoke(); pk != nil {
		target := *pk
		if target.RemoteJID == "" {
			target.RemoteJID = m.Key.RemoteJID
		}
		evt.Kind = event.KindDeletion
		evt.Deletion = &event.Deletion{Target: target.key()}
		return evt
	}
	if m.Key.RemoteJID == event.StatusBroadcast {
		evt.Kind = event.KindStatus
	}
	evt.Content = m.Message.content()
	return evt
}

// Gateway disconnect status codes.
const (
	codeLoggedOut        = 401
	codeConnectionLost   = 408
	codeConnectionClosed = 428
	codeReplaced         = 440
	codeRestartRequired  = 515
)

func disconnectReason(u *wireConnUpdate) event.DisconnectReason {
	if u.LastDisconnect == nil {
		return event.ReasonUnknown
	}
	switch r := event.DisconnectReason(u.LastDisconnect.Reason); r {
	case event.ReasonLoggedOut, event.ReasonConnectionLost, event.ReasonConnectionClose,
		event.ReasonRestartRequired, event.ReasonTimedOut, event.ReasonReplaced:
		return r
	}
	switch u.LastDisconnect.StatusCode {
	case codeLoggedOut:
		return event.ReasonLoggedOut
	case codeConnectionLost:
		return event.ReasonConnectionLost
	case codeConnectionClosed:
		return event.ReasonConnectionClose
	case codeReplaced:
		return event.ReasonReplaced
	case codeRestartRequired:
		return event.ReasonRestartRequired
	}
	return event.ReasonUnknown
}

// connectionEvent returns the state change carried by u, if any.
func connectionEvent(u *wireConnUpdate) (event.InboundEvent, bool) {
	c := &event.Connection{}
	switch u.Connection {
	case "connecting":
		c.State = event.StateConnecting
	case "open":
		c.State = event.StateOpen
	case "close":
		c.State = event.StateClosed
		c.Reason = disconnectReason(u)
	default:
		return event.InboundEvent{}, false
	}
	return event.InboundEvent{Kind: event.KindConnection, Source: event.SourceConnection, Connection: c}, true
}
