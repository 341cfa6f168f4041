package bridge

import (
	"encoding/json"

	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

// Frame types on the gateway socket.
const (
	typeHello             = "hello"
	typeSend              = "send"
	typePresenceUpdate    = "presence.update"
	typePresenceSubscribe = "presence.subscribe"
	typeRead              = "read"
	typeMediaDownload     = "media.download"
	typeResult            = "result"

	typeCredsUpdate      = "creds.update"
	typeCredsAck         = "creds.ack"
	typeConnectionUpdate = "connection.update"
	typeUpsert           = "messages.upsert"
	typeInfoUpdate       = "message-info.update"
	typeUpdate           = "messages.update"
	typeDelete           = "messages.delete"
)

// frame is the single envelope used in both directions. Requests carry
// type/id/data; results echo the id with ok/error.
type frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
}

type helloData struct {
	Creds json.RawMessage `json:"creds"`
}

type sendData struct {
	To    string                  `json:"to"`
	Text  string                  `json:"text,omitempty"`
	React *wireReaction           `json:"react,omitempty"`
	Media *protocol.OutgoingMedia `json:"media,omitempty"`
}

type wireReaction struct {
	Text string  `json:"text"`
	Key  wireKey `json:"key"`
}

func toSendData(to string, msg protocol.Outgoing) sendData {
	d := sendData{To: to, Text: msg.Text, Media: msg.Media}
	if r := msg.Reaction; r != nil {
		d.React = &wireReaction{Text: r.Emoji, Key: toWireKey(r.Target)}
	}
	return d
}

type presenceData struct {
	To       string            `json:"to"`
	Presence protocol.Presence `json:"presence,omitempty"`
}

type readData struct {
	Keys []wireKey `json:"keys"`
}

type downloadData struct {
	Key wireKey `json:"key"`
}

type downloadResult struct {
	Data []byte `json:"data"`
}

// wireKey is the gateway's message key.
type wireKey struct {
	RemoteJID   string `json:"remoteJid"`
	ID          string `json:"id"`
	Participant string `json:"participant,omitempty"`
	FromMe      bool   `json:"fromMe"`
}

func (k wireKey) key() event.Key {
	return event.Key{Chat: k.RemoteJID, ID: k.ID, Participant: k.Participant, FromMe: k.FromMe}
}

func toWireKey(k event.Key) wireKey {
	return wireKey{RemoteJID: k.Chat, ID: k.ID, Participant: k.Participant, FromMe: k.FromMe}
}
