// Package protocoltest provides an in-memory Sender and Session for tests.
package protocoltest

import (
	"context"
	"sync"

	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

type Sent struct {
	To  string
	Msg protocol.Outgoing
}

type PresenceUpdate struct {
	To       string
	Presence protocol.Presence
}

// Sender records every outbound call. The Err fields, when set, are
// returned by the matching method.
type Sender struct {
	mu sync.Mutex

	SendErr      error
	PresenceErr  error
	SubscribeErr error
	ReadErr      error
	DownloadErr  error
	Media        []byte

	sent       []Sent
	presence   []PresenceUpdate
	subscribed []string
	read       []event.Key
	downloads  []event.Key
}

func (s *Sender) Send(_ context.Context, to string, msg protocol.Outgoing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, Sent{To: to, Msg: msg})
	return nil
}

func (s *Sender) UpdatePresence(_ context.Context, to string, p protocol.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PresenceErr != nil {
		return s.PresenceErr
	}
	s.presence = append(s.presence, PresenceUpdate{To: to, Presence: p})
	return nil
}

func (s *Sender) SubscribePresence(_ context.Context, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, to)
	return s.SubscribeErr
}

func (s *Sender) MarkRead(_ context.Context, key event.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ReadErr != nil {
		return s.ReadErr
	}
	s.read = append(s.read, key)
	return nil
}

func (s *Sender) DownloadMedia(_ context.Context, key event.Key) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads = append(s.downloads, key)
	if s.DownloadErr != nil {
		return nil, s.DownloadErr
	}
	return s.Media, nil
}

func (s *Sender) SentMessages() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Sent(nil), s.sent...)
}

func (s *Sender) PresenceUpdates() []PresenceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PresenceUpdate(nil), s.presence...)
}

func (s *Sender) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

func (s *Sender) Read() []event.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Key(nil), s.read...)
}

// Session is a Sender with an event stream the test drives.
type Session struct {
	Sender

	mu     sync.Mutex
	events chan event.InboundEvent
	closed bool
}

func NewSession(buffer int) *Session {
	if buffer <= 0 {
		buffer = 16
	}
	return &Session{events: make(chan event.InboundEvent, buffer)}
}

func (s *Session) Events() <-chan event.InboundEvent { return s.events }

// Emit queues evt. It reports false when the session is closed or the
// buffer is full.
func (s *Session) Emit(evt event.InboundEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- evt:
		return true
	default:
		return false
	}
}

// Drop ends the event stream without a close event, like a dead transport.
func (s *Session) Drop() { _ = s.Close() }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
