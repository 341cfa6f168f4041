// Package bridge talks to the protocol gateway over a websocket. The
// gateway runs the messaging engine; this side sends commands and receives
// normalized events.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

var ErrTimeout = errors.New("bridge: request timed out")

type Options struct {
	URL            string
	Header         http.Header
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	EventBuffer    int
	Log            *zap.Logger
}

type Connector struct {
	opt    Options
	dialer *websocket.Dialer
}

func NewConnector(opt Options) *Connector {
	if opt.DialTimeout <= 0 {
		opt.DialTimeout = 10 * time.Second
	}
	if opt.WriteTimeout <= 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.RequestTimeout <= 0 {
		opt.RequestTimeout = 30 * time.Second
	}
	if opt.EventBuffer <= 0 {
		opt.EventBuffer = 256
	}
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	return &Connector{
		opt:    opt,
		dialer: &websocket.Dialer{HandshakeTimeout: opt.DialTimeout},
	}
}

// Connect dials the gateway and performs the hello exchange with the
// stored credentials (nil starts a fresh pairing).
func (c *Connector) Connect(ctx context.Context, creds []byte, hooks protocol.Hooks) (protocol.Session, error) {
	dctx, cancel := context.WithTimeout(ctx, c.opt.DialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dctx, c.opt.URL, c.opt.Header)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial %s: %w", c.opt.URL, err)
	}

	s := newSession(conn, hooks, c.opt)
	go s.writeLoop()
	go s.readLoop()

	var hello helloData
	if len(creds) > 0 && json.Valid(creds) {
		hello.Creds = creds
	}
	if err := s.request(ctx, typeHello, hello, nil); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("bridge: hello: %w", err)
	}
	return s, nil
}

type session struct {
	conn  *websocket.Conn
	hooks protocol.Hooks
	opt   Options
	log   *zap.Logger

	// bounded outbound queue, drained by writeLoop
	out    chan []byte
	events chan event.InboundEvent

	seq     atomic.Uint64
	mu      sync.Mutex
	pending map[string]chan frame

	closed    chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, hooks protocol.Hooks, opt Options) *session {
	return &session{
		conn:    conn,
		hooks:   hooks,
		opt:     opt,
		log:     opt.Log,
		out:     make(chan []byte, 64),
		events:  make(chan event.InboundEvent, opt.EventBuffer),
		pending: make(map[string]chan frame),
		closed:  make(chan struct{}),
	}
}

func (s *session) Events() <-chan event.InboundEvent { return s.events }

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
	return nil
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.closed:
			return
		case b := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opt.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.log.Warn("gateway write failed", zap.Error(err))
				_ = s.Close()
				return
			}
		}
	}
}

// readLoop owns the events channel and closes it when the socket dies.
func (s *session) readLoop() {
	defer close(s.events)
	defer s.Close()
	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Warn("gateway read failed", zap.Error(err))
			}
			return
		}
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			s.log.Warn("gateway frame undecodable", zap.Error(err))
			continue
		}
		switch f.Type {
		case typeResult:
			s.resolve(f)
		case typeCredsUpdate:
			s.credsUpdate(f)
		case typeConnectionUpdate:
			s.connectionUpdate(f)
		default:
			evts, err := normalize(f.Type, f.Data)
			if err != nil {
				s.log.Warn("gateway event undecodable", zap.String("type", f.Type), zap.Error(err))
				continue
			}
			for _, evt := range evts {
				if !s.emit(evt) {
					return
				}
			}
		}
	}
}

func (s *session) emit(evt event.InboundEvent) bool {
	select {
	case s.events <- evt:
		return true
	case <-s.closed:
		return false
	}
}

// credsUpdate persists through the hook before acknowledging, so the
// gateway never runs ahead of what is on disk.
func (s *session) credsUpdate(f frame) {
	ack := frame{Type: typeCredsAck, ID: f.ID, OK: true}
	if s.hooks.Credentials != nil {
		if err := s.hooks.Credentials([]byte(f.Data)); err != nil {
			ack.OK = false
			ack.Error = err.Error()
		}
	}
	if err := s.write(context.Background(), ack); err != nil {
		s.log.Warn("creds ack failed", zap.Error(err))
	}
}

func (s *session) connectionUpdate(f frame) {
	var u wireConnUpdate
	if err := json.Unmarshal(f.Data, &u); err != nil {
		s.log.Warn("connection update undecodable", zap.Error(err))
		return
	}
	if u.QR != "" && s.hooks.PairingCode != nil {
		s.hooks.PairingCode(u.QR)
	}
	if evt, ok := connectionEvent(&u); ok {
		s.emit(evt)
	}
}

func (s *session) resolve(f frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.ID]
	delete(s.pending, f.ID)
	s.mu.Unlock()
	if ok {
		ch <- f
	}
}

func (s *session) write(ctx context.Context, f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case s.out <- b:
		return nil
	case <-s.closed:
		return protocol.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// request sends a command and waits for its result frame.
func (s *session) request(ctx context.Context, typ string, data, out any) error {
	select {
	case <-s.closed:
		return protocol.ErrClosed
	default:
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	id := strconv.FormatUint(s.seq.Add(1), 10)
	ch := make(chan frame, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, frame{Type: typ, ID: id, Data: payload}); err != nil {
		return err
	}

	t := time.NewTimer(s.opt.RequestTimeout)
	defer t.Stop()
	select {
	case r := <-ch:
		if !r.OK {
			return fmt.Errorf("bridge: %s: %s", typ, r.Error)
		}
		if out != nil && len(r.Data) > 0 {
			return json.Unmarshal(r.Data, out)
		}
		return nil
	case <-s.closed:
		return protocol.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return fmt.Errorf("%w: %s", ErrTimeout, typ)
	}
}

func (s *session) Send(ctx context.Context, to string, msg protocol.Outgoing) error {
	return s.request(ctx, typeSend, toSendData(to, msg), nil)
}

func (s *session) UpdatePresence(ctx context.Context, to string, p protocol.Presence) error {
	return s.request(ctx, typePresenceUpdate, presenceData{To: to, Presence: p}, nil)
}

func (s *session) SubscribePresence(ctx context.Context, to string) error {
	return s.request(ctx, typePresenceSubscribe, presenceData{To: to}, nil)
}

func (s *session) MarkRead(ctx context.Context, key event.Key) error {
	return s.request(ctx, typeRead, readData{Keys: []wireKey{toWireKey(key)}}, nil)
}

func (s *session) DownloadMedia(ctx context.Context, key event.Key) ([]byte, error) {
	var res downloadResult
	if err := s.request(ctx, typeMediaDownload, downloadData{Key: toWireKey(key)}, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}
