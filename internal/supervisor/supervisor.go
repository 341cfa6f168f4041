package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

var (
	ErrLoggedOut       = errors.New("supervisor: session logged out")
	ErrCredentialsLost = errors.New("supervisor: credentials could not be persisted")
)

type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateTerminated State = "terminated"
)

var allStates = []State{StateIdle, StateConnecting, StateOpen, StateClosed, StateTerminated}

// Pipeline receives every non-connection event. It must not block.
type Pipeline interface {
	Dispatch(ctx context.Context, s protocol.Sender, evt event.InboundEvent, spawn func(name string, fn func()))
}

type Options struct {
	Connector protocol.Connector
	Creds     storeiface.CredentialStore
	Pipeline  Pipeline

	ReconnectDelay time.Duration
	CredRetries    int
	CredBackoff    time.Duration

	// OnSession runs each time a freshly connected session is adopted,
	// before its events are pumped.
	OnSession func()

	Log *zap.Logger
}

// Status is a point-in-time view for the HTTP surface.
type Status struct {
	State       State
	PairingCode string
	LastReason  event.DisconnectReason
	Since       time.Time
	Connects    uint64
}

// Supervisor owns the single live session: it connects, pumps events,
// reconnects after abnormal closes and stops for good on logout.
type Supervisor struct {
	opt  Options
	log  *zap.Logger
	root context.Context

	mu         sync.Mutex
	state      State
	since      time.Time
	gen        uint64 // bumped whenever the current session is superseded
	sess       protocol.Session
	connecting bool
	restarting bool
	credsDirty bool
	pairing    string
	lastReason event.DisconnectReason
	connects   uint64
	termErr    error

	done     chan struct{}
	doneOnce sync.Once
}

func New(opt Options) *Supervisor {
	if opt.ReconnectDelay <= 0 {
		opt.ReconnectDelay = 2 * time.Second
	}
	if opt.CredRetries <= 0 {
		opt.CredRetries = 3
	}
	if opt.CredBackoff <= 0 {
		opt.CredBackoff = 200 * time.Millisecond
	}
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	s := &Supervisor{
		opt:   opt,
		log:   opt.Log,
		root:  context.Background(),
		state: StateIdle,
		since: time.Now(),
		done:  make(chan struct{}),
	}
	s.setGauge(StateIdle)
	return s
}

// Run connects and blocks until ctx ends or the session is terminated.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.root = ctx
	s.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.termErr
	}
}

// Start establishes a session. It returns immediately while a dial is in
// flight, while the session waits for open (pairing) and once it is open.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == StateTerminated:
		err := s.termErr
		s.mu.Unlock()
		return err
	case s.connecting || s.state == StateConnecting || s.state == StateOpen:
		s.mu.Unlock()
		return nil
	}
	s.connecting = true
	s.gen++
	gen := s.gen
	prev := s.sess
	s.sess = nil
	s.connects++
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	metrics.ConnectAttempts.Inc()

	creds, err := s.opt.Creds.Load(ctx)
	if err != nil {
		s.log.Warn("credential load failed, pairing fresh", zap.Error(err))
		creds = nil
	}

	sess, err := s.opt.Connector.Connect(ctx, creds, protocol.Hooks{
		Credentials: s.saveCredentials,
		PairingCode: s.setPairing,
	})

	s.mu.Lock()
	s.connecting = false
	if err != nil {
		if s.state != StateTerminated {
			s.setStateLocked(StateClosed)
		}
		s.mu.Unlock()
		s.log.Warn("connect failed", zap.Error(err))
		if ctx.Err() == nil {
			s.scheduleRestart(event.ReasonConnectionLost)
		}
		return nil
	}
	if gen != s.gen || s.state == StateTerminated || ctx.Err() != nil {
		s.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	s.sess = sess
	s.mu.Unlock()

	if s.opt.OnSession != nil {
		s.opt.OnSession()
	}
	s.Go("session.pump", func() { s.pump(ctx, gen, sess) })
	return nil
}

func (s *Supervisor) pump(ctx context.Context, gen uint64, sess protocol.Session) {
	for evt := range sess.Events() {
		if evt.Kind == event.KindConnection {
			if evt.Connection != nil {
				s.onConnection(gen, *evt.Connection)
			}
			continue
		}
		s.opt.Pipeline.Dispatch(ctx, sess, evt, s.Go)
	}
	// stream ended without a close event
	s.onConnection(gen, event.Connection{State: event.StateClosed, Reason: event.ReasonConnectionLost})
}

func (s *Supervisor) onConnection(gen uint64, c event.Connection) {
	s.mu.Lock()
	if gen != s.gen || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	switch c.State {
	case event.StateConnecting:
		s.setStateLocked(StateConnecting)
		s.mu.Unlock()
	case event.StateOpen:
		s.setStateLocked(StateOpen)
		s.pairing = ""
		s.mu.Unlock()
		s.log.Info("session open")
	case event.StateClosed:
		reason := c.Reason
		if reason == "" {
			reason = event.ReasonUnknown
		}
		s.gen++
		sess := s.sess
		s.sess = nil
		s.lastReason = reason

		var term error
		switch {
		case reason.Terminal():
			term = ErrLoggedOut
		case s.credsDirty:
			term = ErrCredentialsLost
		}
		if term != nil {
			s.termErr = term
			s.setStateLocked(StateTerminated)
		} else {
			s.setStateLocked(StateClosed)
		}
		s.mu.Unlock()

		if sess != nil {
			_ = sess.Close()
		}
		if term != nil {
			s.log.Error("session terminated, clear credentials and pair again",
				zap.String("reason", string(reason)), zap.Error(term))
			s.doneOnce.Do(func() { close(s.done) })
			return
		}
		s.log.Warn("session closed, reconnecting",
			zap.String("reason", string(reason)), zap.Duration("delay", s.opt.ReconnectDelay))
		s.scheduleRestart(reason)
	default:
		s.mu.Unlock()
	}
}

// scheduleRestart arms a single delayed Start; further calls are dropped
// until that Start runs.
func (s *Supervisor) scheduleRestart(reason event.DisconnectReason) {
	s.mu.Lock()
	if s.restarting {
		s.mu.Unlock()
		return
	}
	s.restarting = true
	ctx := s.root
	s.mu.Unlock()

	metrics.Reconnects.WithLabelValues(string(reason)).Inc()
	s.Go("session.restart", func() {
		t := time.NewTimer(s.opt.ReconnectDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.mu.Lock()
		s.restarting = false
		s.mu.Unlock()
		if err := s.Start(ctx); err != nil {
			s.log.Warn("restart skipped", zap.Error(err))
		}
	})
}

// Go runs fn on its own goroutine. A panic is logged and turned into a
// Fault, which restarts the session.
func (s *Supervisor) Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.CrashRecoveries.Inc()
				s.log.Error("recovered panic",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				s.Fault(fmt.Errorf("%s: panic: %v", name, r))
			}
		}()
		fn()
	}()
}

// Fault tears the current session down and schedules a restart. Concurrent
// faults collapse into one restart; a connect already in flight absorbs it.
func (s *Supervisor) Fault(err error) {
	s.mu.Lock()
	if s.restarting || s.connecting || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.gen++
	sess := s.sess
	s.sess = nil
	s.setStateLocked(StateClosed)
	s.mu.Unlock()

	s.log.Error("session fault, restarting", zap.Error(err))
	if sess != nil {
		_ = sess.Close()
	}
	if s.rootCtx().Err() == nil {
		s.scheduleRestart("fault")
	}
}

// saveCredentials runs inside the connector's credential hook, so the
// update is durable before the gateway is acknowledged.
func (s *Supervisor) saveCredentials(blob []byte) error {
	ctx := s.rootCtx()
	backoff := s.opt.CredBackoff
	var err error
	for attempt := 1; attempt <= s.opt.CredRetries; attempt++ {
		if err = s.opt.Creds.Save(ctx, blob); err == nil {
			s.mu.Lock()
			s.credsDirty = false
			s.mu.Unlock()
			return nil
		}
		metrics.CredentialSaveFail.Inc()
		s.log.Warn("credential save failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == s.opt.CredRetries {
			break
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			attempt = s.opt.CredRetries
		case <-t.C:
		}
		backoff *= 2
	}
	s.mu.Lock()
	s.credsDirty = true
	s.mu.Unlock()
	s.log.Error("credentials dirty, next close is terminal", zap.Error(err))
	return err
}

func (s *Supervisor) setPairing(code string) {
	s.mu.Lock()
	s.pairing = code
	s.mu.Unlock()
	s.log.Info("pairing code received, scan it at /qr")
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:       s.state,
		PairingCode: s.pairing,
		LastReason:  s.lastReason,
		Since:       s.since,
		Connects:    s.connects,
	}
}

// PairingCode returns the artifact to render on /qr, or "" once paired.
func (s *Supervisor) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairing
}

func (s *Supervisor) Done() <-chan struct{} { return s.done }

func (s *Supervisor) shutdown() {
	s.mu.Lock()
	s.gen++
	sess := s.sess
	s.sess = nil
	if s.state != StateTerminated {
		s.setStateLocked(StateClosed)
	}
	s.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
	s.log.Info("supervisor stopped")
}

func (s *Supervisor) rootCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

func (s *Supervisor) setStateLocked(st State) {
	if s.state != st {
		s.since = time.Now()
	}
	s.state = st
	s.setGauge(st)
}

func (s *Supervisor) setGauge(cur State) {
	for _, st := range allStates {
		v := 0.0
		if st == cur {
			v = 1
		}
		metrics.SessionState.WithLabelValues(string(st)).Set(v)
	}
}
