package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

type Verdict uint8

const (
	Continue Verdict = iota
	Halt
)

// Result is what a handler reports back. Failures never propagate past the
// pipeline; they are logged and counted, and the chain keeps going unless
// the handler also halts.
type Result struct {
	Verdict Verdict
	Skipped bool
	Err     error
}

func Next() Result              { return Result{} }
func Skip() Result              { return Result{Skipped: true} }
func Stop() Result              { return Result{Verdict: Halt} }
func Failed(err error) Result   { return Result{Err: err} }
func StopWith(err error) Result { return Result{Verdict: Halt, Err: err} }

func (r Result) label() string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.Verdict == Halt:
		return "halt"
	case r.Skipped:
		return "skipped"
	}
	return "ok"
}

// Env is the per-event view handed to each handler.
type Env struct {
	Event   event.InboundEvent
	Session protocol.Sender
	Sender  string // chat the event arrived on
	Body    string // best-effort plain text
}

type Handler interface {
	Name() string
	Handle(ctx context.Context, env *Env) Result
}

type Outcome struct {
	Handler string
	Result
}

type Options struct {
	Message  []Handler
	Status   []Handler
	Deletion []Handler

	MaxInflight int64
	Outbound    func(protocol.Sender) protocol.Sender // rate limiting wrapper
	OnFatal     func(error)                           // persistence failures
	Log         *zap.Logger
}

type Dispatcher struct {
	opt Options
	log *zap.Logger
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(opt Options) *Dispatcher {
	if opt.MaxInflight <= 0 {
		opt.MaxInflight = 64
	}
	if opt.Log == nil {
		opt.Log = zap.NewNop()
	}
	if opt.OnFatal == nil {
		opt.OnFatal = func(error) {}
	}
	return &Dispatcher{
		opt: opt,
		log: opt.Log,
		sem: semaphore.NewWeighted(opt.MaxInflight),
	}
}

// Accept filters events that never enter a chain.
func (d *Dispatcher) Accept(evt event.InboundEvent) (bool, string) {
	switch evt.Kind {
	case event.KindMessage:
		if evt.Key.FromMe {
			return false, "from_me"
		}
		if evt.Content.Empty() {
			return false, "no_content"
		}
		return true, ""
	case event.KindStatus:
		if evt.Key.FromMe {
			return false, "from_me"
		}
		if evt.Key.ID == "" {
			return false, "no_key"
		}
		return true, ""
	case event.KindDeletion:
		if evt.Deletion == nil {
			return false, "no_key"
		}
		return true, ""
	}
	return false, "not_dispatchable"
}

// Dispatch runs evt as an independent task and returns immediately. spawn
// starts the task goroutine; the supervisor passes its crash guard here.
// A nil spawn uses a plain goroutine that only logs panics.
func (d *Dispatcher) Dispatch(ctx context.Context, s protocol.Sender, evt event.InboundEvent, spawn func(name string, fn func())) {
	if ok, reason := d.Accept(evt); !ok {
		metrics.EventsDropped.WithLabelValues(reason).Inc()
		return
	}
	if spawn == nil {
		spawn = d.spawn
	}
	d.wg.Add(1)
	spawn("dispatch."+evt.Kind.String(), func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return // session torn down while queued
		}
		defer d.sem.Release(1)
		d.Run(ctx, s, evt)
	})
}

func (d *Dispatcher) spawn(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("task panic", zap.String("task", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}()
		fn()
	}()
}

// Wait blocks until every dispatched task finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) chain(k event.Kind) []Handler {
	switch k {
	case event.KindMessage:
		return d.opt.Message
	case event.KindStatus:
		return d.opt.Status
	case event.KindDeletion:
		return d.opt.Deletion
	}
	return nil
}

// Run executes the chain for evt synchronously and reports each step.
func (d *Dispatcher) Run(ctx context.Context, s protocol.Sender, evt event.InboundEvent) []Outcome {
	if d.opt.Outbound != nil {
		s = d.opt.Outbound(s)
	}
	env := &Env{
		Event:   evt,
		Session: s,
		Sender:  evt.Sender(),
		Body:    evt.Content.Body(),
	}
	metrics.EventsDispatched.WithLabelValues(evt.Kind.String()).Inc()

	chain := d.chain(evt.Kind)
	out := make([]Outcome, 0, len(chain))
	for _, h := range chain {
		r := h.Handle(ctx, env)
		out = append(out, Outcome{Handler: h.Name(), Result: r})
		metrics.HandlerResults.WithLabelValues(h.Name(), r.label()).Inc()

		if r.Err != nil {
			if errors.Is(r.Err, storeiface.ErrPersistence) {
				d.log.Error("persistence failure",
					zap.String("handler", h.Name()),
					zap.String("chat", env.Sender),
					zap.Error(r.Err),
				)
				d.opt.OnFatal(fmt.Errorf("%s: %w", h.Name(), r.Err))
				return out
			}
			d.log.Warn("handler failed",
				zap.String("handler", h.Name()),
				zap.String("kind", evt.Kind.String()),
				zap.String("chat", env.Sender),
				zap.String("msg_id", evt.Key.ID),
				zap.Error(r.Err),
			)
		}
		if r.Verdict == Halt {
			break
		}
	}
	return out
}
