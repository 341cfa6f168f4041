package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
	"github.com/lzyats/im-sentinel/pkg/protocol/protocoltest"
)

type stub struct {
	name  string
	res   Result
	mu    sync.Mutex
	calls int
	seen  *[]string
	smu   *sync.Mutex
}

func (s *stub) Name() string { return s.name }

func (s *stub) Handle(_ context.Context, env *Env) Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.seen != nil {
		s.smu.Lock()
		*s.seen = append(*s.seen, s.name)
		s.smu.Unlock()
	}
	return s.res
}

func (s *stub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func textEvent(chat, id, text string) event.InboundEvent {
	return event.InboundEvent{
		Kind:    event.KindMessage,
		Source:  event.SourceUpsert,
		Key:     event.Key{Chat: chat, ID: id},
		Content: &event.Content{Text: text},
	}
}

func TestRunOrderAndHalt(t *testing.T) {
	var order []string
	var mu sync.Mutex
	a := &stub{name: "a", res: Next(), seen: &order, smu: &mu}
	b := &stub{name: "b", res: Stop(), seen: &order, smu: &mu}
	c := &stub{name: "c", res: Next(), seen: &order, smu: &mu}

	d := New(Options{Message: []Handler{a, b, c}})
	out := d.Run(context.Background(), &protocoltest.Sender{}, textEvent("x@s.whatsapp.net", "1", "hi"))

	assert.Equal(t, []string{"a", "b"}, order)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[1].Handler)
	assert.Equal(t, Halt, out[1].Verdict)
	assert.Zero(t, c.count())
}

func TestRunFailureContinues(t *testing.T) {
	a := &stub{name: "a", res: Failed(errors.New("boom"))}
	b := &stub{name: "b", res: Next()}
	var fatal atomic.Int32

	d := New(Options{Message: []Handler{a, b}, OnFatal: func(error) { fatal.Add(1) }})
	out := d.Run(context.Background(), &protocoltest.Sender{}, textEvent("x@s.whatsapp.net", "1", "hi"))

	require.Len(t, out, 2)
	assert.Error(t, out[0].Err)
	assert.Equal(t, 1, b.count())
	assert.Zero(t, fatal.Load())
}

func TestRunPersistenceFailureIsFatal(t *testing.T) {
	a := &stub{name: "welcome", res: Failed(storeiface.Persist("write", errors.New("disk full")))}
	b := &stub{name: "b", res: Next()}
	var got error

	d := New(Options{Message: []Handler{a, b}, OnFatal: func(err error) { got = err }})
	d.Run(context.Background(), &protocoltest.Sender{}, textEvent("x@s.whatsapp.net", "1", "hi"))

	require.Error(t, got)
	assert.ErrorIs(t, got, storeiface.ErrPersistence)
	assert.Contains(t, got.Error(), "welcome")
	assert.Zero(t, b.count())
}

func TestRunSelectsChainByKind(t *testing.T) {
	msg := &stub{name: "msg", res: Next()}
	st := &stub{name: "status", res: Stop()}
	del := &stub{name: "del", res: Next()}
	d := New(Options{Message: []Handler{msg}, Status: []Handler{st}, Deletion: []Handler{del}})

	ctx := context.Background()
	s := &protocoltest.Sender{}
	d.Run(ctx, s, event.InboundEvent{
		Kind:    event.KindStatus,
		Key:     event.Key{Chat: event.StatusBroadcast, ID: "s1", Participant: "p@s.whatsapp.net"},
		Content: &event.Content{},
	})
	d.Run(ctx, s, event.InboundEvent{
		Kind:     event.KindDeletion,
		Deletion: &event.Deletion{Target: event.Key{Chat: "x@s.whatsapp.net", ID: "m1"}},
	})

	assert.Zero(t, msg.count())
	assert.Equal(t, 1, st.count())
	assert.Equal(t, 1, del.count())
}

func TestAccept(t *testing.T) {
	d := New(Options{})

	tests := []struct {
		name   string
		evt    event.InboundEvent
		ok     bool
		reason string
	}{
		{"text", textEvent("a@s.whatsapp.net", "1", "hi"), true, ""},
		{"from me", func() event.InboundEvent {
			e := textEvent("a@s.whatsapp.net", "1", "hi")
			e.Key.FromMe = true
			return e
		}(), false, "from_me"},
		{"no content", event.InboundEvent{Kind: event.KindMessage, Key: event.Key{Chat: "a", ID: "1"}}, false, "no_content"},
		{"status", event.InboundEvent{Kind: event.KindStatus, Key: event.Key{Chat: event.StatusBroadcast, ID: "s"}}, true, ""},
		{"status without id", event.InboundEvent{Kind: event.KindStatus, Key: event.Key{Chat: event.StatusBroadcast}}, false, "no_key"},
		{"own status", event.InboundEvent{Kind: event.KindStatus, Key: event.Key{Chat: event.StatusBroadcast, ID: "s", FromMe: true}}, false, "from_me"},
		{"deletion", event.InboundEvent{Kind: event.KindDeletion, Deletion: &event.Deletion{}}, true, ""},
		{"deletion without target", event.InboundEvent{Kind: event.KindDeletion}, false, "no_key"},
		{"connection", event.InboundEvent{Kind: event.KindConnection, Connection: &event.Connection{State: event.StateOpen}}, false, "not_dispatchable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := d.Accept(tt.evt)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

type blocking struct {
	started chan struct{}
	release chan struct{}
	inside  atomic.Int32
	peak    atomic.Int32
}

func (b *blocking) Name() string { return "blocking" }

func (b *blocking) Handle(ctx context.Context, _ *Env) Result {
	n := b.inside.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	b.started <- struct{}{}
	<-b.release
	b.inside.Add(-1)
	return Next()
}

func TestDispatchBoundsInflight(t *testing.T) {
	h := &blocking{started: make(chan struct{}, 8), release: make(chan struct{})}
	d := New(Options{Message: []Handler{h}, MaxInflight: 2})

	ctx := context.Background()
	s := &protocoltest.Sender{}
	for i := 0; i < 4; i++ {
		d.Dispatch(ctx, s, textEvent("a@s.whatsapp.net", "id", "hi"), nil)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-h.started:
		case <-time.After(time.Second):
			t.Fatal("handler did not start")
		}
	}
	select {
	case <-h.started:
		t.Fatal("more than MaxInflight tasks running")
	case <-time.After(50 * time.Millisecond):
	}
	close(h.release)
	d.Wait()
	assert.Equal(t, int32(2), h.peak.Load())
}

func TestDispatchDropsFilteredEvents(t *testing.T) {
	h := &stub{name: "h", res: Next()}
	d := New(Options{Message: []Handler{h}})

	e := textEvent("a@s.whatsapp.net", "1", "hi")
	e.Key.FromMe = true
	var spawned bool
	d.Dispatch(context.Background(), &protocoltest.Sender{}, e, func(string, func()) { spawned = true })
	d.Wait()

	assert.False(t, spawned)
	assert.Zero(t, h.count())
}

func TestDispatchUsesSpawnAndOutbound(t *testing.T) {
	var names []string
	var wrapped atomic.Bool
	h := &stub{name: "h", res: Next()}
	d := New(Options{
		Message: []Handler{h},
		Outbound: func(s protocol.Sender) protocol.Sender {
			wrapped.Store(true)
			return s
		},
	})

	d.Dispatch(context.Background(), &protocoltest.Sender{}, textEvent("a@s.whatsapp.net", "1", "hi"), func(name string, fn func()) {
		names = append(names, name)
		fn()
	})
	d.Wait()

	assert.Equal(t, []string{"dispatch.message"}, names)
	assert.Equal(t, 1, h.count())
	assert.True(t, wrapped.Load())
}

type panicky struct{}

func (panicky) Name() string                        { return "panicky" }
func (panicky) Handle(context.Context, *Env) Result { panic("handler bug") }

func TestDefaultSpawnRecovers(t *testing.T) {
	d := New(Options{Message: []Handler{panicky{}}})
	d.Dispatch(context.Background(), &protocoltest.Sender{}, textEvent("a@s.whatsapp.net", "1", "hi"), nil)
	d.Wait()
}
