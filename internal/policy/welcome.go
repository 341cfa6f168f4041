package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/lzyats/im-sentinel/internal/dispatch"
	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

// Welcome greets each identifier at most once for the lifetime of the
// seen set. A crash between send and persist can repeat the greeting once.
type Welcome struct {
	seen  storeiface.SeenSet
	text  string
	locks keyedMutex
}

func NewWelcome(seen storeiface.SeenSet, text string) *Welcome {
	return &Welcome{seen: seen, text: text}
}

func (w *Welcome) Name() string { return "welcome" }

func (w *Welcome) Handle(ctx context.Context, env *dispatch.Env) dispatch.Result {
	id := env.Sender
	unlock := w.locks.Lock(id)
	defer unlock()

	seen, err := w.seen.Contains(ctx, id)
	if err != nil {
		return dispatch.Failed(fmt.Errorf("welcome lookup: %w", err))
	}
	if seen {
		return dispatch.Skip()
	}

	sendErr := env.Session.Send(ctx, id, protocol.Text(w.text))
	// recorded even when the send failed: one attempt per identifier
	if _, err := w.seen.Add(ctx, id); err != nil {
		return dispatch.Failed(err)
	}
	if sendErr != nil {
		return dispatch.Failed(fmt.Errorf("greeting send: %w", sendErr))
	}
	metrics.GreetingsSent.Inc()
	return dispatch.Next()
}

// keyedMutex serializes work per key; entries are dropped once unused.
type keyedMutex struct {
	mu sync.Mutex
	m  map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*keyedEntry)
	}
	e, ok := k.m[key]
	if !ok {
		e = &keyedEntry{}
		k.m[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
