package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/lzyats/im-sentinel/internal/dispatch"
	"github.com/lzyats/im-sentinel/internal/toggles"
	"github.com/lzyats/im-sentinel/internal/ttlset"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

// Presence simulates typing: composing, a pause, then paused. Purely
// cosmetic; every failure is reported and dropped.
type Presence struct {
	toggles    *toggles.Toggles
	subscribed *ttlset.Set
	interval   time.Duration
}

func NewPresence(t *toggles.Toggles, interval, subscribeTTL time.Duration) *Presence {
	return &Presence{toggles: t, subscribed: ttlset.New(subscribeTTL), interval: interval}
}

func (p *Presence) Name() string { return "presence" }

// ResetSubscriptions forgets presence subscriptions; a new session starts
// with none.
func (p *Presence) ResetSubscriptions() { p.subscribed.Reset() }

func (p *Presence) Handle(ctx context.Context, env *dispatch.Env) dispatch.Result {
	if !p.toggles.Autotyping() {
		return dispatch.Skip()
	}
	to := env.Sender
	if p.subscribed.Add(to) {
		if err := env.Session.SubscribePresence(ctx, to); err != nil {
			p.subscribed.Remove(to)
		}
	}
	if err := env.Session.UpdatePresence(ctx, to, protocol.PresenceComposing); err != nil {
		return dispatch.Failed(fmt.Errorf("presence composing: %w", err))
	}

	t := time.NewTimer(p.interval)
	select {
	case <-ctx.Done():
		t.Stop()
		return dispatch.Failed(ctx.Err())
	case <-t.C:
	}

	if err := env.Session.UpdatePresence(ctx, to, protocol.PresencePaused); err != nil {
		return dispatch.Failed(fmt.Errorf("presence paused: %w", err))
	}
	return dispatch.Next()
}
