package outbound

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

// Throttle shares one token bucket across every session it wraps, so the
// account's outbound rate survives reconnects.
type Throttle struct {
	lim *rate.Limiter
}

// New returns a throttle allowing perSecond sends with burst. perSecond<=0
// disables limiting.
func New(perSecond float64, burst int) *Throttle {
	if perSecond <= 0 {
		return &Throttle{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttle) Wrap(s protocol.Sender) protocol.Sender {
	return &throttled{Sender: s, lim: t.lim}
}

type throttled struct {
	protocol.Sender
	lim *rate.Limiter
}

func (t *throttled) Send(ctx context.Context, to string, msg protocol.Outgoing) error {
	if err := t.lim.Wait(ctx); err != nil {
		return err
	}
	return t.Sender.Send(ctx, to, msg)
}

func (t *throttled) UpdatePresence(ctx context.Context, to string, p protocol.Presence) error {
	if err := t.lim.Wait(ctx); err != nil {
		return err
	}
	return t.Sender.UpdatePresence(ctx, to, p)
}

func (t *throttled) MarkRead(ctx context.Context, key event.Key) error {
	if err := t.lim.Wait(ctx); err != nil {
		return err
	}
	return t.Sender.MarkRead(ctx, key)
}
