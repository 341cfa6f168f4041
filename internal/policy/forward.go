package policy

import (
	"context"
	"errors"

	"github.com/lzyats/im-sentinel/internal/breaker"
	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

var ErrForwardSuppressed = errors.New("owner forward suppressed: breaker open")

// Forwarder delivers notices to the owner. Repeated failures open the
// breaker so a dead owner chat does not stall every capture.
type Forwarder struct {
	owner string
	brk   *breaker.Breaker
}

func NewForwarder(ownerJID string, brk *breaker.Breaker) *Forwarder {
	return &Forwarder{owner: ownerJID, brk: brk}
}

func (f *Forwarder) Owner() string { return f.owner }

func (f *Forwarder) Send(ctx context.Context, s protocol.Sender, msg protocol.Outgoing) error {
	if f.brk != nil && !f.brk.Allow(f.owner) {
		metrics.ForwardBreakerDrop.Inc()
		return ErrForwardSuppressed
	}
	if err := s.Send(ctx, f.owner, msg); err != nil {
		if f.brk != nil {
			f.brk.Failure(f.owner)
		}
		return err
	}
	if f.brk != nil {
		f.brk.Success(f.owner)
	}
	return nil
}
