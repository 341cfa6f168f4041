package policy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lzyats/im-sentinel/internal/dispatch"
	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/internal/toggles"
	"github.com/lzyats/im-sentinel/internal/ttlset"
	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

var Palette = []string{"❤️", "🔥", "👍", "😂", "👏", "😍", "🎉"}

// StatusReactor marks status updates read and reacts with a random emoji.
// It ends the chain: status updates get no other policy.
type StatusReactor struct {
	toggles *toggles.Toggles
	handled *ttlset.Set
	pick    func(n int) int
}

func NewStatusReactor(t *toggles.Toggles, dedupeTTL time.Duration) *StatusReactor {
	return &StatusReactor{toggles: t, handled: ttlset.New(dedupeTTL), pick: rand.IntN}
}

func (s *StatusReactor) Name() string { return "status" }

func (s *StatusReactor) Handle(ctx context.Context, env *dispatch.Env) dispatch.Result {
	key := env.Event.Key
	if key.Chat != event.StatusBroadcast {
		return dispatch.Skip()
	}
	// both status streams may carry the same update
	dedupe := key.Author() + "/" + key.ID
	if !s.handled.Add(dedupe) {
		return dispatch.Stop()
	}
	if err := env.Session.MarkRead(ctx, key); err != nil {
		s.handled.Remove(dedupe)
		return dispatch.StopWith(fmt.Errorf("status read: %w", err))
	}
	if !s.toggles.StatusReactions() {
		return dispatch.Stop()
	}
	emoji := Palette[s.pick(len(Palette))]
	react := protocol.Outgoing{Reaction: &protocol.Reaction{Emoji: emoji, Target: key}}
	if err := env.Session.Send(ctx, key.Author(), react); err != nil {
		return dispatch.StopWith(fmt.Errorf("status react: %w", err))
	}
	metrics.StatusReactions.Inc()
	return dispatch.Stop()
}
