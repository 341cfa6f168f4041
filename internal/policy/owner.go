package policy

import (
	"context"
	"strings"

	"github.com/lzyats/im-sentinel/internal/dispatch"
	"github.com/lzyats/im-sentinel/internal/toggles"
	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

const OwnerMarker = "[owner]"

// Command mutates the runtime toggles and returns the status line sent back
// to the owner.
type Command func(t *toggles.Toggles) string

// Commands is the fixed owner command table. Keys are already normalized.
func Commands() map[string]Command {
	return map[string]Command{
		"/autotyping on": func(t *toggles.Toggles) string {
			t.SetAutotyping(true)
			return "Autotyping ENABLED"
		},
		"/autotyping off": func(t *toggles.Toggles) string {
			t.SetAutotyping(false)
			return "Autotyping DISABLED"
		},
		"/status react": func(t *toggles.Toggles) string {
			t.SetStatusReactions(true)
			return "Status reaction: enabled (random emoji)"
		},
		"/status react off": func(t *toggles.Toggles) string {
			t.SetStatusReactions(false)
			return "Status reaction: disabled"
		},
		"/ping": func(*toggles.Toggles) string { return "pong" },
	}
}

type Owner struct {
	owner    string
	toggles  *toggles.Toggles
	commands map[string]Command
}

func NewOwner(ownerJID string, t *toggles.Toggles) *Owner {
	return &Owner{owner: event.NormalizeJID(ownerJID), toggles: t, commands: Commands()}
}

func (o *Owner) Name() string { return "owner" }

func (o *Owner) Handle(ctx context.Context, env *dispatch.Env) dispatch.Result {
	if event.NormalizeJID(env.Event.Key.Author()) != o.owner {
		return dispatch.Skip()
	}
	cmd, ok := o.commands[strings.ToLower(strings.TrimSpace(env.Body))]
	if !ok {
		return dispatch.Skip()
	}
	reply := OwnerMarker + " " + cmd(o.toggles)
	if err := env.Session.Send(ctx, env.Sender, protocol.Text(reply)); err != nil {
		return dispatch.StopWith(err)
	}
	return dispatch.Stop()
}
