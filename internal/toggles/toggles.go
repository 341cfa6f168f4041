package toggles

import "sync/atomic"

// Toggles is the process-lifetime runtime switch set. Only the owner
// command handler flips them; other policies read.
type Toggles struct {
	autotyping    atomic.Bool
	statusReactor atomic.Bool
}

func New(autotyping bool) *Toggles {
	t := &Toggles{}
	t.autotyping.Store(autotyping)
	t.statusReactor.Store(true)
	return t
}

func (t *Toggles) Autotyping() bool           { return t.autotyping.Load() }
func (t *Toggles) SetAutotyping(on bool)      { t.autotyping.Store(on) }
func (t *Toggles) StatusReactions() bool      { return t.statusReactor.Load() }
func (t *Toggles) SetStatusReactions(on bool) { t.statusReactor.Store(on) }
