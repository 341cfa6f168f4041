package toggles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	tg := New(false)
	assert.False(t, tg.Autotyping())
	assert.True(t, tg.StatusReactions())

	tg.SetAutotyping(true)
	tg.SetStatusReactions(false)
	assert.True(t, tg.Autotyping())
	assert.False(t, tg.StatusReactions())
}
