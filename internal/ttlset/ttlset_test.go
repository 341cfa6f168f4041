package ttlset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAddExpires(t *testing.T) {
	now := time.Unix(0, 0)
	s := New(time.Minute)
	s.now = func() time.Time { return now }

	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Has("a"))

	now = now.Add(time.Minute)
	assert.False(t, s.Has("a"))
	assert.True(t, s.Add("a"))
}

func TestRemove(t *testing.T) {
	s := New(time.Minute)
	s.Add("a")
	s.Remove("a")
	assert.False(t, s.Has("a"))
}

func TestReset(t *testing.T) {
	s := New(time.Minute)
	s.Add("a")
	s.Add("b")
	s.Reset()
	assert.False(t, s.Has("a"))
	assert.True(t, s.Add("b"))
}
