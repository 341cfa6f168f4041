package outbound

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-sentinel/pkg/event"
	"github.com/lzyats/im-sentinel/pkg/protocol"
)

type countingSender struct{ sends atomic.Int32 }

func (c *countingSender) Send(context.Context, string, protocol.Outgoing) error {
	c.sends.Add(1)
	return nil
}
func (c *countingSender) UpdatePresence(context.Context, string, protocol.Presence) error {
	return nil
}
func (c *countingSender) SubscribePresence(context.Context, string) error { return nil }
func (c *countingSender) MarkRead(context.Context, event.Key) error       { return nil }
func (c *countingSender) DownloadMedia(context.Context, event.Key) ([]byte, error) {
	return nil, nil
}

func TestThrottleBlocksBeyondBurst(t *testing.T) {
	cs := &countingSender{}
	s := New(1, 1).Wrap(cs)

	require.NoError(t, s.Send(context.Background(), "a", protocol.Text("x")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, "a", protocol.Text("y"))
	assert.Error(t, err)
	assert.Equal(t, int32(1), cs.sends.Load())
}

func TestThrottleDisabled(t *testing.T) {
	cs := &countingSender{}
	s := New(0, 0).Wrap(cs)
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Send(context.Background(), "a", protocol.Text("x")))
	}
	assert.Equal(t, int32(100), cs.sends.Load())
}
