package pebblestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/event"
)

func openMem(t *testing.T) *DB {
	t.Helper()
	d, err := Open(Options{Path: "mem", InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("welcome;"), upperBound([]byte("welcome:")))
	assert.Equal(t, []byte{0x02}, upperBound([]byte{0x01, 0xff}))
	assert.Nil(t, upperBound([]byte{0xff}))
}

func TestSeenSet(t *testing.T) {
	ctx := context.Background()
	s := openMem(t).SeenSet()

	added, err := s.Add(ctx, "A")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Add(ctx, "A")
	require.NoError(t, err)
	assert.False(t, added)

	ok, err := s.Contains(ctx, "A")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = s.Contains(ctx, "a")
	assert.False(t, ok)

	n, _ := s.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestDeletionLogKeepsOrderAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db")
	d, err := Open(Options{Path: path})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, d.DeletionLog().Append(ctx, storeiface.DeletedRecord{
			ID:   int64(i),
			Key:  event.Key{Chat: "A", ID: "m"},
			Time: time.Unix(int64(i), 0).UTC(),
		}))
	}
	require.NoError(t, d.Close())

	d, err = Open(Options{Path: path})
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.DeletionLog().Append(ctx, storeiface.DeletedRecord{ID: 4}))

	recs, err := d.DeletionLog().List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i, r := range recs {
		assert.Equal(t, int64(i+1), r.ID)
	}
	n, _ := d.DeletionLog().Len(ctx)
	assert.Equal(t, 4, n)
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	c := openMem(t).CredentialStore()

	blob, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, c.Save(ctx, []byte("secret")))
	blob, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), blob)

	require.NoError(t, c.Clear(ctx))
	blob, _ = c.Load(ctx)
	assert.Nil(t, blob)
}
