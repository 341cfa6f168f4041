package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/event"
)

func TestSeenSetCreatesEmptyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	_, err := OpenSeenSet(dir)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, WelcomeFile))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestSeenSetAddPersistsInOrder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenSeenSet(dir)
	require.NoError(t, err)

	added, err := s.Add(ctx, "A")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Add(ctx, "B")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.Add(ctx, "A")
	require.NoError(t, err)
	assert.False(t, added)

	var onDisk []string
	b, err := os.ReadFile(filepath.Join(dir, WelcomeFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &onDisk))
	assert.Equal(t, []string{"A", "B"}, onDisk)

	reopened, err := OpenSeenSet(dir)
	require.NoError(t, err)
	ok, _ := reopened.Contains(ctx, "B")
	assert.True(t, ok)
	n, _ := reopened.Len(ctx)
	assert.Equal(t, 2, n)
}

func TestSeenSetIdentifiersAreCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSeenSet(t.TempDir())
	require.NoError(t, err)
	_, _ = s.Add(ctx, "abc@s")
	ok, _ := s.Contains(ctx, "ABC@s")
	assert.False(t, ok)
}

func TestSeenSetWriteFailureIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := OpenSeenSet(dir)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	_, err = s.Add(ctx, "A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storeiface.ErrPersistence))
	ok, _ := s.Contains(ctx, "A")
	assert.False(t, ok)
}

func TestDeletionLogAppendOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := OpenDeletionLog(dir)
	require.NoError(t, err)

	first := storeiface.DeletedRecord{ID: 1, Key: event.Key{Chat: "A", ID: "m1"}, Notice: "message deleted (captured)", Time: time.Unix(10, 0).UTC()}
	require.NoError(t, l.Append(ctx, first))
	before, _ := l.List(ctx)

	second := first
	second.ID = 2
	require.NoError(t, l.Append(ctx, second))
	require.NoError(t, l.Append(ctx, second))

	after, _ := l.List(ctx)
	require.Len(t, after, 3)
	assert.Equal(t, before[0], after[0])

	reopened, err := OpenDeletionLog(dir)
	require.NoError(t, err)
	n, _ := reopened.Len(ctx)
	assert.Equal(t, 3, n)

	b, err := os.ReadFile(filepath.Join(dir, DeletedFile))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"time": "1970-01-01T00:00:10Z"`)
}

func TestDeletionLogKeepsExistingEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	existing := `[
  {
    "key": {
      "remoteJid": "254711@s.whatsapp.net",
      "fromMe": false,
      "id": "3EB0ABC",
      "participant": "254722@s.whatsapp.net"
    },
    "notice": "message deleted (captured)",
    "time": "2025-01-02T03:04:05.678Z"
  }
]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DeletedFile), []byte(existing), 0o644))

	l, err := OpenDeletionLog(dir)
	require.NoError(t, err)
	recs, _ := l.List(ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, event.Key{Chat: "254711@s.whatsapp.net", ID: "3EB0ABC", Participant: "254722@s.whatsapp.net"}, recs[0].Key)

	require.NoError(t, l.Append(ctx, storeiface.DeletedRecord{
		ID:     2,
		Key:    event.Key{Chat: "254733@s.whatsapp.net", ID: "3EB0DEF", FromMe: true},
		Notice: "message deleted (captured)",
		Time:   time.Unix(20, 0).UTC(),
	}))

	b, err := os.ReadFile(filepath.Join(dir, DeletedFile))
	require.NoError(t, err)
	var entries []json.RawMessage
	require.NoError(t, json.Unmarshal(b, &entries))
	require.Len(t, entries, 2)

	var orig []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(existing), &orig))
	assert.Equal(t, compact(t, orig[0]), compact(t, entries[0]))
	assert.Contains(t, compact(t, entries[1]), `"key":{"remoteJid":"254733@s.whatsapp.net","fromMe":true,"id":"3EB0DEF"}`)
}

func compact(t *testing.T, b []byte) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.Compact(&buf, b))
	return buf.String()
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := OpenCredentialStore(filepath.Join(t.TempDir(), ".auth"))
	require.NoError(t, err)

	blob, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)

	require.NoError(t, c.Save(ctx, []byte(`{"me":"x"}`)))
	blob, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"me":"x"}`, string(blob))

	require.NoError(t, c.Clear(ctx))
	require.NoError(t, c.Clear(ctx))
	blob, _ = c.Load(ctx)
	assert.Nil(t, blob)
}
