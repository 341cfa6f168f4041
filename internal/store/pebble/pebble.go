package pebblestore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
)

/*
Keys:
  - welcome:{jid}             -> "1"
  - deleted:{seq big-endian}  -> DeletedRecord JSON
  - creds                     -> credential blob
*/
var (
	welcomePrefix = []byte("welcome:")
	deletedPrefix = []byte("deleted:")
	credsKey      = []byte("creds")
)

type Options struct {
	Path     string
	InMemory bool
}

// DB is a single pebble database serving all three stores.
type DB struct {
	db *pebble.DB

	mu      sync.Mutex // serializes check-then-set and seq allocation
	seen    int
	lastSeq uint64
}

func Open(opt Options) (*DB, error) {
	po := &pebble.Options{}
	if opt.InMemory {
		po.FS = vfs.NewMem()
	}
	db, err := pebble.Open(opt.Path, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", opt.Path, err)
	}
	d := &DB{db: db}
	if d.seen, err = d.count(welcomePrefix); err != nil {
		db.Close()
		return nil, err
	}
	if d.lastSeq, err = d.tailSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) SeenSet() storeiface.SeenSet                 { return seenSet{d} }
func (d *DB) DeletionLog() storeiface.DeletionLog         { return deletionLog{d} }
func (d *DB) CredentialStore() storeiface.CredentialStore { return credStore{d} }

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (d *DB) iter(prefix []byte) (*pebble.Iterator, error) {
	return d.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
}

func (d *DB) count(prefix []byte) (int, error) {
	it, err := d.iter(prefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n, it.Error()
}

func (d *DB) tailSeq() (uint64, error) {
	it, err := d.iter(deletedPrefix)
	if err != nil {
		return 0, err
	}
	defer it.Close()
	if !it.Last() {
		return 0, it.Error()
	}
	k := it.Key()
	if len(k) != len(deletedPrefix)+8 {
		return 0, fmt.Errorf("pebble: malformed key %q", k)
	}
	return binary.BigEndian.Uint64(k[len(deletedPrefix):]), nil
}

func (d *DB) has(key []byte) (bool, error) {
	_, closer, err := d.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

/* ---------------- welcome-seen ---------------- */

type seenSet struct{ d *DB }

func welcomeKey(id string) []byte {
	return append(append([]byte(nil), welcomePrefix...), id...)
}

func (s seenSet) Contains(_ context.Context, id string) (bool, error) {
	return s.d.has(welcomeKey(id))
}

func (s seenSet) Add(_ context.Context, id string) (bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	k := welcomeKey(id)
	ok, err := s.d.has(k)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := s.d.db.Set(k, []byte("1"), pebble.Sync); err != nil {
		return false, storeiface.Persist("welcome_seen", err)
	}
	s.d.seen++
	return true, nil
}

func (s seenSet) Len(context.Context) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	return s.d.seen, nil
}

/* ---------------- deleted-messages ---------------- */

type deletionLog struct{ d *DB }

func (l deletionLog) Append(_ context.Context, rec storeiface.DeletedRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	l.d.mu.Lock()
	defer l.d.mu.Unlock()
	seq := l.d.lastSeq + 1
	k := make([]byte, 0, len(deletedPrefix)+8)
	k = append(k, deletedPrefix...)
	k = binary.BigEndian.AppendUint64(k, seq)
	if err := l.d.db.Set(k, b, pebble.Sync); err != nil {
		return storeiface.Persist("deleted_messages", err)
	}
	l.d.lastSeq = seq
	return nil
}

func (l deletionLog) List(context.Context) ([]storeiface.DeletedRecord, error) {
	it, err := l.d.iter(deletedPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []storeiface.DeletedRecord
	for it.First(); it.Valid(); it.Next() {
		var rec storeiface.DeletedRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return nil, fmt.Errorf("pebble: decode %q: %w", it.Key(), err)
		}
		out = append(out, rec)
	}
	return out, it.Error()
}

func (l deletionLog) Len(context.Context) (int, error) {
	return l.d.count(deletedPrefix)
}

/* ---------------- credentials ---------------- */

type credStore struct{ d *DB }

func (c credStore) Load(context.Context) ([]byte, error) {
	v, closer, err := c.d.db.Get(credsKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func (c credStore) Save(_ context.Context, blob []byte) error {
	if err := c.d.db.Set(credsKey, blob, pebble.Sync); err != nil {
		return storeiface.Persist("credentials", err)
	}
	return nil
}

func (c credStore) Clear(context.Context) error {
	return c.d.db.Delete(credsKey, pebble.Sync)
}
