package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
)

const (
	WelcomeFile = "welcome_seen.json"
	DeletedFile = "deleted_messages.json"
	CredsFile   = "creds.json"
)

// Ensure creates dir and an empty JSON array at name when absent.
func Ensure(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(p, []byte("[]"), 0o644); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return p, nil
}

func load(p string, v any) error {
	b, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("jsonfile: decode %s: %w", p, err)
	}
	return nil
}

// writeAtomic replaces p with data via a temp file + rename.
func writeAtomic(p string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".tmp*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, perm); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, p)
}

func save(p string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(p, b, 0o644)
}

/* ---------------- welcome-seen ---------------- */

type SeenSet struct {
	path string

	mu    sync.Mutex
	order []string
	index map[string]struct{}
}

func OpenSeenSet(dir string) (*SeenSet, error) {
	p, err := Ensure(dir, WelcomeFile)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := load(p, &ids); err != nil {
		return nil, err
	}
	s := &SeenSet{path: p, index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, dup := s.index[id]; dup {
			continue
		}
		s.index[id] = struct{}{}
		s.order = append(s.order, id)
	}
	return s, nil
}

func (s *SeenSet) Contains(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	_, ok := s.index[id]
	s.mu.Unlock()
	return ok, nil
}

func (s *SeenSet) Add(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		return false, nil
	}
	next := append(s.order[:len(s.order):len(s.order)], id)
	if err := save(s.path, next); err != nil {
		return false, storeiface.Persist("welcome_seen", err)
	}
	s.order = next
	s.index[id] = struct{}{}
	return true, nil
}

func (s *SeenSet) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order), nil
}

/* ---------------- deleted-messages ---------------- */

// DeletionLog keeps each entry's bytes as read so earlier records are
// rewritten unchanged when the file grows.
type DeletionLog struct {
	path string

	mu   sync.Mutex
	raw  []json.RawMessage
	recs []storeiface.DeletedRecord
}

func OpenDeletionLog(dir string) (*DeletionLog, error) {
	p, err := Ensure(dir, DeletedFile)
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := load(p, &raw); err != nil {
		return nil, err
	}
	recs := make([]storeiface.DeletedRecord, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal(r, &recs[i]); err != nil {
			return nil, fmt.Errorf("jsonfile: decode %s entry %d: %w", p, i, err)
		}
	}
	return &DeletionLog{path: p, raw: raw, recs: recs}, nil
}

func (l *DeletionLog) Append(_ context.Context, rec storeiface.DeletedRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return storeiface.Persist("deleted_messages", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	next := append(l.raw[:len(l.raw):len(l.raw)], b)
	if err := save(l.path, next); err != nil {
		return storeiface.Persist("deleted_messages", err)
	}
	l.raw = next
	l.recs = append(l.recs, rec)
	return nil
}

func (l *DeletionLog) List(context.Context) ([]storeiface.DeletedRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]storeiface.DeletedRecord, len(l.recs))
	copy(out, l.recs)
	return out, nil
}

func (l *DeletionLog) Len(context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recs), nil
}

/* ---------------- credentials ---------------- */

type CredentialStore struct {
	path string
	mu   sync.Mutex
}

func OpenCredentialStore(dir string) (*CredentialStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &CredentialStore{path: filepath.Join(dir, CredsFile)}, nil
}

func (c *CredentialStore) Load(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func (c *CredentialStore) Save(_ context.Context, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeAtomic(c.path, blob, 0o600); err != nil {
		return storeiface.Persist("credentials", err)
	}
	return nil
}

func (c *CredentialStore) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := os.Remove(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
