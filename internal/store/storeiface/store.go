package storeiface

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lzyats/im-sentinel/pkg/event"
)

// ErrPersistence marks a failed durable write. The dedup and audit
// invariants do not survive a silent loss, so callers treat it as fatal.
var ErrPersistence = errors.New("store: persistence failed")

// Persist wraps err so errors.Is(err, ErrPersistence) holds.
func Persist(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// DeletedRecord is an immutable entry of the deletion log.
type DeletedRecord struct {
	ID      int64     `json:"id"`
	Key     event.Key `json:"key"`
	Notice  string    `json:"notice"`
	Content string    `json:"content,omitempty"`
	Time    time.Time `json:"time"`
}

// SeenSet is the set of identifiers that already received the greeting.
type SeenSet interface {
	Contains(ctx context.Context, id string) (bool, error)
	// Add inserts and persists id. added is false when id was present.
	Add(ctx context.Context, id string) (added bool, err error)
	Len(ctx context.Context) (int, error)
}

// DeletionLog is append-only.
type DeletionLog interface {
	Append(ctx context.Context, rec DeletedRecord) error
	List(ctx context.Context) ([]DeletedRecord, error)
	Len(ctx context.Context) (int, error)
}

// CredentialStore holds the session credential blob. Load returns nil
// when nothing was stored yet.
type CredentialStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Clear(ctx context.Context) error
}
