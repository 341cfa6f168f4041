package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
)

type Options struct {
	Addr     string
	Password string
	Database int
	Prefix   string
	Timeout  time.Duration
}

// Store backs all three collections with Redis.
//
// Keys:
//   - {prefix}welcome_seen      SET of identifiers (SADD gives atomic dedup)
//   - {prefix}deleted_messages  LIST of DeletedRecord JSON (RPUSH only)
//   - {prefix}creds             STRING credential blob
type Store struct {
	cli    *redis.Client
	prefix string
}

func New(opt Options) (*Store, error) {
	if opt.Addr == "" {
		return nil, fmt.Errorf("redis: missing addr")
	}
	if opt.Timeout == 0 {
		opt.Timeout = 5 * time.Second
	}
	cli := redis.NewClient(&redis.Options{
		Addr:         opt.Addr,
		Password:     opt.Password,
		DB:           opt.Database,
		DialTimeout:  opt.Timeout,
		ReadTimeout:  opt.Timeout,
		WriteTimeout: opt.Timeout,
	})
	return &Store{cli: cli, prefix: opt.Prefix}, nil
}

// Ping verifies connectivity at startup.
func (s *Store) Ping(ctx context.Context) error { return s.cli.Ping(ctx).Err() }

func (s *Store) Close() error { return s.cli.Close() }

func (s *Store) Client() *redis.Client { return s.cli }

func (s *Store) SeenSet() storeiface.SeenSet                 { return seenSet{s} }
func (s *Store) DeletionLog() storeiface.DeletionLog         { return deletionLog{s} }
func (s *Store) CredentialStore() storeiface.CredentialStore { return credStore{s} }

func (s *Store) welcomeKey() string { return s.prefix + "welcome_seen" }
func (s *Store) deletedKey() string { return s.prefix + "deleted_messages" }
func (s *Store) credsKey() string   { return s.prefix + "creds" }

type seenSet struct{ s *Store }

func (w seenSet) Contains(ctx context.Context, id string) (bool, error) {
	return w.s.cli.SIsMember(ctx, w.s.welcomeKey(), id).Result()
}

func (w seenSet) Add(ctx context.Context, id string) (bool, error) {
	n, err := w.s.cli.SAdd(ctx, w.s.welcomeKey(), id).Result()
	if err != nil {
		return false, storeiface.Persist("welcome_seen", err)
	}
	return n == 1, nil
}

func (w seenSet) Len(ctx context.Context) (int, error) {
	n, err := w.s.cli.SCard(ctx, w.s.welcomeKey()).Result()
	return int(n), err
}

type deletionLog struct{ s *Store }

func (l deletionLog) Append(ctx context.Context, rec storeiface.DeletedRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.s.cli.RPush(ctx, l.s.deletedKey(), b).Err(); err != nil {
		return storeiface.Persist("deleted_messages", err)
	}
	return nil
}

func (l deletionLog) List(ctx context.Context) ([]storeiface.DeletedRecord, error) {
	raw, err := l.s.cli.LRange(ctx, l.s.deletedKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]storeiface.DeletedRecord, 0, len(raw))
	for _, r := range raw {
		var rec storeiface.DeletedRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (l deletionLog) Len(ctx context.Context) (int, error) {
	n, err := l.s.cli.LLen(ctx, l.s.deletedKey()).Result()
	return int(n), err
}

type credStore struct{ s *Store }

func (c credStore) Load(ctx context.Context) ([]byte, error) {
	b, err := c.s.cli.Get(ctx, c.s.credsKey()).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (c credStore) Save(ctx context.Context, blob []byte) error {
	if err := c.s.cli.Set(ctx, c.s.credsKey(), blob, 0).Err(); err != nil {
		return storeiface.Persist("credentials", err)
	}
	return nil
}

func (c credStore) Clear(ctx context.Context) error {
	return c.s.cli.Del(ctx, c.s.credsKey()).Err()
}
