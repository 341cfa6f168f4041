package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/event"
)

type Options struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
	ConnMaxIdle  time.Duration
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sentinel_welcome_seen (
  jid VARCHAR(255) NOT NULL PRIMARY KEY,
  create_time DATETIME(3) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS sentinel_deleted_message (
  id BIGINT NOT NULL PRIMARY KEY,
  remote_jid VARCHAR(255) NOT NULL,
  msg_id VARCHAR(128) NOT NULL,
  participant VARCHAR(255) NOT NULL,
  from_me TINYINT(1) NOT NULL,
  notice VARCHAR(255) NOT NULL,
  content TEXT NOT NULL,
  deleted_time DATETIME(3) NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS sentinel_credentials (
  name VARCHAR(64) NOT NULL PRIMARY KEY,
  blob_data LONGBLOB NOT NULL,
  update_time DATETIME(3) NOT NULL
)`,
}

type Store struct {
	DB *sql.DB
}

func Open(opt Options) (*Store, error) {
	d, err := sql.Open("mysql", opt.DSN)
	if err != nil {
		return nil, err
	}
	if opt.MaxOpenConns > 0 {
		d.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if opt.MaxIdleConns > 0 {
		d.SetMaxIdleConns(opt.MaxIdleConns)
	}
	if opt.ConnMaxLife > 0 {
		d.SetConnMaxLifetime(opt.ConnMaxLife)
	}
	if opt.ConnMaxIdle > 0 {
		d.SetConnMaxIdleTime(opt.ConnMaxIdle)
	}
	if err := d.Ping(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return &Store{DB: d}, nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, q := range schema {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) SeenSet() storeiface.SeenSet                 { return seenSet{s.DB} }
func (s *Store) DeletionLog() storeiface.DeletionLog         { return deletionLog{s.DB} }
func (s *Store) CredentialStore() storeiface.CredentialStore { return credStore{s.DB} }

type seenSet struct{ db *sql.DB }

func (w seenSet) Contains(ctx context.Context, id string) (bool, error) {
	var one int
	err := w.db.QueryRowContext(ctx, "SELECT 1 FROM sentinel_welcome_seen WHERE jid=?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Add relies on the primary key: INSERT IGNORE affects 0 rows for a known id.
func (w seenSet) Add(ctx context.Context, id string) (bool, error) {
	res, err := w.db.ExecContext(ctx, "INSERT IGNORE INTO sentinel_welcome_seen (jid,create_time) VALUES (?,?)", id, time.Now().UTC())
	if err != nil {
		return false, storeiface.Persist("welcome_seen", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (w seenSet) Len(ctx context.Context) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sentinel_welcome_seen").Scan(&n)
	return n, err
}

type deletionLog struct{ db *sql.DB }

func (l deletionLog) Append(ctx context.Context, rec storeiface.DeletedRecord) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO sentinel_deleted_message (id,remote_jid,msg_id,participant,from_me,notice,content,deleted_time) VALUES (?,?,?,?,?,?,?,?)",
		rec.ID, rec.Key.Chat, rec.Key.ID, rec.Key.Participant, rec.Key.FromMe, rec.Notice, rec.Content, rec.Time.UTC())
	if err != nil {
		return storeiface.Persist("deleted_messages", err)
	}
	return nil
}

func (l deletionLog) List(ctx context.Context) ([]storeiface.DeletedRecord, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT id,remote_jid,msg_id,participant,from_me,notice,content,deleted_time FROM sentinel_deleted_message ORDER BY deleted_time, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []storeiface.DeletedRecord
	for rows.Next() {
		var (
			rec storeiface.DeletedRecord
			k   event.Key
		)
		if err := rows.Scan(&rec.ID, &k.Chat, &k.ID, &k.Participant, &k.FromMe, &rec.Notice, &rec.Content, &rec.Time); err != nil {
			return nil, err
		}
		rec.Key = k
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (l deletionLog) Len(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sentinel_deleted_message").Scan(&n)
	return n, err
}

const credName = "default"

type credStore struct{ db *sql.DB }

func (c credStore) Load(ctx context.Context) ([]byte, error) {
	var b []byte
	err := c.db.QueryRowContext(ctx, "SELECT blob_data FROM sentinel_credentials WHERE name=?", credName).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func (c credStore) Save(ctx context.Context, blob []byte) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO sentinel_credentials (name,blob_data,update_time) VALUES (?,?,?) ON DUPLICATE KEY UPDATE blob_data=VALUES(blob_data), update_time=VALUES(update_time)",
		credName, blob, time.Now().UTC())
	if err != nil {
		return storeiface.Persist("credentials", err)
	}
	return nil
}

func (c credStore) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM sentinel_credentials WHERE name=?", credName)
	return err
}
