package mysqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lzyats/im-sentinel/internal/store/storeiface"
	"github.com/lzyats/im-sentinel/pkg/event"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &Store{DB: db}, mock
}

func TestEnsureSchema(t *testing.T) {
	s, mock := newMock(t)
	for range schema {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestSeenSetAdd(t *testing.T) {
	s, mock := newMock(t)
	q := regexp.QuoteMeta("INSERT IGNORE INTO sentinel_welcome_seen (jid,create_time) VALUES (?,?)")
	mock.ExpectExec(q).WithArgs("A", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs("A", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	added, err := s.SeenSet().Add(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.SeenSet().Add(context.Background(), "A")
	require.NoError(t, err)
	assert.False(t, added)
}

func TestSeenSetAddFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("INSERT IGNORE").WillReturnError(errors.New("disk full"))

	_, err := s.SeenSet().Add(context.Background(), "A")
	assert.True(t, errors.Is(err, storeiface.ErrPersistence))
}

func TestSeenSetContains(t *testing.T) {
	s, mock := newMock(t)
	q := regexp.QuoteMeta("SELECT 1 FROM sentinel_welcome_seen WHERE jid=?")
	mock.ExpectQuery(q).WithArgs("A").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(q).WithArgs("B").WillReturnRows(sqlmock.NewRows([]string{"1"}))

	ok, err := s.SeenSet().Contains(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SeenSet().Contains(context.Background(), "B")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletionLogAppendAndList(t *testing.T) {
	s, mock := newMock(t)
	at := time.Unix(100, 0).UTC()
	rec := storeiface.DeletedRecord{ID: 9, Key: event.Key{Chat: "A", ID: "m1", Participant: "p"}, Notice: "n", Content: "hi", Time: at}

	mock.ExpectExec("INSERT INTO sentinel_deleted_message").
		WithArgs(int64(9), "A", "m1", "p", false, "n", "hi", at).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectQuery("SELECT id,remote_jid").WillReturnRows(
		sqlmock.NewRows([]string{"id", "remote_jid", "msg_id", "participant", "from_me", "notice", "content", "deleted_time"}).
			AddRow(int64(9), "A", "m1", "p", false, "n", "hi", at))

	require.NoError(t, s.DeletionLog().Append(context.Background(), rec))
	recs, err := s.DeletionLog().List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec, recs[0])
}

func TestCredentials(t *testing.T) {
	s, mock := newMock(t)
	sel := regexp.QuoteMeta("SELECT blob_data FROM sentinel_credentials WHERE name=?")
	mock.ExpectQuery(sel).WithArgs(credName).WillReturnRows(sqlmock.NewRows([]string{"blob_data"}))
	mock.ExpectExec("INSERT INTO sentinel_credentials").WithArgs(credName, []byte("x"), sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sel).WithArgs(credName).WillReturnRows(sqlmock.NewRows([]string{"blob_data"}).AddRow([]byte("x")))

	ctx := context.Background()
	blob, err := s.CredentialStore().Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, blob)
	require.NoError(t, s.CredentialStore().Save(ctx, []byte("x")))
	blob, err = s.CredentialStore().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), blob)
}
