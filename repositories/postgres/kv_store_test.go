package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/omnichat-gateway/internal/clock"
	"github.com/upb/omnichat-gateway/repositories"
	"go.uber.org/zap"
)

var _ repositories.KVStore = (*KVStore)(nil)

var testNow = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*KVStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewKVStore(db, clock.NewFake(testNow), zap.NewNop()), mock
}

func TestKVStore_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("live value", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT value FROM kv_entries").
			WithArgs("challenge:abc", testNow).
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`{"issued_at":1}`))

		v, ok, err := store.Get(ctx, "challenge:abc")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"issued_at":1}`, v)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT value FROM kv_entries").
			WithArgs("nope", testNow).
			WillReturnError(sql.ErrNoRows)

		_, ok, err := store.Get(ctx, "nope")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("database error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT value FROM kv_entries").
			WillReturnError(errors.New("connection refused"))

		_, _, err := store.Get(ctx, "k")
		assert.Error(t, err)
	})
}

func TestKVStore_Put(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO kv_entries").
		WithArgs("k", "v", sql.NullTime{Time: testNow.Add(time.Minute), Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO kv_entries").
		WithArgs("forever", "v", sql.NullTime{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Put(ctx, "k", "v", time.Minute))
	require.NoError(t, store.Put(ctx, "forever", "v", 0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKVStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM kv_entries WHERE key").
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Delete(context.Background(), "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKVStore_PutIfAbsent(t *testing.T) {
	ctx := context.Background()

	t.Run("created", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO kv_entries").
			WithArgs("challenge:abc:used", "1", sqlmock.AnyArg(), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		created, err := store.PutIfAbsent(ctx, "challenge:abc:used", "1", time.Minute)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("already present", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO kv_entries").
			WillReturnResult(sqlmock.NewResult(0, 0))

		created, err := store.PutIfAbsent(ctx, "challenge:abc:used", "1", time.Minute)
		require.NoError(t, err)
		assert.False(t, created)
	})
}

func TestKVStore_Increment(t *testing.T) {
	ctx := context.Background()
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO kv_entries").
		WithArgs("usage:groq:2024-01-15", sqlmock.AnyArg(), testNow).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(3)))

	n, err := store.Increment(ctx, "usage:groq:2024-01-15", 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKVStore_PurgeExpired(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM kv_entries WHERE expires_at").
		WithArgs(testNow).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestKVStore_Ping(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		assert.NoError(t, store.Ping(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectPing().WillReturnError(errors.New("down"))

		err := store.Ping(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
	})
}
