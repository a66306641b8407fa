package pgxutil

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = LockKey{Major: LockMajorQueue, Minor: 7}

func TestWithSQLTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = WithSQLTx(context.Background(), db, SQLTxConfig{Fn: func(tx *sql.Tx) error {
			_, execErr := tx.Exec("UPDATE jobs SET status = 'pending'")
			return execErr
		}})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err = WithSQLTx(context.Background(), db, SQLTxConfig{Fn: func(*sql.Tx) error { return boom }})
		require.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithTryXactLock(t *testing.T) {
	lockQuery := regexp.QuoteMeta("SELECT pg_try_advisory_xact_lock($1, $2)")

	t.Run("runs fn when lock is free", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(testKey.Major, testKey.Minor).
			WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
		mock.ExpectCommit()

		ran := false
		acquired, err := WithTryXactLock(context.Background(), db, testKey, func(*sql.Tx) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, acquired)
		assert.True(t, ran)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("skips fn when lock is held elsewhere", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(false))
		mock.ExpectCommit()

		acquired, err := WithTryXactLock(context.Background(), db, testKey, func(*sql.Tx) error {
			t.Fatal("fn must not run without the lock")
			return nil
		})
		require.NoError(t, err)
		assert.False(t, acquired)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithSessionLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1, $2)")).
		WithArgs(testKey.Major, testKey.Minor).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1, $2)")).
		WithArgs(testKey.Major, testKey.Minor).WillReturnResult(sqlmock.NewResult(0, 0))

	boom := errors.New("boom")
	err = WithSessionLock(context.Background(), db, testKey, func(conn *sql.Conn) error {
		if _, execErr := conn.ExecContext(context.Background(), "CREATE TABLE t (id int)"); execErr != nil {
			return execErr
		}
		return boom
	})
	require.ErrorIs(t, err, boom, "fn error is returned after the lock is released")
	require.NoError(t, mock.ExpectationsWereMet())
}
