package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMockWrapper(t *testing.T) (*DatabaseWrapper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDatabaseWrapper(sqlx.NewDb(db, "sqlmock"), zaptest.NewLogger(t)), mock
}

func TestDatabaseWrapper_NormalOperations(t *testing.T) {
	w, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, w.PingContext(ctx))

	mock.ExpectQuery("SELECT id FROM answer_runs").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))
	var ids []string
	require.NoError(t, w.SelectContext(ctx, &ids, "SELECT id FROM answer_runs"))
	assert.Equal(t, []string{"a", "b"}, ids)

	mock.ExpectExec("UPDATE answer_runs").WithArgs("x").WillReturnResult(sqlmock.NewResult(0, 1))
	res, err := w.ExecContext(ctx, "UPDATE answer_runs SET status = ?", "x")
	require.NoError(t, err)
	n, _ := res.RowsAffected()
	assert.Equal(t, int64(1), n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabaseWrapper_NoRowsDoesNotTrip(t *testing.T) {
	w, mock := newMockWrapper(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mock.ExpectQuery("SELECT id").WillReturnError(sql.ErrNoRows)
		var id string
		assert.ErrorIs(t, w.GetContext(ctx, &id, "SELECT id FROM answer_runs WHERE id = ?"), sql.ErrNoRows)
	}
	assert.Equal(t, StateClosed, w.State())
}

func TestDatabaseWrapper_OpensOnFailures(t *testing.T) {
	w, mock := newMockWrapper(t)
	ctx := context.Background()

	for i := 0; i < int(DatabaseConfig().FailureThreshold); i++ {
		mock.ExpectExec("INSERT").WillReturnError(errors.New("connection refused"))
		_, err := w.ExecContext(ctx, "INSERT INTO answer_runs (id) VALUES (?)", "r1")
		assert.Error(t, err)
	}
	assert.Equal(t, StateOpen, w.State())

	_, err := w.ExecContext(ctx, "INSERT INTO answer_runs (id) VALUES (?)", "r1")
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestDatabaseWrapper_WithTx(t *testing.T) {
	w, mock := newMockWrapper(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO answer_sub_questions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	err := w.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO answer_sub_questions (id) VALUES (?)", "q1")
		return err
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	boom := errors.New("boom")
	assert.ErrorIs(t, w.WithTx(ctx, func(tx *sqlx.Tx) error { return boom }), boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}
