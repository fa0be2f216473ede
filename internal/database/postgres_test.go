package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, retries int) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return Wrap(db, retries, time.Millisecond), mock
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestExecContext_RetriesTransientErrors(t *testing.T) {
	p, mock := newMock(t, 3)

	mock.ExpectExec("UPDATE users").WillReturnError(&pq.Error{Code: "08006"})
	mock.ExpectExec("UPDATE users").WillReturnError(&pq.Error{Code: "08006"})
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := p.ExecContext(context.Background(), "UPDATE users SET is_active = true")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecContext_GivesUpAfterMaxRetries(t *testing.T) {
	p, mock := newMock(t, 2)

	for range 3 {
		mock.ExpectExec("UPDATE users").WillReturnError(&pq.Error{Code: "08006"})
	}

	_, err := p.ExecContext(context.Background(), "UPDATE users SET is_active = true")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecContext_DoesNotRetryPermanentErrors(t *testing.T) {
	p, mock := newMock(t, 3)

	mock.ExpectExec("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	_, err := p.ExecContext(context.Background(), "INSERT INTO users VALUES (1)")
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	assert.Equal(t, pq.ErrorCode("23505"), pqErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginTx_Retries(t *testing.T) {
	p, mock := newMock(t, 3)

	mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08001"})
	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := p.BeginTx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}
