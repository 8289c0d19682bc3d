package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "40P01"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestWithRetryTxRetriesOnConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	attempts := 0
	err := s.WithRetryTx(context.Background(), RetryOpts{MaxAttempts: 3, BaseDelay: 1, MaxDelay: 2}, func(ctx context.Context) error {
		attempts++
		_, err := s.Querier(ctx).ExecContext(ctx, "UPDATE sessions SET status=$1", "RUNNING")
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithRetryTxGivesUpOnNonRetryableError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	attempts := 0
	err := s.WithRetryTx(context.Background(), RetryOpts{MaxAttempts: 3, BaseDelay: 1, MaxDelay: 2}, func(ctx context.Context) error {
		attempts++
		_, err := s.Querier(ctx).ExecContext(ctx, "UPDATE sessions SET status=$1", "RUNNING")
		return err
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
