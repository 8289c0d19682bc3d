package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/domain"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestInsertSession(t *testing.T) {
	s, mock := newMockStore(t)

	sess := &domain.Session{
		ID:           "sess-1",
		Name:         "my-session",
		AccessKey:    "AKIATEST",
		Domain:       "default",
		Project:      "proj-1",
		ScalingGroup: "default",
		Type:         domain.SessionTypeInteractive,
		ClusterMode:  domain.ClusterModeSingleNode,
		ClusterSize:  1,
		Status:       domain.StatusPending,
		CreatedAt:    time.Now(),
	}

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertSession(context.Background(), sess)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.|\n)*FROM sessions WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetSession(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		_, err := s.Querier(ctx).ExecContext(ctx, "UPDATE sessions SET status=$1 WHERE id=$2", "RUNNING", "sess-1")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}
