package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/storage"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewWithDB(sqlx.NewDb(db, "postgres"))
	return New(store, nil), mock
}

func kernelRowColumns() []string {
	return []string{"id", "session_id", "cluster_role", "cluster_idx", "agent_id", "image_canonical",
		"image_architecture", "image_registry", "requested_slots", "occupied_slots", "status", "status_history",
		"status_reason", "exit_code", "service_ports", "container_id", "startup_command", "bootstrap_script",
		"preopen_ports", "status_error_repr", "logs", "created_at", "terminated_at"}
}

func TestTransitionKernelAdvancesAndRegistersSession(t *testing.T) {
	e, mock := newTestEngine(t)

	rows := sqlmock.NewRows(kernelRowColumns()).AddRow(
		"k1", "sess-1", "main", 0, nil, "python:3.11", "x86_64", "index.docker.io",
		[]byte(`{}`), []byte(`{}`), string(domain.StatusScheduled), []byte(`{}`),
		"", nil, []byte(`[]`), "", "", "", []byte(`[]`), "", "", time.Now(), nil,
	)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE id = \\$1").WithArgs("k1").WillReturnRows(rows)
	mock.ExpectExec("UPDATE kernels SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := e.TransitionKernel(context.Background(), "k1", domain.StatusPulling, domain.ReasonTaskFinished, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, []string{"sess-1"}, e.pending.DrainAll())
}

func TestTransitionKernelRejectsIllegalTransition(t *testing.T) {
	e, mock := newTestEngine(t)

	rows := sqlmock.NewRows(kernelRowColumns()).AddRow(
		"k1", "sess-1", "main", 0, nil, "python:3.11", "x86_64", "index.docker.io",
		[]byte(`{}`), []byte(`{}`), string(domain.StatusTerminated), []byte(`{}`),
		"", nil, []byte(`[]`), "", "", "", []byte(`[]`), "", "", time.Now(), nil,
	)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE id = \\$1").WithArgs("k1").WillReturnRows(rows)
	mock.ExpectRollback()

	err := e.TransitionKernel(context.Background(), "k1", domain.StatusRunning, domain.ReasonTaskFinished, nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionKernelNoopWhenAlreadyAtTarget(t *testing.T) {
	e, mock := newTestEngine(t)

	rows := sqlmock.NewRows(kernelRowColumns()).AddRow(
		"k1", "sess-1", "main", 0, nil, "python:3.11", "x86_64", "index.docker.io",
		[]byte(`{}`), []byte(`{}`), string(domain.StatusRunning), []byte(`{}`),
		"", nil, []byte(`[]`), "", "", "", []byte(`[]`), "", "", time.Now(), nil,
	)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE id = \\$1").WithArgs("k1").WillReturnRows(rows)
	mock.ExpectCommit()

	err := e.TransitionKernel(context.Background(), "k1", domain.StatusRunning, domain.ReasonTaskFinished, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
