package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/domain"
)

func sessionRowColumns() []string {
	return []string{"id", "name", "access_key", "domain_name", "project_id", "scaling_group", "session_type",
		"cluster_mode", "cluster_size", "priority", "status", "status_history", "status_reason",
		"status_info", "environ", "requested_slots", "occupied_slots", "starts_at",
		"batch_timeout_sec", "callback_url", "network_type", "network_id", "created_at", "terminated_at"}
}

func TestDrainUpdatableSetAggregatesToRunning(t *testing.T) {
	e, mock := newTestEngine(t)
	e.pending.Add("sess-1")

	sessRows := sqlmock.NewRows(sessionRowColumns()).AddRow(
		"sess-1", "my-session", "AKIATEST", "default", "proj-1", "default", "interactive",
		"single-node", 1, 0, string(domain.StatusCreating), []byte(`{}`), "", "",
		[]byte(`{}`), []byte(`{}`), []byte(`{}`), nil, nil, "", "", "", time.Now(), nil,
	)
	kernelRows := sqlmock.NewRows(kernelRowColumns()).AddRow(
		"k1", "sess-1", "main", 0, nil, "python:3.11", "x86_64", "index.docker.io",
		[]byte(`{}`), []byte(`{}`), string(domain.StatusRunning), []byte(`{}`),
		"", nil, []byte(`[]`), "", "", "", []byte(`[]`), "", "", time.Now(), nil,
	)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)*FROM sessions WHERE id = \\$1").WithArgs("sess-1").WillReturnRows(sessRows)
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE session_id = \\$1").WithArgs("sess-1").WillReturnRows(kernelRows)
	mock.ExpectExec("UPDATE sessions SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := e.DrainUpdatableSet(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDrainUpdatableSetSkipsUnchangedStatus(t *testing.T) {
	e, mock := newTestEngine(t)
	e.pending.Add("sess-1")

	sessRows := sqlmock.NewRows(sessionRowColumns()).AddRow(
		"sess-1", "my-session", "AKIATEST", "default", "proj-1", "default", "interactive",
		"single-node", 1, 0, string(domain.StatusRunning), []byte(`{}`), "", "",
		[]byte(`{}`), []byte(`{}`), []byte(`{}`), nil, nil, "", "", "", time.Now(), nil,
	)
	kernelRows := sqlmock.NewRows(kernelRowColumns()).AddRow(
		"k1", "sess-1", "main", 0, nil, "python:3.11", "x86_64", "index.docker.io",
		[]byte(`{}`), []byte(`{}`), string(domain.StatusRunning), []byte(`{}`),
		"", nil, []byte(`[]`), "", "", "", []byte(`[]`), "", "", time.Now(), nil,
	)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)*FROM sessions WHERE id = \\$1").WithArgs("sess-1").WillReturnRows(sessRows)
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE session_id = \\$1").WithArgs("sess-1").WillReturnRows(kernelRows)
	mock.ExpectCommit()

	err := e.DrainUpdatableSet(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
