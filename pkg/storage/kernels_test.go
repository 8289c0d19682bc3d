package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/backendai/manager/pkg/domain"
)

func sampleKernel() *domain.Kernel {
	return &domain.Kernel{
		ID:          "kern-1",
		SessionID:   "sess-1",
		ClusterRole: domain.ClusterRoleMain,
		Image:       domain.ImageRef{Canonical: "python:3.9-ubuntu20.04"},
		Status:      domain.StatusPending,
		CreatedAt:   time.Now(),
	}
}

func TestInsertKernel(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO kernels").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertKernel(context.Background(), sampleKernel())
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetKernelNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := s.GetKernel(context.Background(), "missing", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetKernelScansLogsColumn(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"id", "session_id", "cluster_role", "cluster_idx", "agent_id", "image_canonical",
		"image_architecture", "image_registry", "requested_slots", "occupied_slots", "status", "status_history",
		"status_reason", "exit_code", "service_ports", "container_id", "startup_command", "bootstrap_script",
		"preopen_ports", "status_error_repr", "logs", "created_at", "terminated_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"kern-1", "sess-1", "main", 0, nil, "python:3.9-ubuntu20.04",
		"", "", []byte("{}"), []byte("{}"), "RUNNING", []byte("{}"),
		"", nil, []byte("[]"), "container-1", "", "",
		[]byte("[]"), "", "hello\nworld\n", time.Now(), nil,
	)
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE id = \\$1").WithArgs("kern-1").WillReturnRows(rows)

	k, err := s.GetKernel(context.Background(), "kern-1", false)
	assert.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", k.Logs)
}

func TestAppendKernelLogs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE kernels SET logs").
		WithArgs("kern-1", "more output\n").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.AppendKernelLogs(context.Background(), "kern-1", "more output\n")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendKernelLogsSkipsEmptyChunk(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.AppendKernelLogs(context.Background(), "kern-1", "")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
