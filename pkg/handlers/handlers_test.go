package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/config"
	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/eventbus"
	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/lifecycle"
	"github.com/backendai/manager/pkg/registry"
	"github.com/backendai/manager/pkg/storage"
)

func newTestHandlers(t *testing.T) (*Handlers, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewWithDB(sqlx.NewDb(db, "postgres"))

	mr := miniredis.RunT(t)
	bus, err := eventbus.New(context.Background(), eventbus.Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	engine := lifecycle.New(store, bus)
	reg := registry.New(store, engine, bus, nil, nil, nil, nil, config.RegistryConfig{})
	h := &Handlers{Bus: bus, Engine: engine, Registry: reg}
	return h, mock, mr
}

func TestOnRouteCreatedEndpointLookupFailureMarksRouteFailed(t *testing.T) {
	h, mock, _ := newTestHandlers(t)

	mock.ExpectQuery("SELECT (.|\n)*FROM endpoints WHERE id = \\$1").
		WithArgs("ep-1").
		WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectExec("UPDATE endpoints SET retries").WithArgs("ep-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE routes SET status").WithArgs("route-1", "FAILED_TO_START", 0).WillReturnResult(sqlmock.NewResult(0, 1))

	h.onRouteCreated(context.Background(), []events.Envelope{
		{Event: &events.RouteCreated{RouteID: "route-1", EndpointID: "ep-1"}},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnDoSyncKernelLogsPersistsDrainedChunks(t *testing.T) {
	h, mock, mr := newTestHandlers(t)
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	require.NoError(t, rdb.RPush(ctx, "containerlog.container-1", "hello ", "world").Err())

	mock.ExpectExec("UPDATE kernels SET logs").
		WithArgs("kern-1", "hello world").
		WillReturnResult(sqlmock.NewResult(0, 1))

	h.onDoSyncKernelLogs(ctx, []events.Envelope{
		{Event: &events.DoSyncKernelLogs{KernelID: "kern-1", ContainerID: "container-1"}},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestOnImagePullFailedCancelsKernelAndPersistsDetail exercises seed
// scenario 2: a failed pull cancels the kernel (not ERROR, which would
// make the session aggregate to ERROR instead of CANCELLED) and records
// the failure detail as status_data.error.repr.
func TestOnImagePullFailedCancelsKernelAndPersistsDetail(t *testing.T) {
	h, mock, _ := newTestHandlers(t)

	cols := []string{"id", "session_id", "cluster_role", "cluster_idx", "agent_id", "image_canonical",
		"image_architecture", "image_registry", "requested_slots", "occupied_slots", "status", "status_history",
		"status_reason", "exit_code", "service_ports", "container_id", "startup_command", "bootstrap_script",
		"preopen_ports", "status_error_repr", "logs", "created_at", "terminated_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"kern-1", "sess-1", "main", 0, "agent-1", "python:3.9",
		"x86_64", "index.docker.io", []byte("{}"), []byte("{}"), string(domain.StatusScheduled), []byte("{}"),
		"", nil, []byte("[]"), "", "", "",
		[]byte("[]"), "", "", time.Now(), nil,
	)
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE agent_id = \\$1").WithArgs("agent-1").WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)*FROM kernels WHERE id = \\$1").WithArgs("kern-1").WillReturnRows(
		sqlmock.NewRows(cols).AddRow(
			"kern-1", "sess-1", "main", 0, "agent-1", "python:3.9",
			"x86_64", "index.docker.io", []byte("{}"), []byte("{}"), string(domain.StatusScheduled), []byte("{}"),
			"", nil, []byte("[]"), "", "", "",
			[]byte("[]"), "", "", time.Now(), nil,
		),
	)
	mock.ExpectExec("UPDATE kernels SET status").
		WithArgs("kern-1", string(domain.StatusCancelled), sqlmock.AnyArg(), string(domain.ReasonImagePullFailed), sqlmock.AnyArg(), sqlmock.AnyArg(), "not found").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	h.onImagePullFailed(context.Background(), []events.Envelope{
		{Event: &events.ImagePullFailed{AgentID: "agent-1", Image: "python:3.9", Detail: "not found"}},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnDoSyncKernelLogsSkipsPersistWhenLogEmpty(t *testing.T) {
	h, mock, _ := newTestHandlers(t)

	h.onDoSyncKernelLogs(context.Background(), []events.Envelope{
		{Event: &events.DoSyncKernelLogs{KernelID: "kern-1", ContainerID: "no-such-container"}},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
