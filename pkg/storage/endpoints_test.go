package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/backendai/manager/pkg/domain"
)

func TestInsertEndpoint(t *testing.T) {
	s, mock := newMockStore(t)

	ep := &domain.Endpoint{
		ID:             "ep-1",
		Name:           "my-model",
		AccessKey:      "AKIATEST",
		Domain:         "default",
		Project:        "proj-1",
		Image:          domain.ImageRef{Canonical: "backend:infer"},
		ModelName:      "my-model",
		ModelVFolder:   "vf-1",
		RequestedSlots: domain.ResourceSlot{"cpu": 2},
		Status:         domain.EndpointReady,
		DesiredCount:   1,
		CreatedAt:      time.Now(),
	}

	mock.ExpectExec("INSERT INTO endpoints").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertEndpoint(context.Background(), ep)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEndpointUnmarshalsRequestedSlots(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"id", "name", "access_key", "domain_name", "project_id", "image_canonical",
		"model_name", "model_vfolder", "requested_slots", "status", "desired_count", "retries", "created_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"ep-1", "my-model", "AKIATEST", "default", "proj-1", "backend:infer",
		"my-model", "vf-1", []byte(`{"cpu":2}`), "READY", 1, 0, time.Now(),
	)
	mock.ExpectQuery("SELECT (.|\n)*FROM endpoints WHERE id = \\$1").WithArgs("ep-1").WillReturnRows(rows)

	ep, err := s.GetEndpoint(context.Background(), "ep-1")
	assert.NoError(t, err)
	assert.Equal(t, domain.ResourceSlot{"cpu": 2}, ep.RequestedSlots)
	assert.Equal(t, "my-model", ep.ModelName)
}

func TestIncrementEndpointRetries(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE endpoints SET retries").WithArgs("ep-1").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.IncrementEndpointRetries(context.Background(), "ep-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertProvisioningRouteLeavesSessionNull(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO routes").WillReturnResult(sqlmock.NewResult(0, 1))

	r := &domain.Route{ID: "route-1", EndpointID: "ep-1", Status: domain.RouteProvisioning, CreatedAt: time.Now()}
	err := s.InsertProvisioningRoute(context.Background(), r)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindRouteSession(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE routes SET session_id").
		WithArgs("route-1", "sess-1", string(domain.RouteProvisioning)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.BindRouteSession(context.Background(), "route-1", "sess-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRouteWithNullSessionID(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{"id", "endpoint_id", "session_id", "status", "traffic_pct", "created_at"}
	rows := sqlmock.NewRows(cols).AddRow("route-1", "ep-1", nil, "PROVISIONING", 0, time.Now())
	mock.ExpectQuery("SELECT (.|\n)*FROM routes WHERE id = \\$1").WithArgs("route-1").WillReturnRows(rows)

	rt, err := s.GetRoute(context.Background(), "route-1")
	assert.NoError(t, err)
	assert.Equal(t, "", rt.SessionID)
}
