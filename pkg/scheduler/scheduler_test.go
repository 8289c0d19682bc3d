package scheduler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/agentcache"
	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/storage"
)

func newMockScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := storage.NewWithDB(sqlx.NewDb(db, "postgres"))
	pool := agentrpc.NewPool(agentcache.New())
	return &Scheduler{Store: store, Pool: pool, TickInterval: 0}, mock
}

func TestTriggerImagePullsDedupesByAgentAndImage(t *testing.T) {
	s, _ := newMockScheduler(t)

	img := domain.ImageRef{Canonical: "python:3.11", Architecture: "x86_64"}
	kernels := []*domain.Kernel{
		{ID: "k1", Image: img},
		{ID: "k2", Image: img},
		{ID: "k3", Image: domain.ImageRef{Canonical: "tensorflow:2", Architecture: "x86_64"}},
	}
	p := &placement{
		order: []string{"k1", "k2", "k3"},
		agentFor: map[string]string{
			"k1": "agent-1",
			"k2": "agent-1",
			"k3": "agent-1",
		},
	}

	err := s.triggerImagePulls(context.Background(), kernels, p)
	require.Error(t, err)
	// two distinct (agent, image) pairs: (agent-1, python:3.11) and (agent-1, tensorflow:2)
	assert.Contains(t, err.Error(), "2 image pull dispatch(es) failed")
}

func TestChooseScalingGroupPicksFirstAllowedForSessionType(t *testing.T) {
	s, mock := newMockScheduler(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT access_key, secret_key, user_id, project_id, domain_name, resource_policy, is_active`).
		WithArgs("AKIATEST").
		WillReturnRows(sqlmock.NewRows([]string{"access_key", "secret_key", "user_id", "project_id", "domain_name", "resource_policy", "is_active"}).
			AddRow("AKIATEST", "secret", "user-1", "proj-1", "default", "default-policy", true))

	mock.ExpectQuery(`SELECT name, max_concurrent_sessions, max_containers_per_session, max_session_lifetime`).
		WithArgs("default-policy").
		WillReturnRows(sqlmock.NewRows([]string{"name", "max_concurrent_sessions", "max_containers_per_session", "max_session_lifetime", "total_resource_slots", "allowed_scaling_groups"}).
			AddRow("default-policy", 10, 4, 0, []byte(`{"cpu":16}`), []byte(`[]`)))

	allowedTypes, _ := json.Marshal([]domain.SessionType{domain.SessionTypeBatch})
	mock.ExpectQuery(`SELECT name, driver, scheduler, is_active, is_public, allowed_session_types`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "driver", "scheduler", "is_active", "is_public", "allowed_session_types"}).
			AddRow("batch-only", "local", "fifo", true, true, allowedTypes).
			AddRow("general", "local", "fifo", true, true, []byte(`[]`)))

	sess := &domain.Session{ID: "sess-1", AccessKey: "AKIATEST", Type: domain.SessionTypeBatch}
	sg, err := s.chooseScalingGroup(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "batch-only", sg.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChooseScalingGroupNoneAcceptsReturnsError(t *testing.T) {
	s, mock := newMockScheduler(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT access_key, secret_key, user_id, project_id, domain_name, resource_policy, is_active`).
		WithArgs("AKIATEST").
		WillReturnRows(sqlmock.NewRows([]string{"access_key", "secret_key", "user_id", "project_id", "domain_name", "resource_policy", "is_active"}).
			AddRow("AKIATEST", "secret", "user-1", "proj-1", "default", "default-policy", true))

	mock.ExpectQuery(`SELECT name, max_concurrent_sessions, max_containers_per_session, max_session_lifetime`).
		WithArgs("default-policy").
		WillReturnRows(sqlmock.NewRows([]string{"name", "max_concurrent_sessions", "max_containers_per_session", "max_session_lifetime", "total_resource_slots", "allowed_scaling_groups"}).
			AddRow("default-policy", 10, 4, 0, []byte(`{}`), []byte(`["restricted"]`)))

	mock.ExpectQuery(`SELECT name, driver, scheduler, is_active, is_public, allowed_session_types`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "driver", "scheduler", "is_active", "is_public", "allowed_session_types"}).
			AddRow("general", "local", "fifo", true, true, []byte(`[]`)))

	sess := &domain.Session{ID: "sess-1", AccessKey: "AKIATEST", Type: domain.SessionTypeInteractive}
	_, err := s.chooseScalingGroup(ctx, sess)
	assert.Error(t, err)
}

func TestCheckQuotaRejectsOverKeypairPolicy(t *testing.T) {
	s, mock := newMockScheduler(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT access_key, secret_key, user_id, project_id, domain_name, resource_policy, is_active`).
		WithArgs("AKIATEST").
		WillReturnRows(sqlmock.NewRows([]string{"access_key", "secret_key", "user_id", "project_id", "domain_name", "resource_policy", "is_active"}).
			AddRow("AKIATEST", "secret", "user-1", "proj-1", "default", "default-policy", true))

	mock.ExpectQuery(`SELECT name, max_concurrent_sessions, max_containers_per_session, max_session_lifetime`).
		WithArgs("default-policy").
		WillReturnRows(sqlmock.NewRows([]string{"name", "max_concurrent_sessions", "max_containers_per_session", "max_session_lifetime", "total_resource_slots", "allowed_scaling_groups"}).
			AddRow("default-policy", 10, 8, 0, []byte(`{"cpu":2}`), []byte(`[]`)))

	mock.ExpectQuery(`SELECT count\(\*\) FROM sessions`).
		WithArgs("AKIATEST").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	mock.ExpectQuery(`SELECT id, name, domain_name, is_active, total_quota FROM projects`).
		WithArgs("proj-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "domain_name", "is_active", "total_quota"}).
			AddRow("proj-1", "proj-1", "default", true, []byte(`{"cpu":64}`)))

	mock.ExpectQuery(`SELECT name, is_active, total_quota FROM domains`).
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"name", "is_active", "total_quota"}).
			AddRow("default", true, []byte(`{"cpu":64}`)))

	mock.ExpectQuery(`SELECT id, name, access_key, domain_name, project_id, scaling_group, session_type`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "access_key", "domain_name", "project_id", "scaling_group", "session_type",
			"cluster_mode", "cluster_size", "priority", "status", "status_history", "status_reason",
			"status_info", "environ", "requested_slots", "occupied_slots", "starts_at",
			"batch_timeout_sec", "callback_url", "network_type", "network_id", "created_at", "terminated_at",
		}))

	sess := &domain.Session{ID: "sess-1", AccessKey: "AKIATEST", Project: "proj-1", Domain: "default"}
	err := s.checkQuota(ctx, sess, domain.ResourceSlot{"cpu": 4}, 1)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckQuotaRejectsOverContainersPerSession(t *testing.T) {
	s, mock := newMockScheduler(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT access_key, secret_key, user_id, project_id, domain_name, resource_policy, is_active`).
		WithArgs("AKIATEST").
		WillReturnRows(sqlmock.NewRows([]string{"access_key", "secret_key", "user_id", "project_id", "domain_name", "resource_policy", "is_active"}).
			AddRow("AKIATEST", "secret", "user-1", "proj-1", "default", "default-policy", true))

	mock.ExpectQuery(`SELECT name, max_concurrent_sessions, max_containers_per_session, max_session_lifetime`).
		WithArgs("default-policy").
		WillReturnRows(sqlmock.NewRows([]string{"name", "max_concurrent_sessions", "max_containers_per_session", "max_session_lifetime", "total_resource_slots", "allowed_scaling_groups"}).
			AddRow("default-policy", 10, 2, 0, []byte(`{"cpu":64}`), []byte(`[]`)))

	sess := &domain.Session{ID: "sess-1", AccessKey: "AKIATEST"}
	err := s.checkQuota(ctx, sess, domain.ResourceSlot{"cpu": 4}, 3)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
