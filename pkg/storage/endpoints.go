package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/backendai/manager/pkg/domain"
)

type endpointRow struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	AccessKey       string    `db:"access_key"`
	Domain          string    `db:"domain_name"`
	Project         string    `db:"project_id"`
	ImageCanonical  string    `db:"image_canonical"`
	ModelName       string    `db:"model_name"`
	ModelVFolder    string    `db:"model_vfolder"`
	RequestedSlots  []byte    `db:"requested_slots"`
	Status          string    `db:"status"`
	DesiredCount    int       `db:"desired_count"`
	Retries         int       `db:"retries"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r *endpointRow) toDomain() (*domain.Endpoint, error) {
	e := &domain.Endpoint{
		ID:           r.ID,
		Name:         r.Name,
		AccessKey:    r.AccessKey,
		Domain:       r.Domain,
		Project:      r.Project,
		Image:        domain.ImageRef{Canonical: r.ImageCanonical},
		ModelName:    r.ModelName,
		ModelVFolder: r.ModelVFolder,
		Status:       domain.EndpointLifecycle(r.Status),
		DesiredCount: r.DesiredCount,
		Retries:      r.Retries,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.RequestedSlots) > 0 {
		if err := json.Unmarshal(r.RequestedSlots, &e.RequestedSlots); err != nil {
			return nil, fmt.Errorf("unmarshal requested_slots: %w", err)
		}
	}
	return e, nil
}

const endpointColumns = `id, name, access_key, domain_name, project_id, image_canonical,
	model_name, model_vfolder, requested_slots, status, desired_count, retries, created_at`

// InsertEndpoint creates a new inference endpoint row.
func (s *Store) InsertEndpoint(ctx context.Context, e *domain.Endpoint) error {
	slots, err := json.Marshal(e.RequestedSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal endpoint requested_slots: %w", err)
	}
	q := `INSERT INTO endpoints (id, name, access_key, domain_name, project_id, image_canonical,
		model_name, model_vfolder, requested_slots, status, desired_count, retries, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err = s.Querier(ctx).ExecContext(ctx, q, e.ID, e.Name, e.AccessKey, e.Domain, e.Project,
		e.Image.Canonical, e.ModelName, e.ModelVFolder, slots, string(e.Status), e.DesiredCount, e.Retries, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert endpoint: %w", err)
	}
	return nil
}

// GetEndpoint fetches one endpoint by id.
func (s *Store) GetEndpoint(ctx context.Context, id string) (*domain.Endpoint, error) {
	q := `SELECT ` + endpointColumns + ` FROM endpoints WHERE id = $1`
	var r endpointRow
	row := s.Querier(ctx).QueryRowContext(ctx, q, id)
	if err := row.Scan(&r.ID, &r.Name, &r.AccessKey, &r.Domain, &r.Project, &r.ImageCanonical,
		&r.ModelName, &r.ModelVFolder, &r.RequestedSlots, &r.Status, &r.DesiredCount, &r.Retries, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: endpoint %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get endpoint: %w", err)
	}
	return r.toDomain()
}

// UpdateEndpointStatus persists an endpoint's lifecycle transition.
func (s *Store) UpdateEndpointStatus(ctx context.Context, id string, status domain.EndpointLifecycle) error {
	q := `UPDATE endpoints SET status=$2 WHERE id=$1`
	_, err := s.Querier(ctx).ExecContext(ctx, q, id, string(status))
	if err != nil {
		return fmt.Errorf("storage: update endpoint status: %w", err)
	}
	return nil
}

// IncrementEndpointRetries bumps an endpoint's retry counter after a
// failed route creation, per spec §3's "endpoint.retries increments on a
// failed route creation."
func (s *Store) IncrementEndpointRetries(ctx context.Context, id string) error {
	q := `UPDATE endpoints SET retries = retries + 1 WHERE id=$1`
	_, err := s.Querier(ctx).ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("storage: increment endpoint retries: %w", err)
	}
	return nil
}

func scanRoute(scan func(dest ...any) error) (*domain.Route, error) {
	var rt domain.Route
	var sessionID sql.NullString
	if err := scan(&rt.ID, &rt.EndpointID, &sessionID, &rt.Status, &rt.TrafficPct, &rt.CreatedAt); err != nil {
		return nil, err
	}
	rt.SessionID = sessionID.String
	return &rt, nil
}

// GetRoute fetches one route by id.
func (s *Store) GetRoute(ctx context.Context, id string) (*domain.Route, error) {
	q := `SELECT id, endpoint_id, session_id, status, traffic_pct, created_at FROM routes WHERE id = $1`
	row := s.Querier(ctx).QueryRowContext(ctx, q, id)
	rt, err := scanRoute(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: route %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get route: %w", err)
	}
	return rt, nil
}

// ListRoutesByEndpoint returns every route currently bound to an endpoint,
// the pool a RouteCreated/health-check handler load-balances traffic over.
func (s *Store) ListRoutesByEndpoint(ctx context.Context, endpointID string) ([]*domain.Route, error) {
	q := `SELECT id, endpoint_id, session_id, status, traffic_pct, created_at
		FROM routes WHERE endpoint_id = $1`
	rows, err := s.Querier(ctx).QueryContext(ctx, q, endpointID)
	if err != nil {
		return nil, fmt.Errorf("storage: list routes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Route
	for rows.Next() {
		rt, err := scanRoute(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan route: %w", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// InsertProvisioningRoute records a new Route in PROVISIONING with no
// backing session yet; the RouteCreated handler binds one once
// create_session succeeds, or marks the route FAILED_TO_START if it
// doesn't.
func (s *Store) InsertProvisioningRoute(ctx context.Context, r *domain.Route) error {
	q := `INSERT INTO routes (id, endpoint_id, session_id, status, traffic_pct, created_at)
		VALUES ($1,$2,NULL,$3,$4,$5)`
	_, err := s.Querier(ctx).ExecContext(ctx, q, r.ID, r.EndpointID, string(r.Status), r.TrafficPct, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert provisioning route: %w", err)
	}
	return nil
}

// InsertRoute records a new Route already bound to a backing session.
func (s *Store) InsertRoute(ctx context.Context, r *domain.Route) error {
	q := `INSERT INTO routes (id, endpoint_id, session_id, status, traffic_pct, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.Querier(ctx).ExecContext(ctx, q, r.ID, r.EndpointID, r.SessionID, string(r.Status), r.TrafficPct, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert route: %w", err)
	}
	return nil
}

// BindRouteSession attaches a newly created session to a provisioning
// route and moves it to PROVISIONING (still not HEALTHY until the session
// reports RUNNING and a health check passes, out of this module's scope).
func (s *Store) BindRouteSession(ctx context.Context, routeID, sessionID string) error {
	q := `UPDATE routes SET session_id=$2, status=$3 WHERE id=$1`
	_, err := s.Querier(ctx).ExecContext(ctx, q, routeID, sessionID, string(domain.RouteProvisioning))
	if err != nil {
		return fmt.Errorf("storage: bind route session: %w", err)
	}
	return nil
}

// UpdateRouteStatus persists a route's health-derived status and traffic
// share.
func (s *Store) UpdateRouteStatus(ctx context.Context, id string, status domain.RouteStatus, trafficPct int) error {
	q := `UPDATE routes SET status=$2, traffic_pct=$3 WHERE id=$1`
	_, err := s.Querier(ctx).ExecContext(ctx, q, id, string(status), trafficPct)
	if err != nil {
		return fmt.Errorf("storage: update route status: %w", err)
	}
	return nil
}
