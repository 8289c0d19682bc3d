package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/backendai/manager/pkg/domain"
)

// GetDomain fetches one domain's quota row, the outermost bound of
// create_session's three-level quota check.
func (s *Store) GetDomain(ctx context.Context, name string) (*domain.Domain, error) {
	q := `SELECT name, is_active, total_quota FROM domains WHERE name = $1`
	var d domain.Domain
	var quota []byte
	row := s.Querier(ctx).QueryRowContext(ctx, q, name)
	if err := row.Scan(&d.Name, &d.IsActive, &quota); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: domain %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get domain: %w", err)
	}
	if len(quota) > 0 {
		if err := json.Unmarshal(quota, &d.TotalQuota); err != nil {
			return nil, fmt.Errorf("decode total_quota: %w", err)
		}
	}
	return &d, nil
}

// GetProject fetches one project's quota row, the middle bound of the
// three-level quota check.
func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	q := `SELECT id, name, domain_name, is_active, total_quota FROM projects WHERE id = $1`
	var p domain.Project
	var quota []byte
	row := s.Querier(ctx).QueryRowContext(ctx, q, id)
	if err := row.Scan(&p.ID, &p.Name, &p.DomainName, &p.IsActive, &quota); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get project: %w", err)
	}
	if len(quota) > 0 {
		if err := json.Unmarshal(quota, &p.TotalQuota); err != nil {
			return nil, fmt.Errorf("decode total_quota: %w", err)
		}
	}
	return &p, nil
}

// GetKeyPair fetches one keypair, the innermost bound and the principal
// create_session attributes every session to.
func (s *Store) GetKeyPair(ctx context.Context, accessKey string) (*domain.KeyPair, error) {
	q := `SELECT access_key, secret_key, user_id, user_email, user_name, project_id, domain_name, resource_policy, is_active
		FROM keypairs WHERE access_key = $1`
	var k domain.KeyPair
	row := s.Querier(ctx).QueryRowContext(ctx, q, accessKey)
	if err := row.Scan(&k.AccessKey, &k.SecretKey, &k.UserID, &k.UserEmail, &k.UserName, &k.ProjectID, &k.DomainName, &k.ResourcePolicy, &k.IsActive); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: keypair %s: %w", accessKey, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get keypair: %w", err)
	}
	return &k, nil
}

// GetKeypairResourcePolicy fetches the named resource policy a KeyPair
// references.
func (s *Store) GetKeypairResourcePolicy(ctx context.Context, name string) (*domain.KeypairResourcePolicy, error) {
	q := `SELECT name, max_concurrent_sessions, max_containers_per_session, max_session_lifetime,
		total_resource_slots, allowed_scaling_groups
		FROM keypair_resource_policies WHERE name = $1`
	var p domain.KeypairResourcePolicy
	var slots, allowed []byte
	row := s.Querier(ctx).QueryRowContext(ctx, q, name)
	if err := row.Scan(&p.Name, &p.MaxConcurrentSessions, &p.MaxContainersPerSession, &p.MaxSessionLifetime, &slots, &allowed); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: keypair resource policy %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get keypair resource policy: %w", err)
	}
	if len(slots) > 0 {
		if err := json.Unmarshal(slots, &p.TotalResourceSlots); err != nil {
			return nil, fmt.Errorf("decode total_resource_slots: %w", err)
		}
	}
	if len(allowed) > 0 {
		if err := json.Unmarshal(allowed, &p.AllowedScalingGroups); err != nil {
			return nil, fmt.Errorf("decode allowed_scaling_groups: %w", err)
		}
	}
	return &p, nil
}

// ListActiveScalingGroups returns every active scaling group, in name order
// so callers get a deterministic "pick the first one that accepts this
// session type" result once they've filtered by the keypair policy's
// AllowedScalingGroups and AllowsSessionType.
func (s *Store) ListActiveScalingGroups(ctx context.Context) ([]*domain.ScalingGroup, error) {
	q := `SELECT name, driver, scheduler, is_active, is_public, allowed_session_types
		FROM scaling_groups WHERE is_active = true ORDER BY name ASC`
	rows, err := s.Querier(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: list scaling groups: %w", err)
	}
	defer rows.Close()

	var out []*domain.ScalingGroup
	for rows.Next() {
		var sg domain.ScalingGroup
		var allowedTypes []byte
		if err := rows.Scan(&sg.Name, &sg.Driver, &sg.Scheduler, &sg.IsActive, &sg.IsPublic, &allowedTypes); err != nil {
			return nil, fmt.Errorf("storage: scan scaling group: %w", err)
		}
		if len(allowedTypes) > 0 {
			if err := json.Unmarshal(allowedTypes, &sg.AllowedSessionTypes); err != nil {
				return nil, fmt.Errorf("decode allowed_session_types: %w", err)
			}
		}
		out = append(out, &sg)
	}
	return out, rows.Err()
}

// CountActiveSessionsForKeyPair counts non-terminal sessions owned by
// accessKey, the value create_session compares against
// MaxConcurrentSessions.
func (s *Store) CountActiveSessionsForKeyPair(ctx context.Context, accessKey string) (int, error) {
	q := `SELECT count(*) FROM sessions WHERE access_key = $1 AND status NOT IN ('TERMINATED', 'CANCELLED')`
	var n int
	if err := s.Querier(ctx).QueryRowContext(ctx, q, accessKey).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count active sessions: %w", err)
	}
	return n, nil
}
