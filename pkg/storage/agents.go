package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/backendai/manager/pkg/domain"
)

type agentRow struct {
	ID             string       `db:"id"`
	Address        string       `db:"address"`
	PublicKey      []byte       `db:"public_key"`
	ScalingGroup   string       `db:"scaling_group"`
	Status         string       `db:"status"`
	AvailableSlots []byte       `db:"available_slots"`
	OccupiedSlots  []byte       `db:"occupied_slots"`
	Architecture   string       `db:"architecture"`
	Version        string       `db:"version"`
	LastSeen       time.Time    `db:"last_seen"`
	LostAt         sql.NullTime `db:"lost_at"`
	CreatedAt      time.Time    `db:"created_at"`
}

const agentColumns = `id, address, public_key, scaling_group, status, available_slots,
	occupied_slots, architecture, version, last_seen, lost_at, created_at`

func scanAgentRow(scan func(dest ...any) error) (*domain.Agent, error) {
	var r agentRow
	if err := scan(&r.ID, &r.Address, &r.PublicKey, &r.ScalingGroup, &r.Status, &r.AvailableSlots,
		&r.OccupiedSlots, &r.Architecture, &r.Version, &r.LastSeen, &r.LostAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	a := &domain.Agent{
		ID:           r.ID,
		Address:      r.Address,
		PublicKey:    r.PublicKey,
		ScalingGroup: r.ScalingGroup,
		Status:       domain.AgentStatus(r.Status),
		Architecture: r.Architecture,
		Version:      r.Version,
		LastSeen:     r.LastSeen,
		CreatedAt:    r.CreatedAt,
	}
	if r.LostAt.Valid {
		a.LostAt = &r.LostAt.Time
	}
	if len(r.AvailableSlots) > 0 {
		if err := json.Unmarshal(r.AvailableSlots, &a.AvailableSlots); err != nil {
			return nil, fmt.Errorf("decode available_slots: %w", err)
		}
	}
	if len(r.OccupiedSlots) > 0 {
		if err := json.Unmarshal(r.OccupiedSlots, &a.OccupiedSlots); err != nil {
			return nil, fmt.Errorf("decode occupied_slots: %w", err)
		}
	}
	return a, nil
}

// GetAgent fetches one agent row, optionally with a row lock for the
// handle_heartbeat transaction.
func (s *Store) GetAgent(ctx context.Context, id string, forUpdate bool) (*domain.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}
	row := s.Querier(ctx).QueryRowContext(ctx, q, id)
	a, err := scanAgentRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: agent %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// InsertAgent inserts a newly-joined agent row.
func (s *Store) InsertAgent(ctx context.Context, a *domain.Agent) error {
	available, err := json.Marshal(a.AvailableSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal available_slots: %w", err)
	}
	occupied, err := json.Marshal(a.OccupiedSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal occupied_slots: %w", err)
	}
	q := `INSERT INTO agents (id, address, public_key, scaling_group, status, available_slots,
		occupied_slots, architecture, version, last_seen, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.Querier(ctx).ExecContext(ctx, q, a.ID, a.Address, a.PublicKey, a.ScalingGroup, string(a.Status),
		available, occupied, a.Architecture, a.Version, a.LastSeen, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert agent: %w", err)
	}
	return nil
}

// UpdateAgentHeartbeat updates the mutable fields a heartbeat may change:
// address, public key, available slots, scaling group, version, and status.
func (s *Store) UpdateAgentHeartbeat(ctx context.Context, a *domain.Agent) error {
	available, err := json.Marshal(a.AvailableSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal available_slots: %w", err)
	}
	q := `UPDATE agents SET address=$2, public_key=$3, available_slots=$4, scaling_group=$5,
		version=$6, status=$7, last_seen=$8, lost_at=$9 WHERE id=$1`
	_, err = s.Querier(ctx).ExecContext(ctx, q, a.ID, a.Address, a.PublicKey, available, a.ScalingGroup,
		a.Version, string(a.Status), a.LastSeen, a.LostAt)
	if err != nil {
		return fmt.Errorf("storage: update agent heartbeat: %w", err)
	}
	return nil
}

// UpdateAgentOccupiedSlots writes back the agent's recomputed occupied
// slots, used by resource settle and recalc_resource_usage.
func (s *Store) UpdateAgentOccupiedSlots(ctx context.Context, agentID string, occupied domain.ResourceSlot) error {
	data, err := json.Marshal(occupied)
	if err != nil {
		return fmt.Errorf("storage: marshal occupied_slots: %w", err)
	}
	q := `UPDATE agents SET occupied_slots=$2 WHERE id=$1`
	_, err = s.Querier(ctx).ExecContext(ctx, q, agentID, data)
	if err != nil {
		return fmt.Errorf("storage: update agent occupied slots: %w", err)
	}
	return nil
}

// ListAliveAgentsByScalingGroup returns every ALIVE agent in a scaling
// group, candidates for the scheduler's agent-selection step.
func (s *Store) ListAliveAgentsByScalingGroup(ctx context.Context, scalingGroup string) ([]*domain.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE scaling_group = $1 AND status = 'ALIVE'`
	rows, err := s.Querier(ctx).QueryContext(ctx, q, scalingGroup)
	if err != nil {
		return nil, fmt.Errorf("storage: list alive agents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgentRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAllAgents returns every agent row, used by recalc_resource_usage to
// zero out any agent not represented among occupancy-relevant sessions.
func (s *Store) ListAllAgents(ctx context.Context) ([]*domain.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents`
	rows, err := s.Querier(ctx).QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage: list all agents: %w", err)
	}
	defer rows.Close()

	var out []*domain.Agent
	for rows.Next() {
		a, err := scanAgentRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
