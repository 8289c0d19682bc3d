package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/backendai/manager/pkg/domain"
)

type sessionRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	AccessKey      string         `db:"access_key"`
	Domain         string         `db:"domain_name"`
	Project        string         `db:"project_id"`
	ScalingGroup   string         `db:"scaling_group"`
	Type           string         `db:"session_type"`
	ClusterMode    string         `db:"cluster_mode"`
	ClusterSize    int            `db:"cluster_size"`
	Priority       int            `db:"priority"`
	Status         string         `db:"status"`
	StatusHistory  []byte         `db:"status_history"`
	StatusReason   string         `db:"status_reason"`
	StatusInfo     string         `db:"status_info"`
	Environ        []byte         `db:"environ"`
	RequestedSlots []byte         `db:"requested_slots"`
	OccupiedSlots  []byte         `db:"occupied_slots"`
	StartsAt       sql.NullTime   `db:"starts_at"`
	BatchTimeoutS  sql.NullInt64  `db:"batch_timeout_sec"`
	CallbackURL    string         `db:"callback_url"`
	NetworkType    string         `db:"network_type"`
	NetworkID      string         `db:"network_id"`
	CreatedAt      time.Time      `db:"created_at"`
	TerminatedAt   sql.NullTime   `db:"terminated_at"`
}

func (r *sessionRow) toDomain() (*domain.Session, error) {
	s := &domain.Session{
		ID:           r.ID,
		Name:         r.Name,
		AccessKey:    r.AccessKey,
		Domain:       r.Domain,
		Project:      r.Project,
		ScalingGroup: r.ScalingGroup,
		Type:         domain.SessionType(r.Type),
		ClusterMode:  domain.ClusterMode(r.ClusterMode),
		ClusterSize:  r.ClusterSize,
		Priority:     r.Priority,
		Status:       domain.Status(r.Status),
		StatusReason: domain.Reason(r.StatusReason),
		StatusInfo:   r.StatusInfo,
		CallbackURL:  r.CallbackURL,
		NetworkType:  r.NetworkType,
		NetworkID:    r.NetworkID,
		CreatedAt:    r.CreatedAt,
	}
	if r.StartsAt.Valid {
		s.StartsAt = &r.StartsAt.Time
	}
	if r.TerminatedAt.Valid {
		s.TerminatedAt = &r.TerminatedAt.Time
	}
	if r.BatchTimeoutS.Valid {
		d := time.Duration(r.BatchTimeoutS.Int64) * time.Second
		s.BatchTimeout = &d
	}
	if len(r.StatusHistory) > 0 {
		raw := map[string]time.Time{}
		if err := json.Unmarshal(r.StatusHistory, &raw); err != nil {
			return nil, fmt.Errorf("decode status_history: %w", err)
		}
		s.StatusHistory = make(map[domain.Status]time.Time, len(raw))
		for k, v := range raw {
			s.StatusHistory[domain.Status(k)] = v
		}
	}
	if len(r.Environ) > 0 {
		if err := json.Unmarshal(r.Environ, &s.Environ); err != nil {
			return nil, fmt.Errorf("decode environ: %w", err)
		}
	}
	if len(r.RequestedSlots) > 0 {
		if err := json.Unmarshal(r.RequestedSlots, &s.RequestedSlots); err != nil {
			return nil, fmt.Errorf("decode requested_slots: %w", err)
		}
	}
	if len(r.OccupiedSlots) > 0 {
		if err := json.Unmarshal(r.OccupiedSlots, &s.OccupiedSlots); err != nil {
			return nil, fmt.Errorf("decode occupied_slots: %w", err)
		}
	}
	return s, nil
}

// InsertSession inserts a new PENDING session row. Part of enqueue_session's
// single transaction together with InsertKernel for each of its kernels.
func (s *Store) InsertSession(ctx context.Context, sess *domain.Session) error {
	history, err := json.Marshal(sess.StatusHistory)
	if err != nil {
		return fmt.Errorf("storage: marshal status_history: %w", err)
	}
	environ, err := json.Marshal(sess.Environ)
	if err != nil {
		return fmt.Errorf("storage: marshal environ: %w", err)
	}
	requested, err := json.Marshal(sess.RequestedSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal requested_slots: %w", err)
	}
	occupied, err := json.Marshal(sess.OccupiedSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal occupied_slots: %w", err)
	}
	var batchTimeoutSec sql.NullInt64
	if sess.BatchTimeout != nil {
		batchTimeoutSec = sql.NullInt64{Int64: int64(sess.BatchTimeout.Seconds()), Valid: true}
	}
	q := `INSERT INTO sessions (
		id, name, access_key, domain_name, project_id, scaling_group, session_type,
		cluster_mode, cluster_size, priority, status, status_history, status_reason,
		status_info, environ, requested_slots, occupied_slots, starts_at,
		batch_timeout_sec, callback_url, network_type, network_id, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`
	_, err = s.Querier(ctx).ExecContext(ctx, q,
		sess.ID, sess.Name, sess.AccessKey, sess.Domain, sess.Project, sess.ScalingGroup, string(sess.Type),
		string(sess.ClusterMode), sess.ClusterSize, sess.Priority, string(sess.Status), history, string(sess.StatusReason),
		sess.StatusInfo, environ, requested, occupied, sess.StartsAt,
		batchTimeoutSec, sess.CallbackURL, sess.NetworkType, sess.NetworkID, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert session: %w", err)
	}
	return nil
}

// GetSession fetches one session by id, optionally locking the row with
// SELECT ... FOR UPDATE when called inside a transaction that needs to
// transition it.
func (s *Store) GetSession(ctx context.Context, id string, forUpdate bool) (*domain.Session, error) {
	q := `SELECT id, name, access_key, domain_name, project_id, scaling_group, session_type,
		cluster_mode, cluster_size, priority, status, status_history, status_reason,
		status_info, environ, requested_slots, occupied_slots, starts_at,
		batch_timeout_sec, callback_url, network_type, network_id, created_at, terminated_at
		FROM sessions WHERE id = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}
	var r sessionRow
	row := s.Querier(ctx).QueryRowContext(ctx, q, id)
	if err := row.Scan(
		&r.ID, &r.Name, &r.AccessKey, &r.Domain, &r.Project, &r.ScalingGroup, &r.Type,
		&r.ClusterMode, &r.ClusterSize, &r.Priority, &r.Status, &r.StatusHistory, &r.StatusReason,
		&r.StatusInfo, &r.Environ, &r.RequestedSlots, &r.OccupiedSlots, &r.StartsAt,
		&r.BatchTimeoutS, &r.CallbackURL, &r.NetworkType, &r.NetworkID, &r.CreatedAt, &r.TerminatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get session: %w", err)
	}
	return r.toDomain()
}

// FindActiveSessionByNameAndAccessKey implements create_session's reuse
// check: only sessions that are neither TERMINATED nor CANCELLED count.
func (s *Store) FindActiveSessionByNameAndAccessKey(ctx context.Context, name, accessKey string) (*domain.Session, error) {
	q := `SELECT id, name, access_key, domain_name, project_id, scaling_group, session_type,
		cluster_mode, cluster_size, priority, status, status_history, status_reason,
		status_info, environ, requested_slots, occupied_slots, starts_at,
		batch_timeout_sec, callback_url, network_type, network_id, created_at, terminated_at
		FROM sessions WHERE name = $1 AND access_key = $2 AND status != 'TERMINATED' AND status != 'CANCELLED'
		ORDER BY created_at DESC LIMIT 1`
	var r sessionRow
	row := s.Querier(ctx).QueryRowContext(ctx, q, name, accessKey)
	if err := row.Scan(
		&r.ID, &r.Name, &r.AccessKey, &r.Domain, &r.Project, &r.ScalingGroup, &r.Type,
		&r.ClusterMode, &r.ClusterSize, &r.Priority, &r.Status, &r.StatusHistory, &r.StatusReason,
		&r.StatusInfo, &r.Environ, &r.RequestedSlots, &r.OccupiedSlots, &r.StartsAt,
		&r.BatchTimeoutS, &r.CallbackURL, &r.NetworkType, &r.NetworkID, &r.CreatedAt, &r.TerminatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: find active session: %w", err)
	}
	return r.toDomain()
}

// UpdateSessionStatus persists a new status, reason, and status_history
// entry for a session. Callers must already hold the row lock from
// GetSession(forUpdate=true) in the same transaction.
func (s *Store) UpdateSessionStatus(ctx context.Context, sess *domain.Session) error {
	history, err := json.Marshal(sess.StatusHistory)
	if err != nil {
		return fmt.Errorf("storage: marshal status_history: %w", err)
	}
	q := `UPDATE sessions SET status=$2, status_history=$3, status_reason=$4, status_info=$5, terminated_at=$6 WHERE id=$1`
	_, err = s.Querier(ctx).ExecContext(ctx, q, sess.ID, string(sess.Status), history, string(sess.StatusReason), sess.StatusInfo, sess.TerminatedAt)
	if err != nil {
		return fmt.Errorf("storage: update session status: %w", err)
	}
	return nil
}

// ListSessionsByStatuses returns sessions whose status is in the given set,
// used by recalc_resource_usage to find occupancy-relevant sessions and by
// the scheduler tick to find PENDING work.
func (s *Store) ListSessionsByStatuses(ctx context.Context, statuses []domain.Status) ([]*domain.Session, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]any, len(statuses))
	q := `SELECT id, name, access_key, domain_name, project_id, scaling_group, session_type,
		cluster_mode, cluster_size, priority, status, status_history, status_reason,
		status_info, environ, requested_slots, occupied_slots, starts_at,
		batch_timeout_sec, callback_url, network_type, network_id, created_at, terminated_at
		FROM sessions WHERE status = ANY($1) ORDER BY created_at ASC`
	strs := make([]string, len(statuses))
	for i, st := range statuses {
		strs[i] = string(st)
		placeholders[i] = st
	}
	rows, err := s.Querier(ctx).QueryContext(ctx, q, pq.Array(strs))
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions by status: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		var r sessionRow
		if err := rows.Scan(
			&r.ID, &r.Name, &r.AccessKey, &r.Domain, &r.Project, &r.ScalingGroup, &r.Type,
			&r.ClusterMode, &r.ClusterSize, &r.Priority, &r.Status, &r.StatusHistory, &r.StatusReason,
			&r.StatusInfo, &r.Environ, &r.RequestedSlots, &r.OccupiedSlots, &r.StartsAt,
			&r.BatchTimeoutS, &r.CallbackURL, &r.NetworkType, &r.NetworkID, &r.CreatedAt, &r.TerminatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan session: %w", err)
		}
		sess, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
