package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/backendai/manager/pkg/domain"
)

type kernelRow struct {
	ID              string         `db:"id"`
	SessionID       string         `db:"session_id"`
	ClusterRole     string         `db:"cluster_role"`
	ClusterIdx      int            `db:"cluster_idx"`
	AgentID         sql.NullString `db:"agent_id"`
	ImageCanonical  string         `db:"image_canonical"`
	ImageArch       string         `db:"image_architecture"`
	ImageRegistry   string         `db:"image_registry"`
	RequestedSlots  []byte         `db:"requested_slots"`
	OccupiedSlots   []byte         `db:"occupied_slots"`
	Status          string         `db:"status"`
	StatusHistory   []byte         `db:"status_history"`
	StatusReason    string         `db:"status_reason"`
	ExitCode        sql.NullInt64  `db:"exit_code"`
	ServicePorts    []byte         `db:"service_ports"`
	ContainerID     string         `db:"container_id"`
	StartupCommand  string         `db:"startup_command"`
	BootstrapScript string         `db:"bootstrap_script"`
	PreopenPorts    []byte         `db:"preopen_ports"`
	StatusErrorRepr string         `db:"status_error_repr"`
	Logs            string         `db:"logs"`
	CreatedAt       time.Time      `db:"created_at"`
	TerminatedAt    sql.NullTime   `db:"terminated_at"`
}

const kernelColumns = `id, session_id, cluster_role, cluster_idx, agent_id, image_canonical,
	image_architecture, image_registry, requested_slots, occupied_slots, status, status_history,
	status_reason, exit_code, service_ports, container_id, startup_command, bootstrap_script,
	preopen_ports, status_error_repr, logs, created_at, terminated_at`

func scanKernelRow(scan func(dest ...any) error) (*domain.Kernel, error) {
	var r kernelRow
	if err := scan(
		&r.ID, &r.SessionID, &r.ClusterRole, &r.ClusterIdx, &r.AgentID, &r.ImageCanonical,
		&r.ImageArch, &r.ImageRegistry, &r.RequestedSlots, &r.OccupiedSlots, &r.Status, &r.StatusHistory,
		&r.StatusReason, &r.ExitCode, &r.ServicePorts, &r.ContainerID, &r.StartupCommand, &r.BootstrapScript,
		&r.PreopenPorts, &r.StatusErrorRepr, &r.Logs, &r.CreatedAt, &r.TerminatedAt,
	); err != nil {
		return nil, err
	}
	return r.toDomain()
}

func (r *kernelRow) toDomain() (*domain.Kernel, error) {
	k := &domain.Kernel{
		ID:              r.ID,
		SessionID:       r.SessionID,
		ClusterRole:     domain.ClusterRole(r.ClusterRole),
		ClusterIdx:      r.ClusterIdx,
		Image:           domain.ImageRef{Canonical: r.ImageCanonical, Architecture: r.ImageArch, Registry: r.ImageRegistry},
		Status:          domain.Status(r.Status),
		StatusReason:    domain.Reason(r.StatusReason),
		ContainerID:     r.ContainerID,
		StartupCommand:  r.StartupCommand,
		BootstrapScript: r.BootstrapScript,
		StatusErrorRepr: r.StatusErrorRepr,
		Logs:            r.Logs,
		CreatedAt:       r.CreatedAt,
	}
	if r.AgentID.Valid {
		k.AgentID = &r.AgentID.String
	}
	if r.ExitCode.Valid {
		code := int(r.ExitCode.Int64)
		k.ExitCode = &code
	}
	if r.TerminatedAt.Valid {
		k.TerminatedAt = &r.TerminatedAt.Time
	}
	if len(r.RequestedSlots) > 0 {
		if err := json.Unmarshal(r.RequestedSlots, &k.RequestedSlots); err != nil {
			return nil, fmt.Errorf("decode requested_slots: %w", err)
		}
	}
	if len(r.OccupiedSlots) > 0 {
		if err := json.Unmarshal(r.OccupiedSlots, &k.OccupiedSlots); err != nil {
			return nil, fmt.Errorf("decode occupied_slots: %w", err)
		}
	}
	if len(r.ServicePorts) > 0 {
		if err := json.Unmarshal(r.ServicePorts, &k.ServicePorts); err != nil {
			return nil, fmt.Errorf("decode service_ports: %w", err)
		}
	}
	if len(r.PreopenPorts) > 0 {
		if err := json.Unmarshal(r.PreopenPorts, &k.PreopenPorts); err != nil {
			return nil, fmt.Errorf("decode preopen_ports: %w", err)
		}
	}
	if len(r.StatusHistory) > 0 {
		raw := map[string]time.Time{}
		if err := json.Unmarshal(r.StatusHistory, &raw); err != nil {
			return nil, fmt.Errorf("decode status_history: %w", err)
		}
		k.StatusHistory = make(map[domain.Status]time.Time, len(raw))
		for name, at := range raw {
			k.StatusHistory[domain.Status(name)] = at
		}
	}
	return k, nil
}

// InsertKernel inserts one PENDING kernel row as part of enqueue_session's
// transaction. cluster_role='main' is enforced unique per session by a
// partial unique index (see migrations), not here.
func (s *Store) InsertKernel(ctx context.Context, k *domain.Kernel) error {
	history, err := json.Marshal(k.StatusHistory)
	if err != nil {
		return fmt.Errorf("storage: marshal status_history: %w", err)
	}
	requested, err := json.Marshal(k.RequestedSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal requested_slots: %w", err)
	}
	occupied, err := json.Marshal(k.OccupiedSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal occupied_slots: %w", err)
	}
	ports, err := json.Marshal(k.ServicePorts)
	if err != nil {
		return fmt.Errorf("storage: marshal service_ports: %w", err)
	}
	preopen, err := json.Marshal(k.PreopenPorts)
	if err != nil {
		return fmt.Errorf("storage: marshal preopen_ports: %w", err)
	}
	q := `INSERT INTO kernels (
		id, session_id, cluster_role, cluster_idx, agent_id, image_canonical, image_architecture,
		image_registry, requested_slots, occupied_slots, status, status_history, status_reason,
		service_ports, container_id, startup_command, bootstrap_script, preopen_ports, logs, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	_, err = s.Querier(ctx).ExecContext(ctx, q,
		k.ID, k.SessionID, string(k.ClusterRole), k.ClusterIdx, k.AgentID, k.Image.Canonical, k.Image.Architecture,
		k.Image.Registry, requested, occupied, string(k.Status), history, string(k.StatusReason),
		ports, k.ContainerID, k.StartupCommand, k.BootstrapScript, preopen, k.Logs, k.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert kernel: %w", err)
	}
	return nil
}

// ListKernelsBySession returns every kernel of a session, main kernel
// first, ordered by cluster_idx otherwise — matching the scheduler's
// deterministic ordering rule.
func (s *Store) ListKernelsBySession(ctx context.Context, sessionID string, forUpdate bool) ([]*domain.Kernel, error) {
	q := `SELECT ` + kernelColumns + ` FROM kernels WHERE session_id = $1
		ORDER BY (cluster_role = 'main') DESC, cluster_idx ASC`
	if forUpdate {
		q += " FOR UPDATE"
	}
	rows, err := s.Querier(ctx).QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list kernels: %w", err)
	}
	defer rows.Close()

	var out []*domain.Kernel
	for rows.Next() {
		k, err := scanKernelRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan kernel: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetKernel fetches one kernel by id, optionally locking the row for a
// transition that needs to hold it across the commit.
func (s *Store) GetKernel(ctx context.Context, id string, forUpdate bool) (*domain.Kernel, error) {
	q := `SELECT ` + kernelColumns + ` FROM kernels WHERE id = $1`
	if forUpdate {
		q += " FOR UPDATE"
	}
	row := s.Querier(ctx).QueryRowContext(ctx, q, id)
	k, err := scanKernelRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: kernel %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get kernel: %w", err)
	}
	return k, nil
}

// ListKernelsByAgent returns every non-terminal kernel bound to an agent,
// used to cascade a LOST/TERMINATED agent into its kernels.
func (s *Store) ListKernelsByAgent(ctx context.Context, agentID string) ([]*domain.Kernel, error) {
	q := `SELECT ` + kernelColumns + ` FROM kernels WHERE agent_id = $1
		AND status NOT IN ('TERMINATED', 'CANCELLED')`
	rows, err := s.Querier(ctx).QueryContext(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("storage: list kernels by agent: %w", err)
	}
	defer rows.Close()

	var out []*domain.Kernel
	for rows.Next() {
		k, err := scanKernelRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan kernel: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetMainKernel returns the session's single main-role kernel.
func (s *Store) GetMainKernel(ctx context.Context, sessionID string) (*domain.Kernel, error) {
	q := `SELECT ` + kernelColumns + ` FROM kernels WHERE session_id = $1 AND cluster_role = 'main'`
	row := s.Querier(ctx).QueryRowContext(ctx, q, sessionID)
	k, err := scanKernelRow(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("storage: main kernel of session %s: %w", sessionID, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: get main kernel: %w", err)
	}
	return k, nil
}

// UpdateKernelStatus persists a kernel's new status, reason, history, and
// (if set) exit code.
func (s *Store) UpdateKernelStatus(ctx context.Context, k *domain.Kernel) error {
	history, err := json.Marshal(k.StatusHistory)
	if err != nil {
		return fmt.Errorf("storage: marshal status_history: %w", err)
	}
	q := `UPDATE kernels SET status=$2, status_history=$3, status_reason=$4, exit_code=$5, terminated_at=$6, status_error_repr=$7 WHERE id=$1`
	_, err = s.Querier(ctx).ExecContext(ctx, q, k.ID, string(k.Status), history, string(k.StatusReason), k.ExitCode, k.TerminatedAt, k.StatusErrorRepr)
	if err != nil {
		return fmt.Errorf("storage: update kernel status: %w", err)
	}
	return nil
}

// UpdateKernelCreated persists the fields the create_kernels RPC response
// fills in: actual allocated slots, ports, container id, and agent binding.
func (s *Store) UpdateKernelCreated(ctx context.Context, k *domain.Kernel) error {
	occupied, err := json.Marshal(k.OccupiedSlots)
	if err != nil {
		return fmt.Errorf("storage: marshal occupied_slots: %w", err)
	}
	ports, err := json.Marshal(k.ServicePorts)
	if err != nil {
		return fmt.Errorf("storage: marshal service_ports: %w", err)
	}
	q := `UPDATE kernels SET agent_id=$2, occupied_slots=$3, service_ports=$4, container_id=$5 WHERE id=$1`
	_, err = s.Querier(ctx).ExecContext(ctx, q, k.ID, k.AgentID, occupied, ports, k.ContainerID)
	if err != nil {
		return fmt.Errorf("storage: update kernel created fields: %w", err)
	}
	return nil
}

// AssignKernelAgent records the scheduler's agent binding for a kernel.
func (s *Store) AssignKernelAgent(ctx context.Context, kernelID, agentID string) error {
	q := `UPDATE kernels SET agent_id=$2 WHERE id=$1`
	_, err := s.Querier(ctx).ExecContext(ctx, q, kernelID, agentID)
	if err != nil {
		return fmt.Errorf("storage: assign kernel agent: %w", err)
	}
	return nil
}

// AppendKernelLogs persists a drained chunk of container log onto the
// kernel row, per DoSyncKernelLogs (spec §4.6): the bus-side Redis list is
// the transient buffer, this column is where it lands for retrieval by
// get_logs once the kernel has stopped reporting live output.
func (s *Store) AppendKernelLogs(ctx context.Context, kernelID, chunk string) error {
	if chunk == "" {
		return nil
	}
	q := `UPDATE kernels SET logs = logs || $2 WHERE id=$1`
	_, err := s.Querier(ctx).ExecContext(ctx, q, kernelID, chunk)
	if err != nil {
		return fmt.Errorf("storage: append kernel logs: %w", err)
	}
	return nil
}
