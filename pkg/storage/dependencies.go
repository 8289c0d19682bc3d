package storage

import (
	"context"
	"fmt"

	"github.com/backendai/manager/pkg/domain"
)

// InsertDependency adds one SessionDependency edge as part of
// enqueue_session's transaction. Callers must validate acyclicity and that
// depends_on exists for the same owner before calling this.
func (s *Store) InsertDependency(ctx context.Context, dep domain.SessionDependency) error {
	q := `INSERT INTO session_dependencies (dependent_id, depends_on_id) VALUES ($1, $2)`
	_, err := s.Querier(ctx).ExecContext(ctx, q, dep.Dependent, dep.DependsOn)
	if err != nil {
		return fmt.Errorf("storage: insert dependency: %w", err)
	}
	return nil
}

// ListDependencies returns the depends_on ids for one session.
func (s *Store) ListDependencies(ctx context.Context, sessionID string) ([]string, error) {
	q := `SELECT depends_on_id FROM session_dependencies WHERE dependent_id = $1`
	rows, err := s.Querier(ctx).QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("storage: list dependencies: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan dependency: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SessionExistsForOwner reports whether a session id exists and is owned
// by accessKey, used to validate a depends_on reference at enqueue time.
func (s *Store) SessionExistsForOwner(ctx context.Context, sessionID, accessKey string) (bool, error) {
	q := `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1 AND access_key = $2)`
	var exists bool
	err := s.Querier(ctx).QueryRowContext(ctx, q, sessionID, accessKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check dependency owner: %w", err)
	}
	return exists, nil
}
