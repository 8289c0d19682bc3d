package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/domain"
)

func TestDependenciesSatisfiedFalseWhilePending(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT depends_on_id FROM session_dependencies").WithArgs("sess-2").
		WillReturnRows(sqlmock.NewRows([]string{"depends_on_id"}).AddRow("sess-1"))

	depRows := sqlmock.NewRows(sessionRowColumns()).AddRow(
		"sess-1", "base-session", "AKIATEST", "default", "proj-1", "default", "interactive",
		"single-node", 1, 0, string(domain.StatusPending), []byte(`{}`), "", "",
		[]byte(`{}`), []byte(`{}`), []byte(`{}`), nil, nil, "", "", "", time.Now(), nil,
	)
	mock.ExpectQuery("SELECT (.|\n)*FROM sessions WHERE id = \\$1").WithArgs("sess-1").WillReturnRows(depRows)

	ok, err := e.DependenciesSatisfied(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDependenciesSatisfiedTrueOnceTerminated(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectQuery("SELECT depends_on_id FROM session_dependencies").WithArgs("sess-2").
		WillReturnRows(sqlmock.NewRows([]string{"depends_on_id"}).AddRow("sess-1"))

	depRows := sqlmock.NewRows(sessionRowColumns()).AddRow(
		"sess-1", "base-session", "AKIATEST", "default", "proj-1", "default", "interactive",
		"single-node", 1, 0, string(domain.StatusTerminated), []byte(`{}`), "", "",
		[]byte(`{}`), []byte(`{}`), []byte(`{}`), nil, nil, "", "", "", time.Now(), nil,
	)
	mock.ExpectQuery("SELECT (.|\n)*FROM sessions WHERE id = \\$1").WithArgs("sess-1").WillReturnRows(depRows)

	ok, err := e.DependenciesSatisfied(context.Background(), "sess-2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
