package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewPostgres(db), mock
}

func TestPostgres_Create(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO workspaces`).
		WithArgs("ws-1", "user-1", "img:latest", "", sqlmock.AnyArg(), workspace.PhasePending, workspace.OperationNone, workspace.DesiredRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Create(context.Background(), &workspace.Workspace{
		ID: "ws-1", OwnerUserID: "user-1", ImageRef: "img:latest", DesiredState: workspace.DesiredRunning,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClaimOperation_Fresh(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE workspaces`).
		WithArgs("ws-1", workspace.OperationProvisioning, "op-1", sqlmock.AnyArg(), workspace.OperationNone).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.ClaimOperation(context.Background(), "ws-1", workspace.OperationProvisioning, "op-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "op-1", got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClaimOperation_LostRaceReReads(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE workspaces`).
		WithArgs("ws-1", workspace.OperationProvisioning, "op-1", sqlmock.AnyArg(), workspace.OperationNone).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{"op_id"}).AddRow("op-0")
	mock.ExpectQuery(`SELECT op_id FROM workspaces`).WithArgs("ws-1").WillReturnRows(rows)

	got, err := s.ClaimOperation(context.Background(), "ws-1", workspace.OperationProvisioning, "op-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "op-0", got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ClearErrorAndReassertDesiredState(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE workspaces`).
		WithArgs("ws-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.ClearErrorAndReassertDesiredState(context.Background(), "ws-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Get(t *testing.T) {
	s, mock := newMockStore(t)

	now := time.Now()
	cols := []string{"id", "owner_user_id", "image_ref", "home_store_key", "conditions", "phase", "operation",
		"op_id", "op_started_at", "desired_state", "archive_key", "observed_at", "last_access_at",
		"phase_changed_at", "error_reason", "error_count", "created_at", "updated_at", "deleted_at"}
	rows := sqlmock.NewRows(cols).AddRow(
		"ws-1", "user-1", "img", "home", []byte(`{}`), "PENDING", "NONE",
		nil, nil, "RUNNING", nil, nil, nil,
		nil, nil, 0, now, now, nil)

	mock.ExpectQuery(`SELECT .* FROM workspaces WHERE id = \$1`).WithArgs("ws-1").WillReturnRows(rows)

	w, err := s.Get(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", w.ID)
	assert.Equal(t, workspace.PhasePending, w.Phase)
	require.NoError(t, mock.ExpectationsWereMet())
}
