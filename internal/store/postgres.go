package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

// Postgres is the sqlx-backed Store implementation. A single pooled
// *sqlx.DB is fine here: unlike leader.Election, none of these
// operations require session-scoped state.
type Postgres struct {
	db *sqlx.DB
}

// Open connects to dsn using the lib/pq driver and verifies
// reachability with Ping.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an already-open *sqlx.DB, used by tests to inject
// a sqlmock-backed connection.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// conditionsJSON adapts workspace.Conditions to database/sql's
// Valuer/Scanner pair so it round-trips through a jsonb column.
type conditionsJSON workspace.Conditions

func (c conditionsJSON) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

func (c *conditionsJSON) Scan(src any) error {
	if src == nil {
		*c = conditionsJSON{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("conditions: unsupported scan type %T", src)
	}
	var m workspace.Conditions
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*c = conditionsJSON(m)
	return nil
}

// row mirrors the workspaces table for sqlx scanning; nullable SQL
// columns use pointers directly since workspace.Workspace already
// models them that way.
type row struct {
	ID             string          `db:"id"`
	OwnerUserID    string          `db:"owner_user_id"`
	ImageRef       string          `db:"image_ref"`
	HomeStoreKey   string          `db:"home_store_key"`
	Conditions     conditionsJSON  `db:"conditions"`
	Phase          string          `db:"phase"`
	Operation      string          `db:"operation"`
	OpID           *string         `db:"op_id"`
	OpStartedAt    *time.Time      `db:"op_started_at"`
	DesiredState   string          `db:"desired_state"`
	ArchiveKey     *string         `db:"archive_key"`
	ObservedAt     *time.Time      `db:"observed_at"`
	LastAccessAt   *time.Time      `db:"last_access_at"`
	PhaseChangedAt *time.Time      `db:"phase_changed_at"`
	ErrorReason    *string         `db:"error_reason"`
	ErrorCount     int             `db:"error_count"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	DeletedAt      *time.Time      `db:"deleted_at"`
}

func (r *row) toWorkspace() *workspace.Workspace {
	w := &workspace.Workspace{
		ID:             r.ID,
		OwnerUserID:    r.OwnerUserID,
		ImageRef:       r.ImageRef,
		HomeStoreKey:   r.HomeStoreKey,
		Conditions:     workspace.Conditions(r.Conditions),
		Phase:          workspace.Phase(r.Phase),
		Operation:      workspace.Operation(r.Operation),
		OpID:           r.OpID,
		OpStartedAt:    r.OpStartedAt,
		DesiredState:   workspace.DesiredState(r.DesiredState),
		ArchiveKey:     r.ArchiveKey,
		ObservedAt:     r.ObservedAt,
		LastAccessAt:   r.LastAccessAt,
		PhaseChangedAt: r.PhaseChangedAt,
		ErrorCount:     r.ErrorCount,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		DeletedAt:      r.DeletedAt,
	}
	if r.ErrorReason != nil {
		reason := workspace.ErrorReason(*r.ErrorReason)
		w.ErrorReason = &reason
	}
	return w
}

const selectColumns = `
	id, owner_user_id, image_ref, home_store_key, conditions, phase, operation,
	op_id, op_started_at, desired_state, archive_key, observed_at, last_access_at,
	phase_changed_at, error_reason, error_count, created_at, updated_at, deleted_at`

func (p *Postgres) Create(ctx context.Context, w *workspace.Workspace) error {
	const query = `
		INSERT INTO workspaces (id, owner_user_id, image_ref, home_store_key, conditions,
			phase, operation, desired_state, error_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, now(), now())`

	_, err := p.db.ExecContext(ctx, query,
		w.ID, w.OwnerUserID, w.ImageRef, w.HomeStoreKey, conditionsJSON(w.Conditions),
		workspace.PhasePending, workspace.OperationNone, w.DesiredState)
	if err != nil {
		return fmt.Errorf("store: create %s: %w", w.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	var r row
	err := p.db.GetContext(ctx, &r, `SELECT `+selectColumns+` FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return r.toWorkspace(), nil
}

func (p *Postgres) ListNonDeleted(ctx context.Context) ([]*workspace.Workspace, error) {
	var rows []row
	err := p.db.SelectContext(ctx, &rows, `SELECT `+selectColumns+` FROM workspaces WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: list non-deleted: %w", err)
	}
	return toWorkspaces(rows), nil
}

func (p *Postgres) ListTTLCandidates(ctx context.Context) ([]*workspace.Workspace, error) {
	const query = `SELECT ` + selectColumns + ` FROM workspaces
		WHERE deleted_at IS NULL AND operation = $1 AND phase IN ($2, $3)`
	var rows []row
	err := p.db.SelectContext(ctx, &rows, query, workspace.OperationNone, workspace.PhaseRunning, workspace.PhaseStandby)
	if err != nil {
		return nil, fmt.Errorf("store: list ttl candidates: %w", err)
	}
	return toWorkspaces(rows), nil
}

func toWorkspaces(rows []row) []*workspace.Workspace {
	out := make([]*workspace.Workspace, len(rows))
	for i := range rows {
		out[i] = rows[i].toWorkspace()
	}
	return out
}

// UpdateConditions runs one UPDATE per entry inside a transaction.
// OB ticks are infrequent (30s) and bounded by the number of
// non-deleted workspaces, so a per-row statement keeps the SQL simple
// without needing a bulk VALUES-list upsert.
func (p *Postgres) UpdateConditions(ctx context.Context, updates []ConditionUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: update conditions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `UPDATE workspaces SET conditions = $2, observed_at = $3, updated_at = now() WHERE id = $1`
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, query, u.WorkspaceID, conditionsJSON(u.Conditions), u.ObservedAt); err != nil {
			return fmt.Errorf("store: update conditions %s: %w", u.WorkspaceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: update conditions: commit: %w", err)
	}
	return nil
}

// ClaimOperation is the I2 idempotency anchor. The WHERE clause only
// matches a row that is either free (operation = NONE) or already
// claimed under the same op_id, so a retried Execute call always
// observes the op_id actually in effect.
func (p *Postgres) ClaimOperation(ctx context.Context, id string, op workspace.Operation, opID string, startedAt time.Time) (string, error) {
	const query = `
		UPDATE workspaces
		SET operation = $2, op_id = $3, op_started_at = $4, updated_at = now()
		WHERE id = $1 AND (operation = $5 OR op_id = $3)`

	res, err := p.db.ExecContext(ctx, query, id, op, opID, startedAt, workspace.OperationNone)
	if err != nil {
		return "", fmt.Errorf("store: claim operation %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("store: claim operation %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		// Lost the race to another claimant; re-read to learn the
		// op_id now in effect.
		var current struct {
			OpID *string `db:"op_id"`
		}
		if err := p.db.GetContext(ctx, &current, `SELECT op_id FROM workspaces WHERE id = $1`, id); err != nil {
			return "", fmt.Errorf("store: claim operation %s: re-read: %w", id, err)
		}
		if current.OpID != nil {
			return *current.OpID, nil
		}
		return "", fmt.Errorf("store: claim operation %s: lost race and no op_id in effect", id)
	}
	return opID, nil
}

func (p *Postgres) CompleteOperation(ctx context.Context, id, opID string, archiveKey *string) error {
	// I4: the WHERE clause only matches while op_id is still in
	// effect and the same statement clears it, so archive_key is
	// written at most once per op_id. COALESCE keeps the current key
	// when this operation produced none (e.g. a restore).
	const query = `
		UPDATE workspaces
		SET operation = $3, op_id = NULL, op_started_at = NULL,
			error_reason = NULL, error_count = 0,
			archive_key = COALESCE($4, archive_key),
			updated_at = now()
		WHERE id = $1 AND op_id = $2`

	res, err := p.db.ExecContext(ctx, query, id, opID, workspace.OperationNone, archiveKey)
	if err != nil {
		return fmt.Errorf("store: complete operation %s: %w", id, err)
	}
	return mustAffectOne(res, "complete operation", id)
}

func (p *Postgres) FailOperation(ctx context.Context, id, opID string, reason workspace.ErrorReason, errorCount int, clearOperation bool) error {
	query := `UPDATE workspaces SET error_reason = $3, error_count = $4, updated_at = now()`
	args := []any{id, opID, reason, errorCount}
	if clearOperation {
		query += `, operation = $5, op_id = NULL, op_started_at = NULL`
		args = append(args, workspace.OperationNone)
	}
	query += ` WHERE id = $1 AND op_id = $2`

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: fail operation %s: %w", id, err)
	}
	return mustAffectOne(res, "fail operation", id)
}

func (p *Postgres) SetPhase(ctx context.Context, id string, phase workspace.Phase, changedAt time.Time) error {
	const query = `
		UPDATE workspaces
		SET phase = $2, phase_changed_at = CASE WHEN phase <> $2 THEN $3 ELSE phase_changed_at END, updated_at = now()
		WHERE id = $1`
	_, err := p.db.ExecContext(ctx, query, id, phase, changedAt)
	if err != nil {
		return fmt.Errorf("store: set phase %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) SetDesiredState(ctx context.Context, id string, desired workspace.DesiredState) error {
	_, err := p.db.ExecContext(ctx, `UPDATE workspaces SET desired_state = $2, updated_at = now() WHERE id = $1`, id, desired)
	if err != nil {
		return fmt.Errorf("store: set desired state %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) TouchLastAccess(ctx context.Context, id string, at time.Time) error {
	// set-if-greater: never let an out-of-order flush regress a newer
	// last_access_at.
	const query = `UPDATE workspaces SET last_access_at = $2, updated_at = now() WHERE id = $1 AND (last_access_at IS NULL OR last_access_at < $2)`
	_, err := p.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("store: touch last access %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) ClearErrorAndReassertDesiredState(ctx context.Context, id string) error {
	const query = `
		UPDATE workspaces
		SET error_reason = NULL, error_count = 0, desired_state = desired_state, updated_at = now()
		WHERE id = $1`
	_, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("store: clear error and reassert desired state %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE workspaces SET deleted_at = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`
	_, err := p.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("store: soft delete %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) ListLiveArchiveKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := p.db.SelectContext(ctx, &keys, `SELECT archive_key FROM workspaces WHERE deleted_at IS NULL AND archive_key IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("store: list live archive keys: %w", err)
	}
	return keys, nil
}

func mustAffectOne(res interface {
	RowsAffected() (int64, error)
}, action, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s %s: rows affected: %w", action, id, err)
	}
	if n == 0 {
		log.WithComponent("store").Warn().Str("workspace_id", id).Str("action", action).Msg("no row matched op_id; stale claim")
	}
	return nil
}
