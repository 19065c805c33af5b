// Package store defines the relational workspace store: the single
// consensus point every coordinator reads and writes, with writes
// partitioned by column so that no coordinator ever needs a lock on
// another coordinator's data (spec.md section 5, "Shared-resource
// policy").
package store

import (
	"context"
	"time"

	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
)

// Store is the interface every coordinator depends on. Method groups
// mirror the column-ownership partition: OB only calls
// UpdateConditions; WC only calls SetPhase/ClaimOperation/
// CompleteOperation/FailOperation; the API/TTL paths only call SetDesiredState/
// TouchLastAccess/SoftDelete.
type Store interface {
	// Create inserts a new workspace row with phase=PENDING,
	// operation=NONE, the given desired_state.
	Create(ctx context.Context, w *workspace.Workspace) error

	// Get fetches one workspace by id.
	Get(ctx context.Context, id string) (*workspace.Workspace, error)

	// ListNonDeleted returns every workspace with deleted_at IS NULL,
	// the working set for OB and WC.
	ListNonDeleted(ctx context.Context) ([]*workspace.Workspace, error)

	// UpdateConditions batch-writes the three condition objects for
	// the given workspace ids. OB is the only caller; last_transition
	// time must not regress (callers compute that before calling in).
	UpdateConditions(ctx context.Context, updates []ConditionUpdate) error

	// ClaimOperation is the I2 idempotency anchor: it sets
	// operation/op_id/op_started_at only if the row's operation is
	// still NONE (or already equals op with the same op_id, for
	// retries), using an optimistic WHERE clause. It returns the op_id
	// actually in effect after the call (which may be one a
	// concurrent caller already claimed).
	ClaimOperation(ctx context.Context, id string, op workspace.Operation, opID string, startedAt time.Time) (claimedOpID string, err error)

	// CompleteOperation clears operation bookkeeping on success and
	// optionally persists a newly produced archive key (I4: it only
	// matches the row while op_id is still in effect, so a key is
	// written at most once per op_id).
	CompleteOperation(ctx context.Context, id, opID string, archiveKey *string) error

	// FailOperation records a failure classification. If clearOperation
	// is true, operation/op_id/op_started_at are reset so Plan can
	// decide the next step fresh; otherwise the operation is left in
	// flight for a retry on the next tick.
	FailOperation(ctx context.Context, id, opID string, reason workspace.ErrorReason, errorCount int, clearOperation bool) error

	// SetPhase persists WC's judged phase (and bumps phase_changed_at
	// only when the phase actually changed).
	SetPhase(ctx context.Context, id string, phase workspace.Phase, changedAt time.Time) error

	// SetDesiredState is called by the API (user intent) and the TTL
	// scheduler (demotions). WC never calls this.
	SetDesiredState(ctx context.Context, id string, desired workspace.DesiredState) error

	// TouchLastAccess bumps last_access_at for the activity flush
	// path, with set-if-greater semantics enforced by the UPDATE
	// itself (an older at never replaces a newer value).
	TouchLastAccess(ctx context.Context, id string, at time.Time) error

	// SoftDelete sets deleted_at if not already set.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// ListLiveArchiveKeys returns every non-null archive_key for rows
	// with deleted_at IS NULL, the GC "never delete a referenced key"
	// retention set.
	ListLiveArchiveKeys(ctx context.Context) ([]string, error)

	// ListTTLCandidates returns non-deleted workspaces eligible for
	// TTL evaluation: operation=NONE AND phase IN (RUNNING, STANDBY).
	ListTTLCandidates(ctx context.Context) ([]*workspace.Workspace, error)

	// ClearErrorAndReassertDesiredState implements the "try again" user
	// remediation path (original_source's core/errors.py "actionable
	// retry" mapping): it clears error_reason/error_count and re-writes
	// desired_state to its current value, which is enough to make WC
	// re-evaluate Plan on the next tick instead of leaving a
	// terminal-error workspace stuck until TTL or a phase-affecting
	// column changes again.
	ClearErrorAndReassertDesiredState(ctx context.Context, id string) error

	// Close releases the underlying connection/pool.
	Close() error
}

// ConditionUpdate is one OB batch-update entry.
type ConditionUpdate struct {
	WorkspaceID string
	Conditions  workspace.Conditions
	ObservedAt  time.Time
}
