// Package plan implements the second reconciliation phase: given a
// workspace's judged phase, its in-flight operation bookkeeping, and
// its desired state, decide what Execute should do next. Like judge,
// Plan is a pure function over its Input; all side effects (timeout
// classification aside) belong to Execute.
package plan

import (
	"time"

	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
)

// Input captures everything Plan needs to decide the next step. Phase
// is assumed already computed by judge.Judge for this tick.
type Input struct {
	Phase        workspace.Phase
	Operation    workspace.Operation
	DesiredState workspace.DesiredState
	ErrorReason  *workspace.ErrorReason
	ErrorCount   int
	OpStartedAt  *time.Time
	Now          time.Time
	PerOpTimeout time.Duration
}

// Kind discriminates the shape of a Decision.
type Kind int

const (
	// KindNoOp: nothing to do this tick; phase already matches intent
	// or WC must wait for external state to change (terminal error,
	// ERROR phase holding against a non-RUNNING desired state).
	KindNoOp Kind = iota
	// KindKeepWaiting: an operation is in flight and has not timed
	// out; Execute should re-invoke the Runtime with the same op_id.
	KindKeepWaiting
	// KindTimeout: the in-flight operation exceeded PerOpTimeout;
	// Execute must clear it and record error_reason=Timeout.
	KindTimeout
	// KindStart: no operation is in flight; start the named one.
	KindStart
)

// Decision is Plan's single output: what Execute should do, and which
// operation to start when Kind == KindStart.
type Decision struct {
	Kind      Kind
	Operation workspace.Operation
}

var noOp = Decision{Kind: KindNoOp}

// transitionTable is the (phase, desired_state) -> operation table
// from the spec, section 4.3.2. A missing entry means "no operation"
// (the table's "—" cells).
var transitionTable = map[workspace.Phase]map[workspace.DesiredState]workspace.Operation{
	workspace.PhasePending: {
		workspace.DesiredRunning:  workspace.OperationProvisioning,
		workspace.DesiredStandby:  workspace.OperationProvisioning,
		workspace.DesiredArchived: workspace.OperationCreateEmptyArchive,
		workspace.DesiredDeleted:  workspace.OperationDeleting,
	},
	workspace.PhaseArchived: {
		workspace.DesiredRunning: workspace.OperationRestoring,
		workspace.DesiredStandby: workspace.OperationRestoring,
		workspace.DesiredDeleted: workspace.OperationDeleting,
	},
	workspace.PhaseStandby: {
		workspace.DesiredRunning:  workspace.OperationStarting,
		workspace.DesiredArchived: workspace.OperationArchiving,
		workspace.DesiredDeleted:  workspace.OperationDeleting,
	},
	workspace.PhaseRunning: {
		workspace.DesiredStandby:  workspace.OperationStopping,
		workspace.DesiredArchived: workspace.OperationStopping,
		workspace.DesiredDeleted:  workspace.OperationStopping,
	},
	workspace.PhaseError: {
		workspace.DesiredDeleted: workspace.OperationDeleting,
	},
}

// Plan decides the next reconciliation step for one workspace, in
// strict priority order:
//
//  1. An operation already in flight: check its deadline. Past
//     PerOpTimeout, report KindTimeout; otherwise KindKeepWaiting.
//  2. A terminal error reason: KindNoOp for as long as it stays
//     recorded, whatever desired_state says (Execute never
//     auto-clears a terminal error); the only exception is ERROR
//     phase with desired_state DELETED, handled just before.
//  3. The (phase, desired_state) transition table.
//
// RUNNING -> ARCHIVED and RUNNING -> DELETED are intentionally
// two-step: this call only ever plans STOPPING for a RUNNING
// workspace; the next tick re-enters Plan with phase=STANDBY and
// picks up ARCHIVING or DELETING from there.
func Plan(in Input) Decision {
	if in.Operation != workspace.OperationNone {
		if in.OpStartedAt != nil && in.Now.Sub(*in.OpStartedAt) > in.PerOpTimeout {
			return Decision{Kind: KindTimeout}
		}
		return Decision{Kind: KindKeepWaiting, Operation: in.Operation}
	}

	// DELETED always proceeds out of ERROR, terminal or not: the
	// spec's ERROR|DELETED cell is unconditionally DELETING, with no
	// terminal-error carve-out (spec.md section 4.3.2, section 8
	// scenario 3), since a user must always be able to delete a
	// workspace stuck in a terminal error.
	if in.Phase == workspace.PhaseError && in.DesiredState == workspace.DesiredDeleted {
		return Decision{Kind: KindStart, Operation: workspace.OperationDeleting}
	}

	if in.ErrorReason != nil && in.ErrorReason.IsTerminal() {
		return noOp
	}

	// The spec's ERROR row additionally allows a retry toward RUNNING
	// when the current error is non-terminal; every other desired
	// state just waits.
	if in.Phase == workspace.PhaseError && in.DesiredState == workspace.DesiredRunning {
		if in.ErrorReason != nil {
			return Decision{Kind: KindStart, Operation: workspace.OperationProvisioning}
		}
		return noOp
	}

	row, ok := transitionTable[in.Phase]
	if !ok {
		return noOp
	}
	op, ok := row[in.DesiredState]
	if !ok {
		return noOp
	}
	return Decision{Kind: KindStart, Operation: op}
}
