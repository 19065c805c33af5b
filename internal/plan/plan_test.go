package plan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
)

func TestPlan_TransitionTable(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		name    string
		phase   workspace.Phase
		desired workspace.DesiredState
		want    Decision
	}{
		{"pending to running", workspace.PhasePending, workspace.DesiredRunning, Decision{Kind: KindStart, Operation: workspace.OperationProvisioning}},
		{"pending to standby", workspace.PhasePending, workspace.DesiredStandby, Decision{Kind: KindStart, Operation: workspace.OperationProvisioning}},
		{"pending to archived", workspace.PhasePending, workspace.DesiredArchived, Decision{Kind: KindStart, Operation: workspace.OperationCreateEmptyArchive}},
		{"pending to deleted", workspace.PhasePending, workspace.DesiredDeleted, Decision{Kind: KindStart, Operation: workspace.OperationDeleting}},
		{"archived to running", workspace.PhaseArchived, workspace.DesiredRunning, Decision{Kind: KindStart, Operation: workspace.OperationRestoring}},
		{"archived to archived noop", workspace.PhaseArchived, workspace.DesiredArchived, noOp},
		{"standby to running", workspace.PhaseStandby, workspace.DesiredRunning, Decision{Kind: KindStart, Operation: workspace.OperationStarting}},
		{"standby to standby noop", workspace.PhaseStandby, workspace.DesiredStandby, noOp},
		{"standby to archived", workspace.PhaseStandby, workspace.DesiredArchived, Decision{Kind: KindStart, Operation: workspace.OperationArchiving}},
		{"running to running noop", workspace.PhaseRunning, workspace.DesiredRunning, noOp},
		{"running to standby stops first", workspace.PhaseRunning, workspace.DesiredStandby, Decision{Kind: KindStart, Operation: workspace.OperationStopping}},
		{"running to archived stops first", workspace.PhaseRunning, workspace.DesiredArchived, Decision{Kind: KindStart, Operation: workspace.OperationStopping}},
		{"running to deleted stops first", workspace.PhaseRunning, workspace.DesiredDeleted, Decision{Kind: KindStart, Operation: workspace.OperationStopping}},
		{"error to deleted", workspace.PhaseError, workspace.DesiredDeleted, Decision{Kind: KindStart, Operation: workspace.OperationDeleting}},
		{"error to standby waits", workspace.PhaseError, workspace.DesiredStandby, noOp},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Plan(Input{Phase: tc.phase, DesiredState: tc.desired, Now: now, PerOpTimeout: 30 * time.Second})
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPlan_TerminalErrorWaits(t *testing.T) {
	reason := workspace.ErrorContainerWithoutVolume
	got := Plan(Input{
		Phase:        workspace.PhaseError,
		DesiredState: workspace.DesiredRunning,
		ErrorReason:  &reason,
		Now:          time.Unix(1_700_000_000, 0),
		PerOpTimeout: 30 * time.Second,
	})
	assert.Equal(t, noOp, got)
}

// TestPlan_TerminalErrorStillDeletes covers the live-path case: Judge
// only ever sets phase=ERROR via a terminal reason
// (ContainerWithoutVolume), so ErrorReason is always non-nil and
// always terminal whenever phase=ERROR in production. DELETED must
// still proceed unconditionally (spec.md section 4.3.2's ERROR|DELETED
// cell has no terminal-error carve-out).
func TestPlan_TerminalErrorStillDeletes(t *testing.T) {
	for _, reason := range []workspace.ErrorReason{
		workspace.ErrorTimeout,
		workspace.ErrorDataLost,
		workspace.ErrorImagePullFailed,
		workspace.ErrorContainerWithoutVolume,
		workspace.ErrorArchiveCorrupted,
	} {
		t.Run(string(reason), func(t *testing.T) {
			got := Plan(Input{
				Phase:        workspace.PhaseError,
				DesiredState: workspace.DesiredDeleted,
				ErrorReason:  &reason,
				Now:          time.Unix(1_700_000_000, 0),
				PerOpTimeout: 30 * time.Second,
			})
			assert.Equal(t, Decision{Kind: KindStart, Operation: workspace.OperationDeleting}, got)
		})
	}
}

func TestPlan_InFlightKeepsWaiting(t *testing.T) {
	started := time.Unix(1_700_000_000, 0)
	got := Plan(Input{
		Phase:        workspace.PhaseStandby,
		Operation:    workspace.OperationStarting,
		DesiredState: workspace.DesiredRunning,
		OpStartedAt:  &started,
		Now:          started.Add(10 * time.Second),
		PerOpTimeout: 30 * time.Second,
	})
	assert.Equal(t, Decision{Kind: KindKeepWaiting, Operation: workspace.OperationStarting}, got)
}

// TestPlan_TimeoutBoundary covers the boundary property from the
// spec: exactly at the deadline is not yet a timeout, strictly past
// it is.
func TestPlan_TimeoutBoundary(t *testing.T) {
	started := time.Unix(1_700_000_000, 0)

	atDeadline := Plan(Input{
		Phase:        workspace.PhaseStandby,
		Operation:    workspace.OperationStarting,
		DesiredState: workspace.DesiredRunning,
		OpStartedAt:  &started,
		Now:          started.Add(30 * time.Second),
		PerOpTimeout: 30 * time.Second,
	})
	assert.Equal(t, KindKeepWaiting, atDeadline.Kind)

	pastDeadline := Plan(Input{
		Phase:        workspace.PhaseStandby,
		Operation:    workspace.OperationStarting,
		DesiredState: workspace.DesiredRunning,
		OpStartedAt:  &started,
		Now:          started.Add(30*time.Second + time.Nanosecond),
		PerOpTimeout: 30 * time.Second,
	})
	assert.Equal(t, KindTimeout, pastDeadline.Kind)
}
