// Package judge implements the pure, total function that derives a
// workspace's phase from its observed conditions and delete marker.
// It is the single source of truth for Phase outside an in-flight
// operation (invariant I1) and never returns an error: every input is
// mapped to a defined output.
package judge

import "github.com/cagojeiger/codehub-controlplane/internal/workspace"

// Input is the pure-function argument: the three observed conditions
// plus the soft-delete marker. It intentionally carries no
// operation/phase fields — Judge must not see its own prior output.
type Input struct {
	ContainerReady bool
	VolumeReady    bool
	ArchiveReady   bool
	Deleted        bool
}

// FromWorkspace extracts Input from a workspace's stored conditions,
// treating any missing or non-"True" condition as false.
func FromWorkspace(w *workspace.Workspace) Input {
	return Input{
		ContainerReady: w.Conditions[workspace.ConditionContainerReady].IsTrue(),
		VolumeReady:    w.Conditions[workspace.ConditionVolumeReady].IsTrue(),
		ArchiveReady:   w.Conditions[workspace.ConditionArchiveReady].IsTrue(),
		Deleted:        w.IsDeleted(),
	}
}

// Output is the derived state: a phase, a health flag, and an
// optional error reason set only when Healthy is false.
type Output struct {
	Phase       workspace.Phase
	Healthy     bool
	ErrorReason *workspace.ErrorReason
}

// Judge computes (phase, healthy, error_reason) from conditions and
// the delete marker, in strict priority order:
//
//  1. Deleted overrides everything: DELETING if any resource remains,
//     else DELETED (invariant I5).
//  2. Invariant check: container_ready without volume_ready is fatal
//     (invariant I3) regardless of desired_state or operation.
//  3. Resource-based, highest available wins: container+volume ->
//     RUNNING; volume alone -> STANDBY; archive alone -> ARCHIVED;
//     otherwise PENDING.
//
// Two calls with equal Input always yield equal Output.
func Judge(in Input) Output {
	if in.Deleted {
		if in.ContainerReady || in.VolumeReady || in.ArchiveReady {
			return Output{Phase: workspace.PhaseDeleting, Healthy: true}
		}
		return Output{Phase: workspace.PhaseDeleted, Healthy: true}
	}

	if healthy, reason := checkInvariants(in); !healthy {
		return Output{Phase: workspace.PhaseError, Healthy: false, ErrorReason: &reason}
	}

	switch {
	case in.ContainerReady && in.VolumeReady:
		return Output{Phase: workspace.PhaseRunning, Healthy: true}
	case in.VolumeReady:
		return Output{Phase: workspace.PhaseStandby, Healthy: true}
	case in.ArchiveReady:
		return Output{Phase: workspace.PhaseArchived, Healthy: true}
	default:
		return Output{Phase: workspace.PhasePending, Healthy: true}
	}
}

// checkInvariants evaluates the invariants that must hold regardless
// of desired_state. Only I3 applies at Judge time today; additional
// invariants belong here, not scattered through Plan/Execute.
func checkInvariants(in Input) (healthy bool, reason workspace.ErrorReason) {
	if in.ContainerReady && !in.VolumeReady {
		return false, workspace.ErrorContainerWithoutVolume
	}
	return true, ""
}
