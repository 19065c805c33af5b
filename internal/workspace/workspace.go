// Package workspace defines the data model shared by every coordinator:
// the Workspace row, its enums, and the fixed condition keys that the
// Bulk Observer writes and the Workspace Controller reads.
package workspace

import "time"

// Phase is the derived lifecycle state of a workspace. It is always
// written by WC and, outside an in-flight operation, always equals
// Judge(conditions, deleted_at).phase.
type Phase string

const (
	PhasePending  Phase = "PENDING"
	PhaseArchived Phase = "ARCHIVED"
	PhaseStandby  Phase = "STANDBY"
	PhaseRunning  Phase = "RUNNING"
	PhaseError    Phase = "ERROR"
	PhaseDeleting Phase = "DELETING"
	PhaseDeleted  Phase = "DELETED"
)

// Operation is the in-flight state-changing action WC is driving, if
// any. At most one may be active per workspace (invariant I2).
type Operation string

const (
	OperationNone               Operation = "NONE"
	OperationProvisioning       Operation = "PROVISIONING"
	OperationRestoring          Operation = "RESTORING"
	OperationStarting           Operation = "STARTING"
	OperationStopping           Operation = "STOPPING"
	OperationArchiving          Operation = "ARCHIVING"
	OperationCreateEmptyArchive Operation = "CREATE_EMPTY_ARCHIVE"
	OperationDeleting           Operation = "DELETING"
)

// DesiredState is the user's declared intent, written only by the API
// and the TTL scheduler.
type DesiredState string

const (
	DesiredDeleted  DesiredState = "DELETED"
	DesiredArchived DesiredState = "ARCHIVED"
	DesiredStandby  DesiredState = "STANDBY"
	DesiredRunning  DesiredState = "RUNNING"
)

// ErrorReason classifies the last Execute failure.
type ErrorReason string

const (
	ErrorTimeout                 ErrorReason = "Timeout"
	ErrorRetryExceeded           ErrorReason = "RetryExceeded"
	ErrorActionFailed            ErrorReason = "ActionFailed"
	ErrorDataLost                ErrorReason = "DataLost"
	ErrorUnreachable             ErrorReason = "Unreachable"
	ErrorImagePullFailed         ErrorReason = "ImagePullFailed"
	ErrorContainerWithoutVolume  ErrorReason = "ContainerWithoutVolume"
	ErrorArchiveCorrupted        ErrorReason = "ArchiveCorrupted"
)

// terminalErrorReasons never auto-retry: WC starts no new operation
// while one of them is recorded, and changing desired_state alone
// does not clear it (store.ClearErrorAndReassertDesiredState does).
// The one exception is an ERROR-phase workspace whose desired_state
// is DELETED, which is always deleted.
var terminalErrorReasons = map[ErrorReason]bool{
	ErrorTimeout:                true,
	ErrorDataLost:               true,
	ErrorImagePullFailed:        true,
	ErrorContainerWithoutVolume: true,
	ErrorArchiveCorrupted:       true,
}

// IsTerminal reports whether reason requires user intervention rather
// than an automatic retry on the next WC tick.
func (r ErrorReason) IsTerminal() bool {
	return terminalErrorReasons[r]
}

// Condition keys are the fixed set OB writes and Judge reads. No other
// keys are defined or consulted.
const (
	ConditionContainerReady Key = "infra.container_ready"
	ConditionVolumeReady    Key = "storage.volume_ready"
	ConditionArchiveReady   Key = "storage.archive_ready"
)

// Key names one dimension of observed infrastructure state.
type Key string

// Status is the condition's boolean-as-string value, matching the
// Kubernetes-style "True"/"False" convention the source system uses.
type Status string

const (
	StatusTrue  Status = "True"
	StatusFalse Status = "False"
)

// Condition is a single named, timestamped true/false assertion about
// one resource dimension. OB is the only writer; last_transition_time
// must never regress and must not be bumped when the status is
// unchanged from the previous observation.
type Condition struct {
	Status             Status    `json:"status"`
	Reason             string    `json:"reason"`
	Message            string    `json:"message"`
	LastTransitionTime time.Time `json:"last_transition_time"`
}

// IsTrue reports whether the condition's status is "True".
func (c Condition) IsTrue() bool {
	return c.Status == StatusTrue
}

// Conditions is the full set of condition observations keyed by Key.
// A missing key is treated as absent/unknown, equivalent to False for
// Judge's purposes (see judge.FromWorkspace).
type Conditions map[Key]Condition

// Workspace is one row of the workspaces table: the single consensus
// point shared by every coordinator. Write ownership is partitioned by
// column so that no coordinator-to-coordinator lock is ever needed:
//
//   - operation, op_id, op_started_at: WC only.
//   - conditions, observed_at: OB only.
//   - desired_state, last_access_at, deleted_at: API and TTL only.
//   - phase, phase_changed_at, archive_key, error_reason, error_count: WC only.
type Workspace struct {
	ID            string
	OwnerUserID   string
	ImageRef      string
	HomeStoreKey  string
	Conditions    Conditions
	Phase         Phase
	Operation     Operation
	OpID          *string
	OpStartedAt   *time.Time
	DesiredState  DesiredState
	ArchiveKey    *string
	ObservedAt    *time.Time
	LastAccessAt  *time.Time
	PhaseChangedAt *time.Time
	ErrorReason   *ErrorReason
	ErrorCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// IsDeleted reports whether the workspace has been soft-deleted.
func (w *Workspace) IsDeleted() bool {
	return w.DeletedAt != nil
}

// HasOperationInFlight reports whether WC is mid-operation on this
// workspace (invariant I2: operation != NONE implies op_id and
// op_started_at are both set).
func (w *Workspace) HasOperationInFlight() bool {
	return w.Operation != OperationNone
}
