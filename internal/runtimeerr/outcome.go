// Package runtimeerr replaces exception-driven control flow around
// Runtime calls with an explicit result/variant type (spec.md section
// 9, design note on exception-driven control flow), so Execute
// classifies a call's outcome by switching on a Status rather than by
// catching distinct error types.
package runtimeerr

import "github.com/cagojeiger/codehub-controlplane/internal/workspace"

// Status discriminates how a Runtime call came back.
type Status int

const (
	// StatusOK: the call succeeded (including the idempotent
	// already-done variants like already_running/already_exists).
	StatusOK Status = iota
	// StatusInProgress: the Runtime accepted the job but it has not
	// finished; Execute leaves the operation in flight and retries
	// next tick with the same op_id.
	StatusInProgress
	// StatusTransient: a retryable failure (connection
	// refused/reset, volume-in-use). Execute increments error_count
	// and keeps the operation live, up to MAX_RETRIES.
	StatusTransient
	// StatusTerminal: a permanent failure (image missing, corrupted
	// archive, disk full). Execute clears the operation immediately.
	StatusTerminal
)

// Outcome is Execute's only input for deciding what to persist after
// a Runtime call: no panics, no typed exceptions, just this struct.
type Outcome struct {
	Status Status
	// Reason is set when Status is StatusTerminal; it is the
	// ErrorReason to persist.
	Reason workspace.ErrorReason
	// ArchiveKey is set by a successful run_archive/
	// create_empty_archive call.
	ArchiveKey *string
	// Err carries the underlying error for logging, regardless of
	// Status.
	Err error
}

func OK() Outcome {
	return Outcome{Status: StatusOK}
}

func OKWithArchiveKey(key string) Outcome {
	return Outcome{Status: StatusOK, ArchiveKey: &key}
}

func InProgress() Outcome {
	return Outcome{Status: StatusInProgress}
}

func Transient(err error) Outcome {
	return Outcome{Status: StatusTransient, Err: err}
}

func Terminal(reason workspace.ErrorReason, err error) Outcome {
	return Outcome{Status: StatusTerminal, Reason: reason, Err: err}
}
