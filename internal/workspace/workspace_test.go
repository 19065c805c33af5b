package workspace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorReason_IsTerminal(t *testing.T) {
	assert.True(t, ErrorTimeout.IsTerminal())
	assert.True(t, ErrorDataLost.IsTerminal())
	assert.True(t, ErrorImagePullFailed.IsTerminal())
	assert.True(t, ErrorContainerWithoutVolume.IsTerminal())
	assert.True(t, ErrorArchiveCorrupted.IsTerminal())
	assert.False(t, ErrorRetryExceeded.IsTerminal())
	assert.False(t, ErrorActionFailed.IsTerminal())
	assert.False(t, ErrorUnreachable.IsTerminal())
}

func TestCondition_IsTrue(t *testing.T) {
	assert.True(t, Condition{Status: StatusTrue}.IsTrue())
	assert.False(t, Condition{Status: StatusFalse}.IsTrue())
	assert.False(t, Condition{}.IsTrue())
}

func TestWorkspace_IsDeleted(t *testing.T) {
	w := &Workspace{}
	assert.False(t, w.IsDeleted())

	now := time.Now()
	w.DeletedAt = &now
	assert.True(t, w.IsDeleted())
}

func TestWorkspace_HasOperationInFlight(t *testing.T) {
	w := &Workspace{Operation: OperationNone}
	assert.False(t, w.HasOperationInFlight())

	w.Operation = OperationProvisioning
	assert.True(t, w.HasOperationInFlight())
}
