package ttlscheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagojeiger/codehub-controlplane/internal/store"
	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
)

type fakeStore struct {
	store.Store
	rows    []*workspace.Workspace
	demoted map[string]workspace.DesiredState
}

func (f *fakeStore) ListTTLCandidates(ctx context.Context) ([]*workspace.Workspace, error) {
	return f.rows, nil
}

func (f *fakeStore) SetDesiredState(ctx context.Context, id string, desired workspace.DesiredState) error {
	if f.demoted == nil {
		f.demoted = map[string]workspace.DesiredState{}
	}
	f.demoted[id] = desired
	return nil
}

type fakeActivity struct {
	lastAccess map[string]time.Time
}

func (f *fakeActivity) LastAccess(ctx context.Context, workspaceID string) (time.Time, bool, error) {
	t, ok := f.lastAccess[workspaceID]
	return t, ok, nil
}

func at(d time.Duration) *time.Time {
	t := time.Now().Add(-d)
	return &t
}

func TestScheduler_DemotesIdleRunning(t *testing.T) {
	fs := &fakeStore{rows: []*workspace.Workspace{{
		ID: "ws-1", Phase: workspace.PhaseRunning, DesiredState: workspace.DesiredRunning,
	}}}
	act := &fakeActivity{lastAccess: map[string]time.Time{"ws-1": time.Now().Add(-10 * time.Minute)}}
	s := New(fs, act, 5*time.Minute, 30*time.Minute, time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, workspace.DesiredStandby, fs.demoted["ws-1"])
}

func TestScheduler_LeavesActiveRunningAlone(t *testing.T) {
	fs := &fakeStore{rows: []*workspace.Workspace{{
		ID: "ws-1", Phase: workspace.PhaseRunning, DesiredState: workspace.DesiredRunning,
	}}}
	act := &fakeActivity{lastAccess: map[string]time.Time{"ws-1": time.Now().Add(-1 * time.Minute)}}
	s := New(fs, act, 5*time.Minute, 30*time.Minute, time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, fs.demoted)
}

func TestScheduler_ArchivesStaleStandby(t *testing.T) {
	fs := &fakeStore{rows: []*workspace.Workspace{{
		ID: "ws-1", Phase: workspace.PhaseStandby, DesiredState: workspace.DesiredStandby,
		PhaseChangedAt: at(time.Hour),
	}}}
	act := &fakeActivity{}
	s := New(fs, act, 5*time.Minute, 30*time.Minute, time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	assert.Equal(t, workspace.DesiredArchived, fs.demoted["ws-1"])
}

func TestScheduler_SkipsAlreadyRequestedDemotion(t *testing.T) {
	fs := &fakeStore{rows: []*workspace.Workspace{{
		ID: "ws-1", Phase: workspace.PhaseRunning, DesiredState: workspace.DesiredStandby,
	}}}
	act := &fakeActivity{lastAccess: map[string]time.Time{"ws-1": time.Now().Add(-time.Hour)}}
	s := New(fs, act, 5*time.Minute, 30*time.Minute, time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, fs.demoted)
}

func TestScheduler_NoRecordedActivityNeverDemotes(t *testing.T) {
	fs := &fakeStore{rows: []*workspace.Workspace{{
		ID: "ws-1", Phase: workspace.PhaseRunning, DesiredState: workspace.DesiredRunning,
	}}}
	act := &fakeActivity{}
	s := New(fs, act, 5*time.Minute, 30*time.Minute, time.Minute)
	require.NoError(t, s.Tick(context.Background()))
	assert.Empty(t, fs.demoted)
}
