package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagojeiger/codehub-controlplane/internal/runtimeclient"
	"github.com/cagojeiger/codehub-controlplane/internal/store"
)

type fakeStore struct {
	store.Store
	liveKeys []string
}

func (f *fakeStore) ListLiveArchiveKeys(ctx context.Context) ([]string, error) {
	return f.liveKeys, nil
}

type fakeRuntime struct {
	gotProtected []runtimeclient.ProtectedRef
	deletedCount int
	deletedKeys  []string
	err          error
}

func (f *fakeRuntime) RunGC(ctx context.Context, protected []runtimeclient.ProtectedRef) (int, []string, error) {
	f.gotProtected = protected
	return f.deletedCount, f.deletedKeys, f.err
}

func TestGC_Tick_SendsProtectedRefsParsedFromLiveKeys(t *testing.T) {
	fs := &fakeStore{liveKeys: []string{"c1/ws-1/op-1/home.tar.zst", "c1/ws-2/op-2/home.tar.zst"}}
	rt := &fakeRuntime{deletedCount: 1, deletedKeys: []string{"c1/ws-3/op-3/home.tar.zst"}}
	g := New(fs, rt, time.Hour)

	require.NoError(t, g.Tick(context.Background()))
	assert.Equal(t, []runtimeclient.ProtectedRef{
		{WorkspaceID: "ws-1", OpID: "op-1"},
		{WorkspaceID: "ws-2", OpID: "op-2"},
	}, rt.gotProtected)
}

func TestGC_Tick_NoLiveKeysStillCallsRunGCWithEmptyProtectedSet(t *testing.T) {
	fs := &fakeStore{liveKeys: nil}
	rt := &fakeRuntime{}
	g := New(fs, rt, time.Hour)

	require.NoError(t, g.Tick(context.Background()))
	assert.Empty(t, rt.gotProtected)
}

func TestGC_Tick_SkipsMalformedArchiveKeys(t *testing.T) {
	fs := &fakeStore{liveKeys: []string{"not-a-valid-key"}}
	rt := &fakeRuntime{}
	g := New(fs, rt, time.Hour)

	require.NoError(t, g.Tick(context.Background()))
	assert.Empty(t, rt.gotProtected)
}

func TestGC_Tick_PropagatesRunGCError(t *testing.T) {
	fs := &fakeStore{}
	rt := &fakeRuntime{err: assert.AnError}
	g := New(fs, rt, time.Hour)

	err := g.Tick(context.Background())
	require.Error(t, err)
}
