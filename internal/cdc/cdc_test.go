package cdc

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cagojeiger/codehub-controlplane/internal/redisx"
)

type fakeProjector struct {
	update redisx.Update
}

func (f *fakeProjector) Project(ctx context.Context, workspaceID string) (redisx.Update, error) {
	return f.update, nil
}

func newTestListener(t *testing.T, projector Projector) (*Listener, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	wake := redisx.NewWakeBus(client)
	events := redisx.NewEventStream(client, 100)
	return &Listener{wake: wake, events: events, projector: projector, interval: time.Second}, client
}

func TestHandle_WakeNotificationPublishesToBothTargets(t *testing.T) {
	l, client := newTestListener(t, &fakeProjector{})
	ctx := context.Background()

	subWC := redisx.NewWakeBus(client).Subscribe(ctx, redisx.WakeWC)
	defer subWC.Close()
	subOB := redisx.NewWakeBus(client).Subscribe(ctx, redisx.WakeOB)
	defer subOB.Close()
	time.Sleep(20 * time.Millisecond)

	l.handle(ctx, &pq.Notification{Channel: channelWake, Extra: "{}"})

	select {
	case <-subWC.Channel():
	case <-time.After(time.Second):
		t.Fatal("wc:wake not received")
	}
	select {
	case <-subOB.Channel():
	case <-time.After(time.Second):
		t.Fatal("ob:wake not received")
	}
}

func TestHandle_SSENotificationPublishesUpdate(t *testing.T) {
	projector := &fakeProjector{update: redisx.Update{ID: "ws-1", Phase: "RUNNING"}}
	l, client := newTestListener(t, projector)
	ctx := context.Background()
	_ = client

	l.handle(ctx, &pq.Notification{Channel: channelSSE, Extra: `{"id":"ws-1","owner_user_id":"user-1"}`})

	reader := redisx.NewReader(client, "user-1", "0", 0, 10)
	entries, err := reader.Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandle_DeletedNotificationAppendsEntry(t *testing.T) {
	l, client := newTestListener(t, &fakeProjector{})
	ctx := context.Background()

	l.handle(ctx, &pq.Notification{Channel: channelDeleted, Extra: `{"id":"ws-1","owner_user_id":"user-1"}`})

	reader := redisx.NewReader(client, "user-1", "0", 0, 10)
	entries, err := reader.Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandle_UnknownChannelIsIgnored(t *testing.T) {
	l, _ := newTestListener(t, &fakeProjector{})
	ctx := context.Background()
	assert.NotPanics(t, func() {
		l.handle(ctx, &pq.Notification{Channel: "something_else", Extra: ""})
	})
}
