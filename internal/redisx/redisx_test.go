package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestWakeBus_PublishSubscribe(t *testing.T) {
	client := newTestClient(t)
	bus := NewWakeBus(client)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, WakeWC)
	defer sub.Close()

	// give the subscription a moment to register with miniredis
	time.Sleep(20 * time.Millisecond)

	_, err := bus.Publish(ctx, WakeWC)
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		require.Equal(t, "wake", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for wake")
	}
}

func TestSubscription_DrainCoalesces(t *testing.T) {
	client := newTestClient(t)
	bus := NewWakeBus(client)
	ctx := context.Background()

	sub := bus.Subscribe(ctx, WakeOB)
	defer sub.Close()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		_, err := bus.Publish(ctx, WakeOB)
		require.NoError(t, err)
	}
	time.Sleep(50 * time.Millisecond)

	require.True(t, sub.Drain())
	require.False(t, sub.Drain(), "second drain should find nothing pending")
}

func TestEventStream_PublishUpdateAndRead(t *testing.T) {
	client := newTestClient(t)
	stream := NewEventStream(client, 100)
	ctx := context.Background()

	reason := "Unreachable"
	_, err := stream.PublishUpdate(ctx, "user-1", Update{ID: "ws-1", Name: "w", Phase: "ERROR", ErrorReason: &reason})
	require.NoError(t, err)

	reader := NewReader(client, "user-1", "0", 100*time.Millisecond, 10)
	entries, err := reader.Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, string(entries[0].Data), `"ws-1"`)
}

func TestEventStream_PublishDeleted(t *testing.T) {
	client := newTestClient(t)
	stream := NewEventStream(client, 100)
	ctx := context.Background()

	_, err := stream.PublishDeleted(ctx, "user-1", "ws-1")
	require.NoError(t, err)

	reader := NewReader(client, "user-1", "0", 100*time.Millisecond, 10)
	entries, err := reader.Read(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, string(entries[0].Data), `"deleted":true`)
}

func TestActivityStore_SetIfGreater(t *testing.T) {
	client := newTestClient(t)
	store := NewActivityStore(client)
	ctx := context.Background()

	newer := time.Unix(2000, 0)
	older := time.Unix(1000, 0)

	require.NoError(t, store.Bump(ctx, "ws-1", newer))
	require.NoError(t, store.Bump(ctx, "ws-1", older))

	got, ok, err := store.LastAccess(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newer.Unix(), got.Unix(), "an older flush must never regress a newer timestamp")
}

func TestBufferedWriter_FlushesLatestPerWorkspace(t *testing.T) {
	client := newTestClient(t)
	store := NewActivityStore(client)
	writer := NewBufferedWriter(store)
	ctx := context.Background()

	writer.Record("ws-1", time.Unix(1000, 0))
	writer.Record("ws-1", time.Unix(3000, 0))
	writer.Record("ws-1", time.Unix(2000, 0))

	n, err := writer.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, ok, err := store.LastAccess(ctx, "ws-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3000), got.Unix())
}
