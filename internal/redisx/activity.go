package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const activityKey = "workspace:activity"

// ActivityStore tracks each workspace's most recent access time in an
// external sorted set (score = unix epoch seconds), scored with
// set-if-greater semantics so an out-of-order flush can never regress
// a newer timestamp. The TTL scheduler reads it; per-process activity
// buffers flush into it independently of leadership.
type ActivityStore struct {
	client *redis.Client
}

func NewActivityStore(client *redis.Client) *ActivityStore {
	return &ActivityStore{client: client}
}

// Bump records workspaceID's activity at at, only if at is newer than
// whatever score is already stored (or nothing is stored yet).
func (a *ActivityStore) Bump(ctx context.Context, workspaceID string, at time.Time) error {
	_, err := a.client.ZAddArgs(ctx, activityKey, redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: float64(at.Unix()), Member: workspaceID}},
	}).Result()
	if err != nil {
		return fmt.Errorf("redisx: bump activity %s: %w", workspaceID, err)
	}
	return nil
}

// LastAccess returns the stored last-access time for workspaceID, or
// the zero time and ok=false if nothing has been recorded.
func (a *ActivityStore) LastAccess(ctx context.Context, workspaceID string) (time.Time, bool, error) {
	score, err := a.client.ZScore(ctx, activityKey, workspaceID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redisx: last access %s: %w", workspaceID, err)
	}
	return time.Unix(int64(score), 0), true, nil
}

// BufferedWriter accumulates Bump calls in memory and flushes them in
// one pipelined batch. Each control-plane process owns one;
// flushing never requires leadership, since every replica's buffer is
// independent.
type BufferedWriter struct {
	store  *ActivityStore
	pending map[string]time.Time
}

func NewBufferedWriter(store *ActivityStore) *BufferedWriter {
	return &BufferedWriter{store: store, pending: make(map[string]time.Time)}
}

// Record buffers a local access observation; it does not touch Redis.
func (w *BufferedWriter) Record(workspaceID string, at time.Time) {
	if existing, ok := w.pending[workspaceID]; !ok || at.After(existing) {
		w.pending[workspaceID] = at
	}
}

// Flush pipelines every buffered entry to Redis with GT semantics and
// clears the buffer. It returns the number of entries flushed.
func (w *BufferedWriter) Flush(ctx context.Context) (int, error) {
	if len(w.pending) == 0 {
		return 0, nil
	}

	pipe := w.store.client.Pipeline()
	for id, at := range w.pending {
		pipe.ZAddArgs(ctx, activityKey, redis.ZAddArgs{
			GT:      true,
			Members: []redis.Z{{Score: float64(at.Unix()), Member: id}},
		})
	}
	n := len(w.pending)
	w.pending = make(map[string]time.Time)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redisx: flush activity buffer: %w", err)
	}
	return n, nil
}
