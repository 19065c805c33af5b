package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const streamPrefix = "events:"

func streamKey(ownerUserID string) string {
	return streamPrefix + ownerUserID
}

// EventStream is the bounded per-owner SSE event log: a Redis stream
// keyed by owner, trimmed to MaxLen entries, that the CDC listener
// appends to and the SSE HTTP layer reads from.
type EventStream struct {
	client *redis.Client
	// MaxLen bounds each owner's stream (spec.md default: 100).
	MaxLen int64
}

func NewEventStream(client *redis.Client, maxLen int64) *EventStream {
	return &EventStream{client: client, MaxLen: maxLen}
}

// Update is the workspace projection serialized into the stream on a
// ws_sse notification.
type Update struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Phase       string  `json:"phase"`
	Operation   string  `json:"operation"`
	ErrorReason *string `json:"error_reason,omitempty"`
	ArchiveKey  *string `json:"archive_key,omitempty"`
	UpdatedAt   string  `json:"updated_at"`
}

// PublishUpdate appends an Update entry and returns its stream id.
func (s *EventStream) PublishUpdate(ctx context.Context, ownerUserID string, update Update) (string, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return "", fmt.Errorf("redisx: marshal update: %w", err)
	}
	return s.xadd(ctx, ownerUserID, payload)
}

// PublishDeleted appends a {id, deleted:true} entry on a ws_deleted
// notification.
func (s *EventStream) PublishDeleted(ctx context.Context, ownerUserID, workspaceID string) (string, error) {
	payload, err := json.Marshal(map[string]any{"id": workspaceID, "deleted": true})
	if err != nil {
		return "", fmt.Errorf("redisx: marshal deleted: %w", err)
	}
	return s.xadd(ctx, ownerUserID, payload)
}

func (s *EventStream) xadd(ctx context.Context, ownerUserID string, payload []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(ownerUserID),
		MaxLen: s.MaxLen,
		Approx: true,
		Values: map[string]any{"data": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redisx: xadd %s: %w", ownerUserID, err)
	}
	return id, nil
}

// Entry is one stream record as handed back to an SSE reader.
type Entry struct {
	ID   string
	Data []byte
}

// Reader reads one owner's stream for the SSE HTTP layer, resuming
// from a client-supplied last-seen id or "$" (new entries only).
type Reader struct {
	client  *redis.Client
	owner   string
	lastID  string
	block   time.Duration
	count   int64
}

// NewReader starts a Reader at lastID ("$" for new-only, or a
// previously observed entry id to resume after reconnect).
func NewReader(client *redis.Client, ownerUserID, lastID string, block time.Duration, count int64) *Reader {
	if lastID == "" {
		lastID = "$"
	}
	return &Reader{client: client, owner: ownerUserID, lastID: lastID, block: block, count: count}
}

// Read blocks up to r.block waiting for new entries and returns
// whatever arrived (possibly none, on a heartbeat timeout). It
// advances the reader's cursor so the next call only sees later
// entries.
func (r *Reader) Read(ctx context.Context) ([]Entry, error) {
	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{streamKey(r.owner), r.lastID},
		Block:   r.block,
		Count:   r.count,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisx: xread %s: %w", r.owner, err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values["data"].(string)
			entries = append(entries, Entry{ID: msg.ID, Data: []byte(raw)})
			r.lastID = msg.ID
		}
	}
	return entries, nil
}
