// Package cdc implements the CDC Listener + Wake Fan-out + SSE
// publisher (spec.md section 4.6): the single leader instance holding
// a Postgres LISTEN connection on the three change-notification
// channels, routing each one to the Redis wake bus or the per-owner
// SSE event stream.
//
// Grounded on original_source's cdc.py dispatch table (channel name
// -> handler) and on lib/pq's Listener type, which the teacher's
// go.mod already carries for this exact LISTEN/NOTIFY use case.
package cdc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/cagojeiger/codehub-controlplane/internal/redisx"
	"github.com/cagojeiger/codehub-controlplane/internal/telemetry"
	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

const lockName = "cdc"

const (
	channelSSE     = "ws_sse"
	channelWake    = "ws_wake"
	channelDeleted = "ws_deleted"
)

// ssePayload is the {id, owner_user_id} notification body for
// ws_sse/ws_deleted.
type ssePayload struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
}

// Projector fetches the minimal workspace projection to publish to a
// owner's SSE stream after a ws_sse notification.
type Projector interface {
	Project(ctx context.Context, workspaceID string) (redisx.Update, error)
}

// Listener is the CDC coordinator. It runs under coordinator.Run like
// the other coordinators, but LISTEN is a blocking receive, so each
// Tick drains whatever notifications pq's Listener has already
// buffered, with a bounded wait for the first one.
type Listener struct {
	pqListener *pq.Listener
	wake       *redisx.WakeBus
	events     *redisx.EventStream
	projector  Projector
	interval   time.Duration
}

// New builds a Listener already subscribed to all three channels.
// dsn is a standalone connection string (the listener needs its own
// dedicated connection, separate from the pool the rest of the
// process uses).
func New(dsn string, wake *redisx.WakeBus, events *redisx.EventStream, projector Projector, interval time.Duration) (*Listener, error) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.WithCoordinator("cdc").Warn().Err(err).Msg("listener connection event")
		}
	}
	pl := pq.NewListener(dsn, 10*time.Second, time.Minute, reportProblem)
	for _, channel := range []string{channelSSE, channelWake, channelDeleted} {
		if err := pl.Listen(channel); err != nil {
			pl.Close()
			return nil, fmt.Errorf("cdc: listen %s: %w", channel, err)
		}
	}
	return &Listener{pqListener: pl, wake: wake, events: events, projector: projector, interval: interval}, nil
}

func (l *Listener) Name() string            { return "cdc" }
func (l *Listener) LockName() string        { return lockName }
func (l *Listener) Interval() time.Duration { return l.interval }

// Close releases the dedicated LISTEN connection.
func (l *Listener) Close() error {
	return l.pqListener.Close()
}

// Tick drains all currently-buffered notifications, blocking briefly
// for the first one so the coordinator loop does not spin.
func (l *Listener) Tick(ctx context.Context) error {
	select {
	case n := <-l.pqListener.Notify:
		if n != nil {
			l.handle(ctx, n)
		}
	case <-time.After(l.interval):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case n := <-l.pqListener.Notify:
			if n != nil {
				l.handle(ctx, n)
			}
		default:
			return nil
		}
	}
}

func (l *Listener) handle(ctx context.Context, n *pq.Notification) {
	logger := log.WithCoordinator(l.Name())
	telemetry.CDCNotificationsTotal.WithLabelValues(n.Channel).Inc()

	switch n.Channel {
	case channelWake:
		l.wake.PublishAll(ctx, redisx.WakeWC, redisx.WakeOB)

	case channelSSE:
		l.publishSSE(ctx, n.Extra)

	case channelDeleted:
		l.publishDeleted(ctx, n.Extra)

	default:
		logger.Warn().Str("channel", n.Channel).Msg("unknown notification channel")
	}
}

func (l *Listener) publishSSE(ctx context.Context, payload string) {
	logger := log.WithCoordinator(l.Name())
	var p ssePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		logger.Error().Err(err).Msg("decode ws_sse payload failed")
		return
	}

	update, err := l.projector.Project(ctx, p.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		logger.Error().Err(err).Str("workspace_id", p.ID).Msg("project workspace failed")
		return
	}

	if _, err := l.events.PublishUpdate(ctx, p.OwnerUserID, update); err != nil {
		logger.Error().Err(err).Str("workspace_id", p.ID).Msg("publish sse update failed")
	}
}

func (l *Listener) publishDeleted(ctx context.Context, payload string) {
	logger := log.WithCoordinator(l.Name())
	var p ssePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		logger.Error().Err(err).Msg("decode ws_deleted payload failed")
		return
	}
	if _, err := l.events.PublishDeleted(ctx, p.OwnerUserID, p.ID); err != nil {
		logger.Error().Err(err).Str("workspace_id", p.ID).Msg("publish sse deletion failed")
	}
}
