// Package observer implements the Bulk Observer (OB) coordinator
// (spec.md section 4.2): the single component that keeps every
// non-deleted workspace's conditions fresh using at most three
// Runtime calls per tick, regardless of how many workspaces exist.
//
// Grounded on the teacher's reconciler tick shape (one coordinator,
// one Tick method, no per-resource API call) generalized from
// per-node bulk state refresh to per-workspace condition refresh, and
// on original_source's observer.py bulk-list-then-diff algorithm for
// the last-transition-time bump-only-on-change rule.
package observer

import (
	"context"
	"fmt"
	"time"

	"github.com/cagojeiger/codehub-controlplane/internal/runtimeclient"
	"github.com/cagojeiger/codehub-controlplane/internal/store"
	"github.com/cagojeiger/codehub-controlplane/internal/telemetry"
	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

const lockName = "ob"

// Observer is the OB coordinator: it satisfies coordinator.Coordinator.
type Observer struct {
	store    store.Store
	runtime  *runtimeclient.Client
	prefix   string
	interval time.Duration
	now      func() time.Time
}

// New builds an Observer. prefix scopes the three Runtime bulk list
// calls to this cluster's resources.
func New(s store.Store, rt *runtimeclient.Client, prefix string, interval time.Duration) *Observer {
	return &Observer{store: s, runtime: rt, prefix: prefix, interval: interval, now: time.Now}
}

func (o *Observer) Name() string            { return "ob" }
func (o *Observer) LockName() string        { return lockName }
func (o *Observer) Interval() time.Duration { return o.interval }

// Tick implements the four-step algorithm from spec.md section 4.2.
// It never returns a fatal error for a partial Runtime failure: a
// failing dimension is folded into the computed conditions as
// Unreachable instead of aborting the tick, since the point of OB is
// to keep conditions eventually-fresh, not to guarantee every tick
// succeeds.
func (o *Observer) Tick(ctx context.Context) error {
	timer := telemetry.NewTimer()
	defer timer.ObserveDuration(telemetry.ObserverTickDuration)

	logger := log.WithCoordinator(o.Name())

	rows, err := o.store.ListNonDeleted(ctx)
	if err != nil {
		return fmt.Errorf("observer: list non-deleted: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	observation, obsErr := o.runtime.ObserveAll(ctx, o.prefix)
	if obsErr != nil {
		logger.Warn().Err(obsErr).Msg("observe_all failed, marking all dimensions unreachable")
	}

	now := o.now()
	updates := make([]store.ConditionUpdate, 0, len(rows))
	for _, w := range rows {
		next := computeConditions(w.Conditions, observation, obsErr, w.ID, now)
		updates = append(updates, store.ConditionUpdate{
			WorkspaceID: w.ID,
			Conditions:  next,
			ObservedAt:  now,
		})
	}

	if err := o.store.UpdateConditions(ctx, updates); err != nil {
		return fmt.Errorf("observer: update conditions: %w", err)
	}
	return nil
}

// computeConditions derives the next Conditions map for one workspace
// from the bulk observation, preserving last_transition_time when the
// status did not change (spec.md section 4.2 ordering policy).
func computeConditions(prev workspace.Conditions, obs runtimeclient.ObserveAllResult, obsErr error, id string, now time.Time) workspace.Conditions {
	next := make(workspace.Conditions, 3)

	next[workspace.ConditionContainerReady] = bump(
		prev[workspace.ConditionContainerReady],
		containerCondition(obs, obsErr, id),
		now,
	)
	next[workspace.ConditionVolumeReady] = bump(
		prev[workspace.ConditionVolumeReady],
		volumeCondition(obs, obsErr, id),
		now,
	)
	next[workspace.ConditionArchiveReady] = bump(
		prev[workspace.ConditionArchiveReady],
		archiveCondition(obs, obsErr, id),
		now,
	)

	return next
}

// bump returns next with last_transition_time carried over from prev
// when the status did not change, and set to now otherwise. This is
// the "must not regress" rule: a repeated observation of the same
// status never rewrites the timestamp.
func bump(prev, next workspace.Condition, now time.Time) workspace.Condition {
	if prev.Status == next.Status {
		next.LastTransitionTime = prev.LastTransitionTime
		if next.LastTransitionTime.IsZero() {
			next.LastTransitionTime = now
		}
		return next
	}
	next.LastTransitionTime = now
	return next
}

func containerCondition(obs runtimeclient.ObserveAllResult, obsErr error, id string) workspace.Condition {
	if obsErr != nil {
		return unreachable()
	}
	c, ok := obs.Containers[id]
	if !ok {
		return workspace.Condition{Status: workspace.StatusFalse, Reason: "NotFound", Message: "no container observed"}
	}
	if c.Running {
		return workspace.Condition{Status: workspace.StatusTrue, Reason: c.Reason, Message: c.Message}
	}
	return workspace.Condition{Status: workspace.StatusFalse, Reason: c.Reason, Message: c.Message}
}

func volumeCondition(obs runtimeclient.ObserveAllResult, obsErr error, id string) workspace.Condition {
	if obsErr != nil {
		return unreachable()
	}
	exists, ok := obs.Volumes[id]
	if !ok || !exists {
		return workspace.Condition{Status: workspace.StatusFalse, Reason: "NotFound", Message: "no volume observed"}
	}
	return workspace.Condition{Status: workspace.StatusTrue, Reason: "VolumePresent"}
}

func archiveCondition(obs runtimeclient.ObserveAllResult, obsErr error, id string) workspace.Condition {
	if obsErr != nil {
		return unreachable()
	}
	a, ok := obs.Archives[id]
	if !ok || a.LatestKey == "" {
		return workspace.Condition{Status: workspace.StatusFalse, Reason: "NotFound", Message: "no archive observed"}
	}
	if a.Reason == "ArchiveCorrupted" {
		return workspace.Condition{Status: workspace.StatusFalse, Reason: a.Reason, Message: "archive failed integrity check"}
	}
	return workspace.Condition{Status: workspace.StatusTrue, Reason: a.Reason, Message: a.LatestKey}
}

func unreachable() workspace.Condition {
	return workspace.Condition{Status: workspace.StatusFalse, Reason: "Unreachable", Message: "runtime observe_all failed"}
}
