// Package ttlscheduler implements the TTL Scheduler coordinator
// (spec.md section 4.4): the leader-only sweep that demotes idle
// workspaces toward cheaper desired states. It only ever lowers
// desired_state (RUNNING->STANDBY, STANDBY->ARCHIVED); a user
// re-requesting RUNNING overrides a demotion on the next API write,
// which TTL never contends with since desired_state is one of the
// columns TTL and the API alone are allowed to write.
//
// Grounded on the teacher's reconciler tick shape, generalized from
// node-health sweeps to idleness sweeps, and on original_source's
// ttl.py threshold comparison (last_access_at / phase_changed_at
// against the two configured durations).
package ttlscheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cagojeiger/codehub-controlplane/internal/store"
	"github.com/cagojeiger/codehub-controlplane/internal/telemetry"
	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

const lockName = "ttl"

// ActivityReader is the subset of redisx.ActivityStore's API TTL
// needs: the external ordered-score key-value spec.md section 4.4
// describes, kept outside Postgres so proxy requests can bump it
// without touching the DB on every access.
type ActivityReader interface {
	LastAccess(ctx context.Context, workspaceID string) (time.Time, bool, error)
}

// Scheduler is the TTL coordinator.
type Scheduler struct {
	store      store.Store
	activity   ActivityReader
	standbyTTL time.Duration
	archiveTTL time.Duration
	interval   time.Duration
	now        func() time.Time
}

// New builds a Scheduler. standbyTTL is how long a RUNNING workspace
// may sit idle (by the activity store's last-access score) before
// being demoted to STANDBY; archiveTTL is how long a STANDBY
// workspace may sit (by phase_changed_at) before being demoted to
// ARCHIVED.
func New(s store.Store, activity ActivityReader, standbyTTL, archiveTTL, interval time.Duration) *Scheduler {
	return &Scheduler{store: s, activity: activity, standbyTTL: standbyTTL, archiveTTL: archiveTTL, interval: interval, now: time.Now}
}

func (s *Scheduler) Name() string            { return "ttl" }
func (s *Scheduler) LockName() string        { return lockName }
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Tick evaluates every operation=NONE, phase∈{RUNNING,STANDBY}
// workspace against its applicable threshold and demotes
// desired_state where the threshold has elapsed.
func (s *Scheduler) Tick(ctx context.Context) error {
	logger := log.WithCoordinator(s.Name())

	candidates, err := s.store.ListTTLCandidates(ctx)
	if err != nil {
		return fmt.Errorf("ttlscheduler: list candidates: %w", err)
	}

	now := s.now()
	for _, w := range candidates {
		demotion, err := s.evaluate(ctx, w, now)
		if err != nil {
			logger.Error().Err(err).Str("workspace_id", w.ID).Msg("evaluate ttl failed")
			continue
		}
		if demotion == "" {
			continue
		}
		if err := s.store.SetDesiredState(ctx, w.ID, workspace.DesiredState(demotion.target())); err != nil {
			logger.Error().Err(err).Str("workspace_id", w.ID).Msg("set desired state failed")
			continue
		}
		telemetry.TTLDemotionsTotal.WithLabelValues(string(demotion)).Inc()
	}
	return nil
}

// transition names one TTL demotion for metrics labelling.
type transition string

const (
	transitionNone              transition = ""
	transitionRunningToStandby  transition = "running_to_standby"
	transitionStandbyToArchived transition = "standby_to_archived"
)

func (t transition) target() workspace.DesiredState {
	switch t {
	case transitionRunningToStandby:
		return workspace.DesiredStandby
	case transitionStandbyToArchived:
		return workspace.DesiredArchived
	default:
		return ""
	}
}

// evaluate decides whether w has crossed its applicable TTL. Only
// workspaces already at their current desired_state are demoted
// further; a workspace the user has already requested down (e.g.
// RUNNING phase but desired_state already STANDBY) is left for WC to
// drive, not re-evaluated here.
func (s *Scheduler) evaluate(ctx context.Context, w *workspace.Workspace, now time.Time) (transition, error) {
	switch w.Phase {
	case workspace.PhaseRunning:
		if w.DesiredState != workspace.DesiredRunning {
			return transitionNone, nil
		}
		lastAccess, ok, err := s.activity.LastAccess(ctx, w.ID)
		if err != nil {
			return transitionNone, fmt.Errorf("lookup activity: %w", err)
		}
		if !ok || now.Sub(lastAccess) <= s.standbyTTL {
			return transitionNone, nil
		}
		return transitionRunningToStandby, nil

	case workspace.PhaseStandby:
		if w.DesiredState != workspace.DesiredStandby {
			return transitionNone, nil
		}
		if w.PhaseChangedAt == nil || now.Sub(*w.PhaseChangedAt) <= s.archiveTTL {
			return transitionNone, nil
		}
		return transitionStandbyToArchived, nil

	default:
		return transitionNone, nil
	}
}
