// Package coordinator is the generic loop driver every leader-elected
// component (OB, WC, TTL, GC, CDC) runs under. It generalizes the
// teacher's reconciler.Reconciler ticker loop into a small interface
// with four operations (spec.md section 9 design note), so
// coordinator-specific behavior lives entirely in Tick and the driver
// itself never changes.
package coordinator

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cagojeiger/codehub-controlplane/internal/leader"
	"github.com/cagojeiger/codehub-controlplane/internal/redisx"
	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

// Coordinator is the behavior a loop driver needs: a name for
// logging, the advisory-lock name it elects under, the interval to
// sleep between ticks, and the tick body itself. Interval is
// re-read after every tick, so a coordinator like WC can report a
// shorter active interval while it has in-flight operations and a
// longer idle one otherwise (spec.md section 4.3, "Scheduling").
type Coordinator interface {
	Name() string
	LockName() string
	Interval() time.Duration
	Tick(ctx context.Context) error
}

// idleRetryInterval is how long a non-leader instance waits before
// attempting to acquire the lock again.
const idleRetryInterval = 5 * time.Second

// Run drives c's loop until ctx is cancelled: attempt leadership,
// sleep-and-retry while a follower, and while leading, tick on the
// coordinator's own interval or on a wake-bus message, with wakes
// coalesced so that any number of wakes queued during one tick only
// produce one extra tick. wake may be nil for a coordinator with no
// wake target of its own (TTL runs purely on its interval; CDC is
// itself the wake publisher), in which case Run ticks on Interval()
// alone.
func Run(ctx context.Context, c Coordinator, election *leader.Election, wake *redisx.Subscription) {
	logger := log.WithCoordinator(c.Name())
	logger.Info().Msg("coordinator starting")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("coordinator stopping: context cancelled")
			return
		default:
		}

		acquired, err := election.TryAcquire(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("leadership acquire failed")
			if !sleepOrDone(ctx, idleRetryInterval) {
				return
			}
			continue
		}
		if !acquired {
			if !sleepOrDone(ctx, idleRetryInterval) {
				return
			}
			continue
		}

		logger.Info().Msg("acquired leadership, entering tick loop")
		lostLeadership := runAsLeader(ctx, c, election, wake, logger)
		if !lostLeadership {
			// ctx was cancelled; shut down entirely.
			return
		}
		// Lost leadership (verify_holding failed); release and go
		// back to the acquire loop.
		if err := election.Release(ctx); err != nil {
			logger.Warn().Err(err).Msg("release after lost leadership failed")
		}
	}
}

// runAsLeader ticks until ctx is done (returns false, caller should
// stop entirely) or leadership is lost (returns true, caller retries
// acquire).
func runAsLeader(ctx context.Context, c Coordinator, election *leader.Election, wake *redisx.Subscription, logger zerolog.Logger) bool {
	ticker := time.NewTicker(c.Interval())
	defer ticker.Stop()

	// A nil wake channel blocks forever, so the select below simply
	// never takes that branch for a coordinator with no wake target.
	var wakeCh <-chan *redis.Message
	if wake != nil {
		wakeCh = wake.Channel()
	}

	for {
		select {
		case <-ctx.Done():
			return false

		case <-ticker.C:
			if !tickIfStillLeading(ctx, c, election, logger) {
				return true
			}
			ticker.Reset(c.Interval())

		case <-wakeCh:
			// Coalesce: drop any further wakes queued while we were
			// busy ticking, so N wakes in one window cost one extra
			// tick, not N.
			wake.Drain()
			if !tickIfStillLeading(ctx, c, election, logger) {
				return true
			}
			ticker.Reset(c.Interval())
		}
	}
}

// tickIfStillLeading re-verifies leadership before running Tick, to
// defend against split brain after a connection hiccup, then runs the
// coordinator's tick body. It returns false if leadership was lost.
func tickIfStillLeading(ctx context.Context, c Coordinator, election *leader.Election, logger zerolog.Logger) bool {
	held, err := election.VerifyHolding(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("verify_holding failed")
		return false
	}
	if !held {
		logger.Warn().Msg("leadership lost before tick")
		return false
	}

	if err := c.Tick(ctx); err != nil {
		logger.Error().Err(err).Msg("tick failed")
	}
	return true
}

// sleepOrDone waits for d or ctx cancellation, reporting whether the
// caller should keep looping (true) or stop (false, on cancellation).
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
