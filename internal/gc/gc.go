// Package gc implements the Archive GC coordinator (spec.md section
// 4.5): a leader-only hourly sweep that tells the Runtime which
// (workspace_id, op_id) archive refs are still live, so the Runtime
// can delete every other archive object it holds.
//
// Grounded on the teacher's reconciler tick shape and on
// original_source's gc.py set-difference approach (subtract the live
// set from everything that exists, delete the remainder); the
// retention rule ("never delete a key referenced by any live row") is
// spec.md section 4.5 verbatim. Archive storage itself is an
// Agent-side Runtime capability (spec.md section 1, "Out of
// scope... Agent-side infrastructure drivers"), so GC never talks to
// S3 directly — it only computes the protected set and calls the
// Runtime's run_gc RPC (spec.md section 4.7).
package gc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cagojeiger/codehub-controlplane/internal/runtimeclient"
	"github.com/cagojeiger/codehub-controlplane/internal/store"
	"github.com/cagojeiger/codehub-controlplane/internal/telemetry"
	"github.com/cagojeiger/codehub-controlplane/pkg/log"
)

const lockName = "gc"

// RuntimeGC is the subset of runtimeclient.Client's API GC needs.
type RuntimeGC interface {
	RunGC(ctx context.Context, protected []runtimeclient.ProtectedRef) (deletedCount int, deletedKeys []string, err error)
}

var _ RuntimeGC = (*runtimeclient.Client)(nil)

// GC is the Archive GC coordinator.
type GC struct {
	store    store.Store
	runtime  RuntimeGC
	interval time.Duration
}

// New builds a GC.
func New(s store.Store, rt RuntimeGC, interval time.Duration) *GC {
	return &GC{store: s, runtime: rt, interval: interval}
}

func (g *GC) Name() string            { return "gc" }
func (g *GC) LockName() string        { return lockName }
func (g *GC) Interval() time.Duration { return g.interval }

// Tick computes the protected (workspace_id, op_id) set from every
// live archive_key and asks the Runtime to delete everything else it
// holds.
func (g *GC) Tick(ctx context.Context) error {
	logger := log.WithCoordinator(g.Name())

	liveKeys, err := g.store.ListLiveArchiveKeys(ctx)
	if err != nil {
		return fmt.Errorf("gc: list live archive keys: %w", err)
	}

	protected := make([]runtimeclient.ProtectedRef, 0, len(liveKeys))
	for _, key := range liveKeys {
		ref, ok := parseProtectedRef(key)
		if !ok {
			logger.Warn().Str("key", key).Msg("archive key does not match expected layout, skipping")
			continue
		}
		protected = append(protected, ref)
	}

	deletedCount, deletedKeys, err := g.runtime.RunGC(ctx, protected)
	if err != nil {
		return fmt.Errorf("gc: run_gc: %w", err)
	}

	if deletedCount > 0 {
		telemetry.GCDeletedArchivesTotal.Add(float64(deletedCount))
		logger.Info().Int("deleted_count", deletedCount).Strs("deleted_keys", deletedKeys).Msg("runtime deleted orphaned archives")
	}
	return nil
}

// parseProtectedRef extracts (workspace_id, op_id) from an archive key
// laid out as {cluster_id}/{workspace_id}/{op_id}/home.tar.zst, the
// layout the Runtime uses when it writes an archive (spec.md section
// 6).
func parseProtectedRef(archiveKey string) (runtimeclient.ProtectedRef, bool) {
	parts := strings.Split(archiveKey, "/")
	if len(parts) != 4 {
		return runtimeclient.ProtectedRef{}, false
	}
	return runtimeclient.ProtectedRef{WorkspaceID: parts[1], OpID: parts[2]}, true
}
