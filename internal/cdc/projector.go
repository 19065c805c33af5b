package cdc

import (
	"context"
	"fmt"

	"github.com/cagojeiger/codehub-controlplane/internal/redisx"
	"github.com/cagojeiger/codehub-controlplane/internal/store"
	"github.com/cagojeiger/codehub-controlplane/internal/workspace"
)

// StoreProjector implements Projector by re-reading the workspace row
// and taking the minimal fields the SSE stream contract needs.
type StoreProjector struct {
	Store store.Store
}

func (p *StoreProjector) Project(ctx context.Context, workspaceID string) (redisx.Update, error) {
	w, err := p.Store.Get(ctx, workspaceID)
	if err != nil {
		return redisx.Update{}, fmt.Errorf("cdc: project %s: %w", workspaceID, err)
	}
	return toUpdate(w), nil
}

func toUpdate(w *workspace.Workspace) redisx.Update {
	var errReason *string
	if w.ErrorReason != nil {
		s := string(*w.ErrorReason)
		errReason = &s
	}
	return redisx.Update{
		ID:          w.ID,
		Phase:       string(w.Phase),
		Operation:   string(w.Operation),
		ErrorReason: errReason,
		ArchiveKey:  w.ArchiveKey,
		UpdatedAt:   w.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}
