package access

import (
	"context"
	"time"

	"strata.org/internal/hierarchy"
)

// TreeSource produces an internally consistent snapshot of the hierarchy.
// Implementations must never expose a half-applied move; the resolution
// components trust the snapshot and do not re-validate it.
type TreeSource interface {
	Snapshot(ctx context.Context) (*hierarchy.Tree, error)
}

// GrantStore is the persistence boundary for permission grants. Revocation
// and expiry only flip state; rows are never required to disappear.
type GrantStore interface {
	Create(ctx context.Context, g *Grant) error
	Find(ctx context.Context, id string) (*Grant, error)
	ListForUser(ctx context.Context, userID string) ([]Grant, error)
	ListForHierarchy(ctx context.Context, hierarchyID string) ([]Grant, error)
	Update(ctx context.Context, g *Grant) error
	Revoke(ctx context.Context, id string, at time.Time) error
}
