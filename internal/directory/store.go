package directory

import (
	"context"

	"strata.org/internal/access"
)

// Store describes persistence operations required by the directory.
type Store interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	ListByHierarchy(ctx context.Context, hierarchyID string) ([]User, error)

	// ListByFilter returns users whose base node matches the covering-set
	// predicate, without re-deriving descendants per row. The implementation
	// translates prefix entries into path predicates.
	ListByFilter(ctx context.Context, filter access.Filter) ([]User, error)
}
