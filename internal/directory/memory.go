package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"strata.org/internal/access"
	"strata.org/internal/hierarchy"
)

// InMemory implements Store for tests and dev mode. It resolves base-node
// paths through the tree source so filter matching behaves like the SQL
// implementation.
type InMemory struct {
	mu    sync.RWMutex
	users map[string]User
	tree  access.TreeSource
}

var _ Store = (*InMemory)(nil)

func NewInMemory(tree access.TreeSource) *InMemory {
	return &InMemory{users: make(map[string]User), tree: tree}
}

func (s *InMemory) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: %s", ErrConflict, u.Email)
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := u
	return &out, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
}

func (s *InMemory) Update(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, u.ID)
	}
	s.users[u.ID] = *u
	return nil
}

func (s *InMemory) ListByHierarchy(ctx context.Context, hierarchyID string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.users {
		if u.HierarchyID == hierarchyID {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

func (s *InMemory) ListByFilter(ctx context.Context, filter access.Filter) ([]User, error) {
	tree, err := s.tree.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []User
	for _, u := range s.users {
		node, err := tree.Node(u.HierarchyID)
		if err != nil {
			continue
		}
		if !lineageActive(tree, node) {
			continue
		}
		if _, ok := filter.Match(node.Path); ok {
			out = append(out, u)
		}
	}
	sortUsers(out)
	return out, nil
}

// lineageActive reports whether the node and all its ancestors are active.
// An inactive node cuts its branch out of every scope, so the prefix match
// alone is not enough to prove visibility.
func lineageActive(tree *hierarchy.Tree, node *hierarchy.Node) bool {
	lineage, err := tree.Lineage(node)
	if err != nil {
		return false
	}
	for _, n := range lineage {
		if !n.IsActive {
			return false
		}
	}
	return true
}

func sortUsers(users []User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
