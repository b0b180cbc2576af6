package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryGrants implements GrantStore with in-process concurrency safety.
// It backs tests and the storeless dev mode; production uses the pg store.
type InMemoryGrants struct {
	mu     sync.RWMutex
	grants map[string]Grant
}

var _ GrantStore = (*InMemoryGrants)(nil)

func NewInMemoryGrants() *InMemoryGrants {
	return &InMemoryGrants{grants: make(map[string]Grant)}
}

func (s *InMemoryGrants) Create(ctx context.Context, g *Grant) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: grant without id", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.grants[g.ID]; exists {
		return fmt.Errorf("%w: grant %s already exists", ErrInvalidInput, g.ID)
	}
	s.grants[g.ID] = *g
	return nil
}

func (s *InMemoryGrants) Find(ctx context.Context, id string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}
	out := g
	return &out, nil
}

func (s *InMemoryGrants) ListForUser(ctx context.Context, userID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out, nil
}

func (s *InMemoryGrants) ListForHierarchy(ctx context.Context, hierarchyID string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Grant
	for _, g := range s.grants {
		if g.HierarchyID == hierarchyID {
			out = append(out, g)
		}
	}
	sortGrants(out)
	return out, nil
}

func (s *InMemoryGrants) Update(ctx context.Context, g *Grant) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: grant without id", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[g.ID]; !ok {
		return fmt.Errorf("%w: grant %s", ErrNotFound, g.ID)
	}
	s.grants[g.ID] = *g
	return nil
}

func (s *InMemoryGrants) Revoke(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return fmt.Errorf("%w: grant %s", ErrNotFound, id)
	}
	if g.RevokedAt == nil {
		g.RevokedAt = &at
		s.grants[id] = g
	}
	return nil
}

func sortGrants(grants []Grant) {
	sort.Slice(grants, func(i, j int) bool {
		if !grants[i].GrantedAt.Equal(grants[j].GrantedAt) {
			return grants[i].GrantedAt.Before(grants[j].GrantedAt)
		}
		return grants[i].ID < grants[j].ID
	})
}
