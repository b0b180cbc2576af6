package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"strata.org/internal/hierarchy"
	"strata.org/internal/ids"
	"strata.org/internal/obs"
)

// Service ties the pure resolution components to the tree and grant stores.
// Every operation fetches one snapshot up front and runs the resolution over
// it without further I/O, so concurrent calls never contend on shared state.
type Service struct {
	tree   TreeSource
	grants GrantStore
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(tree TreeSource, grants GrantStore, opts ...ServiceOption) (*Service, error) {
	if tree == nil || grants == nil {
		return nil, fmt.Errorf("%w: tree and grant stores are required", ErrInvalidInput)
	}
	s := &Service{tree: tree, grants: grants, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authorize resolves the requester's access to a hierarchy node.
func (s *Service) Authorize(ctx context.Context, requesterID, targetNodeID string) (Verdict, error) {
	requesterID = strings.TrimSpace(requesterID)
	targetNodeID = strings.TrimSpace(targetNodeID)
	if requesterID == "" || targetNodeID == "" {
		return Verdict{}, fmt.Errorf("%w: requester and target are required", ErrInvalidInput)
	}
	tree, grants, err := s.snapshot(ctx, requesterID)
	if err != nil {
		return Verdict{}, err
	}
	verdict, err := NewResolver(tree).Resolve(grants, targetNodeID, s.now().UTC())
	obs.ObserveAuthzDecision(outcomeLabel(verdict, err))
	return verdict, err
}

// AuthorizeUser resolves the requester's access to another user through that
// user's base hierarchy node.
func (s *Service) AuthorizeUser(ctx context.Context, requesterID, targetBaseHierarchyID string) (Verdict, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return Verdict{}, fmt.Errorf("%w: requester is required", ErrInvalidInput)
	}
	tree, grants, err := s.snapshot(ctx, requesterID)
	if err != nil {
		return Verdict{}, err
	}
	verdict, err := NewResolver(tree).ResolveUserAccess(grants, targetBaseHierarchyID, s.now().UTC())
	obs.ObserveAuthzDecision(outcomeLabel(verdict, err))
	return verdict, err
}

// Scope computes the requester's full access scope.
func (s *Service) Scope(ctx context.Context, requesterID string, opts ScopeOptions) (*Scope, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester is required", ErrInvalidInput)
	}
	tree, grants, err := s.snapshot(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	scope, err := NewCalculator(tree).ComputeScope(ctx, grants, s.now().UTC(), opts)
	if err != nil {
		return nil, err
	}
	obs.ObserveScopeSize(scope.Len())
	return scope, nil
}

// Filter computes the covering-set predicate for the requester's scope.
func (s *Service) Filter(ctx context.Context, requesterID string, opts ScopeOptions) (Filter, error) {
	scope, err := s.Scope(ctx, requesterID, opts)
	if err != nil {
		return nil, err
	}
	return BuildFilter(scope), nil
}

// GrantRequest carries the caller-supplied fields of a new grant.
type GrantRequest struct {
	UserID               string
	HierarchyID          string
	Role                 Role
	InheritToDescendants bool
	ExpiresAt            *time.Time
	Metadata             map[string]string
}

// Issue creates a grant. The grantor must hold admin on the anchor node;
// nobody can hand out access they do not administer.
func (s *Service) Issue(ctx context.Context, grantedBy string, req GrantRequest) (*Grant, error) {
	grantedBy = strings.TrimSpace(grantedBy)
	req.UserID = strings.TrimSpace(req.UserID)
	req.HierarchyID = strings.TrimSpace(req.HierarchyID)
	if grantedBy == "" || req.UserID == "" || req.HierarchyID == "" {
		return nil, fmt.Errorf("%w: granted_by, user_id and hierarchy_id are required", ErrInvalidInput)
	}
	if !req.Role.Valid() {
		return nil, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	if err := s.requireAdmin(ctx, grantedBy, req.HierarchyID); err != nil {
		return nil, err
	}
	g := &Grant{
		ID:                   ids.NewPrefixed("grt"),
		UserID:               req.UserID,
		HierarchyID:          req.HierarchyID,
		Role:                 req.Role,
		InheritToDescendants: req.InheritToDescendants,
		GrantedBy:            grantedBy,
		GrantedAt:            now,
		ExpiresAt:            req.ExpiresAt,
		IsActive:             true,
		Metadata:             req.Metadata,
	}
	if err := s.grants.Create(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// GrantUpdate mutates role, expiry or inheritance of an existing grant.
// An update is a fresh evaluation of the same grant, not a new identity.
type GrantUpdate struct {
	Role                 *Role
	InheritToDescendants *bool
	ExpiresAt            *time.Time
	ClearExpiry          bool
}

// Amend applies a GrantUpdate. The actor must hold admin on the anchor.
func (s *Service) Amend(ctx context.Context, actorID, grantID string, upd GrantUpdate) (*Grant, error) {
	g, err := s.grants.Find(ctx, strings.TrimSpace(grantID))
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, strings.TrimSpace(actorID), g.HierarchyID); err != nil {
		return nil, err
	}
	if upd.Role != nil {
		if !upd.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role", ErrInvalidInput)
		}
		g.Role = *upd.Role
	}
	if upd.InheritToDescendants != nil {
		g.InheritToDescendants = *upd.InheritToDescendants
	}
	if upd.ClearExpiry {
		g.ExpiresAt = nil
	} else if upd.ExpiresAt != nil {
		g.ExpiresAt = upd.ExpiresAt
	}
	if err := s.grants.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Revoke terminates a grant by setting revoked_at. The record stays.
func (s *Service) Revoke(ctx context.Context, actorID, grantID string) error {
	g, err := s.grants.Find(ctx, strings.TrimSpace(grantID))
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, strings.TrimSpace(actorID), g.HierarchyID); err != nil {
		return err
	}
	return s.grants.Revoke(ctx, g.ID, s.now().UTC())
}

// GrantsForUser lists grants held by a user, raw, including terminated ones.
func (s *Service) GrantsForUser(ctx context.Context, userID string) ([]Grant, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.grants.ListForUser(ctx, userID)
}

// ValidateBulkTargets checks that every target node sits inside the
// requester's scope before a bulk mutation begins. Either all targets pass or
// the whole batch is rejected.
func (s *Service) ValidateBulkTargets(ctx context.Context, requesterID string, nodeIDs []string) error {
	scope, err := s.Scope(ctx, requesterID, ScopeOptions{})
	if err != nil {
		return err
	}
	for _, id := range nodeIDs {
		if !scope.Contains(strings.TrimSpace(id)) {
			return fmt.Errorf("%w: node %s outside caller scope", ErrForbidden, id)
		}
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID, hierarchyID string) error {
	verdict, err := s.Authorize(ctx, actorID, hierarchyID)
	if err != nil {
		return err
	}
	if !verdict.Allowed || verdict.Role < RoleAdmin {
		return fmt.Errorf("%w: admin required on %s", ErrForbidden, hierarchyID)
	}
	return nil
}

func (s *Service) snapshot(ctx context.Context, requesterID string) (tree *hierarchy.Tree, grants []Grant, err error) {
	tree, err = s.tree.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	grants, err = s.grants.ListForUser(ctx, requesterID)
	if err != nil {
		return nil, nil, err
	}
	return tree, grants, nil
}

func outcomeLabel(v Verdict, err error) string {
	switch {
	case err != nil:
		return "error"
	case v.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}
