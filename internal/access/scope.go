package access

import (
	"context"
	"time"

	"strata.org/internal/hierarchy"
)

// Scope is the complete reachability picture for one grant set: every node
// the holder can see and the effective role at each. It also remembers, per
// anchor node, how the coverage was granted; the filter builder needs that to
// collapse the scope back down to the size of the grant list.
type Scope struct {
	Nodes map[string]*hierarchy.Node
	Roles map[string]Role

	anchors map[string]anchorRoles
}

// anchorRoles records the strongest inheritable and non-inheritable grant
// anchored at one node.
type anchorRoles struct {
	inherit Role
	exact   Role
}

// Contains reports whether the node is reachable at all.
func (s *Scope) Contains(nodeID string) bool {
	_, ok := s.Roles[nodeID]
	return ok
}

// RoleFor returns the effective role at the node, or RoleNone when the node
// is outside the scope.
func (s *Scope) RoleFor(nodeID string) Role {
	return s.Roles[nodeID]
}

// Len returns the number of reachable nodes.
func (s *Scope) Len() int {
	return len(s.Roles)
}

// ScopeOptions tweaks scope computation.
type ScopeOptions struct {
	// IncludeInactive keeps soft-deleted nodes and their subtrees in the
	// result. Default is to skip them.
	IncludeInactive bool
}

// Calculator expands a grant set into a full access scope over one tree
// snapshot. Like the resolver it is a pure function over the snapshot.
type Calculator struct {
	tree *hierarchy.Tree
}

func NewCalculator(tree *hierarchy.Tree) *Calculator {
	return &Calculator{tree: tree}
}

// ComputeScope walks every effective grant, pulling in the anchor node and,
// for inheritable grants, the anchor's whole subtree. A node reachable via
// several grants keeps the maximum role. The walk checks ctx between nodes so
// a timed-out request can abandon a full-tree expansion early.
func (c *Calculator) ComputeScope(ctx context.Context, grants []Grant, at time.Time, opts ScopeOptions) (*Scope, error) {
	scope := &Scope{
		Nodes:   make(map[string]*hierarchy.Node),
		Roles:   make(map[string]Role),
		anchors: make(map[string]anchorRoles),
	}
	for _, g := range grants {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !g.EffectiveAt(at) {
			continue
		}
		anchor, err := c.tree.Node(g.HierarchyID)
		if err != nil {
			continue
		}
		if !anchor.IsActive && !opts.IncludeInactive {
			continue
		}
		scope.include(anchor, g.Role)
		ar := scope.anchors[anchor.ID]
		if g.InheritToDescendants {
			ar.inherit = maxRole(ar.inherit, g.Role)
		} else {
			ar.exact = maxRole(ar.exact, g.Role)
		}
		scope.anchors[anchor.ID] = ar

		if !g.InheritToDescendants {
			continue
		}
		if err := c.expand(ctx, scope, anchor, g.Role, opts); err != nil {
			return nil, err
		}
	}
	return scope, nil
}

// expand adds the subtree below anchor. Inactive nodes cut off their whole
// branch unless inactive inclusion was requested.
func (c *Calculator) expand(ctx context.Context, scope *Scope, anchor *hierarchy.Node, role Role, opts ScopeOptions) error {
	var walk func(node *hierarchy.Node) error
	walk = func(node *hierarchy.Node) error {
		for _, child := range c.tree.Children(node) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !child.IsActive && !opts.IncludeInactive {
				continue
			}
			scope.include(child, role)
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(anchor)
}

func (s *Scope) include(node *hierarchy.Node, role Role) {
	s.Nodes[node.ID] = node
	s.Roles[node.ID] = maxRole(s.Roles[node.ID], role)
}
