package access

import (
	"fmt"
	"time"

	"strata.org/internal/hierarchy"
)

// AccessLevel reports where the winning coverage came from: a grant anchored
// on the target itself, or one inherited from an ancestor. It communicates
// grant locality, not magnitude; the magnitude is the effective role.
type AccessLevel string

const (
	AccessDirect    AccessLevel = "direct"
	AccessInherited AccessLevel = "inherited"
)

// Deny reasons. They describe the state of the denied party's own grants
// (expired grant, deactivated anchor, no grant at all), so they are safe to
// return to that party. They must not reach anyone else: told to a third
// party they hint at hierarchy the listener cannot see.
const (
	ReasonNoGrant           = "no_grant"
	ReasonExpired           = "expired"
	ReasonInactiveHierarchy = "inactive_hierarchy"
)

// Verdict is the outcome of a single resolution. A deny is a normal result,
// not an error: only structural problems (unknown target) surface as errors.
type Verdict struct {
	Allowed bool        `json:"allowed"`
	Role    Role        `json:"effective_role,omitempty"`
	Level   AccessLevel `json:"access_level,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// Resolver answers point access questions against one tree snapshot. It holds
// no mutable state; any number of resolutions may run concurrently over the
// same snapshot.
type Resolver struct {
	tree *hierarchy.Tree
}

func NewResolver(tree *hierarchy.Tree) *Resolver {
	return &Resolver{tree: tree}
}

// Resolve decides whether the holder of the given grants may access the
// target node at the given instant. The effective role is the maximum across
// every applicable grant, direct and inherited combined. An unknown or
// inactive target is an error so callers can tell "denied" from "gone".
func (r *Resolver) Resolve(grants []Grant, targetID string, at time.Time) (Verdict, error) {
	target, err := r.tree.Node(targetID)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: hierarchy %s", ErrNotFound, targetID)
	}
	if !target.IsActive {
		return Verdict{}, fmt.Errorf("%w: hierarchy %s is inactive", ErrNotFound, targetID)
	}

	var (
		best        Role
		haveDirect  bool
		haveAny     bool
		sawExpired  bool
		sawInactive bool
	)
	for _, g := range grants {
		anchor, err := r.tree.Node(g.HierarchyID)
		if err != nil {
			// Grant pointing at a node missing from the snapshot carries no
			// weight; the snapshot is authoritative.
			continue
		}
		direct := anchor.ID == target.ID
		inherited := g.InheritToDescendants && hierarchy.IsStrictDescendant(target, anchor)
		if !direct && !inherited {
			continue
		}
		if !anchor.IsActive {
			sawInactive = true
			continue
		}
		if !g.EffectiveAt(at) {
			sawExpired = true
			continue
		}
		haveAny = true
		best = maxRole(best, g.Role)
		if direct {
			haveDirect = true
		}
	}

	if !haveAny {
		reason := ReasonNoGrant
		switch {
		case sawExpired:
			reason = ReasonExpired
		case sawInactive:
			reason = ReasonInactiveHierarchy
		}
		return Verdict{Allowed: false, Reason: reason}, nil
	}

	level := AccessInherited
	if haveDirect {
		level = AccessDirect
	}
	return Verdict{Allowed: true, Role: best, Level: level}, nil
}

// ResolveUserAccess resolves access to another user. A user is reachable only
// through their base hierarchy node, never through other hierarchies they may
// be loosely associated with.
func (r *Resolver) ResolveUserAccess(grants []Grant, baseHierarchyID string, at time.Time) (Verdict, error) {
	if baseHierarchyID == "" {
		return Verdict{}, fmt.Errorf("%w: user has no base hierarchy", ErrNotFound)
	}
	return r.Resolve(grants, baseHierarchyID, at)
}
