package access

import (
	"sort"

	"strata.org/internal/hierarchy"
)

// FilterEntry is one predicate of a covering set: a path prefix with the role
// it conveys. Exact entries match only the node itself (a grant without
// inheritance); prefix entries cover the node and its whole subtree.
type FilterEntry struct {
	Prefix hierarchy.Path `json:"prefix"`
	Role   Role           `json:"role"`
	Exact  bool           `json:"exact,omitempty"`
}

// Filter is a minimal covering set for an access scope, ordered by path. The
// reachable set itself can be as large as the tree; the filter stays
// proportional to the number of grants, which is what makes it usable as a
// query predicate over large user collections. Consumers apply
// longest-matching-prefix-wins.
type Filter []FilterEntry

// BuildFilter collapses a scope to its covering set. An entry survives when
// the node was granted without inheritance (listed exactly), when it roots a
// subtree no inheritable ancestor already covers, or when it carries a higher
// role than its covering ancestor and must override it.
func BuildFilter(scope *Scope) Filter {
	inheritByPath := make(map[string]Role, len(scope.anchors))
	for id, ar := range scope.anchors {
		if ar.inherit == RoleNone {
			continue
		}
		node := scope.Nodes[id]
		inheritByPath[node.Path.String()] = maxRole(inheritByPath[node.Path.String()], ar.inherit)
	}

	// Strongest inheritable coverage provided by strict ancestors of p.
	ancestorCover := func(p hierarchy.Path) Role {
		var best Role
		for i := 1; i < len(p); i++ {
			best = maxRole(best, inheritByPath[p[:i].String()])
		}
		return best
	}

	var out Filter
	for id, ar := range scope.anchors {
		node := scope.Nodes[id]
		cover := ancestorCover(node.Path)
		if ar.inherit > cover {
			out = append(out, FilterEntry{Prefix: node.Path.Clone(), Role: ar.inherit})
		}
		if ar.exact > maxRole(cover, ar.inherit) {
			out = append(out, FilterEntry{Prefix: node.Path.Clone(), Role: ar.exact, Exact: true})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Prefix.String(), out[j].Prefix.String()
		if pi != pj {
			return pi < pj
		}
		return !out[i].Exact && out[j].Exact
	})
	return out
}

// Match returns the role the filter yields for a path, applying
// longest-matching-prefix-wins with exact entries beating prefix entries of
// the same length.
func (f Filter) Match(p hierarchy.Path) (Role, bool) {
	var (
		best    Role
		bestLen = -1
		found   bool
	)
	for _, e := range f {
		if e.Exact {
			if !p.Equal(e.Prefix) {
				continue
			}
		} else if !p.HasPrefix(e.Prefix) {
			continue
		}
		l := len(e.Prefix)
		if l > bestLen || (l == bestLen && e.Role > best) {
			best = e.Role
			bestLen = l
			found = true
		}
	}
	return best, found
}
