package hierarchy

import (
	"fmt"
	"iter"
	"sort"
	"time"
)

// Tree is a snapshot of the organization hierarchy indexed for prefix lookups.
// The resolution components treat a Tree as immutable; the structural mutators
// (Add, Move, SetActive) exist for the in-memory store and for assembling
// snapshots, and are not safe for concurrent use with readers.
type Tree struct {
	byID   map[string]*Node
	byPath map[string]*Node
	kids   map[string][]*Node // parent ID -> children, sorted by segment
	roots  []*Node
}

// NewTree builds a snapshot from a flat node list and verifies the
// prefix-closure invariant: paths are unique, every non-root node's parent is
// present, and a node's path is its parent's path plus one segment.
func NewTree(nodes []*Node) (*Tree, error) {
	t := &Tree{
		byID:   make(map[string]*Node, len(nodes)),
		byPath: make(map[string]*Node, len(nodes)),
		kids:   make(map[string][]*Node),
	}
	for _, n := range nodes {
		if n == nil || n.ID == "" {
			return nil, fmt.Errorf("%w: node without id", ErrInvalidInput)
		}
		if len(n.Path) == 0 {
			return nil, fmt.Errorf("%w: node %s has no path", ErrInvalidInput, n.ID)
		}
		if _, dup := t.byID[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node id %s", ErrInvalidInput, n.ID)
		}
		if _, dup := t.byPath[n.Path.String()]; dup {
			return nil, fmt.Errorf("%w: duplicate path %s", ErrInvalidInput, n.Path)
		}
		t.byID[n.ID] = n
		t.byPath[n.Path.String()] = n
	}
	for _, n := range t.byID {
		if n.ParentID == "" {
			if len(n.Path) != 1 {
				return nil, fmt.Errorf("%w: root %s has path depth %d", ErrInvalidInput, n.ID, len(n.Path))
			}
			t.roots = append(t.roots, n)
			continue
		}
		parent, ok := t.byID[n.ParentID]
		if !ok {
			return nil, fmt.Errorf("%w: node %s references missing parent %s", ErrInvalidInput, n.ID, n.ParentID)
		}
		if len(n.Path) != len(parent.Path)+1 || !n.Path.HasPrefix(parent.Path) {
			return nil, fmt.Errorf("%w: node %s path %s does not extend parent path %s",
				ErrInvalidInput, n.ID, n.Path, parent.Path)
		}
		t.kids[parent.ID] = append(t.kids[parent.ID], n)
	}
	sortBySegment(t.roots)
	for _, siblings := range t.kids {
		sortBySegment(siblings)
	}
	return t, nil
}

func sortBySegment(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Segment() < nodes[j].Segment()
	})
}

// Len returns the number of nodes in the snapshot.
func (t *Tree) Len() int {
	return len(t.byID)
}

// Node returns the node with the given id.
func (t *Tree) Node(id string) (*Node, error) {
	n, ok := t.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n, nil
}

// NodeByPath returns the node at the given materialized path.
func (t *Tree) NodeByPath(p Path) (*Node, error) {
	n, ok := t.byPath[p.String()]
	if !ok {
		return nil, fmt.Errorf("%w: path %s", ErrNotFound, p)
	}
	return n, nil
}

// Roots returns the top-level nodes ordered by segment.
func (t *Tree) Roots() []*Node {
	out := make([]*Node, len(t.roots))
	copy(out, t.roots)
	return out
}

// Children returns the direct children of node ordered by segment.
func (t *Tree) Children(node *Node) []*Node {
	siblings := t.kids[node.ID]
	out := make([]*Node, len(siblings))
	copy(out, siblings)
	return out
}

// Lineage returns the chain of nodes from the root down to node inclusive.
func (t *Tree) Lineage(node *Node) ([]*Node, error) {
	out := make([]*Node, 0, len(node.Path))
	for i := 1; i <= len(node.Path); i++ {
		ancestor, ok := t.byPath[node.Path[:i].String()]
		if !ok {
			return nil, fmt.Errorf("%w: missing ancestor %s of %s", ErrNotFound, node.Path[:i], node.ID)
		}
		out = append(out, ancestor)
	}
	return out, nil
}

// Descendants yields every strict descendant of node in depth-first segment
// order. The sequence is lazy and restartable; callers stop it by breaking out
// of the range loop, which is how scope computations honor cancellation.
func (t *Tree) Descendants(node *Node) iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		stack := make([]*Node, 0, len(t.kids[node.ID]))
		push := func(children []*Node) {
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
		push(t.kids[node.ID])
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(n) {
				return
			}
			push(t.kids[n.ID])
		}
	}
}

// IsDescendantOrEqual reports whether a is b or sits anywhere below b.
func IsDescendantOrEqual(a, b *Node) bool {
	return a.Path.HasPrefix(b.Path)
}

// IsStrictDescendant reports whether a sits strictly below b.
func IsStrictDescendant(a, b *Node) bool {
	return len(a.Path) > len(b.Path) && a.Path.HasPrefix(b.Path)
}

// Add creates a node under the given parent with its own path segment. An
// empty ParentID creates a new root. The segment must not collide with an
// existing sibling.
func (t *Tree) Add(node *Node, segment string) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("%w: node without id", ErrInvalidInput)
	}
	if _, exists := t.byID[node.ID]; exists {
		return fmt.Errorf("%w: node id %s already present", ErrInvalidInput, node.ID)
	}
	segment, err := NormalizeSegment(segment)
	if err != nil {
		return err
	}
	if node.ParentID == "" {
		node.Path = Path{segment}
	} else {
		parent, ok := t.byID[node.ParentID]
		if !ok {
			return fmt.Errorf("%w: parent %s", ErrNotFound, node.ParentID)
		}
		node.Path = parent.Path.Child(segment)
	}
	if _, taken := t.byPath[node.Path.String()]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateSegment, node.Path)
	}
	t.byID[node.ID] = node
	t.byPath[node.Path.String()] = node
	if node.ParentID == "" {
		t.roots = append(t.roots, node)
		sortBySegment(t.roots)
	} else {
		t.kids[node.ParentID] = append(t.kids[node.ParentID], node)
		sortBySegment(t.kids[node.ParentID])
	}
	return nil
}

// Move reparents a node. The whole subtree is rewritten with the new path
// prefix in one step: every check that can fail happens before the first
// index update, so a failed move leaves the tree untouched.
func (t *Tree) Move(nodeID, newParentID string, now time.Time) error {
	node, ok := t.byID[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	parent, ok := t.byID[newParentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNotFound, newParentID)
	}
	if IsDescendantOrEqual(parent, node) {
		return fmt.Errorf("%w: %s under %s", ErrCycle, node.Path, parent.Path)
	}
	if node.ParentID == parent.ID {
		return nil
	}
	newPath := parent.Path.Child(node.Segment())
	if _, taken := t.byPath[newPath.String()]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateSegment, newPath)
	}

	oldDepth := len(node.Path)
	subtree := []*Node{node}
	for d := range t.Descendants(node) {
		subtree = append(subtree, d)
	}
	for _, n := range subtree {
		delete(t.byPath, n.Path.String())
	}
	t.detachFromParent(node)
	for _, n := range subtree {
		rewritten := append(newPath.Clone(), n.Path[oldDepth:]...)
		n.Path = rewritten
		n.UpdatedAt = now
		t.byPath[n.Path.String()] = n
	}
	node.ParentID = parent.ID
	t.kids[parent.ID] = append(t.kids[parent.ID], node)
	sortBySegment(t.kids[parent.ID])
	return nil
}

// SetActive flips the soft-delete flag on a node.
func (t *Tree) SetActive(nodeID string, active bool, now time.Time) error {
	node, ok := t.byID[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	node.IsActive = active
	node.UpdatedAt = now
	return nil
}

// Nodes returns every node in the snapshot in path order.
func (t *Tree) Nodes() []*Node {
	out := make([]*Node, 0, len(t.byID))
	for _, n := range t.byID {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path.String() < out[j].Path.String()
	})
	return out
}

func (t *Tree) detachFromParent(node *Node) {
	if node.ParentID == "" {
		t.roots = removeNode(t.roots, node)
		return
	}
	t.kids[node.ParentID] = removeNode(t.kids[node.ParentID], node)
}

func removeNode(nodes []*Node, target *Node) []*Node {
	for i, n := range nodes {
		if n == target {
			return append(nodes[:i], nodes[i+1:]...)
		}
	}
	return nodes
}
