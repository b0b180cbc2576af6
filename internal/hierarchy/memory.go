package hierarchy

import (
	"context"
	"sync"
	"time"

	"strata.org/internal/ids"
)

// MemoryStore holds the live tree behind a lock and hands out deep-copied
// snapshots, so a resolution never observes a move half-applied. It backs
// tests and the storeless dev mode; production uses the pg store.
type MemoryStore struct {
	mu   sync.RWMutex
	tree *Tree
	now  func() time.Time
}

func NewMemoryStore(nodes []*Node) (*MemoryStore, error) {
	tree, err := NewTree(nodes)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{tree: tree, now: time.Now}, nil
}

// Snapshot returns an independent copy of the current tree.
func (s *MemoryStore) Snapshot(ctx context.Context) (*Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := s.tree.Nodes()
	copies := make([]*Node, len(nodes))
	for i, n := range nodes {
		copies[i] = cloneNode(n)
	}
	return NewTree(copies)
}

// CreateNode adds a child under parentID, or a new root when parentID is
// empty.
func (s *MemoryStore) CreateNode(ctx context.Context, parentID, segment, name string, metadata map[string]string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	node := &Node{
		ID:        ids.NewPrefixed("org"),
		ParentID:  parentID,
		Name:      name,
		IsActive:  true,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tree.Add(node, segment); err != nil {
		return nil, err
	}
	return cloneNode(node), nil
}

// MoveNode reparents a node, rewriting its subtree's paths atomically.
func (s *MemoryStore) MoveNode(ctx context.Context, nodeID, newParentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Move(nodeID, newParentID, s.now().UTC())
}

// SetNodeActive flips the soft-delete flag.
func (s *MemoryStore) SetNodeActive(ctx context.Context, nodeID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.SetActive(nodeID, active, s.now().UTC())
}

// Node returns a copy of one node.
func (s *MemoryStore) Node(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.tree.Node(id)
	if err != nil {
		return nil, err
	}
	return cloneNode(n), nil
}

func cloneNode(n *Node) *Node {
	out := *n
	out.Path = n.Path.Clone()
	if n.Metadata != nil {
		out.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
