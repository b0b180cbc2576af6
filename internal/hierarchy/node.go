package hierarchy

import "time"

// Node is one position in the organization tree. ParentID is empty for roots.
// Metadata is an opaque bag passed through storage untouched; nothing in the
// resolution logic inspects it.
type Node struct {
	ID        string            `json:"id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Name      string            `json:"name"`
	Path      Path              `json:"path"`
	IsActive  bool              `json:"is_active"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Level is the node depth; roots are level 0.
func (n *Node) Level() int {
	return n.Path.Level()
}

// Segment is the node's own path segment.
func (n *Node) Segment() string {
	return n.Path.Last()
}
