package hierarchy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Separator joins path segments in the stored text form, e.g.
// "australia.sydney.bondi".
const Separator = "."

// Path is the materialized path of a node: the ordered segment codes from the
// root down to the node itself. Ancestor and descendant checks are plain
// prefix comparisons over segments, so they cost O(path length) regardless of
// tree size.
type Path []string

// ParsePath converts the stored text form into a Path. Segments are
// lower-cased; empty segments and stray separators are rejected.
func ParsePath(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(raw, Separator)
	p := make(Path, 0, len(parts))
	for _, seg := range parts {
		seg, err := NormalizeSegment(seg)
		if err != nil {
			return nil, err
		}
		p = append(p, seg)
	}
	return p, nil
}

// NormalizeSegment validates and canonicalizes a single path segment.
func NormalizeSegment(seg string) (string, error) {
	seg = strings.ToLower(strings.TrimSpace(seg))
	if seg == "" {
		return "", fmt.Errorf("%w: empty segment", ErrInvalidPath)
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return "", fmt.Errorf("%w: segment %q contains %q", ErrInvalidPath, seg, r)
		}
	}
	return seg, nil
}

func (p Path) String() string {
	return strings.Join(p, Separator)
}

// MarshalJSON renders the path in its stored text form.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Path) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePath(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Level is the depth of the node; roots are level 0.
func (p Path) Level() int {
	return len(p) - 1
}

// Last returns the node's own segment.
func (p Path) Last() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Parent returns the path without its final segment, or nil for a root.
func (p Path) Parent() Path {
	if len(p) <= 1 {
		return nil
	}
	return p[:len(p)-1]
}

// Child returns a new path extended by one segment.
func (p Path) Child(segment string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = segment
	return out
}

func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is p itself or one of its ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) == 0 || len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the path.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}
