package hierarchy

import "errors"

var (
	ErrNotFound         = errors.New("hierarchy: node not found")
	ErrCycle            = errors.New("hierarchy: move would create a cycle")
	ErrDuplicateSegment = errors.New("hierarchy: sibling segment already exists")
	ErrInvalidPath      = errors.New("hierarchy: invalid path")
	ErrInvalidInput     = errors.New("hierarchy: invalid input")
)
