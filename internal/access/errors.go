package access

import "errors"

var (
	ErrNotFound     = errors.New("access: not found")
	ErrInvalidInput = errors.New("access: invalid input")
	ErrForbidden    = errors.New("access: forbidden")
)
