package directory

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("directory: user not found")
	ErrConflict     = errors.New("directory: email already registered")
	ErrInvalidInput = errors.New("directory: invalid input")
)

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// User is an account anchored to its base hierarchy node. Visibility of a
// user to others is decided solely through that node.
type User struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	HierarchyID  string            `json:"hierarchy_id"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// UserUpdate mutates selected user fields; nil means keep.
type UserUpdate struct {
	Email       *string
	Password    *string
	Status      *string
	HierarchyID *string
}
