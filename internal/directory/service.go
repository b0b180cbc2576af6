package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"strata.org/internal/access"
	"strata.org/internal/auth"
	"strata.org/internal/ids"
)

// Service provides user account operations with input normalization; the
// store stays dumb. Construction mirrors the rest of the codebase: explicit
// dependencies, no package-level state.
type Service struct {
	store Store
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("directory store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create registers a user under a base hierarchy node.
func (s *Service) Create(ctx context.Context, email, password, hierarchyID string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hierarchyID = strings.TrimSpace(hierarchyID)
	if hierarchyID == "" {
		return nil, fmt.Errorf("%w: hierarchy_id is required", ErrInvalidInput)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &User{
		ID:           ids.NewPrefixed("usr"),
		Email:        email,
		PasswordHash: hash,
		HierarchyID:  hierarchyID,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Find returns a user by id.
func (s *Service) Find(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Find(ctx, id)
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	u, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return nil, err
		}
		u.Email = email
	}
	if upd.Password != nil {
		if strings.TrimSpace(*upd.Password) == "" {
			return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := auth.HashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}
	if upd.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*upd.Status))
		if status != StatusActive && status != StatusDisabled {
			return nil, fmt.Errorf("%w: unsupported status %s", ErrInvalidInput, status)
		}
		u.Status = status
	}
	if upd.HierarchyID != nil {
		hid := strings.TrimSpace(*upd.HierarchyID)
		if hid == "" {
			return nil, fmt.Errorf("%w: hierarchy_id is required", ErrInvalidInput)
		}
		u.HierarchyID = hid
	}
	u.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Disable soft-deletes an account.
func (s *Service) Disable(ctx context.Context, id string) error {
	status := StatusDisabled
	_, err := s.Update(ctx, id, UserUpdate{Status: &status})
	return err
}

// Authenticate verifies credentials and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, auth.ErrUnauthorized
	}
	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, auth.ErrUnauthorized
	}
	if u.Status != StatusActive {
		return nil, auth.ErrUnauthorized
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, auth.ErrUnauthorized
	}
	return u, nil
}

// ListVisible returns the users inside the requester's covering filter. The
// heavy lifting happens in the store so listings stay proportional to the
// result, not to the tree.
func (s *Service) ListVisible(ctx context.Context, filter access.Filter) ([]User, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	return s.store.ListByFilter(ctx, filter)
}

// ListByHierarchy returns the users anchored directly at one node.
func (s *Service) ListByHierarchy(ctx context.Context, hierarchyID string) ([]User, error) {
	hierarchyID = strings.TrimSpace(hierarchyID)
	if hierarchyID == "" {
		return nil, fmt.Errorf("%w: hierarchy_id is required", ErrInvalidInput)
	}
	return s.store.ListByHierarchy(ctx, hierarchyID)
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}
