package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"strata.org/internal/access"
)

// Grants is the access.GrantStore view over the shared pool.
type Grants struct {
	db *sql.DB
}

var _ access.GrantStore = (*Grants)(nil)

const grantColumns = `
	id, user_id, hierarchy_id, role, inherit_to_descendants,
	granted_by, granted_at, expires_at, revoked_at, is_active, metadata
`

func (s *Grants) Create(ctx context.Context, g *access.Grant) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: grant without id", access.ErrInvalidInput)
	}
	metaJSON, err := marshalMeta(g.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into grants (id, user_id, hierarchy_id, role, inherit_to_descendants,
			granted_by, granted_at, expires_at, is_active, metadata)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, g.ID, g.UserID, g.HierarchyID, g.Role.String(), g.InheritToDescendants,
		g.GrantedBy, g.GrantedAt.UTC(), nullIfZero(g.ExpiresAt), g.IsActive, metaJSON)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: grant %s already exists", access.ErrInvalidInput, g.ID)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: unknown node %s", access.ErrNotFound, g.HierarchyID)
			}
		}
		return err
	}
	return nil
}

func (s *Grants) Find(ctx context.Context, id string) (*access.Grant, error) {
	row := s.db.QueryRowContext(ctx, `select `+grantColumns+` from grants where id = $1`, id)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: grant %s", access.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Grants) ListForUser(ctx context.Context, userID string) ([]access.Grant, error) {
	return s.listGrants(ctx, `select `+grantColumns+` from grants where user_id = $1 order by granted_at, id`, userID)
}

func (s *Grants) ListForHierarchy(ctx context.Context, hierarchyID string) ([]access.Grant, error) {
	return s.listGrants(ctx, `select `+grantColumns+` from grants where hierarchy_id = $1 order by granted_at, id`, hierarchyID)
}

func (s *Grants) Update(ctx context.Context, g *access.Grant) error {
	if g == nil || g.ID == "" {
		return fmt.Errorf("%w: grant without id", access.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
		update grants
		set role = $2, inherit_to_descendants = $3, expires_at = $4, is_active = $5
		where id = $1
	`, g.ID, g.Role.String(), g.InheritToDescendants, nullIfZero(g.ExpiresAt), g.IsActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: grant %s", access.ErrNotFound, g.ID)
	}
	return nil
}

func (s *Grants) Revoke(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update grants set revoked_at = $2 where id = $1 and revoked_at is null
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if _, err := res.RowsAffected(); err != nil {
		return err
	}
	// Revoking an already revoked grant is a no-op, but an unknown id is not.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists (select 1 from grants where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: grant %s", access.ErrNotFound, id)
	}
	return nil
}

func (s *Grants) listGrants(ctx context.Context, query string, args ...any) ([]access.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanGrant(row rowScanner) (*access.Grant, error) {
	var (
		g       access.Grant
		role    string
		expires sql.NullTime
		revoked sql.NullTime
		rawMeta []byte
	)
	err := row.Scan(&g.ID, &g.UserID, &g.HierarchyID, &role, &g.InheritToDescendants,
		&g.GrantedBy, &g.GrantedAt, &expires, &revoked, &g.IsActive, &rawMeta)
	if err != nil {
		return nil, err
	}
	parsed, err := access.ParseRole(role)
	if err != nil {
		return nil, err
	}
	g.Role = parsed
	g.ExpiresAt = timePtr(expires)
	g.RevokedAt = timePtr(revoked)
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &g.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &g, nil
}
