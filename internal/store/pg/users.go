package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"strata.org/internal/access"
	"strata.org/internal/directory"
)

// Users is the directory.Store view over the shared pool.
type Users struct {
	db *sql.DB
}

var _ directory.Store = (*Users)(nil)

const userColumns = `
	u.id, u.email, u.password_hash, u.hierarchy_id, u.status, u.metadata, u.created_at, u.updated_at
`

func (s *Users) Create(ctx context.Context, u *directory.User) error {
	metaJSON, err := marshalMeta(u.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, hierarchy_id, status, metadata, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.PasswordHash, u.HierarchyID, u.Status, metaJSON, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return fmt.Errorf("%w: %s", directory.ErrConflict, u.Email)
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: unknown node %s", directory.ErrInvalidInput, u.HierarchyID)
			}
		}
		return err
	}
	return nil
}

func (s *Users) Find(ctx context.Context, id string) (*directory.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where u.id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Users) FindByEmail(ctx context.Context, email string) (*directory.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users u where u.email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", directory.ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Users) Update(ctx context.Context, u *directory.User) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set email = $2, password_hash = $3, hierarchy_id = $4, status = $5, updated_at = $6
		where id = $1
	`, u.ID, u.Email, u.PasswordHash, u.HierarchyID, u.Status, u.UpdatedAt.UTC())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: %s", directory.ErrConflict, u.Email)
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", directory.ErrNotFound, u.ID)
	}
	return nil
}

func (s *Users) ListByHierarchy(ctx context.Context, hierarchyID string) ([]directory.User, error) {
	return s.listUsers(ctx, `select `+userColumns+` from users u where u.hierarchy_id = $1 order by u.id`, hierarchyID)
}

// ListByFilter translates the covering set into path predicates over the
// base-node join, so visibility listing is one indexed query regardless of
// how deep the scope reaches. An inactive node cuts its whole branch out of
// a scope, so the base node and every ancestor must still be active for the
// prefix match to count.
func (s *Users) ListByFilter(ctx context.Context, filter access.Filter) ([]directory.User, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	var (
		preds []string
		args  []any
	)
	for _, e := range filter {
		p := e.Prefix.String()
		if e.Exact {
			args = append(args, p)
			preds = append(preds, fmt.Sprintf("n.path = $%d", len(args)))
			continue
		}
		args = append(args, p)
		preds = append(preds, fmt.Sprintf("(n.path = $%d or n.path like $%d || '.%%')", len(args), len(args)))
	}
	query := `select ` + userColumns + `
		from users u
		join hierarchy_nodes n on n.id = u.hierarchy_id
		where (` + strings.Join(preds, " or ") + `)
		and not exists (
			select 1 from hierarchy_nodes a
			where not a.is_active and (a.path = n.path or n.path like a.path || '.%')
		)
		order by u.id`
	return s.listUsers(ctx, query, args...)
}

func (s *Users) listUsers(ctx context.Context, query string, args ...any) ([]directory.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []directory.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanUser(row rowScanner) (*directory.User, error) {
	var (
		u       directory.User
		rawMeta []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.HierarchyID, &u.Status, &rawMeta, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &u.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &u, nil
}
