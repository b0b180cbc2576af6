package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"strata.org/internal/access"
	"strata.org/internal/hierarchy"
	"strata.org/internal/ids"
)

var _ access.TreeSource = (*Store)(nil)

// Snapshot loads the whole tree in one query. NewTree re-validates the
// prefix-closure invariant, so a torn write surfaces as an error here rather
// than as a wrong resolution later.
func (s *Store) Snapshot(ctx context.Context) (*hierarchy.Tree, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(parent_id,''), name, path, is_active, metadata, created_at, updated_at
		from hierarchy_nodes
		order by path
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*hierarchy.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hierarchy.NewTree(nodes)
}

// Node returns a single node by id.
func (s *Store) Node(ctx context.Context, id string) (*hierarchy.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, coalesce(parent_id,''), name, path, is_active, metadata, created_at, updated_at
		from hierarchy_nodes
		where id = $1
	`, id)
	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: node %s", hierarchy.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateNode inserts a child under parentID, or a new root when parentID is
// empty.
func (s *Store) CreateNode(ctx context.Context, parentID, segment, name string, metadata map[string]string) (*hierarchy.Node, error) {
	segment, err := hierarchy.NormalizeSegment(segment)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	path := hierarchy.Path{segment}
	if parentID != "" {
		var parentPath string
		err := tx.QueryRowContext(ctx, `
			select path from hierarchy_nodes where id = $1 for update
		`, parentID).Scan(&parentPath)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: parent %s", hierarchy.ErrNotFound, parentID)
		}
		if err != nil {
			return nil, err
		}
		pp, err := hierarchy.ParsePath(parentPath)
		if err != nil {
			return nil, err
		}
		path = pp.Child(segment)
	}

	metaJSON, err := marshalMeta(metadata)
	if err != nil {
		return nil, err
	}
	node := &hierarchy.Node{
		ID:       ids.NewPrefixed("org"),
		ParentID: parentID,
		Name:     name,
		Path:     path,
		IsActive: true,
		Metadata: metadata,
	}
	err = tx.QueryRowContext(ctx, `
		insert into hierarchy_nodes (id, parent_id, name, path, is_active, metadata)
		values ($1, $2, $3, $4, true, $5)
		returning created_at, updated_at
	`, node.ID, nullIfEmpty(parentID), name, path.String(), metaJSON).Scan(&node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil, fmt.Errorf("%w: %s", hierarchy.ErrDuplicateSegment, path)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return node, nil
}

// MoveNode reparents a node and rewrites every descendant path inside one
// serializable transaction, so no reader ever observes a split subtree.
func (s *Store) MoveNode(ctx context.Context, nodeID, newParentID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var nodePath string
	err = tx.QueryRowContext(ctx, `
		select path from hierarchy_nodes where id = $1 for update
	`, nodeID).Scan(&nodePath)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: node %s", hierarchy.ErrNotFound, nodeID)
	}
	if err != nil {
		return err
	}
	oldPath, err := hierarchy.ParsePath(nodePath)
	if err != nil {
		return err
	}

	var parentPath string
	err = tx.QueryRowContext(ctx, `
		select path from hierarchy_nodes where id = $1 for update
	`, newParentID).Scan(&parentPath)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: parent %s", hierarchy.ErrNotFound, newParentID)
	}
	if err != nil {
		return err
	}
	pp, err := hierarchy.ParsePath(parentPath)
	if err != nil {
		return err
	}
	if pp.HasPrefix(oldPath) {
		return fmt.Errorf("%w: %s is inside %s", hierarchy.ErrCycle, parentPath, nodePath)
	}

	newPath := pp.Child(oldPath.Last())
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		select exists (select 1 from hierarchy_nodes where path = $1)
	`, newPath.String()).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", hierarchy.ErrDuplicateSegment, newPath)
	}

	// One statement rewrites the node and its whole subtree.
	if _, err := tx.ExecContext(ctx, `
		update hierarchy_nodes
		set path = $2 || substr(path, length($1) + 1),
		    updated_at = now()
		where path = $1 or path like $1 || '.%'
	`, oldPath.String(), newPath.String()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update hierarchy_nodes set parent_id = $2 where id = $1
	`, nodeID, newParentID); err != nil {
		return err
	}
	return tx.Commit()
}

// SetNodeActive flips the soft-delete flag.
func (s *Store) SetNodeActive(ctx context.Context, nodeID string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		update hierarchy_nodes set is_active = $2, updated_at = now() where id = $1
	`, nodeID, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: node %s", hierarchy.ErrNotFound, nodeID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*hierarchy.Node, error) {
	var (
		node    hierarchy.Node
		rawPath string
		rawMeta []byte
	)
	if err := row.Scan(&node.ID, &node.ParentID, &node.Name, &rawPath, &node.IsActive, &rawMeta, &node.CreatedAt, &node.UpdatedAt); err != nil {
		return nil, err
	}
	path, err := hierarchy.ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	node.Path = path
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &node.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &node, nil
}

func marshalMeta(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return out, nil
}
