// Package tree maintains the nested-set encoding of the collection
// hierarchy. Every structural mutation shifts left/right bounds for the
// whole role inside one transaction; readers only ever see the encoding
// before or after a complete shift.
package tree

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrCorruptTree is returned when a read observes an impossible
// left/right pair even after a re-read.
var ErrCorruptTree = errors.New("nested-set tree corrupt")

// ErrBadMove is returned when a subtree is moved under one of its own
// descendants.
var ErrBadMove = errors.New("cannot move subtree into itself")

// Node is the tree-relevant slice of a collection row.
type Node struct {
	ID       int64
	RoleID   int64
	ParentID int64
	LeftID   int64
	RightID  int64
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Subtree returns the ids of the node and all its descendants, in
// left-to-right (pre-order) order. A transient impossible bound pair is
// re-read once before being reported as corruption.
func (s *Store) Subtree(ctx context.Context, nodeID int64) ([]int64, error) {
	node, err := s.getNode(ctx, s.db, nodeID)
	if err != nil {
		return nil, err
	}
	if node.LeftID >= node.RightID {
		// Possibly a torn read during a concurrent shift.
		node, err = s.getNode(ctx, s.db, nodeID)
		if err != nil {
			return nil, err
		}
		if node.LeftID >= node.RightID {
			return nil, fmt.Errorf("%w: node %d has bounds (%d,%d)",
				ErrCorruptTree, node.ID, node.LeftID, node.RightID)
		}
	}

	const query = `
		SELECT id FROM collections
		WHERE role_id = $1 AND left_id BETWEEN $2 AND $3
		ORDER BY left_id
	`
	rows, err := s.db.QueryContext(ctx, query, node.RoleID, node.LeftID, node.RightID)
	if err != nil {
		return nil, fmt.Errorf("subtree of %d: %w", nodeID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subtree id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ancestors returns the ids of every ancestor of the node, root first.
func (s *Store) Ancestors(ctx context.Context, nodeID int64) ([]int64, error) {
	node, err := s.getNode(ctx, s.db, nodeID)
	if err != nil {
		return nil, err
	}
	const query = `
		SELECT id FROM collections
		WHERE role_id = $1 AND left_id < $2 AND right_id > $3
		ORDER BY left_id
	`
	rows, err := s.db.QueryContext(ctx, query, node.RoleID, node.LeftID, node.RightID)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %d: %w", nodeID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ancestor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateRoot starts a new tree for the role with bounds (1,2).
func (s *Store) CreateRoot(ctx context.Context, roleID int64, name string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM collections WHERE role_id = $1`, roleID).Scan(&count); err != nil {
			return fmt.Errorf("count role nodes: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("role %d already has a tree", roleID)
		}
		return tx.QueryRowContext(ctx, `
			INSERT INTO collections (role_id, parent_id, left_id, right_id, name)
			VALUES ($1, NULL, 1, 2, $2) RETURNING id`, roleID, name).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// InsertChild adds a leaf as the rightmost child of parent. The whole
// role is locked for the duration of the bound shift.
func (s *Store) InsertChild(ctx context.Context, parentID int64, name, number string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockRoleOf(ctx, tx, parentID); err != nil {
			return err
		}
		parent, err := s.getNode(ctx, tx, parentID)
		if err != nil {
			return err
		}

		// Open a width-2 gap at the parent's right bound.
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET left_id = left_id + 2
			WHERE role_id = $1 AND left_id >= $2`, parent.RoleID, parent.RightID); err != nil {
			return fmt.Errorf("shift left bounds: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET right_id = right_id + 2
			WHERE role_id = $1 AND right_id >= $2`, parent.RoleID, parent.RightID); err != nil {
			return fmt.Errorf("shift right bounds: %w", err)
		}

		return tx.QueryRowContext(ctx, `
			INSERT INTO collections (role_id, parent_id, left_id, right_id, name, number)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			parent.RoleID, parent.ID, parent.RightID, parent.RightID+1, name, number).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteSubtree removes the node and all descendants, closing the gap so
// the rest of the role's tree stays valid. Returns the removed ids.
func (s *Store) DeleteSubtree(ctx context.Context, nodeID int64) ([]int64, error) {
	var removed []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockRoleOf(ctx, tx, nodeID); err != nil {
			return err
		}
		node, err := s.getNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		width := node.RightID - node.LeftID + 1

		rows, err := tx.QueryContext(ctx, `
			DELETE FROM collections
			WHERE role_id = $1 AND left_id BETWEEN $2 AND $3
			RETURNING id`, node.RoleID, node.LeftID, node.RightID)
		if err != nil {
			return fmt.Errorf("delete subtree: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan removed id: %w", err)
			}
			removed = append(removed, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET left_id = left_id - $2
			WHERE role_id = $1 AND left_id > $3`, node.RoleID, width, node.RightID); err != nil {
			return fmt.Errorf("close gap left: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET right_id = right_id - $2
			WHERE role_id = $1 AND right_id > $3`, node.RoleID, width, node.RightID); err != nil {
			return fmt.Errorf("close gap right: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// MoveSubtree reparents a subtree as the rightmost child of newParent.
// The subtree is parked on negated bounds, the old gap closed, a new gap
// opened, and the parked rows restored - all in one transaction.
func (s *Store) MoveSubtree(ctx context.Context, nodeID, newParentID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.lockRoleOf(ctx, tx, nodeID); err != nil {
			return err
		}
		node, err := s.getNode(ctx, tx, nodeID)
		if err != nil {
			return err
		}
		parent, err := s.getNode(ctx, tx, newParentID)
		if err != nil {
			return err
		}
		if parent.RoleID != node.RoleID {
			return fmt.Errorf("move across roles: node %d role %d, parent %d role %d",
				node.ID, node.RoleID, parent.ID, parent.RoleID)
		}
		if parent.LeftID >= node.LeftID && parent.LeftID <= node.RightID {
			return ErrBadMove
		}

		width := node.RightID - node.LeftID + 1

		// Park the subtree outside the encoding.
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET left_id = -left_id, right_id = -right_id
			WHERE role_id = $1 AND left_id BETWEEN $2 AND $3`,
			node.RoleID, node.LeftID, node.RightID); err != nil {
			return fmt.Errorf("park subtree: %w", err)
		}

		// Close the gap it left behind.
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET left_id = left_id - $2
			WHERE role_id = $1 AND left_id > $3`, node.RoleID, width, node.RightID); err != nil {
			return fmt.Errorf("close gap left: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET right_id = right_id - $2
			WHERE role_id = $1 AND right_id > $3`, node.RoleID, width, node.RightID); err != nil {
			return fmt.Errorf("close gap right: %w", err)
		}

		insertAt := parent.RightID
		if insertAt > node.RightID {
			insertAt -= width
		}

		// Open the gap at the destination.
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET left_id = left_id + $2
			WHERE role_id = $1 AND left_id >= $3`, node.RoleID, width, insertAt); err != nil {
			return fmt.Errorf("open gap left: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET right_id = right_id + $2
			WHERE role_id = $1 AND right_id >= $3`, node.RoleID, width, insertAt); err != nil {
			return fmt.Errorf("open gap right: %w", err)
		}

		// Restore the parked rows at their new position.
		offset := insertAt - node.LeftID
		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET left_id = -left_id + $2, right_id = -right_id + $2
			WHERE role_id = $1 AND left_id < 0`, node.RoleID, offset); err != nil {
			return fmt.Errorf("restore subtree: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE collections SET parent_id = $2 WHERE id = $1`, node.ID, parent.ID); err != nil {
			return fmt.Errorf("reparent node: %w", err)
		}
		return nil
	})
}

// Validate loads the subtree rooted at rootID and checks the nested-set
// invariant. Corruption is reported, never repaired.
func (s *Store) Validate(ctx context.Context, rootID int64) (bool, error) {
	root, err := s.getNode(ctx, s.db, rootID)
	if err != nil {
		return false, err
	}
	const query = `
		SELECT id, role_id, COALESCE(parent_id, 0), left_id, right_id
		FROM collections
		WHERE role_id = $1 AND left_id >= $2 AND right_id <= $3
		ORDER BY left_id
	`
	rows, err := s.db.QueryContext(ctx, query, root.RoleID, root.LeftID, root.RightID)
	if err != nil {
		return false, fmt.Errorf("load subtree of %d: %w", rootID, err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.RoleID, &n.ParentID, &n.LeftID, &n.RightID); err != nil {
			return false, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return ValidateNodes(nodes), nil
}

func (s *Store) getNode(ctx context.Context, q queryer, id int64) (Node, error) {
	const query = `
		SELECT id, role_id, COALESCE(parent_id, 0), left_id, right_id
		FROM collections WHERE id = $1
	`
	var n Node
	err := q.QueryRowContext(ctx, query, id).
		Scan(&n.ID, &n.RoleID, &n.ParentID, &n.LeftID, &n.RightID)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("collection %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return Node{}, fmt.Errorf("get collection %d: %w", id, err)
	}
	return n, nil
}

// lockRoleOf takes row locks on every node of the role the given node
// belongs to, so the full bound shift appears atomic to readers.
func (s *Store) lockRoleOf(ctx context.Context, tx *sql.Tx, nodeID int64) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT c.id FROM collections c
		WHERE c.role_id = (SELECT role_id FROM collections WHERE id = $1)
		FOR UPDATE`, nodeID)
	if err != nil {
		return fmt.Errorf("lock role of %d: %w", nodeID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan lock row: %w", err)
		}
	}
	return rows.Err()
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
