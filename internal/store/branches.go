package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BranchRecord is one row of the branch forest.
type BranchRecord struct {
	ID       string
	ParentID string // empty for a root branch
	Frozen   bool
	Seq      int64 // insertion order, drives child listing
}

// CreateBranch inserts a branch. parentID may be empty for a root branch.
// The branch's seq is assigned from the current maximum, preserving
// insertion order for child listings.
func (s *Store) CreateBranch(ctx context.Context, id, parentID string) error {
	return createBranch(ctx, s.db, id, parentID)
}

// CreateBranch is the transactional variant.
func (t *Tx) CreateBranch(ctx context.Context, id, parentID string) error {
	return createBranch(ctx, t.tx, id, parentID)
}

func createBranch(ctx context.Context, db execer, id, parentID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO branches (id, parent_id, seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM branches))
	`, id, nullable(parentID))
	if err != nil {
		return fmt.Errorf("create branch %s: %w", id, err)
	}
	return nil
}

// DeleteBranch removes a branch row. Membership and refs cascade.
func (s *Store) DeleteBranch(ctx context.Context, id string) error {
	return deleteBranch(ctx, s.db, id)
}

// DeleteBranch is the transactional variant.
func (t *Tx) DeleteBranch(ctx context.Context, id string) error {
	return deleteBranch(ctx, t.tx, id)
}

func deleteBranch(ctx context.Context, db execer, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM branches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete branch %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete branch %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete branch %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListBranches returns every branch ordered by insertion.
func (s *Store) ListBranches(ctx context.Context) ([]BranchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parent_id, frozen, seq
		FROM branches
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var branches []BranchRecord
	for rows.Next() {
		var b BranchRecord
		var parent sql.NullString
		if err := rows.Scan(&b.ID, &parent, &b.Frozen, &b.Seq); err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		b.ParentID = parent.String
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}

	if branches == nil {
		branches = []BranchRecord{}
	}
	return branches, nil
}

// SetBranchFrozen updates a branch's frozen flag.
func (s *Store) SetBranchFrozen(ctx context.Context, id string, frozen bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE branches SET frozen = ? WHERE id = ?`, frozen, id)
	if err != nil {
		return fmt.Errorf("freeze branch %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("freeze branch %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("freeze branch %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddBranchMember records a document id as a member of a branch.
// Duplicate additions are reported via inserted=false, not an error.
func (s *Store) AddBranchMember(ctx context.Context, branchID, docID string) (inserted bool, err error) {
	return addBranchMember(ctx, s.db, branchID, docID)
}

// AddBranchMember is the transactional variant.
func (t *Tx) AddBranchMember(ctx context.Context, branchID, docID string) (inserted bool, err error) {
	return addBranchMember(ctx, t.tx, branchID, docID)
}

func addBranchMember(ctx context.Context, db execer, branchID, docID string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO branch_members (branch_id, doc_id) VALUES (?, ?)
		ON CONFLICT(branch_id, doc_id) DO NOTHING
	`, branchID, docID)
	if err != nil {
		return false, fmt.Errorf("add member %s to branch %s: %w", docID, branchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add member: rows affected: %w", err)
	}
	return n > 0, nil
}

// RemoveBranchMember deletes one membership row. Removing an absent member
// is a no-op.
func (s *Store) RemoveBranchMember(ctx context.Context, branchID, docID string) error {
	return removeBranchMember(ctx, s.db, branchID, docID)
}

// RemoveBranchMember is the transactional variant.
func (t *Tx) RemoveBranchMember(ctx context.Context, branchID, docID string) error {
	return removeBranchMember(ctx, t.tx, branchID, docID)
}

func removeBranchMember(ctx context.Context, db execer, branchID, docID string) error {
	_, err := db.ExecContext(ctx, `
		DELETE FROM branch_members WHERE branch_id = ? AND doc_id = ?
	`, branchID, docID)
	if err != nil {
		return fmt.Errorf("remove member %s from branch %s: %w", docID, branchID, err)
	}
	return nil
}

// ListBranchMembers returns the document ids visible on a branch, ordered
// deterministically.
func (s *Store) ListBranchMembers(ctx context.Context, branchID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id FROM branch_members
		WHERE branch_id = ?
		ORDER BY doc_id COLLATE BINARY ASC
	`, branchID)
	if err != nil {
		return nil, fmt.Errorf("list members of %s: %w", branchID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}

	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// CopyBranchMembers copies src's membership rows into dst as of now.
// The copy is by value: later changes to either branch do not affect the
// other.
func (t *Tx) CopyBranchMembers(ctx context.Context, dst, src string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO branch_members (branch_id, doc_id)
		SELECT ?, doc_id FROM branch_members WHERE branch_id = ?
	`, dst, src)
	if err != nil {
		return fmt.Errorf("copy members %s -> %s: %w", src, dst, err)
	}
	return nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// scanNotFound normalizes sql.ErrNoRows into ErrNotFound with context.
func scanNotFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
