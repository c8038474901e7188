package store

import (
	"context"
	"fmt"
)

// SetRef points a named ref of a branch at a commit, creating or moving it.
func (s *Store) SetRef(ctx context.Context, branchID, name, commitHash string) error {
	return setRef(ctx, s.db, branchID, name, commitHash)
}

// SetRef is the transactional variant; save uses it so the ref advance
// commits or rolls back together with the snapshot and commit rows.
func (t *Tx) SetRef(ctx context.Context, branchID, name, commitHash string) error {
	return setRef(ctx, t.tx, branchID, name, commitHash)
}

func setRef(ctx context.Context, db execer, branchID, name, commitHash string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO refs (branch_id, name, commit_hash) VALUES (?, ?, ?)
		ON CONFLICT(branch_id, name) DO UPDATE SET commit_hash = excluded.commit_hash
	`, branchID, name, commitHash)
	if err != nil {
		return fmt.Errorf("set ref %s/%s: %w", branchID, name, err)
	}
	return nil
}

// GetRef resolves a named ref to a commit hash. Returns ErrNotFound when
// the branch has no such ref (e.g. no commits yet).
func (s *Store) GetRef(ctx context.Context, branchID, name string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT commit_hash FROM refs WHERE branch_id = ? AND name = ?
	`, branchID, name).Scan(&hash)
	if err != nil {
		return "", scanNotFound(err, "get ref %s/%s", branchID, name)
	}
	return hash, nil
}

// RefNames returns the names of every ref pointing at a commit, across all
// branches, in deterministic order. History entries report these.
func (s *Store) RefNames(ctx context.Context, commitHash string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_id || '/' || name FROM refs
		WHERE commit_hash = ?
		ORDER BY branch_id COLLATE BINARY ASC, name COLLATE BINARY ASC
	`, commitHash)
	if err != nil {
		return nil, fmt.Errorf("ref names for %s: %w", commitHash, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan ref name: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ref names: %w", err)
	}

	if names == nil {
		names = []string{}
	}
	return names, nil
}
