package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CommitRecord is one node of the commit graph. ParentHash is empty for the
// first commit of a branch lineage.
type CommitRecord struct {
	Hash       string
	SnapshotID string
	ParentHash string
	Message    string
	CreatedAt  time.Time
}

// CreateCommit persists a commit. Commits are immutable; the snapshot and
// (when set) the parent commit must already exist.
func (t *Tx) CreateCommit(ctx context.Context, c CommitRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO commits (hash, snapshot_id, parent_hash, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.Hash, c.SnapshotID, nullable(c.ParentHash), c.Message, c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create commit %s: %w", c.Hash, err)
	}
	return nil
}

// GetCommit loads one commit. Returns ErrNotFound if absent.
func (s *Store) GetCommit(ctx context.Context, hash string) (CommitRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, snapshot_id, parent_hash, message, created_at
		FROM commits WHERE hash = ?
	`, hash)
	return scanCommit(row, "get commit %s", hash)
}

// GetCommitBySnapshot resolves the commit that recorded a snapshot.
// Returns ErrNotFound when the snapshot was never committed.
func (s *Store) GetCommitBySnapshot(ctx context.Context, snapshotID string) (CommitRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT hash, snapshot_id, parent_hash, message, created_at
		FROM commits WHERE snapshot_id = ?
		ORDER BY created_at ASC LIMIT 1
	`, snapshotID)
	return scanCommit(row, "get commit for snapshot %s", snapshotID)
}

// WalkAncestors yields commits from start back to the root, nearest first.
// The callback returns false to stop early.
func (s *Store) WalkAncestors(ctx context.Context, start string, fn func(CommitRecord) (bool, error)) error {
	hash := start
	for hash != "" {
		c, err := s.GetCommit(ctx, hash)
		if err != nil {
			return fmt.Errorf("walk ancestors: %w", err)
		}
		cont, err := fn(c)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		hash = c.ParentHash
	}
	return nil
}

func scanCommit(row *sql.Row, format string, args ...any) (CommitRecord, error) {
	var c CommitRecord
	var parent sql.NullString
	var created string
	err := row.Scan(&c.Hash, &c.SnapshotID, &parent, &c.Message, &created)
	if err != nil {
		return CommitRecord{}, scanNotFound(err, format, args...)
	}

	c.ParentHash = parent.String
	c.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("parse commit created_at: %w", err)
	}
	return c, nil
}
