package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vellum-db/vellum/internal/doc"
)

// SnapshotRecord is the durable header of a snapshot; its entries live in
// snapshot_entries, ordered by position.
type SnapshotRecord struct {
	ID        string
	Hash      string
	CreatedAt time.Time
}

// CreateSnapshot persists a snapshot header and its ordered entries.
// Snapshots are immutable: there is no update path, and the referenced
// document hashes must already be stored (foreign key).
func (t *Tx) CreateSnapshot(ctx context.Context, id, hash string, createdAt time.Time, entries []doc.SnapshotEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, hash, created_at) VALUES (?, ?, ?)
	`, id, hash, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", id, err)
	}

	for pos, e := range entries {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO snapshot_entries (snapshot_id, pos, doc_id, doc_hash)
			VALUES (?, ?, ?, ?)
		`, id, pos, e.DocumentID, e.DocumentHash)
		if err != nil {
			return fmt.Errorf("create snapshot %s: entry %d: %w", id, pos, err)
		}
	}
	return nil
}

// GetSnapshot loads a snapshot header. Returns ErrNotFound if absent.
func (s *Store) GetSnapshot(ctx context.Context, id string) (SnapshotRecord, error) {
	var rec SnapshotRecord
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, hash, created_at FROM snapshots WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Hash, &created)
	if err != nil {
		return SnapshotRecord{}, scanNotFound(err, "get snapshot %s", id)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get snapshot %s: parse created_at: %w", id, err)
	}
	return rec, nil
}

// ListSnapshotEntries returns a snapshot's (doc id, doc hash) pairs in
// their original order.
func (s *Store) ListSnapshotEntries(ctx context.Context, snapshotID string) ([]doc.SnapshotEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, doc_hash FROM snapshot_entries
		WHERE snapshot_id = ?
		ORDER BY pos ASC
	`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list snapshot entries %s: %w", snapshotID, err)
	}
	defer rows.Close()

	var entries []doc.SnapshotEntry
	for rows.Next() {
		var e doc.SnapshotEntry
		if err := rows.Scan(&e.DocumentID, &e.DocumentHash); err != nil {
			return nil, fmt.Errorf("scan snapshot entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot entries: %w", err)
	}

	if entries == nil {
		entries = []doc.SnapshotEntry{}
	}
	return entries, nil
}
