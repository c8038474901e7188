package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vellum-db/vellum/internal/doc"
)

// UpsertDocument stores a document version under its content hash.
// A given hash is immutable: re-writing the same hash is a no-op
// (ON CONFLICT DO NOTHING), which is exactly the idempotency content
// addressing buys - identical content cannot conflict with itself.
func (s *Store) UpsertDocument(ctx context.Context, hash string, d *doc.Document) error {
	return upsertDocument(ctx, s.db, hash, d)
}

// UpsertDocument is the transactional variant.
func (t *Tx) UpsertDocument(ctx context.Context, hash string, d *doc.Document) error {
	return upsertDocument(ctx, t.tx, hash, d)
}

func upsertDocument(ctx context.Context, db execer, hash string, d *doc.Document) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("upsert document %s: marshal: %w", d.ID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (hash, doc_id, class_name, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash, d.ID, d.ClassName, string(payload), d.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocumentByHash loads one document version. Returns ErrNotFound if the
// hash is absent.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*doc.Document, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM documents WHERE hash = ?
	`, hash).Scan(&payload)
	if err != nil {
		return nil, scanNotFound(err, "get document by hash %s", hash)
	}
	return unmarshalDocument(payload)
}

// GetDocumentsByID returns every stored version of a document id in the
// order the versions were first persisted, oldest first. Callers should
// expect multiple rows per id: superseded versions stay addressable forever.
func (s *Store) GetDocumentsByID(ctx context.Context, docID string) ([]*doc.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM documents
		WHERE doc_id = ?
		ORDER BY rowid ASC
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("get documents by id %s: %w", docID, err)
	}
	defer rows.Close()

	return collectDocuments(rows.Next, rows.Scan, rows.Err)
}

// ListAllDocuments returns every stored document version - the
// in_all_history read scope. An optional SQL filter produced by the
// querysql compiler narrows the scan server-side.
func (s *Store) ListAllDocuments(ctx context.Context, whereSQL string, params []any) ([]*doc.Document, error) {
	q := `SELECT payload FROM documents`
	if whereSQL != "" {
		q += " WHERE " + whereSQL
	}
	q += ` ORDER BY created_at ASC, hash COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("list all documents: %w", err)
	}
	defer rows.Close()

	return collectDocuments(rows.Next, rows.Scan, rows.Err)
}

// GetDocumentsByHashes loads a batch of versions, preserving input order.
// Absent hashes are skipped.
func (s *Store) GetDocumentsByHashes(ctx context.Context, hashes []string) ([]*doc.Document, error) {
	docs := make([]*doc.Document, 0, len(hashes))
	for _, h := range hashes {
		d, err := s.GetDocumentByHash(ctx, h)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// DeleteDocumentByHash removes one stored version. Only garbage collection
// should call this; committed snapshots reference hashes by foreign key.
func (s *Store) DeleteDocumentByHash(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", hash, err)
	}
	return nil
}

func collectDocuments(next func() bool, scan func(...any) error, rowsErr func() error) ([]*doc.Document, error) {
	var docs []*doc.Document
	for next() {
		var payload string
		if err := scan(&payload); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d, err := unmarshalDocument(payload)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rowsErr(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	if docs == nil {
		docs = []*doc.Document{}
	}
	return docs, nil
}

func unmarshalDocument(payload string) (*doc.Document, error) {
	var d doc.Document
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &d, nil
}

// IsNotFound reports whether err is the store's not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
