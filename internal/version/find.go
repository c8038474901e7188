package version

import (
	"context"
	"errors"

	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/query"
	"github.com/vellum-db/vellum/internal/querysql"
	"github.com/vellum-db/vellum/internal/store"
)

// FindOptions selects the read scope. Precedence when several are set:
// InAllHistory, then SnapshotID, then CommitHash, then the current working
// snapshot (or the branch's current ref when no transaction is open).
type FindOptions struct {
	SnapshotID   string
	CommitHash   string
	InAllHistory bool
}

// Find resolves the read scope and returns the documents matching the
// clauses. An empty clause list matches everything in scope. InAllHistory
// reads every stored version regardless of snapshot membership, so callers
// must expect duplicate ids across versions.
func (s *Session) Find(ctx context.Context, clauses []query.Clause, opts FindOptions) ([]*doc.Document, error) {
	if opts.InAllHistory {
		return s.findInHistory(ctx, clauses)
	}
	entries, err := s.scopeEntries(ctx, opts)
	if err != nil {
		return nil, err
	}
	docs, err := s.loadEntries(ctx, entries)
	if err != nil {
		return nil, err
	}
	return filterMatching(docs, clauses)
}

// findInHistory scans every stored document version. Translatable queries
// are pushed down to the store as SQL; the rest fall back to a full scan
// filtered by the matcher.
func (s *Session) findInHistory(ctx context.Context, clauses []query.Clause) ([]*doc.Document, error) {
	sql, params, err := querysql.Compile(clauses)
	if err == nil {
		return s.core.st.ListAllDocuments(ctx, sql, params)
	}
	if !errors.Is(err, querysql.ErrNotTranslatable) {
		return nil, err
	}
	all, err := s.core.st.ListAllDocuments(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	return filterMatching(all, clauses)
}

// FindByID looks up a single document by id in the resolved scope. Absence
// is reported with a nil document, not an error.
func (s *Session) FindByID(ctx context.Context, id string, opts FindOptions) (*doc.Document, error) {
	if opts.InAllHistory {
		versions, err := s.core.st.GetDocumentsByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return newestVersion(versions), nil
	}
	entries, err := s.scopeEntries(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.DocumentID == id {
			d, err := s.loadHash(ctx, e.DocumentHash)
			if err != nil || d == nil {
				return d, err
			}
			return rebindID(d, e.DocumentID), nil
		}
	}
	return nil, nil
}

// FindByHash looks up a single document version by content hash in the
// resolved scope. Absence is reported with a nil document, not an error.
func (s *Session) FindByHash(ctx context.Context, hash string, opts FindOptions) (*doc.Document, error) {
	if opts.InAllHistory {
		d, err := s.core.st.GetDocumentByHash(ctx, hash)
		if store.IsNotFound(err) {
			return nil, nil
		}
		return d, err
	}
	entries, err := s.scopeEntries(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.DocumentHash == hash {
			d, err := s.loadHash(ctx, hash)
			if err != nil || d == nil {
				return d, err
			}
			return rebindID(d, e.DocumentID), nil
		}
	}
	return nil, nil
}

// scopeEntries resolves the id/hash pairs visible in the requested scope.
func (s *Session) scopeEntries(ctx context.Context, opts FindOptions) ([]doc.SnapshotEntry, error) {
	c := s.core
	switch {
	case opts.SnapshotID != "":
		return c.st.ListSnapshotEntries(ctx, opts.SnapshotID)

	case opts.CommitHash != "":
		commit, err := c.st.GetCommit(ctx, opts.CommitHash)
		if err != nil {
			return nil, err
		}
		return c.st.ListSnapshotEntries(ctx, commit.SnapshotID)

	default:
		// An open working snapshot wins; otherwise read the branch's
		// current ref without opening a transaction.
		c.mu.Lock()
		bs := c.branchStateLocked(s.branchID)
		if bs.ws != nil {
			entries := bs.ws.entries()
			c.mu.Unlock()
			return entries, nil
		}
		c.mu.Unlock()

		commitHash, err := c.st.GetRef(ctx, s.branchID, "CURRENT")
		if store.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		commit, err := c.st.GetCommit(ctx, commitHash)
		if err != nil {
			return nil, err
		}
		return c.st.ListSnapshotEntries(ctx, commit.SnapshotID)
	}
}

// loadEntries materializes scope entries, serving staged content from the
// working snapshot and the rest from the store.
func (s *Session) loadEntries(ctx context.Context, entries []doc.SnapshotEntry) ([]*doc.Document, error) {
	out := make([]*doc.Document, 0, len(entries))
	for _, e := range entries {
		d, err := s.loadHash(ctx, e.DocumentHash)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, &MissingVersionError{DocumentID: e.DocumentID, Hash: e.DocumentHash}
		}
		out = append(out, rebindID(d, e.DocumentID))
	}
	return out, nil
}

// rebindID makes the snapshot entry's id authoritative for a loaded version.
// Distinct documents with identical content share one stored row, and that
// row carries whichever id persisted it; identity lives in the entry.
func rebindID(d *doc.Document, id string) *doc.Document {
	if d.ID == id {
		return d
	}
	clone := d.Clone()
	clone.ID = id
	return clone
}

func (s *Session) loadHash(ctx context.Context, hash string) (*doc.Document, error) {
	c := s.core
	c.mu.Lock()
	bs := c.branchStateLocked(s.branchID)
	if bs.ws != nil {
		if d, ok := bs.ws.pending[hash]; ok {
			c.mu.Unlock()
			return d, nil
		}
	}
	c.mu.Unlock()

	d, err := c.st.GetDocumentByHash(ctx, hash)
	if store.IsNotFound(err) {
		return nil, nil
	}
	return d, err
}

func filterMatching(docs []*doc.Document, clauses []query.Clause) ([]*doc.Document, error) {
	if len(clauses) == 0 {
		return docs, nil
	}
	out := docs[:0:0]
	for _, d := range docs {
		match, err := query.Matches(d, clauses)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, d)
		}
	}
	return out, nil
}

// newestVersion picks the latest version of a document. Edits never touch
// the creation time, so versions of one id usually tie on it; ties resolve
// to the most recently persisted version, which the store returns last.
func newestVersion(versions []*doc.Document) *doc.Document {
	var best *doc.Document
	for _, v := range versions {
		if best == nil || !v.CreatedAt.Before(best.CreatedAt) {
			best = v
		}
	}
	return best
}
