// Package vellum is the public document database surface. It composes the
// branch manager, the versioning core, schema validation, and the blob store
// behind one handle.
//
// Mutations follow validate-all-then-stage: every document in a call is
// checked against its class schema before anything touches the working
// snapshot, so a batch is all-or-nothing with respect to validation. Every
// mutation re-hashes the affected documents; superseded hashes stay
// addressable through in-all-history reads.
package vellum

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vellum-db/vellum/internal/blob"
	"github.com/vellum-db/vellum/internal/branch"
	"github.com/vellum-db/vellum/internal/config"
	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/ident"
	"github.com/vellum-db/vellum/internal/query"
	"github.com/vellum-db/vellum/internal/schema"
	"github.com/vellum-db/vellum/internal/store"
	"github.com/vellum-db/vellum/internal/version"
)

// DB is a handle to one vellum database. The handle is one writer: it keeps
// a single versioning session per branch, so its own calls never contend
// with each other for a branch's transaction slot.
type DB struct {
	st       *store.Store
	branches *branch.Manager
	core     *version.Core
	blobs    *blob.Store
	schemas  *schema.Registry
	ids      ident.Generator
	clock    func() time.Time
	autoSave bool
	log      *slog.Logger

	sesMu    sync.Mutex
	sessions map[string]*version.Session
}

// Parts carries injectable collaborators for tests. Zero values select
// production defaults.
type Parts struct {
	IDs    ident.Generator
	Clock  func() time.Time
	Logger *slog.Logger
}

// Open builds a DB from configuration: SQLite store, branch tree, versioning
// core, blob store, and (when configured) the CUE schema registry.
func Open(ctx context.Context, cfg config.Config, parts Parts) (*DB, error) {
	if parts.IDs == nil {
		parts.IDs = ident.UUIDv7Generator{}
	}
	if parts.Clock == nil {
		parts.Clock = time.Now
	}
	if parts.Logger == nil {
		parts.Logger = slog.Default()
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}
	branches, err := branch.NewManager(ctx, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	blobs, err := blob.NewStore(cfg.BlobRoot)
	if err != nil {
		st.Close()
		return nil, err
	}

	var schemas *schema.Registry
	if cfg.SchemaDir != "" {
		schemas, err = schema.Load(cfg.SchemaDir)
		if err != nil {
			st.Close()
			return nil, err
		}
		parts.Logger.Debug("loaded class schemas", "dir", cfg.SchemaDir, "classes", schemas.Classes())
	}

	policy := version.TxFail
	if cfg.TxPolicy == config.TxPolicyBlock {
		policy = version.TxBlock
	}
	core := version.NewCore(st, branches, version.Options{
		IDs:             parts.IDs,
		Clock:           parts.Clock,
		Policy:          policy,
		VerboseFeedback: cfg.VerboseFeedback,
		Logger:          parts.Logger,
	})

	return &DB{
		st:       st,
		branches: branches,
		core:     core,
		blobs:    blobs,
		schemas:  schemas,
		ids:      parts.IDs,
		clock:    parts.Clock,
		autoSave: cfg.AutoSave,
		log:      parts.Logger,
		sessions: make(map[string]*version.Session),
	}, nil
}

// Close releases the underlying store.
func (db *DB) Close() error {
	return db.st.Close()
}

// Branches exposes the branch tree.
func (db *DB) Branches() *branch.Manager { return db.branches }

// Blobs exposes the binary attachment store.
func (db *DB) Blobs() *blob.Store { return db.blobs }

// Session returns this handle's versioning session for the current branch.
func (db *DB) Session() *version.Session {
	current := db.branches.Current()
	db.sesMu.Lock()
	defer db.sesMu.Unlock()
	s, ok := db.sessions[current]
	if !ok {
		s = db.core.Session(current)
		db.sessions[current] = s
	}
	return s
}

// NewDocument builds an empty document of the given class with a fresh
// time-sortable id.
func (db *DB) NewDocument(className string) *doc.Document {
	return doc.New(db.ids.NewID(), className, db.clock().UTC())
}

// Option adjusts one facade call.
type Option func(*callOptions)

type callOptions struct {
	save    bool
	message string
}

// WithSave forces an immediate save after the operation, regardless of the
// auto-save setting.
func WithSave(message string) Option {
	return func(o *callOptions) {
		o.save = true
		o.message = message
	}
}

func (db *DB) apply(opts []Option) callOptions {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.save && db.autoSave {
		o.save = true
		o.message = "auto save"
	}
	return o
}

func (db *DB) finish(ctx context.Context, s *version.Session, o callOptions) error {
	if !o.save {
		return nil
	}
	_, err := s.Save(ctx, o.message)
	return err
}

// validate checks every document against its class schema before anything
// is staged. With no schema registry configured, validation is disabled.
func (db *DB) validate(docs ...*doc.Document) error {
	if db.schemas == nil {
		return nil
	}
	var all []*schema.ValidationError
	for _, d := range docs {
		all = append(all, db.schemas.Validate(d)...)
	}
	if len(all) > 0 {
		return &ValidationError{Violations: all}
	}
	return nil
}

// Add stages a new document on the current branch. Adding an id that is
// already a member of the branch fails.
func (db *DB) Add(ctx context.Context, d *doc.Document, opts ...Option) error {
	return db.AddMany(ctx, []*doc.Document{d}, opts...)
}

// AddMany stages a batch of new documents. Validation runs over the whole
// batch before any staging, so one invalid document rejects the call without
// hiding its siblings' violations.
func (db *DB) AddMany(ctx context.Context, docs []*doc.Document, opts ...Option) error {
	if err := db.validate(docs...); err != nil {
		return err
	}
	s := db.Session()
	current := db.branches.Current()
	for _, d := range docs {
		if member, err := db.branches.HasMember(current, d.ID); err != nil {
			return err
		} else if member {
			return &branch.DuplicateMemberError{BranchID: current, DocumentID: d.ID}
		}
	}

	for _, d := range docs {
		hash, err := doc.HashDocument(d)
		if err != nil {
			return err
		}
		if err := s.Add(ctx, d, hash); err != nil {
			return err
		}
		if err := db.branches.AddMember(ctx, current, d.ID); err != nil {
			return err
		}
	}
	return db.finish(ctx, s, db.apply(opts))
}

// Update re-stages an existing document with its new content. The target id
// must be present in the current read scope.
func (db *DB) Update(ctx context.Context, d *doc.Document, opts ...Option) error {
	return db.UpdateMany(ctx, []*doc.Document{d}, opts...)
}

// UpdateMany re-stages a batch of existing documents.
func (db *DB) UpdateMany(ctx context.Context, docs []*doc.Document, opts ...Option) error {
	if err := db.validate(docs...); err != nil {
		return err
	}
	s := db.Session()
	for _, d := range docs {
		existing, err := s.FindByID(ctx, d.ID, version.FindOptions{})
		if err != nil {
			return err
		}
		if existing == nil {
			return &DocumentNotFoundError{ID: d.ID}
		}
	}

	for _, d := range docs {
		if err := db.stageReplacement(ctx, s, d); err != nil {
			return err
		}
	}
	return db.finish(ctx, s, db.apply(opts))
}

// Upsert stages a document whether or not its id already exists: update
// semantics when present, add semantics when not.
func (db *DB) Upsert(ctx context.Context, d *doc.Document, opts ...Option) error {
	if err := db.validate(d); err != nil {
		return err
	}
	s := db.Session()
	current := db.branches.Current()

	if err := db.stageReplacement(ctx, s, d); err != nil {
		return err
	}
	if member, err := db.branches.HasMember(current, d.ID); err != nil {
		return err
	} else if !member {
		if err := db.branches.AddMember(ctx, current, d.ID); err != nil {
			return err
		}
	}
	return db.finish(ctx, s, db.apply(opts))
}

// stageReplacement re-hashes d and stages it over any previous version. The
// superseded hash stays addressable through in-all-history reads.
func (db *DB) stageReplacement(ctx context.Context, s *version.Session, d *doc.Document) error {
	hash, err := doc.HashDocument(d)
	if err != nil {
		return err
	}
	return s.Upsert(ctx, d, hash)
}

// DeleteByID removes a document from the current branch and working
// snapshot. Its stored versions remain addressable through history.
func (db *DB) DeleteByID(ctx context.Context, id string, opts ...Option) error {
	return db.DeleteMany(ctx, []string{id}, opts...)
}

// Delete removes the given document by id.
func (db *DB) Delete(ctx context.Context, d *doc.Document, opts ...Option) error {
	return db.DeleteMany(ctx, []string{d.ID}, opts...)
}

// DeleteMany removes a batch of documents by id.
func (db *DB) DeleteMany(ctx context.Context, ids []string, opts ...Option) error {
	s := db.Session()
	current := db.branches.Current()

	// Resolve every target before touching the working snapshot.
	for _, id := range ids {
		existing, err := s.FindByID(ctx, id, version.FindOptions{})
		if err != nil {
			return err
		}
		if existing == nil {
			return &DocumentNotFoundError{ID: id}
		}
	}

	// Removal needs an open working snapshot. Removal is keyed by id:
	// documents with identical content share a hash.
	if _, err := s.WorkingSnapshotID(ctx); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.RemoveIDFromSnapshot(ctx, id); err != nil {
			return err
		}
		if err := db.branches.RemoveMember(ctx, current, id); err != nil {
			return err
		}
	}
	return db.finish(ctx, s, db.apply(opts))
}

// Find returns the documents in the resolved read scope matching the
// clauses.
func (db *DB) Find(ctx context.Context, clauses []query.Clause, opts version.FindOptions) ([]*doc.Document, error) {
	return db.Session().Find(ctx, clauses, opts)
}

// FindByID looks up one document by id; absent ids yield a nil document.
func (db *DB) FindByID(ctx context.Context, id string, opts version.FindOptions) (*doc.Document, error) {
	return db.Session().FindByID(ctx, id, opts)
}

// FindByHash looks up one document version by content hash.
func (db *DB) FindByHash(ctx context.Context, hash string, opts version.FindOptions) (*doc.Document, error) {
	return db.Session().FindByHash(ctx, hash, opts)
}

// Save commits the current branch's working snapshot.
func (db *DB) Save(ctx context.Context, message string) (string, error) {
	return db.Session().Save(ctx, message)
}

// Revert discards the current branch's working snapshot.
func (db *DB) Revert(ctx context.Context) error {
	return db.Session().Revert(ctx)
}

// History walks the current branch's commit chain, nearest-first.
func (db *DB) History(ctx context.Context, fromCommit string) ([]version.HistoryEntry, error) {
	return db.Session().History(ctx, fromCommit)
}

// Checkout repoints the current branch's ref at a past commit or snapshot.
func (db *DB) Checkout(ctx context.Context, snapshotID, commitHash string) error {
	warning, err := db.Session().SetCurrentRef(ctx, snapshotID, commitHash)
	if warning != "" {
		db.log.Warn(warning, "branch", db.branches.Current())
	}
	if err != nil {
		return fmt.Errorf("checkout: %w", err)
	}
	return nil
}

// AttachBlob opens a write stream for a binary attachment of a document,
// namespaced under the current working snapshot. Opening the stream opens a
// working snapshot if none is live, so attachments always belong to the
// snapshot the next save will commit.
func (db *DB) AttachBlob(ctx context.Context, docID, name string) (io.WriteCloser, error) {
	wsID, err := db.Session().WorkingSnapshotID(ctx)
	if err != nil {
		return nil, err
	}
	return db.blobs.OpenWriteStream(wsID, docID, name)
}

// OpenBlob opens an attachment of a document under the current working
// snapshot for reading.
func (db *DB) OpenBlob(ctx context.Context, docID, name string) (io.ReadCloser, error) {
	wsID, err := db.Session().WorkingSnapshotID(ctx)
	if err != nil {
		return nil, err
	}
	return db.blobs.OpenReadStream(wsID, docID, name)
}

// BlobNames lists a document's attachments under the current working snapshot.
func (db *DB) BlobNames(ctx context.Context, docID string) ([]string, error) {
	wsID, err := db.Session().WorkingSnapshotID(ctx)
	if err != nil {
		return nil, err
	}
	return db.blobs.List(wsID, docID)
}
