// Package version implements the content-addressed versioning core: working
// snapshot lifecycle, commit chaining, ref resolution, and scoped reads.
//
// Concurrency follows a single-writer-per-branch discipline. A writer is a
// Session; the first mutating call on a branch opens its working snapshot
// and makes that session the owner until save or revert. A second session's
// mutating call either blocks until the owner resolves or fails fast with
// ErrTransactionBusy, depending on the configured policy.
package version

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vellum-db/vellum/internal/branch"
	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/ident"
	"github.com/vellum-db/vellum/internal/store"
)

// TxPolicy selects how a second writer on a busy branch is handled.
type TxPolicy int

const (
	// TxFail rejects the second writer immediately with ErrTransactionBusy.
	TxFail TxPolicy = iota
	// TxBlock parks the second writer until the open transaction resolves.
	TxBlock
)

// Options configures a Core. Zero values select production defaults:
// UUIDv7 ids, the system clock, fail-fast transaction policy, quiet
// feedback, and the default slog logger.
type Options struct {
	IDs             ident.Generator
	Clock           func() time.Time
	Policy          TxPolicy
	VerboseFeedback bool
	Logger          *slog.Logger
}

// Core owns the per-branch transaction state and composes the store and the
// branch manager into versioned reads and atomic commits.
type Core struct {
	st       *store.Store
	branches *branch.Manager
	ids      ident.Generator
	clock    func() time.Time
	policy   TxPolicy
	verbose  bool
	log      *slog.Logger

	mu    sync.Mutex
	state map[string]*branchState
}

type branchState struct {
	cond  *sync.Cond
	ws    *workingSnapshot
	owner *Session
}

// NewCore builds a Core over an opened store and a loaded branch manager.
func NewCore(st *store.Store, branches *branch.Manager, opts Options) *Core {
	if opts.IDs == nil {
		opts.IDs = ident.UUIDv7Generator{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Core{
		st:       st,
		branches: branches,
		ids:      opts.IDs,
		clock:    opts.Clock,
		policy:   opts.Policy,
		verbose:  opts.VerboseFeedback,
		log:      opts.Logger,
		state:    make(map[string]*branchState),
	}
}

// Session is one writer's handle onto a branch. Sessions are cheap; reads
// never contend, and only mutating calls take the branch transaction slot.
type Session struct {
	core     *Core
	branchID string
}

// Session returns a writer handle for the branch.
func (c *Core) Session(branchID string) *Session {
	return &Session{core: c, branchID: branchID}
}

// Branch returns the branch this session writes to.
func (s *Session) Branch() string { return s.branchID }

func (c *Core) branchStateLocked(branchID string) *branchState {
	bs, ok := c.state[branchID]
	if !ok {
		bs = &branchState{}
		bs.cond = sync.NewCond(&c.mu)
		c.state[branchID] = bs
	}
	return bs
}

// acquire opens (or joins) the branch's working snapshot for this session.
// The caller holds the returned snapshot only until c.mu is released, so all
// staging happens inside withWorking.
func (c *Core) acquire(ctx context.Context, s *Session) (*workingSnapshot, error) {
	bs := c.branchStateLocked(s.branchID)
	for {
		if bs.ws == nil {
			ws, err := c.openWorkingSnapshot(ctx, s.branchID)
			if err != nil {
				return nil, err
			}
			bs.ws = ws
			bs.owner = s
			return ws, nil
		}
		if bs.owner == s {
			return bs.ws, nil
		}
		if c.policy == TxFail {
			return nil, fmt.Errorf("branch %q: %w", s.branchID, ErrTransactionBusy)
		}
		bs.cond.Wait()
	}
}

func (c *Core) withWorking(ctx context.Context, s *Session, fn func(ws *workingSnapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, err := c.acquire(ctx, s)
	if err != nil {
		return err
	}
	return fn(ws)
}

// openWorkingSnapshot seeds a fresh working snapshot from the branch's
// CURRENT ref, or from an empty seed when the branch has no commits yet.
// Caller holds c.mu.
func (c *Core) openWorkingSnapshot(ctx context.Context, branchID string) (*workingSnapshot, error) {
	var (
		baseID string
		seed   []doc.SnapshotEntry
	)
	commitHash, err := c.st.GetRef(ctx, branchID, "CURRENT")
	switch {
	case err == nil:
		commit, err := c.st.GetCommit(ctx, commitHash)
		if err != nil {
			return nil, fmt.Errorf("resolving ref %s: %w", commitHash, err)
		}
		baseID = commit.SnapshotID
		seed, err = c.st.ListSnapshotEntries(ctx, commit.SnapshotID)
		if err != nil {
			return nil, err
		}
	case store.IsNotFound(err):
		// First transaction on this branch.
	default:
		return nil, err
	}
	return newWorkingSnapshot(c.ids.NewID(), baseID, seed), nil
}

// WorkingSnapshotID returns the open working snapshot's id, opening one
// lazily when none exists.
func (s *Session) WorkingSnapshotID(ctx context.Context) (string, error) {
	var id string
	err := s.core.withWorking(ctx, s, func(ws *workingSnapshot) error {
		id = ws.id
		return nil
	})
	return id, err
}

// Add stages a document under its precomputed hash. Staging the same id with
// the same hash twice is a duplicate add.
func (s *Session) Add(ctx context.Context, d *doc.Document, hash string) error {
	return s.core.withWorking(ctx, s, func(ws *workingSnapshot) error {
		if existing, ok := ws.idToHash[d.ID]; ok && existing == hash {
			return &IntegrityError{DocumentID: d.ID, Hash: hash}
		}
		ws.stage(d.ID, hash)
		ws.pending[hash] = d
		return nil
	})
}

// Upsert stages a document, silently replacing any prior mapping for its id.
func (s *Session) Upsert(ctx context.Context, d *doc.Document, hash string) error {
	return s.core.withWorking(ctx, s, func(ws *workingSnapshot) error {
		ws.stage(d.ID, hash)
		ws.pending[hash] = d
		return nil
	})
}

// RemoveFromSnapshot drops the document carrying the given hash from the
// working snapshot. Requires an open working snapshot.
func (s *Session) RemoveFromSnapshot(ctx context.Context, hash string) error {
	return s.requireWorking(func(ws *workingSnapshot) error {
		ws.unstage(hash)
		return nil
	})
}

// RemoveIDFromSnapshot drops one document, addressed by id, from the
// working snapshot. Distinct documents can share a content hash, so removal
// of a specific document must key on the id. Requires an open working
// snapshot.
func (s *Session) RemoveIDFromSnapshot(ctx context.Context, docID string) error {
	return s.requireWorking(func(ws *workingSnapshot) error {
		ws.unstageID(docID)
		return nil
	})
}

// AddToSnapshot stages an already durable document version, looked up by
// hash, into the working snapshot. Requires an open working snapshot.
func (s *Session) AddToSnapshot(ctx context.Context, hash string) error {
	d, err := s.core.st.GetDocumentByHash(ctx, hash)
	if err != nil {
		return err
	}
	return s.requireWorking(func(ws *workingSnapshot) error {
		ws.stage(d.ID, hash)
		return nil
	})
}

// requireWorking runs fn against the open working snapshot without opening
// one. The low-level staging primitives use it.
func (s *Session) requireWorking(fn func(ws *workingSnapshot) error) error {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()
	bs := c.branchStateLocked(s.branchID)
	if bs.ws == nil {
		return &NoWorkingSnapshotError{BranchID: s.branchID}
	}
	return fn(bs.ws)
}

// Save promotes the working snapshot into a durable Snapshot and Commit,
// advances the branch's CURRENT ref, and writes all pending documents — all
// inside one store transaction. On failure the working snapshot stays open
// and unsigned so the caller can retry or revert.
func (s *Session) Save(ctx context.Context, message string) (string, error) {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()

	bs := c.branchStateLocked(s.branchID)
	if bs.ws == nil || bs.owner != s {
		return "", &NoTransactionError{BranchID: s.branchID}
	}
	ws := bs.ws

	if !ws.dirty {
		if c.verbose {
			c.log.Warn("nothing to save", "branch", s.branchID, "working_snapshot", ws.id)
			return "", nil
		}
		return "", &EmptySaveError{BranchID: s.branchID}
	}

	info, err := c.branches.Get(s.branchID)
	if err != nil {
		return "", err
	}
	if info.Frozen {
		return "", &branch.BranchFrozenError{ID: s.branchID}
	}
	if subs, err := c.branches.SubBranches(s.branchID); err != nil {
		return "", err
	} else if len(subs) > 0 {
		return "", &branch.BranchHasChildrenError{ID: s.branchID}
	}

	entries := ws.entries()
	snapHash, err := doc.HashSnapshot(entries)
	if err != nil {
		return "", err
	}
	if err := ws.sign(snapHash); err != nil {
		return "", err
	}

	parentHash, err := c.st.GetRef(ctx, s.branchID, "CURRENT")
	if err != nil && !store.IsNotFound(err) {
		ws.hash = ""
		return "", err
	}
	now := c.clock().UTC()
	commitHash, err := doc.HashCommit(snapHash, parentHash, now.Format(time.RFC3339Nano))
	if err != nil {
		ws.hash = ""
		return "", err
	}

	err = c.st.WithTx(ctx, func(tx *store.Tx) error {
		for hash, d := range ws.pending {
			if err := tx.UpsertDocument(ctx, hash, d); err != nil {
				return err
			}
		}
		if err := tx.CreateSnapshot(ctx, ws.id, snapHash, now, entries); err != nil {
			return err
		}
		if err := tx.CreateCommit(ctx, store.CommitRecord{
			Hash:       commitHash,
			SnapshotID: ws.id,
			ParentHash: parentHash,
			Message:    message,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		return tx.SetRef(ctx, s.branchID, "CURRENT", commitHash)
	})
	if err != nil {
		// Leave the transaction open for retry; the hash must be
		// recomputed on the next attempt.
		ws.hash = ""
		return "", fmt.Errorf("save on branch %q: %w", s.branchID, err)
	}

	c.log.Debug("saved", "branch", s.branchID, "commit", commitHash, "snapshot", ws.id, "documents", len(entries))
	bs.ws = nil
	bs.owner = nil
	bs.cond.Broadcast()
	return commitHash, nil
}

// Revert discards the working snapshot with no durable side effects.
func (s *Session) Revert(ctx context.Context) error {
	c := s.core
	c.mu.Lock()
	defer c.mu.Unlock()

	bs := c.branchStateLocked(s.branchID)
	if bs.ws == nil || bs.owner != s {
		return &NoTransactionError{BranchID: s.branchID}
	}
	c.log.Debug("reverted", "branch", s.branchID, "working_snapshot", bs.ws.id)
	bs.ws = nil
	bs.owner = nil
	bs.cond.Broadcast()
	return nil
}

// HistoryEntry is one commit in a branch's lineage, nearest-first.
type HistoryEntry struct {
	SnapshotID string
	CommitHash string
	Timestamp  time.Time
	RefNames   []string
	Depth      int
}

// History walks parent pointers from the given commit to the root. An empty
// fromCommit starts at the branch's current commit; a branch with no commits
// yields an empty history.
func (s *Session) History(ctx context.Context, fromCommit string) ([]HistoryEntry, error) {
	c := s.core
	if fromCommit == "" {
		var err error
		fromCommit, err = c.st.GetRef(ctx, s.branchID, "CURRENT")
		if store.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	var out []HistoryEntry
	depth := 0
	err := c.st.WalkAncestors(ctx, fromCommit, func(rec store.CommitRecord) (bool, error) {
		names, err := c.st.RefNames(ctx, rec.Hash)
		if err != nil {
			return false, err
		}
		out = append(out, HistoryEntry{
			SnapshotID: rec.SnapshotID,
			CommitHash: rec.Hash,
			Timestamp:  rec.CreatedAt,
			RefNames:   names,
			Depth:      depth,
		})
		depth++
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetCurrentRef repoints the branch's CURRENT ref at a past commit, given
// either its hash or the id of the snapshot it promoted. When both are
// given, the commit hash wins and a warning is returned for the caller to
// surface. The in-memory working snapshot is discarded so the next access
// re-opens against the new ref.
func (s *Session) SetCurrentRef(ctx context.Context, snapshotID, commitHash string) (warning string, err error) {
	c := s.core

	switch {
	case commitHash != "" && snapshotID != "":
		warning = "both snapshot_id and commit_hash given; commit_hash takes precedence"
	case commitHash == "" && snapshotID == "":
		return "", fmt.Errorf("set ref on branch %q: need a snapshot id or a commit hash", s.branchID)
	}

	if commitHash == "" {
		commit, err := c.st.GetCommitBySnapshot(ctx, snapshotID)
		if store.IsNotFound(err) {
			return warning, &NoCommitError{SnapshotID: snapshotID}
		}
		if err != nil {
			return warning, err
		}
		commitHash = commit.Hash
	} else if _, err := c.st.GetCommit(ctx, commitHash); err != nil {
		return warning, fmt.Errorf("resolving commit %s: %w", commitHash, err)
	}

	if err := c.st.SetRef(ctx, s.branchID, "CURRENT", commitHash); err != nil {
		return warning, err
	}

	c.mu.Lock()
	bs := c.branchStateLocked(s.branchID)
	bs.ws = nil
	bs.owner = nil
	bs.cond.Broadcast()
	c.mu.Unlock()
	return warning, nil
}

// GetCommit resolves the commit that promoted the given snapshot.
func (s *Session) GetCommit(ctx context.Context, snapshotID string) (store.CommitRecord, error) {
	rec, err := s.core.st.GetCommitBySnapshot(ctx, snapshotID)
	if store.IsNotFound(err) {
		return store.CommitRecord{}, &NoCommitError{SnapshotID: snapshotID}
	}
	return rec, err
}
