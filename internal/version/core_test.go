package version

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum-db/vellum/internal/branch"
	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/ident"
	"github.com/vellum-db/vellum/internal/query"
	"github.com/vellum-db/vellum/internal/store"
	"github.com/vellum-db/vellum/internal/testutil"
)

var testBase = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	core     *Core
	branches *branch.Manager
	st       *store.Store
	clock    *testutil.DeterministicClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	branches, err := branch.NewManager(ctx, st)
	require.NoError(t, err)
	require.NoError(t, branches.Add(ctx, "a", ""))

	clock := testutil.NewDeterministicClock(testBase, time.Second)
	if opts.IDs == nil {
		opts.IDs = ident.Sequence("ws", 32)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	opts.Logger = slog.New(slog.DiscardHandler)

	return &fixture{
		core:     NewCore(st, branches, opts),
		branches: branches,
		st:       st,
		clock:    clock,
	}
}

func stageDoc(t *testing.T, s *Session, id string) (*doc.Document, string) {
	t.Helper()
	d := doc.New(id, "person", testBase)
	d.SetProperty("info", "name", doc.String(id))
	h, err := doc.HashDocument(d)
	require.NoError(t, err)
	require.NoError(t, s.Add(context.Background(), d, h))
	return d, h
}

func TestBasicVersioning(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	docA, hashA := stageDoc(t, s, "doc-a")

	_, err := s.Save(ctx, "first")
	require.NoError(t, err)

	found, err := s.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, docA.ID, found[0].ID)

	inHistory, err := s.Find(ctx, nil, FindOptions{InAllHistory: true})
	require.NoError(t, err)
	assert.Len(t, inHistory, 1)

	// Remove the document and save again.
	openWorking(t, s)
	require.NoError(t, s.RemoveFromSnapshot(ctx, hashA))
	_, err = s.Save(ctx, "removed")
	require.NoError(t, err)

	found, err = s.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, found)

	// Superseded, not erased.
	inHistory, err = s.Find(ctx, nil, FindOptions{InAllHistory: true})
	require.NoError(t, err)
	require.Len(t, inHistory, 1)
	assert.Equal(t, "doc-a", inHistory[0].ID)
}

func openWorking(t *testing.T, s *Session) {
	t.Helper()
	_, err := s.WorkingSnapshotID(context.Background())
	require.NoError(t, err)
}

func TestCommitChainIntegrity(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	const saves = 3
	var commits []string
	for i := 0; i < saves; i++ {
		stageDoc(t, s, "doc-"+string(rune('a'+i)))
		hash, err := s.Save(ctx, "save")
		require.NoError(t, err)
		commits = append(commits, hash)
	}

	history, err := s.History(ctx, "")
	require.NoError(t, err)
	require.Len(t, history, saves)

	for i, entry := range history {
		assert.Equal(t, i, entry.Depth)
		// Nearest-first: history[0] is the last commit.
		assert.Equal(t, commits[saves-1-i], entry.CommitHash)
	}
	// Only the tip carries the CURRENT ref.
	assert.Equal(t, []string{"a/CURRENT"}, history[0].RefNames)
	assert.Empty(t, history[1].RefNames)

	// Each commit's parent is the previous commit's hash, and the first
	// commit has no parent.
	for i := 0; i < saves; i++ {
		rec, err := f.st.GetCommit(ctx, commits[i])
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, "", rec.ParentHash)
		} else {
			assert.Equal(t, commits[i-1], rec.ParentHash)
		}
	}
}

func TestSaveWithoutTransaction(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	var noTx *NoTransactionError
	_, err := s.Save(ctx, "nothing open")
	require.ErrorAs(t, err, &noTx)
	require.ErrorAs(t, s.Revert(ctx), &noTx)
}

func TestEmptySaveFailsByDefault(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	_, err := s.WorkingSnapshotID(ctx)
	require.NoError(t, err)

	var empty *EmptySaveError
	_, err = s.Save(ctx, "empty")
	require.ErrorAs(t, err, &empty)
	assert.True(t, IsEmptySave(err))

	// The transaction survives the rejection.
	stageDoc(t, s, "doc-a")
	hash, err := s.Save(ctx, "real")
	require.NoError(t, err)
	assert.NotEqual(t, "", hash)
}

func TestEmptySaveIsSoftWithVerboseFeedback(t *testing.T) {
	f := newFixture(t, Options{VerboseFeedback: true})
	ctx := context.Background()
	s := f.core.Session("a")

	// Open a working snapshot without staging anything.
	_, err := s.WorkingSnapshotID(ctx)
	require.NoError(t, err)

	hash, err := s.Save(ctx, "empty")
	require.NoError(t, err)
	assert.Equal(t, "", hash)

	// The transaction is still open; staging then saving works.
	stageDoc(t, s, "doc-a")
	hash, err = s.Save(ctx, "real")
	require.NoError(t, err)
	assert.NotEqual(t, "", hash)
}

func TestRevertDiscardsStagedWork(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	stageDoc(t, s, "doc-a")
	require.NoError(t, s.Revert(ctx))

	found, err := s.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, found)

	all, err := s.Find(ctx, nil, FindOptions{InAllHistory: true})
	require.NoError(t, err)
	assert.Empty(t, all, "revert must leave no durable trace")
}

func TestDuplicateAdd(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	d, h := stageDoc(t, s, "doc-a")

	var integrity *IntegrityError
	require.ErrorAs(t, s.Add(ctx, d, h), &integrity)
	assert.Equal(t, "doc-a", integrity.DocumentID)

	// Upsert replaces silently, including with changed content.
	d2 := d.Clone()
	d2.SetProperty("info", "name", doc.String("renamed"))
	h2, err := doc.HashDocument(d2)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, d2, h2))

	got, err := s.FindByID(ctx, "doc-a", FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	v, _ := got.Property("info.name")
	assert.Equal(t, doc.String("renamed"), v)
}

func TestStagingPrimitivesRequireOpenSnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	var noWS *NoWorkingSnapshotError
	require.ErrorAs(t, s.RemoveFromSnapshot(ctx, "some-hash"), &noWS)
	require.ErrorAs(t, s.RemoveIDFromSnapshot(ctx, "some-id"), &noWS)
}

// Content hashes exclude the id, so two documents can share a hash. Removing
// one by id must leave the other staged, payload included.
func TestRemoveByIDKeepsSharedContent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	twin := func(id string) (*doc.Document, string) {
		d := doc.New(id, "person", testBase)
		d.SetProperty("info", "name", doc.String("ada"))
		h, err := doc.HashDocument(d)
		require.NoError(t, err)
		return d, h
	}

	d1, h1 := twin("doc-1")
	d2, h2 := twin("doc-2")
	require.Equal(t, h1, h2)
	require.NoError(t, s.Add(ctx, d1, h1))
	require.NoError(t, s.Add(ctx, d2, h2))

	require.NoError(t, s.RemoveIDFromSnapshot(ctx, "doc-2"))

	_, err := s.Save(ctx, "one twin")
	require.NoError(t, err)

	kept, err := s.FindByID(ctx, "doc-1", FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "doc-1", kept.ID)

	gone, err := s.FindByID(ctx, "doc-2", FindOptions{})
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestConcurrentGuardFailFast(t *testing.T) {
	f := newFixture(t, Options{Policy: TxFail})
	ctx := context.Background()

	first := f.core.Session("a")
	second := f.core.Session("a")

	stageDoc(t, first, "doc-a")

	d := doc.New("doc-b", "person", testBase)
	h, err := doc.HashDocument(d)
	require.NoError(t, err)
	require.ErrorIs(t, second.Add(ctx, d, h), ErrTransactionBusy)

	// After the first writer resolves, the second gets through.
	_, err = first.Save(ctx, "first writer")
	require.NoError(t, err)
	require.NoError(t, second.Add(ctx, d, h))
	_, err = second.Save(ctx, "second writer")
	require.NoError(t, err)

	// Both writes survived: no silent data loss.
	found, err := second.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestConcurrentGuardBlocks(t *testing.T) {
	f := newFixture(t, Options{Policy: TxBlock})
	ctx := context.Background()

	first := f.core.Session("a")
	second := f.core.Session("a")

	stageDoc(t, first, "doc-a")

	d := doc.New("doc-b", "person", testBase)
	h, err := doc.HashDocument(d)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := second.Add(ctx, d, h); err != nil {
			t.Errorf("blocked writer failed: %v", err)
		}
	}()

	// Give the second writer time to park, then resolve the first.
	time.Sleep(50 * time.Millisecond)
	_, err = first.Save(ctx, "first writer")
	require.NoError(t, err)
	wg.Wait()

	_, err = second.Save(ctx, "second writer")
	require.NoError(t, err)

	found, err := second.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestFindScopePrecedence(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	stageDoc(t, s, "doc-a")
	firstCommit, err := s.Save(ctx, "first")
	require.NoError(t, err)
	firstSnapshot := commitSnapshot(t, f, firstCommit)

	stageDoc(t, s, "doc-b")
	_, err = s.Save(ctx, "second")
	require.NoError(t, err)

	// Working scope (no open snapshot): reads the current ref.
	found, err := s.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	// Commit scope: the first commit had one document.
	found, err = s.Find(ctx, nil, FindOptions{CommitHash: firstCommit})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	// Snapshot scope wins over commit scope.
	found, err = s.Find(ctx, nil, FindOptions{SnapshotID: firstSnapshot, CommitHash: "ignored"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	// Query filters apply inside the scope.
	clauses := []query.Clause{query.New("info.name", query.OpExactString, doc.String("doc-b"))}
	found, err = s.Find(ctx, clauses, FindOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "doc-b", found[0].ID)
}

func commitSnapshot(t *testing.T, f *fixture, commitHash string) string {
	t.Helper()
	rec, err := f.st.GetCommit(context.Background(), commitHash)
	require.NoError(t, err)
	return rec.SnapshotID
}

func TestFindByIDAndHashSentinels(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	_, hash := stageDoc(t, s, "doc-a")
	_, err := s.Save(ctx, "first")
	require.NoError(t, err)

	got, err := s.FindByID(ctx, "doc-a", FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)

	got, err = s.FindByHash(ctx, hash, FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)

	// Absence is a nil document, never an error.
	got, err = s.FindByID(ctx, "ghost", FindOptions{})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.FindByHash(ctx, "no-such-hash", FindOptions{InAllHistory: true})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSetCurrentRef(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	stageDoc(t, s, "doc-a")
	firstCommit, err := s.Save(ctx, "first")
	require.NoError(t, err)
	firstSnapshot := commitSnapshot(t, f, firstCommit)

	stageDoc(t, s, "doc-b")
	secondCommit, err := s.Save(ctx, "second")
	require.NoError(t, err)

	// Checkout the first commit by snapshot id.
	warning, err := s.SetCurrentRef(ctx, firstSnapshot, "")
	require.NoError(t, err)
	assert.Equal(t, "", warning)

	found, err := s.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	// Both given: commit hash wins, with a warning.
	warning, err = s.SetCurrentRef(ctx, firstSnapshot, secondCommit)
	require.NoError(t, err)
	assert.NotEqual(t, "", warning)

	found, err = s.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	// Neither given is a caller error.
	_, err = s.SetCurrentRef(ctx, "", "")
	require.Error(t, err)
}

func TestGetCommitForUncommittedSnapshot(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	var noCommit *NoCommitError
	_, err := s.GetCommit(ctx, "never-committed")
	require.ErrorAs(t, err, &noCommit)
}

func TestSaveOnFrozenBranch(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	stageDoc(t, s, "doc-a")
	require.NoError(t, f.branches.Freeze(ctx, "a"))

	var frozen *branch.BranchFrozenError
	_, err := s.Save(ctx, "rejected")
	require.ErrorAs(t, err, &frozen)
}

// Edits never touch the creation time, so versions of one id tie on it.
// The in-history lookup must resolve the tie to the most recently persisted
// version, not to any content ordering.
func TestFindByIDInHistoryReturnsNewestVersion(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	rev := func(name string) string {
		d := doc.New("doc-x", "person", testBase)
		d.SetProperty("info", "name", doc.String(name))
		h, err := doc.HashDocument(d)
		require.NoError(t, err)
		require.NoError(t, s.Upsert(ctx, d, h))
		return h
	}

	h1 := rev("alpha")
	_, err := s.Save(ctx, "first")
	require.NoError(t, err)

	h2 := rev("beta")
	_, err = s.Save(ctx, "second")
	require.NoError(t, err)

	// The newer version sorts after the older one by hash, so a lookup
	// ordered by content hash would return the stale version here.
	require.Greater(t, h2, h1)

	got, err := s.FindByID(ctx, "doc-x", FindOptions{InAllHistory: true})
	require.NoError(t, err)
	require.NotNil(t, got)
	v, ok := got.Property("info.name")
	require.True(t, ok)
	assert.Equal(t, doc.String("beta"), v)
}

func TestSaveOnBranchWithChildren(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	stageDoc(t, s, "doc-a")
	require.NoError(t, f.branches.Add(ctx, "a-child", "a"))

	var hasChildren *branch.BranchHasChildrenError
	_, err := s.Save(ctx, "rejected")
	require.ErrorAs(t, err, &hasChildren)
}

func TestSnapshotHashSignedOnce(t *testing.T) {
	ws := newWorkingSnapshot("ws-0", "", nil)
	require.NoError(t, ws.sign("hash-1"))

	var integrity *SnapshotIntegrityError
	require.ErrorAs(t, ws.sign("hash-2"), &integrity)
}

func TestWorkingSnapshotSeededFromRef(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	s := f.core.Session("a")

	stageDoc(t, s, "doc-a")
	_, err := s.Save(ctx, "first")
	require.NoError(t, err)

	// The next working snapshot starts from the committed state.
	id, err := s.WorkingSnapshotID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "", id)

	found, err := s.Find(ctx, nil, FindOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
