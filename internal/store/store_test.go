package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vellum-db/vellum/internal/doc"
)

// createTestStore creates a file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestDocument(id, class string) *doc.Document {
	d := doc.New(id, class, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	d.SetProperty("info", "name", doc.String(id))
	return d
}

func mustHash(t *testing.T, d *doc.Document) string {
	t.Helper()
	h, err := doc.HashDocument(d)
	if err != nil {
		t.Fatalf("HashDocument() failed: %v", err)
	}
	return h
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	s2.Close()
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Errorf("journal_mode: %v", err)
	}
	if err := s.verifyPragma("foreign_keys", "1"); err != nil {
		t.Errorf("foreign_keys: %v", err)
	}
}

func TestBranchCRUD(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.CreateBranch(ctx, "main", ""); err != nil {
		t.Fatalf("CreateBranch(main) failed: %v", err)
	}
	if err := s.CreateBranch(ctx, "dev", "main"); err != nil {
		t.Fatalf("CreateBranch(dev) failed: %v", err)
	}

	// Duplicate id is a constraint violation.
	if err := s.CreateBranch(ctx, "main", ""); err == nil {
		t.Error("duplicate CreateBranch should fail")
	}

	branches, err := s.ListBranches(ctx)
	if err != nil {
		t.Fatalf("ListBranches() failed: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("got %d branches, want 2", len(branches))
	}
	if branches[0].ID != "main" || branches[1].ID != "dev" {
		t.Errorf("branches out of insertion order: %v", branches)
	}
	if branches[1].ParentID != "main" {
		t.Errorf("dev parent = %q, want main", branches[1].ParentID)
	}

	if err := s.SetBranchFrozen(ctx, "dev", true); err != nil {
		t.Fatalf("SetBranchFrozen() failed: %v", err)
	}
	branches, _ = s.ListBranches(ctx)
	if !branches[1].Frozen {
		t.Error("dev should be frozen")
	}

	if err := s.DeleteBranch(ctx, "dev"); err != nil {
		t.Fatalf("DeleteBranch() failed: %v", err)
	}
	if err := s.DeleteBranch(ctx, "dev"); !IsNotFound(err) {
		t.Errorf("deleting absent branch: got %v, want ErrNotFound", err)
	}
}

func TestBranchMembership(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.CreateBranch(ctx, "main", ""); err != nil {
		t.Fatal(err)
	}

	inserted, err := s.AddBranchMember(ctx, "main", "doc-1")
	if err != nil || !inserted {
		t.Fatalf("AddBranchMember() = (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = s.AddBranchMember(ctx, "main", "doc-1")
	if err != nil || inserted {
		t.Fatalf("duplicate AddBranchMember() = (%v, %v), want (false, nil)", inserted, err)
	}

	members, err := s.ListBranchMembers(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "doc-1" {
		t.Errorf("members = %v, want [doc-1]", members)
	}

	if err := s.RemoveBranchMember(ctx, "main", "doc-1"); err != nil {
		t.Fatal(err)
	}
	members, _ = s.ListBranchMembers(ctx, "main")
	if len(members) != 0 {
		t.Errorf("members after remove = %v, want []", members)
	}
}

func TestCopyBranchMembersIsByValue(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	s.CreateBranch(ctx, "main", "")
	s.AddBranchMember(ctx, "main", "doc-1")
	s.AddBranchMember(ctx, "main", "doc-2")

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.CreateBranch(ctx, "dev", "main"); err != nil {
			return err
		}
		return tx.CopyBranchMembers(ctx, "dev", "main")
	})
	if err != nil {
		t.Fatalf("copy-on-branch tx failed: %v", err)
	}

	// A later change to main does not leak into dev.
	s.AddBranchMember(ctx, "main", "doc-3")

	devMembers, _ := s.ListBranchMembers(ctx, "dev")
	if len(devMembers) != 2 {
		t.Errorf("dev members = %v, want the two copied at branch time", devMembers)
	}
}

func TestDocumentUpsertAndGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	d := createTestDocument("doc-1", "person")
	h := mustHash(t, d)

	if err := s.UpsertDocument(ctx, h, d); err != nil {
		t.Fatalf("UpsertDocument() failed: %v", err)
	}
	// Idempotent: same hash again is a no-op.
	if err := s.UpsertDocument(ctx, h, d); err != nil {
		t.Fatalf("second UpsertDocument() failed: %v", err)
	}

	got, err := s.GetDocumentByHash(ctx, h)
	if err != nil {
		t.Fatalf("GetDocumentByHash() failed: %v", err)
	}
	if got.ID != "doc-1" || got.ClassName != "person" {
		t.Errorf("got %+v", got)
	}
	if rt := mustHash(t, got); rt != h {
		t.Errorf("round-trip hash = %s, want %s", rt, h)
	}

	if _, err := s.GetDocumentByHash(ctx, "nope"); !IsNotFound(err) {
		t.Errorf("absent hash: got %v, want ErrNotFound", err)
	}
}

func TestDocumentVersionsByID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v1 := createTestDocument("doc-1", "person")
	v2 := createTestDocument("doc-1", "person")
	v2.SetProperty("info", "name", doc.String("renamed"))

	s.UpsertDocument(ctx, mustHash(t, v1), v1)
	s.UpsertDocument(ctx, mustHash(t, v2), v2)

	versions, err := s.GetDocumentsByID(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Errorf("got %d versions, want 2 (superseded versions stay addressable)", len(versions))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	d := createTestDocument("doc-1", "person")
	h := mustHash(t, d)
	entries := []doc.SnapshotEntry{{DocumentID: "doc-1", DocumentHash: h}}
	snapHash, err := doc.HashSnapshot(entries)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	err = s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertDocument(ctx, h, d); err != nil {
			return err
		}
		return tx.CreateSnapshot(ctx, "snap-1", snapHash, now, entries)
	})
	if err != nil {
		t.Fatalf("snapshot tx failed: %v", err)
	}

	rec, err := s.GetSnapshot(ctx, "snap-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Hash != snapHash || !rec.CreatedAt.Equal(now) {
		t.Errorf("snapshot record = %+v", rec)
	}

	got, err := s.ListSnapshotEntries(ctx, "snap-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != entries[0] {
		t.Errorf("entries = %v, want %v", got, entries)
	}
}

func TestCommitChainAndRefs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.CreateBranch(ctx, "main", "")

	mkCommit := func(hash, snapID, parent string, at time.Time) {
		t.Helper()
		err := s.WithTx(ctx, func(tx *Tx) error {
			if err := tx.CreateSnapshot(ctx, snapID, "snap-hash-"+snapID, at, nil); err != nil {
				return err
			}
			if err := tx.CreateCommit(ctx, CommitRecord{
				Hash: hash, SnapshotID: snapID, ParentHash: parent, Message: "m", CreatedAt: at,
			}); err != nil {
				return err
			}
			return tx.SetRef(ctx, "main", "CURRENT", hash)
		})
		if err != nil {
			t.Fatalf("commit tx failed: %v", err)
		}
	}

	mkCommit("c1", "s1", "", now)
	mkCommit("c2", "s2", "c1", now.Add(time.Minute))

	// Ref advanced to the tip.
	tip, err := s.GetRef(ctx, "main", "CURRENT")
	if err != nil {
		t.Fatal(err)
	}
	if tip != "c2" {
		t.Errorf("CURRENT = %s, want c2", tip)
	}

	// Ancestors walk nearest-first and stop at the null parent.
	var walked []string
	err = s.WalkAncestors(ctx, "c2", func(c CommitRecord) (bool, error) {
		walked = append(walked, c.Hash)
		return true, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(walked) != 2 || walked[0] != "c2" || walked[1] != "c1" {
		t.Errorf("walk = %v, want [c2 c1]", walked)
	}

	// Snapshot -> commit resolution.
	c, err := s.GetCommitBySnapshot(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if c.Hash != "c1" {
		t.Errorf("commit for s1 = %s, want c1", c.Hash)
	}

	names, err := s.RefNames(ctx, "c2")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "main/CURRENT" {
		t.Errorf("ref names = %v", names)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	d := createTestDocument("doc-1", "person")
	h := mustHash(t, d)

	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertDocument(ctx, h, d); err != nil {
			return err
		}
		// Violates the snapshots foreign key: unknown doc hash.
		return tx.CreateSnapshot(ctx, "snap-1", "x", time.Now(), []doc.SnapshotEntry{
			{DocumentID: "ghost", DocumentHash: "no-such-hash"},
		})
	})
	if err == nil {
		t.Fatal("tx should have failed")
	}

	// Nothing from the failed transaction is visible.
	if _, err := s.GetDocumentByHash(ctx, h); !IsNotFound(err) {
		t.Errorf("document visible after rollback: %v", err)
	}
	if _, err := s.GetSnapshot(ctx, "snap-1"); !IsNotFound(err) {
		t.Errorf("snapshot visible after rollback: %v", err)
	}
}
