package version

import (
	"errors"
	"fmt"
)

// ErrTransactionBusy is returned under the fail-fast policy when a second
// writer attempts to mutate a branch that already has an open working
// snapshot owned by someone else.
var ErrTransactionBusy = errors.New("transaction already open on branch")

// NoTransactionError indicates save or revert was called with no open
// working snapshot on the branch. Caller logic bug, always surfaced.
type NoTransactionError struct {
	BranchID string
}

func (e *NoTransactionError) Error() string {
	return fmt.Sprintf("no open transaction on branch %q", e.BranchID)
}

// EmptySaveError indicates save was called on a working snapshot with no
// staged changes. With verbose feedback enabled the condition degrades to a
// log line instead.
type EmptySaveError struct {
	BranchID string
}

func (e *EmptySaveError) Error() string {
	return fmt.Sprintf("nothing to save on branch %q", e.BranchID)
}

// IsEmptySave reports whether err is an EmptySaveError.
func IsEmptySave(err error) bool {
	var e *EmptySaveError
	return errors.As(err, &e)
}

// NoWorkingSnapshotError indicates a low-level staging primitive was called
// with no working snapshot open. Unlike the high-level mutators, these do
// not open one lazily.
type NoWorkingSnapshotError struct {
	BranchID string
}

func (e *NoWorkingSnapshotError) Error() string {
	return fmt.Sprintf("no working snapshot open on branch %q", e.BranchID)
}

// SnapshotIntegrityError indicates an attempt to sign a working snapshot
// that already carries a hash. A snapshot hash, once set, is final.
type SnapshotIntegrityError struct {
	SnapshotID string
}

func (e *SnapshotIntegrityError) Error() string {
	return fmt.Sprintf("working snapshot %q is already signed", e.SnapshotID)
}

// IntegrityError indicates a duplicate add: a document with the same id and
// hash is already staged in the working snapshot.
type IntegrityError struct {
	DocumentID string
	Hash       string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("document %q with hash %s is already staged", e.DocumentID, e.Hash)
}

// MissingVersionError indicates a snapshot entry whose content hash has no
// stored document. Snapshots only reference durable versions, so this means
// the store is corrupt.
type MissingVersionError struct {
	DocumentID string
	Hash       string
}

func (e *MissingVersionError) Error() string {
	return fmt.Sprintf("document %q version %s referenced by snapshot but not stored", e.DocumentID, e.Hash)
}

// NoCommitError indicates a snapshot that was never promoted by a commit.
type NoCommitError struct {
	SnapshotID string
}

func (e *NoCommitError) Error() string {
	return fmt.Sprintf("snapshot %q has no associated commit", e.SnapshotID)
}
