package branch

import (
	"errors"
	"fmt"
)

// UnknownBranchError indicates a reference to a branch id that does not exist.
type UnknownBranchError struct {
	ID string
}

func (e *UnknownBranchError) Error() string {
	return fmt.Sprintf("unknown branch %q", e.ID)
}

// DuplicateBranchError indicates an attempt to create a branch id that
// already exists.
type DuplicateBranchError struct {
	ID string
}

func (e *DuplicateBranchError) Error() string {
	return fmt.Sprintf("branch %q already exists", e.ID)
}

// UnknownParentError indicates a branch creation naming a parent that does
// not exist.
type UnknownParentError struct {
	ID string
}

func (e *UnknownParentError) Error() string {
	return fmt.Sprintf("unknown parent branch %q", e.ID)
}

// BranchFrozenError indicates a mutation attempted on a frozen branch.
type BranchFrozenError struct {
	ID string
}

func (e *BranchFrozenError) Error() string {
	return fmt.Sprintf("branch %q is frozen", e.ID)
}

// BranchHasChildrenError indicates a deletion attempted on a branch that
// still has sub-branches.
type BranchHasChildrenError struct {
	ID string
}

func (e *BranchHasChildrenError) Error() string {
	return fmt.Sprintf("branch %q has sub-branches", e.ID)
}

// DuplicateMemberError indicates a document id that is already a member of
// the target branch.
type DuplicateMemberError struct {
	BranchID   string
	DocumentID string
}

func (e *DuplicateMemberError) Error() string {
	return fmt.Sprintf("document %q is already a member of branch %q", e.DocumentID, e.BranchID)
}

// IsUnknownBranch reports whether err is an UnknownBranchError.
func IsUnknownBranch(err error) bool {
	var target *UnknownBranchError
	return errors.As(err, &target)
}

// IsDuplicateMember reports whether err is a DuplicateMemberError.
func IsDuplicateMember(err error) bool {
	var target *DuplicateMemberError
	return errors.As(err, &target)
}
