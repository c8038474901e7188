package harness

import (
	"context"
	"fmt"

	"github.com/vellum-db/vellum/internal/version"
)

// CheckAssertions validates a scenario's assertions against the database
// state left behind by Run. Assertions that name a branch switch to it; the
// previously current branch is restored afterwards.
func (h *Harness) CheckAssertions(ctx context.Context, sc *Scenario) error {
	for i, a := range sc.Assertions {
		if err := h.checkAssertion(ctx, &a); err != nil {
			return fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func (h *Harness) checkAssertion(ctx context.Context, a *Assertion) error {
	branches := h.db.Branches()

	branchID := a.Branch
	if branchID == "" {
		branchID = branches.Current()
	}

	switch a.Type {
	case AssertMemberCount:
		members, err := branches.MemberIDs(branchID)
		if err != nil {
			return err
		}
		if len(members) != a.Count {
			return fmt.Errorf("branch %s: expected %d members, got %d (%v)",
				branchID, a.Count, len(members), members)
		}

	case AssertHistoryCount:
		restore := branches.Current()
		if err := branches.SetCurrent(branchID); err != nil {
			return err
		}
		entries, err := h.db.History(ctx, "")
		if restoreErr := branches.SetCurrent(restore); restoreErr != nil {
			return restoreErr
		}
		if err != nil {
			return err
		}
		if len(entries) != a.Count {
			return fmt.Errorf("branch %s: expected %d history entries, got %d",
				branchID, a.Count, len(entries))
		}

	case AssertDocPresent, AssertDocAbsent:
		restore := branches.Current()
		if err := branches.SetCurrent(branchID); err != nil {
			return err
		}
		d, err := h.db.FindByID(ctx, a.ID, version.FindOptions{})
		if restoreErr := branches.SetCurrent(restore); restoreErr != nil {
			return restoreErr
		}
		if err != nil {
			return err
		}
		if a.Type == AssertDocPresent && d == nil {
			return fmt.Errorf("document %s not found on branch %s", a.ID, branchID)
		}
		if a.Type == AssertDocAbsent && d != nil {
			return fmt.Errorf("document %s unexpectedly present on branch %s", a.ID, branchID)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	return nil
}
