// Package harness runs declarative YAML scenarios against a database and
// records a trace of what happened. Scenarios double as readable examples of
// the versioning behaviors and as regression tests: the trace is compared
// against a golden file, and assertions check final state.
package harness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/query"
	"github.com/vellum-db/vellum/internal/vellum"
	"github.com/vellum-db/vellum/internal/version"
)

// Harness executes scenarios against one database handle.
type Harness struct {
	db    *vellum.DB
	clock func() time.Time
}

// Option configures a Harness.
type Option func(*Harness)

// WithClock fixes the timestamp source used for document creation times.
// Scenarios become fully deterministic with a deterministic clock.
func WithClock(fn func() time.Time) Option {
	return func(h *Harness) { h.clock = fn }
}

// New builds a harness around an open database.
func New(db *vellum.DB, opts ...Option) *Harness {
	h := &Harness{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq       int      `json:"seq"`
	Op        string   `json:"op"`
	Branch    string   `json:"branch,omitempty"`
	IDs       []string `json:"ids,omitempty"`
	Committed bool     `json:"committed,omitempty"`
}

// Result is the outcome of running a scenario.
type Result struct {
	Trace []TraceEvent
}

// Run executes every step of the scenario in order. Execution stops at the
// first failing step; find steps with an expect clause fail when the result
// does not match.
func (h *Harness) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	result := &Result{}
	for i, step := range sc.Steps {
		event, err := h.runStep(ctx, &step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
		event.Seq = i
		result.Trace = append(result.Trace, event)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, st *Step) (TraceEvent, error) {
	event := TraceEvent{Op: st.Op}

	switch st.Op {
	case "branch":
		event.Branch = st.Branch
		return event, h.db.Branches().Add(ctx, st.Branch, st.Parent)

	case "use":
		event.Branch = st.Branch
		return event, h.db.Branches().SetCurrent(st.Branch)

	case "freeze":
		event.Branch = st.Branch
		return event, h.db.Branches().Freeze(ctx, st.Branch)

	case "add", "update":
		docs := make([]*doc.Document, len(st.Docs))
		for i := range st.Docs {
			d, err := h.buildDocument(&st.Docs[i])
			if err != nil {
				return event, err
			}
			docs[i] = d
			event.IDs = append(event.IDs, d.ID)
		}
		if st.Op == "add" {
			return event, h.db.AddMany(ctx, docs)
		}
		return event, h.db.UpdateMany(ctx, docs)

	case "delete":
		event.IDs = st.IDs
		return event, h.db.DeleteMany(ctx, st.IDs)

	case "save":
		hash, err := h.db.Save(ctx, st.Message)
		event.Committed = hash != ""
		return event, err

	case "revert":
		return event, h.db.Revert(ctx)

	case "find":
		clauses, err := query.ParseClauses([]byte(st.Query))
		if err != nil {
			return event, err
		}
		found, err := h.db.Find(ctx, clauses, version.FindOptions{})
		if err != nil {
			return event, err
		}
		for _, d := range found {
			event.IDs = append(event.IDs, d.ID)
		}
		sort.Strings(event.IDs)
		if st.Expect != nil {
			if err := checkExpect(st.Expect, event.IDs); err != nil {
				return event, err
			}
		}
		return event, nil
	}

	return event, fmt.Errorf("unknown op %q", st.Op)
}

// buildDocument turns a scenario document literal into a staged-ready document.
func (h *Harness) buildDocument(ds *DocStep) (*doc.Document, error) {
	d := doc.New(ds.ID, ds.Class, h.clock().UTC())
	for group, fields := range ds.Groups {
		for field, raw := range fields {
			v, err := doc.FromGo(raw)
			if err != nil {
				return nil, fmt.Errorf("doc %s: %s.%s: %w", ds.ID, group, field, err)
			}
			d.SetProperty(group, field, v)
		}
	}
	return d, nil
}

func checkExpect(exp *ExpectClause, gotIDs []string) error {
	if len(gotIDs) != exp.Count {
		return fmt.Errorf("expected %d matches, got %d (%v)", exp.Count, len(gotIDs), gotIDs)
	}
	if len(exp.IDs) == 0 {
		return nil
	}
	want := append([]string(nil), exp.IDs...)
	sort.Strings(want)
	for i := range want {
		if gotIDs[i] != want[i] {
			return fmt.Errorf("expected ids %v, got %v", want, gotIDs)
		}
	}
	return nil
}
