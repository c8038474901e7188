package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/vellum-db/vellum/internal/doc"
)

// toCanonicalMap flattens a trace into plain Go values so it can be
// serialized with the same canonical JSON used for content addressing,
// keeping golden files byte-stable across runs.
func toCanonicalMap(name string, trace []TraceEvent) map[string]any {
	events := make([]any, len(trace))
	for i, event := range trace {
		m := map[string]any{
			"seq": event.Seq,
			"op":  event.Op,
		}
		if event.Branch != "" {
			m["branch"] = event.Branch
		}
		if event.IDs != nil {
			ids := make([]any, len(event.IDs))
			for j, id := range event.IDs {
				ids[j] = id
			}
			m["ids"] = ids
		}
		if event.Committed {
			m["committed"] = true
		}
		events[i] = m
	}
	return map[string]any{
		"name":  name,
		"trace": events,
	}
}

// RunWithGolden executes a scenario, checks its assertions, and compares the
// trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func (h *Harness) RunWithGolden(t *testing.T, sc *Scenario) error {
	t.Helper()

	result, err := h.Run(t.Context(), sc)
	if err != nil {
		return err
	}
	if err := h.CheckAssertions(t.Context(), sc); err != nil {
		return err
	}

	v, err := doc.FromGo(toCanonicalMap(sc.Name, result.Trace))
	if err != nil {
		return err
	}
	traceJSON, err := doc.MarshalCanonical(v)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, sc.Name, traceJSON)

	return nil
}
