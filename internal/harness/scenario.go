package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a declarative end-to-end exercise of a database: a sequence of
// steps run against a fresh store, followed by assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Steps is the ordered list of operations to run.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state after all steps have run.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is a single operation against the database. Op selects which of the
// remaining fields apply.
type Step struct {
	// Op is one of: branch, use, freeze, add, update, delete, save, revert, find.
	Op string `yaml:"op"`

	// Branch names the target branch (branch, use, freeze).
	Branch string `yaml:"branch,omitempty"`

	// Parent is the parent branch for a branch step. Empty means the
	// current branch.
	Parent string `yaml:"parent,omitempty"`

	// Docs are the documents to stage (add, update).
	Docs []DocStep `yaml:"docs,omitempty"`

	// IDs are the document ids to remove (delete).
	IDs []string `yaml:"ids,omitempty"`

	// Message is the commit message (save).
	Message string `yaml:"message,omitempty"`

	// Query is a wire-form query as a JSON string (find).
	Query string `yaml:"query,omitempty"`

	// Expect validates the result of a find step. Optional.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// DocStep describes a document literal inside a scenario.
type DocStep struct {
	ID     string                    `yaml:"id"`
	Class  string                    `yaml:"class"`
	Groups map[string]map[string]any `yaml:"groups,omitempty"`
}

// ExpectClause specifies the expected outcome of a find step.
type ExpectClause struct {
	// Count is the expected number of matches.
	Count int `yaml:"count"`

	// IDs, when non-empty, is the exact set of matching document ids.
	IDs []string `yaml:"ids,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of member_count, history_count, doc_present, doc_absent.
	Type string `yaml:"type"`

	// Branch scopes the assertion. Empty means the current branch.
	Branch string `yaml:"branch,omitempty"`

	// ID is the document id (doc_present, doc_absent).
	ID string `yaml:"id,omitempty"`

	// Count is the expected count (member_count, history_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertMemberCount  = "member_count"
	AssertHistoryCount = "history_count"
	AssertDocPresent   = "doc_present"
	AssertDocAbsent    = "doc_absent"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping a step.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Op {
	case "branch", "use", "freeze":
		if st.Branch == "" {
			return fmt.Errorf("steps[%d]: branch is required for %s", index, st.Op)
		}
	case "add", "update":
		if len(st.Docs) == 0 {
			return fmt.Errorf("steps[%d]: docs list is required for %s", index, st.Op)
		}
		for j, d := range st.Docs {
			if d.ID == "" {
				return fmt.Errorf("steps[%d].docs[%d]: id is required", index, j)
			}
			if d.Class == "" {
				return fmt.Errorf("steps[%d].docs[%d]: class is required", index, j)
			}
		}
	case "delete":
		if len(st.IDs) == 0 {
			return fmt.Errorf("steps[%d]: ids list is required for delete", index)
		}
	case "save":
		if st.Message == "" {
			return fmt.Errorf("steps[%d]: message is required for save", index)
		}
	case "find":
		if st.Query == "" {
			return fmt.Errorf("steps[%d]: query is required for find", index)
		}
	case "revert":
		// No extra fields.
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertMemberCount, AssertHistoryCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertDocPresent, AssertDocAbsent:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
