// Package query implements Vellum's boolean query language: a tree of
// clauses evaluated against a document's nested property groups.
//
// A leaf clause is {field, operation, param1, param2}; a list of clauses is
// an implicit AND; the "or" operator combines two nested clause structures.
// Operator names are case-insensitive and may be prefixed with "~" to negate
// the result. The same clause shape is both the in-process representation
// and the JSON wire form handed to the storage backend's filter translation.
package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vellum-db/vellum/internal/doc"
)

// Operator names understood by the matcher. Names are matched
// case-insensitively; each may carry a "~" prefix for negation.
const (
	OpExactString        = "exact_string"
	OpExactStringAnyCase = "exact_string_anycase"
	OpContainsString     = "contains_string"
	OpRegexp             = "regexp"
	OpExactNumber        = "exact_number"
	OpLessThan           = "lessthan"
	OpLessThanEq         = "lessthaneq"
	OpGreaterThan        = "greaterthan"
	OpGreaterThanEq      = "greaterthaneq"
	OpHasSize            = "hassize"
	OpHasField           = "hasfield"
	OpHasMember          = "hasmember"
	OpIsA                = "isa"
	OpOr                 = "or"
)

// Clause is one node of the query predicate tree.
//
// For leaf operators, Param1/Param2 carry the comparison parameters.
// For the "or" operator, Sub1/Sub2 carry the nested clause structures
// (each an implicit AND) and Param1/Param2 are unused.
//
// Field is a dot-separated path into the document's property groups
// ("app.os"). The empty field path means "the document itself", used by
// structural operators like isa.
type Clause struct {
	Field  string
	Op     string
	Param1 doc.Value
	Param2 doc.Value
	Sub1   []Clause
	Sub2   []Clause
}

// New builds a leaf clause. The operator keeps whatever case and "~" prefix
// the caller wrote; normalization happens at evaluation time.
func New(field, op string, params ...doc.Value) Clause {
	c := Clause{Field: field, Op: op}
	if len(params) > 0 {
		c.Param1 = params[0]
	}
	if len(params) > 1 {
		c.Param2 = params[1]
	}
	return c
}

// Or combines two clauses into a disjunction.
func Or(a, b Clause) Clause {
	return Clause{Op: OpOr, Sub1: []Clause{a}, Sub2: []Clause{b}}
}

// Or is the method form of the package-level Or, so composed queries read
// left to right: q1.Or(q2).
func (c Clause) Or(other Clause) Clause {
	return Or(c, other)
}

// And builds an explicit conjunction list. A []Clause is already an implicit
// AND; this exists for readable call sites.
func And(clauses ...Clause) []Clause {
	return clauses
}

// NormalizeOp splits an operator into its canonical lowercase name and
// negation flag.
func NormalizeOp(op string) (name string, negated bool) {
	if strings.HasPrefix(op, "~") {
		negated = true
		op = op[1:]
	}
	return strings.ToLower(op), negated
}

// clauseWire is the serialized shape of a clause. Composite AND is a JSON
// array of these; composite OR is one clause with operation "or" whose
// params hold nested clause structures.
type clauseWire struct {
	Field     string          `json:"field"`
	Operation string          `json:"operation"`
	Param1    json.RawMessage `json:"param1,omitempty"`
	Param2    json.RawMessage `json:"param2,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Clause) MarshalJSON() ([]byte, error) {
	w := clauseWire{Field: c.Field, Operation: c.Op}

	name, _ := NormalizeOp(c.Op)
	if name == OpOr {
		var err error
		if w.Param1, err = marshalSub(c.Sub1); err != nil {
			return nil, err
		}
		if w.Param2, err = marshalSub(c.Sub2); err != nil {
			return nil, err
		}
		return json.Marshal(w)
	}

	if c.Param1 != nil {
		data, err := json.Marshal(c.Param1)
		if err != nil {
			return nil, err
		}
		w.Param1 = data
	}
	if c.Param2 != nil {
		data, err := json.Marshal(c.Param2)
		if err != nil {
			return nil, err
		}
		w.Param2 = data
	}
	return json.Marshal(w)
}

func marshalSub(sub []Clause) (json.RawMessage, error) {
	if len(sub) == 0 {
		return nil, nil
	}
	if len(sub) == 1 {
		return json.Marshal(sub[0])
	}
	return json.Marshal(sub)
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Clause) UnmarshalJSON(data []byte) error {
	var w clauseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	c.Field = w.Field
	c.Op = w.Operation
	c.Param1, c.Param2 = nil, nil
	c.Sub1, c.Sub2 = nil, nil

	name, _ := NormalizeOp(w.Operation)
	if name == OpOr {
		var err error
		if c.Sub1, err = unmarshalSub(w.Param1); err != nil {
			return fmt.Errorf("or param1: %w", err)
		}
		if c.Sub2, err = unmarshalSub(w.Param2); err != nil {
			return fmt.Errorf("or param2: %w", err)
		}
		return nil
	}

	if len(w.Param1) > 0 {
		v, err := doc.UnmarshalValue(w.Param1)
		if err != nil {
			return fmt.Errorf("param1: %w", err)
		}
		c.Param1 = v
	}
	if len(w.Param2) > 0 {
		v, err := doc.UnmarshalValue(w.Param2)
		if err != nil {
			return fmt.Errorf("param2: %w", err)
		}
		c.Param2 = v
	}
	return nil
}

// unmarshalSub decodes a nested clause structure: a single clause object or
// an array of clauses (implicit AND).
func unmarshalSub(data json.RawMessage) ([]Clause, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	switch data[0] {
	case '[':
		var list []Clause
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		var one Clause
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, err
		}
		return []Clause{one}, nil
	default:
		return nil, fmt.Errorf("expected clause object or array, got %s", string(data))
	}
}

// ParseClauses decodes a wire-form query: a single clause object or an array
// of clauses (implicit AND).
func ParseClauses(data []byte) ([]Clause, error) {
	list, err := unmarshalSub(data)
	if err != nil {
		return nil, malformed("parse query: %v", err)
	}
	return list, nil
}
