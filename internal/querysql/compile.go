// Package querysql compiles query clauses to parameterized SQL fragments
// over the documents table, using SQLite's JSON1 functions against the
// stored payload.
//
// The compiler is deliberately conservative: it only emits SQL whose result
// is exactly equivalent to the in-memory matcher, and reports
// ErrNotTranslatable for everything else so the caller can fall back to a
// full scan filtered by the matcher. Values are always parameterized, never
// interpolated.
package querysql

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/query"
)

// ErrNotTranslatable marks a clause the compiler cannot express in SQL with
// matcher-equivalent semantics. Not an error condition for callers: it
// selects the in-memory fallback path.
var ErrNotTranslatable = errors.New("clause not translatable to SQL")

// Compile translates a clause list (implicit AND) into a WHERE fragment and
// its parameters. An empty clause list compiles to an empty fragment,
// meaning no filter.
func Compile(clauses []query.Clause) (string, []any, error) {
	if len(clauses) == 0 {
		return "", nil, nil
	}
	var parts []string
	var params []any
	for _, c := range clauses {
		sql, p, err := compileClause(c)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return strings.Join(parts, " AND "), params, nil
}

func compileClause(c query.Clause) (string, []any, error) {
	name, negated := query.NormalizeOp(c.Op)

	sql, params, err := compilePositive(c, name)
	if err != nil {
		return "", nil, err
	}
	// A missing field makes the positive fragment NULL, and NOT (NULL) is
	// NULL under three-valued logic. The matcher resolves missing-field to
	// false before negating, so the fragment must be pinned to false first.
	if negated {
		sql = "NOT IFNULL((" + sql + "), 0)"
	}
	return sql, params, nil
}

func compilePositive(c query.Clause, name string) (string, []any, error) {
	switch name {
	case query.OpOr:
		left, lp, err := Compile(c.Sub1)
		if err != nil {
			return "", nil, err
		}
		right, rp, err := Compile(c.Sub2)
		if err != nil {
			return "", nil, err
		}
		if left == "" || right == "" {
			return "", nil, fmt.Errorf("or with empty sub-clause: %w", ErrNotTranslatable)
		}
		return "((" + left + ") OR (" + right + "))", append(lp, rp...), nil

	case query.OpIsA:
		param, ok := stringParam(c.Param1)
		if !ok {
			return "", nil, ErrNotTranslatable
		}
		return `json_extract(payload, '$.class_name') = ?`, []any{param}, nil

	case query.OpHasField:
		if c.Field == "" {
			// The empty path is the document itself, which is always present.
			return "1 = 1", nil, nil
		}
		path, ok := jsonPath(c.Field)
		if !ok {
			return "", nil, ErrNotTranslatable
		}
		return "json_type(payload, '" + path + "') IS NOT NULL", nil, nil

	case query.OpExactString:
		return compileStringOp(c, "json_extract(payload, '%s') = ?")

	case query.OpContainsString:
		return compileStringOp(c, "instr(json_extract(payload, '%s'), ?) > 0")

	default:
		// Case-insensitive matching, numeric promotion, element-wise array
		// comparisons, shape checks, membership, regular expressions, and
		// empty-value equality all have semantics SQLite cannot reproduce
		// faithfully. Those stay on the matcher.
		return "", nil, fmt.Errorf("operator %q: %w", name, ErrNotTranslatable)
	}
}

// compileStringOp emits a string-typed comparison guarded by json_type so
// that non-string values compare false, matching the matcher.
func compileStringOp(c query.Clause, format string) (string, []any, error) {
	param, ok := stringParam(c.Param1)
	if !ok {
		return "", nil, ErrNotTranslatable
	}
	path, ok := jsonPath(c.Field)
	if !ok {
		return "", nil, ErrNotTranslatable
	}
	sql := fmt.Sprintf("(json_type(payload, '%s') = 'text' AND "+format+")", path, path)
	return sql, []any{param}, nil
}

func stringParam(v doc.Value) (string, bool) {
	s, ok := v.(doc.String)
	return string(s), ok
}

// jsonPath builds a JSON1 path under property_groups from a dot-separated
// field path. Segments that would need escaping are not worth the risk:
// those queries fall back to the matcher.
func jsonPath(field string) (string, bool) {
	if field == "" {
		return "", false
	}
	segments := strings.Split(field, ".")
	var b strings.Builder
	b.WriteString("$.property_groups")
	for _, seg := range segments {
		if seg == "" || strings.ContainsAny(seg, `"'\`) {
			return "", false
		}
		for _, r := range seg {
			if r < 0x20 {
				return "", false
			}
		}
		b.WriteString(`."` + seg + `"`)
	}
	return b.String(), true
}
