package query

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/vellum-db/vellum/internal/doc"
)

// Matches evaluates a clause list (implicit AND) against a document.
// It is a pure function: no I/O, safe to run off the I/O path, and it is the
// reference oracle the storage backend's filter translation is validated
// against.
//
// An empty clause list matches every document. A missing field path makes a
// leaf non-matching (before negation), except for hasfield and isa which
// carry their own presence semantics. Unknown operators are an error, never
// a silent false.
func Matches(d *doc.Document, clauses []Clause) (bool, error) {
	for _, c := range clauses {
		ok, err := matchClause(d, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchClause(d *doc.Document, c Clause) (bool, error) {
	name, negated := NormalizeOp(c.Op)

	result, err := matchPositive(d, c, name)
	if err != nil {
		return false, err
	}
	if negated {
		result = !result
	}
	return result, nil
}

// matchPositive evaluates the clause before negation is applied.
func matchPositive(d *doc.Document, c Clause, name string) (bool, error) {
	switch name {
	case OpOr:
		return matchOr(d, c)

	case OpIsA:
		class, ok := c.Param1.(doc.String)
		if !ok {
			return false, malformed("isa requires a string class name, got %T", c.Param1)
		}
		return d.ClassName == string(class), nil

	case OpHasField:
		if c.Field == "" {
			return true, nil
		}
		_, present := d.Property(c.Field)
		return present, nil

	case OpExactString, OpExactStringAnyCase, OpContainsString, OpRegexp,
		OpExactNumber, OpLessThan, OpLessThanEq, OpGreaterThan, OpGreaterThanEq,
		OpHasSize, OpHasMember:
		v, present := d.Property(c.Field)
		if !present {
			return false, nil
		}
		return matchLeaf(name, v, c.Param1)

	default:
		return false, &UnsupportedOperatorError{Op: c.Op}
	}
}

func matchOr(d *doc.Document, c Clause) (bool, error) {
	if len(c.Sub1) == 0 || len(c.Sub2) == 0 {
		return false, malformed("or requires two sub-clauses")
	}
	left, err := Matches(d, c.Sub1)
	if err != nil {
		return false, err
	}
	if left {
		return true, nil
	}
	return Matches(d, c.Sub2)
}

func matchLeaf(name string, v, param doc.Value) (bool, error) {
	switch name {
	case OpExactString:
		s, p, err := stringPair(name, v, param)
		if err != nil || s == nil {
			return false, err
		}
		return *s == p, nil

	case OpExactStringAnyCase:
		s, p, err := stringPair(name, v, param)
		if err != nil || s == nil {
			return false, err
		}
		return strings.EqualFold(*s, p), nil

	case OpContainsString:
		s, p, err := stringPair(name, v, param)
		if err != nil || s == nil {
			return false, err
		}
		return strings.Contains(*s, p), nil

	case OpRegexp:
		p, ok := param.(doc.String)
		if !ok {
			return false, malformed("regexp requires a string pattern, got %T", param)
		}
		re, err := regexp.Compile(string(p))
		if err != nil {
			return false, malformed("regexp %q: %v", string(p), err)
		}
		s, ok := v.(doc.String)
		if !ok {
			return false, nil
		}
		// Search-anywhere semantics: Go patterns are unanchored by default.
		return re.MatchString(string(s)), nil

	case OpExactNumber:
		return deepEqual(v, param), nil

	case OpLessThan:
		return compareAll(v, param, func(a, b float64) bool { return a < b })
	case OpLessThanEq:
		return compareAll(v, param, func(a, b float64) bool { return a <= b })
	case OpGreaterThan:
		return compareAll(v, param, func(a, b float64) bool { return a > b })
	case OpGreaterThanEq:
		return compareAll(v, param, func(a, b float64) bool { return a >= b })

	case OpHasSize:
		size, sized := sizeOf(v)
		if !sized {
			return false, nil
		}
		return deepEqual(size, param), nil

	case OpHasMember:
		arr, ok := v.(doc.Array)
		if !ok {
			return false, nil
		}
		for _, elem := range arr {
			if deepEqual(elem, param) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, &UnsupportedOperatorError{Op: name}
}

// stringPair extracts the value and parameter for the string operators.
// A non-string parameter is a malformed query; a non-string value is simply
// non-matching (nil value return).
func stringPair(name string, v, param doc.Value) (*string, string, error) {
	p, ok := param.(doc.String)
	if !ok {
		return nil, "", malformed("%s requires a string parameter, got %T", name, param)
	}
	s, ok := v.(doc.String)
	if !ok {
		return nil, string(p), nil
	}
	str := string(s)
	return &str, string(p), nil
}

// isEmptyValue reports whether v is one of the mutually-equal "empty"
// values: null, empty string, empty list, empty object.
func isEmptyValue(v doc.Value) bool {
	switch val := v.(type) {
	case nil, doc.Null:
		return true
	case doc.String:
		return val == ""
	case doc.Array:
		return len(val) == 0
	case doc.Object:
		return len(val) == 0
	}
	return false
}

// numeric extracts a float64 from Int or Float values.
func numeric(v doc.Value) (float64, bool) {
	switch val := v.(type) {
	case doc.Int:
		return float64(val), true
	case doc.Float:
		return float64(val), true
	}
	return 0, false
}

// deepEqual implements the matcher's equality rule: empty values are
// mutually equal, numbers compare numerically across Int/Float, and arrays
// require equal shape and equal elements.
func deepEqual(a, b doc.Value) bool {
	if isEmptyValue(a) && isEmptyValue(b) {
		return true
	}
	if an, ok := numeric(a); ok {
		bn, ok := numeric(b)
		return ok && an == bn
	}

	switch av := a.(type) {
	case doc.String:
		bv, ok := b.(doc.String)
		return ok && av == bv
	case doc.Bool:
		bv, ok := b.(doc.Bool)
		return ok && av == bv
	case doc.DependencyRef:
		bv, ok := b.(doc.DependencyRef)
		return ok && av.Index == bv.Index
	case doc.Array:
		bv, ok := b.(doc.Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case doc.Object:
		bv, ok := b.(doc.Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !deepEqual(v, other) {
				return false
			}
		}
		return true
	}
	return false
}

// compareAll applies a numeric comparison. Array values must satisfy the
// comparison element-wise for every element; an empty array never matches.
func compareAll(v, param doc.Value, cmp func(a, b float64) bool) (bool, error) {
	p, ok := numeric(param)
	if !ok {
		return false, malformed("numeric comparison requires a numeric parameter, got %T", param)
	}

	if n, ok := numeric(v); ok {
		return cmp(n, p), nil
	}
	arr, ok := v.(doc.Array)
	if !ok || len(arr) == 0 {
		return false, nil
	}
	for _, elem := range arr {
		n, ok := numeric(elem)
		if !ok || !cmp(n, p) {
			return false, nil
		}
	}
	return true, nil
}

// sizeOf computes the shape of a value for hassize: the rune length for
// strings, the entry count for objects, and for arrays either the flat
// length or, for rectangular nested arrays, the dimension list.
func sizeOf(v doc.Value) (doc.Value, bool) {
	switch val := v.(type) {
	case doc.String:
		return doc.Int(utf8.RuneCountInString(string(val))), true
	case doc.Object:
		return doc.Int(len(val)), true
	case doc.Array:
		dims := arrayDims(val)
		if len(dims) == 1 {
			return doc.Int(dims[0]), true
		}
		out := make(doc.Array, len(dims))
		for i, d := range dims {
			out[i] = doc.Int(d)
		}
		return out, true
	}
	return nil, false
}

// arrayDims returns the dimensions of a nested array while it stays
// rectangular: every element at a level must be an array of one common
// length for that level to count as a dimension.
func arrayDims(arr doc.Array) []int {
	dims := []int{len(arr)}
	cur := arr
	for len(cur) > 0 {
		first, ok := cur[0].(doc.Array)
		if !ok {
			break
		}
		rectangular := true
		for _, elem := range cur {
			inner, ok := elem.(doc.Array)
			if !ok || len(inner) != len(first) {
				rectangular = false
				break
			}
		}
		if !rectangular {
			break
		}
		dims = append(dims, len(first))
		cur = first
	}
	return dims
}
