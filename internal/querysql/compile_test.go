package querysql

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum-db/vellum/internal/doc"
	"github.com/vellum-db/vellum/internal/query"
	"github.com/vellum-db/vellum/internal/store"
)

func TestCompileEmpty(t *testing.T) {
	sql, params, err := Compile(nil)
	require.NoError(t, err)
	assert.Equal(t, "", sql)
	assert.Empty(t, params)
}

func TestCompileExactString(t *testing.T) {
	sql, params, err := Compile([]query.Clause{
		query.New("app.os", query.OpExactString, doc.String("linux")),
	})
	require.NoError(t, err)
	assert.Equal(t,
		`(json_type(payload, '$.property_groups."app"."os"') = 'text' AND json_extract(payload, '$.property_groups."app"."os"') = ?)`,
		sql)
	assert.Equal(t, []any{"linux"}, params)
}

func TestCompileNegation(t *testing.T) {
	sql, _, err := Compile([]query.Clause{
		query.New("app.os", "~exact_string", doc.String("linux")),
	})
	require.NoError(t, err)
	assert.Equal(t,
		`NOT IFNULL(((json_type(payload, '$.property_groups."app"."os"') = 'text' AND json_extract(payload, '$.property_groups."app"."os"') = ?)), 0)`,
		sql)
}

func TestCompileOr(t *testing.T) {
	c := query.New("app.os", query.OpExactString, doc.String("linux")).
		Or(query.New("app.os", query.OpExactString, doc.String("darwin")))

	sql, params, err := Compile([]query.Clause{c})
	require.NoError(t, err)
	assert.Contains(t, sql, ") OR (")
	assert.Equal(t, []any{"linux", "darwin"}, params)
}

func TestCompileIsaAndHasField(t *testing.T) {
	sql, params, err := Compile([]query.Clause{
		query.New("", query.OpIsA, doc.String("machine")),
		query.New("app.os", query.OpHasField),
	})
	require.NoError(t, err)
	assert.Equal(t,
		`json_extract(payload, '$.class_name') = ? AND json_type(payload, '$.property_groups."app"."os"') IS NOT NULL`,
		sql)
	assert.Equal(t, []any{"machine"}, params)
}

func TestCompileNotTranslatable(t *testing.T) {
	cases := []query.Clause{
		query.New("app.cores", query.OpRegexp, doc.String("^4$")),
		query.New("app.cores", query.OpLessThan, doc.Int(8)),
		query.New("app.cores", query.OpExactNumber, doc.Int(4)),
		query.New("app.name", query.OpExactStringAnyCase, doc.String("X")),
		query.New("app.tags", query.OpHasMember, doc.String("a")),
		query.New("app.tags", query.OpHasSize, doc.Int(2)),
		// Non-string param for a string operator.
		query.New("app.os", query.OpExactString, doc.Int(1)),
		// Path segment that would need escaping.
		query.New(`a"b.c`, query.OpExactString, doc.String("x")),
	}
	for _, c := range cases {
		_, _, err := Compile([]query.Clause{c})
		assert.ErrorIs(t, err, ErrNotTranslatable, "clause %v", c)
	}
}

// A document without the queried field makes the positive fragment NULL in
// SQL. The negated filter must still select it, the way the matcher does.
func TestNegatedFilterKeepsDocumentsMissingField(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	with := makeDoc("with-os", "machine", "linux", 4)
	without := doc.New("without-os", "machine", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	without.SetProperty("net", "iface", doc.String("eth0"))

	for _, d := range []*doc.Document{with, without} {
		h, err := doc.HashDocument(d)
		require.NoError(t, err)
		require.NoError(t, st.UpsertDocument(ctx, h, d))
	}

	clauses := []query.Clause{query.New("app.os", "~exact_string", doc.String("linux"))}
	sql, params, err := Compile(clauses)
	require.NoError(t, err)

	got, err := st.ListAllDocuments(ctx, sql, params)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "without-os", got[0].ID)
}

// TestCompileMatchesOracle runs compiled filters against a live store and
// checks the result set equals what the in-memory matcher selects from a
// full scan.
func TestCompileMatchesOracle(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()

	docs := []*doc.Document{
		makeDoc("d1", "machine", "linux", 4),
		makeDoc("d2", "machine", "darwin", 8),
		makeDoc("d3", "disk", "linux", 2),
	}
	// d4 has no app group at all.
	d4 := doc.New("d4", "machine", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	d4.SetProperty("net", "iface", doc.String("eth0"))
	docs = append(docs, d4)

	for _, d := range docs {
		h, err := doc.HashDocument(d)
		require.NoError(t, err)
		require.NoError(t, st.UpsertDocument(ctx, h, d))
	}

	queries := [][]query.Clause{
		{query.New("app.os", query.OpExactString, doc.String("linux"))},
		{query.New("app.os", "~exact_string", doc.String("linux"))},
		{query.New("app.name", "~contains_string", doc.String("host"))},
		{query.New("", query.OpIsA, doc.String("machine"))},
		{query.New("app.os", query.OpHasField)},
		{query.New("app.os", "~hasfield")},
		{
			query.New("", query.OpIsA, doc.String("machine")),
			query.New("app.os", query.OpExactString, doc.String("linux")),
		},
		{query.New("app.os", query.OpExactString, doc.String("linux")).
			Or(query.New("", query.OpIsA, doc.String("disk")))},
	}

	for i, clauses := range queries {
		sql, params, err := Compile(clauses)
		require.NoError(t, err, "query %d", i)

		got, err := st.ListAllDocuments(ctx, sql, params)
		require.NoError(t, err, "query %d", i)

		all, err := st.ListAllDocuments(ctx, "", nil)
		require.NoError(t, err)
		var want []string
		for _, d := range all {
			match, err := query.Matches(d, clauses)
			require.NoError(t, err)
			if match {
				want = append(want, d.ID)
			}
		}

		var gotIDs []string
		for _, d := range got {
			gotIDs = append(gotIDs, d.ID)
		}
		assert.Equal(t, want, gotIDs, "query %d", i)
	}
}

func makeDoc(id, class, os string, cores int) *doc.Document {
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d := doc.New(id, class, created)
	d.SetProperty("app", "os", doc.String(os))
	d.SetProperty("app", "cores", doc.Int(cores))
	d.SetProperty("app", "name", doc.String(fmt.Sprintf("host-%s", id)))
	return d
}
