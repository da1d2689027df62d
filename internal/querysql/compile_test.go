package querysql

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/model"
	"github.com/roach88/docsync/internal/query"
)

func testCompiler() *Compiler {
	return NewCompiler(map[string]string{
		"name": "idx-name",
		"age":  "idx-age",
	})
}

type planCase struct {
	name           string
	filter         query.Predicate
	includeDeleted bool
}

// goldenCases are compiled against testdata/golden and executed against a
// real database in compile_sqlite_test.go.
func goldenCases() []planCase {
	return []planCase{
		{name: "all_docs", filter: query.AllDocs()},
		{
			name:   "indexed_equals",
			filter: query.And{Predicates: []query.Predicate{query.Equals{Field: "name", Value: model.String("bob")}}},
		},
		{
			name: "mixed",
			filter: query.And{Predicates: []query.Predicate{
				query.Equals{Field: query.FieldID, Value: model.String("doc-1")},
				query.Equals{Field: "age", Value: model.Int(3)},
				query.Exists{Field: "nick", Present: false},
				query.Exists{Field: "age", Present: false},
			}},
		},
		{
			name:           "include_deleted",
			filter:         query.And{Predicates: []query.Predicate{query.Equals{Field: "name", Value: model.String("bob")}}},
			includeDeleted: true,
		},
	}
}

func (tc planCase) compile(t *testing.T) Plan {
	t.Helper()
	c := testCompiler()
	c.IncludeDeleted = tc.includeDeleted
	plan, err := c.Compile(tc.filter)
	require.NoError(t, err)
	return plan
}

func TestCompile_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tc := range goldenCases() {
		t.Run(tc.name, func(t *testing.T) {
			plan := tc.compile(t)
			assert.True(t, plan.Body)
			g.Assert(t, tc.name, []byte(plan.SQL))
		})
	}
}

func TestCompile_ParamsNotInterpolated(t *testing.T) {
	plan, err := testCompiler().Compile(query.And{Predicates: []query.Predicate{
		query.Equals{Field: "name", Value: model.String("robert'); DROP TABLE documents;--")},
	}})
	require.NoError(t, err)

	assert.NotContains(t, plan.SQL, "DROP")
	assert.Equal(t, []any{"idx-name", "name", `"robert'); DROP TABLE documents;--"`}, plan.Params)
}

func TestCompile_ValuesUseCanonicalForm(t *testing.T) {
	plan, err := testCompiler().Compile(query.Equals{Field: "age", Value: model.Float(3)})
	require.NoError(t, err)
	assert.Equal(t, []any{"idx-age", "age", "3"}, plan.Params)

	plan, err = testCompiler().Compile(query.Equals{
		Field: "name",
		Value: model.Object{"b": model.Int(1), "a": model.Bool(true)},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":1}`, plan.Params[2])
}

func TestCompile_Residual(t *testing.T) {
	unindexed := query.Equals{Field: "city", Value: model.String("Oslo")}
	plan, err := testCompiler().Compile(query.And{Predicates: []query.Predicate{
		unindexed,
		query.Equals{Field: "name", Value: model.String("bob")},
	}})
	require.NoError(t, err)

	assert.Equal(t, []query.Predicate{unindexed}, plan.Residual)
	assert.Len(t, plan.Params, 3)
	assert.NotContains(t, plan.SQL, "city")
}

func TestCompile_MetadataClauses(t *testing.T) {
	testCases := []struct {
		name     string
		filter   query.Predicate
		contains string
		params   []any
	}{
		{
			name:     "id equals",
			filter:   query.Equals{Field: query.FieldID, Value: model.String("a")},
			contains: "d.id = ?",
			params:   []any{"a"},
		},
		{
			name:     "rev equals",
			filter:   query.Equals{Field: query.FieldRev, Value: model.String("1-abc")},
			contains: "d.rev = ?",
			params:   []any{"1-abc"},
		},
		{
			name:     "id equals non-string never matches",
			filter:   query.Equals{Field: query.FieldID, Value: model.Int(1)},
			contains: "1 = 0",
		},
		{
			name:     "id absent never matches",
			filter:   query.Exists{Field: query.FieldID, Present: false},
			contains: "1 = 0",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := testCompiler().Compile(tc.filter)
			require.NoError(t, err)
			assert.Contains(t, plan.SQL, tc.contains)
			assert.Equal(t, tc.params, plan.Params)
			assert.Empty(t, plan.Residual)
		})
	}
}

func TestCompile_OrderByID(t *testing.T) {
	filters := []query.Predicate{
		nil,
		query.AllDocs(),
		query.Exists{Field: "name", Present: true},
		query.Equals{Field: "city", Value: model.String("x")},
	}
	for _, f := range filters {
		plan, err := testCompiler().Compile(f)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(plan.SQL, " ORDER BY d.id COLLATE BINARY ASC"), plan.SQL)
	}
}

func TestCompile_Pointers(t *testing.T) {
	plan, err := testCompiler().Compile(&query.And{Predicates: []query.Predicate{
		&query.Equals{Field: "name", Value: model.String("bob")},
	}})
	require.NoError(t, err)
	assert.Equal(t, []any{"idx-name", "name", `"bob"`}, plan.Params)
}

func TestCompile_MetadataOnly(t *testing.T) {
	testCases := []struct {
		name   string
		filter query.Predicate
		body   bool
	}{
		{name: "all docs", filter: query.AllDocs(), body: false},
		{name: "id and rev", filter: query.And{Predicates: []query.Predicate{
			query.Equals{Field: query.FieldID, Value: model.String("a")},
			query.Exists{Field: query.FieldRev, Present: true},
		}}, body: false},
		{name: "indexed field", filter: query.Equals{Field: "name", Value: model.String("bob")}, body: true},
		{name: "unindexed field", filter: query.Exists{Field: "city", Present: true}, body: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := testCompiler()
			c.MetadataOnly = true
			plan, err := c.Compile(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.body, plan.Body)
			assert.Equal(t, tc.body, strings.Contains(plan.SQL, "d.body"), plan.SQL)
		})
	}
}
