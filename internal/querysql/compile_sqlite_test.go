package querysql

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/query"
)

// The columns plans read from the store schema.
const testSchema = `
CREATE TABLE documents (
    id      TEXT PRIMARY KEY,
    rev     TEXT NOT NULL,
    deleted INTEGER NOT NULL DEFAULT 0,
    body    TEXT NOT NULL
);
CREATE TABLE index_entries (
    index_id   TEXT NOT NULL,
    field_path TEXT NOT NULL,
    value      TEXT NOT NULL,
    doc_id     TEXT NOT NULL,
    PRIMARY KEY (index_id, field_path, doc_id)
);
INSERT INTO documents (id, rev, deleted, body) VALUES
    ('doc-2', '1-b', 0, '{"name":"bob"}'),
    ('doc-1', '1-a', 0, '{"age":3}'),
    ('doc-3', '2-c', 1, '{}'),
    ('B',     '1-d', 0, '{}');
INSERT INTO index_entries (index_id, field_path, value, doc_id) VALUES
    ('idx-name', 'name', '"bob"', 'doc-2'),
    ('idx-age',  'age',  '3',     'doc-1');
`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "plans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

// runPlan executes a plan and returns the ids it selects, failing on any
// SQL error.
func runPlan(t *testing.T, db *sql.DB, plan Plan) []string {
	t.Helper()
	rows, err := db.Query(plan.SQL, plan.Params...)
	require.NoError(t, err, plan.SQL)
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var (
			id, rev string
			deleted int
			body    string
		)
		dest := []any{&id, &rev, &deleted}
		if plan.Body {
			dest = append(dest, &body)
		}
		require.NoError(t, rows.Scan(dest...))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}

func TestCompile_GoldenPlansExecute(t *testing.T) {
	db := openTestDB(t)

	// Residual clauses are not applied here, only what SQLite evaluates.
	expected := map[string][]string{
		"all_docs":        {"B", "doc-1", "doc-2"},
		"indexed_equals":  {"doc-2"},
		"mixed":           {},
		"include_deleted": {"B", "doc-1", "doc-2", "doc-3"},
	}

	for _, tc := range goldenCases() {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, expected[tc.name], runPlan(t, db, tc.compile(t)))
		})
	}
}

func TestCompile_MetadataOnlyExecutes(t *testing.T) {
	db := openTestDB(t)

	c := testCompiler()
	c.MetadataOnly = true
	plan, err := c.Compile(query.AllDocs())
	require.NoError(t, err)
	require.False(t, plan.Body)

	assert.Equal(t, []string{"B", "doc-1", "doc-2"}, runPlan(t, db, plan))
}
