package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteRows(details ...string) [][]any {
	rows := make([][]any, len(details))
	for i, d := range details {
		rows[i] = []any{int64(i + 2), int64(0), int64(0), d}
	}
	return rows
}

func TestParseSQLite(t *testing.T) {
	tests := []struct {
		name    string
		details []string
		indexes []string
		scans   []string
	}{
		{
			name:    "full scan",
			details: []string{"SCAN posts"},
			scans:   []string{"posts"},
		},
		{
			name:    "index search",
			details: []string{"SEARCH comments USING INDEX index_comments_on_post_id (post_id=?)"},
			indexes: []string{"index_comments_on_post_id"},
		},
		{
			name:    "primary key",
			details: []string{"SEARCH posts USING INTEGER PRIMARY KEY (rowid=?)"},
			indexes: []string{"PRIMARY KEY"},
		},
		{
			name:    "covering index scan",
			details: []string{"SCAN posts USING COVERING INDEX index_posts_on_author_id"},
			indexes: []string{"index_posts_on_author_id"},
		},
		{
			name: "join",
			details: []string{
				"SCAN posts",
				"SEARCH users USING INTEGER PRIMARY KEY (rowid=?)",
				"USE TEMP B-TREE FOR ORDER BY",
			},
			indexes: []string{"PRIMARY KEY"},
			scans:   []string{"posts"},
		},
		{
			name:    "automatic index",
			details: []string{"SEARCH taggings USING AUTOMATIC COVERING INDEX (post_id=?)"},
			indexes: []string{"AUTOMATIC INDEX"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse("sqlite", sqliteRows(tt.details...))
			require.NoError(t, err)
			assert.Equal(t, "sqlite", p.Database)
			assert.Equal(t, tt.indexes, p.Indexes)
			assert.Equal(t, tt.scans, p.FullScans)
			assert.Equal(t, len(tt.indexes) > 0, p.UsesIndex())
			assert.Equal(t, len(tt.scans) > 0, p.FullScan())
		})
	}
}

func TestParsePostgres(t *testing.T) {
	raw := `[{"Plan": {
		"Node Type": "Hash Join", "Total Cost": 38.25, "Plan Rows": 12,
		"Plans": [
			{"Node Type": "Seq Scan", "Relation Name": "comments", "Total Cost": 22.7, "Plan Rows": 1270},
			{"Node Type": "Hash", "Plans": [
				{"Node Type": "Index Scan", "Relation Name": "posts", "Index Name": "posts_pkey"}
			]}
		]
	}}]`

	p, err := Parse("postgres", [][]any{{[]byte(raw)}})
	require.NoError(t, err)
	assert.Equal(t, 38.25, p.Cost)
	assert.Equal(t, int64(12), p.EstimatedRows)
	assert.Equal(t, []string{"posts_pkey"}, p.Indexes)
	assert.Equal(t, []string{"comments"}, p.FullScans)
	assert.True(t, p.ScansTable("comments"))
	assert.False(t, p.ScansTable("posts"))
	assert.Equal(t, raw, p.Raw)

	_, err = Parse("postgres", [][]any{{"not json"}})
	assert.Error(t, err)
	_, err = Parse("postgres", [][]any{{"[]"}})
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestParseMySQL(t *testing.T) {
	raw := `{"query_block": {
		"select_id": 1,
		"cost_info": {"query_cost": "4.75"},
		"ordering_operation": {
			"using_filesort": true,
			"nested_loop": [
				{"table": {"table_name": "posts", "access_type": "ALL", "rows_examined_per_scan": 4}},
				{"table": {"table_name": "users", "access_type": "eq_ref", "key": "PRIMARY", "rows_examined_per_scan": 1}}
			]
		}
	}}`

	p, err := Parse("mysql", [][]any{{raw}})
	require.NoError(t, err)
	assert.Equal(t, 4.75, p.Cost)
	assert.Equal(t, int64(5), p.EstimatedRows)
	assert.Equal(t, []string{"PRIMARY"}, p.Indexes)
	assert.Equal(t, []string{"posts"}, p.FullScans)
	assert.True(t, p.Filesort)

	_, err = Parse("mysql", [][]any{{`{"query_block": {"cost_info": {"query_cost": "n/a"}}}`}})
	assert.Error(t, err)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("sqlite", nil)
	assert.ErrorIs(t, err, ErrEmptyPlan)

	_, err = Parse("oracle", [][]any{{"plan"}})
	assert.Error(t, err)
}

func TestPlanPrefix(t *testing.T) {
	assert.Equal(t, "EXPLAIN (FORMAT JSON)", PlanPrefix("postgres"))
	assert.Equal(t, "EXPLAIN FORMAT=JSON", PlanPrefix("mysql"))
	assert.Equal(t, "EXPLAIN QUERY PLAN", PlanPrefix("sqlite"))
}
