package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSQL_Dialects(t *testing.T) {
	tests := []struct {
		driver string
		sql    string
	}{
		{"postgres", `SELECT "posts".* FROM "posts" WHERE "posts"."published" = $1 AND (views > $2) ` +
			`ORDER BY "posts"."title" DESC LIMIT 10 OFFSET 20`},
		{"mysql", "SELECT `posts`.* FROM `posts` WHERE `posts`.`published` = ? AND (views > ?) " +
			"ORDER BY `posts`.`title` DESC LIMIT 10 OFFSET 20"},
		{"sqlite", `SELECT "posts".* FROM "posts" WHERE "posts"."published" = ? AND (views > ?) ` +
			`ORDER BY "posts"."title" DESC LIMIT 10 OFFSET 20`},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			db, _ := newMockDB(t, tt.driver)
			sql, args, err := From[Post](db).
				Where(Eq("published", true)).
				Where("views > ?", 10).
				Order("title DESC").
				Limit(10).
				Offset(20).
				ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, []any{true, 10}, args)
		})
	}
}

func TestToSQL_EscapedQuestionMark(t *testing.T) {
	want := map[string]string{
		"postgres": `SELECT "posts".* FROM "posts" WHERE (title <> '?') AND (views > $1)`,
		"mysql":    "SELECT `posts`.* FROM `posts` WHERE (title <> '?') AND (views > ?)",
		"sqlite":   `SELECT "posts".* FROM "posts" WHERE (title <> '?') AND (views > ?)`,
	}
	for driver, sql := range want {
		t.Run(driver, func(t *testing.T) {
			db, _ := newMockDB(t, driver)
			got, args, err := From[Post](db).Where("title <> '??'").Where("views > ?", 1).ToSQL()
			require.NoError(t, err)
			assert.Equal(t, sql, got)
			assert.Equal(t, []any{1}, args)
		})
	}
}

func TestToSQL_Scopes(t *testing.T) {
	db, _ := newMockDB(t, "postgres")
	posts := From[Post](db)

	tests := []struct {
		name string
		rel  *Relation[Post]
		sql  string
		args []any
	}{
		{
			name: "all",
			rel:  posts,
			sql:  `SELECT "posts".* FROM "posts"`,
		},
		{
			name: "chained order puts later terms first",
			rel:  posts.Order("id").Order("title DESC"),
			sql:  `SELECT "posts".* FROM "posts" ORDER BY "posts"."title" DESC, "posts"."id" ASC`,
		},
		{
			name: "reorder",
			rel:  posts.Order("id").Reorder("views"),
			sql:  `SELECT "posts".* FROM "posts" ORDER BY "posts"."views" ASC`,
		},
		{
			name: "raw order",
			rel:  posts.Order("LENGTH(title) DESC"),
			sql:  `SELECT "posts".* FROM "posts" ORDER BY LENGTH(title) DESC`,
		},
		{
			name: "hash",
			rel:  posts.Where(HashExp{"title": "x", "author_id": []int64{1, 2}, "views": nil}),
			sql: `SELECT "posts".* FROM "posts" WHERE "posts"."author_id" IN ($1,$2) ` +
				`AND "posts"."title" = $3 AND "posts"."views" IS NULL`,
			args: []any{int64(1), int64(2), "x"},
		},
		{
			name: "slice argument expands",
			rel:  posts.Where("id IN (?)", []int{1, 2}),
			sql:  `SELECT "posts".* FROM "posts" WHERE (id IN ($1, $2))`,
			args: []any{1, 2},
		},
		{
			name: "empty in",
			rel:  posts.Where(In("id")),
			sql:  `SELECT "posts".* FROM "posts" WHERE (1=0)`,
		},
		{
			name: "not",
			rel:  posts.Not(Eq("published", true)),
			sql:  `SELECT "posts".* FROM "posts" WHERE NOT (("posts"."published" = $1))`,
			args: []any{true},
		},
		{
			name: "or keeps common predicates",
			rel: posts.Where(Eq("author_id", 1)).Where(Eq("published", true)).
				Or(posts.Where(Eq("author_id", 1)).Where(Gt("views", 10))),
			sql: `SELECT "posts".* FROM "posts" WHERE "posts"."author_id" = $1 ` +
				`AND (("posts"."published" = $2) OR ("posts"."views" > $3))`,
			args: []any{1, true, 10},
		},
		{
			name: "distinct select",
			rel:  posts.Select("author_id").Distinct(),
			sql:  `SELECT DISTINCT "posts"."author_id" FROM "posts"`,
		},
		{
			name: "group having",
			rel:  posts.Select("author_id", "COUNT(*) AS n").Group("author_id").Having("COUNT(*) > ?", 1),
			sql: `SELECT "posts"."author_id", COUNT(*) AS n FROM "posts" ` +
				`GROUP BY "posts"."author_id" HAVING (COUNT(*) > $1)`,
			args: []any{1},
		},
		{
			name: "none",
			rel:  posts.Where(Eq("id", 1)).None(),
			sql:  `SELECT "posts".* FROM "posts" WHERE "posts"."id" = $1 AND 1=0`,
			args: []any{1},
		},
		{
			name: "raw join",
			rel:  posts.JoinsRaw("INNER JOIN users u ON u.id = posts.author_id AND u.name = ?", "alice"),
			sql:  `SELECT "posts".* FROM "posts" INNER JOIN users u ON u.id = posts.author_id AND u.name = $1`,
			args: []any{"alice"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.rel.ToSQL()
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			if tt.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestToSQL_Joins(t *testing.T) {
	db, _ := newMockDB(t, "postgres")

	t.Run("belongs to", func(t *testing.T) {
		sql, args, err := From[Post](db).Joins("author").Where(Eq("users.name", "alice")).ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `SELECT "posts".* FROM "posts" INNER JOIN "users" ON "users"."id" = "posts"."author_id" `+
			`WHERE "users"."name" = $1`, sql)
		assert.Equal(t, []any{"alice"}, args)
	})

	t.Run("left outer", func(t *testing.T) {
		sql, _, err := From[User](db).LeftOuterJoins("posts").Where(Eq("posts.id", nil)).ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `SELECT "users".* FROM "users" LEFT OUTER JOIN "posts" ON "posts"."author_id" = "users"."id" `+
			`WHERE "posts"."id" IS NULL`, sql)
	})

	t.Run("through", func(t *testing.T) {
		sql, _, err := From[Post](db).Joins("tags").ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `SELECT "posts".* FROM "posts" `+
			`INNER JOIN "taggings" ON "taggings"."post_id" = "posts"."id" `+
			`INNER JOIN "tags" ON "tags"."id" = "taggings"."tag_id"`, sql)
	})

	t.Run("aliases a repeated table", func(t *testing.T) {
		sql, _, err := From[Comment](db).Joins("post.comments").ToSQL()
		require.NoError(t, err)
		assert.Equal(t, `SELECT "comments".* FROM "comments" `+
			`INNER JOIN "posts" ON "posts"."id" = "comments"."post_id" `+
			`INNER JOIN "comments" AS "comments_posts" ON "comments_posts"."post_id" = "posts"."id"`, sql)
	})

	t.Run("unknown association fails at build time", func(t *testing.T) {
		rel := From[Post](db).Joins("likes")
		var unknown *UnknownAssociationError
		require.True(t, errors.As(rel.Err(), &unknown))

		_, _, err := rel.Where(Eq("id", 1)).ToSQL()
		assert.True(t, errors.As(err, &unknown), "error is sticky through later chaining")
	})
}

func TestToSQL_EagerLoad(t *testing.T) {
	db, _ := newMockDB(t, "postgres")
	projection := `SELECT "posts"."id" AS "t0_r0", "posts"."author_id" AS "t0_r1", "posts"."title" AS "t0_r2", ` +
		`"posts"."published" AS "t0_r3", "posts"."views" AS "t0_r4", ` +
		`"comments"."id" AS "t1_r0", "comments"."post_id" AS "t1_r1", "comments"."body" AS "t1_r2" ` +
		`FROM "posts" LEFT OUTER JOIN "comments" ON "comments"."post_id" = "posts"."id"`

	sql, _, err := From[Post](db).EagerLoad("comments").ToSQL()
	require.NoError(t, err)
	assert.Equal(t, projection, sql)

	// An auto include becomes a join when the query references its table.
	sql, args, err := From[Post](db).Includes("comments").Where(Eq("comments.body", "nice")).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, projection+` WHERE "comments"."body" = $1`, sql)
	assert.Equal(t, []any{"nice"}, args)

	sql, _, err = From[Post](db).Includes("comments").References("comments").ToSQL()
	require.NoError(t, err)
	assert.Equal(t, projection, sql)

	// Otherwise it is preloaded and the main statement is untouched.
	sql, _, err = From[Post](db).Includes("comments").ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "posts".* FROM "posts"`, sql)
}

func TestCompiler_DistinctIDs(t *testing.T) {
	db, _ := newMockDB(t, "postgres")
	rel := From[Post](db).EagerLoad("comments").Order("title").Limit(2)

	c := newCompiler(db, rel.Model())
	p, err := c.plan(rel.Values())
	require.NoError(t, err)
	require.True(t, p.needsDistinctIDs())

	st, err := c.distinctIDs(p)
	require.NoError(t, err)
	assert.Equal(t, `SELECT DISTINCT "posts"."id", "posts"."title" FROM "posts" `+
		`LEFT OUTER JOIN "comments" ON "comments"."post_id" = "posts"."id" `+
		`ORDER BY "posts"."title" ASC LIMIT 2`, st.SQL)

	// A singular eager join cannot multiply rows.
	p, err = c.plan(From[Post](db).EagerLoad("author").Limit(2).Values())
	require.NoError(t, err)
	assert.False(t, p.needsDistinctIDs())
}

func TestToSQL_DefaultScope(t *testing.T) {
	db, _ := newMockDB(t, "postgres")

	sql, args, err := From[Article](db).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "articles".* FROM "articles" WHERE "articles"."deleted" = $1 ORDER BY "articles"."id" ASC`, sql)
	assert.Equal(t, []any{false}, args)

	sql, args, err = From[Article](db).Unscoped().ToSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT "articles".* FROM "articles"`, sql)
	assert.Empty(t, args)

	// The caller's equality on the same column replaces the scope's.
	_, args, err = From[Article](db).Where(Eq("deleted", true)).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, []any{true}, args)
}

func TestToSQL_Errors(t *testing.T) {
	db, _ := newMockDB(t, "postgres")

	t.Run("bind count mismatch", func(t *testing.T) {
		_, _, err := From[Post](db).Where("views > ? AND id = ?", 1).ToSQL()
		var mismatch *BindCountMismatchError
		require.True(t, errors.As(err, &mismatch))
		assert.Equal(t, 2, mismatch.Placeholders)
		assert.Equal(t, 1, mismatch.Binds)
	})

	t.Run("empty condition", func(t *testing.T) {
		_, _, err := From[Post](db).Where("").ToSQL()
		assert.ErrorIs(t, err, ErrInvalidCondition)
	})

	t.Run("negative limit", func(t *testing.T) {
		_, _, err := From[Post](db).Limit(-1).ToSQL()
		assert.ErrorIs(t, err, ErrInvalidCondition)
	})

	t.Run("unsafe fragment", func(t *testing.T) {
		strict, _ := newMockDB(t, "postgres", WithRawFragmentValidation(true))
		_, _, err := From[Post](strict).Where("1=1; DROP TABLE users").ToSQL()
		assert.ErrorIs(t, err, ErrUnsafeFragment)

		_, _, err = From[Post](strict).Order("id; DROP TABLE users").ToSQL()
		assert.ErrorIs(t, err, ErrUnsafeFragment)

		_, _, err = From[Post](strict).Where("views > ?", 1).ToSQL()
		assert.NoError(t, err)
	})

	t.Run("not a struct", func(t *testing.T) {
		_, _, err := From[int](db).ToSQL()
		assert.ErrorIs(t, err, ErrInvalidModelType)
	})
}

func TestCompiler_Aggregates(t *testing.T) {
	db, _ := newMockDB(t, "postgres")
	posts := From[Post](db)

	compile := func(t *testing.T, rel *Relation[Post], fn func(*compiler, *queryPlan) (*Statement, error)) *Statement {
		t.Helper()
		c := newCompiler(db, rel.Model())
		p, err := c.plan(rel.Values())
		require.NoError(t, err)
		st, err := fn(c, p)
		require.NoError(t, err)
		return st
	}
	count := (*compiler).count
	sum := func(c *compiler, p *queryPlan) (*Statement, error) { return c.calculate(p, CalcSum, "views") }

	tests := []struct {
		name string
		rel  *Relation[Post]
		fn   func(*compiler, *queryPlan) (*Statement, error)
		sql  string
	}{
		{"count", posts.Where(Eq("published", true)), count,
			`SELECT COUNT(*) FROM "posts" WHERE "posts"."published" = $1`},
		{"count distinct", posts.Distinct(), count,
			`SELECT COUNT(DISTINCT "posts"."id") FROM "posts"`},
		{"count column", posts.Select("title"), count,
			`SELECT COUNT("posts"."title") FROM "posts"`},
		{"count grouped", posts.Group("author_id"), count,
			`SELECT COUNT(*) FROM (SELECT "posts"."author_id" FROM "posts" GROUP BY "posts"."author_id") AS subquery_for_count`},
		{"count limited", posts.Limit(5), count,
			`SELECT COUNT(*) FROM (SELECT 1 AS one FROM "posts" LIMIT 5) AS subquery_for_count`},
		{"count eager", posts.EagerLoad("comments"), count,
			`SELECT COUNT(DISTINCT "posts"."id") FROM "posts" LEFT OUTER JOIN "comments" ON "comments"."post_id" = "posts"."id"`},
		{"exists", posts.Where(Eq("published", true)), (*compiler).exists,
			`SELECT 1 AS one FROM "posts" WHERE "posts"."published" = $1 LIMIT 1`},
		{"sum", posts, sum, `SELECT SUM("posts"."views") FROM "posts"`},
		{"sum limited", posts.Order("id").Limit(3), sum,
			`SELECT SUM(subquery_for_calc.calc_column) FROM (SELECT "posts"."views" AS calc_column FROM "posts" ` +
				`ORDER BY "posts"."id" ASC LIMIT 3) AS subquery_for_calc`},
		{"pluck", posts.Where(Gt("views", 1)), func(c *compiler, p *queryPlan) (*Statement, error) {
			return c.pluck(p, []string{"id", "title"})
		}, `SELECT "posts"."id", "posts"."title" FROM "posts" WHERE "posts"."views" > $1`},
		{"explain", posts, func(c *compiler, p *queryPlan) (*Statement, error) {
			return c.explain(p, "EXPLAIN")
		}, `EXPLAIN SELECT "posts".* FROM "posts"`},
		{"explain json", posts.Where(Eq("id", 1)), func(c *compiler, p *queryPlan) (*Statement, error) {
			return c.explain(p, "EXPLAIN (FORMAT JSON)")
		}, `EXPLAIN (FORMAT JSON) SELECT "posts".* FROM "posts" WHERE "posts"."id" = $1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sql, compile(t, tt.rel, tt.fn).SQL)
		})
	}

	t.Run("calculate on grouped relation", func(t *testing.T) {
		c := newCompiler(db, posts.Model())
		p, err := c.plan(posts.Group("author_id").Values())
		require.NoError(t, err)
		_, err = c.calculate(p, CalcSum, "views")
		assert.Error(t, err)
	})
}

func TestCompiler_Writes(t *testing.T) {
	plan := func(t *testing.T, db *DB, rel *Relation[Post]) (*compiler, *queryPlan) {
		t.Helper()
		c := newCompiler(db, rel.Model())
		p, err := c.plan(rel.Values())
		require.NoError(t, err)
		return c, p
	}

	t.Run("update", func(t *testing.T) {
		db, _ := newMockDB(t, "postgres")
		c, p := plan(t, db, From[Post](db).Where(Eq("author_id", 1)))
		st, err := c.updateAll(p, map[string]any{"views": Raw("views + ?", 1), "published": false})
		require.NoError(t, err)
		assert.Equal(t, `UPDATE "posts" SET "published" = $1, "views" = views + $2 WHERE "posts"."author_id" = $3`, st.SQL)
		assert.Equal(t, []any{false, 1, 1}, st.Args)
		assert.Equal(t, "UPDATE", st.Operation)
	})

	t.Run("update rejects qualified columns", func(t *testing.T) {
		db, _ := newMockDB(t, "postgres")
		c, p := plan(t, db, From[Post](db))
		_, err := c.updateAll(p, map[string]any{"posts.views": 1})
		assert.ErrorIs(t, err, ErrInvalidCondition)
		_, err = c.updateAll(p, map[string]any{})
		assert.ErrorIs(t, err, ErrInvalidCondition)
	})

	t.Run("delete", func(t *testing.T) {
		db, _ := newMockDB(t, "postgres")
		c, p := plan(t, db, From[Post](db).Where(Eq("published", false)))
		st, err := c.deleteAll(p)
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "posts" WHERE "posts"."published" = $1`, st.SQL)
	})

	t.Run("delete limited", func(t *testing.T) {
		db, _ := newMockDB(t, "postgres")
		c, p := plan(t, db, From[Post](db).Where(Eq("published", false)).Order("id").Limit(10))
		st, err := c.deleteAll(p)
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "posts" WHERE "posts"."id" IN (SELECT "posts"."id" FROM "posts" `+
			`WHERE "posts"."published" = $1 ORDER BY "posts"."id" ASC LIMIT 10)`, st.SQL)
	})

	t.Run("delete limited on mysql", func(t *testing.T) {
		db, _ := newMockDB(t, "mysql")
		c, p := plan(t, db, From[Post](db).Where(Eq("published", false)).Order("id").Limit(10))
		st, err := c.deleteAll(p)
		require.NoError(t, err)
		assert.Equal(t, "DELETE FROM `posts` WHERE `posts`.`id` IN (SELECT `id` FROM (SELECT `posts`.`id` FROM `posts` "+
			"WHERE `posts`.`published` = ? ORDER BY `posts`.`id` ASC LIMIT 10) AS __relq_temp)", st.SQL)
	})

	t.Run("delete joined", func(t *testing.T) {
		db, _ := newMockDB(t, "postgres")
		c, p := plan(t, db, From[Post](db).Joins("author").Where(Eq("users.name", "bob")))
		st, err := c.deleteAll(p)
		require.NoError(t, err)
		assert.Equal(t, `DELETE FROM "posts" WHERE "posts"."id" IN (SELECT "posts"."id" FROM "posts" `+
			`INNER JOIN "users" ON "users"."id" = "posts"."author_id" WHERE "users"."name" = $1)`, st.SQL)
	})
}
