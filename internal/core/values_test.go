package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValues_Immutable(t *testing.T) {
	base := NewValues("posts").Where(Eq("published", true)).Order(OrderTerm{Column: "id"})

	a := base.Where(Gt("views", 10)).Limit(5)
	b := base.Where(Lt("views", 3)).Order(OrderTerm{Column: "title", Desc: true})

	assert.Len(t, base.WhereClauses(), 1)
	assert.Len(t, base.OrderTerms(), 1)
	_, limited := base.LimitValue()
	assert.False(t, limited)

	require.Len(t, a.WhereClauses(), 2)
	require.Len(t, b.WhereClauses(), 2)
	assert.Equal(t, OpGt, a.WhereClauses()[1].Op)
	assert.Equal(t, OpLt, b.WhereClauses()[1].Op)
	assert.Len(t, a.OrderTerms(), 1)
	assert.Len(t, b.OrderTerms(), 2)
}

func TestValues_WhereIdempotent(t *testing.T) {
	v := NewValues("posts").Where(Eq("published", true)).Where(Eq("published", true))
	assert.Len(t, v.WhereClauses(), 1)
	assert.Equal(t, []any{true}, v.BindValues())

	// Conflicting equality predicates are both kept when chained.
	v = v.Where(Eq("published", false))
	assert.Len(t, v.WhereClauses(), 2)
	assert.Equal(t, []any{true, false}, v.BindValues())
}

func TestValues_BindValues(t *testing.T) {
	v := NewValues("posts").
		Where(Eq("author_id", 1)).
		Where(In("id", 1, 2, 3)).
		Where(Raw("views > ? AND views < ?", 5, 50)).
		Where(Eq("title", nil)).
		Having(Raw("COUNT(*) > ?", 2))

	assert.Equal(t, []any{1, 1, 2, 3, 5, 50, 2}, v.BindValues())
}

func TestValues_Merge(t *testing.T) {
	t.Run("equality last writer wins", func(t *testing.T) {
		left := NewValues("posts").Where(Eq("author_id", 1)).Where(Gt("views", 3))
		right := NewValues("posts").Where(Eq("posts.author_id", 2))

		merged, err := left.Merge(right)
		require.NoError(t, err)
		require.Len(t, merged.WhereClauses(), 2)
		assert.Equal(t, OpGt, merged.WhereClauses()[0].Op)
		assert.Equal(t, []any{3, 2}, merged.BindValues())
	})

	t.Run("in replaces equality", func(t *testing.T) {
		left := NewValues("posts").Where(Eq("id", 1))
		right := NewValues("posts").Where(In("id", 2, 3))

		merged, err := left.Merge(right)
		require.NoError(t, err)
		assert.Equal(t, []any{2, 3}, merged.BindValues())
	})

	t.Run("order prepended", func(t *testing.T) {
		left := NewValues("posts").Order(OrderTerm{Column: "id"})
		right := NewValues("posts").Order(OrderTerm{Column: "title", Desc: true})

		merged, err := left.Merge(right)
		require.NoError(t, err)
		assert.Equal(t, []OrderTerm{{Column: "title", Desc: true}, {Column: "id"}}, merged.OrderTerms())
	})

	t.Run("reorder discards", func(t *testing.T) {
		left := NewValues("posts").Order(OrderTerm{Column: "id"})
		right := NewValues("posts").Reorder(OrderTerm{Column: "title"})

		merged, err := left.Merge(right)
		require.NoError(t, err)
		assert.Equal(t, []OrderTerm{{Column: "title"}}, merged.OrderTerms())
		assert.True(t, merged.Reordered())
	})

	t.Run("scalars", func(t *testing.T) {
		left := NewValues("posts").Limit(10).Offset(5).Distinct(true)
		right := NewValues("posts").Limit(3)

		merged, err := left.Merge(right)
		require.NoError(t, err)
		n, _ := merged.LimitValue()
		assert.Equal(t, uint64(3), n)
		off, ok := merged.OffsetValue()
		assert.True(t, ok)
		assert.Equal(t, uint64(5), off)
		on, _ := merged.DistinctValue()
		assert.True(t, on)
	})

	t.Run("unions", func(t *testing.T) {
		left := NewValues("posts").
			Joins(Join{Association: "author"}).
			Includes(StrategyPreload, "comments").
			Select("id").
			Group("author_id")
		right := NewValues("posts").
			Joins(Join{Association: "author"}, Join{Association: "comments", Kind: LeftOuterJoin}).
			Includes(StrategyEagerLoad, "comments", "tags").
			Select("id", "title").
			Group("author_id").
			Unscoped()

		merged, err := left.Merge(right)
		require.NoError(t, err)
		assert.Len(t, merged.JoinClauses(), 2)
		assert.Equal(t, []Include{
			{Path: "comments", Strategy: StrategyPreload},
			{Path: "tags", Strategy: StrategyEagerLoad},
		}, merged.IncludeList())
		assert.Equal(t, []string{"id", "title"}, merged.SelectColumns())
		assert.Equal(t, []string{"author_id"}, merged.GroupColumns())
		assert.True(t, merged.IsUnscoped())
	})

	t.Run("none propagates", func(t *testing.T) {
		merged, err := NewValues("posts").Merge(NewValues("posts").None())
		require.NoError(t, err)
		assert.True(t, merged.IsNone())
	})

	t.Run("incompatible families", func(t *testing.T) {
		_, err := NewValues("posts").Merge(NewValues("users"))
		var mergeErr *IncompatibleMergeError
		require.True(t, errors.As(err, &mergeErr))
		assert.Equal(t, "posts", mergeErr.Left)
		assert.Equal(t, "users", mergeErr.Right)
	})

	t.Run("operands untouched", func(t *testing.T) {
		left := NewValues("posts").Where(Eq("id", 1)).Order(OrderTerm{Column: "id"})
		right := NewValues("posts").Where(Eq("id", 2)).Order(OrderTerm{Column: "title"})

		_, err := left.Merge(right)
		require.NoError(t, err)
		assert.Equal(t, []any{1}, left.BindValues())
		assert.Equal(t, []any{2}, right.BindValues())
		assert.Len(t, left.OrderTerms(), 1)
		assert.Len(t, right.OrderTerms(), 1)
	})
}

func TestValues_AppendDoesNotAlias(t *testing.T) {
	base := NewValues("posts").Where(Eq("a", 1), Eq("b", 2))
	x := base.Where(Eq("c", 3))
	y := base.Where(Eq("d", 4))

	assert.Equal(t, []any{1, 2, 3}, x.BindValues())
	assert.Equal(t, []any{1, 2, 4}, y.BindValues())
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		in   string
		want OrderTerm
	}{
		{"id", OrderTerm{Column: "id"}},
		{"id asc", OrderTerm{Column: "id"}},
		{"posts.created_at DESC", OrderTerm{Column: "posts.created_at", Desc: true}},
		{"LENGTH(title) DESC", OrderTerm{Raw: "LENGTH(title) DESC"}},
		{"id DESC NULLS LAST", OrderTerm{Raw: "id DESC NULLS LAST"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOrder(tt.in))
		})
	}
}

func TestOrderTerm_Reverse(t *testing.T) {
	r, ok := OrderTerm{Column: "id"}.reverse()
	assert.True(t, ok)
	assert.True(t, r.Desc)

	_, ok = OrderTerm{Raw: "RANDOM()"}.reverse()
	assert.False(t, ok)
}
