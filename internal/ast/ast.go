// Package ast is the statement builder used by the query compiler. It accepts
// structured clause additions and renders SQL text with "?" placeholders plus the
// ordered bind values. Rendering is delegated to squirrel.
package ast

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Expr is a renderable SQL fragment with its bind values.
type Expr = sq.Sqlizer

// Query is an immutable SELECT statement under construction.
// Every method returns a new Query.
type Query struct {
	b sq.SelectBuilder
}

// Select starts a SELECT statement projecting the given columns.
func Select(columns ...string) Query {
	return Query{b: sq.Select(columns...).PlaceholderFormat(sq.Question)}
}

// From sets the source table.
func (q Query) From(table string) Query {
	return Query{b: q.b.From(table)}
}

// FromSelect selects from a subquery aliased as alias.
func (q Query) FromSelect(sub Query, alias string) Query {
	return Query{b: q.b.FromSelect(sub.b, alias)}
}

// Distinct adds the DISTINCT keyword.
func (q Query) Distinct() Query {
	return Query{b: q.b.Distinct()}
}

// Join appends a complete join clause ("LEFT OUTER JOIN t ON ...").
func (q Query) Join(clause string, args ...any) Query {
	return Query{b: q.b.JoinClause(clause, args...)}
}

// Where ANDs a predicate into the WHERE clause.
func (q Query) Where(e Expr) Query {
	if e == nil {
		return q
	}
	return Query{b: q.b.Where(e)}
}

// GroupBy appends GROUP BY terms.
func (q Query) GroupBy(terms ...string) Query {
	if len(terms) == 0 {
		return q
	}
	return Query{b: q.b.GroupBy(terms...)}
}

// Having ANDs a predicate into the HAVING clause.
func (q Query) Having(e Expr) Query {
	if e == nil {
		return q
	}
	return Query{b: q.b.Having(e)}
}

// OrderBy appends ORDER BY terms.
func (q Query) OrderBy(terms ...string) Query {
	if len(terms) == 0 {
		return q
	}
	return Query{b: q.b.OrderBy(terms...)}
}

// Limit sets the LIMIT clause.
func (q Query) Limit(n uint64) Query {
	return Query{b: q.b.Limit(n)}
}

// Offset sets the OFFSET clause.
func (q Query) Offset(n uint64) Query {
	return Query{b: q.b.Offset(n)}
}

// ToSql implements Expr so a Query can be nested as a subquery.
func (q Query) ToSql() (string, []any, error) {
	return q.b.ToSql()
}

// Render returns the SQL text with "?" placeholders and the ordered bind values.
func (q Query) Render() (string, []any, error) {
	return q.b.ToSql()
}

// UpdateQuery is an immutable UPDATE statement under construction.
type UpdateQuery struct {
	b sq.UpdateBuilder
}

// Update starts an UPDATE statement.
func Update(table string) UpdateQuery {
	return UpdateQuery{b: sq.Update(table).PlaceholderFormat(sq.Question)}
}

// SetMap adds SET assignments; keys are rendered in sorted order.
func (u UpdateQuery) SetMap(clauses map[string]any) UpdateQuery {
	return UpdateQuery{b: u.b.SetMap(clauses)}
}

// Where ANDs a predicate into the WHERE clause.
func (u UpdateQuery) Where(e Expr) UpdateQuery {
	if e == nil {
		return u
	}
	return UpdateQuery{b: u.b.Where(e)}
}

// Render returns the SQL text and bind values.
func (u UpdateQuery) Render() (string, []any, error) {
	return u.b.ToSql()
}

// DeleteQuery is an immutable DELETE statement under construction.
type DeleteQuery struct {
	b sq.DeleteBuilder
}

// Delete starts a DELETE statement.
func Delete(table string) DeleteQuery {
	return DeleteQuery{b: sq.Delete(table).PlaceholderFormat(sq.Question)}
}

// Where ANDs a predicate into the WHERE clause.
func (d DeleteQuery) Where(e Expr) DeleteQuery {
	if e == nil {
		return d
	}
	return DeleteQuery{b: d.b.Where(e)}
}

// Render returns the SQL text and bind values.
func (d DeleteQuery) Render() (string, []any, error) {
	return d.b.ToSql()
}

// CountPlaceholders counts "?" placeholders the way they are rebound: every "?"
// is a placeholder except a doubled "??", which is an escaped literal.
func CountPlaceholders(sql string) int {
	n := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] != '?' {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == '?' {
			i++
			continue
		}
		n++
	}
	return n
}

// Rebind rewrites "?" placeholders using the given format. A doubled "??"
// becomes a literal "?" in every format.
func Rebind(format sq.PlaceholderFormat, sql string) (string, error) {
	if format == nil || !strings.Contains(sql, "?") {
		return sql, nil
	}
	out, err := format.ReplacePlaceholders(sql)
	if err != nil {
		return "", err
	}
	if format == sq.Question {
		out = strings.ReplaceAll(out, "??", "?")
	}
	return out, nil
}
