package ast

import (
	sq "github.com/Masterminds/squirrel"
)

// Raw wraps a literal SQL fragment with its bind values.
func Raw(sql string, args ...any) Expr {
	return sq.Expr(sql, args...)
}

// Eq renders "col = ?", "col IS NULL" for nil, and "col IN (...)" for slices.
func Eq(col string, v any) Expr {
	if b, ok := v.([]byte); ok {
		return sq.Expr(col+" = ?", b)
	}
	return sq.Eq{col: v}
}

// NotEq renders "col <> ?", "col IS NOT NULL" for nil, and "col NOT IN (...)" for slices.
func NotEq(col string, v any) Expr {
	if b, ok := v.([]byte); ok {
		return sq.Expr(col+" <> ?", b)
	}
	return sq.NotEq{col: v}
}

// In renders "col IN (...)"; an empty list renders a false predicate.
func In(col string, values []any) Expr {
	return sq.Eq{col: values}
}

// NotIn renders "col NOT IN (...)"; an empty list renders a true predicate.
func NotIn(col string, values []any) Expr {
	return sq.NotEq{col: values}
}

// Gt renders "col > ?".
func Gt(col string, v any) Expr { return sq.Gt{col: v} }

// Gte renders "col >= ?".
func Gte(col string, v any) Expr { return sq.GtOrEq{col: v} }

// Lt renders "col < ?".
func Lt(col string, v any) Expr { return sq.Lt{col: v} }

// Lte renders "col <= ?".
func Lte(col string, v any) Expr { return sq.LtOrEq{col: v} }

// Like renders "col LIKE ?".
func Like(col string, pattern any) Expr { return sq.Like{col: pattern} }

// NotLike renders "col NOT LIKE ?".
func NotLike(col string, pattern any) Expr { return sq.NotLike{col: pattern} }

// Between renders "col BETWEEN ? AND ?".
func Between(col string, lo, hi any) Expr {
	return sq.Expr(col+" BETWEEN ? AND ?", lo, hi)
}

// And joins expressions with AND inside parentheses.
func And(exprs ...Expr) Expr { return sq.And(exprs) }

// Or joins expressions with OR inside parentheses.
func Or(exprs ...Expr) Expr { return sq.Or(exprs) }

// Not negates an expression.
func Not(e Expr) Expr { return notExpr{e: e} }

type notExpr struct {
	e Expr
}

func (n notExpr) ToSql() (string, []any, error) {
	sql, args, err := n.e.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + sql + ")", args, nil
}

// Subquery renders "col IN (<sub>)".
func Subquery(col string, sub Query) Expr {
	return subqueryExpr{col: col, sub: sub}
}

type subqueryExpr struct {
	col string
	sub Query
}

func (s subqueryExpr) ToSql() (string, []any, error) {
	sql, args, err := s.sub.Render()
	if err != nil {
		return "", nil, err
	}
	return s.col + " IN (" + sql + ")", args, nil
}
