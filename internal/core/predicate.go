// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"reflect"
	"sort"
	"strings"

	"github.com/coregx/relq/internal/ast"
)

// Operator identifies the comparison a Predicate performs.
type Operator int

// Predicate operators.
const (
	OpEq Operator = iota
	OpNotEq
	OpIn
	OpNotIn
	OpGt
	OpGte
	OpLt
	OpLte
	OpLike
	OpNotLike
	OpBetween
	OpRaw
	OpAnd
	OpOr
	OpNot
)

// Predicate is one structured condition of a WHERE or HAVING clause.
// Column predicates carry Column and Args; raw fragments carry SQL and Args;
// compound predicates carry Children.
type Predicate struct {
	Column   string
	Op       Operator
	Args     []any
	SQL      string
	Children []Predicate
}

// Condition is anything that can be added to a Where or Having clause.
//
// Example:
//
//	relq.From[User](db).Where(relq.HashExp{"status": "active", "role": []string{"admin", "owner"}})
//	relq.From[User](db).Where(relq.Gt("age", 18))
//	relq.From[User](db).Where("created_at > ?", since)
type Condition interface {
	// Predicates returns the predicates the condition contributes, AND-combined.
	Predicates() []Predicate
}

// Predicates implements Condition.
func (p Predicate) Predicates() []Predicate {
	return []Predicate{p}
}

// HashExp is a column to value map. Each entry becomes an equality predicate:
// nil renders IS NULL and slices render IN lists. Keys are applied in sorted order.
type HashExp map[string]any

// Predicates implements Condition.
func (h HashExp) Predicates() []Predicate {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]Predicate, 0, len(keys))
	for _, k := range keys {
		preds = append(preds, Eq(k, h[k]))
	}
	return preds
}

// Eq creates "col = value". A nil value renders IS NULL and a slice renders IN.
func Eq(col string, value any) Predicate {
	return Predicate{Column: col, Op: OpEq, Args: []any{value}}
}

// NotEq creates "col <> value".
func NotEq(col string, value any) Predicate {
	return Predicate{Column: col, Op: OpNotEq, Args: []any{value}}
}

// In creates "col IN (values...)". An empty list matches nothing.
func In(col string, values ...any) Predicate {
	return Predicate{Column: col, Op: OpIn, Args: values}
}

// NotIn creates "col NOT IN (values...)". An empty list matches everything.
func NotIn(col string, values ...any) Predicate {
	return Predicate{Column: col, Op: OpNotIn, Args: values}
}

// Gt creates "col > value".
func Gt(col string, value any) Predicate {
	return Predicate{Column: col, Op: OpGt, Args: []any{value}}
}

// Gte creates "col >= value".
func Gte(col string, value any) Predicate {
	return Predicate{Column: col, Op: OpGte, Args: []any{value}}
}

// Lt creates "col < value".
func Lt(col string, value any) Predicate {
	return Predicate{Column: col, Op: OpLt, Args: []any{value}}
}

// Lte creates "col <= value".
func Lte(col string, value any) Predicate {
	return Predicate{Column: col, Op: OpLte, Args: []any{value}}
}

// Like creates "col LIKE pattern". The pattern is bound as is.
func Like(col string, pattern string) Predicate {
	return Predicate{Column: col, Op: OpLike, Args: []any{pattern}}
}

// NotLike creates "col NOT LIKE pattern".
func NotLike(col string, pattern string) Predicate {
	return Predicate{Column: col, Op: OpNotLike, Args: []any{pattern}}
}

// Between creates "col BETWEEN lo AND hi".
func Between(col string, lo, hi any) Predicate {
	return Predicate{Column: col, Op: OpBetween, Args: []any{lo, hi}}
}

// Raw creates a literal SQL fragment with "?" placeholders. A slice argument
// bound to a single placeholder is expanded into a list, so
// Raw("id IN (?)", []int{1, 2}) renders "id IN (?, ?)". Write "??" for a
// literal question mark.
func Raw(sql string, args ...any) Predicate {
	sql, args = expandSliceArgs(sql, args)
	return Predicate{Op: OpRaw, SQL: sql, Args: args}
}

// And combines conditions with AND.
func And(conds ...Condition) Predicate {
	return Predicate{Op: OpAnd, Children: flatten(conds)}
}

// Or combines conditions with OR.
func Or(conds ...Condition) Predicate {
	return Predicate{Op: OpOr, Children: flatten(conds)}
}

// Not negates a condition.
func Not(cond Condition) Predicate {
	return Predicate{Op: OpNot, Children: cond.Predicates()}
}

func flatten(conds []Condition) []Predicate {
	var out []Predicate
	for _, c := range conds {
		if c == nil {
			continue
		}
		out = append(out, c.Predicates()...)
	}
	return out
}

// isEquality reports whether the predicate scopes a column to a value or
// list of values. Merge replaces such predicates column by column.
func (p Predicate) isEquality() bool {
	return (p.Op == OpEq || p.Op == OpIn) && p.Column != ""
}

func (p Predicate) equal(o Predicate) bool {
	return reflect.DeepEqual(p, o)
}

// columns calls fn for every column referenced by the predicate tree.
func (p Predicate) columns(fn func(string)) {
	if p.Column != "" {
		fn(p.Column)
	}
	for _, c := range p.Children {
		c.columns(fn)
	}
}

// rawFragments calls fn for every raw SQL fragment in the predicate tree.
func (p Predicate) rawFragments(fn func(Predicate)) {
	if p.Op == OpRaw {
		fn(p)
	}
	for _, c := range p.Children {
		c.rawFragments(fn)
	}
}

// toExpr converts the predicate into an AST expression. quote renders a
// column reference.
func (p Predicate) toExpr(quote func(string) string) ast.Expr {
	switch p.Op {
	case OpEq:
		return ast.Eq(quote(p.Column), p.Args[0])
	case OpNotEq:
		return ast.NotEq(quote(p.Column), p.Args[0])
	case OpIn:
		return ast.In(quote(p.Column), p.Args)
	case OpNotIn:
		return ast.NotIn(quote(p.Column), p.Args)
	case OpGt:
		return ast.Gt(quote(p.Column), p.Args[0])
	case OpGte:
		return ast.Gte(quote(p.Column), p.Args[0])
	case OpLt:
		return ast.Lt(quote(p.Column), p.Args[0])
	case OpLte:
		return ast.Lte(quote(p.Column), p.Args[0])
	case OpLike:
		return ast.Like(quote(p.Column), p.Args[0])
	case OpNotLike:
		return ast.NotLike(quote(p.Column), p.Args[0])
	case OpBetween:
		return ast.Between(quote(p.Column), p.Args[0], p.Args[1])
	case OpRaw:
		return ast.Raw("("+p.SQL+")", p.Args...)
	case OpAnd:
		return ast.And(childExprs(p.Children, quote)...)
	case OpOr:
		return ast.Or(childExprs(p.Children, quote)...)
	case OpNot:
		if len(p.Children) == 1 {
			return ast.Not(p.Children[0].toExpr(quote))
		}
		return ast.Not(ast.And(childExprs(p.Children, quote)...))
	default:
		return ast.Raw("1=0")
	}
}

func childExprs(preds []Predicate, quote func(string) string) []ast.Expr {
	exprs := make([]ast.Expr, len(preds))
	for i, c := range preds {
		exprs[i] = c.toExpr(quote)
	}
	return exprs
}

func bareColumn(col string) string { return col }

// binds returns the bind values the predicate renders.
func (p Predicate) binds() []any {
	_, args, err := p.toExpr(bareColumn).ToSql()
	if err != nil {
		return nil
	}
	return args
}

func expandSliceArgs(sql string, args []any) (string, []any) {
	if ast.CountPlaceholders(sql) != len(args) || !hasSliceArg(args) {
		return sql, args
	}

	var b strings.Builder
	out := make([]any, 0, len(args))
	n := 0
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch != '?' {
			b.WriteByte(ch)
			continue
		}
		if i+1 < len(sql) && sql[i+1] == '?' {
			b.WriteString("??")
			i++
			continue
		}
		arg := args[n]
		n++
		rv := reflect.ValueOf(arg)
		if !isListArg(arg) {
			b.WriteByte('?')
			out = append(out, arg)
			continue
		}
		if rv.Len() == 0 {
			b.WriteString("NULL")
			continue
		}
		for j := 0; j < rv.Len(); j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('?')
			out = append(out, rv.Index(j).Interface())
		}
	}
	return b.String(), out
}

func hasSliceArg(args []any) bool {
	for _, a := range args {
		if isListArg(a) {
			return true
		}
	}
	return false
}

func isListArg(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
