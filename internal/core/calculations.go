package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/coregx/relq/internal/analyzer"
	"github.com/coregx/relq/internal/types"
)

// scalar runs a statement compiled from the relation's plan and returns the
// first column of its first row, or nil when no row is returned.
func (r *Relation[T]) scalar(ctx context.Context, operation string, compile func(*compiler, *queryPlan) (*Statement, error)) (any, bool, error) {
	var value any
	var found bool
	err := r.guarded(func() error {
		return r.db.terminal(ctx, r.model.table, operation, func(ctx context.Context) error {
			l := newLoader(r.db, r.model)
			p, err := l.comp.plan(r.values)
			if err != nil {
				return err
			}
			st, err := compile(l.comp, p)
			if err != nil {
				return err
			}
			_, data, err := l.queryRows(ctx, st)
			if err != nil {
				return err
			}
			if len(data) > 0 && len(data[0]) > 0 {
				value, found = data[0][0], true
			}
			return nil
		})
	})
	return value, found, err
}

// Count returns the number of matching rows. It never loads records nor
// reads the cache. Grouped relations return the number of groups.
func (r *Relation[T]) Count(ctx context.Context) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.values.IsNone() {
		return 0, nil
	}
	raw, _, err := r.scalar(ctx, "count", (*compiler).count)
	if err != nil {
		return 0, err
	}
	return r.integer("COUNT(*)", raw)
}

func (r *Relation[T]) integer(column string, raw any) (int64, error) {
	if raw == nil {
		return 0, nil
	}
	n, err := types.Integer{Bits: 64}.Cast(raw)
	if err != nil {
		return 0, &CastError{Model: r.model.name, Column: column, Type: "integer", Value: raw, Err: err}
	}
	return n.(int64), nil
}

// Exists reports whether any row matches, with a SELECT 1 ... LIMIT 1.
func (r *Relation[T]) Exists(ctx context.Context) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	if n, ok := r.values.LimitValue(); r.values.IsNone() || (ok && n == 0) {
		return false, nil
	}
	_, found, err := r.scalar(ctx, "exists", (*compiler).exists)
	return found, err
}

// Size returns the number of cached records when loaded, and Count otherwise.
func (r *Relation[T]) Size(ctx context.Context) (int64, error) {
	if r.Loaded() {
		return int64(len(r.records)), nil
	}
	return r.Count(ctx)
}

// Empty reports whether the relation has no records.
func (r *Relation[T]) Empty(ctx context.Context) (bool, error) {
	if r.Loaded() {
		return len(r.records) == 0, nil
	}
	found, err := r.Exists(ctx)
	return !found, err
}

// Calculate runs an aggregate over column. COUNT and SUM of no rows are 0;
// the others are nil. AVG is a float64; SUM, MIN and MAX of a model column
// are cast through its attribute type.
func (r *Relation[T]) Calculate(ctx context.Context, op Calculation, column string) (any, error) {
	if r.err != nil {
		return nil, r.err
	}
	switch op {
	case CalcSum, CalcAverage, CalcMinimum, CalcMaximum, CalcCount:
	default:
		return nil, fmt.Errorf("%w: unknown calculation %q", ErrInvalidCondition, op)
	}
	if r.values.IsNone() {
		return r.emptyCalculation(op), nil
	}

	raw, _, err := r.scalar(ctx, strings.ToLower(string(op)), func(c *compiler, p *queryPlan) (*Statement, error) {
		return c.calculate(p, op, column)
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return r.emptyCalculation(op), nil
	}

	var t types.Type = types.Value{}
	switch op {
	case CalcCount:
		t = types.Integer{Bits: 64}
	case CalcAverage:
		t = types.Float{Bits: 64}
	case CalcSum:
		t = sumType(r.columnType(column))
	default:
		if ct := r.columnType(column); ct != nil {
			t = ct
		}
	}
	v, err := t.Cast(raw)
	if err != nil {
		return nil, &CastError{Model: r.model.name, Column: column, Type: t.Name(), Value: raw, Err: err}
	}
	return v, nil
}

func (r *Relation[T]) emptyCalculation(op Calculation) any {
	if op == CalcSum || op == CalcCount {
		return int64(0)
	}
	return nil
}

func (r *Relation[T]) columnType(column string) types.Type {
	c, ok := r.modelColumn(column)
	if !ok {
		return nil
	}
	if n, ok := c.Type.(types.Nullable); ok {
		return n.Elem
	}
	return c.Type
}

// sumType widens integer columns so a sum never overflows the column's size.
func sumType(t types.Type) types.Type {
	switch ct := t.(type) {
	case types.Integer:
		return types.Integer{Bits: 64, Unsigned: ct.Unsigned}
	case types.Float:
		return types.Float{Bits: 64}
	}
	return types.Value{}
}

// Sum returns SUM(column).
func (r *Relation[T]) Sum(ctx context.Context, column string) (any, error) {
	return r.Calculate(ctx, CalcSum, column)
}

// Average returns AVG(column) as a float64, or nil for no rows.
func (r *Relation[T]) Average(ctx context.Context, column string) (any, error) {
	return r.Calculate(ctx, CalcAverage, column)
}

// Minimum returns MIN(column).
func (r *Relation[T]) Minimum(ctx context.Context, column string) (any, error) {
	return r.Calculate(ctx, CalcMinimum, column)
}

// Maximum returns MAX(column).
func (r *Relation[T]) Maximum(ctx context.Context, column string) (any, error) {
	return r.Calculate(ctx, CalcMaximum, column)
}

// Explain returns the database's plan for the record-loading statement.
// Columns of a plan row are separated by " | ", rows by newlines.
func (r *Relation[T]) Explain(ctx context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	var b strings.Builder
	err := r.guarded(func() error {
		return r.db.terminal(ctx, r.model.table, "explain", func(ctx context.Context) error {
			l := newLoader(r.db, r.model)
			p, err := l.comp.plan(r.values)
			if err != nil {
				return err
			}
			st, err := l.comp.explain(p, r.db.dialect.ExplainPrefix())
			if err != nil {
				return err
			}
			_, data, err := l.queryRows(ctx, st)
			if err != nil {
				return err
			}
			for i, row := range data {
				if i > 0 {
					b.WriteByte('\n')
				}
				for j, v := range row {
					if j > 0 {
						b.WriteString(" | ")
					}
					b.WriteString(explainValue(v))
				}
			}
			return nil
		})
	})
	return b.String(), err
}

// ExplainPlan asks the database for the plan of the record-loading
// statement in a machine-readable form and summarizes it.
func (r *Relation[T]) ExplainPlan(ctx context.Context) (*analyzer.Plan, error) {
	if r.err != nil {
		return nil, r.err
	}
	var plan *analyzer.Plan
	err := r.guarded(func() error {
		return r.db.terminal(ctx, r.model.table, "explain", func(ctx context.Context) error {
			l := newLoader(r.db, r.model)
			p, err := l.comp.plan(r.values)
			if err != nil {
				return err
			}
			name := r.db.dialect.Name()
			st, err := l.comp.explain(p, analyzer.PlanPrefix(name))
			if err != nil {
				return err
			}
			_, data, err := l.queryRows(ctx, st)
			if err != nil {
				return err
			}
			plan, err = analyzer.Parse(name, data)
			return err
		})
	})
	return plan, err
}

func explainValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// UpdateAll updates every matching row with one UPDATE statement and returns
// the number of rows affected. Values may be Raw expressions:
//
//	rel.UpdateAll(ctx, map[string]any{"views": relq.Raw("views + ?", 1)})
//
// Records are not loaded and the cache is left as is.
func (r *Relation[T]) UpdateAll(ctx context.Context, set map[string]any) (int64, error) {
	return r.write(ctx, "update_all", func(c *compiler, p *queryPlan) (*Statement, error) {
		return c.updateAll(p, set)
	})
}

// DeleteAll deletes every matching row with one DELETE statement and returns
// the number of rows affected. The cache is dropped.
func (r *Relation[T]) DeleteAll(ctx context.Context) (int64, error) {
	n, err := r.write(ctx, "delete_all", (*compiler).deleteAll)
	if err == nil {
		r.Reset()
	}
	return n, err
}

func (r *Relation[T]) write(ctx context.Context, operation string, compile func(*compiler, *queryPlan) (*Statement, error)) (int64, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.values.IsNone() {
		return 0, nil
	}
	var n int64
	err := r.guarded(func() error {
		return r.db.terminal(ctx, r.model.table, operation, func(ctx context.Context) error {
			c := newCompiler(r.db, r.model)
			p, err := c.plan(r.values)
			if err != nil {
				return err
			}
			st, err := compile(c, p)
			if err != nil {
				return err
			}
			n, err = r.db.execute(ctx, st)
			return err
		})
	})
	return n, err
}
