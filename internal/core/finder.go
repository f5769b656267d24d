package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/coregx/relq/internal/types"
)

// effective returns the relation's values with the default scope applied.
func (r *Relation[T]) effective() (*Values, error) {
	return r.model.DefaultScope(r.values)
}

// pkOrder orders by the primary key columns.
func (r *Relation[T]) pkOrder(desc bool) ([]OrderTerm, error) {
	if len(r.model.pk) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, r.model.name)
	}
	terms := make([]OrderTerm, len(r.model.pk))
	for i, c := range r.model.pk {
		terms[i] = OrderTerm{Column: r.model.table + "." + c.Name, Desc: desc}
	}
	return terms, nil
}

// ordered returns the values of r with a primary key order when no order is
// set, including by the default scope.
func (r *Relation[T]) ordered() (*Values, error) {
	eff, err := r.effective()
	if err != nil {
		return nil, err
	}
	if len(eff.order) > 0 {
		return r.values, nil
	}
	terms, err := r.pkOrder(false)
	if err != nil {
		return nil, err
	}
	return r.values.Order(terms...), nil
}

// First returns the first record by the relation's order, or by primary key
// when the relation is unordered. ErrNoRows when nothing matches.
func (r *Relation[T]) First(ctx context.Context) (*T, error) {
	recs, err := r.FirstN(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoRows
	}
	return recs[0], nil
}

// FirstN returns up to n records from the start of the relation. Loaded
// relations are served from the cache.
func (r *Relation[T]) FirstN(ctx context.Context, n int) ([]*T, error) {
	if r.err != nil {
		return nil, r.err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInvalidCondition, n)
	}
	if r.Loaded() {
		return r.records[:min(n, len(r.records))], nil
	}

	var out []*T
	err := r.guarded(func() error {
		v, err := r.ordered()
		if err != nil {
			return err
		}
		if limit, ok := r.values.LimitValue(); ok && limit < uint64(n) {
			n = int(limit)
		}
		out, err = r.fetch(ctx, v.Limit(uint64(n)), "first")
		return err
	})
	return out, err
}

// Last returns the last record by the relation's order, or by primary key
// when the relation is unordered. Relations ordered by a raw SQL expression
// cannot be reversed and fail with ErrIrreversibleOrder.
func (r *Relation[T]) Last(ctx context.Context) (*T, error) {
	recs, err := r.LastN(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNoRows
	}
	return recs[0], nil
}

// LastN returns up to n records from the end of the relation, in the
// relation's order.
func (r *Relation[T]) LastN(ctx context.Context, n int) ([]*T, error) {
	if r.err != nil {
		return nil, r.err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInvalidCondition, n)
	}
	if r.Loaded() {
		return r.records[len(r.records)-min(n, len(r.records)):], nil
	}

	_, limited := r.values.LimitValue()
	_, offset := r.values.OffsetValue()
	if limited || offset {
		// The window is defined in the original direction; load it and slice.
		recs, err := r.Records(ctx)
		if err != nil {
			return nil, err
		}
		return recs[len(recs)-min(n, len(recs)):], nil
	}

	var out []*T
	err := r.guarded(func() error {
		eff, err := r.effective()
		if err != nil {
			return err
		}
		var reversed []OrderTerm
		if len(eff.order) == 0 {
			if reversed, err = r.pkOrder(true); err != nil {
				return err
			}
		}
		for _, t := range eff.order {
			rt, ok := t.reverse()
			if !ok {
				return fmt.Errorf("%w: %q", ErrIrreversibleOrder, t.Raw)
			}
			reversed = append(reversed, rt)
		}
		out, err = r.fetch(ctx, r.values.Reorder(reversed...).Limit(uint64(n)), "last")
		slices.Reverse(out)
		return err
	})
	return out, err
}

// Take returns any matching record, without an implied order.
func (r *Relation[T]) Take(ctx context.Context) (*T, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.Loaded() {
		if len(r.records) == 0 {
			return nil, ErrNoRows
		}
		return r.records[0], nil
	}

	var out []*T
	err := r.guarded(func() error {
		var err error
		out, err = r.fetch(ctx, r.values.Limit(1), "take")
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoRows
	}
	return out[0], nil
}

// Find returns the record with primary key id. Composite keys take a []any
// with one value per key column.
func (r *Relation[T]) Find(ctx context.Context, id any) (*T, error) {
	if r.err != nil {
		return nil, r.err
	}
	preds, err := r.pkPredicates(id)
	if err != nil {
		return nil, err
	}
	rec, err := r.Where(And(asConditions(preds)...)).Take(ctx)
	if errors.Is(err, ErrNoRows) {
		return nil, fmt.Errorf("%w: %s with %s %v", ErrNoRows, r.model.name, strings.Join(r.model.PrimaryKey(), ","), id)
	}
	return rec, err
}

func (r *Relation[T]) pkPredicates(id any) ([]Predicate, error) {
	pk := r.model.pk
	switch {
	case len(pk) == 0:
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, r.model.name)
	case len(pk) == 1:
		return []Predicate{Eq(r.model.table+"."+pk[0].Name, id)}, nil
	}
	parts, ok := id.([]any)
	if !ok || len(parts) != len(pk) {
		return nil, fmt.Errorf("%w: %s has a %d column primary key", ErrInvalidCondition, r.model.name, len(pk))
	}
	preds := make([]Predicate, len(pk))
	for i, c := range pk {
		preds[i] = Eq(r.model.table+"."+c.Name, parts[i])
	}
	return preds, nil
}

// FindBy returns the first record matching cond, without an implied order.
// ErrNoRows when nothing matches.
func (r *Relation[T]) FindBy(ctx context.Context, cond any, args ...any) (*T, error) {
	return r.Where(cond, args...).Take(ctx)
}

// Pluck returns the values of one column or expression for every matching
// row, cast through the model's attribute type when column is a model column.
func (r *Relation[T]) Pluck(ctx context.Context, column string) ([]any, error) {
	rows, err := r.PluckColumns(ctx, column)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row[0]
	}
	return out, nil
}

// PluckColumns returns one slice of values per matching row, one value per
// column. Loaded relations plucking plain model columns are served from the
// cache.
func (r *Relation[T]) PluckColumns(ctx context.Context, columns ...string) ([][]any, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns to pluck", ErrInvalidCondition)
	}
	if r.Loaded() {
		if out, ok := r.pluckLoaded(columns); ok {
			return out, nil
		}
	}
	if r.values.IsNone() {
		return nil, nil
	}

	var out [][]any
	err := r.guarded(func() error {
		return r.db.terminal(ctx, r.model.table, "pluck", func(ctx context.Context) error {
			l := newLoader(r.db, r.model)
			p, err := l.comp.plan(r.values)
			if err != nil {
				return err
			}
			st, err := l.comp.pluck(p, columns)
			if err != nil {
				return err
			}
			_, data, err := l.queryRows(ctx, st)
			if err != nil {
				return err
			}
			out = make([][]any, len(data))
			for i, row := range data {
				vals := make([]any, len(row))
				for j, raw := range row {
					if vals[j], err = r.castColumn(columnAt(columns, j), raw); err != nil {
						return err
					}
				}
				out[i] = vals
			}
			return nil
		})
	})
	return out, err
}

func columnAt(columns []string, i int) string {
	if i < len(columns) {
		return columns[i]
	}
	return ""
}

// pluckLoaded reads plain model columns from cached records.
func (r *Relation[T]) pluckLoaded(columns []string) ([][]any, bool) {
	cols := make([]*Column, len(columns))
	for i, name := range columns {
		c, ok := r.modelColumn(name)
		if !ok {
			return nil, false
		}
		cols[i] = c
	}
	out := make([][]any, len(r.records))
	for i, rec := range r.records {
		v := reflect.ValueOf(rec).Elem()
		row := make([]any, len(cols))
		for j, c := range cols {
			row[j] = v.FieldByIndex(c.index).Interface()
		}
		out[i] = row
	}
	return out, true
}

// modelColumn resolves "col" or "table.col" on the relation's own table.
func (r *Relation[T]) modelColumn(name string) (*Column, bool) {
	if table, col, ok := strings.Cut(name, "."); ok {
		if !strings.EqualFold(table, r.model.table) {
			return nil, false
		}
		name = col
	}
	if !isIdentifier(name) {
		return nil, false
	}
	return r.model.Column(name)
}

// castColumn casts a plucked value through the attribute type of column,
// when it names a model column.
func (r *Relation[T]) castColumn(column string, raw any) (any, error) {
	c, ok := r.modelColumn(column)
	if raw == nil {
		return nil, nil
	}
	if !ok {
		return types.Value{}.Cast(raw)
	}
	v, err := c.Type.Cast(raw)
	if err != nil {
		return nil, &CastError{Model: r.model.name, Column: c.Name, Type: c.Type.Name(), Value: raw, Err: err}
	}
	return v, nil
}

// IDs returns the primary key values of every matching record.
func (r *Relation[T]) IDs(ctx context.Context) ([]any, error) {
	if r.err != nil {
		return nil, r.err
	}
	pk, err := r.model.singlePK()
	if err != nil {
		return nil, err
	}
	return r.Pluck(ctx, r.model.table+"."+pk.Name)
}

// PluckAs plucks one column and converts every non-NULL value to V. NULL
// becomes the zero value of V.
func PluckAs[V, T any](ctx context.Context, r *Relation[T], column string) ([]V, error) {
	vals, err := r.Pluck(ctx, column)
	if err != nil {
		return nil, err
	}
	out := make([]V, len(vals))
	for i, raw := range vals {
		dst := reflect.ValueOf(&out[i]).Elem()
		if err := types.Assign(dst, raw, raw); err != nil {
			return nil, &CastError{Model: r.model.name, Column: column, Type: dst.Type().String(), Value: raw, Err: err}
		}
	}
	return out, nil
}
