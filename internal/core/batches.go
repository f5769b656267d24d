package core

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"strings"

	"github.com/coregx/relq/internal/util"
)

// KeysetCursor walks a relation in key order. Columns names the key columns
// batches are ordered by; After restricts the next batch to rows whose key
// sorts after last, which holds one value per column.
type KeysetCursor interface {
	Columns() []string
	After(last []any) Predicate
}

// SingleKeyCursor pages on one column with "col > last".
type SingleKeyCursor struct {
	Column string
}

// Columns implements KeysetCursor.
func (c SingleKeyCursor) Columns() []string { return []string{c.Column} }

// After implements KeysetCursor.
func (c SingleKeyCursor) After(last []any) Predicate { return Gt(c.Column, last[0]) }

// CompositeKeyCursor pages on several columns in lexicographic order:
//
//	(a > ?) OR (a = ? AND b > ?) OR (a = ? AND b = ? AND c > ?)
type CompositeKeyCursor struct {
	Keys []string
}

// Columns implements KeysetCursor.
func (c CompositeKeyCursor) Columns() []string { return c.Keys }

// After implements KeysetCursor.
func (c CompositeKeyCursor) After(last []any) Predicate {
	branches := make([]Condition, 0, len(c.Keys))
	for i, col := range c.Keys {
		terms := make([]Condition, 0, i+1)
		for j := range i {
			terms = append(terms, Eq(c.Keys[j], last[j]))
		}
		terms = append(terms, Gt(col, last[i]))
		branches = append(branches, And(terms...))
	}
	return Or(branches...)
}

type batchOptions struct {
	size   int
	start  any
	finish any
	cursor KeysetCursor
}

// BatchOption configures InBatches.
type BatchOption func(*batchOptions)

// BatchSize sets the number of records per batch.
func BatchSize(n int) BatchOption {
	return func(o *batchOptions) { o.size = n }
}

// BatchStart starts iteration at the first key >= v.
func BatchStart(v any) BatchOption {
	return func(o *batchOptions) { o.start = v }
}

// BatchFinish stops iteration after the last key <= v.
func BatchFinish(v any) BatchOption {
	return func(o *batchOptions) { o.finish = v }
}

// BatchCursor replaces the primary key cursor.
func BatchCursor(c KeysetCursor) BatchOption {
	return func(o *batchOptions) { o.cursor = c }
}

// Batches iterates a relation in key order, one query per batch. It keeps
// no state between iterations, so every Each, Seq or Records call starts
// over from the first batch.
type Batches[T any] struct {
	rel  *Relation[T]
	opts batchOptions
	err  error
}

// InBatches returns a batch iterator over the relation. The relation must be
// unordered or ordered by the batch key ascending; a limit caps the total
// number of records.
func (r *Relation[T]) InBatches(opts ...BatchOption) *Batches[T] {
	b := &Batches[T]{rel: r, err: r.err}
	if r.err != nil {
		return b
	}
	b.opts.size = r.db.cfg.Relation.BatchSize
	for _, opt := range opts {
		opt(&b.opts)
	}
	if b.opts.size <= 0 {
		b.err = fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidCondition, b.opts.size)
		return b
	}
	if b.opts.cursor == nil {
		switch pk := r.model.PrimaryKey(); len(pk) {
		case 0:
			b.err = fmt.Errorf("%w: %s", ErrNoPrimaryKey, r.model.name)
			return b
		case 1:
			b.opts.cursor = SingleKeyCursor{Column: pk[0]}
		default:
			b.opts.cursor = CompositeKeyCursor{Keys: pk}
		}
	}
	b.err = b.checkOrder()
	return b
}

// checkOrder accepts no order or exactly the cursor columns ascending.
func (b *Batches[T]) checkOrder() error {
	v := b.rel.values
	order := v.OrderTerms()
	if len(order) == 0 {
		return nil
	}
	keys := b.opts.cursor.Columns()
	ok := len(order) == len(keys)
	for i := 0; ok && i < len(order); i++ {
		t := order[i]
		ok = t.Raw == "" && !t.Desc && v.columnKey(t.Column) == v.columnKey(keys[i])
	}
	if ok {
		return nil
	}
	names := make([]string, len(order))
	for i, t := range order {
		switch {
		case t.Raw != "":
			names[i] = t.Raw
		case t.Desc:
			names[i] = t.Column + " DESC"
		default:
			names[i] = t.Column + " ASC"
		}
	}
	return &UnorderedBatchError{Order: names, Key: keys}
}

// base returns the values every batch query starts from.
func (b *Batches[T]) base() *Values {
	r := b.rel
	v := r.values
	if _, ok := v.OffsetValue(); ok {
		r.db.logger.Warn("batch iteration ignores the relation's offset", "table", r.model.table)
		v = v.WithoutOffset()
	}
	keys := b.opts.cursor.Columns()
	terms := make([]OrderTerm, len(keys))
	for i, k := range keys {
		terms[i] = OrderTerm{Column: k}
	}
	v = v.Reorder(terms...)
	if b.opts.start != nil {
		v = v.Where(Gte(keys[0], b.opts.start))
	}
	if b.opts.finish != nil {
		v = v.Where(Lte(keys[0], b.opts.finish))
	}
	return v
}

// Seq yields the batches in key order. Iteration stops at the first error,
// which is yielded with a nil batch.
func (b *Batches[T]) Seq(ctx context.Context) iter.Seq2[[]*T, error] {
	return func(yield func([]*T, error) bool) {
		if b.err != nil {
			yield(nil, b.err)
			return
		}
		r := b.rel
		if r.values.IsNone() {
			return
		}

		total, capped := r.values.LimitValue()
		base := b.base()
		keys := b.opts.cursor.Columns()
		var last []any
		var seen uint64
		for {
			if util.IsCanceled(ctx) {
				yield(nil, ctx.Err())
				return
			}
			size := uint64(b.opts.size)
			if capped {
				if seen >= total {
					return
				}
				size = min(size, total-seen)
			}

			v := base.Limit(size)
			if last != nil {
				v = v.Where(b.opts.cursor.After(last))
			}
			batch, err := r.fetch(ctx, v, "batch")
			if err != nil {
				yield(nil, err)
				return
			}
			if len(batch) == 0 {
				return
			}
			r.db.metrics.RecordBatch(ctx, r.model.table)
			seen += uint64(len(batch))

			if last, err = b.keyOf(batch[len(batch)-1], keys); err != nil {
				yield(nil, err)
				return
			}
			if !yield(batch, nil) || uint64(len(batch)) < size {
				return
			}
		}
	}
}

// keyOf reads the cursor key of a record.
func (b *Batches[T]) keyOf(rec *T, keys []string) ([]any, error) {
	m := b.rel.model
	out := make([]any, len(keys))
	for i, k := range keys {
		name := k
		if _, col, ok := strings.Cut(k, "."); ok {
			name = col
		}
		c, ok := m.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: batch key %q is not a column of %s", ErrInvalidCondition, k, m.name)
		}
		out[i] = util.NormalizeKey(m.value(reflect.ValueOf(rec), c.Name))
		if out[i] == nil {
			return nil, fmt.Errorf("%w: NULL batch key %q on %s", ErrInvalidCondition, k, m.name)
		}
	}
	return out, nil
}

// Records yields the records of every batch in key order.
func (b *Batches[T]) Records(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		for batch, err := range b.Seq(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rec := range batch {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// Each calls fn with every batch until fn fails.
func (b *Batches[T]) Each(ctx context.Context, fn func([]*T) error) error {
	for batch, err := range b.Seq(ctx) {
		if err != nil {
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// FindEach calls fn with every record, loading them in batches.
func (r *Relation[T]) FindEach(ctx context.Context, fn func(*T) error, opts ...BatchOption) error {
	for rec, err := range r.InBatches(opts...).Records(ctx) {
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// FindInBatches calls fn with every batch of records.
func (r *Relation[T]) FindInBatches(ctx context.Context, fn func([]*T) error, opts ...BatchOption) error {
	return r.InBatches(opts...).Each(ctx, fn)
}
