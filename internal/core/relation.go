package core

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"
)

// Relation load states.
const (
	stateUnloaded int32 = iota
	stateLoading
	stateLoaded
)

// Relation is a lazy, chainable query over the records of model T.
//
// Every chain method returns a new Relation and leaves the receiver
// untouched. Nothing is executed until a terminal operation (Load, Records,
// Count, First, ...) is called; the records of a load are cached on the
// instance and served from the cache afterwards.
//
// A single Relation must not run two terminal operations at the same time;
// an overlapping call fails with ErrLoadInProgress. Distinct Relation values
// are independent and safe to use from different goroutines.
//
// Example:
//
//	posts := relq.From[Post](db).
//	    Where(relq.HashExp{"published": true}).
//	    Includes("comments").
//	    Order("created_at DESC").
//	    Limit(10)
//	recs, err := posts.Records(ctx)
type Relation[T any] struct {
	db     *DB
	model  *Model
	values *Values
	err    error

	state   atomic.Int32
	records []*T
}

// From returns a relation over every record of T.
func From[T any](db *DB) *Relation[T] {
	m, err := db.models.get(reflect.TypeFor[T]())
	if err != nil {
		return &Relation[T]{db: db, values: NewValues(""), err: err}
	}
	return &Relation[T]{db: db, model: m, values: NewValues(m.table)}
}

// spawn returns a new unloaded relation over v, or over the receiver's
// values when v is nil. A sticky error is carried.
func (r *Relation[T]) spawn(v *Values, err error) *Relation[T] {
	if r.err != nil {
		err = r.err
	}
	if err != nil || v == nil {
		v = r.values
	}
	return &Relation[T]{db: r.db, model: r.model, values: v, err: err}
}

func (r *Relation[T]) with(fn func(*Values) *Values) *Relation[T] {
	if r.err != nil {
		return r.spawn(nil, nil)
	}
	return r.spawn(fn(r.values), nil)
}

// Values returns the relation's scope values.
func (r *Relation[T]) Values() *Values { return r.values }

// Model returns the model descriptor of T.
func (r *Relation[T]) Model() *Model { return r.model }

// Err returns the first error recorded while building the relation.
func (r *Relation[T]) Err() error { return r.err }

// Loaded reports whether records are cached on the relation.
func (r *Relation[T]) Loaded() bool { return r.state.Load() == stateLoaded }

// conditions converts the arguments of Where and Having into predicates.
// cond is a raw SQL string with "?" placeholders, a Condition, or a
// map[string]any handled like HashExp.
func conditions(cond any, args []any) ([]Predicate, error) {
	switch c := cond.(type) {
	case string:
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("%w: empty SQL fragment", ErrInvalidCondition)
		}
		return []Predicate{Raw(c, args...)}, nil
	case Condition:
		if c == nil {
			break
		}
		if len(args) > 0 {
			return nil, fmt.Errorf("%w: arguments are only accepted with a SQL string", ErrInvalidCondition)
		}
		return c.Predicates(), nil
	case map[string]any:
		return HashExp(c).Predicates(), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrInvalidCondition, cond)
}

// Where ANDs a condition into the WHERE clause. cond is a SQL fragment with
// "?" placeholders, a Condition (Eq, In, HashExp, Or, ...) or a
// map[string]any. A predicate identical to one already present is not added
// twice.
func (r *Relation[T]) Where(cond any, args ...any) *Relation[T] {
	preds, err := conditions(cond, args)
	if err != nil {
		return r.spawn(nil, err)
	}
	return r.with(func(v *Values) *Values { return v.Where(preds...) })
}

// Not ANDs the negation of a condition into the WHERE clause.
func (r *Relation[T]) Not(cond any, args ...any) *Relation[T] {
	preds, err := conditions(cond, args)
	if err != nil {
		return r.spawn(nil, err)
	}
	return r.with(func(v *Values) *Values { return v.Where(Not(And(asConditions(preds)...))) })
}

// Rewhere adds a condition whose equality predicates replace those already
// present on the same columns.
func (r *Relation[T]) Rewhere(cond any, args ...any) *Relation[T] {
	preds, err := conditions(cond, args)
	if err != nil {
		return r.spawn(nil, err)
	}
	if r.err != nil {
		return r.spawn(nil, nil)
	}
	v, err := r.values.Merge(NewValues(r.values.Family()).Where(preds...))
	return r.spawn(v, err)
}

// Or combines the WHERE clauses of the receiver and other with OR.
// Predicates shared by both stay ANDed outside the OR.
func (r *Relation[T]) Or(other *Relation[T]) *Relation[T] {
	if other == nil {
		return r
	}
	if other.err != nil {
		return r.spawn(nil, other.err)
	}
	if r.values.Family() != other.values.Family() {
		return r.spawn(nil, &IncompatibleMergeError{Left: r.values.Family(), Right: other.values.Family()})
	}

	left, right := r.values.where, other.values.where
	var common, leftOnly, rightOnly []Predicate
	for _, p := range left {
		if slices.ContainsFunc(right, p.equal) {
			common = append(common, p)
		} else {
			leftOnly = append(leftOnly, p)
		}
	}
	for _, p := range right {
		if !slices.ContainsFunc(common, p.equal) {
			rightOnly = append(rightOnly, p)
		}
	}

	return r.with(func(v *Values) *Values {
		v = v.WithoutWhere().Where(common...)
		if len(leftOnly) == 0 || len(rightOnly) == 0 {
			return v
		}
		return v.Where(Or(And(asConditions(leftOnly)...), And(asConditions(rightOnly)...)))
	})
}

func asConditions(preds []Predicate) []Condition {
	out := make([]Condition, len(preds))
	for i, p := range preds {
		out[i] = p
	}
	return out
}

// Order adds ORDER BY terms such as "name", "created_at DESC" or
// "posts.id ASC". Terms of a later call take precedence over earlier ones.
func (r *Relation[T]) Order(terms ...string) *Relation[T] {
	parsed := parseOrder(terms)
	return r.with(func(v *Values) *Values { return v.Order(parsed...) })
}

// Reorder replaces the ORDER BY terms, discarding earlier ones and those of
// relations merged into this one later.
func (r *Relation[T]) Reorder(terms ...string) *Relation[T] {
	parsed := parseOrder(terms)
	return r.with(func(v *Values) *Values { return v.Reorder(parsed...) })
}

func parseOrder(terms []string) []OrderTerm {
	out := make([]OrderTerm, 0, len(terms))
	for _, t := range terms {
		for _, part := range splitTerms(t) {
			out = append(out, ParseOrder(part))
		}
	}
	return out
}

// splitTerms splits "a DESC, b" on top-level commas.
func splitTerms(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, ch := range s {
		switch ch {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		out = append(out, last)
	}
	return out
}

// Limit sets LIMIT.
func (r *Relation[T]) Limit(n int) *Relation[T] {
	if n < 0 {
		return r.spawn(nil, fmt.Errorf("%w: negative limit %d", ErrInvalidCondition, n))
	}
	return r.with(func(v *Values) *Values { return v.Limit(uint64(n)) })
}

// Offset sets OFFSET.
func (r *Relation[T]) Offset(n int) *Relation[T] {
	if n < 0 {
		return r.spawn(nil, fmt.Errorf("%w: negative offset %d", ErrInvalidCondition, n))
	}
	return r.with(func(v *Values) *Values { return v.Offset(uint64(n)) })
}

// Distinct selects distinct rows of the projection.
func (r *Relation[T]) Distinct() *Relation[T] {
	return r.with(func(v *Values) *Values { return v.Distinct(true) })
}

// Select restricts the projection. Columns not selected keep their zero
// value on loaded records.
func (r *Relation[T]) Select(columns ...string) *Relation[T] {
	return r.with(func(v *Values) *Values { return v.Select(columns...) })
}

// Reselect replaces the projection.
func (r *Relation[T]) Reselect(columns ...string) *Relation[T] {
	return r.with(func(v *Values) *Values { return v.Reselect(columns...) })
}

// Group adds GROUP BY terms.
func (r *Relation[T]) Group(columns ...string) *Relation[T] {
	return r.with(func(v *Values) *Values { return v.Group(columns...) })
}

// Having ANDs a condition into the HAVING clause.
func (r *Relation[T]) Having(cond any, args ...any) *Relation[T] {
	preds, err := conditions(cond, args)
	if err != nil {
		return r.spawn(nil, err)
	}
	return r.with(func(v *Values) *Values { return v.Having(preds...) })
}

// joins resolves association names eagerly so unknown names fail at build time.
func (r *Relation[T]) joins(kind JoinKind, names []string) ([]Join, error) {
	if r.err != nil {
		return nil, nil
	}
	out := make([]Join, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if !isAssociationPath(name) {
			if kind != InnerJoin {
				return nil, fmt.Errorf("%w: LeftOuterJoins needs an association, got %q", ErrInvalidCondition, name)
			}
			out = append(out, Join{Raw: name})
			continue
		}
		if _, err := r.model.associationPath(name); err != nil {
			return nil, err
		}
		out = append(out, Join{Association: name, Kind: kind})
	}
	return out, nil
}

func isAssociationPath(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n()=`\"") {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !isIdentifier(part) {
			return false
		}
	}
	return true
}

// Joins adds INNER JOINs. Each argument is an association path
// ("comments", "comments.author") or a complete raw join clause.
func (r *Relation[T]) Joins(names ...string) *Relation[T] {
	js, err := r.joins(InnerJoin, names)
	if err != nil {
		return r.spawn(nil, err)
	}
	return r.with(func(v *Values) *Values { return v.Joins(js...) })
}

// JoinsRaw adds a raw join clause with bind values.
func (r *Relation[T]) JoinsRaw(clause string, args ...any) *Relation[T] {
	return r.with(func(v *Values) *Values { return v.Joins(Join{Raw: clause, Args: args}) })
}

// LeftOuterJoins adds LEFT OUTER JOINs for association paths.
func (r *Relation[T]) LeftOuterJoins(names ...string) *Relation[T] {
	js, err := r.joins(LeftOuterJoin, names)
	if err != nil {
		return r.spawn(nil, err)
	}
	return r.with(func(v *Values) *Values { return v.Joins(js...) })
}

func (r *Relation[T]) includes(s Strategy, paths []string) *Relation[T] {
	if r.err != nil {
		return r.spawn(nil, nil)
	}
	for _, p := range paths {
		if _, err := r.model.associationPath(p); err != nil {
			return r.spawn(nil, err)
		}
	}
	return r.spawn(r.values.Includes(s, paths...), nil)
}

// Includes eager loads association paths. They are preloaded with one query
// per association unless the relation references their tables, in which case
// they are joined.
func (r *Relation[T]) Includes(paths ...string) *Relation[T] {
	return r.includes(StrategyAuto, paths)
}

// Preload loads association paths with one extra query per association.
func (r *Relation[T]) Preload(paths ...string) *Relation[T] {
	return r.includes(StrategyPreload, paths)
}

// EagerLoad loads association paths through LEFT OUTER JOINs in the main query.
func (r *Relation[T]) EagerLoad(paths ...string) *Relation[T] {
	return r.includes(StrategyEagerLoad, paths)
}

// References marks tables used by raw conditions so included associations
// on them are joined.
func (r *Relation[T]) References(tables ...string) *Relation[T] {
	return r.with(func(v *Values) *Values { return v.Reference(tables...) })
}

// Merge merges the values of other into the relation. Equality conditions
// of other replace those on the same columns and its order comes first.
func (r *Relation[T]) Merge(other *Relation[T]) *Relation[T] {
	if other == nil {
		return r
	}
	if other.err != nil {
		return r.spawn(nil, other.err)
	}
	return r.MergeValues(other.values)
}

// MergeValues merges scope values, which must belong to the same model.
func (r *Relation[T]) MergeValues(other *Values) *Relation[T] {
	if r.err != nil {
		return r.spawn(nil, nil)
	}
	v, err := r.values.Merge(other)
	return r.spawn(v, err)
}

// Scoping merges named scopes. Each scope receives empty values of the
// model and returns the clauses it adds.
//
//	published := func(v *relq.Values) *relq.Values { return v.Where(relq.Eq("published", true)) }
//	relq.From[Post](db).Scoping(published)
func (r *Relation[T]) Scoping(scopes ...func(*Values) *Values) *Relation[T] {
	out := r
	for _, scope := range scopes {
		if out.err != nil {
			break
		}
		out = out.MergeValues(scope(NewValues(out.values.Family())))
	}
	if out == r {
		return r.spawn(nil, nil)
	}
	return out
}

// None returns a relation that matches nothing and never touches the database.
func (r *Relation[T]) None() *Relation[T] {
	return r.with(func(v *Values) *Values { return v.None() })
}

// Unscoped removes the model's default scope.
func (r *Relation[T]) Unscoped() *Relation[T] {
	return r.with(func(v *Values) *Values { return v.Unscoped() })
}

// WhereInPlace is Where applied to the receiver itself. It breaks the one
// relation per call rule: the receiver is modified and its cache dropped.
// Use it only while building a relation nobody else holds.
func (r *Relation[T]) WhereInPlace(cond any, args ...any) *Relation[T] {
	return r.replace(r.Where(cond, args...))
}

// OrderInPlace is Order applied to the receiver itself. See WhereInPlace.
func (r *Relation[T]) OrderInPlace(terms ...string) *Relation[T] {
	return r.replace(r.Order(terms...))
}

// LimitInPlace is Limit applied to the receiver itself. See WhereInPlace.
func (r *Relation[T]) LimitInPlace(n int) *Relation[T] {
	return r.replace(r.Limit(n))
}

// IncludesInPlace is Includes applied to the receiver itself. See WhereInPlace.
func (r *Relation[T]) IncludesInPlace(paths ...string) *Relation[T] {
	return r.replace(r.Includes(paths...))
}

// JoinsInPlace is Joins applied to the receiver itself. See WhereInPlace.
func (r *Relation[T]) JoinsInPlace(names ...string) *Relation[T] {
	return r.replace(r.Joins(names...))
}

func (r *Relation[T]) replace(next *Relation[T]) *Relation[T] {
	r.values = next.values
	r.err = next.err
	r.Reset()
	return r
}

// acquire moves the relation into the loading state. release restores the
// previous state.
func (r *Relation[T]) acquire() (release func(), err error) {
	for {
		s := r.state.Load()
		if s == stateLoading {
			return nil, ErrLoadInProgress
		}
		if r.state.CompareAndSwap(s, stateLoading) {
			return func() { r.state.Store(s) }, nil
		}
	}
}

// Load runs the query unless records are already cached. A failed load
// leaves the relation unloaded.
func (r *Relation[T]) Load(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	if r.state.Load() == stateLoaded {
		return nil
	}
	release, err := r.acquire()
	if err != nil {
		return err
	}

	recs, err := r.fetch(ctx, r.values, "load")
	if err != nil {
		release()
		return err
	}
	r.records = recs
	r.state.Store(stateLoaded)
	return nil
}

// Records loads the relation and returns its records.
func (r *Relation[T]) Records(ctx context.Context) ([]*T, error) {
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r.records, nil
}

// Each loads the relation and calls fn for every record until fn fails.
func (r *Relation[T]) Each(ctx context.Context, fn func(*T) error) error {
	recs, err := r.Records(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops the cached records.
func (r *Relation[T]) Reset() *Relation[T] {
	r.records = nil
	r.state.CompareAndSwap(stateLoaded, stateUnloaded)
	return r
}

// Reload drops the cached records and loads again.
func (r *Relation[T]) Reload(ctx context.Context) error {
	r.Reset()
	return r.Load(ctx)
}

// ToSQL renders the record-loading statement in the dialect's placeholder
// format without executing it.
func (r *Relation[T]) ToSQL() (string, []any, error) {
	if r.err != nil {
		return "", nil, r.err
	}
	c := newCompiler(r.db, r.model)
	p, err := c.plan(r.values)
	if err != nil {
		return "", nil, err
	}
	st, err := c.records(p)
	if err != nil {
		return "", nil, err
	}
	return st.SQL, st.Args, nil
}

// fetch loads v as one terminal operation without touching the cache.
func (r *Relation[T]) fetch(ctx context.Context, v *Values, operation string) ([]*T, error) {
	var out []*T
	err := r.db.terminal(ctx, r.model.table, operation, func(ctx context.Context) error {
		recs, err := newLoader(r.db, r.model).load(ctx, v)
		if err != nil {
			return err
		}
		out = make([]*T, len(recs))
		for i, rec := range recs {
			out[i] = rec.Interface().(*T)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// guarded runs a terminal operation that does not use the cache under the
// overlap guard.
func (r *Relation[T]) guarded(fn func() error) error {
	if r.err != nil {
		return r.err
	}
	release, err := r.acquire()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
