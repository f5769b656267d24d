package core

import (
	"slices"
	"strings"
)

// JoinKind selects the SQL join type of a Join.
type JoinKind int

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftOuterJoin
)

// Join is an association join ("comments", "comments.author") or a raw
// join clause.
type Join struct {
	Association string
	Raw         string
	Args        []any
	Kind        JoinKind
}

func (j Join) key() string {
	if j.Raw != "" {
		return "raw:" + j.Raw
	}
	return j.Association
}

// Strategy selects how an included association is loaded.
type Strategy int

// Eager-loading strategies.
const (
	// StrategyAuto preloads unless the association is referenced by the query.
	StrategyAuto Strategy = iota
	// StrategyPreload loads with one extra query per association.
	StrategyPreload
	// StrategyEagerLoad folds the association into the main query as a LEFT OUTER JOIN.
	StrategyEagerLoad
)

// Include requests eager loading of an association path.
type Include struct {
	Path     string
	Strategy Strategy
}

// OrderTerm is one ORDER BY term. Raw terms are rendered verbatim.
type OrderTerm struct {
	Column string
	Desc   bool
	Raw    string
}

func (o OrderTerm) reverse() (OrderTerm, bool) {
	if o.Raw != "" {
		return o, false
	}
	o.Desc = !o.Desc
	return o, true
}

// ParseOrder parses "col", "col ASC", "col DESC" and "table.col DESC" into
// structured terms; anything else becomes a raw term.
func ParseOrder(term string) OrderTerm {
	fields := strings.Fields(term)
	switch {
	case len(fields) == 1 && isIdentifier(fields[0]):
		return OrderTerm{Column: fields[0]}
	case len(fields) == 2 && isIdentifier(fields[0]):
		switch strings.ToUpper(fields[1]) {
		case "ASC":
			return OrderTerm{Column: fields[0]}
		case "DESC":
			return OrderTerm{Column: fields[0], Desc: true}
		}
	}
	return OrderTerm{Raw: strings.TrimSpace(term)}
}

type optUint struct {
	v   uint64
	set bool
}

type optBool struct {
	v   bool
	set bool
}

// Values is the immutable description of one query's accumulated clauses.
// Every method returns a new *Values; the receiver is never modified.
// Unchanged slices are shared between copies and are clipped so that an
// append always reallocates.
type Values struct {
	family     string
	where      []Predicate
	having     []Predicate
	joins      []Join
	includes   []Include
	references []string
	order      []OrderTerm
	reordered  bool
	group      []string
	selects    []string
	limit      optUint
	offset     optUint
	distinct   optBool
	none       bool
	unscoped   bool
}

// NewValues returns empty values for the model family (table) family.
func NewValues(family string) *Values {
	return &Values{family: family}
}

func (v *Values) clone() *Values {
	c := *v
	return &c
}

// Family returns the model family the values belong to.
func (v *Values) Family() string { return v.family }

// WhereClauses returns a copy of the WHERE predicates in order.
func (v *Values) WhereClauses() []Predicate { return slices.Clone(v.where) }

// HavingClauses returns a copy of the HAVING predicates in order.
func (v *Values) HavingClauses() []Predicate { return slices.Clone(v.having) }

// JoinClauses returns a copy of the joins.
func (v *Values) JoinClauses() []Join { return slices.Clone(v.joins) }

// IncludeList returns a copy of the requested includes.
func (v *Values) IncludeList() []Include { return slices.Clone(v.includes) }

// References returns the tables referenced by raw conditions.
func (v *Values) References() []string { return slices.Clone(v.references) }

// OrderTerms returns a copy of the order terms, highest precedence first.
func (v *Values) OrderTerms() []OrderTerm { return slices.Clone(v.order) }

// Reordered reports whether the order was replaced with Reorder.
func (v *Values) Reordered() bool { return v.reordered }

// GroupColumns returns a copy of the GROUP BY terms.
func (v *Values) GroupColumns() []string { return slices.Clone(v.group) }

// SelectColumns returns a copy of the projection; empty means all columns.
func (v *Values) SelectColumns() []string { return slices.Clone(v.selects) }

// LimitValue returns the limit and whether it is set.
func (v *Values) LimitValue() (uint64, bool) { return v.limit.v, v.limit.set }

// OffsetValue returns the offset and whether it is set.
func (v *Values) OffsetValue() (uint64, bool) { return v.offset.v, v.offset.set }

// DistinctValue returns the distinct flag and whether it is set.
func (v *Values) DistinctValue() (bool, bool) { return v.distinct.v, v.distinct.set }

// IsNone reports whether the values describe an empty result.
func (v *Values) IsNone() bool { return v.none }

// IsUnscoped reports whether the model's default scope is removed.
func (v *Values) IsUnscoped() bool { return v.unscoped }

// BindValues returns the bind values of every WHERE predicate followed by
// every HAVING predicate, in clause order.
func (v *Values) BindValues() []any {
	var out []any
	for _, p := range v.where {
		out = append(out, p.binds()...)
	}
	for _, p := range v.having {
		out = append(out, p.binds()...)
	}
	return out
}

// Where ANDs predicates into the WHERE clause. A predicate identical to one
// already present is not added again.
func (v *Values) Where(preds ...Predicate) *Values {
	c := v.clone()
	c.where = appendUnique(v.where, preds)
	return c
}

// Having ANDs predicates into the HAVING clause.
func (v *Values) Having(preds ...Predicate) *Values {
	c := v.clone()
	c.having = appendUnique(v.having, preds)
	return c
}

func appendUnique(dst, preds []Predicate) []Predicate {
	out := slices.Clip(dst)
	for _, p := range preds {
		if slices.ContainsFunc(out, p.equal) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// WithoutWhere removes every WHERE predicate.
func (v *Values) WithoutWhere() *Values {
	c := v.clone()
	c.where = nil
	return c
}

// Joins appends joins; association joins already present are skipped.
func (v *Values) Joins(joins ...Join) *Values {
	c := v.clone()
	c.joins = slices.Clip(v.joins)
	for _, j := range joins {
		if !slices.ContainsFunc(c.joins, func(e Join) bool { return e.key() == j.key() }) {
			c.joins = append(c.joins, j)
		}
	}
	return c
}

// Includes requests association paths with the given strategy. A path
// already included keeps its first strategy.
func (v *Values) Includes(strategy Strategy, paths ...string) *Values {
	c := v.clone()
	c.includes = slices.Clip(v.includes)
	for _, p := range paths {
		if !slices.ContainsFunc(c.includes, func(e Include) bool { return e.Path == p }) {
			c.includes = append(c.includes, Include{Path: p, Strategy: strategy})
		}
	}
	return c
}

// WithoutIncludes removes every include.
func (v *Values) WithoutIncludes() *Values {
	c := v.clone()
	c.includes = nil
	return c
}

// Reference marks tables as used by raw conditions so included associations
// on them are joined.
func (v *Values) Reference(tables ...string) *Values {
	c := v.clone()
	c.references = unionStrings(v.references, tables)
	return c
}

// Order adds order terms ahead of the existing ones.
func (v *Values) Order(terms ...OrderTerm) *Values {
	c := v.clone()
	c.order = slices.Clip(append(slices.Clone(terms), v.order...))
	return c
}

// Reorder replaces the order and marks the values as reordered.
func (v *Values) Reorder(terms ...OrderTerm) *Values {
	c := v.clone()
	c.order = slices.Clip(slices.Clone(terms))
	c.reordered = true
	return c
}

// Group appends GROUP BY terms.
func (v *Values) Group(cols ...string) *Values {
	c := v.clone()
	c.group = unionStrings(v.group, cols)
	return c
}

// Select appends projected columns or expressions.
func (v *Values) Select(cols ...string) *Values {
	c := v.clone()
	c.selects = unionStrings(v.selects, cols)
	return c
}

// Reselect replaces the projection.
func (v *Values) Reselect(cols ...string) *Values {
	c := v.clone()
	c.selects = slices.Clip(slices.Clone(cols))
	return c
}

// Limit sets LIMIT.
func (v *Values) Limit(n uint64) *Values {
	c := v.clone()
	c.limit = optUint{v: n, set: true}
	return c
}

// WithoutLimit clears LIMIT.
func (v *Values) WithoutLimit() *Values {
	c := v.clone()
	c.limit = optUint{}
	return c
}

// Offset sets OFFSET.
func (v *Values) Offset(n uint64) *Values {
	c := v.clone()
	c.offset = optUint{v: n, set: true}
	return c
}

// WithoutOffset clears OFFSET.
func (v *Values) WithoutOffset() *Values {
	c := v.clone()
	c.offset = optUint{}
	return c
}

// Distinct sets the DISTINCT flag.
func (v *Values) Distinct(on bool) *Values {
	c := v.clone()
	c.distinct = optBool{v: on, set: true}
	return c
}

// None marks the values as matching nothing.
func (v *Values) None() *Values {
	c := v.clone()
	c.none = true
	return c
}

// Unscoped marks the values as free of the model's default scope.
func (v *Values) Unscoped() *Values {
	c := v.clone()
	c.unscoped = true
	return c
}

// Merge combines other into v:
//
//   - where: concatenated, but an equality predicate in other replaces every
//     equality predicate on the same column in v
//   - joins, includes, references: unioned, first occurrence kept
//   - order: other's terms come first unless other is reordered, in which
//     case v's order is discarded
//   - limit, offset, distinct: other wins when set
//   - select, group: unioned; having: concatenated
//
// Values of different families cannot be merged.
func (v *Values) Merge(other *Values) (*Values, error) {
	if other == nil {
		return v, nil
	}
	if v.family != other.family {
		return nil, &IncompatibleMergeError{Left: v.family, Right: other.family}
	}

	c := v.clone()

	replaced := make(map[string]bool)
	for _, p := range other.where {
		if p.isEquality() {
			replaced[v.columnKey(p.Column)] = true
		}
	}
	kept := make([]Predicate, 0, len(v.where)+len(other.where))
	for _, p := range v.where {
		if p.isEquality() && replaced[v.columnKey(p.Column)] {
			continue
		}
		kept = append(kept, p)
	}
	c.where = appendUnique(slices.Clip(kept), other.where)
	c.having = appendUnique(v.having, other.having)

	c = c.Joins(other.joins...)
	c.includes = slices.Clip(c.includes)
	for _, inc := range other.includes {
		if !slices.ContainsFunc(c.includes, func(e Include) bool { return e.Path == inc.Path }) {
			c.includes = append(c.includes, inc)
		}
	}
	c.references = unionStrings(v.references, other.references)

	if other.reordered {
		c.order = slices.Clip(other.order)
		c.reordered = true
	} else {
		c.order = slices.Clip(append(slices.Clone(other.order), v.order...))
	}

	if other.limit.set {
		c.limit = other.limit
	}
	if other.offset.set {
		c.offset = other.offset
	}
	if other.distinct.set {
		c.distinct = other.distinct
	}

	c.selects = unionStrings(v.selects, other.selects)
	c.group = unionStrings(v.group, other.group)
	c.none = v.none || other.none
	c.unscoped = v.unscoped || other.unscoped
	return c, nil
}

// columnKey normalizes a column reference for comparison: quotes are
// stripped and unqualified names are qualified with the family.
func (v *Values) columnKey(col string) string {
	col = strings.NewReplacer(`"`, "", "`", "").Replace(strings.TrimSpace(col))
	if !strings.Contains(col, ".") {
		col = v.family + "." + col
	}
	return strings.ToLower(col)
}

func unionStrings(base, add []string) []string {
	out := slices.Clip(base)
	for _, s := range add {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, part := range strings.Split(s, ".") {
		if part == "*" && i > 0 {
			continue
		}
		if part == "" {
			return false
		}
		for j, r := range part {
			isLetter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			if !isLetter && (j == 0 || r < '0' || r > '9') {
				return false
			}
		}
	}
	return strings.Count(s, ".") <= 1
}
