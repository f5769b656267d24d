package core

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/coregx/relq/internal/dialects"
	"github.com/coregx/relq/internal/util"
)

// joinNode is one joined association in a join dependency tree.
type joinNode struct {
	assoc     *Association // nil for the root
	model     *Model
	alias     string
	joinAlias string // join table alias for HasManyThrough
	kind      JoinKind
	eager     bool
	index     int // N in the tN_rM column aliases, set for eager nodes
	parent    *joinNode
	children  []*joinNode
}

func (n *joinNode) child(a *Association) *joinNode {
	for _, c := range n.children {
		if c.assoc == a {
			return c
		}
	}
	return nil
}

func (n *joinNode) eagerChildren() []*joinNode {
	var out []*joinNode
	for _, c := range n.children {
		if c.eager {
			out = append(out, c)
		}
	}
	return out
}

// joinDependency is the tree of association joins of one statement, rooted
// at the relation's model. Eager nodes are also projected and materialized.
type joinDependency struct {
	root    *joinNode
	nodes   []*joinNode // every non-root node in insertion order
	aliases map[string]bool
	d       dialects.Dialect
	eagerN  int
}

func newJoinDependency(m *Model, d dialects.Dialect) *joinDependency {
	return &joinDependency{
		root:    &joinNode{model: m, alias: m.table, eager: true},
		aliases: map[string]bool{strings.ToLower(m.table): true},
		d:       d,
		eagerN:  1,
	}
}

// add joins every association on path. Nodes that already exist are reused;
// an inner join already present is kept as is.
func (jd *joinDependency) add(path []*Association, kind JoinKind, eager bool) {
	cur := jd.root
	for _, a := range path {
		next := cur.child(a)
		if next == nil {
			next = &joinNode{
				assoc:  a,
				model:  a.Target,
				kind:   kind,
				parent: cur,
			}
			if a.Kind == HasManyThrough {
				next.joinAlias = jd.alias(a.JoinTable, a.Name+"_join", cur.alias)
			}
			next.alias = jd.alias(a.Target.table, a.Name, cur.alias)
			cur.children = append(cur.children, next)
			jd.nodes = append(jd.nodes, next)
		}
		if eager && !next.eager {
			next.eager = true
			next.index = jd.eagerN
			jd.eagerN++
		}
		cur = next
	}
}

// alias returns table when it is still free, otherwise "<name>_<parent>".
func (jd *joinDependency) alias(table, name, parent string) string {
	candidate := table
	for i := 2; jd.aliases[strings.ToLower(candidate)]; i++ {
		candidate = name + "_" + parent
		if i > 2 {
			candidate = fmt.Sprintf("%s_%s_%d", name, parent, i)
		}
	}
	jd.aliases[strings.ToLower(candidate)] = true
	return candidate
}

func (jd *joinDependency) empty() bool { return len(jd.nodes) == 0 }

// hasEager reports whether any association is eager loaded by the join.
func (jd *joinDependency) hasEager() bool { return jd.eagerN > 1 }

// hasEagerCollection reports whether an eager node can multiply owner rows.
func (jd *joinDependency) hasEagerCollection() bool {
	for _, n := range jd.nodes {
		if n.eager && n.assoc.Collection() {
			return true
		}
	}
	return false
}

// eagerPath reports whether the dotted association path is loaded by the join.
func (jd *joinDependency) eagerPath(path []*Association) bool {
	cur := jd.root
	for _, a := range path {
		cur = cur.child(a)
		if cur == nil || !cur.eager {
			return false
		}
	}
	return true
}

func (jd *joinDependency) table(table, alias string) string {
	if alias == table {
		return jd.d.QuoteIdentifier(table)
	}
	return jd.d.QuoteIdentifier(table) + " AS " + jd.d.QuoteIdentifier(alias)
}

func (jd *joinDependency) ref(alias, col string) string {
	return jd.d.QuoteIdentifier(alias) + "." + jd.d.QuoteIdentifier(col)
}

// clauses renders the JOIN clauses in insertion order.
func (jd *joinDependency) clauses() []string {
	var out []string
	for _, n := range jd.nodes {
		kw := "INNER JOIN"
		if n.kind == LeftOuterJoin {
			kw = "LEFT OUTER JOIN"
		}
		a, parent := n.assoc, n.parent.alias
		switch a.Kind {
		case BelongsTo:
			out = append(out, fmt.Sprintf("%s %s ON %s = %s", kw, jd.table(a.Target.table, n.alias),
				jd.ref(n.alias, a.PrimaryKey), jd.ref(parent, a.ForeignKey)))
		case HasOne, HasMany:
			out = append(out, fmt.Sprintf("%s %s ON %s = %s", kw, jd.table(a.Target.table, n.alias),
				jd.ref(n.alias, a.ForeignKey), jd.ref(parent, a.PrimaryKey)))
		case HasManyThrough:
			out = append(out,
				fmt.Sprintf("%s %s ON %s = %s", kw, jd.table(a.JoinTable, n.joinAlias),
					jd.ref(n.joinAlias, a.JoinOwnerKey), jd.ref(parent, a.PrimaryKey)),
				fmt.Sprintf("%s %s ON %s = %s", kw, jd.table(a.Target.table, n.alias),
					jd.ref(n.alias, a.ForeignKey), jd.ref(n.joinAlias, a.JoinTargetKey)))
		}
	}
	return out
}

func columnAlias(node, col int) string {
	return fmt.Sprintf("t%d_r%d", node, col)
}

// projection selects every column of the root and of each eager node under
// a tN_rM alias.
func (jd *joinDependency) projection() []string {
	var out []string
	add := func(n *joinNode) {
		for i, c := range n.model.columns {
			out = append(out, jd.ref(n.alias, c.Name)+" AS "+jd.d.QuoteIdentifier(columnAlias(n.index, i)))
		}
	}
	add(jd.root)
	for _, n := range jd.nodes {
		if n.eager {
			add(n)
		}
	}
	return out
}

// joinedRecord is a record built from joined rows with its eager children.
type joinedRecord struct {
	rec      reflect.Value
	children map[*joinNode]*joinedSet
}

type joinedSet struct {
	seen  map[util.CompositeKey]*joinedRecord
	order []*joinedRecord
}

func (s *joinedSet) get(key util.CompositeKey) (*joinedRecord, bool) {
	r, ok := s.seen[key]
	return r, ok
}

func (s *joinedSet) put(key util.CompositeKey, r *joinedRecord) {
	s.seen[key] = r
	s.order = append(s.order, r)
}

func newJoinedSet() *joinedSet {
	return &joinedSet{seen: make(map[util.CompositeKey]*joinedRecord)}
}

// nodeColumns maps an eager node's model columns to result positions.
type nodeColumns struct {
	builder *columnMap
	pk      []int
}

// instantiate groups joined rows back into owner records, deduplicating
// owners and associated records by primary key, and assigns associations
// deepest first.
func (jd *joinDependency) instantiate(names []string, rows [][]any) ([]reflect.Value, error) {
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[strings.ToLower(n)] = i
	}

	cols := make(map[*joinNode]*nodeColumns)
	prepare := func(n *joinNode) error {
		if len(n.model.pk) == 0 {
			return fmt.Errorf("%w: eager loading %s", ErrNoPrimaryKey, n.model.name)
		}
		nc := &nodeColumns{builder: &columnMap{model: n.model}}
		for i, c := range n.model.columns {
			p, ok := pos[columnAlias(n.index, i)]
			if !ok {
				continue
			}
			nc.builder.targets = append(nc.builder.targets, colTarget{pos: p, col: c})
			if c.PK {
				nc.pk = append(nc.pk, p)
			}
		}
		cols[n] = nc
		return nil
	}
	if err := prepare(jd.root); err != nil {
		return nil, err
	}
	for _, n := range jd.nodes {
		if n.eager {
			if err := prepare(n); err != nil {
				return nil, err
			}
		}
	}

	key := func(n *joinNode, row []any) (util.CompositeKey, bool) {
		parts := make([]any, len(cols[n].pk))
		for i, p := range cols[n].pk {
			parts[i] = row[p]
		}
		return util.MakeKey(parts...)
	}

	var visit func(parent *joinedRecord, n *joinNode, row []any) error
	visit = func(parent *joinedRecord, n *joinNode, row []any) error {
		for _, c := range n.eagerChildren() {
			k, ok := key(c, row)
			if !ok {
				continue
			}
			set := parent.children[c]
			if set == nil {
				set = newJoinedSet()
				parent.children[c] = set
			}
			jr, seen := set.get(k)
			if !seen {
				rec, err := cols[c].builder.build(row)
				if err != nil {
					return err
				}
				jr = &joinedRecord{rec: rec, children: make(map[*joinNode]*joinedSet)}
				set.put(k, jr)
			}
			if err := visit(jr, c, row); err != nil {
				return err
			}
		}
		return nil
	}

	owners := newJoinedSet()
	for _, row := range rows {
		k, ok := key(jd.root, row)
		if !ok {
			continue
		}
		owner, seen := owners.get(k)
		if !seen {
			rec, err := cols[jd.root].builder.build(row)
			if err != nil {
				return nil, err
			}
			owner = &joinedRecord{rec: rec, children: make(map[*joinNode]*joinedSet)}
			owners.put(k, owner)
		}
		if err := visit(owner, jd.root, row); err != nil {
			return nil, err
		}
	}

	var finish func(jr *joinedRecord, n *joinNode)
	finish = func(jr *joinedRecord, n *joinNode) {
		for _, c := range n.eagerChildren() {
			var targets []reflect.Value
			if set := jr.children[c]; set != nil {
				for _, child := range set.order {
					finish(child, c)
					targets = append(targets, child.rec)
				}
			}
			c.assoc.assign(jr.rec, targets)
		}
	}

	out := make([]reflect.Value, len(owners.order))
	for i, o := range owners.order {
		finish(o, jd.root)
		out[i] = o.rec
	}
	return out, nil
}
