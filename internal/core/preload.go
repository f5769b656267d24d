package core

import (
	"context"
	"reflect"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"

	"github.com/coregx/relq/internal/dialects"
	"github.com/coregx/relq/internal/tracer"
	"github.com/coregx/relq/internal/util"
)

// ownerKeyAlias carries the owner key of a has-many-through preload row.
const ownerKeyAlias = "__relq_owner_key"

// preloadNode is one association to load for a set of owners. Joined nodes
// were already loaded by an eager join; only their children are preloaded.
type preloadNode struct {
	assoc    *Association
	joined   bool
	children []*preloadNode
}

// buildPreloadTree merges association paths into a tree so a shared prefix
// ("comments" in "comments.author" and "comments.tags") is loaded once.
func buildPreloadTree(paths [][]*Association, jd *joinDependency) []*preloadNode {
	var roots []*preloadNode
	for _, path := range paths {
		level := &roots
		for i, a := range path {
			var node *preloadNode
			for _, n := range *level {
				if n.assoc == a {
					node = n
					break
				}
			}
			if node == nil {
				node = &preloadNode{assoc: a, joined: jd.eagerPath(path[:i+1])}
				*level = append(*level, node)
			}
			level = &node.children
		}
	}
	return roots
}

// preloadResult holds the grouped records of one association for one level.
type preloadResult struct {
	node   *preloadNode
	groups map[any][]reflect.Value
}

// preloader issues one query per association per level, keyed by the owner
// keys of the whole batch.
type preloader struct {
	db *DB
}

func newPreloader(db *DB) *preloader {
	return &preloader{db: db}
}

// run loads nodes for owners. Associations of one level run concurrently up
// to Relation.PreloadConcurrency; results are assigned in request order
// after every query of the level has completed.
func (pl *preloader) run(ctx context.Context, owners []reflect.Value, nodes []*preloadNode) error {
	if len(owners) == 0 || len(nodes) == 0 {
		return nil
	}

	results := make([]*preloadResult, len(nodes))
	limit := pl.db.cfg.Relation.PreloadConcurrency
	if limit > 1 && len(nodes) > 1 {
		p := pool.New().
			WithContext(ctx).
			WithCancelOnError().
			WithFirstError().
			WithMaxGoroutines(limit)
		for i, n := range nodes {
			p.Go(func(ctx context.Context) error {
				r, err := pl.fetch(ctx, owners, n)
				results[i] = r
				return err
			})
		}
		if err := p.Wait(); err != nil {
			return err
		}
	} else {
		for i, n := range nodes {
			r, err := pl.fetch(ctx, owners, n)
			if err != nil {
				return err
			}
			results[i] = r
		}
	}

	for _, r := range results {
		if r.node.joined {
			continue
		}
		a := r.node.assoc
		for _, owner := range owners {
			key := util.NormalizeKey(a.Owner.value(owner, a.OwnerKey()))
			if key == nil {
				a.reset(owner)
				continue
			}
			a.assign(owner, r.groups[key])
		}
	}
	return nil
}

// fetch loads one association for owners and recurses into its children
// before the records are assigned.
func (pl *preloader) fetch(ctx context.Context, owners []reflect.Value, n *preloadNode) (*preloadResult, error) {
	a := n.assoc
	if n.joined {
		return &preloadResult{node: n}, pl.run(ctx, joinedTargets(owners, a), n.children)
	}

	ctx, span := pl.db.tracer.StartSpan(ctx, tracer.SpanPreload)
	defer span.End()

	keys := ownerKeys(owners, a)
	span.SetAttributes(
		attribute.String("relq.association", a.Owner.name+"."+a.Name),
		attribute.Int("relq.preload.keys", len(keys)),
	)
	pl.db.metrics.RecordPreload(ctx, a.Name, len(keys))

	res := &preloadResult{node: n, groups: make(map[any][]reflect.Value)}
	if len(keys) == 0 {
		return res, nil
	}

	chunk := pl.db.cfg.Relation.MaxInListSize
	if chunk <= 0 {
		chunk = len(keys)
	}

	var targets []reflect.Value
	var targetKeys []any
	for start := 0; start < len(keys); start += chunk {
		end := min(start+chunk, len(keys))
		recs, recKeys, err := pl.query(ctx, a, keys[start:end])
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		targets = append(targets, recs...)
		targetKeys = append(targetKeys, recKeys...)
	}

	if err := pl.run(ctx, uniqueRecords(targets), n.children); err != nil {
		return nil, err
	}

	for i, t := range targets {
		res.groups[targetKeys[i]] = append(res.groups[targetKeys[i]], t)
	}
	return res, nil
}

// query loads the target records matching keys and returns, for each, the
// owner key it belongs to.
func (pl *preloader) query(ctx context.Context, a *Association, keys []any) ([]reflect.Value, []any, error) {
	l := newLoader(pl.db, a.Target)
	v := NewValues(a.Target.table)
	if a.Kind != HasManyThrough {
		v = v.Where(In(a.Target.table+"."+a.TargetKey(), keys...))
		recs, err := l.load(ctx, v)
		if err != nil {
			return nil, nil, err
		}
		out := make([]any, len(recs))
		for i, r := range recs {
			out[i] = util.NormalizeKey(a.Target.value(r, a.TargetKey()))
		}
		return recs, out, nil
	}

	v = v.Where(In(a.JoinTable+"."+a.JoinOwnerKey, keys...))
	p, err := l.comp.plan(v)
	if err != nil {
		return nil, nil, err
	}
	d := pl.db.dialect
	p.rawJoins = append(p.rawJoins, Join{Raw: "INNER JOIN " + d.QuoteIdentifier(a.JoinTable) + " ON " +
		dialects.QuoteQualified(d, a.JoinTable+"."+a.JoinTargetKey) + " = " +
		dialects.QuoteQualified(d, a.Target.table+"."+a.ForeignKey)})
	p.extraSelect = append(p.extraSelect,
		dialects.QuoteQualified(d, a.JoinTable+"."+a.JoinOwnerKey)+" AS "+d.QuoteIdentifier(ownerKeyAlias))

	st, err := l.comp.records(p)
	if err != nil {
		return nil, nil, err
	}
	names, data, err := l.queryRows(ctx, st)
	if err != nil {
		return nil, nil, err
	}

	pos := columnIndex(names, ownerKeyAlias)
	ownerCol, _ := a.Owner.Column(a.PrimaryKey)
	cm := newColumnMap(a.Target, names)
	shared := make(map[util.CompositeKey]reflect.Value)

	recs := make([]reflect.Value, 0, len(data))
	out := make([]any, 0, len(data))
	for _, row := range data {
		ownerKey, err := ownerCol.Type.Cast(row[pos])
		if err != nil {
			return nil, nil, &CastError{Model: a.Owner.name, Column: ownerCol.Name, Type: ownerCol.Type.Name(), Value: row[pos], Err: err}
		}

		rec, err := cm.build(row)
		if err != nil {
			return nil, nil, err
		}
		if k, ok := util.MakeKey(a.Target.pkValues(rec)...); ok && len(a.Target.pk) > 0 {
			if prev, seen := shared[k]; seen {
				rec = prev
			} else {
				shared[k] = rec
			}
		}
		recs = append(recs, rec)
		out = append(out, util.NormalizeKey(ownerKey))
	}
	pl.db.metrics.RecordLoad(ctx, a.Target.table, len(recs))
	return recs, out, nil
}

// ownerKeys returns the distinct non-NULL owner key values in owner order.
func ownerKeys(owners []reflect.Value, a *Association) []any {
	seen := make(map[any]bool, len(owners))
	keys := make([]any, 0, len(owners))
	for _, o := range owners {
		k := util.NormalizeKey(a.Owner.value(o, a.OwnerKey()))
		if k == nil || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	return keys
}

// joinedTargets returns addressable pointers to the records an eager join
// stored on owners, so nested preloads update them in place.
func joinedTargets(owners []reflect.Value, a *Association) []reflect.Value {
	var out []reflect.Value
	for _, o := range owners {
		f := o.Elem().FieldByIndex(a.field)
		if a.Collection() {
			for i := 0; i < f.Len(); i++ {
				out = append(out, pointerTo(f.Index(i)))
			}
			continue
		}
		if f.Kind() == reflect.Pointer && f.IsNil() {
			continue
		}
		out = append(out, pointerTo(f))
	}
	return out
}

func pointerTo(v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Pointer {
		return v
	}
	return v.Addr()
}

func uniqueRecords(recs []reflect.Value) []reflect.Value {
	seen := make(map[uintptr]bool, len(recs))
	out := make([]reflect.Value, 0, len(recs))
	for _, r := range recs {
		if p := r.Pointer(); !seen[p] {
			seen[p] = true
			out = append(out, r)
		}
	}
	return out
}
