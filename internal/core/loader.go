package core

import (
	"context"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/coregx/relq/internal/tracer"
	"github.com/coregx/relq/internal/util"
)

// loader executes compiled statements for one model and turns rows into
// records, then runs the preloads of the plan.
type loader struct {
	db    *DB
	model *Model
	comp  *compiler
}

func newLoader(db *DB, m *Model) *loader {
	return &loader{db: db, model: m, comp: newCompiler(db, m)}
}

// queryRows runs st and returns its column names and raw rows.
func (l *loader) queryRows(ctx context.Context, st *Statement) ([]string, [][]any, error) {
	var names []string
	var data [][]any
	err := l.db.query(ctx, st, func(rows Rows) (int64, error) {
		var err error
		names, data, err = readRows(rows)
		return int64(len(data)), err
	})
	if err != nil {
		return nil, nil, err
	}
	return names, data, nil
}

// load runs the record statement of v and every preload it requests.
func (l *loader) load(ctx context.Context, v *Values) ([]reflect.Value, error) {
	p, err := l.comp.plan(v)
	if err != nil {
		return nil, err
	}
	return l.loadPlan(ctx, p)
}

func (l *loader) loadPlan(ctx context.Context, p *queryPlan) ([]reflect.Value, error) {
	if p.values.IsNone() {
		return nil, nil
	}

	if p.needsDistinctIDs() {
		ids, err := l.distinctIDs(ctx, p)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, nil
		}
		pk, err := l.model.singlePK()
		if err != nil {
			return nil, err
		}
		paged := *p
		paged.values = p.values.WithoutLimit().WithoutOffset().Where(In(l.model.table+"."+pk.Name, ids...))
		p = &paged
	}

	st, err := l.comp.records(p)
	if err != nil {
		return nil, err
	}
	names, data, err := l.queryRows(ctx, st)
	if err != nil {
		return nil, err
	}

	var recs []reflect.Value
	if p.joins.hasEager() {
		recs, err = p.joins.instantiate(names, data)
	} else {
		recs, err = materialize(l.model, names, data)
	}
	if err != nil {
		return nil, err
	}
	l.db.metrics.RecordLoad(ctx, l.model.table, len(recs))

	if len(p.preloads) > 0 && len(recs) > 0 {
		tree := buildPreloadTree(p.preloads, p.joins)
		if err := newPreloader(l.db).run(ctx, recs, tree); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// distinctIDs loads the owner page for an eager collection join.
func (l *loader) distinctIDs(ctx context.Context, p *queryPlan) ([]any, error) {
	st, err := l.comp.distinctIDs(p)
	if err != nil {
		return nil, err
	}
	_, data, err := l.queryRows(ctx, st)
	if err != nil {
		return nil, err
	}

	seen := make(map[any]bool, len(data))
	ids := make([]any, 0, len(data))
	for _, row := range data {
		id := util.NormalizeKey(row[0])
		if id == nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// terminal runs fn as one terminal operation: a load span and a load id
// shared by every statement fn issues.
func (db *DB) terminal(ctx context.Context, table, operation string, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := db.tracer.StartSpan(ctx, tracer.SpanLoad)
	defer span.End()

	id := uuid.NewString()
	ctx = withLoadID(ctx, id)
	start := time.Now()

	err := fn(ctx)

	span.SetAttributes(
		attribute.String("relq.load_id", id),
		attribute.String("relq.operation", operation),
		attribute.String("db.collection.name", table),
		attribute.Float64("relq.duration_ms", float64(time.Since(start).Microseconds())/1000.0),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
