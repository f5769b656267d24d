package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/coregx/relq/internal/ast"
	"github.com/coregx/relq/internal/dialects"
)

// Calculation names a SQL aggregate used by Calculate.
type Calculation string

// Supported calculations.
const (
	CalcSum     Calculation = "SUM"
	CalcAverage Calculation = "AVG"
	CalcMinimum Calculation = "MIN"
	CalcMaximum Calculation = "MAX"
	CalcCount   Calculation = "COUNT"
)

// queryPlan is Values resolved against a model: the default scope applied,
// association joins resolved and includes split into eager joins and
// preloads.
type queryPlan struct {
	values   *Values
	joins    *joinDependency
	rawJoins []Join
	preloads [][]*Association
	// extraSelect is appended to the record projection.
	extraSelect []string
}

// bindCount is the number of bind values the plan's statements carry.
func (p *queryPlan) bindCount() int {
	n := len(p.values.BindValues())
	for _, j := range p.rawJoins {
		n += len(j.Args)
	}
	return n
}

// needsDistinctIDs reports whether limit or offset must be applied to owner
// ids first because an eager collection join multiplies rows.
func (p *queryPlan) needsDistinctIDs() bool {
	_, limited := p.values.LimitValue()
	_, offset := p.values.OffsetValue()
	return (limited || offset) && p.joins.hasEagerCollection()
}

// compiler renders the statements of one model. It is a pure function of
// the Values handed to it.
type compiler struct {
	db    *DB
	model *Model
	d     dialects.Dialect
}

func newCompiler(db *DB, m *Model) *compiler {
	return &compiler{db: db, model: m, d: db.dialect}
}

// plan applies the default scope and resolves joins and includes.
func (c *compiler) plan(v *Values) (*queryPlan, error) {
	v, err := c.model.DefaultScope(v)
	if err != nil {
		return nil, err
	}

	p := &queryPlan{values: v, joins: newJoinDependency(c.model, c.d)}
	for _, j := range v.joins {
		if j.Raw != "" {
			p.rawJoins = append(p.rawJoins, j)
			continue
		}
		path, err := c.model.associationPath(j.Association)
		if err != nil {
			return nil, err
		}
		p.joins.add(path, j.Kind, false)
	}

	refs := c.referencedTables(v)
	for _, inc := range v.includes {
		path, err := c.model.associationPath(inc.Path)
		if err != nil {
			return nil, err
		}
		if c.eager(inc.Strategy, path, refs, p.joins) {
			p.joins.add(path, LeftOuterJoin, true)
			continue
		}
		p.preloads = append(p.preloads, path)
	}
	return p, nil
}

// eager decides the loading strategy of an include. Auto includes are joined
// when the query references one of the path's tables or already joins it.
func (c *compiler) eager(s Strategy, path []*Association, refs map[string]bool, jd *joinDependency) bool {
	switch s {
	case StrategyEagerLoad:
		return true
	case StrategyPreload:
		return false
	}
	cur := jd.root
	joined := true
	for _, a := range path {
		if refs[strings.ToLower(a.Target.table)] || (a.JoinTable != "" && refs[strings.ToLower(a.JoinTable)]) {
			return true
		}
		if joined {
			if cur = cur.child(a); cur == nil {
				joined = false
			}
		}
	}
	return joined
}

// referencedTables collects tables named by References and by qualified
// columns in where predicates and order terms.
func (c *compiler) referencedTables(v *Values) map[string]bool {
	refs := make(map[string]bool)
	for _, t := range v.references {
		refs[strings.ToLower(t)] = true
	}
	add := func(col string) {
		if t, ok := qualifier(col); ok {
			refs[t] = true
		}
	}
	for _, p := range v.where {
		p.columns(add)
	}
	for _, o := range v.order {
		if o.Column != "" {
			add(o.Column)
		}
	}
	delete(refs, strings.ToLower(c.model.table))
	return refs
}

func qualifier(col string) (string, bool) {
	col = strings.NewReplacer(`"`, "", "`", "").Replace(col)
	if i := strings.IndexByte(col, '.'); i > 0 && isIdentifier(col) {
		return strings.ToLower(col[:i]), true
	}
	return "", false
}

func (c *compiler) quoteTable(name string) string {
	return c.d.QuoteIdentifier(name)
}

// column renders a column reference. Unqualified model columns are
// qualified with the table; other identifiers are quoted; anything else is
// an expression rendered verbatim.
func (c *compiler) column(name string) string {
	if !isIdentifier(name) {
		return name
	}
	if strings.Contains(name, ".") {
		return dialects.QuoteQualified(c.d, name)
	}
	if col, ok := c.model.Column(name); ok {
		return c.quoteTable(c.model.table) + "." + c.d.QuoteIdentifier(col.Name)
	}
	return c.d.QuoteIdentifier(name)
}

// expression renders a projection, group or order expression, validating
// anything that is not a plain identifier.
func (c *compiler) expression(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return c.quoteTable(c.model.table) + ".*", nil
	}
	if isIdentifier(s) {
		return c.column(s), nil
	}
	if err := c.checkFragment(s); err != nil {
		return "", err
	}
	return s, nil
}

// checkFragment validates a raw SQL fragment when validation is enabled.
func (c *compiler) checkFragment(fragment string) error {
	if c.db.validator == nil {
		return nil
	}
	if err := c.db.validator.ValidateFragment(fragment); err != nil {
		c.db.auditor.RecordRejectedFragment(context.Background(), fragment, err)
		return err
	}
	return nil
}

// checkPredicates validates raw fragments and column expressions and
// checks each raw fragment's placeholder count against its arguments.
func (c *compiler) checkPredicates(preds []Predicate) error {
	var err error
	for _, p := range preds {
		p.rawFragments(func(raw Predicate) {
			if err != nil {
				return
			}
			if n := ast.CountPlaceholders(raw.SQL); n != len(raw.Args) {
				err = &BindCountMismatchError{SQL: raw.SQL, Placeholders: n, Binds: len(raw.Args)}
				return
			}
			err = c.checkFragment(raw.SQL)
		})
		p.columns(func(col string) {
			if err == nil && !isIdentifier(col) {
				err = c.checkFragment(col)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) predicate(p Predicate) ast.Expr {
	return p.toExpr(c.column)
}

// from renders SELECT projection FROM ... JOIN ... WHERE ... GROUP BY ... HAVING.
func (c *compiler) from(p *queryPlan, projection []string) (ast.Query, error) {
	v := p.values
	q := ast.Select(projection...).From(c.quoteTable(c.model.table))

	for _, clause := range p.joins.clauses() {
		q = q.Join(clause)
	}
	for _, j := range p.rawJoins {
		if n := ast.CountPlaceholders(j.Raw); n != len(j.Args) {
			return q, &BindCountMismatchError{SQL: j.Raw, Placeholders: n, Binds: len(j.Args)}
		}
		if err := c.checkFragment(j.Raw); err != nil {
			return q, err
		}
		q = q.Join(j.Raw, j.Args...)
	}

	if err := c.checkPredicates(v.where); err != nil {
		return q, err
	}
	for _, pred := range v.where {
		q = q.Where(c.predicate(pred))
	}
	if v.none {
		q = q.Where(ast.Raw("1=0"))
	}

	group := make([]string, 0, len(v.group))
	for _, g := range v.group {
		expr, err := c.expression(g)
		if err != nil {
			return q, err
		}
		group = append(group, expr)
	}
	q = q.GroupBy(group...)

	if err := c.checkPredicates(v.having); err != nil {
		return q, err
	}
	for _, pred := range v.having {
		q = q.Having(c.predicate(pred))
	}
	return q, nil
}

func (c *compiler) order(q ast.Query, terms []OrderTerm) (ast.Query, error) {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t.Raw != "" {
			if err := c.checkFragment(t.Raw); err != nil {
				return q, err
			}
			out = append(out, t.Raw)
			continue
		}
		dir := " ASC"
		if t.Desc {
			dir = " DESC"
		}
		out = append(out, c.column(t.Column)+dir)
	}
	return q.OrderBy(out...), nil
}

func page(q ast.Query, v *Values) ast.Query {
	if n, ok := v.LimitValue(); ok {
		q = q.Limit(n)
	}
	if n, ok := v.OffsetValue(); ok {
		q = q.Offset(n)
	}
	return q
}

func distinct(q ast.Query, v *Values) ast.Query {
	if on, _ := v.DistinctValue(); on {
		return q.Distinct()
	}
	return q
}

// renderer is implemented by the ast statement types.
type renderer interface {
	Render() (string, []any, error)
}

// statement renders r, checks that placeholders, bind values and the
// expected bind count agree, and rebinds to the dialect's placeholders.
func (c *compiler) statement(r renderer, expected int, operation string) (*Statement, error) {
	text, args, err := r.Render()
	if err != nil {
		return nil, fmt.Errorf("relq: render %s: %w", c.model.table, err)
	}
	if n := ast.CountPlaceholders(text); n != len(args) {
		return nil, &BindCountMismatchError{SQL: text, Placeholders: n, Binds: len(args)}
	} else if n != expected {
		return nil, &BindCountMismatchError{SQL: text, Placeholders: n, Binds: expected}
	}

	bound, err := ast.Rebind(c.d.PlaceholderFormat(), text)
	if err != nil {
		return nil, err
	}
	return &Statement{
		SQL:       bound,
		Args:      args,
		Table:     c.model.table,
		Operation: operation,
		source:    text,
	}, nil
}

func (c *compiler) projection(p *queryPlan) ([]string, error) {
	if p.joins.hasEager() {
		return p.joins.projection(), nil
	}
	selects := p.values.selects
	if len(selects) == 0 {
		selects = []string{"*"}
	}
	out := make([]string, 0, len(selects)+len(p.extraSelect))
	for _, s := range selects {
		expr, err := c.expression(s)
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
	}
	return append(out, p.extraSelect...), nil
}

// records compiles the record-loading SELECT.
func (c *compiler) records(p *queryPlan) (*Statement, error) {
	proj, err := c.projection(p)
	if err != nil {
		return nil, err
	}
	q, err := c.from(p, proj)
	if err != nil {
		return nil, err
	}
	q = distinct(q, p.values)
	if q, err = c.order(q, p.values.order); err != nil {
		return nil, err
	}
	return c.statement(page(q, p.values), p.bindCount(), "SELECT")
}

// distinctIDs compiles the owner page query used before an eager collection
// join: distinct primary keys plus the order columns they are sorted by.
func (c *compiler) distinctIDs(p *queryPlan) (*Statement, error) {
	pk, err := c.model.singlePK()
	if err != nil {
		return nil, err
	}
	proj := []string{c.column(pk.Name)}
	for _, t := range p.values.order {
		if t.Column == "" {
			continue
		}
		if expr := c.column(t.Column); expr != proj[0] {
			proj = append(proj, expr)
		}
	}

	q, err := c.from(p, proj)
	if err != nil {
		return nil, err
	}
	if q, err = c.order(q.Distinct(), p.values.order); err != nil {
		return nil, err
	}
	return c.statement(page(q, p.values), p.bindCount(), "SELECT")
}

// distinctTarget is what COUNT(DISTINCT ...) counts: the single selected
// column, or the primary key.
func (c *compiler) distinctTarget(p *queryPlan) (string, error) {
	if s := p.values.selects; len(s) == 1 && s[0] != "*" {
		return c.expression(s[0])
	}
	pk, err := c.model.singlePK()
	if err != nil {
		return "", err
	}
	return c.column(pk.Name), nil
}

// count compiles SELECT COUNT. Grouped, limited or offset relations are
// counted over a subquery.
func (c *compiler) count(p *queryPlan) (*Statement, error) {
	v := p.values
	_, limited := v.LimitValue()
	_, offset := v.OffsetValue()
	isDistinct, _ := v.DistinctValue()

	if len(v.group) > 0 || limited || offset {
		var proj []string
		switch {
		case len(v.group) > 0:
			for _, g := range v.group {
				expr, err := c.expression(g)
				if err != nil {
					return nil, err
				}
				proj = append(proj, expr)
			}
		case isDistinct || p.joins.hasEager():
			target, err := c.distinctTarget(p)
			if err != nil {
				return nil, err
			}
			proj = []string{target}
			isDistinct = true
		default:
			proj = []string{"1 AS one"}
		}

		inner, err := c.from(p, proj)
		if err != nil {
			return nil, err
		}
		if isDistinct {
			inner = inner.Distinct()
		}
		if inner, err = c.order(inner, v.order); err != nil {
			return nil, err
		}
		q := ast.Select("COUNT(*)").FromSelect(page(inner, v), "subquery_for_count")
		return c.statement(q, p.bindCount(), "SELECT")
	}

	expr := "COUNT(*)"
	if isDistinct || p.joins.hasEager() {
		target, err := c.distinctTarget(p)
		if err != nil {
			return nil, err
		}
		expr = "COUNT(DISTINCT " + target + ")"
	} else if s := v.selects; len(s) == 1 && isIdentifier(s[0]) && !strings.HasSuffix(s[0], "*") {
		expr = "COUNT(" + c.column(s[0]) + ")"
	}

	q, err := c.from(p, []string{expr})
	if err != nil {
		return nil, err
	}
	return c.statement(q, p.bindCount(), "SELECT")
}

// exists compiles SELECT 1 AS one ... LIMIT 1.
func (c *compiler) exists(p *queryPlan) (*Statement, error) {
	q, err := c.from(p, []string{"1 AS one"})
	if err != nil {
		return nil, err
	}
	q = q.Limit(1)
	if n, ok := p.values.OffsetValue(); ok {
		q = q.Offset(n)
	}
	return c.statement(q, p.bindCount(), "SELECT")
}

// pluck compiles a SELECT of the given columns or expressions.
func (c *compiler) pluck(p *queryPlan, columns []string) (*Statement, error) {
	proj := make([]string, 0, len(columns))
	for _, col := range columns {
		expr, err := c.expression(col)
		if err != nil {
			return nil, err
		}
		proj = append(proj, expr)
	}

	q, err := c.from(p, proj)
	if err != nil {
		return nil, err
	}
	q = distinct(q, p.values)
	if q, err = c.order(q, p.values.order); err != nil {
		return nil, err
	}
	return c.statement(page(q, p.values), p.bindCount(), "SELECT")
}

// calculate compiles an aggregate over column. Limited or offset relations
// aggregate over a subquery.
func (c *compiler) calculate(p *queryPlan, op Calculation, column string) (*Statement, error) {
	v := p.values
	if len(v.group) > 0 {
		return nil, fmt.Errorf("relq: %s over a grouped relation is not supported; use Pluck", op)
	}
	expr, err := c.expression(column)
	if err != nil {
		return nil, err
	}
	isDistinct, _ := v.DistinctValue()
	prefix := ""
	if isDistinct {
		prefix = "DISTINCT "
	}

	_, limited := v.LimitValue()
	_, offset := v.OffsetValue()
	if limited || offset {
		inner, err := c.from(p, []string{expr + " AS calc_column"})
		if err != nil {
			return nil, err
		}
		if inner, err = c.order(inner, v.order); err != nil {
			return nil, err
		}
		q := ast.Select(string(op)+"("+prefix+"subquery_for_calc.calc_column)").
			FromSelect(page(inner, v), "subquery_for_calc")
		return c.statement(q, p.bindCount(), "SELECT")
	}

	q, err := c.from(p, []string{string(op) + "(" + prefix + expr + ")"})
	if err != nil {
		return nil, err
	}
	return c.statement(q, p.bindCount(), "SELECT")
}

// explain compiles the record statement prefixed with an EXPLAIN form.
func (c *compiler) explain(p *queryPlan, explain string) (*Statement, error) {
	st, err := c.records(p)
	if err != nil {
		return nil, err
	}
	prefix := explain + " "
	st.SQL = prefix + st.SQL
	st.source = prefix + st.source
	st.Operation = "EXPLAIN"
	return st, nil
}

// scopeExpr returns the WHERE of an UPDATE or DELETE. Relations with joins,
// order, limit or offset are restricted through a primary key subquery;
// MySQL needs it wrapped in a derived table.
func (c *compiler) scopeExpr(p *queryPlan) ([]ast.Expr, error) {
	v := p.values
	_, limited := v.LimitValue()
	_, offset := v.OffsetValue()
	if p.joins.empty() && len(p.rawJoins) == 0 && !limited && !offset && len(v.group) == 0 {
		if err := c.checkPredicates(v.where); err != nil {
			return nil, err
		}
		exprs := make([]ast.Expr, 0, len(v.where)+1)
		for _, pred := range v.where {
			exprs = append(exprs, c.predicate(pred))
		}
		if v.none {
			exprs = append(exprs, ast.Raw("1=0"))
		}
		return exprs, nil
	}

	pk, err := c.model.singlePK()
	if err != nil {
		return nil, err
	}
	col := c.column(pk.Name)
	inner, err := c.from(p, []string{col})
	if err != nil {
		return nil, err
	}
	if inner, err = c.order(inner, v.order); err != nil {
		return nil, err
	}
	inner = page(inner, v)
	if c.d.Name() == "mysql" {
		inner = ast.Select(c.d.QuoteIdentifier(pk.Name)).FromSelect(inner, "__relq_temp")
	}
	return []ast.Expr{ast.Subquery(col, inner)}, nil
}

// updateAll compiles UPDATE table SET ... for every row of the relation.
// Raw predicates as values are rendered as SQL expressions.
func (c *compiler) updateAll(p *queryPlan, set map[string]any) (*Statement, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("%w: empty update", ErrInvalidCondition)
	}
	assignments := make(map[string]any, len(set))
	setArgs := 0
	for k, val := range set {
		if !isIdentifier(k) || strings.Contains(k, ".") {
			return nil, fmt.Errorf("%w: invalid update column %q", ErrInvalidCondition, k)
		}
		name := k
		if col, ok := c.model.Column(k); ok {
			name = col.Name
		}
		if raw, ok := val.(Predicate); ok && raw.Op == OpRaw {
			if n := ast.CountPlaceholders(raw.SQL); n != len(raw.Args) {
				return nil, &BindCountMismatchError{SQL: raw.SQL, Placeholders: n, Binds: len(raw.Args)}
			}
			if err := c.checkFragment(raw.SQL); err != nil {
				return nil, err
			}
			assignments[c.d.QuoteIdentifier(name)] = ast.Raw(raw.SQL, raw.Args...)
			setArgs += len(raw.Args)
			continue
		}
		assignments[c.d.QuoteIdentifier(name)] = val
		setArgs++
	}

	where, err := c.scopeExpr(p)
	if err != nil {
		return nil, err
	}
	q := ast.Update(c.quoteTable(c.model.table)).SetMap(assignments)
	for _, e := range where {
		q = q.Where(e)
	}
	return c.statement(q, setArgs+p.bindCount(), "UPDATE")
}

// deleteAll compiles DELETE FROM table for every row of the relation.
func (c *compiler) deleteAll(p *queryPlan) (*Statement, error) {
	where, err := c.scopeExpr(p)
	if err != nil {
		return nil, err
	}
	q := ast.Delete(c.quoteTable(c.model.table))
	for _, e := range where {
		q = q.Where(e)
	}
	return c.statement(q, p.bindCount(), "DELETE")
}
