package core

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/inflection"

	"github.com/coregx/relq/internal/types"
	"github.com/coregx/relq/internal/util"
)

// SchemaDescriptor describes the table a model maps to.
type SchemaDescriptor interface {
	Name() string
	TableName() string
	PrimaryKey() []string
	Columns() []string
}

// AttributeCaster returns the attribute type used to cast a column.
type AttributeCaster interface {
	AttributeType(column string) (types.Type, bool)
}

// AssociationProvider resolves association metadata by name.
type AssociationProvider interface {
	Association(name string) (*Association, error)
	Associations() ([]*Association, error)
}

// TableNamer lets a model type choose its table name.
type TableNamer interface {
	TableName() string
}

// DefaultScoper lets a model type add clauses to every relation built with
// From. Unscoped removes them.
type DefaultScoper interface {
	DefaultScope(v *Values) *Values
}

var (
	_ SchemaDescriptor    = (*Model)(nil)
	_ AttributeCaster     = (*Model)(nil)
	_ AssociationProvider = (*Model)(nil)
)

// Column maps a table column to a struct field.
type Column struct {
	Name  string
	Field string
	Type  types.Type
	PK    bool
	index []int
}

// Model is the reflected descriptor of a struct type: its table, columns,
// primary key, attribute types and associations.
type Model struct {
	typ     reflect.Type
	name    string
	table   string
	columns []*Column
	byName  map[string]*Column
	pk      []*Column
	scope   func(*Values) *Values

	registry  *modelRegistry
	relFields []util.Field

	assocOnce sync.Once
	assocs    map[string]*Association
	assocList []*Association
	assocErr  error
}

// Name returns the Go type name.
func (m *Model) Name() string { return m.name }

// TableName returns the table the model maps to.
func (m *Model) TableName() string { return m.table }

// Type returns the struct type.
func (m *Model) Type() reflect.Type { return m.typ }

// PrimaryKey returns the primary key columns in declaration order.
func (m *Model) PrimaryKey() []string {
	out := make([]string, len(m.pk))
	for i, c := range m.pk {
		out[i] = c.Name
	}
	return out
}

// Columns returns the mapped column names in declaration order.
func (m *Model) Columns() []string {
	out := make([]string, len(m.columns))
	for i, c := range m.columns {
		out[i] = c.Name
	}
	return out
}

// Column returns the column descriptor for name.
func (m *Model) Column(name string) (*Column, bool) {
	c, ok := m.byName[strings.ToLower(name)]
	return c, ok
}

// AttributeType implements AttributeCaster.
func (m *Model) AttributeType(column string) (types.Type, bool) {
	c, ok := m.Column(column)
	if !ok {
		return nil, false
	}
	return c.Type, true
}

// DefaultScope returns v with the model's default scope merged underneath it,
// so clauses of v win over the defaults. Unscoped values are returned as is.
func (m *Model) DefaultScope(v *Values) (*Values, error) {
	if m.scope == nil || v.IsUnscoped() {
		return v, nil
	}
	return m.scope(NewValues(m.table)).Merge(v)
}

func (m *Model) singlePK() (*Column, error) {
	if len(m.pk) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, m.name)
	}
	return m.pk[0], nil
}

func (m *Model) newRecord() reflect.Value {
	return reflect.New(m.typ)
}

// value returns the field value of column col on rec (a struct pointer).
func (m *Model) value(rec reflect.Value, col string) any {
	c, ok := m.Column(col)
	if !ok {
		return nil
	}
	return rec.Elem().FieldByIndex(c.index).Interface()
}

func (m *Model) pkValues(rec reflect.Value) []any {
	out := make([]any, len(m.pk))
	for i, c := range m.pk {
		out[i] = rec.Elem().FieldByIndex(c.index).Interface()
	}
	return out
}

// modelRegistry caches reflected models per struct type.
type modelRegistry struct {
	mu     sync.RWMutex
	models map[reflect.Type]*Model
	loc    *time.Location
}

func newModelRegistry(loc *time.Location) *modelRegistry {
	return &modelRegistry{
		models: make(map[reflect.Type]*Model),
		loc:    loc,
	}
}

// get returns the cached model for typ or builds it.
func (r *modelRegistry) get(typ reflect.Type) (*Model, error) {
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelType, typ)
	}

	r.mu.RLock()
	m, ok := r.models[typ]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[typ]; ok {
		return m, nil
	}

	m, err := r.build(typ)
	if err != nil {
		return nil, err
	}
	r.models[typ] = m
	return m, nil
}

func (r *modelRegistry) build(typ reflect.Type) (*Model, error) {
	m := &Model{
		typ:      typ,
		name:     typ.Name(),
		byName:   make(map[string]*Column),
		registry: r,
	}

	zero := reflect.New(typ).Interface()
	if tn, ok := zero.(TableNamer); ok {
		m.table = tn.TableName()
	} else {
		m.table = inflection.Plural(util.SnakeCase(typ.Name()))
	}
	if ds, ok := zero.(DefaultScoper); ok {
		m.scope = ds.DefaultScope
	}

	var idColumn *Column
	for _, f := range util.StructFields(typ) {
		if f.Rel != "" {
			m.relFields = append(m.relFields, f)
			continue
		}

		attr := types.ForGoType(f.Type, r.loc)
		if f.DB.Type != "" {
			declared, ok := types.Lookup(f.DB.Type, r.loc)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s declares unknown type %q", ErrInvalidModelType, typ.Name(), f.Name, f.DB.Type)
			}
			attr = declared
		}

		col := &Column{
			Name:  f.DB.Column,
			Field: f.Name,
			Type:  attr,
			PK:    f.DB.PK,
			index: f.Index,
		}
		key := strings.ToLower(col.Name)
		if _, dup := m.byName[key]; dup {
			return nil, fmt.Errorf("%w: %s maps column %q twice", ErrInvalidModelType, typ.Name(), col.Name)
		}
		m.columns = append(m.columns, col)
		m.byName[key] = col
		if col.PK {
			m.pk = append(m.pk, col)
		}
		if f.Name == "ID" && idColumn == nil {
			idColumn = col
		}
	}

	if len(m.pk) == 0 && idColumn != nil {
		idColumn.PK = true
		m.pk = []*Column{idColumn}
	}
	return m, nil
}

// Association implements AssociationProvider. Names are the snake_case field
// name ("comments") or the Go field name ("Comments").
func (m *Model) Association(name string) (*Association, error) {
	if err := m.resolveAssociations(); err != nil {
		return nil, err
	}
	if a, ok := m.assocs[strings.ToLower(name)]; ok {
		return a, nil
	}
	if a, ok := m.assocs[util.SnakeCase(name)]; ok {
		return a, nil
	}
	return nil, &UnknownAssociationError{Model: m.name, Name: name}
}

// Associations implements AssociationProvider.
func (m *Model) Associations() ([]*Association, error) {
	if err := m.resolveAssociations(); err != nil {
		return nil, err
	}
	return slices.Clone(m.assocList), nil
}

// associationPath resolves a dotted path such as "comments.author".
func (m *Model) associationPath(path string) ([]*Association, error) {
	var out []*Association
	cur := m
	for _, name := range strings.Split(path, ".") {
		a, err := cur.Association(name)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
		cur = a.Target
	}
	return out, nil
}

func (m *Model) resolveAssociations() error {
	m.assocOnce.Do(func() {
		m.assocs = make(map[string]*Association, len(m.relFields))
		for _, f := range m.relFields {
			a, err := newAssociation(m, f)
			if err != nil {
				m.assocErr = err
				return
			}
			m.assocs[a.Name] = a
			m.assocList = append(m.assocList, a)
		}
	})
	return m.assocErr
}
