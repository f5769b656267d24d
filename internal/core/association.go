package core

import (
	"fmt"
	"reflect"

	"github.com/jinzhu/inflection"

	"github.com/coregx/relq/internal/util"
)

// AssociationKind tags the shape of an association.
type AssociationKind int

// Association kinds.
const (
	BelongsTo AssociationKind = iota
	HasOne
	HasMany
	HasManyThrough
)

func (k AssociationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongs_to"
	case HasOne:
		return "has_one"
	case HasMany:
		return "has_many"
	case HasManyThrough:
		return "has_many_through"
	default:
		return fmt.Sprintf("AssociationKind(%d)", int(k))
	}
}

// Association describes how an owner model relates to a target model.
//
// Associations are declared with a rel tag on a struct field:
//
//	type Post struct {
//	    ID       int64
//	    AuthorID int64
//	    Author   *User      `rel:"belongs_to"`
//	    Comments []*Comment `rel:"has_many"`
//	    Tags     []*Tag     `rel:"has_many,through=taggings"`
//	}
//
// Supported options: foreign_key, primary_key, through and
// association_foreign_key.
type Association struct {
	Name   string
	Kind   AssociationKind
	Owner  *Model
	Target *Model

	// ForeignKey is the owner column for BelongsTo and the target column otherwise.
	ForeignKey string
	// PrimaryKey is the target column for BelongsTo and the owner column otherwise.
	PrimaryKey string

	// Join table settings for HasManyThrough.
	JoinTable     string
	JoinOwnerKey  string
	JoinTargetKey string

	field   []int
	elemPtr bool
}

// Collection reports whether the association holds many records.
func (a *Association) Collection() bool {
	return a.Kind == HasMany || a.Kind == HasManyThrough
}

// OwnerKey returns the owner column whose values scope the target query.
func (a *Association) OwnerKey() string {
	if a.Kind == BelongsTo {
		return a.ForeignKey
	}
	return a.PrimaryKey
}

// TargetKey returns the target column matched against owner keys. For
// HasManyThrough it is the join table column.
func (a *Association) TargetKey() string {
	switch a.Kind {
	case BelongsTo:
		return a.PrimaryKey
	case HasManyThrough:
		return a.JoinOwnerKey
	default:
		return a.ForeignKey
	}
}

func newAssociation(owner *Model, f util.Field) (*Association, error) {
	tag := util.ParseRelTag(f.Rel)

	a := &Association{
		Name:  util.SnakeCase(f.Name),
		Owner: owner,
		field: f.Index,
	}

	elem := f.Type
	switch tag.Kind {
	case "belongs_to":
		a.Kind = BelongsTo
	case "has_one":
		a.Kind = HasOne
	case "has_many":
		a.Kind = HasMany
		if _, ok := tag.Options["through"]; ok {
			a.Kind = HasManyThrough
		}
	default:
		return nil, fmt.Errorf("%w: %s.%s has unknown association kind %q", ErrInvalidModelType, owner.name, f.Name, tag.Kind)
	}

	if a.Collection() {
		if elem.Kind() != reflect.Slice {
			return nil, fmt.Errorf("%w: %s.%s must be a slice for %s", ErrInvalidModelType, owner.name, f.Name, tag.Kind)
		}
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Ptr {
		a.elemPtr = true
		elem = elem.Elem()
	}

	target, err := owner.registry.get(elem)
	if err != nil {
		return nil, fmt.Errorf("association %s.%s: %w", owner.name, f.Name, err)
	}
	a.Target = target

	opt := func(key, fallback string) string {
		if v := tag.Options[key]; v != "" {
			return v
		}
		return fallback
	}

	switch a.Kind {
	case BelongsTo:
		a.ForeignKey = opt("foreign_key", util.SnakeCase(f.Name)+"_id")
		a.PrimaryKey = opt("primary_key", firstPK(target))
	case HasOne, HasMany:
		a.ForeignKey = opt("foreign_key", inflection.Singular(owner.table)+"_id")
		a.PrimaryKey = opt("primary_key", firstPK(owner))
	case HasManyThrough:
		a.JoinTable = tag.Options["through"]
		a.JoinOwnerKey = opt("foreign_key", inflection.Singular(owner.table)+"_id")
		a.JoinTargetKey = opt("association_foreign_key", inflection.Singular(target.table)+"_id")
		a.PrimaryKey = opt("primary_key", firstPK(owner))
		a.ForeignKey = firstPK(target)
	}

	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func firstPK(m *Model) string {
	if len(m.pk) == 0 {
		return ""
	}
	return m.pk[0].Name
}

func (a *Association) validate() error {
	check := func(m *Model, col string) error {
		if col == "" {
			return fmt.Errorf("%w: association %s.%s needs a primary key on %s", ErrNoPrimaryKey, a.Owner.name, a.Name, m.name)
		}
		if _, ok := m.Column(col); !ok {
			return fmt.Errorf("%w: association %s.%s: %s has no column %q", ErrInvalidModelType, a.Owner.name, a.Name, m.name, col)
		}
		return nil
	}

	switch a.Kind {
	case BelongsTo:
		if err := check(a.Owner, a.ForeignKey); err != nil {
			return err
		}
		return check(a.Target, a.PrimaryKey)
	case HasManyThrough:
		if err := check(a.Owner, a.PrimaryKey); err != nil {
			return err
		}
		return check(a.Target, a.ForeignKey)
	default:
		if err := check(a.Owner, a.PrimaryKey); err != nil {
			return err
		}
		return check(a.Target, a.ForeignKey)
	}
}

// reset stores the empty value: an empty slice for collections, nil or the
// zero struct otherwise.
func (a *Association) reset(owner reflect.Value) {
	f := owner.Elem().FieldByIndex(a.field)
	if a.Collection() {
		f.Set(reflect.MakeSlice(f.Type(), 0, 0))
		return
	}
	f.Set(reflect.Zero(f.Type()))
}

// assign stores targets (struct pointers) on owner.
func (a *Association) assign(owner reflect.Value, targets []reflect.Value) {
	f := owner.Elem().FieldByIndex(a.field)
	if a.Collection() {
		s := reflect.MakeSlice(f.Type(), len(targets), len(targets))
		for i, t := range targets {
			s.Index(i).Set(a.elem(t))
		}
		f.Set(s)
		return
	}
	if len(targets) == 0 {
		f.Set(reflect.Zero(f.Type()))
		return
	}
	f.Set(a.elem(targets[0]))
}

// add appends target to a collection or sets it on a singular association.
func (a *Association) add(owner, target reflect.Value) {
	f := owner.Elem().FieldByIndex(a.field)
	if a.Collection() {
		f.Set(reflect.Append(f, a.elem(target)))
		return
	}
	f.Set(a.elem(target))
}

func (a *Association) elem(target reflect.Value) reflect.Value {
	if a.elemPtr {
		return target
	}
	return target.Elem()
}
