// Package types provides attribute types that cast raw driver values into the
// typed values assigned to model fields.
package types

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"
)

var (
	// ErrOverflow is returned when a numeric value does not fit the target type.
	ErrOverflow = errors.New("value out of range")
	// ErrUnparsable is returned when a raw value cannot be interpreted as the target type.
	ErrUnparsable = errors.New("unparsable value")
)

// Type casts a raw driver value into a typed value.
type Type interface {
	// Name returns the declared type name.
	Name() string
	// Cast converts raw into the type's Go representation.
	Cast(raw any) (any, error)
}

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
	bytesType   = reflect.TypeOf([]byte(nil))
)

// ForGoType returns the attribute type for a struct field of type t.
// Times are cast into loc when loc is not nil.
func ForGoType(t reflect.Type, loc *time.Location) Type {
	if reflect.PointerTo(t).Implements(scannerType) {
		return Scanner{}
	}
	if t.Kind() == reflect.Pointer {
		return Nullable{Elem: ForGoType(t.Elem(), loc)}
	}
	if t == timeType {
		return Time{Location: loc}
	}
	if t == bytesType {
		return Bytes{}
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer{Bits: t.Bits()}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Integer{Bits: t.Bits(), Unsigned: true}
	case reflect.Float32, reflect.Float64:
		return Float{Bits: t.Bits()}
	case reflect.String:
		return String{}
	case reflect.Bool:
		return Boolean{}
	default:
		return Value{}
	}
}

// Lookup returns the attribute type for a declared type name such as
// "integer", "bigint", "text", "boolean", "datetime", or "binary".
func Lookup(name string, loc *time.Location) (Type, bool) {
	switch name {
	case "integer", "int", "smallint":
		return Integer{Bits: 32}, true
	case "bigint":
		return Integer{Bits: 64}, true
	case "float", "double", "decimal", "numeric", "real":
		return Float{Bits: 64}, true
	case "string", "text", "varchar", "char":
		return String{}, true
	case "boolean", "bool":
		return Boolean{}, true
	case "datetime", "timestamp", "date", "time":
		return Time{Location: loc}, true
	case "binary", "blob", "bytea":
		return Bytes{}, true
	case "value", "json":
		return Value{}, true
	}
	return nil, false
}

// Nullable casts NULL to nil and delegates everything else to Elem.
type Nullable struct {
	Elem Type
}

// Name returns the element type name with a "?" suffix.
func (n Nullable) Name() string { return n.Elem.Name() + "?" }

// Cast returns nil for NULL.
func (n Nullable) Cast(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	return n.Elem.Cast(raw)
}

// Scanner passes raw values through; the field's own Scan method does the work.
type Scanner struct{}

// Name returns "scanner".
func (Scanner) Name() string { return "scanner" }

// Cast returns raw unchanged.
func (Scanner) Cast(raw any) (any, error) { return raw, nil }

// Value passes raw values through unchanged.
type Value struct{}

// Name returns "value".
func (Value) Name() string { return "value" }

// Cast returns raw unchanged, copying byte slices owned by the driver.
func (Value) Cast(raw any) (any, error) {
	if b, ok := raw.([]byte); ok {
		return append([]byte(nil), b...), nil
	}
	return raw, nil
}

func unparsable(raw any, target string) error {
	return fmt.Errorf("%w: %T %v as %s", ErrUnparsable, raw, raw, target)
}
