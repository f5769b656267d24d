package types

import (
	"database/sql"
	"fmt"
	"reflect"
)

// Assign stores a cast value into dst, allocating pointers as needed.
// Fields implementing sql.Scanner receive the raw driver value instead.
func Assign(dst reflect.Value, value, raw any) error {
	if dst.CanAddr() {
		if s, ok := dst.Addr().Interface().(sql.Scanner); ok {
			return s.Scan(raw)
		}
	}

	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), value, raw); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	src := reflect.ValueOf(value)
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case src.Type().ConvertibleTo(dst.Type()) && convertible(src.Kind(), dst.Kind()):
		dst.Set(src.Convert(dst.Type()))
	default:
		return fmt.Errorf("%w: cannot assign %T to %s", ErrUnparsable, value, dst.Type())
	}
	return nil
}

// convertible rejects the numeric-to-string conversion reflect allows.
func convertible(src, dst reflect.Kind) bool {
	if dst == reflect.String {
		return src == reflect.String
	}
	return true
}
