// Package util provides struct reflection helpers for model descriptors and
// key normalization for association grouping.
package util

import (
	"reflect"
	"strings"
	"unicode"
)

// DBTag is a parsed `db:"..."` struct tag.
type DBTag struct {
	Column string
	PK     bool
	Skip   bool
	Type   string // declared attribute type, from type=<name>
}

// ParseDBTag parses db tags of the forms
//
//	"column"            plain column
//	"column,pk"         primary key column (repeat for composite keys)
//	"column,type=time"  declared attribute type
//	"-"                 not mapped
func ParseDBTag(tag string) DBTag {
	parts := strings.Split(tag, ",")
	out := DBTag{Column: strings.TrimSpace(parts[0])}
	if out.Column == "-" {
		out.Skip = true
		return out
	}
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		switch {
		case part == "pk":
			out.PK = true
		case strings.HasPrefix(part, "type="):
			out.Type = strings.TrimPrefix(part, "type=")
		}
	}
	return out
}

// RelTag is a parsed `rel:"..."` association tag, e.g.
// `rel:"has_many,foreign_key=author_id"`.
type RelTag struct {
	Kind    string
	Options map[string]string
}

// ParseRelTag parses an association tag. The first element is the kind;
// the rest are key=value options.
func ParseRelTag(tag string) RelTag {
	parts := strings.Split(tag, ",")
	out := RelTag{Kind: strings.TrimSpace(parts[0]), Options: map[string]string{}}
	for _, part := range parts[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			out.Options[k] = ""
			continue
		}
		out.Options[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// Field describes one exported struct field reachable from a model type.
type Field struct {
	Name   string
	Index  []int
	Type   reflect.Type
	DB     DBTag
	Rel    string // raw rel tag, empty for columns
	Tagged bool   // has an explicit db tag
}

// StructFields lists the exported fields of t in declaration order, flattening
// anonymous embedded structs. Fields with db:"-" are omitted.
func StructFields(t reflect.Type) []Field {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var out []Field
	collectFields(t, nil, &out)
	return out
}

func collectFields(t reflect.Type, prefix []int, out *[]Field) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		index := append(append([]int(nil), prefix...), i)

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && sf.Tag.Get("db") == "" {
			collectFields(sf.Type, index, out)
			continue
		}
		if !sf.IsExported() {
			continue
		}

		f := Field{Name: sf.Name, Index: index, Type: sf.Type}
		if rel, ok := sf.Tag.Lookup("rel"); ok {
			f.Rel = rel
			*out = append(*out, f)
			continue
		}

		if tag, ok := sf.Tag.Lookup("db"); ok {
			f.DB = ParseDBTag(tag)
			f.Tagged = true
		}
		if f.DB.Skip {
			continue
		}
		if f.DB.Column == "" {
			f.DB.Column = SnakeCase(sf.Name)
		}
		*out = append(*out, f)
	}
}

// SnakeCase converts a Go identifier to snake_case, keeping initialisms
// together: "AuthorID" -> "author_id", "HTTPStatus" -> "http_status".
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsNullKey reports whether v is a nil key, including nil pointers and
// invalid sql.Null* wrappers already unwrapped to nil.
func IsNullKey(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

// NormalizeKey converts a key value to a comparable canonical form so that
// keys read from different column types compare equal: pointers are
// dereferenced, integers widen to int64 (or uint64 beyond int64), byte
// slices become strings.
func NormalizeKey(v any) any {
	if IsNullKey(v) {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= 1<<63-1 {
			return int64(u)
		}
		return u
	case reflect.String:
		return rv.String()
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes())
		}
	}
	if rv.Type().Comparable() {
		return rv.Interface()
	}
	return v
}

// CompositeKey joins normalized parts into one comparable map key.
type CompositeKey [4]any

// MakeKey normalizes parts into a CompositeKey. Keys longer than four parts
// are not supported by association grouping.
func MakeKey(parts ...any) (CompositeKey, bool) {
	var k CompositeKey
	if len(parts) > len(k) {
		return k, false
	}
	for i, p := range parts {
		if IsNullKey(p) {
			return k, false
		}
		k[i] = NormalizeKey(p)
	}
	return k, true
}
