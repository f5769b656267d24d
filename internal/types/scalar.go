package types

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Integer casts to int64, or to uint64 when Unsigned.
type Integer struct {
	Bits     int
	Unsigned bool
}

// Name returns "integer" or "unsigned".
func (i Integer) Name() string {
	if i.Unsigned {
		return "unsigned"
	}
	return "integer"
}

// Cast converts numeric, boolean, and textual values.
func (i Integer) Cast(raw any) (any, error) {
	switch v := raw.(type) {
	case []byte:
		return i.Cast(string(v))
	case string:
		s := strings.TrimSpace(v)
		if i.Unsigned {
			u, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return nil, i.parseError(raw, err)
			}
			return i.fitUnsigned(u)
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, i.parseError(raw, err)
		}
		return i.fitSigned(n)
	case uint64:
		if i.Unsigned {
			return i.fitUnsigned(v)
		}
		if v > math.MaxInt64 {
			return nil, ErrOverflow
		}
		return i.fitSigned(int64(v))
	}

	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case float64:
		if v != math.Trunc(v) {
			return nil, unparsable(raw, i.Name())
		}
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return nil, ErrOverflow
		}
		n = int64(v)
	case bool:
		if v {
			n = 1
		}
	default:
		return nil, unparsable(raw, i.Name())
	}

	if i.Unsigned {
		if n < 0 {
			return nil, ErrOverflow
		}
		return i.fitUnsigned(uint64(n))
	}
	return i.fitSigned(n)
}

func (i Integer) fitSigned(n int64) (any, error) {
	if i.Bits > 0 && i.Bits < 64 {
		limit := int64(1) << (i.Bits - 1)
		if n < -limit || n > limit-1 {
			return nil, ErrOverflow
		}
	}
	return n, nil
}

func (i Integer) fitUnsigned(u uint64) (any, error) {
	if i.Bits > 0 && i.Bits < 64 && u > (uint64(1)<<i.Bits)-1 {
		return nil, ErrOverflow
	}
	return u, nil
}

func (i Integer) parseError(raw any, err error) error {
	if errors.Is(err, strconv.ErrRange) {
		return ErrOverflow
	}
	return unparsable(raw, i.Name())
}

// Float casts to float64.
type Float struct {
	Bits int
}

// Name returns "float".
func (Float) Name() string { return "float" }

// Cast converts numeric and textual values.
func (f Float) Cast(raw any) (any, error) {
	var out float64
	switch v := raw.(type) {
	case float64:
		out = v
	case float32:
		out = float64(v)
	case int64:
		out = float64(v)
	case int:
		out = float64(v)
	case uint64:
		out = float64(v)
	case []byte:
		return f.Cast(string(v))
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, unparsable(raw, f.Name())
		}
		out = parsed
	default:
		return nil, unparsable(raw, f.Name())
	}
	if f.Bits == 32 && !math.IsInf(out, 0) && math.Abs(out) > math.MaxFloat32 {
		return nil, ErrOverflow
	}
	return out, nil
}

// String casts to string.
type String struct{}

// Name returns "string".
func (String) Name() string { return "string" }

// Cast converts text, numbers, and booleans.
func (s String) Cast(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	default:
		return nil, unparsable(raw, s.Name())
	}
}

// Boolean casts to bool.
type Boolean struct{}

// Name returns "boolean".
func (Boolean) Name() string { return "boolean" }

// Cast accepts bools, 0/1 integers, and the usual textual spellings.
func (b Boolean) Cast(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int64:
		switch v {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	case []byte:
		return b.Cast(string(v))
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes", "on":
			return true, nil
		case "0", "f", "false", "n", "no", "off":
			return false, nil
		}
	}
	return nil, unparsable(raw, b.Name())
}

// Bytes casts to a copied []byte.
type Bytes struct{}

// Name returns "binary".
func (Bytes) Name() string { return "binary" }

// Cast copies byte slices and converts strings.
func (b Bytes) Cast(raw any) (any, error) {
	switch v := raw.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	default:
		return nil, unparsable(raw, b.Name())
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Time casts to time.Time, converted into Location when set.
type Time struct {
	Location *time.Location
}

// Name returns "datetime".
func (Time) Name() string { return "datetime" }

// Cast accepts time values, common textual layouts, and unix seconds.
func (t Time) Cast(raw any) (any, error) {
	loc := t.Location
	if loc == nil {
		loc = time.UTC
	}

	var out time.Time
	switch v := raw.(type) {
	case time.Time:
		out = v
	case int64:
		out = time.Unix(v, 0)
	case []byte:
		return t.Cast(string(v))
	case string:
		s := strings.TrimSpace(v)
		parsed := false
		for _, layout := range timeLayouts {
			if p, err := time.ParseInLocation(layout, s, loc); err == nil {
				out, parsed = p, true
				break
			}
		}
		if !parsed {
			return nil, unparsable(raw, t.Name())
		}
	default:
		return nil, unparsable(raw, t.Name())
	}

	if t.Location != nil {
		out = out.In(t.Location)
	}
	return out, nil
}
