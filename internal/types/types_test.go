package types

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteger_Cast(t *testing.T) {
	i32 := Integer{Bits: 32}

	v, err := i32.Cast(int64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = i32.Cast([]byte("17"))
	require.NoError(t, err)
	assert.Equal(t, int64(17), v)

	v, err = i32.Cast(float64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = i32.Cast(int64(1) << 40)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = i32.Cast("abc")
	assert.ErrorIs(t, err, ErrUnparsable)

	_, err = i32.Cast(2.5)
	assert.ErrorIs(t, err, ErrUnparsable)

	_, err = Integer{Bits: 64}.Cast("99999999999999999999")
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestInteger_Unsigned(t *testing.T) {
	u8 := Integer{Bits: 8, Unsigned: true}

	v, err := u8.Cast(int64(255))
	require.NoError(t, err)
	assert.Equal(t, uint64(255), v)

	_, err = u8.Cast(int64(256))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = u8.Cast(int64(-1))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestBoolean_Cast(t *testing.T) {
	for _, raw := range []any{true, int64(1), "t", "TRUE", []byte("yes")} {
		v, err := Boolean{}.Cast(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, true, v)
	}
	for _, raw := range []any{false, int64(0), "f", "false"} {
		v, err := Boolean{}.Cast(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, false, v)
	}
	_, err := Boolean{}.Cast("maybe")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestTime_Cast(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}

	utc := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	v, err := Time{Location: berlin}.Cast(utc)
	require.NoError(t, err)
	assert.Equal(t, berlin, v.(time.Time).Location())
	assert.True(t, utc.Equal(v.(time.Time)))

	v, err = Time{}.Cast("2024-01-02 10:00:00")
	require.NoError(t, err)
	assert.True(t, utc.Equal(v.(time.Time)))

	v, err = Time{}.Cast([]byte("2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 2, v.(time.Time).Day())

	_, err = Time{}.Cast("yesterday")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestFloatStringBytes_Cast(t *testing.T) {
	v, err := Float{Bits: 64}.Cast([]byte("1.5"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = String{}.Cast(int64(7))
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	src := []byte("abc")
	v, err = Bytes{}.Cast(src)
	require.NoError(t, err)
	src[0] = 'z'
	assert.Equal(t, []byte("abc"), v)
}

func TestNullable_Cast(t *testing.T) {
	n := Nullable{Elem: Integer{Bits: 64}}
	v, err := n.Cast(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.Equal(t, "integer?", n.Name())

	_, err = Integer{Bits: 64}.Cast(nil)
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestForGoType(t *testing.T) {
	var (
		i  int32
		p  *string
		ts time.Time
		ns sql.NullString
		b  []byte
		u  uint16
	)
	assert.Equal(t, Integer{Bits: 32}, ForGoType(reflect.TypeOf(i), nil))
	assert.Equal(t, Nullable{Elem: String{}}, ForGoType(reflect.TypeOf(p), nil))
	assert.Equal(t, Time{Location: time.UTC}, ForGoType(reflect.TypeOf(ts), time.UTC))
	assert.Equal(t, Scanner{}, ForGoType(reflect.TypeOf(ns), nil))
	assert.Equal(t, Bytes{}, ForGoType(reflect.TypeOf(b), nil))
	assert.Equal(t, Integer{Bits: 16, Unsigned: true}, ForGoType(reflect.TypeOf(u), nil))

	typ, ok := Lookup("bigint", nil)
	require.True(t, ok)
	assert.Equal(t, Integer{Bits: 64}, typ)
	_, ok = Lookup("geometry", nil)
	assert.False(t, ok)
}

func TestAssign(t *testing.T) {
	type target struct {
		N  int32
		P  *int64
		S  string
		NS sql.NullString
	}
	var dst target
	rv := reflect.ValueOf(&dst).Elem()

	require.NoError(t, Assign(rv.Field(0), int64(5), int64(5)))
	require.NoError(t, Assign(rv.Field(1), int64(9), int64(9)))
	require.NoError(t, Assign(rv.Field(2), "x", "x"))
	require.NoError(t, Assign(rv.Field(3), "raw", "raw"))

	assert.Equal(t, int32(5), dst.N)
	require.NotNil(t, dst.P)
	assert.Equal(t, int64(9), *dst.P)
	assert.Equal(t, "x", dst.S)
	assert.Equal(t, sql.NullString{String: "raw", Valid: true}, dst.NS)

	require.NoError(t, Assign(rv.Field(1), nil, nil))
	assert.Nil(t, dst.P)

	assert.ErrorIs(t, Assign(rv.Field(2), int64(1), int64(1)), ErrUnparsable)
}
