package core

import (
	"reflect"
	"strings"

	"github.com/coregx/relq/internal/types"
)

type colTarget struct {
	pos int
	col *Column
}

// columnMap materializes result rows into records of one model. Result
// columns without a matching model column are ignored.
type columnMap struct {
	model   *Model
	targets []colTarget
}

func newColumnMap(m *Model, names []string) *columnMap {
	cm := &columnMap{model: m}
	for i, name := range names {
		if c, ok := m.Column(name); ok {
			cm.targets = append(cm.targets, colTarget{pos: i, col: c})
		}
	}
	return cm
}

// build casts each mapped column through its attribute type and assigns it.
// NULL resets the field to its zero value.
func (cm *columnMap) build(row []any) (reflect.Value, error) {
	rec := cm.model.newRecord()
	for _, t := range cm.targets {
		raw := row[t.pos]
		field := rec.Elem().FieldByIndex(t.col.index)

		var value any
		if raw != nil {
			cast, err := t.col.Type.Cast(raw)
			if err != nil {
				return reflect.Value{}, cm.castError(t.col, raw, err)
			}
			value = cast
		}
		if err := types.Assign(field, value, raw); err != nil {
			return reflect.Value{}, cm.castError(t.col, raw, err)
		}
	}
	return rec, nil
}

func (cm *columnMap) castError(c *Column, raw any, err error) error {
	return &CastError{
		Model:  cm.model.name,
		Column: c.Name,
		Type:   c.Type.Name(),
		Value:  raw,
		Err:    err,
	}
}

// materialize builds one record per row. Any failure aborts the whole set.
func materialize(m *Model, names []string, rows [][]any) ([]reflect.Value, error) {
	cm := newColumnMap(m, names)
	out := make([]reflect.Value, 0, len(rows))
	for _, row := range rows {
		rec, err := cm.build(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// readRows scans every row into raw driver values.
func readRows(rows Rows) ([]string, [][]any, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var data [][]any
	for rows.Next() {
		raw := make([]any, len(names))
		dest := make([]any, len(names))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}
		data = append(data, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return names, data, nil
}

// columnIndex returns the position of name in names, ignoring case.
func columnIndex(names []string, name string) int {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}
