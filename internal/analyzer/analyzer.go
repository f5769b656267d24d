// Package analyzer turns the EXPLAIN output of PostgreSQL, MySQL and SQLite
// into one Plan shape, so callers can check whether a relation's statement
// reads through an index or scans whole tables.
package analyzer

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Plan is a dialect-neutral summary of a statement's execution plan.
type Plan struct {
	// Database is postgres, mysql or sqlite.
	Database string
	// Cost is the planner's total cost estimate in database-specific units.
	// SQLite does not estimate costs.
	Cost float64
	// EstimatedRows is the planner's row estimate, 0 when unknown.
	EstimatedRows int64

	// Indexes lists the indexes read, in plan order, without duplicates.
	Indexes []string
	// FullScans lists the tables read without an index.
	FullScans []string
	// Filesort is set when MySQL sorts rows outside an index.
	Filesort bool

	// Raw is the unparsed EXPLAIN output.
	Raw string
}

// UsesIndex reports whether any table is read through an index.
func (p *Plan) UsesIndex() bool { return len(p.Indexes) > 0 }

// FullScan reports whether any table is scanned without an index.
func (p *Plan) FullScan() bool { return len(p.FullScans) > 0 }

// ScansTable reports whether table is read without an index.
func (p *Plan) ScansTable(table string) bool { return slices.Contains(p.FullScans, table) }

func (p *Plan) addIndex(name string) {
	if name != "" && !slices.Contains(p.Indexes, name) {
		p.Indexes = append(p.Indexes, name)
	}
}

func (p *Plan) addScan(table string) {
	if table != "" && !slices.Contains(p.FullScans, table) {
		p.FullScans = append(p.FullScans, table)
	}
}

// ErrEmptyPlan is returned when EXPLAIN produced no rows.
var ErrEmptyPlan = errors.New("analyzer: empty EXPLAIN output")

// Parse builds a Plan from the rows an EXPLAIN statement returned. PostgreSQL
// and MySQL rows carry one JSON document; SQLite rows end with a detail
// column.
func Parse(database string, rows [][]any) (*Plan, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmptyPlan
	}

	switch database {
	case "postgres":
		return parsePostgres(text(rows[0][0]))
	case "mysql":
		return parseMySQL(text(rows[0][0]))
	case "sqlite":
		details := make([]string, 0, len(rows))
		for _, row := range rows {
			if len(row) > 0 {
				details = append(details, text(row[len(row)-1]))
			}
		}
		return parseSQLite(details), nil
	default:
		return nil, fmt.Errorf("analyzer: unsupported database %q", database)
	}
}

func text(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// PlanPrefix returns the EXPLAIN form whose output Parse understands.
func PlanPrefix(database string) string {
	switch database {
	case "postgres":
		return "EXPLAIN (FORMAT JSON)"
	case "mysql":
		return "EXPLAIN FORMAT=JSON"
	default:
		return "EXPLAIN QUERY PLAN"
	}
}

// firstWord returns s up to the first space or parenthesis.
func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " ("); i >= 0 {
		return s[:i]
	}
	return s
}
