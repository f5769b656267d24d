// Package dialects provides database-specific SQL dialect implementations for
// PostgreSQL, MySQL, and SQLite, handling identifier quoting, placeholder
// rendering, and EXPLAIN syntax.
package dialects

import (
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
)

// Dialect defines database-specific behaviors.
type Dialect interface {
	// Name returns the canonical dialect name.
	Name() string
	// QuoteIdentifier quotes a single identifier part.
	QuoteIdentifier(string) string
	// Placeholder returns the placeholder for the 1-based bind position.
	Placeholder(int) string
	// PlaceholderFormat converts "?" placeholders into the dialect format.
	PlaceholderFormat() sq.PlaceholderFormat
	// ExplainPrefix is prepended to a statement to obtain its plan.
	ExplainPrefix() string
}

var (
	mu       sync.RWMutex
	dialects = make(map[string]Dialect)
)

// RegisterDialect registers a database dialect by driver name.
func RegisterDialect(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[name] = d
}

// Lookup retrieves a registered dialect by driver name.
func Lookup(name string) (Dialect, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := dialects[name]
	return d, ok
}

// QuoteQualified quotes a possibly table-qualified identifier ("posts.id").
// A "*" part is left bare.
func QuoteQualified(d Dialect, name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "*" {
			continue
		}
		parts[i] = d.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
