// Package core implements relations: immutable query values, their
// compilation to SQL, and the loading of records and associations.
package core

import (
	"context"
	"time"
)

// QueryEvent contains information about an executed statement.
// This is passed to QueryHook callbacks for logging, metrics, or tracing.
type QueryEvent struct {
	// SQL is the executed statement in the dialect's placeholder format.
	SQL string
	// Args are the bind values.
	Args []any
	// Duration is how long the statement took, including reading rows.
	Duration time.Duration
	// Rows is the number of rows read (SELECT) or affected (UPDATE, DELETE).
	Rows int64
	// Error is any error that occurred (nil on success).
	Error error
	// Operation is SELECT, UPDATE, DELETE or EXPLAIN.
	Operation string
	// Table is the model table the statement was built for.
	Table string
	// LoadID correlates the statements of one terminal operation.
	LoadID string
}

// QueryHook is a callback function invoked after each statement.
//
// Example:
//
//	db, _ := relq.Open("postgres", dsn,
//	    relq.WithQueryHook(func(ctx context.Context, e relq.QueryEvent) {
//	        slog.Info("query", "sql", e.SQL, "duration", e.Duration, "err", e.Error)
//	    }))
type QueryHook func(ctx context.Context, event QueryEvent)

// invokeHook calls the query hook if set.
func (db *DB) invokeHook(ctx context.Context, event QueryEvent) {
	if db.queryHook != nil {
		db.queryHook(ctx, event)
	}
}

type loadIDKey struct{}

func withLoadID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, loadIDKey{}, id)
}

// LoadID returns the id of the terminal operation running on ctx, if any.
func LoadID(ctx context.Context) string {
	id, _ := ctx.Value(loadIDKey{}).(string)
	return id
}
