package core

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/coregx/relq/internal/cache"
	"github.com/coregx/relq/internal/metrics"
)

// Rows is the cursor returned by an Executor. *sql.Rows satisfies it.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Executor is the connection provider relations run their statements on.
// Implementations own pooling, transactions and retries.
type Executor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// sqlConn is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type sqlConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// sqlExecutor runs statements on a database/sql connection, optionally
// through the prepared statement cache. Transactions never use the cache.
type sqlExecutor struct {
	conn    sqlConn
	stmts   *cache.StmtCache
	metrics *metrics.Recorder
}

func newSQLExecutor(conn sqlConn, stmts *cache.StmtCache, rec *metrics.Recorder) *sqlExecutor {
	return &sqlExecutor{conn: conn, stmts: stmts, metrics: rec}
}

// prepare returns a cached or freshly prepared statement. The statement stays
// open until release runs.
func (e *sqlExecutor) prepare(ctx context.Context, query string) (*sql.Stmt, func(), error) {
	if stmt, release, ok := e.stmts.Acquire(query); ok {
		e.metrics.RecordStmtCache(ctx, true)
		return stmt, release, nil
	}
	e.metrics.RecordStmtCache(ctx, false)

	stmt, err := e.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	stmt, release := e.stmts.Put(query, stmt)
	return stmt, release, nil
}

// QueryContext implements Executor.
func (e *sqlExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.stmts == nil {
		return e.conn.QueryContext(ctx, query, args...)
	}
	stmt, release, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		release()
		return nil, err
	}
	return &stmtRows{Rows: rows, release: release}, nil
}

// ExecContext implements Executor.
func (e *sqlExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.stmts == nil {
		return e.conn.ExecContext(ctx, query, args...)
	}
	stmt, release, err := e.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	defer release()
	return stmt.ExecContext(ctx, args...)
}

// stmtRows releases its cached statement when closed.
type stmtRows struct {
	*sql.Rows
	release func()
}

func (r *stmtRows) Close() error {
	err := r.Rows.Close()
	r.release()
	return err
}

// classifyError wraps a provider error as ConnectionError or StatementError.
// Errors that are already classified are returned unchanged.
func classifyError(query string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *ConnectionError
	var stmtErr *StatementError
	if errors.As(err, &connErr) || errors.As(err, &stmtErr) {
		return err
	}
	if isConnectionError(err) {
		return &ConnectionError{Err: err}
	}
	return &StatementError{SQL: query, Err: err}
}

// errorKind names the class of a classified error for metrics.
func errorKind(err error) string {
	var connErr *ConnectionError
	var castErr *CastError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &castErr):
		return "cast"
	default:
		return "statement"
	}
}

func isConnectionError(err error) bool {
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mysql.ErrInvalidConn):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Class 08: connection exception.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return true
		}
	}
	return false
}
