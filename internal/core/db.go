package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/XSAM/otelsql"
	"go.opentelemetry.io/otel/metric"

	"github.com/coregx/relq/internal/cache"
	"github.com/coregx/relq/internal/config"
	"github.com/coregx/relq/internal/dialects"
	"github.com/coregx/relq/internal/logger"
	"github.com/coregx/relq/internal/metrics"
	"github.com/coregx/relq/internal/security"
	"github.com/coregx/relq/internal/tracer"
)

// DB is the entry point relations are built from. It owns the connection
// provider, the dialect, the model registry and the immutable configuration
// every compiled statement and load is run with.
type DB struct {
	sqlDB      *sql.DB
	ownsSQLDB  bool
	exec       Executor
	driverName string
	dialect    dialects.Dialect

	cfg       config.Config
	cfgSet    bool
	models    *modelRegistry
	stmtCache *cache.StmtCache

	logger    logger.Logger
	sanitizer *logger.Sanitizer
	tracer    tracer.Tracer
	metrics   *metrics.Recorder
	statsReg  metric.Registration
	validator *security.Validator
	auditor   *security.Auditor
	queryHook QueryHook
}

// Option is a functional option for configuring DB.
type Option func(*DB)

// WithConfig replaces the configuration. Options applied after it still
// override individual settings.
func WithConfig(cfg config.Config) Option {
	return func(db *DB) {
		db.cfg = cfg
		db.cfgSet = true
	}
}

// WithLogger sets the logger statements are logged to.
func WithLogger(l logger.Logger) Option {
	return func(db *DB) {
		db.logger = l
	}
}

// WithTracer sets the tracer used for load, statement and preload spans.
func WithTracer(t tracer.Tracer) Option {
	return func(db *DB) {
		db.tracer = t
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(db *DB) {
		db.metrics = r
	}
}

// WithQueryHook registers a callback invoked after every statement.
func WithQueryHook(hook QueryHook) Option {
	return func(db *DB) {
		db.queryHook = hook
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(db *DB) {
		db.cfg.Database.Pool.MaxOpen = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(db *DB) {
		db.cfg.Database.Pool.MaxIdle = n
	}
}

// WithStmtCacheCapacity enables the prepared statement cache with the given
// capacity. Zero disables it.
func WithStmtCacheCapacity(capacity int) Option {
	return func(db *DB) {
		db.cfg.Relation.PreparedStatements = capacity > 0
		db.cfg.Relation.StmtCacheCapacity = capacity
	}
}

// WithAuditLevel selects which operations are written to the audit log.
func WithAuditLevel(level string) Option {
	return func(db *DB) {
		db.cfg.Logging.Audit = level
	}
}

// WithRawFragmentValidation rejects raw SQL fragments that look like injection.
func WithRawFragmentValidation(on bool) Option {
	return func(db *DB) {
		db.cfg.Relation.ValidateRawFragments = on
	}
}

func newDB(driverName string, opts []Option) (*DB, error) {
	d, ok := dialects.Lookup(driverName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDialect, driverName)
	}

	db := &DB{
		driverName: driverName,
		dialect:    d,
		cfg:        config.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	db.cfg.Database.Driver = driverName

	if result := db.cfg.Validate(); result.HasErrors() {
		return nil, fmt.Errorf("relq: invalid config: %w", result)
	}
	loc, err := db.cfg.Location()
	if err != nil {
		return nil, err
	}
	db.models = newModelRegistry(loc)

	if db.logger == nil {
		if db.cfgSet {
			db.logger = logger.New(logger.Config{Level: db.cfg.Logging.Level, Format: db.cfg.Logging.Format})
		} else {
			db.logger = &logger.NoopLogger{}
		}
	}
	db.sanitizer = logger.NewSanitizer(db.cfg.Relation.SensitiveFields)

	if db.tracer == nil {
		if db.cfg.Observability.TracingEnabled {
			db.tracer = tracer.NewGlobal()
		} else {
			db.tracer = &tracer.NoopTracer{}
		}
	}
	if db.metrics == nil && db.cfg.Observability.MetricsEnabled {
		rec, err := metrics.NewGlobal()
		if err != nil {
			return nil, fmt.Errorf("relq: metrics: %w", err)
		}
		db.metrics = rec
	}

	if db.cfg.Relation.ValidateRawFragments {
		db.validator = security.NewValidator()
	}
	db.auditor = security.NewAuditor(db.logger, security.ParseAuditLevel(db.cfg.Logging.Audit))
	return db, nil
}

// attach wires sqlDB as the connection provider.
func (db *DB) attach(sqlDB *sql.DB) {
	db.sqlDB = sqlDB
	pool := db.cfg.Database.Pool
	if pool.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if db.cfg.Relation.PreparedStatements && db.cfg.Relation.StmtCacheCapacity > 0 {
		db.stmtCache = cache.NewStmtCache(db.cfg.Relation.StmtCacheCapacity)
	}
	db.exec = newSQLExecutor(sqlDB, db.stmtCache, db.metrics)
}

// Open opens a database with the given driver and DSN.
// With Observability.DriverInstrumentation enabled the driver is wrapped by
// otelsql and connection pool statistics are exported as metrics.
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	db, err := newDB(driverName, opts)
	if err != nil {
		return nil, err
	}

	var sqlDB *sql.DB
	if db.cfg.Observability.DriverInstrumentation {
		attrs := otelsql.WithAttributes(tracer.System(db.dialect.Name()))
		sqlDB, err = otelsql.Open(driverName, dsn,
			attrs,
			otelsql.WithSQLCommenter(db.cfg.Observability.SQLCommenterEnabled),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		)
		if err != nil {
			return nil, err
		}
		reg, err := otelsql.RegisterDBStatsMetrics(sqlDB, attrs)
		if err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("relq: register db stats: %w", err)
		}
		db.statsReg = reg
	} else {
		sqlDB, err = sql.Open(driverName, dsn)
		if err != nil {
			return nil, err
		}
	}

	db.ownsSQLDB = true
	db.attach(sqlDB)
	return db, nil
}

// OpenConfig opens the database described by cfg.Database.
func OpenConfig(cfg config.Config, opts ...Option) (*DB, error) {
	return Open(cfg.Database.Driver, cfg.Database.DataSourceName(), append([]Option{WithConfig(cfg)}, opts...)...)
}

// WrapDB wraps an existing *sql.DB. The caller keeps ownership: Close
// releases relq resources but leaves the connection pool open.
func WrapDB(sqlDB *sql.DB, driverName string, opts ...Option) (*DB, error) {
	db, err := newDB(driverName, opts)
	if err != nil {
		return nil, err
	}
	db.attach(sqlDB)
	return db, nil
}

// WrapExecutor builds a DB over a custom connection provider.
func WrapExecutor(exec Executor, driverName string, opts ...Option) (*DB, error) {
	if exec == nil {
		return nil, errors.New("relq: nil executor")
	}
	db, err := newDB(driverName, opts)
	if err != nil {
		return nil, err
	}
	db.exec = exec
	return db, nil
}

// WithTx returns a DB whose relations run inside tx. The statement cache is
// bypassed. Models are shared with the receiver.
func (db *DB) WithTx(tx *sql.Tx) *DB {
	c := *db
	c.ownsSQLDB = false
	c.statsReg = nil
	c.stmtCache = nil
	c.exec = newSQLExecutor(tx, nil, db.metrics)
	return &c
}

// Transactional runs fn inside a transaction. The transaction commits when
// fn returns nil and rolls back when it returns an error or panics; a panic
// is re-raised after the rollback.
func (db *DB) Transactional(ctx context.Context, fn func(tx *DB) error) (err error) {
	if db.sqlDB == nil {
		return errors.New("relq: transactions need a *sql.DB connection")
	}
	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return classifyError("BEGIN", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(db.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Close releases all database resources. A wrapped *sql.DB is left open.
func (db *DB) Close() error {
	if db.stmtCache != nil {
		db.stmtCache.Clear()
	}
	var errs []error
	if db.statsReg != nil {
		errs = append(errs, db.statsReg.Unregister())
		db.statsReg = nil
	}
	if db.ownsSQLDB && db.sqlDB != nil {
		errs = append(errs, db.sqlDB.Close())
	}
	return errors.Join(errs...)
}

// Dialect returns the SQL dialect.
func (db *DB) Dialect() dialects.Dialect { return db.dialect }

// DriverName returns the driver name the DB was opened with.
func (db *DB) DriverName() string { return db.driverName }

// Config returns a copy of the configuration.
func (db *DB) Config() config.Config { return db.cfg }

// SQLDB returns the underlying *sql.DB, or nil for a custom executor.
func (db *DB) SQLDB() *sql.DB { return db.sqlDB }

// StmtCacheStats returns prepared statement cache statistics.
func (db *DB) StmtCacheStats() cache.Stats {
	if db.stmtCache == nil {
		return cache.Stats{}
	}
	return db.stmtCache.Stats()
}

// Model returns the reflected model descriptor of v's struct type.
func (db *DB) Model(v any) (*Model, error) {
	return db.models.get(reflect.TypeOf(v))
}

// Statement is a compiled statement ready for the connection provider.
type Statement struct {
	// SQL uses the dialect's placeholder format.
	SQL  string
	Args []any
	// Table is the model table the statement was built for.
	Table string
	// Operation is SELECT, UPDATE, DELETE or EXPLAIN.
	Operation string

	// source is SQL with "?" placeholders, used to mask logged parameters.
	source string
}

// query runs a row-returning statement and hands the rows to scan, which
// returns the number of rows read.
func (db *DB) query(ctx context.Context, st *Statement, scan func(Rows) (int64, error)) error {
	ctx, span := db.tracer.StartSpan(ctx, tracer.SpanStatement)
	defer span.End()

	start := time.Now()
	var n int64
	rows, err := db.exec.QueryContext(ctx, st.SQL, st.Args...)
	if err == nil {
		n, err = scan(rows)
		if cerr := rows.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		var castErr *CastError
		if !errors.As(err, &castErr) {
			err = classifyError(st.SQL, err)
		}
	}

	db.observe(ctx, span, st, n, time.Since(start), err)
	return err
}

// execute runs a statement that returns no rows and reports rows affected.
func (db *DB) execute(ctx context.Context, st *Statement) (int64, error) {
	ctx, span := db.tracer.StartSpan(ctx, tracer.SpanStatement)
	defer span.End()

	start := time.Now()
	var n int64
	res, err := db.exec.ExecContext(ctx, st.SQL, st.Args...)
	if err == nil {
		n, err = res.RowsAffected()
	}
	err = classifyError(st.SQL, err)

	db.observe(ctx, span, st, n, time.Since(start), err)
	return n, err
}

// observe reports a finished statement to every configured observer.
func (db *DB) observe(ctx context.Context, span tracer.Span, st *Statement, rows int64, elapsed time.Duration, err error) {
	loadID := LoadID(ctx)
	tracer.AddStatementAttributes(span, &tracer.StatementMetadata{
		SQL:       st.SQL,
		Dialect:   db.dialect.Name(),
		Operation: st.Operation,
		Table:     st.Table,
		LoadID:    loadID,
		Rows:      rows,
		Duration:  elapsed,
		Err:       err,
	})
	db.metrics.RecordStatement(ctx, st.Operation, st.Table, elapsed, errorKind(err))

	params := db.sanitizer.FormatParams(db.sanitizer.MaskParams(st.source, st.Args))
	if err != nil {
		db.logger.Error("statement failed",
			"sql", st.SQL,
			"params", params,
			"duration_ms", elapsed.Milliseconds(),
			"database", db.driverName,
			"load_id", loadID,
			"error", err,
		)
	} else {
		db.logger.Debug("statement executed",
			"sql", st.SQL,
			"params", params,
			"duration_ms", elapsed.Milliseconds(),
			"rows", rows,
			"database", db.driverName,
			"load_id", loadID,
		)
	}

	db.auditor.Record(ctx, security.AuditEvent{
		Operation:    st.Operation,
		Table:        st.Table,
		AffectedRows: rows,
		SQL:          st.SQL,
		LoadID:       loadID,
		Duration:     elapsed,
	}, st.Args, err)

	db.invokeHook(ctx, QueryEvent{
		SQL:       st.SQL,
		Args:      st.Args,
		Duration:  elapsed,
		Rows:      rows,
		Error:     err,
		Operation: st.Operation,
		Table:     st.Table,
		LoadID:    loadID,
	})
}
