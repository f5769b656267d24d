// Package relq provides lazy, immutable, chainable relations over Go structs
// for PostgreSQL, MySQL and SQLite. A relation accumulates scope values
// (conditions, joins, includes, order, limit) and compiles them into SQL only
// when its records are first observed; the loaded records are cached on the
// relation. Associations are eager loaded through joins or one query per
// association, and large tables are walked in keyset batches.
//
//	db, err := relq.Open("postgres", dsn)
//	recent := relq.From[Post](db).
//	    Where(relq.Eq("published", true)).
//	    Includes("comments.author").
//	    Order("created_at DESC").
//	    Limit(20)
//	posts, err := recent.Records(ctx)
package relq

import (
	"context"

	"github.com/coregx/relq/internal/analyzer"
	"github.com/coregx/relq/internal/config"
	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/logger"
	"github.com/coregx/relq/internal/security"
	"github.com/coregx/relq/internal/tracer"
)

type (
	// DB owns the connection, configuration, model registry and observers.
	DB = core.DB
	// Option is a functional option for configuring DB.
	Option = core.Option
	// Config is the immutable configuration of a DB.
	Config = config.Config
	// Executor is the connection provider relations run statements through.
	Executor = core.Executor
	// Rows is the result set returned by an Executor.
	Rows = core.Rows
	// Statement is a compiled statement.
	Statement = core.Statement
	// QueryEvent describes one executed statement.
	QueryEvent = core.QueryEvent
	// QueryHook observes executed statements.
	QueryHook = core.QueryHook
	// Logger is the structured logger used by DB.
	Logger = logger.Logger
	// Tracer creates spans for loads and statements.
	Tracer = tracer.Tracer

	// Relation is a lazy, chainable query over records of T.
	Relation[T any] = core.Relation[T]
	// Batches iterates a relation in keyset batches.
	Batches[T any] = core.Batches[T]
	// BatchOption configures InBatches.
	BatchOption = core.BatchOption
	// KeysetCursor pages batches by key columns.
	KeysetCursor = core.KeysetCursor
	// SingleKeyCursor pages on one column.
	SingleKeyCursor = core.SingleKeyCursor
	// CompositeKeyCursor pages on several columns in lexicographic order.
	CompositeKeyCursor = core.CompositeKeyCursor
	// Calculation names an aggregate.
	Calculation = core.Calculation
	// QueryPlan summarizes the database's plan for a relation.
	QueryPlan = analyzer.Plan

	// Values is the immutable scope value set of a relation.
	Values = core.Values
	// Predicate is one WHERE or HAVING condition.
	Predicate = core.Predicate
	// Condition is anything Where accepts.
	Condition = core.Condition
	// HashExp maps columns to values: equality, IN for slices, IS NULL for nil.
	HashExp = core.HashExp
	// OrderTerm is one ORDER BY term.
	OrderTerm = core.OrderTerm
	// Join is an association or raw join.
	Join = core.Join
	// Strategy selects how an include is loaded.
	Strategy = core.Strategy

	// Model is the reflected descriptor of a struct type.
	Model = core.Model
	// Column maps a table column to a struct field.
	Column = core.Column
	// Association describes a relationship between two models.
	Association = core.Association
	// AssociationKind is BelongsTo, HasOne, HasMany or HasManyThrough.
	AssociationKind = core.AssociationKind
	// TableNamer overrides the inferred table name of a model.
	TableNamer = core.TableNamer
	// DefaultScoper gives a model a default scope.
	DefaultScoper = core.DefaultScoper

	// IncompatibleMergeError is returned when relations of different models are merged.
	IncompatibleMergeError = core.IncompatibleMergeError
	// BindCountMismatchError is returned when placeholders and bind values disagree.
	BindCountMismatchError = core.BindCountMismatchError
	// UnknownAssociationError is returned for an association name a model lacks.
	UnknownAssociationError = core.UnknownAssociationError
	// UnorderedBatchError is returned when a batched relation has a foreign order.
	UnorderedBatchError = core.UnorderedBatchError
	// CastError is returned when a column value cannot be cast.
	CastError = core.CastError
	// ConnectionError wraps connection-level failures.
	ConnectionError = core.ConnectionError
	// StatementError wraps statement-level failures.
	StatementError = core.StatementError
)

// Association kinds.
const (
	BelongsTo      = core.BelongsTo
	HasOne         = core.HasOne
	HasMany        = core.HasMany
	HasManyThrough = core.HasManyThrough
)

// Include strategies.
const (
	StrategyAuto      = core.StrategyAuto
	StrategyPreload   = core.StrategyPreload
	StrategyEagerLoad = core.StrategyEagerLoad
)

// Calculations.
const (
	CalcSum     = core.CalcSum
	CalcAverage = core.CalcAverage
	CalcMinimum = core.CalcMinimum
	CalcMaximum = core.CalcMaximum
	CalcCount   = core.CalcCount
)

// Errors.
var (
	ErrNoRows             = core.ErrNoRows
	ErrLoadInProgress     = core.ErrLoadInProgress
	ErrInvalidModelType   = core.ErrInvalidModelType
	ErrUnsupportedDialect = core.ErrUnsupportedDialect
	ErrNoPrimaryKey       = core.ErrNoPrimaryKey
	ErrIrreversibleOrder  = core.ErrIrreversibleOrder
	ErrInvalidCondition   = core.ErrInvalidCondition
	ErrUnsafeFragment     = core.ErrUnsafeFragment
)

// Re-export core functions.
var (
	Open           = core.Open
	OpenConfig     = core.OpenConfig
	WrapDB         = core.WrapDB
	WrapExecutor   = core.WrapExecutor
	DefaultConfig  = config.Default
	LoadConfig     = config.Load
	BindFlags      = config.BindFlags
	NewLogger      = logger.New
	NewSlogAdapter = logger.NewSlogAdapter
	NewOtelTracer  = tracer.NewOtelTracer
	LoadID         = core.LoadID
	WrapError      = core.WrapError

	WithConfig                = core.WithConfig
	WithLogger                = core.WithLogger
	WithTracer                = core.WithTracer
	WithMetrics               = core.WithMetrics
	WithQueryHook             = core.WithQueryHook
	WithMaxOpenConns          = core.WithMaxOpenConns
	WithMaxIdleConns          = core.WithMaxIdleConns
	WithStmtCacheCapacity     = core.WithStmtCacheCapacity
	WithAuditLevel            = core.WithAuditLevel
	WithRawFragmentValidation = core.WithRawFragmentValidation

	// Audit context
	WithUser      = security.WithUser
	WithClientIP  = security.WithClientIP
	WithRequestID = security.WithRequestID

	// Conditions
	Eq      = core.Eq
	NotEq   = core.NotEq
	In      = core.In
	NotIn   = core.NotIn
	Gt      = core.Gt
	Gte     = core.Gte
	Lt      = core.Lt
	Lte     = core.Lte
	Like    = core.Like
	NotLike = core.NotLike
	Between = core.Between
	Raw     = core.Raw
	And     = core.And
	Or      = core.Or
	Not     = core.Not

	NewValues  = core.NewValues
	ParseOrder = core.ParseOrder

	// Batch options
	BatchSize   = core.BatchSize
	BatchStart  = core.BatchStart
	BatchFinish = core.BatchFinish
	BatchCursor = core.BatchCursor
)

// From returns a relation over every record of T.
func From[T any](db *DB) *Relation[T] {
	return core.From[T](db)
}

// PluckAs plucks one column of r and converts each value to V.
func PluckAs[V, T any](ctx context.Context, r *Relation[T], column string) ([]V, error) {
	return core.PluckAs[V](ctx, r, column)
}
