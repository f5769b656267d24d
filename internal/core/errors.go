package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coregx/relq/internal/security"
)

// Predefined errors returned by relq operations.
var (
	// ErrNoRows is returned by First, Last, Take, Find and FindBy when nothing matches.
	ErrNoRows = errors.New("relq: no rows in result set")
	// ErrLoadInProgress is returned when a terminal operation starts while another
	// one is still running on the same Relation instance.
	ErrLoadInProgress = errors.New("relq: relation is already loading")
	// ErrInvalidModelType is returned when a model type is not a struct.
	ErrInvalidModelType = errors.New("relq: invalid model type")
	// ErrUnsupportedDialect is returned when no dialect is registered for a driver.
	ErrUnsupportedDialect = errors.New("relq: unsupported database dialect")
	// ErrNoPrimaryKey is returned when an operation needs a primary key the model lacks.
	ErrNoPrimaryKey = errors.New("relq: model has no primary key")
	// ErrIrreversibleOrder is returned by Last when a raw order term cannot be reversed.
	ErrIrreversibleOrder = errors.New("relq: order cannot be reversed")
	// ErrInvalidCondition is returned when Where receives an unsupported condition.
	ErrInvalidCondition = errors.New("relq: invalid condition")
	// ErrUnsafeFragment is returned when raw fragment validation rejects a fragment.
	ErrUnsafeFragment = security.ErrUnsafeFragment
)

// IncompatibleMergeError is returned when values of two model families are merged.
type IncompatibleMergeError struct {
	Left  string
	Right string
}

func (e *IncompatibleMergeError) Error() string {
	return fmt.Sprintf("relq: cannot merge relation on %q into relation on %q", e.Right, e.Left)
}

// BindCountMismatchError is returned when the placeholders in a rendered
// statement do not line up with its bind values.
type BindCountMismatchError struct {
	SQL          string
	Placeholders int
	Binds        int
}

func (e *BindCountMismatchError) Error() string {
	return fmt.Sprintf("relq: %d placeholders but %d bind values in %q", e.Placeholders, e.Binds, e.SQL)
}

// UnknownAssociationError is returned when an association name is not defined on a model.
type UnknownAssociationError struct {
	Model string
	Name  string
}

func (e *UnknownAssociationError) Error() string {
	return fmt.Sprintf("relq: association %q not found on %s", e.Name, e.Model)
}

// UnorderedBatchError is returned when batch iteration is requested on a
// relation ordered by something other than its batch key.
type UnorderedBatchError struct {
	Order []string
	Key   []string
}

func (e *UnorderedBatchError) Error() string {
	return fmt.Sprintf("relq: cannot iterate in batches ordered by %s; batches are ordered by %s",
		strings.Join(e.Order, ", "), strings.Join(e.Key, ", "))
}

// CastError is returned when a column value cannot be cast to its attribute type.
type CastError struct {
	Model  string
	Column string
	Type   string
	Value  any
	Err    error
}

func (e *CastError) Error() string {
	return fmt.Sprintf("relq: cannot cast %s.%s value %v to %s: %v", e.Model, e.Column, e.Value, e.Type, e.Err)
}

func (e *CastError) Unwrap() error {
	return e.Err
}

// ConnectionError wraps a transport-level failure reported by the connection provider.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "relq: connection error: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// StatementError wraps a failure the database reported for a statement.
type StatementError struct {
	SQL string
	Err error
}

func (e *StatementError) Error() string {
	return "relq: statement failed: " + e.Err.Error()
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with additional context message.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
