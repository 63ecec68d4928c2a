package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned by schema operations on a closed handle.
	ErrNotOpen = errors.New("store is not open")
	// ErrAlreadyExists is returned when adding a field that is already known.
	ErrAlreadyExists = errors.New("field already exists")
	// ErrNotFound is returned for unknown fields and matches.
	ErrNotFound = errors.New("not found")
	// ErrInvalidField is returned for unusable field names, types or views.
	ErrInvalidField = errors.New("invalid field")
	// ErrConnectionInUse is returned when another live handle in the process
	// holds the same connection name.
	ErrConnectionInUse = errors.New("connection name already in use")
)

// QueryError is an engine error together with the statement that caused it.
type QueryError struct {
	Op        string
	Statement string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %v (statement: %s)", e.Op, e.Err, e.Statement)
}

func (e *QueryError) Unwrap() error { return e.Err }

// BackfillError reports rows of a bulk write that failed. The rows that
// succeeded were committed.
type BackfillError struct {
	Field  string
	Failed int
	Total  int
	Err    error // first row error
}

func (e *BackfillError) Error() string {
	return fmt.Sprintf("field %s: %d of %d rows failed: %v", e.Field, e.Failed, e.Total, e.Err)
}

func (e *BackfillError) Unwrap() error { return e.Err }
