// Package query executes validated SQL against the warehouse and shapes the
// rows for downstream consumers: typed columns, bounded row counts, and a
// small error taxonomy the pipeline can translate into client responses.
package query

import (
	"context"
	"fmt"
	"time"
)

// ValueType is the coarse column type used by chart classification.
type ValueType string

const (
	TypeInteger  ValueType = "integer"
	TypeFloat    ValueType = "float"
	TypeText     ValueType = "text"
	TypeDatetime ValueType = "datetime"
	TypeBoolean  ValueType = "boolean"
)

type Column struct {
	Name string    `json:"name"`
	Type ValueType `json:"type"`
}

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns   []Column         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Duration  time.Duration    `json:"-"`
}

// Engine runs a validated statement. Implementations must respect the
// request row limit and the context deadline.
type Engine interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// TimeoutError means the statement exceeded its execution deadline. It is
// never retried.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query timed out after %s", e.Elapsed)
}

// ExecutionError wraps a warehouse failure that is not a timeout.
type ExecutionError struct {
	Err     error
	Attempt int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("query execution failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
