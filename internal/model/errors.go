package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a lookup or removal targets a missing record.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// StoreError wraps an underlying storage failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// MalformedFlowError reports a flow that violates its structural invariants.
type MalformedFlowError struct {
	Reason string
}

func (e *MalformedFlowError) Error() string {
	return "malformed flow: " + e.Reason
}
