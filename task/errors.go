package task

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrDuplicateTask     = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError is returned for malformed or oversized submissions.
// Line is 1-based and zero when the error is not tied to a sequence line.
type ValidationError struct {
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("Line %d: %s", e.Line, e.Reason)
	}
	return e.Reason
}

// StorageError wraps an I/O failure of the durable store or the staging area.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ExecutionError is a failure reported by the generation capability itself.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("Generation failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// HarnessError is a failure around the generation call: unreadable
// parameters, a crashed execution, or an interrupted run.
type HarnessError struct {
	Err error
}

func (e *HarnessError) Error() string {
	return fmt.Sprintf("Task execution failed: %v", e.Err)
}

func (e *HarnessError) Unwrap() error { return e.Err }
