package graph

import "fmt"

type LoadErrorCode string

const (
	// LoadErrorConflict: an add collided with an existing node key or edge,
	// typically when replaying a partially applied add batch.
	LoadErrorConflict     LoadErrorCode = "conflict"
	LoadErrorMissingNode  LoadErrorCode = "missing_node"
	LoadErrorDatabase     LoadErrorCode = "database"
	LoadErrorInvalidLabel LoadErrorCode = "invalid_label"
	LoadErrorStaging      LoadErrorCode = "staging"
)

type LoadError struct {
	Code  LoadErrorCode
	Table string
	// Batch is 1-based; 0 means the failure happened outside a batch.
	Batch int
	Key   string
	Cause error
}

func (e *LoadError) Error() string {
	if e == nil {
		return "graph load failed"
	}
	msg := fmt.Sprintf("graph load failed (table=%s batch=%d code=%s)", e.Table, e.Batch, e.Code)
	if e.Key != "" {
		msg += " key=" + e.Key
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
