package types

import "errors"

// ErrFunctionUnknown indicates a computation request named a function
// that was never registered.
var ErrFunctionUnknown = errors.New("unknown function")

// ComputationRequest asks for one derived value: the named function
// applied to a snapshot of one row. The generation is captured at
// submission time; a result is applied only if the row's generation still
// matches when the computation completes. Immutable once submitted.
type ComputationRequest struct {
	Key        RowKey
	Function   string
	RowData    Row
	Generation uint64

	// Visible rows are computed ahead of offscreen rows.
	Visible bool
}

// ComputationResult delivers one completed computation. Err is set when
// the function failed or panicked; stale results are discarded before
// delivery and never appear here.
type ComputationResult struct {
	Key        RowKey
	Function   string
	Value      any
	Generation uint64
	Err        error
}
