package paged

import "github.com/nibblestore/paged/errs"

// Re-exported so callers of the top-level façade never need to import the
// internal errs package directly.
type (
	ErrorKind = errs.Kind
	Error     = errs.Error
)

const (
	ErrStaleRead         = errs.StaleRead
	ErrCorruptedPage     = errs.CorruptedPage
	ErrOutOfAddressSpace = errs.OutOfAddressSpace
	ErrCapacityExceeded  = errs.CapacityExceeded
	ErrSnapshotNotFound  = errs.SnapshotNotFound
	ErrInvalidArgument   = errs.InvalidArgument
)
