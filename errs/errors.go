package errs

import "fmt"

// Kind enumerates the error classes the engine reports (§7). Every kind
// besides CapacityExceeded is fatal: CapacityExceeded is fully recovered
// locally by a page-type promotion and should never reach a caller.
type Kind int

const (
	// StaleRead means a page's header batch id exceeds the reading
	// batch's own id. The on-disk invariant was violated; the read is
	// aborted.
	StaleRead Kind = iota
	// CorruptedPage means a header version/type was unrecognized, or an
	// invariant (e.g. a null bucket reached past a non-null check) was
	// violated. The batch that observed it is aborted.
	CorruptedPage
	// OutOfAddressSpace means the allocation frontier hit 2^32 pages, or
	// 2^28 for a packed address table.
	OutOfAddressSpace
	// CapacityExceeded means a slotted map could not absorb a write even
	// after every promotion was attempted. It should never be visible
	// outside the trie package.
	CapacityExceeded
	// SnapshotNotFound means Begin(hash) named a hash absent from both
	// the proposed chain and the committed root.
	SnapshotNotFound
	// InvalidArgument means the caller misused the API itself rather than
	// tripping an on-disk invariant: an empty top-level key, a writer used
	// after Commit or Dispose, and the like.
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case StaleRead:
		return "stale read"
	case CorruptedPage:
		return "corrupted page"
	case OutOfAddressSpace:
		return "out of address space"
	case CapacityExceeded:
		return "capacity exceeded"
	case SnapshotNotFound:
		return "snapshot not found"
	case InvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// Error is the engine's error type. It always carries a Kind so callers
// can branch with errors.As without parsing message text.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: StaleRead}) style checks work by
// Kind equality rather than pointer identity.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
