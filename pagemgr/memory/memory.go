// Package memory provides a throwaway pagemgr.Manager backed by
// dsnet/golib/memfile — an in-memory implementation of the os.File
// surface. It exists so the rest of this module (and its tests) can run
// without touching a real filesystem, the same role the teacher's dummy
// parent buffer manager (parent_buf_mgr_dummy.go) plays for the B-link
// tree's own tests.
package memory

import (
	"sync"

	"github.com/dsnet/golib/memfile"

	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/page"
	"github.com/nibblestore/paged/pagemgr"
)

// Manager maps page.Address directly onto byte ranges of an in-memory
// file, growing it on demand via memfile's Truncate. Pages handed back to
// callers are views into that file's own buffer (no copy, no flush work to
// do), so WritePages and the flush barriers are no-ops kept only to
// satisfy the interface.
type Manager struct {
	mu    sync.Mutex
	file  *memfile.File
	addrs map[*page.Page]page.Address
}

// New creates an empty memory-backed manager. Page 0 is reserved as null
// by convention; callers allocate page 1 onward.
func New() *Manager {
	return &Manager{
		file:  memfile.New(nil),
		addrs: make(map[*page.Page]page.Address),
	}
}

// ensureCapacity grows the backing file so addr's frame is fully in
// bounds, using memfile's own Truncate rather than a hand-rolled copy.
func (m *Manager) ensureCapacity(addr page.Address) {
	need := int64(addr.Offset()) + page.Size
	if need <= int64(len(m.file.Bytes())) {
		return
	}
	// memfile.File mirrors os.File's Truncate signature; growing in place
	// never fails for an in-memory backing store.
	_ = m.file.Truncate(need)
}

func (m *Manager) mapPage(addr page.Address) *page.Page {
	m.ensureCapacity(addr)
	off := addr.Offset()
	raw := m.file.Bytes()[off : off+page.Size]
	p := page.Wrap(raw)
	m.addrs[p] = addr
	return p
}

func (m *Manager) GetAt(addr page.Address) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapPage(addr), nil
}

func (m *Manager) GetAtForWriting(addr page.Address, reused bool) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// reused pages coming off the abandoned list need no special fencing
	// here: there is no write-back cache to fsync through in memory.
	_ = reused
	return m.mapPage(addr), nil
}

func (m *Manager) GetAddress(p *page.Page) (page.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.addrs[p]
	if !ok {
		return 0, errs.New(errs.CorruptedPage, "memory manager: page not tracked")
	}
	return addr, nil
}

func (m *Manager) WritePages(addrs []page.Address, opts pagemgr.Options) error {
	return nil
}

func (m *Manager) WriteRootPage(addr page.Address, opts pagemgr.Options) error {
	return nil
}

func (m *Manager) Flush() error { return nil }

func (m *Manager) ForceFlush() error { return nil }

func (m *Manager) UsesPersistentPaging() bool { return false }
