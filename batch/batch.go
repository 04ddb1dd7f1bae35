// Package batch implements the read-only and writer batch contexts from
// §4.2: page resolution against a seeded ancestor chain, copy-on-write
// allocation, and the abandoned-page reuse policy that backs
// get_new_page. Nothing here understands keys or the trie shape — that is
// the trie package, which is handed a Writer/Reader through these
// interfaces the same way the teacher's BLTree only ever talks to its
// BufMgr through page numbers, never raw file offsets.
package batch

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nibblestore/paged/abandoned"
	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/internal/gomyutil"
	"github.com/nibblestore/paged/page"
	"github.com/nibblestore/paged/pagemgr"
)

// PrefetchMode hints how eagerly a reader should warm a page before it is
// actually needed.
type PrefetchMode int

const (
	PrefetchNone PrefetchMode = iota
	PrefetchHint
)

// Reader is the read-only batch context (§4.2, first half).
type Reader interface {
	GetAt(addr page.Address) (*page.Page, error)
	Prefetch(addr page.Address, mode PrefetchMode)
	BatchID() uint32
	IDCache() *lru.Cache[[32]byte, uint32]
}

// Writer is the writer batch context (§4.2, full set).
type Writer interface {
	Reader
	GetNewPage(clear bool) (*page.Page, page.Address, error)
	GetWritableCopy(p *page.Page) (*page.Page, error)
	EnsureWritableCopy(addr *page.Address) (*page.Page, error)
	GetAddress(p *page.Page) (page.Address, error)
	RegisterForFutureReuse(p *page.Page, immediateReuseHint bool) error
	WasWritten(addr page.Address) bool
	AssignBatchID(p *page.Page)
	TryGetPageAlloc(addr *page.Address, typ page.Type) (*page.Page, error)
}

// idCacheSize bounds the read batch's id_cache (§4.2): a mapping from a
// fixed-size hash (the higher Merkle layer's node/account id) to a page
// address the local cache already resolved it to.
const idCacheSize = 1 << 16

// ReadContext is the concrete Reader: pages already visited this batch
// are memoized in pageTable (seeded, for a reader, with the ancestor
// proposal chain by chain.Head.begin); anything else is resolved through
// the page manager.
type ReadContext struct {
	batchID   uint32
	mgr       pagemgr.Manager
	pageTable map[page.Address]*page.Page
	addrOf    map[*page.Page]page.Address
	idCache   *lru.Cache[[32]byte, uint32]
}

// NewReadContext builds a reader seeded with the pages already resolved
// for this snapshot (the proposal ancestor chain); anything not in seed
// falls through to mgr.
func NewReadContext(batchID uint32, mgr pagemgr.Manager, seed map[page.Address]*page.Page) *ReadContext {
	pageTable := make(map[page.Address]*page.Page, len(seed))
	addrOf := make(map[*page.Page]page.Address, len(seed))
	for a, p := range seed {
		pageTable[a] = p
		addrOf[p] = a
	}
	cache, _ := lru.New[[32]byte, uint32](idCacheSize)
	return &ReadContext{batchID: batchID, mgr: mgr, pageTable: pageTable, addrOf: addrOf, idCache: cache}
}

func (c *ReadContext) BatchID() uint32 { return c.batchID }

// PageTable exposes every page this batch has resolved so far, keyed by
// address. Used by chain.Writer to gather a committed batch's changes and
// to return rented pages to the pool on Dispose.
func (c *ReadContext) PageTable() map[page.Address]*page.Page { return c.pageTable }

func (c *ReadContext) IDCache() *lru.Cache[[32]byte, uint32] { return c.idCache }

// Prefetch is a hint only; this in-process implementation has nothing
// asynchronous to kick off, so it is a no-op (mirrors the teacher's own
// buffer manager, which never prefetches ahead of FetchPPage either).
func (c *ReadContext) Prefetch(addr page.Address, mode PrefetchMode) {}

// GetAt resolves addr, rejecting any page whose header batch id exceeds
// this batch's own — a StaleRead, fatal to the calling operation (§4.2).
func (c *ReadContext) GetAt(addr page.Address) (*page.Page, error) {
	if p, ok := c.pageTable[addr]; ok {
		return p, nil
	}
	p, err := c.mgr.GetAt(addr)
	if err != nil {
		return nil, errs.Wrap(errs.CorruptedPage, err, "resolving page %d", addr)
	}
	h := p.Header()
	if h.BatchID > c.batchID {
		return nil, errs.New(errs.StaleRead, "page %d has batch id %d, reader is at %d", addr, h.BatchID, c.batchID)
	}
	c.pageTable[addr] = p
	c.addrOf[p] = addr
	return p, nil
}

func (c *ReadContext) track(addr page.Address, p *page.Page) {
	c.pageTable[addr] = p
	c.addrOf[p] = addr
}

// localAbandon is one page this batch has logically replaced and not yet
// published to the root's AbandonedList.
type localAbandon struct {
	addr               page.Address
	immediateReuseHint bool
}

// WriteContext is the concrete Writer. It owns the allocation frontier and
// the current root's AbandonedList for the duration of one batch.
type WriteContext struct {
	*ReadContext
	pool           *pagemgr.Pool
	nextFree       page.Address
	minLiveBatchID uint32
	freeList       abandoned.List
	localAbandoned []localAbandon
}

// NewWriteContext builds a writer seeded the same way as a reader, plus
// the mutable allocation/reuse state a writer alone needs. freeList must
// be a view into the writer's own (already copy-on-write-able) root page
// payload so mutations to it are visible when the root is re-persisted.
func NewWriteContext(batchID uint32, mgr pagemgr.Manager, pool *pagemgr.Pool, seed map[page.Address]*page.Page, nextFree page.Address, minLiveBatchID uint32, freeList abandoned.List) *WriteContext {
	return &WriteContext{
		ReadContext:    NewReadContext(batchID, mgr, seed),
		pool:           pool,
		nextFree:       nextFree,
		minLiveBatchID: minLiveBatchID,
		freeList:       freeList,
	}
}

// NextFree exposes the current allocation frontier, e.g. for the root page
// to persist it at commit.
func (c *WriteContext) NextFree() page.Address { return c.nextFree }

// GetNewPage obtains a page from the abandoned list if the reuse policy
// finds one eligible, else extends the allocation frontier (§4.2).
func (c *WriteContext) GetNewPage(clear bool) (*page.Page, page.Address, error) {
	if addr, err := c.tryReuseAddress(); err != nil {
		return nil, 0, err
	} else if !addr.IsNull() {
		p, err := c.GetAt(addr)
		if err != nil {
			return nil, 0, err
		}
		if clear {
			p.Clear()
		}
		p.SetHeader(page.Header{BatchID: c.batchID, Version: page.CurrentVersion, Type: page.TypeNone})
		return p, addr, nil
	}

	addr := c.nextFree
	if addr == 0 {
		return nil, 0, errs.New(errs.CorruptedPage, "allocation frontier must never be null")
	}
	if uint64(addr)+1 > 0xFFFF_FFFF {
		return nil, 0, errs.New(errs.OutOfAddressSpace, "allocation frontier exhausted u32 address space")
	}
	c.nextFree = addr.Next()

	p := c.pool.Rent()
	if clear {
		p.Clear()
	}
	p.SetHeader(page.Header{BatchID: c.batchID, Version: page.CurrentVersion, Type: page.TypeNone})
	c.track(addr, p)
	return p, addr, nil
}

// GetWritableCopy returns p unchanged if it already belongs to this
// batch; otherwise it allocates a fresh page, copies p's bytes, stamps the
// current batch id, registers p's address for future reuse, and returns
// the copy (§4.2). Idempotent within a batch.
func (c *WriteContext) GetWritableCopy(p *page.Page) (*page.Page, error) {
	h := p.Header()
	if h.BatchID == c.batchID {
		return p, nil
	}
	newPage, _, err := c.GetNewPage(false)
	if err != nil {
		return nil, err
	}
	p.CopyInto(newPage)
	c.AssignBatchID(newPage)
	if err := c.RegisterForFutureReuse(p, false); err != nil {
		return nil, err
	}
	return newPage, nil
}

// EnsureWritableCopy is GetWritableCopy plus updating the caller's address
// in place (§4.2).
func (c *WriteContext) EnsureWritableCopy(addr *page.Address) (*page.Page, error) {
	p, err := c.GetAt(*addr)
	if err != nil {
		return nil, err
	}
	newPage, err := c.GetWritableCopy(p)
	if err != nil {
		return nil, err
	}
	if newPage != p {
		newAddr, err := c.GetAddress(newPage)
		if err != nil {
			return nil, err
		}
		*addr = newAddr
	}
	return newPage, nil
}

// GetAddress inverts GetAt/GetNewPage for any page this batch currently
// tracks.
func (c *WriteContext) GetAddress(p *page.Page) (page.Address, error) {
	if addr, ok := c.addrOf[p]; ok {
		return addr, nil
	}
	return 0, errs.New(errs.CorruptedPage, "page not tracked by this batch")
}

// RegisterForFutureReuse appends p to the batch-local abandoned set; it is
// published to the root's AbandonedList at Commit.
func (c *WriteContext) RegisterForFutureReuse(p *page.Page, immediateReuseHint bool) error {
	addr, err := c.GetAddress(p)
	if err != nil {
		return err
	}
	c.localAbandoned = append(c.localAbandoned, localAbandon{addr: addr, immediateReuseHint: immediateReuseHint})
	return nil
}

// WasWritten reports whether the page at addr now carries the current
// batch id.
func (c *WriteContext) WasWritten(addr page.Address) bool {
	p, ok := c.pageTable[addr]
	if !ok {
		return false
	}
	return p.Header().BatchID == c.batchID
}

// AssignBatchID stamps p's header with the current batch id and version.
func (c *WriteContext) AssignBatchID(p *page.Page) {
	h := p.Header()
	h.BatchID = c.batchID
	h.Version = page.CurrentVersion
	p.SetHeader(h)
}

// TryGetPageAlloc idempotently allocates a page at *addr if it is null,
// stamping the new page's type; otherwise it just resolves *addr.
func (c *WriteContext) TryGetPageAlloc(addr *page.Address, typ page.Type) (*page.Page, error) {
	if addr.IsNull() {
		p, newAddr, err := c.GetNewPage(true)
		if err != nil {
			return nil, err
		}
		h := p.Header()
		h.Type = typ
		p.SetHeader(h)
		*addr = newAddr
		return p, nil
	}
	return c.GetAt(*addr)
}

// tryReuseAddress implements the §4.6 try_get reuse policy directly
// against this writer's copy-on-write machinery, since popping an address
// may itself require copy-on-writing the abandoned-list frame currently
// being drained.
func (c *WriteContext) tryReuseAddress() (page.Address, error) {
	for {
		fl := c.freeList
		if fl.Current().IsNull() {
			if fl.EntriesCount() == 0 {
				return page.NullAddress, nil
			}
			if c.minLiveBatchID > 2 && fl.BatchIDAt(0) < c.minLiveBatchID {
				fl.SetCurrent(fl.AddressAt(0))
				fl.RemoveAt(0)
			} else {
				return page.NullAddress, nil
			}
		}

		curAddr := fl.Current()
		curPage, err := c.GetAt(curAddr)
		if err != nil {
			return 0, err
		}

		if curPage.Header().BatchID < c.batchID {
			// Copy the frame onto a page taken from the frontier: going
			// through GetNewPage here would re-enter this loop while
			// Current still names the old frame.
			newAddr := c.nextFree
			c.nextFree = newAddr.Next()
			writable := c.pool.Rent()
			curPage.CopyInto(writable)
			c.AssignBatchID(writable)
			c.track(newAddr, writable)
			if err := c.RegisterForFutureReuse(curPage, false); err != nil {
				return 0, err
			}
			curAddr = newAddr
			fl.SetCurrent(curAddr)
			curPage = writable
		}

		ap := abandoned.Wrap(curPage)
		popped, ok := ap.TryPop()
		if !ok {
			next := ap.Next()
			if err := c.RegisterForFutureReuse(curPage, true); err != nil {
				return 0, err
			}
			fl.SetCurrent(next)
			continue
		}
		return popped, nil
	}
}

// flattenChain pops every address out of the chain rooted at head,
// leaving each visited frame page tombstoned for reuse (the chain as a
// whole is being replaced by the caller).
func (c *WriteContext) flattenChain(head page.Address) ([]page.Address, error) {
	var out []page.Address
	addr := head
	for !addr.IsNull() {
		p, err := c.GetAt(addr)
		if err != nil {
			return nil, err
		}
		ap := abandoned.Wrap(p)
		for {
			a, ok := ap.TryPop()
			if !ok {
				break
			}
			out = append(out, a)
		}
		next := ap.Next()
		if err := c.RegisterForFutureReuse(p, true); err != nil {
			return nil, err
		}
		addr = next
	}
	return out, nil
}

// PublishAbandoned builds a packed chain from every page this batch has
// replaced and stores it in the root's AbandonedList: at the first free
// slot, or merged into the slot with the highest batch id if the table is
// full (§4.6 register).
func (c *WriteContext) PublishAbandoned() error {
	if len(c.localAbandoned) == 0 {
		return nil
	}
	addrs := make([]page.Address, len(c.localAbandoned))
	for i, la := range c.localAbandoned {
		addrs[i] = la.addr
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	allocator := func() (*page.Page, page.Address) {
		// allocation failure during commit is fatal per §4.2/§7; gomyutil
		// panicking here instead of threading another error return keeps
		// the abandoned.CreateChain callback signature simple.
		p, addr := gomyutil.MustPage2(c.GetNewPage(true))
		h := p.Header()
		h.Type = page.TypeAbandoned
		p.SetHeader(h)
		c.AssignBatchID(p)
		return p, addr
	}

	headAddr := abandoned.CreateChain(addrs, allocator)

	fl := c.freeList
	if fl.Append(c.batchID, headAddr) {
		c.localAbandoned = nil
		return nil
	}

	// Table full: merge the new chain into the slot with the highest
	// batch id. flattenChain also tombstones that slot's own frame pages
	// via RegisterForFutureReuse, but that happens after addrs was
	// already sorted above, so those frames ride along in the *next*
	// commit's publish rather than this one. Harmless: they still sit
	// below minLiveBatchID by the time anyone could reuse them.
	slot := fl.HighestBatchIDSlot()
	existing, err := c.flattenChain(fl.AddressAt(slot))
	if err != nil {
		return err
	}
	merged := append(existing, addrs...)
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	newHead := abandoned.CreateChain(merged, allocator)
	fl.SetAddressAt(slot, newHead)
	fl.SetBatchIDAt(slot, c.batchID)
	c.localAbandoned = nil
	return nil
}
