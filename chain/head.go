package chain

import (
	"go.uber.org/zap"

	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/internal/nibble"
	"github.com/nibblestore/paged/page"
	"github.com/nibblestore/paged/pagemgr"
	"github.com/nibblestore/paged/trie"
)

// Head is the caller-facing entry point §4.7 describes as "a head at a
// state hash" without naming: it turns a Chain snapshot into a ready
// Reader or Writer, and turns a Writer's finished work back into a
// proposal on the Chain.
type Head struct {
	chain  *Chain
	mgr    pagemgr.Manager
	pool   *pagemgr.Pool
	logger *zap.Logger
}

func NewHead(c *Chain, mgr pagemgr.Manager, pool *pagemgr.Pool, logger *zap.Logger) *Head {
	return &Head{chain: c, mgr: mgr, pool: pool, logger: logger}
}

// BeginRead opens a read-only snapshot at stateHash. The returned release
// func must be called exactly once when the caller is done, so the chain
// can flush the snapshot's proposal once no reader still pins it.
func (h *Head) BeginRead(stateHash [32]byte) (*batch.ReadContext, func(), error) {
	seed, err := h.chain.Begin(stateHash)
	if err != nil {
		return nil, nil, err
	}
	h.chain.AcquireReader(stateHash)
	rc := batch.NewReadContext(seed.BatchID, h.mgr, seed.Pages)
	release := func() { h.chain.ReleaseReader(stateHash) }
	return rc, release, nil
}

// Writer is a single batch of mutations building toward one commit (§4.7).
// A Writer is single-use: Commit or Dispose ends its life.
type Writer struct {
	head       *Head
	wc         *batch.WriteContext
	root       *page.Page
	rootView   RootPage
	parentHash [32]byte
	disposed   bool
}

// BeginWrite opens a writer batch on top of stateHash. The root is always
// copy-on-written eagerly: almost every write touches next_free_page, so
// deferring the root's own COW buys nothing and would force every trie
// operation to special-case address 1.
func (h *Head) BeginWrite(stateHash [32]byte) (*Writer, error) {
	seed, err := h.chain.Begin(stateHash)
	if err != nil {
		return nil, err
	}

	var ancestorRoot *page.Page
	if p, ok := seed.Pages[Address]; ok {
		ancestorRoot = p
	} else {
		p, err := h.mgr.GetAt(Address)
		if err != nil {
			return nil, err
		}
		ancestorRoot = p
	}

	newBatchID := h.chain.NextBatchID()
	root := h.pool.Rent()
	ancestorRoot.CopyInto(root)
	rh := root.Header()
	rh.BatchID = newBatchID
	rh.Version = page.CurrentVersion
	rh.Type = page.TypeRoot
	root.SetHeader(rh)

	rv := WrapRootPage(root)

	seedPages := make(map[page.Address]*page.Page, len(seed.Pages))
	for addr, p := range seed.Pages {
		if addr == Address {
			continue
		}
		seedPages[addr] = p
	}

	wc := batch.NewWriteContext(newBatchID, h.mgr, h.pool, seedPages, rv.NextFreePage(), h.chain.MinLiveBatchID(), rv.AbandonedList())

	return &Writer{
		head:       h,
		wc:         wc,
		root:       root,
		rootView:   rv,
		parentHash: stateHash,
	}, nil
}

// BatchID is the batch id this writer's pages are stamped with.
func (wr *Writer) BatchID() uint32 { return wr.wc.BatchID() }

// accountSlot resolves the top-level 16-way fan-out slot a key routes
// through (§4.7), returning the remaining path below it.
func (wr *Writer) accountSlot(key nibble.Path) (int, nibble.Path, error) {
	if key.IsEmpty() {
		return 0, key, errs.New(errs.InvalidArgument, "key must have at least one nibble to select an account slot")
	}
	return int(key.FirstNibble()), key.SliceFrom(1), nil
}

// AccountGet resolves key against r's view of the root's 16-way account
// fan-out. Shared by Writer.Get and any plain Reader (e.g. paged.Database's
// read-only handle), which has no in-memory root object of its own and
// must resolve chain.Address through r like any other page.
func AccountGet(r batch.Reader, key nibble.Path) ([]byte, bool, error) {
	if key.IsEmpty() {
		return nil, false, errs.New(errs.InvalidArgument, "key must have at least one nibble to select an account slot")
	}
	rootPage, err := r.GetAt(Address)
	if err != nil {
		return nil, false, err
	}
	rv := WrapRootPage(rootPage)
	slot := int(key.FirstNibble())
	child := rv.AccountPages().Get(slot)
	if child.IsNull() {
		return nil, false, nil
	}
	return trie.TryGetAt(r, child, key.SliceFrom(1))
}

// ensureAccountRoot returns child unchanged if it already addresses a
// page, otherwise allocates a fresh StateRootPage for an empty account
// slot. A slot's first page is always the purpose-built StateRootPage
// rather than whatever type the first key's length happens to promote
// to, matching §4.5/§4.7's description of account_pages as anchored by
// StateRootPage for its entire life.
func (wr *Writer) ensureAccountRoot(child page.Address) (page.Address, error) {
	if !child.IsNull() {
		return child, nil
	}
	p, addr, err := wr.wc.GetNewPage(true)
	if err != nil {
		return page.NullAddress, err
	}
	h := p.Header()
	h.Type = page.TypeStateRoot
	p.SetHeader(h)
	trie.InitStateRootPage(p)
	return addr, nil
}

// Set writes data at key, or deletes it when data is empty.
func (wr *Writer) Set(key nibble.Path, data []byte) error {
	slot, rest, err := wr.accountSlot(key)
	if err != nil {
		return err
	}
	child := wr.rootView.AccountPages().Get(slot)
	if len(data) == 0 && child.IsNull() {
		return nil
	}
	if len(data) != 0 {
		child, err = wr.ensureAccountRoot(child)
		if err != nil {
			return err
		}
	}
	if err := trie.SetAt(wr.wc, &child, rest, data); err != nil {
		return err
	}
	wr.rootView.AccountPages().Set(slot, child)
	return nil
}

// Get reads a key as of this writer's own in-flight snapshot. It reads
// the writer's private, already copy-on-written root directly rather than
// going through AccountGet, since wr.wc never resolves chain.Address
// itself (that address is reserved for the on-disk root; see root.go).
func (wr *Writer) Get(key nibble.Path) ([]byte, bool, error) {
	slot, rest, err := wr.accountSlot(key)
	if err != nil {
		return nil, false, err
	}
	child := wr.rootView.AccountPages().Get(slot)
	if child.IsNull() {
		return nil, false, nil
	}
	return trie.TryGetAt(wr.wc, child, rest)
}

// DeleteByPrefix removes every key under prefix. An empty prefix clears
// every account slot.
func (wr *Writer) DeleteByPrefix(prefix nibble.Path) error {
	if prefix.IsEmpty() {
		accounts := wr.rootView.AccountPages()
		for slot := 0; slot < accounts.Len(); slot++ {
			addr := accounts.Get(slot)
			if addr.IsNull() {
				continue
			}
			if err := trie.Reclaim(wr.wc, addr); err != nil {
				return err
			}
			accounts.Set(slot, page.NullAddress)
		}
		return nil
	}
	slot, rest, err := wr.accountSlot(prefix)
	if err != nil {
		return err
	}
	child := wr.rootView.AccountPages().Get(slot)
	if child.IsNull() {
		return nil
	}
	if err := trie.DeleteByPrefixAt(wr.wc, &child, rest); err != nil {
		return err
	}
	wr.rootView.AccountPages().Set(slot, child)
	return nil
}

// Commit publishes this batch's abandoned pages, files it as a proposal on
// the chain under newStateHash (computed by the caller's own hashing
// layer, out of this engine's scope per §1) and stamps blockNumber into
// the new root. The Writer is spent afterward; BeginWrite again to keep
// writing from the new state hash.
func (wr *Writer) Commit(blockNumber uint32, newStateHash [32]byte) ([32]byte, error) {
	if wr.disposed {
		return [32]byte{}, errs.New(errs.InvalidArgument, "writer already committed or disposed")
	}

	if err := wr.wc.PublishAbandoned(); err != nil {
		return [32]byte{}, err
	}

	wr.rootView.SetNextFreePage(wr.wc.NextFree())
	wr.rootView.SetBlockNumber(blockNumber)
	wr.rootView.SetStateHash(newStateHash)

	changes := make(map[page.Address]*page.Page)
	for addr, p := range wr.wc.PageTable() {
		if wr.wc.WasWritten(addr) {
			changes[addr] = p
		}
	}

	if _, err := wr.head.chain.Propose(wr.wc.BatchID(), newStateHash, wr.parentHash, changes, wr.root); err != nil {
		return [32]byte{}, err
	}
	wr.disposed = true
	return newStateHash, nil
}

// Dispose abandons this writer's in-flight work, returning its rented
// pages to the pool without ever proposing them to the chain.
func (wr *Writer) Dispose() {
	if wr.disposed {
		return
	}
	for addr, p := range wr.wc.PageTable() {
		if wr.wc.WasWritten(addr) {
			wr.head.pool.Return(p)
		}
	}
	wr.head.pool.Return(wr.root)
	wr.disposed = true
}
