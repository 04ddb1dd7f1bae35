package chain

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/page"
	"github.com/nibblestore/paged/pagemgr"
)

// ProposedBatch is a committed-but-not-yet-flushed snapshot kept in memory
// (§4.7): the pages it copy-on-wrote, its own private root object, and the
// hash of the snapshot it was built on.
type ProposedBatch struct {
	id         uuid.UUID
	batchID    uint32
	stateHash  [32]byte
	parentHash [32]byte
	changes    map[page.Address]*page.Page
	root       *page.Page
}

// Chain is the in-memory, multi-headed commit chain: proposed batches
// indexed by state hash and by an opaque proposal id (a UUID), not by
// batch id, coexisting with the on-disk root at chain.Address (§4.7).
type Chain struct {
	mu     sync.Mutex
	mgr    pagemgr.Manager
	pool   *pagemgr.Pool
	logger *zap.Logger

	maxProposedDepth int

	committedStateHash [32]byte
	nextBatchID        uint32
	minLiveBatchID     uint32

	byID   map[uuid.UUID]*ProposedBatch
	byHash map[[32]byte]*ProposedBatch
	order  []uuid.UUID // FIFO: oldest unflushed proposal first
	refs   map[uuid.UUID]int
}

// New builds a chain anchored at the given committed root state, with the
// next batch id to hand out and the flush-depth bound from Options.
func New(mgr pagemgr.Manager, pool *pagemgr.Pool, logger *zap.Logger, maxProposedDepth int, committedStateHash [32]byte, nextBatchID uint32) *Chain {
	return &Chain{
		mgr:                mgr,
		pool:               pool,
		logger:             logger,
		maxProposedDepth:   maxProposedDepth,
		committedStateHash: committedStateHash,
		nextBatchID:        nextBatchID,
		minLiveBatchID:     nextBatchID,
		byID:               make(map[uuid.UUID]*ProposedBatch),
		byHash:              make(map[[32]byte]*ProposedBatch),
		refs:               make(map[uuid.UUID]int),
	}
}

// Seed is what begin(hash) hands back to the caller: the batch id to read
// or write at, and a page table pre-populated with every page the ancestor
// chain has copy-on-written (nearest proposal wins), including a private
// root object if the snapshot isn't the on-disk one.
type Seed struct {
	BatchID uint32
	Pages   map[page.Address]*page.Page
}

// Begin walks the proposal chain from stateHash back to the committed
// root, returning a Seed for a reader or writer to start from.
func (c *Chain) Begin(stateHash [32]byte) (Seed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stateHash == c.committedStateHash {
		return Seed{BatchID: c.committedBatchIDLocked(), Pages: map[page.Address]*page.Page{}}, nil
	}

	pages := make(map[page.Address]*page.Page)
	cur, ok := c.byHash[stateHash]
	if !ok {
		return Seed{}, errs.New(errs.SnapshotNotFound, "no proposal or committed root at the given state hash")
	}
	batchID := cur.batchID
	for {
		if _, exists := pages[Address]; !exists {
			pages[Address] = cur.root
		}
		for addr, p := range cur.changes {
			if _, exists := pages[addr]; !exists {
				pages[addr] = p
			}
		}
		if cur.parentHash == c.committedStateHash {
			break
		}
		next, ok := c.byHash[cur.parentHash]
		if !ok {
			return Seed{}, errs.New(errs.CorruptedPage, "proposal chain broken: parent hash not found")
		}
		cur = next
	}
	return Seed{BatchID: batchID, Pages: pages}, nil
}

func (c *Chain) committedBatchIDLocked() uint32 {
	p, err := c.mgr.GetAt(Address)
	if err != nil {
		return c.nextBatchID
	}
	return p.Header().BatchID
}

// NextBatchID reserves and returns the next batch id a new writer should
// stamp its pages with.
func (c *Chain) NextBatchID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextBatchID
	c.nextBatchID++
	return id
}

// MinLiveBatchID is the floor below which abandoned pages become eligible
// for reuse: the oldest batch id any live reader (proposal still held, or
// the committed root) might still observe.
func (c *Chain) MinLiveBatchID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minLiveBatchID
}

// Propose registers a freshly committed batch, returning the proposal id
// it was filed under. It does not report the minimum live batch id or the
// last committed batch id.
func (c *Chain) Propose(batchID uint32, stateHash, parentHash [32]byte, changes map[page.Address]*page.Page, root *page.Page) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := uuid.New()
	pb := &ProposedBatch{
		id:         id,
		batchID:    batchID,
		stateHash:  stateHash,
		parentHash: parentHash,
		changes:    changes,
		root:       root,
	}
	c.byID[id] = pb
	c.byHash[stateHash] = pb
	c.order = append(c.order, id)

	if c.logger != nil {
		c.logger.Debug("proposed batch",
			zap.String("id", id.String()),
			zap.Uint32("batch_id", batchID),
			zap.Int("depth", len(c.order)))
	}

	if err := c.scheduleFlushLocked(); err != nil {
		return id, err
	}
	return id, nil
}

// AcquireReader pins a proposal so a flush cannot evict it while a reader
// holds a reference; ReleaseReader undoes that.
func (c *Chain) AcquireReader(stateHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pb, ok := c.byHash[stateHash]; ok {
		c.refs[pb.id]++
	}
}

func (c *Chain) ReleaseReader(stateHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pb, ok := c.byHash[stateHash]; ok {
		c.refs[pb.id]--
		if c.refs[pb.id] <= 0 {
			delete(c.refs, pb.id)
		}
	}
}

// scheduleFlushLocked implements the FIFO flush-scheduling policy chosen
// to resolve §9's stubbed schedule_flush: once the proposed chain runs
// deeper than maxProposedDepth, the oldest unflushed proposal is applied
// to the page manager and the on-disk root is swung to match it. Must be
// called with c.mu held.
func (c *Chain) scheduleFlushLocked() error {
	for len(c.order) > c.maxProposedDepth {
		oldestID := c.order[0]
		pb := c.byID[oldestID]
		if c.refs[oldestID] > 0 {
			// a live reader still references the oldest proposal; flushing
			// would be safe (flush doesn't evict the proposal's page table,
			// only persists it) but we skip ahead and retry next Propose
			// rather than block here, since there is nothing else blocking.
			break
		}
		if err := c.flushLocked(pb); err != nil {
			return err
		}
		c.order = c.order[1:]
		delete(c.byID, oldestID)
		if c.byHash[pb.stateHash] == pb {
			delete(c.byHash, pb.stateHash)
		}
		c.committedStateHash = pb.stateHash
		if pb.batchID >= c.minLiveBatchID {
			c.minLiveBatchID = pb.batchID
		}
	}
	return nil
}

// flushLocked applies one proposal's changes to the page manager and
// swings the on-disk root to its root page, honoring the §6 durability
// order: data pages fsync before the root page does.
func (c *Chain) flushLocked(pb *ProposedBatch) error {
	addrs := make([]page.Address, 0, len(pb.changes))
	for addr, p := range pb.changes {
		dst, err := c.mgr.GetAtForWriting(addr, false)
		if err != nil {
			return err
		}
		p.CopyInto(dst)
		addrs = append(addrs, addr)
	}
	if err := c.mgr.WritePages(addrs, pagemgr.FlushDataOnly); err != nil {
		return err
	}
	rootCopy, err := c.mgr.GetAtForWriting(Address, false)
	if err != nil {
		return err
	}
	pb.root.CopyInto(rootCopy)
	if err := c.mgr.WriteRootPage(Address, pagemgr.FlushDataAndRoot); err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Info("flushed proposal to disk",
			zap.String("id", pb.id.String()),
			zap.Uint32("batch_id", pb.batchID),
			zap.Int("pages", len(addrs)))
	}
	return nil
}
