// Package paged is the top-level façade over the paged copy-on-write
// storage engine: Open wires a page manager, a shared page pool and a
// commit chain together, and hands back a Database exposing the
// begin/commit lifecycle described in §4.7.
package paged

import (
	"go.uber.org/zap"

	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/chain"
	"github.com/nibblestore/paged/internal/nibble"
	"github.com/nibblestore/paged/page"
	"github.com/nibblestore/paged/pagemgr"
	"github.com/nibblestore/paged/pagemgr/filebacked"
	"github.com/nibblestore/paged/pagemgr/memory"
)

// Options configures a Database at Open time.
type Options struct {
	// Path, when non-empty, opens a durable filebacked.Manager at this
	// location. Empty selects the throwaway in-memory backend, used by
	// tests and by callers that only need a scratch snapshot.
	Path string
	// Compress mirrors filebacked.Open's compress flag: maintain a
	// zstd-compressed snapshot sidecar on every ForceFlush.
	Compress bool
	// MaxProposedDepth bounds how many unflushed proposals the chain
	// keeps before flushing the oldest one to disk (§4.7's
	// schedule_flush, resolved as FIFO).
	MaxProposedDepth int
	// Logger receives structured diagnostics from the commit chain. A
	// no-op logger is used when nil.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxProposedDepth <= 0 {
		o.MaxProposedDepth = 16
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Database owns the page manager, the shared rent/return pool and the
// commit chain for one store.
type Database struct {
	mgr  pagemgr.Manager
	pool *pagemgr.Pool
	head *chain.Head
	opts Options
}

// Open creates or reopens a store under opts. A fresh store gets an
// initialized root page at chain.Address with an empty zero state hash.
func Open(opts Options) (*Database, error) {
	opts = opts.withDefaults()

	var mgr pagemgr.Manager
	if opts.Path != "" {
		m, err := filebacked.Open(opts.Path, opts.Compress)
		if err != nil {
			return nil, err
		}
		mgr = m
	} else {
		mgr = memory.New()
	}

	pool := pagemgr.NewPool()

	var committedStateHash [32]byte
	nextBatchID := uint32(1)

	root, err := mgr.GetAt(chain.Address)
	if err != nil {
		return nil, err
	}
	if root.Header().Type != page.TypeRoot {
		rh := root.Header()
		rh.BatchID = 0
		rh.Version = page.CurrentVersion
		rh.Type = page.TypeRoot
		root.SetHeader(rh)
		chain.InitRootPage(root, chain.Address.Next())
		if err := mgr.WritePages([]page.Address{chain.Address}, pagemgr.None); err != nil {
			return nil, err
		}
		if err := mgr.WriteRootPage(chain.Address, pagemgr.FlushDataAndRoot); err != nil {
			return nil, err
		}
	} else {
		rv := chain.WrapRootPage(root)
		committedStateHash = rv.StateHash()
		nextBatchID = root.Header().BatchID + 1
	}

	c := chain.New(mgr, pool, opts.Logger, opts.MaxProposedDepth, committedStateHash, nextBatchID)
	head := chain.NewHead(c, mgr, pool, opts.Logger)

	return &Database{mgr: mgr, pool: pool, head: head, opts: opts}, nil
}

// BeginWrite opens a writer batch rooted at stateHash (the zero hash
// names the freshly initialized, still-empty store).
func (db *Database) BeginWrite(stateHash [32]byte) (*chain.Writer, error) {
	return db.head.BeginWrite(stateHash)
}

// BeginRead opens a read-only snapshot at stateHash. The caller must
// Close the returned ReaderHandle exactly once when finished.
func (db *Database) BeginRead(stateHash [32]byte) (reader *ReaderHandle, err error) {
	rc, release, err := db.head.BeginRead(stateHash)
	if err != nil {
		return nil, err
	}
	return &ReaderHandle{rc: rc, release: release}, nil
}

// Close flushes and releases the underlying page manager. The pool and
// in-memory proposal chain have nothing further to release.
func (db *Database) Close() error {
	if err := db.mgr.ForceFlush(); err != nil {
		return err
	}
	if closer, ok := db.mgr.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// MustPool exposes the database's shared pool for callers building their
// own page-level tooling (e.g. the report/accept visitor hooks) without
// duplicating pool wiring.
func (db *Database) MustPool() *pagemgr.Pool { return db.pool }

// ReaderHandle is a read-only snapshot opened through Database.BeginRead.
type ReaderHandle struct {
	rc      *batch.ReadContext
	release func()
}

// Get reads key as of this handle's pinned snapshot.
func (r *ReaderHandle) Get(key []byte) ([]byte, bool, error) {
	return chain.AccountGet(r.rc, nibble.FromKey(key))
}

// Close releases this snapshot's pin on the commit chain. Must be called
// exactly once.
func (r *ReaderHandle) Close() { r.release() }
