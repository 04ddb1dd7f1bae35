package batch_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nibblestore/paged/abandoned"
	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/page"
	"github.com/nibblestore/paged/pagemgr"
	"github.com/nibblestore/paged/pagemgr/memory"
)

func newWriter(t *testing.T, batchID uint32, minLive uint32) (*batch.WriteContext, pagemgr.Manager, *pagemgr.Pool, abandoned.List) {
	t.Helper()
	mgr := memory.New()
	pool := pagemgr.NewPool()
	freeListBuf := make([]byte, abandoned.ListByteSize)
	freeList := abandoned.NewList(freeListBuf)
	wc := batch.NewWriteContext(batchID, mgr, pool, map[page.Address]*page.Page{}, page.Address(10), minLive, freeList)
	return wc, mgr, pool, freeList
}

func TestGetNewPageAdvancesFrontier(t *testing.T) {
	wc, _, _, _ := newWriter(t, 1, 0)

	p1, a1, err := wc.GetNewPage(true)
	require.NoError(t, err)
	require.Equal(t, page.Address(10), a1)
	require.Equal(t, uint32(1), p1.Header().BatchID)

	_, a2, err := wc.GetNewPage(true)
	require.NoError(t, err)
	require.Equal(t, page.Address(11), a2)
}

func TestGetWritableCopyIsIdempotentWithinBatch(t *testing.T) {
	wc, _, _, _ := newWriter(t, 1, 0)
	p, _, err := wc.GetNewPage(true)
	require.NoError(t, err)

	copy1, err := wc.GetWritableCopy(p)
	require.NoError(t, err)
	require.Same(t, p, copy1, "a page already stamped with this batch id must not be copied again")
}

func TestEnsureWritableCopyCOWsAnOlderPage(t *testing.T) {
	mgr := memory.New()
	pool := pagemgr.NewPool()

	// Seed an "old" page at address 5, written by batch 1.
	oldPage, err := mgr.GetAt(page.Address(5))
	require.NoError(t, err)
	oldPage.SetHeader(page.Header{BatchID: 1, Type: page.TypeLeaf})
	oldPage.Payload()[0] = 0x42

	freeList := abandoned.NewList(make([]byte, abandoned.ListByteSize))
	wc := batch.NewWriteContext(2, mgr, pool, map[page.Address]*page.Page{5: oldPage}, page.Address(100), 0, freeList)

	addr := page.Address(5)
	writable, err := wc.EnsureWritableCopy(&addr)
	require.NoError(t, err)
	require.NotEqual(t, page.Address(5), addr, "COW must move the address forward")
	require.Equal(t, uint32(2), writable.Header().BatchID)
	require.Equal(t, byte(0x42), writable.Payload()[0], "COW must preserve the original page's bytes")

	require.True(t, wc.WasWritten(addr))
	require.False(t, wc.WasWritten(5), "the old address must not be marked written by this batch")
}

func TestPublishAbandonedIsNoopWithNothingToPublish(t *testing.T) {
	wc, _, _, freeList := newWriter(t, 1, 0)
	require.NoError(t, wc.PublishAbandoned())
	require.Equal(t, 0, freeList.EntriesCount())
}

func TestPublishAbandonedAppendsAChain(t *testing.T) {
	mgr := memory.New()
	pool := pagemgr.NewPool()
	freeListBuf := make([]byte, abandoned.ListByteSize)
	freeList := abandoned.NewList(freeListBuf)
	wc := batch.NewWriteContext(3, mgr, pool, map[page.Address]*page.Page{}, page.Address(50), 0, freeList)

	p1, _, err := wc.GetNewPage(true)
	require.NoError(t, err)
	p2, _, err := wc.GetNewPage(true)
	require.NoError(t, err)

	require.NoError(t, wc.RegisterForFutureReuse(p1, false))
	require.NoError(t, wc.RegisterForFutureReuse(p2, false))
	require.NoError(t, wc.PublishAbandoned())

	require.Equal(t, 1, freeList.EntriesCount())
	require.Equal(t, uint32(3), freeList.BatchIDAt(0))
	require.False(t, freeList.AddressAt(0).IsNull())
}

func TestTryGetPageAllocFillsNullAddress(t *testing.T) {
	wc, _, _, _ := newWriter(t, 1, 0)
	addr := page.NullAddress
	p, err := wc.TryGetPageAlloc(&addr, page.TypeLeaf)
	require.NoError(t, err)
	require.False(t, addr.IsNull())
	require.Equal(t, page.TypeLeaf, p.Header().Type)

	// second call against the now-populated address resolves, not allocates
	resolved, err := wc.TryGetPageAlloc(&addr, page.TypeLeaf)
	require.NoError(t, err)
	require.Same(t, p, resolved)
}

func TestIDCacheIsUsable(t *testing.T) {
	wc, _, _, _ := newWriter(t, 1, 0)
	c := wc.IDCache()
	require.NotNil(t, c)
	c.Add([32]byte{1}, 42)
	v, ok := c.Get([32]byte{1})
	require.True(t, ok)
	require.Equal(t, uint32(42), v)
}
