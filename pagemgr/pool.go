package pagemgr

import (
	"sync"

	"github.com/nibblestore/paged/page"
)

// Pool is the shared rent/return buffer pool described in §5: a writer
// owns a rented page exclusively until Commit transfers it to a proposal
// or Dispose returns it to the pool.
type Pool struct {
	mu   sync.Mutex
	free [][]byte
}

// NewPool constructs an empty pool; buffers are allocated lazily.
func NewPool() *Pool {
	return &Pool{}
}

// Rent returns a zeroed page-sized buffer wrapped as a Page.
func (p *Pool) Rent() *page.Page {
	p.mu.Lock()
	n := len(p.free)
	var raw []byte
	if n > 0 {
		raw = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.mu.Unlock()

	if raw == nil {
		raw = make([]byte, page.Size)
	} else {
		for i := range raw {
			raw[i] = 0
		}
	}
	return page.Wrap(raw)
}

// Return releases pg's backing buffer for reuse. Callers must not touch pg
// again afterward.
func (p *Pool) Return(pg *page.Page) {
	if pg == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, pg.Raw())
	p.mu.Unlock()
}
