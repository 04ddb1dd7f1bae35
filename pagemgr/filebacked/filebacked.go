// Package filebacked is the durable pagemgr.Manager: a flat file of
// page.Size-aligned frames, opened O_DIRECT via github.com/ncw/directio so
// page-sized reads/writes bypass the OS page cache (the engine already did
// the caching itself, at the proposed-batch level — see chain.Chain). An
// advisory github.com/gofrs/flock lock keeps two processes from opening
// the same store. When opened with compress set, ForceFlush also writes a zstd-compressed
// snapshot sidecar via github.com/klauspost/compress, so operators get a
// compact point-in-time copy without the primary file paying a
// decompress-on-every-read cost.
package filebacked

import (
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
	"github.com/ncw/directio"

	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/page"
	"github.com/nibblestore/paged/pagemgr"
)

// Manager is the durable, file-backed page manager.
type Manager struct {
	mu       sync.Mutex
	path     string
	fh       *os.File
	lock     *flock.Flock
	compress bool
	addrs    map[*page.Page]page.Address
	byAddr   map[page.Address]*page.Page
	dataDirty map[page.Address]bool
}

// Open opens (creating if needed) a page file at path. When compress is
// true, ForceFlush also maintains a "<path>.snapshot.zst" archival copy.
func Open(path string, compress bool) (*Manager, error) {
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.CorruptedPage, err, "filebacked: acquiring lock for %s", path)
	}
	if !ok {
		return nil, errs.New(errs.CorruptedPage, "filebacked: %s is already open by another process", path)
	}

	fh, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = lk.Unlock()
		return nil, errs.Wrap(errs.CorruptedPage, err, "filebacked: opening %s", path)
	}

	return &Manager{
		path:      path,
		fh:        fh,
		lock:      lk,
		compress:  compress,
		addrs:     make(map[*page.Page]page.Address),
		byAddr:    make(map[page.Address]*page.Page),
		dataDirty: make(map[page.Address]bool),
	}, nil
}

func (m *Manager) Close() error {
	err := m.fh.Close()
	_ = m.lock.Unlock()
	return err
}

func (m *Manager) readFrame(addr page.Address) (*page.Page, error) {
	block := directio.AlignedBlock(page.Size)
	n, err := m.fh.ReadAt(block, int64(addr.Offset()))
	if err != nil && n != page.Size {
		// a page beyond EOF reads as all-zero, matching a freshly
		// extended but not-yet-written frame.
		for i := range block {
			block[i] = 0
		}
	}
	p := page.Wrap(block)
	m.addrs[p] = addr
	m.byAddr[addr] = p
	return p, nil
}

func (m *Manager) GetAt(addr page.Address) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readFrame(addr)
}

func (m *Manager) GetAtForWriting(addr page.Address, reused bool) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reused {
		// a page coming off the abandoned list must have its prior
		// durable contents fenced before we hand out a fresh writable
		// mapping, so a crash mid-write can't resurrect stale data
		// under a new address's expected header.
		if err := m.fh.Sync(); err != nil {
			return nil, errs.Wrap(errs.CorruptedPage, err, "filebacked: fencing reused page %d", addr)
		}
	}
	return m.readFrame(addr)
}

func (m *Manager) GetAddress(p *page.Page) (page.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.addrs[p]
	if !ok {
		return 0, errs.New(errs.CorruptedPage, "filebacked: page not tracked by this manager")
	}
	return addr, nil
}

func (m *Manager) writeOne(addr page.Address) error {
	pg, ok := m.byAddr[addr]
	if !ok {
		return errs.New(errs.CorruptedPage, "filebacked: write requested for unmapped page %d", addr)
	}
	block := directio.AlignedBlock(page.Size)
	copy(block, pg.Raw())
	if _, err := m.fh.WriteAt(block, int64(addr.Offset())); err != nil {
		return errs.Wrap(errs.CorruptedPage, err, "filebacked: writing page %d", addr)
	}
	m.dataDirty[addr] = true
	return nil
}

func (m *Manager) WritePages(addrs []page.Address, opts pagemgr.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range addrs {
		if err := m.writeOne(a); err != nil {
			return err
		}
	}
	if opts == pagemgr.FlushDataOnly || opts == pagemgr.FlushDataAndRoot {
		if err := m.fh.Sync(); err != nil {
			return errs.Wrap(errs.CorruptedPage, err, "filebacked: fsync after data write")
		}
	}
	return nil
}

func (m *Manager) WriteRootPage(addr page.Address, opts pagemgr.Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeOne(addr); err != nil {
		return err
	}
	if opts == pagemgr.FlushDataAndRoot {
		if err := m.fh.Sync(); err != nil {
			return errs.Wrap(errs.CorruptedPage, err, "filebacked: fsync after root write")
		}
	}
	return nil
}

func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fh.Sync()
}

func (m *Manager) ForceFlush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fh.Sync(); err != nil {
		return errs.Wrap(errs.CorruptedPage, err, "filebacked: force flush fsync")
	}
	if !m.compress {
		return nil
	}
	return m.writeSnapshot()
}

// writeSnapshot copies the entire current file into a zstd-compressed
// sidecar. Best-effort archival only; the primary file is always the
// source of truth.
func (m *Manager) writeSnapshot() error {
	src, err := os.Open(m.path)
	if err != nil {
		return errs.Wrap(errs.CorruptedPage, err, "filebacked: opening %s for snapshot", m.path)
	}
	defer src.Close()

	dst, err := os.Create(fmt.Sprintf("%s.snapshot.zst", m.path))
	if err != nil {
		return errs.Wrap(errs.CorruptedPage, err, "filebacked: creating snapshot sidecar")
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		return errs.Wrap(errs.CorruptedPage, err, "filebacked: creating zstd encoder")
	}
	defer enc.Close()

	buf := make([]byte, 1<<20)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := enc.Write(buf[:n]); werr != nil {
				return errs.Wrap(errs.CorruptedPage, werr, "filebacked: writing snapshot")
			}
		}
		if rerr != nil {
			break
		}
	}
	return nil
}

func (m *Manager) UsesPersistentPaging() bool { return true }
