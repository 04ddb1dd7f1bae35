package abandoned

import (
	"encoding/binary"

	"github.com/nibblestore/paged/page"
)

// MaxListEntries bounds the root-embedded AbandonedList's two parallel
// arrays. Chosen to comfortably fit the root payload alongside
// next_free_page, the 16-wide account fan-out and the 36-byte metadata
// block (§4.7).
const MaxListEntries = 480

// listHeaderSize is current:u32 | entries_count:u32.
const listHeaderSize = 8

// ListByteSize is the number of payload bytes a List occupies.
const ListByteSize = listHeaderSize + MaxListEntries*4 /*batch ids*/ + MaxListEntries*4 /*addresses*/

// List is the root-embedded table indexing published abandoned-page
// chains by the batch id that abandoned them (§4.6). current walks the
// chain presently being drained; entries beyond it are whole, unopened
// chains keyed by batch id.
type List struct {
	buf []byte
}

// NewList wraps buf, which must be at least ListByteSize bytes.
func NewList(buf []byte) List { return List{buf: buf} }

func (l List) Current() page.Address {
	return page.Address(binary.LittleEndian.Uint32(l.buf[0:4]))
}

func (l List) SetCurrent(a page.Address) {
	binary.LittleEndian.PutUint32(l.buf[0:4], uint32(a))
}

func (l List) EntriesCount() int {
	return int(binary.LittleEndian.Uint32(l.buf[4:8]))
}

func (l List) setEntriesCount(n int) {
	binary.LittleEndian.PutUint32(l.buf[4:8], uint32(n))
}

func (l List) batchIDsBase() int   { return listHeaderSize }
func (l List) addressesBase() int { return listHeaderSize + MaxListEntries*4 }

func (l List) BatchIDAt(i int) uint32 {
	off := l.batchIDsBase() + i*4
	return binary.LittleEndian.Uint32(l.buf[off : off+4])
}

func (l List) setBatchIDAt(i int, v uint32) {
	off := l.batchIDsBase() + i*4
	binary.LittleEndian.PutUint32(l.buf[off:off+4], v)
}

func (l List) AddressAt(i int) page.Address {
	off := l.addressesBase() + i*4
	return page.Address(binary.LittleEndian.Uint32(l.buf[off : off+4]))
}

func (l List) setAddressAt(i int, a page.Address) {
	off := l.addressesBase() + i*4
	binary.LittleEndian.PutUint32(l.buf[off:off+4], uint32(a))
}

// RemoveAt compacts entry i out of both parallel arrays, preserving
// relative order of the remaining entries.
func (l List) RemoveAt(i int) {
	n := l.EntriesCount()
	for j := i; j < n-1; j++ {
		l.setBatchIDAt(j, l.BatchIDAt(j+1))
		l.setAddressAt(j, l.AddressAt(j+1))
	}
	l.setEntriesCount(n - 1)
}

// Append adds a new (batchID, addr) entry, returning false if the table is
// full.
func (l List) Append(batchID uint32, addr page.Address) bool {
	n := l.EntriesCount()
	if n >= MaxListEntries {
		return false
	}
	l.setBatchIDAt(n, batchID)
	l.setAddressAt(n, addr)
	l.setEntriesCount(n + 1)
	return true
}

// HighestBatchIDSlot returns the index of the entry with the largest batch
// id, used when Register must attach to an existing chain because the
// table is full.
func (l List) HighestBatchIDSlot() int {
	n := l.EntriesCount()
	best := 0
	for i := 1; i < n; i++ {
		if l.BatchIDAt(i) > l.BatchIDAt(best) {
			best = i
		}
	}
	return best
}

func (l List) SetBatchIDAt(i int, v uint32) { l.setBatchIDAt(i, v) }

func (l List) SetAddressAt(i int, a page.Address) { l.setAddressAt(i, a) }
