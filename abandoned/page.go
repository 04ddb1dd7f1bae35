// Package abandoned implements the on-disk byte layout of free-list pages
// and the fixed-size root-embedded list that indexes them (§4.6). It is
// deliberately pure data layout: packing/unpacking slots and reading the
// root's parallel arrays. The reuse *policy* (§4.6 try_get/register, which
// needs to resolve and copy-on-write pages) lives in the batch package,
// since it has to call back into a BatchContext.
package abandoned

import (
	"encoding/binary"

	"github.com/nibblestore/paged/page"
)

// packedBit marks a slot as "the next address (addr+1) is here too",
// letting a pair of consecutive addresses share one slot.
const packedBit uint32 = 0x8000_0000

const countOffset = 0
const nextOffset = 4
const slotsOffset = 8

// MaxCount is how many (possibly packed) address slots fit in one
// AbandonedPage's payload alongside its count and next fields.
const MaxCount = (page.PayloadSize - slotsOffset) / 4

// Page is a view over a page.Page whose header type is page.TypeAbandoned.
type Page struct {
	p       *page.Page
	payload []byte
}

// Wrap adapts p (already typed/allocated as TypeAbandoned) into a Page
// view.
func Wrap(p *page.Page) Page {
	return Page{p: p, payload: p.Payload()}
}

// Init resets count/next to zero. The caller is responsible for stamping
// the page header (type, batch id, level) beforehand.
func (a Page) Init() {
	binary.LittleEndian.PutUint32(a.payload[countOffset:countOffset+4], 0)
	binary.LittleEndian.PutUint32(a.payload[nextOffset:nextOffset+4], 0)
}

func (a Page) Count() int {
	return int(binary.LittleEndian.Uint32(a.payload[countOffset : countOffset+4]))
}

func (a Page) setCount(n int) {
	binary.LittleEndian.PutUint32(a.payload[countOffset:countOffset+4], uint32(n))
}

func (a Page) Next() page.Address {
	return page.Address(binary.LittleEndian.Uint32(a.payload[nextOffset : nextOffset+4]))
}

func (a Page) SetNext(addr page.Address) {
	binary.LittleEndian.PutUint32(a.payload[nextOffset:nextOffset+4], uint32(addr))
}

func (a Page) slotOffset(i int) int { return slotsOffset + i*4 }

func (a Page) rawSlot(i int) uint32 {
	off := a.slotOffset(i)
	return binary.LittleEndian.Uint32(a.payload[off : off+4])
}

func (a Page) setRawSlot(i int, v uint32) {
	off := a.slotOffset(i)
	binary.LittleEndian.PutUint32(a.payload[off:off+4], v)
}

// IsFull reports whether a further TryPush that cannot coalesce would fail.
func (a Page) IsFull() bool { return a.Count() >= MaxCount }

// TryPush appends addr, coalescing it into the previous slot when addr is
// exactly one more than the last unpacked entry (§4.6). Returns false when
// the page is full and addr cannot coalesce.
func (a Page) TryPush(addr page.Address) bool {
	cnt := a.Count()
	if cnt > 0 {
		last := a.rawSlot(cnt - 1)
		if last&packedBit == 0 && page.Address(last) == addr-1 {
			a.setRawSlot(cnt-1, last|packedBit)
			return true
		}
	}
	if cnt >= MaxCount {
		return false
	}
	a.setRawSlot(cnt, uint32(addr))
	a.setCount(cnt + 1)
	return true
}

// TryPeek returns the address that the next TryPop would return, without
// mutating the page.
func (a Page) TryPeek() (page.Address, bool) {
	cnt := a.Count()
	if cnt == 0 {
		return page.NullAddress, false
	}
	last := a.rawSlot(cnt - 1)
	if last&packedBit != 0 {
		base := last &^ packedBit
		return page.Address(base) + 1, true
	}
	return page.Address(last), true
}

// TryPop removes and returns the highest remaining address. A packed slot
// yields its virtual top address and collapses back to an unpacked entry
// one lower; an unpacked slot is consumed entirely.
func (a Page) TryPop() (page.Address, bool) {
	cnt := a.Count()
	if cnt == 0 {
		return page.NullAddress, false
	}
	last := a.rawSlot(cnt - 1)
	if last&packedBit != 0 {
		base := last &^ packedBit
		a.setRawSlot(cnt-1, base)
		return page.Address(base) + 1, true
	}
	a.setCount(cnt - 1)
	return page.Address(last), true
}

// CreateChain packs sorted (ascending, caller-sorted) addresses across as
// many freshly allocated abandoned pages as needed, linking each to the
// next via Next, and returns the head address. newPage must hand back a
// zeroed page already stamped with type/header/batch id by the caller.
func CreateChain(sorted []page.Address, newPage func() (*page.Page, page.Address)) page.Address {
	if len(sorted) == 0 {
		return page.NullAddress
	}
	rawHead, headAddr := newPage()
	cur := Wrap(rawHead)
	cur.Init()

	for _, addr := range sorted {
		if cur.TryPush(addr) {
			continue
		}
		rawNext, nextAddr := newPage()
		next := Wrap(rawNext)
		next.Init()
		cur.SetNext(nextAddr)
		cur = next
		cur.TryPush(addr)
	}
	return headAddr
}
