// Package slotted implements the variable-length key/value map that lives
// inside a single page's payload region. It is the "assumed given" external
// SlottedArray utility the page layer builds on: a small directory of
// slots growing up from the front of the buffer, and entry data packed
// growing down from the back, in the spirit of the teacher's own
// low/high-end page layout (see Page.Min / Page.KeyOffset in the teacher
// repo's leaf pages).
//
// A Map never allocates its backing array: it operates directly on the
// byte slice handed to it, which is always a sub-slice of some Page's
// payload. Deleted entries are tombstoned rather than compacted; callers
// that care about reclaiming fragmentation promote to a larger page
// instead (see trie.LeafPage / trie.MerkleFanOutPage).
package slotted

import (
	"encoding/binary"

	"github.com/nibblestore/paged/internal/nibble"
)

const headerSize = 4 // count:uint16 | low:uint16
const slotSize = 2    // uint16 offset into buf, 0 == tombstoned
const entryFixedOverhead = 2 + 2 // nibbleLen:uint16 | valLen:uint16

// Map is a thin, stateless view over a byte buffer. Construct one each time
// you need to touch the region; there is nothing to keep alive between
// calls.
type Map struct {
	buf []byte
}

// New wraps buf. Call Init once, when the owning page is freshly zeroed,
// before the first TrySet.
func New(buf []byte) Map { return Map{buf: buf} }

// Init resets the map to empty. The owning page must already be zeroed
// (get_new_page(clear=true)); Init only has to write the header.
func (m Map) Init() {
	binary.LittleEndian.PutUint16(m.buf[0:2], 0)
	binary.LittleEndian.PutUint16(m.buf[2:4], uint16(len(m.buf)))
}

func (m Map) count() int {
	return int(binary.LittleEndian.Uint16(m.buf[0:2]))
}

func (m Map) setCount(c int) {
	binary.LittleEndian.PutUint16(m.buf[0:2], uint16(c))
}

func (m Map) low() int {
	return int(binary.LittleEndian.Uint16(m.buf[2:4]))
}

func (m Map) setLow(v int) {
	binary.LittleEndian.PutUint16(m.buf[2:4], uint16(v))
}

func (m Map) slotOffset(i int) int {
	return headerSize + i*slotSize
}

func (m Map) slotValue(i int) int {
	return int(binary.LittleEndian.Uint16(m.buf[m.slotOffset(i) : m.slotOffset(i)+2]))
}

func (m Map) setSlotValue(i, off int) {
	binary.LittleEndian.PutUint16(m.buf[m.slotOffset(i):m.slotOffset(i)+2], uint16(off))
}

func (m Map) directoryEnd(slotCount int) int {
	return headerSize + slotCount*slotSize
}

// entryAt decodes the entry stored at data offset off.
func (m Map) entryAt(off int) (key nibble.Path, value []byte) {
	nibbleLen := int(binary.LittleEndian.Uint16(m.buf[off : off+2]))
	keyBytes := (nibbleLen + 1) / 2
	kStart := off + 2
	kEnd := kStart + keyBytes
	valLen := int(binary.LittleEndian.Uint16(m.buf[kEnd : kEnd+2]))
	vStart := kEnd + 2
	key = nibble.FromKey(m.buf[kStart:kEnd]).SliceTo(nibbleLen)
	value = m.buf[vStart : vStart+valLen]
	return
}

func entryLen(key nibble.Path, value []byte) int {
	keyBytes := (key.Length() + 1) / 2
	return entryFixedOverhead + keyBytes + len(value)
}

// Count returns the number of live (non-tombstoned) entries.
func (m Map) Count() int {
	n := 0
	c := m.count()
	for i := 0; i < c; i++ {
		if m.slotValue(i) != 0 {
			n++
		}
	}
	return n
}

// IsEmpty reports whether the map holds no live entries.
func (m Map) IsEmpty() bool { return m.Count() == 0 }

func (m Map) findSlot(key nibble.Path) (idx int, found bool) {
	c := m.count()
	for i := 0; i < c; i++ {
		off := m.slotValue(i)
		if off == 0 {
			continue
		}
		k, _ := m.entryAt(off)
		if k.Equal(key) {
			return i, true
		}
	}
	return -1, false
}

func (m Map) firstTombstone() (idx int, found bool) {
	c := m.count()
	for i := 0; i < c; i++ {
		if m.slotValue(i) == 0 {
			return i, true
		}
	}
	return -1, false
}

// TryGet looks up key, returning a view into the backing buffer.
func (m Map) TryGet(key nibble.Path) ([]byte, bool) {
	idx, found := m.findSlot(key)
	if !found {
		return nil, false
	}
	_, v := m.entryAt(m.slotValue(idx))
	return v, true
}

// writeEntryAt encodes key -> value at data offset off.
func (m Map) writeEntryAt(off int, key nibble.Path, value []byte) {
	binary.LittleEndian.PutUint16(m.buf[off:off+2], uint16(key.Length()))
	kStart := off + 2
	keyBytes := key.RawBytes()
	copy(m.buf[kStart:kStart+len(keyBytes)], keyBytes)
	kEnd := kStart + (key.Length()+1)/2
	binary.LittleEndian.PutUint16(m.buf[kEnd:kEnd+2], uint16(len(value)))
	copy(m.buf[kEnd+2:kEnd+2+len(value)], value)
}

// TrySet inserts or overwrites key -> value. Returns false when the region
// has no room left, signalling the caller (a DataPage/LeafPage/
// MerkleFanOutPage) to promote or flush instead.
//
// Overwriting a key whose new encoding fits within its existing entry's
// footprint reuses that entry's bytes in place rather than tombstoning it
// and appending a fresh copy: without this, a long-lived key updated
// repeatedly (an account balance, a cached digest) would eventually
// exhaust the region on tombstones alone even though nothing has grown.
func (m Map) TrySet(key nibble.Path, value []byte) bool {
	need := entryLen(key, value)

	if prevIdx, found := m.findSlot(key); found {
		prevOff := m.slotValue(prevIdx)
		prevKey, prevValue := m.entryAt(prevOff)
		if need <= entryLen(prevKey, prevValue) {
			m.writeEntryAt(prevOff, key, value)
			return true
		}
	}

	slotIdx, reuse := m.firstTombstone()
	extraSlot := 0
	if !reuse {
		slotIdx = m.count()
		extraSlot = slotSize
	}

	newLow := m.low() - need
	if newLow < m.directoryEnd(m.count())+extraSlot {
		return false
	}

	// tombstone any prior binding for this key so we never leak a stale slot.
	if prevIdx, found := m.findSlot(key); found {
		m.setSlotValue(prevIdx, 0)
	}

	m.writeEntryAt(newLow, key, value)

	if !reuse {
		m.setCount(slotIdx + 1)
	}
	m.setSlotValue(slotIdx, newLow)
	m.setLow(newLow)
	return true
}

// Delete removes key. Returns true if it was present.
func (m Map) Delete(key nibble.Path) bool {
	idx, found := m.findSlot(key)
	if !found {
		return false
	}
	m.setSlotValue(idx, 0)
	return true
}

// ForEach visits every live entry. fn returning false stops iteration.
func (m Map) ForEach(fn func(key nibble.Path, value []byte) bool) {
	c := m.count()
	for i := 0; i < c; i++ {
		off := m.slotValue(i)
		if off == 0 {
			continue
		}
		k, v := m.entryAt(off)
		if !fn(k, v) {
			return
		}
	}
}

// FreeBytes is the number of bytes still available for new entries,
// ignoring tombstone reclamation.
func (m Map) FreeBytes() int {
	return m.low() - m.directoryEnd(m.count())
}
