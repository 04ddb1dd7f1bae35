package page

import "encoding/binary"

// Address is a 32-bit page index into the backing file. Zero is reserved
// as null; file byte offset is Address * Size (widened to u64 before the
// multiply, so the addressable space is bounded by u32, not by pointer
// width).
type Address uint32

const NullAddress Address = 0

func (a Address) IsNull() bool { return a == NullAddress }

// Offset computes the byte offset of the page this address names.
func (a Address) Offset() uint64 { return uint64(a) * uint64(Size) }

// Next returns the following address, used when scanning the allocation
// frontier.
func (a Address) Next() Address { return a + 1 }

const packedMask = 0x0FFF_FFFF

// Supported fixed arities for embedded address tables (§4.1).
const (
	Arity4    = 4
	Arity16   = 16
	Arity64   = 64
	Arity256  = 256
	Arity1024 = 1024
)

// AddressListByteSize returns the number of payload bytes a table of n
// addresses occupies. n == Arity4 stores four plain 32-bit addresses
// (16 bytes); every other supported arity packs two 28-bit addresses into
// 7 bytes.
func AddressListByteSize(n int) int {
	if n == Arity4 {
		return n * 4
	}
	return ((n + 1) / 2) * 7
}

// AddressList is a fixed-arity table of addresses embedded directly in a
// page's payload. For n == Arity4 each slot is a plain little-endian u32;
// otherwise slots are packed two-per-seven-bytes as described in §4.1:
// layout "aaa bab bbb" per pair, even slot masked to 28 bits from the
// leading u32, odd slot read as a u32 at pairOffset+3 shifted right 4.
type AddressList struct {
	buf    []byte
	n      int
	packed bool
}

// NewAddressList wraps buf (which must be at least AddressListByteSize(n)
// bytes) as a table of n addresses.
func NewAddressList(buf []byte, n int) AddressList {
	return AddressList{buf: buf, n: n, packed: n != Arity4}
}

func (l AddressList) Len() int { return l.n }

func (l AddressList) Get(i int) Address {
	if i < 0 || i >= l.n {
		panic("page: address list index out of range")
	}
	if !l.packed {
		return Address(binary.LittleEndian.Uint32(l.buf[i*4 : i*4+4]))
	}
	pair := i / 2
	base := pair * 7
	if i%2 == 0 {
		v := binary.LittleEndian.Uint32(l.buf[base : base+4])
		return Address(v & packedMask)
	}
	v := binary.LittleEndian.Uint32(l.buf[base+3 : base+7])
	return Address(v >> 4)
}

func (l AddressList) Set(i int, a Address) {
	if i < 0 || i >= l.n {
		panic("page: address list index out of range")
	}
	if uint32(a) > packedMask && l.packed {
		panic("page: address exceeds packed 28-bit range")
	}
	if !l.packed {
		binary.LittleEndian.PutUint32(l.buf[i*4:i*4+4], uint32(a))
		return
	}
	pair := i / 2
	base := pair * 7
	if i%2 == 0 {
		existing := binary.LittleEndian.Uint32(l.buf[base : base+4])
		v := (existing &^ uint32(packedMask)) | (uint32(a) & packedMask)
		binary.LittleEndian.PutUint32(l.buf[base:base+4], v)
		return
	}
	existing := binary.LittleEndian.Uint32(l.buf[base+3 : base+7])
	v := (existing & 0x0000000F) | (uint32(a) << 4)
	binary.LittleEndian.PutUint32(l.buf[base+3:base+7], v)
}

// ForEach visits every slot in order, including nulls.
func (l AddressList) ForEach(fn func(i int, a Address) bool) {
	for i := 0; i < l.n; i++ {
		if !fn(i, l.Get(i)) {
			return
		}
	}
}
