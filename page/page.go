// Package page implements the universal 4KiB storage frame and its 8-byte
// typed header, along with the packed address tables embedded inside
// pages. Nothing in this package understands keys, batches or commit
// chains; it is pure byte-layout, the way the teacher's own Page/PageZero
// split keeps wire layout separate from tree logic.
package page

import "encoding/binary"

// Size is the fixed frame size this engine speaks; §1 rules out dynamic
// page-size negotiation.
const Size = 4096

// HeaderSize is the fixed 8-byte header every page begins with.
const HeaderSize = 8

// PayloadSize is what's left for the typed body after the header.
const PayloadSize = Size - HeaderSize

// CurrentVersion is the header version byte this build writes.
const CurrentVersion uint8 = 1

// Type discriminates a page's typed payload. It is mandatory and
// immutable for the life of a page (§3).
type Type uint8

const (
	TypeNone Type = iota
	TypeStandard
	TypeIdentity
	TypeAbandoned
	TypeLeaf
	TypeLeafOverflow
	TypeFanOut
	TypeMerkleFanOut
	TypeMerkleLeaf
	TypeStateRoot
	TypeMerkleStateRoot
	TypeUShort
	TypeRoot
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeStandard:
		return "Standard"
	case TypeIdentity:
		return "Identity"
	case TypeAbandoned:
		return "Abandoned"
	case TypeLeaf:
		return "Leaf"
	case TypeLeafOverflow:
		return "LeafOverflow"
	case TypeFanOut:
		return "FanOut"
	case TypeMerkleFanOut:
		return "MerkleFanOut"
	case TypeMerkleLeaf:
		return "MerkleLeaf"
	case TypeStateRoot:
		return "StateRoot"
	case TypeMerkleStateRoot:
		return "MerkleStateRoot"
	case TypeUShort:
		return "UShort"
	case TypeRoot:
		return "Root"
	default:
		return "Unknown"
	}
}

// Header is the 8-byte prefix of every page:
// batch_id:u32 | version:u8 | page_type:u8 | level:u8 | metadata:u8.
type Header struct {
	BatchID uint32
	Version uint8
	Type    Type
	Level   uint8
	Meta    uint8
}

func decodeHeader(raw []byte) Header {
	return Header{
		BatchID: binary.LittleEndian.Uint32(raw[0:4]),
		Version: raw[4],
		Type:    Type(raw[5]),
		Level:   raw[6],
		Meta:    raw[7],
	}
}

func encodeHeader(raw []byte, h Header) {
	binary.LittleEndian.PutUint32(raw[0:4], h.BatchID)
	raw[4] = h.Version
	raw[5] = byte(h.Type)
	raw[6] = h.Level
	raw[7] = h.Meta
}

// Page is an opaque 4KiB frame: raw byte span, header accessor and payload
// pointer. It carries no notion of its own address; the batch context maps
// page identity to Address (§4.2 get_address).
type Page struct {
	raw []byte // len == Size, owned by whichever pool rented it
}

// Wrap adapts an existing Size-byte buffer (e.g. one handed back by a page
// manager's get_at) into a Page without copying.
func Wrap(raw []byte) *Page {
	if len(raw) != Size {
		panic("page: buffer is not exactly one page")
	}
	return &Page{raw: raw}
}

// Raw returns the full backing frame, header included.
func (p *Page) Raw() []byte { return p.raw }

// Payload returns the 4088 bytes following the header.
func (p *Page) Payload() []byte { return p.raw[HeaderSize:] }

// Header decodes the current header.
func (p *Page) Header() Header { return decodeHeader(p.raw) }

// SetHeader overwrites the header in place.
func (p *Page) SetHeader(h Header) { encodeHeader(p.raw, h) }

// Clear zeroes the payload, leaving the header untouched. Callers that
// need a fully blank page (get_new_page(clear=true)) should SetHeader
// first or clear the whole raw buffer themselves.
func (p *Page) Clear() {
	payload := p.Payload()
	for i := range payload {
		payload[i] = 0
	}
}

// CopyInto duplicates p's full frame (header and payload) into dst, which
// must already be a Size-byte page. Used by copy-on-write.
func (p *Page) CopyInto(dst *Page) {
	copy(dst.raw, p.raw)
}
