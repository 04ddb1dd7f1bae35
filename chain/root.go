// Package chain implements the root page layout and the multi-headed,
// in-memory proposed-batch chain of §4.7: proposed snapshots coexisting
// with the on-disk root, indexed by state hash and by proposal id, flushed
// to disk on a FIFO schedule once they run too deep.
package chain

import (
	"encoding/binary"

	"github.com/nibblestore/paged/abandoned"
	"github.com/nibblestore/paged/page"
)

// Address is always the on-disk home of the current root; proposed
// batches each carry their own in-memory root page instead of writing
// here until a flush swings this address's contents.
const Address page.Address = 1

const accountPagesArity = page.Arity16

var accountPagesByteSize = page.AddressListByteSize(accountPagesArity)

const metadataSize = 4 + 32 // block_number:u32 | state_hash:32 bytes

const (
	nextFreeOffset     = 0
	accountPagesOffset = nextFreeOffset + 4
)

func metadataOffset() int { return accountPagesOffset + accountPagesByteSize }
func abandonedOffset() int { return metadataOffset() + metadataSize }

// RootPage is the self-sufficient anchor of a snapshot (§4.7): the
// allocation frontier, the 16-way top-level account fan-out, the
// block-number/state-hash metadata pair, and the abandoned-page free list.
type RootPage struct {
	p            *page.Page
	accountPages page.AddressList
	freeList     abandoned.List
}

func WrapRootPage(p *page.Page) RootPage {
	payload := p.Payload()
	return RootPage{
		p:            p,
		accountPages: page.NewAddressList(payload[accountPagesOffset:accountPagesOffset+accountPagesByteSize], accountPagesArity),
		freeList:     abandoned.NewList(payload[abandonedOffset() : abandonedOffset()+abandoned.ListByteSize]),
	}
}

// InitRootPage zeroes a freshly allocated root's metadata. p's payload
// must already be cleared.
func InitRootPage(p *page.Page, firstFreePage page.Address) {
	r := WrapRootPage(p)
	r.SetNextFreePage(firstFreePage)
}

func (r RootPage) NextFreePage() page.Address {
	return page.Address(binary.LittleEndian.Uint32(r.p.Payload()[nextFreeOffset : nextFreeOffset+4]))
}

func (r RootPage) SetNextFreePage(a page.Address) {
	binary.LittleEndian.PutUint32(r.p.Payload()[nextFreeOffset:nextFreeOffset+4], uint32(a))
}

// AccountPages is the top-level fan-out by first nibble (§4.7).
func (r RootPage) AccountPages() page.AddressList { return r.accountPages }

func (r RootPage) BlockNumber() uint32 {
	off := metadataOffset()
	return binary.LittleEndian.Uint32(r.p.Payload()[off : off+4])
}

func (r RootPage) SetBlockNumber(n uint32) {
	off := metadataOffset()
	binary.LittleEndian.PutUint32(r.p.Payload()[off:off+4], n)
}

func (r RootPage) StateHash() [32]byte {
	off := metadataOffset() + 4
	var h [32]byte
	copy(h[:], r.p.Payload()[off:off+32])
	return h
}

func (r RootPage) SetStateHash(h [32]byte) {
	off := metadataOffset() + 4
	copy(r.p.Payload()[off:off+32], h[:])
}

// AbandonedList is the root-embedded free list (§4.6).
func (r RootPage) AbandonedList() abandoned.List { return r.freeList }
