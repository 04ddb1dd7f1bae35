// Package trie implements the nibble-path-keyed radix structure that sits
// on top of a batch.Writer/Reader: the plain DataPage/LeafPage fan-out from
// §4.3-4.4, and the Merkle-aware variants from §4.5. Every operation takes
// its page address by pointer so a copy-on-write replacement can be
// threaded back up to the caller, mirroring how the teacher's BLTree
// rewrites a parent's child pointer after a node split.
package trie

import (
	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/internal/nibble"
	"github.com/nibblestore/paged/internal/slotted"
	"github.com/nibblestore/paged/page"
)

// dataPageConsumedNibbles is the fan-out depth of a DataPage/StateRootPage:
// two nibbles index directly into a 256-way bucket table.
const dataPageConsumedNibbles = 2

var dataBucketsByteSize = page.AddressListByteSize(page.Arity256)

// DataPage is the radix fan-out node from §4.3: a 256-way bucket table over
// the next two nibbles of the key, plus a small local slotted map for keys
// shorter than that (length 0 or 1).
type DataPage struct {
	p       *page.Page
	buckets page.AddressList
}

func WrapDataPage(p *page.Page) DataPage {
	payload := p.Payload()
	return DataPage{
		p:       p,
		buckets: page.NewAddressList(payload[:dataBucketsByteSize], page.Arity256),
	}
}

func dataPageLocal(p *page.Page) slotted.Map {
	return slotted.New(p.Payload()[dataBucketsByteSize:])
}

// InitDataPage zeroes the local map. p's payload must already be cleared
// (the bucket table's all-null encoding is the zero value).
func InitDataPage(p *page.Page) {
	dataPageLocal(p).Init()
}

func bucketIndex(key nibble.Path) int {
	return int(key.GetAt(0))<<4 | int(key.GetAt(1))
}

func setDataPage(w batch.Writer, addr *page.Address, p *page.Page, key nibble.Path, data []byte) error {
	dp := WrapDataPage(p)
	if key.Length() < dataPageConsumedNibbles {
		local := dataPageLocal(p)
		if len(data) == 0 {
			local.Delete(key)
			return nil
		}
		if !local.TrySet(key, data) {
			return errs.New(errs.CorruptedPage, "data page local cache rejected a short key")
		}
		return nil
	}

	idx := bucketIndex(key)
	rest := key.SliceFrom(dataPageConsumedNibbles)
	child := dp.buckets.Get(idx)
	if err := SetAt(w, &child, rest, data); err != nil {
		return err
	}
	dp.buckets.Set(idx, child)
	return nil
}

func tryGetDataPage(r batch.Reader, p *page.Page, key nibble.Path) ([]byte, bool, error) {
	dp := WrapDataPage(p)
	if key.Length() < dataPageConsumedNibbles {
		v, ok := dataPageLocal(p).TryGet(key)
		return v, ok, nil
	}
	idx := bucketIndex(key)
	child := dp.buckets.Get(idx)
	if child.IsNull() {
		return nil, false, nil
	}
	return TryGetAt(r, child, key.SliceFrom(dataPageConsumedNibbles))
}

// deleteByPrefixDataPage implements §4.3: a short prefix fans out over the
// matching slice of buckets and reclaims each one outright; a long enough
// prefix dispatches to the single indexed child.
func deleteByPrefixDataPage(w batch.Writer, addr *page.Address, p *page.Page, prefix nibble.Path) error {
	dp := WrapDataPage(p)
	if prefix.Length() < dataPageConsumedNibbles {
		lo, hi := 0, 256
		if prefix.Length() == 1 {
			lo = int(prefix.GetAt(0)) << 4
			hi = lo + 16
		}
		for i := lo; i < hi; i++ {
			child := dp.buckets.Get(i)
			if child.IsNull() {
				continue
			}
			if err := Reclaim(w, child); err != nil {
				return err
			}
			dp.buckets.Set(i, page.NullAddress)
		}
		local := dataPageLocal(p)
		var keys []nibble.Path
		local.ForEach(func(k nibble.Path, v []byte) bool {
			if hasPrefix(k, prefix) {
				keys = append(keys, k)
			}
			return true
		})
		for _, k := range keys {
			local.Delete(k)
		}
		return nil
	}

	idx := bucketIndex(prefix)
	child := dp.buckets.Get(idx)
	if child.IsNull() {
		return nil
	}
	if err := DeleteByPrefixAt(w, &child, prefix.SliceFrom(dataPageConsumedNibbles)); err != nil {
		return err
	}
	dp.buckets.Set(idx, child)
	return nil
}

// SetAt binds key to data in the subtree rooted at *addr, copy-on-writing
// and possibly replacing *addr along the way. An empty data deletes. A null
// *addr is only valid when inserting (allocates a fresh LeafPage) or when
// deleting an already-empty subtree (no-op).
func SetAt(w batch.Writer, addr *page.Address, key nibble.Path, data []byte) error {
	if addr.IsNull() {
		if len(data) == 0 {
			return nil
		}
		p, newAddr, err := w.GetNewPage(true)
		if err != nil {
			return err
		}
		h := p.Header()
		h.Type = page.TypeLeaf
		p.SetHeader(h)
		InitLeafPage(p)
		*addr = newAddr
		return setLeafPage(w, addr, p, key, data)
	}

	p, err := w.EnsureWritableCopy(addr)
	if err != nil {
		return err
	}
	switch p.Header().Type {
	case page.TypeStandard, page.TypeIdentity, page.TypeStateRoot:
		return setDataPage(w, addr, p, key, data)
	case page.TypeLeaf:
		return setLeafPage(w, addr, p, key, data)
	case page.TypeMerkleFanOut, page.TypeMerkleStateRoot:
		return setMerkleFanOutPage(w, addr, p, key, data)
	case page.TypeMerkleLeaf:
		return setMerkleLeafPage(w, addr, p, key, data)
	case page.TypeLeafOverflow:
		return setLeafOverflowPage(p, key, data)
	default:
		return errs.New(errs.CorruptedPage, "unexpected page type %s in Set dispatch", p.Header().Type)
	}
}

// TryGetAt resolves key against the subtree rooted at addr without
// mutating anything.
func TryGetAt(r batch.Reader, addr page.Address, key nibble.Path) ([]byte, bool, error) {
	if addr.IsNull() {
		return nil, false, nil
	}
	p, err := r.GetAt(addr)
	if err != nil {
		return nil, false, err
	}
	switch p.Header().Type {
	case page.TypeStandard, page.TypeIdentity, page.TypeStateRoot:
		return tryGetDataPage(r, p, key)
	case page.TypeLeaf:
		return tryGetLeafPage(r, p, key)
	case page.TypeMerkleFanOut, page.TypeMerkleStateRoot:
		return tryGetMerkleFanOutPage(r, p, key)
	case page.TypeMerkleLeaf:
		return tryGetMerkleLeafPage(r, p, key)
	case page.TypeLeafOverflow:
		return tryGetLeafOverflowPage(p, key)
	default:
		return nil, false, errs.New(errs.CorruptedPage, "unexpected page type %s in TryGet dispatch", p.Header().Type)
	}
}

// DeleteByPrefixAt removes every key in the subtree rooted at *addr that
// starts with prefix.
func DeleteByPrefixAt(w batch.Writer, addr *page.Address, prefix nibble.Path) error {
	if addr.IsNull() {
		return nil
	}
	p, err := w.EnsureWritableCopy(addr)
	if err != nil {
		return err
	}
	switch p.Header().Type {
	case page.TypeStandard, page.TypeIdentity, page.TypeStateRoot:
		return deleteByPrefixDataPage(w, addr, p, prefix)
	case page.TypeLeaf:
		return deleteByPrefixLeafPage(w, addr, p, prefix)
	case page.TypeMerkleFanOut, page.TypeMerkleStateRoot:
		return deleteByPrefixMerkleFanOutPage(w, addr, p, prefix)
	case page.TypeMerkleLeaf:
		return deleteByPrefixMerkleLeafPage(w, addr, p, prefix)
	case page.TypeLeafOverflow:
		return deleteByPrefixLeafOverflowPage(p, prefix)
	default:
		return errs.New(errs.CorruptedPage, "unexpected page type %s in DeleteByPrefix dispatch", p.Header().Type)
	}
}
