package trie

import (
	"encoding/binary"

	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/internal/nibble"
	"github.com/nibblestore/paged/internal/slotted"
	"github.com/nibblestore/paged/page"
)

// localMerkleNodeSlots is the width of a MerkleFanOutPage's inline
// small-key node table (§4.5a): four UShortPage addresses, round-robin
// sharded by id.
const localMerkleNodeSlots = page.Arity4

var localNodesByteSize = page.AddressListByteSize(localMerkleNodeSlots)

// MerkleFanOutPage is the Merkle-aware radix fan-out node. It differs from
// DataPage in two ways: it carries a small inline table addressing
// UShortPages that cache short-keyed Merkle nodes (a concern entirely
// orthogonal to the key/value trie this package otherwise implements, and
// never touched by Set/TryGet/DeleteByPrefix), and its slotted region is a
// write-through cache that lazily flushes down into real children instead
// of being a fixed store for only the shortest keys.
type MerkleFanOutPage struct {
	p          *page.Page
	localNodes page.AddressList
	buckets    page.AddressList
}

func WrapMerkleFanOutPage(p *page.Page) MerkleFanOutPage {
	payload := p.Payload()
	return MerkleFanOutPage{
		p:          p,
		localNodes: page.NewAddressList(payload[:localNodesByteSize], localMerkleNodeSlots),
		buckets:    page.NewAddressList(payload[localNodesByteSize:localNodesByteSize+dataBucketsByteSize], page.Arity256),
	}
}

func merkleFanOutCache(p *page.Page) slotted.Map {
	return slotted.New(p.Payload()[localNodesByteSize+dataBucketsByteSize:])
}

// InitMerkleFanOutPage initializes the write-through cache. p's payload
// must already be cleared.
func InitMerkleFanOutPage(p *page.Page) {
	merkleFanOutCache(p).Init()
}

// localNodeID computes the §4.5a id for a key shorter than the fan-out
// depth: 0 for the empty key, else first_nibble+1. ok is false when key is
// too long to have a local node slot at all.
func localNodeID(key nibble.Path) (id uint16, ok bool) {
	if key.Length() >= dataPageConsumedNibbles {
		return 0, false
	}
	if key.IsEmpty() {
		return 0, true
	}
	return uint16(key.FirstNibble()) + 1, true
}

// TryGetMerkleNode resolves a cached Merkle node by its short key, reading
// through the appropriate inline UShortPage slot. It is independent of the
// ordinary key/value Set/TryGet path.
func (mf MerkleFanOutPage) TryGetMerkleNode(r batch.Reader, key nibble.Path) ([]byte, bool, error) {
	id, ok := localNodeID(key)
	if !ok {
		return nil, false, errs.New(errs.CorruptedPage, "key too long for a local merkle node slot")
	}
	slot := int(id) % localMerkleNodeSlots
	addr := mf.localNodes.Get(slot)
	if addr.IsNull() {
		return nil, false, nil
	}
	p, err := r.GetAt(addr)
	if err != nil {
		return nil, false, err
	}
	v, found := WrapUShortPage(p).TryGetNode(id)
	return v, found, nil
}

// SetMerkleNode stores (or, with empty data, removes) a cached Merkle node
// by its short key.
func (mf MerkleFanOutPage) SetMerkleNode(w batch.Writer, key nibble.Path, data []byte) error {
	id, ok := localNodeID(key)
	if !ok {
		return errs.New(errs.CorruptedPage, "key too long for a local merkle node slot")
	}
	slot := int(id) % localMerkleNodeSlots
	addr := mf.localNodes.Get(slot)
	if addr.IsNull() {
		p, newAddr, err := w.GetNewPage(true)
		if err != nil {
			return err
		}
		h := p.Header()
		h.Type = page.TypeUShort
		p.SetHeader(h)
		InitUShortPage(p)
		addr = newAddr
	}
	p, err := w.EnsureWritableCopy(&addr)
	if err != nil {
		return err
	}
	up := WrapUShortPage(p)
	if len(data) == 0 {
		up.DeleteNode(id)
	} else if !up.TrySetNode(id, data) {
		return errs.New(errs.CapacityExceeded, "ushort page has no room for node %d", id)
	}
	mf.localNodes.Set(slot, addr)
	return nil
}

func setMerkleFanOutPage(w batch.Writer, addr *page.Address, p *page.Page, key nibble.Path, data []byte) error {
	mf := WrapMerkleFanOutPage(p)
	cache := merkleFanOutCache(p)

	if len(data) == 0 {
		if cache.Delete(key) {
			return nil
		}
		if key.Length() < dataPageConsumedNibbles {
			return nil
		}
		idx := bucketIndex(key)
		child := mf.buckets.Get(idx)
		if child.IsNull() {
			return nil
		}
		if err := SetAt(w, &child, key.SliceFrom(dataPageConsumedNibbles), data); err != nil {
			return err
		}
		mf.buckets.Set(idx, child)
		return nil
	}

	if cache.TrySet(key, data) {
		return nil
	}
	if err := mf.flushDown(w, true); err != nil {
		return err
	}
	if cache.TrySet(key, data) {
		return nil
	}
	if err := mf.flushDown(w, false); err != nil {
		return err
	}
	if !cache.TrySet(key, data) {
		return errs.New(errs.CorruptedPage, "merkle fan-out cache still full after flush_down")
	}
	return nil
}

// flushDown drains the write-through cache into real children (§4.5a).
// When toExistingOnly is true, only entries whose bucket is already
// non-null are pushed down; otherwise every flushable entry (length >=
// dataPageConsumedNibbles) is pushed down, allocating a fresh MerkleLeaf
// child where needed.
func (mf MerkleFanOutPage) flushDown(w batch.Writer, toExistingOnly bool) error {
	cache := merkleFanOutCache(mf.p)
	type kv struct {
		k nibble.Path
		v []byte
	}
	var candidates []kv
	cache.ForEach(func(k nibble.Path, v []byte) bool {
		if k.Length() < dataPageConsumedNibbles {
			return true
		}
		idx := bucketIndex(k)
		if toExistingOnly && mf.buckets.Get(idx).IsNull() {
			return true
		}
		vc := make([]byte, len(v))
		copy(vc, v)
		candidates = append(candidates, kv{k: k, v: vc})
		return true
	})
	for _, e := range candidates {
		idx := bucketIndex(e.k)
		child := mf.buckets.Get(idx)
		if child.IsNull() {
			newP, newAddr, err := w.GetNewPage(true)
			if err != nil {
				return err
			}
			h := newP.Header()
			h.Type = page.TypeMerkleLeaf
			newP.SetHeader(h)
			InitMerkleLeafPage(newP)
			child = newAddr
		}
		if err := SetAt(w, &child, e.k.SliceFrom(dataPageConsumedNibbles), e.v); err != nil {
			return err
		}
		mf.buckets.Set(idx, child)
		cache.Delete(e.k)
	}
	return nil
}

func tryGetMerkleFanOutPage(r batch.Reader, p *page.Page, key nibble.Path) ([]byte, bool, error) {
	if v, ok := merkleFanOutCache(p).TryGet(key); ok {
		return v, true, nil
	}
	if key.Length() < dataPageConsumedNibbles {
		return nil, false, nil
	}
	mf := WrapMerkleFanOutPage(p)
	idx := bucketIndex(key)
	child := mf.buckets.Get(idx)
	if child.IsNull() {
		return nil, false, nil
	}
	return TryGetAt(r, child, key.SliceFrom(dataPageConsumedNibbles))
}

func deleteByPrefixMerkleFanOutPage(w batch.Writer, addr *page.Address, p *page.Page, prefix nibble.Path) error {
	mf := WrapMerkleFanOutPage(p)
	cache := merkleFanOutCache(p)
	var toDelete []nibble.Path
	cache.ForEach(func(k nibble.Path, v []byte) bool {
		if hasPrefix(k, prefix) {
			toDelete = append(toDelete, k)
		}
		return true
	})
	for _, k := range toDelete {
		cache.Delete(k)
	}

	if prefix.Length() < dataPageConsumedNibbles {
		lo, hi := 0, 256
		if prefix.Length() == 1 {
			lo = int(prefix.GetAt(0)) << 4
			hi = lo + 16
		}
		for i := lo; i < hi; i++ {
			child := mf.buckets.Get(i)
			if child.IsNull() {
				continue
			}
			if err := Reclaim(w, child); err != nil {
				return err
			}
			mf.buckets.Set(i, page.NullAddress)
		}
		return nil
	}

	idx := bucketIndex(prefix)
	child := mf.buckets.Get(idx)
	if child.IsNull() {
		return nil
	}
	if err := DeleteByPrefixAt(w, &child, prefix.SliceFrom(dataPageConsumedNibbles)); err != nil {
		return err
	}
	mf.buckets.Set(idx, child)
	return nil
}

// --- MerkleLeafPage ---

const merkleLeafOverflowSlots = 8
const merkleLeafOverflowByteSize = merkleLeafOverflowSlots * 4

// MerkleLeafPage is a flat slotted leaf with up to eight LeafOverflow
// buckets absorbing whatever the local cache can't hold (§4.5b).
type MerkleLeafPage struct {
	p        *page.Page
	overflow []byte
	local    slotted.Map
}

func WrapMerkleLeafPage(p *page.Page) MerkleLeafPage {
	payload := p.Payload()
	return MerkleLeafPage{
		p:        p,
		overflow: payload[:merkleLeafOverflowByteSize],
		local:    slotted.New(payload[merkleLeafOverflowByteSize:]),
	}
}

func InitMerkleLeafPage(p *page.Page) {
	WrapMerkleLeafPage(p).local.Init()
}

func (m MerkleLeafPage) overflowAt(i int) page.Address {
	return page.Address(binary.LittleEndian.Uint32(m.overflow[i*4 : i*4+4]))
}

func (m MerkleLeafPage) setOverflowAt(i int, a page.Address) {
	binary.LittleEndian.PutUint32(m.overflow[i*4:i*4+4], uint32(a))
}

// overflowIndex assigns a key to one of the eight overflow slots by the
// parity/value of its trailing nibble, same spirit as LeafPage's use_this.
func overflowIndex(key nibble.Path) int {
	if key.IsEmpty() {
		return 0
	}
	return int(key.GetAt(key.Length()-1)) % merkleLeafOverflowSlots
}

func setMerkleLeafPage(w batch.Writer, addr *page.Address, p *page.Page, key nibble.Path, data []byte) error {
	ml := WrapMerkleLeafPage(p)

	if len(data) == 0 {
		if ml.local.Delete(key) {
			return nil
		}
		idx := overflowIndex(key)
		ov := ml.overflowAt(idx)
		if ov.IsNull() {
			return nil
		}
		if err := SetAt(w, &ov, key, data); err != nil {
			return err
		}
		ml.setOverflowAt(idx, ov)
		return nil
	}

	if ml.local.TrySet(key, data) {
		return nil
	}
	// local had no room for the new encoding (e.g. an overwrite that grew
	// past the existing entry's footprint): drop any stale binding before
	// routing the write to overflow, or TryGet would keep returning the
	// old value out of local.
	ml.local.Delete(key)

	idx := overflowIndex(key)
	if ov := ml.overflowAt(idx); !ov.IsNull() {
		if err := SetAt(w, &ov, key, data); err != nil {
			return err
		}
		ml.setOverflowAt(idx, ov)
		return nil
	}
	for i := 0; i < merkleLeafOverflowSlots; i++ {
		if i != idx {
			continue
		}
		newP, newAddr, err := w.GetNewPage(true)
		if err != nil {
			return err
		}
		h := newP.Header()
		h.Type = page.TypeLeafOverflow
		newP.SetHeader(h)
		InitLeafOverflowPage(newP)
		if err := SetAt(w, &newAddr, key, data); err != nil {
			return err
		}
		ml.setOverflowAt(i, newAddr)
		return nil
	}
	return promoteMerkleLeaf(w, addr, p, ml, key, data)
}

// promoteMerkleLeaf replaces a full MerkleLeafPage (all eight overflow
// slots occupied) with a fresh MerkleFanOutPage holding every entry from
// the leaf and its overflows, then performs the pending Set.
func promoteMerkleLeaf(w batch.Writer, addr *page.Address, primary *page.Page, ml MerkleLeafPage, key nibble.Path, data []byte) error {
	newPage, newAddr, err := w.GetNewPage(true)
	if err != nil {
		return err
	}
	h := newPage.Header()
	h.Type = page.TypeMerkleFanOut
	h.Level = primary.Header().Level
	newPage.SetHeader(h)
	InitMerkleFanOutPage(newPage)

	var inner error
	ml.local.ForEach(func(k nibble.Path, v []byte) bool {
		if err := SetAt(w, &newAddr, k, v); err != nil {
			inner = err
			return false
		}
		return true
	})
	if inner != nil {
		return inner
	}

	for i := 0; i < merkleLeafOverflowSlots; i++ {
		ov := ml.overflowAt(i)
		if ov.IsNull() {
			continue
		}
		ovPage, err := w.GetAt(ov)
		if err != nil {
			return err
		}
		ovLocal := WrapLeafOverflowPage(ovPage).local
		ovLocal.ForEach(func(k nibble.Path, v []byte) bool {
			if err := SetAt(w, &newAddr, k, v); err != nil {
				inner = err
				return false
			}
			return true
		})
		if inner != nil {
			return inner
		}
		if err := w.RegisterForFutureReuse(ovPage, false); err != nil {
			return err
		}
	}
	if err := w.RegisterForFutureReuse(primary, false); err != nil {
		return err
	}
	*addr = newAddr
	return SetAt(w, addr, key, data)
}

func tryGetMerkleLeafPage(r batch.Reader, p *page.Page, key nibble.Path) ([]byte, bool, error) {
	ml := WrapMerkleLeafPage(p)
	if v, ok := ml.local.TryGet(key); ok {
		return v, true, nil
	}
	ov := ml.overflowAt(overflowIndex(key))
	if ov.IsNull() {
		return nil, false, nil
	}
	return TryGetAt(r, ov, key)
}

func deleteByPrefixMerkleLeafPage(w batch.Writer, addr *page.Address, p *page.Page, prefix nibble.Path) error {
	ml := WrapMerkleLeafPage(p)
	var toDelete []nibble.Path
	ml.local.ForEach(func(k nibble.Path, v []byte) bool {
		if hasPrefix(k, prefix) {
			toDelete = append(toDelete, k)
		}
		return true
	})
	for _, k := range toDelete {
		ml.local.Delete(k)
	}
	for i := 0; i < merkleLeafOverflowSlots; i++ {
		ov := ml.overflowAt(i)
		if ov.IsNull() {
			continue
		}
		if err := DeleteByPrefixAt(w, &ov, prefix); err != nil {
			return err
		}
		ml.setOverflowAt(i, ov)
	}
	return nil
}

// --- LeafOverflowPage ---

// LeafOverflowPage is a flat slotted leaf with no further chaining, used
// only as an overflow bucket off a MerkleLeafPage.
type LeafOverflowPage struct {
	local slotted.Map
}

func WrapLeafOverflowPage(p *page.Page) LeafOverflowPage {
	return LeafOverflowPage{local: slotted.New(p.Payload())}
}

func InitLeafOverflowPage(p *page.Page) {
	WrapLeafOverflowPage(p).local.Init()
}

func setLeafOverflowPage(p *page.Page, key nibble.Path, data []byte) error {
	lo := WrapLeafOverflowPage(p)
	if len(data) == 0 {
		lo.local.Delete(key)
		return nil
	}
	if !lo.local.TrySet(key, data) {
		return errs.New(errs.CapacityExceeded, "leaf overflow page has no room left")
	}
	return nil
}

func tryGetLeafOverflowPage(p *page.Page, key nibble.Path) ([]byte, bool, error) {
	v, ok := WrapLeafOverflowPage(p).local.TryGet(key)
	return v, ok, nil
}

func deleteByPrefixLeafOverflowPage(p *page.Page, prefix nibble.Path) error {
	lo := WrapLeafOverflowPage(p)
	var toDelete []nibble.Path
	lo.local.ForEach(func(k nibble.Path, v []byte) bool {
		if hasPrefix(k, prefix) {
			toDelete = append(toDelete, k)
		}
		return true
	})
	for _, k := range toDelete {
		lo.local.Delete(k)
	}
	return nil
}

// --- UShortPage ---

// UShortPage is a small map keyed by u16 id, used to cache Merkle nodes
// addressed by a MerkleFanOutPage's local_merkle_nodes table. It reuses
// slotted.Map by widening each id to a fixed 4-nibble key.
type UShortPage struct {
	m slotted.Map
}

func WrapUShortPage(p *page.Page) UShortPage {
	return UShortPage{m: slotted.New(p.Payload())}
}

func InitUShortPage(p *page.Page) {
	WrapUShortPage(p).m.Init()
}

func idKey(id uint16) nibble.Path {
	return nibble.FromKey([]byte{byte(id >> 8), byte(id)})
}

func (u UShortPage) TryGetNode(id uint16) ([]byte, bool) { return u.m.TryGet(idKey(id)) }

func (u UShortPage) TrySetNode(id uint16, data []byte) bool { return u.m.TrySet(idKey(id), data) }

func (u UShortPage) DeleteNode(id uint16) bool { return u.m.Delete(idKey(id)) }
