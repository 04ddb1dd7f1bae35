package trie

import (
	"encoding/binary"

	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/internal/nibble"
	"github.com/nibblestore/paged/internal/slotted"
	"github.com/nibblestore/paged/page"
)

const leafSiblingOffset = 0
const leafLocalOffset = 4

// LeafPage stores its keys entirely in an in-page slotted map and
// optionally chains to a single sibling leaf (§4.4). Routing between the
// two is by the parity of a key's last nibble: even stays on this page,
// odd goes to the sibling. That keeps the split reversible and the
// routing decision O(1) without needing a separate fence key.
type LeafPage struct {
	p       *page.Page
	sibling []byte
	local   slotted.Map
}

func WrapLeafPage(p *page.Page) LeafPage {
	payload := p.Payload()
	return LeafPage{
		p:       p,
		sibling: payload[leafSiblingOffset : leafSiblingOffset+4],
		local:   slotted.New(payload[leafLocalOffset:]),
	}
}

// InitLeafPage initializes the local map. p's payload must already be
// cleared, which is what leaves the sibling pointer null.
func InitLeafPage(p *page.Page) {
	lp := WrapLeafPage(p)
	lp.local.Init()
}

func (l LeafPage) Sibling() page.Address {
	return page.Address(binary.LittleEndian.Uint32(l.sibling))
}

func (l LeafPage) SetSibling(a page.Address) {
	binary.LittleEndian.PutUint32(l.sibling, uint32(a))
}

// useThis routes a key to this page (true) or the sibling (false). The
// empty key always stays local: it has no last nibble to test.
func useThis(key nibble.Path) bool {
	if key.IsEmpty() {
		return true
	}
	return key.GetAt(key.Length()-1)%2 == 0
}

func setLeafPage(w batch.Writer, addr *page.Address, p *page.Page, key nibble.Path, data []byte) error {
	lp := WrapLeafPage(p)

	if len(data) == 0 {
		if useThis(key) {
			lp.local.Delete(key)
			return nil
		}
		sib := lp.Sibling()
		if sib.IsNull() {
			return nil
		}
		if err := SetAt(w, &sib, key, data); err != nil {
			return err
		}
		lp.SetSibling(sib)
		return nil
	}

	if useThis(key) {
		if lp.local.TrySet(key, data) {
			return nil
		}
		if lp.Sibling().IsNull() {
			if err := lp.splitOffSibling(w); err != nil {
				return err
			}
			if lp.local.TrySet(key, data) {
				return nil
			}
		}
		return promoteLeafPair(w, addr, p, lp, key, data)
	}

	sib := lp.Sibling()
	if sib.IsNull() {
		if err := lp.splitOffSibling(w); err != nil {
			return err
		}
		sib = lp.Sibling()
	}
	sibPage, err := w.EnsureWritableCopy(&sib)
	if err != nil {
		return err
	}
	lp.SetSibling(sib)
	sibLocal := WrapLeafPage(sibPage).local
	if sibLocal.TrySet(key, data) {
		return nil
	}
	return promoteLeafPair(w, addr, p, lp, key, data)
}

// splitOffSibling allocates a fresh sibling leaf and migrates every
// locally-held entry that routes to the sibling under useThis.
func (l LeafPage) splitOffSibling(w batch.Writer) error {
	sibPage, sibAddr, err := w.GetNewPage(true)
	if err != nil {
		return err
	}
	h := sibPage.Header()
	h.Type = page.TypeLeaf
	sibPage.SetHeader(h)
	InitLeafPage(sibPage)
	sibLocal := WrapLeafPage(sibPage).local

	type kv struct {
		k nibble.Path
		v []byte
	}
	var toMove []kv
	l.local.ForEach(func(k nibble.Path, v []byte) bool {
		if !useThis(k) {
			vc := make([]byte, len(v))
			copy(vc, v)
			toMove = append(toMove, kv{k: k, v: vc})
		}
		return true
	})
	for _, e := range toMove {
		l.local.Delete(e.k)
		if !sibLocal.TrySet(e.k, e.v) {
			return errs.New(errs.CorruptedPage, "leaf split: sibling rejected migrated key")
		}
	}
	l.SetSibling(sibAddr)
	return nil
}

// promoteLeafPair replaces this leaf and its sibling with a fresh
// DataPage holding every entry from both, then performs the pending Set
// on the new page (§4.4).
func promoteLeafPair(w batch.Writer, addr *page.Address, primary *page.Page, lp LeafPage, key nibble.Path, data []byte) error {
	newPage, newAddr, err := w.GetNewPage(true)
	if err != nil {
		return err
	}
	h := newPage.Header()
	h.Type = page.TypeStandard
	h.Level = primary.Header().Level
	newPage.SetHeader(h)
	InitDataPage(newPage)

	replay := func(src LeafPage) error {
		var inner error
		src.local.ForEach(func(k nibble.Path, v []byte) bool {
			if err := SetAt(w, &newAddr, k, v); err != nil {
				inner = err
				return false
			}
			return true
		})
		return inner
	}
	if err := replay(lp); err != nil {
		return err
	}
	if sib := lp.Sibling(); !sib.IsNull() {
		sibPage, err := w.GetAt(sib)
		if err != nil {
			return err
		}
		if err := replay(WrapLeafPage(sibPage)); err != nil {
			return err
		}
		if err := w.RegisterForFutureReuse(sibPage, false); err != nil {
			return err
		}
	}
	if err := w.RegisterForFutureReuse(primary, false); err != nil {
		return err
	}
	*addr = newAddr
	return SetAt(w, addr, key, data)
}

func tryGetLeafPage(r batch.Reader, p *page.Page, key nibble.Path) ([]byte, bool, error) {
	lp := WrapLeafPage(p)
	if useThis(key) {
		v, ok := lp.local.TryGet(key)
		return v, ok, nil
	}
	sib := lp.Sibling()
	if sib.IsNull() {
		return nil, false, nil
	}
	return TryGetAt(r, sib, key)
}

func deleteByPrefixLeafPage(w batch.Writer, addr *page.Address, p *page.Page, prefix nibble.Path) error {
	lp := WrapLeafPage(p)
	var toDelete []nibble.Path
	lp.local.ForEach(func(k nibble.Path, v []byte) bool {
		if hasPrefix(k, prefix) {
			toDelete = append(toDelete, k)
		}
		return true
	})
	for _, k := range toDelete {
		lp.local.Delete(k)
	}
	sib := lp.Sibling()
	if sib.IsNull() {
		return nil
	}
	if err := DeleteByPrefixAt(w, &sib, prefix); err != nil {
		return err
	}
	lp.SetSibling(sib)
	return nil
}

func hasPrefix(key, prefix nibble.Path) bool {
	if prefix.Length() > key.Length() {
		return false
	}
	for i := 0; i < prefix.Length(); i++ {
		if key.GetAt(i) != prefix.GetAt(i) {
			return false
		}
	}
	return true
}
