package trie

import (
	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/page"
)

// Reclaim walks the entire subtree rooted at addr and registers every page
// in it for future reuse, used by DeleteByPrefix when a short prefix wipes
// out a whole bucket rather than recursing into it (§4.3, §8 "no page
// newly reachable" after a delete).
func Reclaim(w batch.Writer, addr page.Address) error {
	if addr.IsNull() {
		return nil
	}
	p, err := w.GetAt(addr)
	if err != nil {
		return err
	}
	switch p.Header().Type {
	case page.TypeStandard, page.TypeIdentity, page.TypeStateRoot:
		dp := WrapDataPage(p)
		for i := 0; i < dp.buckets.Len(); i++ {
			if err := Reclaim(w, dp.buckets.Get(i)); err != nil {
				return err
			}
		}
	case page.TypeLeaf:
		lp := WrapLeafPage(p)
		if err := Reclaim(w, lp.Sibling()); err != nil {
			return err
		}
	case page.TypeLeafOverflow:
		// flat, no children of its own.
	case page.TypeMerkleFanOut, page.TypeMerkleStateRoot:
		mf := WrapMerkleFanOutPage(p)
		for i := 0; i < mf.localNodes.Len(); i++ {
			if err := Reclaim(w, mf.localNodes.Get(i)); err != nil {
				return err
			}
		}
		for i := 0; i < mf.buckets.Len(); i++ {
			if err := Reclaim(w, mf.buckets.Get(i)); err != nil {
				return err
			}
		}
	case page.TypeMerkleLeaf:
		ml := WrapMerkleLeafPage(p)
		for i := 0; i < merkleLeafOverflowSlots; i++ {
			if err := Reclaim(w, ml.overflowAt(i)); err != nil {
				return err
			}
		}
	case page.TypeUShort:
		// flat, no children of its own.
	default:
		return errs.New(errs.CorruptedPage, "unexpected page type %s in Reclaim", p.Header().Type)
	}
	return w.RegisterForFutureReuse(p, false)
}
