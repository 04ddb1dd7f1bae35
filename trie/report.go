package trie

import (
	"fmt"
	"io"

	"github.com/nibblestore/paged/batch"
	"github.com/nibblestore/paged/errs"
	"github.com/nibblestore/paged/page"
)

// ReportAt writes one line describing the page at addr — its type plus
// the occupancy/fan-out counters relevant to that type — without
// recursing into children. This is the §9 "report" entry of the per-type
// operation table; StateRootPage and MerkleStateRootPage reuse
// DataPage's and MerkleFanOutPage's reports since their layout is
// identical (see InitStateRootPage/InitMerkleStateRootPage).
func ReportAt(r batch.Reader, w io.Writer, addr page.Address) error {
	if addr.IsNull() {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	p, err := r.GetAt(addr)
	if err != nil {
		return err
	}
	switch p.Header().Type {
	case page.TypeStandard, page.TypeIdentity, page.TypeStateRoot:
		return reportDataPage(w, p)
	case page.TypeLeaf:
		return reportLeafPage(w, p)
	case page.TypeMerkleFanOut, page.TypeMerkleStateRoot:
		return reportMerkleFanOutPage(w, p)
	case page.TypeMerkleLeaf:
		return reportMerkleLeafPage(w, p)
	case page.TypeLeafOverflow:
		return reportLeafOverflowPage(w, p)
	case page.TypeUShort:
		return reportUShortPage(w, p)
	default:
		return errs.New(errs.CorruptedPage, "unexpected page type %s in Report dispatch", p.Header().Type)
	}
}

func countChildren(list page.AddressList) int {
	n := 0
	for i := 0; i < list.Len(); i++ {
		if !list.Get(i).IsNull() {
			n++
		}
	}
	return n
}

func reportDataPage(w io.Writer, p *page.Page) error {
	dp := WrapDataPage(p)
	local := dataPageLocal(p)
	_, err := fmt.Fprintf(w, "%s: buckets=%d/%d local=%d\n",
		p.Header().Type, countChildren(dp.buckets), dp.buckets.Len(), local.Count())
	return err
}

func reportLeafPage(w io.Writer, p *page.Page) error {
	lp := WrapLeafPage(p)
	_, err := fmt.Fprintf(w, "%s: local=%d sibling=%v\n",
		p.Header().Type, lp.local.Count(), lp.Sibling())
	return err
}

func reportMerkleFanOutPage(w io.Writer, p *page.Page) error {
	mf := WrapMerkleFanOutPage(p)
	cache := merkleFanOutCache(p)
	_, err := fmt.Fprintf(w, "%s: buckets=%d/%d local_nodes=%d/%d cache=%d\n",
		p.Header().Type, countChildren(mf.buckets), mf.buckets.Len(), countChildren(mf.localNodes), mf.localNodes.Len(), cache.Count())
	return err
}

func reportMerkleLeafPage(w io.Writer, p *page.Page) error {
	ml := WrapMerkleLeafPage(p)
	overflowCount := 0
	for i := 0; i < merkleLeafOverflowSlots; i++ {
		if !ml.overflowAt(i).IsNull() {
			overflowCount++
		}
	}
	_, err := fmt.Fprintf(w, "%s: local=%d overflow=%d/%d\n",
		p.Header().Type, ml.local.Count(), overflowCount, merkleLeafOverflowSlots)
	return err
}

func reportLeafOverflowPage(w io.Writer, p *page.Page) error {
	lo := WrapLeafOverflowPage(p)
	_, err := fmt.Fprintf(w, "%s: local=%d\n", p.Header().Type, lo.local.Count())
	return err
}

func reportUShortPage(w io.Writer, p *page.Page) error {
	u := WrapUShortPage(p)
	_, err := fmt.Fprintf(w, "%s: nodes=%d\n", p.Header().Type, u.m.Count())
	return err
}
