package abandoned

import (
	"testing"

	"github.com/nibblestore/paged/page"
)

func newAbandonedPage(t *testing.T) Page {
	t.Helper()
	raw := make([]byte, page.Size)
	p := page.Wrap(raw)
	p.SetHeader(page.Header{Type: page.TypeAbandoned})
	a := Wrap(p)
	a.Init()
	return a
}

func TestPushPopOrder(t *testing.T) {
	a := newAbandonedPage(t)
	a.TryPush(10)
	a.TryPush(20)
	a.TryPush(30)

	for _, want := range []page.Address{30, 20, 10} {
		got, ok := a.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d, %v, want %d, true", got, ok, want)
		}
	}
	if _, ok := a.TryPop(); ok {
		t.Fatalf("TryPop on an empty page must report false")
	}
}

func TestConsecutiveAddressesCoalesce(t *testing.T) {
	a := newAbandonedPage(t)
	a.TryPush(5)
	a.TryPush(6)
	a.TryPush(7)
	// 5 and 6 share one packed slot; 7 takes a slot of its own.
	if a.Count() != 2 {
		t.Fatalf("Count() = %d, want 2 after pushing a consecutive run", a.Count())
	}
	for _, want := range []page.Address{7, 6, 5} {
		got, ok := a.TryPop()
		if !ok || got != want {
			t.Fatalf("TryPop() = %d, %v, want %d, true", got, ok, want)
		}
	}
}

func TestIsFull(t *testing.T) {
	a := newAbandonedPage(t)
	for i := 0; i < MaxCount; i++ {
		// skip every other value so entries never coalesce, forcing the
		// page to actually fill up one slot per push.
		if !a.TryPush(page.Address(i * 2)) {
			t.Fatalf("TryPush(%d) unexpectedly failed before reaching MaxCount", i)
		}
	}
	if !a.IsFull() {
		t.Fatalf("expected IsFull() after MaxCount non-coalescing pushes")
	}
	if a.TryPush(999999) {
		t.Fatalf("TryPush on a full, non-coalescing page must fail")
	}
}

func TestCreateChainSpansMultiplePages(t *testing.T) {
	var allocated []*page.Page
	newPage := func() (*page.Page, page.Address) {
		raw := make([]byte, page.Size)
		p := page.Wrap(raw)
		p.SetHeader(page.Header{Type: page.TypeAbandoned})
		allocated = append(allocated, p)
		return p, page.Address(len(allocated))
	}

	addrs := make([]page.Address, 0, MaxCount+5)
	for i := 0; i < MaxCount+5; i++ {
		addrs = append(addrs, page.Address(i*2)) // non-coalescing
	}

	head := CreateChain(addrs, newPage)
	if head.IsNull() {
		t.Fatalf("CreateChain returned a null head for a non-empty list")
	}
	if len(allocated) < 2 {
		t.Fatalf("expected CreateChain to span at least 2 pages, got %d", len(allocated))
	}

	headPage := Wrap(allocated[head-1])
	if headPage.Next().IsNull() {
		t.Fatalf("head page's Next must point at the overflow page")
	}
}

func TestCreateChainEmptyIsNull(t *testing.T) {
	calls := 0
	newPage := func() (*page.Page, page.Address) {
		calls++
		return page.Wrap(make([]byte, page.Size)), page.Address(calls)
	}
	if head := CreateChain(nil, newPage); !head.IsNull() {
		t.Fatalf("CreateChain(nil) = %d, want NullAddress", head)
	}
	if calls != 0 {
		t.Fatalf("CreateChain(nil) must not allocate any page")
	}
}
