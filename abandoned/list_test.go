package abandoned

import (
	"testing"

	"github.com/nibblestore/paged/page"
)

func newList(t *testing.T) List {
	t.Helper()
	return NewList(make([]byte, ListByteSize))
}

func TestAppendAndLookup(t *testing.T) {
	l := newList(t)
	if !l.Append(1, 100) {
		t.Fatalf("Append on an empty list must succeed")
	}
	if !l.Append(2, 200) {
		t.Fatalf("second Append must succeed")
	}
	if l.EntriesCount() != 2 {
		t.Fatalf("EntriesCount() = %d, want 2", l.EntriesCount())
	}
	if l.BatchIDAt(0) != 1 || l.AddressAt(0) != 100 {
		t.Fatalf("entry 0 = (%d, %d), want (1, 100)", l.BatchIDAt(0), l.AddressAt(0))
	}
	if l.BatchIDAt(1) != 2 || l.AddressAt(1) != 200 {
		t.Fatalf("entry 1 = (%d, %d), want (2, 200)", l.BatchIDAt(1), l.AddressAt(1))
	}
}

func TestAppendFailsWhenFull(t *testing.T) {
	l := newList(t)
	for i := 0; i < MaxListEntries; i++ {
		if !l.Append(uint32(i), page.Address(i)) {
			t.Fatalf("Append(%d) unexpectedly failed before reaching MaxListEntries", i)
		}
	}
	if l.Append(9999, 9999) {
		t.Fatalf("Append on a full list must fail")
	}
}

func TestRemoveAtCompacts(t *testing.T) {
	l := newList(t)
	l.Append(1, 10)
	l.Append(2, 20)
	l.Append(3, 30)

	l.RemoveAt(1) // remove the middle entry

	if l.EntriesCount() != 2 {
		t.Fatalf("EntriesCount() = %d, want 2", l.EntriesCount())
	}
	if l.BatchIDAt(0) != 1 || l.AddressAt(0) != 10 {
		t.Fatalf("entry 0 changed unexpectedly: (%d, %d)", l.BatchIDAt(0), l.AddressAt(0))
	}
	if l.BatchIDAt(1) != 3 || l.AddressAt(1) != 30 {
		t.Fatalf("entry 1 after compaction = (%d, %d), want (3, 30)", l.BatchIDAt(1), l.AddressAt(1))
	}
}

func TestHighestBatchIDSlot(t *testing.T) {
	l := newList(t)
	l.Append(5, 1)
	l.Append(9, 2)
	l.Append(3, 3)
	if got := l.HighestBatchIDSlot(); got != 1 {
		t.Fatalf("HighestBatchIDSlot() = %d, want 1", got)
	}
}

func TestCurrentRoundTrips(t *testing.T) {
	l := newList(t)
	l.SetCurrent(page.Address(77))
	if l.Current() != 77 {
		t.Fatalf("Current() = %d, want 77", l.Current())
	}
}
