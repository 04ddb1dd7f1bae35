package nibble

import "testing"

func TestFromKeyAndGetAt(t *testing.T) {
	p := FromKey([]byte{0xAB, 0xCD})
	if p.Length() != 4 {
		t.Fatalf("Length() = %d, want 4", p.Length())
	}
	want := []byte{0xA, 0xB, 0xC, 0xD}
	for i, w := range want {
		if got := p.GetAt(i); got != w {
			t.Fatalf("GetAt(%d) = %x, want %x", i, got, w)
		}
	}
}

func TestSliceFromAndSliceTo(t *testing.T) {
	p := FromKey([]byte{0x12, 0x34})
	mid := p.SliceFrom(1)
	if mid.Length() != 3 || mid.GetAt(0) != 0x2 {
		t.Fatalf("SliceFrom(1) = %v (len %d), want starting nibble 2", mid, mid.Length())
	}
	head := p.SliceTo(1)
	if head.Length() != 1 || head.GetAt(0) != 0x1 {
		t.Fatalf("SliceTo(1) wrong: %v", head)
	}
	if !p.SliceFrom(p.Length()).IsEmpty() {
		t.Fatalf("SliceFrom(Length()) must be empty")
	}
}

func TestEqual(t *testing.T) {
	a := FromKey([]byte{0x12, 0x34})
	b := FromKey([]byte{0x12, 0x34})
	c := FromKey([]byte{0x12, 0x35})
	if !a.Equal(b) {
		t.Fatalf("identical keys must be Equal")
	}
	if a.Equal(c) {
		t.Fatalf("differing keys must not be Equal")
	}
	if !a.SliceFrom(2).Equal(FromKey([]byte{0x34})) {
		t.Fatalf("sliced path must equal the directly constructed suffix")
	}
}

func TestRawBytesByteAlignedAndUnaligned(t *testing.T) {
	p := FromKey([]byte{0xAB, 0xCD})
	if got := p.RawBytes(); len(got) != 2 || got[0] != 0xAB || got[1] != 0xCD {
		t.Fatalf("RawBytes() = %x, want ab cd", got)
	}
	odd := p.SliceFrom(1) // offset 1, length 3: not byte-aligned
	if got := odd.RawBytes(); got[0] != 0xBC || got[1] != 0xD0 {
		t.Fatalf("RawBytes() on unaligned slice = %x, want bc d0", got)
	}
}

func TestStringRendersHex(t *testing.T) {
	p := FromKey([]byte{0xAB})
	if p.String() != "ab" {
		t.Fatalf("String() = %q, want \"ab\"", p.String())
	}
}

func TestGetAtPanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic indexing past Length()")
		}
	}()
	Empty.GetAt(0)
}
