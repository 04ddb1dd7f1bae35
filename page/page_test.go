package page

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	raw := make([]byte, Size)
	p := Wrap(raw)
	h := Header{BatchID: 7, Version: CurrentVersion, Type: TypeLeaf, Level: 2, Meta: 0xAB}
	p.SetHeader(h)

	got := p.Header()
	if got != h {
		t.Fatalf("header round trip: got %+v, want %+v", got, h)
	}
	if len(p.Payload()) != PayloadSize {
		t.Fatalf("payload length = %d, want %d", len(p.Payload()), PayloadSize)
	}
}

func TestWrapPanicsOnWrongSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic wrapping a short buffer")
		}
	}()
	Wrap(make([]byte, Size-1))
}

func TestClearLeavesHeaderAlone(t *testing.T) {
	raw := make([]byte, Size)
	p := Wrap(raw)
	h := Header{BatchID: 1, Type: TypeStandard}
	p.SetHeader(h)
	p.Payload()[0] = 0xFF

	p.Clear()

	if p.Header() != h {
		t.Fatalf("Clear must not touch the header")
	}
	for i, b := range p.Payload() {
		if b != 0 {
			t.Fatalf("payload byte %d not cleared: %#x", i, b)
		}
	}
}

func TestCopyInto(t *testing.T) {
	src := Wrap(make([]byte, Size))
	dst := Wrap(make([]byte, Size))
	h := Header{BatchID: 42, Type: TypeFanOut, Level: 3}
	src.SetHeader(h)
	src.Payload()[10] = 0x99

	src.CopyInto(dst)

	if dst.Header() != h {
		t.Fatalf("CopyInto did not copy header")
	}
	if dst.Payload()[10] != 0x99 {
		t.Fatalf("CopyInto did not copy payload")
	}
}

func TestTypeStringIsTotal(t *testing.T) {
	for v := TypeNone; v <= TypeRoot; v++ {
		if v.String() == "Unknown" {
			t.Fatalf("page.Type.String is missing a case for %d", v)
		}
	}
	if Type(200).String() != "Unknown" {
		t.Fatalf("page.Type.String should fall back to Unknown for out-of-range values")
	}
}
