package header

import "testing"

func TestEncodeDecodeRoundtrip(t *testing.T) {
	h := Header{
		Version:          1,
		Seq:              42,
		PageSize:         4096,
		TreeOfTreesRoot:  128,
		FreePageListHead: NoOffset,
		CurrentRevision:  7,
	}
	buf := Encode(h)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != h {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := Encode(Header{Version: 1, PageSize: 512})
	buf[0] = 'X'
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected bad-magic error")
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	buf := Encode(Header{Version: 1, PageSize: 512, Seq: 1})
	buf[20] ^= 0xFF // flip a byte inside TreeOfTreesRoot, checksum now stale
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected checksum error")
	}
}

func TestChoosePicksHigherSeq(t *testing.T) {
	a := Encode(Header{Version: 1, PageSize: 512, Seq: 5, CurrentRevision: 5})
	b := Encode(Header{Version: 1, PageSize: 512, Seq: 6, CurrentRevision: 6})

	got, err := Choose(a, b)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if got.Seq != 6 {
		t.Errorf("expected seq 6 to win, got %d", got.Seq)
	}
}

// TestChooseSurvivesTornWrite simulates spec.md scenario 4 (crash atomicity):
// a commit in progress has written garbage into the non-authoritative slot
// but never completed its sync, so the old, still-valid slot must win.
func TestChooseSurvivesTornWrite(t *testing.T) {
	good := Encode(Header{Version: 1, PageSize: 512, Seq: 3, CurrentRevision: 3})
	torn := make([]byte, Size) // all zero: bad magic, simulating a crash mid-write

	got, err := Choose(good, torn)
	if err != nil {
		t.Fatalf("Choose: %v", err)
	}
	if got.Seq != 3 {
		t.Errorf("expected surviving slot (seq 3), got seq %d", got.Seq)
	}
}

func TestChooseFailsWhenBothSlotsCorrupt(t *testing.T) {
	torn := make([]byte, Size)
	if _, err := Choose(torn, torn); err == nil {
		t.Fatal("expected CorruptFile-equivalent error when both slots are invalid")
	}
}
