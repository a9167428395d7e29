package btree

import (
	"fmt"
	"testing"

	"github.com/mavibot/mavibot/pkg/serial"
)

func TestTypedTreeInsertGetDelete(t *testing.T) {
	io := newMemStore()
	tr := Open[uint64, string](io, NoRoot, Options{Order: 4}, serial.Uint64Serializer{}, serial.StringSerializer{})

	for i := uint64(0); i < 40; i++ {
		if _, err := tr.Insert(1, i, "v"); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}
	for i := uint64(0); i < 40; i++ {
		v, ok, err := tr.Get(i)
		if err != nil || !ok || v != "v" {
			t.Fatalf("Get(%d): v=%q ok=%v err=%v", i, v, ok, err)
		}
	}

	existed, err := tr.Delete(2, 10, nil)
	if err != nil || !existed {
		t.Fatalf("Delete(10): existed=%v err=%v", existed, err)
	}
	if ok, _ := tr.HasKey(10); ok {
		t.Errorf("expected key 10 gone")
	}
}

func TestTypedTreeBrowseOrdered(t *testing.T) {
	io := newMemStore()
	tr := Open[uint64, string](io, NoRoot, Options{Order: 4}, serial.Uint64Serializer{}, serial.StringSerializer{})
	for _, i := range []uint64{5, 1, 4, 2, 3} {
		if _, err := tr.Insert(1, i, "x"); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	cur, err := tr.Browse()
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	var want uint64 = 1
	for cur.Next() {
		k, err := cur.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if k != want {
			t.Fatalf("expected %d, got %d", want, k)
		}
		want++
	}
	if want != 6 {
		t.Errorf("expected to visit 5 keys, stopped at %d", want)
	}
}

func TestTypedTreeBrowseBackwardReversesBrowse(t *testing.T) {
	io := newMemStore()
	tr := Open[uint64, string](io, NoRoot, Options{Order: 4}, serial.Uint64Serializer{}, serial.StringSerializer{})
	for i := uint64(1); i <= 5; i++ {
		if _, err := tr.Insert(1, i, fmt.Sprint(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	fwd, err := tr.Browse()
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	var forward []uint64
	for fwd.Next() {
		k, err := fwd.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		forward = append(forward, k)
	}

	back, err := tr.BrowseBackward()
	if err != nil {
		t.Fatalf("BrowseBackward: %v", err)
	}
	var backward []uint64
	for back.Prev() {
		k, err := back.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		backward = append(backward, k)
	}

	if len(forward) != len(backward) {
		t.Fatalf("forward has %d keys, backward has %d", len(forward), len(backward))
	}
	for i := range forward {
		if forward[i] != backward[len(backward)-1-i] {
			t.Fatalf("backward is not the reverse of forward: forward=%v backward=%v", forward, backward)
		}
	}
}

func TestTypedTreeBrowseFromMissThenPrevFindsLastElement(t *testing.T) {
	io := newMemStore()
	tr := Open[uint64, string](io, NoRoot, Options{Order: 4}, serial.Uint64Serializer{}, serial.StringSerializer{})
	for i := uint64(0); i <= 1000; i += 2 {
		if _, err := tr.Insert(1, i, fmt.Sprint(i)); err != nil {
			t.Fatalf("Insert(%d): %v", i, err)
		}
	}

	cur, err := tr.BrowseFrom(1500)
	if err != nil {
		t.Fatalf("BrowseFrom: %v", err)
	}
	if cur.HasNext() {
		t.Fatalf("expected no key >= 1500")
	}
	if !cur.Prev() {
		t.Fatalf("expected Prev to find the tree's last element")
	}
	k, err := cur.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	v, err := cur.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if k != 1000 || v != "1000" {
		t.Fatalf("expected (1000, \"1000\"), got (%d, %q)", k, v)
	}
}

func TestTypedTreeDuplicatesVisitEveryPairInAscendingOrder(t *testing.T) {
	io := newMemStore()
	tr := Open[uint64, string](io, NoRoot, Options{Order: 4, AllowDuplicates: true, DupThreshold: 8}, serial.Uint64Serializer{}, serial.StringSerializer{})

	inserts := []struct {
		k uint64
		v string
	}{
		{1, "1"}, {1, "4"}, {1, "2"},
		{2, "3"},
		{3, "5"}, {3, "7"}, {3, "6"},
	}
	for _, p := range inserts {
		if _, err := tr.Insert(1, p.k, p.v); err != nil {
			t.Fatalf("Insert(%d,%q): %v", p.k, p.v, err)
		}
	}

	cur, err := tr.Browse()
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	var gotKeys []uint64
	var gotVals []string
	for cur.Next() {
		k, err := cur.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		v, err := cur.Value()
		if err != nil {
			t.Fatalf("Value: %v", err)
		}
		gotKeys = append(gotKeys, k)
		gotVals = append(gotVals, v)
	}

	wantKeys := []uint64{1, 1, 1, 2, 3, 3, 3}
	wantVals := []string{"1", "2", "4", "3", "5", "6", "7"}
	if len(gotKeys) != len(wantKeys) {
		t.Fatalf("expected %d (key,value) pairs, got %d: keys=%v vals=%v", len(wantKeys), len(gotKeys), gotKeys, gotVals)
	}
	for i := range wantKeys {
		if gotKeys[i] != wantKeys[i] || gotVals[i] != wantVals[i] {
			t.Fatalf("pair %d: want (%d,%q), got (%d,%q)", i, wantKeys[i], wantVals[i], gotKeys[i], gotVals[i])
		}
	}
}

func TestTypedTreeDuplicatesBrowseBackwardReversesForward(t *testing.T) {
	io := newMemStore()
	tr := Open[uint64, string](io, NoRoot, Options{Order: 4, AllowDuplicates: true, DupThreshold: 8}, serial.Uint64Serializer{}, serial.StringSerializer{})
	for _, p := range []struct {
		k uint64
		v string
	}{
		{1, "1"}, {1, "4"}, {1, "2"},
		{2, "3"},
		{3, "5"}, {3, "7"}, {3, "6"},
	} {
		if _, err := tr.Insert(1, p.k, p.v); err != nil {
			t.Fatalf("Insert(%d,%q): %v", p.k, p.v, err)
		}
	}

	fwd, err := tr.Browse()
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	var forward []string
	for fwd.Next() {
		v, err := fwd.Value()
		if err != nil {
			t.Fatalf("Value: %v", err)
		}
		forward = append(forward, v)
	}

	back, err := tr.BrowseBackward()
	if err != nil {
		t.Fatalf("BrowseBackward: %v", err)
	}
	var backward []string
	for back.Prev() {
		v, err := back.Value()
		if err != nil {
			t.Fatalf("Value: %v", err)
		}
		backward = append(backward, v)
	}

	if len(forward) != len(backward) {
		t.Fatalf("forward has %d values, backward has %d", len(forward), len(backward))
	}
	for i := range forward {
		if forward[i] != backward[len(backward)-1-i] {
			t.Fatalf("backward is not the reverse of forward: forward=%v backward=%v", forward, backward)
		}
	}
}

func TestTypedTreeDuplicatesOverflowPreservesSortedOrder(t *testing.T) {
	io := newMemStore()
	tr := Open[uint64, uint64](io, NoRoot, Options{Order: 4, AllowDuplicates: true, DupThreshold: 3}, serial.Uint64Serializer{}, serial.Uint64Serializer{})
	for _, v := range []uint64{50, 10, 40, 20, 30} {
		if _, err := tr.Insert(1, 7, v); err != nil {
			t.Fatalf("Insert(7,%d): %v", v, err)
		}
	}

	cur, err := tr.Browse()
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	var got []uint64
	for cur.Next() {
		v, err := cur.Value()
		if err != nil {
			t.Fatalf("Value: %v", err)
		}
		got = append(got, v)
	}
	want := []uint64{10, 20, 30, 40, 50}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: want %d, got %v", i, want[i], got)
		}
	}
}

func TestTypedTreeDuplicatesContains(t *testing.T) {
	io := newMemStore()
	tr := Open[string, uint64](io, NoRoot, Options{Order: 4, AllowDuplicates: true, DupThreshold: 2}, serial.StringSerializer{}, serial.Uint64Serializer{})

	for _, v := range []uint64{100, 200, 300} {
		if _, err := tr.Insert(1, "group", v); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	for _, v := range []uint64{100, 200, 300} {
		ok, err := tr.Contains("group", v)
		if err != nil || !ok {
			t.Fatalf("Contains(%d): ok=%v err=%v", v, ok, err)
		}
	}
	ok, err := tr.Contains("group", 999)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if ok {
		t.Errorf("expected 999 absent")
	}
}
