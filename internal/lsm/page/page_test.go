package page

import (
	"bytes"
	"testing"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
)

func emptyBlocks() *block.List {
	return block.NewList()
}

func TestLeafPageRoundTrip(t *testing.T) {
	entries := []Entry{
		{Key: []byte("apple"), Value: []byte("fruit")},
		{Key: []byte("apricot"), Value: []byte("also fruit")},
		{Key: []byte("banana"), Tombstone: true},
	}

	raw, err := EncodeLeaf(4096, entries)
	if err != nil {
		t.Fatalf("EncodeLeaf: %v", err)
	}

	got, err := DecodeLeaf(1, raw)
	if err != nil {
		t.Fatalf("DecodeLeaf: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if !bytes.Equal(got[i].Key, e.Key) {
			t.Fatalf("entry %d key = %q, want %q", i, got[i].Key, e.Key)
		}
		if got[i].Tombstone != e.Tombstone {
			t.Fatalf("entry %d tombstone = %v, want %v", i, got[i].Tombstone, e.Tombstone)
		}
		if !e.Tombstone && !bytes.Equal(got[i].Value, e.Value) {
			t.Fatalf("entry %d value = %q, want %q", i, got[i].Value, e.Value)
		}
	}
}

func TestLeafPageRejectsOverflow(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 8192)
	_, err := EncodeLeaf(512, []Entry{{Key: []byte("k"), Value: big}})
	if err == nil {
		t.Fatalf("expected an error encoding a page that doesn't fit")
	}
}

func TestFindEntry(t *testing.T) {
	entries := []Entry{
		{Key: []byte("b")},
		{Key: []byte("d")},
		{Key: []byte("f")},
	}

	if idx, ok := FindEntry(entries, []byte("d")); !ok || idx != 1 {
		t.Fatalf("exact match: got (%d,%v)", idx, ok)
	}
	if idx, ok := FindEntry(entries, []byte("c")); ok || idx != 1 {
		t.Fatalf("between entries: got (%d,%v)", idx, ok)
	}
	if idx, ok := FindEntry(entries, []byte("z")); ok || idx != len(entries) {
		t.Fatalf("past the end: got (%d,%v)", idx, ok)
	}
}

func TestParentPageRoundTrip(t *testing.T) {
	children := []Child{
		{Page: 10, Blocks: emptyBlocks(), FirstKey: []byte("apple")},
		{Page: 20, Blocks: emptyBlocks(), FirstKey: []byte("mango")},
	}

	raw, err := EncodeParent(4096, children)
	if err != nil {
		t.Fatalf("EncodeParent: %v", err)
	}

	got, err := DecodeParent(1, raw)
	if err != nil {
		t.Fatalf("DecodeParent: %v", err)
	}
	if len(got) != 2 || got[0].Page != 10 || got[1].Page != 20 {
		t.Fatalf("got %+v", got)
	}
}

func TestFindChild(t *testing.T) {
	children := []Child{
		{FirstKey: []byte("apple")},
		{FirstKey: []byte("mango")},
		{FirstKey: []byte("zebra")},
	}

	if i := FindChild(children, []byte("banana")); i != 0 {
		t.Fatalf("got %d, want 0", i)
	}
	if i := FindChild(children, []byte("mango")); i != 1 {
		t.Fatalf("got %d, want 1", i)
	}
	if i := FindChild(children, []byte("aardvark")); i != -1 {
		t.Fatalf("got %d, want -1", i)
	}
}
