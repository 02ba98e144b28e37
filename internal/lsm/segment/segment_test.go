package segment

import (
	"bytes"
	"os"
	"testing"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/page"
)

func newTestWriter(t *testing.T, pageSize int) (*Writer, *os.File) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "segment-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	alloc := block.New(1, block.NewList(), 16, nil)
	return NewWriter(f, pageSize, alloc, nil), f
}

func TestBuildAndReadSegment(t *testing.T) {
	const pageSize = 256
	w, f := newTestWriter(t, pageSize)
	defer f.Close()

	pairs := []Pair{
		{Key: []byte("apple"), Value: []byte("a fruit")},
		{Key: []byte("banana"), Value: []byte("yellow")},
		{Key: []byte("cherry"), Value: []byte("red and small")},
		{Key: []byte("date"), Tombstone: true},
		{Key: []byte("elderberry"), Value: []byte("purple")},
		{Key: []byte("fig"), Value: []byte("sweet")},
		{Key: []byte("grape"), Value: []byte("in bunches")},
	}

	loc, err := Build(w, pageSize, pairs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if loc.RootPage == 0 {
		t.Fatalf("expected a nonzero root page")
	}

	got := readAll(t, f, pageSize, loc.RootPage)
	if len(got) != len(pairs) {
		t.Fatalf("got %d pairs, want %d", len(got), len(pairs))
	}
	for i, p := range pairs {
		if !bytes.Equal(got[i].Key, p.Key) {
			t.Fatalf("pair %d key = %q, want %q", i, got[i].Key, p.Key)
		}
	}
}

// readAll walks the tree rooted at root and returns every leaf entry in
// key order, the way a full scan would.
func readAll(t *testing.T, f *os.File, pageSize int, root uint32) []page.Entry {
	t.Helper()
	raw := readPage(t, f, pageSize, root)
	typ, err := page.ReadType(root, raw)
	if err != nil {
		t.Fatalf("ReadType: %v", err)
	}

	if typ == page.TypeLeaf {
		entries, err := page.DecodeLeaf(root, raw)
		if err != nil {
			t.Fatalf("DecodeLeaf: %v", err)
		}
		return entries
	}

	children, err := page.DecodeParent(root, raw)
	if err != nil {
		t.Fatalf("DecodeParent: %v", err)
	}
	var all []page.Entry
	for _, c := range children {
		all = append(all, readAll(t, f, pageSize, c.Page)...)
	}
	return all
}

func readPage(t *testing.T, f *os.File, pageSize int, pg uint32) []byte {
	t.Helper()
	buf := make([]byte, pageSize)
	if _, err := f.ReadAt(buf, int64(pg-1)*int64(pageSize)); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	return buf
}
