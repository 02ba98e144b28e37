package lsmforest

import (
	"context"
	"testing"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/manager"
	"github.com/arjunvaid/lsmforest/pkg/options"
)

func openTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := Open(context.Background(),
		options.WithDataDir(t.TempDir()),
		options.WithAutomergeEnabled(false),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { inst.Close() })
	return inst
}

func TestOpenWriteScanClose(t *testing.T) {
	inst := openTestInstance(t)

	segnum, err := inst.WriteSegment([]Pair{
		{Key: []byte("x"), Value: []byte("1")},
		{Key: []byte("y"), Value: []byte("2")},
	}, 0)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if segnum == 0 {
		t.Fatalf("expected a nonzero segment number")
	}

	c, release, err := inst.OpenCursor()
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer release()

	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	var keys []string
	for c.IsValid() {
		keys = append(keys, string(c.Key()))
		if err := c.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Fatalf("got %v, want [x y]", keys)
	}

	segments := inst.ListSegments()
	if len(segments) != 1 || segments[0] != segnum {
		t.Fatalf("ListSegments = %v, want [%d]", segments, segnum)
	}

	info, ok := inst.SegmentInfo(segnum)
	if !ok {
		t.Fatalf("SegmentInfo missing for %d", segnum)
	}
	if info.Level != 0 {
		t.Fatalf("Level = %d, want 0", info.Level)
	}
}

func TestManualMerge(t *testing.T) {
	inst := openTestInstance(t)

	if _, err := inst.WriteSegment([]Pair{{Key: []byte("a"), Value: []byte("1")}}, 0); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if _, err := inst.WriteSegment([]Pair{{Key: []byte("b"), Value: []byte("2")}}, 0); err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	merged, err := inst.Merge(0, 2, 8, manager.PromotionRule{Kind: manager.PromotionPromote})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !merged {
		t.Fatalf("expected a merge to happen")
	}

	segments := inst.ListSegments()
	if len(segments) != 1 {
		t.Fatalf("got %d segments after merge, want 1", len(segments))
	}
	info, ok := inst.SegmentInfo(segments[0])
	if !ok || info.Level != 1 {
		t.Fatalf("merged segment level = %+v, want level 1", info)
	}
}

func TestListFreeBlocksAndGetPage(t *testing.T) {
	inst := openTestInstance(t)

	segnum, err := inst.WriteSegment([]Pair{{Key: []byte("k"), Value: []byte("v")}}, 0)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	info, ok := inst.SegmentInfo(segnum)
	if !ok {
		t.Fatalf("SegmentInfo missing")
	}
	page, err := inst.GetPage(info.RootPage)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if len(page) == 0 {
		t.Fatalf("expected nonempty page content")
	}

	free := inst.ListFreeBlocks()
	if free.ContainsPage(block.PageNum(info.RootPage)) {
		t.Fatalf("segment's root page should not appear in the free list")
	}
}
