package header

import (
	"os"
	"testing"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/pkg/options"
)

func TestOpenFreshFileInitializesHeader(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "header-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	opts := options.NewDefaultOptions()
	data, pageSize, nextPage, err := Open(f, opts, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if pageSize != int(opts.PageSize) {
		t.Fatalf("pageSize = %d, want %d", pageSize, opts.PageSize)
	}
	if len(data.CurrentState) != 0 {
		t.Fatalf("expected empty CurrentState on fresh file, got %v", data.CurrentState)
	}
	if data.NextSegment != 1 {
		t.Fatalf("NextSegment = %d, want 1", data.NextSegment)
	}
	wantNextPage := block.PageNum(SizeInBytes/int(opts.PageSize) + 1)
	if nextPage != wantNextPage {
		t.Fatalf("nextPage = %d, want %d", nextPage, wantNextPage)
	}
}

func TestWriteThenOpenRoundTrips(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "header-*.db")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	opts := options.NewDefaultOptions()
	data, pageSize, _, err := Open(f, opts, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	blocks := block.NewList()
	blocks.AddBlockNoReorder(block.NewBlock(10, 12))
	data.CurrentState = []block.SegmentNum{1}
	data.Segments[1] = SegmentInfo{RootPage: 10, Blocks: blocks, Level: 0}
	data.NextSegment = 2
	data.ChangeCounter = 5

	if err := Write(f, data, pageSize); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Pad the file past the header so Open takes the recovery path, which
	// requires file size > 0 and reads back exactly what was written.
	if err := f.Truncate(int64(pageSize) * 20); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	reopened, reopenedPageSize, _, err := Open(f, opts, nil)
	if err != nil {
		t.Fatalf("Open (recover): %v", err)
	}
	if reopenedPageSize != pageSize {
		t.Fatalf("pageSize = %d, want %d", reopenedPageSize, pageSize)
	}
	if len(reopened.CurrentState) != 1 || reopened.CurrentState[0] != 1 {
		t.Fatalf("CurrentState = %v, want [1]", reopened.CurrentState)
	}
	info, ok := reopened.Segments[1]
	if !ok {
		t.Fatalf("segment 1 missing after recovery")
	}
	if info.RootPage != 10 {
		t.Fatalf("RootPage = %d, want 10", info.RootPage)
	}
	if reopened.NextSegment != 2 {
		t.Fatalf("NextSegment = %d, want 2", reopened.NextSegment)
	}
	if reopened.ChangeCounter != 5 {
		t.Fatalf("ChangeCounter = %d, want 5", reopened.ChangeCounter)
	}
}

func TestAllInUsePagesIncludesHeaderAndSegments(t *testing.T) {
	data := &Data{
		Segments: map[block.SegmentNum]SegmentInfo{
			1: {RootPage: 300, Blocks: func() *block.List {
				l := block.NewList()
				l.AddBlockNoReorder(block.NewBlock(300, 305))
				return l
			}()},
		},
	}
	pages := AllInUsePages(data, 4096)
	if !pages.ContainsPage(1) {
		t.Fatalf("expected header page 1 to be in use")
	}
	if !pages.ContainsPage(300) || !pages.ContainsPage(305) {
		t.Fatalf("expected segment range to be in use")
	}
}
