package manager

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/header"
	"github.com/arjunvaid/lsmforest/internal/lsm/segment"
	"github.com/arjunvaid/lsmforest/pkg/logger"
	"github.com/arjunvaid/lsmforest/pkg/options"
)

func newTestManager(t *testing.T, opts options.OptionFunc) *Manager {
	t.Helper()
	opt := options.NewDefaultOptions()
	funcs := []options.OptionFunc{
		options.WithDataDir(t.TempDir()),
		options.WithAutomergeEnabled(false),
	}
	if opts != nil {
		funcs = append(funcs, opts)
	}
	for _, f := range funcs {
		f(&opt)
	}

	m, err := New(context.Background(), &Config{Options: &opt, Logger: logger.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func writeSegment(t *testing.T, m *Manager, pairs []segment.Pair, level uint32) {
	t.Helper()
	w := m.NewWriter()
	loc, err := segment.Build(w, m.PageSize(), pairs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := m.CommitSegment(loc, level); err != nil {
		t.Fatalf("CommitSegment: %v", err)
	}
}

func scanAll(t *testing.T, m *Manager) ([]string, []string) {
	t.Helper()
	c, release, err := m.OpenCursor()
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer release()

	var keys, values []string
	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	for c.IsValid() {
		keys = append(keys, string(c.Key()))
		v, err := c.Value()
		if err != nil {
			t.Fatalf("Value: %v", err)
		}
		values = append(values, string(v))
		if err := c.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return keys, values
}

// TestInsertionAndScan is spec.md §8 scenario 1.
func TestInsertionAndScan(t *testing.T) {
	m := newTestManager(t, nil)

	var pairs []segment.Pair
	for i := 0; i < 100; i++ {
		pairs = append(pairs, segment.Pair{
			Key:   []byte(fmt.Sprintf("%08d", i)),
			Value: []byte(fmt.Sprintf("%d", i*2)),
		})
	}
	writeSegment(t, m, pairs, 0)

	keys, values := scanAll(t, m)
	if len(keys) != 100 {
		t.Fatalf("got %d keys, want 100", len(keys))
	}
	if keys[0] != "00000000" || keys[99] != "00000099" {
		t.Fatalf("keys[0]=%q keys[99]=%q", keys[0], keys[99])
	}
	if values[0] != "0" || values[99] != "198" {
		t.Fatalf("values[0]=%q values[99]=%q", values[0], values[99])
	}
}

// TestTombstoneShadowing is spec.md §8 scenario 2.
func TestTombstoneShadowing(t *testing.T) {
	m := newTestManager(t, nil)

	writeSegment(t, m, []segment.Pair{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
		{Key: []byte("d"), Value: []byte("4")},
	}, 0)
	writeSegment(t, m, []segment.Pair{
		{Key: []byte("b"), Tombstone: true},
	}, 0)

	keys, values := scanAll(t, m)
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "c" || keys[2] != "d" {
		t.Fatalf("got keys %v, want [a c d]", keys)
	}
	if values[0] != "1" || values[1] != "3" || values[2] != "4" {
		t.Fatalf("got values %v, want [1 3 4]", values)
	}
}

// TestOverwriteNewestWins is spec.md §8 scenario 3.
func TestOverwriteNewestWins(t *testing.T) {
	m := newTestManager(t, nil)

	writeSegment(t, m, []segment.Pair{{Key: []byte("b"), Value: []byte("2")}}, 0)
	writeSegment(t, m, []segment.Pair{{Key: []byte("b"), Value: []byte("5")}}, 0)

	c, release, err := m.OpenCursor()
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer release()

	if err := c.First(); err != nil {
		t.Fatalf("First: %v", err)
	}
	val, err := c.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if string(val) != "5" {
		t.Fatalf("Value = %q, want 5", val)
	}
}

// TestMergeDropsTombstonesAtTail is spec.md §8 scenario 5.
func TestMergeDropsTombstonesAtTail(t *testing.T) {
	m := newTestManager(t, nil)

	writeSegment(t, m, []segment.Pair{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}, 0)
	writeSegment(t, m, []segment.Pair{
		{Key: []byte("b"), Tombstone: true},
	}, 0)

	pm, err := m.PlanMerge(0, 1, 8, PromotionRule{Kind: PromotionPromote})
	if err != nil {
		t.Fatalf("planMerge: %v", err)
	}
	if pm == nil {
		t.Fatalf("expected a pending merge")
	}
	if _, err := m.CommitMerge(*pm); err != nil {
		t.Fatalf("CommitMerge: %v", err)
	}

	segments := m.ListSegments()
	if len(segments) != 1 {
		t.Fatalf("got %d live segments, want 1", len(segments))
	}

	keys, values := scanAll(t, m)
	if len(keys) != 1 || keys[0] != "a" || values[0] != "1" {
		t.Fatalf("got keys %v values %v, want [a] [1]", keys, values)
	}
}

// TestFreeBlocksAccountForEverySegment is a lighter sanity check than
// TestAutomergePageUniverseAccounting below: after writing several
// segments with no merges, no page of a live segment is also on the free
// list.
func TestFreeBlocksAccountForEverySegment(t *testing.T) {
	m := newTestManager(t, nil)

	for s := 0; s < 25; s++ {
		var pairs []segment.Pair
		for i := 0; i < 10; i++ {
			pairs = append(pairs, segment.Pair{
				Key:   []byte(fmt.Sprintf("s%03d-k%03d", s, i)),
				Value: []byte(fmt.Sprintf("v%d", i)),
			})
		}
		writeSegment(t, m, pairs, 0)
	}

	segments := m.ListSegments()
	if len(segments) != 25 {
		t.Fatalf("got %d live segments, want 25", len(segments))
	}

	free := m.FreeBlocks()
	for _, segnum := range segments {
		info, ok := m.SegmentInfo(segnum)
		if !ok {
			t.Fatalf("segment %d missing info", segnum)
		}
		for _, blk := range info.Blocks.Blocks() {
			for pg := blk.First; pg <= blk.Last; pg++ {
				if free.ContainsPage(pg) {
					t.Fatalf("page %d is both live (segment %d) and free", pg, segnum)
				}
			}
		}
	}
}

// waitForAutomergeQuiescence polls the live segment count until it stops
// changing across consecutive checks, meaning every automerge message
// sent so far has been processed and no merge is still in flight.
func waitForAutomergeQuiescence(t *testing.T, m *Manager) {
	t.Helper()
	const (
		checkInterval = 5 * time.Millisecond
		stableRounds  = 10
		timeout       = 5 * time.Second
	)

	deadline := time.Now().Add(timeout)
	stable := 0
	last := -1
	for time.Now().Before(deadline) {
		n := len(m.ListSegments())
		if n == last {
			stable++
			if stable >= stableRounds {
				return
			}
		} else {
			stable = 0
			last = n
		}
		time.Sleep(checkInterval)
	}
	t.Fatalf("automerge did not quiesce within %s", timeout)
}

// TestAutomergePageUniverseAccounting is spec.md §8 scenario 6: after
// automerge has run to quiescence, every page in the file's page universe
// belongs to exactly one of the header, a live segment, or the free list —
// no gaps, no overlaps, and no pages leaked by allocation waste.
func TestAutomergePageUniverseAccounting(t *testing.T) {
	opt := options.NewDefaultOptions()
	for _, f := range []options.OptionFunc{
		options.WithDataDir(t.TempDir()),
		options.WithAutomergeEnabled(true),
		options.WithMergeSegmentBounds(2, 4),
	} {
		f(&opt)
	}

	m, err := New(context.Background(), &Config{Options: &opt, Logger: logger.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	const numSegments = 40
	for s := 0; s < numSegments; s++ {
		pairs := []segment.Pair{
			{Key: []byte(fmt.Sprintf("s%03d-a", s)), Value: []byte("1")},
			{Key: []byte(fmt.Sprintf("s%03d-b", s)), Value: []byte("2")},
		}
		writeSegment(t, m, pairs, 0)
	}

	waitForAutomergeQuiescence(t, m)

	headerPages := block.PageCount((header.SizeInBytes + m.PageSize() - 1) / m.PageSize())
	segments := m.ListSegments()
	free := m.FreeBlocks()

	maxPage := block.PageNum(headerPages)
	// FreeBlocks is sorted by size, not by page, so scan every block.
	for _, blk := range free.Blocks() {
		if blk.Last > maxPage {
			maxPage = blk.Last
		}
	}
	infos := make(map[block.SegmentNum]header.SegmentInfo, len(segments))
	for _, segnum := range segments {
		info, ok := m.SegmentInfo(segnum)
		if !ok {
			t.Fatalf("missing info for segment %d", segnum)
		}
		infos[segnum] = info
		if p := info.Blocks.LastPage(); p > maxPage {
			maxPage = p
		}
	}

	owners := make([]int, maxPage+1) // 1-indexed; owners[0] unused
	for pg := block.PageNum(1); pg <= block.PageNum(headerPages); pg++ {
		owners[pg]++
	}
	for _, blk := range free.Blocks() {
		for pg := blk.First; pg <= blk.Last; pg++ {
			owners[pg]++
		}
	}
	for segnum, info := range infos {
		for _, blk := range info.Blocks.Blocks() {
			for pg := blk.First; pg <= blk.Last; pg++ {
				if owners[pg] > 0 {
					t.Fatalf("page %d claimed by segment %d and something else", pg, segnum)
				}
				owners[pg]++
			}
		}
	}

	for pg := block.PageNum(1); pg <= maxPage; pg++ {
		if owners[pg] != 1 {
			t.Fatalf("page %d owned by %d sources, want exactly 1", pg, owners[pg])
		}
	}
}
