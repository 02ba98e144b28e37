package block

import (
	"sync"

	"go.uber.org/zap"
)

// SegmentNum identifies a segment by its monotonically increasing sequence
// number.
type SegmentNum uint64

// RequestKind selects which strategy GetBlock uses to satisfy a request.
type RequestKind int

const (
	// RequestAny takes the largest free block, or extends the file if
	// none exists.
	RequestAny RequestKind = iota
	// RequestMinimumSize takes the largest free block if it's at least
	// Size pages, or extends the file by max(Size, PagesPerBlock).
	RequestMinimumSize
	// RequestStartOrAny prefers a free block that starts at one of the
	// pages in Start (reusing a block orphaned by a merge retry), falling
	// back to the largest free block.
	RequestStartOrAny
	// RequestStartOrAfterMinimumSize prefers a block starting at one of
	// Start, then the first free block of at least Size pages located
	// after page After, then extends the file.
	RequestStartOrAfterMinimumSize
)

// Request describes a page-range allocation request. Zero value is
// RequestAny.
type Request struct {
	Kind  RequestKind
	Start []PageNum
	After PageNum
	Size  PageCount
}

// zombie is a segment that was dropped by a merge but whose blocks can't
// be reclaimed yet because a cursor still has it open.
type zombie struct {
	blocks *List
}

// Allocator tracks the file's page universe: which pages are free, which
// segments have open cursors, and which dropped segments are zombies
// waiting for their last cursor to close.
type Allocator struct {
	mu            sync.Mutex
	log           *zap.SugaredLogger
	pagesPerBlock PageCount

	nextPage      PageNum
	freeBlocks    *List
	nextCursorNum uint64
	cursors       map[uint64]SegmentNum
	zombies       map[SegmentNum]zombie
}

// New builds an Allocator seeded with the free space computed at startup
// (nextPage is the first page beyond the file's current extent; freeBlocks
// is every gap in the page universe not already covered by a live
// segment).
func New(nextPage PageNum, freeBlocks *List, pagesPerBlock PageCount, log *zap.SugaredLogger) *Allocator {
	freeBlocks.SortBySizeDescending()
	return &Allocator{
		log:           log,
		pagesPerBlock: pagesPerBlock,
		nextPage:      nextPage,
		freeBlocks:    freeBlocks,
		nextCursorNum: 1,
		cursors:       make(map[uint64]SegmentNum),
		zombies:       make(map[SegmentNum]zombie),
	}
}

// GetBlock satisfies req, extending the file's page universe if no free
// block is suitable.
func (a *Allocator) GetBlock(req Request) Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getBlockLocked(req)
}

func (a *Allocator) getBlockLocked(req Request) Block {
	startsAtNextPage := false
	for _, pg := range req.Start {
		if pg == a.nextPage {
			startsAtNextPage = true
			break
		}
	}

	if a.freeBlocks.IsEmpty() || startsAtNextPage {
		return a.extendLocked(maxPageCount(req.Size, a.pagesPerBlock))
	}

	switch req.Kind {
	case RequestAny:
		return a.takeAtLocked(0)

	case RequestMinimumSize:
		if i := a.findMinimumSizeLocked(req.Size); i >= 0 {
			return a.takeAtLocked(i)
		}
		return a.extendLocked(maxPageCount(req.Size, a.pagesPerBlock))

	case RequestStartOrAny:
		if i := a.findStartingAtLocked(req.Start); i >= 0 {
			return a.takeAtLocked(i)
		}
		return a.takeAtLocked(0)

	case RequestStartOrAfterMinimumSize:
		if i := a.findStartingAtLocked(req.Start); i >= 0 {
			return a.takeAtLocked(i)
		}
		if i := a.findAfterMinimumSizeLocked(req.After, req.Size); i >= 0 {
			return a.takeAtLocked(i)
		}
		return a.extendLocked(maxPageCount(req.Size, a.pagesPerBlock))

	default:
		return a.extendLocked(a.pagesPerBlock)
	}
}

func (a *Allocator) extendLocked(size PageCount) Block {
	blk := Block{First: a.nextPage, Last: a.nextPage + PageNum(size) - 1}
	a.nextPage += PageNum(size)
	return blk
}

func (a *Allocator) takeAtLocked(i int) Block {
	blk := a.freeBlocks.blocks[i]
	a.freeBlocks.blocks = append(a.freeBlocks.blocks[:i], a.freeBlocks.blocks[i+1:]...)
	return blk
}

// findMinimumSizeLocked assumes freeBlocks is sorted largest-first, so only
// the head needs checking.
func (a *Allocator) findMinimumSizeLocked(size PageCount) int {
	if len(a.freeBlocks.blocks) > 0 && a.freeBlocks.blocks[0].CountPages() >= size {
		return 0
	}
	return -1
}

func (a *Allocator) findStartingAtLocked(start []PageNum) int {
	for i, blk := range a.freeBlocks.blocks {
		for _, pg := range start {
			if blk.First == pg {
				return i
			}
		}
	}
	return -1
}

func (a *Allocator) findAfterMinimumSizeLocked(after PageNum, size PageCount) int {
	for i, blk := range a.freeBlocks.blocks {
		if blk.CountPages() < size {
			// Sorted largest-first: nothing past this point qualifies.
			return -1
		}
		if blk.First > after {
			return i
		}
	}
	return -1
}

// AddFreeBlocks returns blocks to the free pool, re-sorting by size so the
// next GetBlock call sees them.
func (a *Allocator) AddFreeBlocks(blocks *List) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeBlocks.AddListNoReorder(blocks)
	a.freeBlocks.SortBySizeDescending()
}

// OpenCursor registers a cursor over segnum and returns a handle used to
// close it later.
func (a *Allocator) OpenCursor(segnum SegmentNum) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextCursorNum
	a.nextCursorNum++
	a.cursors[id] = segnum
	return id
}

// CloseCursor releases the cursor handle. If the cursor's segment had been
// marked a zombie and no other cursor still references it, its blocks are
// returned to the free pool.
func (a *Allocator) CloseCursor(handle uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	segnum, ok := a.cursors[handle]
	if !ok {
		return
	}
	delete(a.cursors, handle)

	for _, other := range a.cursors {
		if other == segnum {
			return
		}
	}

	if z, ok := a.zombies[segnum]; ok {
		delete(a.zombies, segnum)
		a.freeBlocks.AddListNoReorder(z.blocks)
		a.freeBlocks.SortBySizeDescending()
		if a.log != nil {
			a.log.Infow("reclaimed zombie segment", "segment", segnum, "pages", z.blocks.CountPages())
		}
	}
}

// DropSegment returns a dropped segment's blocks to the free pool, unless
// a cursor still has the segment open, in which case it's parked as a
// zombie until that cursor closes.
func (a *Allocator) DropSegment(segnum SegmentNum, blocks *List) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, other := range a.cursors {
		if other == segnum {
			a.zombies[segnum] = zombie{blocks: blocks}
			if a.log != nil {
				a.log.Infow("segment has open cursor, deferring reclaim", "segment", segnum)
			}
			return
		}
	}

	a.freeBlocks.AddListNoReorder(blocks)
	a.freeBlocks.SortBySizeDescending()
}

// FreeBlocks returns a snapshot of the current free-block list, sorted by
// size descending.
func (a *Allocator) FreeBlocks() *List {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]Block, len(a.freeBlocks.blocks))
	copy(cp, a.freeBlocks.blocks)
	return &List{blocks: cp}
}

func maxPageCount(a, b PageCount) PageCount {
	if a > b {
		return a
	}
	return b
}
