// Package segment builds and writes the immutable, page-based segments
// that make up each level of the LSM tree: Writer allocates and writes
// individual pages through the shared block.Allocator, and Builder packs
// a sorted key/value stream into a tree of leaf and parent pages.
package segment

import (
	"os"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/page"
	lsmerrors "github.com/arjunvaid/lsmforest/pkg/errors"
	"go.uber.org/zap"
)

// Writer allocates pages from a block.Allocator and writes their content
// to the underlying database file, tracking every page it has written so
// the caller can assemble a Location once the segment is complete.
//
// Pages are requested from the allocator one at a time as written, but the
// allocator hands out whole extents (up to a full block when the free
// pool is empty). Writer holds the unwritten remainder of the last extent
// in reserve and serves the next WritePage call from it before asking the
// allocator for more, so a multi-page segment doesn't claim a fresh
// extent per page.
type Writer struct {
	file     *os.File
	pageSize int
	alloc    *block.Allocator
	log      *zap.SugaredLogger
	used     *block.List

	reserve    block.Block
	hasReserve bool
}

// NewWriter returns a Writer bound to file, allocating pages of pageSize
// bytes from alloc.
func NewWriter(file *os.File, pageSize int, alloc *block.Allocator, log *zap.SugaredLogger) *Writer {
	return &Writer{file: file, pageSize: pageSize, alloc: alloc, log: log, used: block.NewList()}
}

// WritePage allocates a single page and writes content, which must already
// be exactly pageSize bytes, returning the page number it was written to.
func (w *Writer) WritePage(content []byte) (uint32, error) {
	if len(content) != w.pageSize {
		return 0, lsmerrors.NewPageError(nil, lsmerrors.ErrorCodePageCorrupted, "page content does not match configured page size").
			WithDetail("contentLen", len(content)).
			WithDetail("pageSize", w.pageSize)
	}

	pg := w.takePage()
	if err := w.writeAt(pg, content); err != nil {
		return 0, err
	}
	w.used.AddBlockNoReorder(block.NewBlock(pg, pg))
	return uint32(pg), nil
}

// takePage returns the next page to write, serving it from the held
// reserve extent if one still has pages left and requesting a fresh one
// from the allocator only once the reserve is exhausted.
func (w *Writer) takePage() block.PageNum {
	if !w.hasReserve || w.reserve.First > w.reserve.Last {
		w.reserve = w.alloc.GetBlock(block.Request{Kind: block.RequestAny, Size: 1})
		w.hasReserve = true
	}
	pg := w.reserve.First
	w.reserve.First++
	return pg
}

// WriteOverflow splits content across as many overflow pages as needed and
// returns the block list spanning them plus the total content length.
func (w *Writer) WriteOverflow(content []byte) (*block.List, int, error) {
	capacity := page.OverflowPageCapacity(w.pageSize)
	pages := (len(content) + capacity - 1) / capacity
	if pages == 0 {
		pages = 1
	}

	blk := w.alloc.GetBlock(block.Request{Kind: block.RequestMinimumSize, Size: block.PageCount(pages)})
	// Keep only the pages the content needs; hand the rest of the extent
	// back to the allocator.
	if blk.CountPages() > block.PageCount(pages) {
		spare := block.NewList()
		spare.AddBlockNoReorder(block.NewBlock(blk.First+block.PageNum(pages), blk.Last))
		w.alloc.AddFreeBlocks(spare)
		blk.Last = blk.First + block.PageNum(pages) - 1
	}
	w.used.AddBlockNoReorder(blk)

	remaining := content
	for pg := blk.First; pg <= blk.Last; pg++ {
		chunkLen := capacity
		if chunkLen > len(remaining) {
			chunkLen = len(remaining)
		}
		raw := page.EncodeOverflowPage(w.pageSize, remaining[:chunkLen])
		if err := w.writeAt(pg, raw); err != nil {
			return nil, 0, err
		}
		remaining = remaining[chunkLen:]
	}

	chain := block.NewList()
	chain.AddBlockNoReorder(blk)
	return chain, len(content), nil
}

func (w *Writer) writeAt(pg block.PageNum, content []byte) error {
	offset := int64(pg-1) * int64(w.pageSize)
	if _, err := w.file.WriteAt(content, offset); err != nil {
		return lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to write page").
			WithOffset(int(offset))
	}
	return nil
}

// Used returns every page this Writer has written, consolidated into a
// sorted block list. Any pages still held in reserve but never written are
// returned to the allocator's free pool rather than left stranded.
func (w *Writer) Used() *block.List {
	if w.hasReserve && w.reserve.First <= w.reserve.Last {
		leftover := block.NewList()
		leftover.AddBlockNoReorder(w.reserve)
		w.alloc.AddFreeBlocks(leftover)
		w.hasReserve = false
	}
	w.used.SortAndConsolidate()
	return w.used
}

// Sync flushes the underlying file to disk.
func (w *Writer) Sync() error {
	if err := w.file.Sync(); err != nil {
		return lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to sync segment writes")
	}
	return nil
}
