// Package lsmforest provides an embedded, page-based LSM storage engine.
// It combines immutable, page-tree segments written in level 0 with
// background automerge workers that periodically combine and promote
// them, giving fast sequential writes and bounded read amplification
// without an in-memory index of every key.
package lsmforest

import (
	"context"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/cursor"
	"github.com/arjunvaid/lsmforest/internal/lsm/header"
	"github.com/arjunvaid/lsmforest/internal/lsm/manager"
	"github.com/arjunvaid/lsmforest/internal/lsm/segment"
	"github.com/arjunvaid/lsmforest/pkg/logger"
	"github.com/arjunvaid/lsmforest/pkg/options"
)

// Instance is the primary entry point for interacting with an lsmforest
// database. It wraps the internal manager, which owns the header, the
// free-space allocator, and the automerge workers.
type Instance struct {
	mgr     *manager.Manager
	options *options.Options
}

// SegmentNum identifies a committed, immutable segment.
type SegmentNum = block.SegmentNum

// Pair is one key/value entry to write into a new segment. A nil Value
// with Tombstone set marks a deletion.
type Pair = segment.Pair

// Cursor is a bidirectional, seekable iterator over live key/value pairs.
type Cursor = cursor.Cursor

// SeekOp and SeekResult mirror the corresponding cursor package types at
// the public boundary.
type (
	SeekOp     = cursor.SeekOp
	SeekResult = cursor.SeekResult
)

const (
	SeekEQ = cursor.SeekEQ
	SeekLE = cursor.SeekLE
	SeekGE = cursor.SeekGE
)

// Open creates or recovers an lsmforest database using the given
// functional options layered on top of the engine defaults.
func Open(ctx context.Context, opts ...options.OptionFunc) (*Instance, error) {
	log, err := logger.New()
	if err != nil {
		return nil, err
	}

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}

	mgr, err := manager.New(ctx, &manager.Config{Options: &defaultOpts, Logger: log})
	if err != nil {
		return nil, err
	}

	return &Instance{mgr: mgr, options: &defaultOpts}, nil
}

// WriteSegment packs pairs, already sorted by key with no duplicates,
// into a new immutable segment at the given level and commits it as
// live. It returns the segment's assigned number.
func (i *Instance) WriteSegment(pairs []Pair, level uint32) (SegmentNum, error) {
	w := i.mgr.NewWriter()
	loc, err := segment.Build(w, i.mgr.PageSize(), pairs)
	if err != nil {
		return 0, err
	}
	if err := w.Sync(); err != nil {
		return 0, err
	}
	return i.mgr.CommitSegment(loc, level)
}

// OpenCursor returns a cursor over every live key in the database,
// merged newest-segment-wins with tombstones hidden, plus a release
// function that must be called when the caller is done reading so any
// segment the cursor pinned as a zombie can be reclaimed.
func (i *Instance) OpenCursor() (Cursor, func() error, error) {
	return i.mgr.OpenCursor()
}

// Merge drives one manual merge pass over level, combining up to
// min/maxSegments contiguous not-already-merging segments using rule to
// decide whether the result is promoted. It returns false if no
// qualifying group of segments was found.
func (i *Instance) Merge(level uint32, minSegments, maxSegments int, rule manager.PromotionRule) (bool, error) {
	pm, err := i.mgr.PlanMerge(level, minSegments, maxSegments, rule)
	if err != nil || pm == nil {
		return false, err
	}
	if _, err := i.mgr.CommitMerge(*pm); err != nil {
		return false, err
	}
	return true, nil
}

// ListSegments returns every live segment number, newest first.
func (i *Instance) ListSegments() []SegmentNum {
	return i.mgr.ListSegments()
}

// SegmentInfo returns the stored location and level for a live segment.
func (i *Instance) SegmentInfo(segnum SegmentNum) (header.SegmentInfo, bool) {
	return i.mgr.SegmentInfo(segnum)
}

// ListFreeBlocks returns a snapshot of the allocator's current free-space
// list.
func (i *Instance) ListFreeBlocks() *block.List {
	return i.mgr.FreeBlocks()
}

// GetPage returns the raw bytes of a single page, for diagnostic
// inspection.
func (i *Instance) GetPage(pageNumber uint32) ([]byte, error) {
	return i.mgr.ReadPage(pageNumber)
}

// Close stops the automerge workers, flushes the header, and closes the
// database file.
func (i *Instance) Close() error {
	return i.mgr.Close()
}
