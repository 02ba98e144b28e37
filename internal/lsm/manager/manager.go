// Package manager owns the engine's single mutable state: the header
// region, the free-space allocator, and the per-level automerge workers.
// Every write (a new segment landing, or a merge replacing several
// segments with one) goes through Manager so that the header is never
// read and written by two goroutines at once.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/cursor"
	"github.com/arjunvaid/lsmforest/internal/lsm/header"
	"github.com/arjunvaid/lsmforest/internal/lsm/segment"
	lsmerrors "github.com/arjunvaid/lsmforest/pkg/errors"
	"github.com/arjunvaid/lsmforest/pkg/filesys"
	"github.com/arjunvaid/lsmforest/pkg/options"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrManagerClosed is returned when an operation is attempted against a
// Manager that has already been closed.
var ErrManagerClosed = fmt.Errorf("operation failed: cannot access closed manager")

// PromotionKind selects how a completed merge decides which level its
// output segment belongs to.
type PromotionKind int

const (
	// PromotionStay keeps the merged segment at the level it merged.
	PromotionStay PromotionKind = iota
	// PromotionPromote always moves the merged segment up one level.
	PromotionPromote
	// PromotionThreshold promotes only if the merged level's total page
	// count, before the merge, was more than Threshold pages.
	PromotionThreshold
)

// PromotionRule pairs a PromotionKind with the page count it needs when
// Kind is PromotionThreshold.
type PromotionRule struct {
	Kind      PromotionKind
	Threshold block.PageCount
}

// PendingMerge describes a merge that has been built (its replacement
// segment written, if any survived tombstone collapse) but not yet
// committed to the header.
type PendingMerge struct {
	OldSegments []block.SegmentNum
	MergeLevel  uint32
	NewSegment  *header.SegmentInfo // nil if the merge emitted no entries (every entry was a dropped tombstone)
}

// automergeMsg notifies a level's background worker that a new segment
// has landed and it should reconsider whether a merge is due.
type automergeMsg struct {
	segnum block.SegmentNum
	level  uint32
}

// Manager serializes every mutation to the engine's header and
// free-space allocator, and drives the background automerge workers that
// keep each level within its configured size limit.
type Manager struct {
	options *options.Options
	log     *zap.SugaredLogger
	closed  atomic.Bool

	file     *os.File
	pageSize int

	// writeMu serializes commits the way the original's single WriteLock
	// does: only one commit (a new segment or a finished merge) may be in
	// flight at a time.
	writeMu sync.Mutex

	headerMu sync.RWMutex
	hdr      *header.Data

	alloc *block.Allocator

	mergingMu sync.Mutex
	merging   map[block.SegmentNum]bool

	levels    []chan automergeMsg
	rules     []PromotionRule
	workersWg sync.WaitGroup
}

// Config holds everything Manager needs to open or recover a database.
type Config struct {
	Options *options.Options
	Logger  *zap.SugaredLogger
}

// New opens (creating if necessary) the database file under
// config.Options.DataDir, recovers or initializes its header, and starts
// one automerge worker per level named in config.Options.MergeOptions's
// level limits, unless automerge is disabled.
func New(ctx context.Context, config *Config) (*Manager, error) {
	if config == nil || config.Options == nil || config.Logger == nil {
		return nil, fmt.Errorf("invalid configuration")
	}
	opts := config.Options
	log := config.Logger

	log.Infow("opening lsmforest database", "dataDir", opts.DataDir, "fileName", opts.FileName)

	if err := filesys.CreateDir(opts.DataDir, 0o755, false); err != nil {
		return nil, lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to create data directory").
			WithPath(opts.DataDir)
	}

	path := filepath.Join(opts.DataDir, opts.FileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to open database file").
			WithPath(path)
	}

	hdr, pageSize, nextPage, err := header.Open(file, *opts, log)
	if err != nil {
		file.Close()
		return nil, err
	}

	inUse := header.AllInUsePages(hdr, pageSize)
	freeBlocks := inUse.Invert()
	if last := inUse.LastPage(); last+1 < nextPage {
		freeBlocks.AddBlockNoReorder(block.NewBlock(last+1, nextPage-1))
	}
	alloc := block.New(nextPage, freeBlocks, block.PageCount(opts.PagesPerBlock), log)

	m := &Manager{
		options:  opts,
		log:      log,
		file:     file,
		pageSize: pageSize,
		hdr:      hdr,
		alloc:    alloc,
		merging:  make(map[block.SegmentNum]bool),
	}

	if opts.IsAutomergeEnabled() {
		m.startAutomerge()
	}

	log.Infow("lsmforest database ready",
		"pageSize", pageSize, "liveSegments", len(hdr.CurrentState), "nextSegment", hdr.NextSegment)

	return m, nil
}

// startAutomerge launches one worker goroutine per configured level,
// each watching its own buffered notification channel.
func (m *Manager) startAutomerge() {
	levelLimits := m.options.MergeLevelLimits()
	m.levels = make([]chan automergeMsg, len(levelLimits))
	m.rules = make([]PromotionRule, len(levelLimits))

	for i, limit := range levelLimits {
		ch := make(chan automergeMsg, 64)
		m.levels[i] = ch

		rule := PromotionRule{Kind: PromotionStay}
		switch {
		case i == len(levelLimits)-1:
			rule = PromotionRule{Kind: PromotionStay} // last level never promotes further
		case limit == 0:
			rule = PromotionRule{Kind: PromotionPromote} // unbounded level always promotes (e.g. level 0)
		default:
			rule = PromotionRule{Kind: PromotionThreshold, Threshold: block.PageCount(limit * 1024 / uint64(m.pageSize))}
		}
		m.rules[i] = rule

		m.workersWg.Add(1)
		go m.automergeWorker(uint32(i), ch)
	}
}

func (m *Manager) automergeWorker(level uint32, ch chan automergeMsg) {
	defer m.workersWg.Done()
	for msg := range ch {
		minSegs := m.options.MergeMinSegments()
		maxSegs := m.options.MergeMaxSegments()
		pm, err := m.PlanMerge(level, minSegs, maxSegs, m.rules[level])
		if err != nil {
			m.log.Errorw("automerge plan failed", "level", level, "trigger", msg.segnum, "error", err)
			continue
		}
		if pm == nil {
			continue
		}
		newLevel, err := m.CommitMerge(*pm)
		if err != nil {
			m.log.Errorw("automerge commit failed", "level", level, "error", err)
			continue
		}
		if newLevel != level && int(newLevel) < len(m.levels) {
			select {
			case m.levels[newLevel] <- automergeMsg{level: newLevel}:
			default:
				m.log.Warnw("automerge notification channel full", "level", newLevel)
			}
		}
	}
}

// ReadPage implements cursor.PageSource by reading a single page directly
// off the database file.
func (m *Manager) ReadPage(pageNumber uint32) ([]byte, error) {
	buf := make([]byte, m.pageSize)
	offset := int64(pageNumber-1) * int64(m.pageSize)
	if _, err := m.file.ReadAt(buf, offset); err != nil {
		return nil, lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to read page").
			WithOffset(int(offset))
	}
	return buf, nil
}

// PageSize returns the fixed page size this database was created with.
func (m *Manager) PageSize() int {
	return m.pageSize
}

// NewWriter returns a segment.Writer that allocates pages from this
// Manager's allocator and writes them to the database file.
func (m *Manager) NewWriter() *segment.Writer {
	return segment.NewWriter(m.file, m.pageSize, m.alloc, m.log)
}

// CommitSegment records a freshly written segment as live at the given
// level and wakes that level's automerge worker.
func (m *Manager) CommitSegment(loc *segment.Location, level uint32) (block.SegmentNum, error) {
	if m.closed.Load() {
		return 0, ErrManagerClosed
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.headerMu.Lock()
	staged := m.hdr.Clone()
	segnum := staged.NextSegment
	staged.NextSegment++
	staged.ChangeCounter++
	staged.Segments[segnum] = header.SegmentInfo{RootPage: loc.RootPage, Blocks: loc.Blocks, Level: level}
	staged.CurrentState = append([]block.SegmentNum{segnum}, staged.CurrentState...)

	if err := header.Write(m.file, staged, m.pageSize); err != nil {
		m.headerMu.Unlock()
		return 0, err
	}
	m.hdr = staged
	m.headerMu.Unlock()

	m.log.Infow("committed segment", "segment", segnum, "level", level, "rootPage", loc.RootPage)

	if int(level) < len(m.levels) {
		select {
		case m.levels[level] <- automergeMsg{segnum: segnum, level: level}:
		default:
			m.log.Warnw("automerge notification channel full", "level", level)
		}
	}

	return segnum, nil
}

// PlanMerge mirrors the original's merge-candidate search: find the
// longest not-already-merging run at the tail of the given level's
// segment group, and if it meets minSegs, build the replacement segment
// (capped at maxSegs) using a cursor that drops shadowed tombstones. It
// returns a nil PendingMerge if no qualifying group was found.
func (m *Manager) PlanMerge(level uint32, minSegs, maxSegs int, rule PromotionRule) (*PendingMerge, error) {
	m.headerMu.RLock()
	hdr := m.hdr
	m.headerMu.RUnlock()

	if len(hdr.CurrentState) == 0 {
		return nil, nil
	}

	var levelGroup []block.SegmentNum
	var levelPages block.PageCount
	for _, segnum := range hdr.CurrentState {
		info := hdr.Segments[segnum]
		if info.Level == level {
			levelGroup = append(levelGroup, segnum)
			levelPages += info.Blocks.CountPages()
		}
	}
	if len(levelGroup) == 0 {
		return nil, nil
	}

	m.mergingMu.Lock()
	var candidates []block.SegmentNum
	for i := len(levelGroup) - 1; i >= 0; i-- {
		if m.merging[levelGroup[i]] {
			break
		}
		candidates = append(candidates, levelGroup[i])
	}
	if len(candidates) < minSegs {
		m.mergingMu.Unlock()
		return nil, nil
	}
	if len(candidates) > maxSegs {
		candidates = candidates[:maxSegs]
	}
	for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	for _, segnum := range candidates {
		m.merging[segnum] = true
	}
	m.mergingMu.Unlock()

	defer func() {
		m.mergingMu.Lock()
		for _, segnum := range candidates {
			delete(m.merging, segnum)
		}
		m.mergingMu.Unlock()
	}()

	// candidates is newest first; key each cursor by its rank so the
	// newest one carries the highest tie-break number.
	mergeCursors := make(map[uint64]cursor.Cursor, len(candidates))
	for i, segnum := range candidates {
		info := hdr.Segments[segnum]
		mergeCursors[uint64(len(candidates)-i)] = cursor.NewSegmentCursor(m, info.RootPage, uint64(segnum))
	}
	merged := cursor.NewMultiCursor(mergeCursors)

	lastMerged := candidates[len(candidates)-1]
	posLast := indexOf(hdr.CurrentState, lastMerged)
	includesOldest := posLast == len(hdr.CurrentState)-1

	filtered := cursor.NewTombstoneFilterCursor(merged, includesOldest)

	loc, wrote, err := m.writeMergeSegment(filtered)
	if err != nil {
		return nil, err
	}

	var newSegment *header.SegmentInfo
	if wrote {
		newLevel := level
		switch rule.Kind {
		case PromotionPromote:
			newLevel = level + 1
		case PromotionThreshold:
			if levelPages > rule.Threshold {
				newLevel = level + 1
			}
		}
		newSegment = &header.SegmentInfo{RootPage: loc.RootPage, Blocks: loc.Blocks, Level: newLevel}
	}

	return &PendingMerge{OldSegments: candidates, MergeLevel: level, NewSegment: newSegment}, nil
}

func (m *Manager) writeMergeSegment(c cursor.Cursor) (*segment.Location, bool, error) {
	if err := c.First(); err != nil {
		return nil, false, err
	}
	if !c.IsValid() {
		return nil, false, nil
	}

	var pairs []segment.Pair
	for c.IsValid() {
		if c.IsTombstone() {
			pairs = append(pairs, segment.Pair{Key: append([]byte(nil), c.Key()...), Tombstone: true})
		} else {
			val, err := c.Value()
			if err != nil {
				return nil, false, err
			}
			pairs = append(pairs, segment.Pair{
				Key:   append([]byte(nil), c.Key()...),
				Value: append([]byte(nil), val...),
			})
		}
		if err := c.Next(); err != nil {
			return nil, false, err
		}
	}

	w := m.NewWriter()
	loc, err := segment.Build(w, m.pageSize, pairs)
	if err != nil {
		return nil, false, err
	}
	if err := w.Sync(); err != nil {
		return nil, false, err
	}
	return loc, true, nil
}

// CommitMerge replaces pm.OldSegments with pm.NewSegment (if any
// survived) in the header, and frees the old segments' pages, zombifying
// any still pinned by an open cursor. It returns the level the resulting
// segment landed in, or pm.MergeLevel unchanged if the merge produced no
// segment.
func (m *Manager) CommitMerge(pm PendingMerge) (uint32, error) {
	if m.closed.Load() {
		return 0, ErrManagerClosed
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.headerMu.Lock()
	staged := m.hdr.Clone()

	first := indexOf(staged.CurrentState, pm.OldSegments[0])
	if first < 0 {
		m.headerMu.Unlock()
		return 0, lsmerrors.NewStorageError(nil, lsmerrors.ErrorCodeMergeConflict, "merged segment no longer in current state")
	}

	freed := make([]*block.List, 0, len(pm.OldSegments))
	for _, segnum := range pm.OldSegments {
		info, ok := staged.Segments[segnum]
		if !ok {
			m.headerMu.Unlock()
			return 0, lsmerrors.NewStorageError(nil, lsmerrors.ErrorCodeMergeConflict, "merged segment missing from header")
		}
		freed = append(freed, info.Blocks)
		delete(staged.Segments, segnum)
	}
	staged.CurrentState = append(staged.CurrentState[:first], staged.CurrentState[first+len(pm.OldSegments):]...)

	resultLevel := pm.MergeLevel
	if pm.NewSegment != nil {
		newSegnum := staged.NextSegment
		staged.NextSegment++
		staged.Segments[newSegnum] = *pm.NewSegment
		tail := append([]block.SegmentNum{newSegnum}, staged.CurrentState[first:]...)
		staged.CurrentState = append(staged.CurrentState[:first], tail...)
		resultLevel = pm.NewSegment.Level
	}
	staged.ChangeCounter++
	staged.MergeCounter++

	if err := header.Write(m.file, staged, m.pageSize); err != nil {
		m.headerMu.Unlock()
		return 0, err
	}
	m.hdr = staged
	m.headerMu.Unlock()

	for i, segnum := range pm.OldSegments {
		m.alloc.DropSegment(segnum, freed[i])
	}

	m.log.Infow("committed merge", "oldSegments", pm.OldSegments, "mergeLevel", pm.MergeLevel,
		"producedSegment", pm.NewSegment != nil, "resultLevel", resultLevel)

	return resultLevel, nil
}

// OpenCursor returns a LivingCursor merging every live segment in
// newest-first priority, plus a release function the caller must invoke
// when done so the allocator can reclaim any segment the cursor was
// pinning as a zombie.
func (m *Manager) OpenCursor() (*cursor.LivingCursor, func() error, error) {
	if m.closed.Load() {
		return nil, nil, ErrManagerClosed
	}

	m.headerMu.RLock()
	hdr := m.hdr
	m.headerMu.RUnlock()

	handles := make([]uint64, 0, len(hdr.CurrentState))
	sources := make(map[uint64]cursor.Cursor, len(hdr.CurrentState))
	// CurrentState is newest first; key each cursor by its rank so the
	// newest segment carries the highest tie-break number.
	for i, segnum := range hdr.CurrentState {
		info := hdr.Segments[segnum]
		handle := m.alloc.OpenCursor(segnum)
		handles = append(handles, handle)
		sources[uint64(len(hdr.CurrentState)-i)] = cursor.NewSegmentCursor(m, info.RootPage, uint64(segnum))
	}

	multi := cursor.NewMultiCursor(sources)
	living := cursor.NewLivingCursor(multi)

	release := func() error {
		for _, h := range handles {
			m.alloc.CloseCursor(h)
		}
		return nil
	}
	return living, release, nil
}

// ListSegments returns a snapshot of every live segment, newest first.
func (m *Manager) ListSegments() []block.SegmentNum {
	m.headerMu.RLock()
	defer m.headerMu.RUnlock()
	return append([]block.SegmentNum(nil), m.hdr.CurrentState...)
}

// SegmentInfo returns the stored location and level for a live segment.
func (m *Manager) SegmentInfo(segnum block.SegmentNum) (header.SegmentInfo, bool) {
	m.headerMu.RLock()
	defer m.headerMu.RUnlock()
	info, ok := m.hdr.Segments[segnum]
	return info, ok
}

// FreeBlocks returns a snapshot of the allocator's current free-space
// list.
func (m *Manager) FreeBlocks() *block.List {
	return m.alloc.FreeBlocks()
}

// Close stops every automerge worker, flushes the header one final time,
// and closes the database file. Independent failures are combined rather
// than discarding all but the first.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrManagerClosed
	}

	for _, ch := range m.levels {
		close(ch)
	}
	m.workersWg.Wait()

	var err error
	m.headerMu.RLock()
	hdr := m.hdr
	m.headerMu.RUnlock()
	if writeErr := header.Write(m.file, hdr, m.pageSize); writeErr != nil {
		err = multierr.Append(err, writeErr)
	}
	if syncErr := m.file.Sync(); syncErr != nil {
		err = multierr.Append(err, lsmerrors.NewStorageError(syncErr, lsmerrors.ErrorCodeIO, "failed to sync database file"))
	}
	if closeErr := m.file.Close(); closeErr != nil {
		err = multierr.Append(err, lsmerrors.NewStorageError(closeErr, lsmerrors.ErrorCodeIO, "failed to close database file"))
	}

	m.log.Infow("lsmforest database closed")
	return err
}

func indexOf(list []block.SegmentNum, target block.SegmentNum) int {
	for i, v := range list {
		if v == target {
			return i
		}
	}
	return -1
}
