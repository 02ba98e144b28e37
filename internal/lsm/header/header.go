// Package header owns the fixed-size header region at the front of the
// database file: the newest-first list of live segments, their page
// locations, and the counters used to hand out fresh segment and page
// numbers. Opening a database means reading this region (or writing a
// fresh one for an empty file); every commit rewrites it.
package header

import (
	"encoding/binary"
	"os"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	lsmerrors "github.com/arjunvaid/lsmforest/pkg/errors"
	"github.com/arjunvaid/lsmforest/pkg/options"
	"go.uber.org/zap"
)

// SizeInBytes is the fixed size of the header region. It also sets the
// minimum size of a database file: the header always occupies whole
// pages starting at page 1.
const SizeInBytes = 4096

// SegmentInfo describes one live segment: where its pages live on disk
// and which level of the tree it belongs to.
type SegmentInfo struct {
	RootPage uint32
	Blocks   *block.List
	Level    uint32
}

// Data is the full contents of the header region.
type Data struct {
	// CurrentState lists live segment numbers newest first. Reads merge
	// segments in this order so a newer write always shadows an older one.
	CurrentState []block.SegmentNum
	Segments     map[block.SegmentNum]SegmentInfo

	NextSegment   block.SegmentNum
	ChangeCounter uint64
	MergeCounter  uint64
}

// clone returns a deep copy, used to stage an updated header before it is
// committed to disk so a failed write never corrupts the in-memory state.
func (d *Data) clone() *Data {
	out := &Data{
		CurrentState:  append([]block.SegmentNum(nil), d.CurrentState...),
		Segments:      make(map[block.SegmentNum]SegmentInfo, len(d.Segments)),
		NextSegment:   d.NextSegment,
		ChangeCounter: d.ChangeCounter,
		MergeCounter:  d.MergeCounter,
	}
	for k, v := range d.Segments {
		out.Segments[k] = v
	}
	return out
}

// Clone exposes clone for callers staging an update (Manager holds the
// header under a lock and must never mutate the live copy in place).
func (d *Data) Clone() *Data {
	return d.clone()
}

// AllInUsePages returns every page occupied by the header itself plus
// every live segment, consolidated into a single sorted block list. It is
// used both by recovery (to seed the free-space allocator with everything
// NOT in this list); the diagnostic CLI's free-block report reads the
// allocator's free list instead.
func AllInUsePages(d *Data, pageSize int) *block.List {
	blocks := block.NewList()
	headerPages := block.PageCount((SizeInBytes + pageSize - 1) / pageSize)
	blocks.AddBlockNoReorder(block.NewBlock(1, block.PageNum(headerPages)))

	for _, info := range d.Segments {
		blocks.AddListNoReorder(info.Blocks)
	}
	blocks.SortAndConsolidate()
	return blocks
}

// Open reads the header from file, or initializes a fresh one if file is
// empty. It returns the parsed header, the page size recorded in it (or
// the default, for a fresh file), and the first page number not occupied
// by the header or any segment.
func Open(file *os.File, opts options.Options, log *zap.SugaredLogger) (*Data, int, block.PageNum, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, 0, 0, lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to stat database file")
	}

	if info.Size() == 0 {
		if log != nil {
			log.Infow("initializing fresh database header", "pageSize", opts.PageSize)
		}
		data := &Data{
			Segments:    make(map[block.SegmentNum]SegmentInfo),
			NextSegment: 1,
		}
		raw, err := encode(data, int(opts.PageSize))
		if err != nil {
			return nil, 0, 0, err
		}
		if _, err := file.WriteAt(raw, 0); err != nil {
			return nil, 0, 0, lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to write initial header")
		}
		nextPage := calcNextPage(int(opts.PageSize), SizeInBytes)
		return data, int(opts.PageSize), nextPage, nil
	}

	if log != nil {
		log.Infow("recovering database header", "fileSize", info.Size())
	}
	raw := make([]byte, SizeInBytes)
	if _, err := file.ReadAt(raw, 0); err != nil {
		return nil, 0, 0, lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to read header region")
	}

	data, pageSize, err := decode(raw)
	if err != nil {
		return nil, 0, 0, err
	}
	nextPage := calcNextPage(pageSize, int(info.Size()))
	return data, pageSize, nextPage, nil
}

// Write persists data as the header region. pageSize is stored in the
// header's first four bytes, and the next Open reads it back from there.
func Write(file *os.File, data *Data, pageSize int) error {
	raw, err := encode(data, pageSize)
	if err != nil {
		return err
	}
	if _, err := file.WriteAt(raw, 0); err != nil {
		return lsmerrors.NewStorageError(err, lsmerrors.ErrorCodeIO, "failed to write header")
	}
	return nil
}

func calcNextPage(pageSize, fileLen int) block.PageNum {
	pagesSoFar := 1
	if pageSize <= fileLen {
		pagesSoFar = fileLen / pageSize
	}
	return block.PageNum(pagesSoFar + 1)
}

func encode(d *Data, pageSize int) ([]byte, error) {
	buf := make([]byte, 0, SizeInBytes)
	var tmp [binary.MaxVarintLen64]byte

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(pageSize))
	buf = append(buf, u32[:]...)

	n := binary.PutUvarint(tmp[:], d.ChangeCounter)
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], d.MergeCounter)
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(d.NextSegment))
	buf = append(buf, tmp[:n]...)

	n = binary.PutUvarint(tmp[:], uint64(len(d.CurrentState)))
	buf = append(buf, tmp[:n]...)
	for _, segnum := range d.CurrentState {
		info, ok := d.Segments[segnum]
		if !ok {
			return nil, lsmerrors.NewPageError(nil, lsmerrors.ErrorCodePageCorrupted, "segment in current state has no info").
				WithDetail("segment", uint64(segnum))
		}
		n = binary.PutUvarint(tmp[:], uint64(segnum))
		buf = append(buf, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(info.RootPage))
		buf = append(buf, tmp[:n]...)
		buf = info.Blocks.Encode(buf)
		n = binary.PutUvarint(tmp[:], uint64(info.Level))
		buf = append(buf, tmp[:n]...)
	}

	if len(buf) > SizeInBytes {
		return nil, lsmerrors.NewPageError(nil, lsmerrors.ErrorCodePageCorrupted, "header contents exceed header size").
			WithDetail("encodedLen", len(buf)).
			WithDetail("headerSize", SizeInBytes)
	}
	padded := make([]byte, SizeInBytes)
	copy(padded, buf)
	return padded, nil
}

func decode(raw []byte) (*Data, int, error) {
	if len(raw) < 4 {
		return nil, 0, lsmerrors.NewPageError(nil, lsmerrors.ErrorCodePageCorrupted, "header region too short")
	}
	pageSize := int(binary.BigEndian.Uint32(raw[0:4]))
	cur := 4

	changeCounter, n := binary.Uvarint(raw[cur:])
	cur += n
	mergeCounter, n := binary.Uvarint(raw[cur:])
	cur += n
	nextSegment, n := binary.Uvarint(raw[cur:])
	cur += n

	count, n := binary.Uvarint(raw[cur:])
	cur += n

	data := &Data{
		Segments:      make(map[block.SegmentNum]SegmentInfo, count),
		NextSegment:   block.SegmentNum(nextSegment),
		ChangeCounter: changeCounter,
		MergeCounter:  mergeCounter,
	}

	for i := uint64(0); i < count; i++ {
		segnum, n := binary.Uvarint(raw[cur:])
		cur += n
		rootPage, n := binary.Uvarint(raw[cur:])
		cur += n
		blocks := block.Decode(raw, &cur)
		level, n := binary.Uvarint(raw[cur:])
		cur += n

		if !blocks.ContainsPage(block.PageNum(rootPage)) {
			return nil, 0, lsmerrors.NewRootNotInBlockListError(uint32(rootPage))
		}

		data.CurrentState = append(data.CurrentState, block.SegmentNum(segnum))
		data.Segments[block.SegmentNum(segnum)] = SegmentInfo{
			RootPage: uint32(rootPage),
			Blocks:   blocks,
			Level:    uint32(level),
		}
	}

	return data, pageSize, nil
}
