// Package block implements the page-range allocation primitives the LSM
// engine builds everything else on top of: a Block is a contiguous run of
// page numbers, a BlockList is a sorted, consolidated set of blocks, and
// the Allocator hands out fresh blocks while tracking which pages are free.
package block

import (
	"encoding/binary"
	"sort"
)

// PageNum identifies a single page by its 1-based position in the file.
type PageNum uint32

// PageCount is a number of pages.
type PageCount uint32

// Block is a contiguous, inclusive range of pages [First, Last].
type Block struct {
	First PageNum
	Last  PageNum
}

// NewBlock returns a Block spanning [first, last]. Callers must ensure
// first <= last; this mirrors a raw struct literal everywhere else in the
// engine, so the constructor only exists for callers that want the
// invariant checked once at the point of construction.
func NewBlock(first, last PageNum) Block {
	if first > last {
		panic("block: first page after last page")
	}
	return Block{First: first, Last: last}
}

// CountPages returns how many pages the block spans.
func (b Block) CountPages() PageCount {
	return PageCount(b.Last - b.First + 1)
}

// Contains reports whether pg falls within the block.
func (b Block) Contains(pg PageNum) bool {
	return pg >= b.First && pg <= b.Last
}

// List is a sorted, non-overlapping collection of blocks.
type List struct {
	blocks []Block
}

// NewList returns an empty block list.
func NewList() *List {
	return &List{}
}

// IsEmpty reports whether the list has no blocks.
func (l *List) IsEmpty() bool {
	return len(l.blocks) == 0
}

// Len returns the number of blocks in the list.
func (l *List) Len() int {
	return len(l.blocks)
}

// Blocks returns the list's blocks in their current order. The returned
// slice must not be mutated by the caller.
func (l *List) Blocks() []Block {
	return l.blocks
}

// CountPages returns the total number of pages across every block.
func (l *List) CountPages() PageCount {
	var total PageCount
	for _, b := range l.blocks {
		total += b.CountPages()
	}
	return total
}

// FirstPage returns the first page of the list's first block. The list
// must be sorted and non-empty.
func (l *List) FirstPage() PageNum {
	return l.blocks[0].First
}

// LastPage returns the last page of the list's last block. The list must
// be sorted and non-empty.
func (l *List) LastPage() PageNum {
	return l.blocks[len(l.blocks)-1].Last
}

// ContainsPage reports whether any block in the list contains pg.
func (l *List) ContainsPage(pg PageNum) bool {
	for _, b := range l.blocks {
		if b.Contains(pg) {
			return true
		}
	}
	return false
}

// AddBlockNoReorder appends blk to the list, extending the last block that
// immediately precedes it if one exists. It does not re-sort the list, so
// it's only safe to use while building a list in already-sorted order.
func (l *List) AddBlockNoReorder(blk Block) {
	for i := range l.blocks {
		if l.blocks[i].Last+1 == blk.First {
			l.blocks[i].Last = blk.Last
			return
		}
	}
	l.blocks = append(l.blocks, blk)
}

// AddListNoReorder appends every block of other to the list without
// sorting or consolidating.
func (l *List) AddListNoReorder(other *List) {
	l.blocks = append(l.blocks, other.blocks...)
}

// SortAndConsolidate sorts the list by first page and merges any blocks
// that turn out to be adjacent.
func (l *List) SortAndConsolidate() {
	sort.Slice(l.blocks, func(i, j int) bool { return l.blocks[i].First < l.blocks[j].First })
	for {
		merged := false
		for i := 1; i < len(l.blocks); i++ {
			if l.blocks[i-1].Last+1 == l.blocks[i].First {
				l.blocks[i-1].Last = l.blocks[i].Last
				l.blocks = append(l.blocks[:i], l.blocks[i+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			break
		}
	}
}

// SortBySizeDescending orders blocks largest-first, breaking ties by
// ascending first page. The allocator uses this to prefer handing out the
// biggest free extent first.
func (l *List) SortBySizeDescending() {
	sort.Slice(l.blocks, func(i, j int) bool {
		a, b := l.blocks[i], l.blocks[j]
		if a.CountPages() != b.CountPages() {
			return a.CountPages() > b.CountPages()
		}
		return a.First < b.First
	})
}

// Invert returns the gaps between consecutive blocks in an already sorted
// list: the space NOT covered by any block, excluding the space before the
// first block and after the last one. A list of fewer than two blocks has
// no interior gaps and inverts to an empty list.
func (l *List) Invert() *List {
	sorted := make([]Block, len(l.blocks))
	copy(sorted, l.blocks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].First < sorted[j].First })

	if len(sorted) < 2 {
		return NewList()
	}

	gaps := make([]Block, 0, len(sorted)-1)
	for i := 0; i < len(sorted)-1; i++ {
		gaps = append(gaps, Block{First: sorted[i].Last + 1, Last: sorted[i+1].First - 1})
	}
	return &List{blocks: gaps}
}

// Encode appends the list's varint-delta encoding to buf and returns the
// extended slice. The first block's first page is stored absolute; every
// subsequent block's first page is stored as an offset from it, and every
// block's length is stored as last-minus-first. This requires the list to
// already be sorted by first page.
func (l *List) Encode(buf []byte) []byte {
	var scratch [binary.MaxVarintLen64]byte

	n := binary.PutUvarint(scratch[:], uint64(len(l.blocks)))
	buf = append(buf, scratch[:n]...)

	if len(l.blocks) == 0 {
		return buf
	}

	firstPage := l.blocks[0].First
	n = binary.PutUvarint(scratch[:], uint64(firstPage))
	buf = append(buf, scratch[:n]...)
	n = binary.PutUvarint(scratch[:], uint64(l.blocks[0].Last-firstPage))
	buf = append(buf, scratch[:n]...)

	for i := 1; i < len(l.blocks); i++ {
		n = binary.PutUvarint(scratch[:], uint64(l.blocks[i].First-firstPage))
		buf = append(buf, scratch[:n]...)
		n = binary.PutUvarint(scratch[:], uint64(l.blocks[i].Last-l.blocks[i].First))
		buf = append(buf, scratch[:n]...)
	}

	return buf
}

// EncodedLen returns the number of bytes Encode would write.
func (l *List) EncodedLen() int {
	return len(l.Encode(nil))
}

// Decode reads a block list from buf starting at *cur, advancing *cur past
// the bytes consumed.
func Decode(buf []byte, cur *int) *List {
	count, n := binary.Uvarint(buf[*cur:])
	*cur += n

	list := &List{}
	if count > 0 {
		list.blocks = make([]Block, 0, count)
	}
	var firstPage PageNum
	for i := uint64(0); i < count; i++ {
		delta, n := binary.Uvarint(buf[*cur:])
		*cur += n
		length, n := binary.Uvarint(buf[*cur:])
		*cur += n

		var first PageNum
		if i == 0 {
			first = PageNum(delta)
			firstPage = first
		} else {
			first = firstPage + PageNum(delta)
		}
		list.blocks = append(list.blocks, Block{First: first, Last: first + PageNum(length)})
	}
	return list
}
