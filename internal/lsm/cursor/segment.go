package cursor

import (
	"github.com/arjunvaid/lsmforest/internal/lsm/page"
	lsmerrors "github.com/arjunvaid/lsmforest/pkg/errors"
)

// parentFrame is one level of the descent from root to leaf: the parent
// page's children and which child the cursor is currently inside.
type parentFrame struct {
	children []page.Child
	idx      int
}

// SegmentCursor reads key/value pairs from a single immutable segment by
// descending its page tree. It satisfies Cursor.
type SegmentCursor struct {
	src      PageSource
	root     uint32
	segment  uint64 // reported by SegmentNumber; MultiCursor ties use its own map keys
	stack    []parentFrame
	leaf     []page.Entry
	leafIdx  int
	valid    bool
}

// NewSegmentCursor returns a cursor over the segment rooted at root,
// reading pages through src. segment is the segment's sequence number,
// reported back by SegmentNumber.
func NewSegmentCursor(src PageSource, root uint32, segment uint64) *SegmentCursor {
	return &SegmentCursor{src: src, root: root, segment: segment, leafIdx: -1}
}

// SegmentNumber returns the sequence number this cursor was constructed
// with.
func (c *SegmentCursor) SegmentNumber() uint64 {
	return c.segment
}

func (c *SegmentCursor) readPage(pg uint32) (page.Type, []byte, error) {
	raw, err := c.src.ReadPage(pg)
	if err != nil {
		return 0, nil, err
	}
	typ, err := page.ReadType(pg, raw)
	if err != nil {
		return 0, nil, err
	}
	return typ, raw, nil
}

// descendLeftmost walks from pg down to the leftmost leaf, pushing a
// parentFrame for every parent page it passes through.
func (c *SegmentCursor) descendLeftmost(pg uint32) error {
	for {
		typ, raw, err := c.readPage(pg)
		if err != nil {
			return err
		}
		if typ == page.TypeLeaf {
			entries, err := page.DecodeLeaf(pg, raw)
			if err != nil {
				return err
			}
			c.leaf = entries
			c.leafIdx = 0
			c.valid = len(entries) > 0
			return nil
		}
		children, err := page.DecodeParent(pg, raw)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return lsmerrors.NewPageError(nil, lsmerrors.ErrorCodePageCorrupted, "parent page has no children").WithPageNumber(pg)
		}
		c.stack = append(c.stack, parentFrame{children: children, idx: 0})
		pg = children[0].Page
	}
}

// descendRightmost is the mirror of descendLeftmost, used by Last and by
// Prev when stepping into a new subtree.
func (c *SegmentCursor) descendRightmost(pg uint32) error {
	for {
		typ, raw, err := c.readPage(pg)
		if err != nil {
			return err
		}
		if typ == page.TypeLeaf {
			entries, err := page.DecodeLeaf(pg, raw)
			if err != nil {
				return err
			}
			c.leaf = entries
			c.leafIdx = len(entries) - 1
			c.valid = len(entries) > 0
			return nil
		}
		children, err := page.DecodeParent(pg, raw)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return lsmerrors.NewPageError(nil, lsmerrors.ErrorCodePageCorrupted, "parent page has no children").WithPageNumber(pg)
		}
		last := len(children) - 1
		c.stack = append(c.stack, parentFrame{children: children, idx: last})
		pg = children[last].Page
	}
}

// First positions the cursor on the segment's smallest key.
func (c *SegmentCursor) First() error {
	c.stack = c.stack[:0]
	return c.descendLeftmost(c.root)
}

// Last positions the cursor on the segment's largest key.
func (c *SegmentCursor) Last() error {
	c.stack = c.stack[:0]
	return c.descendRightmost(c.root)
}

// Next advances to the next key in ascending order, invalidating the
// cursor if it was already on the last key.
func (c *SegmentCursor) Next() error {
	if !c.valid {
		return lsmerrors.NewCursorInvalidError("Next")
	}
	if c.leafIdx+1 < len(c.leaf) {
		c.leafIdx++
		return nil
	}

	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.idx+1 < len(top.children) {
			top.idx++
			next := top.children[top.idx].Page
			return c.descendLeftmost(next)
		}
		c.stack = c.stack[:len(c.stack)-1]
	}

	c.valid = false
	return nil
}

// Prev steps to the previous key in ascending order, invalidating the
// cursor if it was already on the first key.
func (c *SegmentCursor) Prev() error {
	if !c.valid {
		return lsmerrors.NewCursorInvalidError("Prev")
	}
	if c.leafIdx > 0 {
		c.leafIdx--
		return nil
	}

	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.idx > 0 {
			top.idx--
			prev := top.children[top.idx].Page
			return c.descendRightmost(prev)
		}
		c.stack = c.stack[:len(c.stack)-1]
	}

	c.valid = false
	return nil
}

// Seek positions the cursor according to op relative to key.
func (c *SegmentCursor) Seek(key []byte, op SeekOp) (SeekResult, error) {
	c.stack = c.stack[:0]
	if err := c.descendToLeafContaining(c.root, key); err != nil {
		return SeekInvalid, err
	}

	idx, exact := page.FindEntry(c.leaf, key)
	if exact {
		c.leafIdx = idx
		c.valid = true
		return SeekEqual, nil
	}

	switch op {
	case SeekEQ:
		c.valid = false
		return SeekInvalid, nil

	case SeekGE:
		if idx < len(c.leaf) {
			c.leafIdx = idx
			c.valid = true
			return SeekUnequal, nil
		}
		// Step from this leaf's last entry into the next leaf, if any.
		c.leafIdx = len(c.leaf) - 1
		c.valid = true
		if err := c.Next(); err != nil {
			return SeekInvalid, err
		}

	case SeekLE:
		if idx > 0 {
			c.leafIdx = idx - 1
			c.valid = true
			return SeekUnequal, nil
		}
		// Step from this leaf's first entry into the previous leaf, if any.
		c.leafIdx = 0
		c.valid = true
		if err := c.Prev(); err != nil {
			return SeekInvalid, err
		}
	}

	if !c.valid {
		return SeekInvalid, nil
	}
	return SeekUnequal, nil
}

// descendToLeafContaining walks from pg down to the leaf that would
// contain key, tracking the path in c.stack the same way descendLeftmost
// does so Next/Prev keep working afterward.
func (c *SegmentCursor) descendToLeafContaining(pg uint32, key []byte) error {
	for {
		typ, raw, err := c.readPage(pg)
		if err != nil {
			return err
		}
		if typ == page.TypeLeaf {
			entries, err := page.DecodeLeaf(pg, raw)
			if err != nil {
				return err
			}
			c.leaf = entries
			return nil
		}
		children, err := page.DecodeParent(pg, raw)
		if err != nil {
			return err
		}
		idx := page.FindChild(children, key)
		if idx < 0 {
			idx = 0
		}
		c.stack = append(c.stack, parentFrame{children: children, idx: idx})
		pg = children[idx].Page
	}
}

// IsValid reports whether the cursor is positioned on an entry.
func (c *SegmentCursor) IsValid() bool {
	return c.valid
}

// Key returns the current entry's key. Only valid when IsValid is true.
func (c *SegmentCursor) Key() []byte {
	if !c.valid {
		return nil
	}
	return c.leaf[c.leafIdx].Key
}

// IsTombstone reports whether the current entry is a deletion marker.
func (c *SegmentCursor) IsTombstone() bool {
	if !c.valid {
		return false
	}
	return c.leaf[c.leafIdx].Tombstone
}

// Value returns the current entry's value, resolving an overflow chain if
// needed.
func (c *SegmentCursor) Value() ([]byte, error) {
	if err := requireValid(c.valid, "Value"); err != nil {
		return nil, err
	}
	e := c.leaf[c.leafIdx]
	if e.Tombstone {
		return nil, nil
	}
	if e.ValueBlocks != nil {
		return readOverflow(c.src, e.ValueBlocks, e.ValueTotal)
	}
	return e.Value, nil
}

// Close is a no-op for SegmentCursor; the underlying PageSource is shared
// and owned by the caller.
func (c *SegmentCursor) Close() error {
	return nil
}
