// Package cursor implements the read paths over segments: a single-segment
// cursor that descends a segment's page tree, an N-way MultiCursor that
// merges segments by key order, a LivingCursor that hides tombstones from
// readers, and a TombstoneFilterCursor used on the automerge path to drop
// tombstones once no older segment can still be shadowed by them.
package cursor

import (
	"bytes"

	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/page"
	lsmerrors "github.com/arjunvaid/lsmforest/pkg/errors"
)

// SeekOp selects how Seek interprets a miss on the exact key.
type SeekOp int

const (
	// SeekEQ leaves the cursor invalid unless key is present exactly.
	SeekEQ SeekOp = iota
	// SeekLE positions on the largest key <= the sought key.
	SeekLE
	// SeekGE positions on the smallest key >= the sought key.
	SeekGE
)

// SeekResult reports how a Seek call relates the cursor's resulting
// position to the key that was sought.
type SeekResult int

const (
	// SeekInvalid means the cursor ended up positioned on nothing.
	SeekInvalid SeekResult = iota
	// SeekUnequal means the cursor landed on a different key than the
	// one sought (the nearest one in the requested direction).
	SeekUnequal
	// SeekEqual means the cursor landed exactly on the sought key.
	SeekEqual
)

// IsValid reports whether the result represents a usable cursor position.
func (r SeekResult) IsValid() bool {
	return r != SeekInvalid
}

// Cursor is the common interface every cursor in this package implements:
// bidirectional, seekable iteration over key/value pairs in ascending key
// order.
type Cursor interface {
	First() error
	Last() error
	Next() error
	Prev() error
	Seek(key []byte, op SeekOp) (SeekResult, error)

	IsValid() bool
	Key() []byte
	Value() ([]byte, error)
	IsTombstone() bool

	Close() error
}

// PageSource reads a single page from the underlying file. Manager
// implements this over an *os.File; tests implement it over an in-memory
// map.
type PageSource interface {
	ReadPage(pageNumber uint32) ([]byte, error)
}

// requireValid is a panic-free guard used by Value, Next and Prev: callers are
// required to check IsValid first, but returning a CursorError here keeps
// misuse from reading garbage.
func requireValid(valid bool, operation string) error {
	if !valid {
		return lsmerrors.NewCursorInvalidError(operation)
	}
	return nil
}

func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// readOverflow is a tiny helper shared by cursors that need to resolve an
// overflow chain into a single buffer.
func readOverflow(src PageSource, blocks *block.List, total int) ([]byte, error) {
	out := make([]byte, 0, total)
	for _, blk := range blocks.Blocks() {
		for pg := blk.First; pg <= blk.Last && len(out) < total; pg++ {
			raw, err := src.ReadPage(uint32(pg))
			if err != nil {
				return nil, err
			}
			content, err := page.DecodeOverflowPage(uint32(pg), raw)
			if err != nil {
				return nil, err
			}
			remaining := total - len(out)
			if remaining < len(content) {
				content = content[:remaining]
			}
			out = append(out, content...)
		}
	}
	return out, nil
}
