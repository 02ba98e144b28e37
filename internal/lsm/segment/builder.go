package segment

import (
	"github.com/arjunvaid/lsmforest/internal/lsm/block"
	"github.com/arjunvaid/lsmforest/internal/lsm/page"
	lsmerrors "github.com/arjunvaid/lsmforest/pkg/errors"
)

// Pair is one key/value entry as handed to the builder, in ascending key
// order with no duplicate keys. A nil Value with Tombstone set marks a
// deletion.
type Pair struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Location describes where a completed segment lives: the page number of
// its root (a parent page, or a leaf page for a segment small enough to
// need no parent level) and the full set of pages it occupies.
type Location struct {
	RootPage uint32
	Blocks   *block.List
}

// inlineValueLimit is the largest value this builder will store inline in
// a leaf page rather than writing to an overflow chain. It is deliberately
// a fraction of a page so that a handful of large values can't by
// themselves force a page split.
const inlineValueLimit = 1024

// Build ingests pairs (already sorted by key) and writes a complete
// segment through w, returning its root page and occupied blocks. An empty
// pairs slice is an error; callers should not commit empty segments.
func Build(w *Writer, pageSize int, pairs []Pair) (*Location, error) {
	if len(pairs) == 0 {
		return nil, lsmerrors.NewValidationError(nil, lsmerrors.ErrorCodeInvalidInput, "cannot build a segment from zero pairs")
	}
	leaves, err := buildLeaves(w, pageSize, pairs)
	if err != nil {
		return nil, err
	}

	children := leaves
	for len(children) > 1 {
		children, err = buildParentLevel(w, pageSize, children)
		if err != nil {
			return nil, err
		}
	}

	return &Location{RootPage: children[0].Page, Blocks: w.Used()}, nil
}

func buildLeaves(w *Writer, pageSize int, pairs []Pair) ([]page.Child, error) {
	var children []page.Child
	var batch []page.Entry

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		raw, err := page.EncodeLeaf(pageSize, batch)
		if err != nil {
			return err
		}
		pg, err := w.WritePage(raw)
		if err != nil {
			return err
		}
		children = append(children, page.Child{
			Page:     pg,
			Blocks:   block.NewList(),
			FirstKey: batch[0].Key,
		})
		batch = nil
		return nil
	}

	for _, p := range pairs {
		entry := page.Entry{Key: p.Key, Value: p.Value, Tombstone: p.Tombstone}

		if !p.Tombstone && len(p.Value) > inlineValueLimit {
			blocks, total, err := w.WriteOverflow(p.Value)
			if err != nil {
				return nil, err
			}
			entry = page.Entry{Key: p.Key, ValueBlocks: blocks, ValueTotal: total}
		}

		trial := append(append([]page.Entry(nil), batch...), entry)
		if raw, err := page.EncodeLeaf(pageSize, trial); err == nil {
			batch = trial
			_ = raw
			continue
		}

		// The new entry doesn't fit alongside the current batch. Flush
		// what we have and start a fresh page with just this entry.
		if err := flush(); err != nil {
			return nil, err
		}
		batch = []page.Entry{entry}
		if _, err := page.EncodeLeaf(pageSize, batch); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return children, nil
}

func buildParentLevel(w *Writer, pageSize int, children []page.Child) ([]page.Child, error) {
	var level []page.Child
	var batch []page.Child

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		raw, err := page.EncodeParent(pageSize, batch)
		if err != nil {
			return err
		}
		pg, err := w.WritePage(raw)
		if err != nil {
			return err
		}
		level = append(level, page.Child{
			Page:     pg,
			Blocks:   block.NewList(),
			FirstKey: batch[0].FirstKey,
		})
		batch = nil
		return nil
	}

	for _, c := range children {
		trial := append(append([]page.Child(nil), batch...), c)
		if _, err := page.EncodeParent(pageSize, trial); err == nil {
			batch = trial
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		batch = []page.Child{c}
		if _, err := page.EncodeParent(pageSize, batch); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return level, nil
}
