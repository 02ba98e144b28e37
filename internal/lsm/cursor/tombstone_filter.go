package cursor

// TombstoneFilterCursor wraps a merged cursor over the segments being
// compacted and decides whether to pass tombstones through to the
// resulting segment or drop them. A tombstone can only be dropped once
// the merge reaches the oldest data in the tree: if any segment older
// than the ones being merged might still hold the key, the tombstone
// must survive so that a read merging it back in still sees the
// deletion.
type TombstoneFilterCursor struct {
	inner         Cursor
	dropTombstone bool
	valid         bool
}

// NewTombstoneFilterCursor wraps inner. includesOldest should be true
// when the merge spans every segment down to the bottom of the tree, in
// which case tombstones are dropped rather than written to the new
// segment; otherwise they are carried forward unchanged.
func NewTombstoneFilterCursor(inner Cursor, includesOldest bool) *TombstoneFilterCursor {
	return &TombstoneFilterCursor{inner: inner, dropTombstone: includesOldest}
}

func (t *TombstoneFilterCursor) skipForward() error {
	if !t.dropTombstone {
		t.valid = t.inner.IsValid()
		return nil
	}
	for t.inner.IsValid() && t.inner.IsTombstone() {
		if err := t.inner.Next(); err != nil {
			return err
		}
	}
	t.valid = t.inner.IsValid()
	return nil
}

// First positions on the first entry the merge will emit.
func (t *TombstoneFilterCursor) First() error {
	if err := t.inner.First(); err != nil {
		return err
	}
	return t.skipForward()
}

// Last positions on the last entry the merge will emit. Merges only ever
// read forward, but Last is kept for interface completeness.
func (t *TombstoneFilterCursor) Last() error {
	if err := t.inner.Last(); err != nil {
		return err
	}
	for t.dropTombstone && t.inner.IsValid() && t.inner.IsTombstone() {
		if err := t.inner.Prev(); err != nil {
			return err
		}
	}
	t.valid = t.inner.IsValid()
	return nil
}

// Next advances to the next entry the merge will emit.
func (t *TombstoneFilterCursor) Next() error {
	if err := requireValid(t.valid, "Next"); err != nil {
		return err
	}
	if err := t.inner.Next(); err != nil {
		return err
	}
	return t.skipForward()
}

// Prev is not used by the merge path; it delegates without tombstone
// filtering.
func (t *TombstoneFilterCursor) Prev() error {
	if err := requireValid(t.valid, "Prev"); err != nil {
		return err
	}
	if err := t.inner.Prev(); err != nil {
		return err
	}
	t.valid = t.inner.IsValid()
	return nil
}

// Seek is not used by the merge path; it delegates without tombstone
// filtering.
func (t *TombstoneFilterCursor) Seek(key []byte, op SeekOp) (SeekResult, error) {
	res, err := t.inner.Seek(key, op)
	t.valid = t.inner.IsValid()
	return res, err
}

// IsValid reports whether the cursor is positioned on an entry to emit.
func (t *TombstoneFilterCursor) IsValid() bool {
	return t.valid
}

// Key returns the current entry's key.
func (t *TombstoneFilterCursor) Key() []byte {
	if !t.valid {
		return nil
	}
	return t.inner.Key()
}

// Value returns the current entry's value.
func (t *TombstoneFilterCursor) Value() ([]byte, error) {
	if err := requireValid(t.valid, "Value"); err != nil {
		return nil, err
	}
	return t.inner.Value()
}

// IsTombstone reports whether the current entry is a tombstone that is
// being carried forward into the new segment. It is always false when
// dropTombstone is set, since those entries are skipped in skipForward.
func (t *TombstoneFilterCursor) IsTombstone() bool {
	if !t.valid {
		return false
	}
	return t.inner.IsTombstone()
}

// Close closes the wrapped cursor.
func (t *TombstoneFilterCursor) Close() error {
	return t.inner.Close()
}
