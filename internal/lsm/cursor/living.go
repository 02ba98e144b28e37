package cursor

// LivingCursor wraps another cursor and skips over tombstoned entries, so
// that a caller reading through it never observes a deleted key. It is
// the cursor type handed to ordinary read operations; the raw merged
// stream (tombstones included) is only used internally by automerge.
type LivingCursor struct {
	inner Cursor
	valid bool
}

// NewLivingCursor wraps inner, typically a *MultiCursor over every live
// segment.
func NewLivingCursor(inner Cursor) *LivingCursor {
	return &LivingCursor{inner: inner}
}

// skipForward advances inner past any run of tombstones, starting from
// its current position.
func (l *LivingCursor) skipForward() error {
	for l.inner.IsValid() && l.inner.IsTombstone() {
		if err := l.inner.Next(); err != nil {
			return err
		}
	}
	l.valid = l.inner.IsValid()
	return nil
}

func (l *LivingCursor) skipBackward() error {
	for l.inner.IsValid() && l.inner.IsTombstone() {
		if err := l.inner.Prev(); err != nil {
			return err
		}
	}
	l.valid = l.inner.IsValid()
	return nil
}

// First positions on the smallest live (non-tombstoned) key.
func (l *LivingCursor) First() error {
	if err := l.inner.First(); err != nil {
		return err
	}
	return l.skipForward()
}

// Last positions on the largest live key.
func (l *LivingCursor) Last() error {
	if err := l.inner.Last(); err != nil {
		return err
	}
	return l.skipBackward()
}

// Next advances to the next live key.
func (l *LivingCursor) Next() error {
	if err := requireValid(l.valid, "Next"); err != nil {
		return err
	}
	if err := l.inner.Next(); err != nil {
		return err
	}
	return l.skipForward()
}

// Prev steps to the previous live key.
func (l *LivingCursor) Prev() error {
	if err := requireValid(l.valid, "Prev"); err != nil {
		return err
	}
	if err := l.inner.Prev(); err != nil {
		return err
	}
	return l.skipBackward()
}

// Seek positions according to op. A SeekEQ that lands on a tombstone
// leaves the cursor invalid; for SeekGE and SeekLE it skips forward or
// backward past any tombstone it lands on, so the cursor never rests on a
// deleted key.
func (l *LivingCursor) Seek(key []byte, op SeekOp) (SeekResult, error) {
	res, err := l.inner.Seek(key, op)
	if err != nil {
		return SeekInvalid, err
	}
	if !res.IsValid() {
		l.valid = false
		return SeekInvalid, nil
	}

	if !l.inner.IsTombstone() {
		l.valid = true
		return res, nil
	}
	if op == SeekEQ {
		l.valid = false
		return SeekInvalid, nil
	}

	switch op {
	case SeekLE:
		if err := l.skipBackward(); err != nil {
			return SeekInvalid, err
		}
	default:
		if err := l.skipForward(); err != nil {
			return SeekInvalid, err
		}
	}
	if !l.valid {
		return SeekInvalid, nil
	}
	return SeekUnequal, nil
}

// IsValid reports whether the cursor rests on a live key.
func (l *LivingCursor) IsValid() bool {
	return l.valid
}

// Key returns the current live key.
func (l *LivingCursor) Key() []byte {
	if !l.valid {
		return nil
	}
	return l.inner.Key()
}

// Value returns the current live value.
func (l *LivingCursor) Value() ([]byte, error) {
	if err := requireValid(l.valid, "Value"); err != nil {
		return nil, err
	}
	return l.inner.Value()
}

// IsTombstone always reports false: LivingCursor never rests on one.
func (l *LivingCursor) IsTombstone() bool {
	return false
}

// Close closes the wrapped cursor.
func (l *LivingCursor) Close() error {
	return l.inner.Close()
}
