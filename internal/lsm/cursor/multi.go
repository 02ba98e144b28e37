package cursor

import "container/heap"

// multiItem is one live cursor tracked by the heap, ordered by key and,
// for equal keys, by segment recency (higher segment number first).
type multiItem struct {
	cur     Cursor
	segment uint64
	index   int // position in the heap slice, maintained by container/heap
}

type minHeap []*multiItem

func (h minHeap) Len() int { return len(h) }

func (h minHeap) Less(i, j int) bool {
	c := compareKeys(h[i].cur.Key(), h[j].cur.Key())
	if c != 0 {
		return c < 0
	}
	// Equal keys: the newer segment sorts first so MultiCursor's
	// dedup step in Next/Prev always keeps the newest value.
	return h[i].segment > h[j].segment
}

func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *minHeap) Push(x any) {
	item := x.(*multiItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// MultiCursor merges several cursors (typically one SegmentCursor per
// live segment) into a single ascending-key stream. When more than one
// source cursor holds the same key, the one from the highest-numbered
// (newest) segment wins and the others are silently advanced past it.
type MultiCursor struct {
	sources []*multiItem
	heap    minHeap
	current *multiItem
	valid   bool
	reverse bool // true after Prev, Last or a SeekLE; false after Next, First or any other Seek
}

// NewMultiCursor returns a MultiCursor over sources. Each cursor's map key
// is used to resolve ties, the higher key winning, so callers pass numbers
// that grow with recency (the manager uses each segment's rank in the
// header's newest-first order).
func NewMultiCursor(sources map[uint64]Cursor) *MultiCursor {
	m := &MultiCursor{}
	for seg, c := range sources {
		m.sources = append(m.sources, &multiItem{cur: c, segment: seg})
	}
	return m
}

func (m *MultiCursor) rebuildAscending() error {
	m.heap = m.heap[:0]
	for _, it := range m.sources {
		if it.cur.IsValid() {
			m.heap = append(m.heap, it)
		}
	}
	heap.Init(&m.heap)
	return m.settleAscending()
}

// settleAscending makes the heap's front (lowest key, newest segment)
// cursor the current one without advancing anything. Lower-priority
// cursors on the same key stay where they are; Next moves them past it.
func (m *MultiCursor) settleAscending() error {
	if m.heap.Len() == 0 {
		m.valid = false
		m.current = nil
		return nil
	}
	m.current = m.heap[0]
	m.valid = true
	return nil
}

// First positions every source at its first key and settles on the
// smallest.
func (m *MultiCursor) First() error {
	m.reverse = false
	for _, it := range m.sources {
		if err := it.cur.First(); err != nil {
			return err
		}
	}
	return m.rebuildAscending()
}

// Last positions every source at its last key and settles on the largest.
func (m *MultiCursor) Last() error {
	m.reverse = true
	for _, it := range m.sources {
		if err := it.cur.Last(); err != nil {
			return err
		}
	}
	return m.rebuildDescending()
}

func (m *MultiCursor) rebuildDescending() error {
	if len(m.sources) == 0 {
		m.valid = false
		return nil
	}
	var best *multiItem
	for _, it := range m.sources {
		if !it.cur.IsValid() {
			continue
		}
		if best == nil {
			best = it
			continue
		}
		c := compareKeys(it.cur.Key(), best.cur.Key())
		if c > 0 || (c == 0 && it.segment > best.segment) {
			best = it
		}
	}
	m.current = best
	m.valid = best != nil
	return nil
}

// Next advances every cursor parked on the current key, then settles on
// the new smallest key.
func (m *MultiCursor) Next() error {
	if err := requireValid(m.valid, "Next"); err != nil {
		return err
	}
	key := append([]byte(nil), m.current.cur.Key()...)
	m.reverse = false

	for _, it := range m.sources {
		if it.cur.IsValid() && compareKeys(it.cur.Key(), key) == 0 {
			if err := it.cur.Next(); err != nil {
				return err
			}
		}
	}
	return m.rebuildAscending()
}

// Prev steps every cursor parked on the current key backward, then
// settles on the new largest key.
func (m *MultiCursor) Prev() error {
	if err := requireValid(m.valid, "Prev"); err != nil {
		return err
	}
	key := append([]byte(nil), m.current.cur.Key()...)
	m.reverse = true

	for _, it := range m.sources {
		if it.cur.IsValid() && compareKeys(it.cur.Key(), key) == 0 {
			if err := it.cur.Prev(); err != nil {
				return err
			}
		}
	}
	return m.rebuildDescending()
}

// Seek positions every source cursor and settles on the result closest to
// op's requirement, preferring the newest segment on exact ties.
func (m *MultiCursor) Seek(key []byte, op SeekOp) (SeekResult, error) {
	m.reverse = op == SeekLE
	best := SeekInvalid
	var bestItem *multiItem

	for _, it := range m.sources {
		res, err := it.cur.Seek(key, op)
		if err != nil {
			return SeekInvalid, err
		}
		if !res.IsValid() {
			continue
		}
		if bestItem == nil {
			bestItem, best = it, res
			continue
		}
		c := compareKeys(it.cur.Key(), bestItem.cur.Key())
		closer := false
		switch op {
		case SeekGE:
			closer = c < 0
		case SeekLE:
			closer = c > 0
		case SeekEQ:
			closer = false
		}
		if closer || (c == 0 && it.segment > bestItem.segment) {
			bestItem, best = it, res
		}
	}

	m.current = bestItem
	m.valid = bestItem != nil
	if !m.valid {
		return SeekInvalid, nil
	}
	return best, nil
}

// IsValid reports whether the cursor is positioned on an entry.
func (m *MultiCursor) IsValid() bool {
	return m.valid
}

// Key returns the winning cursor's current key.
func (m *MultiCursor) Key() []byte {
	if !m.valid {
		return nil
	}
	return m.current.cur.Key()
}

// Value returns the winning cursor's current value.
func (m *MultiCursor) Value() ([]byte, error) {
	if err := requireValid(m.valid, "Value"); err != nil {
		return nil, err
	}
	return m.current.cur.Value()
}

// IsTombstone reports whether the winning entry is a deletion marker.
func (m *MultiCursor) IsTombstone() bool {
	if !m.valid {
		return false
	}
	return m.current.cur.IsTombstone()
}

// Close closes every source cursor and returns the first failure, if any.
func (m *MultiCursor) Close() error {
	var firstErr error
	for _, it := range m.sources {
		if err := it.cur.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
