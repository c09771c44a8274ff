package store

// Iterator walks entries in forward key order starting at a given key. It
// snapshots one page at a time under the page's read lock and crosses page
// boundaries through each page's next pointer, so keys present for the
// whole scan are seen exactly once and never out of order; keys inserted
// or removed mid-scan may or may not appear.
//
// Usage follows the usual pattern:
//
//	it := s.Scan(start)
//	for it.Next() {
//		_ = it.Key()
//		_ = it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator[K, V any] struct {
	s *Store[K, V]

	cursor   K
	consumed bool // cursor was already served; resume strictly after it

	buf []Entry[K, V]
	pos int

	exhausted bool
	err       error
}

// Scan returns an iterator positioned before the first entry with key >=
// start.
func (s *Store[K, V]) Scan(start K) *Iterator[K, V] {
	return &Iterator[K, V]{s: s, cursor: start, pos: -1}
}

// Seek restarts the iterator at start. A caller that abandoned a scan can
// resume from the last key it saw.
func (it *Iterator[K, V]) Seek(start K) {
	it.cursor = start
	it.consumed = false
	it.buf = nil
	it.pos = -1
	it.exhausted = false
	it.err = nil
}

// Next advances to the next entry. It returns false at the end of the
// keyspace or on error; check Err afterwards.
func (it *Iterator[K, V]) Next() bool {
	if it.exhausted || it.err != nil {
		return false
	}

	it.pos++
	if it.pos < len(it.buf) {
		it.cursor = it.buf[it.pos].Key
		it.consumed = true
		return true
	}

	if !it.fill() {
		return false
	}
	it.pos = 0
	it.cursor = it.buf[0].Key
	it.consumed = true
	return true
}

// fill snapshots the remaining entries of the page owning the cursor,
// following next pointers across empty pages. Boundary moves from
// concurrent splits or merges are absorbed by pinOwner re-resolving
// against the index.
func (it *Iterator[K, V]) fill() bool {
	for {
		p, err := it.s.pinOwner(it.cursor, false)
		if err != nil {
			it.err = err
			return false
		}
		entries := p.from(it.cursor, 0)
		next, none := p.next, p.nextNone
		p.mu.RUnlock()
		it.s.cache.release(p.id)

		if it.consumed && len(entries) > 0 && keysEqual(it.s.pc.less, entries[0].Key, it.cursor) {
			entries = entries[1:]
		}
		if len(entries) > 0 {
			it.buf = entries
			return true
		}
		if none {
			it.exhausted = true
			return false
		}
		it.cursor = next
		it.consumed = false
	}
}

// Key returns the key at the current position. Only valid after a true
// Next.
func (it *Iterator[K, V]) Key() K { return it.buf[it.pos].Key }

// Value returns the value at the current position. Only valid after a true
// Next.
func (it *Iterator[K, V]) Value() V { return it.buf[it.pos].Value }

// Err reports the first error the iterator hit, if any.
func (it *Iterator[K, V]) Err() error { return it.err }

func keysEqual[K any](less func(a, b K) bool, a, b K) bool {
	return !less(a, b) && !less(b, a)
}
