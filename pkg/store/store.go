// Package store implements a paged, ordered key-value storage engine: an
// on-disk sorted map partitioned into bounded pages, with an LRU page cache
// in front of a pluggable backing store. Higher layers see only Get, Put,
// Remove, ordered scans, and NextFirstKey for cursor pagination; pages, the
// index, and the cache stay internal.
package store

import (
	"bytes"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Diffblue-benchmarks/hydra/pkg/codec"
	"github.com/Diffblue-benchmarks/hydra/pkg/monitor"
)

// Options tune one Store. Zero fields take defaults.
type Options struct {
	// MaxEntries splits a page when a put pushes it above this count.
	MaxEntries int
	// MinEntries merges a page into a neighbor when a remove drops it
	// below this count and a neighbor can absorb it.
	MinEntries int
	// CachePages bounds the number of resident pages.
	CachePages int
	// IORetries bounds attempts for transient backing-store faults.
	IORetries int
	// RetryBackoff is the flat delay between retries.
	RetryBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxEntries <= 0 {
		o.MaxEntries = 256
	}
	if o.MinEntries <= 0 {
		o.MinEntries = o.MaxEntries / 4
	}
	if o.MinEntries >= o.MaxEntries {
		o.MinEntries = o.MaxEntries / 4
	}
	if o.CachePages <= 0 {
		o.CachePages = 64
	}
	if o.IORetries <= 0 {
		o.IORetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 10 * time.Millisecond
	}
}

// Store is an ordered map over a single keyspace, generic over key and
// value types. Key ordering comes from the supplied less function, which
// must be consistent with the key codec's byte encoding.
type Store[K, V any] struct {
	opts    Options
	pc      *pageCodec[K, V]
	backing BackingStore
	cache   *pageCache[K, V]
	index   *pageIndex[K]
	stats   *monitor.StoreStats

	nextID uint64
	closed atomic.Bool
}

// Open builds a Store over backing, recovering the page chain already on
// it. An empty backing store gets a single page covering the whole
// keyspace.
func Open[K, V any](backing BackingStore, kc codec.Codec[K], vc codec.Codec[V], less func(a, b K) bool, opts Options) (*Store[K, V], error) {
	opts.applyDefaults()

	pc := &pageCodec[K, V]{key: kc, val: vc, less: less}
	stats := monitor.NewStoreStats()
	retrying := withRetries(backing, opts.IORetries, opts.RetryBackoff)

	s := &Store[K, V]{
		opts:    opts,
		pc:      pc,
		backing: retrying,
		stats:   stats,
	}
	s.cache = newPageCache(opts.CachePages, retrying, pc, stats)

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenBytes opens a store keyed and valued by raw bytes, with keys ordered
// lexicographically.
func OpenBytes(backing BackingStore, opts Options) (*Store[[]byte, []byte], error) {
	less := func(a, b []byte) bool { return bytes.Compare(a, b) < 0 }
	return Open[[]byte, []byte](backing, codec.Bytes{}, codec.Bytes{}, less, opts)
}

// recover enumerates pages on the backing store, rebuilds the index, and
// revalidates the firstKey chain. A broken chain refuses to open.
func (s *Store[K, V]) recover() error {
	ids, err := s.backing.List()
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		head := newPage(PageID(1), s.pc)
		head.lowerInf = true
		head.nextNone = true
		head.dirty = true
		data, err := head.encode(s.pc)
		if err != nil {
			return err
		}
		if err := s.backing.WritePage(head.id, data); err != nil {
			return err
		}
		s.index = newPageIndex(head.id, s.pc.less)
		s.nextID = uint64(head.id)
		return nil
	}

	var head *pageMeta[K]
	var rest []pageMeta[K]
	maxID := uint64(0)

	for _, id := range ids {
		data, err := s.backing.ReadPage(id)
		if err != nil {
			return err
		}
		p, err := decodePage(id, data, s.pc)
		if err != nil {
			return err
		}
		m := pageMeta[K]{id: id, lower: p.lower, lowerInf: p.lowerInf, next: p.next, nextNone: p.nextNone}
		if m.lowerInf {
			if head != nil {
				return corruptionErr(id, "two head pages (%d and %d)", head.id, id)
			}
			head = &m
		} else {
			rest = append(rest, m)
		}
		if uint64(id) > maxID {
			maxID = uint64(id)
		}
	}

	if head == nil {
		return fmt.Errorf("%w: no head page among %d pages", ErrCorrupted, len(ids))
	}

	less := s.pc.less
	eq := func(a, b K) bool { return !less(a, b) && !less(b, a) }
	sort.Slice(rest, func(i, j int) bool { return less(rest[i].lower, rest[j].lower) })

	prev := head
	for i := range rest {
		m := &rest[i]
		if prev.nextNone || !eq(prev.next, m.lower) {
			return corruptionErr(prev.id, "chain break before page %d", m.id)
		}
		prev = m
	}
	if !prev.nextNone {
		return corruptionErr(prev.id, "last page has a dangling next pointer")
	}

	s.index = newPageIndex(head.id, less)
	for _, m := range rest {
		s.index.insert(m.lower, m.id)
	}
	s.nextID = maxID

	log.Printf("[Store] Recovered %d pages", len(ids))
	return nil
}

func (s *Store[K, V]) allocID() PageID {
	return PageID(atomic.AddUint64(&s.nextID, 1))
}

// pageMeta is the header view of a page used by the recovery pass.
type pageMeta[K any] struct {
	id       PageID
	lower    K
	lowerInf bool
	next     K
	nextNone bool
}

// mergeCand pairs an underfull page with one neighbor, in key order.
type mergeCand[K, V any] struct {
	left, right *page[K, V]
	neighbor    PageID
	spare       int
}

// pinOwner resolves key to its owning page, pins it, and locks it in the
// requested mode. If a concurrent split or merge moved the boundary between
// index lookup and lock acquisition, resolution retries against the updated
// index. The caller unlocks and releases.
func (s *Store[K, V]) pinOwner(key K, write bool) (*page[K, V], error) {
	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		pid := s.index.locate(key)
		p, err := s.cache.acquire(pid)
		if err != nil {
			return nil, err
		}
		if write {
			p.mu.Lock()
		} else {
			p.mu.RLock()
		}
		if !p.dead && p.covers(key, s.pc.less) {
			return p, nil
		}
		if write {
			p.mu.Unlock()
		} else {
			p.mu.RUnlock()
		}
		s.cache.release(pid)
	}
}

// Get returns the value stored under key. A missing key is not an error.
func (s *Store[K, V]) Get(key K) (V, bool, error) {
	s.stats.RecordRead()

	p, err := s.pinOwner(key, false)
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := p.get(key)
	p.mu.RUnlock()
	s.cache.release(p.id)
	return v, ok, nil
}

// Put inserts or overwrites the entry for key, then splits the page if it
// went over MaxEntries.
func (s *Store[K, V]) Put(key K, value V) error {
	s.stats.RecordWrite()

	p, err := s.pinOwner(key, true)
	if err != nil {
		return err
	}
	p.put(key, value)
	over := p.count() > s.opts.MaxEntries
	p.mu.Unlock()

	if over {
		err = s.split(p)
	}
	s.cache.release(p.id)
	return err
}

// Remove deletes the entry for key if present, then merges the page with a
// neighbor if it dropped below MinEntries. Removing an absent key is a
// no-op.
func (s *Store[K, V]) Remove(key K) error {
	s.stats.RecordRemove()

	p, err := s.pinOwner(key, true)
	if err != nil {
		return err
	}
	removed := p.remove(key)
	under := removed && p.count() < s.opts.MinEntries
	p.mu.Unlock()

	if under && s.index.pageCount() > 1 {
		s.merge(p)
	}
	s.cache.release(p.id)
	return nil
}

// split divides p at its median key into two pages and publishes the new
// sibling in the index. Readers pinned to p observe either the pre-split
// or post-split page, never a partial one, because the move happens under
// p's lock. The caller holds a pin on p.
func (s *Store[K, V]) split(p *page[K, V]) error {
	p.mu.Lock()
	if p.dead || p.count() <= s.opts.MaxEntries {
		// Lost the race; the other split already ran.
		p.mu.Unlock()
		return nil
	}

	upper := p.splitEntries()
	right := newPage(s.allocID(), s.pc)
	for _, e := range upper {
		right.entries.ReplaceOrInsert(e)
	}
	right.lower = upper[0].Key
	right.next, right.nextNone = p.next, p.nextNone
	right.dirty = true

	if err := s.cache.insert(right); err != nil {
		// No room for the sibling; put the entries back and leave the
		// page overfull until the next write retries.
		for _, e := range upper {
			p.entries.ReplaceOrInsert(e)
		}
		p.mu.Unlock()
		return err
	}

	p.next, p.nextNone = right.lower, false
	p.generation++
	s.index.insert(right.lower, right.id)
	p.mu.Unlock()

	s.cache.release(right.id)
	s.stats.RecordSplit()
	return nil
}

// merge folds an underfull page into a key-order neighbor when the
// combined page stays within MaxEntries, preferring the emptier neighbor.
// When neither neighbor can absorb it the page is left underfull. The
// caller holds a pin on p.
func (s *Store[K, V]) merge(p *page[K, V]) {
	p.mu.RLock()
	if p.dead {
		p.mu.RUnlock()
		return
	}
	lower, lowerInf := p.lower, p.lowerInf
	next, nextNone := p.next, p.nextNone
	p.mu.RUnlock()

	var cands []mergeCand[K, V]

	// Right neighbor: p absorbs it.
	if !nextNone {
		if rp, err := s.cache.acquire(s.index.locate(next)); err == nil {
			cands = append(cands, mergeCand[K, V]{left: p, right: rp, neighbor: rp.id, spare: s.opts.MaxEntries - rp.entryCount()})
		}
	}
	// Left neighbor: it absorbs p.
	if !lowerInf {
		if lp, err := s.cache.acquire(s.index.predecessor(lower)); err == nil {
			cands = append(cands, mergeCand[K, V]{left: lp, right: p, neighbor: lp.id, spare: s.opts.MaxEntries - lp.entryCount()})
		}
	}
	if len(cands) == 2 && cands[1].spare > cands[0].spare {
		cands[0], cands[1] = cands[1], cands[0]
	}

	merged := false
	for _, c := range cands {
		if !merged && c.left != c.right && s.tryMerge(c.left, c.right) {
			merged = true
		}
		s.cache.release(c.neighbor)
	}
}

// tryMerge locks left then right (key order), re-verifies adjacency and
// capacity, and absorbs right into left. Returns false when the pages are
// no longer adjacent or the result would not fit.
func (s *Store[K, V]) tryMerge(left, right *page[K, V]) bool {
	left.mu.Lock()
	right.mu.Lock()
	defer left.mu.Unlock()

	less := s.pc.less
	adjacent := !left.dead && !right.dead && !left.nextNone && !right.lowerInf &&
		!less(left.next, right.lower) && !less(right.lower, left.next)
	if !adjacent || left.count()+right.count() > s.opts.MaxEntries {
		right.mu.Unlock()
		return false
	}

	removedKey := right.lower
	left.absorb(right)

	right.dead = true
	right.generation++
	right.dirty = false
	right.mu.Unlock()

	s.index.remove(removedKey)
	s.cache.discard(right.id)
	if err := s.backing.DeletePage(right.id); err != nil {
		log.Printf("[Store] Delete merged page %d: %v", right.id, err)
	}
	s.stats.RecordMerge()
	return true
}

// FirstKey returns the smallest key in the store.
func (s *Store[K, V]) FirstKey() (K, bool, error) {
	var zero K
	if s.closed.Load() {
		return zero, false, ErrClosed
	}

	pid := s.index.headID()
	for {
		p, err := s.cache.acquire(pid)
		if err != nil {
			return zero, false, err
		}
		p.mu.RLock()
		if min, ok := p.entries.Min(); ok {
			p.mu.RUnlock()
			s.cache.release(p.id)
			return min.Key, true, nil
		}
		next, none := p.next, p.nextNone
		p.mu.RUnlock()
		s.cache.release(p.id)

		if none {
			return zero, false, nil
		}
		pid = s.index.locate(next)
	}
}

// NextFirstKey returns the first key of the page after the one owning key,
// or ok=false on the terminal page. This is the cursor-pagination hook:
// callers can walk the keyspace page by page without seeing the index.
func (s *Store[K, V]) NextFirstKey(key K) (K, bool, error) {
	var zero K
	p, err := s.pinOwner(key, false)
	if err != nil {
		return zero, false, err
	}
	next, none := p.next, p.nextNone
	p.mu.RUnlock()
	s.cache.release(p.id)

	if none {
		return zero, false, nil
	}
	return next, true, nil
}

// PageCount reports the number of live pages.
func (s *Store[K, V]) PageCount() int { return s.index.pageCount() }

// Stats exposes the engine counters.
func (s *Store[K, V]) Stats() *monitor.StoreStats { return s.stats }

// Flush writes back every dirty resident page.
func (s *Store[K, V]) Flush() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.cache.flushAll()
}

// Close flushes dirty pages and releases the backing store. The store is
// unusable afterwards.
func (s *Store[K, V]) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	flushErr := s.cache.flushAll()
	closeErr := s.backing.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
