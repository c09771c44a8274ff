package store

import (
	"errors"
	"sync"

	"github.com/Diffblue-benchmarks/hydra/pkg/monitor"
)

// cacheNode is one resident page plus its LRU list position and pin count.
type cacheNode[K, V any] struct {
	id   PageID
	page *page[K, V]
	pins int

	prev, next *cacheNode[K, V]
}

// pageCache bounds the number of resident pages. A map gives O(1) lookup
// and a doubly linked list with dummy head/tail keeps LRU order; the least
// recently used unpinned page is evicted, with dirty pages written back
// first. At most one load per page id runs at a time; concurrent acquirers
// of a loading page wait on its in-flight channel.
type pageCache[K, V any] struct {
	mu       sync.Mutex
	capacity int
	resident map[PageID]*cacheNode[K, V]
	inflight map[PageID]chan struct{}

	// corrupt pins the first corruption seen per page; every later acquire
	// fails with it so nothing reads or writes through a bad image.
	corrupt map[PageID]error

	head, tail *cacheNode[K, V]

	backing BackingStore
	pc      *pageCodec[K, V]
	stats   *monitor.StoreStats
}

func newPageCache[K, V any](capacity int, backing BackingStore, pc *pageCodec[K, V], stats *monitor.StoreStats) *pageCache[K, V] {
	if capacity < 2 {
		capacity = 2
	}
	head := &cacheNode[K, V]{}
	tail := &cacheNode[K, V]{}
	head.next = tail
	tail.prev = head

	return &pageCache[K, V]{
		capacity: capacity,
		resident: make(map[PageID]*cacheNode[K, V]),
		inflight: make(map[PageID]chan struct{}),
		corrupt:  make(map[PageID]error),
		head:     head,
		tail:     tail,
		backing:  backing,
		pc:       pc,
		stats:    stats,
	}
}

func (c *pageCache[K, V]) addToFront(n *cacheNode[K, V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *pageCache[K, V]) removeNode(n *cacheNode[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (c *pageCache[K, V]) moveToFront(n *cacheNode[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	c.addToFront(n)
}

// acquire returns the resident page for id with its pin count incremented,
// loading it from the backing store on a miss. The caller must pair every
// successful acquire with a release.
func (c *pageCache[K, V]) acquire(id PageID) (*page[K, V], error) {
	for {
		c.mu.Lock()
		if err, bad := c.corrupt[id]; bad {
			c.mu.Unlock()
			return nil, err
		}
		if n, ok := c.resident[id]; ok {
			n.pins++
			c.moveToFront(n)
			c.mu.Unlock()
			c.stats.RecordHit()
			return n.page, nil
		}
		if ch, ok := c.inflight[id]; ok {
			c.mu.Unlock()
			<-ch
			continue
		}

		ch := make(chan struct{})
		c.inflight[id] = ch
		c.mu.Unlock()

		p, err := c.load(id)

		c.mu.Lock()
		delete(c.inflight, id)
		if err == nil {
			err = c.makeRoomLocked()
		}
		if err != nil {
			if errorsIsCorruption(err) {
				c.corrupt[id] = err
			}
			c.mu.Unlock()
			close(ch)
			return nil, err
		}

		n := &cacheNode[K, V]{id: id, page: p, pins: 1}
		c.resident[id] = n
		c.addToFront(n)
		c.mu.Unlock()
		close(ch)

		c.stats.RecordMiss()
		return p, nil
	}
}

func (c *pageCache[K, V]) load(id PageID) (*page[K, V], error) {
	data, err := c.backing.ReadPage(id)
	if err != nil {
		if isNotExist(err) {
			// The index routed us here, so the page should exist.
			return nil, corruptionErr(id, "missing from backing store")
		}
		return nil, err
	}
	return decodePage(id, data, c.pc)
}

// release drops one pin. At zero pins the page stays resident but becomes
// eligible for eviction.
func (c *pageCache[K, V]) release(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.resident[id]; ok && n.pins > 0 {
		n.pins--
	}
}

// insert admits a freshly created page (from a split) as resident, dirty,
// and pinned once.
func (c *pageCache[K, V]) insert(p *page[K, V]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.makeRoomLocked(); err != nil {
		return err
	}
	n := &cacheNode[K, V]{id: p.id, page: p, pins: 1}
	c.resident[p.id] = n
	c.addToFront(n)
	return nil
}

// discard forgets a page merged away. The caller holds the only pin and
// deletes the durable record itself.
func (c *pageCache[K, V]) discard(id PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.resident[id]; ok {
		delete(c.resident, id)
		c.removeNode(n)
	}
	delete(c.corrupt, id)
}

// makeRoomLocked evicts LRU unpinned pages until one slot is free. A page
// whose write-back fails is skipped for the next candidate; when no page
// can be evicted the admission fails with ErrCacheFull rather than
// blocking forever.
func (c *pageCache[K, V]) makeRoomLocked() error {
	skip := make(map[PageID]bool)
	for len(c.resident) >= c.capacity {
		n := c.victimLocked(skip)
		if n == nil {
			return ErrCacheFull
		}

		// Hold the slot with an artificial pin while the write-back runs
		// without the cache lock.
		n.pins++
		c.mu.Unlock()
		err := c.writeBack(n.page)
		c.mu.Lock()
		n.pins--

		if err != nil {
			// This one stays resident; try the next candidate.
			skip[n.id] = true
			continue
		}
		if n.pins > 0 || n.page.isDirty() {
			// Re-pinned or re-dirtied during the write-back; keep it.
			skip[n.id] = true
			continue
		}
		delete(c.resident, n.id)
		c.removeNode(n)
		c.stats.RecordEviction()
	}
	return nil
}

// victimLocked returns the least recently used unpinned node not in skip,
// or nil when every resident page is pinned or skipped.
func (c *pageCache[K, V]) victimLocked(skip map[PageID]bool) *cacheNode[K, V] {
	for n := c.tail.prev; n != c.head; n = n.prev {
		if n.pins == 0 && !skip[n.id] {
			return n
		}
	}
	return nil
}

// writeBack encodes the page and writes it to the backing store, clearing
// the dirty flag. A clean page is a no-op. Called without the cache lock.
func (c *pageCache[K, V]) writeBack(p *page[K, V]) error {
	p.mu.Lock()
	if !p.dirty {
		p.mu.Unlock()
		return nil
	}
	data, err := p.encode(c.pc)
	if err != nil {
		p.mu.Unlock()
		return corruptionErr(p.id, "encode: %v", err)
	}
	p.dirty = false
	p.mu.Unlock()

	if err := c.backing.WritePage(p.id, data); err != nil {
		p.mu.Lock()
		p.dirty = true
		p.mu.Unlock()
		return err
	}
	c.stats.RecordWriteBack()
	return nil
}

// flushAll writes back every dirty resident page. Used at checkpoint and
// shutdown.
func (c *pageCache[K, V]) flushAll() error {
	c.mu.Lock()
	pages := make([]*page[K, V], 0, len(c.resident))
	for _, n := range c.resident {
		pages = append(pages, n.page)
	}
	c.mu.Unlock()

	var firstErr error
	for _, p := range pages {
		if err := c.writeBack(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *pageCache[K, V]) residentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resident)
}

func errorsIsCorruption(err error) bool {
	return errors.Is(err, ErrCorrupted)
}
