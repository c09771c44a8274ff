package store

import (
	"sync"

	"github.com/google/btree"
)

const indexDegree = 32

type indexEntry[K any] struct {
	firstKey K
	id       PageID
}

// pageIndex routes a key to the page owning it. It holds one entry per
// non-head page, keyed by the page's first key; the head page covers
// everything below the smallest entry, so the keyspace has no gaps. The
// lock is held only while the ordered mapping itself is adjusted, never
// across page I/O.
type pageIndex[K any] struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[indexEntry[K]]
	head PageID
	less func(a, b K) bool
}

func newPageIndex[K any](head PageID, less func(a, b K) bool) *pageIndex[K] {
	return &pageIndex[K]{
		tree: btree.NewG(indexDegree, func(a, b indexEntry[K]) bool {
			return less(a.firstKey, b.firstKey)
		}),
		head: head,
		less: less,
	}
}

// locate returns the id of the page whose range contains key: the entry
// with the greatest firstKey <= key, or the head page if none exists.
func (ix *pageIndex[K]) locate(key K) PageID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	id := ix.head
	ix.tree.DescendLessOrEqual(indexEntry[K]{firstKey: key}, func(e indexEntry[K]) bool {
		id = e.id
		return false
	})
	return id
}

func (ix *pageIndex[K]) insert(firstKey K, id PageID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.ReplaceOrInsert(indexEntry[K]{firstKey: firstKey, id: id})
}

func (ix *pageIndex[K]) remove(firstKey K) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.tree.Delete(indexEntry[K]{firstKey: firstKey})
}

// predecessor returns the id of the page immediately before the page whose
// range starts at firstKey; that is the head page when no index entry sits
// strictly below firstKey.
func (ix *pageIndex[K]) predecessor(firstKey K) PageID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	id := ix.head
	ix.tree.DescendLessOrEqual(indexEntry[K]{firstKey: firstKey}, func(e indexEntry[K]) bool {
		if !ix.less(e.firstKey, firstKey) {
			return true // the page itself, keep descending
		}
		id = e.id
		return false
	})
	return id
}

func (ix *pageIndex[K]) headID() PageID { return ix.head }

func (ix *pageIndex[K]) pageCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len() + 1
}
