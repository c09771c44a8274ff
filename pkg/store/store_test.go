package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Diffblue-benchmarks/hydra/pkg/codec"
)

func uintLess(a, b uint64) bool { return a < b }

// memStore is an in-memory BackingStore with fault hooks for tests.
type memStore struct {
	mu    sync.Mutex
	pages map[PageID][]byte

	readHook  func(id PageID) error
	writeHook func(id PageID) error
	reads     int
	writes    int
}

func newMemStore() *memStore {
	return &memStore{pages: make(map[PageID][]byte)}
}

func (m *memStore) ReadPage(id PageID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readHook != nil {
		if err := m.readHook(id); err != nil {
			return nil, err
		}
	}
	data, ok := m.pages[id]
	if !ok {
		return nil, fmt.Errorf("page %d: %w", id, errNoPage)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *memStore) WritePage(id PageID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeHook != nil {
		if err := m.writeHook(id); err != nil {
			return err
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.pages[id] = cp
	return nil
}

func (m *memStore) DeletePage(id PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, id)
	return nil
}

func (m *memStore) List() ([]PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]PageID, 0, len(m.pages))
	for id := range m.pages {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) Close() error { return nil }

var errNoPage = errors.New("memstore: no such page")

func openUintStore(t *testing.T, backing BackingStore, opts Options) *Store[uint64, string] {
	t.Helper()
	s, err := Open[uint64, string](backing, codec.Uint64{}, codec.String{}, uintLess, opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s
}

// verifyChain walks every live page in key order and checks that each
// page's next pointer equals the following page's lower bound, with the
// last page pointing nowhere.
func verifyChain(t *testing.T, s *Store[uint64, string]) {
	t.Helper()

	pid := s.index.headID()
	seen := 0
	for {
		p, err := s.cache.acquire(pid)
		if err != nil {
			t.Fatalf("chain: acquire page %d: %v", pid, err)
		}
		p.mu.RLock()
		next, none := p.next, p.nextNone
		if seen == 0 && !p.lowerInf {
			t.Fatalf("chain: head page %d has a concrete lower bound", pid)
		}
		p.mu.RUnlock()
		s.cache.release(pid)
		seen++

		if none {
			break
		}
		npid := s.index.locate(next)
		np, err := s.cache.acquire(npid)
		if err != nil {
			t.Fatalf("chain: acquire page %d: %v", npid, err)
		}
		np.mu.RLock()
		if np.lowerInf || np.lower != next {
			np.mu.RUnlock()
			s.cache.release(npid)
			t.Fatalf("chain: page %d next=%d but successor %d starts elsewhere", pid, next, npid)
		}
		np.mu.RUnlock()
		s.cache.release(npid)
		pid = npid
	}

	if got := s.index.pageCount(); got != seen {
		t.Fatalf("chain: walked %d pages but index holds %d", seen, got)
	}
}

func TestPutGetRemove(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{})
	defer s.Close()

	if _, ok, err := s.Get(1); err != nil || ok {
		t.Fatalf("get on empty store: ok=%v err=%v", ok, err)
	}

	if err := s.Put(1, "one"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(1, "uno"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := s.Get(1)
	if err != nil || !ok || v != "uno" {
		t.Fatalf("get after overwrite: %q ok=%v err=%v", v, ok, err)
	}

	if err := s.Remove(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Get(1); ok {
		t.Fatal("key still visible after remove")
	}
	// Removing an absent key is a no-op.
	if err := s.Remove(1); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestSplitChainAcrossThousandKeys(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{MaxEntries: 100, MinEntries: 10, CachePages: 8})
	defer s.Close()

	for i := uint64(1); i <= 1000; i++ {
		if err := s.Put(i, fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	if got := s.PageCount(); got < 10 {
		t.Fatalf("expected at least 10 pages, got %d", got)
	}
	verifyChain(t, s)

	for i := uint64(1); i <= 1000; i++ {
		v, ok, err := s.Get(i)
		if err != nil || !ok || v != fmt.Sprintf("v%d", i) {
			t.Fatalf("get %d: %q ok=%v err=%v", i, v, ok, err)
		}
	}
}

func TestMergeAfterDraining(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{MaxEntries: 10, MinEntries: 5, CachePages: 8})
	defer s.Close()

	for i := uint64(1); i <= 40; i++ {
		if err := s.Put(i, "x"); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	before := s.PageCount()
	if before < 3 {
		t.Fatalf("setup expected >=3 pages, got %d", before)
	}
	verifyChain(t, s)

	// Drain a middle run of keys; the emptied pages must merge away.
	for i := uint64(10); i <= 30; i++ {
		if err := s.Remove(i); err != nil {
			t.Fatalf("remove %d: %v", i, err)
		}
	}

	after := s.PageCount()
	if after >= before {
		t.Fatalf("expected merges to reduce pages: before=%d after=%d", before, after)
	}
	verifyChain(t, s)

	for i := uint64(1); i <= 40; i++ {
		_, ok, err := s.Get(i)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		want := i < 10 || i > 30
		if ok != want {
			t.Fatalf("get %d: present=%v want=%v", i, ok, want)
		}
	}
}

func TestNoKeyLossAcrossSplitsAndMerges(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{MaxEntries: 8, MinEntries: 3, CachePages: 4})
	defer s.Close()

	live := make(map[uint64]bool)
	for i := uint64(0); i < 300; i++ {
		k := (i * 7919) % 200 // revisit keys, force overwrites
		if i%3 == 0 {
			if err := s.Remove(k); err != nil {
				t.Fatalf("remove %d: %v", k, err)
			}
			delete(live, k)
		} else {
			if err := s.Put(k, "x"); err != nil {
				t.Fatalf("put %d: %v", k, err)
			}
			live[k] = true
		}
	}
	verifyChain(t, s)

	it := s.Scan(0)
	got := make(map[uint64]bool)
	for it.Next() {
		if got[it.Key()] {
			t.Fatalf("duplicate key %d in scan", it.Key())
		}
		got[it.Key()] = true
	}
	if err := it.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(live) {
		t.Fatalf("scan saw %d keys, want %d", len(got), len(live))
	}
	for k := range live {
		if !got[k] {
			t.Fatalf("key %d lost", k)
		}
	}
}

func TestFirstKeyAndNextFirstKey(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{MaxEntries: 10, MinEntries: 2, CachePages: 8})
	defer s.Close()

	if _, ok, err := s.FirstKey(); err != nil || ok {
		t.Fatalf("first key of empty store: ok=%v err=%v", ok, err)
	}

	for i := uint64(1); i <= 100; i++ {
		if err := s.Put(i, "x"); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	first, ok, err := s.FirstKey()
	if err != nil || !ok || first != 1 {
		t.Fatalf("first key: %d ok=%v err=%v", first, ok, err)
	}

	// Hop page to page; boundaries must be strictly increasing and end.
	cursor := first
	prev := uint64(0)
	hops := 0
	for {
		next, ok, err := s.NextFirstKey(cursor)
		if err != nil {
			t.Fatalf("next first key from %d: %v", cursor, err)
		}
		if !ok {
			break
		}
		if next <= prev {
			t.Fatalf("boundary %d not increasing past %d", next, prev)
		}
		prev, cursor = next, next
		hops++
		if hops > 1000 {
			t.Fatal("boundary walk did not terminate")
		}
	}
	if hops != s.PageCount()-1 {
		t.Fatalf("walked %d boundaries for %d pages", hops, s.PageCount())
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	backing, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}

	s := openUintStore(t, backing, Options{MaxEntries: 16, CachePages: 4})
	for i := uint64(1); i <= 200; i++ {
		if err := s.Put(i, fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	pages := s.PageCount()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backing2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen file store: %v", err)
	}
	s2 := openUintStore(t, backing2, Options{MaxEntries: 16, CachePages: 4})
	defer s2.Close()

	if got := s2.PageCount(); got != pages {
		t.Fatalf("recovered %d pages, want %d", got, pages)
	}
	verifyChain(t, s2)
	for i := uint64(1); i <= 200; i++ {
		v, ok, err := s2.Get(i)
		if err != nil || !ok || v != fmt.Sprintf("v%d", i) {
			t.Fatalf("get %d after reopen: %q ok=%v err=%v", i, v, ok, err)
		}
	}
}

func TestSQLiteBackedStore(t *testing.T) {
	path := t.TempDir() + "/pages.db"
	backing, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}

	s := openUintStore(t, backing, Options{MaxEntries: 16, CachePages: 4})
	for i := uint64(1); i <= 100; i++ {
		if err := s.Put(i, "sq"); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backing2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen sqlite store: %v", err)
	}
	s2 := openUintStore(t, backing2, Options{MaxEntries: 16, CachePages: 4})
	defer s2.Close()

	verifyChain(t, s2)
	for i := uint64(1); i <= 100; i++ {
		if _, ok, err := s2.Get(i); err != nil || !ok {
			t.Fatalf("get %d after sqlite reopen: ok=%v err=%v", i, ok, err)
		}
	}
}

func TestConcurrentGetPutSameKey(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{MaxEntries: 32, CachePages: 4})
	defer s.Close()

	if err := s.Put(7, "old"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- s.Put(7, "new")
	}()
	go func() {
		defer wg.Done()
		v, ok, err := s.Get(7)
		if err != nil {
			errs <- err
			return
		}
		if !ok || (v != "old" && v != "new") {
			errs <- fmt.Errorf("torn read: %q ok=%v", v, ok)
			return
		}
		errs <- nil
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent get/put: %v", err)
		}
	}

	v, ok, err := s.Get(7)
	if err != nil || !ok || v != "new" {
		t.Fatalf("final value: %q ok=%v err=%v", v, ok, err)
	}
}

func TestConcurrentMixedWorkload(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{MaxEntries: 16, MinEntries: 4, CachePages: 6})
	defer s.Close()

	const workers = 8
	const opsPerWorker = 500

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				k := uint64((w*opsPerWorker + i*13) % 400)
				switch i % 4 {
				case 0, 1:
					if err := s.Put(k, "v"); err != nil {
						errCh <- fmt.Errorf("put %d: %w", k, err)
						return
					}
				case 2:
					if _, _, err := s.Get(k); err != nil {
						errCh <- fmt.Errorf("get %d: %w", k, err)
						return
					}
				case 3:
					if err := s.Remove(k); err != nil {
						errCh <- fmt.Errorf("remove %d: %w", k, err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
	verifyChain(t, s)
}

func TestTransientIORetry(t *testing.T) {
	mem := newMemStore()
	failures := 2
	mem.readHook = func(id PageID) error {
		if failures > 0 {
			failures--
			return errors.New("disk hiccup")
		}
		return nil
	}

	s := openUintStore(t, mem, Options{MaxEntries: 16, CachePages: 4, IORetries: 3, RetryBackoff: 1})
	defer s.Close()

	// The head page load hits the flaky reads and must still succeed.
	if err := s.Put(1, "x"); err != nil {
		t.Fatalf("put through transient faults: %v", err)
	}
}

func TestFatalIOErrorSurfaced(t *testing.T) {
	mem := newMemStore()
	s := openUintStore(t, mem, Options{MaxEntries: 16, CachePages: 4, IORetries: 2, RetryBackoff: 1})
	defer s.Close()

	mem.readHook = func(id PageID) error { return errors.New("medium failure") }

	_, _, err := s.Get(1)
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("want IOError after exhausted retries, got %v", err)
	}
	if ioErr.Transient {
		t.Fatalf("surfaced error still marked transient: %v", ioErr)
	}
}

func TestCorruptPageRefused(t *testing.T) {
	mem := newMemStore()
	s := openUintStore(t, mem, Options{MaxEntries: 16, CachePages: 4})
	defer s.Close()

	if err := s.Put(1, "x"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	// Flip bytes in every stored image, then force a reload.
	mem.mu.Lock()
	for id, data := range mem.pages {
		data[len(data)-1] ^= 0xFF
		mem.pages[id] = data
	}
	mem.mu.Unlock()
	s.cache.mu.Lock()
	for id, n := range s.cache.resident {
		delete(s.cache.resident, id)
		s.cache.removeNode(n)
	}
	s.cache.mu.Unlock()

	_, _, err := s.Get(1)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("want corruption error, got %v", err)
	}
	// The page stays refused on later operations too.
	if err := s.Put(1, "y"); !errors.Is(err, ErrCorrupted) {
		t.Fatalf("write to corrupt page not refused: %v", err)
	}
}

func TestBrokenChainRefusesOpen(t *testing.T) {
	mem := newMemStore()
	s := openUintStore(t, mem, Options{MaxEntries: 8, CachePages: 4})
	for i := uint64(1); i <= 50; i++ {
		if err := s.Put(i, "x"); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	if s.PageCount() < 3 {
		t.Fatalf("setup expected >=3 pages, got %d", s.PageCount())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Drop a middle page outright; recovery must notice the gap.
	ids, _ := mem.List()
	var victim PageID
	for _, id := range ids {
		if id != 1 {
			victim = id
		}
	}
	mem.DeletePage(victim)

	_, err := Open[uint64, string](mem, codec.Uint64{}, codec.String{}, uintLess, Options{MaxEntries: 8})
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("want corruption on broken chain, got %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	s := openUintStore(t, newMemStore(), Options{})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Put(1, "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("put after close: %v", err)
	}
	if _, _, err := s.Get(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("get after close: %v", err)
	}
	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("double close: %v", err)
	}
}
