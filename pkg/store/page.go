package store

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"

	"github.com/google/btree"

	"github.com/Diffblue-benchmarks/hydra/pkg/codec"
)

// PageMagic marks the start of every encoded page image.
const PageMagic = 0x4859445241504701

const entriesDegree = 16

// Entry is a single key/value pair as seen by callers and iterators.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// pageCodec bundles the caller-supplied codecs and key ordering shared by
// every page of one store. Less must be consistent with the key encoding.
type pageCodec[K, V any] struct {
	key  codec.Codec[K]
	val  codec.Codec[V]
	less func(a, b K) bool
}

func (pc *pageCodec[K, V]) entryLess() btree.LessFunc[Entry[K, V]] {
	return func(a, b Entry[K, V]) bool { return pc.less(a.Key, b.Key) }
}

// page is a bounded, contiguous, sorted partition of the keyspace covering
// [lower, next). The head page has lowerInf set and covers everything below
// the second page's first key; the last page has nextNone set.
//
// All fields past id are guarded by mu. Pin accounting lives in the cache,
// which owns the resident set; the page owns only its contents and range.
type page[K, V any] struct {
	id PageID

	mu       sync.RWMutex
	lower    K
	lowerInf bool
	next     K
	nextNone bool

	entries *btree.BTreeG[Entry[K, V]]

	// generation increments whenever the page's key range changes (split or
	// merge), letting iterators detect that a remembered boundary is stale.
	generation uint64
	dirty      bool

	// dead marks a page absorbed by a merge. Operations still pinned to it
	// re-resolve against the index instead of reading stale entries.
	dead bool
}

func newPage[K, V any](id PageID, pc *pageCodec[K, V]) *page[K, V] {
	return &page[K, V]{
		id:      id,
		entries: btree.NewG(entriesDegree, pc.entryLess()),
	}
}

// covers reports whether key falls inside [lower, next). Callers hold mu.
func (p *page[K, V]) covers(key K, less func(a, b K) bool) bool {
	if !p.lowerInf && less(key, p.lower) {
		return false
	}
	if !p.nextNone && !less(key, p.next) {
		return false
	}
	return true
}

func (p *page[K, V]) get(key K) (V, bool) {
	e, ok := p.entries.Get(Entry[K, V]{Key: key})
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

func (p *page[K, V]) put(key K, value V) {
	p.entries.ReplaceOrInsert(Entry[K, V]{Key: key, Value: value})
	p.dirty = true
}

func (p *page[K, V]) remove(key K) bool {
	_, ok := p.entries.Delete(Entry[K, V]{Key: key})
	if ok {
		p.dirty = true
	}
	return ok
}

func (p *page[K, V]) count() int { return p.entries.Len() }

// entryCount reads the entry count under the page lock.
func (p *page[K, V]) entryCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries.Len()
}

func (p *page[K, V]) isDirty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dirty
}

// all returns the page's entries in key order.
func (p *page[K, V]) all() []Entry[K, V] {
	out := make([]Entry[K, V], 0, p.entries.Len())
	p.entries.Ascend(func(e Entry[K, V]) bool {
		out = append(out, e)
		return true
	})
	return out
}

// from returns up to limit entries with key >= start, in key order.
// limit <= 0 means no limit.
func (p *page[K, V]) from(start K, limit int) []Entry[K, V] {
	var out []Entry[K, V]
	p.entries.AscendGreaterOrEqual(Entry[K, V]{Key: start}, func(e Entry[K, V]) bool {
		out = append(out, e)
		return limit <= 0 || len(out) < limit
	})
	return out
}

// splitEntries removes the upper half of the page's entries and returns
// them. The first returned entry's key becomes the new sibling's lower
// bound. Caller holds mu and has verified count() >= 2.
func (p *page[K, V]) splitEntries() []Entry[K, V] {
	entries := p.all()
	mid := len(entries) / 2
	upper := entries[mid:]

	for _, e := range upper {
		p.entries.Delete(e)
	}
	p.dirty = true
	return upper
}

// absorb appends the entries of a right-hand sibling and takes over its
// upper boundary. Caller holds both pages' mu, left before right.
func (p *page[K, V]) absorb(right *page[K, V]) {
	right.entries.Ascend(func(e Entry[K, V]) bool {
		p.entries.ReplaceOrInsert(e)
		return true
	})
	p.next = right.next
	p.nextNone = right.nextNone
	p.generation++
	p.dirty = true
}

const (
	flagLowerInf = 1 << 0
	flagNextNone = 1 << 1
)

// encode serializes the page image:
//
//	[CRC32 4B] [Magic 8B] [PageID 8B] [Generation 8B] [Flags 1B]
//	[LowerLen 2B] [Lower] [NextLen 2B] [Next] [Count 4B]
//	( [KeyLen 2B] [Key] [ValLen 4B] [Val] ) * Count
//
// The checksum covers everything after itself. Caller holds mu (read lock
// is enough; encode does not mutate).
func (p *page[K, V]) encode(pc *pageCodec[K, V]) ([]byte, error) {
	body := new(bytes.Buffer)

	binary.Write(body, binary.LittleEndian, uint64(PageMagic))
	binary.Write(body, binary.LittleEndian, uint64(p.id))
	binary.Write(body, binary.LittleEndian, p.generation)

	var flags uint8
	if p.lowerInf {
		flags |= flagLowerInf
	}
	if p.nextNone {
		flags |= flagNextNone
	}
	body.WriteByte(flags)

	if err := writeBound(body, pc.key, p.lower, p.lowerInf); err != nil {
		return nil, err
	}
	if err := writeBound(body, pc.key, p.next, p.nextNone); err != nil {
		return nil, err
	}

	binary.Write(body, binary.LittleEndian, uint32(p.entries.Len()))

	var encodeErr error
	p.entries.Ascend(func(e Entry[K, V]) bool {
		kb, err := pc.key.Encode(e.Key)
		if err != nil {
			encodeErr = err
			return false
		}
		vb, err := pc.val.Encode(e.Value)
		if err != nil {
			encodeErr = err
			return false
		}
		binary.Write(body, binary.LittleEndian, uint16(len(kb)))
		body.Write(kb)
		binary.Write(body, binary.LittleEndian, uint32(len(vb)))
		body.Write(vb)
		return true
	})
	if encodeErr != nil {
		return nil, encodeErr
	}

	out := make([]byte, 4+body.Len())
	copy(out[4:], body.Bytes())
	binary.LittleEndian.PutUint32(out[0:4], crc32.ChecksumIEEE(out[4:]))
	return out, nil
}

func writeBound[K any](w *bytes.Buffer, kc codec.Codec[K], key K, absent bool) error {
	if absent {
		binary.Write(w, binary.LittleEndian, uint16(0))
		return nil
	}
	kb, err := kc.Encode(key)
	if err != nil {
		return err
	}
	binary.Write(w, binary.LittleEndian, uint16(len(kb)))
	w.Write(kb)
	return nil
}

// decodePage rebuilds a page from its image. Any framing, checksum, or
// codec failure is surfaced as a corruption error.
func decodePage[K, V any](id PageID, data []byte, pc *pageCodec[K, V]) (*page[K, V], error) {
	if len(data) < 4+8+8+8+1 {
		return nil, corruptionErr(id, "image too small (%d bytes)", len(data))
	}
	if crc32.ChecksumIEEE(data[4:]) != binary.LittleEndian.Uint32(data[0:4]) {
		return nil, corruptionErr(id, "checksum mismatch")
	}

	r := bytes.NewReader(data[4:])

	var magic, storedID, generation uint64
	binary.Read(r, binary.LittleEndian, &magic)
	if magic != PageMagic {
		return nil, corruptionErr(id, "bad magic %#x", magic)
	}
	binary.Read(r, binary.LittleEndian, &storedID)
	if PageID(storedID) != id {
		return nil, corruptionErr(id, "image claims page %d", storedID)
	}
	binary.Read(r, binary.LittleEndian, &generation)

	flags, err := r.ReadByte()
	if err != nil {
		return nil, corruptionErr(id, "truncated header")
	}

	p := newPage(id, pc)
	p.generation = generation
	p.lowerInf = flags&flagLowerInf != 0
	p.nextNone = flags&flagNextNone != 0

	if p.lower, err = readBound(r, pc.key, p.lowerInf); err != nil {
		return nil, corruptionErr(id, "lower bound: %v", err)
	}
	if p.next, err = readBound(r, pc.key, p.nextNone); err != nil {
		return nil, corruptionErr(id, "next bound: %v", err)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, corruptionErr(id, "truncated entry count")
	}

	for i := uint32(0); i < count; i++ {
		var klen uint16
		if err := binary.Read(r, binary.LittleEndian, &klen); err != nil {
			return nil, corruptionErr(id, "entry %d: truncated key length", i)
		}
		kb := make([]byte, klen)
		if _, err := io.ReadFull(r, kb); err != nil {
			return nil, corruptionErr(id, "entry %d: truncated key", i)
		}
		var vlen uint32
		if err := binary.Read(r, binary.LittleEndian, &vlen); err != nil {
			return nil, corruptionErr(id, "entry %d: truncated value length", i)
		}
		vb := make([]byte, vlen)
		if _, err := io.ReadFull(r, vb); err != nil {
			return nil, corruptionErr(id, "entry %d: truncated value", i)
		}

		key, err := pc.key.Decode(kb)
		if err != nil {
			return nil, corruptionErr(id, "entry %d: key decode: %v", i, err)
		}
		val, err := pc.val.Decode(vb)
		if err != nil {
			return nil, corruptionErr(id, "entry %d: value decode: %v", i, err)
		}
		p.entries.ReplaceOrInsert(Entry[K, V]{Key: key, Value: val})
	}

	return p, nil
}

func readBound[K any](r *bytes.Reader, kc codec.Codec[K], absent bool) (K, error) {
	var zero K
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return zero, err
	}
	if absent {
		return zero, nil
	}
	kb := make([]byte, n)
	if _, err := io.ReadFull(r, kb); err != nil {
		return zero, err
	}
	return kc.Decode(kb)
}
